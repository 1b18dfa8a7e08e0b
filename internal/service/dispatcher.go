package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	cfotel "github.com/Strob0t/buildnotify/internal/adapter/otel"
	"github.com/Strob0t/buildnotify/internal/domain"
	"github.com/Strob0t/buildnotify/internal/domain/build"
	"github.com/Strob0t/buildnotify/internal/domain/notification"
	"github.com/Strob0t/buildnotify/internal/logger"
	"github.com/Strob0t/buildnotify/internal/port/buildstore"
	"github.com/Strob0t/buildnotify/internal/port/chat"
)

// ErrNotificationFailed is returned when fail-on-error is set and at least
// one notification could not be delivered.
var ErrNotificationFailed = errors.New("notification failed")

// startLabel tags the start notification in logs, spans and metrics.
const startLabel notification.Reason = "START"

// Outcome summarises the handling of one build event.
type Outcome struct {
	Build   string                `json:"build"`
	Phase   build.Phase           `json:"phase"`
	Reasons []notification.Reason `json:"reasons"`
	Sent    int                   `json:"sent"`
	Failed  int                   `json:"failed"`
	// Console holds the lines the host prints to the build log.
	Console []string `json:"console,omitempty"`
}

func (o *Outcome) console(format string, args ...any) {
	o.Console = append(o.Console, fmt.Sprintf(format, args...))
}

// DispatcherOption configures optional Dispatcher collaborators.
type DispatcherOption func(*Dispatcher)

// WithHistory looks up previous builds in store when the event carries
// none, and records completed builds.
func WithHistory(store buildstore.Store) DispatcherOption {
	return func(d *Dispatcher) { d.history = store }
}

// WithMetrics records dispatch metrics.
func WithMetrics(m *cfotel.Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithDedupe sends only the first matched reason of a build.
func WithDedupe(on bool) DispatcherOption {
	return func(d *Dispatcher) { d.dedupe = on }
}

// Dispatcher turns build lifecycle events into chat notifications.
type Dispatcher struct {
	prefs     PreferencesSource
	transport chat.Transport
	builder   *MessageBuilder
	history   buildstore.Store
	metrics   *cfotel.Metrics
	dedupe    bool
}

// NewDispatcher creates a Dispatcher. A nil builder uses the default
// MessageBuilder.
func NewDispatcher(prefs PreferencesSource, transport chat.Transport, builder *MessageBuilder, opts ...DispatcherOption) *Dispatcher {
	if builder == nil {
		builder = NewMessageBuilder(nil)
	}
	d := &Dispatcher{
		prefs:     prefs,
		transport: transport,
		builder:   builder,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Handle routes ev to the handler for its phase.
func (d *Dispatcher) Handle(ctx context.Context, ev *build.Event) (*Outcome, error) {
	if ev == nil {
		return nil, fmt.Errorf("%w: nil build event", domain.ErrValidation)
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	ctx, span := cfotel.StartDispatchSpan(ctx, ev.Project.Name, ev.Build.Number, string(ev.Phase))
	defer span.End()

	if d.metrics != nil {
		d.metrics.EventsReceived.Add(ctx, 1, metric.WithAttributes(
			attribute.String("phase", string(ev.Phase)),
		))
	}

	var (
		out *Outcome
		err error
	)
	switch ev.Phase {
	case build.PhaseStarted:
		out, err = d.OnBuildStarted(ctx, ev)
	case build.PhaseCompleted:
		out, err = d.OnBuildCompleted(ctx, ev)
	case build.PhaseDeleted:
		out, err = d.OnBuildDeleted(ctx, ev)
	case build.PhaseFinalized:
		out, err = d.OnBuildFinalized(ctx, ev)
	}

	if d.metrics != nil {
		d.metrics.DispatchDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
			attribute.String("phase", string(ev.Phase)),
		))
	}
	if err != nil {
		span.RecordError(err)
	}
	return out, err
}

// HandleMessage decodes a queued build event and dispatches it. It matches
// messagequeue.Handler.
func (d *Dispatcher) HandleMessage(ctx context.Context, subject string, data []byte) error {
	ev, err := build.ParseEvent(data)
	if err != nil {
		return fmt.Errorf("build event on %s: %w", subject, err)
	}
	out, err := d.Handle(ctx, ev)
	if err != nil {
		return err
	}
	slog.DebugContext(ctx, "queued build event handled",
		"subject", subject,
		"build", out.Build,
		"sent", out.Sent,
		"failed", out.Failed,
	)
	return nil
}

// OnBuildStarted sends the start notification when the job enables it.
func (d *Dispatcher) OnBuildStarted(ctx context.Context, ev *build.Event) (*Outcome, error) {
	c := build.NewContext(ev, ev.Previous)
	ctx = logger.WithBuildKey(ctx, c.DisplayKey())
	out := &Outcome{Build: c.DisplayKey(), Phase: build.PhaseStarted}

	prefs, err := d.prefs.Preferences(ctx, c.ProjectName())
	if err != nil {
		return nil, fmt.Errorf("load preferences for %s: %w", c.ProjectName(), err)
	}
	if !prefs.StartNotification {
		slog.DebugContext(ctx, "start notification disabled")
		return out, nil
	}

	msg := d.builder.RenderStart(ctx, c, prefs)
	d.deliver(ctx, out, prefs, startLabel, msg)
	return out, failOnError(out, prefs.FailOnError || ev.FailOnError)
}

// OnBuildCompleted evaluates every reason and sends one message per matched
// reason in evaluation order.
func (d *Dispatcher) OnBuildCompleted(ctx context.Context, ev *build.Event) (*Outcome, error) {
	previous := d.previous(ctx, ev)
	c := build.NewContext(ev, previous)
	ctx = logger.WithBuildKey(ctx, c.DisplayKey())
	out := &Outcome{Build: c.DisplayKey(), Phase: build.PhaseCompleted}

	prefs, err := d.prefs.Preferences(ctx, c.ProjectName())
	if err != nil {
		return nil, fmt.Errorf("load preferences for %s: %w", c.ProjectName(), err)
	}

	reasons := notification.Evaluate(ctx, c, prefs)
	if d.dedupe && len(reasons) > 1 {
		slog.DebugContext(ctx, "dedupe: dropping extra reasons", "kept", reasons[0], "dropped", len(reasons)-1)
		reasons = reasons[:1]
	}
	out.Reasons = reasons

	if d.metrics != nil {
		for _, r := range reasons {
			d.metrics.ReasonsMatched.Add(ctx, 1, metric.WithAttributes(
				attribute.String("reason", string(r)),
			))
		}
	}

	for _, r := range reasons {
		msg := d.builder.Render(ctx, c, prefs, r)
		d.deliver(ctx, out, prefs, r, msg)
	}
	if len(reasons) == 0 {
		slog.DebugContext(ctx, "no notification reason matched")
	}

	d.record(ctx, c)
	return out, failOnError(out, prefs.FailOnError || ev.FailOnError)
}

// OnBuildDeleted is a no-op.
func (d *Dispatcher) OnBuildDeleted(ctx context.Context, ev *build.Event) (*Outcome, error) {
	return d.ignore(ctx, ev)
}

// OnBuildFinalized is a no-op.
func (d *Dispatcher) OnBuildFinalized(ctx context.Context, ev *build.Event) (*Outcome, error) {
	return d.ignore(ctx, ev)
}

func (d *Dispatcher) ignore(ctx context.Context, ev *build.Event) (*Outcome, error) {
	c := build.NewContext(ev, nil)
	slog.DebugContext(ctx, "build event ignored", "phase", ev.Phase, "build", c.DisplayKey())
	return &Outcome{Build: c.DisplayKey(), Phase: ev.Phase}, nil
}

// deliver sends one message and records the result on out. label is the
// reason, or START for the start notification.
func (d *Dispatcher) deliver(ctx context.Context, out *Outcome, prefs notification.Preferences, label notification.Reason, msg notification.Message) {
	attempt := uuid.NewString()
	ctx, span := cfotel.StartSendSpan(ctx, string(label))
	defer span.End()

	req := chat.Request{
		Message:   msg,
		Channel:   prefs.Room,
		Username:  firstNonEmpty(prefs.Username, prefs.SendAs),
		IconEmoji: prefs.IconEmoji,
	}
	_, ok := d.transport.Send(ctx, req)

	name := label.DisplayName()
	if label == startLabel {
		name = "start"
	}
	attrs := metric.WithAttributes(attribute.String("reason", string(label)))
	if ok {
		out.Sent++
		out.console("Slack %s notification sent for %s", name, out.Build)
		slog.InfoContext(ctx, "notification sent", "reason", label, "attempt", attempt)
		if d.metrics != nil {
			d.metrics.NotificationsSent.Add(ctx, 1, attrs)
		}
		return
	}
	out.Failed++
	out.console("Slack %s notification failed for %s", name, out.Build)
	slog.WarnContext(ctx, "notification failed", "reason", label, "attempt", attempt)
	if d.metrics != nil {
		d.metrics.NotificationsFailed.Add(ctx, 1, attrs)
	}
}

// previous returns the previous build from the event, falling back to the
// history store.
func (d *Dispatcher) previous(ctx context.Context, ev *build.Event) *build.Previous {
	if ev.Previous != nil {
		return ev.Previous
	}
	if d.history == nil {
		return nil
	}
	snap, err := d.history.Previous(ctx, ev.Project.Name, ev.Build.Number)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			slog.WarnContext(ctx, "previous build lookup failed", "project", ev.Project.Name, "error", err)
		}
		return nil
	}
	return build.PreviousFromSnapshot(snap)
}

func (d *Dispatcher) record(ctx context.Context, c build.Context) {
	if d.history == nil || !c.Result().IsTerminal() {
		return
	}
	snap := build.Snapshot{
		Project:     c.ProjectName(),
		Number:      c.Number(),
		Result:      c.Result(),
		CompletedAt: time.Now().UTC(),
	}
	if tests, ok := c.Tests(); ok {
		snap.Tests = &tests
	}
	if err := d.history.Record(ctx, snap); err != nil {
		slog.WarnContext(ctx, "record build failed", "error", err)
	}
}

func failOnError(out *Outcome, enabled bool) error {
	if !enabled || out.Failed == 0 {
		return nil
	}
	return fmt.Errorf("%w: %d of %d notification(s) for %s could not be delivered",
		ErrNotificationFailed, out.Failed, out.Sent+out.Failed, out.Build)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
