package notification

import (
	"context"
	"log/slog"

	"github.com/Strob0t/buildnotify/internal/domain/build"
)

// Reason is a named build outcome that triggers one notification when it
// both holds and is enabled.
type Reason string

const (
	ReasonAborted         Reason = "ABORTED"
	ReasonSuccess         Reason = "SUCCESS"
	ReasonSingleFailure   Reason = "SINGLE_FAILURE"
	ReasonEveryFailure    Reason = "EVERY_FAILURE"
	ReasonRepeatedFailure Reason = "REPEATED_FAILURE"
	ReasonRegression      Reason = "REGRESSION"
	ReasonNotBuilt        Reason = "NOT_BUILT"
	ReasonUnstable        Reason = "UNSTABLE"
	ReasonBackToNormal    Reason = "BACK_TO_NORMAL"
)

// Reasons lists every reason in evaluation order. Messages for one build are
// sent in this order.
var Reasons = []Reason{
	ReasonAborted,
	ReasonSuccess,
	ReasonSingleFailure,
	ReasonEveryFailure,
	ReasonRepeatedFailure,
	ReasonRegression,
	ReasonNotBuilt,
	ReasonUnstable,
	ReasonBackToNormal,
}

var displayNames = map[Reason]string{
	ReasonAborted:         "aborted",
	ReasonSuccess:         "success",
	ReasonSingleFailure:   "single failure",
	ReasonEveryFailure:    "every failure",
	ReasonRepeatedFailure: "repeated failure",
	ReasonRegression:      "regression",
	ReasonNotBuilt:        "not built",
	ReasonUnstable:        "unstable",
	ReasonBackToNormal:    "back to normal",
}

// DisplayName is the human-readable name used in logs.
func (r Reason) DisplayName() string {
	if n, ok := displayNames[r]; ok {
		return n
	}
	return string(r)
}

// Matches evaluates the reason's predicate. A build that is still running
// matches nothing.
func (r Reason) Matches(c build.Context) bool {
	current := c.Result()
	if !current.IsTerminal() {
		return false
	}
	previous := c.PreviousResultOrSuccess()

	switch r {
	case ReasonAborted:
		return current == build.ResultAborted
	case ReasonSuccess:
		return current == build.ResultSuccess
	case ReasonSingleFailure:
		return current == build.ResultFailure && previous != build.ResultFailure
	case ReasonEveryFailure:
		return current == build.ResultFailure
	case ReasonRepeatedFailure:
		return current == build.ResultFailure && previous == build.ResultFailure
	case ReasonRegression:
		return isRegression(c, current, previous)
	case ReasonNotBuilt:
		return current == build.ResultNotBuilt
	case ReasonUnstable:
		return current == build.ResultUnstable
	case ReasonBackToNormal:
		return IsBackToNormal(c)
	default:
		return false
	}
}

// Allowed reports whether prefs enable the reason.
func (r Reason) Allowed(p Preferences) bool {
	switch r {
	case ReasonAborted:
		return p.NotifyAborted
	case ReasonSuccess:
		return p.NotifySuccess
	case ReasonSingleFailure:
		return p.NotifyFailure
	case ReasonEveryFailure:
		return p.NotifyEveryFailure
	case ReasonRepeatedFailure:
		return p.NotifyRepeatedFailure
	case ReasonRegression:
		return p.NotifyRegression
	case ReasonNotBuilt:
		return p.NotifyNotBuilt
	case ReasonUnstable:
		return p.NotifyUnstable
	case ReasonBackToNormal:
		return p.NotifyBackToNormal
	default:
		return false
	}
}

// IsBackToNormal reports a successful build following a failed or unstable one.
func IsBackToNormal(c build.Context) bool {
	if c.Result() != build.ResultSuccess {
		return false
	}
	prev := c.PreviousResultOrSuccess()
	return prev == build.ResultFailure || prev == build.ResultUnstable
}

func isRegression(c build.Context, current, previous build.Result) bool {
	if current.IsWorseThan(previous) {
		return true
	}
	cur, ok := c.Tests()
	if !ok {
		return false
	}
	prev, ok := c.Previous()
	if !ok || prev.Tests == nil {
		return false
	}
	if cur.Failed > prev.Tests.Failed {
		return true
	}
	return !sameSet(cur.FailingIDs, prev.Tests.FailingIDs)
}

func sameSet(a, b []string) bool {
	as := make(map[string]struct{}, len(a))
	for _, v := range a {
		as[v] = struct{}{}
	}
	bs := make(map[string]struct{}, len(b))
	for _, v := range b {
		bs[v] = struct{}{}
	}
	if len(as) != len(bs) {
		return false
	}
	for v := range as {
		if _, ok := bs[v]; !ok {
			return false
		}
	}
	return true
}

// Decision is the outcome of evaluating one reason.
type Decision struct {
	Reason  Reason
	Matched bool
	Allowed bool
}

// Fires reports whether a message should be sent for the decision.
func (d Decision) Fires() bool { return d.Matched && d.Allowed }

// Decide evaluates every reason in order. It has no side effects.
func Decide(c build.Context, p Preferences) []Decision {
	out := make([]Decision, 0, len(Reasons))
	for _, r := range Reasons {
		out = append(out, Decision{Reason: r, Matched: r.Matches(c), Allowed: r.Allowed(p)})
	}
	return out
}

// Evaluate returns every reason whose predicate holds and which prefs allow,
// in evaluation order. Each decision is written to the audit log: INFO when
// the reason fires, DEBUG otherwise.
func Evaluate(ctx context.Context, c build.Context, p Preferences) []Reason {
	var fired []Reason
	for _, d := range Decide(c, p) {
		level := slog.LevelDebug
		if d.Fires() {
			level = slog.LevelInfo
			fired = append(fired, d.Reason)
		}
		slog.Log(ctx, level, "notification condition evaluated",
			"reason", d.Reason.DisplayName(),
			"build", c.DisplayKey(),
			"matched", d.Matched,
			"allowed", d.Allowed,
		)
	}
	return fired
}
