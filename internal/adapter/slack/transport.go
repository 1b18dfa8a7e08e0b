// Package slack implements the chat transport port on top of slack-go.
package slack

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/slack-go/slack"
	"golang.org/x/sync/errgroup"

	"github.com/Strob0t/buildnotify/internal/domain/notification"
	"github.com/Strob0t/buildnotify/internal/port/chat"
	"github.com/Strob0t/buildnotify/internal/resilience"
)

const (
	defaultTimeout     = 60 * time.Second
	defaultMaxParallel = 4
)

var markdownIn = []string{"pretext", "text", "fields"}

// Config holds the workspace connection settings.
type Config struct {
	TeamDomain string
	Token      string
	// BaseURL overrides https://<TeamDomain>.slack.com/api/.
	BaseURL    string
	WebhookURL string
	Rooms      string
	Username   string
	IconEmoji  string
	IconURL    string
	BotUser    bool
	// Timeout applies to each destination separately.
	Timeout     time.Duration
	MaxParallel int
}

// APIURL is the Web API endpoint the bot-token client talks to.
func (c Config) APIURL() string {
	switch {
	case c.BaseURL != "":
		return strings.TrimSuffix(c.BaseURL, "/") + "/"
	case c.TeamDomain != "":
		return "https://" + c.TeamDomain + ".slack.com/api/"
	default:
		return slack.APIURL
	}
}

// NewClient builds a Web API client for cfg.
func NewClient(cfg Config, httpClient *http.Client) *slack.Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return slack.New(cfg.Token, slack.OptionHTTPClient(httpClient), slack.OptionAPIURL(cfg.APIURL()))
}

// Option configures a Transport.
type Option func(*Transport)

// WithHTTPClient sets the client used for webhook posts.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Transport) { t.httpClient = c }
}

// WithClient sets the Web API client. Without one the transport runs in
// webhook mode.
func WithClient(c *slack.Client) Option {
	return func(t *Transport) { t.api = c }
}

// WithBreaker guards every Slack call with b.
func WithBreaker(b *resilience.Breaker) Option {
	return func(t *Transport) { t.breaker = b }
}

// WithDirectory enables channel-name resolution for uploads.
func WithDirectory(d *Directory) Option {
	return func(t *Transport) { t.directory = d }
}

// Transport delivers messages through chat.postMessage (bot token) or an
// incoming webhook.
type Transport struct {
	cfg        Config
	api        *slack.Client
	httpClient *http.Client
	breaker    *resilience.Breaker
	directory  *Directory
}

// NewTransport creates a Slack transport.
func NewTransport(cfg Config, opts ...Option) *Transport {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = defaultMaxParallel
	}
	t := &Transport{cfg: cfg, httpClient: http.DefaultClient}
	for _, o := range opts {
		o(t)
	}
	if t.api == nil && cfg.Token != "" {
		t.api = NewClient(cfg, t.httpClient)
	}
	return t
}

// Publish sends msg to the configured rooms.
func (t *Transport) Publish(ctx context.Context, msg notification.Message) bool {
	_, ok := t.Send(ctx, chat.Request{Message: msg})
	return ok
}

// Send delivers req to every destination in parallel. All destinations are
// attempted; the result is true only if each one succeeded.
func (t *Transport) Send(ctx context.Context, req chat.Request) ([]chat.Response, bool) {
	if t.api == nil && t.cfg.WebhookURL == "" {
		slog.Warn("slack transport not configured", "error", chat.ErrNotConfigured)
		return nil, false
	}

	rooms := t.destinations(req)
	if len(rooms) == 0 {
		slog.Warn("slack publish skipped: no destination channel configured")
		return nil, false
	}

	type result struct {
		resp chat.Response
		err  error
	}
	results := make([]result, len(rooms))

	var g errgroup.Group
	g.SetLimit(t.cfg.MaxParallel)
	for i, room := range rooms {
		g.Go(func() error {
			resp, err := t.sendOne(ctx, chat.ParseDestination(room), req)
			results[i] = result{resp: resp, err: err}
			return nil
		})
	}
	_ = g.Wait()

	var (
		merr      *multierror.Error
		responses []chat.Response
	)
	for i, r := range results {
		if r.err != nil {
			merr = multierror.Append(merr, fmt.Errorf("%s: %w", rooms[i], r.err))
			continue
		}
		responses = append(responses, r.resp)
	}
	if err := merr.ErrorOrNil(); err != nil {
		slog.Warn("slack publish incomplete",
			"destinations", len(rooms),
			"failed", len(merr.Errors),
			"error", err,
		)
		return responses, false
	}
	return responses, true
}

func (t *Transport) destinations(req chat.Request) []string {
	if req.Channel != "" {
		return chat.SplitRooms(req.Channel)
	}
	if req.Message.Thread != "" {
		return []string{req.Message.Thread}
	}
	rooms := chat.SplitRooms(t.cfg.Rooms)
	if len(rooms) == 0 && t.api == nil {
		// incoming webhooks carry their own default channel
		return []string{""}
	}
	return rooms
}

func (t *Transport) sendOne(ctx context.Context, dest chat.Destination, req chat.Request) (chat.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	var resp chat.Response
	err := t.breaker.ExecuteContext(ctx, func(ctx context.Context) error {
		if t.api == nil {
			resp = chat.Response{Channel: dest.Channel}
			return slack.PostWebhookCustomHTTPContext(ctx, t.cfg.WebhookURL, t.httpClient, t.webhookMessage(dest, req))
		}
		channel, ts, err := t.api.PostMessageContext(ctx, dest.Channel, t.postOptions(dest, req)...)
		resp = chat.Response{Channel: channel, Timestamp: ts}
		return err
	})
	if err != nil {
		logSendFailure(dest.Channel, err)
		return chat.Response{}, err
	}
	return resp, nil
}

func (t *Transport) postOptions(dest chat.Destination, req chat.Request) []slack.MsgOption {
	opts := contentOptions(req.Message)
	if u := firstNonEmpty(req.Username, t.cfg.Username); u != "" {
		opts = append(opts, slack.MsgOptionUsername(u))
	}
	if e := firstNonEmpty(req.IconEmoji, t.cfg.IconEmoji); e != "" {
		opts = append(opts, slack.MsgOptionIconEmoji(e))
	}
	if u := firstNonEmpty(req.IconURL, t.cfg.IconURL); u != "" {
		opts = append(opts, slack.MsgOptionIconURL(u))
	}
	if t.cfg.BotUser {
		opts = append(opts, slack.MsgOptionAsUser(true))
	}
	if dest.ThreadTS != "" {
		opts = append(opts, slack.MsgOptionTS(dest.ThreadTS))
		if req.ReplyBroadcast {
			opts = append(opts, slack.MsgOptionBroadcast())
		}
	}
	return opts
}

func (t *Transport) webhookMessage(dest chat.Destination, req chat.Request) *slack.WebhookMessage {
	text, attachments := content(req.Message)
	return &slack.WebhookMessage{
		Channel:         dest.Channel,
		Username:        firstNonEmpty(req.Username, t.cfg.Username),
		IconEmoji:       firstNonEmpty(req.IconEmoji, t.cfg.IconEmoji),
		IconURL:         firstNonEmpty(req.IconURL, t.cfg.IconURL),
		Text:            text,
		Attachments:     attachments,
		ThreadTimestamp: dest.ThreadTS,
	}
}

// Update edits a delivered message in place.
func (t *Transport) Update(ctx context.Context, ref chat.Ref, msg notification.Message) error {
	if t.api == nil {
		return chat.ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()
	return t.breaker.ExecuteContext(ctx, func(ctx context.Context) error {
		if _, _, _, err := t.api.UpdateMessageContext(ctx, ref.Channel, ref.Timestamp, contentOptions(msg)...); err != nil {
			return fmt.Errorf("update %s: %w", ref, err)
		}
		return nil
	})
}

// React adds an emoji reaction. Surrounding colons are optional.
func (t *Transport) React(ctx context.Context, ref chat.Ref, emoji string) error {
	if t.api == nil {
		return chat.ErrNotConfigured
	}
	name := strings.Trim(strings.TrimSpace(emoji), ":")
	if name == "" {
		return errors.New("react: emoji is required")
	}
	ctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()
	return t.breaker.ExecuteContext(ctx, func(ctx context.Context) error {
		if err := t.api.AddReactionContext(ctx, name, slack.NewRefToMessage(ref.Channel, ref.Timestamp)); err != nil {
			return fmt.Errorf("react %s: %w", ref, err)
		}
		return nil
	})
}

// Upload posts file content to channel, resolving a channel name through
// the directory first.
func (t *Transport) Upload(ctx context.Context, channel string, f chat.File) error {
	if t.api == nil {
		return chat.ErrNotConfigured
	}
	id := normalizeChannel(channel)
	if t.directory != nil {
		var err error
		if id, err = t.directory.Resolve(ctx, channel); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()
	return t.breaker.ExecuteContext(ctx, func(ctx context.Context) error {
		_, err := t.api.UploadFileContext(ctx, slack.FileUploadParameters{
			Reader:          bytes.NewReader(f.Content),
			Filename:        f.Name,
			Title:           firstNonEmpty(f.Title, f.Name),
			InitialComment:  f.Comment,
			Channels:        []string{id},
			ThreadTimestamp: f.ThreadTS,
		})
		if err != nil {
			return fmt.Errorf("upload %s to %s: %w", f.Name, id, err)
		}
		return nil
	})
}

// content lays out msg the way Slack renders build notifications: without
// explicit attachments the text goes into a single colored attachment.
func content(msg notification.Message) (string, []slack.Attachment) {
	if len(msg.Attachments) == 0 {
		return "", []slack.Attachment{{
			Color:      msg.Color,
			Text:       msg.Text,
			Fallback:   msg.Text,
			MarkdownIn: markdownIn,
		}}
	}
	attachments := make([]slack.Attachment, 0, len(msg.Attachments))
	for _, a := range msg.Attachments {
		mrkdwn := a.MarkdownIn
		if len(mrkdwn) == 0 {
			mrkdwn = markdownIn
		}
		attachments = append(attachments, slack.Attachment{
			Color:      firstNonEmpty(a.Color, msg.Color),
			Title:      a.Title,
			TitleLink:  a.TitleLink,
			Text:       a.Text,
			Fallback:   firstNonEmpty(a.Fallback, a.Text, msg.Text),
			MarkdownIn: mrkdwn,
		})
	}
	return msg.Text, attachments
}

func contentOptions(msg notification.Message) []slack.MsgOption {
	text, attachments := content(msg)
	opts := []slack.MsgOption{slack.MsgOptionAttachments(attachments...)}
	if text != "" {
		opts = append(opts, slack.MsgOptionText(text, false))
	}
	return opts
}

// isNeutral reports errors where Slack answered and rejected the request.
// They say nothing about Slack's availability.
func isNeutral(err error) bool {
	var apiErr slack.SlackErrorResponse
	if errors.As(err, &apiErr) {
		return true
	}
	var rl *slack.RateLimitedError
	if errors.As(err, &rl) {
		return true
	}
	var status slack.StatusCodeError
	if errors.As(err, &status) {
		return status.Code < http.StatusInternalServerError
	}
	return errors.Is(err, ErrChannelNotFound)
}

// NewBreaker returns a breaker that only counts Slack outages.
func NewBreaker(maxFailures int, timeout time.Duration) *resilience.Breaker {
	return resilience.NewBreaker(maxFailures, timeout,
		resilience.WithName("slack"),
		resilience.WithNeutral(isNeutral),
	)
}

func logSendFailure(channel string, err error) {
	attrs := []any{"channel", channel, "error", err}
	var status slack.StatusCodeError
	if errors.As(err, &status) {
		attrs = append(attrs, "status", status.Code)
	}
	var apiErr slack.SlackErrorResponse
	if errors.As(err, &apiErr) {
		attrs = append(attrs, "slack_error", apiErr.Err)
	}
	slog.Warn("slack send failed", attrs...)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
