package slack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/slack-go/slack"
	"golang.org/x/sync/singleflight"

	"github.com/Strob0t/buildnotify/internal/port/cache"
	"github.com/Strob0t/buildnotify/internal/port/chat"
)

// ErrChannelNotFound is returned when a channel name is not in the workspace.
var ErrChannelNotFound = chat.ErrChannelNotFound

const (
	walkKey     = "conversations.list"
	walkTimeout = 2 * time.Minute
	pageSize    = 200
)

var channelID = regexp.MustCompile(`^[CGD][A-Z0-9]{6,}$`)

// ConversationLister is the slice of the Slack API the directory walks.
type ConversationLister interface {
	GetConversationsContext(ctx context.Context, params *slack.GetConversationsParameters) ([]slack.Channel, string, error)
}

// DirectoryConfig bounds the directory cache and its retries.
type DirectoryConfig struct {
	TTL             time.Duration
	RefreshInterval time.Duration
	MaxAttempts     int
	// InitialBackoff is the first retry delay when Slack gives no Retry-After.
	InitialBackoff time.Duration
}

// Directory maps channel names to IDs. Lookups are served from the cache; a
// miss triggers one conversations.list walk shared by all concurrent callers.
type Directory struct {
	api   ConversationLister
	cache cache.Cache[string]
	cfg   DirectoryConfig
	group singleflight.Group
	walks atomic.Int64
}

// NewDirectory creates a directory backed by c.
func NewDirectory(api ConversationLister, c cache.Cache[string], cfg DirectoryConfig) *Directory {
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 30 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	return &Directory{api: api, cache: c, cfg: cfg}
}

// Resolve returns the ID for a channel name. "#name" and "name" are
// equivalent; values that already look like IDs are returned unchanged.
func (d *Directory) Resolve(ctx context.Context, name string) (string, error) {
	key := normalizeChannel(name)
	if key == "" {
		return "", fmt.Errorf("%w: empty channel name", ErrChannelNotFound)
	}
	if channelID.MatchString(key) {
		return key, nil
	}
	if id, ok, err := d.cache.Get(ctx, key); err == nil && ok {
		return id, nil
	}

	ch := d.group.DoChan(walkKey, func() (any, error) {
		walkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), walkTimeout)
		defer cancel()
		return d.walk(walkCtx)
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", fmt.Errorf("resolve channel %q: %w", name, res.Err)
		}
		if id, ok := res.Val.(map[string]string)[key]; ok {
			return id, nil
		}
		return "", fmt.Errorf("%w: %s", ErrChannelNotFound, name)
	}
}

// Refresh walks the workspace and repopulates the cache.
func (d *Directory) Refresh(ctx context.Context) error {
	_, err, _ := d.group.Do(walkKey, func() (any, error) {
		return d.walk(ctx)
	})
	return err
}

// Run refreshes the directory every RefreshInterval until ctx is done.
func (d *Directory) Run(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.Refresh(ctx); err != nil && ctx.Err() == nil {
				slog.Warn("channel directory refresh failed", "error", err)
			}
		}
	}
}

// Walks reports how many conversations.list walks have run.
func (d *Directory) Walks() int64 { return d.walks.Load() }

func (d *Directory) walk(ctx context.Context) (map[string]string, error) {
	d.walks.Add(1)
	start := time.Now()
	names := make(map[string]string)
	cursor := ""
	for {
		var (
			page []slack.Channel
			next string
		)
		err := d.retry(ctx, func() error {
			var err error
			page, next, err = d.api.GetConversationsContext(ctx, &slack.GetConversationsParameters{
				Cursor:          cursor,
				ExcludeArchived: true,
				Limit:           pageSize,
				Types:           []string{"public_channel", "private_channel"},
			})
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("list conversations: %w", err)
		}
		for _, c := range page {
			names[c.Name] = c.ID
			_ = d.cache.Set(ctx, c.Name, c.ID, d.cfg.TTL)
		}
		if next == "" {
			break
		}
		cursor = next
	}
	slog.Debug("channel directory refreshed", "channels", len(names), "duration", time.Since(start))
	return names, nil
}

// retry runs op at most MaxAttempts times. Slack API errors (ok=false) are
// permanent; rate limits wait for the server's Retry-After.
func (d *Directory) retry(ctx context.Context, op func() error) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = d.cfg.InitialBackoff
	exp.MaxElapsedTime = 0
	hinted := &retryAfterBackOff{next: exp}

	policy := backoff.WithContext(backoff.WithMaxRetries(hinted, uint64(d.cfg.MaxAttempts-1)), ctx)
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		var rl *slack.RateLimitedError
		if errors.As(err, &rl) {
			hinted.hint = rl.RetryAfter
			slog.Debug("slack rate limited", "retry_after", rl.RetryAfter)
			return err
		}
		var apiErr slack.SlackErrorResponse
		if errors.As(err, &apiErr) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}

// retryAfterBackOff prefers a server-supplied delay over the wrapped policy.
type retryAfterBackOff struct {
	next backoff.BackOff
	hint time.Duration
}

func (b *retryAfterBackOff) NextBackOff() time.Duration {
	if b.hint > 0 {
		d := b.hint
		b.hint = 0
		return d
	}
	return b.next.NextBackOff()
}

func (b *retryAfterBackOff) Reset() {
	b.hint = 0
	b.next.Reset()
}

func normalizeChannel(name string) string {
	return strings.TrimPrefix(strings.TrimSpace(name), "#")
}
