package slack

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/slack-go/slack"

	"github.com/Strob0t/buildnotify/internal/adapter/ristretto"
)

func newDirectoryCache(t *testing.T) *ristretto.Cache[string] {
	t.Helper()
	c, err := ristretto.New[string](1000)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(c.Close)
	return c
}

// fakeLister serves conversations.list pages keyed by cursor.
type fakeLister struct {
	calls   atomic.Int64
	delay   time.Duration
	pages   map[string]page
	errs    []error // returned in order before pages are served
	errsIdx atomic.Int64
}

type page struct {
	channels []slack.Channel
	next     string
}

func channel(id, name string) slack.Channel {
	var c slack.Channel
	c.ID = id
	c.Name = name
	return c
}

func (f *fakeLister) GetConversationsContext(ctx context.Context, params *slack.GetConversationsParameters) ([]slack.Channel, string, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, "", ctx.Err()
		}
	}
	if i := f.errsIdx.Add(1) - 1; int(i) < len(f.errs) {
		return nil, "", f.errs[i]
	}
	p := f.pages[params.Cursor]
	return p.channels, p.next, nil
}

func TestResolvePaginates(t *testing.T) {
	lister := &fakeLister{pages: map[string]page{
		"":   {channels: []slack.Channel{channel("C0000001", "general")}, next: "p2"},
		"p2": {channels: []slack.Channel{channel("C0000002", "builds")}},
	}}
	dir := NewDirectory(lister, newDirectoryCache(t), DirectoryConfig{})
	ctx := context.Background()

	id, err := dir.Resolve(ctx, "#builds")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if id != "C0000002" {
		t.Fatalf("expected C0000002, got %s", id)
	}
	if got := lister.calls.Load(); got != 2 {
		t.Fatalf("expected 2 page requests, got %d", got)
	}

	// served from cache
	if id, err := dir.Resolve(ctx, "general"); err != nil || id != "C0000001" {
		t.Fatalf("Resolve(general) = %q, %v", id, err)
	}
	if got := dir.Walks(); got != 1 {
		t.Fatalf("expected 1 walk, got %d", got)
	}
}

func TestResolveIDPassthrough(t *testing.T) {
	lister := &fakeLister{}
	dir := NewDirectory(lister, newDirectoryCache(t), DirectoryConfig{})
	id, err := dir.Resolve(context.Background(), "C0123ABCD")
	if err != nil || id != "C0123ABCD" {
		t.Fatalf("Resolve = %q, %v", id, err)
	}
	if lister.calls.Load() != 0 {
		t.Fatal("expected no upstream call for an ID")
	}
}

func TestResolveNotFound(t *testing.T) {
	lister := &fakeLister{pages: map[string]page{"": {channels: []slack.Channel{channel("C0000001", "general")}}}}
	dir := NewDirectory(lister, newDirectoryCache(t), DirectoryConfig{})

	_, err := dir.Resolve(context.Background(), "#nope")
	if !errors.Is(err, ErrChannelNotFound) {
		t.Fatalf("expected ErrChannelNotFound, got %v", err)
	}
	if _, err := dir.Resolve(context.Background(), "  "); !errors.Is(err, ErrChannelNotFound) {
		t.Fatalf("expected ErrChannelNotFound for empty name, got %v", err)
	}
}

func TestResolveSingleFlight(t *testing.T) {
	lister := &fakeLister{
		delay: 100 * time.Millisecond,
		pages: map[string]page{"": {channels: []slack.Channel{channel("C0000001", "general")}}},
	}
	dir := NewDirectory(lister, newDirectoryCache(t), DirectoryConfig{})

	const callers = 20
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := dir.Resolve(context.Background(), "general")
			if err == nil && id != "C0000001" {
				err = errors.New("wrong id " + id)
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}
	if got := dir.Walks(); got != 1 {
		t.Fatalf("expected 1 shared walk, got %d", got)
	}
	if got := lister.calls.Load(); got != 1 {
		t.Fatalf("expected 1 upstream call, got %d", got)
	}
}

func TestRetryHonorsRetryAfter(t *testing.T) {
	lister := &fakeLister{
		errs:  []error{&slack.RateLimitedError{RetryAfter: 150 * time.Millisecond}},
		pages: map[string]page{"": {channels: []slack.Channel{channel("C0000001", "general")}}},
	}
	dir := NewDirectory(lister, newDirectoryCache(t), DirectoryConfig{InitialBackoff: time.Millisecond})

	start := time.Now()
	id, err := dir.Resolve(context.Background(), "general")
	if err != nil || id != "C0000001" {
		t.Fatalf("Resolve = %q, %v", id, err)
	}
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Fatalf("expected to wait for Retry-After, waited %s", elapsed)
	}
	if got := lister.calls.Load(); got != 2 {
		t.Fatalf("expected 2 calls, got %d", got)
	}
}

func TestRetryCappedAtMaxAttempts(t *testing.T) {
	rl := &slack.RateLimitedError{RetryAfter: time.Millisecond}
	lister := &fakeLister{errs: []error{rl, rl, rl, rl, rl, rl}}
	dir := NewDirectory(lister, newDirectoryCache(t), DirectoryConfig{MaxAttempts: 3})

	_, err := dir.Resolve(context.Background(), "general")
	var got *slack.RateLimitedError
	if !errors.As(err, &got) {
		t.Fatalf("expected rate limit error, got %v", err)
	}
	if calls := lister.calls.Load(); calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestAPIErrorIsNotRetried(t *testing.T) {
	lister := &fakeLister{errs: []error{slack.SlackErrorResponse{Err: "invalid_auth"}}}
	dir := NewDirectory(lister, newDirectoryCache(t), DirectoryConfig{MaxAttempts: 5})

	if err := dir.Refresh(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if calls := lister.calls.Load(); calls != 1 {
		t.Fatalf("expected 1 attempt, got %d", calls)
	}
}

func TestRunRefreshesOnInterval(t *testing.T) {
	lister := &fakeLister{pages: map[string]page{"": {channels: []slack.Channel{channel("C0000001", "general")}}}}
	dir := NewDirectory(lister, newDirectoryCache(t), DirectoryConfig{RefreshInterval: 20 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dir.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for dir.Walks() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	if dir.Walks() < 2 {
		t.Fatalf("expected at least 2 refreshes, got %d", dir.Walks())
	}
}
