package natskv_test

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	cfnats "github.com/Strob0t/buildnotify/internal/adapter/nats"
	"github.com/Strob0t/buildnotify/internal/adapter/natskv"
	"github.com/Strob0t/buildnotify/internal/config"
)

func testCache(t *testing.T) *natskv.Cache {
	t.Helper()

	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("requires NATS_URL")
	}

	cfg := config.Defaults().NATS
	cfg.URL = url
	cfg.Stream = "BUILDS_KV_TEST"
	cfg.Subject = "buildskvtest.>"

	ctx := context.Background()
	q, err := cfnats.Connect(ctx, cfg)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })

	bucket := "channels_" + strings.ReplaceAll(t.Name(), "/", "_")
	kv, err := q.KeyValue(ctx, bucket, time.Minute)
	if err != nil {
		t.Fatalf("KeyValue: %v", err)
	}
	return natskv.New(kv)
}

func TestCache_RoundTrip(t *testing.T) {
	c := testCache(t)
	ctx := context.Background()

	if _, ok, err := c.Get(ctx, "builds"); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}

	if err := c.Set(ctx, "builds", "C0000001", time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	id, ok, err := c.Get(ctx, "builds")
	if err != nil || !ok || id != "C0000001" {
		t.Fatalf("Get = %q, %v, %v", id, ok, err)
	}

	if err := c.Delete(ctx, "builds"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, err := c.Get(ctx, "builds"); err != nil || ok {
		t.Fatalf("expected miss after delete, got ok=%v err=%v", ok, err)
	}
	if err := c.Delete(ctx, "never-set"); err != nil {
		t.Fatalf("Delete missing key: %v", err)
	}
}
