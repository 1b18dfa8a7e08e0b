package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/buildnotify/internal/adapter/postgres"
	"github.com/Strob0t/buildnotify/internal/domain"
	"github.com/Strob0t/buildnotify/internal/domain/build"
	"github.com/Strob0t/buildnotify/internal/port/buildstore"
)

var _ buildstore.Store = (*postgres.BuildStore)(nil)

// setupStore creates a pgxpool connection, runs all migrations, and returns a
// ready-to-use BuildStore. The pool is closed via t.Cleanup.
func setupStore(t *testing.T) *postgres.BuildStore {
	t.Helper()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("requires DATABASE_URL")
	}

	ctx := context.Background()
	if err := postgres.RunMigrations(ctx, dsn); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	if v, err := postgres.MigrationVersion(ctx, dsn); err != nil || v < 1 {
		t.Fatalf("migration version = %d, %v", v, err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	t.Cleanup(pool.Close)

	return postgres.NewBuildStore(pool)
}

func TestBuildStore_PreviousNotFound(t *testing.T) {
	store := setupStore(t)
	project := "job-" + uuid.NewString()[:8]

	_, err := store.Previous(context.Background(), project, 1)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBuildStore_RecordAndPrevious(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	project := "job-" + uuid.NewString()[:8]

	for _, s := range []build.Snapshot{
		{Project: project, Number: 1, Result: build.ResultSuccess},
		{Project: project, Number: 2, Result: build.ResultFailure, Tests: &build.TestCounts{Total: 5, Failed: 1, FailingIDs: []string{"TestA"}}},
		{Project: project, Number: 4, Result: build.ResultUnstable},
	} {
		if err := store.Record(ctx, s); err != nil {
			t.Fatalf("Record #%d: %v", s.Number, err)
		}
	}

	prev, err := store.Previous(ctx, project, 3)
	if err != nil {
		t.Fatalf("Previous: %v", err)
	}
	if prev.Number != 2 || prev.Result != build.ResultFailure {
		t.Fatalf("expected #2 FAILURE, got #%d %s", prev.Number, prev.Result)
	}
	if prev.Tests == nil || prev.Tests.Failed != 1 || len(prev.Tests.FailingIDs) != 1 {
		t.Fatalf("expected test counts round-trip, got %+v", prev.Tests)
	}
	if prev.CompletedAt.IsZero() {
		t.Fatal("expected completed_at to be set")
	}

	// upsert replaces the result
	if err := store.Record(ctx, build.Snapshot{Project: project, Number: 2, Result: build.ResultSuccess}); err != nil {
		t.Fatal(err)
	}
	prev, err = store.Previous(ctx, project, 3)
	if err != nil {
		t.Fatal(err)
	}
	if prev.Result != build.ResultSuccess || prev.Tests != nil {
		t.Fatalf("expected upserted #2 SUCCESS without tests, got %s %+v", prev.Result, prev.Tests)
	}
}
