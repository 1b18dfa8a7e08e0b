package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/buildnotify/internal/domain/build"
)

// BuildStore implements buildstore.Store using PostgreSQL.
type BuildStore struct {
	pool *pgxpool.Pool
}

// NewBuildStore creates a BuildStore backed by the given connection pool.
func NewBuildStore(pool *pgxpool.Pool) *BuildStore {
	return &BuildStore{pool: pool}
}

// Record upserts s. Recording the same build twice keeps the latest result.
func (s *BuildStore) Record(ctx context.Context, snap build.Snapshot) error {
	var tests []byte
	if snap.Tests != nil {
		var err error
		if tests, err = json.Marshal(snap.Tests); err != nil {
			return fmt.Errorf("marshal tests: %w", err)
		}
	}
	completedAt := snap.CompletedAt
	if completedAt.IsZero() {
		completedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO builds (project, number, result, tests, completed_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (project, number) DO UPDATE
		 SET result = EXCLUDED.result, tests = EXCLUDED.tests, completed_at = EXCLUDED.completed_at`,
		snap.Project, snap.Number, string(snap.Result), tests, completedAt)
	if err != nil {
		return fmt.Errorf("record build %s #%d: %w", snap.Project, snap.Number, err)
	}
	return nil
}

// Previous returns the latest recorded build of project numbered below number.
func (s *BuildStore) Previous(ctx context.Context, project string, number int) (*build.Snapshot, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT project, number, result, tests, completed_at
		 FROM builds WHERE project = $1 AND number < $2
		 ORDER BY number DESC LIMIT 1`, project, number)
	snap, err := scanSnapshot(row)
	if err != nil {
		return nil, notFoundWrap(err, "previous build of %s #%d", project, number)
	}
	return snap, nil
}

func scanSnapshot(row scannable) (*build.Snapshot, error) {
	var (
		snap   build.Snapshot
		result string
		tests  []byte
	)
	if err := row.Scan(&snap.Project, &snap.Number, &result, &tests, &snap.CompletedAt); err != nil {
		return nil, err
	}
	snap.Result = build.Result(result)
	if len(tests) > 0 {
		var t build.TestCounts
		if err := json.Unmarshal(tests, &t); err != nil {
			return nil, fmt.Errorf("decode tests: %w", err)
		}
		snap.Tests = &t
	}
	return &snap, nil
}
