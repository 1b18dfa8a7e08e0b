// Package buildstore defines the port interface for build history.
package buildstore

import (
	"context"

	"github.com/Strob0t/buildnotify/internal/domain/build"
)

// Store records completed builds so the next build of a project can be
// compared against its predecessor when the host omits it.
type Store interface {
	// Record upserts the snapshot keyed by project and build number.
	Record(ctx context.Context, s build.Snapshot) error

	// Previous returns the latest recorded build of project with a number
	// lower than number, or domain.ErrNotFound.
	Previous(ctx context.Context, project string, number int) (*build.Snapshot, error)
}
