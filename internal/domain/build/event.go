package build

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Strob0t/buildnotify/internal/domain"
)

// Phase is the host lifecycle hook an event was fired from.
type Phase string

const (
	PhaseStarted   Phase = "STARTED"
	PhaseCompleted Phase = "COMPLETED"
	PhaseFinalized Phase = "FINALIZED"
	PhaseDeleted   Phase = "DELETED"
)

// Event is the build-state record the CI host posts for every lifecycle hook.
type Event struct {
	Phase       Phase     `json:"phase"`
	Project     Project   `json:"project"`
	Build       Run       `json:"build"`
	Previous    *Previous `json:"previous,omitempty"`
	FailOnError bool      `json:"fail_on_error,omitempty"`
}

// Project identifies the job a build belongs to.
type Project struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name,omitempty"`
	URL         string `json:"url,omitempty"`
}

// Run describes the build the event is about.
type Run struct {
	Number          int               `json:"number"`
	DisplayName     string            `json:"display_name,omitempty"`
	URL             string            `json:"url,omitempty"`
	Result          Result            `json:"result,omitempty"`
	Building        bool              `json:"building,omitempty"`
	DurationMillis  int64             `json:"duration_ms,omitempty"`
	Duration        string            `json:"duration,omitempty"`
	Causes          []Cause           `json:"causes,omitempty"`
	ChangesComputed bool              `json:"changes_computed,omitempty"`
	Changes         []Change          `json:"changes,omitempty"`
	Tests           *TestCounts       `json:"tests,omitempty"`
	Env             map[string]string `json:"env,omitempty"`
}

// Previous is the host's view of the preceding completed build.
type Previous struct {
	Number int         `json:"number"`
	Result Result      `json:"result,omitempty"`
	Tests  *TestCounts `json:"tests,omitempty"`
}

// Cause is one reason the host recorded for starting the build.
type Cause struct {
	Description string `json:"description"`
	SCM         bool   `json:"scm,omitempty"`
}

// Change is one changelog entry.
type Change struct {
	Author string   `json:"author"`
	Title  string   `json:"title,omitempty"`
	Files  []string `json:"files,omitempty"`
}

// TestCounts summarises the test-result action of a build.
type TestCounts struct {
	Total      int      `json:"total"`
	Failed     int      `json:"failed"`
	Skipped    int      `json:"skipped"`
	FailingIDs []string `json:"failing,omitempty"`
}

// ParseEvent decodes and validates a build event.
func ParseEvent(data []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("%w: decode build event: %v", domain.ErrValidation, err)
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return &ev, nil
}

// Validate checks the fields every phase relies on.
func (e *Event) Validate() error {
	switch e.Phase {
	case PhaseStarted, PhaseCompleted, PhaseFinalized, PhaseDeleted:
	case "":
		return fmt.Errorf("%w: phase is required", domain.ErrValidation)
	default:
		return fmt.Errorf("%w: unknown phase %q", domain.ErrValidation, e.Phase)
	}
	if e.Project.Name == "" {
		return fmt.Errorf("%w: project.name is required", domain.ErrValidation)
	}
	if e.Build.Number < 0 {
		return fmt.Errorf("%w: build.number must be >= 0, got %d", domain.ErrValidation, e.Build.Number)
	}
	return nil
}

// Snapshot is the persisted record of a completed build, used as the
// previous build of the next one.
type Snapshot struct {
	Project     string
	Number      int
	Result      Result
	Tests       *TestCounts
	CompletedAt time.Time
}
