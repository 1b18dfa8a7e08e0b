package build

import (
	"fmt"
	"time"

	"github.com/docker/go-units"
)

// UnknownBuildKey is rendered when a build reference is unavailable.
const UnknownBuildKey = "unknown-build"

// Context is the immutable snapshot of the current and previous build that
// drives both decisioning and rendering. Build one with NewContext.
type Context struct {
	project     Project
	run         Run
	previous    *Previous
	hasBuildRef bool
}

// NewContext snapshots ev together with the previous build. previous may be
// nil when the job has no history.
func NewContext(ev *Event, previous *Previous) Context {
	if ev == nil {
		return Context{}
	}
	c := Context{
		project:     ev.Project,
		run:         cloneRun(ev.Build),
		hasBuildRef: true,
	}
	if previous != nil {
		p := *previous
		p.Tests = cloneTests(previous.Tests)
		c.previous = &p
	}
	return c
}

// PreviousFromSnapshot adapts a stored snapshot to the event's previous-build shape.
func PreviousFromSnapshot(s *Snapshot) *Previous {
	if s == nil {
		return nil
	}
	return &Previous{Number: s.Number, Result: s.Result, Tests: cloneTests(s.Tests)}
}

// Result is the current build's result; ResultNone while it is running.
func (c Context) Result() Result {
	if c.run.Building {
		return ResultNone
	}
	return c.run.Result
}

// Building reports whether the host still considers the build in progress.
func (c Context) Building() bool {
	return c.run.Building || c.run.Result == ResultNone
}

// Previous returns the previous build, if any.
func (c Context) Previous() (Previous, bool) {
	if c.previous == nil {
		return Previous{}, false
	}
	return *c.previous, true
}

// PreviousResultOrSuccess collapses a missing previous build or an unset
// previous result to SUCCESS. Absence of history is never a failure state.
func (c Context) PreviousResultOrSuccess() Result {
	if c.previous == nil || c.previous.Result == ResultNone {
		return ResultSuccess
	}
	return c.previous.Result
}

// DisplayKey identifies the build in logs.
func (c Context) DisplayKey() string {
	if !c.hasBuildRef {
		return UnknownBuildKey
	}
	return fmt.Sprintf("%s #%d", c.ProjectDisplayName(), c.run.Number)
}

// ProjectName is the job's full name.
func (c Context) ProjectName() string { return c.project.Name }

// ProjectDisplayName falls back to the job name.
func (c Context) ProjectDisplayName() string {
	if c.project.DisplayName != "" {
		return c.project.DisplayName
	}
	return c.project.Name
}

// BuildDisplayName falls back to "#<number>".
func (c Context) BuildDisplayName() string {
	if c.run.DisplayName != "" {
		return c.run.DisplayName
	}
	return fmt.Sprintf("#%d", c.run.Number)
}

// Number is the build number.
func (c Context) Number() int { return c.run.Number }

// BuildURL is the absolute URL of the build page.
func (c Context) BuildURL() string { return c.run.URL }

// Duration is the build duration reported by the host.
func (c Context) Duration() time.Duration {
	return time.Duration(c.run.DurationMillis) * time.Millisecond
}

// DurationString prefers the host's human-readable text.
func (c Context) DurationString() string {
	if c.run.Duration != "" {
		return c.run.Duration
	}
	return units.HumanDuration(c.Duration())
}

// Tests returns the current test counts if the build published any.
func (c Context) Tests() (TestCounts, bool) {
	if c.run.Tests == nil {
		return TestCounts{}, false
	}
	return *c.run.Tests, true
}

// HasTests reports whether the build published test results.
func (c Context) HasTests() bool { return c.run.Tests != nil }

// Cause returns the first recorded start cause.
func (c Context) Cause() (Cause, bool) {
	if len(c.run.Causes) == 0 {
		return Cause{}, false
	}
	return c.run.Causes[0], true
}

// ChangesComputed reports whether the host computed a changelog.
func (c Context) ChangesComputed() bool { return c.run.ChangesComputed }

// Changes returns a copy of the changelog entries.
func (c Context) Changes() []Change {
	out := make([]Change, len(c.run.Changes))
	copy(out, c.run.Changes)
	return out
}

// Authors lists distinct change authors in first-seen order.
func (c Context) Authors() []string {
	seen := make(map[string]struct{}, len(c.run.Changes))
	var authors []string
	for _, ch := range c.run.Changes {
		if _, ok := seen[ch.Author]; ok {
			continue
		}
		seen[ch.Author] = struct{}{}
		authors = append(authors, ch.Author)
	}
	return authors
}

// ChangedFileCount counts distinct files touched by the changelog.
func (c Context) ChangedFileCount() int {
	files := make(map[string]struct{})
	for _, ch := range c.run.Changes {
		for _, f := range ch.Files {
			files[f] = struct{}{}
		}
	}
	return len(files)
}

// Env returns a build variable published by the host.
func (c Context) Env(key string) (string, bool) {
	v, ok := c.run.Env[key]
	return v, ok
}

// Environ returns a copy of all build variables.
func (c Context) Environ() map[string]string {
	out := make(map[string]string, len(c.run.Env))
	for k, v := range c.run.Env {
		out[k] = v
	}
	return out
}

func cloneRun(r Run) Run {
	out := r
	out.Causes = append([]Cause(nil), r.Causes...)
	out.Changes = make([]Change, len(r.Changes))
	for i, ch := range r.Changes {
		ch.Files = append([]string(nil), ch.Files...)
		out.Changes[i] = ch
	}
	out.Tests = cloneTests(r.Tests)
	if r.Env != nil {
		out.Env = make(map[string]string, len(r.Env))
		for k, v := range r.Env {
			out.Env[k] = v
		}
	}
	return out
}

func cloneTests(t *TestCounts) *TestCounts {
	if t == nil {
		return nil
	}
	out := *t
	out.FailingIDs = append([]string(nil), t.FailingIDs...)
	return &out
}
