// Package build defines the CI build snapshot types the notification core reads.
package build

import (
	"fmt"
	"strings"
)

// Result is the terminal outcome of a build. The zero value means the build
// is still running or its result has not been set.
type Result string

const (
	ResultNone     Result = ""
	ResultSuccess  Result = "SUCCESS"
	ResultUnstable Result = "UNSTABLE"
	ResultFailure  Result = "FAILURE"
	ResultAborted  Result = "ABORTED"
	ResultNotBuilt Result = "NOT_BUILT"
)

// ParseResult converts a host-provided result string. Empty and "null"
// map to ResultNone.
func ParseResult(s string) (Result, error) {
	switch r := Result(strings.ToUpper(strings.TrimSpace(s))); r {
	case ResultNone, "NULL":
		return ResultNone, nil
	case ResultSuccess, ResultUnstable, ResultFailure, ResultAborted, ResultNotBuilt:
		return r, nil
	default:
		return ResultNone, fmt.Errorf("unknown build result %q", s)
	}
}

// IsTerminal reports whether r is a completed-build result.
func (r Result) IsTerminal() bool {
	return r != ResultNone
}

// rank orders the results that take part in regression detection.
// NOT_BUILT and ABORTED are unranked.
func (r Result) rank() (int, bool) {
	switch r {
	case ResultSuccess:
		return 0, true
	case ResultUnstable:
		return 1, true
	case ResultFailure:
		return 2, true
	default:
		return 0, false
	}
}

// IsWorseThan reports whether r ranks strictly below other on the
// SUCCESS < UNSTABLE < FAILURE scale.
func (r Result) IsWorseThan(other Result) bool {
	a, ok := r.rank()
	if !ok {
		return false
	}
	b, ok := other.rank()
	if !ok {
		return false
	}
	return a > b
}

// UnmarshalText lets Result be decoded from JSON and YAML strings.
func (r *Result) UnmarshalText(text []byte) error {
	parsed, err := ParseResult(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
