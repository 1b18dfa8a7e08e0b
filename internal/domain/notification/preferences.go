// Package notification holds the notification decision engine: preferences,
// reasons and the chat message model.
package notification

import (
	"fmt"
	"strings"

	"github.com/Strob0t/buildnotify/internal/domain/build"
)

// CommitInfoChoice controls how much of the changelog is rendered.
type CommitInfoChoice string

const (
	CommitInfoNone             CommitInfoChoice = "NONE"
	CommitInfoAuthors          CommitInfoChoice = "AUTHORS"
	CommitInfoAuthorsAndTitles CommitInfoChoice = "AUTHORS_AND_TITLES"
)

// ShowAuthors reports whether the authors line is rendered.
func (c CommitInfoChoice) ShowAuthors() bool {
	return c == CommitInfoAuthors || c == CommitInfoAuthorsAndTitles
}

// ShowTitles reports whether per-commit title lines are rendered.
func (c CommitInfoChoice) ShowTitles() bool {
	return c == CommitInfoAuthorsAndTitles
}

// UnmarshalText accepts the three choice names case-insensitively. An empty
// value means NONE.
func (c *CommitInfoChoice) UnmarshalText(text []byte) error {
	switch v := CommitInfoChoice(strings.ToUpper(strings.TrimSpace(string(text)))); v {
	case "":
		*c = CommitInfoNone
	case CommitInfoNone, CommitInfoAuthors, CommitInfoAuthorsAndTitles:
		*c = v
	default:
		return fmt.Errorf("invalid commit info choice %q (want NONE, AUTHORS or AUTHORS_AND_TITLES)", string(text))
	}
	return nil
}

// CustomMessages are the templates appended when IncludeCustomMessage is set.
type CustomMessages struct {
	Default  string `yaml:"default" json:"default,omitempty"`
	Success  string `yaml:"success" json:"success,omitempty"`
	Aborted  string `yaml:"aborted" json:"aborted,omitempty"`
	NotBuilt string `yaml:"not_built" json:"not_built,omitempty"`
	Unstable string `yaml:"unstable" json:"unstable,omitempty"`
	Failure  string `yaml:"failure" json:"failure,omitempty"`
}

// Preferences is the per-job notification configuration. It is read-only
// while a build is evaluated.
type Preferences struct {
	StartNotification     bool `yaml:"start_notification" json:"start_notification"`
	NotifyAborted         bool `yaml:"notify_aborted" json:"notify_aborted"`
	NotifySuccess         bool `yaml:"notify_success" json:"notify_success"`
	NotifyFailure         bool `yaml:"notify_failure" json:"notify_failure"`
	NotifyEveryFailure    bool `yaml:"notify_every_failure" json:"notify_every_failure"`
	NotifyUnstable        bool `yaml:"notify_unstable" json:"notify_unstable"`
	NotifyNotBuilt        bool `yaml:"notify_not_built" json:"notify_not_built"`
	NotifyBackToNormal    bool `yaml:"notify_back_to_normal" json:"notify_back_to_normal"`
	NotifyRepeatedFailure bool `yaml:"notify_repeated_failure" json:"notify_repeated_failure"`
	NotifyRegression      bool `yaml:"notify_regression" json:"notify_regression"`

	IncludeTestSummary   bool             `yaml:"include_test_summary" json:"include_test_summary"`
	CommitInfoChoice     CommitInfoChoice `yaml:"commit_info_choice" json:"commit_info_choice"`
	IncludeCustomMessage bool             `yaml:"include_custom_message" json:"include_custom_message"`
	CustomMessages       CustomMessages   `yaml:"custom_messages" json:"custom_messages"`

	// Destination overrides; empty means the transport defaults.
	Room      string `yaml:"room" json:"room,omitempty"`
	SendAs    string `yaml:"send_as" json:"send_as,omitempty"`
	IconEmoji string `yaml:"icon_emoji" json:"icon_emoji,omitempty"`
	Username  string `yaml:"username" json:"username,omitempty"`

	FailOnError bool `yaml:"fail_on_error" json:"fail_on_error"`
}

// CustomMessageFor returns the template for result, falling back to the
// default template when no result-specific one is set.
func (p Preferences) CustomMessageFor(result build.Result) string {
	var specific string
	switch result {
	case build.ResultSuccess:
		specific = p.CustomMessages.Success
	case build.ResultAborted:
		specific = p.CustomMessages.Aborted
	case build.ResultNotBuilt:
		specific = p.CustomMessages.NotBuilt
	case build.ResultUnstable:
		specific = p.CustomMessages.Unstable
	case build.ResultFailure:
		specific = p.CustomMessages.Failure
	}
	if specific != "" {
		return specific
	}
	return p.CustomMessages.Default
}
