package notification

import "github.com/Strob0t/buildnotify/internal/domain/build"

// Attachment colors understood by Slack.
const (
	ColorGood    = "good"
	ColorDanger  = "danger"
	ColorWarning = "warning"
)

// Attachment is a structured block rendered below the message text.
type Attachment struct {
	Color      string   `json:"color,omitempty"`
	Title      string   `json:"title,omitempty"`
	TitleLink  string   `json:"title_link,omitempty"`
	Text       string   `json:"text,omitempty"`
	Fallback   string   `json:"fallback,omitempty"`
	MarkdownIn []string `json:"mrkdwn_in,omitempty"`
}

// Message is a rendered notification. It is not modified once handed to a
// transport.
type Message struct {
	Text        string       `json:"text"`
	Color       string       `json:"color,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	// Thread is a "channelId:timestamp" reference to reply under.
	Thread string `json:"thread,omitempty"`
}

// ColorFor maps a build result to an attachment color.
func ColorFor(r build.Result) string {
	switch r {
	case build.ResultSuccess:
		return ColorGood
	case build.ResultFailure:
		return ColorDanger
	default:
		return ColorWarning
	}
}
