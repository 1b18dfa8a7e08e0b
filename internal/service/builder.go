package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/Strob0t/buildnotify/internal/domain/build"
	"github.com/Strob0t/buildnotify/internal/domain/notification"
)

// Transform post-processes a rendered message body. Transforms run in the
// order they were given to NewMessageBuilder.
type Transform func(text string, c build.Context) string

// MessageBuilder renders notification messages from a build context.
type MessageBuilder struct {
	expander   Expander
	transforms []Transform
}

// NewMessageBuilder creates a MessageBuilder. A nil expander uses the default
// TemplateExpander.
func NewMessageBuilder(expander Expander, transforms ...Transform) *MessageBuilder {
	if expander == nil {
		expander = NewTemplateExpander()
	}
	return &MessageBuilder{
		expander:   expander,
		transforms: append([]Transform(nil), transforms...),
	}
}

// Render builds the message for a completed build and one matched reason.
// The text depends only on the build and the preferences, so every reason
// matched by the same build renders the same message.
func (b *MessageBuilder) Render(ctx context.Context, c build.Context, p notification.Preferences, reason notification.Reason) notification.Message {
	parts := []string{
		header(c),
		statusPhrase(c),
		" after " + c.DurationString(),
	}
	if p.IncludeTestSummary {
		parts = append(parts, testSummary(c)...)
	}
	if p.CommitInfoChoice.ShowAuthors() {
		parts = append(parts, commitInfo(c, p.CommitInfoChoice.ShowTitles())...)
	}
	if p.IncludeCustomMessage {
		if tmpl := p.CustomMessageFor(c.Result()); tmpl != "" {
			parts = append(parts, "\n"+ExpandOrMark(ctx, b.expander, tmpl, c))
		}
	}
	parts = append(parts, openLink(c))

	return notification.Message{
		Text:  b.finish(parts, c),
		Color: notification.ColorFor(c.Result()),
	}
}

// RenderStart builds the "build started" message.
func (b *MessageBuilder) RenderStart(ctx context.Context, c build.Context, p notification.Preferences) notification.Message {
	parts := []string{header(c), startBody(c), openLink(c)}
	if p.IncludeCustomMessage && p.CustomMessages.Default != "" {
		parts = append(parts, "\n"+ExpandOrMark(ctx, b.expander, p.CustomMessages.Default, c))
	}
	return notification.Message{
		Text:  b.finish(parts, c),
		Color: notification.ColorGood,
	}
}

func (b *MessageBuilder) finish(parts []string, c build.Context) string {
	text := strings.Join(parts, "")
	for _, t := range b.transforms {
		text = t(text, c)
	}
	return text
}

// header renders "<project> - <build> "; the trailing space is part of the format.
func header(c build.Context) string {
	return notification.Escape(c.ProjectDisplayName()) + " - " + notification.Escape(c.BuildDisplayName()) + " "
}

// statusPhrase picks the phrase from the current result alone.
func statusPhrase(c build.Context) string {
	if c.Building() {
		return "Starting..."
	}
	switch c.Result() {
	case build.ResultSuccess:
		if notification.IsBackToNormal(c) {
			return "*Back to normal*"
		}
		return "*Success*"
	case build.ResultFailure:
		if c.PreviousResultOrSuccess() == build.ResultFailure {
			return "*Still Failing*"
		}
		return "*Failure*"
	case build.ResultAborted:
		return "*Aborted*"
	case build.ResultNotBuilt:
		return "*Not built*"
	case build.ResultUnstable:
		return "*Unstable*"
	default:
		return "Unknown"
	}
}

func startBody(c build.Context) string {
	if cause, ok := c.Cause(); ok && !cause.SCM && cause.Description != "" {
		return notification.Escape(cause.Description)
	}
	if c.ChangesComputed() {
		if authors := c.Authors(); len(authors) > 0 {
			return fmt.Sprintf("Started by changes from %s (%d file(s) changed)",
				notification.Escape(strings.Join(authors, ", ")), c.ChangedFileCount())
		}
	}
	return statusPhrase(c)
}

func testSummary(c build.Context) []string {
	t, ok := c.Tests()
	if !ok {
		return nil
	}
	return []string{
		fmt.Sprintf("\n*Total:* %d", t.Total),
		fmt.Sprintf("\n*Passed:* %d", t.Total-t.Failed),
		fmt.Sprintf("\n*Failed:* %d", t.Failed),
		fmt.Sprintf("\n*Skipped:* %d", t.Skipped),
	}
}

func commitInfo(c build.Context, titles bool) []string {
	if !c.ChangesComputed() {
		return nil
	}
	changes := c.Changes()
	if len(changes) == 0 {
		return nil
	}
	parts := []string{"\n*Authors:* " + notification.Escape(strings.Join(c.Authors(), ", "))}
	if titles {
		for _, ch := range changes {
			parts = append(parts, fmt.Sprintf("\n- %s [%s]",
				notification.Escape(ch.Title), notification.Escape(ch.Author)))
		}
	}
	return parts
}

func openLink(c build.Context) string {
	if c.BuildURL() == "" {
		return ""
	}
	return " (<" + c.BuildURL() + "|Open>)"
}
