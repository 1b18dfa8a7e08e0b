package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/Strob0t/buildnotify/internal/domain/build"
	"github.com/Strob0t/buildnotify/internal/domain/notification"
)

// failingExpander always fails.
type failingExpander struct{}

func (failingExpander) Expand(string, build.Context) (string, error) {
	return "", errors.New("boom")
}

func completedEvent(result build.Result, previous build.Result) *build.Event {
	ev := &build.Event{
		Phase:   build.PhaseCompleted,
		Project: build.Project{Name: "app"},
		Build: build.Run{
			Number:   7,
			URL:      "https://ci/job/app/7/",
			Result:   result,
			Duration: "3 min 2 sec",
		},
	}
	if previous != build.ResultNone {
		ev.Previous = &build.Previous{Number: 6, Result: previous}
	}
	return ev
}

func contextFor(ev *build.Event) build.Context {
	return build.NewContext(ev, ev.Previous)
}

func TestRender_HeaderKeepsTrailingSpace(t *testing.T) {
	ev := completedEvent(build.ResultSuccess, build.ResultNone)
	ev.Project.Name = "project"
	ev.Build.DisplayName = "#43 Started by changes from Bob"

	msg := NewMessageBuilder(nil).Render(context.Background(), contextFor(ev), notification.Preferences{}, notification.ReasonSuccess)
	if !strings.HasPrefix(msg.Text, "project - #43 Started by changes from Bob ") {
		t.Fatalf("unexpected header in %q", msg.Text)
	}
}

func TestRender_FullMessage(t *testing.T) {
	ev := completedEvent(build.ResultFailure, build.ResultFailure)
	ev.Build.Tests = &build.TestCounts{Total: 10, Failed: 2, Skipped: 1}
	ev.Build.ChangesComputed = true
	ev.Build.Changes = []build.Change{
		{Author: "alice", Title: "Fix <bug>", Files: []string{"a.go", "b.go"}},
		{Author: "bob", Title: "Add & docs", Files: []string{"a.go"}},
	}
	prefs := notification.Preferences{
		IncludeTestSummary: true,
		CommitInfoChoice:   notification.CommitInfoAuthorsAndTitles,
	}

	msg := NewMessageBuilder(nil).Render(context.Background(), contextFor(ev), prefs, notification.ReasonRepeatedFailure)

	want := "app - #7 *Still Failing* after 3 min 2 sec" +
		"\n*Total:* 10\n*Passed:* 8\n*Failed:* 2\n*Skipped:* 1" +
		"\n*Authors:* alice, bob" +
		"\n- Fix &lt;bug&gt; [alice]\n- Add &amp; docs [bob]" +
		" (<https://ci/job/app/7/|Open>)"
	if msg.Text != want {
		t.Errorf("text mismatch\n got: %q\nwant: %q", msg.Text, want)
	}
	if msg.Color != notification.ColorDanger {
		t.Errorf("expected danger, got %s", msg.Color)
	}
}

func TestRender_StatusPhrases(t *testing.T) {
	tests := []struct {
		name     string
		result   build.Result
		previous build.Result
		reason   notification.Reason
		want     string
		color    string
	}{
		{"success", build.ResultSuccess, build.ResultSuccess, notification.ReasonSuccess, "*Success*", notification.ColorGood},
		{"back to normal", build.ResultSuccess, build.ResultFailure, notification.ReasonBackToNormal, "*Back to normal*", notification.ColorGood},
		{"back to normal from unstable", build.ResultSuccess, build.ResultUnstable, notification.ReasonSuccess, "*Back to normal*", notification.ColorGood},
		{"failure", build.ResultFailure, build.ResultSuccess, notification.ReasonSingleFailure, "*Failure*", notification.ColorDanger},
		{"still failing", build.ResultFailure, build.ResultFailure, notification.ReasonEveryFailure, "*Still Failing*", notification.ColorDanger},
		{"aborted", build.ResultAborted, build.ResultNone, notification.ReasonAborted, "*Aborted*", notification.ColorWarning},
		{"not built", build.ResultNotBuilt, build.ResultNone, notification.ReasonNotBuilt, "*Not built*", notification.ColorWarning},
		{"unstable", build.ResultUnstable, build.ResultSuccess, notification.ReasonUnstable, "*Unstable*", notification.ColorWarning},
		{"regression on unstable", build.ResultUnstable, build.ResultSuccess, notification.ReasonRegression, "*Unstable*", notification.ColorWarning},
		{"regression on failure", build.ResultFailure, build.ResultSuccess, notification.ReasonRegression, "*Failure*", notification.ColorDanger},
		{"regression on still failing", build.ResultFailure, build.ResultFailure, notification.ReasonRegression, "*Still Failing*", notification.ColorDanger},
	}

	b := NewMessageBuilder(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := completedEvent(tt.result, tt.previous)
			msg := b.Render(context.Background(), contextFor(ev), notification.Preferences{}, tt.reason)
			want := "app - #7 " + tt.want + " after 3 min 2 sec (<https://ci/job/app/7/|Open>)"
			if msg.Text != want {
				t.Errorf("got %q, want %q", msg.Text, want)
			}
			if msg.Color != tt.color {
				t.Errorf("color = %s, want %s", msg.Color, tt.color)
			}
		})
	}
}

func TestRender_SameTextForEveryReason(t *testing.T) {
	c := contextFor(completedEvent(build.ResultFailure, build.ResultSuccess))
	b := NewMessageBuilder(nil)
	base := b.Render(context.Background(), c, notification.Preferences{}, notification.ReasonSingleFailure)
	for _, r := range []notification.Reason{notification.ReasonEveryFailure, notification.ReasonRegression} {
		msg := b.Render(context.Background(), c, notification.Preferences{}, r)
		if msg.Text != base.Text || msg.Color != base.Color {
			t.Errorf("%s: got %q (%s), want %q (%s)", r, msg.Text, msg.Color, base.Text, base.Color)
		}
	}
}

func TestRender_OptionalSectionsOmitted(t *testing.T) {
	ev := completedEvent(build.ResultSuccess, build.ResultNone)
	ev.Build.URL = ""
	prefs := notification.Preferences{
		IncludeTestSummary: true,
		CommitInfoChoice:   notification.CommitInfoAuthors,
	}

	// no tests, no changelog, no url
	msg := NewMessageBuilder(nil).Render(context.Background(), contextFor(ev), prefs, notification.ReasonSuccess)
	if want := "app - #7 *Success* after 3 min 2 sec"; msg.Text != want {
		t.Errorf("got %q, want %q", msg.Text, want)
	}

	// changelog computed but empty
	ev.Build.ChangesComputed = true
	msg = NewMessageBuilder(nil).Render(context.Background(), contextFor(ev), prefs, notification.ReasonSuccess)
	if strings.Contains(msg.Text, "Authors") {
		t.Errorf("expected no authors line, got %q", msg.Text)
	}

	// changes present but not computed
	ev.Build.ChangesComputed = false
	ev.Build.Changes = []build.Change{{Author: "alice"}}
	msg = NewMessageBuilder(nil).Render(context.Background(), contextFor(ev), prefs, notification.ReasonSuccess)
	if strings.Contains(msg.Text, "Authors") {
		t.Errorf("expected no authors line, got %q", msg.Text)
	}
}

func TestRender_AuthorsWithoutTitles(t *testing.T) {
	ev := completedEvent(build.ResultSuccess, build.ResultNone)
	ev.Build.ChangesComputed = true
	ev.Build.Changes = []build.Change{{Author: "alice", Title: "one"}, {Author: "alice", Title: "two"}}
	prefs := notification.Preferences{CommitInfoChoice: notification.CommitInfoAuthors}

	msg := NewMessageBuilder(nil).Render(context.Background(), contextFor(ev), prefs, notification.ReasonSuccess)
	if !strings.Contains(msg.Text, "\n*Authors:* alice (") {
		t.Errorf("expected single author line, got %q", msg.Text)
	}
	if strings.Contains(msg.Text, "\n- one") {
		t.Errorf("titles rendered for AUTHORS choice: %q", msg.Text)
	}
}

func TestRender_EscapesDisplayNames(t *testing.T) {
	ev := completedEvent(build.ResultSuccess, build.ResultNone)
	ev.Project.DisplayName = "R&D <core>"
	ev.Build.DisplayName = "<a href='https://pr/1'>PR 1</a>"

	msg := NewMessageBuilder(nil).Render(context.Background(), contextFor(ev), notification.Preferences{}, notification.ReasonSuccess)
	if !strings.HasPrefix(msg.Text, "R&amp;D &lt;core&gt; - <'https://pr/1'|PR 1> ") {
		t.Errorf("unexpected escaping in %q", msg.Text)
	}
}

func TestRender_CustomMessage(t *testing.T) {
	prefs := notification.Preferences{
		IncludeCustomMessage: true,
		CustomMessages: notification.CustomMessages{
			Default: "default for $JOB_NAME",
			Failure: "<!here> failure #$BUILD_NUMBER",
		},
	}
	b := NewMessageBuilder(nil)

	msg := b.Render(context.Background(), contextFor(completedEvent(build.ResultFailure, build.ResultNone)), prefs, notification.ReasonSingleFailure)
	if !strings.Contains(msg.Text, "\n<!here> failure #7 (<") {
		t.Errorf("expected unescaped result-specific message, got %q", msg.Text)
	}

	msg = b.Render(context.Background(), contextFor(completedEvent(build.ResultSuccess, build.ResultNone)), prefs, notification.ReasonSuccess)
	if !strings.Contains(msg.Text, "\ndefault for app (<") {
		t.Errorf("expected default message, got %q", msg.Text)
	}

	prefs.IncludeCustomMessage = false
	msg = b.Render(context.Background(), contextFor(completedEvent(build.ResultSuccess, build.ResultNone)), prefs, notification.ReasonSuccess)
	if strings.Contains(msg.Text, "default for") {
		t.Errorf("custom message rendered while disabled: %q", msg.Text)
	}
}

func TestRender_CustomMessageExpansionFailure(t *testing.T) {
	prefs := notification.Preferences{
		IncludeCustomMessage: true,
		CustomMessages:       notification.CustomMessages{Default: "hello ${WHO}"},
	}
	b := NewMessageBuilder(failingExpander{})

	msg := b.Render(context.Background(), contextFor(completedEvent(build.ResultSuccess, build.ResultNone)), prefs, notification.ReasonSuccess)
	want := "app - #7 *Success* after 3 min 2 sec\n[UNPROCESSABLE] hello ${WHO} (<https://ci/job/app/7/|Open>)"
	if msg.Text != want {
		t.Errorf("got %q, want %q", msg.Text, want)
	}
}

func TestRender_TransformsRunInOrder(t *testing.T) {
	var seen []string
	first := func(text string, c build.Context) string {
		seen = append(seen, "first")
		return strings.ReplaceAll(text, "app", c.ProjectName()+"-svc")
	}
	second := func(text string, _ build.Context) string {
		seen = append(seen, "second")
		return text + " [svc]"
	}
	b := NewMessageBuilder(nil, first, second)

	msg := b.Render(context.Background(), contextFor(completedEvent(build.ResultSuccess, build.ResultNone)), notification.Preferences{}, notification.ReasonSuccess)
	if !strings.HasPrefix(msg.Text, "app-svc - #7") || !strings.HasSuffix(msg.Text, " [svc]") {
		t.Errorf("unexpected transformed text %q", msg.Text)
	}
	if strings.Join(seen, ",") != "first,second" {
		t.Errorf("unexpected transform order %v", seen)
	}
}

func TestRenderStart(t *testing.T) {
	base := func() *build.Event {
		return &build.Event{
			Phase:   build.PhaseStarted,
			Project: build.Project{Name: "app"},
			Build:   build.Run{Number: 8, URL: "https://ci/job/app/8/", Building: true},
		}
	}

	tests := []struct {
		name   string
		modify func(*build.Event)
		want   string
	}{
		{
			name:   "user cause",
			modify: func(ev *build.Event) { ev.Build.Causes = []build.Cause{{Description: "Started by user <admin>"}} },
			want:   "app - #8 Started by user &lt;admin&gt; (<https://ci/job/app/8/|Open>)",
		},
		{
			name: "scm cause uses changes",
			modify: func(ev *build.Event) {
				ev.Build.Causes = []build.Cause{{Description: "Started by an SCM change", SCM: true}}
				ev.Build.ChangesComputed = true
				ev.Build.Changes = []build.Change{
					{Author: "alice", Files: []string{"a", "b"}},
					{Author: "bob", Files: []string{"b", "c"}},
				}
			},
			want: "app - #8 Started by changes from alice, bob (3 file(s) changed) (<https://ci/job/app/8/|Open>)",
		},
		{
			name:   "nothing known",
			modify: func(*build.Event) {},
			want:   "app - #8 Starting... (<https://ci/job/app/8/|Open>)",
		},
	}

	b := NewMessageBuilder(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := base()
			tt.modify(ev)
			msg := b.RenderStart(context.Background(), build.NewContext(ev, nil), notification.Preferences{})
			if msg.Text != tt.want {
				t.Errorf("got %q, want %q", msg.Text, tt.want)
			}
			if msg.Color != notification.ColorGood {
				t.Errorf("expected good, got %s", msg.Color)
			}
		})
	}
}

func TestRenderStart_CustomMessage(t *testing.T) {
	ev := &build.Event{
		Phase:   build.PhaseStarted,
		Project: build.Project{Name: "app"},
		Build:   build.Run{Number: 8, Building: true},
	}
	prefs := notification.Preferences{
		IncludeCustomMessage: true,
		CustomMessages:       notification.CustomMessages{Default: "deploying $JOB_NAME", Success: "ignored"},
	}

	msg := NewMessageBuilder(nil).RenderStart(context.Background(), build.NewContext(ev, nil), prefs)
	if want := "app - #8 Starting...\ndeploying app"; msg.Text != want {
		t.Errorf("got %q, want %q", msg.Text, want)
	}
}
