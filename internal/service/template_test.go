package service

import (
	"context"
	"strings"
	"testing"

	"github.com/Strob0t/buildnotify/internal/domain/build"
)

func templateContext() build.Context {
	return build.NewContext(&build.Event{
		Phase:   build.PhaseCompleted,
		Project: build.Project{Name: "app", DisplayName: "App"},
		Build: build.Run{
			Number:          42,
			URL:             "https://ci.example.com/job/app/42/",
			Result:          build.ResultFailure,
			Duration:        "3 min",
			ChangesComputed: true,
			Changes: []build.Change{
				{Author: "alice", Title: "fix"},
				{Author: "bob", Title: "docs"},
			},
			Tests: &build.TestCounts{Total: 10, Failed: 2},
			Env:   map[string]string{"TARGET": "prod", "RAW": "{{ .Evil }}"},
		},
	}, nil)
}

func TestTemplateExpander_Expand(t *testing.T) {
	e := NewTemplateExpander()
	c := templateContext()

	tests := []struct {
		name string
		tmpl string
		want string
	}{
		{"plain", "nothing to expand", "nothing to expand"},
		{"dollar tokens", "Build $BUILD_NUMBER of ${JOB_NAME}", "Build 42 of app"},
		{"result and url", "${BUILD_RESULT}: $BUILD_URL", "FAILURE: https://ci.example.com/job/app/42/"},
		{"display names", "${PROJECT_DISPLAY_NAME} ${BUILD_DISPLAY_NAME}", "App #42"},
		{"duration and authors", "took $DURATION, by $CHANGE_AUTHORS", "took 3 min, by alice, bob"},
		{"env var", "deployed to ${TARGET}", "deployed to prod"},
		{"escaped dollar", "costs $$HOME", "costs $HOME"},
		{"escaped dollar before digit", "costs $$5", "costs $5"},
		{"backslash escaped dollar", `costs \$HOME`, "costs $HOME"},
		{"default for unknown", "${NOPE:-none}", "none"},
		{"default not used", "${TARGET:-dev}", "prod"},
		{"token next to action", "${JOB_NAME}{{ .Number }}", "app42"},
		{"trailing dollar", "end $", "end $"},
		{"template action", "{{ .Project | upper }} #{{ .Number }}", "APP #42"},
		{"sprig function", `{{ "hello" | title }}`, "Hello"},
		{"mixed", "{{ .Result | lower }} by $CHANGE_AUTHORS", "failure by alice, bob"},
		{"inserted value is not parsed", "{{ .Number }} ${RAW}", "42 {{ .Evil }}"},
		{"tests", "{{ .Tests.Failed }}/{{ .Tests.Total }}", "2/10"},
		{"env map", "{{ .Env.TARGET }}", "prod"},
		{"dollar inside action", `{{ $x := "v" }}{{ $x }}`, "v"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Expand(tt.tmpl, c)
			if err != nil {
				t.Fatalf("Expand(%q): %v", tt.tmpl, err)
			}
			if got != tt.want {
				t.Errorf("Expand(%q) = %q, want %q", tt.tmpl, got, tt.want)
			}
		})
	}
}

func TestTemplateExpander_Errors(t *testing.T) {
	e := NewTemplateExpander()
	c := templateContext()

	tests := []struct {
		name string
		tmpl string
	}{
		{"unknown token", "hello $NOPE"},
		{"unknown braced token", "hello ${NOPE}"},
		{"unterminated token", "hello ${JOB_NAME"},
		{"invalid token name", "hello ${not valid}"},
		{"dollar before digit", "costs $5"},
		{"required token", "${NOPE?must be set}"},
		{"missing env key", "{{ .Env.MISSING }}"},
		{"parse error", "{{ .Project "},
		{"unknown function", "{{ .Project | nosuchfunc }}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got, err := e.Expand(tt.tmpl, c); err == nil {
				t.Fatalf("Expand(%q) = %q, expected error", tt.tmpl, got)
			}
		})
	}
}

func TestExpandOrMark(t *testing.T) {
	e := NewTemplateExpander()
	c := templateContext()

	if got := e.ExpandOrMark(context.Background(), "ok $BUILD_NUMBER", c); got != "ok 42" {
		t.Errorf("expected expansion, got %q", got)
	}

	tmpl := "broken $NOPE"
	got := e.ExpandOrMark(context.Background(), tmpl, c)
	if got != "[UNPROCESSABLE] "+tmpl {
		t.Errorf("expected marker, got %q", got)
	}
	if !strings.HasPrefix(got, UnprocessableMarker) {
		t.Errorf("expected %q prefix", UnprocessableMarker)
	}
}
