package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/mfridman/interpolate"

	"github.com/Strob0t/buildnotify/internal/domain/build"
)

// UnprocessableMarker prefixes a custom message whose template failed to expand.
const UnprocessableMarker = "[UNPROCESSABLE] "

// Expander expands a custom message template against a build.
type Expander interface {
	Expand(tmpl string, c build.Context) (string, error)
}

// TemplateExpander supports two syntaxes that may be mixed:
//
//   - $TOKEN and ${TOKEN} build variables (BUILD_NUMBER, JOB_NAME, BUILD_URL,
//     BUILD_RESULT, BUILD_DISPLAY_NAME, PROJECT_DISPLAY_NAME, DURATION,
//     CHANGE_AUTHORS and any env var the host published), expanded with
//     shell rules: $$ or \$ renders a literal dollar sign and
//     ${NAME:-default} falls back when NAME is empty.
//   - Go text/template actions with the sprig function library, e.g.
//     {{ .Project | upper }}. Missing map keys are errors.
type TemplateExpander struct {
	funcs template.FuncMap
}

// NewTemplateExpander creates a TemplateExpander with the sprig functions.
func NewTemplateExpander() *TemplateExpander {
	return &TemplateExpander{funcs: sprig.TxtFuncMap()}
}

// templateData is the dot value of {{ }} actions.
type templateData struct {
	Project            string
	ProjectDisplayName string
	Number             int
	DisplayName        string
	URL                string
	Result             string
	Duration           string
	Authors            []string
	Changes            []build.Change
	Tests              *build.TestCounts
	Env                map[string]string
}

// Expand replaces build variables and executes template actions. Unknown
// variables and template errors are returned as errors.
func (e *TemplateExpander) Expand(tmpl string, c build.Context) (string, error) {
	actions := strings.Contains(tmpl, "{{")

	text, err := expandTokens(tmpl, tokenEnv{c: c, quote: actions})
	if err != nil {
		return "", err
	}
	if !actions {
		return text, nil
	}

	t, err := template.New("custom").Funcs(e.funcs).Option("missingkey=error").Parse(text)
	if err != nil {
		return "", fmt.Errorf("parse template: %w", err)
	}
	var sb strings.Builder
	if err := t.Execute(&sb, newTemplateData(c)); err != nil {
		return "", fmt.Errorf("execute template: %w", err)
	}
	return sb.String(), nil
}

// ExpandOrMark is Expand that never fails: errors are logged and the
// template is returned behind UnprocessableMarker.
func (e *TemplateExpander) ExpandOrMark(ctx context.Context, tmpl string, c build.Context) string {
	return ExpandOrMark(ctx, e, tmpl, c)
}

// ExpandOrMark expands tmpl with e, degrading to the marked template on error.
func ExpandOrMark(ctx context.Context, e Expander, tmpl string, c build.Context) string {
	out, err := e.Expand(tmpl, c)
	if err != nil {
		slog.ErrorContext(ctx, "custom message expansion failed",
			"build", c.DisplayKey(),
			"error", err,
		)
		return UnprocessableMarker + tmpl
	}
	return out
}

func newTemplateData(c build.Context) templateData {
	d := templateData{
		Project:            c.ProjectName(),
		ProjectDisplayName: c.ProjectDisplayName(),
		Number:             c.Number(),
		DisplayName:        c.BuildDisplayName(),
		URL:                c.BuildURL(),
		Result:             string(c.Result()),
		Duration:           c.DurationString(),
		Authors:            c.Authors(),
		Changes:            c.Changes(),
		Env:                c.Environ(),
	}
	if tests, ok := c.Tests(); ok {
		d.Tests = &tests
	}
	return d
}

func tokenValue(name string, c build.Context) (string, bool) {
	switch name {
	case "BUILD_NUMBER":
		return strconv.Itoa(c.Number()), true
	case "JOB_NAME":
		return c.ProjectName(), true
	case "BUILD_URL":
		return c.BuildURL(), true
	case "BUILD_RESULT":
		return string(c.Result()), true
	case "BUILD_DISPLAY_NAME":
		return c.BuildDisplayName(), true
	case "PROJECT_DISPLAY_NAME":
		return c.ProjectDisplayName(), true
	case "DURATION":
		return c.DurationString(), true
	case "CHANGE_AUTHORS":
		return strings.Join(c.Authors(), ", "), true
	}
	return c.Env(name)
}

// tokenEnv resolves build variables for interpolate. With quote set, values
// are wrapped in string-literal actions so they stay out of template parsing.
type tokenEnv struct {
	c     build.Context
	quote bool
}

func (e tokenEnv) Get(name string) (string, bool) {
	v, ok := tokenValue(name, e.c)
	if !ok || !e.quote {
		return v, ok
	}
	return "{{" + strconv.Quote(v) + "}}", true
}

// expandTokens substitutes $NAME and ${NAME} outside of {{ }} actions.
func expandTokens(s string, env tokenEnv) (string, error) {
	var sb strings.Builder
	sb.Grow(len(s))

	for s != "" {
		start := strings.Index(s, "{{")
		if start < 0 {
			start = len(s)
		}
		text, err := interpolateText(s[:start], env)
		if err != nil {
			return "", err
		}
		sb.WriteString(text)
		s = s[start:]
		if s == "" {
			break
		}

		end := strings.Index(s[2:], "}}")
		if end < 0 {
			// unterminated action; the template parser reports it
			sb.WriteString(s)
			break
		}
		n := 2 + end + 2
		sb.WriteString(s[:n])
		s = s[n:]
	}
	return sb.String(), nil
}

// interpolateText expands one action-free segment. A plain $NAME that
// resolves to nothing is an error; ${NAME:-default} and friends keep their
// shell meaning.
func interpolateText(s string, env tokenEnv) (string, error) {
	if !strings.Contains(s, "$") {
		return s, nil
	}
	expr, err := interpolate.NewParser(s).Parse()
	if err != nil {
		return "", fmt.Errorf("parse tokens: %w", err)
	}
	for _, item := range expr {
		if v, ok := item.Expansion.(interpolate.VariableExpansion); ok {
			if _, found := env.Get(v.Identifier); !found {
				return "", fmt.Errorf("unknown token $%s", v.Identifier)
			}
		}
	}
	return expr.Expand(env)
}
