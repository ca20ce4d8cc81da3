package templates

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/aretw0/coachflow/pkg/domain"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.\-]+)\s*\}\}`)

// Rendered is the output of Render.
type Rendered struct {
	System string
	User   string
	// Unfilled lists the placeholders that had no matching parameter.
	Unfilled []string
}

// Render substitutes every {{name}} placeholder of the system prompt and the
// user prompt pattern. A missing parameter renders as an empty string and is
// reported in Unfilled; Render never fails.
func Render(tpl *domain.PromptTemplate, params map[string]any) Rendered {
	missing := make(map[string]bool)
	for _, name := range tpl.DeclaredParameters {
		if _, ok := params[name]; !ok {
			missing[name] = true
		}
	}

	sub := func(s string) string {
		return placeholderRe.ReplaceAllStringFunc(s, func(m string) string {
			name := placeholderRe.FindStringSubmatch(m)[1]
			v, ok := params[name]
			if !ok {
				missing[name] = true
				return ""
			}
			return format(v)
		})
	}

	out := Rendered{
		System: sub(tpl.SystemPrompt),
		User:   sub(tpl.UserPromptPattern),
	}
	for name := range missing {
		out.Unfilled = append(out.Unfilled, name)
	}
	sort.Strings(out.Unfilled)
	return out
}

// Placeholders returns the distinct placeholder names of s in order of appearance.
func Placeholders(s string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, m := range placeholderRe.FindAllStringSubmatch(s, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}

func format(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []string:
		return strings.Join(x, ", ")
	case []any:
		parts := make([]string, 0, len(x))
		for _, p := range x {
			parts = append(parts, format(p))
		}
		return strings.Join(parts, ", ")
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprint(v)
}
