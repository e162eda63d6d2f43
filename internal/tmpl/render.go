// Package tmpl substitutes &{key} placeholders in page and API text.
package tmpl

import (
	"sort"
	"strings"
)

// Render replaces every &{key} in text with vars[key]. Unknown
// placeholders are left untouched.
func Render(text string, vars map[string]string) string {
	if len(vars) == 0 || !strings.Contains(text, "&{") {
		return text
	}
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		pairs = append(pairs, "&{"+k+"}", vars[k])
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

// Renderer adapts Render to the dispatcher's template collaborator.
type Renderer struct{}

func (Renderer) Render(text string, vars map[string]string) string {
	return Render(text, vars)
}
