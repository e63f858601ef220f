package util

import (
	"regexp"
	"sort"
	"strings"
)

var tokenRe = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.\-]+)\s*\}\}`)

// RenderTemplate replaces {{token}} placeholders with vars. Tokens without a
// value are left in place and returned (sorted, deduped) as missing.
func RenderTemplate(body string, vars map[string]string) (string, []string) {
	seen := map[string]bool{}
	var missing []string
	out := tokenRe.ReplaceAllStringFunc(body, func(m string) string {
		name := tokenRe.FindStringSubmatch(m)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		if !seen[name] {
			seen[name] = true
			missing = append(missing, name)
		}
		return m
	})
	sort.Strings(missing)
	return out, missing
}

// TemplateTokens lists the distinct placeholder names used in body, in order
// of first appearance.
func TemplateTokens(body string) []string {
	var out []string
	seen := map[string]bool{}
	for _, m := range tokenRe.FindAllStringSubmatch(body, -1) {
		name := strings.TrimSpace(m[1])
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}
