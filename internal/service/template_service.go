package service

import (
	"regexp"
	"strings"
)

// placeholderPattern matches {{ name }} and {name}.
var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.\-]+)\s*\}\}|\{([A-Za-z0-9_.\-]+)\}`)

// RenderTemplate substitutes recipient variables into template. Placeholders
// with no matching variable render as the empty string.
func RenderTemplate(template string, data map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(template, func(m string) string {
		sub := placeholderPattern.FindStringSubmatch(m)
		key := sub[1]
		if key == "" {
			key = sub[2]
		}
		return data[key]
	})
}

// TemplatePlaceholders lists the distinct variable names used in template.
func TemplatePlaceholders(template string) []string {
	seen := map[string]bool{}
	var names []string
	for _, sub := range placeholderPattern.FindAllStringSubmatch(template, -1) {
		key := sub[1]
		if key == "" {
			key = sub[2]
		}
		if !seen[key] {
			seen[key] = true
			names = append(names, key)
		}
	}
	return names
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
