package util

import (
	"strings"
	"text/template"
)

var promptFuncs = template.FuncMap{
	// default returns fallback when val is nil or an empty string.
	"default": func(fallback, val any) any {
		if s, ok := val.(string); val == nil || (ok && strings.TrimSpace(s) == "") {
			return fallback
		}

		return val
	},
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
}

// RenderTemplate renders text as a text/template against vars. Prompts are
// plain text, so no HTML escaping is applied. Missing keys render empty.
func RenderTemplate(text string, vars map[string]any) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}

	tmpl, err := template.New("prompt").Funcs(promptFuncs).Option("missingkey=zero").Parse(text)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	if err := tmpl.Execute(&sb, vars); err != nil {
		return "", err
	}

	return strings.ReplaceAll(sb.String(), "<no value>", ""), nil
}
