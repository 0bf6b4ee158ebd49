// Package common provides shared utilities across the application.
//
// Prompt templates use {variable-name} references that are replaced with
// values from a variant map at batch creation time.
//
// Example:
//
//	Input:   "A {style} painting of a {subject}"
//	Variant: {"style": "watercolor", "subject": "lighthouse"}
//	Output:  "A watercolor painting of a lighthouse"
//
// Replacement is case-sensitive. Unresolved references are logged as
// warnings and left unchanged rather than failing the batch.
package common

import (
	"regexp"

	"github.com/ternarybob/arbor"
)

// varRefPattern matches {variable-name} references in prompt templates.
// Allows alphanumeric characters, hyphens, and underscores.
var varRefPattern = regexp.MustCompile(`\{([a-zA-Z0-9_-]+)\}`)

// RenderPrompt replaces all {variable-name} references in the template with
// values from the variant map. Unresolved references are left unchanged and
// a warning is logged.
func RenderPrompt(template string, variant map[string]string, logger arbor.ILogger) string {
	if template == "" {
		return template
	}

	return varRefPattern.ReplaceAllStringFunc(template, func(match string) string {
		name := match[1 : len(match)-1]

		if value, exists := variant[name]; exists {
			return value
		}

		if logger != nil {
			logger.Warn().
				Str("variable", name).
				Msg("Unresolved prompt template variable")
		}
		return match
	})
}

// TemplateVariables returns the distinct variable names referenced by a
// prompt template, in order of first appearance.
func TemplateVariables(template string) []string {
	seen := make(map[string]bool)
	var names []string
	for _, match := range varRefPattern.FindAllStringSubmatch(template, -1) {
		name := match[1]
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}
