// Package security implements the gate-keeping layers every tool call passes
// through before execution: input sanitization, per-role allowlists, and the
// human approval gate for destructive operations.
//
// The layers are deliberately redundant. The sanitizer rejects shell
// metacharacters outright, and the allowlist rejects the same characters again
// so it stays safe when used on its own. Inputs are never escaped or
// rewritten; anything suspicious is refused.
package security

import (
	"fmt"
	"regexp"
)

// SanitizationError reports which input field was rejected and why.
type SanitizationError struct {
	Field  string
	Reason string
}

func (e *SanitizationError) Error() string {
	return fmt.Sprintf("field %q rejected: %s", e.Field, e.Reason)
}

type patternCheck struct {
	re     *regexp.Regexp
	reason string
}

// commandChecks reject anything that could smuggle extra shell semantics into
// a command string. Order matters: the first match wins and its reason is
// surfaced to the model.
var commandChecks = []patternCheck{
	{regexp.MustCompile(`[;&|]`), "command chaining characters (;, &, |)"},
	{regexp.MustCompile(`\$[\({]`), "command or variable substitution ($(, ${)"},
	{regexp.MustCompile("`"), "backtick command substitution"},
	{regexp.MustCompile(`\.\.`), "path traversal sequence (..)"},
	{regexp.MustCompile(`>>\s*/`), "append redirect to absolute path"},
	{regexp.MustCompile(`>\s*/`), "redirect to absolute path"},
	{regexp.MustCompile(`\b(eval|exec)\b`), "shell evaluation keyword (eval/exec)"},
	{regexp.MustCompile("[\n\r\x00]"), "control characters (newline, carriage return, null)"},
}

var pathChecks = []patternCheck{
	{regexp.MustCompile(`\.\.`), "path traversal sequence (..)"},
	{regexp.MustCompile(`[;&|]`), "command chaining characters (;, &, |)"},
	{regexp.MustCompile("`"), "backtick command substitution"},
	{regexp.MustCompile(`\$[\({]`), "command or variable substitution ($(, ${)"},
	{regexp.MustCompile("[\n\r\x00]"), "control characters (newline, carriage return, null)"},
}

// identChecks cover short identifier-like fields (server, container, service,
// time range) that end up inside fixed argv vectors.
var identChecks = []patternCheck{
	{regexp.MustCompile(`[;&|]`), "command chaining characters (;, &, |)"},
	{regexp.MustCompile("`"), "backtick command substitution"},
	{regexp.MustCompile(`\$`), "variable expansion ($)"},
}

// checksByField maps the input fields the sanitizer inspects to their pattern
// class. Fields not listed here pass through untouched.
var checksByField = map[string][]patternCheck{
	"command":   commandChecks,
	"path":      pathChecks,
	"server":    identChecks,
	"container": identChecks,
	"service":   identChecks,
	"since":     identChecks,
}

// Sanitize validates the named string fields of a tool input. On success the
// caller keeps using the exact same map; nothing is copied or transformed. On
// failure it returns a *SanitizationError naming the offending field.
func Sanitize(toolName string, input map[string]any) error {
	for field, checks := range checksByField {
		raw, ok := input[field]
		if !ok {
			continue
		}
		value, ok := raw.(string)
		if !ok {
			continue
		}
		for _, check := range checks {
			if check.re.MatchString(value) {
				return &SanitizationError{Field: field, Reason: check.reason}
			}
		}
	}
	return nil
}
