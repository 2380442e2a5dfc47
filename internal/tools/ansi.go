package tools

import (
	"regexp"
	"strings"
)

// Terminal escape sequences in tool output cost the model tokens and render
// as garbage in transcripts, so both CSI (colors, cursor movement) and OSC
// (titles, hyperlinks) sequences are stripped before a result leaves a tool.
var (
	csiPattern = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)
	oscPattern = regexp.MustCompile(`\x1b\][^\x07\x1b]*(\x07|\x1b\\)`)
)

// StripANSI removes CSI and OSC escape sequences and carriage returns.
func StripANSI(s string) string {
	if !strings.ContainsAny(s, "\x1b\r") {
		return s
	}
	s = csiPattern.ReplaceAllString(s, "")
	s = oscPattern.ReplaceAllString(s, "")
	return strings.ReplaceAll(s, "\r", "")
}

// cleanResult applies StripANSI to both output streams of a result.
func cleanResult(r *ToolResult) *ToolResult {
	r.Output = StripANSI(r.Output)
	r.Error = StripANSI(r.Error)
	return r
}
