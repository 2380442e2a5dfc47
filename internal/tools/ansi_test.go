package tools

import "testing"

func TestStripANSI(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "hello", "hello"},
		{"color", "\x1b[31mred\x1b[0m text", "red text"},
		{"cursor", "\x1b[2J\x1b[Hcleared", "cleared"},
		{"osc_bel", "\x1b]0;title\x07body", "body"},
		{"osc_st", "\x1b]8;;http://x\x1b\\link", "link"},
		{"carriage_returns", "progress\rdone\r\n", "progressdone\n"},
		{"mixed", "\x1b[1;32mOK\x1b[0m\r\n", "OK\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripANSI(tt.in); got != tt.want {
				t.Errorf("StripANSI(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCleanResult(t *testing.T) {
	res := cleanResult(&ToolResult{
		Output: "\x1b[33mwarn\x1b[0m",
		Error:  "fail\r",
	})
	if res.Output != "warn" || res.Error != "fail" {
		t.Errorf("cleanResult = %+v", res)
	}
}
