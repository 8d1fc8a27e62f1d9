package conversation

import "testing"

func TestWindowFor(t *testing.T) {
	cases := []struct {
		model string
		want  int
	}{
		{"gpt-4o", 128000},
		{"openai/gpt-4o-mini", 128000},
		{"gpt-4-turbo", 128000},
		{"gpt-4", 8192},
		{"gpt-3.5-turbo", 16385},
		{"anthropic/claude-3-opus", 200000},
		{"claude-2.1", 100000},
		{"gemini-1.5-pro", 1000000},
		{"gemini-pro", 32768},
		{"some-unknown-model", 8192},
		{"", 8192},
	}
	for _, tc := range cases {
		if got := WindowFor(tc.model); got != tc.want {
			t.Fatalf("WindowFor(%q) = %d, want %d", tc.model, got, tc.want)
		}
	}
}
