package conversation

import "strings"

// defaultWindow is assumed for models the table does not know.
const defaultWindow = 8192

// windowTable maps model-name fragments to context window sizes.
// Order matters: more specific fragments come before their prefixes.
var windowTable = []struct {
	fragment string
	window   int
}{
	{"gpt-4o", 128000},
	{"gpt-4-turbo", 128000},
	{"gpt-4", 8192},
	{"gpt-3.5-turbo", 16385},
	{"claude-3", 200000},
	{"claude-2", 100000},
	{"gemini-1.5", 1000000},
	{"gemini-pro", 32768},
}

// WindowFor returns the context window of model, matching on name
// fragments so provider-prefixed names like "openai/gpt-4o-mini"
// resolve too. Unknown models get a conservative default.
func WindowFor(model string) int {
	model = strings.ToLower(strings.TrimSpace(model))
	for _, row := range windowTable {
		if strings.Contains(model, row.fragment) {
			return row.window
		}
	}
	return defaultWindow
}
