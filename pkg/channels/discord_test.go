package channels

import (
	"strings"
	"testing"
)

func TestSplitMessage_ShortContentUnchanged(t *testing.T) {
	chunks := splitMessage("hello there", 1500)
	if len(chunks) != 1 || chunks[0] != "hello there" {
		t.Fatalf("unexpected chunks %v", chunks)
	}
}

func TestSplitMessage_RespectsLimit(t *testing.T) {
	content := strings.Repeat("a long line of campaign notes\n", 200)
	chunks := splitMessage(content, 1500)

	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks for %d chars", len(content))
	}
	for i, chunk := range chunks {
		if len(chunk) > 2000 {
			t.Fatalf("chunk %d exceeds hard limit: %d chars", i, len(chunk))
		}
	}
}

func TestSplitMessage_PrefersNewlineBoundaries(t *testing.T) {
	content := strings.Repeat("line of text here\n", 120)
	for _, chunk := range splitMessage(content, 1500) {
		if strings.Contains(chunk, "line of text here") && strings.HasSuffix(chunk, "of") {
			t.Fatalf("chunk split mid-word: %q", chunk[len(chunk)-30:])
		}
	}
}

func TestSplitMessage_KeepsCodeFenceTogether(t *testing.T) {
	code := "```\n" + strings.Repeat("stat block line\n", 20) + "```"
	content := strings.Repeat("prose before the block\n", 60) + code

	for _, chunk := range splitMessage(content, 1500) {
		fences := strings.Count(chunk, "```")
		if fences%2 != 0 {
			t.Fatalf("chunk has unbalanced code fences:\n%s", chunk)
		}
	}
}

func TestBaseChannel_Allowlist(t *testing.T) {
	open := NewBaseChannel("test", nil, nil)
	if !open.IsAllowed("anyone") {
		t.Fatalf("empty allowlist should admit everyone")
	}

	restricted := NewBaseChannel("test", nil, []string{"@alice", " bob "})
	if !restricted.IsAllowed("alice") || !restricted.IsAllowed("bob") {
		t.Fatalf("listed senders should be admitted")
	}
	if restricted.IsAllowed("mallory") {
		t.Fatalf("unlisted sender should be rejected")
	}
}
