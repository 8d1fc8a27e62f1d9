package tokens

import "testing"

func TestEstimate_Empty(t *testing.T) {
	if got := Estimate(""); got != 0 {
		t.Fatalf("expected 0 tokens for empty string, got %d", got)
	}
}

func TestEstimate_ASCII(t *testing.T) {
	// 40 bytes of ASCII at 4 bytes per token.
	text := "the quick brown fox jumps over the dog!"
	want := len(text) / 4
	if got := Estimate(text); got != want {
		t.Fatalf("Estimate(%q) = %d, want %d", text, got, want)
	}
}

func TestEstimate_CJKDenserThanASCII(t *testing.T) {
	cjk := "冒险者进入了黑暗的地下城"
	ascii := "adventurers entered dungeon"
	perRuneCJK := float64(Estimate(cjk)) / float64(len([]rune(cjk)))
	perRuneASCII := float64(Estimate(ascii)) / float64(len([]rune(ascii)))
	if perRuneCJK <= perRuneASCII {
		t.Fatalf("expected CJK runes to cost more tokens per rune: cjk=%f ascii=%f", perRuneCJK, perRuneASCII)
	}
}

func TestEstimate_CJKRate(t *testing.T) {
	// 6 CJK chars at 1.5 chars per token.
	if got := Estimate("龙害怕火焰术"); got != 4 {
		t.Fatalf("expected 4 tokens for 6 CJK chars, got %d", got)
	}
}

func TestEstimate_Monotonic(t *testing.T) {
	text := ""
	prev := 0
	for i := 0; i < 50; i++ {
		text += "word "
		got := Estimate(text)
		if got < prev {
			t.Fatalf("estimate decreased when text grew: %d -> %d", prev, got)
		}
		prev = got
	}
}

func TestEstimateAll(t *testing.T) {
	parts := []string{"first message", "second message", "third"}
	sum := 0
	for _, p := range parts {
		sum += Estimate(p)
	}
	if got := EstimateAll(parts); got != sum {
		t.Fatalf("EstimateAll = %d, want sum of parts %d", got, sum)
	}
}
