// Package tokens provides a cheap, offline token-count heuristic.
//
// The estimate does not try to match any real tokenizer. What matters is
// that the same function sizes every component of a context build, so the
// budget arithmetic stays internally consistent.
package tokens

// Estimate returns the approximate token cost of text.
//
// CJK ideographs average roughly 1.5 characters per token, everything else
// roughly 4 bytes per token. The result is monotonic in text length.
func Estimate(text string) int {
	if text == "" {
		return 0
	}

	cjkChars := 0
	cjkBytes := 0
	for _, r := range text {
		if isCJK(r) {
			cjkChars++
			cjkBytes += runeLen(r)
		}
	}

	otherBytes := len(text) - cjkBytes
	return int(float64(cjkChars)/1.5) + otherBytes/4
}

// EstimateAll sums Estimate over every string.
func EstimateAll(texts []string) int {
	total := 0
	for _, t := range texts {
		total += Estimate(t)
	}
	return total
}

func runeLen(r rune) int {
	switch {
	case r < 0x80:
		return 1
	case r < 0x800:
		return 2
	case r < 0x10000:
		return 3
	default:
		return 4
	}
}

func isCJK(r rune) bool {
	switch {
	case r >= 0x4E00 && r <= 0x9FFF: // CJK Unified Ideographs
		return true
	case r >= 0x3400 && r <= 0x4DBF: // Extension A
		return true
	case r >= 0x20000 && r <= 0x2A6DF: // Extension B
		return true
	case r >= 0x2A700 && r <= 0x2B73F: // Extension C
		return true
	case r >= 0x2B740 && r <= 0x2B81F: // Extension D
		return true
	case r >= 0x2B820 && r <= 0x2CEAF: // Extension E
		return true
	case r >= 0xF900 && r <= 0xFAFF: // Compatibility Ideographs
		return true
	}
	return false
}
