package memory

import (
	"context"
	"strings"

	"github.com/avrelius/lorekeep/pkg/config"
	"github.com/avrelius/lorekeep/pkg/logger"
	"github.com/avrelius/lorekeep/pkg/tokens"
)

// avgMemoryTokens is the assumed average size of one rendered memory
// line, used only to derive how many candidates to pull from the store.
const avgMemoryTokens = 100

// Retriever selects memories for a prompt under a hard token budget.
type Retriever struct {
	store *SQLiteStore
}

func NewRetriever(store *SQLiteStore) *Retriever {
	return &Retriever{store: store}
}

// Retrieve searches for memories relevant to query and keeps the best
// ones whose rendered lines fit within maxTokens. Selection is greedy
// in similarity order and stops at the first entry that would overflow
// the budget. A non-positive budget yields no memories.
func (r *Retriever) Retrieve(ctx context.Context, query string, maxTokens int, cc config.ContextConfig, opts SearchOptions) ([]MemoryEntry, error) {
	if maxTokens <= 0 {
		return nil, nil
	}

	bound := maxTokens / avgMemoryTokens
	if bound < cc.MinMemoryResults {
		bound = cc.MinMemoryResults
	}
	if bound > cc.MaxMemoryResults {
		bound = cc.MaxMemoryResults
	}
	opts.MaxResults = bound

	candidates, err := r.store.Search(ctx, query, opts)
	if err != nil {
		return nil, err
	}

	var selected []MemoryEntry
	used := 0
	for _, entry := range candidates {
		cost := tokens.Estimate(FormatEntry(entry))
		if used+cost > maxTokens {
			break
		}
		used += cost
		selected = append(selected, entry)
	}

	logger.DebugCF("memory", "Retrieved memories", map[string]any{
		"candidates": len(candidates),
		"selected":   len(selected),
		"tokens":     used,
		"budget":     maxTokens,
	})
	return selected, nil
}

// FormatEntry renders one memory as it appears in the prompt.
func FormatEntry(entry MemoryEntry) string {
	return "[" + entry.ContentType + "] " + entry.Content
}

// FormatBlock renders retrieved memories as a single prompt block.
// Returns "" for an empty slice so callers can skip the block entirely.
func FormatBlock(entries []MemoryEntry) string {
	if len(entries) == 0 {
		return ""
	}
	lines := make([]string, len(entries))
	for i, entry := range entries {
		lines[i] = FormatEntry(entry)
	}
	return strings.Join(lines, "\n---\n")
}
