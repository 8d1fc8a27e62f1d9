package conversation

import (
	"context"
	"fmt"
	"strings"

	"github.com/avrelius/lorekeep/pkg/logger"
	"github.com/avrelius/lorekeep/pkg/memory"
	"github.com/avrelius/lorekeep/pkg/providers"
)

const (
	summaryTemperature = 0.5
	summaryMaxTokens   = 500
	summaryImportance  = 0.9
)

// Completer is the slice of the provider client summarization needs.
type Completer interface {
	Complete(ctx context.Context, model string, messages []providers.Message, temperature float64, maxTokens int) (string, error)
}

// Summarizer condenses recent channel history into a stored memory so
// older sessions stay retrievable after their messages scroll out of
// the history window.
type Summarizer struct {
	store  *memory.SQLiteStore
	client Completer
}

func NewSummarizer(store *memory.SQLiteStore, client Completer) *Summarizer {
	return &Summarizer{store: store, client: client}
}

// Summarize condenses the last limit messages of the channel and saves
// the result as a high-importance summary memory. Returns the summary
// text; with no history to summarize it returns a fixed notice and
// stores nothing.
func (s *Summarizer) Summarize(ctx context.Context, model, guildID, channelID string, limit int) (string, error) {
	if limit <= 0 {
		limit = 50
	}
	msgs, err := s.store.RecentMessages(ctx, guildID, channelID, limit)
	if err != nil {
		return "", err
	}
	if len(msgs) == 0 {
		return "There is no conversation history to summarize.", nil
	}
	chronological(msgs)

	var transcript strings.Builder
	for _, m := range msgs {
		transcript.WriteString(formatLine(m.Username, m.Content))
		transcript.WriteByte('\n')
	}

	summary, err := s.client.Complete(ctx, model, []providers.Message{
		{Role: "system", Content: "Summarize the following tabletop RPG session transcript. " +
			"Keep character names, plot developments and decisions. Be brief."},
		{Role: "user", Content: transcript.String()},
	}, summaryTemperature, summaryMaxTokens)
	if err != nil {
		return "", fmt.Errorf("summarize conversation: %w", err)
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return "", fmt.Errorf("summarize conversation: model returned empty summary")
	}

	entry := &memory.MemoryEntry{
		UserID:          "system",
		GuildID:         guildID,
		ChannelID:       channelID,
		Content:         summary,
		ContentType:     "summary",
		ImportanceScore: summaryImportance,
		Tags:            "summary",
	}
	if err := s.store.Save(ctx, entry); err != nil {
		return "", fmt.Errorf("store summary: %w", err)
	}

	logger.InfoCF("conversation", "Stored session summary", map[string]any{
		"guild_id":   guildID,
		"channel_id": channelID,
		"messages":   len(msgs),
		"memory_id":  entry.ID,
	})
	return summary, nil
}
