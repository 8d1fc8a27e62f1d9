// Package conversation assembles the prompt for one chat turn: system
// prompt, retrieved memories and recent history packed into the model's
// token window.
package conversation

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/avrelius/lorekeep/pkg/config"
	"github.com/avrelius/lorekeep/pkg/logger"
	"github.com/avrelius/lorekeep/pkg/memory"
	"github.com/avrelius/lorekeep/pkg/providers"
	"github.com/avrelius/lorekeep/pkg/tokens"
)

// Strategy picks which history messages survive when the token budget
// cannot hold everything.
type Strategy string

const (
	// RecentFirst keeps the newest messages.
	RecentFirst Strategy = "recent_first"
	// ImportanceFirst keeps the longest messages, length standing in
	// for information density.
	ImportanceFirst Strategy = "importance_first"
	// Hybrid keeps the newest 30% verbatim and fills the rest by
	// length.
	Hybrid Strategy = "hybrid"
)

// hybridRecentRatio is the share of candidates Hybrid always keeps in
// recency order before falling back to length ranking.
const hybridRecentRatio = 0.3

// avgHistoryTokens is the assumed average size of one history line,
// used only to bound how many candidates to load.
const avgHistoryTokens = 50

const defaultSystemPrompt = "You are %s, the game master's assistant at a tabletop RPG table. " +
	"You know the campaign's world, its characters and its history. " +
	"Answer in character, stay consistent with established facts, and keep replies concise."

// ConversationMessage is one turn in the assembled context.
type ConversationMessage struct {
	Role       string
	Content    string
	Importance float64
}

// ConversationContext is the fully assembled prompt for one turn.
type ConversationContext struct {
	SystemPrompt      string
	Messages          []ConversationMessage
	TotalTokens       int
	RetrievedMemories []memory.MemoryEntry
}

// ProviderMessages flattens the context into the completions wire
// format, system prompt first.
func (c *ConversationContext) ProviderMessages() []providers.Message {
	msgs := make([]providers.Message, 0, len(c.Messages)+1)
	msgs = append(msgs, providers.Message{Role: "system", Content: c.SystemPrompt})
	for _, m := range c.Messages {
		msgs = append(msgs, providers.Message{Role: m.Role, Content: m.Content})
	}
	return msgs
}

// Builder assembles conversation contexts.
type Builder struct {
	store     *memory.SQLiteStore
	retriever *memory.Retriever
	guilds    *config.GuildStore
	botName   string
	model     string
	strategy  Strategy
}

func NewBuilder(store *memory.SQLiteStore, guilds *config.GuildStore, botName, defaultModel string) *Builder {
	return &Builder{
		store:     store,
		retriever: memory.NewRetriever(store),
		guilds:    guilds,
		botName:   botName,
		model:     defaultModel,
		strategy:  Hybrid,
	}
}

// SetStrategy overrides the default Hybrid history selection.
func (b *Builder) SetStrategy(s Strategy) {
	switch s {
	case RecentFirst, ImportanceFirst, Hybrid:
		b.strategy = s
	}
}

// Model returns the model to use for the guild: the guild override if
// set, the process default otherwise.
func (b *Builder) Model(guildID string) string {
	if gc := b.guilds.Guild(guildID); gc.Model != "" {
		return gc.Model
	}
	return b.model
}

// BuildContext assembles the prompt for one incoming message.
//
// The budget is the model window scaled by the guild's token budget
// ratio. The system prompt and current message are charged first,
// memories get what remains, and history fills whatever is left after
// that. Memory retrieval is scoped to the calling user and channel
// within the guild. The assembled context never exceeds the budget.
func (b *Builder) BuildContext(ctx context.Context, guildID, channelID, userID, username, userMessage string) (*ConversationContext, error) {
	return b.BuildContextWith(ctx, guildID, channelID, userID, username, userMessage, b.strategy)
}

// BuildContextWith is BuildContext with an explicit history strategy
// for this one call.
func (b *Builder) BuildContextWith(ctx context.Context, guildID, channelID, userID, username, userMessage string, strategy Strategy) (*ConversationContext, error) {
	gc := b.guilds.Guild(guildID)
	cc := gc.Context.Normalize()

	model := gc.Model
	if model == "" {
		model = b.model
	}
	available := int(float64(WindowFor(model)) * cc.TokenBudgetRatio)

	systemPrompt := b.systemPrompt(gc)
	userContent := formatLine(username, userMessage)

	used := tokens.Estimate(systemPrompt) + tokens.Estimate(userContent)

	memories, err := b.retriever.Retrieve(ctx, userMessage, available-used, cc, memory.SearchOptions{
		GuildID:   guildID,
		UserID:    userID,
		ChannelID: channelID,
	})
	if err != nil {
		return nil, err
	}
	memBlock := memory.FormatBlock(memories)
	if memBlock != "" {
		used += tokens.Estimate(memBlock)
	}

	history, historyTokens, err := b.history(ctx, guildID, channelID, available-used, cc, strategy)
	if err != nil {
		return nil, err
	}
	used += historyTokens

	msgs := make([]ConversationMessage, 0, len(history)+2)
	if memBlock != "" {
		msgs = append(msgs, ConversationMessage{
			Role:       "system",
			Content:    "Relevant memories from this campaign:\n" + memBlock,
			Importance: 0.8,
		})
	}
	msgs = append(msgs, history...)
	msgs = append(msgs, ConversationMessage{Role: "user", Content: userContent, Importance: 1.0})

	logger.DebugCF("conversation", "Assembled context", map[string]any{
		"guild_id": guildID,
		"memories": len(memories),
		"history":  len(history),
		"tokens":   used,
		"budget":   available,
	})

	return &ConversationContext{
		SystemPrompt:      systemPrompt,
		Messages:          msgs,
		TotalTokens:       used,
		RetrievedMemories: memories,
	}, nil
}

func (b *Builder) systemPrompt(gc config.GuildConfig) string {
	prompt := gc.SystemPrompt
	if prompt == "" {
		prompt = fmt.Sprintf(defaultSystemPrompt, b.botName)
	}
	if gc.Rules != (config.RulesConfig{}) {
		prompt += "\n\nTable rules: a natural " + strconv.Itoa(gc.Rules.CriticalSuccess) +
			" is a critical success, a natural " + strconv.Itoa(gc.Rules.CriticalFail) +
			" is a critical failure."
	}
	return prompt
}

// history loads recent channel messages and packs as many as the budget
// allows, ordered per the given strategy for selection but returned
// oldest first so the transcript reads in order.
func (b *Builder) history(ctx context.Context, guildID, channelID string, budget int, cc config.ContextConfig, strategy Strategy) ([]ConversationMessage, int, error) {
	if budget <= 0 {
		return nil, 0, nil
	}

	bound := budget / avgHistoryTokens
	if bound < cc.MinHistoryMessages {
		bound = cc.MinHistoryMessages
	}
	if bound > cc.MaxHistoryMessages {
		bound = cc.MaxHistoryMessages
	}

	candidates, err := b.store.RecentMessages(ctx, guildID, channelID, bound)
	if err != nil {
		return nil, 0, err
	}
	if len(candidates) == 0 {
		return nil, 0, nil
	}
	chronological(candidates)

	type indexed struct {
		memory.ChatMessage
		seq int
	}
	ordered := make([]indexed, len(candidates))
	for i, m := range candidates {
		ordered[i] = indexed{ChatMessage: m, seq: i}
	}

	switch strategy {
	case RecentFirst:
		sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].seq > ordered[j].seq })
	case ImportanceFirst:
		sort.SliceStable(ordered, func(i, j int) bool {
			return len(ordered[i].Content) > len(ordered[j].Content)
		})
	default: // Hybrid
		recent := int(float64(len(ordered)) * hybridRecentRatio)
		sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].seq > ordered[j].seq })
		rest := ordered[recent:]
		sort.SliceStable(rest, func(i, j int) bool {
			return len(rest[i].Content) > len(rest[j].Content)
		})
	}

	var selected []indexed
	total := 0
	for _, cand := range ordered {
		cost := tokens.Estimate(formatLine(cand.Username, cand.Content))
		if total+cost > budget {
			break
		}
		total += cost
		selected = append(selected, cand)
	}

	sort.SliceStable(selected, func(i, j int) bool { return selected[i].seq < selected[j].seq })

	msgs := make([]ConversationMessage, len(selected))
	for i, cand := range selected {
		msgs[i] = ConversationMessage{
			Role:       b.roleFor(cand.Username),
			Content:    formatLine(cand.Username, cand.Content),
			Importance: 0.5,
		}
	}
	return msgs, total, nil
}

// roleFor classifies a history line: lines written under the bot's own
// name (or an upstream "Assistant" placeholder) replay as assistant,
// everything else as user. The match is exact so a player whose name
// merely embeds the bot's name stays a user.
func (b *Builder) roleFor(username string) string {
	if username == "Assistant" {
		return "assistant"
	}
	if b.botName != "" && strings.EqualFold(username, b.botName) {
		return "assistant"
	}
	return "user"
}

// chronological reverses a newest-first message slice in place.
func chronological(msgs []memory.ChatMessage) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}

func formatLine(username, content string) string {
	if username == "" {
		return content
	}
	return username + ": " + content
}
