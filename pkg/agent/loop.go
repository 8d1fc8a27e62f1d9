// Package agent runs the main loop: consume inbound messages, keep the
// campaign record, and answer when addressed.
package agent

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/avrelius/lorekeep/pkg/bus"
	"github.com/avrelius/lorekeep/pkg/config"
	"github.com/avrelius/lorekeep/pkg/conversation"
	"github.com/avrelius/lorekeep/pkg/logger"
	"github.com/avrelius/lorekeep/pkg/memory"
	"github.com/avrelius/lorekeep/pkg/providers"
)

const summaryHistoryLimit = 50

type Loop struct {
	bus        *bus.MessageBus
	store      *memory.SQLiteStore
	builder    *conversation.Builder
	summarizer *conversation.Summarizer
	guilds     *config.GuildStore
	client     conversation.Completer
	agentCfg   config.AgentConfig
}

func NewLoop(mb *bus.MessageBus, store *memory.SQLiteStore, guilds *config.GuildStore, client conversation.Completer, agentCfg config.AgentConfig) *Loop {
	return &Loop{
		bus:        mb,
		store:      store,
		builder:    conversation.NewBuilder(store, guilds, agentCfg.BotName, agentCfg.Model),
		summarizer: conversation.NewSummarizer(store, client),
		guilds:     guilds,
		client:     client,
		agentCfg:   agentCfg,
	}
}

// Builder exposes the context builder, mainly so commands can tune the
// history strategy at runtime.
func (l *Loop) Builder() *conversation.Builder {
	return l.builder
}

// Run consumes inbound messages until ctx is cancelled. Every message
// becomes part of the campaign record; only messages marked Respond
// produce a reply.
func (l *Loop) Run(ctx context.Context) {
	logger.InfoC("agent", "Agent loop started")
	for {
		msg, ok := l.bus.ConsumeInbound(ctx)
		if !ok {
			logger.InfoC("agent", "Agent loop stopped")
			return
		}
		l.handle(ctx, msg)
	}
}

func (l *Loop) handle(ctx context.Context, msg bus.InboundMessage) {
	// For messages that get a reply, recording is deferred until after
	// context assembly so the current message does not also appear in
	// the replayed history.
	if !msg.Respond {
		l.record(ctx, msg.GuildID, msg.ChannelID, msg.SenderID, msg.Username, msg.Content)
		return
	}

	var reply string
	if response, handled := l.handleCommand(ctx, msg); handled {
		reply = response
	} else {
		var err error
		reply, err = l.respond(ctx, msg)
		if err != nil {
			logger.ErrorCF("agent", "Failed to generate reply", map[string]any{
				"guild_id": msg.GuildID,
				"error":    err.Error(),
			})
			reply = "Something went wrong on my end, try again in a moment."
		}
	}
	l.record(ctx, msg.GuildID, msg.ChannelID, msg.SenderID, msg.Username, msg.Content)
	if strings.TrimSpace(reply) == "" {
		return
	}

	l.record(ctx, msg.GuildID, msg.ChannelID, "agent", l.agentCfg.BotName, reply)
	l.bus.PublishOutbound(bus.OutboundMessage{
		Channel:   msg.Channel,
		GuildID:   msg.GuildID,
		ChannelID: msg.ChannelID,
		Content:   reply,
	})
}

func (l *Loop) record(ctx context.Context, guildID, channelID, senderID, username, content string) {
	if err := l.store.AddMessage(ctx, guildID, channelID, senderID, username, content); err != nil {
		logger.ErrorCF("agent", "Failed to record message", map[string]any{
			"guild_id": guildID,
			"error":    err.Error(),
		})
	}
}

func (l *Loop) respond(ctx context.Context, msg bus.InboundMessage) (string, error) {
	convCtx, err := l.builder.BuildContext(ctx, msg.GuildID, msg.ChannelID, msg.SenderID, msg.Username, msg.Content)
	if err != nil {
		return "", fmt.Errorf("build context: %w", err)
	}

	model := l.builder.Model(msg.GuildID)
	reply, err := l.client.Complete(ctx, model, convCtx.ProviderMessages(), l.agentCfg.Temperature, l.agentCfg.MaxTokens)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(reply), nil
}

// handleCommand answers "!" commands directly, without the model.
func (l *Loop) handleCommand(ctx context.Context, msg bus.InboundMessage) (string, bool) {
	content := strings.TrimSpace(msg.Content)
	if !strings.HasPrefix(content, "!") {
		return "", false
	}
	command, rest, _ := strings.Cut(content, " ")
	rest = strings.TrimSpace(rest)

	switch command {
	case "!remember":
		if rest == "" {
			return "Usage: !remember <fact to store>", true
		}
		entry := &memory.MemoryEntry{
			UserID:          msg.SenderID,
			GuildID:         msg.GuildID,
			ChannelID:       msg.ChannelID,
			Username:        msg.Username,
			Content:         rest,
			ContentType:     "fact",
			ImportanceScore: 0.8,
		}
		if err := l.store.Save(ctx, entry); err != nil {
			logger.ErrorCF("agent", "Failed to store memory", map[string]any{"error": err.Error()})
			return "I could not store that.", true
		}
		return fmt.Sprintf("Noted (memory #%d).", entry.ID), true

	case "!memories":
		entries, err := l.store.ListNotes(ctx, msg.SenderID, msg.GuildID, 10, 0)
		if err != nil {
			logger.ErrorCF("agent", "Failed to list memories", map[string]any{"error": err.Error()})
			return "I could not look that up.", true
		}
		if len(entries) == 0 {
			return "I have no stored memories for you here.", true
		}
		var b strings.Builder
		b.WriteString("Your memories:\n")
		for _, e := range entries {
			fmt.Fprintf(&b, "#%d [%s] %s\n", e.ID, e.ContentType, e.Content)
		}
		return strings.TrimRight(b.String(), "\n"), true

	case "!forget":
		id, err := strconv.ParseInt(rest, 10, 64)
		if err != nil {
			return "Usage: !forget <memory id>", true
		}
		removed, err := l.store.Delete(ctx, id, msg.SenderID, msg.GuildID)
		if err != nil {
			logger.ErrorCF("agent", "Failed to delete memory", map[string]any{"error": err.Error()})
			return "I could not delete that.", true
		}
		if !removed {
			return fmt.Sprintf("No memory #%d of yours here.", id), true
		}
		return fmt.Sprintf("Forgot memory #%d.", id), true

	case "!summary":
		model := l.builder.Model(msg.GuildID)
		summary, err := l.summarizer.Summarize(ctx, model, msg.GuildID, msg.ChannelID, summaryHistoryLimit)
		if err != nil {
			logger.ErrorCF("agent", "Failed to summarize", map[string]any{"error": err.Error()})
			return "I could not summarize the session.", true
		}
		return summary, true

	default:
		return "", false
	}
}

// RunScheduledSummary summarizes the configured channel of one guild.
// Called by the cron scheduler.
func (l *Loop) RunScheduledSummary(ctx context.Context, guildID string) {
	gc := l.guilds.Guild(guildID)
	if gc.SummaryChannelID == "" {
		return
	}
	model := l.builder.Model(guildID)
	if _, err := l.summarizer.Summarize(ctx, model, guildID, gc.SummaryChannelID, summaryHistoryLimit); err != nil {
		logger.WarnCF("agent", "Scheduled summary failed", map[string]any{
			"guild_id": guildID,
			"error":    err.Error(),
		})
	}
}

var _ conversation.Completer = (*providers.Client)(nil)
