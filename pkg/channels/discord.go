package channels

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/avrelius/lorekeep/pkg/bus"
	"github.com/avrelius/lorekeep/pkg/config"
	"github.com/avrelius/lorekeep/pkg/logger"
)

const (
	sendTimeout           = 10 * time.Second
	typingRefreshInterval = 8 * time.Second
	// Discord caps messages at 2000 characters; the margin leaves room
	// to extend a chunk past an unclosed code fence.
	discordChunkLimit = 1500
)

type DiscordChannel struct {
	*BaseChannel
	session  *discordgo.Session
	typing   map[string]context.CancelFunc
	typingMu sync.Mutex
}

func NewDiscordChannel(cfg config.DiscordConfig, mb *bus.MessageBus) (*DiscordChannel, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}

	return &DiscordChannel{
		BaseChannel: NewBaseChannel("discord", mb, cfg.AllowFrom),
		session:     session,
		typing:      make(map[string]context.CancelFunc),
	}, nil
}

func (c *DiscordChannel) Start(ctx context.Context) error {
	logger.InfoC("discord", "Starting Discord bot")

	c.session.AddHandler(c.handleMessage)
	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	c.setRunning(true)

	botUser, err := c.session.User("@me")
	if err != nil {
		return fmt.Errorf("get bot user: %w", err)
	}
	logger.InfoCF("discord", "Discord bot connected", map[string]any{
		"username": botUser.Username,
		"user_id":  botUser.ID,
	})
	return nil
}

func (c *DiscordChannel) Stop(ctx context.Context) error {
	logger.InfoC("discord", "Stopping Discord bot")
	c.setRunning(false)
	c.stopAllTyping()

	if err := c.session.Close(); err != nil {
		return fmt.Errorf("close discord session: %w", err)
	}
	return nil
}

func (c *DiscordChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("discord bot not running")
	}
	if msg.ChannelID == "" {
		return fmt.Errorf("channel ID is empty")
	}
	defer c.endTyping(msg.ChannelID)

	if strings.TrimSpace(msg.Content) == "" {
		return nil
	}
	for _, chunk := range splitMessage(msg.Content, discordChunkLimit) {
		if err := c.sendChunk(ctx, msg.ChannelID, chunk); err != nil {
			return err
		}
	}
	return nil
}

// splitMessage cuts content into chunks of at most limit characters,
// preferring newline and space boundaries and extending a chunk rather
// than splitting inside a ``` code fence.
func splitMessage(content string, limit int) []string {
	var chunks []string
	for len(content) > 0 {
		if len(content) <= limit {
			chunks = append(chunks, content)
			break
		}

		end := lastBoundary(content[:limit])

		if open := unclosedFence(content[:end]); open >= 0 {
			if closeAt := closingFence(content, end); closeAt > 0 && closeAt <= limit+500 {
				end = closeAt
			} else if cut := lastBoundary(content[:open]); cut > 0 {
				end = cut
			} else {
				end = open
			}
		}
		if end <= 0 {
			end = limit
		}

		chunks = append(chunks, content[:end])
		content = strings.TrimSpace(content[end:])
	}
	return chunks
}

// lastBoundary finds a natural split point near the end of s: the last
// newline within 200 characters, else the last space within 100, else
// len(s).
func lastBoundary(s string) int {
	if i := strings.LastIndexByte(tail(s, 200), '\n'); i >= 0 {
		return len(s) - len(tail(s, 200)) + i
	}
	if i := strings.LastIndexAny(tail(s, 100), " \t"); i >= 0 {
		return len(s) - len(tail(s, 100)) + i
	}
	return len(s)
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// unclosedFence returns the index of the last unmatched ``` in text, or
// -1 when all fences are balanced.
func unclosedFence(text string) int {
	count := 0
	last := -1
	for i := 0; i+2 < len(text); i++ {
		if text[i] == '`' && text[i+1] == '`' && text[i+2] == '`' {
			if count%2 == 0 {
				last = i
			}
			count++
			i += 2
		}
	}
	if count%2 == 1 {
		return last
	}
	return -1
}

// closingFence returns the position just past the next ``` at or after
// start, or -1.
func closingFence(text string, start int) int {
	for i := start; i+2 < len(text); i++ {
		if text[i] == '`' && text[i+1] == '`' && text[i+2] == '`' {
			return i + 3
		}
	}
	return -1
}

func (c *DiscordChannel) sendChunk(ctx context.Context, channelID, content string) error {
	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := c.session.ChannelMessageSend(channelID, content)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("send discord message: %w", err)
		}
		return nil
	case <-sendCtx.Done():
		return fmt.Errorf("send message timeout: %w", sendCtx.Err())
	}
}

func (c *DiscordChannel) beginTyping(channelID string) {
	if channelID == "" {
		return
	}

	c.typingMu.Lock()
	if _, ok := c.typing[channelID]; ok {
		c.typingMu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.typing[channelID] = cancel
	c.typingMu.Unlock()

	c.sendTyping(channelID)

	go func() {
		ticker := time.NewTicker(typingRefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !c.IsRunning() {
					return
				}
				c.sendTyping(channelID)
			}
		}
	}()
}

func (c *DiscordChannel) endTyping(channelID string) {
	c.typingMu.Lock()
	defer c.typingMu.Unlock()
	if cancel, ok := c.typing[channelID]; ok {
		delete(c.typing, channelID)
		cancel()
	}
}

func (c *DiscordChannel) stopAllTyping() {
	c.typingMu.Lock()
	defer c.typingMu.Unlock()
	for channelID, cancel := range c.typing {
		cancel()
		delete(c.typing, channelID)
	}
}

func (c *DiscordChannel) sendTyping(channelID string) {
	if err := c.session.ChannelTyping(channelID); err != nil {
		logger.ErrorCF("discord", "Failed to send typing indicator", map[string]any{
			"error": err.Error(),
		})
	}
}

// handleMessage records every visible message as campaign history. Only
// mentions and DMs are marked for a reply.
func (c *DiscordChannel) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m == nil || m.Author == nil || m.Author.Bot {
		return
	}
	if m.Author.ID == s.State.User.ID {
		return
	}
	if !c.IsAllowed(m.Author.ID) {
		logger.DebugCF("discord", "Message rejected by allowlist", map[string]any{
			"user_id": m.Author.ID,
		})
		return
	}

	content := strings.TrimSpace(m.ContentWithMentionsReplaced())
	if content == "" {
		return
	}

	isDM := m.GuildID == ""
	mentioned := false
	for _, u := range m.Mentions {
		if u.ID == s.State.User.ID {
			mentioned = true
			break
		}
	}
	respond := isDM || mentioned

	guildID := m.GuildID
	if guildID == "" {
		guildID = "dm:" + m.Author.ID
	}

	if respond {
		c.beginTyping(m.ChannelID)
	}

	c.HandleMessage(guildID, m.ChannelID, m.Author.ID, m.Author.Username, content, respond)
}
