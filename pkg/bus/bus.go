// Package bus decouples chat channels from the agent loop with
// buffered inbound and outbound queues.
package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// InboundMessage is a user message arriving from a channel.
type InboundMessage struct {
	ID        string
	Channel   string
	GuildID   string
	ChannelID string
	SenderID  string
	Username  string
	Content   string
	// Respond marks messages the agent should answer (mentions and
	// DMs). Everything else is recorded as history only.
	Respond bool
}

// OutboundMessage is a reply destined for a channel.
type OutboundMessage struct {
	Channel   string
	GuildID   string
	ChannelID string
	Content   string
}

// NewInbound fills in a fresh message ID.
func NewInbound(channel, guildID, channelID, senderID, username, content string, respond bool) InboundMessage {
	return InboundMessage{
		ID:        "msg-" + uuid.NewString(),
		Channel:   channel,
		GuildID:   guildID,
		ChannelID: channelID,
		SenderID:  senderID,
		Username:  username,
		Content:   content,
		Respond:   respond,
	}
}

const publishTimeout = 100 * time.Millisecond

// MessageBus carries messages between channels and the agent loop.
// Publishing never blocks longer than publishTimeout; overflow is
// counted and dropped rather than stalling the producer.
type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage
	closed   bool
	dropped  droppedCounters
	mu       sync.RWMutex
}

type droppedCounters struct {
	inbound  atomic.Uint64
	outbound atomic.Uint64
}

func NewMessageBus() *MessageBus {
	return &MessageBus{
		inbound:  make(chan InboundMessage, 100),
		outbound: make(chan OutboundMessage, 100),
	}
}

func (mb *MessageBus) PublishInbound(msg InboundMessage) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	if mb.closed {
		return
	}

	select {
	case mb.inbound <- msg:
	default:
		timer := time.NewTimer(publishTimeout)
		defer timer.Stop()
		select {
		case mb.inbound <- msg:
		case <-timer.C:
			mb.dropped.inbound.Add(1)
		}
	}
}

func (mb *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case msg, ok := <-mb.inbound:
		if !ok {
			return InboundMessage{}, false
		}
		return msg, true
	case <-ctx.Done():
		return InboundMessage{}, false
	}
}

func (mb *MessageBus) PublishOutbound(msg OutboundMessage) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	if mb.closed {
		return
	}

	select {
	case mb.outbound <- msg:
	default:
		timer := time.NewTimer(publishTimeout)
		defer timer.Stop()
		select {
		case mb.outbound <- msg:
		case <-timer.C:
			mb.dropped.outbound.Add(1)
		}
	}
}

func (mb *MessageBus) ConsumeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case msg, ok := <-mb.outbound:
		if !ok {
			return OutboundMessage{}, false
		}
		return msg, true
	case <-ctx.Done():
		return OutboundMessage{}, false
	}
}

func (mb *MessageBus) Close() {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.closed {
		return
	}
	mb.closed = true
	close(mb.inbound)
	close(mb.outbound)
}

func (mb *MessageBus) DroppedInbound() uint64 {
	return mb.dropped.inbound.Load()
}

func (mb *MessageBus) DroppedOutbound() uint64 {
	return mb.dropped.outbound.Load()
}
