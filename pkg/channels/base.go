// Package channels connects chat transports to the message bus.
package channels

import (
	"context"
	"strings"

	"github.com/avrelius/lorekeep/pkg/bus"
)

type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, msg bus.OutboundMessage) error
	IsRunning() bool
	IsAllowed(senderID string) bool
}

type BaseChannel struct {
	bus       *bus.MessageBus
	running   bool
	name      string
	allowList []string
}

func NewBaseChannel(name string, bus *bus.MessageBus, allowList []string) *BaseChannel {
	return &BaseChannel{
		bus:       bus,
		name:      name,
		allowList: allowList,
	}
}

func (c *BaseChannel) Name() string {
	return c.name
}

func (c *BaseChannel) IsRunning() bool {
	return c.running
}

// IsAllowed checks senderID against the allowlist. An empty allowlist
// admits everyone.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowList) == 0 {
		return true
	}
	for _, allowed := range c.allowList {
		candidate := strings.TrimSpace(strings.TrimPrefix(allowed, "@"))
		if candidate != "" && candidate == senderID {
			return true
		}
	}
	return false
}

func (c *BaseChannel) HandleMessage(guildID, channelID, senderID, username, content string, respond bool) {
	if !c.IsAllowed(senderID) {
		return
	}
	c.bus.PublishInbound(bus.NewInbound(c.name, guildID, channelID, senderID, username, content, respond))
}

func (c *BaseChannel) setRunning(running bool) {
	c.running = running
}
