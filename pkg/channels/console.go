package channels

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"

	"github.com/avrelius/lorekeep/pkg/bus"
	"github.com/avrelius/lorekeep/pkg/logger"
)

// consoleScope is the guild and channel id used for terminal sessions
// so their history and memories stay separate from Discord guilds.
const consoleScope = "console"

// ConsoleChannel is an interactive terminal session. Every line is both
// recorded and answered.
type ConsoleChannel struct {
	*BaseChannel
	username string
	rl       *readline.Instance
}

func NewConsoleChannel(mb *bus.MessageBus, username string) *ConsoleChannel {
	if username == "" {
		username = "Player"
	}
	return &ConsoleChannel{
		BaseChannel: NewBaseChannel("console", mb, nil),
		username:    username,
	}
}

func (c *ConsoleChannel) Start(ctx context.Context) error {
	rl, err := readline.New("> ")
	if err != nil {
		return fmt.Errorf("init readline: %w", err)
	}
	c.rl = rl
	c.setRunning(true)

	go c.readLoop(ctx)
	return nil
}

func (c *ConsoleChannel) readLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		line, err := c.rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF || err != nil {
			logger.InfoC("console", "Console session ended")
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		c.HandleMessage(consoleScope, consoleScope, "local-user", c.username, line, true)
	}
}

func (c *ConsoleChannel) Stop(ctx context.Context) error {
	c.setRunning(false)
	if c.rl != nil {
		return c.rl.Close()
	}
	return nil
}

func (c *ConsoleChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if c.rl != nil {
		fmt.Fprintln(c.rl.Stdout(), msg.Content)
	} else {
		fmt.Println(msg.Content)
	}
	return nil
}
