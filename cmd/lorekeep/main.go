package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/adhocore/gronx"
	"github.com/spf13/cobra"

	"github.com/avrelius/lorekeep/pkg/agent"
	"github.com/avrelius/lorekeep/pkg/bus"
	"github.com/avrelius/lorekeep/pkg/channels"
	"github.com/avrelius/lorekeep/pkg/config"
	"github.com/avrelius/lorekeep/pkg/embedding"
	"github.com/avrelius/lorekeep/pkg/logger"
	"github.com/avrelius/lorekeep/pkg/memory"
	"github.com/avrelius/lorekeep/pkg/providers"
)

var (
	version   = "dev"
	gitCommit string
)

const appName = "lorekeep"

func main() {
	if err := buildRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func buildRootCommand() *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:   appName,
		Short: "Campaign-aware chat agent for tabletop RPG tables",
		Long: strings.TrimSpace(`lorekeep keeps the record of a tabletop RPG campaign and answers
questions about it. It remembers what happened at the table, retrieves
relevant lore when asked, and summarizes sessions so old events stay
findable.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				logger.SetLevel(logger.DEBUG)
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = cmd.Help()
			return fmt.Errorf("a subcommand is required")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(newOnboardCommand())
	root.AddCommand(newRunCommand())
	root.AddCommand(newChatCommand())
	root.AddCommand(newVersionCommand())
	return root
}

func configPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".lorekeep", "config.json")
}

func newOnboardCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Write a default ~/.lorekeep/config.json",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath()
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("config already exists at %s", path)
			}
			if err := config.SaveConfig(path, config.DefaultConfig()); err != nil {
				return err
			}
			fmt.Println("Wrote", path)
			fmt.Println("Fill in the Discord token and provider API key, then run `lorekeep run`.")
			return nil
		},
	}
}

// runtimeParts is everything a running command needs.
type runtimeParts struct {
	cfg     *config.Config
	store   *memory.SQLiteStore
	guilds  *config.GuildStore
	bus     *bus.MessageBus
	loop    *agent.Loop
	manager *channels.Manager
}

func buildRuntime() (*runtimeParts, error) {
	cfg, err := config.LoadConfig(configPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	workspace := cfg.WorkspacePath()
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}

	embedder, err := buildEmbedder(cfg.Embedding)
	if err != nil {
		return nil, err
	}

	store, err := memory.NewSQLiteStore(filepath.Join(workspace, "memory.db"), embedder)
	if err != nil {
		return nil, err
	}

	guilds, err := config.NewGuildStore(filepath.Join(workspace, "guilds.json"))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	client, err := providers.NewClient(cfg.Provider.APIBase, cfg.Provider.APIKey, cfg.Provider.Proxy)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	mb := bus.NewMessageBus()
	return &runtimeParts{
		cfg:     cfg,
		store:   store,
		guilds:  guilds,
		bus:     mb,
		loop:    agent.NewLoop(mb, store, guilds, client, cfg.Agent),
		manager: channels.NewManager(mb),
	}, nil
}

func buildEmbedder(cfg config.EmbeddingConfig) (embedding.Provider, error) {
	if cfg.Method != "remote" {
		return embedding.NewLocal(), nil
	}
	return embedding.NewRemote(embedding.RemoteConfig{
		APIBase:           cfg.APIBase,
		APIKey:            cfg.APIKey,
		Model:             cfg.Model,
		RequestsPerSecond: cfg.RequestsPerSecond,
	}, embedding.NewLocal())
}

func (r *runtimeParts) shutdown(ctx context.Context) {
	r.manager.StopAll(ctx)
	r.bus.Close()
	if err := r.store.Close(); err != nil {
		logger.WarnCF("main", "Failed to close store", map[string]any{"error": err.Error()})
	}
}

func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the Discord gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			parts, err := buildRuntime()
			if err != nil {
				return err
			}
			if parts.cfg.Channels.Discord.Token == "" {
				return fmt.Errorf("discord token not configured")
			}

			discord, err := channels.NewDiscordChannel(parts.cfg.Channels.Discord, parts.bus)
			if err != nil {
				return err
			}
			parts.manager.Register(discord)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := parts.manager.StartAll(ctx); err != nil {
				return err
			}
			go parts.loop.Run(ctx)
			go parts.manager.Dispatch(ctx)
			go runSummaryScheduler(ctx, parts)

			logger.InfoCF("main", "Lorekeep running", map[string]any{"version": version})
			<-ctx.Done()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			parts.shutdown(shutdownCtx)
			return nil
		},
	}
}

// runSummaryScheduler fires each guild's SummaryCron once per due
// minute.
func runSummaryScheduler(ctx context.Context, parts *runtimeParts) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	gron := gronx.New()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, guildID := range parts.guilds.GuildIDs() {
				gc := parts.guilds.Guild(guildID)
				if gc.SummaryCron == "" {
					continue
				}
				due, err := gron.IsDue(gc.SummaryCron, now)
				if err != nil {
					logger.WarnCF("main", "Invalid summary cron", map[string]any{
						"guild_id": guildID,
						"cron":     gc.SummaryCron,
						"error":    err.Error(),
					})
					continue
				}
				if due {
					parts.loop.RunScheduledSummary(ctx, guildID)
				}
			}
		}
	}
}

func newChatCommand() *cobra.Command {
	var username string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the agent in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			parts, err := buildRuntime()
			if err != nil {
				return err
			}

			console := channels.NewConsoleChannel(parts.bus, username)
			parts.manager.Register(console)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := parts.manager.StartAll(ctx); err != nil {
				return err
			}
			go parts.loop.Run(ctx)
			go parts.manager.Dispatch(ctx)

			fmt.Printf("%s ready. Ctrl-C to quit.\n", parts.cfg.Agent.BotName)
			<-ctx.Done()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			parts.shutdown(shutdownCtx)
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "Player", "Name recorded for your messages")
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			v := version
			if gitCommit != "" {
				v += fmt.Sprintf(" (git: %s)", gitCommit)
			}
			fmt.Printf("%s %s\n  Go: %s\n", appName, v, runtime.Version())
		},
	}
}
