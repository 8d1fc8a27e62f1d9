package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
)

// Config is the process-wide configuration, loaded from a JSON file and
// then overridden from the environment.
type Config struct {
	Agent     AgentConfig     `json:"agent"`
	Channels  ChannelsConfig  `json:"channels"`
	Provider  ProviderConfig  `json:"provider"`
	Embedding EmbeddingConfig `json:"embedding"`
}

type AgentConfig struct {
	Workspace   string  `json:"workspace" env:"LOREKEEP_AGENT_WORKSPACE"`
	BotName     string  `json:"bot_name" env:"LOREKEEP_AGENT_BOT_NAME"`
	Model       string  `json:"model" env:"LOREKEEP_AGENT_MODEL"`
	Temperature float64 `json:"temperature" env:"LOREKEEP_AGENT_TEMPERATURE"`
	MaxTokens   int     `json:"max_tokens" env:"LOREKEEP_AGENT_MAX_TOKENS"`
}

type ChannelsConfig struct {
	Discord DiscordConfig `json:"discord"`
}

type DiscordConfig struct {
	Token     string   `json:"token" env:"LOREKEEP_CHANNELS_DISCORD_TOKEN"`
	AllowFrom []string `json:"allow_from" env:"LOREKEEP_CHANNELS_DISCORD_ALLOW_FROM"`
}

type ProviderConfig struct {
	APIKey  string `json:"api_key" env:"LOREKEEP_PROVIDER_API_KEY"`
	APIBase string `json:"api_base" env:"LOREKEEP_PROVIDER_API_BASE"`
	Proxy   string `json:"proxy,omitempty" env:"LOREKEEP_PROVIDER_PROXY"`
}

// EmbeddingConfig selects and configures the embedding provider.
// Method is "local" or "remote"; remote falls back to local on failure.
type EmbeddingConfig struct {
	Method            string  `json:"method" env:"LOREKEEP_EMBEDDING_METHOD"`
	APIBase           string  `json:"api_base" env:"LOREKEEP_EMBEDDING_API_BASE"`
	APIKey            string  `json:"api_key" env:"LOREKEEP_EMBEDDING_API_KEY"`
	Model             string  `json:"model" env:"LOREKEEP_EMBEDDING_MODEL"`
	RequestsPerSecond float64 `json:"requests_per_second" env:"LOREKEEP_EMBEDDING_REQUESTS_PER_SECOND"`
}

func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			Workspace:   "~/.lorekeep/workspace",
			BotName:     "Lorekeep",
			Model:       "openai/gpt-4o-mini",
			Temperature: 0.7,
			MaxTokens:   2048,
		},
		Channels: ChannelsConfig{
			Discord: DiscordConfig{AllowFrom: []string{}},
		},
		Provider: ProviderConfig{
			APIBase: "https://openrouter.ai/api/v1",
		},
		Embedding: EmbeddingConfig{
			Method: "local",
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := env.Parse(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func (c *Config) WorkspacePath() string {
	return expandHome(c.Agent.Workspace)
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
