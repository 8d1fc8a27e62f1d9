package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ContextConfig is the per-guild context assembly policy.
type ContextConfig struct {
	// TokenBudgetRatio is the fraction of the model window usable as
	// input; the remainder is reserved for the model's reply.
	TokenBudgetRatio   float64 `json:"token_budget_ratio"`
	MinMemoryResults   int     `json:"min_memory_results"`
	MaxMemoryResults   int     `json:"max_memory_results"`
	MinHistoryMessages int     `json:"min_history_messages"`
	MaxHistoryMessages int     `json:"max_history_messages"`
}

func DefaultContextConfig() ContextConfig {
	return ContextConfig{
		TokenBudgetRatio:   0.75,
		MinMemoryResults:   3,
		MaxMemoryResults:   10,
		MinHistoryMessages: 5,
		MaxHistoryMessages: 30,
	}
}

// Normalize clamps every field into its valid range.
func (c ContextConfig) Normalize() ContextConfig {
	c.TokenBudgetRatio = clampFloat(c.TokenBudgetRatio, 0.5, 0.9)
	if c.MinMemoryResults <= 0 {
		c.MinMemoryResults = 3
	}
	if c.MaxMemoryResults < c.MinMemoryResults {
		c.MaxMemoryResults = c.MinMemoryResults
	}
	if c.MinHistoryMessages <= 0 {
		c.MinHistoryMessages = 5
	}
	if c.MaxHistoryMessages < c.MinHistoryMessages {
		c.MaxHistoryMessages = c.MinHistoryMessages
	}
	return c
}

func clampFloat(v, lo, hi float64) float64 {
	if v == 0 {
		return 0.75
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// RulesConfig is the table-rules summary appended to the system prompt.
type RulesConfig struct {
	CriticalSuccess int `json:"critical_success"`
	CriticalFail    int `json:"critical_fail"`
}

func DefaultRulesConfig() RulesConfig {
	return RulesConfig{CriticalSuccess: 20, CriticalFail: 1}
}

// GuildConfig is one tenant's settings.
type GuildConfig struct {
	SystemPrompt string        `json:"system_prompt"`
	Model        string        `json:"model"`
	Context      ContextConfig `json:"context"`
	Rules        RulesConfig   `json:"rules"`
	// SummaryCron, when set to a valid cron expression, enables
	// scheduled summaries of SummaryChannelID.
	SummaryCron      string `json:"summary_cron"`
	SummaryChannelID string `json:"summary_channel_id"`
}

func DefaultGuildConfig() GuildConfig {
	return GuildConfig{
		Context: DefaultContextConfig(),
		Rules:   DefaultRulesConfig(),
	}
}

// GuildStore is the read-through accessor for per-guild settings.
//
// Settings are cached in memory; Set persists and updates the cache,
// Invalidate drops a cached entry so the next read goes back to disk.
// Callers receive value copies, never shared pointers.
type GuildStore struct {
	path   string
	mu     sync.RWMutex
	guilds map[string]GuildConfig
}

func NewGuildStore(path string) (*GuildStore, error) {
	s := &GuildStore{path: path, guilds: map[string]GuildConfig{}}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *GuildStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read guild settings: %w", err)
	}
	guilds := map[string]GuildConfig{}
	if err := json.Unmarshal(data, &guilds); err != nil {
		return fmt.Errorf("parse guild settings %s: %w", s.path, err)
	}
	s.mu.Lock()
	s.guilds = guilds
	s.mu.Unlock()
	return nil
}

// Guild returns the settings for guildID, normalized, falling back to
// defaults when the guild has never been configured.
func (s *GuildStore) Guild(guildID string) GuildConfig {
	s.mu.RLock()
	cfg, ok := s.guilds[guildID]
	s.mu.RUnlock()
	if !ok {
		return DefaultGuildConfig()
	}
	cfg.Context = cfg.Context.Normalize()
	if cfg.Rules == (RulesConfig{}) {
		cfg.Rules = DefaultRulesConfig()
	}
	return cfg
}

// Set stores and persists the settings for guildID.
func (s *GuildStore) Set(guildID string, cfg GuildConfig) error {
	cfg.Context = cfg.Context.Normalize()

	s.mu.Lock()
	s.guilds[guildID] = cfg
	data, err := json.MarshalIndent(s.guilds, "", "  ")
	s.mu.Unlock()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o600)
}

// Invalidate drops the cached settings so the next read reloads from
// disk. Used when an external process edits the settings file.
func (s *GuildStore) Invalidate() error {
	return s.load()
}

// GuildIDs returns every configured guild, for schedulers that iterate
// tenants.
func (s *GuildStore) GuildIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.guilds))
	for id := range s.guilds {
		ids = append(ids, id)
	}
	return ids
}
