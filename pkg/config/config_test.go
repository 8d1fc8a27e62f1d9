package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Agent.BotName != "Lorekeep" {
		t.Fatalf("unexpected default bot name %q", cfg.Agent.BotName)
	}
	if cfg.Embedding.Method != "local" {
		t.Fatalf("unexpected default embedding method %q", cfg.Embedding.Method)
	}
}

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{"agent": {"bot_name": "Chronicler", "model": "gpt-4o"}}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Agent.BotName != "Chronicler" {
		t.Fatalf("expected file value, got %q", cfg.Agent.BotName)
	}
	if cfg.Agent.Model != "gpt-4o" {
		t.Fatalf("expected file value, got %q", cfg.Agent.Model)
	}
	// Untouched fields keep their defaults.
	if cfg.Provider.APIBase == "" {
		t.Fatalf("expected default provider API base to survive")
	}
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"agent": {"model": "gpt-4o"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LOREKEEP_AGENT_MODEL", "claude-3-haiku")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Agent.Model != "claude-3-haiku" {
		t.Fatalf("expected env override, got %q", cfg.Agent.Model)
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.json")
	cfg := DefaultConfig()
	cfg.Channels.Discord.Token = "secret-token"

	if err := SaveConfig(path, cfg); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}
	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if loaded.Channels.Discord.Token != "secret-token" {
		t.Fatalf("token lost in round trip")
	}
}

func TestWorkspacePathExpandsHome(t *testing.T) {
	cfg := DefaultConfig()
	got := cfg.WorkspacePath()
	if len(got) == 0 || got[0] == '~' {
		t.Fatalf("workspace path not expanded: %q", got)
	}
}
