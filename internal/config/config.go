// Package config loads switchboard configuration from a YAML file with
// SWITCHBOARD_-prefixed environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the root configuration.
type Config struct {
	// SessionsRoot holds one subdirectory per session id.
	SessionsRoot string `mapstructure:"sessions_root"`

	Agents       Agents       `mapstructure:"agents"`
	Router       Router       `mapstructure:"router"`
	Remote       Remote       `mapstructure:"remote"`
	Integrations Integrations `mapstructure:"integrations"`
}

// Agents configures the two spawnable agent kinds.
type Agents struct {
	Claude *Agent `mapstructure:"claude"`
	Codex  *Agent `mapstructure:"codex"`
}

// Agent configures one external CLI.
type Agent struct {
	// Cmd is the argv used to launch the CLI.
	Cmd []string `mapstructure:"cmd"`
	// TranscriptRoot is the CLI's own data directory (its transcript tree
	// lives under it). Switchboard only reads from it.
	TranscriptRoot string `mapstructure:"transcript_root"`
	// Env entries are appended to the inherited environment.
	Env []string `mapstructure:"env"`

	// Keystroke timing overrides, in milliseconds; zero uses defaults.
	ReadyGraceMs  int `mapstructure:"ready_grace_ms"`
	KeyDelayMs    int `mapstructure:"key_delay_ms"`
	SettleDelayMs int `mapstructure:"settle_delay_ms"`
}

// Router configures the routing-decision LLM call.
type Router struct {
	// APIKey falls back to OPENAI_API_KEY when empty.
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// Remote configures best-effort session mirroring. An empty URL disables it.
type Remote struct {
	URL             string `mapstructure:"url"`
	SyncIntervalSec int    `mapstructure:"sync_interval_s"`
}

// Integrations configures auxiliary bridges.
type Integrations struct {
	BlenderAddr string `mapstructure:"blender_addr"`
}

// Load reads configuration, searching the working directory and
// ~/.config/switchboard. A missing file yields pure defaults; a malformed
// one is an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("switchboard")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "switchboard"))
		}
	}

	v.SetEnvPrefix("SWITCHBOARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.Router.APIKey == "" {
		cfg.Router.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	home, _ := os.UserHomeDir()

	v.SetDefault("sessions_root", filepath.Join(home, ".switchboard", "sessions"))
	v.SetDefault("agents.claude.cmd", []string{"claude"})
	v.SetDefault("agents.claude.transcript_root", filepath.Join(home, ".claude"))
	v.SetDefault("agents.codex.cmd", []string{"codex"})
	v.SetDefault("agents.codex.transcript_root", filepath.Join(home, ".codex"))
	v.SetDefault("remote.sync_interval_s", 30)
	v.SetDefault("integrations.blender_addr", "localhost:8765")
}

// Validate checks the configuration and returns user-friendly messages.
func (c *Config) Validate() error {
	if c.SessionsRoot == "" {
		return fmt.Errorf("configuration error: missing 'sessions_root'\n\nHint: set a directory for session ledgers, e.g.:\n  sessions_root: ~/.switchboard/sessions")
	}

	agents := map[string]*Agent{
		"claude": c.Agents.Claude,
		"codex":  c.Agents.Codex,
	}
	for name, agent := range agents {
		if agent == nil {
			return fmt.Errorf("configuration error: missing agent '%s'\n\nHint: add an agent block:\n  agents:\n    %s:\n      cmd: [\"%s\"]", name, name, name)
		}
		if len(agent.Cmd) == 0 {
			return fmt.Errorf("configuration error: agent '%s' has an empty 'cmd'\n\nHint: specify the command to launch the CLI:\n  cmd: [\"%s\"]", name, name)
		}
		if agent.TranscriptRoot == "" {
			return fmt.Errorf("configuration error: agent '%s' has no 'transcript_root'\n\nHint: point at the CLI's data directory, e.g.:\n  transcript_root: ~/.%s", name, name)
		}
	}

	return nil
}
