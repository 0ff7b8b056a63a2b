// Package config handles bernard configuration loading.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order: ./config.yaml,
// ~/.config/bernard/config.yaml, /etc/bernard/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "bernard", "config.yaml"))
	}
	paths = append(paths, "/etc/bernard/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must
// exist. Otherwise the first existing default path wins.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}
	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all bernard configuration.
type Config struct {
	Model         ModelConfig         `yaml:"model"`
	Loop          LoopConfig          `yaml:"loop"`
	HomeAssistant HomeAssistantConfig `yaml:"homeassistant"`
	Weather       WeatherConfig       `yaml:"weather"`
	Search        SearchConfig        `yaml:"search"`
	Checkpoint    CheckpointConfig    `yaml:"checkpoint"`
	LogLevel      string              `yaml:"log_level"`
}

// ModelConfig defines the language model backend.
type ModelConfig struct {
	Provider     string `yaml:"provider"` // openai, anthropic, ollama, groq...
	Name         string `yaml:"name"`
	APIKey       string `yaml:"api_key"`
	MaxTokens    int    `yaml:"max_tokens"`
	SystemPrompt string `yaml:"system_prompt"`
}

// LoopConfig defines the orchestration limits.
type LoopConfig struct {
	StepCap         int `yaml:"step_cap"`
	RepeatSoftLimit int `yaml:"repeat_soft_limit"`
	ToolTimeoutSec  int `yaml:"tool_timeout_sec"`
	ModelTimeoutSec int `yaml:"model_timeout_sec"`
	TurnTimeoutSec  int `yaml:"turn_timeout_sec"`
	MaxResultChars  int `yaml:"max_result_chars"`
	EventBuffer     int `yaml:"event_buffer"`
}

// ToolTimeout returns the per-tool timeout as a duration.
func (l LoopConfig) ToolTimeout() time.Duration { return time.Duration(l.ToolTimeoutSec) * time.Second }

// ModelTimeout returns the per-invocation timeout as a duration.
func (l LoopConfig) ModelTimeout() time.Duration {
	return time.Duration(l.ModelTimeoutSec) * time.Second
}

// TurnTimeout returns the whole-turn timeout as a duration.
func (l LoopConfig) TurnTimeout() time.Duration { return time.Duration(l.TurnTimeoutSec) * time.Second }

// HomeAssistantConfig defines the HA connection.
type HomeAssistantConfig struct {
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	DefaultPlayer string `yaml:"default_player"`
	WatchEvents   bool   `yaml:"watch_events"`
}

// Enabled reports whether a Home Assistant connection is configured.
func (h HomeAssistantConfig) Enabled() bool { return h.URL != "" }

// WeatherConfig defines the forecast backend.
type WeatherConfig struct {
	URL string `yaml:"url"` // empty uses the public Open-Meteo API
}

// SearchConfig defines the SearxNG backend.
type SearchConfig struct {
	URL string `yaml:"url"`
}

// Enabled reports whether web search is configured.
func (s SearchConfig) Enabled() bool { return s.URL != "" }

// CheckpointConfig defines conversation persistence.
type CheckpointConfig struct {
	Path         string `yaml:"path"` // empty disables checkpointing
	KeepDays     int    `yaml:"keep_days"`
	MinKeep      int    `yaml:"min_keep"`
	ResumeLatest bool   `yaml:"resume_latest"`
}

// Enabled reports whether checkpointing is configured.
func (c CheckpointConfig) Enabled() bool { return c.Path != "" }

// Load reads configuration from a YAML file. ${VAR} references are
// expanded from the environment before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with sensible limits and no backends.
func Default() *Config {
	return &Config{
		Model: ModelConfig{
			Provider: "openai",
			Name:     "gpt-4o-mini",
		},
		Loop: LoopConfig{
			StepCap:         16,
			RepeatSoftLimit: 2,
			ToolTimeoutSec:  30,
			ModelTimeoutSec: 60,
			TurnTimeoutSec:  300,
			MaxResultChars:  16384,
			EventBuffer:     256,
		},
		Checkpoint: CheckpointConfig{
			KeepDays: 30,
			MinKeep:  10,
		},
		LogLevel: "info",
	}
}

// LevelTrace sits below slog's Debug for very chatty diagnostics such as
// raw model exchanges.
const LevelTrace = slog.LevelDebug - 4

// ParseLogLevel maps a config string to a slog level. Unknown values fall
// back to info.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
