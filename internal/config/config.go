package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models gigboard.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Notify struct {
		// SessionBuffer is the per-session outbound queue; a session that
		// falls this far behind starts dropping notifications.
		SessionBuffer int `yaml:"session_buffer"`
		PingSeconds   int `yaml:"ping_seconds"`
	} `yaml:"notify"`
	Limits struct {
		MaxTitleLen   int `yaml:"max_title_len"`
		MaxMessageLen int `yaml:"max_message_len"`
		MaxTags       int `yaml:"max_tags"`
	} `yaml:"limits"`
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	cfg.Server.Addr = "127.0.0.1:8080"
	cfg.Server.BasePath = "/v1"
	cfg.Notify.SessionBuffer = 16
	cfg.Notify.PingSeconds = 30
	cfg.Limits.MaxTitleLen = 120
	cfg.Limits.MaxMessageLen = 2000
	cfg.Limits.MaxTags = 10
	return &cfg
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	if c.Server.BasePath == "" || c.Server.BasePath[0] != '/' {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if c.Notify.SessionBuffer <= 0 {
		return fmt.Errorf("config.notify.session_buffer must be positive")
	}
	if c.Notify.PingSeconds <= 0 {
		return fmt.Errorf("config.notify.ping_seconds must be positive")
	}
	if c.Limits.MaxTitleLen <= 0 || c.Limits.MaxMessageLen <= 0 {
		return fmt.Errorf("config.limits lengths must be positive")
	}
	if c.Limits.MaxTags < 0 {
		return fmt.Errorf("config.limits.max_tags must not be negative")
	}
	return nil
}

// FromYAML parses and validates config from raw YAML bytes. Omitted
// sections keep their defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "gigboard.yml")
}

// Load reads config from the workspace, falling back to defaults when the
// file does not exist.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}
