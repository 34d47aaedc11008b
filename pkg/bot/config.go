// Copyright 2024-2026 Aiku AI

package bot

import (
	_ "embed"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"go.mau.fi/zeroconfig"
	"gopkg.in/yaml.v3"

	"github.com/aiku/mmbot/pkg/stream"
)

//go:embed example-config.yaml
var ExampleConfig string

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "MMBOT_"

// Config holds the bot configuration.
type Config struct {
	ServerURL    string `yaml:"server_url" env:"SERVER_URL"`
	WebSocketURL string `yaml:"websocket_url" env:"WEBSOCKET_URL"`
	Token        string `yaml:"token" env:"TOKEN"`
	// BotUserID is resolved from the token at startup when empty.
	BotUserID string `yaml:"bot_user_id" env:"BOT_USER_ID"`

	InsecureSkipVerify bool          `yaml:"insecure_skip_verify" env:"INSECURE_SKIP_VERIFY"`
	HandshakeTimeout   time.Duration `yaml:"handshake_timeout" env:"HANDSHAKE_TIMEOUT"`

	State StateConfig `yaml:"state" envPrefix:"STATE_"`
	HTTP  HTTPConfig  `yaml:"http" envPrefix:"HTTP_"`

	Logging zeroconfig.Config `yaml:"logging"`
}

// StateConfig selects and configures the state store.
type StateConfig struct {
	Backend    string        `yaml:"backend" env:"BACKEND"`
	RedisURL   string        `yaml:"redis_url" env:"REDIS_URL"`
	SQLitePath string        `yaml:"sqlite_path" env:"SQLITE_PATH"`
	DefaultTTL time.Duration `yaml:"default_ttl" env:"DEFAULT_TTL"`
}

// HTTPConfig configures the HTTP surface.
type HTTPConfig struct {
	Addr      string `yaml:"addr" env:"ADDR"`
	Prefix    string `yaml:"prefix" env:"PREFIX"`
	Metrics   bool   `yaml:"metrics" env:"METRICS"`
	PublicURL string `yaml:"public_url" env:"PUBLIC_URL"`
}

const (
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig Config
	return node.Decode((*rawConfig)(c))
}

// PostProcess fills derived values and validates the config.
func (c *Config) PostProcess() error {
	c.ServerURL = strings.TrimSuffix(strings.TrimSpace(c.ServerURL), "/")
	if c.ServerURL == "" {
		return fmt.Errorf("server_url is required")
	}
	if u, err := url.Parse(c.ServerURL); err != nil || u.Host == "" {
		return fmt.Errorf("invalid server_url %q", c.ServerURL)
	}
	if c.Token == "" {
		return fmt.Errorf("token is required")
	}
	if c.WebSocketURL == "" {
		c.WebSocketURL = stream.WebSocketURL(c.ServerURL)
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 45 * time.Second
	}

	c.State.Backend = strings.ToLower(c.State.Backend)
	switch c.State.Backend {
	case "":
		c.State.Backend = BackendMemory
	case BackendRedis:
		if c.State.RedisURL == "" {
			return fmt.Errorf("state.redis_url is required for the redis backend")
		}
	case BackendSQLite:
		if c.State.SQLitePath == "" {
			return fmt.Errorf("state.sqlite_path is required for the sqlite backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown state.backend %q", c.State.Backend)
	}
	if c.State.DefaultTTL < 0 {
		return fmt.Errorf("state.default_ttl must not be negative")
	}

	if c.HTTP.Prefix != "" {
		c.HTTP.Prefix = "/" + strings.Trim(c.HTTP.Prefix, "/")
	}
	c.HTTP.PublicURL = strings.TrimSuffix(c.HTTP.PublicURL, "/")
	return nil
}

// ParseConfig reads YAML config data, applies environment overrides and
// post-processes the result.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}
	if err := cfg.PostProcess(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// LoadConfig reads the config file at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return ParseConfig(data)
}
