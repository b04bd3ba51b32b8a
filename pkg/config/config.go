// Package config loads server settings from a YAML file with environment
// overrides for secrets.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Addr     string         `yaml:"addr"`
	LogLevel string         `yaml:"log_level"`
	Store    StoreConfig    `yaml:"store"`
	Redis    RedisConfig    `yaml:"redis"`
	Limit    LimitConfig    `yaml:"rate_limit"`
	Provider ProviderConfig `yaml:"provider"`
}

type StoreConfig struct {
	// Path is the sqlite database file. Empty keeps everything in memory.
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Addr          string `yaml:"addr"`
	ConsumerGroup string `yaml:"consumer_group"`
	Consumer      string `yaml:"consumer"`
}

type LimitConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Requests int      `yaml:"requests"`
	Window   Duration `yaml:"window"`
}

// Duration parses yaml duration strings like "30s" or "1m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return errors.Wrap(err, "duration must be a string like \"30s\"")
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return errors.Wrapf(err, "invalid duration %q", s)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type ProviderConfig struct {
	// APIKey falls back to the GEMINI_API_KEY environment variable.
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

func Default() Config {
	return Config{
		Addr:     ":8088",
		LogLevel: "info",
		Redis: RedisConfig{
			Addr:          "localhost:6379",
			ConsumerGroup: "vibetune",
			Consumer:      "vibetune-1",
		},
		Limit: LimitConfig{
			Requests: 30,
			Window:   Duration(time.Minute),
		},
	}
}

// Load reads the YAML file at path on top of the defaults. An empty path
// returns the defaults with environment overrides applied.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, errors.Wrapf(err, "read config %s", path)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, errors.Wrapf(err, "parse config %s", path)
		}
	}
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("GEMINI_API_KEY")); v != "" {
		c.Provider.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("VIBETUNE_ADDR")); v != "" {
		c.Addr = v
	}
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return errors.New("config: addr must not be empty")
	}
	if c.Limit.Enabled {
		if c.Limit.Requests <= 0 {
			return errors.New("config: rate_limit.requests must be positive")
		}
		if c.Limit.Window <= 0 {
			return errors.New("config: rate_limit.window must be positive")
		}
	}
	if c.Redis.Enabled && strings.TrimSpace(c.Redis.Addr) == "" {
		return errors.New("config: redis.addr must not be empty when redis is enabled")
	}
	return nil
}
