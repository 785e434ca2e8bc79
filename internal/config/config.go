// Package config loads config.yaml, overlays .env and environment secrets,
// and fills defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"autoblog/internal/llm"
	"autoblog/internal/media"
	"autoblog/internal/usage"
)

const DefaultPath = "config.yaml"

type Config struct {
	StateDir   string           `yaml:"state_dir"`
	Log        LogConfig        `yaml:"log"`
	Storage    StorageConfig    `yaml:"storage"`
	Generation GenerationConfig `yaml:"generation"`
	Media      MediaConfig      `yaml:"media"`
	Usage      UsageConfig      `yaml:"usage"`
	Publish    PublishConfig    `yaml:"publish"`
	Lease      LeaseConfig      `yaml:"lease"`
	Poller     PollerConfig     `yaml:"poller"`
	HTTP       HTTPConfig       `yaml:"http"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type StorageConfig struct {
	// Driver is "file" or "sqlite".
	Driver string `yaml:"driver"`
}

type GenerationConfig struct {
	TextProvider       string `yaml:"text_provider"`
	OpenAIAPIKey       string `yaml:"openai_api_key"`
	OpenAIBaseURL      string `yaml:"openai_base_url"`
	AnthropicAPIKey    string `yaml:"anthropic_api_key"`
	AnthropicBaseURL   string `yaml:"anthropic_base_url"`
	AnthropicMaxTokens int    `yaml:"anthropic_max_tokens"`
	HTTPTimeout        string `yaml:"http_timeout"`
}

type MediaConfig struct {
	TextTimeout       string  `yaml:"text_timeout"`
	ImageTimeout      string  `yaml:"image_timeout"`
	AudioTimeout      string  `yaml:"audio_timeout"`
	MaxRetries        *int    `yaml:"max_retries"`
	Backoff           string  `yaml:"backoff"`
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

type UsageConfig struct {
	Prices usage.PriceTable `yaml:"prices"`
}

type PublishConfig struct {
	SiteDir string `yaml:"site_dir"`
	BaseURL string `yaml:"base_url"`
}

type LeaseConfig struct {
	// Driver is "local" or "redis".
	Driver   string `yaml:"driver"`
	RedisURL string `yaml:"redis_url"`
	Prefix   string `yaml:"prefix"`
	TTL      string `yaml:"ttl"`
}

type PollerConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Spec    string `yaml:"spec"`
}

type HTTPConfig struct {
	Addr  string `yaml:"addr"`
	Token string `yaml:"token"`
}

func DefaultConfig() Config {
	return Config{
		StateDir:   ".autoblog",
		Log:        LogConfig{Level: "info", Format: "console"},
		Storage:    StorageConfig{Driver: "file"},
		Generation: GenerationConfig{TextProvider: "openai", HTTPTimeout: "180s"},
		Media: MediaConfig{
			TextTimeout:  "90s",
			ImageTimeout: "120s",
			AudioTimeout: "60s",
			Backoff:      "1s",
		},
		Usage:  UsageConfig{Prices: usage.DefaultPriceTable()},
		Lease:  LeaseConfig{Driver: "local", Prefix: "autoblog:lease:", TTL: "30m"},
		Poller: PollerConfig{Spec: "@every 1m"},
		HTTP:   HTTPConfig{Addr: "127.0.0.1:8086"},
	}
}

func (c Config) WithDefaults() Config {
	out := c
	def := DefaultConfig()
	if strings.TrimSpace(out.StateDir) == "" {
		out.StateDir = def.StateDir
	}
	if strings.TrimSpace(out.Log.Level) == "" {
		out.Log.Level = def.Log.Level
	}
	if strings.TrimSpace(out.Log.Format) == "" {
		out.Log.Format = def.Log.Format
	}
	if strings.TrimSpace(out.Storage.Driver) == "" {
		out.Storage.Driver = def.Storage.Driver
	}
	if strings.TrimSpace(out.Generation.TextProvider) == "" {
		out.Generation.TextProvider = def.Generation.TextProvider
	}
	if strings.TrimSpace(out.Generation.HTTPTimeout) == "" {
		out.Generation.HTTPTimeout = def.Generation.HTTPTimeout
	}
	if strings.TrimSpace(out.Media.TextTimeout) == "" {
		out.Media.TextTimeout = def.Media.TextTimeout
	}
	if strings.TrimSpace(out.Media.ImageTimeout) == "" {
		out.Media.ImageTimeout = def.Media.ImageTimeout
	}
	if strings.TrimSpace(out.Media.AudioTimeout) == "" {
		out.Media.AudioTimeout = def.Media.AudioTimeout
	}
	if out.Media.MaxRetries == nil {
		v := media.DefaultOptions().MaxRetries
		out.Media.MaxRetries = &v
	}
	if strings.TrimSpace(out.Media.Backoff) == "" {
		out.Media.Backoff = def.Media.Backoff
	}
	if out.Usage.Prices == (usage.PriceTable{}) {
		out.Usage.Prices = def.Usage.Prices
	}
	if strings.TrimSpace(out.Usage.Prices.Currency) == "" {
		out.Usage.Prices.Currency = def.Usage.Prices.Currency
	}
	if strings.TrimSpace(out.Publish.SiteDir) == "" {
		out.Publish.SiteDir = filepath.Join(out.StateDir, "site")
	}
	if strings.TrimSpace(out.Lease.Driver) == "" {
		out.Lease.Driver = def.Lease.Driver
	}
	if strings.TrimSpace(out.Lease.Prefix) == "" {
		out.Lease.Prefix = def.Lease.Prefix
	}
	if strings.TrimSpace(out.Lease.TTL) == "" {
		out.Lease.TTL = def.Lease.TTL
	}
	if out.Poller.Enabled == nil {
		v := false
		out.Poller.Enabled = &v
	}
	if strings.TrimSpace(out.Poller.Spec) == "" {
		out.Poller.Spec = def.Poller.Spec
	}
	if strings.TrimSpace(out.HTTP.Addr) == "" {
		out.HTTP.Addr = def.HTTP.Addr
	}
	return out
}

// Load reads path (DefaultPath when empty). A missing file yields defaults.
// A .env next to the config file, or in the working directory, is loaded
// first; environment values then override secrets from the file.
func Load(path string) (Config, error) {
	if strings.TrimSpace(path) == "" {
		path = DefaultPath
	}
	loadDotEnv(filepath.Join(filepath.Dir(path), ".env"), ".env")

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return Config{}, err
	}
	cfg.applyEnv()
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadDotEnv(paths ...string) {
	seen := map[string]bool{}
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil || seen[abs] {
			continue
		}
		seen[abs] = true
		if _, err := os.Stat(abs); err == nil {
			_ = godotenv.Load(abs)
		}
	}
}

func (c *Config) applyEnv() {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&c.Generation.OpenAIAPIKey, "OPENAI_API_KEY")
	set(&c.Generation.OpenAIBaseURL, "OPENAI_BASE_URL")
	set(&c.Generation.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	set(&c.Lease.RedisURL, "AUTOBLOG_REDIS_URL")
	set(&c.HTTP.Token, "AUTOBLOG_HTTP_TOKEN")
	set(&c.StateDir, "AUTOBLOG_STATE_DIR")
	set(&c.Log.Level, "AUTOBLOG_LOG_LEVEL")
}

func (c Config) Validate() error {
	switch c.Storage.Driver {
	case "file", "sqlite":
	default:
		return fmt.Errorf("storage.driver must be file or sqlite, got %q", c.Storage.Driver)
	}
	switch c.Lease.Driver {
	case "local":
	case "redis":
		if strings.TrimSpace(c.Lease.RedisURL) == "" {
			return errors.New("lease.redis_url (or AUTOBLOG_REDIS_URL) is required for lease.driver redis")
		}
	default:
		return fmt.Errorf("lease.driver must be local or redis, got %q", c.Lease.Driver)
	}
	if _, err := llm.ParseProvider(c.Generation.TextProvider); err != nil {
		return err
	}
	return nil
}

func (c Config) PollerEnabled() bool { return c.Poller.Enabled != nil && *c.Poller.Enabled }

func (c Config) LLM() llm.Config {
	return llm.Config{
		TextProvider:       c.Generation.TextProvider,
		OpenAIAPIKey:       c.Generation.OpenAIAPIKey,
		OpenAIBaseURL:      c.Generation.OpenAIBaseURL,
		AnthropicAPIKey:    c.Generation.AnthropicAPIKey,
		AnthropicBaseURL:   c.Generation.AnthropicBaseURL,
		AnthropicMaxTokens: c.Generation.AnthropicMaxTokens,
		HTTPTimeout:        parseDurationOrDefault(c.Generation.HTTPTimeout, 180*time.Second),
	}
}

func (c Config) MediaOptions() media.Options {
	def := media.DefaultOptions()
	opts := media.Options{
		TextTimeout:       parseDurationOrDefault(c.Media.TextTimeout, def.TextTimeout),
		ImageTimeout:      parseDurationOrDefault(c.Media.ImageTimeout, def.ImageTimeout),
		AudioTimeout:      parseDurationOrDefault(c.Media.AudioTimeout, def.AudioTimeout),
		MaxRetries:        def.MaxRetries,
		Backoff:           parseDurationOrDefault(c.Media.Backoff, def.Backoff),
		RequestsPerMinute: c.Media.RequestsPerMinute,
		Burst:             c.Media.Burst,
	}
	if c.Media.MaxRetries != nil {
		opts.MaxRetries = *c.Media.MaxRetries
	}
	return opts
}

func (c Config) LeaseTTL() time.Duration {
	return parseDurationOrDefault(c.Lease.TTL, 30*time.Minute)
}

func parseDurationOrDefault(raw string, def time.Duration) time.Duration {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
