package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"OPENAI_API_KEY", "OPENAI_BASE_URL", "ANTHROPIC_API_KEY", "AUTOBLOG_REDIS_URL", "AUTOBLOG_HTTP_TOKEN", "AUTOBLOG_STATE_DIR", "AUTOBLOG_LOG_LEVEL"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StateDir != ".autoblog" || cfg.Storage.Driver != "file" || cfg.Lease.Driver != "local" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.PollerEnabled() {
		t.Fatalf("poller enabled by default")
	}
	if cfg.Publish.SiteDir != filepath.Join(".autoblog", "site") {
		t.Fatalf("site dir = %q", cfg.Publish.SiteDir)
	}
	opts := cfg.MediaOptions()
	if opts.TextTimeout != 90*time.Second || opts.ImageTimeout != 120*time.Second || opts.AudioTimeout != 60*time.Second || opts.MaxRetries != 2 || opts.Backoff != time.Second {
		t.Fatalf("media options = %+v", opts)
	}
	if cfg.Usage.Prices.PerImage == 0 {
		t.Fatalf("default prices missing: %+v", cfg.Usage.Prices)
	}
}

func TestLoadFileEnvAndDotEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
state_dir: /var/lib/autoblog
storage:
  driver: sqlite
generation:
  text_provider: anthropic
  openai_api_key: from-file
media:
  image_timeout: 45s
  audio_timeout: nonsense
  max_retries: 0
poller:
  enabled: true
  spec: "@every 5m"
usage:
  prices:
    currency: EUR
    per_image: 0.5
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("ANTHROPIC_API_KEY=from-dotenv\n"), 0o644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Setenv("OPENAI_API_KEY", "from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Generation.OpenAIAPIKey != "from-env" {
		t.Fatalf("openai key = %q, want env override", cfg.Generation.OpenAIAPIKey)
	}
	if got := os.Getenv("ANTHROPIC_API_KEY"); got != "from-dotenv" || cfg.Generation.AnthropicAPIKey != "from-dotenv" {
		t.Fatalf("anthropic key = %q / %q", got, cfg.Generation.AnthropicAPIKey)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.StateDir != "/var/lib/autoblog" || !cfg.PollerEnabled() || cfg.Poller.Spec != "@every 5m" {
		t.Fatalf("cfg = %+v", cfg)
	}
	opts := cfg.MediaOptions()
	if opts.ImageTimeout != 45*time.Second || opts.AudioTimeout != 60*time.Second || opts.MaxRetries != 0 {
		t.Fatalf("media options = %+v", opts)
	}
	if cfg.Usage.Prices.Currency != "EUR" || cfg.Usage.Prices.PerImage != 0.5 {
		t.Fatalf("prices = %+v", cfg.Usage.Prices)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		mut  func(*Config)
		ok   bool
	}{
		{"defaults", func(*Config) {}, true},
		{"bad_storage", func(c *Config) { c.Storage.Driver = "mongo" }, false},
		{"redis_without_url", func(c *Config) { c.Lease.Driver = "redis" }, false},
		{"redis_with_url", func(c *Config) { c.Lease.Driver = "redis"; c.Lease.RedisURL = "redis://localhost:6379/0" }, true},
		{"bad_provider", func(c *Config) { c.Generation.TextProvider = "gemini" }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Config{}.WithDefaults()
			tc.mut(&cfg)
			if err := cfg.Validate(); (err == nil) != tc.ok {
				t.Fatalf("Validate() err = %v, ok = %v", err, tc.ok)
			}
		})
	}
}
