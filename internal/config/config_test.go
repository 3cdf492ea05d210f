package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestNewConfig documents the defaults.
func TestNewConfig(t *testing.T) {
	t.Parallel()

	cfg := NewConfig()

	t.Run("default ListenAddress is :8002", func(t *testing.T) {
		t.Parallel()
		if cfg.ListenAddress != ":8002" {
			t.Errorf("expected ':8002', got '%s'", cfg.ListenAddress)
		}
	})

	t.Run("default confidence rules", func(t *testing.T) {
		t.Parallel()
		if cfg.CheckRule != "ratio" || cfg.AnalysisRule != "distance" {
			t.Errorf("unexpected rules %q %q", cfg.CheckRule, cfg.AnalysisRule)
		}
	})

	t.Run("default fetch settings", func(t *testing.T) {
		t.Parallel()
		if cfg.FetchTimeout != 8*time.Second {
			t.Errorf("expected 8s fetch timeout, got %v", cfg.FetchTimeout)
		}
		if cfg.FetchRate != 10 || cfg.FetchBurst != 20 {
			t.Errorf("expected 10 req/s burst 20, got %v %d", cfg.FetchRate, cfg.FetchBurst)
		}
		if cfg.EnableTor {
			t.Error("expected Tor to be disabled")
		}
	})

	t.Run("default batch and cache", func(t *testing.T) {
		t.Parallel()
		if cfg.Concurrency != 8 {
			t.Errorf("expected concurrency 8, got %d", cfg.Concurrency)
		}
		if cfg.CacheTTL != time.Hour {
			t.Errorf("expected 1h cache TTL, got %v", cfg.CacheTTL)
		}
	})

	t.Run("history in XDG data dir", func(t *testing.T) {
		t.Parallel()
		if !cfg.SaveToDB || cfg.DBDir != XDGDataDir() {
			t.Errorf("unexpected history settings %v %q", cfg.SaveToDB, cfg.DBDir)
		}
	})

	if err := cfg.Validate(); err != nil {
		t.Errorf("expected defaults to validate, got %v", err)
	}
}

// TestConfigValidate tests one validation rule per case.
func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr error
	}{
		{"zero fetch timeout", func(c *Config) { c.FetchTimeout = 0 }, ErrInvalidTimeout},
		{"negative scorer timeout", func(c *Config) { c.ScorerTimeout = -time.Second }, ErrInvalidTimeout},
		{"zero concurrency", func(c *Config) { c.Concurrency = 0 }, ErrInvalidConcurrency},
		{"json and markdown", func(c *Config) { c.JSONReport, c.MarkdownReport = true, true }, ErrConflictingReportFormats},
		{"negative body size", func(c *Config) { c.MaxBodySize = -1 }, ErrInvalidMaxBodySize},
		{"zero cache ttl", func(c *Config) { c.CacheTTL = 0 }, ErrInvalidCacheTTL},
		{"rate without burst", func(c *Config) { c.FetchBurst = 0 }, ErrInvalidFetchBurst},
		{"history without dir", func(c *Config) { c.DBDir = "" }, ErrNoDBDir},
		{"limiter disabled", func(c *Config) { c.FetchRate, c.FetchBurst = 0, 0 }, nil},
		{"history disabled", func(c *Config) { c.SaveToDB, c.DBDir = false, "" }, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := NewConfig()
			tt.modify(cfg)
			if err := cfg.Validate(); !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

const sampleFile = `
server:
  listen: ":9000"
models:
  url:
    endpoint: http://127.0.0.1:8101
    vocab: /models/url_vocab.json
    threshold: /models/url_threshold.json
  html:
    endpoint: http://127.0.0.1:8102
  dom:
    endpoint: http://127.0.0.1:8103
    vocab: /models/tags.json
  timeout: 20s
  analysis_rule: ratio
fetch:
  timeout: 5s
  rate: 2.5
  burst: 5
  tor:
    enabled: true
    external: true
    proxy: 127.0.0.1:9150
cache:
  ttl: 30m
  redis:
    address: localhost:6379
    db: 2
batch:
  concurrency: 4
history:
  save: false
  whois: true
  new_domain_days: 30
`

func TestLoadConfigFile(t *testing.T) {
	t.Parallel()

	t.Run("loads and applies values", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), DefaultConfigFile)
		if err := os.WriteFile(path, []byte(sampleFile), 0600); err != nil {
			t.Fatal(err)
		}

		cf, err := LoadConfigFile(path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		cfg := NewConfig()
		cf.Apply(cfg)

		if cfg.ListenAddress != ":9000" {
			t.Errorf("unexpected listen address %q", cfg.ListenAddress)
		}
		if cfg.URLEndpoint != "http://127.0.0.1:8101" || cfg.TagVocabPath != "/models/tags.json" {
			t.Errorf("unexpected model settings %+v", cfg)
		}
		if cfg.ScorerTimeout != 20*time.Second || cfg.FetchTimeout != 5*time.Second {
			t.Errorf("unexpected timeouts %v %v", cfg.ScorerTimeout, cfg.FetchTimeout)
		}
		if cfg.AnalysisRule != "ratio" || cfg.CheckRule != DefaultCheckRule {
			t.Errorf("unexpected rules %q %q", cfg.CheckRule, cfg.AnalysisRule)
		}
		if cfg.FetchRate != 2.5 || cfg.FetchBurst != 5 {
			t.Errorf("unexpected limiter %v %d", cfg.FetchRate, cfg.FetchBurst)
		}
		if !cfg.EnableTor || !cfg.UseExternalTor || cfg.TorProxyAddress != "127.0.0.1:9150" {
			t.Errorf("unexpected tor settings %+v", cfg)
		}
		if cfg.CacheTTL != 30*time.Minute || cfg.RedisAddress != "localhost:6379" || cfg.RedisDB != 2 {
			t.Errorf("unexpected cache settings %+v", cfg)
		}
		if cfg.Concurrency != 4 {
			t.Errorf("expected concurrency 4, got %d", cfg.Concurrency)
		}
		if cfg.SaveToDB || !cfg.EnableWhois || cfg.NewDomainDays != 30 {
			t.Errorf("unexpected history settings %+v", cfg)
		}
		if cfg.UserAgent != DefaultUserAgent {
			t.Error("expected unset values to keep their defaults")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()

		_, err := LoadConfigFile(filepath.Join(t.TempDir(), "nope"))
		if !errors.Is(err, ErrConfigNotFound) {
			t.Errorf("expected ErrConfigNotFound, got %v", err)
		}
	})

	t.Run("invalid yaml", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "bad")
		if err := os.WriteFile(path, []byte("models: [unclosed"), 0600); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadConfigFile(path); err == nil {
			t.Error("expected parse error")
		}
	})
}

func TestFindConfigFile(t *testing.T) {
	t.Parallel()

	t.Run("explicit path", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "custom.yaml")
		if err := os.WriteFile(path, []byte("{}"), 0600); err != nil {
			t.Fatal(err)
		}
		if got := FindConfigFile(path); got != path {
			t.Errorf("expected %s, got %s", path, got)
		}
	})

	t.Run("explicit path that does not exist", func(t *testing.T) {
		t.Parallel()

		if got := FindConfigFile(filepath.Join(t.TempDir(), "missing")); got != "" {
			t.Errorf("expected empty, got %s", got)
		}
	})
}

func TestLoadThreshold(t *testing.T) {
	t.Parallel()

	write := func(t *testing.T, body string) string {
		t.Helper()
		path := filepath.Join(t.TempDir(), "threshold.json")
		if err := os.WriteFile(path, []byte(body), 0600); err != nil {
			t.Fatal(err)
		}
		return path
	}

	t.Run("valid", func(t *testing.T) {
		t.Parallel()

		got, err := LoadThreshold(write(t, `{"threshold": 0.42}`))
		if err != nil || got != 0.42 {
			t.Errorf("expected 0.42, got %v %v", got, err)
		}
	})

	t.Run("empty path uses default", func(t *testing.T) {
		t.Parallel()

		got, err := LoadThreshold("")
		if err != nil || got != DefaultThreshold {
			t.Errorf("expected default, got %v %v", got, err)
		}
	})

	t.Run("out of range", func(t *testing.T) {
		t.Parallel()

		for _, body := range []string{`{"threshold": 1.5}`, `{"threshold": 0}`, `{}`} {
			if _, err := LoadThreshold(write(t, body)); !errors.Is(err, ErrInvalidThreshold) {
				t.Errorf("%s: expected ErrInvalidThreshold, got %v", body, err)
			}
		}
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()

		if _, err := LoadThreshold(filepath.Join(t.TempDir(), "nope.json")); err == nil {
			t.Error("expected error")
		}
	})
}

// TestApplyEnv mutates the process environment and cannot run in parallel.
func TestApplyEnv(t *testing.T) {
	t.Setenv(EnvPort, "8080")
	t.Setenv(EnvURLEndpoint, "http://url-model:9000")
	t.Setenv(EnvRedisAddress, "redis:6379")
	t.Setenv(EnvRedisDB, "3")
	t.Setenv(EnvDevice, "cuda")

	cfg := NewConfig()
	ApplyEnv(cfg)

	if cfg.ListenAddress != ":8080" {
		t.Errorf("expected :8080, got %s", cfg.ListenAddress)
	}
	if cfg.URLEndpoint != "http://url-model:9000" || cfg.RedisAddress != "redis:6379" || cfg.RedisDB != 3 {
		t.Errorf("unexpected config %+v", cfg)
	}
	if cfg.Device != "cuda" {
		t.Errorf("expected cuda, got %s", cfg.Device)
	}
	if cfg.HTMLEndpoint != "" {
		t.Error("expected unset variables to leave fields alone")
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("PHISHGUARD_DOM_ENDPOINT=http://dom:9000\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvDOMEndpoint, "")
	_ = os.Unsetenv(EnvDOMEndpoint)

	if err := LoadDotEnv(path, filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := os.Getenv(EnvDOMEndpoint); got != "http://dom:9000" {
		t.Errorf("expected value from .env, got %q", got)
	}
}

func TestXDGDirs(t *testing.T) {
	t.Parallel()

	if !strings.HasSuffix(XDGDataDir(), AppName) || !strings.HasSuffix(XDGConfigDir(), AppName) {
		t.Errorf("unexpected XDG dirs %s %s", XDGDataDir(), XDGConfigDir())
	}
	if filepath.Dir(XDGConfigFile()) != XDGConfigDir() {
		t.Errorf("expected config file inside %s", XDGConfigDir())
	}
}
