package main

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/nao1215/phishguard/internal/cache"
	"github.com/nao1215/phishguard/internal/config"
	"github.com/nao1215/phishguard/internal/model"
)

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
	return path
}

// TestBuildConfig mutates the process environment and cannot run in
// parallel.
func TestBuildConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, filepath.Join(dir, "phishguard.yaml"), `
server:
  listen: ":9100"
models:
  url:
    endpoint: "http://file-url:9001"
  html:
    endpoint: "http://file-html:9002"
  analysis_rule: "ratio"
batch:
  concurrency: 3
`)

	t.Run("file overrides defaults", func(t *testing.T) {
		root := NewRootCmd()
		if err := root.PersistentFlags().Set("config", cfgPath); err != nil {
			t.Fatal(err)
		}

		cfg, err := buildConfig(root)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.ListenAddress != ":9100" {
			t.Errorf("expected listen address from file, got %q", cfg.ListenAddress)
		}
		if cfg.Concurrency != 3 {
			t.Errorf("expected concurrency 3, got %d", cfg.Concurrency)
		}
		if cfg.AnalysisRule != "ratio" {
			t.Errorf("expected analysis rule from file, got %q", cfg.AnalysisRule)
		}
		if cfg.FetchTimeout != config.DefaultFetchTimeout {
			t.Errorf("expected default fetch timeout, got %s", cfg.FetchTimeout)
		}
	})

	t.Run("environment overrides file", func(t *testing.T) {
		t.Setenv(config.EnvURLEndpoint, "http://env-url:9001")
		t.Setenv(config.EnvPort, "8080")

		root := NewRootCmd()
		if err := root.PersistentFlags().Set("config", cfgPath); err != nil {
			t.Fatal(err)
		}
		cfg, err := buildConfig(root)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.URLEndpoint != "http://env-url:9001" {
			t.Errorf("expected env endpoint, got %q", cfg.URLEndpoint)
		}
		if cfg.HTMLEndpoint != "http://file-html:9002" {
			t.Errorf("expected file endpoint, got %q", cfg.HTMLEndpoint)
		}
		if cfg.ListenAddress != ":8080" {
			t.Errorf("expected PORT to win, got %q", cfg.ListenAddress)
		}
	})

	t.Run("global flags are read", func(t *testing.T) {
		root := NewRootCmd()
		for name, value := range map[string]string{"config": cfgPath, "verbose": "true", "json-logs": "true"} {
			if err := root.PersistentFlags().Set(name, value); err != nil {
				t.Fatal(err)
			}
		}
		cfg, err := buildConfig(root)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !cfg.Verbose || !cfg.JSONLogs {
			t.Errorf("expected verbose and json logs, got %+v", cfg)
		}
		if cfg.ConfigFilePath != cfgPath {
			t.Errorf("expected config path %q, got %q", cfgPath, cfg.ConfigFilePath)
		}
	})

	t.Run("explicit missing file is an error", func(t *testing.T) {
		root := NewRootCmd()
		missing := filepath.Join(dir, "missing.yaml")
		if err := root.PersistentFlags().Set("config", missing); err != nil {
			t.Fatal(err)
		}
		_, err := buildConfig(root)
		if err == nil || !strings.Contains(err.Error(), "not found") {
			t.Errorf("expected not found error, got %v", err)
		}
	})

	t.Run("malformed file is an error", func(t *testing.T) {
		bad := writeFile(t, filepath.Join(dir, "bad.yaml"), "server: [")
		root := NewRootCmd()
		if err := root.PersistentFlags().Set("config", bad); err != nil {
			t.Fatal(err)
		}
		if _, err := buildConfig(root); err == nil {
			t.Error("expected parse error")
		}
	})
}

func TestCommandFlagsOverrideConfig(t *testing.T) {
	t.Parallel()

	cfg := config.NewConfig()
	cfg.Concurrency = 3
	cfg.ReportFile = "from-file.json"

	cmd := NewBatchCmd()
	if err := cmd.ParseFlags([]string{"--concurrency", "12", "--json"}); err != nil {
		t.Fatal(err)
	}
	if err := applyReportFlags(cmd, cfg); err != nil {
		t.Fatal(err)
	}
	if err := applyIntFlag(cmd, "concurrency", &cfg.Concurrency); err != nil {
		t.Fatal(err)
	}

	if cfg.Concurrency != 12 {
		t.Errorf("expected flag concurrency 12, got %d", cfg.Concurrency)
	}
	if !cfg.JSONReport {
		t.Error("expected json report")
	}
	if cfg.ReportFile != "from-file.json" {
		t.Errorf("unset flag must not override, got %q", cfg.ReportFile)
	}
}

func TestParseURLList(t *testing.T) {
	t.Parallel()

	input := `
# suspicious domains
https://login.example.com

  https://paypa1.example.net/verify
#https://skipped.example.org
http://benign.example.org
`
	got, err := parseURLList(strings.NewReader(input))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{
		"https://login.example.com",
		"https://paypa1.example.net/verify",
		"http://benign.example.org",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}

	if _, err := readURLList(filepath.Join(t.TempDir(), "missing.txt")); err == nil {
		t.Error("expected error for missing list")
	}
}

func TestChunkURLs(t *testing.T) {
	t.Parallel()

	urls := make([]string, 250)
	for i := range urls {
		urls[i] = "https://example.com/" + strings.Repeat("a", i%7)
	}

	tests := []struct {
		name  string
		urls  []string
		size  int
		sizes []int
	}{
		{"empty", nil, 100, nil},
		{"smaller than chunk", urls[:5], 100, []int{5}},
		{"exact chunk", urls[:100], 100, []int{100}},
		{"several chunks", urls, 100, []int{100, 100, 50}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			chunks := chunkURLs(tt.urls, tt.size)
			var sizes []int
			for _, c := range chunks {
				sizes = append(sizes, len(c))
			}
			if !reflect.DeepEqual(sizes, tt.sizes) {
				t.Errorf("expected chunk sizes %v, got %v", tt.sizes, sizes)
			}
		})
	}
}

func TestMergeBatch(t *testing.T) {
	t.Parallel()

	dst := &model.BatchResult{}
	mergeBatch(dst, &model.BatchResult{Total: 2, Successful: 1, Results: []model.BatchItem{{URL: "a"}, {URL: "b", Error: "timeout"}}})
	mergeBatch(dst, &model.BatchResult{Total: 1, Successful: 1, Results: []model.BatchItem{{URL: "c"}}})

	if dst.Total != 3 || dst.Successful != 2 {
		t.Errorf("unexpected totals %d/%d", dst.Successful, dst.Total)
	}
	if len(dst.Results) != 3 || dst.Results[2].URL != "c" {
		t.Errorf("expected results in submission order, got %+v", dst.Results)
	}
}

func TestOpenOutput(t *testing.T) {
	t.Parallel()

	t.Run("empty path uses fallback", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		w, closeFn, err := openOutput("", &buf)
		if err != nil {
			t.Fatal(err)
		}
		if w != &buf {
			t.Error("expected fallback writer")
		}
		if err := closeFn(); err != nil {
			t.Errorf("unexpected close error: %v", err)
		}
	})

	t.Run("creates private file", func(t *testing.T) {
		t.Parallel()
		if runtime.GOOS == "windows" {
			t.Skip("skipping permission test on Windows")
		}
		path := filepath.Join(t.TempDir(), "reports", "out.json")
		w, closeFn, err := openOutput(path, nil)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte("{}")); err != nil {
			t.Fatal(err)
		}
		if err := closeFn(); err != nil {
			t.Fatal(err)
		}
		info, err := os.Stat(path)
		if err != nil {
			t.Fatal(err)
		}
		if perm := info.Mode().Perm(); perm != 0600 {
			t.Errorf("expected permissions 0600, got %o", perm)
		}
	})
}

func TestNewAppWithoutModels(t *testing.T) {
	t.Parallel()

	cfg := config.NewConfig()
	cfg.SaveToDB = false
	cfg.FetchTimeout = time.Second

	a, err := newApp(t.Context(), cfg, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer a.Close()

	if a.engine.ModelsLoaded().Any() {
		t.Error("expected no model without endpoints")
	}
	if a.history != nil {
		t.Error("expected no history database")
	}
	if a.cache == nil || a.batch == nil {
		t.Error("expected cache and batch processor")
	}
	if a.cache.TTL() != config.DefaultCacheTTL {
		t.Errorf("expected cache ttl %s, got %s", config.DefaultCacheTTL, a.cache.TTL())
	}
}

func TestNewAppCacheBackend(t *testing.T) {
	t.Parallel()

	t.Run("memory without a redis address", func(t *testing.T) {
		t.Parallel()

		cfg := config.NewConfig()
		cfg.SaveToDB = false

		a, err := newApp(t.Context(), cfg, slog.New(slog.DiscardHandler))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer a.Close()

		if _, ok := a.cache.(*cache.Memory); !ok {
			t.Errorf("expected in-memory cache, got %T", a.cache)
		}
	})

	t.Run("redis when an address is set", func(t *testing.T) {
		t.Parallel()

		mr := miniredis.RunT(t)
		cfg := config.NewConfig()
		cfg.SaveToDB = false
		cfg.RedisAddress = mr.Addr()

		a, err := newApp(t.Context(), cfg, slog.New(slog.DiscardHandler))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer a.Close()

		if _, ok := a.cache.(*cache.Redis); !ok {
			t.Errorf("expected redis cache, got %T", a.cache)
		}
	})

	t.Run("unreachable redis fails startup", func(t *testing.T) {
		t.Parallel()

		mr := miniredis.RunT(t)
		addr := mr.Addr()
		mr.Close()

		cfg := config.NewConfig()
		cfg.SaveToDB = false
		cfg.RedisAddress = addr

		if _, err := newApp(t.Context(), cfg, slog.New(slog.DiscardHandler)); err == nil {
			t.Error("expected error for unreachable redis")
		}
	})
}

func TestNewAppRejectsUnknownRule(t *testing.T) {
	t.Parallel()

	cfg := config.NewConfig()
	cfg.SaveToDB = false
	cfg.CheckRule = "median"

	if _, err := newApp(t.Context(), cfg, slog.New(slog.DiscardHandler)); err == nil {
		t.Error("expected error for unknown confidence rule")
	}
}
