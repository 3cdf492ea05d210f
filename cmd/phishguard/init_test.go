package main

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/nao1215/phishguard/internal/config"
)

func TestNewInitCmd(t *testing.T) {
	t.Parallel()

	cmd := NewInitCmd()
	for name, short := range map[string]string{"output": "o", "force": "f"} {
		flag := cmd.Flags().Lookup(name)
		if flag == nil {
			t.Errorf("missing --%s flag", name)
			continue
		}
		if flag.Shorthand != short {
			t.Errorf("--%s: expected shorthand %q, got %q", name, short, flag.Shorthand)
		}
	}
	if def := cmd.Flags().Lookup("output").DefValue; def != config.DefaultConfigFile {
		t.Errorf("expected default output %q, got %q", config.DefaultConfigFile, def)
	}
}

func TestRunInitCmd(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		existing string
		force    bool
		nested   bool
		wantErr  string
	}{
		{name: "fresh file"},
		{name: "nested directories", nested: true},
		{name: "existing file is kept", existing: "server: {}\n", wantErr: "already exists"},
		{name: "existing file is replaced with force", existing: "server: {}\n", force: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			path := filepath.Join(t.TempDir(), ".phishguard")
			if tt.nested {
				path = filepath.Join(filepath.Dir(path), "etc", "phishguard", "config.yaml")
			}
			if tt.existing != "" {
				writeFile(t, path, tt.existing)
			}

			args := []string{"-o", path}
			if tt.force {
				args = append(args, "-f")
			}
			var out bytes.Buffer
			cmd := NewInitCmd()
			cmd.SetOut(&out)
			cmd.SetArgs(args)

			err := cmd.Execute()
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
				}
				if got, _ := os.ReadFile(path); string(got) != tt.existing {
					t.Errorf("existing file was modified: %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !strings.Contains(out.String(), path) {
				t.Errorf("expected output to name %s, got %q", path, out.String())
			}

			content, err := os.ReadFile(path)
			if err != nil {
				t.Fatal(err)
			}
			for _, section := range []string{"server:", "models:", "fetch:", "cache:", "batch:", "history:"} {
				if !strings.Contains(string(content), section) {
					t.Errorf("expected generated file to contain %q", section)
				}
			}
			if runtime.GOOS == "windows" {
				return
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
}

// TestConfigTemplate checks that the generated file is accepted by the
// configuration loader.
func TestConfigTemplate(t *testing.T) {
	t.Parallel()

	content, err := configTemplate.ReadFile(templatePath)
	if err != nil {
		t.Fatalf("failed to read template: %v", err)
	}
	path := filepath.Join(t.TempDir(), "phishguard.yaml")
	if err := os.WriteFile(path, content, 0600); err != nil {
		t.Fatalf("failed to write template: %v", err)
	}

	cf, err := config.LoadConfigFile(path)
	if err != nil {
		t.Fatalf("template does not parse: %v", err)
	}
	cfg := config.NewConfig()
	cf.Apply(cfg)

	if err := cfg.Validate(); err != nil {
		t.Errorf("template config is invalid: %v", err)
	}
	if cfg.URLEndpoint != "http://127.0.0.1:9001" {
		t.Errorf("expected url endpoint from template, got %q", cfg.URLEndpoint)
	}
	if cfg.AnalysisRule != "distance" {
		t.Errorf("expected analysis rule 'distance', got %q", cfg.AnalysisRule)
	}
	if cfg.CacheTTL != config.DefaultCacheTTL {
		t.Errorf("expected cache ttl %s, got %s", config.DefaultCacheTTL, cfg.CacheTTL)
	}
	if cfg.RedisAddress != "" {
		t.Errorf("expected in-memory cache by default, got redis %q", cfg.RedisAddress)
	}
}
