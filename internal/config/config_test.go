package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/adrg/xdg"

	cfg "github.com/NamanBalaji/prepfetch/internal/config"
)

func withTempConfigHome(t *testing.T) (restore func(), dir string, file string) {
	t.Helper()
	orig := xdg.ConfigHome
	dir = t.TempDir()
	xdg.ConfigHome = dir
	restore = func() { xdg.ConfigHome = orig }
	file = filepath.Join(dir, "prepfetch")
	return
}

func envMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestGetConfig_Table(t *testing.T) {
	restore, _, cfgFile := withTempConfigHome(t)
	defer restore()

	def := cfg.DefaultConfig()

	tests := []struct {
		name      string
		preWrite  bool
		contents  string
		expectErr bool
		check     func(t *testing.T, got *cfg.Config, def cfg.Config)
	}{
		{
			name:     "missing_file_returns_defaults",
			preWrite: false,
			check: func(t *testing.T, got *cfg.Config, def cfg.Config) {
				if !reflect.DeepEqual(*got, def) {
					t.Fatalf("expected defaults\nwant: %#v\ngot:  %#v", def, *got)
				}
			},
		},
		{
			name:     "empty_file_returns_defaults",
			preWrite: true,
			contents: "",
			check: func(t *testing.T, got *cfg.Config, def cfg.Config) {
				if !reflect.DeepEqual(*got, def) {
					t.Fatalf("expected defaults\nwant: %#v\ngot:  %#v", def, *got)
				}
			},
		},
		{
			name:      "invalid_yaml_returns_error",
			preWrite:  true,
			contents:  ": not yaml",
			expectErr: true,
			check:     func(t *testing.T, _ *cfg.Config, _ cfg.Config) {},
		},
		{
			name:     "no_http_section_uses_defaults",
			preWrite: true,
			contents: "maxConcurrency: 1\n",
			check: func(t *testing.T, got *cfg.Config, def cfg.Config) {
				if got.MaxConcurrency != 1 {
					t.Fatalf("maxConcurrency not applied, got %d", got.MaxConcurrency)
				}
				if !reflect.DeepEqual(*got.Http, *def.Http) {
					t.Fatalf("http defaults not applied\nwant: %#v\ngot:  %#v", *def.Http, *got.Http)
				}
			},
		},
		{
			name:     "partial_override_and_fallback",
			preWrite: true,
			contents: `
baseDir: /mnt/content
timeout: 2h
sequential: true
http:
  connections: 8
  retryDelay: 3s
  headers:
    Authorization: Bearer token
`,
			check: func(t *testing.T, got *cfg.Config, def cfg.Config) {
				if got.BaseDir != "/mnt/content" {
					t.Fatalf("want baseDir=/mnt/content got %q", got.BaseDir)
				}
				if got.Timeout != 2*time.Hour {
					t.Fatalf("want timeout=2h got %s", got.Timeout)
				}
				if !got.Sequential {
					t.Fatalf("want sequential=true")
				}
				if got.Http.Connections != 8 {
					t.Fatalf("want http.connections=8 got %d", got.Http.Connections)
				}
				if got.Http.RetryDelay != 3*time.Second {
					t.Fatalf("want http.retryDelay=3s got %s", got.Http.RetryDelay)
				}
				if got.Http.Headers["Authorization"] != "Bearer token" {
					t.Fatalf("headers not applied, got %#v", got.Http.Headers)
				}
				if got.MaxConcurrency != def.MaxConcurrency {
					t.Fatalf("want maxConcurrency default %d got %d", def.MaxConcurrency, got.MaxConcurrency)
				}
				if got.Http.ChunkSize != def.Http.ChunkSize {
					t.Fatalf("want http.chunkSize default %d got %d", def.Http.ChunkSize, got.Http.ChunkSize)
				}
				if got.Http.MaxRetries != def.Http.MaxRetries {
					t.Fatalf("want http.maxRetries default %d got %d", def.Http.MaxRetries, got.Http.MaxRetries)
				}
			},
		},
		{
			name:     "explicit_zero_values_fall_back_to_defaults",
			preWrite: true,
			contents: `
baseDir: ""
maxConcurrency: 0
http:
  chunkSize: 0
  connections: 0
  retryDelay: 0s
`,
			check: func(t *testing.T, got *cfg.Config, def cfg.Config) {
				if got.BaseDir != def.BaseDir {
					t.Fatalf("baseDir zero should fallback. want %q got %q", def.BaseDir, got.BaseDir)
				}
				if got.MaxConcurrency != def.MaxConcurrency {
					t.Fatalf("maxConcurrency zero should fallback. want %d got %d", def.MaxConcurrency, got.MaxConcurrency)
				}
				if got.Http.ChunkSize != def.Http.ChunkSize {
					t.Fatalf("http.chunkSize zero should fallback. want %d got %d", def.Http.ChunkSize, got.Http.ChunkSize)
				}
				if got.Http.Connections != def.Http.Connections {
					t.Fatalf("http.connections zero should fallback. want %d got %d", def.Http.Connections, got.Http.Connections)
				}
				if got.Http.RetryDelay != def.Http.RetryDelay {
					t.Fatalf("http.retryDelay zero should fallback. want %s got %s", def.Http.RetryDelay, got.Http.RetryDelay)
				}
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_ = os.Remove(cfgFile)
			if tc.preWrite {
				if err := os.WriteFile(cfgFile, []byte(tc.contents), 0o644); err != nil {
					t.Fatalf("write config: %v", err)
				}
			}

			got, err := cfg.GetConfig()
			if tc.expectErr {
				if err == nil {
					t.Fatalf("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			tc.check(t, got, def)
		})
	}
}

func TestApplyEnv(t *testing.T) {
	c := cfg.DefaultConfig()

	err := c.ApplyEnv(envMap(map[string]string{
		cfg.EnvBaseDir:        "/Volumes/content",
		cfg.EnvTimeout:        "90",
		cfg.EnvChunkSize:      "1048576",
		cfg.EnvMaxConcurrency: "5",
		cfg.EnvMaxRetries:     "7",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if c.BaseDir != "/Volumes/content" {
		t.Fatalf("want baseDir from env, got %q", c.BaseDir)
	}
	if c.Timeout != 90*time.Second {
		t.Fatalf("want timeout=90s got %s", c.Timeout)
	}
	if c.Http.ChunkSize != 1<<20 {
		t.Fatalf("want chunkSize=1MiB got %d", c.Http.ChunkSize)
	}
	if c.MaxConcurrency != 5 {
		t.Fatalf("want maxConcurrency=5 got %d", c.MaxConcurrency)
	}
	if c.Http.MaxRetries != 7 {
		t.Fatalf("want maxRetries=7 got %d", c.Http.MaxRetries)
	}
}

func TestApplyEnvDurationSyntax(t *testing.T) {
	c := cfg.DefaultConfig()

	if err := c.ApplyEnv(envMap(map[string]string{cfg.EnvTimeout: "1h30m"})); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Timeout != 90*time.Minute {
		t.Fatalf("want timeout=1h30m got %s", c.Timeout)
	}
}

func TestApplyEnvEmptyValuesAreIgnored(t *testing.T) {
	c := cfg.DefaultConfig()
	def := cfg.DefaultConfig()

	if err := c.ApplyEnv(envMap(map[string]string{cfg.EnvBaseDir: "", cfg.EnvMaxRetries: ""})); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(c, def) {
		t.Fatalf("expected defaults\nwant: %#v\ngot:  %#v", def, c)
	}
}

func TestApplyEnvInvalidValues(t *testing.T) {
	for _, key := range []string{cfg.EnvTimeout, cfg.EnvChunkSize, cfg.EnvMaxConcurrency, cfg.EnvMaxRetries} {
		t.Run(key, func(t *testing.T) {
			c := cfg.DefaultConfig()

			err := c.ApplyEnv(envMap(map[string]string{key: "lots"}))
			if !errors.Is(err, cfg.ErrInvalidConfig) {
				t.Fatalf("want ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestEnvOverridesFile(t *testing.T) {
	restore, _, cfgFile := withTempConfigHome(t)
	defer restore()

	if err := os.WriteFile(cfgFile, []byte("baseDir: /from/file\nmaxConcurrency: 3\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv(cfg.EnvBaseDir, "/from/env")

	got, err := cfg.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got.BaseDir != "/from/env" {
		t.Fatalf("env should win over file, got %q", got.BaseDir)
	}
	if got.MaxConcurrency != 3 {
		t.Fatalf("file value should survive, got %d", got.MaxConcurrency)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *cfg.Config)
		wantErr bool
	}{
		{"defaults", func(*cfg.Config) {}, false},
		{"empty_base_dir", func(c *cfg.Config) { c.BaseDir = "" }, true},
		{"zero_chunk_size", func(c *cfg.Config) { c.Http.ChunkSize = 0 }, true},
		{"negative_connections", func(c *cfg.Config) { c.Http.Connections = -1 }, true},
		{"zero_concurrency", func(c *cfg.Config) { c.MaxConcurrency = 0 }, true},
		{"zero_retries", func(c *cfg.Config) { c.Http.MaxRetries = 0 }, true},
		{"negative_timeout", func(c *cfg.Config) { c.Timeout = -time.Second }, true},
		{"nil_http_uses_defaults", func(c *cfg.Config) { c.Http = nil }, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := cfg.DefaultConfig()
			tc.mutate(&c)

			err := c.Validate()
			if tc.wantErr && !errors.Is(err, cfg.ErrInvalidConfig) {
				t.Fatalf("want ErrInvalidConfig, got %v", err)
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
