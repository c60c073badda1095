package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigFile(t *testing.T) {
	t.Run("missing file is zero config", func(t *testing.T) {
		cfg := loadConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))
		if cfg.CacheFile != "" || cfg.Warmup != nil {
			t.Fatalf("expected zero config, got %+v", cfg)
		}
	})

	t.Run("fields parse", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		body := "cache_file: /tmp/tune.yml\nwarmup: 2\niterations: 50\nlog_level: debug\nlog_format: json\nserver_address: 0.0.0.0:9000\n"
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatalf("write config: %v", err)
		}
		cfg := loadConfigFile(path)
		if cfg.CacheFile != "/tmp/tune.yml" {
			t.Fatalf("cache_file: got %q", cfg.CacheFile)
		}
		if cfg.Warmup == nil || *cfg.Warmup != 2 {
			t.Fatalf("warmup: got %v", cfg.Warmup)
		}
		if cfg.Iterations == nil || *cfg.Iterations != 50 {
			t.Fatalf("iterations: got %v", cfg.Iterations)
		}
		if cfg.Workers != nil {
			t.Fatalf("workers should be unset, got %d", *cfg.Workers)
		}
		if cfg.LogLevel != "debug" || cfg.LogFormat != "json" || cfg.ServerAddress != "0.0.0.0:9000" {
			t.Fatalf("unexpected output settings: %+v", cfg)
		}
	})

	t.Run("malformed file is zero config", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		if err := os.WriteFile(path, []byte("warmup: [nope\n"), 0o644); err != nil {
			t.Fatalf("write config: %v", err)
		}
		if cfg := loadConfigFile(path); cfg.Warmup != nil {
			t.Fatalf("expected zero config, got %+v", cfg)
		}
	})
}

func TestPickCacheFile(t *testing.T) {
	const def = "/default/cutotune_cache.yml"
	cases := []struct {
		name       string
		flagSet    bool
		flag       string
		fromEnv    string
		fromConfig string
		want       string
	}{
		{"default", false, "", "", "", def},
		{"config", false, "", "", "/cfg/cache.yml", "/cfg/cache.yml"},
		{"env beats config", false, "", "/env/cache.yml", "/cfg/cache.yml", "/env/cache.yml"},
		{"flag beats env", true, "/flag/./cache.yml", "/env/cache.yml", "/cfg/cache.yml", "/flag/cache.yml"},
		{"empty flag ignored", true, " ", "", "/cfg/cache.yml", "/cfg/cache.yml"},
	}
	for _, tc := range cases {
		got := pickCacheFile(tc.flagSet, tc.flag, tc.fromEnv, tc.fromConfig, def)
		if got != tc.want {
			t.Fatalf("%s: got %q want %q", tc.name, got, tc.want)
		}
	}
}

func TestExpandHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	if got, want := expandHome("~/cache/tune.yml"), filepath.Join(home, "cache", "tune.yml"); got != want {
		t.Fatalf("expandHome: got %q want %q", got, want)
	}
	if got := expandHome("/abs/tune.yml"); got != "/abs/tune.yml" {
		t.Fatalf("absolute path changed: %q", got)
	}
}
