package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/samcharles93/cutotune/pkg/cutotune"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the cutotune configuration file
// (~/.config/cutotune/config.yaml). Numeric fields are pointers so "not set"
// is distinguishable from zero.
type Config struct {
	CacheFile string `yaml:"cache_file"`

	// Benchmarking
	Warmup     *int64 `yaml:"warmup"`
	Iterations *int64 `yaml:"iterations"`
	Workers    *int64 `yaml:"workers"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Server
	ServerAddress string `yaml:"server_address"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "cutotune", "config.yaml")
}

// applyTuningConfig applies config file defaults to the tuning flags when
// the corresponding CLI flag was not explicitly set.
func applyTuningConfig(c *cli.Command, cfg Config) {
	if cfg.Warmup != nil && !c.IsSet("warmup") {
		warmup = *cfg.Warmup
	}
	if cfg.Iterations != nil && !c.IsSet("iterations") {
		iterations = *cfg.Iterations
	}
	if cfg.Workers != nil && !c.IsSet("workers") {
		workers = *cfg.Workers
	}
}

// applyLoggingConfig applies config file defaults to the logging flags.
func applyLoggingConfig(c *cli.Command, cfg Config, level, format *string) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		*level = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		*format = cfg.LogFormat
	}
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg Config, addr *string) {
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
}

// resolveEnv reads the engine toggles from the process environment and
// settles the cache file.
func resolveEnv(c *cli.Command, cfg Config) cutotune.Env {
	env := cutotune.EnvFromOS()
	env.CacheFile = pickCacheFile(c.IsSet("cache-file"), cacheFile, os.Getenv(cutotune.EnvCacheFile), cfg.CacheFile, env.CacheFile)
	return env
}

// pickCacheFile orders the cache file sources: --cache-file, then
// CUTOTUNE_CACHE_FILE, then the config file, then the default location.
func pickCacheFile(flagSet bool, flag, fromEnv, fromConfig, def string) string {
	switch {
	case flagSet && strings.TrimSpace(flag) != "":
		return filepath.Clean(flag)
	case strings.TrimSpace(fromEnv) != "":
		return strings.TrimSpace(fromEnv)
	case fromConfig != "":
		return expandHome(fromConfig)
	}
	return def
}

func expandHome(path string) string {
	rest, ok := strings.CutPrefix(path, "~/")
	if !ok {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, rest)
}

// LoadConfig reads the config file. Returns a zero Config if the file doesn't exist.
func LoadConfig() Config {
	return loadConfigFile(configPath())
}

func loadConfigFile(path string) Config {
	if path == "" {
		return Config{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}
	}
	return cfg
}
