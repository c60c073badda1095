package cutotune

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	EnvDisable   = "DISABLE_CUTOTUNE"
	EnvLoadCache = "LOAD_CUTOTUNE_CACHE"
	EnvDebug     = "DEBUG_CUTOTUNE"
	EnvCacheFile = "CUTOTUNE_CACHE_FILE"
	EnvRank      = "RANK"

	// CacheFileName is the default cache file name.
	CacheFileName = "cutotune_cache.yml"
)

// Env holds the process-level toggles of the engine.
type Env struct {
	// Disable bypasses tuning: operations run with the caller's values.
	Disable bool
	// LoadCache loads CacheFile at startup if it exists.
	LoadCache bool
	// Debug logs every trial and draws a progress bar during sweeps.
	Debug bool
	// CacheFile is where the persistent cache lives.
	CacheFile string
	// Rank is the process rank in a distributed job. Only rank 0 reports
	// selected configs.
	Rank int
}

// EnvFromOS reads the toggles from the process environment.
func EnvFromOS() Env {
	return envFrom(os.Getenv)
}

func envFrom(getenv func(string) string) Env {
	env := Env{
		Disable:   boolEnv(getenv(EnvDisable)),
		LoadCache: boolEnv(getenv(EnvLoadCache)),
		Debug:     boolEnv(getenv(EnvDebug)),
		CacheFile: strings.TrimSpace(getenv(EnvCacheFile)),
	}
	if env.CacheFile == "" {
		env.CacheFile = DefaultCacheFile()
	}
	if rank, err := strconv.Atoi(strings.TrimSpace(getenv(EnvRank))); err == nil {
		env.Rank = rank
	}
	return env
}

// DefaultCacheFile is <user cache dir>/cutotune/cutotune_cache.yml, or the
// bare file name when the user cache dir is unknown.
func DefaultCacheFile() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return CacheFileName
	}
	return filepath.Join(dir, "cutotune", CacheFileName)
}

// boolEnv treats unset, empty and unparsable values as false.
func boolEnv(v string) bool {
	v = strings.TrimSpace(v)
	if v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false
	}
	return b
}
