// Package config loads indu settings from an optional HCL file.
//
// Example indu.hcl:
//
//	cache_file      = "/var/cache/indu/cache.json"
//	load_timeout    = "5s"
//	save_timeout    = "10s"
//	one_file_system = true
//	log_level       = "debug"
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/hcl/v2/hclsimple"

	"github.com/agentic-research/indu/internal/dircache"
)

// Config is the effective configuration.
type Config struct {
	CacheFile     string
	LoadTimeout   time.Duration
	SaveTimeout   time.Duration
	OneFileSystem bool
	ExcludeKernFS bool
	Extended      bool
	LogLevel      string
	LogFormat     string
	MetricsFile   string
}

// file mirrors the HCL attributes. Every attribute is optional.
type file struct {
	CacheFile     string `hcl:"cache_file,optional"`
	LoadTimeout   string `hcl:"load_timeout,optional"`
	SaveTimeout   string `hcl:"save_timeout,optional"`
	OneFileSystem bool   `hcl:"one_file_system,optional"`
	ExcludeKernFS bool   `hcl:"exclude_kernfs,optional"`
	Extended      bool   `hcl:"extended,optional"`
	LogLevel      string `hcl:"log_level,optional"`
	LogFormat     string `hcl:"log_format,optional"`
	MetricsFile   string `hcl:"metrics_file,optional"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		CacheFile:   DefaultCacheFile(),
		LoadTimeout: dircache.DefaultLoadTimeout,
		SaveTimeout: dircache.DefaultSaveTimeout,
		LogLevel:    "info",
		LogFormat:   "console",
	}
}

// DefaultCacheFile is $XDG_CACHE_HOME/indu/cache.json, or the platform user
// cache directory.
func DefaultCacheFile() string {
	dir := os.Getenv("XDG_CACHE_HOME")
	if dir == "" {
		var err error
		if dir, err = os.UserCacheDir(); err != nil {
			dir = os.TempDir()
		}
	}
	return filepath.Join(dir, "indu", "cache.json")
}

// DefaultPath is the config file read when none is given.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "indu", "indu.hcl")
}

// Load applies the file at path over the defaults. A missing file is not an
// error. The file name must end in .hcl or .json.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}

	var f file
	if err := hclsimple.DecodeFile(path, nil, &f); err != nil {
		return cfg, fmt.Errorf("load config %s: %w", path, err)
	}

	if f.CacheFile != "" {
		cfg.CacheFile = f.CacheFile
	}
	if f.LoadTimeout != "" {
		d, err := time.ParseDuration(f.LoadTimeout)
		if err != nil {
			return cfg, fmt.Errorf("load_timeout: %w", err)
		}
		cfg.LoadTimeout = d
	}
	if f.SaveTimeout != "" {
		d, err := time.ParseDuration(f.SaveTimeout)
		if err != nil {
			return cfg, fmt.Errorf("save_timeout: %w", err)
		}
		cfg.SaveTimeout = d
	}
	cfg.OneFileSystem = f.OneFileSystem
	cfg.ExcludeKernFS = f.ExcludeKernFS
	cfg.Extended = f.Extended
	if f.LogLevel != "" {
		cfg.LogLevel = f.LogLevel
	}
	if f.LogFormat != "" {
		cfg.LogFormat = f.LogFormat
	}
	cfg.MetricsFile = f.MetricsFile

	return cfg, cfg.Validate()
}

// Validate checks values that cannot be caught by decoding.
func (c Config) Validate() error {
	if c.CacheFile == "" {
		return errors.New("cache_file: must not be empty")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level: unknown level %q", c.LogLevel)
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("log_format: unknown format %q", c.LogFormat)
	}
	return nil
}
