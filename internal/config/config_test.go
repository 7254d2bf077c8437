package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "indu.hcl")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", "/tmp/xdg")
	cfg := Default()
	assert.Equal(t, "/tmp/xdg/indu/cache.json", cfg.CacheFile)
	assert.Equal(t, 5*time.Second, cfg.LoadTimeout)
	assert.Equal(t, 10*time.Second, cfg.SaveTimeout)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "console", cfg.LogFormat)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingFileIsDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.hcl"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
cache_file      = "/data/cache.json"
load_timeout    = "250ms"
save_timeout    = "-1s"
one_file_system = true
exclude_kernfs  = true
extended        = true
log_level       = "debug"
log_format      = "json"
metrics_file    = "/data/indu.prom"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Config{
		CacheFile:     "/data/cache.json",
		LoadTimeout:   250 * time.Millisecond,
		SaveTimeout:   -time.Second,
		OneFileSystem: true,
		ExcludeKernFS: true,
		Extended:      true,
		LogLevel:      "debug",
		LogFormat:     "json",
		MetricsFile:   "/data/indu.prom",
	}, cfg)
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `log_level = "warn"`))
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, Default().CacheFile, cfg.CacheFile)
	assert.Equal(t, 5*time.Second, cfg.LoadTimeout)
}

func TestLoad_Errors(t *testing.T) {
	for name, tc := range map[string]struct {
		body string
		want string
	}{
		"bad duration": {`load_timeout = "soon"`, "load_timeout"},
		"bad save":     {`save_timeout = "1 minute"`, "save_timeout"},
		"bad level":    {`log_level = "loud"`, "log_level"},
		"bad format":   {`log_format = "xml"`, "log_format"},
		"unknown":      {`colour = true`, "colour"},
		"syntax":       {`cache_file = `, "indu.hcl"},
		"wrong type":   {`one_file_system = "maybe"`, "indu.hcl"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}
