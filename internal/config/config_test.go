package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestNewConfigDefaults(t *testing.T) {
	c := NewConfig()
	assert.Equal(t, "db.sqlite3", c.Sqlite.Dsn)
	assert.Equal(t, []string{"console", "file"}, c.Log.Writer)
	assert.Equal(t, "*", c.DevTools.URLPattern)
	assert.Zero(t, c.ProcessTimeout())

	opts := c.LoggerOptions()
	assert.Equal(t, "debug", opts.Level)
	assert.Equal(t, "logs/netintercept.log", opts.File.Path)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
sqlite:
  dsn: /tmp/journal.sqlite3
log:
  level: info
  writer: [console]
intercept:
  processTimeoutMS: 1500
devtools:
  target: page-1
metrics:
  addr: ":9464"
rules: rules.yaml
`)
	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/journal.sqlite3", c.Sqlite.Dsn)
	assert.Equal(t, "netintercept_", c.Sqlite.Prefix)
	assert.Equal(t, "info", c.Log.Level)
	assert.Equal(t, []string{"console"}, c.Log.Writer)
	assert.Equal(t, 50, c.Log.File.MaxSizeMB)
	assert.Equal(t, 1500*time.Millisecond, c.ProcessTimeout())
	assert.Equal(t, "http://127.0.0.1:9222", c.DevTools.URL)
	assert.Equal(t, "page-1", c.DevTools.Target)
	assert.Equal(t, ":9464", c.Metrics.Addr)
	assert.Equal(t, "rules.yaml", c.Rules)
}

func TestLoadErrors(t *testing.T) {
	tests := map[string]string{
		"negative timeout": "intercept:\n  processTimeoutMS: -1\n",
		"unknown writer":   "log:\n  writer: [syslog]\n",
		"bad yaml":         "log: [",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, content))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, NewConfig(), c)
}
