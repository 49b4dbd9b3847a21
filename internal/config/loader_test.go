package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	for _, env := range envBindings {
		t.Setenv(env, "")
	}
	cfg, err := Load(t.TempDir(), nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadReadsFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	content := `database:
  host: db.internal
  port: 6543
  dbname: occams
  max_conns: 12
log:
  level: debug
export:
  directory: /var/exports
loader:
  wait: 20ms
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o600))
	t.Setenv("DB_PASSWORD", "s3cret")
	t.Setenv("DB_HOST", "override.internal")

	cfg, err := Load(dir, nil)
	require.NoError(t, err)

	assert.Equal(t, "override.internal", cfg.Database.Host)
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.Equal(t, "occams", cfg.Database.DBName)
	assert.Equal(t, "s3cret", cfg.Database.Password)
	assert.Equal(t, int32(12), cfg.Database.MaxConns)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "/var/exports", cfg.Export.Directory)
	assert.Equal(t, 20*time.Millisecond, cfg.Loader.Wait)
}

func TestLoadRejectsUnknownLevel(t *testing.T) {
	t.Setenv("DATASTORE_LOG_LEVEL", "loud")
	_, err := Load(t.TempDir(), nil)
	require.Error(t, err)
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("database: [unclosed"), 0o600))
	_, err := Load(dir, nil)
	require.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for input, want := range cases {
		got, err := ParseLevel(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got, input)
	}
}
