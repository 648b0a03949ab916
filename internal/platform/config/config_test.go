package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 5*time.Second, cfg.Audit.WriteWindow)
	assert.Equal(t, 60*time.Second, cfg.Audit.ReadWindow)
	assert.Empty(t, cfg.Database.URL)
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "casetrail.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := writeFile(t, `
audit:
  write_window: 10s
  read_window: 2m
database:
  url: postgres://file/db
log:
  level: debug
  format: text
`)
	t.Setenv(EnvConfigPath, path)
	t.Setenv("CASETRAIL_DATABASE_URL", "postgres://env/db")
	t.Setenv("CASETRAIL_LOCK_ENABLED", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 10*time.Second, cfg.Audit.WriteWindow)
	assert.Equal(t, 2*time.Minute, cfg.Audit.ReadWindow)
	assert.Equal(t, "postgres://env/db", cfg.Database.URL, "env overrides the file")
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, 10, cfg.Database.MaxOpenConns, "unset fields keep defaults")
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		t.Setenv(EnvConfigPath, filepath.Join(t.TempDir(), "absent.yaml"))
		_, err := Load()
		assert.ErrorContains(t, err, "read config")
	})

	t.Run("bad duration", func(t *testing.T) {
		t.Setenv(EnvConfigPath, "")
		t.Setenv("CASETRAIL_WRITE_WINDOW", "soon")
		_, err := Load()
		assert.ErrorContains(t, err, "CASETRAIL_WRITE_WINDOW")
	})

	t.Run("lock without redis", func(t *testing.T) {
		t.Setenv(EnvConfigPath, "")
		t.Setenv("CASETRAIL_LOCK_ENABLED", "true")
		t.Setenv("CASETRAIL_REDIS_URL", "")
		_, err := Load()
		assert.ErrorContains(t, err, "requires redis.url")
	})
}

func TestLoadFile_InvalidYAML(t *testing.T) {
	_, err := LoadFile(writeFile(t, "audit: [not, a, map"))
	assert.ErrorContains(t, err, "parse config")
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.Audit.WriteWindow = 0
	cfg.Log.Format = "xml"

	err := cfg.Validate()

	assert.ErrorContains(t, err, "write_window")
	assert.ErrorContains(t, err, "log.format")
}

func TestValidate_ReadWindowWholeSeconds(t *testing.T) {
	cfg := Default()
	cfg.Audit.ReadWindow = 1500 * time.Millisecond
	assert.ErrorContains(t, cfg.Validate(), "whole number of seconds")

	cfg.Audit.ReadWindow = 90 * time.Second
	assert.NoError(t, cfg.Validate())
}

func TestValidate_LockWait(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 2*time.Second, cfg.Audit.LockWait)

	cfg.Audit.LockEnabled = true
	cfg.Redis.URL = "redis://localhost:6379/0"
	cfg.Audit.LockWait = -time.Second
	assert.ErrorContains(t, cfg.Validate(), "lock_wait")

	cfg.Audit.LockWait = 0
	assert.NoError(t, cfg.Validate())
}
