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
	path := filepath.Join(t.TempDir(), "tarot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_FromFile(t *testing.T) {
	path := writeConfig(t, `
http:
  addr: ":9090"
logger:
  level: debug
synthesis:
  baseUrl: "https://api.example.com"
  timeout: 45s
database:
  remoteDsn: "postgres://app@db/tarot"
  localPath: "/tmp/guest.db"
auth:
  jwtSecret: "s3cret"
access:
  freePerDay: 3
history:
  guestCap: 50
`)

	conf, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", conf.HTTP.Addr)
	assert.Equal(t, "debug", conf.Logger.Level)
	assert.Equal(t, "https://api.example.com", conf.Synthesis.BaseURL)
	assert.Equal(t, 45*time.Second, conf.Synthesis.Timeout)
	assert.Equal(t, "postgres://app@db/tarot", conf.Database.RemoteDSN)
	assert.Equal(t, 3, conf.Access.FreePerDay)
	assert.Equal(t, 50, conf.History.GuestCap)
	assert.Equal(t, 5*time.Second, conf.History.DedupWindow, "default survives partial file")
	assert.True(t, conf.Metrics.Enabled)
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("TAROT_JWT_SECRET", "s3cret")

	conf, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", conf.HTTP.Addr)
	assert.Equal(t, "info", conf.Logger.Level)
	assert.Empty(t, conf.Synthesis.BaseURL, "no backend configured by default")
	assert.Equal(t, 30*time.Second, conf.Synthesis.Timeout)
	assert.Equal(t, 1, conf.Access.FreePerDay)
	assert.Equal(t, 20, conf.History.GuestCap)
	assert.Equal(t, 8, conf.Access.CacheSizeMB)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("TAROT_JWT_SECRET", "s3cret")
	t.Setenv("TAROT_HTTP_ADDR", ":7070")
	t.Setenv("TAROT_LOG_LEVEL", "warn")
	t.Setenv("TAROT_SYNTHESIS_URL", "https://env.example.com")
	t.Setenv("TAROT_FREE_PER_DAY", "2")

	conf, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":7070", conf.HTTP.Addr)
	assert.Equal(t, "warn", conf.Logger.Level)
	assert.Equal(t, "https://env.example.com", conf.Synthesis.BaseURL)
	assert.Equal(t, 2, conf.Access.FreePerDay)
}

func TestLoad_MissingSecret(t *testing.T) {
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestLoad_BadLogLevel(t *testing.T) {
	t.Setenv("TAROT_JWT_SECRET", "s3cret")
	t.Setenv("TAROT_LOG_LEVEL", "loud")

	_, err := Load("")
	require.Error(t, err)
}

func TestSlogLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", Logger{Level: "debug"}.SlogLevel().String())
	assert.Equal(t, "INFO", Logger{Level: "info"}.SlogLevel().String())
	assert.Equal(t, "WARN", Logger{Level: "warn"}.SlogLevel().String())
	assert.Equal(t, "ERROR", Logger{Level: "error"}.SlogLevel().String())
}
