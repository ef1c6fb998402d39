package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/aigency")
	t.Setenv("LLM_TIMEOUT", "30s")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("APP_URL", "https://app.example.com/")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.DatabaseDriver)
	assert.Equal(t, 30*time.Second, cfg.LLMTimeout)
	assert.Equal(t, 2, cfg.RedisDB)
	assert.Equal(t, "https://app.example.com", cfg.AppURL)
	assert.Equal(t, ":8080", cfg.HTTPListenAddr)
	assert.Equal(t, "https://graph.facebook.com/v21.0", cfg.GraphBaseURL())
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := strings.Join([]string{
		"database_driver: sqlite",
		"database_url: file.db",
		"log_level: debug",
		"http_listen_addr: ':9000'",
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.DatabaseDriver)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, ":9000", cfg.HTTPListenAddr)
}

func TestValidate(t *testing.T) {
	cfg := &Config{DatabaseDriver: "mysql", DatabaseURL: "x"}
	assert.Error(t, cfg.Validate())

	cfg = &Config{DatabaseDriver: "sqlite"}
	assert.Error(t, cfg.Validate())

	cfg = &Config{DatabaseDriver: "sqlite", DatabaseURL: ":memory:", EncryptionKey: "abc", LLMAPIKey: "k"}
	require.NoError(t, cfg.Validate())
	assert.Error(t, cfg.ValidateServe())

	cfg.EncryptionKey = testKey
	assert.NoError(t, cfg.ValidateServe())

	cfg.LLMAPIKey = ""
	assert.Error(t, cfg.ValidateServe())
}

func TestEncryptionKeyBytes(t *testing.T) {
	cfg := &Config{EncryptionKey: testKey}
	key, err := cfg.EncryptionKeyBytes()
	require.NoError(t, err)
	assert.Len(t, key, 32)

	cfg.EncryptionKey = "zz"
	_, err = cfg.EncryptionKeyBytes()
	assert.Error(t, err)
}
