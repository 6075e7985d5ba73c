package config

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 0.02, cfg.Budget.CapUSD)
	assert.Equal(t, 3, cfg.Posting.MaxRetries)
	assert.Equal(t, 85, cfg.Images.JPEGQuality)
}

func TestSaveLoadRoundTripWithEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "threadify.yaml")
	cfg := Default()
	cfg.Budget.CapUSD = 0.05
	cfg.Canonical.FollowRedirects = true
	require.NoError(t, Save(path, cfg))

	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("X_API_MAX_ATTEMPTS", "7")
	t.Setenv("THREADIFY_DB_PATH", filepath.Join(dir, "x.db"))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.05, got.Budget.CapUSD)
	assert.True(t, got.Canonical.FollowRedirects)
	assert.Equal(t, "sk-test", got.LLM.APIKey)
	assert.Equal(t, 7, got.X.MaxAttempts)
	assert.Equal(t, filepath.Join(dir, "x.db"), got.Storage.DBPath)
}

func TestLoadMissingFileFallsBackToDefault(t *testing.T) {
	got, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().X.APIBaseURL, got.X.APIBaseURL)
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("budget: [unclosed"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative cap", func(c *Config) { c.Budget.CapUSD = -1 }},
		{"zero retries", func(c *Config) { c.Posting.MaxRetries = 0 }},
		{"quality", func(c *Config) { c.Images.JPEGQuality = 101 }},
		{"widths", func(c *Config) { c.Images.MinWidth = 2000 }},
		{"redirects", func(c *Config) { c.Canonical.MaxRedirects = -1 }},
		{"aes key", func(c *Config) { c.Security.AESKey = "short" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSecurityKeyDecoding(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	for _, enc := range []string{
		base64.StdEncoding.EncodeToString(key),
		base64.RawURLEncoding.EncodeToString(key),
		"000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f",
	} {
		got, err := SecurityConfig{AESKey: enc}.Key()
		require.NoError(t, err, enc)
		assert.Equal(t, key, got)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("THREADIFY_DOTENV_CHECK=yes\n"), 0o644))
	t.Cleanup(func() { _ = os.Unsetenv("THREADIFY_DOTENV_CHECK") })

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "yes", os.Getenv("THREADIFY_DOTENV_CHECK"))
	assert.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env")))
}
