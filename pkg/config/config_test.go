package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))

	require.NoError(t, err)
	assert.True(t, cfg.ShowThinking)
	assert.Equal(t, "http://localhost:8000", cfg.Backend.URL)
	assert.Equal(t, 90*time.Second, cfg.Backend.Timeout)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Speech.Enabled)
	assert.Equal(t, "en-US", cfg.Speech.LanguageCode)
	assert.InDelta(t, 1.0, cfg.Speech.SpeakingRate, 0.001)
}

func TestLoadFromFile(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	content := []byte(`
backend:
  url: https://api.example.com
  timeout: 30s
speech:
  enabled: true
  provider: backend
logging:
  level: debug
`)
	require.NoError(t, os.WriteFile(path, content, 0644))

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com", cfg.Backend.URL)
	assert.Equal(t, 30*time.Second, cfg.Backend.Timeout)
	assert.True(t, cfg.Speech.Enabled)
	assert.Equal(t, "backend", cfg.Speech.Provider)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend:\n  timeout: nonsense\n"), 0644))

	_, err := Load(path)

	assert.Error(t, err)
}

func TestGetPanicsWhenUninitialized(t *testing.T) {
	prev := cfg
	cfg = nil
	t.Cleanup(func() { cfg = prev })

	assert.Panics(t, func() { Get() })
}
