package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	ShowThinking bool           `mapstructure:"show_thinking"`
	Backend      BackendConfig  `mapstructure:"backend"`
	Supabase     SupabaseConfig `mapstructure:"supabase"`
	Speech       SpeechConfig   `mapstructure:"speech"`
	Logging      LoggingConfig  `mapstructure:"logging"`
}

// BackendConfig holds settings for the tutoring backend the client streams
// chat completions from.
type BackendConfig struct {
	URL        string        `mapstructure:"url"`
	Timeout    time.Duration `mapstructure:"-"`
	TimeoutStr string        `mapstructure:"timeout"`
}

// SupabaseConfig holds settings for the hosted relational store that keeps
// sessions and messages.
type SupabaseConfig struct {
	URL         string `mapstructure:"url"`
	AnonKey     string `mapstructure:"anon_key"`
	AccessToken string `mapstructure:"access_token"`
}

// SpeechConfig holds text-to-speech settings.
type SpeechConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	Provider     string  `mapstructure:"provider"` // google or backend
	GoogleAPIKey string  `mapstructure:"google_api_key"`
	Voice        string  `mapstructure:"voice"`
	LanguageCode string  `mapstructure:"language_code"`
	SpeakingRate float64 `mapstructure:"speaking_rate"`
	PlayerCmd    string  `mapstructure:"player_cmd"`
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	LogFile string `mapstructure:"log_file"`
	Persist bool   `mapstructure:"persist"`
	Level   string `mapstructure:"level"`
}

var cfg *Config

// Get returns the global config instance
func Get() *Config {
	if cfg == nil {
		panic("config not initialized")
	}
	return cfg
}

// Load loads configuration from file and environment
func Load(cfgFile string) (*Config, error) {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		viper.AddConfigPath("./.knowtide")
		viper.AddConfigPath(filepath.Join(home, ".knowtide"))
		viper.SetConfigType("yaml")
		viper.SetConfigName("settings")
	}

	viper.SetEnvPrefix("KNOWTIDE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Missing config file is fine, defaults and env cover it
	_ = viper.ReadInConfig()

	cfg = &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := processDurations(cfg); err != nil {
		return nil, fmt.Errorf("failed to process durations: %w", err)
	}

	return cfg, nil
}

func setDefaults() {
	viper.SetDefault("show_thinking", true)

	viper.SetDefault("backend.url", "http://localhost:8000")
	viper.SetDefault("backend.timeout", "90s")

	viper.SetDefault("supabase.url", "")
	viper.SetDefault("supabase.anon_key", "")
	viper.SetDefault("supabase.access_token", "")

	viper.SetDefault("speech.enabled", false)
	viper.SetDefault("speech.provider", "google")
	viper.SetDefault("speech.voice", "en-US-Standard-A")
	viper.SetDefault("speech.language_code", "en-US")
	viper.SetDefault("speech.speaking_rate", 1.0)
	viper.SetDefault("speech.player_cmd", "")

	viper.SetDefault("logging.log_file", "./.knowtide/system.log")
	viper.SetDefault("logging.persist", false)
	viper.SetDefault("logging.level", "info")
}

// processDurations parses string durations into time.Duration fields, which
// viper does not handle directly.
func processDurations(cfg *Config) error {
	if cfg.Backend.TimeoutStr != "" {
		d, err := time.ParseDuration(cfg.Backend.TimeoutStr)
		if err != nil {
			return fmt.Errorf("invalid backend.timeout %q: %w", cfg.Backend.TimeoutStr, err)
		}
		cfg.Backend.Timeout = d
	}
	return nil
}

// BuildSettingsPath resolves a filename relative to the settings directory.
func BuildSettingsPath(filename string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".knowtide", filename)
	}
	return filepath.Join(home, ".knowtide", filename)
}

// SetForTesting installs a config instance directly, bypassing viper.
func SetForTesting(c *Config) {
	cfg = c
}
