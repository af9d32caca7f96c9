// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port           string
	DBPath         string
	MediaDir       string
	DebounceWindow time.Duration
	ScanInterval   time.Duration
	SessionTTL     time.Duration
	MinMedia       int
	MaxMedia       int
	Anthropic      AnthropicConfig
	WhatsApp       WhatsAppConfig
}

// AnthropicConfig holds extraction-engine settings.
type AnthropicConfig struct {
	APIKey string
	Model  string
}

// WhatsAppConfig holds WhatsApp Cloud API settings.
type WhatsAppConfig struct {
	AccessToken   string
	PhoneNumberID string
	VerifyToken   string
	AppSecret     string // empty disables webhook signature verification (dev mode)
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		DBPath:         getEnv("DB_PATH", "./data/lotline.db"),
		MediaDir:       getEnv("MEDIA_DIR", "./data/media"),
		DebounceWindow: getEnvDuration("DEBOUNCE_WINDOW", 25*time.Second),
		ScanInterval:   getEnvDuration("SCAN_INTERVAL", 10*time.Second),
		SessionTTL:     getEnvDuration("SESSION_TTL", time.Hour),
		MinMedia:       getEnvInt("MIN_MEDIA", 5),
		MaxMedia:       getEnvInt("MAX_MEDIA", 12),
		Anthropic: AnthropicConfig{
			APIKey: getEnv("ANTHROPIC_API_KEY", ""),
			Model:  getEnv("ANTHROPIC_MODEL", "claude-3-5-sonnet-20241022"),
		},
		WhatsApp: WhatsAppConfig{
			AccessToken:   getEnv("WA_ACCESS_TOKEN", ""),
			PhoneNumberID: getEnv("WA_PHONE_NUMBER_ID", ""),
			VerifyToken:   getEnv("WA_VERIFY_TOKEN", ""),
			AppSecret:     getEnv("WA_APP_SECRET", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.MediaDir == "" {
		return fmt.Errorf("MEDIA_DIR cannot be empty")
	}
	if c.DebounceWindow <= 0 {
		return fmt.Errorf("DEBOUNCE_WINDOW must be > 0")
	}
	if c.ScanInterval <= 0 {
		return fmt.Errorf("SCAN_INTERVAL must be > 0")
	}
	if c.SessionTTL < c.DebounceWindow {
		return fmt.Errorf("SESSION_TTL must be at least the debounce window")
	}
	if c.MinMedia < 1 {
		return fmt.Errorf("MIN_MEDIA must be >= 1")
	}
	if c.MaxMedia < c.MinMedia {
		return fmt.Errorf("MAX_MEDIA must be >= MIN_MEDIA")
	}
	if c.Anthropic.APIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY cannot be empty")
	}
	if c.WhatsApp.AccessToken == "" {
		return fmt.Errorf("WA_ACCESS_TOKEN cannot be empty")
	}
	if c.WhatsApp.PhoneNumberID == "" {
		return fmt.Errorf("WA_PHONE_NUMBER_ID cannot be empty")
	}
	if c.WhatsApp.VerifyToken == "" {
		return fmt.Errorf("WA_VERIFY_TOKEN cannot be empty")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
