package client

import (
	"os"
	"time"
)

// Config is the request-client configuration threaded through every view.
type Config struct {
	BaseURL   string        `json:"base_url"`
	Timeout   time.Duration `json:"timeout"`
	UserAgent string        `json:"user_agent"`
}

// DefaultConfig returns the configuration for a backend on the local machine.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:   "http://localhost:8000",
		Timeout:   30 * time.Second,
		UserAgent: "tmx-go",
	}
}

// LoadConfigFromEnv loads client configuration from environment variables
func LoadConfigFromEnv() *Config {
	config := DefaultConfig()

	if apiURL := os.Getenv("TMX_API_URL"); apiURL != "" {
		config.BaseURL = apiURL
	}

	if timeout := os.Getenv("TMX_API_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Timeout = d
		}
	}

	if ua := os.Getenv("TMX_USER_AGENT"); ua != "" {
		config.UserAgent = ua
	}

	return config
}
