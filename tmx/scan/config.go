package scan

import (
	"os"
	"strconv"
	"time"
)

const (
	DefaultPollInterval    = 2000 * time.Millisecond
	DefaultCompletionDelay = 1500 * time.Millisecond
	DefaultMaxRetries      = 30
)

// Config controls the polling loop of a Lifecycle.
type Config struct {
	// PollInterval is the time between two status polls.
	PollInterval time.Duration `json:"poll_interval"`
	// CompletionDelay is the pause between reaching completed and calling OnComplete.
	CompletionDelay time.Duration `json:"completion_delay"`
	// MaxRetries is the number of consecutive failed polls tolerated. The watch
	// times out on the failure after that.
	MaxRetries int `json:"max_retries"`
	// TimeoutBudget, when set, replaces MaxRetries with TimeoutBudget/PollInterval.
	TimeoutBudget time.Duration `json:"timeout_budget"`
	// OnComplete is called once with the scan id after a scan completes.
	OnComplete func(scanID string) `json:"-"`
}

// DefaultConfig returns the dashboard's polling parameters.
func DefaultConfig() *Config {
	return &Config{
		PollInterval:    DefaultPollInterval,
		CompletionDelay: DefaultCompletionDelay,
		MaxRetries:      DefaultMaxRetries,
	}
}

// LoadConfigFromEnv loads polling configuration from environment variables
func LoadConfigFromEnv() *Config {
	config := DefaultConfig()

	if v := os.Getenv("TMX_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			config.PollInterval = d
		}
	}
	if v := os.Getenv("TMX_COMPLETION_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			config.CompletionDelay = d
		}
	}
	if v := os.Getenv("TMX_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			config.MaxRetries = n
		}
	}
	if v := os.Getenv("TMX_SCAN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			config.TimeoutBudget = d
		}
	}

	return config
}

// RetryCeiling returns the number of consecutive poll failures tolerated.
func (c *Config) RetryCeiling() int {
	if c.TimeoutBudget > 0 && c.PollInterval > 0 {
		return int(c.TimeoutBudget / c.PollInterval)
	}
	if c.MaxRetries < 0 {
		return 0
	}
	return c.MaxRetries
}

func (c *Config) withDefaults() *Config {
	out := *c
	if out.PollInterval <= 0 {
		out.PollInterval = DefaultPollInterval
	}
	if out.CompletionDelay < 0 {
		out.CompletionDelay = 0
	}
	return &out
}
