package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	valkey "github.com/valkey-io/valkey-go"
)

// DefaultValkeyAddr is used when TMX_VALKEY_ADDR is not set.
const DefaultValkeyAddr = "localhost:6379"

// ErrNotFound is returned by GetValue for a missing key.
var ErrNotFound = errors.New("key not found")

// KVStore defines the key/value and list operations our store supports.
type KVStore interface {
	// SetValue sets the given key to the specified value.
	SetValue(ctx context.Context, key, value string) error
	// SetValueWithTTL sets the given key to the specified value with a TTL in seconds.
	SetValueWithTTL(ctx context.Context, key, value string, ttlSeconds int) error
	// GetValue retrieves the value associated with the given key.
	GetValue(ctx context.Context, key string) (string, error)
	// GetTTL retrieves the remaining TTL in seconds for the given key.
	GetTTL(ctx context.Context, key string) (int, error)
	// SetExpire sets the TTL for an existing key in seconds.
	SetExpire(ctx context.Context, key string, ttlSeconds int) error
	// ListKeys retrieves all keys matching the given pattern.
	ListKeys(ctx context.Context, pattern string) ([]string, error)
	// DeleteValue removes the value associated with the given key.
	DeleteValue(ctx context.Context, key string) error
	// AppendList pushes values onto the tail of a list and returns its new length.
	AppendList(ctx context.Context, key string, values ...string) (int64, error)
	// ListRange returns the list elements between start and stop inclusive. Negative
	// indexes count from the tail.
	ListRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	// Close shuts down the underlying connection.
	Close() error
}

// Config selects the Valkey server.
type Config struct {
	Addr string `json:"addr"`
}

// DefaultConfig returns the configuration for a Valkey server on the local machine.
func DefaultConfig() *Config {
	return &Config{Addr: DefaultValkeyAddr}
}

// LoadConfigFromEnv loads store configuration from environment variables
func LoadConfigFromEnv() *Config {
	config := DefaultConfig()
	if addr := os.Getenv("TMX_VALKEY_ADDR"); addr != "" {
		config.Addr = addr
	}
	return config
}

// valkeyStore is a concrete implementation of KVStore using the valkey-go client.
type valkeyStore struct {
	client valkey.Client
}

// NewValkeyStore creates a new store connected to config.Addr.
func NewValkeyStore(config *Config) (KVStore, error) {
	if config == nil {
		config = DefaultConfig()
	}
	client, err := valkey.NewClient(valkey.ClientOption{InitAddress: []string{config.Addr}})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to valkey at %s: %w", config.Addr, err)
	}
	return &valkeyStore{client: client}, nil
}

func (s *valkeyStore) SetValue(ctx context.Context, key, value string) error {
	cmd := s.client.B().Set().Key(key).Value(value).Build()
	return s.client.Do(ctx, cmd).Error()
}

func (s *valkeyStore) SetValueWithTTL(ctx context.Context, key, value string, ttlSeconds int) error {
	cmd := s.client.B().Set().Key(key).Value(value).Ex(time.Duration(ttlSeconds) * time.Second).Build()
	return s.client.Do(ctx, cmd).Error()
}

func (s *valkeyStore) GetTTL(ctx context.Context, key string) (int, error) {
	cmd := s.client.B().Ttl().Key(key).Build()
	resp := s.client.Do(ctx, cmd)
	if err := resp.Error(); err != nil {
		return -1, fmt.Errorf("valkey TTL for key '%s' failed: %w", key, err)
	}

	ttl, err := resp.ToInt64()
	if err != nil {
		return -1, fmt.Errorf("failed to convert TTL reply to int64 for key '%s': %w", key, err)
	}
	return int(ttl), nil
}

func (s *valkeyStore) SetExpire(ctx context.Context, key string, ttlSeconds int) error {
	cmd := s.client.B().Expire().Key(key).Seconds(int64(ttlSeconds)).Build()
	return s.client.Do(ctx, cmd).Error()
}

func (s *valkeyStore) GetValue(ctx context.Context, key string) (string, error) {
	cmd := s.client.B().Get().Key(key).Build()
	resp := s.client.Do(ctx, cmd)
	if err := resp.Error(); err != nil {
		if valkey.IsValkeyNil(err) {
			return "", fmt.Errorf("%w: '%s'", ErrNotFound, key)
		}
		return "", fmt.Errorf("valkey GET for key '%s' failed: %w", key, err)
	}

	value, err := resp.ToString()
	if err != nil {
		return "", fmt.Errorf("failed to convert valkey reply to string for key '%s': %w", key, err)
	}
	return value, nil
}

func (s *valkeyStore) ListKeys(ctx context.Context, pattern string) ([]string, error) {
	cmd := s.client.B().Keys().Pattern(pattern).Build()
	resp := s.client.Do(ctx, cmd)
	if err := resp.Error(); err != nil {
		return nil, fmt.Errorf("valkey KEYS with pattern '%s' failed: %w", pattern, err)
	}

	keys, err := resp.AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to convert valkey KEYS reply for pattern '%s': %w", pattern, err)
	}
	return keys, nil
}

func (s *valkeyStore) DeleteValue(ctx context.Context, key string) error {
	cmd := s.client.B().Del().Key(key).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	return nil
}

func (s *valkeyStore) AppendList(ctx context.Context, key string, values ...string) (int64, error) {
	if len(values) == 0 {
		return 0, nil
	}
	cmd := s.client.B().Rpush().Key(key).Element(values...).Build()
	n, err := s.client.Do(ctx, cmd).ToInt64()
	if err != nil {
		return 0, fmt.Errorf("valkey RPUSH for key '%s' failed: %w", key, err)
	}
	return n, nil
}

func (s *valkeyStore) ListRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	cmd := s.client.B().Lrange().Key(key).Start(start).Stop(stop).Build()
	values, err := s.client.Do(ctx, cmd).AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("valkey LRANGE for key '%s' failed: %w", key, err)
	}
	return values, nil
}

// Close shuts down the underlying client connection.
func (s *valkeyStore) Close() error {
	s.client.Close()
	return nil
}
