package redis

import "time"

const (
	DefaultKeyPrefix  = "rwlock:doc:"
	DefaultIndexKey   = "rwlock:index"
	DefaultMaxRetries = 100
)

// Config holds the configuration for the redis lock store.
type Config struct {
	// KeyPrefix is prepended to the lock name to build the document key.
	KeyPrefix string

	// IndexKey names the set holding every lock name.
	IndexKey string

	// MaxRetries bounds the optimistic transaction retries of one update.
	MaxRetries int

	// RetryBackoff is the upper bound of the random pause between retries.
	RetryBackoff time.Duration
}

// Option configures a lock store instance.
type Option interface {
	Apply(*Config)
}

// OptionFunc is a function that configures a lock config.
type OptionFunc func(*Config)

// Apply calls f(config).
func (f OptionFunc) Apply(config *Config) {
	f(config)
}

// WithKeyPrefix returns an option that sets the document key prefix.
func WithKeyPrefix(value string) Option {
	return OptionFunc(func(c *Config) {
		if value != "" {
			c.KeyPrefix = value
		}
	})
}

// WithIndexKey returns an option that sets the name of the index set.
func WithIndexKey(value string) Option {
	return OptionFunc(func(c *Config) {
		if value != "" {
			c.IndexKey = value
		}
	})
}

// WithMaxRetries returns an option that sets the retry limit.
func WithMaxRetries(value int) Option {
	return OptionFunc(func(c *Config) {
		if value > 0 {
			c.MaxRetries = value
		}
	})
}

// WithRetryBackoff returns an option that sets the retry pause.
func WithRetryBackoff(value time.Duration) Option {
	return OptionFunc(func(c *Config) {
		c.RetryBackoff = value
	})
}
