package pgx

import "time"

const DefaultChannel = "rw_locks"

// Config holds the configuration of the postgres notifier.
type Config struct {
	// Channel is the LISTEN/NOTIFY channel shared by every lock.
	Channel string

	// RetryInterval is the pause after a failed wait for notifications.
	RetryInterval time.Duration
}

// Option configures a notifier instance.
type Option interface {
	Apply(*Config)
}

// OptionFunc is a function that configures a notifier config.
type OptionFunc func(*Config)

// Apply calls f(config).
func (f OptionFunc) Apply(config *Config) {
	f(config)
}

// WithChannel sets the notification channel name.
func WithChannel(value string) Option {
	return OptionFunc(func(c *Config) {
		if value != "" {
			c.Channel = value
		}
	})
}

// WithRetryInterval sets the pause after a failed wait.
func WithRetryInterval(value time.Duration) Option {
	return OptionFunc(func(c *Config) {
		c.RetryInterval = value
	})
}
