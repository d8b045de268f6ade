package sqlite

import "time"

const DefaultTable = "rw_locks"

// Config holds the configuration for the sqlite lock store.
type Config struct {
	// Table holding one row per lock document.
	Table string

	// PollInterval is how often the revisions of watched documents are
	// compared to detect changes made by other processes.
	PollInterval time.Duration

	// BusyTimeout is how long a connection waits for the database lock.
	BusyTimeout time.Duration
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

// WithTable returns an option that sets the table name.
func WithTable(value string) Option {
	return OptionFunc(func(c *Config) {
		if value != "" {
			c.Table = value
		}
	})
}

// WithPollInterval returns an option that sets the change poll interval.
func WithPollInterval(value time.Duration) Option {
	return OptionFunc(func(c *Config) {
		if value > 0 {
			c.PollInterval = value
		}
	})
}

// WithBusyTimeout returns an option that sets the busy timeout.
func WithBusyTimeout(value time.Duration) Option {
	return OptionFunc(func(c *Config) {
		if value > 0 {
			c.BusyTimeout = value
		}
	})
}
