package poll

import "time"

// Config holds poller settings.
type Config struct {
	PollInterval time.Duration
}

// Option configures a poller.
type Option interface {
	Apply(*Config)
}

// OptionFunc adapts a function to Option.
type OptionFunc func(*Config)

// Apply calls f(config).
func (f OptionFunc) Apply(config *Config) {
	f(config)
}

// WithPollInterval sets how often revisions are compared.
func WithPollInterval(d time.Duration) Option {
	return OptionFunc(func(c *Config) {
		if d > 0 {
			c.PollInterval = d
		}
	})
}
