package redis

import "time"

const DefaultPrefix = "rwlock:events:"

type Config struct {
	// Prefix of the per lock pub/sub channel.
	Prefix string

	HealthInterval time.Duration
	SendTimeout    time.Duration
	ChannelSize    int
}

// An Option configures a notifier instance.
type Option interface {
	Apply(*Config)
}

// OptionFunc is a function that configures a notifier config.
type OptionFunc func(*Config)

// Apply calls f(config).
func (f OptionFunc) Apply(config *Config) {
	f(config)
}

// WithPrefix returns an option that sets the channel prefix.
func WithPrefix(value string) Option {
	return OptionFunc(func(m *Config) {
		if value != "" {
			m.Prefix = value
		}
	})
}

// WithHealthCheckInterval specifies the interval after which the
// subscription pings the server when no message arrived.
// To disable health check, use zero interval.
func WithHealthCheckInterval(value time.Duration) Option {
	return OptionFunc(func(m *Config) {
		m.HealthInterval = value
	})
}

// WithSendTimeout specifies the timeout after which a message is dropped.
func WithSendTimeout(value time.Duration) Option {
	return OptionFunc(func(m *Config) {
		m.SendTimeout = value
	})
}

// WithSize specifies the Go chan size used to buffer incoming messages.
func WithSize(value int) Option {
	return OptionFunc(func(m *Config) {
		m.ChannelSize = value
	})
}
