package lock

import (
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPollInterval    = 30 * time.Second
	DefaultReleaseTimeout  = 10 * time.Second
	DefaultResolveCacheTTL = 5 * time.Minute
)

// Config holds the configuration shared by every lock of a Factory.
type Config struct {
	// HostID identifies this service instance in queue entries.
	HostID string `yaml:"host_id"`

	// DefaultLifetime is the lease applied when an acquire call does not
	// set one. Zero disables the lease.
	DefaultLifetime time.Duration `yaml:"default_lifetime"`

	// PollInterval bounds every wait for a change notification so a lost
	// notification only delays a grant. Zero waits for notifications only.
	PollInterval time.Duration `yaml:"poll_interval"`

	// ReleaseTimeout bounds store calls that run detached from the caller:
	// removing an entry and the insert shared by concurrent Resolve calls.
	ReleaseTimeout time.Duration `yaml:"release_timeout"`

	// ResolveCacheTTL is how long Resolve remembers that a document exists.
	ResolveCacheTTL time.Duration `yaml:"resolve_cache_ttl"`

	IDGenerator IDGenerator `yaml:"-"`
	Observer    Observer    `yaml:"-"`
}

func defaultConfig() Config {
	return Config{
		HostID:          uuid.NewString(),
		PollInterval:    DefaultPollInterval,
		ReleaseTimeout:  DefaultReleaseTimeout,
		ResolveCacheTTL: DefaultResolveCacheTTL,
		IDGenerator:     XID(),
		Observer:        nopObserver{},
	}
}

// LoadConfig reads a YAML lock configuration on top of the defaults.
// Durations use Go duration syntax, e.g. "1m30s".
func LoadConfig(r io.Reader) (Config, error) {
	config := defaultConfig()
	if err := yaml.NewDecoder(r).Decode(&config); err != nil && err != io.EOF {
		return Config{}, fmt.Errorf("failed to decode lock config: %w", err)
	}
	if config.DefaultLifetime < 0 {
		return Config{}, fmt.Errorf("default_lifetime must not be negative, got %s", config.DefaultLifetime)
	}
	return config, nil
}

// Option configures a Factory.
type Option interface {
	Apply(*Config)
}

// OptionFunc is a function that configures a lock config.
type OptionFunc func(*Config)

// Apply calls f(config).
func (f OptionFunc) Apply(config *Config) {
	f(config)
}

// WithConfig replaces the whole configuration. Unset generator and
// observer keep their defaults.
func WithConfig(value Config) Option {
	return OptionFunc(func(c *Config) {
		if value.IDGenerator == nil {
			value.IDGenerator = c.IDGenerator
		}
		if value.Observer == nil {
			value.Observer = c.Observer
		}
		if value.HostID == "" {
			value.HostID = c.HostID
		}
		*c = value
	})
}

// WithHostID sets the id recorded in entries created by this factory.
func WithHostID(value string) Option {
	return OptionFunc(func(c *Config) {
		if value != "" {
			c.HostID = value
		}
	})
}

// WithDefaultLifetime sets the lease used when a call does not set one.
func WithDefaultLifetime(value time.Duration) Option {
	return OptionFunc(func(c *Config) {
		c.DefaultLifetime = value
	})
}

// WithPollInterval bounds waits for change notifications.
func WithPollInterval(value time.Duration) Option {
	return OptionFunc(func(c *Config) {
		c.PollInterval = value
	})
}

// WithReleaseTimeout bounds the store call that releases an entry.
func WithReleaseTimeout(value time.Duration) Option {
	return OptionFunc(func(c *Config) {
		c.ReleaseTimeout = value
	})
}

// WithResolveCacheTTL sets how long resolved names are remembered.
func WithResolveCacheTTL(value time.Duration) Option {
	return OptionFunc(func(c *Config) {
		c.ResolveCacheTTL = value
	})
}

// WithIDGenerator sets the request id generator.
func WithIDGenerator(value IDGenerator) Option {
	return OptionFunc(func(c *Config) {
		if value != nil {
			c.IDGenerator = value
		}
	})
}

// WithObserver sets the observer notified about waits and holds.
func WithObserver(value Observer) Option {
	return OptionFunc(func(c *Config) {
		if value != nil {
			c.Observer = value
		}
	})
}

// AcquireConfig holds per call settings.
type AcquireConfig struct {
	Lifetime time.Duration
}

// AcquireOption configures a single acquire call.
type AcquireOption interface {
	Apply(*AcquireConfig)
}

// AcquireOptionFunc is a function that configures an acquire call.
type AcquireOptionFunc func(*AcquireConfig)

// Apply calls f(config).
func (f AcquireOptionFunc) Apply(config *AcquireConfig) {
	f(config)
}

// WithLifetime sets the lease of the call. The lock is force released
// when the callback runs longer. Zero disables the lease.
func WithLifetime(value time.Duration) AcquireOption {
	return AcquireOptionFunc(func(c *AcquireConfig) {
		c.Lifetime = value
	})
}
