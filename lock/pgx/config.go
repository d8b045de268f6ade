package pgx

const DefaultTable = "rw_locks"

// Config holds the configuration for the pgx lock store.
type Config struct {
	// Table holding one row per lock document.
	Table string
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
