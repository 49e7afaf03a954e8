package jetbridge

import "time"

const (
	DefaultRetryDelay = 1000 * time.Millisecond
	DefaultMaxRetries = 10
)

// Config describes one consumer session. Conn, Stream and Consumer are
// required; the rest is defaulted by ValidateAndSetDefaults.
type Config struct {
	Conn     Conn
	Stream   string
	Consumer string

	// RetryDelay is the fixed wait between connect attempts.
	RetryDelay time.Duration
	// MaxRetries bounds how many times a failed connect is retried before
	// the session stops. Zero means DefaultMaxRetries.
	MaxRetries int
}

func (c *Config) ValidateAndSetDefaults() error {
	if c.Conn == nil {
		return ErrNoConn
	}
	if c.Stream == "" {
		return ErrEmptyStream
	}
	if c.Consumer == "" {
		return ErrEmptyConsumer
	}

	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}

	return nil
}
