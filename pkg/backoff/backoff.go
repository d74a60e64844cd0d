package backoff

import (
	"time"
)

// Config is an exponentially doubling delay schedule.
type Config struct {
	// Base is the delay before the first retry.
	// Default: 1s
	Base time.Duration

	// Max caps any single delay.
	// Default: 32s
	Max time.Duration

	// MaxAttempts bounds automatic retries. Zero means unbounded.
	// Default: 8
	MaxAttempts int
}

// DefaultConfig returns the default offline backoff configuration.
func DefaultConfig() Config {
	return Config{
		Base:        time.Second,
		Max:         32 * time.Second,
		MaxAttempts: 8,
	}
}

// NextDelay returns the delay to wait before retry number attempt (1-based):
// Base * 2^(attempt-1), never more than Max. Attempts below 1 yield Base.
func (c Config) NextDelay(attempt int) time.Duration {
	base := c.Base
	if base <= 0 {
		base = time.Second
	}
	max := c.Max
	if max <= 0 {
		max = 32 * time.Second
	}
	if base > max {
		return max
	}
	if attempt < 1 {
		return base
	}
	d := base
	for i := 1; i < attempt; i++ {
		if d >= max/2 {
			return max
		}
		d *= 2
	}
	return d
}

// Exhausted reports whether failures consecutive failures use up MaxAttempts.
func (c Config) Exhausted(failures int) bool {
	return c.MaxAttempts > 0 && failures >= c.MaxAttempts
}
