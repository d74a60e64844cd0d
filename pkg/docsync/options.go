package docsync

import (
	"log/slog"
	"time"

	"github.com/jdziat/simple-draft-sync/pkg/backoff"
)

// DefaultDebounce is the quiet period before an autosave write.
const DefaultDebounce = 2 * time.Second

// Option configures an Engine.
type Option interface {
	Apply(*Engine)
}

type optionFunc func(*Engine)

func (f optionFunc) Apply(e *Engine) { f(e) }

// WithDebounce sets the autosave debounce delay.
func WithDebounce(d time.Duration) Option {
	return optionFunc(func(e *Engine) {
		if d > 0 {
			e.debounce = d
		}
	})
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	})
}

// WithOfflineBackoff sets the offline queue retry schedule.
func WithOfflineBackoff(c backoff.Config) Option {
	return optionFunc(func(e *Engine) {
		e.offline = c
	})
}

// WithSubmitRetry sets the retry policy for the job-creation call.
func WithSubmitRetry(c backoff.RetryConfig) Option {
	return optionFunc(func(e *Engine) {
		e.submitRetry = c
	})
}

// WithClock replaces time.Now for timestamps.
func WithClock(now func() time.Time) Option {
	return optionFunc(func(e *Engine) {
		if now != nil {
			e.now = now
		}
	})
}
