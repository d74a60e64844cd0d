package tracker

import (
	"context"
	"log/slog"
	"time"

	"github.com/jdziat/simple-draft-sync/pkg/core"
	"github.com/jdziat/simple-draft-sync/pkg/security"
)

// Defaults
const (
	DefaultPollInterval = 2 * time.Second
	DefaultTimeout      = 30 * time.Minute
)

// Lifecycle receives document status changes driven by job progress.
type Lifecycle interface {
	MarkProcessing(ctx context.Context, documentID string) error
	MarkCompleted(ctx context.Context, documentID string, at time.Time) error
	MarkFailed(ctx context.Context, documentID string) error
}

// Option configures a Tracker.
type Option interface {
	Apply(*Tracker)
}

type optionFunc func(*Tracker)

func (f optionFunc) Apply(t *Tracker) { f(t) }

// WithPollInterval sets the status polling interval.
func WithPollInterval(d time.Duration) Option {
	return optionFunc(func(t *Tracker) {
		t.interval = security.ClampPollInterval(d)
	})
}

// WithTimeout sets the ceiling after which an unfinished job is failed.
func WithTimeout(d time.Duration) Option {
	return optionFunc(func(t *Tracker) {
		if d > 0 {
			t.timeout = d
		}
	})
}

// WithLifecycle connects document status updates.
func WithLifecycle(l Lifecycle) Option {
	return optionFunc(func(t *Tracker) {
		t.docs = l
	})
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(t *Tracker) {
		if l != nil {
			t.logger = l
		}
	})
}

// WithClock replaces time.Now for job timestamps.
func WithClock(now func() time.Time) Option {
	return optionFunc(func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	})
}

// WithPushSource adds an out-of-band update channel next to polling.
func WithPushSource(p core.PushSource) Option {
	return optionFunc(func(t *Tracker) {
		t.push = p
	})
}
