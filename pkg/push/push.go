package push

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jdziat/simple-draft-sync/pkg/core"
)

// DefaultReconnectDelay is the fixed wait between reconnect attempts.
const DefaultReconnectDelay = 5 * time.Second

type options struct {
	reconnectDelay time.Duration
	httpClient     *http.Client
	logger         *slog.Logger
	buffer         int
}

func defaultOptions() options {
	return options{
		reconnectDelay: DefaultReconnectDelay,
		httpClient:     &http.Client{},
		logger:         slog.Default(),
		buffer:         16,
	}
}

// Option configures a push source.
type Option func(*options)

// WithReconnectDelay sets the fixed delay between reconnect attempts.
func WithReconnectDelay(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.reconnectDelay = d
		}
	}
}

// WithHTTPClient sets the HTTP client used to open streams. It should not
// have an overall Timeout since streams are long-lived.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) {
		if hc != nil {
			o.httpClient = hc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithBuffer sets the update channel capacity.
func WithBuffer(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.buffer = n
		}
	}
}

// stream is one open connection.
type stream interface {
	Next(ctx context.Context) (core.JobUpdate, error)
	Close() error
}

type dialFunc func(ctx context.Context, jobID, token string) (stream, error)

func bearer(ctx context.Context, tokens core.TokenProvider) (string, error) {
	if tokens == nil {
		return "", core.ErrUnauthenticated
	}
	token, err := tokens.Token(ctx)
	if err != nil || strings.TrimSpace(token) == "" {
		return "", core.ErrUnauthenticated
	}
	return strings.TrimSpace(token), nil
}

// subscribe validates credentials then starts the reconnect loop.
func subscribe(ctx context.Context, o options, jobID string, tokens core.TokenProvider, dial dialFunc) (<-chan core.JobUpdate, error) {
	if _, err := bearer(ctx, tokens); err != nil {
		return nil, err
	}
	out := make(chan core.JobUpdate, o.buffer)
	go run(ctx, o, jobID, tokens, dial, out)
	return out, nil
}

func run(ctx context.Context, o options, jobID string, tokens core.TokenProvider, dial dialFunc, out chan<- core.JobUpdate) {
	defer close(out)
	log := o.logger.With("job_id", jobID)

	for ctx.Err() == nil {
		err := connectOnce(ctx, jobID, tokens, dial, out)
		if ctx.Err() != nil {
			return
		}
		log.Debug("push stream dropped, reconnecting", "error", err, "delay", o.reconnectDelay)

		timer := time.NewTimer(o.reconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func connectOnce(ctx context.Context, jobID string, tokens core.TokenProvider, dial dialFunc, out chan<- core.JobUpdate) error {
	token, err := bearer(ctx, tokens)
	if err != nil {
		return err
	}
	s, err := dial(ctx, jobID, token)
	if err != nil {
		return err
	}
	defer s.Close()

	for {
		u, err := s.Next(ctx)
		if err != nil {
			return err
		}
		if u.JobID == "" {
			u.JobID = jobID
		}
		if u.JobID != jobID {
			continue
		}
		u.Source = core.SourcePush
		select {
		case out <- u:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

var errStreamClosed = errors.New("push: stream closed by server")
