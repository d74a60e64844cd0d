package draftsync

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/jdziat/simple-draft-sync/pkg/backoff"
	"github.com/jdziat/simple-draft-sync/pkg/core"
	"github.com/jdziat/simple-draft-sync/pkg/remote"
)

type pushMode int

const (
	pushNone pushMode = iota
	pushSSE
	pushWebSocket
)

type config struct {
	baseURL       string
	tokens        core.TokenProvider
	httpClient    *http.Client
	store         core.LocalStore
	logger        *slog.Logger
	debounce      time.Duration
	pollInterval  time.Duration
	jobTimeout    time.Duration
	push          core.PushSource
	mode          pushMode
	reconnect     time.Duration
	offline       *backoff.Config
	submitRetry   *backoff.RetryConfig
	docs          core.DocumentService
	jobs          core.JobService
	recoverOnOpen bool
}

func defaultConfig() *config {
	return &config{
		baseURL:       remote.DefaultBaseURL,
		logger:        slog.Default(),
		recoverOnOpen: true,
	}
}

// Option configures a Client.
type Option interface {
	Apply(*config)
}

type optionFunc func(*config)

func (f optionFunc) Apply(c *config) { f(c) }

// WithBaseURL sets the root URL of the document and job services.
func WithBaseURL(u string) Option {
	return optionFunc(func(c *config) {
		c.baseURL = u
	})
}

// WithToken sets a fixed bearer token.
func WithToken(token string) Option {
	return optionFunc(func(c *config) {
		c.tokens = core.StaticToken(token)
	})
}

// WithTokenProvider sets the credential source. Providers that also
// implement TokenRefresher get one refresh when a request is rejected.
func WithTokenProvider(p core.TokenProvider) Option {
	return optionFunc(func(c *config) {
		c.tokens = p
	})
}

// WithHTTPClient sets the HTTP client for REST calls.
func WithHTTPClient(hc *http.Client) Option {
	return optionFunc(func(c *config) {
		c.httpClient = hc
	})
}

// WithLocalStore sets where offline edits are kept. The default keeps them
// in memory.
func WithLocalStore(s core.LocalStore) Option {
	return optionFunc(func(c *config) {
		c.store = s
	})
}

// WithLogger sets the logger for every component.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(c *config) {
		if l != nil {
			c.logger = l
		}
	})
}

// WithDebounce sets the autosave quiet period.
func WithDebounce(d time.Duration) Option {
	return optionFunc(func(c *config) {
		c.debounce = d
	})
}

// WithPollInterval sets the job polling interval.
func WithPollInterval(d time.Duration) Option {
	return optionFunc(func(c *config) {
		c.pollInterval = d
	})
}

// WithJobTimeout sets the ceiling after which an unfinished job is failed.
func WithJobTimeout(d time.Duration) Option {
	return optionFunc(func(c *config) {
		c.jobTimeout = d
	})
}

// WithPushSource sets a custom push channel.
func WithPushSource(p core.PushSource) Option {
	return optionFunc(func(c *config) {
		c.push = p
		c.mode = pushNone
	})
}

// WithSSE receives job updates over Server-Sent Events from the base URL.
func WithSSE() Option {
	return optionFunc(func(c *config) {
		c.push = nil
		c.mode = pushSSE
	})
}

// WithWebSocket receives job updates over a WebSocket from the base URL.
func WithWebSocket() Option {
	return optionFunc(func(c *config) {
		c.push = nil
		c.mode = pushWebSocket
	})
}

// WithPushReconnect sets the delay between push reconnect attempts.
func WithPushReconnect(d time.Duration) Option {
	return optionFunc(func(c *config) {
		c.reconnect = d
	})
}

// WithOfflineBackoff configures offline replay backoff.
func WithOfflineBackoff(b backoff.Config) Option {
	return optionFunc(func(c *config) {
		c.offline = &b
	})
}

// WithSubmitRetry configures submission retries.
func WithSubmitRetry(r backoff.RetryConfig) Option {
	return optionFunc(func(c *config) {
		c.submitRetry = &r
	})
}

// WithServices replaces the REST client with custom service implementations.
func WithServices(docs core.DocumentService, jobs core.JobService) Option {
	return optionFunc(func(c *config) {
		c.docs = docs
		c.jobs = jobs
	})
}

// WithRecover controls whether New loads queued offline edits. It is on by
// default.
func WithRecover(enabled bool) Option {
	return optionFunc(func(c *config) {
		c.recoverOnOpen = enabled
	})
}
