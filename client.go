package draftsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/jdziat/simple-draft-sync/pkg/bus"
	"github.com/jdziat/simple-draft-sync/pkg/core"
	"github.com/jdziat/simple-draft-sync/pkg/docsync"
	"github.com/jdziat/simple-draft-sync/pkg/localstore"
	"github.com/jdziat/simple-draft-sync/pkg/push"
	"github.com/jdziat/simple-draft-sync/pkg/remote"
	"github.com/jdziat/simple-draft-sync/pkg/tracker"
)

// Client keeps documents in sync and tracks the jobs their submissions start.
type Client struct {
	docs    core.DocumentService
	events  *bus.Bus
	engine  *docsync.Engine
	tracker *tracker.Tracker
	logger  *slog.Logger
}

// New wires a Client. Without WithServices it talks REST to the base URL.
func New(opts ...Option) (*Client, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt.Apply(cfg)
	}

	docs, jobs := cfg.docs, cfg.jobs
	if docs == nil || jobs == nil || cfg.mode != pushNone {
		u, err := url.Parse(cfg.baseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("draftsync: invalid base url %q", cfg.baseURL)
		}
	}
	if docs == nil || jobs == nil {
		remoteOpts := []remote.Option{remote.WithLogger(cfg.logger)}
		if cfg.httpClient != nil {
			remoteOpts = append(remoteOpts, remote.WithHTTPClient(cfg.httpClient))
		}
		rc := remote.New(cfg.baseURL, cfg.tokens, remoteOpts...)
		if docs == nil {
			docs = rc
		}
		if jobs == nil {
			jobs = rc
		}
	}

	store := cfg.store
	if store == nil {
		store = localstore.NewMemoryStore()
	}

	events := bus.New(bus.WithLogger(cfg.logger))

	source := cfg.push
	pushOpts := []push.Option{push.WithLogger(cfg.logger)}
	if cfg.reconnect > 0 {
		pushOpts = append(pushOpts, push.WithReconnectDelay(cfg.reconnect))
	}
	switch cfg.mode {
	case pushSSE:
		source = push.NewSSE(cfg.baseURL, cfg.tokens, pushOpts...)
	case pushWebSocket:
		source = push.NewWebSocket(cfg.baseURL, cfg.tokens, pushOpts...)
	}

	engineOpts := []docsync.Option{docsync.WithLogger(cfg.logger)}
	if cfg.debounce > 0 {
		engineOpts = append(engineOpts, docsync.WithDebounce(cfg.debounce))
	}
	if cfg.offline != nil {
		engineOpts = append(engineOpts, docsync.WithOfflineBackoff(*cfg.offline))
	}
	if cfg.submitRetry != nil {
		engineOpts = append(engineOpts, docsync.WithSubmitRetry(*cfg.submitRetry))
	}
	engine := docsync.New(docs, store, events, engineOpts...)

	trackerOpts := []tracker.Option{
		tracker.WithLogger(cfg.logger),
		tracker.WithLifecycle(engine),
	}
	if cfg.pollInterval > 0 {
		trackerOpts = append(trackerOpts, tracker.WithPollInterval(cfg.pollInterval))
	}
	if cfg.jobTimeout > 0 {
		trackerOpts = append(trackerOpts, tracker.WithTimeout(cfg.jobTimeout))
	}
	if source != nil {
		trackerOpts = append(trackerOpts, tracker.WithPushSource(source))
	}

	c := &Client{
		docs:    docs,
		events:  events,
		engine:  engine,
		tracker: tracker.New(jobs, events, trackerOpts...),
		logger:  cfg.logger,
	}

	if cfg.recoverOnOpen {
		n, err := engine.Recover(context.Background())
		if err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("draftsync: recover offline edits: %w", err)
		}
		if n > 0 {
			cfg.logger.Info("recovered offline edits", "count", n)
		}
	}
	return c, nil
}

// Create creates a document remotely and opens it for editing.
func (c *Client) Create(ctx context.Context, fields *Fields) (*Document, error) {
	return c.engine.Create(ctx, fields)
}

// Open loads a document from the service and opens it for editing.
func (c *Client) Open(ctx context.Context, id string) (*Document, error) {
	return c.engine.Open(ctx, id)
}

// Save merges fields into an open document and schedules a debounced write.
func (c *Client) Save(id string, fields map[string]any) error {
	return c.engine.Save(id, fields)
}

// Flush writes pending edits of a document now.
func (c *Client) Flush(ctx context.Context, id string) error {
	return c.engine.Flush(ctx, id)
}

// Reload resolves a conflict by adopting the server copy and re-applying
// unsynced edits.
func (c *Client) Reload(ctx context.Context, id string) (*Document, error) {
	return c.engine.Reload(ctx, id)
}

// Submit writes pending edits, starts the document's job and tracks it.
func (c *Client) Submit(ctx context.Context, id string) (JobHandle, error) {
	handle, err := c.engine.Submit(ctx, id)
	if err != nil {
		return handle, err
	}
	if err := c.tracker.Track(handle.JobID, handle.DocumentID); err != nil {
		return handle, fmt.Errorf("track job %s: %w", handle.JobID, err)
	}
	return handle, nil
}

// GetDocument returns a copy of an open document.
func (c *Client) GetDocument(id string) (*Document, error) {
	return c.engine.GetDocument(id)
}

// State returns the write state of an open document.
func (c *Client) State(id string) (WriteState, error) {
	return c.engine.State(id)
}

// Conflict returns the unresolved conflict of a document, if any.
func (c *Client) Conflict(id string) *ConflictError {
	return c.engine.Conflict(id)
}

// ListDocuments lists documents on the service.
func (c *Client) ListDocuments(ctx context.Context, opts ListOptions) (*DocumentList, error) {
	return c.docs.ListDocuments(ctx, opts)
}

// Delete deletes a document remotely and locally.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.engine.Delete(ctx, id)
}

// Track follows a job started elsewhere.
func (c *Client) Track(jobID, documentID string) error {
	return c.tracker.Track(jobID, documentID)
}

// GetJobStatus returns the tracked state of a job.
func (c *Client) GetJobStatus(jobID string) (Job, bool) {
	return c.tracker.GetJobStatus(jobID)
}

// Jobs returns every tracked job.
func (c *Client) Jobs() []Job {
	return c.tracker.Jobs()
}

// Cancel cancels a job remotely and locally.
func (c *Client) Cancel(ctx context.Context, jobID string) error {
	return c.tracker.Cancel(ctx, jobID)
}

// Stop stops tracking a job without cancelling it.
func (c *Client) Stop(jobID string) {
	c.tracker.Stop(jobID)
}

// Retry reruns a finished job and tracks it again.
func (c *Client) Retry(ctx context.Context, jobID, documentID string) error {
	return c.tracker.Retry(ctx, jobID, documentID)
}

// Subscribe registers fn for events named name, or every event for Wildcard.
func (c *Client) Subscribe(name string, fn Handler) *Subscription {
	return c.events.Subscribe(name, fn)
}

// Unsubscribe removes a subscription.
func (c *Client) Unsubscribe(sub *Subscription) bool {
	return c.events.Unsubscribe(sub)
}

// Listen calls fn for job events of jobID, or of every job for Wildcard.
func (c *Client) Listen(jobID string, fn func(JobEvent)) *Subscription {
	return c.tracker.Listen(jobID, fn)
}

// Events returns a channel of events named name. Events are dropped when the
// buffer is full.
func (c *Client) Events(name string, buffer int) (<-chan Event, *Subscription) {
	return c.events.Stream(name, buffer)
}

// QueuedEdits lists offline edits in capture order.
func (c *Client) QueuedEdits(ctx context.Context) ([]OfflineEdit, error) {
	return c.engine.QueuedEdits(ctx)
}

// Recover loads queued offline edits into the engine.
func (c *Client) Recover(ctx context.Context) (int, error) {
	return c.engine.Recover(ctx)
}

// FlushOfflineQueue replays queued offline edits oldest first.
func (c *Client) FlushOfflineQueue(ctx context.Context) error {
	return c.engine.FlushOfflineQueue(ctx)
}

// NotifyOnline hints that connectivity is back and replays the offline queue.
func (c *Client) NotifyOnline() {
	c.engine.NotifyOnline()
}

// RunReconciler replays the offline queue on s until ctx is done.
func (c *Client) RunReconciler(ctx context.Context, s Schedule) error {
	return c.engine.RunReconciler(ctx, s)
}

// Close stops job tracking and persists unsynced edits.
func (c *Client) Close() error {
	return errors.Join(c.tracker.Close(), c.engine.Close())
}
