package docsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jdziat/simple-draft-sync/pkg/backoff"
	"github.com/jdziat/simple-draft-sync/pkg/bus"
	"github.com/jdziat/simple-draft-sync/pkg/core"
	"github.com/jdziat/simple-draft-sync/pkg/localstore"
	"github.com/jdziat/simple-draft-sync/pkg/security"
)

// Engine owns the open documents of one client.
type Engine struct {
	docs        core.DocumentService
	store       core.LocalStore
	events      *bus.Bus
	logger      *slog.Logger
	debounce    time.Duration
	offline     backoff.Config
	submitRetry backoff.RetryConfig
	now         func() time.Time
	afterFunc   func(time.Duration, func()) *time.Timer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	states map[string]*docState
	closed bool

	flushMu sync.Mutex

	retryMu    sync.Mutex
	failures   int
	retryTimer *time.Timer
	exhausted  bool
}

// New creates an Engine. A nil store keeps offline edits in memory only; a
// nil bus gets a private one.
func New(docs core.DocumentService, store core.LocalStore, events *bus.Bus, opts ...Option) *Engine {
	if store == nil {
		store = localstore.NewMemoryStore()
	}
	if events == nil {
		events = bus.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		docs:        docs,
		store:       store,
		events:      events,
		logger:      slog.Default(),
		debounce:    DefaultDebounce,
		offline:     backoff.DefaultConfig(),
		submitRetry: backoff.DefaultRetryConfig(),
		now:         time.Now,
		afterFunc:   time.AfterFunc,
		ctx:         ctx,
		cancel:      cancel,
		states:      make(map[string]*docState),
	}
	for _, opt := range opts {
		opt.Apply(e)
	}
	return e
}

// guarded wraps timer work so it never runs after Close and Close waits for it.
func (e *Engine) guarded(fn func(ctx context.Context)) func() {
	return func() {
		e.mu.Lock()
		if e.closed {
			e.mu.Unlock()
			return
		}
		e.wg.Add(1)
		e.mu.Unlock()
		defer e.wg.Done()
		fn(e.ctx)
	}
}

func (e *Engine) lookup(id string) (*docState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, core.ErrClosed
	}
	st, ok := e.states[id]
	if !ok {
		return nil, core.ErrDocumentNotTracked
	}
	return st, nil
}

// register stores st unless another goroutine registered the same id first.
func (e *Engine) register(st *docState) (*docState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, core.ErrClosed
	}
	if existing, ok := e.states[st.id]; ok {
		return existing, nil
	}
	e.states[st.id] = st
	return st, nil
}

// Create creates a document remotely and opens it.
func (e *Engine) Create(ctx context.Context, fields *core.Fields) (*core.Document, error) {
	if err := security.ValidateFields(fields.Map()); err != nil {
		return nil, err
	}
	doc, err := e.docs.CreateDocument(ctx, fields)
	if err != nil {
		return nil, err
	}
	st, err := e.register(newDocState(doc))
	if err != nil {
		return nil, err
	}
	e.logger.Debug("document created", "doc_id", doc.ID, "version", doc.Version)
	return e.snapshot(st), nil
}

// Open loads a document from the server. A stored OfflineEdit for it is laid
// on top at the version it was captured against and written after the
// debounce delay. Opening an open document returns the local copy.
func (e *Engine) Open(ctx context.Context, id string) (*core.Document, error) {
	if err := security.ValidateDocumentID(id); err != nil {
		return nil, err
	}
	if st, err := e.lookup(id); err == nil {
		return e.snapshot(st), nil
	} else if errors.Is(err, core.ErrClosed) {
		return nil, err
	}

	doc, err := e.docs.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	fresh := newDocState(doc)
	edit, err := e.loadEdit(ctx, id)
	if err != nil {
		e.logger.Warn("reading offline edit failed", "doc_id", id, "error", err)
	}
	st, err := e.register(fresh)
	if err != nil {
		return nil, err
	}
	if st == fresh && edit != nil {
		st.mu.Lock()
		st.doc.Version = edit.LocalVersion
		st.applyLocked(edit.Payload)
		st.queued = true
		st.capturedAt = edit.CapturedAt
		st.state = StatePendingWrite
		e.armLocked(st)
		st.mu.Unlock()
	}
	return e.snapshot(st), nil
}

// Save merges fields into the document and restarts the debounce timer. Only
// the last Save inside the window triggers a write. In the Conflict state
// edits are kept locally and nothing is written until Reload.
func (e *Engine) Save(id string, fields map[string]any) error {
	if err := security.ValidateFields(fields); err != nil {
		return err
	}
	st, err := e.lookup(id)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	st.applyLocked(fields)
	st.capturedAt = time.Time{}
	if st.state == StateConflict {
		e.logger.Debug("edit held until reload", "doc_id", id)
		return nil
	}
	if st.state == StateIdle {
		st.state = StatePendingWrite
	}
	e.armLocked(st)
	return nil
}

// armLocked (re)starts the debounce timer.
func (e *Engine) armLocked(st *docState) {
	st.stopTimerLocked()
	st.timer = time.AfterFunc(e.debounce, e.guarded(func(ctx context.Context) {
		e.autosave(ctx, st)
	}))
}

// Flush writes pending edits now and waits for the result.
func (e *Engine) Flush(ctx context.Context, id string) error {
	st, err := e.lookup(id)
	if err != nil {
		return err
	}
	return e.write(ctx, st)
}

// Reload replaces the local document with the server copy, lays unsynced
// edits back on top and schedules a write at the new version. It is the way
// out of the Conflict state.
func (e *Engine) Reload(ctx context.Context, id string) (*core.Document, error) {
	st, err := e.lookup(id)
	if err != nil {
		return nil, err
	}
	server, err := e.docs.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := e.awaitSettled(ctx, st); err != nil {
		return nil, err
	}
	defer st.mu.Unlock()

	st.adoptLocked(server, 0)
	st.conflict = nil
	st.lastErr = nil
	if len(st.dirty) > 0 {
		st.state = StatePendingWrite
		e.armLocked(st)
	} else {
		st.state = StateIdle
		st.stopTimerLocked()
	}
	e.logger.Debug("document reloaded", "doc_id", id, "version", st.doc.Version, "unsynced", len(st.dirty))
	return st.doc.Clone(), nil
}

// awaitSettled returns with st.mu held and no write in flight.
func (e *Engine) awaitSettled(ctx context.Context, st *docState) error {
	for {
		st.mu.Lock()
		if st.settled == nil {
			return nil
		}
		ch := st.settled
		st.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Submit flushes pending edits with a blocking write and starts the remote
// job. It fails with core.ErrNotReady while the document has an unresolved
// conflict. The job-creation call is retried for transient failures.
func (e *Engine) Submit(ctx context.Context, id string) (core.JobHandle, error) {
	st, err := e.lookup(id)
	if err != nil {
		return core.JobHandle{}, err
	}
	if err := e.write(ctx, st); err != nil {
		if errors.Is(err, core.ErrConflict) {
			return core.JobHandle{}, fmt.Errorf("%w: %w", core.ErrNotReady, err)
		}
		return core.JobHandle{}, fmt.Errorf("save before submit: %w", err)
	}

	var jobID string
	err = backoff.Retry(ctx, e.submitRetry, func(ctx context.Context) error {
		id, err := e.docs.SubmitDocument(ctx, st.id)
		if err != nil {
			e.logger.Warn("submit attempt failed", "doc_id", st.id, "error", err)
			return err
		}
		jobID = id
		return nil
	})
	if err != nil {
		return core.JobHandle{}, err
	}

	now := e.now()
	st.mu.Lock()
	st.doc.Status = core.DocumentSubmitted
	st.doc.SubmittedAt = &now
	st.mu.Unlock()

	e.logger.Info("document submitted", "doc_id", st.id, "job_id", jobID)
	return core.JobHandle{JobID: jobID, DocumentID: st.id}, nil
}

// GetDocument returns a copy of the local document.
func (e *Engine) GetDocument(id string) (*core.Document, error) {
	st, err := e.lookup(id)
	if err != nil {
		return nil, err
	}
	return e.snapshot(st), nil
}

// State returns the write state of an open document.
func (e *Engine) State(id string) (WriteState, error) {
	st, err := e.lookup(id)
	if err != nil {
		return StateIdle, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.state, nil
}

// Conflict returns the unresolved conflict of a document, if any.
func (e *Engine) Conflict(id string) *core.ConflictError {
	st, err := e.lookup(id)
	if err != nil {
		return nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.conflict
}

// Documents lists the ids of open documents.
func (e *Engine) Documents() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.states))
	for id := range e.states {
		ids = append(ids, id)
	}
	return ids
}

// Delete removes a document remotely and forgets it locally, including any
// queued offline edit.
func (e *Engine) Delete(ctx context.Context, id string) error {
	if err := security.ValidateDocumentID(id); err != nil {
		return err
	}
	if err := e.docs.DeleteDocument(ctx, id); err != nil {
		return err
	}

	e.mu.Lock()
	st, ok := e.states[id]
	delete(e.states, id)
	e.mu.Unlock()

	if !ok {
		return e.store.Delete(ctx, offlineKey(id))
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.stopTimerLocked()
	st.dirty = make(map[string]any)
	e.clearQueuedLocked(ctx, st)
	e.logger.Info("document deleted", "doc_id", id)
	return nil
}

func (e *Engine) snapshot(st *docState) *core.Document {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.doc.Clone()
}

// Close stops timers, waits for timer-driven writes and persists every
// unsynced edit as an OfflineEdit so it survives a restart.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	states := make([]*docState, 0, len(e.states))
	for _, st := range e.states {
		states = append(states, st)
	}
	e.mu.Unlock()

	e.retryMu.Lock()
	if e.retryTimer != nil {
		e.retryTimer.Stop()
		e.retryTimer = nil
	}
	e.retryMu.Unlock()

	e.cancel()
	e.wg.Wait()

	var errs []error
	for _, st := range states {
		st.mu.Lock()
		st.stopTimerLocked()
		if len(st.dirty) > 0 {
			if err := e.persistLocked(context.Background(), st); err != nil {
				errs = append(errs, err)
			}
		}
		st.mu.Unlock()
	}
	return errors.Join(errs...)
}
