package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jdziat/simple-draft-sync/pkg/bus"
	"github.com/jdziat/simple-draft-sync/pkg/core"
	"github.com/jdziat/simple-draft-sync/pkg/security"
)

// sideEffectTimeout bounds the document updates run after a terminal state.
const sideEffectTimeout = 30 * time.Second

// Tracker owns the set of tracked jobs.
type Tracker struct {
	jobs     core.JobService
	push     core.PushSource
	docs     Lifecycle
	events   *bus.Bus
	logger   *slog.Logger
	interval time.Duration
	timeout  time.Duration
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	tracked map[string]*trackedJob
	closed  bool
}

// trackedJob is one job's state. outbox holds publishes and side effects in
// merge order; whichever goroutine finds it idle drains it.
type trackedJob struct {
	id    string
	docID string

	mu       sync.Mutex
	job      core.Job
	finished bool
	cancel   context.CancelFunc
	outbox   []func()
	draining bool
}

// New creates a Tracker. A nil bus gets a private one.
func New(jobs core.JobService, events *bus.Bus, opts ...Option) *Tracker {
	if events == nil {
		events = bus.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &Tracker{
		jobs:     jobs,
		events:   events,
		logger:   slog.Default(),
		interval: DefaultPollInterval,
		timeout:  DefaultTimeout,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
		tracked:  make(map[string]*trackedJob),
	}
	for _, opt := range opts {
		opt.Apply(t)
	}
	return t
}

// Track starts polling (and the push subscription, if any) for jobID.
// Tracking a job that is already tracked is a no-op.
func (t *Tracker) Track(jobID, documentID string) error {
	if err := security.ValidateJobID(jobID); err != nil {
		return err
	}
	if err := security.ValidateDocumentID(documentID); err != nil {
		return err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return core.ErrClosed
	}
	if _, ok := t.tracked[jobID]; ok {
		t.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(t.ctx)
	now := t.now()
	tj := &trackedJob{
		id:    jobID,
		docID: documentID,
		job: core.Job{
			ID:         jobID,
			DocumentID: documentID,
			Status:     core.JobPending,
			CreatedAt:  now,
			LastUpdate: now,
		},
		cancel: cancel,
	}
	t.tracked[jobID] = tj
	t.wg.Add(1)
	t.mu.Unlock()

	t.logger.Info("tracking job", "job_id", jobID, "doc_id", documentID)
	tj.mu.Lock()
	t.enqueueLocked(tj, func() {
		t.events.Publish(core.EventJobPending, core.JobEvent{Job: tj.snapshot(), Source: core.SourceLocal})
	})
	tj.mu.Unlock()
	t.drain(tj)

	go t.run(ctx, tj)
	return nil
}

func (tj *trackedJob) snapshot() core.Job {
	tj.mu.Lock()
	defer tj.mu.Unlock()
	return tj.job
}

func (t *Tracker) run(ctx context.Context, tj *trackedJob) {
	defer t.wg.Done()
	jobID := tj.id
	log := t.logger.With("job_id", jobID)

	if t.push != nil {
		updates, err := t.push.Subscribe(ctx, jobID)
		if err != nil {
			log.Warn("push subscription unavailable, polling only", "error", err)
		} else {
			t.wg.Add(1)
			go t.forward(ctx, tj, updates)
		}
	}

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	deadline := time.NewTimer(t.timeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			t.expire(tj)
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			t.poll(ctx, tj)
		}
	}
}

// forward applies push updates until the source closes the channel. Once
// ctx is done updates are discarded, but the channel is still drained so the
// source has released its stream before Close or Stop settle.
func (t *Tracker) forward(ctx context.Context, tj *trackedJob, updates <-chan core.JobUpdate) {
	defer t.wg.Done()
	for u := range updates {
		if ctx.Err() != nil {
			continue
		}
		u.Source = core.SourcePush
		t.apply(tj, u, false)
	}
}

// poll fetches the job once. A failed fetch only counts a retry; the next
// tick tries again.
func (t *Tracker) poll(ctx context.Context, tj *trackedJob) {
	u, err := t.jobs.GetJob(ctx, tj.id)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		tj.mu.Lock()
		tj.job.RetryCount++
		retries := tj.job.RetryCount
		tj.mu.Unlock()
		t.logger.Warn("job poll failed", "job_id", tj.id, "attempt", retries, "error", err)
		return
	}
	if u == nil {
		return
	}
	u.Source = core.SourcePoll
	t.apply(tj, *u, false)
}

func (t *Tracker) expire(tj *trackedJob) {
	t.logger.Warn("job timed out", "job_id", tj.id, "timeout", t.timeout)
	t.apply(tj, core.JobUpdate{
		Source: core.SourceLocal,
		JobID:  tj.id,
		Status: core.JobFailed,
		Error: &core.JobError{
			Code:    core.ErrorCodeTimeout,
			Message: fmt.Sprintf("job did not finish within %s", t.timeout),
		},
		LastUpdate: t.now(),
	}, true)
}

// apply merges u into the job and queues the resulting publishes and side
// effects.
func (t *Tracker) apply(tj *trackedJob, u core.JobUpdate, timedOut bool) {
	tj.mu.Lock()
	if tj.finished || (u.JobID != "" && u.JobID != tj.id) {
		tj.mu.Unlock()
		return
	}
	prev := tj.job
	next, changed := core.Merge(prev, u)
	if !changed {
		tj.mu.Unlock()
		return
	}
	tj.job = next
	evt := core.JobEvent{Job: next, Source: u.Source}

	name := core.JobEventName(next.Status)
	if timedOut {
		name = core.EventJobTimeout
	}
	t.enqueueLocked(tj, func() { t.events.Publish(name, evt) })

	if prev.Status == core.JobPending && next.Status == core.JobRunning && t.docs != nil {
		docID := next.DocumentID
		t.enqueueLocked(tj, func() {
			if err := t.docs.MarkProcessing(t.ctx, docID); err != nil {
				t.logger.Debug("mark processing failed", "doc_id", docID, "error", err)
			}
		})
	}

	if next.Status.IsTerminal() {
		tj.finished = true
		tj.cancel()
		t.enqueueLocked(tj, func() { t.finish(next, timedOut) })
		t.enqueueLocked(tj, func() { t.forget(next.ID, tj) })
	}
	tj.mu.Unlock()

	t.logger.Debug("job updated", "job_id", next.ID, "status", next.Status, "progress", next.Progress, "source", u.Source.String())
	t.drain(tj)
}

func (t *Tracker) enqueueLocked(tj *trackedJob, fn func()) {
	tj.outbox = append(tj.outbox, fn)
}

// drain runs the outbox unless another goroutine already is. Nested calls
// from listeners append and return; the active drainer delivers them in order.
func (t *Tracker) drain(tj *trackedJob) {
	tj.mu.Lock()
	if tj.draining {
		tj.mu.Unlock()
		return
	}
	tj.draining = true
	for len(tj.outbox) > 0 {
		fn := tj.outbox[0]
		tj.outbox = tj.outbox[1:]
		tj.mu.Unlock()
		fn()
		tj.mu.Lock()
	}
	tj.draining = false
	tj.mu.Unlock()
}

// finish runs the terminal side effects for job.
func (t *Tracker) finish(job core.Job, timedOut bool) {
	ctx, cancel := context.WithTimeout(t.ctx, sideEffectTimeout)
	defer cancel()
	log := t.logger.With("job_id", job.ID, "doc_id", job.DocumentID)

	switch {
	case timedOut:
		t.notify(core.Notification{
			Level:      core.LevelWarning,
			Message:    "The workflow timed out. Please try again.",
			DocumentID: job.DocumentID,
			JobID:      job.ID,
			Err:        core.ErrTimeout,
		})
		t.markFailed(ctx, log, job)

	case job.Status == core.JobCompleted:
		if t.docs != nil {
			if err := t.docs.MarkCompleted(ctx, job.DocumentID, t.now()); err != nil {
				log.Warn("marking document completed failed", "error", err)
				t.notify(core.Notification{
					Level:      core.LevelWarning,
					Message:    "The workflow finished, but the document status could not be updated.",
					DocumentID: job.DocumentID,
					JobID:      job.ID,
					Err:        err,
				})
				return
			}
		}
		log.Info("job completed")
		t.notify(core.Notification{
			Level:      core.LevelSuccess,
			Message:    "The workflow finished successfully.",
			DocumentID: job.DocumentID,
			JobID:      job.ID,
		})

	case job.Status == core.JobFailed:
		msg := "unknown error"
		var cause error
		if job.Error != nil {
			msg = security.SanitizeErrorMessage(job.Error.Message)
			cause = job.Error
		}
		log.Warn("job failed", "error", msg)
		t.notify(core.Notification{
			Level:      core.LevelError,
			Message:    "Workflow failed: " + msg,
			DocumentID: job.DocumentID,
			JobID:      job.ID,
			Err:        cause,
		})
		t.markFailed(ctx, log, job)

	case job.Status == core.JobCancelled:
		log.Info("job cancelled")
		t.notify(core.Notification{
			Level:      core.LevelInfo,
			Message:    "The workflow was cancelled.",
			DocumentID: job.DocumentID,
			JobID:      job.ID,
		})
	}
}

func (t *Tracker) markFailed(ctx context.Context, log *slog.Logger, job core.Job) {
	if t.docs == nil {
		return
	}
	if err := t.docs.MarkFailed(ctx, job.DocumentID); err != nil {
		log.Warn("recording failure on document failed", "error", err)
	}
}

func (t *Tracker) notify(n core.Notification) {
	t.events.Publish(core.EventNotification, n)
}

// forget drops a finished job from the registry.
func (t *Tracker) forget(jobID string, tj *trackedJob) {
	t.mu.Lock()
	if t.tracked[jobID] == tj {
		delete(t.tracked, jobID)
	}
	t.mu.Unlock()
}

func (t *Tracker) lookup(jobID string) (*trackedJob, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tj, ok := t.tracked[jobID]
	return tj, ok
}

// Cancel asks the job service to cancel jobID and moves the local job to
// Cancelled whatever the service answers. The remote error, if any, is
// returned after the local transition. Cancelling a job that is not tracked
// only sends the remote request; a finished job is left alone.
func (t *Tracker) Cancel(ctx context.Context, jobID string) error {
	if err := security.ValidateJobID(jobID); err != nil {
		return err
	}
	tj, ok := t.lookup(jobID)
	if ok {
		tj.mu.Lock()
		finished := tj.finished
		tj.mu.Unlock()
		if finished {
			return nil
		}
	}

	remoteErr := t.jobs.CancelJob(ctx, jobID)
	if remoteErr != nil {
		t.logger.Warn("remote cancel failed", "job_id", jobID, "error", remoteErr)
	}
	if ok {
		t.apply(tj, core.JobUpdate{
			Source:     core.SourceLocal,
			JobID:      jobID,
			Status:     core.JobCancelled,
			LastUpdate: t.now(),
		}, false)
	}
	return remoteErr
}

// Stop ends local tracking of jobID without telling the job service. It does
// not wait for the polling goroutine, so listeners may call it.
func (t *Tracker) Stop(jobID string) {
	t.mu.Lock()
	tj, ok := t.tracked[jobID]
	if ok {
		delete(t.tracked, jobID)
	}
	t.mu.Unlock()
	if !ok {
		return
	}
	tj.mu.Lock()
	tj.finished = true
	tj.cancel()
	tj.mu.Unlock()
	t.logger.Debug("stopped tracking job", "job_id", jobID)
}

// Retry asks the job service to rerun jobID and tracks it again.
func (t *Tracker) Retry(ctx context.Context, jobID, documentID string) error {
	if err := security.ValidateJobID(jobID); err != nil {
		return err
	}
	if err := t.jobs.RetryJob(ctx, jobID); err != nil {
		return err
	}
	t.Stop(jobID)
	return t.Track(jobID, documentID)
}

// GetJobStatus returns the tracked state of jobID. Finished jobs are dropped
// once their listeners ran.
func (t *Tracker) GetJobStatus(jobID string) (core.Job, bool) {
	tj, ok := t.lookup(jobID)
	if !ok {
		return core.Job{}, false
	}
	return tj.snapshot(), true
}

// Jobs returns every tracked job.
func (t *Tracker) Jobs() []core.Job {
	t.mu.Lock()
	list := make([]*trackedJob, 0, len(t.tracked))
	for _, tj := range t.tracked {
		list = append(list, tj)
	}
	t.mu.Unlock()

	out := make([]core.Job, 0, len(list))
	for _, tj := range list {
		out = append(out, tj.snapshot())
	}
	return out
}

// Listen calls fn for every job event of jobID, or of every job when jobID
// is "*". Remove it with Unlisten.
func (t *Tracker) Listen(jobID string, fn func(core.JobEvent)) *bus.Subscription {
	return t.events.Subscribe(core.Wildcard, func(e core.Event) {
		evt, ok := e.Payload.(core.JobEvent)
		if !ok {
			return
		}
		if jobID != core.Wildcard && evt.Job.ID != jobID {
			return
		}
		fn(evt)
	})
}

// Unlisten removes a listener added with Listen.
func (t *Tracker) Unlisten(sub *bus.Subscription) bool {
	return t.events.Unsubscribe(sub)
}

// Close stops every job and waits for the tracking goroutines. It must not
// be called from a listener.
func (t *Tracker) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.tracked = make(map[string]*trackedJob)
	t.mu.Unlock()

	t.cancel()
	t.wg.Wait()
	return nil
}
