package tracker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jdziat/simple-draft-sync/pkg/core"
)

// fakeJobs answers GetJob from a script. The last entry repeats.
type fakeJobs struct {
	mu        sync.Mutex
	script    []step
	polls     int
	cancels   []string
	retries   []string
	cancelErr error
}

type step struct {
	update core.JobUpdate
	err    error
}

func (f *fakeJobs) push(u core.JobUpdate) {
	f.mu.Lock()
	f.script = append(f.script, step{update: u})
	f.mu.Unlock()
}

func (f *fakeJobs) fail(err error) {
	f.mu.Lock()
	f.script = append(f.script, step{err: err})
	f.mu.Unlock()
}

func (f *fakeJobs) pollCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

func (f *fakeJobs) GetJob(_ context.Context, id string) (*core.JobUpdate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if len(f.script) == 0 {
		return &core.JobUpdate{JobID: id, Status: core.JobPending}, nil
	}
	s := f.script[0]
	if len(f.script) > 1 {
		f.script = f.script[1:]
	}
	if s.err != nil {
		return nil, s.err
	}
	u := s.update
	if u.JobID == "" {
		u.JobID = id
	}
	return &u, nil
}

func (f *fakeJobs) CancelJob(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, id)
	return f.cancelErr
}

func (f *fakeJobs) RetryJob(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retries = append(f.retries, id)
	return nil
}

// fakePush hands out one channel per subscription. Tests send on the input
// side; the output is closed once the subscriber's ctx is done.
type fakePush struct {
	mu     sync.Mutex
	subs   map[string]chan core.JobUpdate
	closed map[string]chan struct{}
	err    error
}

func newFakePush() *fakePush {
	return &fakePush{
		subs:   make(map[string]chan core.JobUpdate),
		closed: make(map[string]chan struct{}),
	}
}

func (p *fakePush) Subscribe(ctx context.Context, jobID string) (<-chan core.JobUpdate, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	in := make(chan core.JobUpdate, 8)
	out := make(chan core.JobUpdate)
	done := make(chan struct{})
	p.subs[jobID] = in
	p.closed[jobID] = done
	go func() {
		defer close(out)
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case u := <-in:
				select {
				case out <- u:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (p *fakePush) channel(jobID string) chan core.JobUpdate {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.subs[jobID]
}

// released reports whether the subscription for jobID has been torn down.
func (p *fakePush) released(jobID string) bool {
	p.mu.Lock()
	done := p.closed[jobID]
	p.mu.Unlock()
	if done == nil {
		return false
	}
	select {
	case <-done:
		return true
	default:
		return false
	}
}

// lifecycle records document transitions.
type lifecycle struct {
	mu          sync.Mutex
	processing  []string
	completed   []string
	failed      []string
	completeErr error
}

func (l *lifecycle) MarkProcessing(_ context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.processing = append(l.processing, id)
	return nil
}

func (l *lifecycle) MarkCompleted(_ context.Context, id string, _ time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.completed = append(l.completed, id)
	return l.completeErr
}

func (l *lifecycle) MarkFailed(_ context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failed = append(l.failed, id)
	return nil
}

func (l *lifecycle) calls() (processing, completed, failed []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.processing...),
		append([]string(nil), l.completed...),
		append([]string(nil), l.failed...)
}

var errUnreachable = &core.NetworkError{Op: "get job", Err: errors.New("connection refused")}
