package docsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jdziat/simple-draft-sync/pkg/bus"
	"github.com/jdziat/simple-draft-sync/pkg/core"
)

// fakeDocs is an in-memory core.DocumentService with optimistic versioning.
type fakeDocs struct {
	mu         sync.Mutex
	docs       map[string]*core.Document
	nextID     int
	offline    bool
	offlineFor map[string]bool
	failWith   error
	updates    []update
	block      chan struct{}
	inFlight   int
	maxFlight  int
	submits    int
	submitErrs []error
}

type update struct {
	ID  string
	Req core.UpdateRequest
}

func newFakeDocs() *fakeDocs {
	return &fakeDocs{docs: make(map[string]*core.Document), offlineFor: make(map[string]bool)}
}

func (f *fakeDocs) seed(id string, version int64, pairs ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	f.docs[id] = &core.Document{
		ID: id, Version: version, Status: core.DocumentDraft,
		Fields: core.NewFields(pairs...), CreatedAt: now, UpdatedAt: now,
	}
}

func (f *fakeDocs) setOffline(v bool) {
	f.mu.Lock()
	f.offline = v
	f.mu.Unlock()
}

func (f *fakeDocs) bump(id string, key string, value any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := f.docs[id]
	d.Fields.Set(key, value)
	d.Version++
}

func (f *fakeDocs) server(id string) *core.Document {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.docs[id].Clone()
}

func (f *fakeDocs) writes() []update {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]update, len(f.updates))
	copy(out, f.updates)
	return out
}

func (f *fakeDocs) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits
}

func netErr(op string) error {
	return &core.NetworkError{Op: op, Err: errors.New("connection refused")}
}

func (f *fakeDocs) CreateDocument(_ context.Context, fields *core.Fields) (*core.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.offline {
		return nil, netErr("create")
	}
	f.nextID++
	now := time.Now()
	d := &core.Document{
		ID: fmt.Sprintf("doc-%d", f.nextID), Version: 1, Status: core.DocumentDraft,
		Fields: fields.Clone(), CreatedAt: now, UpdatedAt: now,
	}
	f.docs[d.ID] = d
	return d.Clone(), nil
}

func (f *fakeDocs) GetDocument(_ context.Context, id string) (*core.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.offline {
		return nil, netErr("get")
	}
	d, ok := f.docs[id]
	if !ok {
		return nil, &core.RemoteError{StatusCode: 404, Message: "not found"}
	}
	return d.Clone(), nil
}

func (f *fakeDocs) UpdateDocument(ctx context.Context, id string, req core.UpdateRequest) (*core.Document, error) {
	f.mu.Lock()
	f.updates = append(f.updates, update{ID: id, Req: req})
	f.inFlight++
	if f.inFlight > f.maxFlight {
		f.maxFlight = f.inFlight
	}
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight--
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if f.offline || f.offlineFor[id] {
		return nil, netErr("update")
	}
	if f.failWith != nil {
		return nil, f.failWith
	}
	d, ok := f.docs[id]
	if !ok {
		return nil, &core.RemoteError{StatusCode: 404, Message: "not found"}
	}
	if req.Version != d.Version {
		return nil, &core.ConflictError{
			DocumentID: id, LocalVersion: req.Version,
			CurrentVersion: d.Version, CurrentFields: d.Fields.Clone(),
		}
	}
	d.Fields.Merge(req.Fields)
	if req.Status != "" {
		d.Status = req.Status
	}
	if req.CompletedAt != nil {
		t := *req.CompletedAt
		d.CompletedAt = &t
	}
	d.Version++
	d.UpdatedAt = time.Now()
	return d.Clone(), nil
}

func (f *fakeDocs) SubmitDocument(_ context.Context, id string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	if len(f.submitErrs) > 0 {
		err := f.submitErrs[0]
		f.submitErrs = f.submitErrs[1:]
		return "", err
	}
	if f.offline {
		return "", netErr("submit")
	}
	f.docs[id].Status = core.DocumentSubmitted
	return "job-" + id, nil
}

func (f *fakeDocs) DeleteDocument(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.docs, id)
	return nil
}

func (f *fakeDocs) ListDocuments(context.Context, core.ListOptions) (*core.DocumentList, error) {
	return &core.DocumentList{}, nil
}

// recorder collects published events.
type recorder struct {
	mu     sync.Mutex
	events []core.Event
}

func record(b *bus.Bus) *recorder {
	r := &recorder{}
	b.Subscribe(core.Wildcard, func(e core.Event) {
		r.mu.Lock()
		r.events = append(r.events, e)
		r.mu.Unlock()
	})
	return r
}

func (r *recorder) named(name string) []core.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []core.Event
	for _, e := range r.events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) count(name string) int {
	return len(r.named(name))
}
