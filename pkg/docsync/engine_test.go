package docsync

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/simple-draft-sync/pkg/backoff"
	"github.com/jdziat/simple-draft-sync/pkg/bus"
	"github.com/jdziat/simple-draft-sync/pkg/core"
	"github.com/jdziat/simple-draft-sync/pkg/localstore"
	"github.com/jdziat/simple-draft-sync/pkg/schedule"
)

type harness struct {
	docs   *fakeDocs
	store  *localstore.MemoryStore
	events *bus.Bus
	rec    *recorder
	engine *Engine
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		docs:   newFakeDocs(),
		store:  localstore.NewMemoryStore(),
		events: bus.New(),
	}
	h.rec = record(h.events)
	base := []Option{
		WithDebounce(30 * time.Millisecond),
		WithOfflineBackoff(backoff.Config{Base: time.Hour, Max: time.Hour, MaxAttempts: 8}),
		WithSubmitRetry(backoff.RetryConfig{MaxAttempts: 3, Delay: backoff.Config{Base: time.Millisecond, Max: time.Millisecond}}),
	}
	h.engine = New(h.docs, h.store, h.events, append(base, opts...)...)
	t.Cleanup(func() { _ = h.engine.Close() })
	return h
}

func (h *harness) open(t *testing.T, id string, version int64, pairs ...any) {
	t.Helper()
	h.docs.seed(id, version, pairs...)
	_, err := h.engine.Open(context.Background(), id)
	require.NoError(t, err)
}

func (h *harness) queued(t *testing.T, id string) *core.OfflineEdit {
	t.Helper()
	edit, err := h.engine.loadEdit(context.Background(), id)
	require.NoError(t, err)
	return edit
}

func TestSave_DebounceCoalescesBurst(t *testing.T) {
	h := newHarness(t, WithDebounce(100*time.Millisecond))
	h.open(t, "d1", 1, "name", "", "age", 0)

	require.NoError(t, h.engine.Save("d1", map[string]any{"name": "A"}))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, h.engine.Save("d1", map[string]any{"name": "B"}))
	require.NoError(t, h.engine.Save("d1", map[string]any{"age": 30}))

	assert.Eventually(t, func() bool { return len(h.docs.writes()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(150 * time.Millisecond)

	writes := h.docs.writes()
	require.Len(t, writes, 1)
	assert.Equal(t, int64(1), writes[0].Req.Version)
	assert.Equal(t, map[string]any{"name": "B", "age": 30}, writes[0].Req.Fields)
}

func TestSave_SuccessAdoptsServerVersion(t *testing.T) {
	h := newHarness(t)
	h.open(t, "d1", 1, "name", "")

	require.NoError(t, h.engine.Save("d1", map[string]any{"name": "B"}))
	require.NoError(t, h.engine.Flush(context.Background(), "d1"))

	doc, err := h.engine.GetDocument("d1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), doc.Version)
	v, _ := doc.Fields.Get("name")
	assert.Equal(t, "B", v)

	state, _ := h.engine.State("d1")
	assert.Equal(t, StateIdle, state)

	success := h.rec.named(core.EventAutosaveSuccess)
	require.Len(t, success, 1)
	assert.Equal(t, int64(2), success[0].Payload.(core.AutosaveEvent).Document.Version)
}

func TestSave_RequiresOpenDocument(t *testing.T) {
	h := newHarness(t)
	assert.ErrorIs(t, h.engine.Save("nope", map[string]any{"a": 1}), core.ErrDocumentNotTracked)

	h.open(t, "d1", 1)
	big := map[string]any{"body": strings.Repeat("x", 2<<20)}
	assert.ErrorIs(t, h.engine.Save("d1", big), core.ErrPayloadTooLarge)

	_, err := h.engine.Open(context.Background(), "bad id")
	assert.ErrorIs(t, err, core.ErrInvalidDocumentID)
}

func TestWrite_StaleVersionRaisesConflict(t *testing.T) {
	h := newHarness(t)
	h.open(t, "d1", 3, "name", "local")
	h.docs.bump("d1", "name", "x")
	h.docs.bump("d1", "name", "server")

	require.NoError(t, h.engine.Save("d1", map[string]any{"name": "mine"}))
	err := h.engine.Flush(context.Background(), "d1")
	require.ErrorIs(t, err, core.ErrConflict)

	conflicts := h.rec.named(core.EventAutosaveConflict)
	require.Len(t, conflicts, 1)
	payload := conflicts[0].Payload.(core.AutosaveEvent)
	assert.Equal(t, int64(5), payload.Conflict.CurrentVersion)
	assert.Equal(t, int64(3), payload.Conflict.LocalVersion)
	sv, _ := payload.Conflict.CurrentFields.Get("name")
	assert.Equal(t, "server", sv)

	doc, _ := h.engine.GetDocument("d1")
	assert.Equal(t, int64(3), doc.Version)
	v, _ := doc.Fields.Get("name")
	assert.Equal(t, "mine", v)

	server := h.docs.server("d1")
	sv, _ = server.Fields.Get("name")
	assert.Equal(t, "server", sv)

	notes := h.rec.named(core.EventNotification)
	require.Len(t, notes, 1)
	assert.True(t, notes[0].Payload.(core.Notification).Blocking)

	state, _ := h.engine.State("d1")
	assert.Equal(t, StateConflict, state)
	assert.NotNil(t, h.engine.Conflict("d1"))
}

func TestConflict_HoldsEditsAndBlocksSubmit(t *testing.T) {
	h := newHarness(t)
	h.open(t, "d1", 1, "name", "")
	h.docs.bump("d1", "title", "theirs")

	require.NoError(t, h.engine.Save("d1", map[string]any{"name": "mine"}))
	require.ErrorIs(t, h.engine.Flush(context.Background(), "d1"), core.ErrConflict)

	require.NoError(t, h.engine.Save("d1", map[string]any{"age": 41}))
	time.Sleep(80 * time.Millisecond)
	assert.Len(t, h.docs.writes(), 1)

	_, err := h.engine.Submit(context.Background(), "d1")
	assert.ErrorIs(t, err, core.ErrNotReady)
	assert.ErrorIs(t, err, core.ErrConflict)
	assert.Equal(t, 0, h.docs.submitCount())
}

func TestReload_ReappliesUnsyncedEdits(t *testing.T) {
	h := newHarness(t)
	h.open(t, "d1", 1, "name", "", "title", "")
	h.docs.bump("d1", "title", "theirs")

	require.NoError(t, h.engine.Save("d1", map[string]any{"name": "mine"}))
	require.ErrorIs(t, h.engine.Flush(context.Background(), "d1"), core.ErrConflict)

	doc, err := h.engine.Reload(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), doc.Version)
	title, _ := doc.Fields.Get("title")
	name, _ := doc.Fields.Get("name")
	assert.Equal(t, "theirs", title)
	assert.Equal(t, "mine", name)
	assert.Nil(t, h.engine.Conflict("d1"))

	require.NoError(t, h.engine.Flush(context.Background(), "d1"))
	writes := h.docs.writes()
	require.Len(t, writes, 2)
	assert.Equal(t, int64(2), writes[1].Req.Version)
	assert.Equal(t, map[string]any{"name": "mine"}, writes[1].Req.Fields)
	assert.Equal(t, int64(3), h.docs.server("d1").Version)
}

func TestWrite_NetworkFailureQueuesOffline(t *testing.T) {
	h := newHarness(t)
	h.open(t, "d1", 1, "name", "")
	h.docs.setOffline(true)

	require.NoError(t, h.engine.Save("d1", map[string]any{"name": "A"}))
	err := h.engine.Flush(context.Background(), "d1")
	require.ErrorIs(t, err, core.ErrNetwork)

	assert.Equal(t, 1, h.rec.count(core.EventAutosaveOffline))
	note := h.rec.named(core.EventNotification)[0].Payload.(core.Notification)
	assert.False(t, note.Blocking)
	assert.Equal(t, core.LevelInfo, note.Level)

	edit := h.queued(t, "d1")
	require.NotNil(t, edit)
	assert.Equal(t, int64(1), edit.LocalVersion)
	assert.Equal(t, map[string]any{"name": "A"}, edit.Payload)

	state, _ := h.engine.State("d1")
	assert.Equal(t, StateOffline, state)
}

func TestOffline_SingleSlotReplaysNewestEdit(t *testing.T) {
	h := newHarness(t)
	h.open(t, "d1", 1, "name", "")
	h.docs.setOffline(true)

	require.NoError(t, h.engine.Save("d1", map[string]any{"name": "E1"}))
	require.ErrorIs(t, h.engine.Flush(context.Background(), "d1"), core.ErrNetwork)

	// While offline the debounce only rewrites the slot.
	require.NoError(t, h.engine.Save("d1", map[string]any{"name": "E2"}))
	assert.Eventually(t, func() bool {
		edit := h.queued(t, "d1")
		return edit != nil && edit.Payload["name"] == "E2"
	}, time.Second, 5*time.Millisecond)
	assert.Len(t, h.docs.writes(), 1)

	keys, err := h.store.ListKeysWithPrefix(context.Background(), offlinePrefix)
	require.NoError(t, err)
	assert.Equal(t, []string{"offline/d1"}, keys)

	h.docs.setOffline(false)
	require.NoError(t, h.engine.FlushOfflineQueue(context.Background()))

	writes := h.docs.writes()
	require.Len(t, writes, 2)
	assert.Equal(t, map[string]any{"name": "E2"}, writes[1].Req.Fields)
	assert.Nil(t, h.queued(t, "d1"))

	state, _ := h.engine.State("d1")
	assert.Equal(t, StateIdle, state)
	assert.Equal(t, int64(2), h.docs.server("d1").Version)
}

func TestFlushOfflineQueue_CaptureOrderAndStopOnFailure(t *testing.T) {
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }
	h := newHarness(t, WithClock(now))
	h.open(t, "b", 1)
	h.open(t, "a", 1)
	h.docs.setOffline(true)

	require.NoError(t, h.engine.Save("b", map[string]any{"v": 1}))
	require.Error(t, h.engine.Flush(context.Background(), "b"))
	clock = clock.Add(time.Second)
	require.NoError(t, h.engine.Save("a", map[string]any{"v": 2}))
	require.Error(t, h.engine.Flush(context.Background(), "a"))

	edits, err := h.engine.QueuedEdits(context.Background())
	require.NoError(t, err)
	require.Len(t, edits, 2)
	assert.Equal(t, "b", edits[0].DocumentID)
	assert.Equal(t, "a", edits[1].DocumentID)

	h.docs.setOffline(false)
	h.docs.mu.Lock()
	h.docs.offlineFor["b"] = true
	h.docs.mu.Unlock()

	before := len(h.docs.writes())
	err = h.engine.FlushOfflineQueue(context.Background())
	require.ErrorIs(t, err, core.ErrNetwork)
	writes := h.docs.writes()[before:]
	require.Len(t, writes, 1)
	assert.Equal(t, "b", writes[0].ID)

	h.docs.mu.Lock()
	delete(h.docs.offlineFor, "b")
	h.docs.mu.Unlock()
	require.NoError(t, h.engine.FlushOfflineQueue(context.Background()))
	writes = h.docs.writes()[before+1:]
	require.Len(t, writes, 2)
	assert.Equal(t, "b", writes[0].ID)
	assert.Equal(t, "a", writes[1].ID)
}

func TestFlushOfflineQueue_ConflictDropsEditAndContinues(t *testing.T) {
	h := newHarness(t)
	h.open(t, "a", 1)
	h.open(t, "b", 1)
	h.docs.setOffline(true)
	require.NoError(t, h.engine.Save("a", map[string]any{"v": 1}))
	require.Error(t, h.engine.Flush(context.Background(), "a"))
	require.NoError(t, h.engine.Save("b", map[string]any{"v": 2}))
	require.Error(t, h.engine.Flush(context.Background(), "b"))

	h.docs.setOffline(false)
	h.docs.bump("a", "v", 99)

	require.NoError(t, h.engine.FlushOfflineQueue(context.Background()))
	assert.Equal(t, 1, h.rec.count(core.EventAutosaveConflict))
	assert.Nil(t, h.queued(t, "a"))
	assert.Nil(t, h.queued(t, "b"))
	assert.Equal(t, int64(2), h.docs.server("b").Version)
}

func TestOfflineBackoff_GivesUpAfterMaxAttempts(t *testing.T) {
	h := newHarness(t, WithOfflineBackoff(backoff.Config{
		Base: 5 * time.Millisecond, Max: 10 * time.Millisecond, MaxAttempts: 3,
	}))
	h.open(t, "d1", 1)
	h.docs.setOffline(true)

	require.NoError(t, h.engine.Save("d1", map[string]any{"v": 1}))

	assert.Eventually(t, func() bool {
		return h.rec.count(core.EventAutosaveFailed) == 1
	}, 2*time.Second, 5*time.Millisecond)

	settled := len(h.docs.writes())
	// Initial autosave plus three replay rounds.
	assert.Equal(t, 4, settled)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, settled, len(h.docs.writes()))

	notes := h.rec.named(core.EventNotification)
	last := notes[len(notes)-1].Payload.(core.Notification)
	assert.Equal(t, core.LevelError, last.Level)
	assert.Contains(t, last.Message, "3 attempts")

	h.docs.setOffline(false)
	h.engine.NotifyOnline()
	assert.Eventually(t, func() bool { return h.queued(t, "d1") == nil }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(2), h.docs.server("d1").Version)
}

func TestOfflineBackoff_DelaysDoubleFromBase(t *testing.T) {
	h := newHarness(t, WithOfflineBackoff(backoff.Config{
		Base: 10 * time.Millisecond, Max: time.Second, MaxAttempts: 4,
	}))
	var mu sync.Mutex
	var delays []time.Duration
	h.engine.afterFunc = func(d time.Duration, f func()) *time.Timer {
		mu.Lock()
		delays = append(delays, d)
		mu.Unlock()
		return time.AfterFunc(time.Millisecond, f)
	}
	h.open(t, "d1", 1)
	h.docs.setOffline(true)

	require.NoError(t, h.engine.Save("d1", map[string]any{"v": 1}))

	assert.Eventually(t, func() bool {
		return h.rec.count(core.EventAutosaveFailed) == 1
	}, 2*time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []time.Duration{
		10 * time.Millisecond,
		20 * time.Millisecond,
		40 * time.Millisecond,
		80 * time.Millisecond,
	}, delays)
	// Initial autosave plus four replay rounds, then nothing.
	assert.Len(t, h.docs.writes(), 5)
	assert.Equal(t, 1, h.rec.count(core.EventAutosaveFailed))
}

func TestFlushOfflineQueue_FailedReplayKeepsCapturePosition(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.open(t, "b", 1)
	h.open(t, "a", 1)
	h.docs.setOffline(true)

	require.NoError(t, h.engine.Save("b", map[string]any{"v": 1}))
	require.Error(t, h.engine.Flush(ctx, "b"))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, h.engine.Save("a", map[string]any{"v": 2}))
	require.Error(t, h.engine.Flush(ctx, "a"))

	before, err := h.engine.QueuedEdits(ctx)
	require.NoError(t, err)
	require.Len(t, before, 2)
	require.Equal(t, "b", before[0].DocumentID)

	h.docs.setOffline(false)
	h.docs.mu.Lock()
	h.docs.offlineFor["b"] = true
	h.docs.mu.Unlock()
	require.ErrorIs(t, h.engine.FlushOfflineQueue(ctx), core.ErrNetwork)

	after, err := h.engine.QueuedEdits(ctx)
	require.NoError(t, err)
	require.Len(t, after, 2)
	assert.Equal(t, "b", after[0].DocumentID)
	assert.Equal(t, "a", after[1].DocumentID)
	assert.True(t, after[0].CapturedAt.Equal(before[0].CapturedAt))

	// A newer edit supersedes the slot and moves it behind a.
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, h.engine.Save("b", map[string]any{"v": 3}))
	require.Error(t, h.engine.Flush(ctx, "b"))

	edits, err := h.engine.QueuedEdits(ctx)
	require.NoError(t, err)
	require.Len(t, edits, 2)
	assert.Equal(t, "a", edits[0].DocumentID)
	assert.Equal(t, "b", edits[1].DocumentID)
	assert.EqualValues(t, 3, edits[1].Payload["v"])
}

func TestWrites_SerializedPerDocument(t *testing.T) {
	h := newHarness(t)
	h.open(t, "d1", 1)
	block := make(chan struct{})
	h.docs.mu.Lock()
	h.docs.block = block
	h.docs.mu.Unlock()

	require.NoError(t, h.engine.Save("d1", map[string]any{"a": 1}))
	assert.Eventually(t, func() bool {
		s, _ := h.engine.State("d1")
		return s == StateInFlight
	}, time.Second, 2*time.Millisecond)

	require.NoError(t, h.engine.Save("d1", map[string]any{"b": 2}))
	done := make(chan error, 1)
	go func() { done <- h.engine.Flush(context.Background(), "d1") }()

	time.Sleep(60 * time.Millisecond)
	assert.Len(t, h.docs.writes(), 1)

	h.docs.mu.Lock()
	h.docs.block = nil
	h.docs.mu.Unlock()
	close(block)

	require.NoError(t, <-done)
	assert.Eventually(t, func() bool {
		s, _ := h.engine.State("d1")
		return s == StateIdle
	}, time.Second, 2*time.Millisecond)

	writes := h.docs.writes()
	require.Len(t, writes, 2)
	assert.Equal(t, map[string]any{"a": 1}, writes[0].Req.Fields)
	assert.Equal(t, int64(2), writes[1].Req.Version)
	assert.Equal(t, map[string]any{"b": 2}, writes[1].Req.Fields)
	h.docs.mu.Lock()
	assert.Equal(t, 1, h.docs.maxFlight)
	h.docs.mu.Unlock()
}

func TestSubmit_FlushesThenStartsJob(t *testing.T) {
	h := newHarness(t, WithDebounce(time.Hour))
	h.open(t, "d1", 1)
	require.NoError(t, h.engine.Save("d1", map[string]any{"name": "A"}))

	h.docs.mu.Lock()
	h.docs.submitErrs = []error{netErr("submit")}
	h.docs.mu.Unlock()

	handle, err := h.engine.Submit(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, "job-d1", handle.JobID)
	assert.Equal(t, "d1", handle.DocumentID)
	assert.Equal(t, 2, h.docs.submitCount())

	writes := h.docs.writes()
	require.Len(t, writes, 1)
	assert.Equal(t, map[string]any{"name": "A"}, writes[0].Req.Fields)

	doc, _ := h.engine.GetDocument("d1")
	assert.Equal(t, core.DocumentSubmitted, doc.Status)
	assert.NotNil(t, doc.SubmittedAt)
}

func TestSubmit_DoesNotRetryRemoteRejection(t *testing.T) {
	h := newHarness(t)
	h.open(t, "d1", 1)
	h.docs.mu.Lock()
	h.docs.submitErrs = []error{&core.RemoteError{StatusCode: 422, Message: "incomplete"}}
	h.docs.mu.Unlock()

	_, err := h.engine.Submit(context.Background(), "d1")
	assert.ErrorIs(t, err, core.ErrRemote)
	assert.Equal(t, 1, h.docs.submitCount())
}

func TestSubmit_OfflineWriteSurfaces(t *testing.T) {
	h := newHarness(t)
	h.open(t, "d1", 1)
	require.NoError(t, h.engine.Save("d1", map[string]any{"a": 1}))
	h.docs.setOffline(true)

	_, err := h.engine.Submit(context.Background(), "d1")
	assert.ErrorIs(t, err, core.ErrNetwork)
	assert.Equal(t, 0, h.docs.submitCount())
}

func TestWrite_RemoteErrorPublishesFailed(t *testing.T) {
	h := newHarness(t)
	h.open(t, "d1", 1)
	h.docs.mu.Lock()
	h.docs.failWith = &core.RemoteError{StatusCode: 500, Message: "boom"}
	h.docs.mu.Unlock()

	require.NoError(t, h.engine.Save("d1", map[string]any{"a": 1}))
	require.ErrorIs(t, h.engine.Flush(context.Background(), "d1"), core.ErrRemote)
	assert.Equal(t, 1, h.rec.count(core.EventAutosaveFailed))
	assert.Nil(t, h.queued(t, "d1"))

	h.docs.mu.Lock()
	h.docs.failWith = nil
	h.docs.mu.Unlock()
	require.NoError(t, h.engine.Flush(context.Background(), "d1"))
	assert.Equal(t, int64(2), h.docs.server("d1").Version)
}

func TestClose_PersistsUnsyncedEditsForRecovery(t *testing.T) {
	docs := newFakeDocs()
	docs.seed("d1", 4, "name", "")
	store := localstore.NewMemoryStore()

	first := New(docs, store, nil, WithDebounce(time.Hour))
	_, err := first.Open(context.Background(), "d1")
	require.NoError(t, err)
	require.NoError(t, first.Save("d1", map[string]any{"name": "draft"}))
	require.NoError(t, first.Close())
	assert.ErrorIs(t, first.Save("d1", map[string]any{"name": "x"}), core.ErrClosed)

	data, err := store.Get(context.Background(), "offline/d1")
	require.NoError(t, err)
	var edit core.OfflineEdit
	require.NoError(t, json.Unmarshal(data, &edit))
	assert.Equal(t, int64(4), edit.LocalVersion)

	second := New(docs, store, nil, WithDebounce(time.Hour))
	defer second.Close()
	n, err := second.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	doc, err := second.GetDocument("d1")
	require.NoError(t, err)
	v, _ := doc.Fields.Get("name")
	assert.Equal(t, "draft", v)

	require.NoError(t, second.FlushOfflineQueue(context.Background()))
	assert.Equal(t, int64(5), docs.server("d1").Version)
	sv, _ := docs.server("d1").Fields.Get("name")
	assert.Equal(t, "draft", sv)
}

func TestOpen_LaysStoredEditOnTop(t *testing.T) {
	h := newHarness(t)
	h.docs.seed("d1", 2, "name", "server", "title", "t")
	data, _ := json.Marshal(core.OfflineEdit{
		DocumentID: "d1", Payload: map[string]any{"name": "offline"},
		LocalVersion: 2, CapturedAt: time.Now(),
	})
	require.NoError(t, h.store.Put(context.Background(), "offline/d1", data))

	doc, err := h.engine.Open(context.Background(), "d1")
	require.NoError(t, err)
	v, _ := doc.Fields.Get("name")
	assert.Equal(t, "offline", v)

	assert.Eventually(t, func() bool { return h.queued(t, "d1") == nil }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(3), h.docs.server("d1").Version)
}

func TestMarkCompleted_RetriesOnceOnStaleVersion(t *testing.T) {
	h := newHarness(t)
	h.open(t, "d1", 1)
	h.docs.bump("d1", "other", true)

	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, h.engine.MarkCompleted(context.Background(), "d1", at))

	server := h.docs.server("d1")
	assert.Equal(t, core.DocumentCompleted, server.Status)
	require.NotNil(t, server.CompletedAt)
	assert.True(t, at.Equal(*server.CompletedAt))

	writes := h.docs.writes()
	require.Len(t, writes, 2)
	assert.Empty(t, writes[1].Req.Fields)
	assert.Equal(t, int64(2), writes[1].Req.Version)

	doc, _ := h.engine.GetDocument("d1")
	assert.Equal(t, core.DocumentCompleted, doc.Status)
}

func TestMarkCompleted_OpensUnknownDocument(t *testing.T) {
	h := newHarness(t)
	h.docs.seed("d2", 1)

	require.NoError(t, h.engine.MarkCompleted(context.Background(), "d2", time.Now()))
	doc, err := h.engine.GetDocument("d2")
	require.NoError(t, err)
	assert.Equal(t, core.DocumentCompleted, doc.Status)
	assert.Equal(t, int64(2), doc.Version)
}

func TestMarkCompleted_FailureKeepsLocalStatus(t *testing.T) {
	h := newHarness(t)
	h.open(t, "d1", 1)
	h.docs.setOffline(true)

	err := h.engine.MarkCompleted(context.Background(), "d1", time.Now())
	assert.ErrorIs(t, err, core.ErrNetwork)
	doc, _ := h.engine.GetDocument("d1")
	assert.Equal(t, core.DocumentCompleted, doc.Status)
}

func TestMarkFailed(t *testing.T) {
	h := newHarness(t)
	h.open(t, "d1", 1)
	require.NoError(t, h.engine.MarkFailed(context.Background(), "d1"))
	doc, _ := h.engine.GetDocument("d1")
	assert.Equal(t, core.DocumentFailed, doc.Status)
	assert.Empty(t, h.docs.writes())

	h.docs.seed("d2", 3)
	h.open(t, "d2", 3)
	h.docs.mu.Lock()
	h.docs.docs["d2"].Status = core.DocumentCompleted
	h.docs.mu.Unlock()
	require.NoError(t, h.engine.MarkFailed(context.Background(), "d2"))
	doc, _ = h.engine.GetDocument("d2")
	assert.Equal(t, core.DocumentCompleted, doc.Status)
}

func TestMarkProcessing(t *testing.T) {
	h := newHarness(t)
	h.open(t, "d1", 1)
	require.NoError(t, h.engine.MarkProcessing(context.Background(), "d1"))
	doc, _ := h.engine.GetDocument("d1")
	assert.Equal(t, core.DocumentProcessing, doc.Status)
	assert.NoError(t, h.engine.MarkProcessing(context.Background(), "missing"))
}

func TestRunReconciler_ReplaysOnSchedule(t *testing.T) {
	h := newHarness(t)
	h.open(t, "d1", 1)
	h.docs.setOffline(true)
	require.NoError(t, h.engine.Save("d1", map[string]any{"a": 1}))
	require.Error(t, h.engine.Flush(context.Background(), "d1"))
	h.docs.setOffline(false)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.engine.RunReconciler(ctx, schedule.Every(10*time.Millisecond)) }()

	assert.Eventually(t, func() bool { return h.queued(t, "d1") == nil }, time.Second, 5*time.Millisecond)
	cancel()
	assert.True(t, errors.Is(<-done, context.Canceled))
}

func TestCreate_RegistersDocument(t *testing.T) {
	h := newHarness(t)
	doc, err := h.engine.Create(context.Background(), core.NewFields("name", "A"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), doc.Version)
	assert.Contains(t, h.engine.Documents(), doc.ID)

	again, err := h.engine.Open(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, again.ID)
}

func TestDelete_ForgetsDocumentAndQueuedEdit(t *testing.T) {
	h := newHarness(t)
	h.open(t, "d1", 1, "name", "a")
	h.docs.setOffline(true)
	require.NoError(t, h.engine.Save("d1", map[string]any{"name": "b"}))
	require.ErrorIs(t, h.engine.Flush(context.Background(), "d1"), core.ErrNetwork)
	require.NotNil(t, h.queued(t, "d1"))

	h.docs.setOffline(false)
	require.NoError(t, h.engine.Delete(context.Background(), "d1"))

	assert.Nil(t, h.queued(t, "d1"))
	_, err := h.engine.GetDocument("d1")
	assert.ErrorIs(t, err, core.ErrDocumentNotTracked)
	assert.Empty(t, h.engine.Documents())
}
