package docsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jdziat/simple-draft-sync/pkg/core"
	"github.com/jdziat/simple-draft-sync/pkg/schedule"
)

// QueuedEdits returns the stored offline edits, oldest capture first.
func (e *Engine) QueuedEdits(ctx context.Context) ([]core.OfflineEdit, error) {
	keys, err := e.store.ListKeysWithPrefix(ctx, offlinePrefix)
	if err != nil {
		return nil, fmt.Errorf("list offline edits: %w", err)
	}
	edits := make([]core.OfflineEdit, 0, len(keys))
	for _, key := range keys {
		data, err := e.store.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("read offline edit %s: %w", key, err)
		}
		if data == nil {
			continue
		}
		var edit core.OfflineEdit
		if err := json.Unmarshal(data, &edit); err != nil {
			e.logger.Warn("dropping unreadable offline edit", "key", key, "error", err)
			_ = e.store.Delete(ctx, key)
			continue
		}
		if edit.DocumentID == "" {
			edit.DocumentID = strings.TrimPrefix(key, offlinePrefix)
		}
		edits = append(edits, edit)
	}
	sort.SliceStable(edits, func(i, j int) bool {
		if edits[i].CapturedAt.Equal(edits[j].CapturedAt) {
			return edits[i].DocumentID < edits[j].DocumentID
		}
		return edits[i].CapturedAt.Before(edits[j].CapturedAt)
	})
	return edits, nil
}

// stateForEdit returns the open state of the edited document, rebuilding a
// partial one from the edit when the document is not open. The partial
// document is replaced by the server copy on the first successful write.
func (e *Engine) stateForEdit(edit core.OfflineEdit) (*docState, error) {
	if st, err := e.lookup(edit.DocumentID); err == nil {
		return st, nil
	} else if errors.Is(err, core.ErrClosed) {
		return nil, err
	}
	fresh := newDocState(&core.Document{
		ID:      edit.DocumentID,
		Version: edit.LocalVersion,
		Status:  core.DocumentDraft,
	})
	fresh.applyLocked(edit.Payload)
	fresh.state = StateOffline
	fresh.queued = true
	fresh.capturedAt = edit.CapturedAt
	return e.register(fresh)
}

// Recover loads stored offline edits into the engine so they can be
// inspected and replayed. It returns the number of edits found.
func (e *Engine) Recover(ctx context.Context) (int, error) {
	edits, err := e.QueuedEdits(ctx)
	if err != nil {
		return 0, err
	}
	for _, edit := range edits {
		if _, err := e.stateForEdit(edit); err != nil {
			return 0, err
		}
	}
	if len(edits) > 0 {
		e.logger.Info("recovered offline edits", "count", len(edits))
	}
	return len(edits), nil
}

// FlushOfflineQueue replays stored offline edits oldest first. It stops at
// the first connectivity failure without reordering and schedules the next
// round with backoff. A conflicting edit is dropped from the queue (the
// conflict is published) and the replay continues. Only one flush runs at a
// time; concurrent callers wait their turn.
func (e *Engine) FlushOfflineQueue(ctx context.Context) error {
	e.flushMu.Lock()
	defer e.flushMu.Unlock()

	edits, err := e.QueuedEdits(ctx)
	if err != nil {
		return err
	}
	for _, edit := range edits {
		st, err := e.stateForEdit(edit)
		if err != nil {
			return err
		}
		_, err = e.writeOnce(ctx, st)
		switch {
		case err == nil:
		case errors.Is(err, core.ErrConflict):
		case errors.Is(err, core.ErrNetwork):
			e.flushFailed(err)
			return err
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			return err
		default:
			// Already surfaced as autosave:failed; keep the edit for a later round.
			e.logger.Warn("offline edit not replayed", "doc_id", edit.DocumentID, "error", err)
		}
	}

	e.retryMu.Lock()
	e.failures = 0
	e.exhausted = false
	e.retryMu.Unlock()
	return nil
}

// flushFailed counts a failed round and either schedules the next one or,
// once attempts are used up, surfaces a persistent failure and stops
// scheduling until NotifyOnline or a manual flush succeeds.
func (e *Engine) flushFailed(cause error) {
	e.retryMu.Lock()
	e.failures++
	failures := e.failures
	exhausted := e.offline.Exhausted(failures)
	if exhausted {
		e.exhausted = true
	}
	e.retryMu.Unlock()

	if !exhausted {
		e.logger.Warn("offline replay failed", "attempt", failures, "error", cause)
		e.scheduleRetry()
		return
	}
	e.logger.Error("offline replay gave up", "attempt", failures, "error", cause)
	e.events.Publish(core.EventAutosaveFailed, core.AutosaveEvent{Err: cause})
	e.notify(core.Notification{
		Level:   core.LevelError,
		Message: fmt.Sprintf("Offline changes could not be synced after %d attempts.", failures),
		Err:     cause,
	})
}

// scheduleRetry arms the offline replay timer unless one is pending or
// retries are exhausted.
func (e *Engine) scheduleRetry() {
	e.retryMu.Lock()
	defer e.retryMu.Unlock()
	if e.retryTimer != nil || e.exhausted {
		return
	}
	delay := e.offline.NextDelay(e.failures + 1)
	e.logger.Debug("offline replay scheduled", "attempt", e.failures+1, "delay", delay)
	e.retryTimer = e.afterFunc(delay, e.guarded(func(ctx context.Context) {
		e.retryMu.Lock()
		e.retryTimer = nil
		exhausted := e.exhausted
		e.retryMu.Unlock()
		if exhausted {
			return
		}
		_ = e.FlushOfflineQueue(ctx)
	}))
}

// NotifyOnline hints that connectivity is back: the backoff is reset and the
// offline queue is replayed immediately in the background.
func (e *Engine) NotifyOnline() {
	e.retryMu.Lock()
	e.failures = 0
	e.exhausted = false
	if e.retryTimer != nil {
		e.retryTimer.Stop()
		e.retryTimer = nil
	}
	e.retryMu.Unlock()

	go e.guarded(func(ctx context.Context) {
		if err := e.FlushOfflineQueue(ctx); err != nil {
			e.logger.Debug("flush after reconnect failed", "error", err)
		}
	})()
}

// RunReconciler replays the offline queue on every tick of s until ctx is
// done or the engine is closed.
func (e *Engine) RunReconciler(ctx context.Context, s schedule.Schedule) error {
	for {
		next := s.Next(e.now())
		delay := time.Until(next)
		if delay < 0 {
			delay = 0
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-e.ctx.Done():
			timer.Stop()
			return core.ErrClosed
		case <-timer.C:
		}
		if err := e.FlushOfflineQueue(ctx); err != nil && !errors.Is(err, core.ErrNetwork) {
			e.logger.Warn("reconciliation failed", "error", err)
		}
	}
}
