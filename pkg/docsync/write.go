package docsync

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jdziat/simple-draft-sync/pkg/core"
	"github.com/jdziat/simple-draft-sync/pkg/security"
)

// autosave runs when the debounce timer fires. While offline the edit is only
// persisted; the offline queue owns the network retries.
func (e *Engine) autosave(ctx context.Context, st *docState) {
	st.mu.Lock()
	if st.state == StateOffline && st.settled == nil {
		st.timer = nil
		err := e.persistLocked(ctx, st)
		st.mu.Unlock()
		if err != nil {
			e.logger.Error("persisting offline edit failed", "doc_id", st.id, "error", err)
		}
		e.scheduleRetry()
		return
	}
	st.mu.Unlock()
	_ = e.write(ctx, st)
}

// outcome is what a settled write publishes once locks are released.
type outcome struct {
	event string
	data  core.AutosaveEvent
	note  *core.Notification
}

// write sends the unsynced fields at the current version and settles the
// result. It waits for any write already in flight and returns nil when
// there is nothing to send. A connectivity failure arms the offline replay.
func (e *Engine) write(ctx context.Context, st *docState) error {
	retry, err := e.writeOnce(ctx, st)
	if retry {
		e.scheduleRetry()
	}
	return err
}

// writeOnce is write without arming the offline replay; retry reports
// whether the edit went to the offline queue.
func (e *Engine) writeOnce(ctx context.Context, st *docState) (bool, error) {
	if err := e.awaitSettled(ctx, st); err != nil {
		return false, err
	}
	st.stopTimerLocked()
	if st.state == StateConflict {
		err := st.conflict
		st.mu.Unlock()
		return false, err
	}
	if len(st.dirty) == 0 {
		if st.queued {
			e.clearQueuedLocked(ctx, st)
		}
		st.state = StateIdle
		st.mu.Unlock()
		return false, nil
	}

	prev := st.state
	payload := st.pendingLocked()
	sentSeq := st.seq
	version := st.doc.Version
	settled := make(chan struct{})
	st.settled = settled
	st.state = StateInFlight
	st.mu.Unlock()

	log := e.logger.With("doc_id", st.id, "version", version)
	log.Debug("writing document", "fields", len(payload))

	server, err := e.docs.UpdateDocument(ctx, st.id, core.UpdateRequest{
		Version: version,
		Fields:  payload,
	})

	st.mu.Lock()
	st.settled = nil
	out, retry := e.settleLocked(ctx, st, prev, server, err, sentSeq)
	close(settled)
	st.mu.Unlock()

	if out != nil {
		e.publish(out)
	}
	return retry, err
}

func (e *Engine) settleLocked(ctx context.Context, st *docState, prev WriteState, server *core.Document, err error, sentSeq uint64) (*outcome, bool) {
	log := e.logger.With("doc_id", st.id)
	var conflict *core.ConflictError

	switch {
	case err == nil:
		st.adoptLocked(server, sentSeq)
		st.conflict = nil
		st.lastErr = nil
		if len(st.dirty) > 0 {
			st.state = StatePendingWrite
			if st.timer == nil {
				e.armLocked(st)
			}
			if st.queued {
				if perr := e.persistLocked(ctx, st); perr != nil {
					log.Error("refreshing offline edit failed", "error", perr)
				}
			}
		} else {
			st.state = StateIdle
			if st.queued {
				e.clearQueuedLocked(ctx, st)
			}
		}
		log.Debug("write applied", "version", st.doc.Version)
		return &outcome{
			event: core.EventAutosaveSuccess,
			data:  core.AutosaveEvent{DocumentID: st.id, Document: st.doc.Clone()},
		}, false

	case errors.As(err, &conflict):
		if conflict.DocumentID == "" {
			conflict.DocumentID = st.id
		}
		st.state = StateConflict
		st.conflict = conflict
		st.lastErr = err
		if st.queued {
			e.clearQueuedLocked(ctx, st)
		}
		log.Info("write rejected as stale", "version", conflict.LocalVersion, "server_version", conflict.CurrentVersion)
		return &outcome{
			event: core.EventAutosaveConflict,
			data:  core.AutosaveEvent{DocumentID: st.id, Conflict: conflict, Err: err},
			note: &core.Notification{
				Level:      core.LevelWarning,
				Message:    "This document was changed elsewhere. Reload it to continue editing.",
				DocumentID: st.id,
				Blocking:   true,
				Err:        err,
			},
		}, false

	case errors.Is(err, core.ErrNetwork):
		st.state = StateOffline
		st.lastErr = err
		if perr := e.persistLocked(ctx, st); perr != nil {
			log.Error("persisting offline edit failed", "error", perr)
		}
		log.Warn("saved offline", "error", err)
		return &outcome{
			event: core.EventAutosaveOffline,
			data:  core.AutosaveEvent{DocumentID: st.id, Err: err},
			note: &core.Notification{
				Level:      core.LevelInfo,
				Message:    "Saved offline. Changes will sync when the connection returns.",
				DocumentID: st.id,
				Err:        err,
			},
		}, true

	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		st.settleStateLocked(prev)
		return nil, false

	default:
		st.settleStateLocked(prev)
		st.lastErr = err
		log.Error("write failed", "error", err)
		return &outcome{
			event: core.EventAutosaveFailed,
			data:  core.AutosaveEvent{DocumentID: st.id, Err: err},
			note: &core.Notification{
				Level:      core.LevelError,
				Message:    "Saving failed: " + security.SanitizeErrorMessage(err.Error()),
				DocumentID: st.id,
				Err:        err,
			},
		}, false
	}
}

func (e *Engine) publish(out *outcome) {
	e.events.Publish(out.event, out.data)
	if out.note != nil {
		e.events.Publish(core.EventNotification, *out.note)
	}
}

func (e *Engine) notify(n core.Notification) {
	e.events.Publish(core.EventNotification, n)
}

// writeStatus records a lifecycle status on the server without sending
// unsynced fields. A stale version is refreshed and the write retried once.
// After a retried write the local version is left alone, so unsynced edits
// still meet the conflict check on their next write.
func (e *Engine) writeStatus(ctx context.Context, st *docState, status core.DocumentStatus, at *time.Time) error {
	if err := e.awaitSettled(ctx, st); err != nil {
		return err
	}
	prev := st.state
	version := st.doc.Version
	settled := make(chan struct{})
	st.settled = settled
	st.state = StateInFlight
	st.mu.Unlock()

	req := core.UpdateRequest{Version: version, Status: status, CompletedAt: at}
	server, err := e.docs.UpdateDocument(ctx, st.id, req)
	retried := false
	if errors.Is(err, core.ErrConflict) {
		if fresh, gerr := e.docs.GetDocument(ctx, st.id); gerr == nil {
			retried = true
			req.Version = fresh.Version
			server, err = e.docs.UpdateDocument(ctx, st.id, req)
		}
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	st.settled = nil
	defer close(settled)

	if err != nil {
		st.settleStateLocked(prev)
		st.doc.Status = status
		if at != nil {
			t := *at
			st.doc.CompletedAt = &t
		}
		return err
	}

	if retried || prev == StateConflict {
		st.doc.Status = server.Status
		st.doc.CompletedAt = server.CompletedAt
		st.settleStateLocked(prev)
		return nil
	}
	st.adoptLocked(server, 0)
	st.settleStateLocked(prev)
	if st.queued {
		if perr := e.persistLocked(ctx, st); perr != nil {
			e.logger.Error("refreshing offline edit failed", "doc_id", st.id, "error", perr)
		}
	}
	return nil
}

const offlinePrefix = "offline/"

func offlineKey(id string) string {
	return offlinePrefix + id
}

// persistLocked writes the single offline slot for st, replacing any older
// edit. The slot keeps its capture time until a new Save supersedes it, so a
// failed replay does not move it behind newer edits.
func (e *Engine) persistLocked(ctx context.Context, st *docState) error {
	if st.capturedAt.IsZero() {
		st.capturedAt = e.now()
	}
	edit := core.OfflineEdit{
		DocumentID:   st.id,
		Payload:      st.pendingLocked(),
		LocalVersion: st.doc.Version,
		CapturedAt:   st.capturedAt,
	}
	data, err := json.Marshal(edit)
	if err != nil {
		return err
	}
	if err := e.store.Put(ctx, offlineKey(st.id), data); err != nil {
		return err
	}
	st.queued = true
	return nil
}

func (e *Engine) clearQueuedLocked(ctx context.Context, st *docState) {
	if err := e.store.Delete(ctx, offlineKey(st.id)); err != nil {
		e.logger.Error("removing offline edit failed", "doc_id", st.id, "error", err)
		return
	}
	st.queued = false
	st.capturedAt = time.Time{}
}

func (e *Engine) loadEdit(ctx context.Context, id string) (*core.OfflineEdit, error) {
	data, err := e.store.Get(ctx, offlineKey(id))
	if err != nil || data == nil {
		return nil, err
	}
	var edit core.OfflineEdit
	if err := json.Unmarshal(data, &edit); err != nil {
		return nil, err
	}
	return &edit, nil
}
