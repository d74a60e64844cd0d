package docsync

import (
	"context"
	"errors"
	"time"

	"github.com/jdziat/simple-draft-sync/pkg/core"
)

// stateFor returns the open state for id, opening the document if needed.
func (e *Engine) stateFor(ctx context.Context, id string) (*docState, error) {
	st, err := e.lookup(id)
	if err == nil {
		return st, nil
	}
	if !errors.Is(err, core.ErrDocumentNotTracked) {
		return nil, err
	}
	if _, err := e.Open(ctx, id); err != nil {
		return nil, err
	}
	return e.lookup(id)
}

// MarkProcessing moves a submitted document to Processing locally.
func (e *Engine) MarkProcessing(_ context.Context, id string) error {
	st, err := e.lookup(id)
	if err != nil {
		return nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	switch st.doc.Status {
	case core.DocumentDraft, core.DocumentSubmitted:
		st.doc.Status = core.DocumentProcessing
	}
	return nil
}

// MarkCompleted writes status Completed with completedAt to the server. The
// local copy is marked Completed even when the write fails; the error is
// returned so the caller can warn.
func (e *Engine) MarkCompleted(ctx context.Context, id string, at time.Time) error {
	st, err := e.stateFor(ctx, id)
	if err != nil {
		return err
	}
	at = at.UTC()
	return e.writeStatus(ctx, st, core.DocumentCompleted, &at)
}

// MarkFailed records a failed job. The server copy is consulted first: a
// document the server already reports as Completed is left Completed.
// Otherwise the local copy becomes Failed and nothing is written remotely.
func (e *Engine) MarkFailed(ctx context.Context, id string) error {
	server, gerr := e.docs.GetDocument(ctx, id)
	st, err := e.lookup(id)
	if err != nil {
		if !errors.Is(err, core.ErrDocumentNotTracked) || gerr != nil {
			if gerr != nil {
				return gerr
			}
			return err
		}
		if st, err = e.register(newDocState(server)); err != nil {
			return err
		}
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if gerr == nil && server.Status == core.DocumentCompleted {
		st.doc.Status = core.DocumentCompleted
		st.doc.CompletedAt = server.CompletedAt
		return nil
	}
	if gerr != nil {
		e.logger.Debug("document refresh after job failure failed", "doc_id", id, "error", gerr)
	}
	st.doc.Status = core.DocumentFailed
	return nil
}
