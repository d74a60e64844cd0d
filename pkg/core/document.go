package core

import (
	"time"
)

// DocumentStatus represents the lifecycle state of a document.
type DocumentStatus string

const (
	DocumentDraft      DocumentStatus = "DRAFT"
	DocumentSubmitted  DocumentStatus = "SUBMITTED"
	DocumentProcessing DocumentStatus = "PROCESSING"
	DocumentCompleted  DocumentStatus = "COMPLETED"
	DocumentFailed     DocumentStatus = "FAILED"
)

// Document is a user-editable record with a server-assigned version.
// Version starts at 1 and is incremented by the server on every accepted write.
type Document struct {
	ID          string         `json:"id"`
	Version     int64          `json:"version"`
	Status      DocumentStatus `json:"status"`
	Fields      *Fields        `json:"fields"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
	SubmittedAt *time.Time     `json:"submittedAt,omitempty"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
}

// Clone returns a deep copy of the document fields and timestamps.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := *d
	out.Fields = d.Fields.Clone()
	if d.SubmittedAt != nil {
		t := *d.SubmittedAt
		out.SubmittedAt = &t
	}
	if d.CompletedAt != nil {
		t := *d.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}

// UpdateRequest is the body of an optimistic write. Version is the version
// the edit was based on; the server rejects it when it is stale.
type UpdateRequest struct {
	Version     int64          `json:"version"`
	Fields      map[string]any `json:"fields,omitempty"`
	Status      DocumentStatus `json:"status,omitempty"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
}

// ListOptions filters a document listing.
type ListOptions struct {
	Page   int
	Limit  int
	Status DocumentStatus
}

// DocumentList is one page of documents.
type DocumentList struct {
	Documents []*Document `json:"documents"`
	Total     int         `json:"total"`
	Page      int         `json:"page"`
	Limit     int         `json:"limit"`
}

// OfflineEdit is an edit whose remote write failed for connectivity reasons.
// There is at most one per document; a newer edit replaces the queued one.
type OfflineEdit struct {
	DocumentID   string         `json:"documentId"`
	Payload      map[string]any `json:"payload"`
	LocalVersion int64          `json:"localVersion"`
	CapturedAt   time.Time      `json:"capturedAt"`
}

// JobHandle identifies the job started by a submission.
type JobHandle struct {
	JobID      string `json:"jobId"`
	DocumentID string `json:"documentId"`
}
