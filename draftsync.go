// Package draftsync keeps user-edited documents in sync with a remote
// service and follows the jobs started when they are submitted.
//
// This is the main package users should import. It re-exports the public
// types of the pkg/ packages and wires them into a Client.
//
// Basic usage:
//
//	client, _ := draftsync.New(
//	    draftsync.WithBaseURL("https://api.example.com"),
//	    draftsync.WithToken(os.Getenv("API_TOKEN")),
//	    draftsync.WithSSE(),
//	)
//	defer client.Close()
//
//	doc, _ := client.Create(ctx, draftsync.NewFields("title", "Untitled"))
//	client.Save(doc.ID, map[string]any{"title": "Quarterly report"})
//
//	client.Subscribe(draftsync.EventJobCompleted, func(e draftsync.Event) {
//	    log.Println("done:", e.Payload.(draftsync.JobEvent).Job.ID)
//	})
//	handle, _ := client.Submit(ctx, doc.ID)
package draftsync

import (
	"time"

	"github.com/jdziat/simple-draft-sync/pkg/backoff"
	"github.com/jdziat/simple-draft-sync/pkg/bus"
	"github.com/jdziat/simple-draft-sync/pkg/core"
	"github.com/jdziat/simple-draft-sync/pkg/docsync"
	"github.com/jdziat/simple-draft-sync/pkg/localstore"
	"github.com/jdziat/simple-draft-sync/pkg/schedule"
	"github.com/jdziat/simple-draft-sync/pkg/security"
)

// Type aliases
type (
	// Document is a user-editable record with a server-assigned version.
	Document = core.Document

	// DocumentStatus is the lifecycle state of a document.
	DocumentStatus = core.DocumentStatus

	// Fields is an ordered field mapping.
	Fields = core.Fields

	// OfflineEdit is an edit waiting for connectivity.
	OfflineEdit = core.OfflineEdit

	// JobHandle identifies the job started by a submission.
	JobHandle = core.JobHandle

	// Job is the tracked view of a remote job.
	Job = core.Job

	// JobStatus is the state of a job.
	JobStatus = core.JobStatus

	// JobError is the structured error of a failed job.
	JobError = core.JobError

	// JobUpdate is one status observation.
	JobUpdate = core.JobUpdate

	// UpdateRequest is the body of an optimistic write.
	UpdateRequest = core.UpdateRequest

	// DocumentService is the remote document service.
	DocumentService = core.DocumentService

	// JobService is the remote job service.
	JobService = core.JobService

	// ListOptions filters ListDocuments.
	ListOptions = core.ListOptions

	// DocumentList is one page of documents.
	DocumentList = core.DocumentList

	// Event is one published occurrence.
	Event = core.Event

	// AutosaveEvent is the payload of autosave:* events.
	AutosaveEvent = core.AutosaveEvent

	// JobEvent is the payload of job:* events.
	JobEvent = core.JobEvent

	// Notification is the payload of the notification event.
	Notification = core.Notification

	// Handler receives published events.
	Handler = bus.Handler

	// Subscription is the handle returned by Subscribe.
	Subscription = bus.Subscription

	// LocalStore is the durable key/value store for offline edits.
	LocalStore = core.LocalStore

	// PushSource delivers out-of-band job updates.
	PushSource = core.PushSource

	// TokenProvider supplies the bearer credential.
	TokenProvider = core.TokenProvider

	// TokenFunc adapts a function to TokenProvider.
	TokenFunc = core.TokenFunc

	// WriteState is the write state of an open document.
	WriteState = docsync.WriteState

	// BackoffConfig configures offline replay backoff.
	BackoffConfig = backoff.Config

	// RetryConfig configures submission retries.
	RetryConfig = backoff.RetryConfig

	// Schedule defines when the offline reconciler runs.
	Schedule = schedule.Schedule

	// ConflictError reports a write rejected for a stale version.
	ConflictError = core.ConflictError

	// NetworkError is a transient transport failure.
	NetworkError = core.NetworkError

	// RemoteError is a non-conflict error answer.
	RemoteError = core.RemoteError

	// NoRetryError marks an error permanent.
	NoRetryError = core.NoRetryError
)

// Document status constants
const (
	DocumentDraft      = core.DocumentDraft
	DocumentSubmitted  = core.DocumentSubmitted
	DocumentProcessing = core.DocumentProcessing
	DocumentCompleted  = core.DocumentCompleted
	DocumentFailed     = core.DocumentFailed
)

// Job status constants
const (
	JobPending   = core.JobPending
	JobRunning   = core.JobRunning
	JobCompleted = core.JobCompleted
	JobFailed    = core.JobFailed
	JobCancelled = core.JobCancelled
)

// Write state constants
const (
	StateIdle         = docsync.StateIdle
	StatePendingWrite = docsync.StatePendingWrite
	StateInFlight     = docsync.StateInFlight
	StateConflict     = docsync.StateConflict
	StateOffline      = docsync.StateOffline
)

// Event names
const (
	EventAutosaveSuccess  = core.EventAutosaveSuccess
	EventAutosaveOffline  = core.EventAutosaveOffline
	EventAutosaveConflict = core.EventAutosaveConflict
	EventAutosaveFailed   = core.EventAutosaveFailed
	EventJobPending       = core.EventJobPending
	EventJobRunning       = core.EventJobRunning
	EventJobCompleted     = core.EventJobCompleted
	EventJobFailed        = core.EventJobFailed
	EventJobCancelled     = core.EventJobCancelled
	EventJobTimeout       = core.EventJobTimeout
	EventNotification     = core.EventNotification
	Wildcard              = core.Wildcard
)

// Notification levels
const (
	LevelInfo    = core.LevelInfo
	LevelSuccess = core.LevelSuccess
	LevelWarning = core.LevelWarning
	LevelError   = core.LevelError
)

// Security limits
const (
	MaxIDLength           = security.MaxIDLength
	MaxFieldsSize         = security.MaxFieldsSize
	MaxErrorMessageLength = security.MaxErrorMessageLength
)

// NewFields builds Fields from alternating key/value pairs.
func NewFields(pairs ...any) *Fields {
	return core.NewFields(pairs...)
}

// FieldsFromMap builds Fields from a map.
func FieldsFromMap(m map[string]any) *Fields {
	return core.FieldsFromMap(m)
}

// NewMemoryStore returns a LocalStore that does not survive a restart.
func NewMemoryStore() LocalStore {
	return localstore.NewMemoryStore()
}

// StaticToken returns a TokenProvider that always answers token.
func StaticToken(token string) TokenProvider {
	return core.StaticToken(token)
}

// DefaultBackoff returns the offline replay defaults.
func DefaultBackoff() BackoffConfig {
	return backoff.DefaultConfig()
}

// DefaultRetryConfig returns the submission retry defaults.
func DefaultRetryConfig() RetryConfig {
	return backoff.DefaultRetryConfig()
}

// Schedule functions

// Every creates a schedule that runs at fixed intervals.
func Every(d time.Duration) Schedule {
	return schedule.Every(d)
}

// Cron creates a schedule from a cron expression.
func Cron(expr string) Schedule {
	return schedule.Cron(expr)
}

// ValidateDocumentID checks a document identifier.
func ValidateDocumentID(id string) error {
	return security.ValidateDocumentID(id)
}
