package core

import "time"

// Event names published on the listener bus.
const (
	EventAutosaveSuccess  = "autosave:success"
	EventAutosaveOffline  = "autosave:offline"
	EventAutosaveConflict = "autosave:conflict"
	EventAutosaveFailed   = "autosave:failed"

	EventJobPending   = "job:pending"
	EventJobRunning   = "job:running"
	EventJobCompleted = "job:completed"
	EventJobFailed    = "job:failed"
	EventJobCancelled = "job:cancelled"
	EventJobTimeout   = "job:timeout"

	EventNotification = "notification"

	// Wildcard subscribes to every event.
	Wildcard = "*"
)

// JobEventName maps a job status to its event name.
func JobEventName(s JobStatus) string {
	switch s {
	case JobPending:
		return EventJobPending
	case JobRunning:
		return EventJobRunning
	case JobCompleted:
		return EventJobCompleted
	case JobFailed:
		return EventJobFailed
	case JobCancelled:
		return EventJobCancelled
	}
	return ""
}

// Event is one published occurrence.
type Event struct {
	Name      string
	Payload   any
	Timestamp time.Time
}

// AutosaveEvent is the payload of autosave:* events.
type AutosaveEvent struct {
	DocumentID string
	Document   *Document      // server document after a successful write
	Conflict   *ConflictError // set for autosave:conflict
	Err        error          // cause for autosave:offline and autosave:failed
}

// JobEvent is the payload of job:* events.
type JobEvent struct {
	Job    Job
	Source UpdateSource
}

// NotificationLevel grades a user-visible notification.
type NotificationLevel string

const (
	LevelInfo    NotificationLevel = "info"
	LevelSuccess NotificationLevel = "success"
	LevelWarning NotificationLevel = "warning"
	LevelError   NotificationLevel = "error"
)

// Notification is the payload of the notification event. Blocking
// notifications require the user to act (reload after a conflict).
type Notification struct {
	Level      NotificationLevel
	Message    string
	DocumentID string
	JobID      string
	Blocking   bool
	Err        error
}
