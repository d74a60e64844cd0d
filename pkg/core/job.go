package core

import (
	"bytes"
	"encoding/json"
	"time"
)

// JobStatus represents the current state of a remote job.
type JobStatus string

const (
	JobPending   JobStatus = "PENDING"
	JobRunning   JobStatus = "RUNNING"
	JobCompleted JobStatus = "COMPLETED"
	JobFailed    JobStatus = "FAILED"
	JobCancelled JobStatus = "CANCELLED"
)

// IsTerminal reports whether no further transition is allowed out of s.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobPending, JobRunning, JobCompleted, JobFailed, JobCancelled:
		return true
	}
	return false
}

// Error codes set by the tracker itself.
const (
	ErrorCodeTimeout = "TIMEOUT"
)

// JobError is the structured error of a failed job. It decodes from either a
// plain JSON string or an object with code and message.
type JobError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (e *JobError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// UnmarshalJSON accepts "message" or {"code":..,"message":..}.
func (e *JobError) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var msg string
		if err := json.Unmarshal(data, &msg); err != nil {
			return err
		}
		*e = JobError{Message: msg}
		return nil
	}
	type plain JobError
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*e = JobError(p)
	return nil
}

// Job is the locally tracked view of a remote job.
type Job struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"documentId"`
	Status     JobStatus `json:"status"`
	Progress   int       `json:"progress"`
	Error      *JobError `json:"error,omitempty"`
	RetryCount int       `json:"retryCount"`
	CreatedAt  time.Time `json:"createdAt"`
	LastUpdate time.Time `json:"lastUpdate"`
}

// UpdateSource tags which channel produced a JobUpdate.
type UpdateSource int

const (
	SourcePoll UpdateSource = iota
	SourcePush
	SourceLocal
)

func (s UpdateSource) String() string {
	switch s {
	case SourcePoll:
		return "poll"
	case SourcePush:
		return "push"
	case SourceLocal:
		return "local"
	}
	return "unknown"
}

// JobUpdate is a status observation from any channel. Poll responses, push
// messages and local transitions (cancel, timeout) all share this shape.
type JobUpdate struct {
	Source     UpdateSource `json:"-"`
	JobID      string       `json:"jobId"`
	Status     JobStatus    `json:"status"`
	Progress   int          `json:"progress"`
	Error      *JobError    `json:"error,omitempty"`
	LastUpdate time.Time    `json:"lastUpdate"`
}
