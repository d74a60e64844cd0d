package docsync

import (
	"sort"
	"sync"
	"time"

	"github.com/jdziat/simple-draft-sync/pkg/core"
)

// WriteState is the autosave state of one document.
type WriteState int

const (
	StateIdle WriteState = iota
	StatePendingWrite
	StateInFlight
	StateConflict
	StateOffline
)

func (s WriteState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePendingWrite:
		return "pending_write"
	case StateInFlight:
		return "in_flight"
	case StateConflict:
		return "conflict"
	case StateOffline:
		return "offline"
	}
	return "unknown"
}

// docState is guarded by mu. Fields in dirty have not been acknowledged by
// the server; fieldSeq records the edit sequence that last touched each one.
type docState struct {
	mu       sync.Mutex
	id       string
	doc      *core.Document
	dirty    map[string]any
	fieldSeq map[string]uint64
	seq      uint64
	state    WriteState
	timer    *time.Timer
	settled  chan struct{} // non-nil while a write is in flight
	conflict *core.ConflictError
	lastErr  error
	queued   bool // an OfflineEdit is stored for this document

	// capturedAt orders the stored OfflineEdit in the queue. Zero until the
	// next persist after a Save.
	capturedAt time.Time
}

func newDocState(doc *core.Document) *docState {
	doc = doc.Clone()
	if doc.Fields == nil {
		doc.Fields = &core.Fields{}
	}
	return &docState{
		id:       doc.ID,
		doc:      doc,
		dirty:    make(map[string]any),
		fieldSeq: make(map[string]uint64),
	}
}

// applyLocked merges fields into the local document and the unsynced set.
func (s *docState) applyLocked(fields map[string]any) {
	for _, k := range sortedKeys(fields) {
		s.seq++
		s.dirty[k] = fields[k]
		s.fieldSeq[k] = s.seq
		s.doc.Fields.Set(k, fields[k])
	}
}

// adoptLocked replaces the local document with the server copy. Fields edited
// after sentSeq stay unsynced and are laid back on top.
func (s *docState) adoptLocked(server *core.Document, sentSeq uint64) {
	doc := server.Clone()
	if doc.Fields == nil {
		doc.Fields = &core.Fields{}
	}
	for _, k := range sortedKeys(s.dirty) {
		if s.fieldSeq[k] > sentSeq {
			doc.Fields.Set(k, s.dirty[k])
			continue
		}
		delete(s.dirty, k)
		delete(s.fieldSeq, k)
	}
	s.doc = doc
}

func (s *docState) pendingLocked() map[string]any {
	out := make(map[string]any, len(s.dirty))
	for k, v := range s.dirty {
		out[k] = v
	}
	return out
}

func (s *docState) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// settleStateLocked picks the resting state after a write, keeping Offline
// and Conflict sticky.
func (s *docState) settleStateLocked(prev WriteState) {
	switch {
	case prev == StateConflict || prev == StateOffline:
		s.state = prev
	case len(s.dirty) > 0:
		s.state = StatePendingWrite
	default:
		s.state = StateIdle
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
