// Package docsync keeps locally edited documents in step with the remote
// document service.
//
// Each open document runs a small write state machine:
//
//	Idle -> PendingWrite -> InFlight -> {Idle | Conflict | Offline}
//
// Save coalesces edits behind a debounce timer. At most one write per
// document is in flight; later edits wait for it to settle. Writes carry the
// version they were based on, so a stale write comes back as a conflict and
// is surfaced rather than merged. Writes that fail for connectivity reasons
// are persisted as a single OfflineEdit per document and replayed by
// FlushOfflineQueue with capped exponential backoff.
package docsync
