// Package tracker follows remote jobs until they finish.
//
// Each tracked job is polled on a fixed interval and, when a push source is
// configured, also subscribed to. Updates from both channels go through
// core.Merge so progress never regresses and a terminal job never changes.
// Updates for one job are applied and published in merge order; listeners
// may call back into the tracker.
//
// Terminal side effects:
//   - Completed marks the owning document Completed
//   - Failed records the failure on the owning document
//   - Cancelled only notifies
//
// A job still unfinished after the timeout ceiling is failed locally with a
// TIMEOUT error and job:timeout is published.
package tracker
