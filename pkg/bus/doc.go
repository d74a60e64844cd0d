// Package bus provides the in-process listener bus for document and job events.
//
// Delivery is synchronous, in registration order, on the publishing goroutine.
// A panicking handler is recovered and logged; remaining handlers still run.
//
// Most users should import the root package github.com/jdziat/simple-draft-sync
// which exposes Subscribe and Unsubscribe on the Client.
package bus
