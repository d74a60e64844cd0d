// Package backoff computes retry delays and runs operations with retry.
//
// This package includes:
//   - Config and NextDelay, the pure doubling schedule used by the offline queue
//   - RetryConfig and Retry, a context-aware retry loop for remote calls
//
// Most users should import the root package github.com/jdziat/simple-draft-sync
// which configures these through client options.
package backoff
