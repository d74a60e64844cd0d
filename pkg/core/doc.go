// Package core provides the fundamental types and interfaces for the draftsync package.
//
// This package contains:
//   - Document, Fields and OfflineEdit data models
//   - Job, JobUpdate and the monotonic Merge rule shared by polling and push
//   - LocalStore, DocumentService, JobService and PushSource contracts
//   - Event names and payloads published on the listener bus
//   - Error types for synchronization and job tracking
//
// Most users should import the root package github.com/jdziat/simple-draft-sync
// instead of this package directly.
package core
