// Package security provides validation, sanitization, and limits for draft sync.
//
// This package includes:
//   - Input validation for document and job identifiers
//   - Field payload size limits enforced before anything is written
//   - Error message sanitization before messages reach listeners
//   - Clamping functions for polling and reconnect intervals
//
// Most users should import the root package github.com/jdziat/simple-draft-sync
// which re-exports these functions.
package security
