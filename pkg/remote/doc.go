// Package remote is the HTTP client for the remote document and job services.
//
// Client implements core.DocumentService and core.JobService. Every request
// carries a bearer token from a core.TokenProvider; an empty token fails with
// core.ErrUnauthenticated before anything is sent. Responses are mapped onto
// the core error taxonomy:
//
//   - transport failures become *core.NetworkError
//   - 409 becomes *core.ConflictError carrying the server's current state
//   - 401 becomes core.ErrUnauthenticated, after one refresh when supported
//   - any other non-2xx becomes *core.RemoteError
//
// The client never retries on its own. Retry policy belongs to the caller.
package remote
