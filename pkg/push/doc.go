// Package push implements core.PushSource over long-lived event streams.
//
// Two transports are provided:
//   - SSE reads Server-Sent Events from GET {base}/events?jobId={id}
//   - WebSocket reads JSON messages from GET {base}/events/ws?jobId={id}
//
// Both deliver {jobId, status, progress, error} messages tagged as
// core.SourcePush and reconnect after a fixed delay when the stream drops.
// The update channel is closed once the subscription context is done.
package push
