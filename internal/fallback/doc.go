// Package fallback implements the per-connection verification state machine.
//
// A [Session] joins the client into a synthetic world high above the ground,
// sends a keep-alive and, once the client reports its settings, a position
// probe. The client must echo the probe and then fall: the collected samples
// are checked against vanilla gravity by [CheckFall].
//
// # What this package must NOT do
//
//   - Read from or write to sockets directly (packets go through [Writer]).
//   - Touch rate limiters, the verified cache, or metrics.
//   - Import goFallback.
package fallback
