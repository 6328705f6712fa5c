// Package audit dispatches verification decisions to pluggable sinks.
//
// # Components
//
//   - [Sink]: event consumers (channel, JSON lines, logrus, no-op).
//   - [Dispatcher]: buffered async relay with drop-if-full or block-if-full
//     semantics.
//   - [Event]: one admission or verification decision.
//
// The engine decides which events to emit; this package only buffers and
// delivers them.
//
// # What this package must NOT do
//
//   - Filter events based on verification logic.
//   - Import goFallback or any sibling internal package.
package audit
