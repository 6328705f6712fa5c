// Package traffic accounts for the bytes and packets a verification session
// exchanges and enforces per-session caps.
//
// The counter's stages are spliced into the host pipeline next to its frame
// decoder and encoder through [InsertionPoints] and [Hook]; they only count
// and never modify data.
//
// # What this package must NOT do
//
//   - Decide verification outcomes (callers turn [ErrLimitExceeded] into a
//     protocol violation).
//   - Import goFallback.
package traffic
