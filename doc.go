// Package goFallback is an anti-bot gate for Minecraft Java Edition proxies.
// Every new connection is diverted through a short synthetic play session
// (protocol 1.7.2 through 1.15.2) that checks the client answers keep-alives,
// echoes a teleport and falls under vanilla gravity before it is handed to
// the real backend.
//
// The package is designed for concurrent proxy workloads: Engine methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build]. A [Session] is single-writer and must be driven from its
// connection's own goroutine.
//
// # Architecture boundaries
//
// goFallback is the public surface. It exposes [Engine], [Builder], [Config],
// [Session] and the handoff value types ([Admission], [Outcome],
// [ConnectionInfo]). The state machine, traffic accounting, rate limiting and
// audit dispatch live under internal/. The packet codec lives in protocol,
// the identity cache and its durable stores in verified, and handoff tickets
// in ticket.
//
// # What this package must NOT do
//
//   - Block a connection's packet path on the durable store. Writes are
//     queued to a single background worker.
//   - Let a persistence failure reverse a PASSED verdict or reach a client.
//   - Mutate a host pipeline beyond the two named traffic stages it installs
//     and later removes.
//   - Import any sub-package that re-imports goFallback (no import cycles).
//
// # Performance contract
//
// OnNewConnection is the hot path. The reconnect check runs before any
// packet is parsed and does at most one Redis round-trip when the Redis
// limiter is configured. Deliver never performs I/O other than writing
// clientbound packets to the caller's writer.
package goFallback
