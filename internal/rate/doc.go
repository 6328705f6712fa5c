// Package rate provides the per-address limiters consulted before a
// verification session starts.
//
// # Limiters
//
//   - [Expiring]: in-memory reconnect delay: one live entry per address,
//     expired entries swept lazily on access.
//   - [RedisExpiring]: the same contract shared across proxies via SET NX PX.
//     Key prefix: fr: (reconnect).
//   - [Window] / [RedisWindow]: fixed one-minute attempt counters. The Redis
//     variant uses INCR + conditional EXPIRE on first hit. Key prefix: fa:.
//
// # What this package must NOT do
//
//   - Parse packets or know about verification state.
//   - Be imported outside the goFallback module.
package rate
