// Package verified remembers which identities passed verification from
// which address.
//
// # Components
//
//   - [Cache]: in-memory sets per address with a write-behind worker.
//   - [Store]: durable adapter: [NoopStore], [GormStore] (table
//     verified_player on SQLite or MySQL) and [RedisStore].
//
// Reads are served from memory only. Writes are applied to memory first and
// mirrored to the store by a single goroutine in submission order; store
// failures are logged and counted but never surface to callers of Add or
// Remove.
package verified
