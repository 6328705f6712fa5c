// Package protocol implements the subset of the Minecraft Java Edition play
// protocol that the fallback gate needs, for protocol versions 1.7.2 through
// 1.15.2.
//
// # Components
//
//   - [Version]: ordered protocol number with named revisions.
//   - [Packet]: one struct per variant with per-version length bounds.
//   - [Decode] / [Encode]: frame codec over a version-range registry.
//   - [Reader] / [Writer]: bounded wire primitives.
//
// # What this package must NOT do
//
//   - Handle length framing, compression, or encryption (the host does).
//   - Read beyond a frame body: every decode is bounded by the declared
//     minimum and maximum length of its variant.
//   - Import goFallback or any internal package.
package protocol
