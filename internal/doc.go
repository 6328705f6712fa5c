// Package internal contains helper utilities that are intentionally private to goFallback,
// including secure random generation for session ids and protocol tokens.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - clientsim: scripted game clients for tests and load generation
//   - configutil: viper loading and YAML rendering of the engine config
//   - fallback: the per-connection verification state machine
//   - logutil: logrus logger construction
//   - rate: reconnect delay and attempt limiters (memory and Redis)
//   - traffic: per-session byte and packet accounting
//
// # What this package must NOT do
//
//   - Export types that appear in the public goFallback API.
//   - Be imported by any package outside the goFallback module.
package internal
