package rate

import "errors"

var (
	// ErrRateLimited is returned when an address is still inside its
	// reconnect delay or over its attempt budget.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps any Redis failure of the shared limiters.
	ErrRedisUnavailable = errors.New("redis unavailable")
)
