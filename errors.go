package goFallback

import (
	"errors"

	"github.com/MrEthical07/goFallback/internal/fallback"
	"github.com/MrEthical07/goFallback/internal/rate"
	"github.com/MrEthical07/goFallback/protocol"
	"github.com/MrEthical07/goFallback/verified"
)

var (
	// ErrProtocolViolation covers malformed or out-of-sequence packets.
	ErrProtocolViolation = fallback.ErrProtocolViolation
	// ErrTimeout is returned when a session outlives its verification window.
	ErrTimeout = fallback.ErrTimeout
	// ErrTooFast wraps ErrProtocolViolation for sessions that finish faster
	// than an interactive client can.
	ErrTooFast = fallback.ErrTooFast
	// ErrGravity wraps ErrProtocolViolation for movement that ignores free fall.
	ErrGravity = fallback.ErrGravity
	// ErrKeepAlive wraps ErrProtocolViolation for an unanswered keep-alive.
	ErrKeepAlive = fallback.ErrKeepAlive
	// ErrTraffic wraps ErrProtocolViolation for sessions over a traffic cap.
	ErrTraffic = fallback.ErrTraffic
	// ErrAborted is returned when the connection closed mid-session.
	ErrAborted = fallback.ErrAborted
	// ErrSessionClosed is returned for frames delivered after a verdict.
	ErrSessionClosed = fallback.ErrSessionClosed
	// ErrUnsupportedVersion is returned for protocol numbers the codec does
	// not speak.
	ErrUnsupportedVersion = protocol.ErrUnsupportedVersion
	// ErrRateLimited is returned when an address reconnects too soon.
	ErrRateLimited = rate.ErrRateLimited
	// ErrPersistence marks durable store failures. They never leave the
	// identity cache.
	ErrPersistence = verified.ErrPersistence
	// ErrCapacityExceeded is returned when an address already holds the
	// maximum number of online identities.
	ErrCapacityExceeded = errors.New("capacity exceeded")
	// ErrEngineNotReady is returned by methods called on a nil or closed engine.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrInvalidConnection is returned when OpenSession is given an empty
	// address.
	ErrInvalidConnection = errors.New("invalid connection info")
)
