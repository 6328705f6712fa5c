package fallback

import (
	"errors"
	"fmt"
)

// State is a verification session phase. States only move forward.
type State uint8

const (
	StateInit State = iota
	StateHandshakeSent
	StateAwaitingClientInfo
	StateProbeSent
	StateCollectingMovement
	StateValidating
	StatePassed
	StateFailed
)

var stateNames = [...]string{
	StateInit:               "init",
	StateHandshakeSent:      "handshake_sent",
	StateAwaitingClientInfo: "awaiting_client_info",
	StateProbeSent:          "probe_sent",
	StateCollectingMovement: "collecting_movement",
	StateValidating:         "validating",
	StatePassed:             "passed",
	StateFailed:             "failed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StatePassed || s == StateFailed
}

// Reason classifies why a session failed.
type Reason uint8

const (
	ReasonNone Reason = iota
	ReasonProtocolViolation
	ReasonTimeout
	ReasonTooFast
	ReasonGravity
	ReasonKeepAlive
	ReasonTraffic
	ReasonAborted
)

var reasonNames = [...]string{
	ReasonNone:              "none",
	ReasonProtocolViolation: "protocol_violation",
	ReasonTimeout:           "timeout",
	ReasonTooFast:           "too_fast",
	ReasonGravity:           "gravity",
	ReasonKeepAlive:         "keep_alive",
	ReasonTraffic:           "traffic",
	ReasonAborted:           "aborted",
}

func (r Reason) String() string {
	if int(r) < len(reasonNames) {
		return reasonNames[r]
	}
	return "unknown"
}

var (
	// ErrProtocolViolation covers packets that are malformed, out of order,
	// or carry the wrong correlation token.
	ErrProtocolViolation = errors.New("protocol violation")
	// ErrTimeout is returned when the session outlives its wall-clock budget.
	ErrTimeout = errors.New("verification timed out")
	// ErrTooFast is returned when a session completes faster than any
	// interactive client could.
	ErrTooFast = fmt.Errorf("%w: completed too fast", ErrProtocolViolation)
	// ErrGravity is returned when movement does not follow free fall.
	ErrGravity = fmt.Errorf("%w: movement does not follow gravity", ErrProtocolViolation)
	// ErrKeepAlive is returned when the keep-alive was never answered.
	ErrKeepAlive = fmt.Errorf("%w: keep-alive not answered", ErrProtocolViolation)
	// ErrTraffic is returned when the session exceeds a traffic cap.
	ErrTraffic = fmt.Errorf("%w: traffic limit exceeded", ErrProtocolViolation)
	// ErrAborted is returned when the connection closed mid-session.
	ErrAborted = errors.New("session aborted")
	// ErrSessionClosed is returned when a packet arrives after a terminal
	// state.
	ErrSessionClosed = errors.New("session already completed")
)

func reasonError(r Reason) error {
	switch r {
	case ReasonTimeout:
		return ErrTimeout
	case ReasonTooFast:
		return ErrTooFast
	case ReasonGravity:
		return ErrGravity
	case ReasonKeepAlive:
		return ErrKeepAlive
	case ReasonTraffic:
		return ErrTraffic
	case ReasonAborted:
		return ErrAborted
	default:
		return ErrProtocolViolation
	}
}
