package goFallback

import (
	"time"

	"github.com/MrEthical07/goFallback/internal/fallback"
	"github.com/MrEthical07/goFallback/protocol"
	"github.com/google/uuid"
)

// Reason classifies why a verification failed.
type Reason = fallback.Reason

const (
	ReasonNone              = fallback.ReasonNone
	ReasonProtocolViolation = fallback.ReasonProtocolViolation
	ReasonTimeout           = fallback.ReasonTimeout
	ReasonTooFast           = fallback.ReasonTooFast
	ReasonGravity           = fallback.ReasonGravity
	ReasonKeepAlive         = fallback.ReasonKeepAlive
	ReasonTraffic           = fallback.ReasonTraffic
	ReasonAborted           = fallback.ReasonAborted
)

// State is the phase of a verification session.
type State = fallback.State

// Admission is the verdict of [Engine.OnNewConnection].
type Admission struct {
	Allowed bool
	// Err is ErrRateLimited or ErrCapacityExceeded when rejected.
	Err error
	// RetryAfter is the remaining reconnect delay for rate-limited addresses.
	RetryAfter time.Duration
	// Message is the localized text to close a rejected connection with.
	Message string
}

// OutcomeKind is the session verdict after one input.
type OutcomeKind uint8

const (
	// OutcomeContinue means keep delivering frames.
	OutcomeContinue OutcomeKind = iota
	// OutcomeSuccess means the connection passed and may be released to the
	// backend.
	OutcomeSuccess
	// OutcomeFailure means the connection must be closed.
	OutcomeFailure
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	default:
		return "continue"
	}
}

// Outcome is returned by every session input.
type Outcome struct {
	Kind     OutcomeKind
	Identity uuid.UUID
	// Ticket is the signed handoff ticket when tickets are enabled.
	Ticket string
	Reason Reason
	// Message is the disconnect text already written to the client.
	Message string
	Err     error
}

// Continue reports whether the session is still running.
func (o Outcome) Continue() bool { return o.Kind == OutcomeContinue }

// Terminal reports whether the session reached a verdict.
func (o Outcome) Terminal() bool { return o.Kind != OutcomeContinue }

// ConnectionInfo describes the connection the host wants verified.
type ConnectionInfo struct {
	Address  string
	Identity uuid.UUID
	Username string
	Version  protocol.Version
}

// FrameWriter sends one encoded clientbound frame (packet id plus body,
// without the length prefix) to the client.
type FrameWriter interface {
	WriteFrame(frame []byte) error
}

// FrameWriterFunc adapts a function to FrameWriter.
type FrameWriterFunc func(frame []byte) error

func (f FrameWriterFunc) WriteFrame(frame []byte) error { return f(frame) }

// FrameConn is the connection surface [Engine.Serve] drives. ReadFrame
// returns one length-delimited frame without its length prefix.
type FrameConn interface {
	FrameWriter
	ReadFrame() ([]byte, error)
	SetReadDeadline(t time.Time) error
	Close() error
}

// OnlineCounter reports how many identities the host currently has online
// from an address.
type OnlineCounter interface {
	OnlineCount(addr string) int
}

// OnlineCounterFunc adapts a function to OnlineCounter.
type OnlineCounterFunc func(addr string) int

func (f OnlineCounterFunc) OnlineCount(addr string) int { return f(addr) }
