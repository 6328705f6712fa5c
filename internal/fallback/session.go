package fallback

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/MrEthical07/goFallback/internal"
	"github.com/MrEthical07/goFallback/protocol"
	"github.com/google/uuid"
)

// Legacy clients report the probe Y at eye level.
const legacyEyeHeight = 1.62

// Writer sends clientbound packets to the connection under verification.
type Writer interface {
	WritePacket(p protocol.Packet) error
}

// Config tunes one session.
type Config struct {
	MaxDuration        time.Duration
	MinDuration        time.Duration
	MovementSamples    int
	MinAirborneSamples int
	RequireKeepAlive   bool

	SpawnX, SpawnY, SpawnZ float64

	Gravity   float64
	Drag      float64
	Tolerance float64

	// TokenSource overrides the random correlation tokens.
	TokenSource func() (int32, error)
}

// Info identifies the connection under verification.
type Info struct {
	Address  string
	Identity uuid.UUID
	Username string
	Version  protocol.Version
}

// Status is the per-packet verdict.
type Status uint8

const (
	StatusContinue Status = iota
	StatusPassed
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPassed:
		return "passed"
	case StatusFailed:
		return "failed"
	default:
		return "continue"
	}
}

// Result is returned from every session input.
type Result struct {
	Status   Status
	Identity uuid.UUID
	Reason   Reason
	Err      error
}

// Sample is one movement update collected after the probe.
type Sample struct {
	X, Y, Z  float64
	OnGround bool
	At       time.Time
}

// Session drives one connection through the verification protocol. It is
// single-writer: every method must be called from the connection's own
// goroutine.
type Session struct {
	cfg  Config
	info Info
	out  Writer

	state     State
	startedAt time.Time
	deadline  time.Time

	keepAliveID       int32
	keepAliveAnswered bool

	teleportID      int32
	needConfirm     bool
	teleportConfirm bool
	probeY          float64

	samples []Sample
	result  Result
}

// New creates a session in StateInit.
func New(cfg Config, info Info, out Writer) (*Session, error) {
	if !info.Version.Supported() {
		return nil, fmt.Errorf("%w: %s", protocol.ErrUnsupportedVersion, info.Version)
	}
	if out == nil {
		return nil, errors.New("nil packet writer")
	}
	if cfg.MovementSamples <= 0 {
		return nil, errors.New("movement samples must be > 0")
	}
	if cfg.TokenSource == nil {
		cfg.TokenSource = internal.NewToken
	}
	return &Session{
		cfg:     cfg,
		info:    info,
		out:     out,
		samples: make([]Sample, 0, cfg.MovementSamples),
	}, nil
}

func (s *Session) State() State            { return s.state }
func (s *Session) Info() Info              { return s.info }
func (s *Session) StartedAt() time.Time    { return s.startedAt }
func (s *Session) Deadline() time.Time     { return s.deadline }
func (s *Session) Samples() []Sample       { return append([]Sample(nil), s.samples...) }
func (s *Session) Result() Result          { return s.result }
func (s *Session) KeepAliveAnswered() bool { return s.keepAliveAnswered }

// Start joins the client into the synthetic world and sends the first
// keep-alive.
func (s *Session) Start(now time.Time) Result {
	if s.state != StateInit {
		return s.closed()
	}
	s.startedAt = now
	s.deadline = now.Add(s.cfg.MaxDuration)

	join := &protocol.JoinGame{
		EntityID:         1,
		GameMode:         2,
		MaxPlayers:       1,
		LevelType:        "flat",
		ViewDistance:     2,
		ReducedDebugInfo: true,
	}
	if err := s.out.WritePacket(join); err != nil {
		return s.fail(ReasonAborted, fmt.Errorf("write join game: %w", err))
	}
	s.advance(StateHandshakeSent)

	token, err := s.cfg.TokenSource()
	if err != nil {
		return s.fail(ReasonAborted, fmt.Errorf("keep-alive token: %w", err))
	}
	s.keepAliveID = token
	if err := s.out.WritePacket(&protocol.KeepAlive{ID: int64(token)}); err != nil {
		return s.fail(ReasonAborted, fmt.Errorf("write keep-alive: %w", err))
	}
	s.advance(StateAwaitingClientInfo)

	return Result{Status: StatusContinue}
}

// Handle feeds one decoded serverbound packet.
func (s *Session) Handle(p protocol.Packet, now time.Time) Result {
	if s.state.Terminal() {
		return s.closed()
	}
	if s.state == StateInit {
		return s.violation("packet before session start: %s", p.Kind())
	}
	if r, expired := s.expire(now); expired {
		return r
	}

	switch pkt := p.(type) {
	case *protocol.KeepAlive:
		return s.onKeepAlive(pkt)
	case *protocol.PluginMessage, *protocol.GroundState:
		return Result{Status: StatusContinue}
	}

	switch s.state {
	case StateAwaitingClientInfo:
		return s.awaitClientInfo(p)
	case StateProbeSent:
		return s.awaitProbeEcho(p)
	case StateCollectingMovement:
		return s.collect(p, now)
	default:
		return s.violation("unexpected %s in %s", p.Kind(), s.state)
	}
}

// CheckDeadline fails the session once now reaches the deadline.
func (s *Session) CheckDeadline(now time.Time) Result {
	if s.state.Terminal() {
		return s.result
	}
	if r, expired := s.expire(now); expired {
		return r
	}
	return Result{Status: StatusContinue}
}

// Fail ends the session for a reason detected outside the state machine,
// such as an undecodable frame or a traffic cap.
func (s *Session) Fail(reason Reason, cause error) Result {
	if s.state.Terminal() {
		return s.result
	}
	return s.fail(reason, cause)
}

// Abort marks a session whose connection closed. Nothing is written.
func (s *Session) Abort() Result {
	return s.Fail(ReasonAborted, nil)
}

func (s *Session) expire(now time.Time) (Result, bool) {
	if s.deadline.IsZero() || now.Before(s.deadline) {
		return Result{}, false
	}
	return s.fail(ReasonTimeout, fmt.Errorf("no verdict within %s", s.cfg.MaxDuration)), true
}

func (s *Session) onKeepAlive(p *protocol.KeepAlive) Result {
	if p.ID != int64(s.keepAliveID) {
		return s.violation("keep-alive id %d does not match", p.ID)
	}
	if s.keepAliveAnswered {
		return s.violation("duplicate keep-alive response")
	}
	s.keepAliveAnswered = true
	return Result{Status: StatusContinue}
}

func (s *Session) awaitClientInfo(p protocol.Packet) Result {
	if _, ok := p.(*protocol.ClientSettings); !ok {
		return s.violation("expected client settings, got %s", p.Kind())
	}

	token, err := s.cfg.TokenSource()
	if err != nil {
		return s.fail(ReasonAborted, fmt.Errorf("teleport token: %w", err))
	}
	s.teleportID = token
	s.needConfirm = s.info.Version.AtLeast(protocol.V1_9)

	s.probeY = s.cfg.SpawnY
	if s.info.Version.Less(protocol.V1_8) {
		s.probeY += legacyEyeHeight
	}
	probe := &protocol.ServerPositionLook{
		X:          s.cfg.SpawnX,
		Y:          s.probeY,
		Z:          s.cfg.SpawnZ,
		TeleportID: token,
	}
	if err := s.out.WritePacket(probe); err != nil {
		return s.fail(ReasonAborted, fmt.Errorf("write probe: %w", err))
	}
	s.advance(StateProbeSent)
	return Result{Status: StatusContinue}
}

func (s *Session) awaitProbeEcho(p protocol.Packet) Result {
	switch pkt := p.(type) {
	case *protocol.ClientSettings:
		return Result{Status: StatusContinue}
	case *protocol.TeleportConfirm:
		if pkt.TeleportID != s.teleportID {
			return s.violation("teleport id %d does not match", pkt.TeleportID)
		}
		if s.teleportConfirm {
			return s.violation("duplicate teleport confirmation")
		}
		s.teleportConfirm = true
		return Result{Status: StatusContinue}
	}

	x, y, z, onGround, ok := movement(p)
	if !ok {
		return s.violation("expected probe echo, got %s", p.Kind())
	}
	if s.needConfirm && !s.teleportConfirm {
		return s.violation("probe echo before teleport confirmation")
	}
	if onGround {
		return s.violation("probe echo reports ground contact")
	}
	const echoEpsilon = 1e-3
	if math.Abs(x-s.cfg.SpawnX) > echoEpsilon ||
		math.Abs(y-s.cfg.SpawnY) > echoEpsilon ||
		math.Abs(z-s.cfg.SpawnZ) > echoEpsilon {
		return s.violation("probe echo at (%.3f, %.3f, %.3f) is not the spawn point", x, y, z)
	}

	s.advance(StateCollectingMovement)
	return Result{Status: StatusContinue}
}

func (s *Session) collect(p protocol.Packet, now time.Time) Result {
	if _, ok := p.(*protocol.ClientSettings); ok {
		return Result{Status: StatusContinue}
	}
	x, y, z, onGround, ok := movement(p)
	if !ok {
		return s.violation("unexpected %s while collecting movement", p.Kind())
	}
	if !finite(x) || !finite(y) || !finite(z) {
		return s.violation("non-finite coordinates")
	}

	s.samples = append(s.samples, Sample{X: x, Y: y, Z: z, OnGround: onGround, At: now})
	if onGround || len(s.samples) >= s.cfg.MovementSamples {
		return s.validate(now)
	}
	return Result{Status: StatusContinue}
}

func (s *Session) validate(now time.Time) Result {
	s.advance(StateValidating)

	elapsed := now.Sub(s.startedAt)
	if elapsed > s.cfg.MaxDuration {
		return s.fail(ReasonTimeout, fmt.Errorf("completed after %s", elapsed))
	}
	if elapsed < s.cfg.MinDuration {
		return s.fail(ReasonTooFast, fmt.Errorf("completed in %s, minimum is %s", elapsed, s.cfg.MinDuration))
	}
	if s.cfg.RequireKeepAlive && !s.keepAliveAnswered {
		return s.fail(ReasonKeepAlive, nil)
	}
	if err := CheckFall(s.samples, s.cfg.SpawnY, FallModel{
		Gravity:            s.cfg.Gravity,
		Drag:               s.cfg.Drag,
		Tolerance:          s.cfg.Tolerance,
		MinAirborneSamples: s.cfg.MinAirborneSamples,
	}); err != nil {
		return s.fail(ReasonGravity, err)
	}

	s.advance(StatePassed)
	s.result = Result{Status: StatusPassed, Identity: s.info.Identity}
	return s.result
}

func (s *Session) violation(format string, args ...any) Result {
	return s.fail(ReasonProtocolViolation, fmt.Errorf(format, args...))
}

func (s *Session) fail(reason Reason, cause error) Result {
	err := reasonError(reason)
	if cause != nil {
		err = fmt.Errorf("%w: %v", err, cause)
	}
	s.advance(StateFailed)
	s.result = Result{Status: StatusFailed, Reason: reason, Err: err}
	return s.result
}

func (s *Session) closed() Result {
	r := s.result
	if r.Status == StatusContinue {
		r = Result{Status: StatusFailed, Reason: ReasonProtocolViolation, Err: ErrSessionClosed}
	}
	return r
}

func (s *Session) advance(to State) {
	if to > s.state {
		s.state = to
	}
}

func movement(p protocol.Packet) (x, y, z float64, onGround, ok bool) {
	switch pkt := p.(type) {
	case *protocol.Position:
		return pkt.X, pkt.Y, pkt.Z, pkt.OnGround, true
	case *protocol.PositionLook:
		return pkt.X, pkt.Y, pkt.Z, pkt.OnGround, true
	default:
		return 0, 0, 0, false, false
	}
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
