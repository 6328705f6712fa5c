package goFallback

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/MrEthical07/goFallback/internal"
	"github.com/MrEthical07/goFallback/internal/fallback"
	"github.com/MrEthical07/goFallback/internal/traffic"
	"github.com/MrEthical07/goFallback/pipeline"
	"github.com/MrEthical07/goFallback/protocol"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Session is one connection under verification. It is single-writer: the
// host calls Deliver, CheckDeadline and Abort from the connection's own
// goroutine.
type Session struct {
	engine *Engine
	id     internal.SessionID
	info   ConnectionInfo
	fsm    *fallback.Session
	out    FrameWriter
	log    logrus.FieldLogger

	counter  *traffic.Counter
	limits   traffic.Limits
	pipe     pipeline.Pipeline
	hooked   []string
	countIn  bool
	countOut bool

	strictUnknown bool

	// ctx scopes the identity write queued on PASSED; Abort cancels it.
	ctx    context.Context
	cancel context.CancelFunc

	outcome Outcome
}

// OpenSession starts verifying a connection: it installs the traffic
// counters into p (which may be nil), sends the join and keep-alive through
// out and returns the running session. A session whose first writes fail is
// returned already failed with ReasonAborted.
func (e *Engine) OpenSession(ctx context.Context, info ConnectionInfo, out FrameWriter, p pipeline.Pipeline) (*Session, error) {
	if e == nil || e.closed.Load() {
		return nil, ErrEngineNotReady
	}
	if info.Address == "" {
		return nil, fmt.Errorf("%w: empty address", ErrInvalidConnection)
	}
	if out == nil {
		return nil, fmt.Errorf("%w: nil frame writer", ErrInvalidConnection)
	}
	if !info.Version.Supported() {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, info.Version)
	}
	id, err := internal.NewSessionID()
	if err != nil {
		return nil, err
	}

	cfg := e.config
	s := &Session{
		engine:  e,
		id:      id,
		info:    info,
		out:     out,
		counter: traffic.NewCounter(),
		limits: traffic.Limits{
			MaxInboundPackets:   cfg.Traffic.MaxInboundPackets,
			MaxInboundBytes:     cfg.Traffic.MaxInboundBytes,
			MaxPacketsPerSecond: cfg.Traffic.MaxPacketsPerSecond,
		},
		pipe: p,
		log: e.log.WithFields(logrus.Fields{
			"addr":    info.Address,
			"version": info.Version.String(),
			"session": id.String(),
		}),
	}
	s.strictUnknown = cfg.Verification.StrictUnknownPackets
	// The write must outlive a request-scoped parent; only Abort drops it.
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))

	s.fsm, err = fallback.New(fallback.Config{
		MaxDuration:        cfg.Verification.MaxDuration,
		MinDuration:        cfg.Verification.MinDuration,
		MovementSamples:    cfg.Verification.MovementSamples,
		MinAirborneSamples: cfg.Verification.MinAirborneSamples,
		RequireKeepAlive:   cfg.Verification.RequireKeepAlive,
		SpawnX:             cfg.World.SpawnX,
		SpawnY:             cfg.World.SpawnY,
		SpawnZ:             cfg.World.SpawnZ,
		Gravity:            cfg.Physics.Gravity,
		Drag:               cfg.Physics.Drag,
		Tolerance:          cfg.Physics.Tolerance,
	}, fallback.Info{
		Address:  info.Address,
		Identity: info.Identity,
		Username: info.Username,
		Version:  info.Version,
	}, packetWriter{s})
	if err != nil {
		s.cancel()
		return nil, err
	}

	hooked, err := traffic.Hook(p, traffic.InsertionPoints(s.counter, cfg.Pipeline.DecoderAnchor, cfg.Pipeline.EncoderAnchor))
	if err != nil {
		s.log.WithError(err).Warn("install traffic stages")
	}
	s.hooked = hooked
	s.countIn = !slices.Contains(hooked, traffic.InboundStageName)
	s.countOut = !slices.Contains(hooked, traffic.OutboundStageName)

	e.metricInc(MetricSessionStarted)
	s.log.Debug("verification started")
	s.resolve(s.fsm.Start(e.now()))
	return s, nil
}

// packetWriter encodes clientbound packets for the session's version.
type packetWriter struct{ s *Session }

func (w packetWriter) WritePacket(p protocol.Packet) error {
	frame, err := protocol.Encode(p, w.s.info.Version)
	if err != nil {
		return err
	}
	if err := w.s.out.WriteFrame(frame); err != nil {
		return err
	}
	w.s.counter.OutboundPacket()
	if w.s.countOut {
		w.s.counter.AddOutboundBytes(len(frame))
	}
	return nil
}

func (s *Session) ID() string                { return s.id.String() }
func (s *Session) Info() ConnectionInfo      { return s.info }
func (s *Session) State() State              { return s.fsm.State() }
func (s *Session) Deadline() time.Time       { return s.fsm.Deadline() }
func (s *Session) Outcome() Outcome          { return s.outcome }
func (s *Session) Traffic() traffic.Snapshot { return s.counter.Snapshot() }

// Deliver feeds one serverbound frame: the packet id followed by its body,
// after length framing. Unknown packet ids are counted, then ignored unless
// Verification.StrictUnknownPackets is set; any other undecodable frame
// fails the session. Frames after a verdict return that verdict again.
func (s *Session) Deliver(frame []byte) Outcome {
	if s.outcome.Terminal() {
		return s.outcome
	}
	now := s.engine.now()

	s.counter.InboundPacket(now)
	if s.countIn {
		s.counter.AddInboundBytes(len(frame))
	}
	if err := s.counter.Check(s.limits); err != nil {
		return s.resolve(s.fsm.Fail(fallback.ReasonTraffic, err))
	}

	p, err := protocol.Decode(protocol.Serverbound, frame, s.info.Version)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownPacket) {
			s.counter.UnknownPacket()
			s.engine.metricInc(MetricUnknownPacket)
			if s.strictUnknown {
				return s.resolve(s.fsm.Fail(fallback.ReasonProtocolViolation, err))
			}
			return s.resolve(s.fsm.CheckDeadline(now))
		}
		return s.resolve(s.fsm.Fail(fallback.ReasonProtocolViolation, err))
	}
	return s.resolve(s.fsm.Handle(p, now))
}

// CheckDeadline fails the session once its verification window has passed.
// Hosts call it from a timer when no frame arrives.
func (s *Session) CheckDeadline() Outcome {
	if s.outcome.Terminal() {
		return s.outcome
	}
	return s.resolve(s.fsm.CheckDeadline(s.engine.now()))
}

// Abort records that the connection closed. Nothing is written to the
// client, and an identity write still queued for this session is dropped.
func (s *Session) Abort() Outcome {
	s.cancel()
	if s.outcome.Terminal() {
		return s.outcome
	}
	return s.resolve(s.fsm.Abort())
}

func (s *Session) resolve(r fallback.Result) Outcome {
	switch r.Status {
	case fallback.StatusPassed:
		s.outcome = s.passed(r)
	case fallback.StatusFailed:
		s.outcome = s.failed(r)
	default:
		return Outcome{Kind: OutcomeContinue}
	}
	traffic.Unhook(s.pipe, s.hooked)
	s.hooked = nil
	return s.outcome
}

func (s *Session) passed(r fallback.Result) Outcome {
	e := s.engine
	out := Outcome{Kind: OutcomeSuccess, Identity: r.Identity}
	elapsed := e.now().Sub(s.fsm.StartedAt())

	e.cache.Add(s.ctx, s.info.Address, r.Identity)
	e.metricInc(MetricVerificationPassed)
	e.metrics.Observe(MetricVerificationLatency, elapsed)

	if e.tickets != nil {
		token, err := e.tickets.Issue(r.Identity, s.info.Address, s.info.Username, int32(s.info.Version))
		if err != nil {
			s.log.WithError(err).Warn("issue handoff ticket")
		} else {
			out.Ticket = token
			e.metricInc(MetricTicketIssued)
		}
	}

	e.emitAudit(s.ctx, AuditEvent{
		EventType: AuditVerificationPassed,
		Address:   s.info.Address,
		Identity:  r.Identity.String(),
		Username:  s.info.Username,
		SessionID: s.id.String(),
		Version:   int32(s.info.Version),
		Success:   true,
		Metadata:  map[string]string{"elapsed": elapsed.String()},
	})
	s.log.WithFields(logrus.Fields{
		"identity": r.Identity,
		"elapsed":  elapsed,
	}).Info("verification passed")
	return out
}

func (s *Session) failed(r fallback.Result) Outcome {
	e := s.engine
	out := Outcome{Kind: OutcomeFailure, Reason: r.Reason, Err: r.Err}

	e.metricInc(failureMetric(r.Reason))
	if r.Reason == fallback.ReasonAborted {
		e.emitAudit(s.ctx, AuditEvent{
			EventType: AuditSessionAborted,
			Address:   s.info.Address,
			Identity:  identityString(s.info),
			SessionID: s.id.String(),
			Version:   int32(s.info.Version),
			Reason:    r.Reason.String(),
			Error:     errString(r.Err),
		})
		s.log.WithField("state", s.fsm.State()).Debug("verification aborted")
		return out
	}

	e.metricInc(MetricVerificationFailed)
	out.Message = e.config.Message(r.Reason.String())
	if err := (packetWriter{s}).WritePacket(protocol.NewDisconnect(out.Message)); err != nil {
		s.log.WithError(err).Debug("write disconnect")
	}

	if set := e.limiter.Load(); set.cfg.FailurePenalty {
		if err := set.reconnect.Penalize(s.ctx, s.info.Address, e.now()); err != nil {
			s.log.WithError(err).Warn("penalize address")
		}
	}

	e.emitAudit(s.ctx, AuditEvent{
		EventType: AuditVerificationFailed,
		Address:   s.info.Address,
		Identity:  identityString(s.info),
		Username:  s.info.Username,
		SessionID: s.id.String(),
		Version:   int32(s.info.Version),
		Reason:    r.Reason.String(),
		Error:     errString(r.Err),
	})
	s.log.WithError(r.Err).WithField("reason", r.Reason).Info("verification failed")
	return out
}

func identityString(info ConnectionInfo) string {
	if info.Identity == uuid.Nil {
		return ""
	}
	return info.Identity.String()
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
