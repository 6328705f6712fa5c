package goFallback

import (
	"context"
	"io"

	"github.com/MrEthical07/goFallback/internal/audit"
	"github.com/sirupsen/logrus"
)

// AuditEvent is one admission or verification decision.
type AuditEvent = audit.Event

// AuditSink receives audit events from the dispatcher goroutine.
type AuditSink = audit.Sink

// Audit event types.
const (
	AuditConnectionRejected = audit.EventConnectionRejected
	AuditVerificationBypass = audit.EventVerificationBypass
	AuditVerificationPassed = audit.EventVerificationPassed
	AuditVerificationFailed = audit.EventVerificationFailed
	AuditSessionAborted     = audit.EventSessionAborted
)

// AuditCounts is the delivery tally of one audit event type.
type AuditCounts = audit.Counts

type NoOpSink = audit.NoOpSink

type ChannelSink = audit.ChannelSink

func NewChannelSink(buffer int) *ChannelSink {
	return audit.NewChannelSink(buffer)
}

type JSONWriterSink = audit.JSONWriterSink

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}

// NewLogrusSink writes audit events as structured log entries.
func NewLogrusSink(log logrus.FieldLogger) AuditSink {
	return audit.NewLogrusSink(log)
}

func (e *Engine) emitAudit(ctx context.Context, event AuditEvent) {
	if e == nil || e.audit == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = e.now()
	}
	e.audit.Emit(ctx, event)
}

// AuditStats returns delivered and dropped audit events keyed by event
// type. Every known type is present, with zero counts when auditing is off.
func (e *Engine) AuditStats() map[string]AuditCounts {
	if e == nil {
		return (*audit.Dispatcher)(nil).Stats()
	}
	return e.audit.Stats()
}
