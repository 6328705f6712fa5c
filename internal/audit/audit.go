package audit

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Event types emitted by the engine.
const (
	EventConnectionRejected = "connection_rejected"
	EventVerificationBypass = "verification_bypassed"
	EventVerificationPassed = "verification_passed"
	EventVerificationFailed = "verification_failed"
	EventSessionAborted     = "session_aborted"
)

// Event is one verification decision.
type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	Address   string            `json:"addr"`
	Identity  string            `json:"identity,omitempty"`
	Username  string            `json:"username,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	Version   int32             `json:"protocol_version,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Sink receives emitted audit events.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink drops audit events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink writes audit events into a buffered channel.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{events: make(chan Event, buffer)}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{writer: w}
}

func (s *JSONWriterSink) Emit(_ context.Context, event Event) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.writer.Write(data)
}

// LogrusSink logs each event at info level, failures at warn.
type LogrusSink struct {
	log logrus.FieldLogger
}

func NewLogrusSink(log logrus.FieldLogger) *LogrusSink {
	return &LogrusSink{log: log}
}

func (s *LogrusSink) Emit(_ context.Context, event Event) {
	if s == nil || s.log == nil {
		return
	}
	fields := logrus.Fields{
		"event": event.EventType,
		"addr":  event.Address,
	}
	if event.Identity != "" {
		fields["identity"] = event.Identity
	}
	if event.Version != 0 {
		fields["version"] = event.Version
	}
	if event.Reason != "" {
		fields["reason"] = event.Reason
	}
	entry := s.log.WithFields(fields)
	if event.Success {
		entry.Info("audit")
		return
	}
	if event.Error != "" {
		entry = entry.WithField("error", event.Error)
	}
	entry.Warn("audit")
}
