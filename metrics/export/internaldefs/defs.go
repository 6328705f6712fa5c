package internaldefs

import (
	goFallback "github.com/MrEthical07/goFallback"
	"github.com/MrEthical07/goFallback/internal/audit"
)

// CounterDef names one engine counter for export.
type CounterDef struct {
	ID   goFallback.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for export.
type HistogramDef struct {
	ID   goFallback.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in MetricID order.
var CounterDefs = []CounterDef{
	{ID: goFallback.MetricConnectionAllowed, Name: "gofallback_connection_allowed_total", Help: "Connections admitted by the reconnect and capacity checks."},
	{ID: goFallback.MetricRateLimited, Name: "gofallback_rate_limited_total", Help: "Connections rejected by the reconnect delay or attempt cap."},
	{ID: goFallback.MetricCapacityRejected, Name: "gofallback_capacity_rejected_total", Help: "Connections rejected by the per-address online cap."},
	{ID: goFallback.MetricRateLimiterUnavailable, Name: "gofallback_rate_limiter_unavailable_total", Help: "Admissions decided while the shared rate limiter was unreachable."},
	{ID: goFallback.MetricVerificationBypassed, Name: "gofallback_verification_bypassed_total", Help: "Logins that skipped verification as already verified."},
	{ID: goFallback.MetricSessionStarted, Name: "gofallback_session_started_total", Help: "Verification sessions started."},
	{ID: goFallback.MetricVerificationPassed, Name: "gofallback_verification_passed_total", Help: "Verification sessions passed."},
	{ID: goFallback.MetricVerificationFailed, Name: "gofallback_verification_failed_total", Help: "Verification sessions failed, aborts excluded."},
	{ID: goFallback.MetricFailureProtocolViolation, Name: "gofallback_failure_protocol_violation_total", Help: "Failures caused by out-of-order or malformed packets."},
	{ID: goFallback.MetricFailureTimeout, Name: "gofallback_failure_timeout_total", Help: "Failures caused by the verification deadline."},
	{ID: goFallback.MetricFailureTooFast, Name: "gofallback_failure_too_fast_total", Help: "Failures caused by finishing faster than a real client can."},
	{ID: goFallback.MetricFailureGravity, Name: "gofallback_failure_gravity_total", Help: "Failures caused by movement off the expected fall path."},
	{ID: goFallback.MetricFailureKeepAlive, Name: "gofallback_failure_keep_alive_total", Help: "Failures caused by a missing or wrong keep-alive answer."},
	{ID: goFallback.MetricFailureTraffic, Name: "gofallback_failure_traffic_total", Help: "Failures caused by the per-session traffic caps."},
	{ID: goFallback.MetricSessionAborted, Name: "gofallback_session_aborted_total", Help: "Sessions whose connection closed before a verdict."},
	{ID: goFallback.MetricUnknownPacket, Name: "gofallback_unknown_packet_total", Help: "Ignored serverbound packets with unknown ids."},
	{ID: goFallback.MetricPersistenceError, Name: "gofallback_persistence_error_total", Help: "Durable store operations that failed."},
	{ID: goFallback.MetricTicketIssued, Name: "gofallback_ticket_issued_total", Help: "Handoff tickets issued to passed connections."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: goFallback.MetricVerificationLatency, Name: "gofallback_verification_duration_seconds", Help: "Time from session start to a passed verdict."},
}

// Source is what exporters read from. *goFallback.Engine implements it.
type Source interface {
	MetricsSnapshot() goFallback.MetricsSnapshot
	AuditStats() map[string]goFallback.AuditCounts
	VerifiedCount() int
}

// Reading is one read of a Source shared by every series of a scrape.
type Reading struct {
	Snapshot goFallback.MetricsSnapshot
	Audit    map[string]goFallback.AuditCounts
	Verified int
}

// Read takes a Reading from src.
func Read(src Source) Reading {
	return Reading{
		Snapshot: src.MetricsSnapshot(),
		Audit:    src.AuditStats(),
		Verified: src.VerifiedCount(),
	}
}

// SeriesKind tells exporters which instrument to create.
type SeriesKind uint8

const (
	SeriesCounter SeriesKind = iota
	SeriesGauge
)

// Label is an optional constant label on a series.
type Label struct {
	Key   string
	Value string
}

// SeriesDef is one scalar series. Several defs may share a name when they
// differ by label value.
type SeriesDef struct {
	Name  string
	Help  string
	Kind  SeriesKind
	Label *Label
	Value func(Reading) uint64
}

const (
	AuditDeliveredName = "gofallback_audit_delivered_total"
	AuditDroppedName   = "gofallback_audit_dropped_total"
	VerifiedName       = "gofallback_verified_identities"
	AuditEventLabel    = "event_type"
)

// ScalarSeries returns the engine counters, the per-event-type audit
// tallies and the verified gauge.
func ScalarSeries() []SeriesDef {
	out := make([]SeriesDef, 0, len(CounterDefs)+2*(len(audit.EventTypes)+1)+1)
	for _, def := range CounterDefs {
		id := def.ID
		out = append(out, SeriesDef{
			Name:  def.Name,
			Help:  def.Help,
			Kind:  SeriesCounter,
			Value: func(r Reading) uint64 { return r.Snapshot.Counters[id] },
		})
	}

	eventTypes := append(audit.EventTypes[:], audit.OtherEvents)
	for _, et := range eventTypes {
		out = append(out, SeriesDef{
			Name:  AuditDeliveredName,
			Help:  "Audit events handed to the sink, by event type.",
			Kind:  SeriesCounter,
			Label: &Label{Key: AuditEventLabel, Value: et},
			Value: func(r Reading) uint64 { return r.Audit[et].Delivered },
		})
	}
	for _, et := range eventTypes {
		out = append(out, SeriesDef{
			Name:  AuditDroppedName,
			Help:  "Audit events dropped by dispatcher backpressure, by event type.",
			Kind:  SeriesCounter,
			Label: &Label{Key: AuditEventLabel, Value: et},
			Value: func(r Reading) uint64 { return r.Audit[et].Dropped },
		})
	}

	out = append(out, SeriesDef{
		Name:  VerifiedName,
		Help:  "Verified (address, identity) pairs held in memory.",
		Kind:  SeriesGauge,
		Value: func(r Reading) uint64 { return uint64(r.Verified) },
	})
	return out
}

// HistogramGaugeSeries flattens each histogram into cumulative bucket
// gauges plus a count gauge, for exporters without a native histogram.
func HistogramGaugeSeries() []SeriesDef {
	out := make([]SeriesDef, 0, len(HistogramDefs)*(len(HistogramBoundSuffix)+1))
	for _, def := range HistogramDefs {
		id := def.ID
		for i, suffix := range HistogramBoundSuffix {
			out = append(out, SeriesDef{
				Name: def.Name + "_bucket_le_" + suffix,
				Help: "Cumulative histogram bucket count.",
				Kind: SeriesGauge,
				Value: func(r Reading) uint64 {
					return CumulativeBuckets(NormalizeBuckets(r.Snapshot.Histograms[id]))[i]
				},
			})
		}
		out = append(out, SeriesDef{
			Name: def.Name + "_count",
			Help: "Histogram total sample count.",
			Kind: SeriesGauge,
			Value: func(r Reading) uint64 {
				c := CumulativeBuckets(NormalizeBuckets(r.Snapshot.Histograms[id]))
				return c[len(c)-1]
			},
		})
	}
	return out
}

// HistogramBounds are the bucket upper bounds in seconds, matching the
// engine's millisecond buckets.
var HistogramBounds = []float64{0.25, 0.5, 1, 2, 3, 5, 10}

// HistogramBoundSuffix names each bucket, the last one being +Inf.
var HistogramBoundSuffix = []string{
	"0_25",
	"0_5",
	"1",
	"2",
	"3",
	"5",
	"10",
	"inf",
}

// NormalizeBuckets copies raw into a fixed-size array, zero-filling the tail.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
