package goFallback

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one engine counter.
type MetricID uint16

const (
	// MetricConnectionAllowed counts connections admitted by OnNewConnection.
	MetricConnectionAllowed MetricID = iota
	// MetricRateLimited counts connections rejected by the reconnect gate or
	// the attempts-per-minute cap.
	MetricRateLimited
	// MetricCapacityRejected counts connections rejected by the online cap.
	MetricCapacityRejected
	// MetricRateLimiterUnavailable counts Redis limiter failures.
	MetricRateLimiterUnavailable
	// MetricVerificationBypassed counts already verified pairs.
	MetricVerificationBypassed
	MetricSessionStarted
	MetricVerificationPassed
	MetricVerificationFailed
	MetricFailureProtocolViolation
	MetricFailureTimeout
	MetricFailureTooFast
	MetricFailureGravity
	MetricFailureKeepAlive
	MetricFailureTraffic
	MetricSessionAborted
	// MetricUnknownPacket counts frames whose id no registration covers.
	MetricUnknownPacket
	// MetricPersistenceError counts durable store failures.
	MetricPersistenceError
	MetricTicketIssued
	// MetricVerificationLatency is the only histogram: wall time from session
	// start to a PASSED verdict.
	MetricVerificationLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds lock-free engine counters.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of the counters.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics returns counters that stay at zero unless cfg enables them.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc adds one to id. Nil or disabled metrics ignore it.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d into the latency histogram.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id >= metricIDCount {
		return
	}
	if id != MetricVerificationLatency {
		return
	}

	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies every counter, and the latency histogram when enabled.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricVerificationLatency].buckets[i])
		}
		s.Histograms[MetricVerificationLatency] = buckets
	}

	return s
}

// Verification takes at least MinDuration, so the buckets start at 250ms.
func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 250:
		return 0
	case ms <= 500:
		return 1
	case ms <= 1000:
		return 2
	case ms <= 2000:
		return 3
	case ms <= 3000:
		return 4
	case ms <= 5000:
		return 5
	case ms <= 10000:
		return 6
	default:
		return 7
	}
}

func failureMetric(r Reason) MetricID {
	switch r {
	case ReasonTimeout:
		return MetricFailureTimeout
	case ReasonTooFast:
		return MetricFailureTooFast
	case ReasonGravity:
		return MetricFailureGravity
	case ReasonKeepAlive:
		return MetricFailureKeepAlive
	case ReasonTraffic:
		return MetricFailureTraffic
	case ReasonAborted:
		return MetricSessionAborted
	default:
		return MetricFailureProtocolViolation
	}
}
