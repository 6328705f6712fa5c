package goFallback

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/goFallback/internal/audit"
	"github.com/MrEthical07/goFallback/internal/rate"
	"github.com/MrEthical07/goFallback/ticket"
	"github.com/MrEthical07/goFallback/verified"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Engine gates new connections and runs verification sessions. It is safe
// for concurrent use.
type Engine struct {
	config      Config
	log         logrus.FieldLogger
	limiter     atomic.Pointer[limiterSet]
	cache       *verified.Cache
	storeCloser io.Closer
	tickets     *ticket.Manager
	audit       *audit.Dispatcher
	metrics     *Metrics
	redis       redis.UniversalClient
	online      OnlineCounter
	now         func() time.Time
	closed      atomic.Bool
}

// Close drains queued identity writes, stops the audit dispatcher and
// closes a database the engine opened itself. It is idempotent.
func (e *Engine) Close() {
	if e == nil || !e.closed.CompareAndSwap(false, true) {
		return
	}
	if e.cache != nil {
		e.cache.Close()
	}
	if e.audit != nil {
		e.audit.Close()
	}
	if e.storeCloser != nil {
		if err := e.storeCloser.Close(); err != nil {
			e.log.WithError(err).Warn("close verified database")
		}
	}
}

func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Config returns a copy of the active configuration.
func (e *Engine) Config() Config {
	cfg := cloneConfig(e.config)
	if set := e.limiter.Load(); set != nil {
		cfg.RateLimit = set.cfg
	}
	return cfg
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// OnNewConnection decides whether the host may continue with a new
// connection from addr. It runs before any packet is parsed: the reconnect
// gate first, then the attempts-per-minute cap, then the online capacity.
func (e *Engine) OnNewConnection(ctx context.Context, addr string) Admission {
	if e == nil || e.closed.Load() {
		return Admission{Err: ErrEngineNotReady, Message: defaultMessages()[MessageDefault]}
	}
	now := e.now()
	set := e.limiter.Load()

	wait, err := set.reconnect.Allow(ctx, addr, now)
	if err == nil && set.attempts != nil {
		err = set.attempts.Hit(ctx, addr, now)
	}
	if err != nil {
		if errors.Is(err, rate.ErrRedisUnavailable) {
			e.metricInc(MetricRateLimiterUnavailable)
			if set.cfg.FailOpen {
				e.log.WithError(err).WithField("addr", addr).Warn("rate limiter unavailable, admitting")
				err = nil
			} else {
				e.log.WithError(err).WithField("addr", addr).Warn("rate limiter unavailable, rejecting")
			}
		}
	}
	if err != nil {
		e.metricInc(MetricRateLimited)
		e.emitAudit(ctx, AuditEvent{
			EventType: AuditConnectionRejected,
			Address:   addr,
			Reason:    MessageRateLimited,
			Error:     err.Error(),
		})
		return Admission{
			Err:        ErrRateLimited,
			RetryAfter: wait,
			Message:    e.config.Message(MessageRateLimited),
		}
	}

	if max := e.config.Capacity.MaxOnlinePerAddress; max > 0 && e.online != nil {
		if n := e.online.OnlineCount(addr); n >= max {
			e.metricInc(MetricCapacityRejected)
			e.emitAudit(ctx, AuditEvent{
				EventType: AuditConnectionRejected,
				Address:   addr,
				Reason:    MessageCapacity,
				Error:     ErrCapacityExceeded.Error(),
			})
			return Admission{Err: ErrCapacityExceeded, Message: e.config.Message(MessageCapacity)}
		}
	}

	e.metricInc(MetricConnectionAllowed)
	return Admission{Allowed: true}
}

// ShouldVerify reports whether the pair must go through a verification
// session. Pairs verified earlier bypass it.
func (e *Engine) ShouldVerify(ctx context.Context, addr string, identity uuid.UUID) bool {
	if e == nil || e.cache == nil {
		return true
	}
	if !e.cache.Has(addr, identity) {
		return true
	}
	e.metricInc(MetricVerificationBypassed)
	e.emitAudit(ctx, AuditEvent{
		EventType: AuditVerificationBypass,
		Address:   addr,
		Identity:  identity.String(),
		Success:   true,
	})
	return false
}

// Reload swaps the rate limiter for one built from cfg. Sessions and
// admissions in flight finish against whichever limiter they loaded.
func (e *Engine) Reload(cfg RateLimitConfig) error {
	if e == nil || e.closed.Load() {
		return ErrEngineNotReady
	}
	next := cloneConfig(e.config)
	next.RateLimit = cfg
	if err := next.Validate(); err != nil {
		return err
	}
	if cfg.Backend == RateLimitRedis && e.redis == nil {
		return errors.New("RateLimit redis backend requires redis client")
	}
	e.limiter.Store(newLimiterSet(cfg, e.redis))
	e.log.WithFields(logrus.Fields{
		"reconnect_delay": cfg.ReconnectDelay,
		"backend":         cfg.Backend,
	}).Info("rate limiter reloaded")
	return nil
}

/*
====================================
VERIFIED IDENTITIES
====================================
*/

// IsVerified reports whether the pair passed before.
func (e *Engine) IsVerified(addr string, identity uuid.UUID) bool {
	return e != nil && e.cache != nil && e.cache.Has(addr, identity)
}

// VerifiedCount estimates the number of cached (address, identity) pairs.
func (e *Engine) VerifiedCount() int {
	if e == nil || e.cache == nil {
		return 0
	}
	return e.cache.EstimatedSize()
}

// ForgetAddress drops every identity verified from addr.
func (e *Engine) ForgetAddress(ctx context.Context, addr string) bool {
	if e == nil || e.cache == nil {
		return false
	}
	return e.cache.Remove(ctx, addr)
}

// ClearVerified empties the cache and its durable store.
func (e *Engine) ClearVerified(ctx context.Context) error {
	if e == nil || e.cache == nil {
		return ErrEngineNotReady
	}
	return e.cache.ClearAll(ctx)
}

// ClearVerifiedOlderThan deletes durable rows older than days. Cached
// entries stay valid until restart.
func (e *Engine) ClearVerifiedOlderThan(ctx context.Context, days int) error {
	if e == nil || e.cache == nil {
		return ErrEngineNotReady
	}
	return e.cache.ClearOld(ctx, days)
}

// SyncVerified waits for queued identity writes.
func (e *Engine) SyncVerified(ctx context.Context) error {
	if e == nil || e.cache == nil {
		return ErrEngineNotReady
	}
	return e.cache.Sync(ctx)
}

// PersistenceDegraded returns the durable store failure that forced
// memory-only operation, or nil.
func (e *Engine) PersistenceDegraded() error {
	if e == nil || e.cache == nil {
		return nil
	}
	return e.cache.Degraded()
}

// PersistenceStats returns the write-behind counters.
func (e *Engine) PersistenceStats() verified.Stats {
	if e == nil || e.cache == nil {
		return verified.Stats{}
	}
	return e.cache.Stats()
}

// ParseTicket verifies a handoff ticket issued by this engine.
func (e *Engine) ParseTicket(token string) (*ticket.Claims, error) {
	if e == nil || e.tickets == nil {
		return nil, ErrEngineNotReady
	}
	return e.tickets.Parse(token)
}
