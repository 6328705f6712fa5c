package goFallback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/MrEthical07/goFallback/internal/audit"
	"github.com/MrEthical07/goFallback/internal/logutil"
	"github.com/MrEthical07/goFallback/internal/rate"
	"github.com/MrEthical07/goFallback/ticket"
	"github.com/MrEthical07/goFallback/verified"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Builder assembles an Engine. Builder instances are intended to be
// configured during initialization and used once.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	store  verified.Store
	log    logrus.FieldLogger

	auditSink AuditSink
	online    OnlineCounter
	now       func() time.Time

	built bool
}

// New returns a builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis supplies the client used by the redis rate limit and
// persistence backends.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithStore overrides the durable store chosen by Config.Persistence.
func (b *Builder) WithStore(store verified.Store) *Builder {
	b.store = store
	return b
}

// WithLogger replaces the logger built from Config.Logging.
func (b *Builder) WithLogger(log logrus.FieldLogger) *Builder {
	b.log = log
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithOnlineCounter wires the host's view of online players for the
// capacity check.
func (b *Builder) WithOnlineCounter(c OnlineCounter) *Builder {
	b.online = c
	return b
}

// WithPipelineAnchors names the host stages the traffic counters are
// inserted before.
func (b *Builder) WithPipelineAnchors(decoder, encoder string) *Builder {
	b.config.Pipeline.DecoderAnchor = decoder
	b.config.Pipeline.EncoderAnchor = encoder
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// WithClock replaces time.Now. Tests use it to drive sessions through
// their time windows.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build is BuildContext with a background context.
func (b *Builder) Build() (*Engine, error) {
	return b.BuildContext(context.Background())
}

// BuildContext validates the configuration and wires every component. ctx
// bounds the initial load of the durable store. A durable store that cannot
// be reached does not fail the build; the engine runs memory-only and
// reports it through [Engine.PersistenceDegraded].
func (b *Builder) BuildContext(ctx context.Context) (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.redis == nil {
		if cfg.RateLimit.Backend == RateLimitRedis {
			return nil, errors.New("RateLimit redis backend requires redis client")
		}
		if cfg.Persistence.Enabled && cfg.Persistence.Backend == PersistenceRedis && b.store == nil {
			return nil, errors.New("Persistence redis backend requires redis client")
		}
	}

	// -------- LOGGER --------
	log := b.log
	if log == nil {
		l, err := logutil.New(logutil.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
		if err != nil {
			return nil, err
		}
		log = l
	}

	now := b.now
	if now == nil {
		now = time.Now
	}

	engine := &Engine{
		config:  cfg,
		log:     log,
		redis:   b.redis,
		online:  b.online,
		now:     now,
		metrics: NewMetrics(cfg.Metrics),
	}

	// -------- RATE LIMITER --------
	engine.limiter.Store(newLimiterSet(cfg.RateLimit, b.redis))

	// -------- TICKETS --------
	if cfg.Ticket.Enabled {
		tm, err := ticket.NewManager(ticket.Config{
			TTL:           cfg.Ticket.TTL,
			SigningMethod: ticket.SigningMethod(cfg.Ticket.SigningMethod),
			PrivateKey:    []byte(cfg.Ticket.PrivateKey),
			PublicKey:     []byte(cfg.Ticket.PublicKey),
			Issuer:        cfg.Ticket.Issuer,
			Audience:      cfg.Ticket.Audience,
			KeyID:         cfg.Ticket.KeyID,
		})
		if err != nil {
			return nil, fmt.Errorf("ticket manager: %w", err)
		}
		engine.tickets = tm
	}

	// -------- VERIFIED CACHE --------
	store, closer := b.openStore(cfg.Persistence, log)
	engine.storeCloser = closer
	engine.cache = verified.Open(ctx, store, verified.Options{
		MaxAgeDays:   cfg.Persistence.MaxAgeDays,
		QueueSize:    cfg.Persistence.QueueSize,
		WriteTimeout: cfg.Persistence.WriteTimeout,
		Logger:       log.WithField("component", "verified"),
		OnError: func(error) {
			engine.metrics.Inc(MetricPersistenceError)
		},
		Now: now,
	})
	if engine.cache.Degraded() != nil {
		engine.metrics.Inc(MetricPersistenceError)
	}

	// -------- AUDIT --------
	sink := b.auditSink
	if sink == nil {
		sink = audit.NewLogrusSink(log.WithField("component", "audit"))
	}
	engine.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, sink)

	b.built = true

	log.WithFields(logrus.Fields{
		"rate_limit_backend": cfg.RateLimit.Backend,
		"persistence":        cfg.Persistence.Enabled,
		"verified":           engine.cache.EstimatedSize(),
	}).Info("fallback engine ready")

	return engine, nil
}

// openStore picks the durable store. Connection failures are turned into a
// store that fails its first call, so the cache degrades in one place.
func (b *Builder) openStore(cfg PersistenceConfig, log logrus.FieldLogger) (verified.Store, io.Closer) {
	if b.store != nil {
		return b.store, nil
	}
	if !cfg.Enabled {
		return verified.NoopStore{}, nil
	}

	switch cfg.Backend {
	case PersistenceRedis:
		return verified.NewRedisStore(b.redis, cfg.RedisPrefix), nil
	default:
		db, err := verified.OpenGorm(cfg.Driver, cfg.DSN)
		if err != nil {
			log.WithError(err).WithField("driver", cfg.Driver).Warn("open verified database")
			return verified.UnavailableStore{Err: err}, nil
		}
		store, err := verified.NewGormStore(db)
		if err != nil {
			return verified.UnavailableStore{Err: err}, nil
		}
		sqlDB, err := db.DB()
		if err != nil {
			return store, nil
		}
		return store, sqlDB
	}
}

// limiterSet is swapped as a whole on Reload.
type limiterSet struct {
	cfg       RateLimitConfig
	reconnect rate.Reconnect
	attempts  rate.Attempts
}

func newLimiterSet(cfg RateLimitConfig, rdb redis.UniversalClient) *limiterSet {
	set := &limiterSet{cfg: cfg}
	if cfg.Backend == RateLimitRedis && rdb != nil {
		set.reconnect = rate.NewRedisExpiring(rdb, cfg.RedisPrefix, cfg.ReconnectDelay)
		if cfg.MaxAttemptsPerMinute > 0 {
			set.attempts = rate.NewRedisWindow(rdb, cfg.RedisPrefix, cfg.MaxAttemptsPerMinute, time.Minute)
		}
		return set
	}
	set.reconnect = rate.NewExpiring(cfg.ReconnectDelay, cfg.SweepInterval)
	if cfg.MaxAttemptsPerMinute > 0 {
		set.attempts = rate.NewWindow(cfg.MaxAttemptsPerMinute, time.Minute)
	}
	return set
}
