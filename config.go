package goFallback

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/MrEthical07/goFallback/internal/configutil"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g.
// GOFALLBACK_VERIFICATION_MAX_DURATION=8s.
const EnvPrefix = "GOFALLBACK"

// Config is the complete engine configuration. Every section maps to a YAML
// key of the same name in snake case.
//
// Config instances are intended to be configured during initialization and
// then treated as immutable; use [Engine.Reload] to swap the rate limits.
type Config struct {
	Verification VerificationConfig `mapstructure:"verification" yaml:"verification"`
	World        WorldConfig        `mapstructure:"world" yaml:"world"`
	Physics      PhysicsConfig      `mapstructure:"physics" yaml:"physics"`
	RateLimit    RateLimitConfig    `mapstructure:"rate_limit" yaml:"rate_limit"`
	Traffic      TrafficConfig      `mapstructure:"traffic" yaml:"traffic"`
	Capacity     CapacityConfig     `mapstructure:"capacity" yaml:"capacity"`
	Persistence  PersistenceConfig  `mapstructure:"persistence" yaml:"persistence"`
	Pipeline     PipelineConfig     `mapstructure:"pipeline" yaml:"pipeline"`
	Ticket       TicketConfig       `mapstructure:"ticket" yaml:"ticket"`
	Messages     map[string]string  `mapstructure:"messages" yaml:"messages"`
	Logging      LoggingConfig      `mapstructure:"logging" yaml:"logging"`
	Audit        AuditConfig        `mapstructure:"audit" yaml:"audit"`
	Metrics      MetricsConfig      `mapstructure:"metrics" yaml:"metrics"`
}

/*
====================================
VERIFICATION CONFIG
====================================
*/

// VerificationConfig bounds a single verification session.
type VerificationConfig struct {
	MaxDuration        time.Duration `mapstructure:"max_duration" yaml:"max_duration"`
	MinDuration        time.Duration `mapstructure:"min_duration" yaml:"min_duration"`
	MovementSamples    int           `mapstructure:"movement_samples" yaml:"movement_samples"`
	MinAirborneSamples int           `mapstructure:"min_airborne_samples" yaml:"min_airborne_samples"`
	RequireKeepAlive   bool          `mapstructure:"require_keep_alive" yaml:"require_keep_alive"`

	// StrictUnknownPackets fails a session on any serverbound packet id the
	// negotiated version does not register. Off, such packets are counted
	// and ignored.
	StrictUnknownPackets bool `mapstructure:"strict_unknown_packets" yaml:"strict_unknown_packets"`
}

/*
====================================
WORLD / PHYSICS CONFIG
====================================
*/

// WorldConfig places the synthetic spawn point. Y should be high enough that
// a client never reaches ground during collection.
type WorldConfig struct {
	SpawnX float64 `mapstructure:"spawn_x" yaml:"spawn_x"`
	SpawnY float64 `mapstructure:"spawn_y" yaml:"spawn_y"`
	SpawnZ float64 `mapstructure:"spawn_z" yaml:"spawn_z"`
}

type PhysicsConfig struct {
	Gravity   float64 `mapstructure:"gravity" yaml:"gravity"`
	Drag      float64 `mapstructure:"drag" yaml:"drag"`
	Tolerance float64 `mapstructure:"tolerance" yaml:"tolerance"`
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitBackend selects where reconnect timestamps live.
type RateLimitBackend string

const (
	RateLimitMemory RateLimitBackend = "memory"
	RateLimitRedis  RateLimitBackend = "redis"
)

// RateLimitConfig controls the reconnect gate that runs before any packet is
// parsed.
type RateLimitConfig struct {
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay" yaml:"reconnect_delay"`
	// SweepInterval is the minimum spacing between lazy sweeps of the memory
	// limiter.
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
	// FailurePenalty re-arms the reconnect delay when a session fails.
	FailurePenalty       bool             `mapstructure:"failure_penalty" yaml:"failure_penalty"`
	MaxAttemptsPerMinute int              `mapstructure:"max_attempts_per_minute" yaml:"max_attempts_per_minute"`
	Backend              RateLimitBackend `mapstructure:"backend" yaml:"backend"`
	RedisPrefix          string           `mapstructure:"redis_prefix" yaml:"redis_prefix"`
	// FailOpen admits connections when the Redis limiter is unreachable.
	FailOpen bool `mapstructure:"fail_open" yaml:"fail_open"`
}

/*
====================================
TRAFFIC / CAPACITY CONFIG
====================================
*/

// TrafficConfig caps what one session may send. Zero disables a cap.
type TrafficConfig struct {
	MaxInboundPackets   int64 `mapstructure:"max_inbound_packets" yaml:"max_inbound_packets"`
	MaxInboundBytes     int64 `mapstructure:"max_inbound_bytes" yaml:"max_inbound_bytes"`
	MaxPacketsPerSecond int   `mapstructure:"max_packets_per_second" yaml:"max_packets_per_second"`
}

// CapacityConfig limits concurrent identities per address. Zero disables the
// check. It needs an [OnlineCounter] from the host.
type CapacityConfig struct {
	MaxOnlinePerAddress int `mapstructure:"max_online_per_address" yaml:"max_online_per_address"`
}

/*
====================================
PERSISTENCE CONFIG
====================================
*/

// PersistenceBackend selects the durable store behind the verified cache.
type PersistenceBackend string

const (
	PersistenceSQL   PersistenceBackend = "sql"
	PersistenceRedis PersistenceBackend = "redis"
)

type PersistenceConfig struct {
	Enabled bool               `mapstructure:"enabled" yaml:"enabled"`
	Backend PersistenceBackend `mapstructure:"backend" yaml:"backend"`
	// Driver is "sqlite" or "mysql" for the sql backend.
	Driver       string        `mapstructure:"driver" yaml:"driver"`
	DSN          string        `mapstructure:"dsn" yaml:"dsn"`
	RedisPrefix  string        `mapstructure:"redis_prefix" yaml:"redis_prefix"`
	MaxAgeDays   int           `mapstructure:"max_age_days" yaml:"max_age_days"`
	QueueSize    int           `mapstructure:"queue_size" yaml:"queue_size"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
}

/*
====================================
PIPELINE CONFIG
====================================
*/

// PipelineConfig names the host stages the traffic counters sit in front of.
type PipelineConfig struct {
	DecoderAnchor string `mapstructure:"decoder_anchor" yaml:"decoder_anchor"`
	EncoderAnchor string `mapstructure:"encoder_anchor" yaml:"encoder_anchor"`
}

/*
====================================
TICKET CONFIG
====================================
*/

// TicketConfig enables signed handoff tickets for passed connections. Keys
// are PEM text for ed25519 or the shared secret for hs256.
type TicketConfig struct {
	Enabled       bool          `mapstructure:"enabled" yaml:"enabled"`
	TTL           time.Duration `mapstructure:"ttl" yaml:"ttl"`
	SigningMethod string        `mapstructure:"signing_method" yaml:"signing_method"`
	PrivateKey    string        `mapstructure:"private_key" yaml:"private_key"`
	PublicKey     string        `mapstructure:"public_key" yaml:"public_key"`
	Issuer        string        `mapstructure:"issuer" yaml:"issuer"`
	Audience      string        `mapstructure:"audience" yaml:"audience"`
	KeyID         string        `mapstructure:"key_id" yaml:"key_id"`
}

/*
====================================
LOGGING / AUDIT / METRICS CONFIG
====================================
*/

type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool `mapstructure:"enabled" yaml:"enabled"`
	BufferSize int  `mapstructure:"buffer_size" yaml:"buffer_size"`
	DropIfFull bool `mapstructure:"drop_if_full" yaml:"drop_if_full"`
}

type MetricsConfig struct {
	Enabled                 bool `mapstructure:"enabled" yaml:"enabled"`
	EnableLatencyHistograms bool `mapstructure:"enable_latency_histograms" yaml:"enable_latency_histograms"`
}

// Message keys outside the failure reasons.
const (
	MessageRateLimited = "rate_limited"
	MessageCapacity    = "capacity"
	MessageDefault     = "default"
)

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the configuration Build uses when none is given.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Verification: VerificationConfig{
			MaxDuration:        10 * time.Second,
			MinDuration:        250 * time.Millisecond,
			MovementSamples:    8,
			MinAirborneSamples: 1,
			RequireKeepAlive:   true,
		},
		World: WorldConfig{
			SpawnX: 8.5,
			SpawnY: 256,
			SpawnZ: 8.5,
		},
		Physics: PhysicsConfig{
			Gravity:   0.08,
			Drag:      0.98,
			Tolerance: 0.005,
		},
		RateLimit: RateLimitConfig{
			ReconnectDelay:       500 * time.Millisecond,
			SweepInterval:        250 * time.Millisecond,
			FailurePenalty:       true,
			MaxAttemptsPerMinute: 0,
			Backend:              RateLimitMemory,
			RedisPrefix:          "gf",
			FailOpen:             false,
		},
		Traffic: TrafficConfig{
			MaxInboundPackets:   256,
			MaxInboundBytes:     64 << 10,
			MaxPacketsPerSecond: 100,
		},
		Persistence: PersistenceConfig{
			Enabled:      false,
			Backend:      PersistenceSQL,
			Driver:       "sqlite",
			RedisPrefix:  "gf",
			MaxAgeDays:   30,
			QueueSize:    1024,
			WriteTimeout: 5 * time.Second,
		},
		Pipeline: PipelineConfig{
			DecoderAnchor: "frame-decoder",
			EncoderAnchor: "frame-encoder",
		},
		Ticket: TicketConfig{
			Enabled:       false,
			TTL:           30 * time.Second,
			SigningMethod: "ed25519",
			Issuer:        "gofallback",
		},
		Messages: defaultMessages(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func defaultMessages() map[string]string {
	return map[string]string{
		"protocol_violation": "Verification failed: unexpected packet.",
		"timeout":            "Verification timed out. Please reconnect.",
		"too_fast":           "Verification failed. Please reconnect.",
		"gravity":            "Verification failed. Please reconnect.",
		"keep_alive":         "Verification failed: no keep-alive response.",
		"traffic":            "Verification failed: too many packets.",
		MessageRateLimited:   "You are reconnecting too fast. Please wait a moment.",
		MessageCapacity:      "Too many players are online from your address.",
		MessageDefault:       "Verification failed.",
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Messages = make(map[string]string, len(cfg.Messages))
	for k, v := range cfg.Messages {
		out.Messages[k] = v
	}
	return out
}

// Message returns the text for key, falling back to the default message.
func (c *Config) Message(key string) string {
	if msg, ok := c.Messages[key]; ok && msg != "" {
		return msg
	}
	if msg, ok := c.Messages[MessageDefault]; ok && msg != "" {
		return msg
	}
	return defaultMessages()[MessageDefault]
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	// Verification
	if c.Verification.MaxDuration <= 0 {
		return errors.New("Verification MaxDuration must be > 0")
	}
	if c.Verification.MinDuration < 0 {
		return errors.New("Verification MinDuration must be >= 0")
	}
	if c.Verification.MinDuration >= c.Verification.MaxDuration {
		return errors.New("Verification MinDuration must be < MaxDuration")
	}
	if c.Verification.MovementSamples <= 0 {
		return errors.New("Verification MovementSamples must be > 0")
	}
	if c.Verification.MinAirborneSamples < 0 || c.Verification.MinAirborneSamples > c.Verification.MovementSamples {
		return errors.New("Verification MinAirborneSamples must be within [0, MovementSamples]")
	}

	// World / physics
	for _, f := range []float64{c.World.SpawnX, c.World.SpawnY, c.World.SpawnZ} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return errors.New("World spawn coordinates must be finite")
		}
	}
	if c.Physics.Gravity <= 0 {
		return errors.New("Physics Gravity must be > 0")
	}
	if c.Physics.Drag <= 0 || c.Physics.Drag > 1 {
		return errors.New("Physics Drag must be within (0, 1]")
	}
	if c.Physics.Tolerance < 0 {
		return errors.New("Physics Tolerance must be >= 0")
	}

	// Rate limit
	if c.RateLimit.ReconnectDelay < 0 {
		return errors.New("RateLimit ReconnectDelay must be >= 0")
	}
	if c.RateLimit.SweepInterval < 0 {
		return errors.New("RateLimit SweepInterval must be >= 0")
	}
	if c.RateLimit.MaxAttemptsPerMinute < 0 {
		return errors.New("RateLimit MaxAttemptsPerMinute must be >= 0")
	}
	switch c.RateLimit.Backend {
	case RateLimitMemory:
	case RateLimitRedis:
		if strings.TrimSpace(c.RateLimit.RedisPrefix) == "" {
			return errors.New("RateLimit RedisPrefix must be set for the redis backend")
		}
	default:
		return fmt.Errorf("unsupported RateLimit Backend %q", c.RateLimit.Backend)
	}

	// Traffic / capacity
	if c.Traffic.MaxInboundPackets < 0 || c.Traffic.MaxInboundBytes < 0 || c.Traffic.MaxPacketsPerSecond < 0 {
		return errors.New("Traffic limits must be >= 0")
	}
	if c.Traffic.MaxInboundPackets > 0 && c.Traffic.MaxInboundPackets < int64(c.Verification.MovementSamples)+5 {
		return errors.New("Traffic MaxInboundPackets is too small to complete verification")
	}
	if c.Capacity.MaxOnlinePerAddress < 0 {
		return errors.New("Capacity MaxOnlinePerAddress must be >= 0")
	}

	// Persistence
	if c.Persistence.Enabled {
		switch c.Persistence.Backend {
		case PersistenceSQL:
			if c.Persistence.Driver != "sqlite" && c.Persistence.Driver != "mysql" {
				return fmt.Errorf("unsupported Persistence Driver %q", c.Persistence.Driver)
			}
			if c.Persistence.Driver == "mysql" && strings.TrimSpace(c.Persistence.DSN) == "" {
				return errors.New("Persistence DSN is required for mysql")
			}
		case PersistenceRedis:
			if strings.TrimSpace(c.Persistence.RedisPrefix) == "" {
				return errors.New("Persistence RedisPrefix must be set for the redis backend")
			}
		default:
			return fmt.Errorf("unsupported Persistence Backend %q", c.Persistence.Backend)
		}
	}
	if c.Persistence.MaxAgeDays < 0 {
		return errors.New("Persistence MaxAgeDays must be >= 0")
	}
	if c.Persistence.QueueSize < 0 {
		return errors.New("Persistence QueueSize must be >= 0")
	}
	if c.Persistence.WriteTimeout < 0 {
		return errors.New("Persistence WriteTimeout must be >= 0")
	}

	// Pipeline
	if strings.TrimSpace(c.Pipeline.DecoderAnchor) == "" || strings.TrimSpace(c.Pipeline.EncoderAnchor) == "" {
		return errors.New("Pipeline anchors must be set")
	}

	// Ticket
	if c.Ticket.Enabled {
		if c.Ticket.TTL <= 0 {
			return errors.New("Ticket TTL must be > 0")
		}
		if c.Ticket.SigningMethod != "ed25519" && c.Ticket.SigningMethod != "hs256" {
			return errors.New("unsupported Ticket signing method")
		}
		if c.Ticket.PrivateKey == "" {
			return fmt.Errorf("%s requires Ticket PrivateKey", c.Ticket.SigningMethod)
		}
		if c.Ticket.SigningMethod == "ed25519" && c.Ticket.PublicKey == "" {
			return errors.New("ed25519 requires Ticket PublicKey")
		}
	}

	// Logging
	if c.Logging.Format != "" && c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("unsupported Logging Format %q", c.Logging.Format)
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}

	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return errors.New("Metrics EnableLatencyHistograms requires Metrics Enabled")
	}

	return nil
}

/*
====================================
LOADING
====================================
*/

// LoadConfig reads a YAML file over the defaults and applies GOFALLBACK_*
// environment overrides. An empty path loads defaults plus environment.
func LoadConfig(path string) (Config, error) {
	return LoadConfigWith(viper.New(), path)
}

// LoadConfigWith is LoadConfig on a caller-owned viper instance, so flags
// bound to v take part.
func LoadConfigWith(v *viper.Viper, path string) (Config, error) {
	var cfg Config
	if err := configutil.Load(v, path, EnvPrefix, defaultConfig(), &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Dump writes cfg as YAML.
func (c Config) Dump(w io.Writer) error {
	return configutil.Dump(w, c)
}
