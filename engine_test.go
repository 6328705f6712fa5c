package goFallback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goFallback/internal/clientsim"
	"github.com/MrEthical07/goFallback/internal/logutil"
	"github.com/MrEthical07/goFallback/internal/traffic"
	"github.com/MrEthical07/goFallback/pipeline"
	"github.com/MrEthical07/goFallback/protocol"
	"github.com/MrEthical07/goFallback/verified"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// frameQueue collects what a session writes for the simulated client.
type frameQueue struct {
	frames [][]byte
}

func (q *frameQueue) WriteFrame(f []byte) error {
	q.frames = append(q.frames, append([]byte(nil), f...))
	return nil
}

func (q *frameQueue) next() ([]byte, bool) {
	if len(q.frames) == 0 {
		return nil, false
	}
	f := q.frames[0]
	q.frames = q.frames[1:]
	return f, true
}

// recordStore is an in-memory durable store.
type recordStore struct {
	mu   sync.Mutex
	rows []verified.Entry
	gate chan struct{}
}

func (s *recordStore) CreateTableIfMissing(context.Context) error { return nil }

func (s *recordStore) Insert(_ context.Context, e verified.Entry) error {
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, e)
	return nil
}

func (s *recordStore) DeleteWhere(_ context.Context, p verified.Predicate) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.rows[:0]
	var n int64
	for _, e := range s.rows {
		if (p.Address == "" || e.Address == p.Address) && (p.OlderThan.IsZero() || e.CreatedAt.Before(p.OlderThan)) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	s.rows = kept
	return n, nil
}

func (s *recordStore) QueryAll(context.Context) ([]verified.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]verified.Entry(nil), s.rows...), nil
}

func (s *recordStore) DeleteAll(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = nil
	return nil
}

func (s *recordStore) snapshot() []verified.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]verified.Entry(nil), s.rows...)
}

func newTestEngine(t *testing.T, mutate func(*Config), opts ...func(*Builder)) (*Engine, *fakeClock) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true
	if mutate != nil {
		mutate(&cfg)
	}
	clock := newFakeClock()
	b := New().WithConfig(cfg).WithLogger(logutil.Discard()).WithClock(clock.Now)
	for _, opt := range opts {
		opt(b)
	}
	e, err := b.Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(e.Close)
	return e, clock
}

func testInfo(addr string, v protocol.Version) ConnectionInfo {
	return ConnectionInfo{Address: addr, Identity: uuid.New(), Username: "Steve", Version: v}
}

// verify runs a simulated client against a new session until a verdict.
func verify(t *testing.T, e *Engine, clock *fakeClock, info ConnectionInfo, b clientsim.Behavior) (Outcome, *clientsim.Client) {
	t.Helper()
	q := &frameQueue{}
	s, err := e.OpenSession(context.Background(), info, q, nil)
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	c := clientsim.New(info.Version, b, e.Config().Verification.MovementSamples)

	out := s.Outcome()
	for out.Continue() {
		f, ok := q.next()
		if !ok {
			break
		}
		replies, err := c.Receive(f)
		if err != nil {
			t.Fatalf("client receive: %v", err)
		}
		for _, r := range replies {
			clock.Advance(50 * time.Millisecond)
			if out = s.Deliver(r); out.Terminal() {
				break
			}
		}
	}
	if out.Continue() {
		clock.Advance(e.Config().Verification.MaxDuration)
		out = s.CheckDeadline()
	}
	for f, ok := q.next(); ok; f, ok = q.next() {
		if _, err := c.Receive(f); err != nil {
			t.Fatalf("client receive after verdict: %v", err)
		}
	}
	return out, c
}

func TestHonestClientPassesEveryVersion(t *testing.T) {
	e, clock := newTestEngine(t, nil)
	versions := protocol.SupportedVersions()

	for i, v := range versions {
		info := testInfo(fmt.Sprintf("198.51.100.%d", i+1), v)
		out, c := verify(t, e, clock, info, clientsim.Honest)
		if out.Kind != OutcomeSuccess {
			t.Fatalf("%s: expected success, got %s (%s: %v)", v, out.Kind, out.Reason, out.Err)
		}
		if out.Identity != info.Identity {
			t.Fatalf("%s: identity %s, want %s", v, out.Identity, info.Identity)
		}
		if _, disconnected := c.Disconnected(); disconnected {
			t.Fatalf("%s: passed client must not be disconnected", v)
		}
		if !e.IsVerified(info.Address, info.Identity) || e.ShouldVerify(context.Background(), info.Address, info.Identity) {
			t.Fatalf("%s: passed pair must bypass the next verification", v)
		}
	}

	snap := e.MetricsSnapshot()
	if got := snap.Counters[MetricVerificationPassed]; got != uint64(len(versions)) {
		t.Fatalf("passed metric = %d, want %d", got, len(versions))
	}
	if got := snap.Counters[MetricVerificationBypassed]; got != uint64(len(versions)) {
		t.Fatalf("bypassed metric = %d, want %d", got, len(versions))
	}
	var observed uint64
	for _, n := range snap.Histograms[MetricVerificationLatency] {
		observed += n
	}
	if observed != uint64(len(versions)) {
		t.Fatalf("latency observations = %d, want %d", observed, len(versions))
	}
}

func TestBotBehaviorsAreRejected(t *testing.T) {
	tests := []struct {
		behavior clientsim.Behavior
		reason   Reason
		sentinel error
		metric   MetricID
	}{
		{clientsim.Hovering, ReasonGravity, ErrGravity, MetricFailureGravity},
		{clientsim.Impatient, ReasonProtocolViolation, ErrProtocolViolation, MetricFailureProtocolViolation},
		{clientsim.Mute, ReasonKeepAlive, ErrKeepAlive, MetricFailureKeepAlive},
		{clientsim.Idle, ReasonTimeout, ErrTimeout, MetricFailureTimeout},
	}

	for _, tc := range tests {
		t.Run(tc.behavior.String(), func(t *testing.T) {
			e, clock := newTestEngine(t, nil)
			info := testInfo("203.0.113.9", protocol.V1_12_2)

			out, c := verify(t, e, clock, info, tc.behavior)
			if out.Kind != OutcomeFailure || out.Reason != tc.reason {
				t.Fatalf("expected failure %s, got %s %s", tc.reason, out.Kind, out.Reason)
			}
			if !errors.Is(out.Err, tc.sentinel) {
				t.Fatalf("expected %v, got %v", tc.sentinel, out.Err)
			}
			cfg := e.Config()
			want := cfg.Message(tc.reason.String())
			if out.Message != want {
				t.Fatalf("message %q, want %q", out.Message, want)
			}
			if tc.behavior != clientsim.Idle {
				if got, _ := c.Disconnected(); got != want {
					t.Fatalf("client saw disconnect %q, want %q", got, want)
				}
			}
			if e.IsVerified(info.Address, info.Identity) {
				t.Fatal("failed pair must not be cached")
			}
			snap := e.MetricsSnapshot()
			if snap.Counters[tc.metric] != 1 || snap.Counters[MetricVerificationFailed] != 1 {
				t.Fatalf("unexpected failure metrics: %v", snap.Counters)
			}
		})
	}
}

func TestOnNewConnectionReconnectDelay(t *testing.T) {
	e, clock := newTestEngine(t, nil)
	ctx := context.Background()

	if adm := e.OnNewConnection(ctx, "10.0.0.1"); !adm.Allowed {
		t.Fatalf("first connection rejected: %v", adm.Err)
	}
	clock.Advance(time.Millisecond)
	adm := e.OnNewConnection(ctx, "10.0.0.1")
	if adm.Allowed || !errors.Is(adm.Err, ErrRateLimited) {
		t.Fatalf("expected rate limited, got %+v", adm)
	}
	if adm.RetryAfter != 499*time.Millisecond {
		t.Fatalf("retry after %s, want 499ms", adm.RetryAfter)
	}
	cfg := e.Config()
	if adm.Message != cfg.Message(MessageRateLimited) {
		t.Fatalf("unexpected message %q", adm.Message)
	}
	if adm := e.OnNewConnection(ctx, "10.0.0.2"); !adm.Allowed {
		t.Fatal("other addresses are independent")
	}

	clock.Advance(600 * time.Millisecond)
	if adm := e.OnNewConnection(ctx, "10.0.0.1"); !adm.Allowed {
		t.Fatalf("connection after delay rejected: %v", adm.Err)
	}

	snap := e.MetricsSnapshot()
	if snap.Counters[MetricConnectionAllowed] != 3 || snap.Counters[MetricRateLimited] != 1 {
		t.Fatalf("unexpected admission metrics: %v", snap.Counters)
	}
}

func TestFailurePenaltyRearmsDelay(t *testing.T) {
	for _, penalty := range []bool{true, false} {
		e, clock := newTestEngine(t, func(c *Config) { c.RateLimit.FailurePenalty = penalty })
		ctx := context.Background()
		addr := "10.1.1.1"

		if adm := e.OnNewConnection(ctx, addr); !adm.Allowed {
			t.Fatalf("first connection rejected: %v", adm.Err)
		}
		out, _ := verify(t, e, clock, testInfo(addr, protocol.V1_8), clientsim.Hovering)
		if out.Reason != ReasonGravity {
			t.Fatalf("expected gravity failure, got %s", out.Reason)
		}
		// Past the original delay, inside a delay re-armed at the failure.
		clock.Advance(400 * time.Millisecond)

		adm := e.OnNewConnection(ctx, addr)
		if penalty && adm.Allowed {
			t.Fatal("failure penalty must re-arm the reconnect delay")
		}
		if !penalty && !adm.Allowed {
			t.Fatalf("without penalty the delay has expired, got %v", adm.Err)
		}
	}
}

func TestAttemptsPerMinute(t *testing.T) {
	e, clock := newTestEngine(t, func(c *Config) {
		c.RateLimit.ReconnectDelay = 0
		c.RateLimit.MaxAttemptsPerMinute = 2
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if adm := e.OnNewConnection(ctx, "10.0.0.3"); !adm.Allowed {
			t.Fatalf("attempt %d rejected: %v", i, adm.Err)
		}
		clock.Advance(time.Second)
	}
	if adm := e.OnNewConnection(ctx, "10.0.0.3"); adm.Allowed || !errors.Is(adm.Err, ErrRateLimited) {
		t.Fatalf("third attempt in a minute must be limited, got %+v", adm)
	}
	clock.Advance(time.Minute)
	if adm := e.OnNewConnection(ctx, "10.0.0.3"); !adm.Allowed {
		t.Fatalf("new window rejected: %v", adm.Err)
	}
}

func TestCapacityCheck(t *testing.T) {
	online := OnlineCounterFunc(func(addr string) int {
		if addr == "10.0.0.4" {
			return 2
		}
		return 0
	})
	e, _ := newTestEngine(t, func(c *Config) { c.Capacity.MaxOnlinePerAddress = 2 },
		func(b *Builder) { b.WithOnlineCounter(online) })

	adm := e.OnNewConnection(context.Background(), "10.0.0.4")
	if adm.Allowed || !errors.Is(adm.Err, ErrCapacityExceeded) {
		t.Fatalf("expected capacity exceeded, got %+v", adm)
	}
	cfg := e.Config()
	if adm.Message != cfg.Message(MessageCapacity) {
		t.Fatalf("unexpected message %q", adm.Message)
	}
	if adm := e.OnNewConnection(context.Background(), "10.0.0.5"); !adm.Allowed {
		t.Fatalf("address below capacity rejected: %v", adm.Err)
	}
	if got := e.MetricsSnapshot().Counters[MetricCapacityRejected]; got != 1 {
		t.Fatalf("capacity metric = %d", got)
	}
}

func TestRedisRateLimiter(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	e, _ := newTestEngine(t, func(c *Config) { c.RateLimit.Backend = RateLimitRedis },
		func(b *Builder) { b.WithRedis(rdb) })
	ctx := context.Background()

	if adm := e.OnNewConnection(ctx, "10.0.0.6"); !adm.Allowed {
		t.Fatalf("first connection rejected: %v", adm.Err)
	}
	if adm := e.OnNewConnection(ctx, "10.0.0.6"); adm.Allowed {
		t.Fatal("second connection inside the delay must be limited")
	}

	mr.Close()
	if adm := e.OnNewConnection(ctx, "10.0.0.7"); adm.Allowed {
		t.Fatal("unreachable limiter must fail closed by default")
	}

	cfg := e.Config().RateLimit
	cfg.FailOpen = true
	if err := e.Reload(cfg); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if adm := e.OnNewConnection(ctx, "10.0.0.7"); !adm.Allowed {
		t.Fatalf("fail-open limiter must admit, got %v", adm.Err)
	}
	if got := e.MetricsSnapshot().Counters[MetricRateLimiterUnavailable]; got != 2 {
		t.Fatalf("unavailable metric = %d, want 2", got)
	}
}

func TestRedisBackendRequiresClient(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimit.Backend = RateLimitRedis
	if _, err := New().WithConfig(cfg).WithLogger(logutil.Discard()).Build(); err == nil {
		t.Fatal("expected error without redis client")
	}
}

func TestReloadReplacesLimiter(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	ctx := context.Background()

	_ = e.OnNewConnection(ctx, "10.0.0.8")
	if adm := e.OnNewConnection(ctx, "10.0.0.8"); adm.Allowed {
		t.Fatal("expected rate limited before reload")
	}

	cfg := e.Config().RateLimit
	cfg.ReconnectDelay = 2 * time.Second
	if err := e.Reload(cfg); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if adm := e.OnNewConnection(ctx, "10.0.0.8"); !adm.Allowed {
		t.Fatal("a reloaded limiter starts empty")
	}
	if e.Config().RateLimit.ReconnectDelay != 2*time.Second {
		t.Fatal("Config must report the reloaded limits")
	}

	cfg.Backend = "memcached"
	if err := e.Reload(cfg); err == nil {
		t.Fatal("invalid reload must be rejected")
	}
}

func TestTrafficCapFailsSession(t *testing.T) {
	e, clock := newTestEngine(t, func(c *Config) { c.Traffic.MaxInboundPackets = 20 })
	q := &frameQueue{}
	s, err := e.OpenSession(context.Background(), testInfo("10.0.0.9", protocol.V1_15_2), q, nil)
	if err != nil {
		t.Fatalf("open session: %v", err)
	}

	unknown := []byte{0x7F}
	for i := 0; i < 20; i++ {
		clock.Advance(50 * time.Millisecond)
		if out := s.Deliver(unknown); out.Terminal() {
			t.Fatalf("frame %d: unknown packets below the cap must be ignored, got %s", i, out.Reason)
		}
	}
	out := s.Deliver(unknown)
	if out.Reason != ReasonTraffic || !errors.Is(out.Err, ErrTraffic) {
		t.Fatalf("expected traffic failure, got %s %v", out.Reason, out.Err)
	}
	if snap := s.Traffic(); snap.UnknownPackets != 20 || snap.InboundBytes != 21 {
		t.Fatalf("unexpected traffic snapshot %+v", snap)
	}
	if got := e.MetricsSnapshot().Counters[MetricUnknownPacket]; got != 20 {
		t.Fatalf("unknown packet metric = %d", got)
	}
}

func TestStrictUnknownPacketsFailSession(t *testing.T) {
	e, clock := newTestEngine(t, func(c *Config) { c.Verification.StrictUnknownPackets = true })
	q := &frameQueue{}
	s, err := e.OpenSession(context.Background(), testInfo("10.0.0.11", protocol.V1_12_2), q, nil)
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	sent := len(q.frames)

	clock.Advance(50 * time.Millisecond)
	out := s.Deliver([]byte{0x7F})
	if out.Reason != ReasonProtocolViolation || !errors.Is(out.Err, ErrProtocolViolation) {
		t.Fatalf("expected protocol violation for unknown id, got %s %v", out.Reason, out.Err)
	}
	if len(q.frames) != sent+1 {
		t.Fatal("a disconnect must follow the violation")
	}
	if snap := s.Traffic(); snap.UnknownPackets != 1 {
		t.Fatalf("unknown packets = %d", snap.UnknownPackets)
	}
	if got := e.MetricsSnapshot().Counters[MetricUnknownPacket]; got != 1 {
		t.Fatalf("unknown packet metric = %d", got)
	}
}

func TestIdentityLessClientBypassesAfterPass(t *testing.T) {
	e, clock := newTestEngine(t, nil)
	ctx := context.Background()
	info := ConnectionInfo{Address: "10.0.0.12", Username: "Alex", Version: protocol.V1_8}

	out, _ := verify(t, e, clock, info, clientsim.Honest)
	if out.Kind != OutcomeSuccess {
		t.Fatalf("expected success, got %s (%s: %v)", out.Kind, out.Reason, out.Err)
	}
	if e.ShouldVerify(ctx, info.Address, uuid.Nil) {
		t.Fatal("identity-less client from a verified address must bypass")
	}
	if !e.ShouldVerify(ctx, info.Address, uuid.New()) {
		t.Fatal("a new identity from the address must still verify")
	}
	if !e.ShouldVerify(ctx, "10.0.0.13", uuid.Nil) {
		t.Fatal("identity-less client from another address must still verify")
	}
}

func TestMalformedFrameFailsSession(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	q := &frameQueue{}
	s, err := e.OpenSession(context.Background(), testInfo("10.0.0.10", protocol.V1_8), q, nil)
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	sent := len(q.frames)

	out := s.Deliver(nil)
	if out.Reason != ReasonProtocolViolation {
		t.Fatalf("expected protocol violation, got %s", out.Reason)
	}
	if len(q.frames) != sent+1 {
		t.Fatal("a disconnect must follow a protocol violation")
	}
	if again := s.Deliver([]byte{0x00, 0x01}); again != out {
		t.Fatal("frames after a verdict must return the same verdict")
	}
}

func TestPipelineStagesInstalledAndRemoved(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	passthrough := pipeline.HandlerFunc(func(b []byte) ([]byte, error) { return b, nil })
	chain := pipeline.NewChain()
	if err := chain.AddLast("frame-decoder", passthrough); err != nil {
		t.Fatalf("add decoder: %v", err)
	}
	if err := chain.AddLast("frame-encoder", passthrough); err != nil {
		t.Fatalf("add encoder: %v", err)
	}

	s, err := e.OpenSession(context.Background(), testInfo("10.0.0.11", protocol.V1_12_2), &frameQueue{}, chain)
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	if !chain.Has(traffic.InboundStageName) || !chain.Has(traffic.OutboundStageName) {
		t.Fatalf("traffic stages not installed: %v", chain.Names())
	}
	if names := chain.Names(); names[0] != traffic.InboundStageName || names[1] != "frame-decoder" {
		t.Fatalf("inbound stage must sit before the decoder: %v", names)
	}

	// Bytes are counted by the host stages, not twice by the session.
	snap := s.Traffic()
	if snap.OutboundPackets != 2 || snap.OutboundBytes != 0 {
		t.Fatalf("unexpected outbound tally %+v", snap)
	}
	if _, err := chain.Process([]byte{1, 2, 3}); err != nil {
		t.Fatalf("process: %v", err)
	}
	if snap := s.Traffic(); snap.InboundBytes != 3 {
		t.Fatalf("inbound stage counted %d bytes", snap.InboundBytes)
	}

	s.Abort()
	if chain.Has(traffic.InboundStageName) || chain.Has(traffic.OutboundStageName) {
		t.Fatalf("traffic stages must be removed at a verdict: %v", chain.Names())
	}
}

func TestMissingAnchorsCountInSession(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	chain := pipeline.NewChain()

	s, err := e.OpenSession(context.Background(), testInfo("10.0.0.12", protocol.V1_8), &frameQueue{}, chain)
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	if len(chain.Names()) != 0 {
		t.Fatal("nothing is installed without anchors")
	}
	if snap := s.Traffic(); snap.OutboundBytes == 0 {
		t.Fatal("session must count its own bytes when no stage is installed")
	}
}

func TestAbortWritesNothing(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	q := &frameQueue{}
	s, err := e.OpenSession(context.Background(), testInfo("10.0.0.13", protocol.V1_9), q, nil)
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	sent := len(q.frames)

	out := s.Abort()
	if out.Reason != ReasonAborted || out.Message != "" {
		t.Fatalf("unexpected abort outcome %+v", out)
	}
	if len(q.frames) != sent {
		t.Fatal("abort must not write to a closed connection")
	}
	snap := e.MetricsSnapshot()
	if snap.Counters[MetricSessionAborted] != 1 || snap.Counters[MetricVerificationFailed] != 0 {
		t.Fatalf("unexpected abort metrics %v", snap.Counters)
	}
}

func TestWriteFailureAtStartAborts(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	broken := FrameWriterFunc(func([]byte) error { return errors.New("broken pipe") })

	s, err := e.OpenSession(context.Background(), testInfo("10.0.0.14", protocol.V1_8), broken, nil)
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	if out := s.Outcome(); out.Reason != ReasonAborted || !errors.Is(out.Err, ErrAborted) {
		t.Fatalf("expected aborted outcome, got %+v", out)
	}
}

func TestOpenSessionValidation(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	ctx := context.Background()

	if _, err := e.OpenSession(ctx, testInfo("10.0.0.15", protocol.Version(760)), &frameQueue{}, nil); !errors.Is(err, ErrUnsupportedVersion) {
		t.Fatalf("expected unsupported version, got %v", err)
	}
	if _, err := e.OpenSession(ctx, testInfo("", protocol.V1_8), &frameQueue{}, nil); !errors.Is(err, ErrInvalidConnection) {
		t.Fatalf("expected invalid connection, got %v", err)
	}
	e.Close()
	if _, err := e.OpenSession(ctx, testInfo("10.0.0.15", protocol.V1_8), &frameQueue{}, nil); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected engine not ready, got %v", err)
	}
	if adm := e.OnNewConnection(ctx, "10.0.0.15"); adm.Allowed {
		t.Fatal("closed engine must not admit")
	}
}

func TestPassedIdentityWrittenBehind(t *testing.T) {
	store := &recordStore{}
	e, clock := newTestEngine(t, nil, func(b *Builder) { b.WithStore(store) })
	info := testInfo("10.0.0.16", protocol.V1_15_2)

	if out, _ := verify(t, e, clock, info, clientsim.Honest); out.Kind != OutcomeSuccess {
		t.Fatalf("expected success, got %s", out.Reason)
	}
	if err := e.SyncVerified(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	rows := store.snapshot()
	if len(rows) != 1 || rows[0].Address != info.Address || rows[0].Identity != info.Identity {
		t.Fatalf("unexpected durable rows %+v", rows)
	}

	reopened, _ := newTestEngine(t, nil, func(b *Builder) { b.WithStore(store) })
	if !reopened.IsVerified(info.Address, info.Identity) {
		t.Fatal("a new engine must load verified pairs from the store")
	}
	if reopened.VerifiedCount() != 1 {
		t.Fatalf("verified count = %d", reopened.VerifiedCount())
	}
}

func TestAbortDropsQueuedIdentityWrite(t *testing.T) {
	store := &recordStore{gate: make(chan struct{})}
	e, clock := newTestEngine(t, nil, func(b *Builder) { b.WithStore(store) })

	first := testInfo("10.0.0.17", protocol.V1_12_2)
	second := testInfo("10.0.0.18", protocol.V1_12_2)

	if out, _ := verify(t, e, clock, first, clientsim.Honest); out.Kind != OutcomeSuccess {
		t.Fatalf("first: expected success, got %s", out.Reason)
	}

	q := &frameQueue{}
	s, err := e.OpenSession(context.Background(), second, q, nil)
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	c := clientsim.New(second.Version, clientsim.Honest, e.Config().Verification.MovementSamples)
	out := s.Outcome()
	for out.Continue() {
		f, ok := q.next()
		if !ok {
			t.Fatal("session stalled")
		}
		replies, err := c.Receive(f)
		if err != nil {
			t.Fatalf("client receive: %v", err)
		}
		for _, r := range replies {
			clock.Advance(50 * time.Millisecond)
			if out = s.Deliver(r); out.Terminal() {
				break
			}
		}
	}
	if out.Kind != OutcomeSuccess {
		t.Fatalf("second: expected success, got %s", out.Reason)
	}
	// The connection closes while the second write waits behind the first.
	s.Abort()
	close(store.gate)

	if err := e.SyncVerified(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	rows := store.snapshot()
	if len(rows) != 1 || rows[0].Address != first.Address {
		t.Fatalf("only the first write may reach the store, got %+v", rows)
	}
	if e.PersistenceStats().Dropped != 1 {
		t.Fatalf("dropped = %d, want 1", e.PersistenceStats().Dropped)
	}
	if !e.IsVerified(second.Address, second.Identity) {
		t.Fatal("abort must not reverse a passed verdict in memory")
	}
}

func TestPersistenceUnavailableDegrades(t *testing.T) {
	e, clock := newTestEngine(t, nil, func(b *Builder) {
		b.WithStore(verified.UnavailableStore{Err: errors.New("connection refused")})
	})
	if !errors.Is(e.PersistenceDegraded(), ErrPersistence) {
		t.Fatalf("expected degraded persistence, got %v", e.PersistenceDegraded())
	}

	info := testInfo("10.0.0.19", protocol.V1_8)
	if out, _ := verify(t, e, clock, info, clientsim.Honest); out.Kind != OutcomeSuccess {
		t.Fatalf("a store failure must not affect verification, got %s", out.Reason)
	}
	if got := e.MetricsSnapshot().Counters[MetricPersistenceError]; got != 1 {
		t.Fatalf("persistence error metric = %d", got)
	}
}

func TestSQLitePersistence(t *testing.T) {
	e, clock := newTestEngine(t, func(c *Config) {
		c.Persistence.Enabled = true
		c.Persistence.Backend = PersistenceSQL
		c.Persistence.Driver = "sqlite"
		c.Persistence.DSN = ":memory:"
	})
	if err := e.PersistenceDegraded(); err != nil {
		t.Fatalf("sqlite store degraded: %v", err)
	}

	info := testInfo("10.0.0.20", protocol.V1_15_2)
	if out, _ := verify(t, e, clock, info, clientsim.Honest); out.Kind != OutcomeSuccess {
		t.Fatalf("expected success, got %s", out.Reason)
	}
	ctx := context.Background()
	if err := e.SyncVerified(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if stats := e.PersistenceStats(); stats.Failed != 0 {
		t.Fatalf("sqlite writes failed: %+v", stats)
	}
	if !e.ForgetAddress(ctx, info.Address) || e.IsVerified(info.Address, info.Identity) {
		t.Fatal("forget must drop the address")
	}
	if err := e.ClearVerified(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
}

func TestRedisPersistence(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	e, clock := newTestEngine(t, func(c *Config) {
		c.Persistence.Enabled = true
		c.Persistence.Backend = PersistenceRedis
	}, func(b *Builder) { b.WithRedis(rdb) })

	info := testInfo("10.0.0.21", protocol.V1_12_2)
	if out, _ := verify(t, e, clock, info, clientsim.Honest); out.Kind != OutcomeSuccess {
		t.Fatalf("expected success, got %s", out.Reason)
	}
	if err := e.SyncVerified(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	rows, err := verified.NewRedisStore(rdb, "gf").QueryAll(context.Background())
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rows) != 1 || rows[0].Identity != info.Identity {
		t.Fatalf("unexpected redis rows %+v", rows)
	}
}

func TestClearVerifiedOlderThanKeepsMemory(t *testing.T) {
	store := &recordStore{}
	e, clock := newTestEngine(t, nil, func(b *Builder) { b.WithStore(store) })
	info := testInfo("10.0.0.22", protocol.V1_8)

	if out, _ := verify(t, e, clock, info, clientsim.Honest); out.Kind != OutcomeSuccess {
		t.Fatalf("expected success, got %s", out.Reason)
	}
	ctx := context.Background()
	clock.Advance(48 * time.Hour)
	if err := e.ClearVerifiedOlderThan(ctx, 1); err != nil {
		t.Fatalf("clear old: %v", err)
	}
	if err := e.SyncVerified(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if len(store.snapshot()) != 0 {
		t.Fatal("old durable rows must be deleted")
	}
	if !e.IsVerified(info.Address, info.Identity) {
		t.Fatal("cached entries stay valid until restart")
	}
	if err := e.ClearVerifiedOlderThan(ctx, 0); err == nil {
		t.Fatal("days must be at least one")
	}
}

func TestTicketIssuedOnPass(t *testing.T) {
	e, clock := newTestEngine(t, func(c *Config) {
		c.Ticket.Enabled = true
		c.Ticket.SigningMethod = "hs256"
		c.Ticket.PrivateKey = "0123456789abcdef0123456789abcdef"
	})
	info := testInfo("10.0.0.23", protocol.V1_15_2)

	out, _ := verify(t, e, clock, info, clientsim.Honest)
	if out.Kind != OutcomeSuccess || out.Ticket == "" {
		t.Fatalf("expected a ticket on success, got %+v", out)
	}
	claims, err := e.ParseTicket(out.Ticket)
	if err != nil {
		t.Fatalf("parse ticket: %v", err)
	}
	id, err := claims.Identity()
	if err != nil || id != info.Identity {
		t.Fatalf("ticket identity %s (%v), want %s", id, err, info.Identity)
	}
	if claims.Address != info.Address || claims.Protocol != int32(info.Version) {
		t.Fatalf("unexpected ticket claims %+v", claims)
	}
}

func TestAuditEvents(t *testing.T) {
	sink := NewChannelSink(16)
	e, clock := newTestEngine(t, func(c *Config) { c.Audit.Enabled = true },
		func(b *Builder) { b.WithAuditSink(sink) })

	info := testInfo("10.0.0.24", protocol.V1_12_2)
	if out, _ := verify(t, e, clock, info, clientsim.Honest); out.Kind != OutcomeSuccess {
		t.Fatalf("expected success, got %s", out.Reason)
	}
	ev := nextEvent(t, sink)
	if ev.EventType != AuditVerificationPassed || ev.Address != info.Address || ev.Identity != info.Identity.String() || !ev.Success {
		t.Fatalf("unexpected passed event %+v", ev)
	}
	if ev.Version != int32(protocol.V1_12_2) || ev.SessionID == "" {
		t.Fatalf("passed event missing session fields %+v", ev)
	}

	_ = e.OnNewConnection(context.Background(), "10.0.0.25")
	_ = e.OnNewConnection(context.Background(), "10.0.0.25")
	ev = nextEvent(t, sink)
	if ev.EventType != AuditConnectionRejected || ev.Reason != MessageRateLimited {
		t.Fatalf("unexpected rejection event %+v", ev)
	}
}

func nextEvent(t *testing.T, sink *ChannelSink) AuditEvent {
	t.Helper()
	select {
	case ev := <-sink.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for audit event")
		return AuditEvent{}
	}
}
