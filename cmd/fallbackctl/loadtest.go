package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	goFallback "github.com/MrEthical07/goFallback"
	"github.com/MrEthical07/goFallback/internal/clientsim"
	"github.com/MrEthical07/goFallback/protocol"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type loadtestOptions struct {
	clients     int
	concurrency int
	mix         string
	version     string
	redis       bool
	minDuration time.Duration
	maxDuration time.Duration
}

func newLoadtestCmd() *cobra.Command {
	var o loadtestOptions
	cmd := &cobra.Command{
		Use:   "loadtest",
		Short: "Drive simulated clients through an in-process engine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLoadtest(cmd, o)
		},
	}
	cmd.Flags().IntVar(&o.clients, "clients", 1000, "Number of simulated connections.")
	cmd.Flags().IntVar(&o.concurrency, "concurrency", 64, "Connections verified at once.")
	cmd.Flags().StringVar(&o.mix, "mix", "honest=80,hovering=5,impatient=5,mute=5,idle=5", "Behavior weights.")
	cmd.Flags().StringVar(&o.version, "version", "all", "Client protocol version name, or all.")
	cmd.Flags().BoolVar(&o.redis, "redis", false, "Use the redis rate limiter (miniredis unless --redis-addr is set).")
	cmd.Flags().DurationVar(&o.minDuration, "min-duration", 0, "Minimum verification duration.")
	cmd.Flags().DurationVar(&o.maxDuration, "max-duration", time.Second, "Verification deadline.")
	return cmd
}

type weighted struct {
	behavior clientsim.Behavior
	weight   int
}

func parseMix(s string) ([]weighted, int, error) {
	var (
		out   []weighted
		total int
	)
	for _, part := range strings.Split(s, ",") {
		name, w, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return nil, 0, fmt.Errorf("mix entry %q must be name=weight", part)
		}
		b, err := clientsim.ParseBehavior(strings.TrimSpace(name))
		if err != nil {
			return nil, 0, err
		}
		n, err := strconv.Atoi(strings.TrimSpace(w))
		if err != nil || n < 0 {
			return nil, 0, fmt.Errorf("mix weight %q must be a non-negative integer", w)
		}
		if n > 0 {
			out = append(out, weighted{behavior: b, weight: n})
			total += n
		}
	}
	if total == 0 {
		return nil, 0, fmt.Errorf("mix %q has no weight", s)
	}
	return out, total, nil
}

// pick spreads behaviors evenly over client indexes.
func pick(mix []weighted, total, i int) clientsim.Behavior {
	slot := i % total
	for _, w := range mix {
		if slot < w.weight {
			return w.behavior
		}
		slot -= w.weight
	}
	return mix[len(mix)-1].behavior
}

func parseVersions(s string) ([]protocol.Version, error) {
	all := protocol.SupportedVersions()
	if s == "" || s == "all" {
		return all, nil
	}
	for _, v := range all {
		if v.String() == s {
			return []protocol.Version{v}, nil
		}
	}
	return nil, fmt.Errorf("unsupported version %q", s)
}

type loadResult struct {
	mu        sync.Mutex
	outcomes  map[clientsim.Behavior]map[string]int
	latencies []time.Duration
	rejected  int
}

func (r *loadResult) record(b clientsim.Behavior, outcome string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outcomes[b] == nil {
		r.outcomes[b] = make(map[string]int)
	}
	r.outcomes[b][outcome]++
	r.latencies = append(r.latencies, d)
}

func runLoadtest(cmd *cobra.Command, o loadtestOptions) error {
	if o.clients <= 0 || o.concurrency <= 0 {
		return fmt.Errorf("clients and concurrency must be > 0")
	}
	mix, total, err := parseMix(o.mix)
	if err != nil {
		return err
	}
	versions, err := parseVersions(o.version)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if !cmd.Flags().Changed("log-level") {
		cfg.Logging.Level = "warn"
	}
	cfg.Verification.MinDuration = o.minDuration
	cfg.Verification.MaxDuration = o.maxDuration
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true

	out := cmd.OutOrStdout()
	b := goFallback.New()
	if o.redis {
		rdb, cleanup, err := loadtestRedis(cmd, out)
		if err != nil {
			return err
		}
		defer cleanup()
		cfg.RateLimit.Backend = goFallback.RateLimitRedis
		b = b.WithRedis(rdb)
	}
	engine, err := b.WithConfig(cfg).Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	res := &loadResult{outcomes: make(map[clientsim.Behavior]map[string]int)}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	start := time.Now()
	for i := 0; i < o.clients; i++ {
		i := i
		g.Go(func() error {
			behavior := pick(mix, total, i)
			info := goFallback.ConnectionInfo{
				Address:  fmt.Sprintf("10.%d.%d.%d", (i>>16)&0xFF, (i>>8)&0xFF, i&0xFF),
				Identity: uuid.New(),
				Username: fmt.Sprintf("client%d", i),
				Version:  versions[i%len(versions)],
			}
			return simulate(gctx, engine, info, behavior, cfg.Verification.MovementSamples, res)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	elapsed := time.Since(start)

	printLoadResult(out, res, elapsed)
	snap := engine.MetricsSnapshot()
	fmt.Fprintf(out, "engine: passed=%d failed=%d aborted=%d rate_limited=%d\n",
		snap.Counters[goFallback.MetricVerificationPassed],
		snap.Counters[goFallback.MetricVerificationFailed],
		snap.Counters[goFallback.MetricSessionAborted],
		snap.Counters[goFallback.MetricRateLimited],
	)

	if n := res.outcomes[clientsim.Honest]; n != nil {
		var rejected int
		for outcome, c := range n {
			if outcome != goFallback.OutcomeSuccess.String() {
				rejected += c
			}
		}
		if rejected > 0 {
			return fmt.Errorf("%d honest clients were not verified", rejected)
		}
	}
	return nil
}

func loadtestRedis(cmd *cobra.Command, out io.Writer) (redis.UniversalClient, func(), error) {
	if rdb := redisClient(cmd); rdb != nil {
		fmt.Fprintln(out, "using redis rate limiter")
		return rdb, func() { _ = rdb.Close() }, nil
	}
	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, fmt.Errorf("start miniredis: %w", err)
	}
	rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	fmt.Fprintf(out, "using miniredis at %s\n", mr.Addr())
	return rdb, func() {
		_ = rdb.Close()
		mr.Close()
	}, nil
}

// frameQueue hands clientbound frames to the simulated client.
type frameQueue struct {
	frames [][]byte
}

func (q *frameQueue) WriteFrame(f []byte) error {
	q.frames = append(q.frames, append([]byte(nil), f...))
	return nil
}

func simulate(ctx context.Context, e *goFallback.Engine, info goFallback.ConnectionInfo, behavior clientsim.Behavior, samples int, res *loadResult) error {
	t0 := time.Now()
	if adm := e.OnNewConnection(ctx, info.Address); !adm.Allowed {
		res.mu.Lock()
		res.rejected++
		res.mu.Unlock()
		return nil
	}

	q := &frameQueue{}
	s, err := e.OpenSession(ctx, info, q, nil)
	if err != nil {
		return err
	}
	c := clientsim.New(info.Version, behavior, samples)

	outcome := s.Outcome()
	for outcome.Continue() && len(q.frames) > 0 {
		f := q.frames[0]
		q.frames = q.frames[1:]
		replies, err := c.Receive(f)
		if err != nil {
			return fmt.Errorf("%s client at %s: %w", behavior, info.Version, err)
		}
		for _, r := range replies {
			if outcome = s.Deliver(r); outcome.Terminal() {
				break
			}
		}
	}
	if outcome.Continue() {
		select {
		case <-time.After(time.Until(s.Deadline())):
			outcome = s.CheckDeadline()
		case <-ctx.Done():
			outcome = s.Abort()
		}
	}

	label := outcome.Kind.String()
	if outcome.Kind == goFallback.OutcomeFailure {
		label = outcome.Reason.String()
	}
	res.record(behavior, label, time.Since(t0))
	return nil
}

func printLoadResult(w io.Writer, res *loadResult, elapsed time.Duration) {
	res.mu.Lock()
	defer res.mu.Unlock()

	fmt.Fprintln(w, "---- results ----")
	behaviors := make([]clientsim.Behavior, 0, len(res.outcomes))
	for b := range res.outcomes {
		behaviors = append(behaviors, b)
	}
	sort.Slice(behaviors, func(i, j int) bool { return behaviors[i] < behaviors[j] })
	for _, b := range behaviors {
		names := make([]string, 0, len(res.outcomes[b]))
		for name := range res.outcomes[b] {
			names = append(names, name)
		}
		sort.Strings(names)
		parts := make([]string, 0, len(names))
		for _, name := range names {
			parts = append(parts, fmt.Sprintf("%s=%d", name, res.outcomes[b][name]))
		}
		fmt.Fprintf(w, "%-9s %s\n", b, strings.Join(parts, " "))
	}
	if res.rejected > 0 {
		fmt.Fprintf(w, "rejected at admission: %d\n", res.rejected)
	}

	s := computeStats(elapsed, res.latencies)
	fmt.Fprintf(w, "sessions=%d total=%s sessions/sec=%.0f p50=%s p95=%s p99=%s\n",
		s.ops,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}

type phaseStats struct {
	total   time.Duration
	ops     int
	p50     time.Duration
	p95     time.Duration
	p99     time.Duration
	opsPerS float64
}

func computeStats(total time.Duration, samples []time.Duration) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:   total,
		ops:     len(samples),
		p50:     percentile(samples, 50),
		p95:     percentile(samples, 95),
		p99:     percentile(samples, 99),
		opsPerS: float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}
