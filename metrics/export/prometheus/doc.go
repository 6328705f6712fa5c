// Package prometheus exposes engine metrics as a prometheus.Collector.
//
// [NewPrometheusExporter] reads [goFallback.Engine.MetricsSnapshot] on every
// scrape. Counters are named gofallback_*_total; the verification duration
// histogram is gofallback_verification_duration_seconds.
//
// # What this package must NOT do
//
//   - Register in the global Prometheus registry. Callers pick the registry
//     or mount Handler.
//   - Mutate engine state.
package prometheus
