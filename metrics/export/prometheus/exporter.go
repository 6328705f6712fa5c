package prometheus

import (
	"net/http"

	goFallback "github.com/MrEthical07/goFallback"
	"github.com/MrEthical07/goFallback/metrics/export/internaldefs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type scalar struct {
	def  internaldefs.SeriesDef
	desc *prometheus.Desc
	typ  prometheus.ValueType
}

// PrometheusExporter is a prometheus.Collector reading engine snapshots at
// scrape time. Latency is exported as a native histogram; audit tallies
// carry an event_type label.
type PrometheusExporter struct {
	source     internaldefs.Source
	scalars    []scalar
	histograms []*prometheus.Desc
}

var _ prometheus.Collector = (*PrometheusExporter)(nil)

// NewPrometheusExporter creates an exporter for engine.
func NewPrometheusExporter(engine *goFallback.Engine) *PrometheusExporter {
	return NewPrometheusExporterFromSource(engine)
}

// NewPrometheusExporterFromSource creates an exporter for any snapshot source.
func NewPrometheusExporterFromSource(source internaldefs.Source) *PrometheusExporter {
	defs := internaldefs.ScalarSeries()
	p := &PrometheusExporter{
		source:     source,
		scalars:    make([]scalar, len(defs)),
		histograms: make([]*prometheus.Desc, len(internaldefs.HistogramDefs)),
	}
	for i, def := range defs {
		var labels prometheus.Labels
		if def.Label != nil {
			labels = prometheus.Labels{def.Label.Key: def.Label.Value}
		}
		typ := prometheus.CounterValue
		if def.Kind == internaldefs.SeriesGauge {
			typ = prometheus.GaugeValue
		}
		p.scalars[i] = scalar{def: def, desc: prometheus.NewDesc(def.Name, def.Help, nil, labels), typ: typ}
	}
	for i, def := range internaldefs.HistogramDefs {
		p.histograms[i] = prometheus.NewDesc(def.Name, def.Help, nil, nil)
	}
	return p
}

// Describe implements prometheus.Collector.
func (p *PrometheusExporter) Describe(ch chan<- *prometheus.Desc) {
	for _, s := range p.scalars {
		ch <- s.desc
	}
	for _, d := range p.histograms {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (p *PrometheusExporter) Collect(ch chan<- prometheus.Metric) {
	if p == nil || p.source == nil {
		return
	}
	r := internaldefs.Read(p.source)

	for _, s := range p.scalars {
		ch <- prometheus.MustNewConstMetric(s.desc, s.typ, float64(s.def.Value(r)))
	}

	for i, def := range internaldefs.HistogramDefs {
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(r.Snapshot.Histograms[def.ID]))
		buckets := make(map[float64]uint64, len(internaldefs.HistogramBounds))
		for j, le := range internaldefs.HistogramBounds {
			buckets[le] = cumulative[j]
		}
		// Sum is not tracked by the engine.
		ch <- prometheus.MustNewConstHistogram(p.histograms[i], cumulative[len(cumulative)-1], 0, buckets)
	}
}

// Register adds the exporter to reg.
func (p *PrometheusExporter) Register(reg prometheus.Registerer) error {
	return reg.Register(p)
}

// Handler serves the exporter from a private registry.
func (p *PrometheusExporter) Handler() http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(p)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
