package otel

import (
	"context"
	"errors"
	"fmt"

	goFallback "github.com/MrEthical07/goFallback"
	"github.com/MrEthical07/goFallback/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

// series pairs a definition with the instrument created for its name.
type series struct {
	def        internaldefs.SeriesDef
	counter    metric.Int64ObservableCounter
	gauge      metric.Int64ObservableGauge
	attributes metric.ObserveOption
}

func (s series) observe(o metric.Observer, r internaldefs.Reading) {
	v := int64(s.def.Value(r))
	var opts []metric.ObserveOption
	if s.attributes != nil {
		opts = append(opts, s.attributes)
	}
	if s.def.Kind == internaldefs.SeriesCounter {
		o.ObserveInt64(s.counter, v, opts...)
		return
	}
	o.ObserveInt64(s.gauge, v, opts...)
}

// OTelExporter observes the engine through a single meter callback. Every
// series is read from one Reading per collection, so audit tallies, the
// verified gauge and the latency buckets are mutually consistent.
type OTelExporter struct {
	source       internaldefs.Source
	series       []series
	registration metric.Registration
}

// NewOTelExporter registers the engine's instruments on meter.
func NewOTelExporter(meter metric.Meter, engine *goFallback.Engine) (*OTelExporter, error) {
	return NewOTelExporterFromSource(meter, engine)
}

func NewOTelExporterFromSource(meter metric.Meter, source internaldefs.Source) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	defs := append(internaldefs.ScalarSeries(), internaldefs.HistogramGaugeSeries()...)
	exporter := &OTelExporter{source: source, series: make([]series, 0, len(defs))}

	// Labelled defs share one instrument per name.
	counters := make(map[string]metric.Int64ObservableCounter)
	gauges := make(map[string]metric.Int64ObservableGauge)
	var observables []metric.Observable

	for _, def := range defs {
		s := series{def: def}
		switch def.Kind {
		case internaldefs.SeriesCounter:
			ins, ok := counters[def.Name]
			if !ok {
				var err error
				if ins, err = meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help)); err != nil {
					return nil, fmt.Errorf("create observable counter %s: %w", def.Name, err)
				}
				counters[def.Name] = ins
				observables = append(observables, ins)
			}
			s.counter = ins
		default:
			ins, ok := gauges[def.Name]
			if !ok {
				var err error
				if ins, err = meter.Int64ObservableGauge(def.Name, metric.WithDescription(def.Help)); err != nil {
					return nil, fmt.Errorf("create observable gauge %s: %w", def.Name, err)
				}
				gauges[def.Name] = ins
				observables = append(observables, ins)
			}
			s.gauge = ins
		}
		if def.Label != nil {
			s.attributes = metric.WithAttributes(attribute.String(def.Label.Key, def.Label.Value))
		}
		exporter.series = append(exporter.series, s)
	}

	registration, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		r := internaldefs.Read(exporter.source)
		for _, s := range exporter.series {
			s.observe(o, r)
		}
		return nil
	}, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}

	exporter.registration = registration
	return exporter, nil
}

// Close unregisters the callback. Instruments stay on the meter.
func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
