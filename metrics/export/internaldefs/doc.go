// Package internaldefs holds the metric names and bucket bounds shared by the
// exporters.
//
// Both the Prometheus and OTel exporters read these tables, so a rename here
// changes every exporter at once. [ScalarSeries] is the full list of
// counters and gauges, including audit tallies per event type and the
// verified identity gauge; [HistogramGaugeSeries] flattens histograms for
// exporters without a native histogram type.
//
// # What this package must NOT do
//
//   - Import any exporter package.
//   - Perform I/O.
package internaldefs
