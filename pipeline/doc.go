// Package pipeline defines the host contract for per-connection byte
// pipelines and ships [Chain], an ordered named-stage implementation used by
// the reference connection driver and by tests.
//
// Hosts that already own a pipeline (for example a proxy's channel handler
// list) implement [Pipeline] over it; the fallback engine only ever inserts
// stages relative to named anchors and removes them again.
package pipeline
