package traffic

import "github.com/MrEthical07/goFallback/pipeline"

const (
	// InboundStageName is installed before the host's frame decoder.
	InboundStageName = "fallback-in-traffic"
	// OutboundStageName is installed before the host's frame encoder.
	OutboundStageName = "fallback-out-traffic"
)

// InsertionPoint asks for a named stage to be placed before an anchor.
type InsertionPoint struct {
	Anchor  string
	Name    string
	Handler pipeline.Handler
}

// InsertionPoints declares where the counter's stages go relative to the
// host's frame decoder and encoder.
func InsertionPoints(c *Counter, decoder, encoder string) []InsertionPoint {
	return []InsertionPoint{
		{Anchor: decoder, Name: InboundStageName, Handler: c.InboundStage()},
		{Anchor: encoder, Name: OutboundStageName, Handler: c.OutboundStage()},
	}
}

// InboundStage counts raw inbound bytes and passes them through unchanged.
func (c *Counter) InboundStage() pipeline.Handler {
	return pipeline.HandlerFunc(func(b []byte) ([]byte, error) {
		c.AddInboundBytes(len(b))
		return b, nil
	})
}

// OutboundStage counts encoded outbound bytes.
func (c *Counter) OutboundStage() pipeline.Handler {
	return pipeline.HandlerFunc(func(b []byte) ([]byte, error) {
		c.AddOutboundBytes(len(b))
		return b, nil
	})
}

// Hook installs every point whose anchor exists and whose name is not yet
// present. It returns the names it installed.
func Hook(p pipeline.Pipeline, points []InsertionPoint) ([]string, error) {
	if p == nil {
		return nil, nil
	}
	installed := make([]string, 0, len(points))
	for _, pt := range points {
		if !p.Has(pt.Anchor) || p.Has(pt.Name) {
			continue
		}
		if err := p.AddBefore(pt.Anchor, pt.Name, pt.Handler); err != nil {
			Unhook(p, installed)
			return nil, err
		}
		installed = append(installed, pt.Name)
	}
	return installed, nil
}

// Unhook removes the named stages. Stages already gone are ignored.
func Unhook(p pipeline.Pipeline, names []string) {
	if p == nil {
		return
	}
	for _, name := range names {
		_ = p.Remove(name)
	}
}
