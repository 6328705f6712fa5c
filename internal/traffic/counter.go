package traffic

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ErrLimitExceeded is returned by Check when a session crosses a traffic cap.
var ErrLimitExceeded = errors.New("traffic limit exceeded")

// Limits caps what a single verification session may send. Zero disables a
// cap.
type Limits struct {
	MaxInboundPackets   int64
	MaxInboundBytes     int64
	MaxPacketsPerSecond int
}

// Snapshot is a point-in-time copy of a Counter.
type Snapshot struct {
	InboundBytes    int64
	OutboundBytes   int64
	InboundPackets  int64
	OutboundPackets int64
	UnknownPackets  int64
}

// Counter tallies traffic for one session. Byte tallies are fed by the
// pipeline stages, packet tallies by the session driver.
type Counter struct {
	inBytes    atomic.Int64
	outBytes   atomic.Int64
	inPackets  atomic.Int64
	outPackets atomic.Int64
	unknown    atomic.Int64

	// recent holds inbound arrival times inside the trailing second,
	// oldest first from head.
	mu       sync.Mutex
	recent   []time.Time
	head     int
	peakRate int
}

// NewCounter returns a zeroed counter.
func NewCounter() *Counter {
	return &Counter{}
}

func (c *Counter) AddInboundBytes(n int) {
	c.inBytes.Add(int64(n))
}

func (c *Counter) AddOutboundBytes(n int) {
	c.outBytes.Add(int64(n))
}

// InboundPacket records one decoded or undecodable frame at now.
func (c *Counter) InboundPacket(now time.Time) {
	c.inPackets.Add(1)

	c.mu.Lock()
	for c.head < len(c.recent) && now.Sub(c.recent[c.head]) >= time.Second {
		c.head++
	}
	if c.head > 0 && c.head*2 >= len(c.recent) {
		n := copy(c.recent, c.recent[c.head:])
		c.recent = c.recent[:n]
		c.head = 0
	}
	c.recent = append(c.recent, now)
	if n := len(c.recent) - c.head; n > c.peakRate {
		c.peakRate = n
	}
	c.mu.Unlock()
}

// UnknownPacket records a frame whose id no registration covers.
func (c *Counter) UnknownPacket() {
	c.unknown.Add(1)
}

func (c *Counter) OutboundPacket() {
	c.outPackets.Add(1)
}

func (c *Counter) Snapshot() Snapshot {
	return Snapshot{
		InboundBytes:    c.inBytes.Load(),
		OutboundBytes:   c.outBytes.Load(),
		InboundPackets:  c.inPackets.Load(),
		OutboundPackets: c.outPackets.Load(),
		UnknownPackets:  c.unknown.Load(),
	}
}

// Check reports the first limit the counter has crossed.
func (c *Counter) Check(l Limits) error {
	if l.MaxInboundPackets > 0 {
		if n := c.inPackets.Load(); n > l.MaxInboundPackets {
			return fmt.Errorf("%w: %d inbound packets (max %d)", ErrLimitExceeded, n, l.MaxInboundPackets)
		}
	}
	if l.MaxInboundBytes > 0 {
		if n := c.inBytes.Load(); n > l.MaxInboundBytes {
			return fmt.Errorf("%w: %d inbound bytes (max %d)", ErrLimitExceeded, n, l.MaxInboundBytes)
		}
	}
	if l.MaxPacketsPerSecond > 0 {
		c.mu.Lock()
		peak := c.peakRate
		c.mu.Unlock()
		if peak > l.MaxPacketsPerSecond {
			return fmt.Errorf("%w: %d packets within one second (max %d)", ErrLimitExceeded, peak, l.MaxPacketsPerSecond)
		}
	}
	return nil
}
