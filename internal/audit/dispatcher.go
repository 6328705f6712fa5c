package audit

import (
	"context"
	"sync"
	"sync/atomic"
)

// EventTypes lists the event types the dispatcher accounts for separately.
// Events of any other type are counted under OtherEvents.
var EventTypes = [...]string{
	EventConnectionRejected,
	EventVerificationBypass,
	EventVerificationPassed,
	EventVerificationFailed,
	EventSessionAborted,
}

// OtherEvents keys the counts of event types outside EventTypes.
const OtherEvents = "other"

type slotCounters [len(EventTypes) + 1]atomic.Uint64

func slotOf(eventType string) int {
	for i, t := range EventTypes {
		if t == eventType {
			return i
		}
	}
	return len(EventTypes)
}

// sheddable events arrive once per connection attempt and are dropped on a
// full buffer even when DropIfFull is off, so a connection flood never
// stalls admission.
func sheddable(eventType string) bool {
	return eventType == EventConnectionRejected || eventType == EventVerificationBypass
}

// Config controls dispatcher buffering behavior. DropIfFull applies to
// verdict events; rejection and bypass events are always shed when full.
type Config struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// Counts is the per-event-type delivery tally.
type Counts struct {
	Delivered uint64
	Dropped   uint64
}

// Dispatcher forwards events to a sink from one background goroutine so
// the verification path never waits on sink I/O.
type Dispatcher struct {
	cfg  Config
	sink Sink

	// mu guards ch against a send racing its close.
	mu     sync.RWMutex
	ch     chan Event
	closed bool
	stop   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup

	delivered slotCounters
	dropped   slotCounters
}

// NewDispatcher returns nil when auditing is disabled; a nil dispatcher
// accepts and discards events.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		cfg:  cfg,
		sink: sink,
		ch:   make(chan Event, cfg.BufferSize),
		stop: make(chan struct{}),
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for event := range d.ch {
			d.sink.Emit(context.Background(), event)
			d.delivered[slotOf(event.EventType)].Add(1)
		}
	}()
	return d
}

// Emit queues event. A send that cannot complete is counted as dropped
// under the event's type.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil {
		return
	}
	slot := slotOf(event.EventType)

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.dropped[slot].Add(1)
		return
	}

	select {
	case d.ch <- event:
		return
	default:
	}
	if d.cfg.DropIfFull || sheddable(event.EventType) {
		d.dropped[slot].Add(1)
		return
	}

	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case d.ch <- event:
	case <-ctx.Done():
		d.dropped[slot].Add(1)
	case <-d.stop:
		d.dropped[slot].Add(1)
	}
}

// Close stops intake and flushes buffered events to the sink. Emitters
// blocked on a full buffer are released and their events counted dropped.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.once.Do(func() {
		close(d.stop)
		d.mu.Lock()
		d.closed = true
		close(d.ch)
		d.mu.Unlock()
		d.wg.Wait()
	})
}

// Stats returns delivered and dropped counts keyed by event type. Types
// with no traffic are included with zero counts.
func (d *Dispatcher) Stats() map[string]Counts {
	out := make(map[string]Counts, len(EventTypes)+1)
	for i := 0; i <= len(EventTypes); i++ {
		key := OtherEvents
		if i < len(EventTypes) {
			key = EventTypes[i]
		}
		var c Counts
		if d != nil {
			c = Counts{Delivered: d.delivered[i].Load(), Dropped: d.dropped[i].Load()}
		}
		out[key] = c
	}
	return out
}

// Dropped sums drops across event types.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	var n uint64
	for i := range d.dropped {
		n += d.dropped[i].Load()
	}
	return n
}
