package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/Sunil0809/nautier-tradetron/internal/event"
	"github.com/rs/zerolog/log"
)

// DefaultCapacity is the ring size used when New is given a non-positive one.
const DefaultCapacity = 10_000

// ErrEmpty is returned by Consume when no event is buffered.
var ErrEmpty = errors.New("bus: empty")

// Handler receives every future event of a subscribed type. Handlers run
// synchronously relative to the publishing call, in registration order.
type Handler func(event.Event)

// Bus is a bounded, ordered event queue with publish/subscribe fan-out.
//
// The buffer has ring semantics: when full, the oldest undelivered event is
// evicted. The bus favors freshness of market data over completeness.
//
// One mutex guards the ring, the subscriber table, and the dispatch queue.
// Fan-out never runs under it: the first publisher drains queued events and
// invokes handlers with the lock released, so a handler may publish further
// events without deadlocking. Re-entrant publishes are queued and delivered
// after the current event, preserving total enqueue order.
type Bus struct {
	mu       sync.Mutex
	notEmpty *sync.Cond

	buf  []event.Event
	head int
	size int

	subs map[event.Type][]Handler

	pending     []event.Event
	dispatching bool

	published atomic.Int64
	evicted   atomic.Int64
}

// New creates a Bus with the given ring capacity.
func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	b := &Bus{
		buf:  make([]event.Event, capacity),
		subs: make(map[event.Type][]Handler),
	}
	b.notEmpty = sync.NewCond(&b.mu)
	return b
}

// Subscribe registers a handler for every future event of type t.
func (b *Bus) Subscribe(t event.Type, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[t] = append(b.subs[t], h)
}

// Publish enqueues the event for Consume and invokes every subscriber
// registered for its type, in registration order. A handler failure is
// caught and logged; it never aborts delivery to later handlers or the
// publishing caller.
func (b *Bus) Publish(ev event.Event) {
	b.mu.Lock()
	b.enqueueLocked(ev)
	b.pending = append(b.pending, ev)
	b.published.Add(1)

	if b.dispatching {
		// A drain is already in progress further up the stack (or on
		// another goroutine); it will deliver this event in order.
		b.mu.Unlock()
		return
	}
	b.dispatching = true
	for len(b.pending) > 0 {
		next := b.pending[0]
		b.pending = b.pending[1:]
		handlers := append([]Handler(nil), b.subs[next.Meta().Type]...)
		b.mu.Unlock()
		for _, h := range handlers {
			b.invoke(h, next)
		}
		b.mu.Lock()
	}
	b.dispatching = false
	b.mu.Unlock()
}

// invoke runs a single handler, isolating panics from the publisher.
func (b *Bus) invoke(h Handler, ev event.Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("event_type", string(ev.Meta().Type)).
				Str("event_id", ev.Meta().EventID).
				Msg("bus: handler panicked, delivery continues")
		}
	}()
	h(ev)
}

// enqueueLocked appends to the ring, evicting the oldest event when full.
// Caller must hold b.mu.
func (b *Bus) enqueueLocked(ev event.Event) {
	if b.size == len(b.buf) {
		b.buf[b.head] = nil
		b.head = (b.head + 1) % len(b.buf)
		b.size--
		b.evicted.Add(1)
	}
	b.buf[(b.head+b.size)%len(b.buf)] = ev
	b.size++
	b.notEmpty.Signal()
}

// Consume removes and returns the oldest buffered event, or ErrEmpty.
func (b *Bus) Consume() (event.Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.popLocked()
}

// ConsumeWait blocks until an event is available or ctx is done.
func (b *Bus) ConsumeWait(ctx context.Context) (event.Event, error) {
	stop := context.AfterFunc(ctx, func() {
		b.mu.Lock()
		b.notEmpty.Broadcast()
		b.mu.Unlock()
	})
	defer stop()

	b.mu.Lock()
	defer b.mu.Unlock()
	for b.size == 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b.notEmpty.Wait()
	}
	return b.popLocked()
}

// popLocked removes the oldest event. Caller must hold b.mu.
func (b *Bus) popLocked() (event.Event, error) {
	if b.size == 0 {
		return nil, ErrEmpty
	}
	ev := b.buf[b.head]
	b.buf[b.head] = nil
	b.head = (b.head + 1) % len(b.buf)
	b.size--
	return ev, nil
}

// Depth returns the number of buffered (unconsumed) events.
func (b *Bus) Depth() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Capacity returns the ring size.
func (b *Bus) Capacity() int { return len(b.buf) }

// Published returns the total number of events published.
func (b *Bus) Published() int64 { return b.published.Load() }

// Evicted returns the total number of events dropped by ring eviction.
func (b *Bus) Evicted() int64 { return b.evicted.Load() }
