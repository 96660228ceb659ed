// Package pool implements the device-side frame arena: two fixed-size
// pools of frame slots and the intrusive FIFOs that move slots between
// producer and consumer (spec §4.2, §9 "Intrusive linked lists").
//
// Every slot lives in exactly one list at a time: its home pool or one
// of the to_can/to_host FIFOs. Lists are index-based doubly-linked
// rings over a fixed backing array, so no allocation ever occurs after
// New returns. A mutex stands in for the firmware's disable-IRQ
// critical section (spec §5): both are bounded to a handful of index
// stores and never block on I/O.
package pool

import "sync"

// nilIndex marks "no slot" — list heads and unused next/prev fields.
const nilIndex = -1

// node is one ring-list link; index i of nodes always corresponds to
// slot i of the owning arena.
type node struct {
	next, prev int
}

// ring is an intrusive doubly-linked ring (spec §9): a sentinel head at
// index -1 conceptually, represented here by headNext/headPrev so that
// the frame slots themselves need not reserve a sentinel element.
type ring struct {
	headNext, headPrev int
	nodes              []node
}

func newRing(n int) *ring {
	return &ring{headNext: nilIndex, headPrev: nilIndex, nodes: make([]node, n)}
}

func (r *ring) empty() bool { return r.headNext == nilIndex }

// count walks the ring; used only for diagnostics (spec §9's
// count_free_entries), never on a hot path.
func (r *ring) count() int {
	n := 0
	for i := r.headNext; i != nilIndex; i = r.nodes[i].next {
		n++
	}
	return n
}

// pushTail appends slot i at the end of the ring (FIFO order).
func (r *ring) pushTail(i int) {
	r.nodes[i].next = nilIndex
	r.nodes[i].prev = r.headPrev
	if r.headPrev != nilIndex {
		r.nodes[r.headPrev].next = i
	} else {
		r.headNext = i
	}
	r.headPrev = i
}

// popHead removes and returns the first slot, or nilIndex if empty.
func (r *ring) popHead(detach func(int)) int {
	i := r.headNext
	if i == nilIndex {
		return nilIndex
	}
	r.headNext = r.nodes[i].next
	if r.headNext != nilIndex {
		r.nodes[r.headNext].prev = nilIndex
	} else {
		r.headPrev = nilIndex
	}
	if detach != nil {
		detach(i)
	}
	return i
}

// Arena is a fixed-capacity pool of T plus the two rings that move
// slots between pool and FIFO ownership (spec §4.2): the pool ring and
// one outbound FIFO ring, matching the device buffer layer's
// `acquire`/enqueue model. One Arena instance backs each of can_pool
// (size 64), whose FIFO is to_can (host/USB -> CAN bus), and host_pool
// (size 70), whose FIFO is to_host (CAN bus -> USB); the Arena owns
// both rings since each slot belongs to exactly one of the two at a time.
type Arena[T any] struct {
	mu   sync.Mutex
	data []T
	pool *ring
	fifo *ring
}

// New creates an arena of the given capacity with every slot initially
// on the pool ring (spec §9: "after initialization the pool is full").
func New[T any](capacity int) *Arena[T] {
	a := &Arena[T]{
		data: make([]T, capacity),
		pool: newRing(capacity),
		fifo: newRing(capacity),
	}
	for i := capacity - 1; i >= 0; i-- {
		a.pool.pushTail(i)
	}
	return a
}

// Capacity returns the arena's fixed slot count.
func (a *Arena[T]) Capacity() int { return len(a.data) }

// Acquire takes one slot from the pool for a producer to fill. The
// second return value is false if the pool is empty (overflow, spec
// §4.2: "If either pool is empty, the appropriate overflow error flag
// ... is re-asserted").
func (a *Arena[T]) Acquire() (slot int, value *T, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	i := a.pool.popHead(nil)
	if i == nilIndex {
		return 0, nil, false
	}
	return i, &a.data[i], true
}

// Enqueue moves slot i from the producer's hand onto the outbound FIFO.
func (a *Arena[T]) Enqueue(i int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fifo.pushTail(i)
}

// Dequeue takes the oldest queued slot for a consumer, or ok=false if
// the FIFO is empty.
func (a *Arena[T]) Dequeue() (slot int, value *T, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	i := a.fifo.popHead(nil)
	if i == nilIndex {
		return 0, nil, false
	}
	return i, &a.data[i], true
}

// Release returns slot i to the pool once the consumer is done with
// it, completing the producer-acquire / consumer-release cycle.
func (a *Arena[T]) Release(i int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pool.pushTail(i)
}

// PoolFree reports how many slots currently sit in the pool,
// unallocated (diagnostic / pool-conservation checks, spec §8).
func (a *Arena[T]) PoolFree() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pool.count()
}

// QueueLen reports how many slots currently sit on the outbound FIFO.
func (a *Arena[T]) QueueLen() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fifo.count()
}

// Clear drains the outbound FIFO back to the pool without touching
// in-flight slots already handed to a consumer (spec §4.1
// Cancellation: close "flushes Tx queues ... and leaves the pools
// fully populated").
func (a *Arena[T]) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for {
		i := a.fifo.popHead(nil)
		if i == nilIndex {
			break
		}
		a.pool.pushTail(i)
	}
}
