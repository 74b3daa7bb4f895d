// Package gc implements the out-of-band collector shared across
// independent interpreter heaps.
//
// Every value and shared container that crosses an interpreter boundary
// is a managed Object: a small header carrying an external reference
// count, a tri-color mark, and a list of outgoing strong edges to other
// managed objects. Interpreters hold Objects through counted external
// references (Retain/Release); Objects hold each other through edges,
// which are traced rather than counted so that cycles of shared
// containers are still reclaimable.
//
// The collector itself is a doubly linked list of every live Object plus
// a single process-wide reader/writer lock. A stop-the-world tri-color
// mark-sweep reclaims anything unreachable from a rooted Object. There is
// no generational or incremental collection — see the non-goals in
// SPEC_FULL.md.
package gc

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Color is the tri-color mark used during Collect. It is only meaningful
// while a collection cycle is running; objects that survive a Collect keep
// their Black mark until the next cycle resets every color to White.
type Color int32

const (
	White Color = iota
	Gray
	Black
)

func (c Color) String() string {
	switch c {
	case White:
		return "white"
	case Gray:
		return "gray"
	case Black:
		return "black"
	default:
		return fmt.Sprintf("color(%d)", int32(c))
	}
}

// Object is the managed-object header embedded by every value that the
// collector governs (value.Record, container.Table). It carries no
// payload of its own — callers get at their payload through whatever
// struct embeds the Object, never through the Object itself.
type Object struct {
	extRefs int32 // atomic; external holders (interpreters, local refs)
	color   Color // guarded by owner.mu; meaningful only during Collect
	edges   []*Object
	prev, next *Object

	// dtor runs once during sweep, right after the object is unlinked from
	// the collector's list and before its edges are dropped. The sweep
	// holds the collector's write lock, so dtor must not call anything
	// that takes it (AddEdge/RemoveEdge/Create/Collect); the lock-free
	// Retain/Release are safe.
	dtor func()

	owner *Collector
}

// ExtRefs returns the current external reference count. Exposed for
// diagnostics and tests; not meant to gate application logic (use
// Retain/Release instead).
func (o *Object) ExtRefs() int32 { return atomic.LoadInt32(&o.extRefs) }

// Collector is a process-wide (or, for tests, independently
// constructible — see New) registry of managed objects plus the
// tri-color mark-sweep that reclaims them.
type Collector struct {
	mu sync.RWMutex

	head, tail *Object
	count      int

	enabled     bool
	step        float64
	lastCleanup int
}

const (
	defaultStep        = 2.0
	minStep            = 1.01
	defaultLastCleanup = 100
)

// New constructs an independent collector instance. Production code
// normally uses Default(), but every test and every component that
// wants an isolated heap (the Design Notes call this out explicitly)
// should construct its own via New.
func New() *Collector {
	return &Collector{
		enabled:     true,
		step:        defaultStep,
		lastCleanup: defaultLastCleanup,
	}
}

var defaultCollector = sync.OnceValue(New)

// Default returns the process-wide singleton collector, constructing it
// on first use.
func Default() *Collector { return defaultCollector() }

// Create allocates a new managed Object with extRefs == 1 (the creator's
// own hold — see SPEC_FULL.md §4.1 for the root-convention discussion) and
// appends it to the collector's global list. If automatic collection is
// enabled and the trigger threshold has been reached, Create runs a full
// Collect first, under the same write lock, before allocating.
//
// dtor, if non-nil, runs exactly once, right after the object is
// unlinked during a future sweep.
func (c *Collector) Create(dtor func()) *Object {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.enabled && float64(c.count) >= c.step*float64(c.lastCleanup) {
		c.collectLocked()
	}

	obj := &Object{
		extRefs: 1,
		color:   White,
		dtor:    dtor,
		owner:   c,
	}
	obj.prev = c.tail
	if c.tail != nil {
		c.tail.next = obj
	} else {
		c.head = obj
	}
	c.tail = obj
	c.count++
	return obj
}

// Retain increments obj's external reference count. Lock-free.
func Retain(obj *Object) {
	if obj == nil {
		return
	}
	atomic.AddInt32(&obj.extRefs, 1)
}

// Release decrements obj's external reference count. Lock-free. It does
// not free anything immediately — reclamation only happens during the
// next Collect. Releasing a reference that is already at zero is a
// programmer error (matches InvalidState in spec §7) and panics, mirroring
// the original's `assert(old > 0)`.
func Release(obj *Object) {
	if obj == nil {
		return
	}
	old := atomic.AddInt32(&obj.extRefs, -1) + 1
	if old <= 0 {
		panic(fmt.Sprintf("gc: Release on object with extRefs == %d", old-1))
	}
}

// AddEdge records a strong, non-owning reference from one managed object
// to another. N calls to AddEdge(from, to) must be balanced by N calls to
// RemoveEdge(from, to) to fully detach to from from's edge set — edges
// are not deduplicated (spec §9 Open Question 3).
//
// from and to must belong to the same Collector.
func AddEdge(from, to *Object) {
	if from == nil || to == nil {
		return
	}
	if from.owner != to.owner {
		panic("gc: AddEdge across two different collectors")
	}
	c := from.owner
	c.mu.Lock()
	from.edges = append(from.edges, to)
	c.mu.Unlock()
}

// RemoveEdge removes one matching entry from from's edge list via
// swap-with-last. It is a no-op if no such edge exists. When occupancy
// falls below a third of capacity (and capacity exceeds 4), the edge
// slice is reallocated at half its current capacity.
func RemoveEdge(from, to *Object) {
	if from == nil || to == nil {
		return
	}
	c := from.owner
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, e := range from.edges {
		if e == to {
			last := len(from.edges) - 1
			from.edges[i] = from.edges[last]
			from.edges = from.edges[:last]
			break
		}
	}
	shrinkEdges(from)
}

// shrinkEdges halves the edge slice's capacity once occupancy drops
// below a third, mirroring gc_remove_reference's realloc-to-half. Must
// be called with the owning collector's write lock held.
func shrinkEdges(o *Object) {
	size, cap := len(o.edges), cap(o.edges)
	if cap <= 4 || size*3 >= cap {
		return
	}
	newCap := cap / 2
	if newCap < 4 {
		newCap = 4
	}
	shrunk := make([]*Object, size, newCap)
	copy(shrunk, o.edges)
	o.edges = shrunk
}

// Count returns the number of objects currently registered with the
// collector (live or pending the next sweep).
func (c *Collector) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.count
}

// Pause disables automatic collection: Create will no longer trigger
// Collect on its own.
func (c *Collector) Pause() {
	c.mu.Lock()
	c.enabled = false
	c.mu.Unlock()
}

// Resume re-enables automatic collection.
func (c *Collector) Resume() {
	c.mu.Lock()
	c.enabled = true
	c.mu.Unlock()
}

// Enabled reports whether automatic collection is currently active.
func (c *Collector) Enabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enabled
}

// SetStep sets the trigger factor used to decide when Create should run
// an automatic Collect: count >= step*lastCleanup. Values at or below 1.0
// are clamped to 1.01 to avoid the collector triggering on every single
// allocation.
func (c *Collector) SetStep(step float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if step > 1.0 {
		c.step = step
	} else {
		c.step = minStep
	}
}

// GetStep returns the current trigger factor.
func (c *Collector) GetStep() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.step
}

// RLock acquires the collector's reader lock. Callers that walk a
// graph of objects reachable from the collector (value.Push's
// traversal) take this once around the whole walk so the graph cannot
// be mutated mid-traversal, matching §4.2's "Push acquires the
// collector's reader lock around the whole traversal."
func (c *Collector) RLock() { c.mu.RLock() }

// RUnlock releases the reader lock taken by RLock.
func (c *Collector) RUnlock() { c.mu.RUnlock() }

// Collect runs one full tri-color mark-sweep cycle, reclaiming every
// object unreachable from a root. It takes the collector's write lock
// for the duration (the whole point of a stop-the-world tracer is that
// nothing else touches the object graph while it runs).
func (c *Collector) Collect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.collectLocked()
}

// collectLocked is Collect's body, callable both from Collect (which
// takes the lock) and from Create (which already holds it).
func (c *Collector) collectLocked() {
	if c.count == 0 {
		return
	}

	gray := make([]*Object, 0, c.count)
	for o := c.head; o != nil; o = o.next {
		o.color = White
		if atomic.LoadInt32(&o.extRefs) > 0 {
			o.color = Gray
			gray = append(gray, o)
		}
	}

	for i := 0; i < len(gray); i++ {
		cur := gray[i]
		for _, ref := range cur.edges {
			if ref != nil && ref.color == White {
				ref.color = Gray
				gray = append(gray, ref)
			}
		}
		cur.color = Black
	}

	o := c.head
	for o != nil {
		next := o.next
		if o.color == White {
			if o.prev != nil {
				o.prev.next = o.next
			} else {
				c.head = o.next
			}
			if o.next != nil {
				o.next.prev = o.prev
			} else {
				c.tail = o.prev
			}

			if o.dtor != nil {
				o.dtor()
			}
			o.edges = nil
			c.count--
		}
		o = next
	}

	c.lastCleanup = c.count
}
