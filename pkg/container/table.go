// Package container implements the shared, thread-safe associative
// array that values are stored in once they cross an interpreter
// boundary.
//
// A Table is itself a managed object: it embeds a *gc.Object so the
// collector can trace edges to (and eventually reclaim) it exactly
// like any other shared value. Its own reader/writer lock is
// independent of the collector's lock — see the Table doc comment on
// lock ordering below.
package container

import (
	"sync"

	"github.com/orneryd/xshare/pkg/gc"
	"github.com/orneryd/xshare/pkg/value"
)

const initialCapacity = 4

// Table is the shared container described in spec §4.3: parallel key
// and value arrays searched by value.Compare rather than Go map
// equality (keys are value.Record trees, which have no meaningful Go
// map key representation), plus an optional metatable hook.
//
// Lock ordering: every mutator here takes mu for just the slice/field
// mutation and releases it BEFORE calling gc.AddEdge/RemoveEdge, which
// take the collector's own lock independently. This is the sequential
// (never-nested) protocol SPEC_FULL.md §4.3 settles on: the collector
// lock and a container lock are never held at the same time by the
// same goroutine.
type Table struct {
	*gc.Object

	mu  sync.RWMutex
	gcc *gc.Collector

	keys []*value.Record
	vals []*value.Record

	metatable *value.Record // SharedRef or nil
}

// New constructs an empty shared container backed by collector c, with
// extRefs == 1 (the caller's own hold).
func New(c *gc.Collector) *Table {
	t := &Table{gcc: c}
	t.Object = c.Create(func() { t.release() })
	t.keys = make([]*value.Record, 0, initialCapacity)
	t.vals = make([]*value.Record, 0, initialCapacity)
	return t
}

// Header implements value.SharedContainer so a Table can be wrapped in
// a SharedRef record.
func (t *Table) Header() *gc.Object { return t.Object }

// release is Table's destructor, invoked by the collector during sweep
// while its write lock is already held. Per gc.Object's dtor contract
// it must not touch the collector (no AddEdge/RemoveEdge/Create/
// Collect — those take the collector's lock and would deadlock).
// Stored entries are held by edge only, not by a counted reference (see
// Set), so there is nothing to release here either: t.edges itself is
// discarded wholesale by the sweep right after this returns.
func (t *Table) release() {
	t.mu.Lock()
	t.keys, t.vals, t.metatable = nil, nil, nil
	t.mu.Unlock()
}

// Size returns the number of entries currently stored.
func (t *Table) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.keys)
}

// Length returns the largest n such that Get(i) is non-nil for every
// integer i in 1..n (Lua-style array length over the positive-integer
// key prefix).
func (t *Table) Length() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var n int64
	for {
		if t.findLocked(integerRecord(n+1)) < 0 {
			return n
		}
		n++
	}
}

// integerRecord builds a throwaway Integer record for comparison only
// (never inserted into a collector, never given a *gc.Object) — Length
// and the indexed-lookup helpers only need it to drive value.Compare.
func integerRecord(i int64) *value.Record {
	return &value.Record{Kind: value.Integer, Integer: i}
}

// findLocked returns the index of key in t.keys, or -1. Caller must
// hold t.mu (read or write).
func (t *Table) findLocked(key *value.Record) int {
	for i, k := range t.keys {
		if value.Compare(k, key) == 0 {
			return i
		}
	}
	return -1
}

// Get returns the value stored under key, or nil if absent. The
// returned record is not retained — per §5's safety property, it
// remains valid at least until the caller releases (implicitly, by
// returning from whatever read section called Get); a caller that
// needs it to outlive that must gc.Retain it.
func (t *Table) Get(key *value.Record) *value.Record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if i := t.findLocked(key); i >= 0 {
		return t.vals[i]
	}
	return nil
}

// Set stores val under key, growing the backing arrays (capacity
// doubling from 4) on a miss. On a hit, the old value's edge is
// dropped and the new one added; size is unchanged. On a miss, edges
// are added for both key and val and size grows by one.
func (t *Table) Set(key, val *value.Record) {
	t.mu.Lock()
	idx := t.findLocked(key)
	var oldVal *value.Record
	if idx >= 0 {
		oldVal = t.vals[idx]
		t.vals[idx] = val
	} else {
		if len(t.keys) == cap(t.keys) {
			t.growLocked()
		}
		t.keys = append(t.keys, key)
		t.vals = append(t.vals, val)
	}
	t.mu.Unlock()

	if idx >= 0 {
		// The old value's edge is dropped; it is held by edge only, so
		// nothing is released here. Whatever external ref it still
		// carries belongs to whoever put it there, and tracing alone
		// decides whether it survives the next Collect.
		gc.RemoveEdge(t.Object, oldVal.Object)
		gc.AddEdge(t.Object, val.Object)
	} else {
		gc.AddEdge(t.Object, key.Object)
		gc.AddEdge(t.Object, val.Object)
	}
}

// growLocked doubles keys/vals capacity. Caller must hold the write
// lock.
func (t *Table) growLocked() {
	newCap := cap(t.keys) * 2
	if newCap == 0 {
		newCap = initialCapacity
	}
	newKeys := make([]*value.Record, len(t.keys), newCap)
	newVals := make([]*value.Record, len(t.vals), newCap)
	copy(newKeys, t.keys)
	copy(newVals, t.vals)
	t.keys, t.vals = newKeys, newVals
}

// Delete removes key's entry, if present, dropping both its edges and
// swapping the last entry into its slot. The removed key and value are
// held by edge only; Delete does not release any external reference on
// them, it only severs the edge that kept them reachable from t.
func (t *Table) Delete(key *value.Record) {
	t.mu.Lock()
	idx := t.findLocked(key)
	if idx < 0 {
		t.mu.Unlock()
		return
	}
	removedKey, removedVal := t.keys[idx], t.vals[idx]
	last := len(t.keys) - 1
	t.keys[idx] = t.keys[last]
	t.vals[idx] = t.vals[last]
	t.keys = t.keys[:last]
	t.vals = t.vals[:last]
	t.mu.Unlock()

	gc.RemoveEdge(t.Object, removedKey.Object)
	gc.RemoveEdge(t.Object, removedVal.Object)
}

// Next implements ordered iteration over insertion order (the internal
// array order, per §4.3). Passing a nil key returns the first pair;
// passing a key returns the pair immediately after it, or (nil, nil,
// false) at the end. ok is false if key itself is not found (or the
// table is empty with a nil key).
func (t *Table) Next(key *value.Record) (nextKey, nextVal *value.Record, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if key == nil {
		if len(t.keys) == 0 {
			return nil, nil, false
		}
		return t.keys[0], t.vals[0], true
	}
	idx := t.findLocked(key)
	if idx < 0 {
		return nil, nil, false
	}
	if idx+1 >= len(t.keys) {
		return nil, nil, false
	}
	return t.keys[idx+1], t.vals[idx+1], true
}

// SetMetatable replaces the container's metatable hook. mt may be nil
// (clearing it) or a SharedRef record; replacing drops the old edge (if
// any) and adds the new one. Like Set and Delete, the old metatable is
// held by edge only — no external reference is released here.
func (t *Table) SetMetatable(mt *value.Record) {
	t.mu.Lock()
	old := t.metatable
	t.metatable = mt
	t.mu.Unlock()

	if old != nil {
		gc.RemoveEdge(t.Object, old.Object)
	}
	if mt != nil {
		gc.AddEdge(t.Object, mt.Object)
	}
}

// GetMetatable returns the container's current metatable, or nil.
func (t *Table) GetMetatable() *value.Record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.metatable
}
