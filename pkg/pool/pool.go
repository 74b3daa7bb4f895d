// Package pool provides sync.Pool-backed scratch slices that reduce
// allocation churn in hot, lock-held paths — chiefly pkg/value's
// Create, whose createTable/createFunction accumulate a key/value or
// upvalue slice one marshaled child at a time while the collector's
// writer lock is being taken and released per child via newRecord's
// c.Create.
//
// Generalized with a type parameter over the teacher's per-type
// sync.Pool wrappers (rowSlicePool, nodeSlicePool, ...) in pkg/pool so
// a single SlicePool serves []*value.Record here without pkg/pool
// importing pkg/value — pkg/value imports pkg/pool, not the reverse,
// which keeps the dependency graph acyclic.
package pool

import "sync"

// Config controls pooling behavior.
type Config struct {
	// Enabled controls whether pooling is active.
	Enabled bool

	// MaxSize limits the capacity kept in the pool for any one slice;
	// larger scratch slices are dropped instead of recycled.
	MaxSize int
}

var globalConfig = Config{
	Enabled: true,
	MaxSize: 1024,
}

// Configure sets global pool configuration. Should be called early
// during initialization, before any Get/Put calls.
func Configure(cfg Config) {
	globalConfig = cfg
}

// IsEnabled returns whether pooling is currently active.
func IsEnabled() bool { return globalConfig.Enabled }

// SlicePool is a sync.Pool-backed pool of zero-length, reusable slices
// of T.
type SlicePool[T any] struct {
	pool       sync.Pool
	initialCap int
}

// NewSlicePool constructs a pool whose freshly minted slices start at
// initialCap capacity.
func NewSlicePool[T any](initialCap int) *SlicePool[T] {
	p := &SlicePool[T]{initialCap: initialCap}
	p.pool.New = func() any {
		return make([]T, 0, initialCap)
	}
	return p
}

// Get returns a zero-length slice, recycled from the pool when pooling
// is enabled.
func (p *SlicePool[T]) Get() []T {
	if !globalConfig.Enabled {
		return make([]T, 0, p.initialCap)
	}
	return p.pool.Get().([]T)[:0]
}

// Put returns s to the pool, clearing its slots first so pooled slices
// do not keep their former contents reachable. Slices whose capacity
// exceeds the global MaxSize are dropped instead of recycled.
func (p *SlicePool[T]) Put(s []T) {
	if !globalConfig.Enabled || s == nil {
		return
	}
	if cap(s) > globalConfig.MaxSize {
		return
	}
	var zero T
	for i := range s {
		s[i] = zero
	}
	p.pool.Put(s[:0])
}
