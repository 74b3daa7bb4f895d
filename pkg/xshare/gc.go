package xshare

import "github.com/orneryd/xshare/pkg/gc"

// GC wraps a *gc.Collector with the host-facing surface spec §6 lists
// under the "gc." namespace (collect/count/step/pause/resume/enabled).
// It holds no state of its own beyond the collector reference, so
// constructing one is always cheap and side-effect free.
type GC struct {
	c *gc.Collector
}

// NewGC wraps c for host-facing use.
func NewGC(c *gc.Collector) *GC { return &GC{c: c} }

// Collect runs one full mark-sweep cycle immediately.
func (g *GC) Collect() { g.c.Collect() }

// Count returns the number of objects currently registered.
func (g *GC) Count() int { return g.c.Count() }

// Step sets newStep (only when set is true) and returns the previous trigger factor,
// mirroring the original l_gc_step's "set if an argument was given,
// always return the old value" shape.
func (g *GC) Step(newStep float64, set bool) float64 {
	old := g.c.GetStep()
	if set {
		g.c.SetStep(newStep)
	}
	return old
}

// Pause disables automatic collection.
func (g *GC) Pause() { g.c.Pause() }

// Resume re-enables automatic collection.
func (g *GC) Resume() { g.c.Resume() }

// Enabled reports whether automatic collection is currently active.
func (g *GC) Enabled() bool { return g.c.Enabled() }
