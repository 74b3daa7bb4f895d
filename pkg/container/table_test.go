package container

import (
	"testing"

	"github.com/orneryd/xshare/pkg/gc"
	"github.com/orneryd/xshare/pkg/value"
)

func newInt(c *gc.Collector, i int64) *value.Record {
	return &value.Record{Object: c.Create(nil), Kind: value.Integer, Integer: i}
}

func newStr(c *gc.Collector, s string) *value.Record {
	return &value.Record{Object: c.Create(nil), Kind: value.String, Bytes: []byte(s)}
}

func TestSetSizeDelta(t *testing.T) {
	c := gc.New()
	tbl := New(c)
	k, v := newStr(c, "k"), newInt(c, 42)

	before := tbl.Size()
	tbl.Set(k, v)
	after := tbl.Size()
	if after-before != 1 {
		t.Fatalf("size delta = %d, want 1 for a fresh key", after-before)
	}

	// Overwriting the same key must not change size.
	v2 := newInt(c, 43)
	tbl.Set(k, v2)
	if tbl.Size() != after {
		t.Fatalf("size after overwrite = %d, want %d", tbl.Size(), after)
	}
}

func TestGetSetDelete(t *testing.T) {
	c := gc.New()
	tbl := New(c)
	k, v := newStr(c, "k"), newInt(c, 42)

	tbl.Set(k, v)
	got := tbl.Get(newStr(c, "k"))
	if got == nil || got.Integer != 42 {
		t.Fatalf("Get after Set = %v, want 42", got)
	}

	tbl.Delete(k)
	if got := tbl.Get(newStr(c, "k")); got != nil {
		t.Fatalf("Get after Delete = %v, want nil", got)
	}
	if tbl.Size() != 0 {
		t.Fatalf("size after delete = %d, want 0", tbl.Size())
	}
}

func TestLength(t *testing.T) {
	c := gc.New()
	tbl := New(c)

	tbl.Set(newInt(c, 1), newStr(c, "a"))
	tbl.Set(newInt(c, 2), newStr(c, "b"))
	tbl.Set(newInt(c, 4), newStr(c, "d"))

	if got := tbl.Length(); got != 2 {
		t.Fatalf("Length() = %d, want 2 (gap at key 3 stops the prefix scan)", got)
	}
}

func TestNextOrdersByInsertion(t *testing.T) {
	c := gc.New()
	tbl := New(c)
	a, b := newStr(c, "a"), newStr(c, "b")
	tbl.Set(a, newInt(c, 1))
	tbl.Set(b, newInt(c, 2))

	k, v, ok := tbl.Next(nil)
	if !ok || value.Compare(k, a) != 0 || v.Integer != 1 {
		t.Fatalf("first Next() = (%v, %v, %v), want (a, 1, true)", k, v, ok)
	}
	k2, v2, ok2 := tbl.Next(k)
	if !ok2 || value.Compare(k2, b) != 0 || v2.Integer != 2 {
		t.Fatalf("second Next() = (%v, %v, %v), want (b, 2, true)", k2, v2, ok2)
	}
	_, _, ok3 := tbl.Next(k2)
	if ok3 {
		t.Fatal("Next() past the last entry should report ok=false")
	}
}

func TestSetMetatableReplacesEdge(t *testing.T) {
	c := gc.New()
	tbl := New(c)
	mt1 := New(c)
	mt1Ref := sharedRef(c, mt1)

	tbl.SetMetatable(mt1Ref)
	if got := tbl.GetMetatable(); got != mt1Ref {
		t.Fatal("GetMetatable did not return the record just set")
	}

	tbl.SetMetatable(nil)
	if got := tbl.GetMetatable(); got != nil {
		t.Fatal("GetMetatable after clearing should be nil")
	}
}

// sharedRef builds a SharedRef record wrapping an existing container:
// an edge only, no retain on sc (matching value.createSharedRef — a
// SharedRef never counts against its container's extRefs, only the
// container's own external handle does).
func sharedRef(c *gc.Collector, sc value.SharedContainer) *value.Record {
	r := &value.Record{Object: c.Create(nil), Kind: value.SharedRef, Container: sc}
	gc.AddEdge(r.Object, sc.Header())
	return r
}

func TestCycleOfContainersReclaimed(t *testing.T) {
	c := gc.New()
	a := New(c)
	b := New(c)

	aRef := sharedRef(c, a) // lives inside b, via b.Set below
	bRef := sharedRef(c, b) // lives inside a, via a.Set below

	a.Set(newStr(c, "x"), bRef)
	b.Set(newStr(c, "y"), aRef)

	// aRef/bRef's own construction-time hold transfers into their
	// owning table on Set, same as any other stored value.
	gc.Release(aRef.Object)
	gc.Release(bRef.Object)

	// Drop the only genuine external holds on a and b themselves
	// (their own creation hold from New). Nothing retains a or b
	// after this — they are reachable only through each other's
	// SharedRef, which is exactly the cycle the tracer must reclaim.
	gc.Release(a.Object)
	gc.Release(b.Object)

	before := c.Count()
	c.Collect()
	after := c.Count()

	if before-after < 2 {
		t.Fatalf("collect dropped count by %d, want at least 2 for the reclaimed container cycle", before-after)
	}
}
