// Package xshare is the host-facing surface described in spec §6: the
// operations a thin per-interpreter binding calls directly (table,
// setmetatable, getmetatable, rawset, rawget, size, and the gc.*
// controls), built entirely on pkg/gc, pkg/value, and pkg/container.
//
// Every function here operates on interp.Value trees so a binding layer
// only has to convert its native stack slots to/from interp.Value; none
// of it depends on any particular host runtime.
package xshare

import (
	"errors"
	"unsafe"

	"github.com/orneryd/xshare/pkg/container"
	"github.com/orneryd/xshare/pkg/gc"
	"github.com/orneryd/xshare/pkg/interp"
	"github.com/orneryd/xshare/pkg/value"
)

// ErrInvalidArgument mirrors spec §7's InvalidArgument: a metatable
// argument that is neither nil, a shared Table, nor a native table, or
// a value Create cannot represent.
var ErrInvalidArgument = errors.New("xshare: invalid argument")

// Table is the host-facing handle to a shared container: the Go
// analogue of the userdata the original binds to xshare.table's
// metatable. Its own gc.Object hold (extRefs == 1 on construction) IS
// the handle's external reference — constructing one does not add a
// second, separate retain on top of container.New's own creation hold.
type Table struct {
	c    *gc.Collector
	host interp.Host
	raw  *container.Table
}

// Header lets a Table be wrapped in a value.SharedRef record, and lets
// detectShared (below) recognize one Table's handle as another's.
func (t *Table) Header() *gc.Object { return t.raw.Header() }

// Raw exposes the underlying container for callers (tests, the demo
// CLI) that want to compose it with pkg/container directly.
func (t *Table) Raw() *container.Table { return t.raw }

// New constructs a shared container. If initial is a KTable value, its
// entries are deep-marshaled into the new container (spec §6:
// "table([initial?])... if initial is a native table, deep-marshal its
// entries into it").
func New(c *gc.Collector, host interp.Host, initial *interp.Value) (*Table, error) {
	t := &Table{c: c, host: host, raw: container.New(c)}
	if initial != nil && initial.Kind == interp.KTable && initial.Tbl != nil {
		for i := range initial.Tbl.Keys {
			if err := t.rawSetValue(initial.Tbl.Keys[i], initial.Tbl.Vals[i]); err != nil {
				gc.Release(t.raw.Object)
				return nil, err
			}
		}
	}
	return t, nil
}

// detectShared recognizes a KShared interp.Value produced by this
// package's own Handle/GetMetatable/Push paths as wrapping one of our
// containers, so value.Create wraps it with SharedRef instead of
// failing to marshal it.
func detectShared(v interp.Value) (value.SharedContainer, bool) {
	if v.Kind != interp.KShared || v.Shr == nil {
		return nil, false
	}
	sc, ok := v.Shr.Ref.(value.SharedContainer)
	return sc, ok
}

// Handle returns the interp.Value a binding layer hands back to its
// interpreter to represent t — the same handle returned by New, not a
// freshly retained one. Call GetMetatable (or marshal through a
// container) when a *second*, independent handle to an
// already-existing container is needed.
func (t *Table) Handle() interp.Value {
	return sharedValue(t.raw)
}

func sharedValue(sc value.SharedContainer) interp.Value {
	return interp.Value{
		Kind: interp.KShared,
		Shr:  &interp.Shared{Addr: uintptr(unsafe.Pointer(sc.Header())), Ref: sc},
	}
}

// rawSetValue marshals k/v, wires them into the container, and releases
// the temporary creation hold each marshaled record starts with —
// mirroring l_shared_table_rawset's gc_release(key); gc_release(val)
// right after shared_table_set: the container's AddEdge is what keeps
// the entry alive from here on, not the caller's own temporary hold.
func (t *Table) rawSetValue(k, v interp.Value) error {
	keyRec, err := value.Create(t.c, t.host, k, map[uintptr]*value.Record{}, detectShared)
	if err != nil {
		return err
	}
	if v.Kind == interp.KNil {
		t.raw.Delete(keyRec)
		gc.Release(keyRec.Object)
		return nil
	}
	valRec, err := value.Create(t.c, t.host, v, map[uintptr]*value.Record{}, detectShared)
	if err != nil {
		gc.Release(keyRec.Object)
		return err
	}
	t.raw.Set(keyRec, valRec)
	gc.Release(keyRec.Object)
	gc.Release(valRec.Object)
	return nil
}

// RawSet stores v under k, bypassing metatable dispatch. v == Nil
// deletes the entry (spec §6: "rawset(t, k, v)... v = nil deletes").
func (t *Table) RawSet(k, v interp.Value) error {
	return t.rawSetValue(k, v)
}

// RawGet returns the value stored under k, bypassing metatable
// dispatch, or Nil if absent.
func (t *Table) RawGet(k interp.Value) (interp.Value, error) {
	keyRec, err := value.Create(t.c, t.host, k, map[uintptr]*value.Record{}, detectShared)
	if err != nil {
		return interp.Nil(), err
	}
	defer gc.Release(keyRec.Object)

	val := t.raw.Get(keyRec)
	if val == nil {
		return interp.Nil(), nil
	}
	return value.Push(t.c, t.host, val)
}

// Size returns the entry count.
func (t *Table) Size() int { return t.raw.Size() }

// Length returns the largest n such that Get(i) is present for every
// integer i in 1..n.
func (t *Table) Length() int64 { return t.raw.Length() }

// Next implements ordered iteration: prev == nil returns the first
// pair, otherwise the pair immediately after prev, or ok == false at
// the end.
func (t *Table) Next(prev *interp.Value) (key, val interp.Value, ok bool, err error) {
	var keyRec *value.Record
	if prev != nil {
		keyRec, err = value.Create(t.c, t.host, *prev, map[uintptr]*value.Record{}, detectShared)
		if err != nil {
			return interp.Nil(), interp.Nil(), false, err
		}
		defer gc.Release(keyRec.Object)
	}

	nk, nv, found := t.raw.Next(keyRec)
	if !found {
		return interp.Nil(), interp.Nil(), false, nil
	}
	key, err = value.Push(t.c, t.host, nk)
	if err != nil {
		return interp.Nil(), interp.Nil(), false, err
	}
	val, err = value.Push(t.c, t.host, nv)
	if err != nil {
		return interp.Nil(), interp.Nil(), false, err
	}
	return key, val, true, nil
}

// SetMetatable sets or clears t's metatable. mt may be nil, an existing
// shared Table (wrapped edge-only: it already has a hold of its own
// elsewhere), or a native KTable value (deep-marshaled into a brand new
// container whose creation hold is transferred into the edge, mirroring
// the original's "释放临时引用，mt持有新引用" comment).
func (t *Table) SetMetatable(mt *interp.Value) error {
	if mt == nil || mt.Kind == interp.KNil {
		t.raw.SetMetatable(nil)
		return nil
	}

	if sc, ok := detectShared(*mt); ok {
		ref := value.NewSharedRef(t.c, sc)
		t.raw.SetMetatable(ref)
		gc.Release(ref.Object)
		return nil
	}

	if mt.Kind == interp.KTable {
		mtbl, err := New(t.c, t.host, mt)
		if err != nil {
			return err
		}
		ref := value.NewSharedRef(t.c, mtbl.raw)
		gc.Release(mtbl.raw.Object) // transfer mtbl's own creation hold into the edge
		t.raw.SetMetatable(ref)
		gc.Release(ref.Object)
		return nil
	}

	return ErrInvalidArgument
}

// GetMetatable returns a fresh handle to t's metatable, or Nil if none
// is set. Unlike SetMetatable's internal wrapping, this hands a new,
// independent external reference to a caller — the one place in this
// package that genuinely needs gc.Retain on a container that already
// has a hold elsewhere, matching the original's gc_retain in
// l_shared_table_getmetatable.
func (t *Table) GetMetatable() (interp.Value, bool) {
	mt := t.raw.GetMetatable()
	if mt == nil {
		return interp.Nil(), false
	}
	gc.Retain(mt.Container.Header())
	return sharedValue(mt.Container), true
}

// Index implements indexed-read dispatch (spec §4.3 "Metatable dispatch
// semantics"): rawget first; on miss, consult the metatable's __index,
// following it recursively if it is itself a shared table, or invoking
// it if it is callable. call invokes a ScriptFn/NativeFn value as
// call(self, key) and must be supplied by the binding layer, since
// actually running host bytecode is out of this package's scope.
func (t *Table) Index(key interp.Value, call func(fn, self, key interp.Value) (interp.Value, error)) (interp.Value, error) {
	v, err := t.RawGet(key)
	if err != nil {
		return interp.Nil(), err
	}
	if v.Kind != interp.KNil {
		return v, nil
	}

	mtRec := t.raw.GetMetatable()
	if mtRec == nil {
		return interp.Nil(), nil
	}
	mtbl, ok := mtRec.Container.(*container.Table)
	if !ok {
		return interp.Nil(), nil
	}
	keyRec, err := value.Create(t.c, t.host, interp.String("__index"), map[uintptr]*value.Record{}, detectShared)
	if err != nil {
		return interp.Nil(), err
	}
	idxRec := mtbl.Get(keyRec)
	gc.Release(keyRec.Object)
	if idxRec == nil {
		return interp.Nil(), nil
	}
	if idxRec.Kind == value.SharedRef {
		if next, ok := idxRec.Container.(*container.Table); ok {
			return (&Table{c: t.c, host: t.host, raw: next}).Index(key, call)
		}
	}
	idxVal, err := value.Push(t.c, t.host, idxRec)
	if err != nil {
		return interp.Nil(), err
	}
	if (idxVal.Kind == interp.KNativeFn || idxVal.Kind == interp.KFunction) && call != nil {
		return call(idxVal, t.Handle(), key)
	}
	return idxVal, nil
}

// NewIndex implements indexed-write dispatch: if the metatable has a
// callable __newindex, invoke it as (self, key, value); otherwise fall
// back to rawset (which itself treats v == Nil as delete).
func (t *Table) NewIndex(key, val interp.Value, call func(fn, self, key, val interp.Value) error) error {
	if mtRec := t.raw.GetMetatable(); mtRec != nil {
		if mtbl, ok := mtRec.Container.(*container.Table); ok {
			keyRec, err := value.Create(t.c, t.host, interp.String("__newindex"), map[uintptr]*value.Record{}, detectShared)
			if err != nil {
				return err
			}
			hookRec := mtbl.Get(keyRec)
			gc.Release(keyRec.Object)
			if hookRec != nil && (hookRec.Kind == value.ScriptFn || hookRec.Kind == value.NativeFn) {
				hookVal, err := value.Push(t.c, t.host, hookRec)
				if err != nil {
					return err
				}
				if call != nil {
					return call(hookVal, t.Handle(), key, val)
				}
			}
		}
	}
	return t.rawSetValue(key, val)
}
