// Package value implements the tagged-union value record that can be
// shared across independent interpreter heaps, and the marshaler that
// deep-copies native interpreter values into collector-managed
// records and back.
//
// Every Record is itself a managed object (it embeds *gc.Object), so
// ordinary Retain/Release/AddEdge/RemoveEdge govern its lifetime
// exactly like any other collector-visible allocation.
package value

import (
	"bytes"
	"errors"
	"unsafe"

	"github.com/orneryd/xshare/pkg/gc"
	"github.com/orneryd/xshare/pkg/interp"
	"github.com/orneryd/xshare/pkg/pool"
)

// recordScratchPool recycles the []*Record accumulators createTable and
// createFunction build up one marshaled child at a time, avoiding a
// fresh slice allocation on every Create call.
var recordScratchPool = pool.NewSlicePool[*Record](16)

// ErrUnmarshalable is returned by Create when a native value has no
// representable Kind (arbitrary host userdata that is neither a table
// nor a recognized shared-container handle).
var ErrUnmarshalable = errors.New("value: cannot marshal native value")

// Kind tags the payload a Record carries.
type Kind int

const (
	Nil Kind = iota
	Bool
	Integer
	Float
	String
	LightPtr
	NativeFn
	ScriptFn
	TableCopy
	SharedRef
)

func (k Kind) String() string {
	switch k {
	case Nil:
		return "nil"
	case Bool:
		return "bool"
	case Integer:
		return "integer"
	case Float:
		return "float"
	case String:
		return "string"
	case LightPtr:
		return "lightptr"
	case NativeFn:
		return "nativefn"
	case ScriptFn:
		return "scriptfn"
	case TableCopy:
		return "tablecopy"
	case SharedRef:
		return "sharedref"
	default:
		return "unknown"
	}
}

// SharedContainer is the minimal surface a shared container must offer
// for a SharedRef record to wrap it. pkg/container.Table implements
// this; value never imports pkg/container (container imports value
// instead) to avoid a cycle.
type SharedContainer interface {
	Header() *gc.Object
}

// Record is the tagged-union value. Exactly the fields matching Kind
// are populated — this mirrors StoredObject's C union, but checked
// through Kind rather than through unsafe reinterpretation.
type Record struct {
	*gc.Object

	Kind Kind

	Bool    bool
	Integer int64
	Float   float64
	Bytes   []byte
	LightPtr uintptr
	Native  interp.NativeFunc

	// ScriptFn payload.
	Code     []byte
	Upvalues []*Record
	EnvSlot  int // -1 if no upvalue is the environment sentinel

	// TableCopy payload.
	Keys []*Record
	Vals []*Record

	// SharedRef payload.
	Container SharedContainer
}

// newRecord allocates a Record against collector c, wiring its
// destructor to release every edge the record added (child references
// drop one external reference each, matching §3's "value record's own
// destructor releases all edges it added").
func newRecord(c *gc.Collector, kind Kind) *Record {
	r := &Record{Kind: kind}
	r.Object = c.Create(func() { r.release() })
	return r
}

func (r *Record) release() {
	for _, uv := range r.Upvalues {
		gc.Release(uv.Object)
	}
	for _, k := range r.Keys {
		gc.Release(k.Object)
	}
	for _, v := range r.Vals {
		gc.Release(v.Object)
	}
	// SharedRef holds no counted reference on its container (see
	// createSharedRef) — only an edge, which the sweep discards along
	// with the rest of r's edge list; nothing to release here.
	r.Bytes = nil
	r.Code = nil
	r.Upvalues = nil
	r.Keys = nil
	r.Vals = nil
}

// sharedDetector lets a host recognize one of its own values as an
// existing handle to a container this module manages, so Create can
// wrap it with SharedRef instead of deep-copying it as a TableCopy.
// Callers that never hand shared handles back through interp.Value
// (e.g. the reference State, which represents shares via
// interp.Shared) can pass a detector that always returns (nil, false).
type sharedDetector func(v interp.Value) (SharedContainer, bool)

// Create marshals the native value v into a value.Record tree rooted
// in collector c. visited maps a host structural identity (from
// host.Identity) to the record already built for it, so cyclic or
// re-encountered aggregates resolve to the same Record instead of
// recursing forever. Pass a fresh, empty map for each independent
// top-level call.
//
// detectShared, if non-nil, is consulted before treating a KTable
// value as a plain aggregate — if it reports a SharedContainer, Create
// produces a SharedRef record instead of walking the table's entries.
func Create(c *gc.Collector, host interp.Host, v interp.Value, visited map[uintptr]*Record, detectShared func(v interp.Value) (SharedContainer, bool)) (*Record, error) {
	if addr, ok := host.Identity(v); ok {
		if existing, seen := visited[addr]; seen {
			gc.Retain(existing.Object)
			return existing, nil
		}
	}

	switch v.Kind {
	case interp.KNil:
		return newRecord(c, Nil), nil

	case interp.KBool:
		r := newRecord(c, Bool)
		r.Bool = v.Bool
		return r, nil

	case interp.KInteger:
		r := newRecord(c, Integer)
		r.Integer = v.Integer
		return r, nil

	case interp.KFloat:
		r := newRecord(c, Float)
		r.Float = v.Float
		return r, nil

	case interp.KString:
		r := newRecord(c, String)
		r.Bytes = append([]byte(nil), v.Str...)
		return r, nil

	case interp.KLightPtr:
		r := newRecord(c, LightPtr)
		r.LightPtr = v.LightPtr
		return r, nil

	case interp.KNativeFn:
		r := newRecord(c, NativeFn)
		r.Native = v.Native
		return r, nil

	case interp.KShared:
		if detectShared != nil {
			if sc, ok := detectShared(v); ok {
				return createSharedRef(c, sc), nil
			}
		}
		return nil, ErrUnmarshalable

	case interp.KFunction:
		return createFunction(c, host, v, visited, detectShared)

	case interp.KTable:
		if detectShared != nil {
			if sc, ok := detectShared(v); ok {
				return createSharedRef(c, sc), nil
			}
		}
		return createTable(c, host, v, visited, detectShared)

	default:
		return nil, ErrUnmarshalable
	}
}

// createSharedRef wraps an existing container in a SharedRef record.
// It adds an edge but, matching stored_create_from_sharedtable's
// actual behavior, does NOT retain the container: the container's own
// extRefs is governed entirely by whatever external handle already
// holds it (the constructor that made it, or a host-level handle
// returned by a prior getmetatable/table() call) — the SharedRef
// record merely lets the tracer reach it. This is what makes two
// containers holding SharedRefs to each other collectible as a cycle
// once their own external handles are dropped (see §8 invariant 8 /
// scenario 2): a Retain here would pin each container alive via the
// other's wrapper forever, which no amount of tracing could undo.
// NewSharedRef builds a SharedRef record wrapping an already-existing
// container, for callers (pkg/xshare's setmetatable/getmetatable paths)
// that need to construct one directly rather than through Create's
// interp.Value detection. Same edge-only, no-retain contract as
// createSharedRef.
func NewSharedRef(c *gc.Collector, sc SharedContainer) *Record {
	return createSharedRef(c, sc)
}

func createSharedRef(c *gc.Collector, sc SharedContainer) *Record {
	r := newRecord(c, SharedRef)
	r.Container = sc
	gc.AddEdge(r.Object, sc.Header())
	return r
}

func createFunction(c *gc.Collector, host interp.Host, v interp.Value, visited map[uintptr]*Record, detectShared func(v interp.Value) (SharedContainer, bool)) (*Record, error) {
	fn := v.Fn
	r := newRecord(c, ScriptFn)
	r.EnvSlot = fn.EnvSlot

	if addr, ok := host.Identity(v); ok {
		visited[addr] = r
	}

	code, err := host.Dump(fn)
	if err != nil {
		releasePartial(r)
		return nil, err
	}
	r.Code = code

	// The slot at fn.EnvSlot, if any, is the interpreter's own global
	// environment (§4.2): record only the slot index, no recursive
	// copy — Push rebinds it to whichever interpreter re-materializes
	// the function.
	upvalues := recordScratchPool.Get()
	for i, uv := range fn.Upvalues {
		if i == fn.EnvSlot {
			continue
		}
		child, err := Create(c, host, uv, visited, detectShared)
		if err != nil {
			releasePartial(r)
			for _, built := range upvalues {
				gc.Release(built.Object)
			}
			recordScratchPool.Put(upvalues)
			return nil, err
		}
		gc.AddEdge(r.Object, child.Object)
		upvalues = append(upvalues, child)
	}
	r.Upvalues = append([]*Record(nil), upvalues...)
	recordScratchPool.Put(upvalues)
	return r, nil
}

func createTable(c *gc.Collector, host interp.Host, v interp.Value, visited map[uintptr]*Record, detectShared func(v interp.Value) (SharedContainer, bool)) (*Record, error) {
	t := v.Tbl
	r := newRecord(c, TableCopy)

	if addr, ok := host.Identity(v); ok {
		visited[addr] = r
	}

	keys := recordScratchPool.Get()
	vals := recordScratchPool.Get()
	for i := range t.Keys {
		k, err := Create(c, host, t.Keys[i], visited, detectShared)
		if err != nil {
			releasePartial(r)
			releaseAll(keys, vals)
			recordScratchPool.Put(keys)
			recordScratchPool.Put(vals)
			return nil, err
		}
		val, err := Create(c, host, t.Vals[i], visited, detectShared)
		if err != nil {
			gc.Release(k.Object)
			releasePartial(r)
			releaseAll(keys, vals)
			recordScratchPool.Put(keys)
			recordScratchPool.Put(vals)
			return nil, err
		}
		gc.AddEdge(r.Object, k.Object)
		gc.AddEdge(r.Object, val.Object)
		keys = append(keys, k)
		vals = append(vals, val)
	}
	r.Keys = append([]*Record(nil), keys...)
	r.Vals = append([]*Record(nil), vals...)
	recordScratchPool.Put(keys)
	recordScratchPool.Put(vals)
	return r, nil
}

func releasePartial(r *Record) {
	gc.Release(r.Object)
}

func releaseAll(keys, vals []*Record) {
	for _, k := range keys {
		gc.Release(k.Object)
	}
	for _, v := range vals {
		gc.Release(v.Object)
	}
}

// Push recreates an equivalent native value in host's interpreter from
// r. It takes c's reader lock once around the whole traversal (§4.2:
// "Push acquires the collector's reader lock around the whole
// traversal so the graph cannot be mutated mid-walk") rather than per
// recursive step, since sync.RWMutex read locks are not safely
// re-entrant in the presence of a blocked writer.
func Push(c *gc.Collector, host interp.Host, r *Record) (interp.Value, error) {
	c.RLock()
	defer c.RUnlock()
	return pushValue(host, r)
}

func pushValue(host interp.Host, r *Record) (interp.Value, error) {
	switch r.Kind {
	case Nil:
		return interp.Nil(), nil
	case Bool:
		return interp.Bool(r.Bool), nil
	case Integer:
		return interp.Integer(r.Integer), nil
	case Float:
		return interp.Float(r.Float), nil
	case String:
		return interp.Value{Kind: interp.KString, Str: append([]byte(nil), r.Bytes...)}, nil
	case LightPtr:
		return interp.LightPtr(r.LightPtr), nil
	case NativeFn:
		return interp.Native(r.Native), nil
	case ScriptFn:
		return pushFunction(host, r)
	case TableCopy:
		return pushTable(host, r)
	case SharedRef:
		gc.Retain(r.Container.Header())
		return interp.Value{Kind: interp.KShared, Shr: &interp.Shared{Ref: r.Container}}, nil
	default:
		return interp.Nil(), ErrUnmarshalable
	}
}

func pushFunction(host interp.Host, r *Record) (interp.Value, error) {
	envSlot := r.EnvSlot
	total := len(r.Upvalues)
	if envSlot >= 0 {
		total++
	}

	upvalues := make([]interp.Value, total)
	j := 0
	for i := 0; i < total; i++ {
		if i == envSlot {
			upvalues[i] = host.Global()
			continue
		}
		uv, err := pushValue(host, r.Upvalues[j])
		if err != nil {
			return interp.Nil(), err
		}
		upvalues[i] = uv
		j++
	}

	fn, err := host.Load(r.Code, upvalues, envSlot)
	if err != nil {
		return interp.Nil(), err
	}
	return interp.Value{Kind: interp.KFunction, Fn: fn}, nil
}

func pushTable(host interp.Host, r *Record) (interp.Value, error) {
	keys := make([]interp.Value, len(r.Keys))
	vals := make([]interp.Value, len(r.Vals))
	for i := range r.Keys {
		k, err := pushValue(host, r.Keys[i])
		if err != nil {
			return interp.Nil(), err
		}
		v, err := pushValue(host, r.Vals[i])
		if err != nil {
			return interp.Nil(), err
		}
		keys[i] = k
		vals[i] = v
	}
	return interp.Value{Kind: interp.KTable, Tbl: &interp.Table{Keys: keys, Vals: vals}}, nil
}

// Compare imposes the total order stored_compare describes: different
// kinds order by kind-tag ordinal; within a kind, by payload; for
// kinds with no natural payload ordering (pointers, functions,
// aggregates, shared refs), by record identity.
func Compare(a, b *Record) int {
	if a.Kind != b.Kind {
		return int(a.Kind) - int(b.Kind)
	}
	switch a.Kind {
	case Nil:
		return 0
	case Bool:
		return boolCompare(a.Bool, b.Bool)
	case Integer:
		switch {
		case a.Integer < b.Integer:
			return -1
		case a.Integer > b.Integer:
			return 1
		default:
			return 0
		}
	case Float:
		switch {
		case a.Float < b.Float:
			return -1
		case a.Float > b.Float:
			return 1
		default:
			return 0
		}
	case String:
		return bytes.Compare(a.Bytes, b.Bytes)
	default:
		// LightPtr, NativeFn, ScriptFn, TableCopy, SharedRef: compare by
		// record identity, not structure — two independently marshaled
		// copies of the same function are distinct keys (§4.2 notes).
		return identityCompare(a, b)
	}
}

func boolCompare(a, b bool) int {
	if a == b {
		return 0
	}
	if !a && b {
		return -1
	}
	return 1
}

func identityCompare(a, b *Record) int {
	pa, pb := recordAddr(a), recordAddr(b)
	switch {
	case pa < pb:
		return -1
	case pa > pb:
		return 1
	default:
		return 0
	}
}

func recordAddr(r *Record) uintptr {
	return uintptr(unsafe.Pointer(r))
}
