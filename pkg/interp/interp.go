// Package interp defines the boundary this module expects a host scripting
// interpreter to satisfy, and provides a reference implementation
// (State) for tests and the demo CLI.
//
// Per spec.md §1, a real interpreter's own stack, heap and memory manager
// are out of scope; value.Create and value.Push only need the primitives
// described there: stack-based parameter passing, type inspection,
// bytecode dump/load, and upvalue enumeration. Host captures exactly
// those primitives as a Go interface so pkg/value never depends on any
// particular scripting runtime.
package interp

// Kind identifies the native shape of an interp.Value, independent of
// how it will eventually be marshaled into a value.Record.
type Kind int

const (
	KNil Kind = iota
	KBool
	KInteger
	KFloat
	KString
	KLightPtr
	KNativeFn
	KFunction
	KTable
	KShared
)

func (k Kind) String() string {
	switch k {
	case KNil:
		return "nil"
	case KBool:
		return "bool"
	case KInteger:
		return "integer"
	case KFloat:
		return "float"
	case KString:
		return "string"
	case KLightPtr:
		return "lightptr"
	case KNativeFn:
		return "nativefn"
	case KFunction:
		return "function"
	case KTable:
		return "table"
	case KShared:
		return "shared"
	default:
		return "unknown"
	}
}

// NativeFunc is the shape of a host-native callable, passed by identity
// only — the marshaler never invokes it.
type NativeFunc func(args []Value) []Value

// Function is a script-defined callable: a body sufficient for Dump to
// serialize, plus the upvalues it closed over. EnvSlot, when >= 0,
// names the one upvalue index that refers to the interpreter's own
// global environment rather than an ordinary captured value (mirroring
// Lua's `_ENV` upvalue) — Create stores a sentinel for that slot
// instead of recursively marshaling it, and Push rebinds it to
// whichever interpreter re-materializes the function.
type Function struct {
	Upvalues []Value
	EnvSlot  int // -1 if none of the upvalues is the environment
	body     []byte
}

// Table is a native, interpreter-owned table: an ordinary aggregate
// value, as opposed to a Shared handle referencing a container this
// module manages.
type Table struct {
	Keys []Value
	Vals []Value
}

// Shared marks a Value as an existing handle to a container this
// module already manages (as opposed to a Table, which must be
// deep-copied). Host implementations recognize their own handle
// userdata and wrap it this way; Addr is the container's identity.
type Shared struct {
	Addr uintptr
	Ref  any // host-defined payload identifying the container
}

// Value is a tagged-union native value as the host interpreter
// represents it on its stack. Exactly one payload field is populated,
// selected by Kind.
type Value struct {
	Kind Kind

	Bool    bool
	Integer int64
	Float   float64
	Str     []byte
	LightPtr uintptr
	Native  NativeFunc
	Fn      *Function
	Tbl     *Table
	Shr     *Shared
}

func Nil() Value                { return Value{Kind: KNil} }
func Bool(b bool) Value         { return Value{Kind: KBool, Bool: b} }
func Integer(i int64) Value     { return Value{Kind: KInteger, Integer: i} }
func Float(f float64) Value     { return Value{Kind: KFloat, Float: f} }
func String(s string) Value     { return Value{Kind: KString, Str: []byte(s)} }
func LightPtr(p uintptr) Value  { return Value{Kind: KLightPtr, LightPtr: p} }
func Native(fn NativeFunc) Value { return Value{Kind: KNativeFn, Native: fn} }

// Host is the interface pkg/value marshals against. A production
// binding implements this once over a real scripting runtime; the
// reference State below implements it for tests and cmd/xshare's demo.
type Host interface {
	// Identity reports the structural identity of v for visited-map and
	// re-encounter detection, matching lua_topointer semantics: ok is
	// false for value kinds that have no identity (nil, bool, number,
	// string, light pointer, native function) and true for aggregates
	// (tables and script functions) with a stable per-object address.
	Identity(v Value) (addr uintptr, ok bool)

	// Dump serializes a script function's code to bytes. Called by the
	// marshaler while constructing a ScriptFn record.
	Dump(fn *Function) ([]byte, error)

	// Load deserializes bytecode produced by Dump back into a callable
	// Function body with the given upvalues already bound.
	Load(code []byte, upvalues []Value, envSlot int) (*Function, error)

	// Global returns this interpreter's own global environment table,
	// used both to detect the env-slot upvalue during Create and to
	// rebind it during Push.
	Global() Value
}
