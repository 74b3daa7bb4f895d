package interp

import (
	"sync"
	"sync/atomic"
)

var nextAddr uint64

func allocAddr() uintptr {
	return uintptr(atomic.AddUint64(&nextAddr, 1))
}

// State is a minimal in-process reference interpreter used to exercise
// pkg/value's marshaler end to end without depending on any real
// scripting runtime. It is not a scripting language: Dump/Load just
// copy an opaque body byte slice out and back in, with no registry
// lookup, which is enough to prove the upvalue/env-slot rebinding
// contract in §4.2 works.
type State struct {
	mu      sync.Mutex
	addrs   map[*Table]uintptr
	fnAddrs map[*Function]uintptr
	global  Value
}

// NewState constructs an isolated interpreter with a fresh, empty
// global environment table.
func NewState() *State {
	s := &State{
		addrs:   make(map[*Table]uintptr),
		fnAddrs: make(map[*Function]uintptr),
	}
	g := &Table{}
	s.addrs[g] = allocAddr()
	s.global = Value{Kind: KTable, Tbl: g}
	return s
}

// NewTable constructs a fresh, empty native table owned by this state.
func (s *State) NewTable() Value {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &Table{}
	s.addrs[t] = allocAddr()
	return Value{Kind: KTable, Tbl: t}
}

// NewFunction constructs a script function closing over the given
// upvalues. envSlot, if >= 0, marks the index within upvalues that is
// this state's own global environment.
func (s *State) NewFunction(body []byte, upvalues []Value, envSlot int) Value {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn := &Function{Upvalues: upvalues, EnvSlot: envSlot, body: body}
	s.fnAddrs[fn] = allocAddr()
	return Value{Kind: KFunction, Fn: fn}
}

// Identity implements Host.
func (s *State) Identity(v Value) (uintptr, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch v.Kind {
	case KTable:
		if v.Tbl == nil {
			return 0, false
		}
		addr, ok := s.addrs[v.Tbl]
		if !ok {
			addr = allocAddr()
			s.addrs[v.Tbl] = addr
		}
		return addr, true
	case KFunction:
		if v.Fn == nil {
			return 0, false
		}
		addr, ok := s.fnAddrs[v.Fn]
		if !ok {
			addr = allocAddr()
			s.fnAddrs[v.Fn] = addr
		}
		return addr, true
	default:
		return 0, false
	}
}

// Dump implements Host. The reference interpreter has no real bytecode
// compiler, so the "code" is just a copy of the function's own body
// bytes — self-contained, so Load can reconstruct the function on any
// State, not only the one that dumped it (this is the whole point of
// §4.2's script-function migration: interpreter B never sees A's
// registries).
func (s *State) Dump(fn *Function) ([]byte, error) {
	return append([]byte(nil), fn.body...), nil
}

// Load implements Host.
func (s *State) Load(code []byte, upvalues []Value, envSlot int) (*Function, error) {
	fn := &Function{Upvalues: upvalues, EnvSlot: envSlot, body: append([]byte(nil), code...)}
	s.mu.Lock()
	s.fnAddrs[fn] = allocAddr()
	s.mu.Unlock()
	return fn, nil
}

// Global implements Host.
func (s *State) Global() Value {
	return s.global
}
