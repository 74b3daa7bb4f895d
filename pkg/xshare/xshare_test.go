package xshare

import (
	"testing"

	"github.com/orneryd/xshare/pkg/gc"
	"github.com/orneryd/xshare/pkg/interp"
	"github.com/orneryd/xshare/pkg/value"
)

func TestPrimitiveRoundTrip(t *testing.T) {
	c := gc.New()
	host := interp.NewState()
	tbl, err := New(c, host, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := tbl.RawSet(interp.String("k"), interp.Integer(42)); err != nil {
		t.Fatalf("RawSet: %v", err)
	}
	if tbl.Size() != 1 {
		t.Fatalf("Size = %d, want 1", tbl.Size())
	}
	got, err := tbl.RawGet(interp.String("k"))
	if err != nil {
		t.Fatalf("RawGet: %v", err)
	}
	if got.Kind != interp.KInteger || got.Integer != 42 {
		t.Fatalf("RawGet = %v, want Integer(42)", got)
	}

	if err := tbl.RawSet(interp.String("k"), interp.Nil()); err != nil {
		t.Fatalf("RawSet(nil) delete: %v", err)
	}
	if tbl.Size() != 0 {
		t.Fatalf("Size after delete = %d, want 0", tbl.Size())
	}
}

func TestCycleReclamation(t *testing.T) {
	c := gc.New()
	host := interp.NewState()

	a, err := New(c, host, nil)
	if err != nil {
		t.Fatalf("New a: %v", err)
	}
	b, err := New(c, host, nil)
	if err != nil {
		t.Fatalf("New b: %v", err)
	}

	if err := a.RawSet(interp.String("x"), b.Handle()); err != nil {
		t.Fatalf("a.x = b: %v", err)
	}
	if err := b.RawSet(interp.String("y"), a.Handle()); err != nil {
		t.Fatalf("b.y = a: %v", err)
	}

	before := c.Count()
	// Drop both handles (the only external holds on a/b themselves).
	gc.Release(a.Header())
	gc.Release(b.Header())

	c.Collect()
	after := c.Count()
	if before-after < 2 {
		t.Fatalf("collect dropped count by %d, want at least 2", before-after)
	}
}

func TestMetatableIndexDispatch(t *testing.T) {
	c := gc.New()
	host := interp.NewState()

	tbl, err := New(c, host, nil)
	if err != nil {
		t.Fatalf("New tbl: %v", err)
	}
	mt, err := New(c, host, nil)
	if err != nil {
		t.Fatalf("New mt: %v", err)
	}
	// __index as a native function: returns "default_"+key.
	defaultFn := interp.Native(func(args []interp.Value) []interp.Value {
		return []interp.Value{interp.String("default_" + string(args[1].Str))}
	})
	if err := mt.RawSet(interp.String("__index"), defaultFn); err != nil {
		t.Fatalf("mt.__index = fn: %v", err)
	}
	mtHandle := mt.Handle()
	if err := tbl.SetMetatable(&mtHandle); err != nil {
		t.Fatalf("SetMetatable: %v", err)
	}

	call := func(fn, self, key interp.Value) (interp.Value, error) {
		out := fn.Native([]interp.Value{self, key})
		return out[0], nil
	}
	got, err := tbl.Index(interp.String("missing"), call)
	if err != nil {
		t.Fatalf("Index: %v", err)
	}
	if got.Kind != interp.KString || string(got.Str) != "default_missing" {
		t.Fatalf("Index(missing) = %v, want default_missing", got)
	}
}

func TestScriptFunctionMigration(t *testing.T) {
	c := gc.New()
	a := interp.NewState()
	b := interp.NewState()

	tbl, err := New(c, a, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// Interpreter A defines f = function() return G end, capturing its
	// own global environment, and stores it in the shared table.
	fnVal := a.NewFunction([]byte("return G"), []interp.Value{a.Global()}, 0)
	if err := tbl.RawSet(interp.String("f"), fnVal); err != nil {
		t.Fatalf("RawSet f: %v", err)
	}

	keyRec, err := value.Create(c, a, interp.String("f"), map[uintptr]*value.Record{}, detectShared)
	if err != nil {
		t.Fatalf("Create key: %v", err)
	}
	rec := tbl.Raw().Get(keyRec)
	gc.Release(keyRec.Object)
	if rec == nil {
		t.Fatal("stored function record not found")
	}

	// Interpreter B reads t.f and must observe B's own globals, not A's.
	pushedInB, err := value.Push(c, b, rec)
	if err != nil {
		t.Fatalf("Push into b: %v", err)
	}
	if pushedInB.Kind != interp.KFunction {
		t.Fatalf("kind = %v, want KFunction", pushedInB.Kind)
	}
	bGlobalAddr, _ := b.Identity(b.Global())
	reboundAddr, _ := b.Identity(pushedInB.Fn.Upvalues[0])
	if reboundAddr != bGlobalAddr {
		t.Fatal("migrated function's env upvalue is not interpreter b's own global")
	}
}
