package value

import (
	"testing"

	"github.com/orneryd/xshare/pkg/gc"
	"github.com/orneryd/xshare/pkg/interp"
)

func TestCreatePushPrimitiveRoundTrip(t *testing.T) {
	c := gc.New()
	host := interp.NewState()

	cases := []interp.Value{
		interp.Nil(),
		interp.Bool(true),
		interp.Integer(42),
		interp.Float(3.5),
		interp.String("hello"),
	}

	for _, in := range cases {
		rec, err := Create(c, host, in, map[uintptr]*Record{}, nil)
		if err != nil {
			t.Fatalf("Create(%v) error: %v", in.Kind, err)
		}
		out, err := Push(c, host, rec)
		if err != nil {
			t.Fatalf("Push(%v) error: %v", in.Kind, err)
		}
		if out.Kind != in.Kind {
			t.Fatalf("round trip kind = %v, want %v", out.Kind, in.Kind)
		}
	}
}

func TestCreateTableCycleTerminates(t *testing.T) {
	c := gc.New()
	host := interp.NewState()

	a := host.NewTable()
	b := host.NewTable()
	a.Tbl.Keys = append(a.Tbl.Keys, interp.String("b"))
	a.Tbl.Vals = append(a.Tbl.Vals, b)
	b.Tbl.Keys = append(b.Tbl.Keys, interp.String("a"))
	b.Tbl.Vals = append(b.Tbl.Vals, a)

	rec, err := Create(c, host, a, map[uintptr]*Record{}, nil)
	if err != nil {
		t.Fatalf("Create on cyclic table: %v", err)
	}
	if rec.Kind != TableCopy {
		t.Fatalf("kind = %v, want TableCopy", rec.Kind)
	}
	// b is rec.Vals[0]; b's own "a" entry must resolve back to rec itself,
	// not recurse forever.
	inner := rec.Vals[0]
	if inner.Kind != TableCopy {
		t.Fatalf("inner kind = %v, want TableCopy", inner.Kind)
	}
	if inner.Vals[0] != rec {
		t.Fatal("cyclic re-encounter did not resolve to the same record")
	}
}

func TestScriptFunctionEnvSlotSentinel(t *testing.T) {
	c := gc.New()
	host := interp.NewState()

	captured := host.NewTable()
	fnVal := host.NewFunction([]byte("return 1"), []interp.Value{host.Global(), captured}, 0)

	rec, err := Create(c, host, fnVal, map[uintptr]*Record{}, nil)
	if err != nil {
		t.Fatalf("Create on function: %v", err)
	}
	if rec.Kind != ScriptFn {
		t.Fatalf("kind = %v, want ScriptFn", rec.Kind)
	}
	if rec.EnvSlot != 0 {
		t.Fatalf("EnvSlot = %d, want 0", rec.EnvSlot)
	}
	// Only the non-env upvalue (captured) should have been marshaled.
	if len(rec.Upvalues) != 1 {
		t.Fatalf("Upvalues = %d, want 1 (env slot stored as sentinel only)", len(rec.Upvalues))
	}

	other := interp.NewState()
	out, err := Push(c, other, rec)
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if out.Fn.Upvalues[0].Kind != interp.KTable {
		t.Fatalf("rebuilt env-slot upvalue kind = %v, want KTable", out.Fn.Upvalues[0].Kind)
	}
	otherGlobalAddr, _ := other.Identity(other.Global())
	rebuiltAddr, _ := other.Identity(out.Fn.Upvalues[0])
	if rebuiltAddr != otherGlobalAddr {
		t.Fatal("rebound env-slot upvalue is not the destination interpreter's own global environment")
	}
}

func TestCompareOrdersByKindThenPayload(t *testing.T) {
	c := gc.New()
	host := interp.NewState()

	one, _ := Create(c, host, interp.Integer(1), map[uintptr]*Record{}, nil)
	oneFloat, _ := Create(c, host, interp.Float(1.0), map[uintptr]*Record{}, nil)
	two, _ := Create(c, host, interp.Integer(2), map[uintptr]*Record{}, nil)

	// Integer and Float are distinct kinds (Open Question #1 resolution):
	// 1 (Integer) and 1.0 (Float) never compare equal.
	if Compare(one, oneFloat) == 0 {
		t.Fatal("Integer(1) and Float(1.0) must not compare equal")
	}
	if Compare(one, two) >= 0 {
		t.Fatal("Integer(1) must order before Integer(2)")
	}
}
