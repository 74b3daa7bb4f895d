package pool

import "testing"

func TestConfigure(t *testing.T) {
	orig := globalConfig
	defer Configure(orig)

	t.Run("enable pooling", func(t *testing.T) {
		Configure(Config{Enabled: true, MaxSize: 500})
		if !IsEnabled() {
			t.Error("IsEnabled() = false, want true")
		}
		if globalConfig.MaxSize != 500 {
			t.Errorf("MaxSize = %d, want 500", globalConfig.MaxSize)
		}
	})

	t.Run("disable pooling", func(t *testing.T) {
		Configure(Config{Enabled: false, MaxSize: 1000})
		if IsEnabled() {
			t.Error("IsEnabled() = true, want false")
		}
	})
}

func TestSlicePoolGetIsEmpty(t *testing.T) {
	Configure(Config{Enabled: true, MaxSize: 1024})
	p := NewSlicePool[int](16)
	s := p.Get()
	if len(s) != 0 {
		t.Fatalf("len = %d, want 0", len(s))
	}
	p.Put(s)
}

func TestSlicePoolPutClearsReferences(t *testing.T) {
	Configure(Config{Enabled: true, MaxSize: 1024})
	p := NewSlicePool[*int](4)
	s := p.Get()
	v := 7
	s = append(s, &v)
	backing := s[:1:1]
	p.Put(s)

	if backing[0] != nil {
		t.Fatal("Put must nil out slots before pooling, to avoid keeping old contents reachable")
	}
}

func TestSlicePoolPutDropsOversizedSlices(t *testing.T) {
	Configure(Config{Enabled: true, MaxSize: 4})
	p := NewSlicePool[int](4)
	big := make([]int, 0, 64)
	p.Put(big) // must not be pooled; just must not panic

	got := p.Get()
	if cap(got) >= 64 {
		t.Fatalf("got an oversized slice back from the pool: cap=%d", cap(got))
	}
}

func TestSlicePoolDisabledAlwaysAllocatesFresh(t *testing.T) {
	Configure(Config{Enabled: false, MaxSize: 1024})
	defer Configure(Config{Enabled: true, MaxSize: 1024})

	p := NewSlicePool[int](4)
	a := p.Get()
	b := p.Get()
	a = append(a, 1)
	if len(b) != 0 {
		t.Fatal("disabled pool must hand out independent slices")
	}
}
