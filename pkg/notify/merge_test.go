package notify

import "testing"

func TestMerge(t *testing.T) {
	a, b := New(WithName("a")), New(WithName("b"))
	var typedNil *Controller

	m := Merge([]Listenable{a, nil, typedNil, b}, WithName("merged"))
	if got := m.Sources(); got != 2 {
		t.Fatalf("Sources = %d, want 2", got)
	}

	var keys, values []any
	m.AddListener(KeyValueFunc(func(k, v any) {
		keys = append(keys, k)
		values = append(values, v)
	}))

	a.NotifyValue(1)
	b.NotifyKey("k", 2)

	if len(keys) != 2 || keys[0] != nil || keys[1] != "k" {
		t.Errorf("keys = %v, want [<nil> k]", keys)
	}
	if len(values) != 2 || values[0] != 1 || values[1] != 2 {
		t.Errorf("values = %v, want [1 2]", values)
	}
}

func TestMergeKeyedListener(t *testing.T) {
	a := New()
	m := Merge([]Listenable{a})

	hits := 0
	m.AddListener(Func(func() { hits++ }), Key("k"))

	a.Notify()
	a.NotifyKey("other", nil)
	a.NotifyKey("k", nil)

	if hits != 1 {
		t.Errorf("hits = %d, want 1", hits)
	}
}

func TestMergeDispose(t *testing.T) {
	a, b := New(), New()
	m := Merge([]Listenable{a, b})
	if a.GlobalListenersCount() != 1 || b.GlobalListenersCount() != 1 {
		t.Fatal("relay not attached to every source")
	}

	hits := 0
	m.AddListener(Func(func() { hits++ }))
	m.Dispose()
	m.Dispose()

	a.Notify()
	b.Notify()

	if hits != 0 {
		t.Errorf("hits = %d, want 0", hits)
	}
	if a.HasListeners() || b.HasListeners() {
		t.Error("relay still attached after Dispose")
	}
	if m.Sources() != 0 || !m.IsDisposed() || m.HasListeners() {
		t.Errorf("after Dispose: sources=%d disposed=%v listeners=%v", m.Sources(), m.IsDisposed(), m.HasListeners())
	}
}

func TestMergeDerived(t *testing.T) {
	src := newCounter()
	positive, err := Derive(src, isPositive)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	other := New()

	m := Merge([]Listenable{positive, other})
	hits := 0
	cancel := m.Listen(Func(func() { hits++ }))

	src.increment()
	other.Notify()
	if hits != 2 {
		t.Errorf("hits = %d, want 2", hits)
	}

	cancel()
	m.Dispose()
	Flush()
	if !positive.IsDisposed() {
		t.Error("derived source not auto-disposed after the merge detached")
	}
}
