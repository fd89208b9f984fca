package notify

import (
	"bytes"
	"errors"
	"log/slog"
	"math/rand"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"testing"
)

// recorder collects invocation labels in order.
type recorder struct {
	calls []string
}

func (r *recorder) listener(label string) *Listener {
	return Func(func() { r.calls = append(r.calls, label) })
}

func (r *recorder) reset() {
	r.calls = nil
}

// errorCollector is an ErrorSink that keeps every reported error.
type errorCollector struct {
	errs []error
}

func (c *errorCollector) ReportError(err error) {
	c.errs = append(c.errs, err)
}

func always(_, _ any) bool { return true }

func TestNotifyInvokesInDescendingPriority(t *testing.T) {
	c := New()
	rec := &recorder{}

	for _, p := range []int{3, -1, 10, 0, 5} {
		c.AddListener(rec.listener(strconv.Itoa(p)), Priority(p))
	}

	c.Notify()

	want := []string{"10", "5", "3", "0", "-1"}
	if !reflect.DeepEqual(rec.calls, want) {
		t.Errorf("order = %v, want %v", rec.calls, want)
	}
}

func TestEqualPriorityKeepsRegistrationOrder(t *testing.T) {
	c := New()
	rec := &recorder{}

	c.AddListener(rec.listener("a"))
	c.AddListener(rec.listener("b"), When(always))
	c.AddListener(rec.listener("c"))
	c.AddListener(rec.listener("d"), Priority(0), When(always))

	c.Notify()

	want := []string{"a", "b", "c", "d"}
	if !reflect.DeepEqual(rec.calls, want) {
		t.Errorf("order = %v, want %v", rec.calls, want)
	}
}

func TestOrderingProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 20; round++ {
		c := New()
		rec := &recorder{}

		type reg struct {
			label    string
			priority int
			index    int
			l        *Listener
		}
		var regs []reg

		for i := 0; i < 40; i++ {
			p := rng.Intn(7) - 3
			label := strconv.Itoa(i)
			l := rec.listener(label)
			if p == 0 && rng.Intn(2) == 0 {
				c.AddListener(l)
			} else {
				c.AddListener(l, Priority(p))
			}
			regs = append(regs, reg{label: label, priority: p, index: i, l: l})
		}

		// Remove a random third.
		var live []reg
		for _, r := range regs {
			if rng.Intn(3) == 0 {
				c.RemoveListener(r.l)
				continue
			}
			live = append(live, r)
		}

		sort.SliceStable(live, func(i, j int) bool {
			return live[i].priority > live[j].priority
		})
		want := make([]string, 0, len(live))
		for _, r := range live {
			want = append(want, r.label)
		}

		c.Notify()
		if !reflect.DeepEqual(rec.calls, want) {
			t.Fatalf("round %d: order = %v, want %v", round, rec.calls, want)
		}
	}
}

func TestAddListenerIsIdempotent(t *testing.T) {
	c := New()
	calls := 0
	l := Func(func() { calls++ })

	c.AddListener(l)
	c.AddListener(l)

	if got := c.GlobalListenersCount(); got != 1 {
		t.Errorf("GlobalListenersCount = %d, want 1", got)
	}

	c.Notify()
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestComplexListenerDedupedPerKey(t *testing.T) {
	c := New()
	l := Func(func() {})

	c.AddListener(l, Key("a"))
	c.AddListener(l, Key("a"), Priority(3))
	c.AddListener(l, Key("b"))

	if got := c.KeyedListenersCount("a"); got != 1 {
		t.Errorf("KeyedListenersCount(a) = %d, want 1", got)
	}
	if got := c.KeyedListenersCount("b"); got != 1 {
		t.Errorf("KeyedListenersCount(b) = %d, want 1", got)
	}
}

func TestRemoveListenerRoundTrip(t *testing.T) {
	c := New()
	other := Func(func() {})
	c.AddListener(other)
	before := c.GlobalListenersCount()

	calls := 0
	l := Func(func() { calls++ })
	c.AddListener(l)
	c.RemoveListener(l)

	if got := c.GlobalListenersCount(); got != before {
		t.Errorf("GlobalListenersCount = %d, want %d", got, before)
	}
	c.Notify()
	if calls != 0 {
		t.Errorf("removed listener called %d times", calls)
	}
}

func TestRemoveListenerNotFound(t *testing.T) {
	c := New()
	c.RemoveListener(Func(func() {}))
	c.RemoveListener(Func(func() {}), Key("missing"))
	c.RemoveListener(nil)

	if c.HasListeners() {
		t.Error("HasListeners = true, want false")
	}
}

func TestRemoveGlobalRemovesSimpleAndComplex(t *testing.T) {
	c := New()
	l := Func(func() {})

	c.AddListener(l)
	c.AddListener(l, Priority(5))
	if got := c.GlobalListenersCount(); got != 2 {
		t.Fatalf("GlobalListenersCount = %d, want 2", got)
	}

	c.RemoveListener(l)
	if got := c.GlobalListenersCount(); got != 0 {
		t.Errorf("GlobalListenersCount = %d, want 0", got)
	}
}

func TestRemoveListenerByKey(t *testing.T) {
	c := New()
	l := Func(func() {})

	c.AddListener(l, Keys("a", "b"))
	c.RemoveListener(l, Key("a"))

	if got := c.KeyedListenersCount("a"); got != 0 {
		t.Errorf("KeyedListenersCount(a) = %d, want 0", got)
	}
	if got := c.KeyedListenersCount("b"); got != 1 {
		t.Errorf("KeyedListenersCount(b) = %d, want 1", got)
	}
}

func TestKeyScoping(t *testing.T) {
	tests := []struct {
		name string
		n    Notification
		want int
	}{
		{"same key", Notification{Keys: []any{"A"}}, 1},
		{"key list", Notification{Keys: []any{"A", "B"}}, 1},
		{"other key", Notification{Keys: []any{"B"}}, 0},
		{"global", Notification{}, 0},
		{"duplicate keys", Notification{Keys: []any{"A", "A"}}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New()
			calls := 0
			c.AddListener(Func(func() { calls++ }), Key("A"))

			c.NotifyListeners(tt.n)
			if calls != tt.want {
				t.Errorf("calls = %d, want %d", calls, tt.want)
			}
		})
	}
}

func TestListenerUnderTwoKeysFiresOncePerKey(t *testing.T) {
	c := New()
	var keys []any
	c.AddListener(KeyValueFunc(func(key, _ any) { keys = append(keys, key) }), Keys("A", "B"))

	c.NotifyListeners(Notification{Keys: []any{"A", "B"}})

	want := []any{"A", "B"}
	if !reflect.DeepEqual(keys, want) {
		t.Errorf("keys = %v, want %v", keys, want)
	}
}

func TestGlobalListenersJoinEveryKeyPass(t *testing.T) {
	c := New()
	global := 0
	c.AddListener(Func(func() { global++ }))

	c.NotifyListeners(Notification{Keys: []any{"A", "B"}})
	if global != 2 {
		t.Errorf("global calls = %d, want 2", global)
	}
}

func TestExcludeGlobal(t *testing.T) {
	c := New()
	rec := &recorder{}
	c.AddListener(rec.listener("global"))
	c.AddListener(rec.listener("global-high"), Priority(9))
	c.AddListener(rec.listener("keyed"), Key("x"))

	c.NotifyListeners(Notification{Keys: []any{"x"}, ExcludeGlobal: true})
	if want := []string{"keyed"}; !reflect.DeepEqual(rec.calls, want) {
		t.Errorf("calls = %v, want %v", rec.calls, want)
	}

	rec.reset()
	c.NotifyListeners(Notification{ExcludeGlobal: true})
	if len(rec.calls) != 0 {
		t.Errorf("calls = %v, want none", rec.calls)
	}
}

func TestPredicateFiltering(t *testing.T) {
	c := New()
	var got []any
	c.AddListener(ValueFunc(func(v any) { got = append(got, v) }), When(func(_, v any) bool {
		n, ok := v.(int)
		return ok && n > 10
	}))

	c.NotifyValue(5)
	c.NotifyValue(15)

	if want := []any{15}; !reflect.DeepEqual(got, want) {
		t.Errorf("values = %v, want %v", got, want)
	}
}

func TestListenerKinds(t *testing.T) {
	c := New(WithName("kinds"))

	var void int
	var value any
	var kvKey, kvValue any
	var srcName string

	c.AddListener(Func(func() { void++ }))
	c.AddListener(ValueFunc(func(v any) { value = v }))
	c.AddListener(KeyValueFunc(func(k, v any) { kvKey, kvValue = k, v }))
	c.AddListener(SourceFunc(func(_, _ any, src *Controller) { srcName = src.Name() }))

	c.NotifyListeners(Notification{Value: "v"})
	if void != 1 || value != "v" || kvKey != nil || kvValue != "v" || srcName != "kinds" {
		t.Errorf("global: void=%d value=%v kv=(%v,%v) src=%q", void, value, kvKey, kvValue, srcName)
	}

	c.NotifyKey("k", 7)
	if kvKey != "k" || kvValue != 7 {
		t.Errorf("keyed pass: kv=(%v,%v), want (k,7)", kvKey, kvValue)
	}
}

func TestKeyValueListenerSeesKey(t *testing.T) {
	c := New()
	var gotKey, gotValue any
	c.AddListener(KeyValueFunc(func(k, v any) { gotKey, gotValue = k, v }), Key("k"))

	c.NotifyKey("k", 7)
	if gotKey != "k" || gotValue != 7 {
		t.Errorf("got (%v, %v), want (k, 7)", gotKey, gotValue)
	}
}

func TestFailureIsolation(t *testing.T) {
	sink := &errorCollector{}
	c := New(WithName("iso"), WithErrorSink(sink))

	counts := make([]int, 3)
	c.AddListener(Func(func() { panic("boom") }), Priority(10))
	for i := range counts {
		i := i
		c.AddListener(Func(func() { counts[i]++ }))
	}

	c.Notify()

	for i, n := range counts {
		if n != 1 {
			t.Errorf("listener %d called %d times, want 1", i, n)
		}
	}
	if len(sink.errs) != 1 {
		t.Fatalf("reported %d errors, want 1", len(sink.errs))
	}
	var le *ListenerError
	if !errors.As(sink.errs[0], &le) {
		t.Fatalf("error %T is not *ListenerError", sink.errs[0])
	}
	if le.Value != "boom" || le.Controller != "iso" {
		t.Errorf("ListenerError = %+v", le)
	}
}

func TestPanickingPredicateIsReported(t *testing.T) {
	sink := &errorCollector{}
	c := New(WithErrorSink(sink))

	after := 0
	c.AddListener(Func(func() {}), When(func(_, _ any) bool { panic(errors.New("bad predicate")) }))
	c.AddListener(Func(func() { after++ }))

	c.Notify()

	if after != 1 {
		t.Errorf("later listener called %d times, want 1", after)
	}
	if len(sink.errs) != 1 {
		t.Fatalf("reported %d errors, want 1", len(sink.errs))
	}
	if !strings.Contains(sink.errs[0].Error(), "bad predicate") {
		t.Errorf("error = %v", sink.errs[0])
	}
}

func TestExampleScenario(t *testing.T) {
	c := New()
	rec := &recorder{}

	c.AddListener(rec.listener("A"), Priority(10))
	c.AddListener(rec.listener("B"), Key("x"))
	c.AddListener(rec.listener("D"), Priority(5), Key("x"))

	c.NotifyKey("x", nil)
	if want := []string{"A", "D", "B"}; !reflect.DeepEqual(rec.calls, want) {
		t.Errorf("keyed order = %v, want %v", rec.calls, want)
	}

	rec.reset()
	c.Notify()
	if want := []string{"A"}; !reflect.DeepEqual(rec.calls, want) {
		t.Errorf("global order = %v, want %v", rec.calls, want)
	}
}

func TestMutationDuringDispatch(t *testing.T) {
	c := New()
	rec := &recorder{}

	late := rec.listener("late")
	victim := rec.listener("victim")
	remover := Func(func() {
		rec.calls = append(rec.calls, "remover")
		c.RemoveListener(victim)
		c.AddListener(late)
	})

	c.AddListener(remover, Priority(1))
	c.AddListener(victim)

	c.Notify()
	if want := []string{"remover"}; !reflect.DeepEqual(rec.calls, want) {
		t.Errorf("first pass = %v, want %v", rec.calls, want)
	}

	rec.reset()
	c.Notify()
	if want := []string{"remover", "late"}; !reflect.DeepEqual(rec.calls, want) {
		t.Errorf("second pass = %v, want %v", rec.calls, want)
	}
}

func TestDisposeDuringDispatch(t *testing.T) {
	c := New()
	after := 0
	c.AddListener(Func(func() { c.Dispose() }), Priority(1))
	c.AddListener(Func(func() { after++ }))

	c.NotifyListeners(Notification{Keys: []any{"a", "b"}})

	if after != 0 {
		t.Errorf("listener after dispose ran %d times", after)
	}
	if !c.IsDisposed() {
		t.Error("IsDisposed = false, want true")
	}
}

func TestDispose(t *testing.T) {
	c := New()
	calls := 0
	l := Func(func() { calls++ })
	c.AddListener(l)
	c.AddListener(l, Key("k"))

	c.Dispose()
	c.Dispose()

	if c.HasListeners() {
		t.Error("HasListeners after Dispose = true")
	}
	if got := c.ListenersCount(); got != 0 {
		t.Errorf("ListenersCount = %d, want 0", got)
	}

	c.AddListener(l)
	c.Notify()
	c.NotifyKey("k", nil)
	c.RemoveListener(l)

	if calls != 0 {
		t.Errorf("calls after Dispose = %d, want 0", calls)
	}
	if c.HasListeners() {
		t.Error("AddListener after Dispose registered a listener")
	}
}

func TestOnDispose(t *testing.T) {
	c := New()
	var order []int
	c.OnDispose(func() { order = append(order, 1) })
	c.OnDispose(func() { order = append(order, 2) })

	c.Dispose()
	if want := []int{2, 1}; !reflect.DeepEqual(order, want) {
		t.Errorf("cleanup order = %v, want %v", order, want)
	}

	ran := false
	c.OnDispose(func() { ran = true })
	if !ran {
		t.Error("OnDispose after Dispose did not run immediately")
	}
}

func TestListenCancel(t *testing.T) {
	c := New()
	calls := 0
	cancel := c.Listen(Func(func() { calls++ }), Key("k"))

	c.NotifyKey("k", nil)
	cancel()
	cancel()
	c.NotifyKey("k", nil)

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if got := c.KeyedListenersCount("k"); got != 0 {
		t.Errorf("KeyedListenersCount = %d, want 0", got)
	}
}

func TestCounts(t *testing.T) {
	c := New()
	if c.HasListeners() {
		t.Error("new controller has listeners")
	}

	c.AddListener(Func(func() {}))
	c.AddListener(Func(func() {}), Priority(2))
	c.AddListener(Func(func() {}), Keys("a", "b"))

	if got := c.GlobalListenersCount(); got != 2 {
		t.Errorf("GlobalListenersCount = %d, want 2", got)
	}
	if got := c.KeyedListenersCount("a"); got != 1 {
		t.Errorf("KeyedListenersCount(a) = %d, want 1", got)
	}
	if got := c.ListenersCount(); got != 4 {
		t.Errorf("ListenersCount = %d, want 4", got)
	}
	if !c.HasListeners() {
		t.Error("HasListeners = false")
	}
}

// countingObserver records observer callbacks.
type countingObserver struct {
	begins   int
	ends     []DispatchStats
	failures int
	delta    int
}

func (o *countingObserver) BeginDispatch(Dispatch) func(DispatchStats) {
	o.begins++
	return func(s DispatchStats) { o.ends = append(o.ends, s) }
}

func (o *countingObserver) ListenerFailed(*ListenerError) { o.failures++ }

func (o *countingObserver) ListenersChanged(_ string, delta int) { o.delta += delta }

func TestObserver(t *testing.T) {
	obs := &countingObserver{}
	c := New(WithObserver(obs), WithErrorSink(&errorCollector{}))

	c.AddListener(Func(func() {}))
	c.AddListener(Func(func() { panic("x") }))
	c.AddListener(Func(func() {}), When(func(_, _ any) bool { return false }))

	c.Notify()

	if obs.begins != 1 || len(obs.ends) != 1 {
		t.Fatalf("begins=%d ends=%d, want 1 and 1", obs.begins, len(obs.ends))
	}
	s := obs.ends[0]
	if s.Invoked != 1 || s.Failed != 1 || s.Skipped != 1 {
		t.Errorf("stats = %+v", s)
	}
	if obs.failures != 1 {
		t.Errorf("failures = %d, want 1", obs.failures)
	}
	if obs.delta != 3 {
		t.Errorf("delta = %d, want 3", obs.delta)
	}

	c.Dispose()
	if obs.delta != 0 {
		t.Errorf("delta after Dispose = %d, want 0", obs.delta)
	}
}

func TestObserversCombine(t *testing.T) {
	a, b := &countingObserver{}, &countingObserver{}
	if Observers() != nil {
		t.Error("Observers() with no input should be nil")
	}
	if Observers(nil, a) != Observer(a) {
		t.Error("Observers with one observer should return it")
	}

	c := New(WithObserver(Observers(a, b)))
	c.AddListener(Func(func() {}))
	c.Notify()

	if a.begins != 1 || b.begins != 1 || len(a.ends) != 1 || len(b.ends) != 1 {
		t.Errorf("a=%+v b=%+v", a, b)
	}
	if a.delta != 1 || b.delta != 1 {
		t.Errorf("delta a=%d b=%d, want 1", a.delta, b.delta)
	}
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	c := New(WithName("logged"), WithLogger(logger))

	c.AddListener(Func(func() { panic("kaboom") }), Key("k"))
	c.NotifyKey("k", nil)

	out := buf.String()
	for _, want := range []string{"Listener failed", "controller=logged", "kaboom", "key=k"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
}
