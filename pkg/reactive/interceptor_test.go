package reactive

import (
	"fmt"
	"testing"
)

func TestInterceptorObservesMutation(t *testing.T) {
	reg := NewRegistry()
	var oldV, newV any
	reg.Register(&Interceptor{
		Name: "spy",
		Mutation: func(cell Observable, ch *Change, next func()) {
			oldV, newV = ch.OldValue(), ch.NewValue()
			next()
		},
	})

	c := NewCell(1, WithRegistry(reg))
	c.Set(2)

	if oldV != 1 || newV != 2 {
		t.Errorf("expected old=1 new=2, got old=%v new=%v", oldV, newV)
	}
	if c.Get() != 2 {
		t.Errorf("expected 2, got %d", c.Get())
	}
}

func TestInterceptorVeto(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&Interceptor{
		Name: "veto-negative",
		Mutation: func(cell Observable, ch *Change, next func()) {
			if v, ok := ch.NewValue().(int); ok && v < 0 {
				return // veto
			}
			next()
		},
	})

	c := NewCell(1, WithRegistry(reg))
	l := &countingListener{}
	c.AddListener(l.fn())

	c.Set(-5)
	if c.Get() != 1 {
		t.Errorf("vetoed write must not commit, got %d", c.Get())
	}
	if l.get() != 0 {
		t.Errorf("vetoed write must not notify, got %d", l.get())
	}

	c.Set(5)
	if c.Get() != 5 || l.get() != 1 {
		t.Errorf("allowed write must commit and notify, got %d / %d", c.Get(), l.get())
	}
}

func TestInterceptorAppliedFlag(t *testing.T) {
	reg := NewRegistry()
	var applied []bool
	reg.Register(&Interceptor{
		Name: "gate",
		Mutation: func(cell Observable, ch *Change, next func()) {
			if v, _ := ch.NewValue().(int); v != 13 {
				next()
			}
		},
	})
	reg.Register(&Interceptor{
		Name: "audit",
		Mutation: func(cell Observable, ch *Change, next func()) {
			next()
			applied = append(applied, ch.Applied())
		},
	})

	c := NewCell(0, WithRegistry(reg))
	c.Set(1)
	c.Set(13)

	want := []bool{true, false}
	if fmt.Sprint(applied) != fmt.Sprint(want) {
		t.Errorf("expected %v, got %v", want, applied)
	}
}

func TestInterceptorCompositionOrder(t *testing.T) {
	reg := NewRegistry()
	var order []string
	mk := func(name string) *Interceptor {
		return &Interceptor{
			Name: name,
			Mutation: func(cell Observable, ch *Change, next func()) {
				order = append(order, name+"-pre")
				next()
				order = append(order, name+"-post")
			},
		}
	}
	reg.Register(mk("first"))
	reg.Register(mk("second"))

	c := NewCell(0, WithRegistry(reg))
	c.Set(1)

	// Last registered wraps outermost.
	want := []string{"second-pre", "first-pre", "first-post", "second-post"}
	if fmt.Sprint(order) != fmt.Sprint(want) {
		t.Errorf("expected %v, got %v", want, order)
	}
}

func TestInterceptorTokenReplace(t *testing.T) {
	reg := NewRegistry()
	var hits []string
	mk := func(tag string) *Interceptor {
		return &Interceptor{
			Mutation: func(cell Observable, ch *Change, next func()) {
				hits = append(hits, tag)
				next()
			},
		}
	}
	reg.Register(mk("v1"), WithToken("logger"))
	reg.Register(mk("v2"), WithToken("logger"))

	if reg.Len() != 1 {
		t.Fatalf("token re-registration must replace, got %d entries", reg.Len())
	}

	c := NewCell(0, WithRegistry(reg))
	c.Set(1)

	if len(hits) != 1 || hits[0] != "v2" {
		t.Errorf("expected only the replacement to run, got %v", hits)
	}

	reg.UnregisterToken("logger")
	c.Set(2)
	if len(hits) != 1 {
		t.Errorf("unregistered interceptor must not run, got %v", hits)
	}
}

func TestInterceptorRegisterIdempotent(t *testing.T) {
	reg := NewRegistry()
	ic := &Interceptor{Mutation: func(cell Observable, ch *Change, next func()) { next() }}
	reg.Register(ic)
	reg.Register(ic)
	if reg.Len() != 1 {
		t.Errorf("double registration must be a no-op, got %d", reg.Len())
	}
	reg.Unregister(ic)
	if reg.Len() != 0 {
		t.Errorf("expected empty registry, got %d", reg.Len())
	}
}

func TestInterceptorTakesEffectForExistingCells(t *testing.T) {
	reg := NewRegistry()
	c := NewCell(0, WithRegistry(reg))

	count := 0
	ic := &Interceptor{Mutation: func(cell Observable, ch *Change, next func()) {
		count++
		next()
	}}

	c.Set(1)
	reg.Register(ic)
	c.Set(2)

	if count != 1 {
		t.Errorf("late-registered interceptor must see future mutations, got %d", count)
	}
}

func TestInterceptorInitDispose(t *testing.T) {
	reg := NewRegistry()
	var events []string
	reg.Register(&Interceptor{
		Init:    func(cell Observable) { events = append(events, "init:"+cell.Name()) },
		Dispose: func(cell Observable) { events = append(events, "dispose:"+cell.Name()) },
	})

	c := NewCell(0, WithRegistry(reg), WithName("counter"))
	c.Close()

	want := []string{"init:counter", "dispose:counter"}
	if fmt.Sprint(events) != fmt.Sprint(want) {
		t.Errorf("expected %v, got %v", want, events)
	}
}

func TestInterceptorHasMutation(t *testing.T) {
	reg := NewRegistry()
	if reg.HasMutation() || reg.HasBatch() {
		t.Fatal("empty registry must report no hooks")
	}
	ic := &Interceptor{Batch: func(next func()) { next() }}
	reg.Register(ic)
	if reg.HasMutation() {
		t.Error("batch-only interceptor must not report a mutation hook")
	}
	if !reg.HasBatch() {
		t.Error("expected batch hook")
	}
}

func TestInterceptorBatchHook(t *testing.T) {
	var order []string
	ic := &Interceptor{
		Batch: func(next func()) {
			order = append(order, "begin")
			next()
			order = append(order, "end")
		},
	}
	DefaultRegistry().Register(ic)
	defer DefaultRegistry().Unregister(ic)

	Batch(func() {
		order = append(order, "body")
	})

	want := []string{"begin", "body", "end"}
	if fmt.Sprint(order) != fmt.Sprint(want) {
		t.Errorf("expected %v, got %v", want, order)
	}
}

func TestInterceptorBatchRejection(t *testing.T) {
	ic := &Interceptor{
		Batch: func(next func()) {
			next()
			panic("transaction rejected")
		},
	}
	DefaultRegistry().Register(ic)
	defer DefaultRegistry().Unregister(ic)

	c := NewCell(0)
	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("batch hook panic must propagate out of Batch")
			}
		}()
		Batch(func() { c.Set(1) })
	}()

	if IsBatching() {
		t.Error("transaction state must be clean after rejection")
	}
	if c.Get() != 1 {
		t.Errorf("committed writes persist, got %d", c.Get())
	}
}

func TestInterceptorVetoInsideBatch(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&Interceptor{
		Mutation: func(cell Observable, ch *Change, next func()) {
			if v, _ := ch.NewValue().(int); v == 2 {
				return
			}
			next()
		},
	})

	c := NewCell(0, WithRegistry(reg))
	var seen []int
	c.Subscribe(func(v int) { seen = append(seen, v) })

	Batch(func() {
		c.Set(1)
		c.Set(2) // vetoed
		c.Set(3)
	})

	if c.Get() != 3 {
		t.Errorf("expected final value 3, got %d", c.Get())
	}
	if len(seen) != 1 || seen[0] != 3 {
		t.Errorf("expected one notification with 3, got %v", seen)
	}
}
