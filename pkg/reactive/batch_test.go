package reactive

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

func TestBatchSingleNotification(t *testing.T) {
	c := NewCell(0)
	l := &countingListener{}
	c.AddListener(l.fn())

	Batch(func() {
		c.Set(1)
		c.Set(2)
		c.Set(3)
	})

	if l.get() != 1 {
		t.Errorf("expected 1 notification for 3 writes, got %d", l.get())
	}
	if c.Get() != 3 {
		t.Errorf("expected final value 3, got %d", c.Get())
	}
}

func TestBatchFinalValueVisible(t *testing.T) {
	c := NewCell(0)
	var seen int
	c.Subscribe(func(v int) { seen = v })

	Batch(func() {
		c.Set(1)
		c.Set(2)
	})

	if seen != 2 {
		t.Errorf("listener must see the final value, got %d", seen)
	}
}

func TestBatchFirstTouchedOrder(t *testing.T) {
	a := NewCell(0, WithName("a"))
	b := NewCell(0, WithName("b"))
	d := NewCell(0, WithName("d"))

	var order []string
	a.AddListener(func() { order = append(order, "a") })
	b.AddListener(func() { order = append(order, "b") })
	d.AddListener(func() { order = append(order, "d") })

	Batch(func() {
		b.Set(1)
		a.Set(1)
		d.Set(1)
		b.Set(2) // re-touch must not reorder
	})

	want := []string{"b", "a", "d"}
	if fmt.Sprint(order) != fmt.Sprint(want) {
		t.Errorf("expected order %v, got %v", want, order)
	}
}

func TestBatchNested(t *testing.T) {
	c := NewCell(0)
	l := &countingListener{}
	c.AddListener(l.fn())

	Batch(func() {
		c.Set(1)
		Batch(func() {
			c.Set(2)
		})
		if l.get() != 0 {
			t.Error("inner batch must not flush")
		}
		c.Set(3)
	})

	if l.get() != 1 {
		t.Errorf("expected 1 notification, got %d", l.get())
	}
	if c.Get() != 3 {
		t.Errorf("expected final value 3, got %d", c.Get())
	}
}

func TestBatchValue(t *testing.T) {
	c := NewCell(0)
	l := &countingListener{}
	c.AddListener(l.fn())

	got := BatchValue(func() int {
		c.Set(5)
		return c.Get() * 2
	})

	if got != 10 {
		t.Errorf("expected 10, got %d", got)
	}
	if l.get() != 1 {
		t.Errorf("expected 1 notification, got %d", l.get())
	}
}

func TestBatchPanicStillFlushes(t *testing.T) {
	c := NewCell(0)
	l := &countingListener{}
	c.AddListener(l.fn())

	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("expected panic to propagate")
			}
		}()
		Batch(func() {
			c.Set(1)
			panic("boom")
		})
	}()

	if c.Get() != 1 {
		t.Errorf("the write before the panic must persist, got %d", c.Get())
	}
	if l.get() != 1 {
		t.Errorf("changes before the panic must still flush, got %d", l.get())
	}
	if IsBatching() {
		t.Error("transaction state must be clean after the panic")
	}

	// The runtime keeps working afterwards.
	c.Set(2)
	if l.get() != 2 {
		t.Errorf("expected 2 notifications, got %d", l.get())
	}
}

func TestBatchListenerPanicResetsState(t *testing.T) {
	c := NewCell(0)
	c.AddListener(func() { panic("listener boom") })

	func() {
		defer func() { recover() }()
		Batch(func() { c.Set(1) })
	}()

	if IsBatching() {
		t.Error("transaction state must be clean after a listener panic")
	}
}

func TestBatchListenerPanicDrainsRemaining(t *testing.T) {
	// A panicking listener on the first-touched cell must not starve
	// the cells touched after it. The panic still reaches the caller.
	a := NewCell(0)
	b := NewCell(0)
	a.AddListener(func() { panic("listener boom") })
	l := &countingListener{}
	b.AddListener(l.fn())

	var recovered any
	func() {
		defer func() { recovered = recover() }()
		Batch(func() {
			a.Set(1)
			b.Set(1)
		})
	}()

	if recovered != "listener boom" {
		t.Errorf("expected the listener panic to propagate, got %v", recovered)
	}
	if l.get() != 1 {
		t.Errorf("cells after the panicking one must still notify, got %d", l.get())
	}
	if b.Get() != 1 {
		t.Errorf("expected committed value 1, got %d", b.Get())
	}
	if IsBatching() {
		t.Error("transaction state must be clean after a listener panic")
	}
}

func TestBatchEqualWriteNoNotification(t *testing.T) {
	c := NewCell(7)
	l := &countingListener{}
	c.AddListener(l.fn())

	Batch(func() {
		c.Set(7)
	})

	if l.get() != 0 {
		t.Errorf("equal write inside a batch must not notify, got %d", l.get())
	}
}

func TestBatchRoundTripSuppression(t *testing.T) {
	// 0 -> 1 -> 0 inside one batch: the cell was touched, so it
	// notifies with its final (original) value.
	c := NewCell(0)
	var seen []int
	c.Subscribe(func(v int) { seen = append(seen, v) })

	Batch(func() {
		c.Set(1)
		c.Set(0)
	})

	if len(seen) != 1 || seen[0] != 0 {
		t.Errorf("expected one notification with value 0, got %v", seen)
	}
}

func TestIsBatching(t *testing.T) {
	if IsBatching() {
		t.Fatal("no batch should be open at the start")
	}
	Batch(func() {
		if !IsBatching() {
			t.Error("IsBatching must be true inside a batch")
		}
	})
	if IsBatching() {
		t.Error("IsBatching must be false after the batch")
	}
}

func TestBatchCascadeDrainsIteratively(t *testing.T) {
	// A long chain of cells where each listener writes the next. A
	// recursive flush would blow the stack; the iterative drain must
	// complete with one notification per cell.
	const n = 5000
	cells := make([]*Cell[int], n)
	for i := range cells {
		cells[i] = NewCell(0)
	}
	var fired int
	for i := 0; i < n; i++ {
		i := i
		cells[i].AddListener(func() {
			fired++
			if i+1 < n {
				cells[i+1].Update(func(v int) int { return v + 1 })
			}
		})
	}

	Batch(func() {
		cells[0].Set(1)
	})

	if fired != n {
		t.Errorf("expected %d notifications, got %d", n, fired)
	}
	if cells[n-1].Get() != 1 {
		t.Errorf("expected tail value 1, got %d", cells[n-1].Get())
	}
}

func TestBatchAsyncSpansBlocking(t *testing.T) {
	c := NewCell(0)
	l := &countingListener{}
	c.AddListener(l.fn())

	gate := make(chan struct{})
	go func() { gate <- struct{}{} }()

	err := BatchAsync(context.Background(), func(ctx context.Context) error {
		c.Set(1)
		<-gate // blocking wait inside the transaction
		c.Set(2)
		if l.get() != 0 {
			t.Error("no flush may happen before the async batch ends")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if l.get() != 1 {
		t.Errorf("expected 1 notification, got %d", l.get())
	}
	if c.Get() != 2 {
		t.Errorf("expected final value 2, got %d", c.Get())
	}
}

func TestBatchAsyncReturnsError(t *testing.T) {
	c := NewCell(0)
	l := &countingListener{}
	c.AddListener(l.fn())

	wantErr := fmt.Errorf("load failed")
	err := BatchAsync(context.Background(), func(ctx context.Context) error {
		c.Set(1)
		return wantErr
	})
	if err != wantErr {
		t.Errorf("expected %v, got %v", wantErr, err)
	}
	if l.get() != 1 {
		t.Errorf("flush must happen even on error, got %d", l.get())
	}
}

func TestBatchAsyncAbsorbsSyncBatch(t *testing.T) {
	c := NewCell(0)
	l := &countingListener{}
	c.AddListener(l.fn())

	_ = BatchAsync(context.Background(), func(ctx context.Context) error {
		Batch(func() {
			c.Set(1)
		})
		if l.get() != 0 {
			t.Error("sync batch inside async must be absorbed, not flushed")
		}
		c.Set(2)
		return nil
	})

	if l.get() != 1 {
		t.Errorf("expected 1 notification, got %d", l.get())
	}
}

func TestScopeJoinsTransaction(t *testing.T) {
	c := NewCell(0)
	l := &countingListener{}
	c.AddListener(l.fn())

	_ = BatchAsync(context.Background(), func(ctx context.Context) error {
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			Scope(ctx, func() {
				c.Set(1)
			})
		}()
		wg.Wait()
		if l.get() != 0 {
			t.Error("writes from a scoped goroutine must join the transaction")
		}
		return nil
	})

	if l.get() != 1 {
		t.Errorf("expected 1 notification, got %d", l.get())
	}
}

func TestScopeWithoutTransaction(t *testing.T) {
	c := NewCell(0)
	l := &countingListener{}
	c.AddListener(l.fn())

	Scope(context.Background(), func() {
		c.Set(1)
	})

	if l.get() != 1 {
		t.Errorf("scope without a transaction notifies immediately, got %d", l.get())
	}
}
