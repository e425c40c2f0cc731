package reactive

import "testing"

func TestNotifierAddNotify(t *testing.T) {
	n := NewNotifier()
	count := 0
	n.AddListener(func() { count++ })
	n.AddListener(func() { count++ })

	n.Notify()
	if count != 2 {
		t.Errorf("expected 2 invocations, got %d", count)
	}
}

func TestNotifierCancel(t *testing.T) {
	n := NewNotifier()
	count := 0
	sub := n.AddListener(func() { count++ })
	sub.Cancel()

	n.Notify()
	if count != 0 {
		t.Errorf("cancelled listener should not fire, got %d", count)
	}

	// Cancelling twice is a no-op.
	sub.Cancel()
}

func TestNotifierAddDuringDispatch(t *testing.T) {
	n := NewNotifier()
	lateFired := false
	n.AddListener(func() {
		n.AddListener(func() { lateFired = true })
	})

	n.Notify()
	if lateFired {
		t.Error("listener added mid-dispatch must not fire in the same dispatch")
	}

	n.Notify()
	if !lateFired {
		t.Error("listener added mid-dispatch should fire in the next dispatch")
	}
}

func TestNotifierRemoveDuringDispatch(t *testing.T) {
	n := NewNotifier()
	secondFired := false
	var second *Subscription
	n.AddListener(func() {
		second.Cancel()
	})
	second = n.AddListener(func() { secondFired = true })

	n.Notify()
	if secondFired {
		t.Error("listener removed before its turn must not fire")
	}
}

func TestNotifierDispose(t *testing.T) {
	n := NewNotifier()
	count := 0
	n.AddListener(func() { count++ })

	n.Dispose()
	if !n.IsDisposed() {
		t.Error("expected IsDisposed after Dispose")
	}

	// All silent no-ops after disposal.
	n.Notify()
	n.AddListener(func() { count++ })
	n.Notify()
	n.Dispose()

	if count != 0 {
		t.Errorf("disposed notifier must not dispatch, got %d", count)
	}
	if n.ListenerCount() != 0 {
		t.Errorf("disposed notifier must hold no listeners, got %d", n.ListenerCount())
	}
}

func TestNotifierActivationHooks(t *testing.T) {
	n := NewNotifier()
	var first, last int
	n.setActivationHooks(func() { first++ }, func() { last++ })

	a := n.AddListener(func() {})
	b := n.AddListener(func() {})
	if first != 1 {
		t.Errorf("expected onFirst once, got %d", first)
	}

	a.Cancel()
	if last != 0 {
		t.Errorf("onLast must not fire while listeners remain, got %d", last)
	}
	b.Cancel()
	if last != 1 {
		t.Errorf("expected onLast once, got %d", last)
	}
}
