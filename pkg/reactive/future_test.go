package reactive

import (
	"context"
	"errors"
	"testing"
	"time"
)

// awaitStatus waits for the wrapper to reach the wanted kind, failing the
// test after a generous deadline. Transitions arrive via listener.
func awaitStatus[T any](t *testing.T, ch <-chan Status[T], want StatusKind) Status[T] {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case s := <-ch:
			if s.Kind() == want {
				return s
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %v", want)
		}
	}
}

func TestFutureLazyStart(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan int)
	f := NewFuture(func(ctx context.Context) (int, error) {
		started <- struct{}{}
		return <-release, nil
	})

	if !f.Peek().IsIdle() {
		t.Fatalf("unobserved future must be Idle, got %v", f.Peek())
	}
	select {
	case <-started:
		t.Fatal("fn must not run before the first listener")
	case <-time.After(20 * time.Millisecond):
	}

	updates := make(chan Status[int], 8)
	f.Subscribe(func(s Status[int]) { updates <- s })

	<-started
	if !f.Peek().IsWaiting() {
		t.Errorf("expected Waiting while in flight, got %v", f.Peek())
	}

	release <- 42
	s := awaitStatus(t, updates, StatusSuccess)
	if v, _ := s.Value(); v != 42 {
		t.Errorf("expected 42, got %d", v)
	}
}

func TestFutureError(t *testing.T) {
	wantErr := errors.New("unreachable")
	f := NewFuture(func(ctx context.Context) (int, error) {
		return 0, wantErr
	})

	updates := make(chan Status[int], 8)
	f.Subscribe(func(s Status[int]) { updates <- s })

	s := awaitStatus(t, updates, StatusError)
	if s.Err() != wantErr {
		t.Errorf("expected %v, got %v", wantErr, s.Err())
	}
}

func TestFuturePanicBecomesError(t *testing.T) {
	f := NewFuture(func(ctx context.Context) (int, error) {
		panic("worker crashed")
	})

	updates := make(chan Status[int], 8)
	f.Subscribe(func(s Status[int]) { updates <- s })

	s := awaitStatus(t, updates, StatusError)
	if s.Err() == nil {
		t.Error("panic must surface as an error status")
	}
}

func TestFutureDeactivateCancelsAndRetries(t *testing.T) {
	attempts := make(chan struct{}, 4)
	cancelled := make(chan struct{}, 4)
	release := make(chan int)
	f := NewFuture(func(ctx context.Context) (int, error) {
		attempts <- struct{}{}
		select {
		case v := <-release:
			return v, nil
		case <-ctx.Done():
			cancelled <- struct{}{}
			return 0, ctx.Err()
		}
	})

	sub := f.AddListener(func() {})
	<-attempts

	sub.Cancel()
	<-cancelled
	if !f.Peek().IsIdle() {
		t.Errorf("unfinished future must revert to Idle, got %v", f.Peek())
	}

	// A later activation starts a fresh attempt.
	updates := make(chan Status[int], 8)
	f.Subscribe(func(s Status[int]) { updates <- s })
	<-attempts
	release <- 7
	s := awaitStatus(t, updates, StatusSuccess)
	if v, _ := s.Value(); v != 7 {
		t.Errorf("expected 7, got %d", v)
	}
}

func TestFutureKeepsCompletedResult(t *testing.T) {
	f := NewFuture(func(ctx context.Context) (int, error) {
		return 5, nil
	})

	updates := make(chan Status[int], 8)
	sub := f.Subscribe(func(s Status[int]) { updates <- s })
	awaitStatus(t, updates, StatusSuccess)

	sub.Cancel()
	if v, ok := f.Peek().Value(); !ok || v != 5 {
		t.Errorf("completed result must survive deactivation, got %v", f.Peek())
	}
}

func TestStreamSubscriptionLifecycle(t *testing.T) {
	subscribers := 0
	emit := make(chan func(int), 1)
	src := SourceFunc[int](func(fn func(int)) func() {
		subscribers++
		emit <- fn
		return func() { subscribers-- }
	})

	s := NewStream(src)
	if subscribers != 0 {
		t.Fatalf("idle stream must not subscribe upstream, got %d", subscribers)
	}
	if !s.Peek().IsIdle() {
		t.Fatalf("expected Idle, got %v", s.Peek())
	}

	updates := make(chan Status[int], 8)
	sub := s.Subscribe(func(st Status[int]) { updates <- st })
	if subscribers != 1 {
		t.Fatalf("first listener must subscribe upstream, got %d", subscribers)
	}

	fn := <-emit
	fn(10)
	st := awaitStatus(t, updates, StatusSuccess)
	if v, _ := st.Value(); v != 10 {
		t.Errorf("expected 10, got %d", v)
	}

	sub.Cancel()
	if subscribers != 0 {
		t.Errorf("last listener gone must release upstream, got %d", subscribers)
	}
}

func TestStreamChanSource(t *testing.T) {
	ch := make(chan string)
	s := NewStream(ChanSource(ch))

	updates := make(chan Status[string], 8)
	s.Subscribe(func(st Status[string]) { updates <- st })

	ch <- "hello"
	st := awaitStatus(t, updates, StatusSuccess)
	if v, _ := st.Value(); v != "hello" {
		t.Errorf("expected %q, got %q", "hello", v)
	}
	s.Dispose()
}

func TestFutureDispose(t *testing.T) {
	release := make(chan int)
	f := NewFuture(func(ctx context.Context) (int, error) {
		select {
		case v := <-release:
			return v, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	})
	f.AddListener(func() {})

	f.Dispose()
	if !f.IsDisposed() {
		t.Error("expected IsDisposed after Dispose")
	}
	// A stale completion must not resurrect the status.
	select {
	case release <- 1:
	default:
	}
	if !f.Peek().IsWaiting() && !f.Peek().IsIdle() {
		t.Errorf("disposed future must not transition, got %v", f.Peek())
	}
}
