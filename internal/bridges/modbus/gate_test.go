package modbus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// holdGate occupies g until the returned release func is called.
func holdGate(t *testing.T, g *Gate) (release func(), done <-chan error) {
	t.Helper()
	entered := make(chan struct{})
	unblock := make(chan struct{})
	result := make(chan error, 1)

	go func() {
		result <- g.Do(context.Background(), "hold", func(context.Context, Transport) error {
			close(entered)
			<-unblock
			return nil
		})
	}()

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("holder never acquired the gate")
	}
	return func() { close(unblock) }, result
}

func TestGate_FIFO(t *testing.T) {
	g := NewGate(newMemTransport(), 5*time.Second)
	release, held := holdGate(t, g)

	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	for i := 1; i <= 3; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			err := g.Do(context.Background(), "wait", func(context.Context, Transport) error {
				mu.Lock()
				order = append(order, id)
				mu.Unlock()
				return nil
			})
			if err != nil {
				t.Errorf("waiter %d: %v", id, err)
			}
		}(i)
		waitFor(t, "waiter to queue", func() bool { return g.queued() == i })
	}

	release()
	wg.Wait()
	if err := <-held; err != nil {
		t.Fatalf("holder: %v", err)
	}

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("order = %v, want [1 2 3]", order)
	}
}

func TestGate_AcquireTimeout(t *testing.T) {
	g := NewGate(newMemTransport(), 50*time.Millisecond)
	release, held := holdGate(t, g)
	defer func() {
		release()
		<-held
	}()

	called := false
	err := g.Do(context.Background(), "read", func(context.Context, Transport) error {
		called = true
		return nil
	})

	if !errors.Is(err, ErrTimeout) || !errors.Is(err, ErrTransport) {
		t.Errorf("error = %v, want ErrTimeout and ErrTransport", err)
	}
	if called {
		t.Error("fn ran without the gate")
	}
	if g.queued() != 0 {
		t.Errorf("queued = %d after timeout, want 0", g.queued())
	}
}

func TestGate_CancelWhileWaiting(t *testing.T) {
	g := NewGate(newMemTransport(), 5*time.Second)
	release, held := holdGate(t, g)
	defer func() {
		release()
		<-held
	}()

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() {
		result <- g.Do(ctx, "write", func(context.Context, Transport) error { return nil })
	}()
	waitFor(t, "waiter to queue", func() bool { return g.queued() == 1 })
	cancel()

	if err := <-result; !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if g.queued() != 0 {
		t.Errorf("queued = %d, want 0", g.queued())
	}
}

func TestGate_ReleasedAfterPanic(t *testing.T) {
	g := NewGate(newMemTransport(), 100*time.Millisecond)

	func() {
		defer func() {
			if recover() == nil {
				t.Error("panic not propagated")
			}
		}()
		_ = g.Do(context.Background(), "boom", func(context.Context, Transport) error {
			panic("boom")
		})
	}()

	if err := g.Do(context.Background(), "after", func(context.Context, Transport) error { return nil }); err != nil {
		t.Errorf("gate not released after panic: %v", err)
	}
}

func TestGate_ReleasedAfterError(t *testing.T) {
	g := NewGate(newMemTransport(), 100*time.Millisecond)
	want := errors.New("bus error")

	if err := g.Do(context.Background(), "fail", func(context.Context, Transport) error { return want }); !errors.Is(err, want) {
		t.Fatalf("error = %v, want %v", err, want)
	}
	if err := g.Do(context.Background(), "after", func(context.Context, Transport) error { return nil }); err != nil {
		t.Errorf("gate not released after error: %v", err)
	}
}

func TestGate_CallHasDeadline(t *testing.T) {
	g := NewGate(newMemTransport(), time.Second)

	err := g.Do(context.Background(), "read", func(ctx context.Context, _ Transport) error {
		deadline, ok := ctx.Deadline()
		if !ok {
			t.Error("call context has no deadline")
		}
		if time.Until(deadline) > time.Second {
			t.Errorf("deadline too far: %v", time.Until(deadline))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
}

func TestNewGate_DefaultTimeout(t *testing.T) {
	if got := NewGate(newMemTransport(), 0).Timeout(); got != DefaultTimeout {
		t.Errorf("Timeout() = %v, want %v", got, DefaultTimeout)
	}
}
