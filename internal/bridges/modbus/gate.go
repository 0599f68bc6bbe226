package modbus

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultTimeout bounds both waiting for the bus and the bus call itself.
const DefaultTimeout = 5 * time.Second

// Gate serialises all access to a Transport. At most one operation is in
// flight; waiters are served in arrival order.
type Gate struct {
	transport Transport
	timeout   time.Duration

	mu      sync.Mutex
	busy    bool
	waiters []chan struct{}
}

// NewGate wraps t. A non-positive timeout selects DefaultTimeout.
func NewGate(t Transport, timeout time.Duration) *Gate {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Gate{transport: t, timeout: timeout}
}

// Timeout returns the acquisition and call timeout.
func (g *Gate) Timeout() time.Duration {
	return g.timeout
}

// Do runs fn with exclusive use of the transport.
//
// Waiting for the bus is bounded by the gate timeout; a caller that cannot
// acquire it in time gets an error matching ErrTimeout. fn receives a
// context carrying the same timeout. The bus is released on every path,
// including a panic in fn.
func (g *Gate) Do(ctx context.Context, op string, fn func(ctx context.Context, t Transport) error) error {
	if err := g.acquire(ctx, op); err != nil {
		return err
	}
	defer g.release()

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	return fn(callCtx, g.transport)
}

// Read performs one gated read.
func (g *Gate) Read(ctx context.Context, slave, functionCode, address, count int) ([]byte, error) {
	var raw []byte
	err := g.Do(ctx, "read", func(ctx context.Context, t Transport) error {
		var err error
		raw, err = t.Read(ctx, slave, functionCode, address, count)
		return err
	})
	return raw, err
}

// Write performs one gated write.
func (g *Gate) Write(ctx context.Context, slave, functionCode, address int, value int64) error {
	return g.Do(ctx, "write", func(ctx context.Context, t Transport) error {
		return t.Write(ctx, slave, functionCode, address, value)
	})
}

func (g *Gate) acquire(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	g.mu.Lock()
	if !g.busy {
		g.busy = true
		g.mu.Unlock()
		return nil
	}
	ready := make(chan struct{})
	g.waiters = append(g.waiters, ready)
	g.mu.Unlock()

	timer := time.NewTimer(g.timeout)
	defer timer.Stop()

	select {
	case <-ready:
		return nil
	case <-timer.C:
		if g.abandon(ready) {
			return &timeoutError{op: op + " waiting for bus", after: g.timeout}
		}
		return nil
	case <-ctx.Done():
		if g.abandon(ready) {
			return fmt.Errorf("modbus: %s waiting for bus: %w", op, ctx.Err())
		}
		return nil
	}
}

// abandon removes ready from the queue. It returns false if the bus was
// already handed over, in which case the caller owns it.
func (g *Gate) abandon(ready chan struct{}) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i, w := range g.waiters {
		if w == ready {
			g.waiters = append(g.waiters[:i], g.waiters[i+1:]...)
			return true
		}
	}
	return false
}

// release hands the bus to the oldest waiter, or marks it idle.
func (g *Gate) release() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.waiters) == 0 {
		g.busy = false
		return
	}
	next := g.waiters[0]
	g.waiters = g.waiters[1:]
	close(next)
}

// queued returns the number of callers waiting for the bus.
func (g *Gate) queued() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.waiters)
}
