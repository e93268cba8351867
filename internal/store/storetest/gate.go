// Package storetest provides in-memory fakes of the repository and scan
// engine boundaries with hooks for holding calls open and injecting failures.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"
)

// Gate holds one call open until released.
type Gate struct {
	reached chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGate() *Gate {
	return &Gate{reached: make(chan struct{}), release: make(chan struct{})}
}

// Reached is closed once the held call arrives at the gate.
func (g *Gate) Reached() <-chan struct{} {
	return g.reached
}

// Wait blocks until the held call arrives, failing the test after a few seconds.
func (g *Gate) Wait(t testing.TB) {
	t.Helper()
	select {
	case <-g.reached:
	case <-time.After(5 * time.Second):
		t.Fatal("held call never arrived")
	}
}

// Release lets the held call return.
func (g *Gate) Release() {
	g.once.Do(func() { close(g.release) })
}

func (g *Gate) pass(ctx context.Context) error {
	close(g.reached)
	select {
	case <-g.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// gates queues gates per operation name.
type gates struct {
	m  map[string][]*Gate
	mu sync.Mutex
}

func (g *gates) hold(op string) *Gate {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.m == nil {
		g.m = make(map[string][]*Gate)
	}
	gate := newGate()
	g.m[op] = append(g.m[op], gate)
	return gate
}

func (g *gates) next(op string) *Gate {
	g.mu.Lock()
	defer g.mu.Unlock()
	q := g.m[op]
	if len(q) == 0 {
		return nil
	}
	g.m[op] = q[1:]
	return q[0]
}

func (g *gates) wait(ctx context.Context, op string) error {
	if gate := g.next(op); gate != nil {
		return gate.pass(ctx)
	}
	return nil
}
