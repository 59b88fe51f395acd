package buffer

import (
	"context"
	"sync"
)

// Gate is a latch that waiters pass while it is open. A locked gate stays
// open forever but Wait reports false, telling waiters the flow has ended.
type Gate struct {
	mu     sync.Mutex
	open   bool
	locked bool
	ch     chan struct{} // closed while open
}

// NewGate returns a gate in the given state
func NewGate(open bool) *Gate {
	g := &Gate{ch: make(chan struct{})}
	if open {
		g.open = true
		close(g.ch)
	}
	return g
}

// Open releases current and future waiters
func (g *Gate) Open() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.setOpen(true)
}

// Close makes later waiters block until the next Open
func (g *Gate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.setOpen(false)
}

// SetOpen opens or closes the gate
func (g *Gate) SetOpen(open bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.setOpen(open)
}

func (g *Gate) setOpen(open bool) {
	if g.locked || g.open == open {
		return
	}
	g.open = open
	if open {
		close(g.ch)
	} else {
		g.ch = make(chan struct{})
	}
}

// Lock opens the gate permanently; Open and Close have no effect afterwards
func (g *Gate) Lock() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.setOpen(true)
	g.locked = true
}

// IsOpen reports whether Wait would return immediately
func (g *Gate) IsOpen() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.open
}

// IsLocked reports whether Lock was called
func (g *Gate) IsLocked() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.locked
}

// Wait blocks until the gate opens. It returns false once the gate is
// locked, and ctx.Err() if ctx ends first.
func (g *Gate) Wait(ctx context.Context) (bool, error) {
	g.mu.Lock()
	ch := g.ch
	g.mu.Unlock()

	select {
	case <-ch:
	case <-ctx.Done():
		return false, ctx.Err()
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.locked, nil
}
