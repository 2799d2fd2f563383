package jobs

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// keyedGate serializes work per key. Callers on the same key queue behind
// each other; different keys never block one another.
type keyedGate struct {
	mu    sync.Mutex
	slots map[string]*gateSlot
}

type gateSlot struct {
	sem  *semaphore.Weighted
	refs int
}

func newKeyedGate() *keyedGate {
	return &keyedGate{slots: make(map[string]*gateSlot)}
}

// Acquire blocks until key is free or ctx is done. The returned release func
// must be called exactly once on success.
func (g *keyedGate) Acquire(ctx context.Context, key string) (func(), error) {
	if key == "" {
		return func() {}, nil
	}

	g.mu.Lock()
	slot, ok := g.slots[key]
	if !ok {
		slot = &gateSlot{sem: semaphore.NewWeighted(1)}
		g.slots[key] = slot
	}
	slot.refs++
	g.mu.Unlock()

	if err := slot.sem.Acquire(ctx, 1); err != nil {
		g.drop(key, slot)
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			slot.sem.Release(1)
			g.drop(key, slot)
		})
	}, nil
}

// Busy reports whether any caller holds or waits on key.
func (g *keyedGate) Busy(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.slots[key]
	return ok
}

func (g *keyedGate) drop(key string, slot *gateSlot) {
	g.mu.Lock()
	defer g.mu.Unlock()
	slot.refs--
	if slot.refs == 0 && g.slots[key] == slot {
		delete(g.slots, key)
	}
}
