package market

import (
	"context"
	"sync"
)

// Barrier tracks the completion of per-interval exchanges. Each interval id
// owns a channel closed once on completion, so any number of goroutines can
// wait for an interval without polling.
type Barrier struct {
	mu    sync.Mutex
	chans map[string]chan struct{}
	done  map[string]bool
}

// NewBarrier returns an empty barrier.
func NewBarrier() *Barrier {
	return &Barrier{chans: make(map[string]chan struct{}), done: make(map[string]bool)}
}

func (b *Barrier) ch(id string) chan struct{} {
	ch, ok := b.chans[id]
	if !ok {
		ch = make(chan struct{})
		b.chans[id] = ch
	}
	return ch
}

// Complete marks the interval done and releases its waiters. Completing an
// interval twice is a no-op.
func (b *Barrier) Complete(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done[id] {
		return
	}
	b.done[id] = true
	close(b.ch(id))
}

// Completed reports whether the interval is done.
func (b *Barrier) Completed(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.done[id]
}

// Done returns a channel closed when the interval completes.
func (b *Barrier) Done(id string) <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ch(id)
}

// Wait blocks until the interval completes or ctx is done.
func (b *Barrier) Wait(ctx context.Context, id string) error {
	select {
	case <-b.Done(id):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Retain forgets every interval not in keep. Waiters of a forgotten
// interval that never completed stay blocked until their context ends.
func (b *Barrier) Retain(keep map[string]bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id := range b.chans {
		if !keep[id] {
			delete(b.chans, id)
			delete(b.done, id)
		}
	}
}
