package market

import (
	"context"
	"testing"
	"time"
)

func TestBarrierReleasesWaiters(t *testing.T) {
	b := NewBarrier()
	errc := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() { errc <- b.Wait(context.Background(), "i1") }()
	}
	if b.Completed("i1") {
		t.Fatalf("interval completed before Complete")
	}
	b.Complete("i1")
	b.Complete("i1")
	for i := 0; i < 2; i++ {
		select {
		case err := <-errc:
			if err != nil {
				t.Fatalf("wait: %v", err)
			}
		case <-time.After(time.Second):
			t.Fatalf("waiter not released")
		}
	}
	if !b.Completed("i1") {
		t.Fatalf("expected i1 completed")
	}
}

func TestBarrierWaitContext(t *testing.T) {
	b := NewBarrier()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := b.Wait(ctx, "i2"); err != context.DeadlineExceeded {
		t.Fatalf("expected deadline exceeded got %v", err)
	}
}

func TestBarrierRetain(t *testing.T) {
	b := NewBarrier()
	b.Complete("old")
	b.Complete("kept")
	b.Retain(map[string]bool{"kept": true})
	if b.Completed("old") {
		t.Fatalf("old interval should be forgotten")
	}
	if !b.Completed("kept") {
		t.Fatalf("kept interval should stay completed")
	}
	select {
	case <-b.Done("kept"):
	default:
		t.Fatalf("kept channel should be closed")
	}
}
