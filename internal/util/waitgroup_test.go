package util

import (
	"sync/atomic"
	"testing"
)

func TestWrapRunsAndTracksGoroutine(t *testing.T) {
	var w WaitGroupWrapper
	var ran int32

	w.Wrap(func() { atomic.StoreInt32(&ran, 1) })
	w.Wait()

	if atomic.LoadInt32(&ran) != 1 {
		t.Fatalf("Wrap did not run its callback before Wait returned")
	}
}

func TestWrapTracksMultipleGoroutines(t *testing.T) {
	var w WaitGroupWrapper
	var count int32

	for i := 0; i < 10; i++ {
		w.Wrap(func() { atomic.AddInt32(&count, 1) })
	}
	w.Wait()

	if count != 10 {
		t.Fatalf("expected 10 completions, got %d", count)
	}
}
