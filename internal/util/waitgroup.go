// Package util holds small, self-contained helpers shared across the
// agent — no global state, nothing domain-specific.
package util

import "sync"

// WaitGroupWrapper is a sync.WaitGroup that tracks its own goroutines,
// so callers don't have to pair every go statement with Add/Done by
// hand.
type WaitGroupWrapper struct {
	sync.WaitGroup
}

// Wrap runs cb in a new goroutine, tracked by the WaitGroup.
func (w *WaitGroupWrapper) Wrap(cb func()) {
	w.Add(1)
	go func() {
		defer w.Done()
		cb()
	}()
}
