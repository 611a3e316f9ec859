// Package activity provides a reference-counted "network activity" signal.
// Overlapping operations each Begin and End; the signal stays visible until
// the last one ends.
package activity

import (
	"sync"
	"sync/atomic"
)

// Indicator is a reference-counted visibility flag.
type Indicator struct {
	mu        sync.Mutex
	active    atomic.Int64
	observers []func(visible bool)
}

// New returns a hidden indicator.
func New() *Indicator { return &Indicator{} }

// Begin marks one more operation as active.
func (i *Indicator) Begin() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.active.Add(1) == 1 {
		i.notify(true)
	}
}

// End marks one operation as finished. Unbalanced calls are ignored.
func (i *Indicator) End() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.active.Load() == 0 {
		return
	}
	if i.active.Add(-1) == 0 {
		i.notify(false)
	}
}

// Visible reports whether any operation is active.
func (i *Indicator) Visible() bool { return i.active.Load() > 0 }

// Active returns the number of operations in flight.
func (i *Indicator) Active() int64 { return i.active.Load() }

// Watch registers fn for visibility transitions. fn runs with the indicator
// locked and must not call Begin or End.
func (i *Indicator) Watch(fn func(visible bool)) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.observers = append(i.observers, fn)
}

// notify must hold mu.
func (i *Indicator) notify(visible bool) {
	for _, fn := range i.observers {
		fn(visible)
	}
}
