package services

import "sync"

// InteractionTracker is the process-wide "user has interacted with the page"
// flag as an explicit service: set once, read many times, reset only by a
// full restart. One-shot observers detach after the first interaction fires.
type InteractionTracker struct {
	mu         sync.Mutex
	interacted bool
	observers  []func()
}

// NewInteractionTracker returns a tracker in the untouched state.
func NewInteractionTracker() *InteractionTracker {
	return &InteractionTracker{}
}

// HasInteracted reports whether any user interaction has been observed.
func (t *InteractionTracker) HasInteracted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.interacted
}

// MarkInteracted records the first interaction and fires pending observers.
// Subsequent calls are no-ops.
func (t *InteractionTracker) MarkInteracted() {
	t.mu.Lock()
	if t.interacted {
		t.mu.Unlock()
		return
	}
	t.interacted = true
	observers := t.observers
	t.observers = nil
	t.mu.Unlock()

	for _, obs := range observers {
		obs()
	}
}

// OnFirst registers a one-shot observer for the first interaction. If one
// already happened, the observer runs immediately.
func (t *InteractionTracker) OnFirst(f func()) {
	t.mu.Lock()
	if t.interacted {
		t.mu.Unlock()
		f()
		return
	}
	t.observers = append(t.observers, f)
	t.mu.Unlock()
}
