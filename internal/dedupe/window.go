// Package dedupe remembers recently seen keys for a bounded time.
package dedupe

import (
	"sync"
	"time"
)

// DefaultTTL matches how long the WhatsApp Cloud API keeps redelivering an
// unacknowledged webhook.
const DefaultTTL = 7 * 24 * time.Hour

// Window is a set of keys that expire ttl after they were added. Memory is
// bounded by the number of keys added within one ttl. It is safe for
// concurrent use.
type Window struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	items map[string]item
	order []entry // insertion order, oldest first; may hold deleted keys
}

type item struct {
	value string
	at    time.Time
}

type entry struct {
	key string
	at  time.Time
}

// Option configures a Window.
type Option func(*Window)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(w *Window) { w.now = now }
}

// New creates a Window. A non-positive ttl uses DefaultTTL.
func New(ttl time.Duration, opts ...Option) *Window {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	w := &Window{
		ttl:   ttl,
		now:   time.Now,
		items: make(map[string]item),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Add stores key with value unless key is already present. It reports
// whether key was added.
func (w *Window) Add(key, value string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	w.expire(now)
	if _, ok := w.items[key]; ok {
		return false
	}
	w.items[key] = item{value: value, at: now}
	w.order = append(w.order, entry{key: key, at: now})
	return true
}

// Get returns the value stored with key.
func (w *Window) Get(key string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.expire(w.now())
	it, ok := w.items[key]
	return it.value, ok
}

// Contains reports whether key is present.
func (w *Window) Contains(key string) bool {
	_, ok := w.Get(key)
	return ok
}

// Delete forgets key.
func (w *Window) Delete(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.items, key)
}

// Len returns the number of live keys.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.expire(w.now())
	return len(w.items)
}

// expire must be called with w.mu held.
func (w *Window) expire(now time.Time) {
	cutoff := now.Add(-w.ttl)
	n := 0
	for n < len(w.order) && !w.order[n].at.After(cutoff) {
		e := w.order[n]
		// A key deleted and added again has a newer entry further on.
		if it, ok := w.items[e.key]; ok && it.at.Equal(e.at) {
			delete(w.items, e.key)
		}
		n++
	}
	if n > 0 {
		w.order = w.order[n:]
	}
}
