package dedupe

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeClock is a manually advanced clock for testing.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestWindow(ttl time.Duration) (*Window, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)}
	return New(ttl, WithClock(clock.Now)), clock
}

func TestWindow_AddAndGet(t *testing.T) {
	w, _ := newTestWindow(time.Hour)

	if !w.Add("wamid.1", "job-1") {
		t.Fatal("first Add() = false")
	}
	if w.Add("wamid.1", "job-2") {
		t.Error("second Add() = true, want false")
	}
	if v, ok := w.Get("wamid.1"); !ok || v != "job-1" {
		t.Errorf("Get() = %q, %v, want job-1", v, ok)
	}
	if w.Contains("wamid.2") {
		t.Error("Contains() = true for a key never added")
	}
}

func TestWindow_Expiry(t *testing.T) {
	tests := []struct {
		name    string
		elapsed time.Duration
		want    bool
	}{
		{"fresh", time.Minute, true},
		{"just inside", time.Hour - time.Nanosecond, true},
		{"at ttl", time.Hour, false},
		{"long after", 48 * time.Hour, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, clock := newTestWindow(time.Hour)
			w.Add("k", "")
			clock.Advance(tt.elapsed)

			if got := w.Contains("k"); got != tt.want {
				t.Errorf("Contains() after %v = %v, want %v", tt.elapsed, got, tt.want)
			}
			if !tt.want && !w.Add("k", "") {
				t.Error("expired key could not be added again")
			}
		})
	}
}

func TestWindow_SizeIsBoundedByTTL(t *testing.T) {
	w, clock := newTestWindow(time.Hour)

	for i := 0; i < 1000; i++ {
		w.Add(fmt.Sprintf("m%d", i), "")
		clock.Advance(time.Minute)
	}

	// Keys added in the last hour, the one exactly an hour old excluded.
	if n := w.Len(); n != 59 {
		t.Errorf("Len() = %d, want 59", n)
	}
	if n := len(w.order); n != 59 {
		t.Errorf("order holds %d entries, want 59", n)
	}
}

func TestWindow_DeleteThenAddAgain(t *testing.T) {
	w, clock := newTestWindow(time.Hour)

	w.Add("k", "old")
	clock.Advance(30 * time.Minute)
	w.Delete("k")
	if w.Contains("k") {
		t.Fatal("deleted key still present")
	}
	if !w.Add("k", "new") {
		t.Fatal("Add() after Delete() = false")
	}

	// The first entry expires; the re-added key must survive it.
	clock.Advance(45 * time.Minute)
	if v, ok := w.Get("k"); !ok || v != "new" {
		t.Errorf("Get() = %q, %v, want new", v, ok)
	}
}

func TestWindow_ConcurrentAdd(t *testing.T) {
	w := New(time.Hour)

	var added int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if w.Add("same", "") {
				atomic.AddInt32(&added, 1)
			}
		}()
	}
	wg.Wait()

	if added != 1 {
		t.Errorf("added %d times, want 1", added)
	}
}

func TestNew_DefaultTTL(t *testing.T) {
	if w := New(0); w.ttl != DefaultTTL {
		t.Errorf("ttl = %v, want %v", w.ttl, DefaultTTL)
	}
}
