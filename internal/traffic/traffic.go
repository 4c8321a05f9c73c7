package traffic

import (
	"sync"
	"time"
)

// Outcome classifies a served request for health accounting.
type Outcome int

const (
	// Success is any request the service answered on its own terms, including 4xx for bad input.
	Success Outcome = iota
	// Failure is a request that failed because of an upstream, parse or render error.
	Failure
	// Denied is a request rejected by the rate limiter.
	Denied
	numOutcomes
)

// DefaultRetention bounds how long outcomes are kept.
const DefaultRetention = 5 * time.Minute

// Window keeps sliding windows of outcome timestamps. It backs the degraded health check.
type Window struct {
	mu        sync.Mutex
	retention time.Duration
	times     [numOutcomes][]time.Time
	now       func() time.Time
}

// NewWindow returns a Window that forgets outcomes older than retention (DefaultRetention when <= 0).
func NewWindow(retention time.Duration) *Window {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Window{retention: retention, now: time.Now}
}

// Record stores one outcome at the current time.
func (w *Window) Record(o Outcome) {
	if o < 0 || o >= numOutcomes {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.now()
	w.times[o] = append(w.times[o], now)
	w.pruneLocked(now)
}

// Count returns the number of o outcomes within the window.
func (w *Window) Count(o Outcome, window time.Duration) int {
	if o < 0 || o >= numOutcomes {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return countSince(w.times[o], w.now().Add(-window))
}

// RequestCount returns all outcomes (success, failure and denied) within the window.
func (w *Window) RequestCount(window time.Duration) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	cutoff := w.now().Add(-window)
	n := 0
	for o := range w.times {
		n += countSince(w.times[o], cutoff)
	}
	return n
}

// ErrorRate returns (failures, total) within the window. Denials are not part of total.
func (w *Window) ErrorRate(window time.Duration) (failures, total int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	cutoff := w.now().Add(-window)
	failures = countSince(w.times[Failure], cutoff)
	return failures, failures + countSince(w.times[Success], cutoff)
}

// Reset drops every recorded outcome.
func (w *Window) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for o := range w.times {
		w.times[o] = nil
	}
}

func countSince(times []time.Time, cutoff time.Time) int {
	n := 0
	for _, ts := range times {
		if !ts.Before(cutoff) {
			n++
		}
	}
	return n
}

// pruneLocked drops timestamps older than the retention. Caller holds mu.
func (w *Window) pruneLocked(now time.Time) {
	cutoff := now.Add(-w.retention)
	for o := range w.times {
		times := w.times[o]
		i := 0
		for ; i < len(times) && times[i].Before(cutoff); i++ {
		}
		if i > 0 {
			w.times[o] = append(times[:0], times[i:]...)
		}
	}
}
