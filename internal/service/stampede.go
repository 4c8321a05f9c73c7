package service

import "sync"

// missTracker counts cache fills in progress per key. More than one concurrent
// fill for the same key is a stampede.
type missTracker struct {
	mu       sync.Mutex
	inFlight map[string]int
}

func newMissTracker() *missTracker {
	return &missTracker{inFlight: make(map[string]int)}
}

// begin registers a fill for key and returns how many fills for key are now
// running, this one included. The returned func must be called exactly once
// when the fill finishes, successfully or not.
func (m *missTracker) begin(key string) (int, func()) {
	m.mu.Lock()
	m.inFlight[key]++
	n := m.inFlight[key]
	m.mu.Unlock()

	var once sync.Once
	return n, func() { once.Do(func() { m.end(key) }) }
}

func (m *missTracker) end(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inFlight[key] <= 1 {
		delete(m.inFlight, key)
		return
	}
	m.inFlight[key]--
}

// active returns the number of fills running for key.
func (m *missTracker) active(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inFlight[key]
}
