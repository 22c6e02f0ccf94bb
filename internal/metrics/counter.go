// Package metrics provides in-memory event counters.
package metrics

import "sync"

// Recorder increments counters for named events.
type Recorder interface {
	Increment(event string)
}

// Nop discards every event.
type Nop struct{}

// Increment does nothing.
func (Nop) Increment(string) {}

// Counter implements Recorder with in-memory counts.
type Counter struct {
	mutex  sync.Mutex
	counts map[string]int64
}

// NewCounter constructs an in-memory metrics recorder.
func NewCounter() *Counter {
	return &Counter{counts: make(map[string]int64)}
}

// Increment increases the counter for the given event.
func (recorder *Counter) Increment(event string) {
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()
	recorder.counts[event]++
}

// Count returns the current value for the given event.
func (recorder *Counter) Count(event string) int64 {
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()
	return recorder.counts[event]
}

// Snapshot returns a copy of all recorded counters.
func (recorder *Counter) Snapshot() map[string]int64 {
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()
	clone := make(map[string]int64, len(recorder.counts))
	for key, value := range recorder.counts {
		clone[key] = value
	}
	return clone
}
