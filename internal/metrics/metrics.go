// Package metrics is the thin instrumentation facade the engine records
// through. The core code depends only on this package; a concrete backend
// (Datadog, or a test fake) is installed at startup with SetBackend. With no
// backend installed every call is a no-op.
package metrics

import "sync"

// Labels are free-form metric dimensions.
type Labels map[string]string

// Backend receives recorded metrics.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
}

var (
	mu     sync.RWMutex
	active Backend
)

// SetBackend installs the process-wide backend. Passing nil disables
// recording.
func SetBackend(b Backend) {
	mu.Lock()
	active = b
	mu.Unlock()
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return active
}

// IncCounter adds delta to a counter.
func IncCounter(name string, delta float64, labels Labels) {
	if b := current(); b != nil {
		b.IncCounter(name, delta, labels)
	}
}

// ObserveHistogram records one sample of a distribution.
func ObserveHistogram(name string, value float64, labels Labels) {
	if b := current(); b != nil {
		b.ObserveHistogram(name, value, labels)
	}
}
