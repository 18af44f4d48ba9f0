// Package connectivity tracks whether the backend is reachable and turns
// offline-to-online transitions into sync triggers.
package connectivity

import (
	"sync"
)

// Monitor is an edge-triggered connectivity tracker. Feeding it repeated
// observations of the same state is cheap and fires nothing; only the
// offline-to-online edge notifies subscribers.
type Monitor struct {
	mu          sync.Mutex
	online      bool
	seeded      bool
	subscribers []chan struct{}
	observers   []func(bool)
}

// NewMonitor builds a monitor with no connectivity opinion yet. The first
// SetOnline(true) observation counts as an edge, so work queued while the
// state was unknown gets a trigger as soon as reachability is confirmed.
func NewMonitor() *Monitor {
	return &Monitor{}
}

// Online reports the last observed state. It is false until the first
// online observation arrives.
func (m *Monitor) Online() bool {
	if m == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// SetOnline records an observation. It returns true when the observation
// is an offline-to-online edge, in which case subscribers are notified.
func (m *Monitor) SetOnline(online bool) bool {
	if m == nil {
		return false
	}
	m.mu.Lock()
	wasOnline := m.online
	wasSeeded := m.seeded
	m.online = online
	m.seeded = true

	edge := online && (!wasSeeded || !wasOnline)
	changed := !wasSeeded || wasOnline != online
	var targets []chan struct{}
	if edge {
		targets = append(targets, m.subscribers...)
	}
	var observers []func(bool)
	if changed {
		observers = append(observers, m.observers...)
	}
	m.mu.Unlock()

	for _, fn := range observers {
		fn(online)
	}
	for _, ch := range targets {
		select {
		case ch <- struct{}{}:
		default:
			// Subscriber already has a pending trigger; one is enough.
		}
	}
	return edge
}

// OnChange registers fn to run on every observed state change, including
// the first observation. Status indicators want both directions, unlike
// sync triggers which only care about reconnection.
func (m *Monitor) OnChange(fn func(online bool)) {
	if m == nil || fn == nil {
		return
	}
	m.mu.Lock()
	m.observers = append(m.observers, fn)
	m.mu.Unlock()
}

// Subscribe returns a channel that receives one value per reconnection
// edge. The channel has a buffer of one; coalesced edges are intentional
// because a single sync run drains everything queued.
func (m *Monitor) Subscribe() <-chan struct{} {
	ch := make(chan struct{}, 1)
	if m == nil {
		return ch
	}
	m.mu.Lock()
	m.subscribers = append(m.subscribers, ch)
	m.mu.Unlock()
	return ch
}
