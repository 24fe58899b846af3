// Package cache keeps an in-memory, never-persisted diagnostics snapshot
// per peer. §6 is explicit that this stack persists nothing to stable
// storage; this package exists only so the application layer can log a
// structured snapshot of connection health, not to survive a reset.
package cache

import (
	"github.com/embedble/centrald"
	jsoniter "github.com/json-iterator/go"
)

// Snapshot is a point-in-time view of one peer's connection health,
// suitable for a diagnostic log line.
type Snapshot struct {
	ProfileTag         string `json:"profile"`
	MTU                int    `json:"mtu"`
	EventCounter       uint32 `json:"eventCounter"`
	ConsecutiveCRCErrs uint32 `json:"consecutiveCrcErrors"`
	TotalCRCErrs       uint32 `json:"totalCrcErrors"`
	LastRSSI           int8   `json:"lastRssi"`
}

// Recorder holds the most recent Snapshot seen for each peer address.
type Recorder struct {
	mu   chan struct{} // 1-buffered; acts as a mutex
	data map[string]Snapshot
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	r := &Recorder{
		mu:   make(chan struct{}, 1),
		data: make(map[string]Snapshot),
	}
	r.mu <- struct{}{}
	return r
}

// Put records the latest Snapshot for addr.
func (r *Recorder) Put(addr ble.Addr, s Snapshot) {
	<-r.mu
	r.data[addr.String()] = s
	r.mu <- struct{}{}
}

// Get returns the most recent Snapshot recorded for addr, if any.
func (r *Recorder) Get(addr ble.Addr) (Snapshot, bool) {
	<-r.mu
	s, ok := r.data[addr.String()]
	r.mu <- struct{}{}
	return s, ok
}

// Remove drops any snapshot recorded for addr, e.g. on disconnect.
func (r *Recorder) Remove(addr ble.Addr) {
	<-r.mu
	delete(r.data, addr.String())
	r.mu <- struct{}{}
}

// JSON marshals the Snapshot for a diagnostic log line.
func (s Snapshot) JSON() string {
	b, err := jsoniter.Marshal(s)
	if err != nil {
		return "{}"
	}
	return string(b)
}
