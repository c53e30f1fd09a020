// Package status tracks the derived sync state consumed by presentation
// surfaces: connectivity, cloud reachability, last successful sync, and
// the last error.
//
// The tracker holds no logic of its own; it is updated exclusively by the
// scheduler at well-defined transition points and read by anyone.
package status

import (
	"sync"
	"time"
)

// CloudStatus describes the engine's view of the remote store.
type CloudStatus string

const (
	// CloudUnknown means no sync has been attempted since startup.
	CloudUnknown CloudStatus = "unknown"
	// CloudConnected means the last push or sync succeeded.
	CloudConnected CloudStatus = "connected"
	// CloudUnavailable means the last push or sync failed.
	CloudUnavailable CloudStatus = "unavailable"
	// CloudDisabled means cloud sync is switched off.
	CloudDisabled CloudStatus = "disabled"
)

// Status is a point-in-time snapshot of sync state.
type Status struct {
	Online      bool        `json:"online"`
	Syncing     bool        `json:"syncing"`
	CloudStatus CloudStatus `json:"cloud_status"`
	LastSync    *time.Time  `json:"last_sync,omitempty"`
	LastError   string      `json:"last_error,omitempty"`
}

// Tracker is a concurrency-safe holder of the current Status with change
// notification for observers such as the dashboard.
type Tracker struct {
	mu       sync.RWMutex
	current  Status
	watchers []func(Status)
}

// NewTracker returns a tracker in the cold-start state: assumed online
// until the first real connectivity signal, cloud status unknown.
func NewTracker() *Tracker {
	return &Tracker{
		current: Status{Online: true, CloudStatus: CloudUnknown},
	}
}

// Snapshot returns the current status.
func (tr *Tracker) Snapshot() Status {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return tr.current
}

// OnChange registers a callback invoked after every status change. The
// callback runs on the mutating goroutine and must not block.
func (tr *Tracker) OnChange(fn func(Status)) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.watchers = append(tr.watchers, fn)
}

func (tr *Tracker) update(fn func(*Status)) {
	tr.mu.Lock()
	fn(&tr.current)
	snap := tr.current
	watchers := tr.watchers
	tr.mu.Unlock()

	for _, w := range watchers {
		w(snap)
	}
}

// SetOnline records the connectivity signal.
func (tr *Tracker) SetOnline(online bool) {
	tr.update(func(s *Status) { s.Online = online })
}

// SetSyncing records whether a reconciliation pass is in flight.
func (tr *Tracker) SetSyncing(syncing bool) {
	tr.update(func(s *Status) { s.Syncing = syncing })
}

// SetCloudStatus records the cloud reachability state.
func (tr *Tracker) SetCloudStatus(cs CloudStatus) {
	tr.update(func(s *Status) { s.CloudStatus = cs })
}

// RecordSuccess marks a completed pass: connected, last sync refreshed,
// error cleared.
func (tr *Tracker) RecordSuccess(at time.Time) {
	tr.update(func(s *Status) {
		s.CloudStatus = CloudConnected
		s.LastSync = &at
		s.LastError = ""
	})
}

// RecordFailure marks a failed pass: unavailable with the error message.
func (tr *Tracker) RecordFailure(msg string) {
	tr.update(func(s *Status) {
		s.CloudStatus = CloudUnavailable
		s.LastError = msg
	})
}

// ClearError removes the last error without touching other fields.
func (tr *Tracker) ClearError() {
	tr.update(func(s *Status) { s.LastError = "" })
}

// SetLastSync seeds the last sync time, used when loading persisted
// metadata at startup.
func (tr *Tracker) SetLastSync(at *time.Time) {
	tr.update(func(s *Status) { s.LastSync = at })
}
