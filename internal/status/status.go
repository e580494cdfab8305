// Package status provides a thread-safe status tracker for the tickblink
// daemon. It is read by the HTTP handlers and the heartbeat.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/tickblink/internal/output"
	"github.com/sweeney/tickblink/internal/program"
)

// Config contains daemon configuration for display.
type Config struct {
	Program         string
	Chip            string
	ClockHz         uint32
	TickPeriod      time.Duration
	Threshold       uint32
	MainDelay       time.Duration
	Watchdog        bool
	WatchdogTimeout time.Duration
	Heartbeat       time.Duration
	Broker          string
	HTTPAddr        string
}

// Snapshot is a point-in-time view of daemon state. It is a value type,
// safe to use after the lock is released.
type Snapshot struct {
	Board         program.Snapshot
	Running       bool
	Resets        int
	LastReset     time.Time
	Toggles       map[output.Source]int
	LastToggle    output.Event
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
			Toggles:   make(map[output.Source]int),
		},
	}
}

// Update stores the latest board snapshot.
func (t *Tracker) Update(board program.Snapshot) {
	t.mu.Lock()
	t.snap.Board = board
	t.snap.Running = true
	t.mu.Unlock()
}

// RecordEvent counts a line change by source.
func (t *Tracker) RecordEvent(ev output.Event) {
	t.mu.Lock()
	t.snap.Toggles[ev.Source]++
	t.snap.LastToggle = ev
	t.mu.Unlock()
}

// RecordReset notes a watchdog reset.
func (t *Tracker) RecordReset(at time.Time, resets int) {
	t.mu.Lock()
	t.snap.Resets = resets
	t.snap.LastReset = at
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	s.Toggles = make(map[output.Source]int, len(t.snap.Toggles))
	for k, v := range t.snap.Toggles {
		s.Toggles[k] = v
	}
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
