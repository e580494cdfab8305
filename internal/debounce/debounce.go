// Package debounce turns noisy digital samples into stable levels.
// It has no I/O; time is passed in with every sample.
package debounce

import "time"

// Detector tracks one input and reports debounced transitions.
type Detector struct {
	window       time.Duration
	stable       bool
	pending      bool
	hasPending   bool
	pendingSince time.Time
	baselined    bool
	transitions  int
}

// New creates a detector that accepts a level once it has been seen
// continuously for window.
func New(window time.Duration) *Detector {
	return &Detector{window: window}
}

// Process takes a sample and reports whether the stable level changed.
// No transition is reported while the first stable level (the baseline)
// is being established.
func (d *Detector) Process(level bool, now time.Time) (changed bool) {
	if !d.baselined {
		if !d.hasPending || d.pending != level {
			d.pending = level
			d.hasPending = true
			d.pendingSince = now
		}
		if now.Sub(d.pendingSince) >= d.window {
			d.stable = level
			d.baselined = true
			d.hasPending = false
		}
		return false
	}

	if level == d.stable {
		d.hasPending = false
		return false
	}

	if !d.hasPending || d.pending != level {
		d.pending = level
		d.hasPending = true
		d.pendingSince = now
	}
	if now.Sub(d.pendingSince) < d.window {
		return false
	}

	d.stable = level
	d.hasPending = false
	d.transitions++
	return true
}

// Stable returns the current debounced level.
func (d *Detector) Stable() bool {
	return d.stable
}

// IsBaselined reports whether a stable level has been established.
func (d *Detector) IsBaselined() bool {
	return d.baselined
}

// Transitions returns the number of transitions reported.
func (d *Detector) Transitions() int {
	return d.transitions
}
