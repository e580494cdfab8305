// Package tick implements the interrupt-driven tick accumulator: a counter
// bumped once per timer interrupt that toggles an output every threshold
// ticks.
package tick

import (
	"errors"
	"math"
	"sync/atomic"
	"time"

	"github.com/sweeney/tickblink/internal/irq"
	"github.com/sweeney/tickblink/internal/output"
)

// Rearmer rewrites a timer's reload value.
type Rearmer interface {
	Rearm()
}

// Accumulator counts ticks in interrupt context.
//
// elapsed has a single writer, Handle. Readers outside interrupt context
// use Elapsed, which is an atomic load.
type Accumulator struct {
	threshold uint32
	src       irq.Source
	line      *output.Line
	timer     Rearmer
	flags     irq.FlagClearer
	events    chan<- output.Event

	elapsed atomic.Uint32
	toggles atomic.Uint64
	dropped atomic.Uint64
	faults  atomic.Uint64
}

// New creates an accumulator that toggles line every threshold ticks of
// src. events may be nil; sends on it never block.
func New(threshold uint32, src irq.Source, line *output.Line, timer Rearmer, flags irq.FlagClearer, events chan<- output.Event) (*Accumulator, error) {
	if threshold == 0 {
		return nil, errors.New("tick threshold must be at least 1")
	}
	return &Accumulator{
		threshold: threshold,
		src:       src,
		line:      line,
		timer:     timer,
		flags:     flags,
		events:    events,
	}, nil
}

// Handle is the interrupt service routine. It acknowledges the interrupt,
// reloads the timer and counts the tick.
func (a *Accumulator) Handle() {
	a.flags.ClearFlag(a.src)
	a.timer.Rearm()

	n := a.elapsed.Load() + 1
	if n < a.threshold {
		a.elapsed.Store(n)
		return
	}
	a.elapsed.Store(0)

	state, err := a.line.Toggle()
	if err != nil {
		a.faults.Add(1)
		return
	}
	a.toggles.Add(1)

	if a.events == nil {
		return
	}
	select {
	case a.events <- output.Event{Timestamp: time.Now(), Line: a.line.Name(), State: state, Source: output.SourceTimer}:
	default:
		a.dropped.Add(1)
	}
}

// Elapsed returns ticks since the last toggle, in [0, Threshold).
func (a *Accumulator) Elapsed() uint32 {
	return a.elapsed.Load()
}

// Source returns the interrupt source the accumulator services.
func (a *Accumulator) Source() irq.Source {
	return a.src
}

// Threshold returns the ticks per toggle.
func (a *Accumulator) Threshold() uint32 {
	return a.threshold
}

// Toggles returns the number of successful toggles.
func (a *Accumulator) Toggles() uint64 {
	return a.toggles.Load()
}

// Dropped returns events not delivered because the channel was full.
func (a *Accumulator) Dropped() uint64 {
	return a.dropped.Load()
}

// Faults returns toggles that failed to write the pin.
func (a *Accumulator) Faults() uint64 {
	return a.faults.Load()
}

// ThresholdFor returns the number of ticks of length tick closest to
// interval, at least 1.
func ThresholdFor(interval, tick time.Duration) uint32 {
	if tick <= 0 || interval <= tick {
		return 1
	}
	n := math.Round(float64(interval) / float64(tick))
	if n > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(n)
}
