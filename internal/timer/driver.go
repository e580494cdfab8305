package timer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/sweeney/tickblink/internal/irq"
)

// State is the driver lifecycle state.
type State int32

const (
	Stopped State = iota
	Armed
)

func (s State) String() string {
	if s == Armed {
		return "ARMED"
	}
	return "STOPPED"
}

// jitterWindow is the number of overflow intervals kept for Jitter.
const jitterWindow = 256

// Jitter summarises measured overflow intervals.
type Jitter struct {
	Samples int
	Mean    time.Duration
	StdDev  time.Duration
}

// Driver simulates a free-running timer. Every overflow raises the timer's
// interrupt source. Without a reload the counter runs on from zero, so the
// next overflow comes after WrapPeriod; Rearm rewrites the reload value so
// the next overflow comes Period after the last one.
//
// Overflows are scheduled against the nominal time of the previous
// overflow, not against when a goroutine got round to it, so scheduler and
// handler latency never accumulate into the tick rate.
type Driver struct {
	cfg    Config
	raiser irq.Raiser

	state     atomic.Int32
	reload    chan struct{}
	overflows atomic.Uint64
	reloads   atomic.Uint64

	mu        sync.Mutex
	last      time.Time
	base      time.Time // nominal time of the last overflow
	due       time.Time // nominal time of the next overflow
	intervals []float64
	next      int
}

// NewDriver creates a stopped driver that raises cfg.Timer's source on r.
func NewDriver(cfg Config, r irq.Raiser) *Driver {
	return &Driver{
		cfg:       cfg,
		raiser:    r,
		reload:    make(chan struct{}, 1),
		intervals: make([]float64, 0, jitterWindow),
	}
}

// Config returns the register settings the driver was built with.
func (d *Driver) Config() Config {
	return d.cfg
}

// State returns the current lifecycle state.
func (d *Driver) State() State {
	return State(d.state.Load())
}

// Start loads the reload value and arms the timer. It returns the time to
// the first overflow.
func (d *Driver) Start(now time.Time) time.Duration {
	d.mu.Lock()
	d.last = now
	d.base = now
	d.due = now.Add(d.cfg.Period())
	d.mu.Unlock()
	d.state.Store(int32(Armed))
	return d.cfg.Period()
}

// Step records an overflow at now, raises the interrupt and returns the
// time to the next overflow assuming nothing rewrites the reload value.
// A stopped driver ignores the call and returns zero.
func (d *Driver) Step(now time.Time) time.Duration {
	if d.State() != Armed {
		return 0
	}

	d.mu.Lock()
	if !d.last.IsZero() {
		iv := float64(now.Sub(d.last))
		if len(d.intervals) < jitterWindow {
			d.intervals = append(d.intervals, iv)
		} else {
			d.intervals[d.next] = iv
		}
		d.next = (d.next + 1) % jitterWindow
	}
	d.last = now
	d.mu.Unlock()

	d.overflows.Add(1)
	d.raiser.Raise(d.cfg.Timer.Source())
	return d.cfg.WrapPeriod()
}

// overflow steps the driver for an overflow observed at now and returns the
// nominal time of the next one.
func (d *Driver) overflow(now time.Time) time.Time {
	next := d.Step(now)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.base = d.due
	d.due = d.base.Add(next)
	return d.due
}

// reloaded applies a Rearm and returns the nominal time of the next
// overflow.
func (d *Driver) reloaded() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.due = d.base.Add(d.cfg.Period())
	return d.due
}

// Rearm rewrites the reload value. It is called from interrupt context
// and never blocks.
func (d *Driver) Rearm() {
	d.reloads.Add(1)
	select {
	case d.reload <- struct{}{}:
	default:
	}
}

// Overflows returns the number of overflows since Start.
func (d *Driver) Overflows() uint64 {
	return d.overflows.Load()
}

// Reloads returns the number of Rearm calls.
func (d *Driver) Reloads() uint64 {
	return d.reloads.Load()
}

// Jitter returns statistics over the most recent overflow intervals.
func (d *Driver) Jitter() Jitter {
	d.mu.Lock()
	samples := append([]float64(nil), d.intervals...)
	d.mu.Unlock()

	if len(samples) == 0 {
		return Jitter{}
	}
	mean, std := stat.MeanStdDev(samples, nil)
	if len(samples) < 2 {
		std = 0
	}
	return Jitter{
		Samples: len(samples),
		Mean:    time.Duration(mean),
		StdDev:  time.Duration(std),
	}
}

// Run arms the timer and produces overflows until ctx is done.
func (d *Driver) Run(ctx context.Context) error {
	t := time.NewTimer(d.Start(time.Now()))
	defer t.Stop()
	defer d.state.Store(int32(Stopped))

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-t.C:
			resetTimer(t, time.Until(d.overflow(now)))
		case <-d.reload:
			resetTimer(t, time.Until(d.reloaded()))
		}
	}
}

// resetTimer stops, drains and resets t.
func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	if d < 0 {
		d = 0
	}
	t.Reset(d)
}
