// Package timer computes timer register settings and drives simulated
// hardware timers that raise periodic interrupts.
//
// Timers count the instruction clock, Fosc/4, through a prescaler. Timer0
// and Timer1 overflow at their counter width and must have their reload
// value rewritten after every overflow. Timer2 resets itself when it
// matches its period register and has an extra output postscaler.
package timer

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/sweeney/tickblink/internal/irq"
	"github.com/sweeney/tickblink/internal/mathx"
)

// Tolerance is the largest relative period error Configure accepts.
const Tolerance = 0.05

// ErrUnachievable is returned when no prescaler setting gets within
// Tolerance of the requested period.
var ErrUnachievable = errors.New("tick period unachievable")

// Timer selects one of the hardware timers.
type Timer int

const (
	Timer0 Timer = iota
	Timer1
	Timer2
)

type model struct {
	name        string
	width       uint32
	prescalers  []uint32
	postscalers []uint32
	autoReload  bool
	source      irq.Source
}

var models = map[Timer]model{
	Timer0: {
		name:        "timer0",
		width:       1 << 8,
		prescalers:  []uint32{1, 2, 4, 8, 16, 32, 64, 128, 256},
		postscalers: []uint32{1},
		source:      irq.Timer0,
	},
	Timer1: {
		name:        "timer1",
		width:       1 << 16,
		prescalers:  []uint32{1, 2, 4, 8},
		postscalers: []uint32{1},
		source:      irq.Timer1,
	},
	Timer2: {
		name:        "timer2",
		width:       1 << 8,
		prescalers:  []uint32{1, 4, 16},
		postscalers: []uint32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
		autoReload:  true,
		source:      irq.Timer2,
	},
}

func (t Timer) model() (model, error) {
	m, ok := models[t]
	if !ok {
		return model{}, fmt.Errorf("unknown timer %d", int(t))
	}
	return m, nil
}

func (t Timer) String() string {
	if m, ok := models[t]; ok {
		return m.name
	}
	return fmt.Sprintf("timer(%d)", int(t))
}

// Source returns the interrupt source the timer raises.
func (t Timer) Source() irq.Source {
	return models[t].source
}

// Width returns the number of counts before the counter wraps.
func (t Timer) Width() uint32 {
	return models[t].width
}

// Config is an immutable set of timer register values.
type Config struct {
	Timer      Timer
	ClockHz    uint32
	Prescaler  uint32
	Postscaler uint32
	// Reload is the value written to the count register after each
	// overflow (Timer0/Timer1) or the period register (Timer2).
	Reload uint32
}

// Counts returns the counter increments per tick.
func (c Config) Counts() uint32 {
	if models[c.Timer].autoReload {
		return c.Reload + 1
	}
	return c.Timer.Width() - c.Reload
}

// Period returns the tick period.
func (c Config) Period() time.Duration {
	return c.periodFor(c.Counts())
}

// WrapPeriod returns the time to the next overflow when the reload value is
// not rewritten and the counter runs on from zero.
func (c Config) WrapPeriod() time.Duration {
	if models[c.Timer].autoReload {
		return c.Period()
	}
	return c.periodFor(c.Timer.Width())
}

// AutoReload reports whether the hardware reloads the counter itself.
func (c Config) AutoReload() bool {
	return models[c.Timer].autoReload
}

func (c Config) periodFor(counts uint32) time.Duration {
	if c.ClockHz == 0 {
		return 0
	}
	cycles := uint64(counts) * 4 * uint64(c.Prescaler) * uint64(c.Postscaler)
	return time.Duration(mathx.RoundDiv(cycles*uint64(time.Second), uint64(c.ClockHz)))
}

// RateHz returns the tick rate rounded to the nearest hertz.
func (c Config) RateHz() uint32 {
	return mathx.RoundDiv(c.ClockHz, 4*c.Prescaler*c.Postscaler*c.Counts())
}

func (c Config) String() string {
	return fmt.Sprintf("%s fosc=%dHz pre=1:%d post=1:%d reload=%d period=%v",
		c.Timer, c.ClockHz, c.Prescaler, c.Postscaler, c.Reload, c.Period())
}

// Configure picks register values for a tick as close as possible to
// desired, preferring the largest total divider whose count fits the
// counter, so the interrupt rate stays low.
func Configure(t Timer, clockHz uint32, desired time.Duration) (Config, error) {
	m, err := t.model()
	if err != nil {
		return Config{}, err
	}
	if clockHz == 0 {
		return Config{}, errors.New("configure timer: clock frequency is zero")
	}
	if desired <= 0 {
		return Config{}, fmt.Errorf("configure timer: invalid period %v", desired)
	}

	for _, d := range dividers(m) {
		counts := math.Round(desired.Seconds() * float64(clockHz) / float64(4*d.pre*d.post))
		if counts < 1 || counts > float64(m.width) {
			continue
		}
		cfg := Config{Timer: t, ClockHz: clockHz, Prescaler: d.pre, Postscaler: d.post}
		if m.autoReload {
			cfg.Reload = uint32(counts) - 1
		} else {
			cfg.Reload = m.width - uint32(counts)
		}
		if withinTolerance(cfg.Period(), desired) {
			return cfg, nil
		}
	}
	return Config{}, fmt.Errorf("configure %s for %v at %d Hz: %w", t, desired, clockHz, ErrUnachievable)
}

// Fixed validates explicit register values.
func Fixed(t Timer, clockHz, prescaler, postscaler, reload uint32) (Config, error) {
	m, err := t.model()
	if err != nil {
		return Config{}, err
	}
	if clockHz == 0 {
		return Config{}, errors.New("fixed timer: clock frequency is zero")
	}
	if !contains(m.prescalers, prescaler) {
		return Config{}, fmt.Errorf("%s: unsupported prescaler 1:%d", t, prescaler)
	}
	if !contains(m.postscalers, postscaler) {
		return Config{}, fmt.Errorf("%s: unsupported postscaler 1:%d", t, postscaler)
	}
	if reload >= m.width {
		return Config{}, fmt.Errorf("%s: reload %d exceeds %d-count register", t, reload, m.width)
	}
	return Config{Timer: t, ClockHz: clockHz, Prescaler: prescaler, Postscaler: postscaler, Reload: reload}, nil
}

type divider struct{ pre, post uint32 }

// dividers returns every prescaler/postscaler pair, largest product first
// and, on ties, largest prescaler first.
func dividers(m model) []divider {
	var out []divider
	for _, pre := range m.prescalers {
		for _, post := range m.postscalers {
			out = append(out, divider{pre, post})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		pi, pj := out[i].pre*out[i].post, out[j].pre*out[j].post
		if pi != pj {
			return pi > pj
		}
		return out[i].pre > out[j].pre
	})
	return out
}

func withinTolerance(actual, desired time.Duration) bool {
	diff := math.Abs(float64(actual - desired))
	return diff <= Tolerance*float64(desired)
}

func contains(list []uint32, v uint32) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
