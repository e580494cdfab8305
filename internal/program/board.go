package program

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sweeney/tickblink/internal/gpio"
	"github.com/sweeney/tickblink/internal/irq"
	"github.com/sweeney/tickblink/internal/output"
	"github.com/sweeney/tickblink/internal/tick"
	"github.com/sweeney/tickblink/internal/timer"
	"github.com/sweeney/tickblink/internal/watchdog"
)

// Options tune a program run. Zero values select each program's defaults.
type Options struct {
	ClockHz    uint32
	TickPeriod time.Duration
	Threshold  uint32
	MainDelay  time.Duration
	Debounce   time.Duration

	// ToggleEvery sets the tick threshold from an interval when Threshold
	// is zero.
	ToggleEvery time.Duration

	// Watchdog enables the watchdog in programs that acknowledge it.
	Watchdog        bool
	WatchdogTimeout time.Duration

	// HangAfter stops watchdog acknowledgement after that many main loop
	// iterations (0 = never).
	HangAfter int

	// Pins overrides gpio.DefaultPins by name.
	Pins map[string]int
}

// Board is the hardware a program runs on: one port, one interrupt
// controller, one watchdog. A fresh Board is built for every (re)start.
type Board struct {
	Port     gpio.Port
	IRQ      *irq.Controller
	Watchdog *watchdog.Watchdog
	Options  Options

	events chan<- output.Event
	spawn  func(func() error)

	clockHz atomic.Uint32
	dropped atomic.Uint64

	mu      sync.Mutex
	lines   map[string]*output.Line
	drivers []*timer.Driver
	acc     *tick.Accumulator
}

// NewBoard builds a board. events may be nil. spawn starts background
// work (timer drivers); nil runs it on a plain goroutine.
func NewBoard(port gpio.Port, opts Options, events chan<- output.Event, spawn func(func() error)) *Board {
	if spawn == nil {
		spawn = func(f func() error) { go f() }
	}
	timeout := opts.WatchdogTimeout
	if timeout <= 0 {
		timeout = watchdog.Timeout(watchdog.DefaultWDTPS, watchdog.DefaultPS)
	}
	return &Board{
		Port:     port,
		IRQ:      irq.New(),
		Watchdog: watchdog.New(timeout),
		Options:  opts,
		events:   events,
		spawn:    spawn,
		lines:    make(map[string]*output.Line),
	}
}

// ConfigureClock selects the oscillator frequency: the explicit option if
// set, else the program's default.
func (b *Board) ConfigureClock(defaultHz uint32) uint32 {
	hz := defaultHz
	if b.Options.ClockHz != 0 {
		hz = b.Options.ClockHz
	}
	b.clockHz.Store(hz)
	return hz
}

// ClockHz returns the configured oscillator frequency.
func (b *Board) ClockHz() uint32 {
	return b.clockHz.Load()
}

func (b *Board) pin(name string) (int, error) {
	if pin, ok := b.Options.Pins[name]; ok {
		return pin, nil
	}
	return gpio.Lookup(name)
}

// Output configures the named pin as an output driven low.
func (b *Board) Output(name string) (*output.Line, error) {
	pin, err := b.pin(name)
	if err != nil {
		return nil, err
	}
	l, err := output.NewLine(b.Port, name, pin, false)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.lines[name] = l
	b.mu.Unlock()
	b.Emit(l, false, output.SourceInit)
	return l, nil
}

// Outputs configures several outputs in order.
func (b *Board) Outputs(names ...string) ([]*output.Line, error) {
	lines := make([]*output.Line, 0, len(names))
	for _, n := range names {
		l, err := b.Output(n)
		if err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, nil
}

// Input configures the named pin as an input and returns its offset.
func (b *Board) Input(name string) (int, error) {
	pin, err := b.pin(name)
	if err != nil {
		return 0, err
	}
	if err := b.Port.ConfigurePin(pin, gpio.Input); err != nil {
		return 0, fmt.Errorf("configure %s: %w", name, err)
	}
	return pin, nil
}

// StartTimer creates a driver for cfg and runs it until ctx is done.
func (b *Board) StartTimer(ctx context.Context, cfg timer.Config) *timer.Driver {
	d := timer.NewDriver(cfg, b.IRQ)
	b.mu.Lock()
	b.drivers = append(b.drivers, d)
	b.mu.Unlock()
	b.spawn(func() error { return d.Run(ctx) })
	return d
}

func (b *Board) setAccumulator(acc *tick.Accumulator) {
	b.mu.Lock()
	b.acc = acc
	b.mu.Unlock()
}

// Emit reports a line change without blocking.
func (b *Board) Emit(l *output.Line, state bool, src output.Source) {
	if b.events == nil {
		return
	}
	select {
	case b.events <- output.Event{Timestamp: time.Now(), Line: l.Name(), State: state, Source: src}:
	default:
		b.dropped.Add(1)
	}
}

// Toggle flips l from the main loop and reports it.
func (b *Board) Toggle(l *output.Line) error {
	state, err := l.Toggle()
	if err != nil {
		return err
	}
	b.Emit(l, state, output.SourceMain)
	return nil
}

// Set writes l from the main loop and reports it if it changed.
func (b *Board) Set(l *output.Line, v bool, src output.Source) error {
	prev := l.State()
	if err := l.Set(v); err != nil {
		return err
	}
	if prev != v {
		b.Emit(l, v, src)
	}
	return nil
}

// LineState is a line's name and level.
type LineState struct {
	Name  string
	State bool
}

// TimerState describes a running timer driver.
type TimerState struct {
	Config    timer.Config
	State     timer.State
	Overflows uint64
	Reloads   uint64
	Jitter    timer.Jitter
}

// IRQState holds counters for one interrupt source.
type IRQState struct {
	Source  irq.Source
	Enabled bool
	irq.Stats
}

// Snapshot is a point-in-time view of the board.
type Snapshot struct {
	ClockHz       uint32
	Lines         []LineState
	Timers        []TimerState
	IRQ           []IRQState
	HasTicks      bool
	Elapsed       uint32
	Threshold     uint32
	TickToggles   uint64
	TickFaults    uint64
	DroppedEvents uint64
	Watchdog      bool
}

// Snapshot collects the board's state. The tick counter is read inside a
// masked section so it is never observed mid-update.
func (b *Board) Snapshot() Snapshot {
	b.mu.Lock()
	lines := make([]*output.Line, 0, len(b.lines))
	for _, l := range b.lines {
		lines = append(lines, l)
	}
	drivers := append([]*timer.Driver(nil), b.drivers...)
	acc := b.acc
	b.mu.Unlock()

	s := Snapshot{
		ClockHz:       b.ClockHz(),
		DroppedEvents: b.dropped.Load(),
		Watchdog:      b.Watchdog.Enabled(),
	}

	sort.Slice(lines, func(i, j int) bool { return lines[i].Name() < lines[j].Name() })
	for _, l := range lines {
		s.Lines = append(s.Lines, LineState{Name: l.Name(), State: l.State()})
	}
	for _, d := range drivers {
		s.Timers = append(s.Timers, TimerState{
			Config:    d.Config(),
			State:     d.State(),
			Overflows: d.Overflows(),
			Reloads:   d.Reloads(),
			Jitter:    d.Jitter(),
		})
	}
	for _, src := range irq.Sources() {
		st := b.IRQ.Stats(src)
		if st.Raised == 0 && !b.IRQ.Enabled(src) {
			continue
		}
		s.IRQ = append(s.IRQ, IRQState{Source: src, Enabled: b.IRQ.Enabled(src), Stats: st})
	}
	if acc != nil {
		s.HasTicks = true
		s.Threshold = acc.Threshold()
		s.TickToggles = acc.Toggles()
		s.TickFaults = acc.Faults()
		s.DroppedEvents += acc.Dropped()
		b.IRQ.Masked(acc.Source(), func() {
			s.Elapsed = acc.Elapsed()
		})
	}
	return s
}
