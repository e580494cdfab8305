package program

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/tickblink/internal/gpio"
	"github.com/sweeney/tickblink/internal/irq"
	"github.com/sweeney/tickblink/internal/output"
	"github.com/sweeney/tickblink/internal/watchdog"
)

// Pin offsets from gpio.DefaultPins.
const (
	pinRB0 = 17
	pinRD0 = 5
	pinRD1 = 6
	pinRD2 = 13
	pinRD3 = 19
	pinRD7 = 21
)

type harness struct {
	port   *gpio.FakePort
	board  *Board
	events chan output.Event
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	results []error
}

// start runs the named program with the interrupt dispatcher and the
// watchdog alongside, the way the supervisor does.
func start(t *testing.T, name string, opts Options) *harness {
	t.Helper()
	p, err := Lookup(name)
	if err != nil {
		t.Fatal(err)
	}

	h := &harness{
		port:   gpio.NewFakePort(),
		events: make(chan output.Event, 1024),
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.board = NewBoard(h.port, opts, h.events, h.spawn)

	h.spawn(func() error { return h.board.IRQ.Run(ctx) })
	h.spawn(func() error { return h.board.Watchdog.Run(ctx) })
	h.spawn(func() error { return p.Run(ctx, h.board) })

	t.Cleanup(h.stop)
	return h
}

func (h *harness) spawn(f func() error) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		if err := f(); err != nil {
			h.mu.Lock()
			h.results = append(h.results, err)
			h.mu.Unlock()
		}
	}()
}

func (h *harness) stop() {
	h.cancel()
	h.wg.Wait()
}

func (h *harness) errs() []error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]error(nil), h.results...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRegistry(t *testing.T) {
	want := []string{"blink", "button", "extint", "shift", "timer0", "timer0-irq", "timer1", "timer2", "wdt"}
	if got := Names(); !reflect.DeepEqual(got, want) {
		t.Errorf("Names: got %v, want %v", got, want)
	}
	for _, p := range All() {
		if p.Description == "" || p.Run == nil {
			t.Errorf("%s: incomplete registration", p.Name)
		}
	}
	if _, err := Lookup("adc"); err == nil {
		t.Error("expected error for unknown program")
	}
}

func TestOutputUnknownPin(t *testing.T) {
	b := NewBoard(gpio.NewFakePort(), Options{}, nil, nil)
	if _, err := b.Output("RC9"); err == nil {
		t.Error("expected error for unmapped pin")
	}
}

func TestPinOverride(t *testing.T) {
	port := gpio.NewFakePort()
	b := NewBoard(port, Options{Pins: map[string]int{"RD0": 40}}, nil, nil)
	l, err := b.Output("RD0")
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Set(l, true, output.SourceMain); err != nil {
		t.Fatal(err)
	}
	if !port.Level(40) {
		t.Error("override pin 40 should be driven high")
	}
}

func TestConfigureClock(t *testing.T) {
	b := NewBoard(gpio.NewFakePort(), Options{}, nil, nil)
	if got := b.ConfigureClock(8_000_000); got != 8_000_000 {
		t.Errorf("default: got %d", got)
	}
	b = NewBoard(gpio.NewFakePort(), Options{ClockHz: 500_000}, nil, nil)
	if got := b.ConfigureClock(8_000_000); got != 500_000 {
		t.Errorf("override: got %d", got)
	}
	if b.ClockHz() != 500_000 {
		t.Errorf("ClockHz: got %d", b.ClockHz())
	}
}

func TestEmitNeverBlocks(t *testing.T) {
	events := make(chan output.Event, 1)
	b := NewBoard(gpio.NewFakePort(), Options{}, events, nil)
	l, err := b.Output("RD0") // fills the buffer with the init event
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		b.Toggle(l)
		b.Toggle(l)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Toggle blocked on a full event channel")
	}
	if got := b.Snapshot().DroppedEvents; got != 2 {
		t.Errorf("DroppedEvents: got %d, want 2", got)
	}
}

func TestBlinkTogglesTogether(t *testing.T) {
	h := start(t, "blink", Options{MainDelay: 2 * time.Millisecond})

	waitFor(t, "three blinks", func() bool { return len(h.port.Writes(pinRD0)) >= 4 })
	h.stop()

	want := h.port.Writes(pinRD0)
	for _, pin := range []int{pinRD1, pinRD2, pinRD3} {
		if got := h.port.Writes(pin); !reflect.DeepEqual(got, want) {
			t.Errorf("pin %d writes %v, want %v", pin, got, want)
		}
	}
	if want[0] || !want[1] || want[2] {
		t.Errorf("RD0 sequence: got %v, want init low then alternating", want)
	}
	if h.board.ClockHz() != 8_000_000 {
		t.Errorf("clock: got %d, want 8 MHz", h.board.ClockHz())
	}
}

func TestShiftLightsOneLED(t *testing.T) {
	h := start(t, "shift", Options{MainDelay: time.Millisecond})

	// Every step rewrites the whole bank: init plus nine steps reaches
	// RD7 and wraps back to RD0.
	waitFor(t, "walk past RD7", func() bool { return len(h.port.Writes(pinRD0)) >= 10 })
	h.stop()

	lit := 0
	for _, l := range h.board.Snapshot().Lines {
		if l.State {
			lit++
		}
	}
	if lit != 1 {
		t.Errorf("lit LEDs: got %d, want 1", lit)
	}
	if got := h.port.Writes(pinRD7); len(got) < 9 || !got[8] {
		t.Errorf("RD7 should be lit on the eighth step, writes %v", got)
	}
}

func TestButtonMirrorsInvertedInput(t *testing.T) {
	port := gpio.NewFakePort()
	port.SetInput(pinRB0, true) // released, pulled up

	p, _ := Lookup("button")
	b := NewBoard(port, Options{MainDelay: time.Millisecond, Debounce: 3 * time.Millisecond}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, b) }()
	defer func() {
		cancel()
		<-done
	}()

	time.Sleep(20 * time.Millisecond)
	if port.Level(pinRD0) {
		t.Fatal("RD0 should be off while the button is released")
	}

	port.SetInput(pinRB0, false)
	waitFor(t, "RD0 on", func() bool { return port.Level(pinRD0) })

	port.SetInput(pinRB0, true)
	waitFor(t, "RD0 off", func() bool { return !port.Level(pinRD0) })

	if d, ok := port.Dir(pinRB0); !ok || d != gpio.Input {
		t.Errorf("RB0 direction: got %v", d)
	}
}

func TestExtIntTogglesOnRisingEdge(t *testing.T) {
	h := start(t, "extint", Options{MainDelay: time.Hour})

	waitFor(t, "external interrupt enabled", func() bool { return h.board.IRQ.Enabled(irq.External) })
	if got := h.port.Debounce(pinRB0); got != 200*time.Millisecond {
		t.Errorf("debounce: got %v, want 200ms", got)
	}

	if !h.port.Trigger(pinRB0, gpio.EdgeRising) {
		t.Fatal("rising edge not watched")
	}
	waitFor(t, "RD3 on", func() bool { return h.port.Level(pinRD3) })

	if h.port.Trigger(pinRB0, gpio.EdgeFalling) {
		t.Error("falling edge should not be watched")
	}

	h.port.Trigger(pinRB0, gpio.EdgeRising)
	waitFor(t, "RD3 off", func() bool { return !h.port.Level(pinRD3) })
	h.stop()

	if h.board.IRQ.Pending(irq.External) {
		t.Error("handler should clear the flag")
	}
	var external int
	for len(h.events) > 0 {
		if ev := <-h.events; ev.Source == output.SourceExternal {
			external++
		}
	}
	if external != 2 {
		t.Errorf("external events: got %d, want 2", external)
	}
	// The main loop ran its first step immediately.
	if !h.port.Level(pinRD7) {
		t.Error("RD7 should have toggled once")
	}
}

func TestTimerInterruptTogglesAtThreshold(t *testing.T) {
	h := start(t, "timer0-irq", Options{
		TickPeriod: time.Millisecond,
		Threshold:  5,
		MainDelay:  time.Hour,
	})

	waitFor(t, "two tick toggles", func() bool { return len(h.port.Writes(pinRD3)) >= 3 })
	h.stop()

	s := h.board.Snapshot()
	if !s.HasTicks || s.Threshold != 5 {
		t.Errorf("snapshot ticks: %+v", s)
	}
	if s.Elapsed >= 5 {
		t.Errorf("Elapsed %d out of range", s.Elapsed)
	}
	if len(s.Timers) != 1 || s.Timers[0].Config.Prescaler != 64 {
		t.Errorf("timers: %+v", s.Timers)
	}
	if len(s.IRQ) == 0 || s.IRQ[0].Source != irq.Timer0 || !s.IRQ[0].Enabled {
		t.Errorf("irq: %+v", s.IRQ)
	}
	// The main loop is independent: one immediate step, then an hour wait.
	if got := len(h.port.Writes(pinRD0)); got != 2 {
		t.Errorf("RD0 writes: got %d, want 2", got)
	}
}

func TestPolledTimers(t *testing.T) {
	for _, name := range []string{"timer0", "timer1", "timer2"} {
		t.Run(name, func(t *testing.T) {
			h := start(t, name, Options{TickPeriod: 2 * time.Millisecond})

			waitFor(t, "RD0 toggles", func() bool { return len(h.port.Writes(pinRD0)) >= 4 })
			h.stop()

			for _, src := range irq.Sources() {
				if h.board.IRQ.Enabled(src) {
					t.Errorf("%s should stay disabled when polling", src)
				}
			}
			if h.board.ClockHz() != timerClockHz {
				t.Errorf("clock: got %d", h.board.ClockHz())
			}
		})
	}
}

func TestWatchdogWake(t *testing.T) {
	h := start(t, "wdt", Options{WatchdogTimeout: 100 * time.Millisecond})

	waitFor(t, "1010 pattern", func() bool {
		return h.port.Level(pinRD0) && !h.port.Level(pinRD1) && h.port.Level(pinRD2)
	})
	waitFor(t, "0101 pattern after wake", func() bool {
		return !h.port.Level(pinRD0) && h.port.Level(pinRD1) && h.port.Level(pinRD3)
	})
	waitFor(t, "watchdog disabled", func() bool { return !h.board.Watchdog.Enabled() })

	time.Sleep(50 * time.Millisecond)
	if errs := h.errs(); len(errs) != 0 {
		t.Errorf("unexpected errors: %v", errs)
	}
}

func TestHangAfterTripsWatchdog(t *testing.T) {
	h := start(t, "blink", Options{
		MainDelay:       2 * time.Millisecond,
		Watchdog:        true,
		WatchdogTimeout: 30 * time.Millisecond,
		HangAfter:       3,
	})

	waitFor(t, "watchdog timeout", func() bool {
		for _, err := range h.errs() {
			if errors.Is(err, watchdog.ErrTimeout) {
				return true
			}
		}
		return false
	})
}

func TestHealthyLoopKeepsWatchdogQuiet(t *testing.T) {
	h := start(t, "blink", Options{
		MainDelay:       2 * time.Millisecond,
		Watchdog:        true,
		WatchdogTimeout: 50 * time.Millisecond,
	})

	time.Sleep(200 * time.Millisecond)
	if errs := h.errs(); len(errs) != 0 {
		t.Errorf("unexpected errors: %v", errs)
	}
	if !h.board.Watchdog.Enabled() {
		t.Error("watchdog should be enabled")
	}
}

func TestTimerInterruptToggleEvery(t *testing.T) {
	h := start(t, "timer0-irq", Options{
		ToggleEvery: 50 * time.Millisecond,
		MainDelay:   time.Hour,
	})
	waitFor(t, "tick accumulator", func() bool { return h.board.Snapshot().HasTicks })

	// 50 ms of 1.024 ms ticks.
	if got := h.board.Snapshot().Threshold; got != 49 {
		t.Errorf("Threshold: got %d, want 49", got)
	}
}

func TestTimerInterruptCadence(t *testing.T) {
	const threshold = 50
	h := start(t, "timer0-irq", Options{Threshold: threshold, MainDelay: time.Hour})

	var stamps []time.Time
	deadline := time.After(3 * time.Second)
	for len(stamps) < 11 {
		select {
		case ev := <-h.events:
			if ev.Line == "RD3" && ev.Source == output.SourceTimer {
				stamps = append(stamps, ev.Timestamp)
			}
		case <-deadline:
			t.Fatalf("got %d tick toggles, want 11", len(stamps))
		}
	}

	// 1:64 from 255 at 250 kHz: 1.024 ms per tick.
	want := threshold * 1024 * time.Microsecond
	got := stamps[len(stamps)-1].Sub(stamps[0]) / time.Duration(len(stamps)-1)
	if diff := got - want; diff < -want/50 || diff > want/50 {
		t.Errorf("mean toggle interval: got %v, want %v within 2%%", got, want)
	}
}
