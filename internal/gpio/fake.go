package gpio

import (
	"fmt"
	"sync"
	"time"
)

// FakePort is a test double that records writes and returns scripted levels.
// It is safe for concurrent use, since ISR handlers and main loops write
// from different goroutines.
type FakePort struct {
	mu sync.Mutex

	dirs     map[int]Direction
	levels   map[int]bool
	writes   map[int][]bool
	watchers map[int]fakeWatch

	// Closed tracks if Close was called.
	Closed bool

	// WriteError, if set, is returned by WritePin.
	WriteError error

	// ConfigureError, if set, is returned by ConfigurePin and WatchPin.
	ConfigureError error
}

type fakeWatch struct {
	edge     Edge
	debounce time.Duration
	fn       func(Edge)
}

// NewFakePort creates an empty FakePort.
func NewFakePort() *FakePort {
	f := &FakePort{}
	f.Reset()
	return f
}

// ConfigurePin records the direction. Outputs are driven low.
func (f *FakePort) ConfigurePin(pin int, dir Direction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ConfigureError != nil {
		return f.ConfigureError
	}
	f.dirs[pin] = dir
	if dir == Output {
		f.levels[pin] = false
	}
	return nil
}

// WritePin records the value and updates the pin level.
func (f *FakePort) WritePin(pin int, v bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.WriteError != nil {
		return f.WriteError
	}
	if dir, ok := f.dirs[pin]; !ok || dir != Output {
		return fmt.Errorf("pin %d not configured as output", pin)
	}
	f.levels[pin] = v
	f.writes[pin] = append(f.writes[pin], v)
	return nil
}

// ReadPin returns the current level of pin.
func (f *FakePort) ReadPin(pin int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.dirs[pin]; !ok {
		return false, fmt.Errorf("pin %d not configured", pin)
	}
	return f.levels[pin], nil
}

// WatchPin registers fn to be called by Trigger.
func (f *FakePort) WatchPin(pin int, edge Edge, debounce time.Duration, fn func(Edge)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ConfigureError != nil {
		return f.ConfigureError
	}
	f.dirs[pin] = Input
	f.watchers[pin] = fakeWatch{edge: edge, debounce: debounce, fn: fn}
	return nil
}

// SetInput sets the level an input pin reads back.
func (f *FakePort) SetInput(pin int, v bool) {
	f.mu.Lock()
	f.levels[pin] = v
	f.mu.Unlock()
}

// Trigger drives a watched input to the level implied by edge and calls the
// handler if the edge matches the watch. Reports whether the handler ran.
func (f *FakePort) Trigger(pin int, edge Edge) bool {
	f.mu.Lock()
	w, ok := f.watchers[pin]
	f.levels[pin] = edge == EdgeRising
	f.mu.Unlock()

	if !ok || (w.edge != EdgeBoth && w.edge != edge) {
		return false
	}
	w.fn(edge)
	return true
}

// Writes returns a copy of the values written to pin, oldest first.
func (f *FakePort) Writes(pin int) []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.writes[pin]...)
}

// Level returns the current level of pin without error checking.
func (f *FakePort) Level(pin int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.levels[pin]
}

// Dir returns the configured direction of pin.
func (f *FakePort) Dir(pin int) (Direction, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.dirs[pin]
	return d, ok
}

// Debounce returns the debounce requested for a watched pin.
func (f *FakePort) Debounce(pin int) time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.watchers[pin].debounce
}

// Close marks the port as closed.
func (f *FakePort) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

// Reset clears all recorded state.
func (f *FakePort) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dirs = make(map[int]Direction)
	f.levels = make(map[int]bool)
	f.writes = make(map[int][]bool)
	f.watchers = make(map[int]fakeWatch)
	f.Closed = false
	f.WriteError = nil
	f.ConfigureError = nil
}
