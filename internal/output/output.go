// Package output drives digital output lines.
package output

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sweeney/tickblink/internal/gpio"
)

// Source names the timing domain that changed a line.
type Source string

const (
	SourceMain     Source = "main"
	SourceTimer    Source = "timer"
	SourceExternal Source = "external"
	SourceInput    Source = "input"
	SourceInit     Source = "init"
)

// Event reports a line change, for publishing and status.
type Event struct {
	Timestamp time.Time
	Line      string
	State     bool
	Source    Source
}

// Line is a single output pin and its last written state.
//
// A Line belongs to exactly one timing domain. State is atomic only so
// that status readers never see a torn value.
type Line struct {
	name  string
	pin   int
	port  gpio.Port
	state atomic.Bool
}

// NewLine configures pin as an output and drives it to initial.
func NewLine(port gpio.Port, name string, pin int, initial bool) (*Line, error) {
	if err := port.ConfigurePin(pin, gpio.Output); err != nil {
		return nil, fmt.Errorf("configure %s: %w", name, err)
	}
	l := &Line{name: name, pin: pin, port: port}
	if err := l.Set(initial); err != nil {
		return nil, err
	}
	return l, nil
}

// Name returns the line's pin name (e.g. "RD3").
func (l *Line) Name() string {
	return l.name
}

// State returns the last written state.
func (l *Line) State() bool {
	return l.state.Load()
}

// Set writes an explicit state.
func (l *Line) Set(v bool) error {
	if err := l.port.WritePin(l.pin, v); err != nil {
		return fmt.Errorf("write %s: %w", l.name, err)
	}
	l.state.Store(v)
	return nil
}

// Toggle flips the line and returns the new state. On a write error the
// recorded state is left unchanged.
func (l *Line) Toggle() (bool, error) {
	next := !l.state.Load()
	if err := l.Set(next); err != nil {
		return !next, err
	}
	return next, nil
}

// Bank writes a byte across up to eight lines, bit 0 to lines[0].
type Bank struct {
	lines []*Line
}

// NewBank groups lines. More than eight is an error.
func NewBank(lines ...*Line) (*Bank, error) {
	if len(lines) > 8 {
		return nil, fmt.Errorf("bank of %d lines exceeds 8", len(lines))
	}
	return &Bank{lines: lines}, nil
}

// Write sets line i to bit i of v.
func (b *Bank) Write(v uint8) error {
	for i, l := range b.lines {
		if err := l.Set(v&(1<<i) != 0); err != nil {
			return err
		}
	}
	return nil
}

// Value reads the bank back as a byte.
func (b *Bank) Value() uint8 {
	var v uint8
	for i, l := range b.lines {
		if l.State() {
			v |= 1 << i
		}
	}
	return v
}

// Lines returns the lines in bit order.
func (b *Bank) Lines() []*Line {
	return b.lines
}

// StateString renders a boolean line state.
func StateString(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}
