// Package gpio provides digital pin access with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotSupported is returned by RealPort on platforms without GPIO cdev.
var ErrNotSupported = errors.New("gpio: not supported on this platform (requires Linux)")

// Direction is the data direction of a pin (the TRIS bit).
type Direction int

const (
	Output Direction = iota
	Input
)

func (d Direction) String() string {
	if d == Input {
		return "input"
	}
	return "output"
}

// Edge selects which transitions of an input pin raise an event.
type Edge int

const (
	EdgeNone Edge = iota
	EdgeRising
	EdgeFalling
	EdgeBoth
)

func (e Edge) String() string {
	switch e {
	case EdgeRising:
		return "rising"
	case EdgeFalling:
		return "falling"
	case EdgeBoth:
		return "both"
	}
	return "none"
}

// Port is a bank of digital pins addressed by line offset.
type Port interface {
	// ConfigurePin sets the direction of a pin. Outputs start low.
	ConfigurePin(pin int, dir Direction) error

	// WritePin drives an output pin.
	WritePin(pin int, v bool) error

	// ReadPin returns the current level of a pin.
	ReadPin(pin int) (bool, error)

	// WatchPin configures pin as an input and calls fn for every matching edge.
	// fn runs on the port's event goroutine and must not block.
	WatchPin(pin int, edge Edge, debounce time.Duration, fn func(Edge)) error

	// Close releases GPIO resources.
	Close() error
}

// DefaultChip is the GPIO chip used when none is given.
const DefaultChip = "gpiochip0"

// DefaultPins maps the demo board's PORTB/PORTD pin names to BCM offsets
// on a Raspberry Pi header.
var DefaultPins = map[string]int{
	"RB0": 17,
	"RD0": 5,
	"RD1": 6,
	"RD2": 13,
	"RD3": 19,
	"RD4": 26,
	"RD5": 16,
	"RD6": 20,
	"RD7": 21,
}

// Lookup resolves a pin name in DefaultPins.
func Lookup(name string) (int, error) {
	pin, ok := DefaultPins[name]
	if !ok {
		return 0, fmt.Errorf("gpio: unknown pin %q", name)
	}
	return pin, nil
}
