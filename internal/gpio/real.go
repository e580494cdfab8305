//go:build linux

package gpio

import (
	"fmt"
	"sync"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

const consumer = "tickblink"

// RealPort drives pins on a Linux GPIO character device.
type RealPort struct {
	mu    sync.Mutex
	chip  *gpiocdev.Chip
	lines map[int]*gpiocdev.Line
}

// NewRealPort opens the named GPIO chip (e.g. "gpiochip0").
func NewRealPort(chipName string) (*RealPort, error) {
	chip, err := gpiocdev.NewChip(chipName, gpiocdev.WithConsumer(consumer))
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}
	return &RealPort{
		chip:  chip,
		lines: make(map[int]*gpiocdev.Line),
	}, nil
}

// ConfigurePin requests the line with the given direction, or reconfigures
// it if it is already held.
func (p *RealPort) ConfigurePin(pin int, dir Direction) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if l, ok := p.lines[pin]; ok {
		var err error
		if dir == Output {
			err = l.Reconfigure(gpiocdev.AsOutput(0))
		} else {
			err = l.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullUp)
		}
		if err != nil {
			return fmt.Errorf("reconfigure pin %d as %s: %w", pin, dir, err)
		}
		return nil
	}

	var opts []gpiocdev.LineReqOption
	if dir == Output {
		opts = append(opts, gpiocdev.AsOutput(0))
	} else {
		// Polled inputs are active-low buttons.
		opts = append(opts, gpiocdev.AsInput, gpiocdev.WithPullUp)
	}
	l, err := p.chip.RequestLine(pin, opts...)
	if err != nil {
		return fmt.Errorf("request pin %d as %s: %w", pin, dir, err)
	}
	p.lines[pin] = l
	return nil
}

// WritePin drives a previously configured output.
func (p *RealPort) WritePin(pin int, v bool) error {
	l, err := p.line(pin)
	if err != nil {
		return err
	}
	val := 0
	if v {
		val = 1
	}
	if err := l.SetValue(val); err != nil {
		return fmt.Errorf("write pin %d: %w", pin, err)
	}
	return nil
}

// ReadPin returns the level of a previously configured pin.
func (p *RealPort) ReadPin(pin int) (bool, error) {
	l, err := p.line(pin)
	if err != nil {
		return false, err
	}
	v, err := l.Value()
	if err != nil {
		return false, fmt.Errorf("read pin %d: %w", pin, err)
	}
	return v != 0, nil
}

// WatchPin requests pin as an input with edge detection. Debouncing is done
// by the kernel, so fn sees only settled edges.
func (p *RealPort) WatchPin(pin int, edge Edge, debounce time.Duration, fn func(Edge)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if l, ok := p.lines[pin]; ok {
		l.Close()
		delete(p.lines, pin)
	}

	opts := []gpiocdev.LineReqOption{
		gpiocdev.AsInput,
		gpiocdev.WithPullDown,
		gpiocdev.WithEventHandler(func(evt gpiocdev.LineEvent) {
			if evt.Type == gpiocdev.LineEventFallingEdge {
				fn(EdgeFalling)
				return
			}
			fn(EdgeRising)
		}),
	}
	switch edge {
	case EdgeRising:
		opts = append(opts, gpiocdev.WithRisingEdge)
	case EdgeFalling:
		opts = append(opts, gpiocdev.WithFallingEdge)
	case EdgeBoth:
		opts = append(opts, gpiocdev.WithBothEdges)
	default:
		return fmt.Errorf("watch pin %d: no edge selected", pin)
	}
	if debounce > 0 {
		opts = append(opts, gpiocdev.WithDebounce(debounce))
	}

	l, err := p.chip.RequestLine(pin, opts...)
	if err != nil {
		return fmt.Errorf("watch pin %d: %w", pin, err)
	}
	p.lines[pin] = l
	return nil
}

func (p *RealPort) line(pin int) (*gpiocdev.Line, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.lines[pin]
	if !ok {
		return nil, fmt.Errorf("pin %d not configured", pin)
	}
	return l, nil
}

// Close releases all lines and the chip.
// Lines are returned to input with pull-down first so nothing is left
// driving the header after exit.
func (p *RealPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for pin, l := range p.lines {
		if err := l.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure pin %d: %w", pin, err))
		}
		if err := l.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pin %d: %w", pin, err))
		}
	}
	p.lines = make(map[int]*gpiocdev.Line)

	if p.chip != nil {
		if err := p.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
