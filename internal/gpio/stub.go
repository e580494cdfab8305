//go:build !linux

package gpio

import "time"

// RealPort is not available on non-Linux platforms.
type RealPort struct{}

// NewRealPort returns ErrNotSupported on non-Linux platforms.
func NewRealPort(chipName string) (*RealPort, error) {
	return nil, ErrNotSupported
}

func (p *RealPort) ConfigurePin(pin int, dir Direction) error { return ErrNotSupported }

func (p *RealPort) WritePin(pin int, v bool) error { return ErrNotSupported }

func (p *RealPort) ReadPin(pin int) (bool, error) { return false, ErrNotSupported }

func (p *RealPort) WatchPin(pin int, edge Edge, debounce time.Duration, fn func(Edge)) error {
	return ErrNotSupported
}

// Close is a no-op on non-Linux platforms.
func (p *RealPort) Close() error {
	return nil
}
