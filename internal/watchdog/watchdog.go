// Package watchdog models a watchdog timer clocked from the 31 kHz
// low-frequency oscillator.
//
// While enabled and awake, the watchdog must be Reset before its timeout or
// Run returns ErrTimeout, which the supervisor treats as a full reset.
// While asleep, a timeout wakes the sleeper instead.
package watchdog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sweeney/tickblink/internal/mathx"
)

// ClockHz is the watchdog's oscillator frequency.
const ClockHz = 31_000

// Reset defaults: WDTCON WDTPS 1:512 and OPTION_REG PS 1:128, ~2.1 s.
const (
	DefaultWDTPS = 512
	DefaultPS    = 128
)

// ErrTimeout is returned by Run when the watchdog expires while awake.
var ErrTimeout = errors.New("watchdog timeout")

// Timeout returns the watchdog period for the two prescaler stages.
func Timeout(wdtps, ps uint32) time.Duration {
	return time.Duration(mathx.RoundDiv(uint64(wdtps)*uint64(ps)*uint64(time.Second), ClockHz))
}

// ValidatePrescalers checks both stages against the hardware ratios:
// WDTPS 1:32 to 1:65536 and PS 1:1 to 1:128, powers of two.
func ValidatePrescalers(wdtps, ps uint32) error {
	if wdtps < 32 || wdtps > 65536 || wdtps&(wdtps-1) != 0 {
		return fmt.Errorf("watchdog: unsupported WDTPS 1:%d", wdtps)
	}
	if ps < 1 || ps > 128 || ps&(ps-1) != 0 {
		return fmt.Errorf("watchdog: unsupported PS 1:%d", ps)
	}
	return nil
}

// Watchdog is a countdown that must be acknowledged periodically.
type Watchdog struct {
	timeout time.Duration

	mu      sync.Mutex
	enabled bool
	asleep  bool

	kick chan struct{}
	wake chan struct{}
}

// New creates a disabled watchdog with the given timeout.
func New(timeout time.Duration) *Watchdog {
	return &Watchdog{
		timeout: timeout,
		kick:    make(chan struct{}, 1),
		wake:    make(chan struct{}, 1),
	}
}

// Timeout returns the watchdog period.
func (w *Watchdog) Timeout() time.Duration {
	return w.timeout
}

// Enable starts the countdown from a cleared count.
func (w *Watchdog) Enable() {
	w.mu.Lock()
	w.enabled = true
	w.mu.Unlock()
	w.Reset()
}

// Disable stops the countdown.
func (w *Watchdog) Disable() {
	w.mu.Lock()
	w.enabled = false
	w.mu.Unlock()
}

// Enabled reports whether the countdown is running.
func (w *Watchdog) Enabled() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enabled
}

// Reset clears the count. It never blocks.
func (w *Watchdog) Reset() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

// Sleep clears the count and blocks until the next timeout wakes the
// device or ctx is done. With the watchdog disabled only ctx ends the
// sleep. Run must be active for the timeout to fire.
func (w *Watchdog) Sleep(ctx context.Context) error {
	select {
	case <-w.wake:
	default:
	}
	w.mu.Lock()
	w.asleep = true
	w.mu.Unlock()
	w.Reset()

	defer func() {
		w.mu.Lock()
		w.asleep = false
		w.mu.Unlock()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-w.wake:
		return nil
	}
}

// Run counts down until ctx is done. It returns ErrTimeout if the period
// elapses while the watchdog is enabled and awake.
func (w *Watchdog) Run(ctx context.Context) error {
	t := time.NewTimer(w.timeout)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.kick:
			if !t.Stop() {
				select {
				case <-t.C:
				default:
				}
			}
			t.Reset(w.timeout)
		case <-t.C:
			w.mu.Lock()
			enabled, asleep := w.enabled, w.asleep
			w.mu.Unlock()

			switch {
			case enabled && asleep:
				select {
				case w.wake <- struct{}{}:
				default:
				}
			case enabled:
				return ErrTimeout
			}
			t.Reset(w.timeout)
		}
	}
}
