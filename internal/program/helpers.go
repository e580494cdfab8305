package program

import (
	"log"
	"time"

	"github.com/sweeney/tickblink/internal/loop"
	"github.com/sweeney/tickblink/internal/output"
	"github.com/sweeney/tickblink/internal/watchdog"
)

func (b *Board) delay(def time.Duration) time.Duration {
	if b.Options.MainDelay > 0 {
		return b.Options.MainDelay
	}
	return def
}

func (b *Board) debounce(def time.Duration) time.Duration {
	if b.Options.Debounce > 0 {
		return b.Options.Debounce
	}
	return def
}

// armWatchdog enables the watchdog if requested and returns what the main
// loop should acknowledge it with, or nil.
func (b *Board) armWatchdog() loop.Kicker {
	if !b.Options.Watchdog {
		return nil
	}
	b.Watchdog.Enable()
	if b.Options.HangAfter > 0 {
		return &hangingKicker{w: b.Watchdog, left: b.Options.HangAfter}
	}
	return b.Watchdog
}

// hangingKicker stops acknowledging the watchdog after a fixed number of
// iterations, standing in for a main loop that has locked up.
type hangingKicker struct {
	w    *watchdog.Watchdog
	left int
}

func (k *hangingKicker) Reset() {
	switch {
	case k.left > 0:
		k.left--
		k.w.Reset()
	case k.left == 0:
		log.Printf("program: main loop stopped acknowledging the watchdog")
		k.left = -1
	}
}

// writePattern sets lines from bits, bit 0 to lines[0].
func (b *Board) writePattern(lines []*output.Line, bits uint8) error {
	for i, l := range lines {
		if err := b.Set(l, bits&(1<<i) != 0, output.SourceMain); err != nil {
			return err
		}
	}
	return nil
}
