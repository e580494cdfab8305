// Package loop runs the cooperative main loop of a program.
package loop

import (
	"context"
	"log"
	"time"
)

// Kicker acknowledges a watchdog.
type Kicker interface {
	Reset()
}

// Step is one iteration of a main loop body.
type Step func() error

// Run calls step, acknowledges the watchdog if kick is non-nil, then waits
// delay, forever. It returns nil when ctx is done. Step errors are logged
// and the loop carries on: firmware has no caller to report them to.
func Run(ctx context.Context, delay time.Duration, kick Kicker, step Step) error {
	t := time.NewTimer(0)
	defer t.Stop()
	<-t.C

	for {
		if err := step(); err != nil {
			log.Printf("loop: step error: %v", err)
		}
		if kick != nil {
			kick.Reset()
		}

		t.Reset(delay)
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

// Delay waits d or until ctx is done, reporting whether the full delay
// elapsed. It replaces a busy-wait delay inside straight-line code.
func Delay(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
