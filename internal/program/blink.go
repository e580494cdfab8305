package program

import (
	"context"
	"time"

	"github.com/sweeney/tickblink/internal/loop"
	"github.com/sweeney/tickblink/internal/output"
)

func init() {
	register(Program{
		Name:        "blink",
		Description: "toggle RD0-RD3 together every 2 s",
		Run:         runBlink,
	})
	register(Program{
		Name:        "shift",
		Description: "walk a single lit LED across RD0-RD7 every 500 ms",
		Run:         runShift,
	})
}

func runBlink(ctx context.Context, b *Board) error {
	b.ConfigureClock(8_000_000)
	lines, err := b.Outputs("RD0", "RD1", "RD2", "RD3")
	if err != nil {
		return err
	}

	return loop.Run(ctx, b.delay(2*time.Second), b.armWatchdog(), func() error {
		for _, l := range lines {
			if err := b.Toggle(l); err != nil {
				return err
			}
		}
		return nil
	})
}

func runShift(ctx context.Context, b *Board) error {
	b.ConfigureClock(8_000_000)
	lines, err := b.Outputs("RD0", "RD1", "RD2", "RD3", "RD4", "RD5", "RD6", "RD7")
	if err != nil {
		return err
	}
	bank, err := output.NewBank(lines...)
	if err != nil {
		return err
	}

	index := uint(1)
	return loop.Run(ctx, b.delay(500*time.Millisecond), b.armWatchdog(), func() error {
		prev := bank.Value()
		next := uint8(index)
		index <<= 1
		if index >= 256 {
			index = 1
		}

		if err := bank.Write(next); err != nil {
			return err
		}
		for i, l := range bank.Lines() {
			if (prev^next)&(1<<i) != 0 {
				b.Emit(l, l.State(), output.SourceMain)
			}
		}
		return nil
	})
}
