package program

import (
	"context"
	"log"
)

func init() {
	register(Program{
		Name:        "wdt",
		Description: "show 1010 on RD0-RD3, sleep until the watchdog wakes the device, then show 0101",
		Run:         runWatchdogWake,
	})
}

func runWatchdogWake(ctx context.Context, b *Board) error {
	b.ConfigureClock(8_000_000)
	lines, err := b.Outputs("RD0", "RD1", "RD2", "RD3")
	if err != nil {
		return err
	}

	if err := b.writePattern(lines, 0b0101); err != nil {
		return err
	}

	b.Watchdog.Enable()
	log.Printf("program: sleeping until watchdog wake (%v)", b.Watchdog.Timeout())
	if err := b.Watchdog.Sleep(ctx); err != nil {
		return nil
	}
	log.Printf("program: woken by watchdog")

	if err := b.writePattern(lines, 0b1010); err != nil {
		return err
	}
	b.Watchdog.Disable()

	<-ctx.Done()
	return nil
}
