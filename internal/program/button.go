package program

import (
	"context"
	"time"

	"github.com/sweeney/tickblink/internal/debounce"
	"github.com/sweeney/tickblink/internal/loop"
	"github.com/sweeney/tickblink/internal/output"
)

func init() {
	register(Program{
		Name:        "button",
		Description: "light RD0 while the active-low button on RB0 is pressed",
		Run:         runButton,
	})
}

func runButton(ctx context.Context, b *Board) error {
	b.ConfigureClock(8_000_000)
	led, err := b.Output("RD0")
	if err != nil {
		return err
	}
	pin, err := b.Input("RB0")
	if err != nil {
		return err
	}

	det := debounce.New(b.debounce(10 * time.Millisecond))
	return loop.Run(ctx, b.delay(50*time.Millisecond), b.armWatchdog(), func() error {
		level, err := b.Port.ReadPin(pin)
		if err != nil {
			return err
		}
		det.Process(level, time.Now())
		if !det.IsBaselined() {
			return nil
		}
		return b.Set(led, !det.Stable(), output.SourceInput)
	})
}
