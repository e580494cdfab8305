package program

import (
	"context"
	"time"

	"github.com/sweeney/tickblink/internal/gpio"
	"github.com/sweeney/tickblink/internal/irq"
	"github.com/sweeney/tickblink/internal/loop"
	"github.com/sweeney/tickblink/internal/output"
)

func init() {
	register(Program{
		Name:        "extint",
		Description: "toggle RD3 on each rising edge of RB0 (external interrupt); blink RD7 every 1 s",
		Run:         runExtInt,
	})
}

func runExtInt(ctx context.Context, b *Board) error {
	b.ConfigureClock(8_000_000)
	led, err := b.Output("RD3")
	if err != nil {
		return err
	}
	heartbeat, err := b.Output("RD7")
	if err != nil {
		return err
	}
	pin, err := b.pin("RB0")
	if err != nil {
		return err
	}

	b.IRQ.Install(irq.External, func() {
		b.IRQ.ClearFlag(irq.External)
		if state, err := led.Toggle(); err == nil {
			b.Emit(led, state, output.SourceExternal)
		}
	})

	b.IRQ.ClearFlag(irq.External)

	// Contact bounce is filtered by the line request, so the handler
	// itself never waits.
	err = b.Port.WatchPin(pin, gpio.EdgeRising, b.debounce(200*time.Millisecond), func(gpio.Edge) {
		b.IRQ.Raise(irq.External)
	})
	if err != nil {
		return err
	}
	b.IRQ.Enable(irq.External)
	b.IRQ.EnableGlobal()

	return loop.Run(ctx, b.delay(time.Second), b.armWatchdog(), func() error {
		return b.Toggle(heartbeat)
	})
}
