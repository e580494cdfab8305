package program

import (
	"context"
	"log"
	"time"

	"github.com/sweeney/tickblink/internal/loop"
	"github.com/sweeney/tickblink/internal/tick"
	"github.com/sweeney/tickblink/internal/timer"
)

// Demo defaults.
const (
	timerClockHz     = 250_000
	defaultTick      = time.Millisecond
	defaultThreshold = 5000
)

func init() {
	register(Program{
		Name:        "timer0",
		Description: "poll the Timer0 overflow flag (1:256 from 0) and toggle RD0 on each overflow",
		Run:         polled(timer.Timer0, 256, 1, 0),
	})
	register(Program{
		Name:        "timer1",
		Description: "poll the Timer1 overflow flag (1:1 from 0) and toggle RD0 on each overflow",
		Run:         polled(timer.Timer1, 1, 1, 0),
	})
	register(Program{
		Name:        "timer2",
		Description: "poll the Timer2 match flag (1:16, postscale 1:15, PR2 255) and toggle RD0",
		Run:         polled(timer.Timer2, 16, 15, 255),
	})
	register(Program{
		Name:        "timer0-irq",
		Description: "Timer0 interrupt counts 1 ms ticks and toggles RD3 every 5000; main loop toggles RD0 every 1 s",
		Run:         runTimerInterrupt,
	})
}

// timerConfig uses Options.TickPeriod when set, else the demo's registers.
func (b *Board) timerConfig(t timer.Timer, clock, pre, post, reload uint32) (timer.Config, error) {
	if b.Options.TickPeriod > 0 {
		return timer.Configure(t, clock, b.Options.TickPeriod)
	}
	return timer.Fixed(t, clock, pre, post, reload)
}

// polled builds a program that spins on a timer's interrupt flag with the
// interrupt itself disabled.
func polled(t timer.Timer, pre, post, reload uint32) func(context.Context, *Board) error {
	return func(ctx context.Context, b *Board) error {
		clock := b.ConfigureClock(timerClockHz)
		cfg, err := b.timerConfig(t, clock, pre, post, reload)
		if err != nil {
			return err
		}
		led, err := b.Output("RD0")
		if err != nil {
			return err
		}

		src := t.Source()
		b.IRQ.ClearFlag(src)
		drv := b.StartTimer(ctx, cfg)
		kick := b.armWatchdog()
		log.Printf("program: %s polled, %s", t, cfg)

		for {
			if err := b.IRQ.WaitFlag(ctx, src); err != nil {
				return nil
			}
			if err := b.Toggle(led); err != nil {
				log.Printf("program: toggle %s: %v", led.Name(), err)
			}
			b.IRQ.ClearFlag(src)
			drv.Rearm()
			if kick != nil {
				kick.Reset()
			}
		}
	}
}

func runTimerInterrupt(ctx context.Context, b *Board) error {
	clock := b.ConfigureClock(timerClockHz)
	period := b.Options.TickPeriod
	if period <= 0 {
		period = defaultTick
	}
	cfg, err := timer.Configure(timer.Timer0, clock, period)
	if err != nil {
		return err
	}
	threshold := b.Options.Threshold
	if threshold == 0 && b.Options.ToggleEvery > 0 {
		threshold = tick.ThresholdFor(b.Options.ToggleEvery, cfg.Period())
	}
	if threshold == 0 {
		threshold = defaultThreshold
	}

	mainLED, err := b.Output("RD0")
	if err != nil {
		return err
	}
	tickLED, err := b.Output("RD3")
	if err != nil {
		return err
	}

	b.IRQ.ClearFlag(timer.Timer0.Source())
	drv := b.StartTimer(ctx, cfg)
	acc, err := tick.New(threshold, timer.Timer0.Source(), tickLED, drv, b.IRQ, b.events)
	if err != nil {
		return err
	}
	b.setAccumulator(acc)
	b.IRQ.Install(timer.Timer0.Source(), acc.Handle)
	b.IRQ.Enable(timer.Timer0.Source())
	b.IRQ.EnableGlobal()

	log.Printf("program: timer0-irq %s threshold=%d toggle every %v", cfg, threshold, time.Duration(threshold)*cfg.Period())

	return loop.Run(ctx, b.delay(time.Second), b.armWatchdog(), func() error {
		return b.Toggle(mainLED)
	})
}
