// Package irq models a single-core interrupt controller.
//
// Peripherals call Raise to set a source's pending flag. A dispatcher
// goroutine (Run) plays the role of interrupt context: it calls the installed
// handler of every pending, enabled source, one handler at a time. Handlers
// must not block and must clear their own flag.
package irq

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Source identifies an interrupt source.
type Source int

const (
	Timer0 Source = iota
	Timer1
	Timer2
	External
	numSources
)

var sourceNames = [numSources]string{"timer0", "timer1", "timer2", "external"}

func (s Source) String() string {
	if s < 0 || s >= numSources {
		return fmt.Sprintf("source(%d)", int(s))
	}
	return sourceNames[s]
}

// Sources lists every source in dispatch priority order.
func Sources() []Source {
	return []Source{Timer0, Timer1, Timer2, External}
}

// Handler is an interrupt service routine.
type Handler func()

// Raiser is implemented by anything peripherals can signal.
type Raiser interface {
	Raise(src Source)
}

// FlagClearer is implemented by anything an ISR acknowledges.
type FlagClearer interface {
	ClearFlag(src Source)
}

// Stats counts activity for one source.
type Stats struct {
	Raised    uint64
	Serviced  uint64
	Coalesced uint64
}

type line struct {
	enabled atomic.Bool
	pending atomic.Bool
	masked  atomic.Int32
	handler atomic.Pointer[Handler]
	notify  chan struct{}

	raised    atomic.Uint64
	serviced  atomic.Uint64
	coalesced atomic.Uint64
}

// Controller holds enable bits, pending flags and handlers.
type Controller struct {
	lines  [numSources]line
	global atomic.Bool
	wake   chan struct{}

	// cpu is held while a handler runs and while a masked section runs,
	// so the two never interleave.
	cpu sync.Mutex
}

// New creates a controller with every source disabled and global
// interrupts off.
func New() *Controller {
	c := &Controller{wake: make(chan struct{}, 1)}
	for i := range c.lines {
		c.lines[i].notify = make(chan struct{}, 1)
	}
	return c
}

func (c *Controller) line(src Source) *line {
	if src < 0 || src >= numSources {
		panic(fmt.Sprintf("irq: invalid %v", src))
	}
	return &c.lines[src]
}

// Install sets the handler for src. A nil handler uninstalls it.
func (c *Controller) Install(src Source, h Handler) {
	l := c.line(src)
	if h == nil {
		l.handler.Store(nil)
		return
	}
	l.handler.Store(&h)
}

// Enable sets the source's enable bit. A flag already pending is
// dispatched straight away.
func (c *Controller) Enable(src Source) {
	c.line(src).enabled.Store(true)
	c.kick()
}

// Disable clears the source's enable bit. The pending flag still latches.
func (c *Controller) Disable(src Source) {
	c.line(src).enabled.Store(false)
}

// Enabled reports the source's enable bit.
func (c *Controller) Enabled(src Source) bool {
	return c.line(src).enabled.Load()
}

// EnableGlobal sets the global interrupt enable bit.
func (c *Controller) EnableGlobal() {
	c.global.Store(true)
	c.kick()
}

// DisableGlobal clears the global interrupt enable bit.
func (c *Controller) DisableGlobal() {
	c.global.Store(false)
}

// GlobalEnabled reports the global interrupt enable bit.
func (c *Controller) GlobalEnabled() bool {
	return c.global.Load()
}

// Raise latches the pending flag for src. If the flag is already set the
// event is coalesced into the pending one and counted. Raise never blocks.
func (c *Controller) Raise(src Source) {
	l := c.line(src)
	l.raised.Add(1)
	if !l.pending.CompareAndSwap(false, true) {
		l.coalesced.Add(1)
		return
	}
	select {
	case l.notify <- struct{}{}:
	default:
	}
	if l.enabled.Load() && c.global.Load() {
		c.kick()
	}
}

// ClearFlag clears the pending flag for src. Clearing a clear flag is a no-op.
func (c *Controller) ClearFlag(src Source) {
	c.line(src).pending.Store(false)
}

// Pending reports the pending flag for src.
func (c *Controller) Pending(src Source) bool {
	return c.line(src).pending.Load()
}

// WaitFlag blocks until the pending flag for src is set or ctx is done.
// It is the cooperative form of spinning on an interrupt flag.
func (c *Controller) WaitFlag(ctx context.Context, src Source) error {
	l := c.line(src)
	for {
		if l.pending.Load() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.notify:
		}
	}
}

// Masked runs fn with src held off and no handler running. It is the
// critical section for state shared between a handler and the main loop.
// The enable bit is not touched, so Enable or Disable calls made while fn
// runs stay in effect. A flag raised meanwhile is dispatched afterwards.
func (c *Controller) Masked(src Source, fn func()) {
	l := c.line(src)
	l.masked.Add(1)
	c.cpu.Lock()
	defer func() {
		l.masked.Add(-1)
		c.cpu.Unlock()
		if l.pending.Load() && l.enabled.Load() {
			c.kick()
		}
	}()
	fn()
}

// Masking reports whether a masked section for src is in progress.
func (c *Controller) Masking(src Source) bool {
	return c.line(src).masked.Load() > 0
}

// Stats returns counters for src.
func (c *Controller) Stats(src Source) Stats {
	l := c.line(src)
	return Stats{
		Raised:    l.raised.Load(),
		Serviced:  l.serviced.Load(),
		Coalesced: l.coalesced.Load(),
	}
}

// Run dispatches pending interrupts until ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.wake:
			c.Dispatch()
		}
	}
}

// Dispatch services every pending, enabled source once, in priority order.
// It returns the number of handlers run. Run calls it on every wake-up;
// tests may call it directly instead of starting Run.
func (c *Controller) Dispatch() int {
	if !c.global.Load() {
		return 0
	}
	c.cpu.Lock()
	defer c.cpu.Unlock()

	n := 0
	for i := range c.lines {
		l := &c.lines[i]
		if !l.enabled.Load() || !l.pending.Load() || l.masked.Load() > 0 {
			continue
		}
		h := l.handler.Load()
		if h == nil {
			continue
		}
		(*h)()
		l.serviced.Add(1)
		n++
	}
	return n
}

func (c *Controller) kick() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}
