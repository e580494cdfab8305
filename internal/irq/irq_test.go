package irq

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestRaiseSetsPendingFlag(t *testing.T) {
	c := New()

	if c.Pending(Timer0) {
		t.Fatal("flag should start clear")
	}
	c.Raise(Timer0)
	if !c.Pending(Timer0) {
		t.Error("flag should be set after Raise")
	}
	if c.Pending(Timer1) {
		t.Error("raising timer0 should not touch timer1")
	}
}

func TestClearFlagIdempotent(t *testing.T) {
	c := New()
	c.Raise(Timer0)

	c.ClearFlag(Timer0)
	once := c.Pending(Timer0)
	c.ClearFlag(Timer0)
	twice := c.Pending(Timer0)

	if once || twice {
		t.Errorf("flag after clear: once=%v twice=%v, want false false", once, twice)
	}
}

func TestRaiseWhilePendingCoalesces(t *testing.T) {
	c := New()

	c.Raise(Timer0)
	c.Raise(Timer0)
	c.Raise(Timer0)

	st := c.Stats(Timer0)
	if st.Raised != 3 {
		t.Errorf("Raised: got %d, want 3", st.Raised)
	}
	if st.Coalesced != 2 {
		t.Errorf("Coalesced: got %d, want 2", st.Coalesced)
	}
}

func TestDispatchRequiresEnableBits(t *testing.T) {
	tests := []struct {
		name   string
		source bool
		global bool
		want   int
	}{
		{"both off", false, false, 0},
		{"source only", true, false, 0},
		{"global only", false, true, 0},
		{"both on", true, true, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New()
			calls := 0
			c.Install(Timer0, func() {
				calls++
				c.ClearFlag(Timer0)
			})
			if tt.source {
				c.Enable(Timer0)
			}
			if tt.global {
				c.EnableGlobal()
			}
			c.Raise(Timer0)

			if n := c.Dispatch(); n != tt.want {
				t.Errorf("Dispatch: got %d, want %d", n, tt.want)
			}
			if calls != tt.want {
				t.Errorf("handler calls: got %d, want %d", calls, tt.want)
			}
		})
	}
}

func TestDispatchSkipsSourcesWithoutHandler(t *testing.T) {
	c := New()
	c.Enable(Timer1)
	c.EnableGlobal()
	c.Raise(Timer1)

	if n := c.Dispatch(); n != 0 {
		t.Errorf("Dispatch: got %d, want 0", n)
	}
	if !c.Pending(Timer1) {
		t.Error("flag should stay pending with no handler")
	}
}

func TestDisabledSourceStillLatches(t *testing.T) {
	c := New()
	c.EnableGlobal()
	c.Raise(Timer2)

	if !c.Pending(Timer2) {
		t.Error("flag should latch while disabled (polled mode)")
	}
}

func TestRunServicesRaisedInterrupts(t *testing.T) {
	c := New()
	done := make(chan struct{}, 10)
	c.Install(External, func() {
		c.ClearFlag(External)
		done <- struct{}{}
	})
	c.Enable(External)
	c.EnableGlobal()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	for i := 0; i < 3; i++ {
		c.Raise(External)
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatalf("interrupt %d not serviced", i)
		}
	}

	// Serviced is bumped after the handler returns.
	deadline := time.Now().Add(time.Second)
	for c.Stats(External).Serviced != 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := c.Stats(External).Serviced; got != 3 {
		t.Errorf("Serviced: got %d, want 3", got)
	}
}

func TestEnableDispatchesAlreadyPendingFlag(t *testing.T) {
	c := New()
	done := make(chan struct{}, 1)
	c.Install(Timer0, func() {
		c.ClearFlag(Timer0)
		done <- struct{}{}
	})
	c.EnableGlobal()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	c.Raise(Timer0)
	c.Enable(Timer0)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pending flag not serviced after Enable")
	}
}

func TestWaitFlag(t *testing.T) {
	c := New()

	go func() {
		time.Sleep(10 * time.Millisecond)
		c.Raise(Timer1)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.WaitFlag(ctx, Timer1); err != nil {
		t.Fatalf("WaitFlag: %v", err)
	}
	if !c.Pending(Timer1) {
		t.Error("flag should be set when WaitFlag returns")
	}
}

func TestWaitFlagCancelled(t *testing.T) {
	c := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := c.WaitFlag(ctx, Timer1); err == nil {
		t.Error("expected error from cancelled context")
	}
}

func TestMaskedExcludesHandlers(t *testing.T) {
	c := New()
	var mu sync.Mutex
	inMasked := false
	overlap := false

	c.Install(Timer0, func() {
		mu.Lock()
		if inMasked {
			overlap = true
		}
		mu.Unlock()
		c.ClearFlag(Timer0)
	})
	c.Enable(Timer0)
	c.EnableGlobal()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
				c.Raise(Timer0)
			}
		}
	}()

	for i := 0; i < 100; i++ {
		c.Masked(Timer0, func() {
			mu.Lock()
			inMasked = true
			mu.Unlock()
			if !c.Masking(Timer0) {
				t.Error("Masking should report the section in progress")
			}
			mu.Lock()
			inMasked = false
			mu.Unlock()
		})
	}
	close(stop)

	if overlap {
		t.Error("handler ran inside a masked section")
	}
	if !c.Enabled(Timer0) {
		t.Error("enable bit should survive Masked")
	}
	if c.Masking(Timer0) {
		t.Error("Masking after the section returned")
	}
}

func TestMaskedKeepsEnableChangesMadeInside(t *testing.T) {
	c := New()
	c.Masked(Timer0, func() { c.Enable(Timer0) })
	if !c.Enabled(Timer0) {
		t.Error("Enable issued inside Masked was undone")
	}

	c.Enable(Timer1)
	c.Masked(Timer1, func() { c.Disable(Timer1) })
	if c.Enabled(Timer1) {
		t.Error("Disable issued inside Masked was undone")
	}
}

func TestMaskedDefersDispatch(t *testing.T) {
	c := New()
	var serviced int
	c.Install(Timer0, func() {
		serviced++
		c.ClearFlag(Timer0)
	})
	c.Enable(Timer0)
	c.EnableGlobal()

	done := make(chan int)
	c.Masked(Timer0, func() {
		c.Raise(Timer0)
		go func() { done <- c.Dispatch() }()
		// Dispatch is blocked until the section ends.
		select {
		case n := <-done:
			t.Errorf("Dispatch ran %d handlers inside Masked", n)
		case <-time.After(20 * time.Millisecond):
		}
	})
	if n := <-done; n != 1 {
		t.Errorf("Dispatch after Masked: got %d, want 1", n)
	}
	if serviced != 1 {
		t.Errorf("serviced: got %d, want 1", serviced)
	}
}

func TestMaskedKeepsDisabledSourceDisabled(t *testing.T) {
	c := New()
	c.Masked(Timer2, func() {})
	if c.Enabled(Timer2) {
		t.Error("Masked should not enable a disabled source")
	}
}

func TestSourceString(t *testing.T) {
	want := map[Source]string{Timer0: "timer0", Timer1: "timer1", Timer2: "timer2", External: "external"}
	for s, name := range want {
		if s.String() != name {
			t.Errorf("%d: got %q, want %q", s, s.String(), name)
		}
	}
	if Source(42).String() != "source(42)" {
		t.Errorf("unknown source: got %q", Source(42).String())
	}
	if len(Sources()) != int(numSources) {
		t.Errorf("Sources: got %d entries, want %d", len(Sources()), numSources)
	}
}
