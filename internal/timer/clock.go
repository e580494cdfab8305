package timer

import "fmt"

// ircfHz maps the 3-bit internal oscillator frequency selector (OSCCON
// IRCF<2:0>) to Fosc in Hz.
var ircfHz = [8]uint32{
	31_000,
	125_000,
	250_000,
	500_000,
	1_000_000,
	2_000_000,
	4_000_000,
	8_000_000,
}

// ClockFromIRCF returns the oscillator frequency for an IRCF selector.
func ClockFromIRCF(ircf uint8) (uint32, error) {
	if int(ircf) >= len(ircfHz) {
		return 0, fmt.Errorf("ircf selector %#b out of range", ircf)
	}
	return ircfHz[ircf], nil
}

// IRCFForClock is the inverse of ClockFromIRCF.
func IRCFForClock(hz uint32) (uint8, error) {
	for i, f := range ircfHz {
		if f == hz {
			return uint8(i), nil
		}
	}
	return 0, fmt.Errorf("no internal oscillator setting for %d Hz", hz)
}
