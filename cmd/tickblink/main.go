// Command tickblink runs one of the timer and interrupt demonstrations on
// Linux GPIO lines and publishes every line toggle to MQTT.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/sweeney/tickblink/internal/gpio"
	"github.com/sweeney/tickblink/internal/mqtt"
	"github.com/sweeney/tickblink/internal/output"
	"github.com/sweeney/tickblink/internal/program"
	"github.com/sweeney/tickblink/internal/status"
	"github.com/sweeney/tickblink/internal/supervisor"
	"github.com/sweeney/tickblink/internal/timer"
	"github.com/sweeney/tickblink/internal/watchdog"
	"github.com/sweeney/tickblink/internal/web"
)

// statusInterval is how often the tracker is refreshed from the board.
const statusInterval = 500 * time.Millisecond

type config struct {
	program     string
	chip        string
	clock       string
	tick        time.Duration
	threshold   uint
	toggleEvery time.Duration
	mainDelay   time.Duration
	debounce    time.Duration
	watchdog    bool
	wdtPS       string
	hangAfter   int
	maxResets   int
	broker      string
	heartbeat   time.Duration
	httpAddr    string
	mlock       bool
}

func main() {
	var cfg config
	flag.StringVar(&cfg.program, "program", "timer0-irq", "Program to run (see -list)")
	flag.StringVar(&cfg.chip, "chip", gpio.DefaultChip, "GPIO chip")
	flag.StringVar(&cfg.clock, "clock", "", "Internal oscillator: IRCF selector 0-7 or a frequency such as 250kHz (empty for the program default)")
	flag.DurationVar(&cfg.tick, "tick", 0, "Timer tick period (0 for the program default)")
	flag.UintVar(&cfg.threshold, "threshold", 0, "Ticks per timer-driven toggle (0 for the program default)")
	flag.DurationVar(&cfg.toggleEvery, "toggle-every", 0, "Timer-driven toggle interval, converted to a threshold (0 for the program default)")
	flag.DurationVar(&cfg.mainDelay, "main-delay", 0, "Main loop delay (0 for the program default)")
	flag.DurationVar(&cfg.debounce, "debounce", 0, "Input debounce (0 for the program default)")
	flag.BoolVar(&cfg.watchdog, "watchdog", false, "Enable the watchdog in the main loop")
	flag.StringVar(&cfg.wdtPS, "wdt-ps", "512:128", "Watchdog prescalers WDTPS:PS")
	flag.IntVar(&cfg.hangAfter, "hang-after", 0, "Stop acknowledging the watchdog after N main loop iterations (0 never)")
	flag.IntVar(&cfg.maxResets, "max-resets", 0, "Give up after N watchdog resets (0 unlimited)")
	flag.StringVar(&cfg.broker, "broker", "tcp://localhost:1883", "MQTT broker address")
	flag.DurationVar(&cfg.heartbeat, "heartbeat", 15*time.Minute, "Heartbeat interval (0 to disable)")
	flag.StringVar(&cfg.httpAddr, "http", ":8080", "HTTP status address (empty to disable)")
	flag.BoolVar(&cfg.mlock, "mlock", false, "Lock process memory to reduce timing jitter")
	list := flag.Bool("list", false, "List programs and exit")

	flag.Parse()

	if *list {
		listPrograms(os.Stdout)
		return
	}
	if err := run(cfg); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func listPrograms(f *os.File) {
	w := tabwriter.NewWriter(f, 0, 8, 2, ' ', 0)
	for _, p := range program.All() {
		fmt.Fprintf(w, "%s\t%s\n", p.Name, p.Description)
	}
	w.Flush()
}

// parseWDTPS parses "WDTPS:PS", e.g. "512:128".
func parseWDTPS(s string) (wdtps, ps uint32, err error) {
	a, b, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, fmt.Errorf("watchdog prescalers %q: want WDTPS:PS", s)
	}
	x, err := strconv.ParseUint(a, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("watchdog prescalers %q: %w", s, err)
	}
	y, err := strconv.ParseUint(b, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("watchdog prescalers %q: %w", s, err)
	}
	if err := watchdog.ValidatePrescalers(uint32(x), uint32(y)); err != nil {
		return 0, 0, err
	}
	return uint32(x), uint32(y), nil
}

// parseClock accepts an IRCF selector ("0" to "7") or one of the internal
// oscillator frequencies, e.g. "250kHz", "8MHz" or "31000".
func parseClock(s string) (uint32, error) {
	if n, err := strconv.ParseUint(s, 10, 8); err == nil && n < 8 {
		return timer.ClockFromIRCF(uint8(n))
	}
	num, mult := s, uint64(1)
	switch {
	case strings.HasSuffix(s, "MHz"):
		num, mult = strings.TrimSuffix(s, "MHz"), 1_000_000
	case strings.HasSuffix(s, "kHz"):
		num, mult = strings.TrimSuffix(s, "kHz"), 1000
	case strings.HasSuffix(s, "Hz"):
		num = strings.TrimSuffix(s, "Hz")
	}
	v, err := strconv.ParseUint(num, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("clock %q: %w", s, err)
	}
	hz := v * mult
	if hz > math.MaxUint32 {
		return 0, fmt.Errorf("clock %q out of range", s)
	}
	if _, err := timer.IRCFForClock(uint32(hz)); err != nil {
		return 0, err
	}
	return uint32(hz), nil
}

func (c config) options() (program.Options, error) {
	opts := program.Options{
		TickPeriod:  c.tick,
		ToggleEvery: c.toggleEvery,
		MainDelay:   c.mainDelay,
		Debounce:    c.debounce,
		Watchdog:    c.watchdog,
		HangAfter:   c.hangAfter,
	}
	if c.clock != "" {
		hz, err := parseClock(c.clock)
		if err != nil {
			return opts, err
		}
		opts.ClockHz = hz
	}
	if c.threshold > math.MaxUint32 {
		return opts, fmt.Errorf("threshold %d out of range", c.threshold)
	}
	if c.threshold > 0 && c.toggleEvery > 0 {
		return opts, fmt.Errorf("-threshold and -toggle-every are mutually exclusive")
	}
	opts.Threshold = uint32(c.threshold)

	wdtps, ps, err := parseWDTPS(c.wdtPS)
	if err != nil {
		return opts, err
	}
	opts.WatchdogTimeout = watchdog.Timeout(wdtps, ps)
	return opts, nil
}

func run(cfg config) error {
	p, err := program.Lookup(cfg.program)
	if err != nil {
		return err
	}
	opts, err := cfg.options()
	if err != nil {
		return err
	}

	if cfg.mlock {
		if err := lockMemory(); err != nil {
			return fmt.Errorf("lock memory: %w", err)
		}
		log.Printf("memory locked")
	}

	// Fail early if the chip cannot be opened at all.
	port, err := gpio.NewRealPort(cfg.chip)
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	if err := port.Close(); err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}

	publisher, err := mqtt.NewRealPublisher(cfg.broker, p.Name)
	if err != nil {
		return fmt.Errorf("init mqtt: %w", err)
	}
	defer publisher.Close()

	tracker := status.NewTracker(time.Now(), status.Config{
		Program:         p.Name,
		Chip:            cfg.chip,
		ClockHz:         opts.ClockHz,
		TickPeriod:      opts.TickPeriod,
		Threshold:       opts.Threshold,
		MainDelay:       opts.MainDelay,
		Watchdog:        opts.Watchdog,
		WatchdogTimeout: opts.WatchdogTimeout,
		Heartbeat:       cfg.heartbeat,
		Broker:          cfg.broker,
		HTTPAddr:        cfg.httpAddr,
	})

	snap := tracker.Snapshot()
	startup := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      mqtt.EventStartup,
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, mqtt.EventStartup, ""),
	}
	if err := publisher.PublishSystem(startup); err != nil {
		log.Printf("failed to publish startup event: %v", err)
	} else {
		log.Printf("published startup event")
	}

	if cfg.httpAddr != "" {
		srv := web.New(cfg.httpAddr, tracker)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http status server listening on %s", cfg.httpAddr)
	}

	events := make(chan output.Event, 256)
	resets := make(chan int, 16)
	sup := supervisor.New(supervisor.Config{
		Program: p,
		Options: opts,
		Open: func() (gpio.Port, error) {
			return gpio.NewRealPort(cfg.chip)
		},
		Events:    events,
		MaxResets: cfg.maxResets,
		OnReset: func(n int, _ error) {
			select {
			case resets <- n:
			default:
			}
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- sup.Run(ctx)
		close(done)
	}()

	log.Printf("started: program=%s chip=%s broker=%s heartbeat=%v watchdog=%v (%v)",
		p.Name, cfg.chip, cfg.broker, cfg.heartbeat, opts.Watchdog, opts.WatchdogTimeout)

	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	loopErr := runLoop(loopDeps{
		board:      sup.Board,
		publisher:  publisher,
		mqttStatus: publisher,
		tracker:    tracker,
		heartbeat:  cfg.heartbeat,
		now:        time.Now,
		tick:       ticker.C,
		events:     events,
		resets:     resets,
		done:       done,
		sig:        sigCh,
	})
	cancel()
	supErr := <-done
	if loopErr != nil {
		return loopErr
	}
	return supErr
}
