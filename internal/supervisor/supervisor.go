// Package supervisor runs a program on a fresh board and restarts it from
// its initial state whenever the watchdog expires.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/sweeney/tickblink/internal/gpio"
	"github.com/sweeney/tickblink/internal/output"
	"github.com/sweeney/tickblink/internal/program"
	"github.com/sweeney/tickblink/internal/watchdog"
)

// ErrTooManyResets is returned when MaxResets is exceeded.
var ErrTooManyResets = errors.New("too many watchdog resets")

// Config describes what to supervise.
type Config struct {
	Program program.Program
	Options program.Options

	// Open returns the port for one run. It is closed when the run ends.
	Open func() (gpio.Port, error)

	// Events receives line changes from every run. May be nil.
	Events chan<- output.Event

	// MaxResets bounds the number of watchdog resets (0 = unlimited).
	MaxResets int

	// OnStart is called with each new board before the program runs.
	OnStart func(b *program.Board, resets int)

	// OnReset is called after each watchdog reset.
	OnReset func(resets int, cause error)
}

// Supervisor restarts a program on watchdog timeout.
type Supervisor struct {
	cfg Config

	mu     sync.Mutex
	board  *program.Board
	resets int
}

// New creates a supervisor.
func New(cfg Config) *Supervisor {
	return &Supervisor{cfg: cfg}
}

// Run runs the program until ctx is done or a non-watchdog error occurs.
func (s *Supervisor) Run(ctx context.Context) error {
	name := s.cfg.Program.Name
	for {
		err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if !errors.Is(err, watchdog.ErrTimeout) {
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			return nil
		}

		s.mu.Lock()
		s.resets++
		n := s.resets
		s.mu.Unlock()

		log.Printf("supervisor: %s: watchdog reset #%d", name, n)
		if s.cfg.OnReset != nil {
			s.cfg.OnReset(n, err)
		}
		if s.cfg.MaxResets > 0 && n > s.cfg.MaxResets {
			return fmt.Errorf("%s: %w (%d): %w", name, ErrTooManyResets, n, err)
		}
	}
}

func (s *Supervisor) runOnce(ctx context.Context) error {
	port, err := s.cfg.Open()
	if err != nil {
		return fmt.Errorf("open port: %w", err)
	}
	defer func() {
		if err := port.Close(); err != nil {
			log.Printf("supervisor: close port: %v", err)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	board := program.NewBoard(port, s.cfg.Options, s.cfg.Events, g.Go)

	s.mu.Lock()
	s.board = board
	n := s.resets
	s.mu.Unlock()
	if s.cfg.OnStart != nil {
		s.cfg.OnStart(board, n)
	}

	g.Go(func() error { return board.IRQ.Run(gctx) })
	g.Go(func() error { return board.Watchdog.Run(gctx) })
	g.Go(func() error { return s.cfg.Program.Run(gctx, board) })
	return g.Wait()
}

// Board returns the board of the current run, or nil before the first.
func (s *Supervisor) Board() *program.Board {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.board
}

// Resets returns the number of watchdog resets so far.
func (s *Supervisor) Resets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets
}
