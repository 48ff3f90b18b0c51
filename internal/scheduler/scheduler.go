// Package scheduler runs the dispatch worker on a fixed interval.
//
// The scheduler owns a single background goroutine. Start spawns it, Stop
// cancels its context and waits for the goroutine to exit, so a stopped
// scheduler never leaves a tick in flight. Ticks are panic-safe: a panicking
// tick is logged and the loop keeps going.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Scheduler invokes a tick function every interval until stopped.
type Scheduler struct {
	interval time.Duration
	tickFn   func(context.Context)

	running atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New validates the arguments and returns an idle scheduler.
func New(interval time.Duration, tickFn func(context.Context)) (*Scheduler, error) {
	if interval <= 0 {
		return nil, errors.New("interval must be > 0")
	}
	if tickFn == nil {
		return nil, errors.New("tickFn must not be nil")
	}
	return &Scheduler{
		interval: interval,
		tickFn:   tickFn,
		done:     make(chan struct{}),
	}, nil
}

// Start launches the tick loop. It reports false when already running. The
// first tick fires immediately so a restarted process drains its backlog
// without waiting out a full interval.
func (s *Scheduler) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running.Store(true)

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		log.Info().Dur("interval", s.interval).Msg("dispatch scheduler started")

		s.safeTick(ctx)

		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("dispatch scheduler stopping")
				return
			case <-ticker.C:
				s.safeTick(ctx)
			}
		}
	}()

	return true
}

// Stop cancels the loop and blocks until the goroutine has exited. It
// reports false when the scheduler was not running.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return false
	}

	s.cancel()
	<-s.done
	s.running.Store(false)

	log.Info().Msg("dispatch scheduler stopped")
	return true
}

// IsRunning reports whether the tick loop is active.
func (s *Scheduler) IsRunning() bool {
	return s.running.Load()
}

func (s *Scheduler) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("scheduler tick panic recovered")
		}
	}()

	start := time.Now()
	s.tickFn(ctx)
	log.Debug().Dur("took", time.Since(start)).Msg("scheduler tick completed")
}
