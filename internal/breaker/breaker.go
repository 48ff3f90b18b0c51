// Package breaker provides a generic circuit breaker for protecting calls to
// unreliable downstream dependencies. It wraps sony/gobreaker with a per-call
// deadline and a stable open-circuit error, and knows nothing about messages,
// phones, or any other domain concept: any blocking operation can be guarded
// by it unchanged.
//
// State machine:
//   - closed:    calls pass through; Threshold consecutive failures open it.
//   - open:      calls fail fast with ErrOpen until ResetTimeout elapses.
//   - half-open: probe calls are let through; two consecutive successes close
//     the breaker, a single failure re-opens it.
//
// Every call is raced against CallTimeout; a timeout counts as a failure.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// ErrOpen is returned when the breaker rejects a call without invoking the
// wrapped function. Callers can branch on it to distinguish "downstream is
// down" from a failure of the call itself.
var ErrOpen = errors.New("circuit breaker is open")

// ErrCallTimeout is returned (and counted as a failure) when the wrapped
// function does not complete within CallTimeout.
var ErrCallTimeout = errors.New("call timed out")

// halfOpenSuccesses is the number of consecutive half-open successes required
// to close the breaker again.
const halfOpenSuccesses = 2

// Config tunes a Breaker. Zero values fall back to the defaults below.
type Config struct {
	// Threshold is the consecutive-failure count that opens the breaker.
	Threshold uint32
	// ResetTimeout is the cooldown before an open breaker lets a probe through.
	ResetTimeout time.Duration
	// CallTimeout is the per-call deadline applied to every execution.
	CallTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Threshold == 0 {
		c.Threshold = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 10 * time.Second
	}
	return c
}

// Breaker guards one named downstream operation. Safe for concurrent use.
type Breaker struct {
	name string
	cfg  Config

	mu sync.RWMutex
	cb *gobreaker.CircuitBreaker
}

// New constructs a Breaker for the named operation.
func New(name string, cfg Config) *Breaker {
	b := &Breaker{name: name, cfg: cfg.withDefaults()}
	b.cb = b.newCircuit()
	return b
}

func (b *Breaker) newCircuit() *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        b.name,
		MaxRequests: halfOpenSuccesses,
		Timeout:     b.cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= b.cfg.Threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", stateString(from)).
				Str("to", stateString(to)).
				Msg("circuit breaker state change")
		},
	})
}

// Execute runs fn through the breaker. When the breaker is open the function
// is never invoked and ErrOpen is returned immediately. The call is bounded
// by CallTimeout; on expiry fn's result is discarded and ErrCallTimeout is
// recorded as a failure.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	b.mu.RLock()
	cb := b.cb
	b.mu.RUnlock()

	res, err := cb.Execute(func() (any, error) {
		return b.bounded(ctx, fn)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrOpen
	}
	return res, err
}

// bounded races fn against the per-call deadline. The goroutine running fn is
// left to finish in the background on timeout; its result is dropped.
func (b *Breaker) bounded(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	callCtx, cancel := context.WithTimeout(ctx, b.cfg.CallTimeout)
	defer cancel()

	type outcome struct {
		res any
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := fn(callCtx)
		done <- outcome{res: res, err: err}
	}()

	select {
	case out := <-done:
		return out.res, out.err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrCallTimeout
	}
}

// State reports the current breaker state: "closed", "open", or "half-open".
func (b *Breaker) State() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return stateString(b.cb.State())
}

// Reset returns the breaker to closed with zeroed counters. gobreaker offers
// no in-place reset, so the underlying circuit is swapped for a fresh one.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cb = b.newCircuit()
}

func stateString(s gobreaker.State) string {
	switch s {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}
