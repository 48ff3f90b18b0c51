// Package services – DispatchWorker
//
// This file implements the DispatchWorker, the component that drains the
// queue: it claims eligible rows, attempts delivery through the circuit
// breaker, and applies the retry policy. The worker is stateless between
// invocations and safe to run concurrently from independent triggers (the
// periodic scheduler, an operator "process now", and the post-enqueue hint):
// the atomic claim in the repo is the only synchronization primitive needed.
//
// Retry policy: exponential backoff with jitter. The delay before attempt
// n+1 is BackoffBase * 2^n, multiplied by a random factor in
// [1-JitterFrac, 1+JitterFrac] and capped at BackoffCap, so a recovering
// transport is not hammered by every queued row in lockstep.
package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/caseflow/go-messaging-backend/internal/breaker"
	"github.com/caseflow/go-messaging-backend/internal/domain"
	"github.com/caseflow/go-messaging-backend/internal/repo"
	"github.com/caseflow/go-messaging-backend/internal/transport"
)

// BatchResult summarizes one ProcessOnce invocation.
type BatchResult struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// DispatchWorker claims and delivers queued messages.
type DispatchWorker struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Transport is the downstream delivery collaborator.
	Transport transport.Transport
	// Breaker guards every transport call. Required.
	Breaker *breaker.Breaker

	// MaxRetries is the attempt budget before a row goes dead.
	MaxRetries int
	// BackoffBase is the delay before the first retry.
	BackoffBase time.Duration
	// BackoffCap bounds the computed delay.
	BackoffCap time.Duration
	// JitterFrac spreads retries by ±fraction of the computed delay, in [0,1].
	JitterFrac float64

	// StaleClaimAge is how long a row may sit in sending before a tick
	// assumes the claiming process died and requeues it.
	StaleClaimAge time.Duration
}

// NewDispatchWorker constructs a worker with the default retry policy.
func NewDispatchWorker(db *gorm.DB, t transport.Transport, b *breaker.Breaker) *DispatchWorker {
	return &DispatchWorker{
		DB:            db,
		Transport:     t,
		Breaker:       b,
		MaxRetries:    5,
		BackoffBase:   30 * time.Second,
		BackoffCap:    time.Hour,
		JitterFrac:    0.2,
		StaleClaimAge: 5 * time.Minute,
	}
}

// ProcessOnce claims up to limit eligible rows (oldest first) and attempts
// delivery for each. A single row's failure never aborts the rest of the
// batch; the returned error covers only claim/store-level problems.
func (w *DispatchWorker) ProcessOnce(ctx context.Context, limit int) (BatchResult, error) {
	start := time.Now()
	defer func() {
		batchDuration.Observe(time.Since(start).Seconds())
	}()

	var result BatchResult
	now := time.Now().UTC()

	claimed, err := repo.ClaimEligible(ctx, w.DB, now, limit)
	if err != nil {
		return result, err
	}

	for i := range claimed {
		item := &claimed[i]
		result.Processed++
		if w.deliverOne(ctx, item) {
			result.Succeeded++
		} else {
			result.Failed++
		}
	}

	w.refreshDepthGauge(ctx)
	return result, nil
}

// Tick is the scheduler entrypoint: requeues stale claims from crashed
// workers, then runs one batch. All errors are logged, never returned, so a
// bad tick cannot kill the scheduler loop.
func (w *DispatchWorker) Tick(ctx context.Context, limit int) {
	now := time.Now().UTC()
	if w.StaleClaimAge > 0 {
		if n, err := repo.RequeueStaleSending(ctx, w.DB, now.Add(-w.StaleClaimAge), now); err != nil {
			log.Error().Err(err).Msg("stale claim requeue failed")
		} else if n > 0 {
			log.Warn().Int64("requeued", n).Msg("requeued stale sending rows")
		}
	}

	res, err := w.ProcessOnce(ctx, limit)
	if err != nil {
		log.Error().Err(err).Msg("dispatch tick failed")
		return
	}
	if res.Processed > 0 {
		log.Info().
			Int("processed", res.Processed).
			Int("succeeded", res.Succeeded).
			Int("failed", res.Failed).
			Msg("dispatch tick")
	}
}

// deliverOne attempts delivery of a single claimed row and records the
// outcome. Returns true on success. Recovers panics from the transport so one
// poisoned row cannot abort the batch.
func (w *DispatchWorker) deliverOne(ctx context.Context, item *domain.QueueItem) (succeeded bool) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().
				Interface("panic", rec).
				Str("queue_item_id", item.ID).
				Msg("panic during delivery attempt")
			w.recordFailure(ctx, item, fmt.Sprintf("panic: %v", rec), false)
			succeeded = false
		}
	}()

	_ = repo.AppendLog(ctx, w.DB, item.InternalMessageID, "info", "attempt",
		fmt.Sprintf("attempt %d to %s", item.Retries+1, item.Phone))

	res, err := w.Breaker.Execute(ctx, func(callCtx context.Context) (any, error) {
		return w.Transport.Send(callCtx, item.Phone, item.Payload)
	})
	if err != nil {
		circuitOpen := errors.Is(err, breaker.ErrOpen)
		w.recordFailure(ctx, item, err.Error(), circuitOpen)
		return false
	}

	providerID, _ := res.(string)
	now := time.Now().UTC()
	ok, err := repo.MarkSent(ctx, w.DB, item.ID, providerID, now)
	if err != nil {
		log.Error().Err(err).Str("queue_item_id", item.ID).Msg("mark sent failed")
		return false
	}
	if !ok {
		// Claim was taken away underneath us (operator reset); the send
		// happened, so record it in the log at least.
		log.Warn().Str("queue_item_id", item.ID).Msg("sent row no longer in sending state")
	}

	queueAttempts.WithLabelValues("sent").Inc()
	_ = repo.AppendLog(ctx, w.DB, item.InternalMessageID, "info", "sent",
		"provider message id "+providerID)
	return true
}

// recordFailure applies the retry policy to a failed attempt: reschedule with
// backoff, or dead-letter when the budget is exhausted. Circuit-open
// rejections follow the same policy but are logged distinctly so operators
// can tell "transport is down" from "this message keeps failing".
func (w *DispatchWorker) recordFailure(ctx context.Context, item *domain.QueueItem, errMsg string, circuitOpen bool) {
	now := time.Now().UTC()
	attempts := item.Retries + 1

	delay := w.backoff(attempts)
	ok, err := repo.MarkRetrying(ctx, w.DB, item.ID, errMsg, now.Add(delay), now)
	if err != nil || !ok {
		log.Error().Err(err).Bool("transitioned", ok).
			Str("queue_item_id", item.ID).Msg("mark retrying failed")
		return
	}

	if attempts >= w.MaxRetries {
		if _, err := repo.MarkDead(ctx, w.DB, item.ID, errMsg, now); err != nil {
			log.Error().Err(err).Str("queue_item_id", item.ID).Msg("mark dead failed")
			return
		}
		queueAttempts.WithLabelValues("dead").Inc()
		_ = repo.AppendLog(ctx, w.DB, item.InternalMessageID, "error", "dead",
			fmt.Sprintf("retries exhausted after %d attempts: %s", attempts, errMsg))
		log.Error().
			Str("queue_item_id", item.ID).
			Int("attempts", attempts).
			Str("error", errMsg).
			Msg("message dead-lettered")
		return
	}

	if _, err := repo.Requeue(ctx, w.DB, item.ID, now); err != nil {
		log.Error().Err(err).Str("queue_item_id", item.ID).Msg("requeue failed")
		return
	}

	result := "retry"
	level := "warn"
	detail := fmt.Sprintf("attempt %d failed, next in %s: %s", attempts, delay.Round(time.Second), errMsg)
	if circuitOpen {
		result = "circuit_open"
		detail = fmt.Sprintf("attempt %d rejected, circuit open, next in %s", attempts, delay.Round(time.Second))
	}
	queueAttempts.WithLabelValues(result).Inc()
	_ = repo.AppendLog(ctx, w.DB, item.InternalMessageID, level, "retry_scheduled", detail)
}

// backoff computes the delay before the next attempt after `attempts` failed
// tries: BackoffBase * 2^(attempts-1) with ±JitterFrac jitter, capped.
func (w *DispatchWorker) backoff(attempts int) time.Duration {
	base := w.BackoffBase
	if base <= 0 {
		base = 30 * time.Second
	}
	maxDelay := w.BackoffCap
	if maxDelay <= 0 {
		maxDelay = time.Hour
	}

	delay := base
	for i := 1; i < attempts && delay < maxDelay; i++ {
		delay *= 2
	}
	if delay > maxDelay {
		delay = maxDelay
	}

	if w.JitterFrac > 0 {
		spread := 1 + w.JitterFrac*(2*rand.Float64()-1)
		delay = time.Duration(float64(delay) * spread)
		if delay > maxDelay {
			delay = maxDelay
		}
	}
	return delay
}

// refreshDepthGauge snapshots per-status counts into the depth metric.
func (w *DispatchWorker) refreshDepthGauge(ctx context.Context) {
	counts, err := repo.CountsByStatus(ctx, w.DB)
	if err != nil {
		return
	}
	observeQueueDepth(counts)
}
