// Package dispatcher hands ready actions to workers.
//
// Notify is the only entry point the engine uses: it moves the action to
// READY and publishes it. Delivery is at-least-once; the executor skips
// actions that are already claimed or terminal.
//
// Import Path: fleetd.io/fleetd/internal/dispatcher
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"fleetd.io/fleetd/internal/action"
	"fleetd.io/fleetd/internal/lock"
	"fleetd.io/fleetd/internal/pkg/logger"
	"fleetd.io/fleetd/internal/pkg/metrics"
	"fleetd.io/fleetd/internal/pkg/worker"
	"fleetd.io/fleetd/internal/store"
)

// Notifier publishes actions for execution.
type Notifier interface {
	Notify(ctx context.Context, actionID string) error
}

// Executor runs one action to completion. It returns lock.ErrBusy when the
// action's target is held by another action.
type Executor interface {
	Execute(ctx context.Context, actionID string) error
}

// Name of the in-process dispatcher in metrics.
const LocalName = "local"

// RetryConfig bounds redelivery of actions whose target is locked.
type RetryConfig struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
}

// DefaultRetryConfig returns the default redelivery settings.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Base:        50 * time.Millisecond,
		Max:         2 * time.Second,
		MaxAttempts: 50,
	}
}

// BackOff returns the jittered delay sequence for redelivering a busy action,
// doubling from Base up to Max.
func (c RetryConfig) BackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.Base
	b.MaxInterval = c.Max
	b.Multiplier = 2
	b.RandomizationFactor = 0.2
	return b
}

// Local runs actions on the in-process action pool.
type Local struct {
	store   store.Store
	pools   *worker.Pools
	exec    Executor
	metrics *metrics.Metrics
	retry   RetryConfig

	wg sync.WaitGroup
}

// NewLocal creates an in-process dispatcher. m may be nil.
func NewLocal(s store.Store, pools *worker.Pools, exec Executor, m *metrics.Metrics, retry RetryConfig) *Local {
	if retry.MaxAttempts <= 0 {
		retry = DefaultRetryConfig()
	}
	return &Local{store: s, pools: pools, exec: exec, metrics: m, retry: retry}
}

// SetExecutor sets the executor. The composition root uses it to break the
// construction cycle between the executor and the engine.
func (l *Local) SetExecutor(exec Executor) {
	l.exec = exec
}

// Notify implements Notifier.
func (l *Local) Notify(ctx context.Context, actionID string) error {
	if _, err := action.MarkReady(ctx, l.store, actionID); err != nil {
		return fmt.Errorf("mark action %s ready: %w", actionID, err)
	}
	l.metrics.Dispatched(LocalName)
	return l.deliver(actionID, l.retry.BackOff(), 1)
}


func (l *Local) deliver(actionID string, b *backoff.ExponentialBackOff, attempt int) error {
	l.wg.Add(1)
	err := l.pools.SubmitDetached(worker.PoolActions, func(ctx context.Context) {
		defer l.wg.Done()
		l.run(ctx, actionID, b, attempt)
	})
	if err != nil {
		l.wg.Done()
		return fmt.Errorf("submit action %s: %w", actionID, err)
	}
	return nil
}

func (l *Local) run(ctx context.Context, actionID string, b *backoff.ExponentialBackOff, attempt int) {
	err := l.exec.Execute(ctx, actionID)
	if err == nil {
		return
	}
	log := logger.With(zap.String("action_id", actionID), zap.Int("attempt", attempt))
	if !errors.Is(err, lock.ErrBusy) {
		log.Error("Action execution failed", zap.Error(err))
		return
	}
	if attempt >= l.retry.MaxAttempts {
		log.Warn("Action redelivery exhausted, left READY for the sweeper")
		return
	}

	delay := b.NextBackOff()
	l.metrics.Redelivered(LocalName)
	log.Debug("Target busy, redelivering", zap.Duration("delay", delay))

	l.wg.Add(1)
	time.AfterFunc(delay, func() {
		defer l.wg.Done()
		select {
		case <-l.pools.Context().Done():
			return
		default:
		}
		if err := l.deliver(actionID, b, attempt+1); err != nil {
			log.Warn("Action redelivery failed", zap.Error(err))
		}
	})
}

// Wait blocks until every delivered action, including pending redeliveries,
// has finished or ctx is done.
func (l *Local) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
