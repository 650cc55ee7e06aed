package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"fleetd.io/fleetd/internal/dispatcher"
	"fleetd.io/fleetd/internal/pkg/logger"
	"fleetd.io/fleetd/internal/store"
)

// DefaultStaleAfter is how long a READY action may sit untouched before the
// sweeper publishes it again.
const DefaultStaleAfter = time.Minute

// ActionSweepArgs is a periodic maintenance job that recovers lost
// notifications and orphaned locks.
type ActionSweepArgs struct{}

// Kind returns the job kind identifier for the action sweep.
func (ActionSweepArgs) Kind() string { return "action_sweep" }

// InsertOpts ensures at most one sweep is enqueued per minute.
func (ActionSweepArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       river.QueueDefault,
		MaxAttempts: 1,
		UniqueOpts: river.UniqueOpts{
			ByPeriod: time.Minute,
			ByQueue:  true,
			ByArgs:   true,
		},
	}
}

// ActionSweepWorker runs dispatcher.Sweep.
type ActionSweepWorker struct {
	river.WorkerDefaults[ActionSweepArgs]
	store      store.Store
	notifier   dispatcher.Notifier
	staleAfter time.Duration
}

// NewActionSweepWorker creates a sweep worker. Non-positive staleAfter
// falls back to DefaultStaleAfter.
func NewActionSweepWorker(s store.Store, n dispatcher.Notifier, staleAfter time.Duration) *ActionSweepWorker {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &ActionSweepWorker{store: s, notifier: n, staleAfter: staleAfter}
}

// Work sweeps the actions and locks tables.
func (w *ActionSweepWorker) Work(ctx context.Context, _ *river.Job[ActionSweepArgs]) error {
	if w == nil || w.store == nil || w.notifier == nil {
		return fmt.Errorf("action sweep worker is not initialized")
	}
	res, err := dispatcher.Sweep(ctx, w.store, w.notifier, w.staleAfter, time.Now())
	if err != nil {
		return fmt.Errorf("sweep actions: %w", err)
	}
	logger.Info("Action sweep completed",
		zap.Int("republished", res.Republished),
		zap.Int("locks_released", res.LocksReleased),
		zap.Duration("stale_after", w.staleAfter),
	)
	return nil
}
