// Package jobs defines the River Queue job types that carry action
// execution across processes.
//
// Jobs follow the claim-check pattern: the job carries only the action id
// and the worker loads everything else from the store.
//
// Import Path: fleetd.io/fleetd/internal/jobs
package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"fleetd.io/fleetd/internal/dispatcher"
	"fleetd.io/fleetd/internal/lock"
	"fleetd.io/fleetd/internal/pkg/logger"

	apperrors "fleetd.io/fleetd/internal/pkg/errors"
)

// QueueActions is the River queue action executions run on.
const QueueActions = "actions"

// ---------------------------------------------------------------------------
// Job Args
// ---------------------------------------------------------------------------

// ActionExecuteArgs carries only the action id (claim-check).
type ActionExecuteArgs struct {
	ActionID string `json:"action_id"`
}

// Kind returns the job kind identifier for action execution.
func (ActionExecuteArgs) Kind() string { return "action_execute" }

// InsertOpts returns default insert options for action execution jobs.
// Jobs are not unique: the sweeper may publish an action again while an
// older job for it is retained as completed, and the executor skips
// actions that are no longer READY.
func (ActionExecuteArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       QueueActions,
		MaxAttempts: 5,
	}
}

// ---------------------------------------------------------------------------
// Worker
// ---------------------------------------------------------------------------

// ActionExecuteWorker runs the executor for one action.
//
// Execution flow:
//  1. Execute the action (lock, claim, policies, operation, status)
//  2. Target locked: snooze the job with jittered exponential backoff
//  3. Action gone: cancel the job, there is nothing to retry
type ActionExecuteWorker struct {
	river.WorkerDefaults[ActionExecuteArgs]
	exec  dispatcher.Executor
	retry dispatcher.RetryConfig
}

// NewActionExecuteWorker creates an ActionExecuteWorker.
func NewActionExecuteWorker(exec dispatcher.Executor, retry dispatcher.RetryConfig) *ActionExecuteWorker {
	if retry.MaxAttempts <= 0 {
		retry = dispatcher.DefaultRetryConfig()
	}
	return &ActionExecuteWorker{exec: exec, retry: retry}
}

// Timeout disables River's job timeout; the executor bounds each action by
// its own timeout.
func (w *ActionExecuteWorker) Timeout(*river.Job[ActionExecuteArgs]) time.Duration {
	return -1
}

// Work executes the action.
func (w *ActionExecuteWorker) Work(ctx context.Context, job *river.Job[ActionExecuteArgs]) error {
	actionID := job.Args.ActionID

	logger.Debug("Processing action job",
		zap.String("action_id", actionID),
		zap.Int64("attempt", int64(job.Attempt)),
	)

	err := w.exec.Execute(ctx, actionID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, lock.ErrBusy):
		delay := snoozeDelay(w.retry, job.Attempt)
		logger.Debug("Target busy, snoozing action job",
			zap.String("action_id", actionID),
			zap.Duration("delay", delay),
		)
		return river.JobSnooze(delay)
	case apperrors.HasCode(err, apperrors.CodeActionNotFound):
		return river.JobCancel(err)
	default:
		return err
	}
}

// snoozeDelay returns the delay for the given attempt from the same backoff
// sequence the local dispatcher redelivers with.
func snoozeDelay(cfg dispatcher.RetryConfig, attempt int) time.Duration {
	b := cfg.BackOff()
	delay := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		delay = b.NextBackOff()
	}
	return delay
}
