package jobs

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"

	"fleetd.io/fleetd/internal/action"
	"fleetd.io/fleetd/internal/dispatcher"
	"fleetd.io/fleetd/internal/domain"
	"fleetd.io/fleetd/internal/lock"
	"fleetd.io/fleetd/internal/pkg/logger"
	"fleetd.io/fleetd/internal/store/memstore"

	apperrors "fleetd.io/fleetd/internal/pkg/errors"
)

func init() {
	_ = logger.Init("error", "json")
}

type stubExecutor struct {
	err   error
	calls []string
}

func (e *stubExecutor) Execute(_ context.Context, id string) error {
	e.calls = append(e.calls, id)
	return e.err
}

type stubInserter struct {
	args []river.JobArgs
	err  error
}

func (s *stubInserter) Insert(_ context.Context, args river.JobArgs, _ *river.InsertOpts) (*rivertype.JobInsertResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.args = append(s.args, args)
	return &rivertype.JobInsertResult{Job: &rivertype.JobRow{ID: int64(len(s.args))}}, nil
}

func job(actionID string, attempt int) *river.Job[ActionExecuteArgs] {
	return &river.Job[ActionExecuteArgs]{
		JobRow: &rivertype.JobRow{Attempt: attempt},
		Args:   ActionExecuteArgs{ActionID: actionID},
	}
}

func TestActionExecuteArgs(t *testing.T) {
	t.Parallel()

	if got := (ActionExecuteArgs{}).Kind(); got != "action_execute" {
		t.Fatalf("Kind() = %q, want %q", got, "action_execute")
	}
	opts := (ActionExecuteArgs{}).InsertOpts()
	if opts.Queue != QueueActions {
		t.Fatalf("Queue = %q, want %q", opts.Queue, QueueActions)
	}
	if opts.UniqueOpts.ByArgs {
		t.Fatal("UniqueOpts.ByArgs = true, want false")
	}
}

func TestActionSweepArgs(t *testing.T) {
	t.Parallel()

	if got := (ActionSweepArgs{}).Kind(); got != "action_sweep" {
		t.Fatalf("Kind() = %q, want %q", got, "action_sweep")
	}
	opts := (ActionSweepArgs{}).InsertOpts()
	if opts.MaxAttempts != 1 {
		t.Fatalf("MaxAttempts = %d, want 1", opts.MaxAttempts)
	}
	if opts.UniqueOpts.ByPeriod != time.Minute {
		t.Fatalf("UniqueOpts.ByPeriod = %s, want %s", opts.UniqueOpts.ByPeriod, time.Minute)
	}
}

func TestActionExecuteWorker_Work(t *testing.T) {
	t.Parallel()

	t.Run("success", func(t *testing.T) {
		exec := &stubExecutor{}
		w := NewActionExecuteWorker(exec, dispatcher.DefaultRetryConfig())
		if err := w.Work(context.Background(), job("a1", 1)); err != nil {
			t.Fatalf("Work() error = %v", err)
		}
		if len(exec.calls) != 1 || exec.calls[0] != "a1" {
			t.Fatalf("calls = %v, want [a1]", exec.calls)
		}
	})

	t.Run("busy target snoozes", func(t *testing.T) {
		w := NewActionExecuteWorker(&stubExecutor{err: lock.ErrBusy}, dispatcher.DefaultRetryConfig())
		err := w.Work(context.Background(), job("a1", 1))
		if err == nil {
			t.Fatal("Work() error = nil, want snooze")
		}
		if errors.Is(err, lock.ErrBusy) {
			t.Fatal("Work() leaked lock.ErrBusy instead of snoozing")
		}
	})

	t.Run("missing action cancels", func(t *testing.T) {
		w := NewActionExecuteWorker(&stubExecutor{err: apperrors.ErrActionNotFound("a1")}, dispatcher.DefaultRetryConfig())
		if err := w.Work(context.Background(), job("a1", 1)); err == nil {
			t.Fatal("Work() error = nil, want cancel")
		}
	})

	t.Run("other errors are returned for retry", func(t *testing.T) {
		boom := errors.New("boom")
		w := NewActionExecuteWorker(&stubExecutor{err: boom}, dispatcher.DefaultRetryConfig())
		if err := w.Work(context.Background(), job("a1", 1)); !errors.Is(err, boom) {
			t.Fatalf("Work() error = %v, want %v", err, boom)
		}
	})
}

func TestSnoozeDelay(t *testing.T) {
	t.Parallel()

	cfg := dispatcher.RetryConfig{Base: 100 * time.Millisecond, Max: time.Second, MaxAttempts: 10}
	// Centre of each attempt's delay; the backoff jitters it by 20%.
	cases := map[int]time.Duration{
		1:  100 * time.Millisecond,
		2:  200 * time.Millisecond,
		4:  800 * time.Millisecond,
		5:  time.Second,
		30: time.Second,
	}
	for attempt, centre := range cases {
		lo, hi := centre*8/10, centre*12/10
		for range 20 {
			if got := snoozeDelay(cfg, attempt); got < lo || got > hi {
				t.Fatalf("snoozeDelay(%d) = %s, want within [%s, %s]", attempt, got, lo, hi)
			}
		}
	}
}

func TestRiverNotifier_Notify(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memstore.New()
	a, err := action.Create(ctx, s, action.Spec{Kind: domain.NodeCreate, Target: "n1"})
	if err != nil {
		t.Fatalf("create action: %v", err)
	}

	ins := &stubInserter{}
	n := NewRiverNotifier(s, ins, nil)
	if err := n.Notify(ctx, a.ID); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if len(ins.args) != 1 {
		t.Fatalf("inserted %d jobs, want 1", len(ins.args))
	}
	if got := ins.args[0].(ActionExecuteArgs).ActionID; got != a.ID {
		t.Fatalf("job action id = %q, want %q", got, a.ID)
	}
	got, err := action.Get(ctx, s, a.ID)
	if err != nil {
		t.Fatalf("get action: %v", err)
	}
	if got.Status != domain.ActionReady {
		t.Fatalf("status = %s, want READY", got.Status)
	}

	failing := NewRiverNotifier(s, &stubInserter{err: errors.New("db down")}, nil)
	if err := failing.Notify(ctx, a.ID); err == nil || !strings.Contains(err.Error(), "db down") {
		t.Fatalf("Notify() error = %v, want contains %q", err, "db down")
	}
}

func TestActionSweepWorker_Uninitialized(t *testing.T) {
	t.Parallel()

	var w *ActionSweepWorker
	err := w.Work(context.Background(), nil)
	if err == nil || !strings.Contains(err.Error(), "not initialized") {
		t.Fatalf("Work() error = %v, want contains %q", err, "not initialized")
	}
}
