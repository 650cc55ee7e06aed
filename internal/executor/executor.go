// Package executor runs a single action to completion.
//
// Execute is the worker body behind every dispatcher: it takes the target
// lock, claims the action, runs the policy pre-ops, performs the action's
// operation, runs the post-ops and records the terminal status. Cancel
// requests and timeouts are honored at safe points between those steps and
// between per-node operations.
//
// Import Path: fleetd.io/fleetd/internal/executor
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fleetd.io/fleetd/internal/action"
	"fleetd.io/fleetd/internal/domain"
	"fleetd.io/fleetd/internal/lock"
	"fleetd.io/fleetd/internal/pkg/logger"
	"fleetd.io/fleetd/internal/pkg/metrics"
	"fleetd.io/fleetd/internal/policy"
	"fleetd.io/fleetd/internal/registry"
	"fleetd.io/fleetd/internal/store"
)

// Status reasons written by the executor.
const (
	ReasonTimeout     = "action timeout"
	ReasonCancelled   = "action cancelled"
	ReasonInterrupted = "action interrupted by shutdown"
)

var errCancelled = errors.New(ReasonCancelled)

// Config tunes the executor.
type Config struct {
	// Owner identifies this worker in claimed actions. Generated when empty.
	Owner string
	// DefaultTimeout applies to actions without their own timeout. Zero
	// means unbounded.
	DefaultTimeout time.Duration
	// NodeParallelism bounds concurrent profile operations per action.
	NodeParallelism int
}

// Executor implements dispatcher.Executor.
type Executor struct {
	store     store.Store
	reg       *registry.Registry
	pipeline  *policy.Pipeline
	lifecycle *domain.LifecycleDispatcher
	metrics   *metrics.Metrics
	cfg       Config
	now       func() time.Time
	handlers  map[domain.ActionKind]handler
}

type handler func(ctx context.Context, x *execution) error

// New creates an Executor. lifecycle and m may be nil.
func New(s store.Store, reg *registry.Registry, p *policy.Pipeline,
	lifecycle *domain.LifecycleDispatcher, m *metrics.Metrics, cfg Config) *Executor {
	if cfg.Owner == "" {
		cfg.Owner = "worker-" + uuid.NewString()
	}
	if cfg.NodeParallelism <= 0 {
		cfg.NodeParallelism = 8
	}
	e := &Executor{
		store:     s,
		reg:       reg,
		pipeline:  p,
		lifecycle: lifecycle,
		metrics:   m,
		cfg:       cfg,
		now:       time.Now,
	}
	e.handlers = map[domain.ActionKind]handler{
		domain.ClusterCreate:   e.clusterCreate,
		domain.ClusterUpdate:   e.clusterUpdate,
		domain.ClusterDelete:   e.clusterDelete,
		domain.ClusterAddNodes: e.clusterAddNodes,
		domain.ClusterDelNodes: e.clusterDelNodes,
		domain.ClusterScaleOut: e.clusterScaleOut,
		domain.ClusterScaleIn:  e.clusterScaleIn,
		domain.NodeCreate:      e.nodeCreate,
		domain.NodeDelete:      e.nodeDelete,
		domain.NodeUpdate:      e.nodeUpdate,
		domain.NodeJoin:        e.nodeJoin,
		domain.NodeLeave:       e.nodeLeave,
	}
	return e
}

// Owner returns the worker id recorded on claimed actions.
func (e *Executor) Owner() string { return e.cfg.Owner }

// execution is the state of one running action.
type execution struct {
	e       *Executor
	action  *domain.Action
	log     *zap.Logger
	outputs map[string]any
	reason  string
	// objType, objName and clusterID describe the target for events.
	objType   string
	objName   string
	clusterID string
}

// checkpoint is a safe point: it fails with errCancelled when a cancel was
// signalled and with the context error when the deadline passed.
func (x *execution) checkpoint(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cancelled, err := action.CancelRequested(ctx, x.e.store, x.action.ID)
	if err != nil {
		return err
	}
	if cancelled {
		return errCancelled
	}
	return nil
}

// Execute runs actionID. Actions that are not READY are skipped without
// error, which makes redelivery harmless. lock.ErrBusy means the target is
// held by another action and the caller should retry later.
func (e *Executor) Execute(ctx context.Context, actionID string) error {
	a, err := action.Get(ctx, e.store, actionID)
	if err != nil {
		return err
	}
	log := logger.ForAction(a.ID, string(a.Kind), a.Target)
	if a.Status != domain.ActionReady {
		log.Debug("Action not ready, skipped", zap.String("status", string(a.Status)))
		return nil
	}

	grant, err := lock.Take(ctx, e.store, a.Target, a.ID)
	if err != nil {
		return err
	}
	if grant == lock.Denied {
		e.metrics.LockContended()
		log.Info("Target locked by another action")
		return lock.ErrBusy
	}
	release := func() {
		if _, err := lock.Release(context.WithoutCancel(ctx), e.store, a.Target, a.ID); err != nil {
			log.Error("Failed to release target lock", zap.Error(err))
		}
	}

	started := e.now()
	claimed, err := action.Claim(ctx, e.store, a.ID, e.cfg.Owner, started)
	if err != nil {
		if grant == lock.Taken {
			release()
		}
		return err
	}
	if !claimed {
		// A duplicate delivery may lose the claim to a worker that is running
		// this action under the same lock owner; that worker releases it.
		log.Debug("Action claimed elsewhere or cancelled")
		if grant == lock.Taken && !e.runningElsewhere(ctx, a.ID) {
			release()
		}
		return nil
	}
	defer release()

	a.Status = domain.ActionRunning
	a.Owner = e.cfg.Owner
	a.StartTime = &started

	x := &execution{e: e, action: a, log: log, outputs: map[string]any{}}
	x.describeTarget(ctx)
	log.Info("Action started")
	e.emit(ctx, x, domain.LifecycleStarted, domain.ActionRunning, "", 0)

	status, reason := e.run(ctx, x)

	fin := context.WithoutCancel(ctx)
	ended := e.now()
	ok, err := action.Finish(fin, e.store, a.ID, e.cfg.Owner, status, reason, x.outputs, ended)
	if err != nil {
		return fmt.Errorf("finish action %s: %w", a.ID, err)
	}
	if !ok {
		log.Warn("Action changed while running, final status not recorded",
			zap.String("status", string(status)))
		return nil
	}
	elapsed := ended.Sub(started)
	log.Info("Action finished",
		zap.String("status", string(status)),
		zap.String("reason", reason),
		zap.Duration("elapsed", elapsed),
	)
	e.emit(fin, x, domain.LifecycleFinished, status, reason, elapsed)
	return nil
}

// runningElsewhere reports whether actionID is RUNNING. Read errors count
// as running so the lock is kept; the sweep frees locks of finished
// actions.
func (e *Executor) runningElsewhere(ctx context.Context, actionID string) bool {
	cur, err := action.Get(ctx, e.store, actionID)
	if err != nil {
		return true
	}
	return cur.Status == domain.ActionRunning
}

func (e *Executor) timeoutFor(a *domain.Action) time.Duration {
	if a.Timeout != nil && *a.Timeout > 0 {
		return time.Duration(*a.Timeout) * time.Second
	}
	return e.cfg.DefaultTimeout
}

func (e *Executor) run(parent context.Context, x *execution) (domain.ActionStatus, string) {
	ctx := parent
	if timeout := e.timeoutFor(x.action); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, timeout)
		defer cancel()
	}

	if err := x.checkpoint(ctx); err != nil {
		return e.outcome(parent, ctx, x, err)
	}

	run, err := e.pipeline.Begin(ctx, x.clusterID, x.action)
	if err != nil {
		return e.outcome(parent, ctx, x, err)
	}
	if err := run.PreOp(ctx); err != nil {
		return e.outcome(parent, ctx, x, err)
	}
	if run.Data.Failed() {
		x.log.Warn("Policy check failed", zap.String("reason", run.Data.Reason))
		return domain.ActionFailed, run.Data.Reason
	}

	if err := x.checkpoint(ctx); err != nil {
		return e.outcome(parent, ctx, x, err)
	}

	h, ok := e.handlers[x.action.Kind]
	if !ok {
		return domain.ActionFailed, fmt.Sprintf("unsupported action %s", x.action.Kind)
	}
	if err := h(ctx, x); err != nil {
		return e.outcome(parent, ctx, x, err)
	}

	if err := x.checkpoint(ctx); err != nil {
		return e.outcome(parent, ctx, x, err)
	}

	if err := run.PostOp(ctx); err != nil {
		return e.outcome(parent, ctx, x, err)
	}
	if run.Data.Failed() {
		return domain.ActionFailed, run.Data.Reason
	}
	return domain.ActionSucceeded, x.reason
}

// outcome maps an execution error to the terminal action status. Failures
// other than cancellation also put the target into ERROR.
func (e *Executor) outcome(parent, ctx context.Context, x *execution, err error) (domain.ActionStatus, string) {
	fin := context.WithoutCancel(parent)
	var reason string
	switch {
	case errors.Is(err, errCancelled):
		return domain.ActionCancelled, ReasonCancelled
	case errors.Is(ctx.Err(), context.DeadlineExceeded) && parent.Err() == nil:
		reason = ReasonTimeout
	case parent.Err() != nil:
		reason = ReasonInterrupted
	default:
		reason = err.Error()
	}
	x.log.Warn("Action failed", zap.String("reason", reason), zap.Error(err))
	if err := e.markTargetError(fin, x.action, reason); err != nil {
		x.log.Error("Failed to mark target ERROR", zap.Error(err))
	}
	return domain.ActionFailed, reason
}

func (e *Executor) markTargetError(ctx context.Context, a *domain.Action, reason string) error {
	if a.Kind.TargetsCluster() {
		return e.setClusterStatus(ctx, a.Target, domain.ClusterError, reason)
	}
	return e.setNodeStatus(ctx, a.Target, domain.NodeError, reason)
}

// describeTarget fills the event fields and the policy scope of x.
func (x *execution) describeTarget(ctx context.Context) {
	a := x.action
	if a.Kind.TargetsCluster() {
		x.objType = "CLUSTER"
		x.clusterID = a.Target
		if c, err := x.e.cluster(ctx, a.Target); err == nil {
			x.objName = c.Name
		}
		return
	}
	x.objType = "NODE"
	n, err := x.e.node(ctx, a.Target)
	if err != nil {
		return
	}
	x.objName = n.Name
	x.clusterID = n.ClusterID
	if a.Kind == domain.NodeJoin {
		x.clusterID = a.InputString("cluster_id")
	}
}

func (e *Executor) emit(ctx context.Context, x *execution, t domain.LifecycleType,
	status domain.ActionStatus, reason string, elapsed time.Duration) {
	_ = e.lifecycle.Dispatch(ctx, &domain.LifecycleEvent{
		Type:      t,
		Action:    x.action,
		ObjType:   x.objType,
		ObjName:   x.objName,
		ClusterID: x.clusterID,
		Status:    status,
		Reason:    reason,
		At:        e.now(),
		Elapsed:   elapsed,
	})
}
