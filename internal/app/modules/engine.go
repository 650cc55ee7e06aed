package modules

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"fleetd.io/fleetd/internal/api/handlers"
	"fleetd.io/fleetd/internal/config"
	"fleetd.io/fleetd/internal/dispatcher"
	"fleetd.io/fleetd/internal/domain"
	"fleetd.io/fleetd/internal/engine"
	"fleetd.io/fleetd/internal/executor"
	"fleetd.io/fleetd/internal/jobs"
	"fleetd.io/fleetd/internal/pkg/logger"
	"fleetd.io/fleetd/internal/pkg/worker"
	"fleetd.io/fleetd/internal/policy"
)

// EngineModule wires the executor, the configured dispatcher and the
// engine façade.
type EngineModule struct {
	infra    *Infrastructure
	engine   *engine.Engine
	executor *executor.Executor
	retry    dispatcher.RetryConfig

	local *dispatcher.Local   // set with the local dispatcher
	river *jobs.RiverNotifier // set with the river dispatcher
	sweep dispatcher.Notifier
}

// NewEngineModule creates the engine module for the configured dispatcher.
func NewEngineModule(infra *Infrastructure) *EngineModule {
	cfg := infra.Config.Engine
	retry := dispatcher.RetryConfig{
		Base:        cfg.LockRetryBase,
		Max:         cfg.LockRetryMax,
		MaxAttempts: cfg.LockRetryAttempts,
	}
	if retry.Base <= 0 || retry.Max <= 0 || retry.MaxAttempts <= 0 {
		retry = dispatcher.DefaultRetryConfig()
	}

	pipeline := policy.New(infra.Store, infra.Registry, infra.Metrics)
	lifecycle := domain.NewLifecycleDispatcher()
	executor.RegisterLifecycleHandlers(lifecycle, infra.Store, infra.Metrics)
	exec := executor.New(infra.Store, infra.Registry, pipeline, lifecycle, infra.Metrics, executor.Config{
		DefaultTimeout: cfg.DefaultActionTimeout,
	})

	m := &EngineModule{infra: infra, executor: exec, retry: retry}
	var notifier dispatcher.Notifier
	if cfg.Dispatcher == config.DispatcherRiver {
		m.river = jobs.NewRiverNotifier(infra.Store, nil, infra.Metrics)
		notifier = m.river
	} else {
		m.local = dispatcher.NewLocal(infra.Store, infra.Pools, exec, infra.Metrics, retry)
		notifier = m.local
	}
	m.sweep = notifier
	m.engine = engine.New(infra.Store, infra.Registry, pipeline, notifier, engine.Config{
		WaitInterval: cfg.WaitInterval,
	})
	return m
}

func (m *EngineModule) Name() string { return "engine" }

// Engine returns the engine façade.
func (m *EngineModule) Engine() *engine.Engine { return m.engine }

func (m *EngineModule) ContributeServerDeps(deps *handlers.ServerDeps) {
	if deps == nil {
		return
	}
	deps.Engine = m.engine
}

// RegisterWorkers registers the action and sweep workers when actions are
// dispatched through River.
func (m *EngineModule) RegisterWorkers(workers *river.Workers) {
	if m.river == nil {
		return
	}
	river.AddWorker(workers, jobs.NewActionExecuteWorker(m.executor, m.retry))
	river.AddWorker(workers, jobs.NewActionSweepWorker(m.infra.Store, m.river, m.infra.Config.Engine.StaleAfter))
}

// BindRiver hands the River client to the notifier and schedules the
// periodic sweep.
func (m *EngineModule) BindRiver(client *river.Client[pgx.Tx]) {
	if m.river == nil || client == nil {
		return
	}
	m.river.SetClient(client)
	client.PeriodicJobs().Add(
		river.NewPeriodicJob(
			river.PeriodicInterval(m.sweepInterval()),
			func() (river.JobArgs, *river.InsertOpts) {
				return jobs.ActionSweepArgs{}, nil
			},
			&river.PeriodicJobOpts{RunOnStart: true},
		),
	)
}

func (m *EngineModule) sweepInterval() time.Duration {
	if d := m.infra.Config.Engine.SweepInterval; d > 0 {
		return d
	}
	return time.Minute
}

// Start runs the sweep loop on the general pool for the local dispatcher.
// River schedules its own sweep.
func (m *EngineModule) Start(context.Context) error {
	if m.local == nil {
		return nil
	}
	interval := m.sweepInterval()
	staleAfter := m.infra.Config.Engine.StaleAfter
	if staleAfter <= 0 {
		staleAfter = jobs.DefaultStaleAfter
	}
	return m.infra.Pools.SubmitDetached(worker.PoolGeneral, func(ctx context.Context) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				res, err := dispatcher.Sweep(ctx, m.infra.Store, m.sweep, staleAfter, now)
				if err != nil {
					logger.Warn("Action sweep failed", zap.Error(err))
					continue
				}
				if res.Republished > 0 || res.LocksReleased > 0 {
					logger.Info("Action sweep completed",
						zap.Int("republished", res.Republished),
						zap.Int("locks_released", res.LocksReleased),
					)
				}
			}
		}
	})
}

// Shutdown waits for in-flight local executions.
func (m *EngineModule) Shutdown(ctx context.Context) error {
	if m.local == nil {
		return nil
	}
	return m.local.Wait(ctx)
}
