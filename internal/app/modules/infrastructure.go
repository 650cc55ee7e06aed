package modules

import (
	"context"
	"fmt"

	"github.com/riverqueue/river"

	"fleetd.io/fleetd/internal/config"
	"fleetd.io/fleetd/internal/infrastructure"
	"fleetd.io/fleetd/internal/pkg/metrics"
	"fleetd.io/fleetd/internal/pkg/worker"
	"fleetd.io/fleetd/internal/plugins/fake"
	"fleetd.io/fleetd/internal/registry"
	"fleetd.io/fleetd/internal/store"
	"fleetd.io/fleetd/internal/store/memstore"
)

// Infrastructure holds shared cross-cutting dependencies for all modules.
// It is a provider, not a Module.
type Infrastructure struct {
	Config   *config.Config
	DB       *infrastructure.DatabaseClients // nil with the memory store
	Store    store.Store
	Pools    *worker.Pools
	Registry *registry.Registry
	Metrics  *metrics.Metrics
}

// NewInfrastructure initializes the store, worker pools and type registry.
func NewInfrastructure(ctx context.Context, cfg *config.Config) (*Infrastructure, error) {
	infra := &Infrastructure{
		Config:   cfg,
		Registry: registry.New(),
		Metrics:  metrics.New(),
	}
	fake.Register(infra.Registry)

	if cfg.NeedsDatabase() {
		db, err := infrastructure.NewDatabaseClients(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("init database: %w", err)
		}
		if cfg.Database.AutoMigrate {
			if err := db.Migrate(ctx); err != nil {
				db.Close()
				return nil, fmt.Errorf("auto-migrate: %w", err)
			}
		}
		infra.DB = db
		infra.Store = db.Store
	} else {
		infra.Store = memstore.New()
	}

	pools, err := worker.NewPools(ctx, worker.PoolConfig{
		GeneralPoolSize: cfg.Worker.GeneralPoolSize,
		ActionPoolSize:  cfg.Worker.ActionPoolSize,
	})
	if err != nil {
		infra.Close()
		return nil, fmt.Errorf("init worker pools: %w", err)
	}
	infra.Pools = pools
	return infra, nil
}

// InitRiver initializes River client on top of a prepared worker registry.
func (i *Infrastructure) InitRiver(workers *river.Workers) error {
	if i == nil || i.DB == nil || i.Config == nil {
		return fmt.Errorf("infrastructure has no database for river")
	}
	if err := i.DB.InitRiverClient(workers, i.Config.River); err != nil {
		return fmt.Errorf("init river: %w", err)
	}
	return nil
}

// Close releases infra resources in reverse dependency order.
func (i *Infrastructure) Close() {
	if i == nil {
		return
	}
	if i.Pools != nil {
		i.Pools.Shutdown()
	}
	if i.DB != nil {
		i.DB.Close()
	}
}
