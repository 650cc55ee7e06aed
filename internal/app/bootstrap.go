// Package app is the composition root. Bootstrap stays orchestration-only.
package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/riverqueue/river"

	"fleetd.io/fleetd/internal/api/handlers"
	"fleetd.io/fleetd/internal/api/middleware"
	"fleetd.io/fleetd/internal/app/modules"
	"fleetd.io/fleetd/internal/config"
	"fleetd.io/fleetd/internal/engine"
	"fleetd.io/fleetd/internal/infrastructure"
	"fleetd.io/fleetd/internal/pkg/worker"
)

// Application holds composed application dependencies.
type Application struct {
	Config  *config.Config
	Router  *gin.Engine
	Engine  *engine.Engine
	DB      *infrastructure.DatabaseClients
	Pools   *worker.Pools
	Modules []modules.Module
}

// Bootstrap initializes all dependencies using module-oriented manual DI.
func Bootstrap(ctx context.Context, cfg *config.Config) (*Application, error) {
	infra, err := modules.NewInfrastructure(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init infrastructure: %w", err)
	}

	engineModule := modules.NewEngineModule(infra)
	allModules := []modules.Module{engineModule}

	if cfg.Engine.Dispatcher == config.DispatcherRiver {
		workers := river.NewWorkers()
		for _, mod := range allModules {
			mod.RegisterWorkers(workers)
		}
		if err := infra.InitRiver(workers); err != nil {
			infra.Close()
			return nil, fmt.Errorf("init river workers: %w", err)
		}
		engineModule.BindRiver(infra.DB.RiverClient)
	}

	serverDeps := modules.NewServerDeps(cfg, infra, allModules)
	server := handlers.NewServer(serverDeps)
	jwtCfg := middleware.JWTConfig{
		SigningKey: []byte(cfg.Security.JWTSigningKey),
		Issuer:     cfg.Security.JWTIssuer,
		ExpiresIn:  cfg.Security.TokenLifetime,
	}

	return &Application{
		Config:  cfg,
		Router:  newRouter(cfg, server, jwtCfg, infra.Metrics),
		Engine:  engineModule.Engine(),
		DB:      infra.DB,
		Pools:   infra.Pools,
		Modules: allModules,
	}, nil
}
