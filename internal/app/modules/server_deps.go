package modules

import (
	"fleetd.io/fleetd/internal/api/handlers"
	"fleetd.io/fleetd/internal/config"
)

// NewServerDeps builds base server deps then lets each module contribute explicit wiring.
func NewServerDeps(cfg *config.Config, infra *Infrastructure, mods []Module) handlers.ServerDeps {
	deps := handlers.ServerDeps{
		Checks:         map[string]handlers.Pinger{},
		MaxWaitSeconds: cfg.Server.MaxWaitSeconds,
	}
	if infra != nil && infra.DB != nil {
		deps.Checks["database"] = infra.DB
	}
	for _, mod := range mods {
		if mod == nil {
			continue
		}
		contributor, ok := mod.(ServerDepsContributor)
		if !ok {
			continue
		}
		contributor.ContributeServerDeps(&deps)
	}
	return deps
}
