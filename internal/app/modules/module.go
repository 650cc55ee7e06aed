// Package modules contains the dependency modules of the composition root.
//
// Import Path: fleetd.io/fleetd/internal/app/modules
package modules

import (
	"context"

	"github.com/riverqueue/river"

	"fleetd.io/fleetd/internal/api/handlers"
)

// Module represents a domain-specific dependency unit in the composition root.
type Module interface {
	// Name returns a stable module identifier for logging/debugging.
	Name() string

	// RegisterWorkers registers module workers into a shared River worker registry.
	RegisterWorkers(*river.Workers)

	// Shutdown performs module-local graceful cleanup.
	Shutdown(context.Context) error
}

// ServerDepsContributor is implemented by modules that own HTTP server
// dependencies.
type ServerDepsContributor interface {
	ContributeServerDeps(*handlers.ServerDeps)
}

// Starter is implemented by modules with background work that begins once
// the application starts.
type Starter interface {
	Start(context.Context) error
}
