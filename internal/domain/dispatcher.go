package domain

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"fleetd.io/fleetd/internal/pkg/logger"
)

// LifecycleType names an action lifecycle step.
type LifecycleType string

const (
	LifecycleStarted  LifecycleType = "ACTION_STARTED"
	LifecycleFinished LifecycleType = "ACTION_FINISHED"
)

// LifecycleEvent describes one step in an action's execution.
type LifecycleEvent struct {
	Type    LifecycleType
	Action  *Action
	ObjType string
	ObjName string
	// ClusterID is the owning cluster for node targets, the target itself
	// for cluster targets.
	ClusterID string
	Status    ActionStatus
	Reason    string
	At        time.Time
	Elapsed   time.Duration
}

// LifecycleHandler processes a lifecycle event.
type LifecycleHandler func(ctx context.Context, ev *LifecycleEvent) error

// LifecycleDispatcher routes lifecycle events to registered handlers.
type LifecycleDispatcher struct {
	handlers map[LifecycleType][]LifecycleHandler
	mu       sync.RWMutex
}

// NewLifecycleDispatcher creates an empty dispatcher.
func NewLifecycleDispatcher() *LifecycleDispatcher {
	return &LifecycleDispatcher{
		handlers: make(map[LifecycleType][]LifecycleHandler),
	}
}

// Register adds a handler for t.
func (d *LifecycleDispatcher) Register(t LifecycleType, h LifecycleHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[t] = append(d.handlers[t], h)
}

// Dispatch calls every handler for ev.Type in registration order. A failing
// handler is logged and the rest still run; the first error is returned.
func (d *LifecycleDispatcher) Dispatch(ctx context.Context, ev *LifecycleEvent) error {
	if d == nil {
		return nil
	}
	d.mu.RLock()
	handlers := d.handlers[ev.Type]
	d.mu.RUnlock()

	var firstErr error
	for _, h := range handlers {
		if err := h(ctx, ev); err != nil {
			logger.Error("Lifecycle handler failed",
				zap.String("type", string(ev.Type)),
				zap.String("action_id", ev.Action.ID),
				zap.Error(err),
			)
			if firstErr == nil {
				firstErr = fmt.Errorf("handler for %s failed: %w", ev.Type, err)
			}
		}
	}
	return firstErr
}
