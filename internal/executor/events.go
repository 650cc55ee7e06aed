package executor

import (
	"context"
	"fmt"

	"fleetd.io/fleetd/internal/domain"
	"fleetd.io/fleetd/internal/pkg/metrics"
	"fleetd.io/fleetd/internal/store"
)

// RegisterLifecycleHandlers records an event row for every lifecycle step
// and feeds finished actions into m.
func RegisterLifecycleHandlers(d *domain.LifecycleDispatcher, s store.Store, m *metrics.Metrics) {
	record := func(ctx context.Context, ev *domain.LifecycleEvent) error {
		level := domain.LevelInfo
		if ev.Status == domain.ActionFailed {
			level = domain.LevelError
		}
		reason := ev.Reason
		if ev.Type == domain.LifecycleStarted {
			reason = "Action started"
		}
		row := (&domain.Event{
			Timestamp:    ev.At,
			ObjID:        ev.Action.Target,
			ObjType:      ev.ObjType,
			ObjName:      ev.ObjName,
			ClusterID:    ev.ClusterID,
			Action:       string(ev.Action.Kind),
			ActionID:     ev.Action.ID,
			Status:       string(ev.Status),
			StatusReason: reason,
			Level:        level,
			Project:      ev.Action.Project,
			User:         ev.Action.User,
		}).ToRow()
		if _, err := s.Create(ctx, store.TableEvents, row); err != nil {
			return fmt.Errorf("record event: %w", err)
		}
		return nil
	}

	d.Register(domain.LifecycleStarted, record)
	d.Register(domain.LifecycleFinished, record)
	d.Register(domain.LifecycleFinished, func(_ context.Context, ev *domain.LifecycleEvent) error {
		m.ActionFinished(string(ev.Action.Kind), string(ev.Status), ev.Elapsed)
		return nil
	})
}
