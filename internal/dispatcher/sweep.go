package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"fleetd.io/fleetd/internal/domain"
	"fleetd.io/fleetd/internal/lock"
	"fleetd.io/fleetd/internal/pkg/logger"
	"fleetd.io/fleetd/internal/store"
)

// SweepResult summarizes one sweep.
type SweepResult struct {
	Republished   int
	LocksReleased int
}

// Sweep re-publishes READY actions not touched for staleAfter and frees
// locks whose owning action is finished or gone. It recovers from lost
// notifications and from workers that died holding a lock.
func Sweep(ctx context.Context, s store.Store, n Notifier, staleAfter time.Duration, now time.Time) (SweepResult, error) {
	var res SweepResult

	rows, err := s.List(ctx, store.TableActions, store.Query{
		Filters: map[string]any{"status": string(domain.ActionReady)},
	})
	if err != nil {
		return res, fmt.Errorf("list ready actions: %w", err)
	}
	cutoff := store.FormatTime(now.Add(-staleAfter))
	for _, row := range rows {
		updated, _ := row[store.ColUpdatedAt].(string)
		if updated > cutoff {
			continue
		}
		if err := n.Notify(ctx, row.ID()); err != nil {
			logger.Warn("Sweep failed to republish action",
				zap.String("action_id", row.ID()), zap.Error(err))
			continue
		}
		res.Republished++
	}

	locks, err := s.List(ctx, store.TableLocks, store.Query{})
	if err != nil {
		return res, fmt.Errorf("list locks: %w", err)
	}
	for _, row := range locks {
		owner, _ := row["owner"].(string)
		if owner == "" {
			continue
		}
		arow, err := s.Get(ctx, store.TableActions, owner)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return res, fmt.Errorf("get lock owner %s: %w", owner, err)
		}
		if err == nil {
			status, _ := arow["status"].(string)
			if !domain.ActionStatus(status).Terminal() {
				continue
			}
		}
		released, err := lock.Release(ctx, s, row.ID(), owner)
		if err != nil {
			return res, err
		}
		if released {
			logger.Info("Sweep released stale lock",
				zap.String("target", row.ID()), zap.String("owner", owner))
			res.LocksReleased++
		}
	}
	return res, nil
}
