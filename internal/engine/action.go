package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"fleetd.io/fleetd/internal/action"
	"fleetd.io/fleetd/internal/domain"
	"fleetd.io/fleetd/internal/lister"
	"fleetd.io/fleetd/internal/pkg/logger"
	"fleetd.io/fleetd/internal/store"

	apperrors "fleetd.io/fleetd/internal/pkg/errors"
)

// ActionCreateParams describes an action requested directly by a caller.
type ActionCreateParams struct {
	// Name defaults to <kind>_<target id prefix>.
	Name string
	// Target is a cluster identity for cluster actions and a node
	// identity otherwise.
	Target string
	Action domain.ActionKind
	Inputs map[string]any
}

var nodeActions = map[domain.ActionKind]bool{
	domain.NodeCreate: true,
	domain.NodeDelete: true,
	domain.NodeUpdate: true,
	domain.NodeJoin:   true,
	domain.NodeLeave:  true,
}

// ActionCreate records an action on an existing target and publishes it.
func (e *Engine) ActionCreate(ctx context.Context, params ActionCreateParams) (*Accepted, error) {
	var (
		target  string
		timeout *int
	)
	switch {
	case params.Action.TargetsCluster():
		c, err := e.liveCluster(ctx, params.Target)
		if err != nil {
			return nil, err
		}
		target, timeout = c.ID, c.Timeout
	case nodeActions[params.Action]:
		n, err := e.findNode(ctx, params.Target, false)
		if err != nil {
			return nil, err
		}
		target = n.ID
	default:
		return nil, apperrors.ErrInvalidParameter("action", params.Action)
	}

	a, err := e.publish(ctx, action.Spec{
		Name:    params.Name,
		Kind:    params.Action,
		Target:  target,
		Cause:   domain.CauseRPC,
		Inputs:  params.Inputs,
		Timeout: timeout,
	})
	if err != nil {
		return nil, err
	}
	return &Accepted{ID: target, Action: a.ID}, nil
}

// ActionGet returns the action matching identity.
func (e *Engine) ActionGet(ctx context.Context, identity string) (*domain.Action, error) {
	return e.findAction(ctx, identity)
}

// ActionList lists actions.
func (e *Engine) ActionList(ctx context.Context, opts lister.Options) ([]*domain.Action, error) {
	return list(ctx, e.store, store.TableActions, opts, domain.ActionFromRow)
}

// ActionCancel cancels an action. An action that has not started is
// cancelled at once; a running one stops at its next safe point.
func (e *Engine) ActionCancel(ctx context.Context, identity string) (*domain.Action, error) {
	a, err := e.findAction(ctx, identity)
	if err != nil {
		return nil, err
	}
	res, err := action.Cancel(ctx, e.store, a.ID)
	if err != nil {
		return nil, err
	}
	logger.Info("Action cancel requested",
		zap.String("action_id", a.ID),
		zap.String("result", string(res)),
	)
	return action.Get(ctx, e.store, a.ID)
}

// Wait blocks until the action reaches a terminal status or ctx is done.
func (e *Engine) Wait(ctx context.Context, identity string) (*domain.Action, error) {
	a, err := e.findAction(ctx, identity)
	if err != nil {
		return nil, err
	}
	ticker := time.NewTicker(e.cfg.WaitInterval)
	defer ticker.Stop()
	for {
		if a.Status.Terminal() {
			return a, nil
		}
		select {
		case <-ctx.Done():
			return a, ctx.Err()
		case <-ticker.C:
		}
		if a, err = action.Get(ctx, e.store, a.ID); err != nil {
			return nil, err
		}
	}
}

// EventList lists events.
func (e *Engine) EventList(ctx context.Context, opts lister.Options) ([]*domain.Event, error) {
	return list(ctx, e.store, store.TableEvents, opts, domain.EventFromRow)
}
