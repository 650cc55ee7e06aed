// Package engine is the synchronous façade over fleetd's entities.
//
// Every operation takes a context carrying the caller's domain.Identity and
// fails with an *apperrors.AppError whose Code names the error kind.
// Operations that change clusters or nodes record an action, publish it
// through the Notifier exactly once and return without waiting; Wait
// awaits an action for call-style clients.
//
// Import Path: fleetd.io/fleetd/internal/engine
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"fleetd.io/fleetd/internal/action"
	"fleetd.io/fleetd/internal/dispatcher"
	"fleetd.io/fleetd/internal/domain"
	"fleetd.io/fleetd/internal/lister"
	"fleetd.io/fleetd/internal/pkg/logger"
	"fleetd.io/fleetd/internal/policy"
	"fleetd.io/fleetd/internal/registry"
	"fleetd.io/fleetd/internal/resolver"
	"fleetd.io/fleetd/internal/store"

	apperrors "fleetd.io/fleetd/internal/pkg/errors"
)

// DefaultWaitInterval is how often Wait polls an action.
const DefaultWaitInterval = 100 * time.Millisecond

// Config tunes the engine.
type Config struct {
	// WaitInterval is the polling interval of Wait.
	WaitInterval time.Duration
}

// Engine implements the fleetd operations.
type Engine struct {
	store    store.Store
	reg      *registry.Registry
	policies *policy.Pipeline
	notifier dispatcher.Notifier
	cfg      Config
}

// New creates an Engine.
func New(s store.Store, reg *registry.Registry, p *policy.Pipeline, n dispatcher.Notifier, cfg Config) *Engine {
	if cfg.WaitInterval <= 0 {
		cfg.WaitInterval = DefaultWaitInterval
	}
	return &Engine{store: s, reg: reg, policies: p, notifier: n, cfg: cfg}
}

// Accepted identifies the target and the action an operation started.
type Accepted struct {
	ID     string `json:"id"`
	Action string `json:"action"`
}

// ---------------------------------------------------------------------------
// Identity resolution
// ---------------------------------------------------------------------------

// find resolves identity in table and maps resolver failures to the
// entity's error kind. Rows of other projects are invisible to non-admin
// callers.
func (e *Engine) find(ctx context.Context, table, entity, identity string, showDeleted bool,
	notFound func(string) *apperrors.AppError) (store.Row, error) {
	row, err := resolver.Resolve(ctx, e.store, table, identity, showDeleted)
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return nil, notFound(identity)
	case errors.Is(err, apperrors.ErrAmbiguous):
		return nil, apperrors.ErrAmbiguousIdentity(entity, identity)
	case err != nil:
		return nil, err
	}
	if !visible(ctx, row) {
		return nil, notFound(identity)
	}
	return row, nil
}

func visible(ctx context.Context, row store.Row) bool {
	ident := domain.IdentityFrom(ctx)
	if ident.Admin || ident.Project == "" {
		return true
	}
	project, ok := row["project"].(string)
	return !ok || project == "" || project == ident.Project
}

func (e *Engine) findProfile(ctx context.Context, identity string, showDeleted bool) (*domain.Profile, error) {
	row, err := e.find(ctx, store.TableProfiles, "profile", identity, showDeleted, apperrors.ErrProfileNotFound)
	if err != nil {
		return nil, err
	}
	return domain.ProfileFromRow(row)
}

func (e *Engine) findPolicy(ctx context.Context, identity string, showDeleted bool) (*domain.Policy, error) {
	row, err := e.find(ctx, store.TablePolicies, "policy", identity, showDeleted, apperrors.ErrPolicyNotFound)
	if err != nil {
		return nil, err
	}
	return domain.PolicyFromRow(row)
}

func (e *Engine) findCluster(ctx context.Context, identity string, showDeleted bool) (*domain.Cluster, error) {
	row, err := e.find(ctx, store.TableClusters, "cluster", identity, showDeleted, apperrors.ErrClusterNotFound)
	if err != nil {
		return nil, err
	}
	return domain.ClusterFromRow(row)
}

// liveCluster resolves a cluster that can still be operated on.
func (e *Engine) liveCluster(ctx context.Context, identity string) (*domain.Cluster, error) {
	c, err := e.findCluster(ctx, identity, false)
	if err != nil {
		return nil, err
	}
	if c.Status == domain.ClusterDeleted {
		return nil, apperrors.ErrClusterNotFound(identity)
	}
	return c, nil
}

func (e *Engine) findNode(ctx context.Context, identity string, showDeleted bool) (*domain.Node, error) {
	row, err := e.find(ctx, store.TableNodes, "node", identity, showDeleted, apperrors.ErrNodeNotFound)
	if err != nil {
		return nil, err
	}
	return domain.NodeFromRow(row)
}

func (e *Engine) findAction(ctx context.Context, identity string) (*domain.Action, error) {
	row, err := e.find(ctx, store.TableActions, "action", identity, false, apperrors.ErrActionNotFound)
	if err != nil {
		return nil, err
	}
	return domain.ActionFromRow(row)
}

// ---------------------------------------------------------------------------
// Listing
// ---------------------------------------------------------------------------

// list runs the lister over table, restricted to the caller's project.
func list[T any](ctx context.Context, s store.Store, table string, opts lister.Options,
	decode func(store.Row) (*T, error)) ([]*T, error) {
	ident := domain.IdentityFrom(ctx)
	if !ident.Admin && ident.Project != "" && table != store.TableClusterPolicies {
		filters := make(map[string]any, len(opts.Filters)+1)
		for k, v := range opts.Filters {
			filters[k] = v
		}
		filters["project"] = ident.Project
		opts.Filters = filters
	}
	rows, err := lister.List(ctx, s, table, opts)
	if err != nil {
		return nil, err
	}
	out := make([]*T, 0, len(rows))
	for _, row := range rows {
		v, err := decode(row)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Actions
// ---------------------------------------------------------------------------

// start records an RPC action on target and publishes it.
func (e *Engine) start(ctx context.Context, kind domain.ActionKind, target string,
	inputs map[string]any, timeout *int) (*domain.Action, error) {
	return e.publish(ctx, action.Spec{
		Kind:    kind,
		Target:  target,
		Cause:   domain.CauseRPC,
		Inputs:  inputs,
		Timeout: timeout,
	})
}

// publish creates the action and notifies the dispatcher exactly once.
func (e *Engine) publish(ctx context.Context, spec action.Spec) (*domain.Action, error) {
	a, err := action.Create(ctx, e.store, spec)
	if err != nil {
		return nil, err
	}
	if err := e.notifier.Notify(ctx, a.ID); err != nil {
		return nil, fmt.Errorf("notify action %s: %w", a.ID, err)
	}
	logger.Info("Action accepted",
		zap.String("action_id", a.ID),
		zap.String("kind", string(a.Kind)),
		zap.String("target", a.Target),
	)
	return a, nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// quoteList renders ids as ['a', 'b'] for error messages.
func quoteList(ids []string) string {
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = "'" + id + "'"
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

func nonNegative(name string, v *int) error {
	if v != nil && *v < 0 {
		return apperrors.ErrInvalidParameter(name, *v)
	}
	return nil
}

func owner(ctx context.Context) (project, user string) {
	ident := domain.IdentityFrom(ctx)
	return ident.Project, ident.User
}

func (e *Engine) reload(ctx context.Context, table, id string) (store.Row, error) {
	row, err := e.store.Get(ctx, table, id)
	if err != nil {
		return nil, fmt.Errorf("reload %s %s: %w", table, id, err)
	}
	return row, nil
}
