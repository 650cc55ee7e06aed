package engine

import (
	"context"

	"fleetd.io/fleetd/internal/domain"
	"fleetd.io/fleetd/internal/lister"
	"fleetd.io/fleetd/internal/policy"
	"fleetd.io/fleetd/internal/store"

	apperrors "fleetd.io/fleetd/internal/pkg/errors"
)

// BindingParams overrides per-binding settings. Nil fields keep the
// policy's values on attach and the current values on update.
type BindingParams struct {
	Enabled  *bool
	Level    *int
	Cooldown *int
	Priority *int
}

func (p BindingParams) options() (policy.BindOptions, error) {
	if err := nonNegative("level", p.Level); err != nil {
		return policy.BindOptions{}, err
	}
	if err := nonNegative("cooldown", p.Cooldown); err != nil {
		return policy.BindOptions{}, err
	}
	return policy.BindOptions{
		Enabled:  p.Enabled,
		Level:    p.Level,
		Cooldown: p.Cooldown,
		Priority: p.Priority,
	}, nil
}

// ClusterPolicyAttach binds a policy to a cluster.
func (e *Engine) ClusterPolicyAttach(ctx context.Context, clusterIdentity, policyIdentity string,
	params BindingParams) (*domain.ClusterPolicy, error) {
	opts, err := params.options()
	if err != nil {
		return nil, err
	}
	c, err := e.liveCluster(ctx, clusterIdentity)
	if err != nil {
		return nil, err
	}
	p, err := e.findPolicy(ctx, policyIdentity, false)
	if err != nil {
		return nil, err
	}
	return e.policies.Attach(ctx, c, p, opts)
}

// ClusterPolicyDetach removes the binding of a policy from a cluster.
func (e *Engine) ClusterPolicyDetach(ctx context.Context, clusterIdentity, policyIdentity string) error {
	c, err := e.liveCluster(ctx, clusterIdentity)
	if err != nil {
		return err
	}
	p, err := e.findPolicy(ctx, policyIdentity, false)
	if err != nil {
		return err
	}
	return e.policies.Detach(ctx, c, p)
}

// ClusterPolicyList lists the bindings of a cluster.
func (e *Engine) ClusterPolicyList(ctx context.Context, clusterIdentity string, opts lister.Options) ([]*domain.ClusterPolicy, error) {
	c, err := e.findCluster(ctx, clusterIdentity, false)
	if err != nil {
		return nil, err
	}
	filters := make(map[string]any, len(opts.Filters)+1)
	for k, v := range opts.Filters {
		filters[k] = v
	}
	filters["cluster_id"] = c.ID
	opts.Filters = filters
	return list(ctx, e.store, store.TableClusterPolicies, opts, domain.ClusterPolicyFromRow)
}

// ClusterPolicyGet returns the binding of a policy to a cluster.
func (e *Engine) ClusterPolicyGet(ctx context.Context, clusterIdentity, policyIdentity string) (*domain.ClusterPolicy, error) {
	return e.binding(ctx, clusterIdentity, policyIdentity)
}

// ClusterPolicyUpdate changes the settings of a binding.
func (e *Engine) ClusterPolicyUpdate(ctx context.Context, clusterIdentity, policyIdentity string,
	params BindingParams) (*domain.ClusterPolicy, error) {
	opts, err := params.options()
	if err != nil {
		return nil, err
	}
	b, err := e.binding(ctx, clusterIdentity, policyIdentity)
	if err != nil {
		return nil, err
	}
	return e.policies.UpdateBinding(ctx, b, opts)
}

func (e *Engine) binding(ctx context.Context, clusterIdentity, policyIdentity string) (*domain.ClusterPolicy, error) {
	c, err := e.findCluster(ctx, clusterIdentity, false)
	if err != nil {
		return nil, err
	}
	p, err := e.findPolicy(ctx, policyIdentity, false)
	if err != nil {
		return nil, err
	}
	b, err := e.policies.FindBinding(ctx, c.ID, p.ID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, apperrors.ErrClusterPolicyNotFound(c.ID, p.ID)
	}
	return b, nil
}
