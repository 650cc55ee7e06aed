package policy

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fleetd.io/fleetd/internal/domain"
	"fleetd.io/fleetd/internal/pkg/logger"
	"fleetd.io/fleetd/internal/store"

	apperrors "fleetd.io/fleetd/internal/pkg/errors"
)

// BindOptions overrides the policy's level and cooldown for one binding.
type BindOptions struct {
	Enabled  *bool
	Level    *int
	Cooldown *int
	Priority *int
}

// bindingSpace namespaces binding ids derived from (cluster, policy).
var bindingSpace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("fleetd.io/cluster-policy"))

// BindingID returns the fixed id of the (clusterID, policyID) binding. A pair
// has at most one row, live or soft-deleted.
func BindingID(clusterID, policyID string) string {
	return uuid.NewSHA1(bindingSpace, []byte(clusterID+"/"+policyID)).String()
}

// FindBinding returns the live binding of (clusterID, policyID), or nil.
func (p *Pipeline) FindBinding(ctx context.Context, clusterID, policyID string) (*domain.ClusterPolicy, error) {
	rows, err := p.store.List(ctx, store.TableClusterPolicies, store.Query{
		Filters: map[string]any{"cluster_id": clusterID, "policy_id": policyID},
	})
	if err != nil {
		return nil, fmt.Errorf("find binding: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return domain.ClusterPolicyFromRow(rows[0])
}

// Attach binds pol to cluster. The policy type's Attach hook runs first;
// if it rejects the cluster nothing is persisted. Of two concurrent attaches
// of the same pair exactly one persists a binding.
func (p *Pipeline) Attach(ctx context.Context, cluster *domain.Cluster, pol *domain.Policy, opts BindOptions) (*domain.ClusterPolicy, error) {
	existing, err := p.FindBinding(ctx, cluster.ID, pol.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, errAlreadyAttached(cluster, pol)
	}

	typ, err := p.reg.Policy(pol.Type)
	if err != nil {
		return nil, err
	}
	if err := typ.Attach(ctx, cluster, pol); err != nil {
		logger.Warn("Policy attach rejected",
			zap.String("cluster_id", cluster.ID),
			zap.String("policy_id", pol.ID),
			zap.Error(err),
		)
		return nil, apperrors.ErrBadRequest(fmt.Sprintf("Policy attach rejected: %v", err))
	}

	b := &domain.ClusterPolicy{
		ID:         BindingID(cluster.ID, pol.ID),
		ClusterID:  cluster.ID,
		PolicyID:   pol.ID,
		PolicyName: pol.Name,
		PolicyType: pol.Type,
		Enabled:    true,
		Level:      pol.Level,
		Cooldown:   pol.Cooldown,
	}
	applyOptions(b, opts)

	stored, err := p.storeBinding(ctx, b)
	if err != nil {
		return nil, err
	}
	if !stored {
		if err := typ.Detach(ctx, cluster, pol); err != nil {
			logger.Warn("Policy detach after lost attach failed",
				zap.String("cluster_id", cluster.ID),
				zap.String("policy_id", pol.ID),
				zap.Error(err),
			)
		}
		return nil, errAlreadyAttached(cluster, pol)
	}

	row, err := p.store.Get(ctx, store.TableClusterPolicies, b.ID)
	if err != nil {
		return nil, fmt.Errorf("reload binding: %w", err)
	}
	logger.Info("Policy attached",
		zap.String("cluster_id", cluster.ID),
		zap.String("policy_id", pol.ID),
		zap.Int("level", b.Level),
	)
	return domain.ClusterPolicyFromRow(row)
}

// storeBinding inserts b under its fixed id, or revives the soft-deleted row
// left by an earlier detach. It returns false when a live binding exists.
func (p *Pipeline) storeBinding(ctx context.Context, b *domain.ClusterPolicy) (bool, error) {
	_, err := p.store.Create(ctx, store.TableClusterPolicies, b.ToRow())
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, store.ErrDuplicate) {
		return false, fmt.Errorf("create binding: %w", err)
	}

	prev, err := p.store.Get(ctx, store.TableClusterPolicies, b.ID)
	if err != nil {
		return false, fmt.Errorf("get binding %s: %w", b.ID, err)
	}
	if !prev.Deleted() {
		return false, nil
	}
	fields := b.ToRow()
	fields[store.ColDeletedAt] = nil
	ok, err := p.store.Update(ctx, store.TableClusterPolicies, b.ID, fields,
		store.Condition{store.ColDeletedAt: prev[store.ColDeletedAt]})
	if err != nil {
		return false, fmt.Errorf("revive binding %s: %w", b.ID, err)
	}
	return ok, nil
}

func errAlreadyAttached(cluster *domain.Cluster, pol *domain.Policy) error {
	return apperrors.ErrBadRequest(fmt.Sprintf(
		"The policy (%s) is already attached to cluster (%s).", pol.ID, cluster.ID))
}

// Detach runs the type's Detach hook and removes the binding.
func (p *Pipeline) Detach(ctx context.Context, cluster *domain.Cluster, pol *domain.Policy) error {
	b, err := p.FindBinding(ctx, cluster.ID, pol.ID)
	if err != nil {
		return err
	}
	if b == nil {
		return apperrors.ErrClusterPolicyNotFound(cluster.ID, pol.ID)
	}

	typ, err := p.reg.Policy(pol.Type)
	if err != nil {
		return err
	}
	if err := typ.Detach(ctx, cluster, pol); err != nil {
		return apperrors.ErrBadRequest(fmt.Sprintf("Policy detach failed: %v", err))
	}
	if err := p.store.SoftDelete(ctx, store.TableClusterPolicies, b.ID); err != nil {
		return fmt.Errorf("delete binding %s: %w", b.ID, err)
	}
	logger.Info("Policy detached",
		zap.String("cluster_id", cluster.ID),
		zap.String("policy_id", pol.ID),
	)
	return nil
}

// ListBindings returns every live binding of clusterID, enabled or not,
// in creation order.
func (p *Pipeline) ListBindings(ctx context.Context, clusterID string) ([]*domain.ClusterPolicy, error) {
	rows, err := p.store.List(ctx, store.TableClusterPolicies, store.Query{
		Filters: map[string]any{"cluster_id": clusterID},
	})
	if err != nil {
		return nil, fmt.Errorf("list bindings of %s: %w", clusterID, err)
	}
	out := make([]*domain.ClusterPolicy, 0, len(rows))
	for _, row := range rows {
		b, err := domain.ClusterPolicyFromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// DetachAll removes every binding of cluster, running each type's Detach
// hook. Used when the cluster is deleted.
func (p *Pipeline) DetachAll(ctx context.Context, cluster *domain.Cluster) error {
	bindings, err := p.ListBindings(ctx, cluster.ID)
	if err != nil {
		return err
	}
	for _, b := range bindings {
		row, err := p.store.Get(ctx, store.TablePolicies, b.PolicyID)
		if err != nil {
			return fmt.Errorf("get policy %s: %w", b.PolicyID, err)
		}
		pol, err := domain.PolicyFromRow(row)
		if err != nil {
			return err
		}
		if err := p.Detach(ctx, cluster, pol); err != nil {
			return err
		}
	}
	return nil
}

// UpdateBinding applies opts to an existing binding.
func (p *Pipeline) UpdateBinding(ctx context.Context, b *domain.ClusterPolicy, opts BindOptions) (*domain.ClusterPolicy, error) {
	applyOptions(b, opts)
	_, err := p.store.Update(ctx, store.TableClusterPolicies, b.ID, store.Row{
		"enabled":  b.Enabled,
		"level":    b.Level,
		"cooldown": b.Cooldown,
		"priority": b.Priority,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("update binding %s: %w", b.ID, err)
	}
	row, err := p.store.Get(ctx, store.TableClusterPolicies, b.ID)
	if err != nil {
		return nil, fmt.Errorf("reload binding: %w", err)
	}
	return domain.ClusterPolicyFromRow(row)
}

func applyOptions(b *domain.ClusterPolicy, opts BindOptions) {
	if opts.Enabled != nil {
		b.Enabled = *opts.Enabled
	}
	if opts.Level != nil {
		b.Level = *opts.Level
	}
	if opts.Cooldown != nil {
		b.Cooldown = *opts.Cooldown
	}
	if opts.Priority != nil {
		b.Priority = *opts.Priority
	}
}
