package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"fleetd.io/fleetd/internal/domain"
	"fleetd.io/fleetd/internal/lister"
	"fleetd.io/fleetd/internal/pkg/logger"
	"fleetd.io/fleetd/internal/pkg/opt"
	"fleetd.io/fleetd/internal/store"

	apperrors "fleetd.io/fleetd/internal/pkg/errors"
)

// PolicyCreateParams describes a new policy.
type PolicyCreateParams struct {
	Name     string
	Type     string
	Spec     map[string]any
	Cooldown *int
	Level    *int
}

// PolicyUpdateParams lists the policy fields to change. The spec of a
// policy is fixed at creation.
type PolicyUpdateParams struct {
	Name     opt.Field[string]
	Cooldown opt.Field[int]
	Level    opt.Field[int]
}

// PolicyCreate validates the spec against its type and persists the policy.
func (e *Engine) PolicyCreate(ctx context.Context, params PolicyCreateParams) (*domain.Policy, error) {
	if err := nonNegative("cooldown", params.Cooldown); err != nil {
		return nil, err
	}
	if err := nonNegative("level", params.Level); err != nil {
		return nil, err
	}
	typ, err := e.reg.Policy(params.Type)
	if err != nil {
		return nil, err
	}
	if err := typ.Schema().Validate(params.Spec); err != nil {
		return nil, apperrors.ErrSpecValidationFailed(err)
	}

	spec := params.Spec
	if spec == nil {
		spec = map[string]any{}
	}
	project, user := owner(ctx)
	p := &domain.Policy{
		Name:    params.Name,
		Type:    params.Type,
		Spec:    spec,
		Project: project,
		User:    user,
	}
	if params.Cooldown != nil {
		p.Cooldown = *params.Cooldown
	}
	if params.Level != nil {
		p.Level = *params.Level
	}

	id, err := e.store.Create(ctx, store.TablePolicies, p.ToRow())
	if err != nil {
		return nil, fmt.Errorf("create policy: %w", err)
	}
	logger.Info("Policy created",
		zap.String("policy_id", id),
		zap.String("name", p.Name),
		zap.String("type", p.Type),
	)
	return e.policyByID(ctx, id)
}

func (e *Engine) policyByID(ctx context.Context, id string) (*domain.Policy, error) {
	row, err := e.reload(ctx, store.TablePolicies, id)
	if err != nil {
		return nil, err
	}
	return domain.PolicyFromRow(row)
}

// PolicyGet returns the policy matching identity.
func (e *Engine) PolicyGet(ctx context.Context, identity string) (*domain.Policy, error) {
	return e.findPolicy(ctx, identity, false)
}

// PolicyFind resolves identity; soft-deleted policies match only by full
// id with showDeleted.
func (e *Engine) PolicyFind(ctx context.Context, identity string, showDeleted bool) (*domain.Policy, error) {
	return e.findPolicy(ctx, identity, showDeleted)
}

// PolicyList lists policies.
func (e *Engine) PolicyList(ctx context.Context, opts lister.Options) ([]*domain.Policy, error) {
	return list(ctx, e.store, store.TablePolicies, opts, domain.PolicyFromRow)
}

// PolicyUpdate changes name, cooldown or level in place. Existing bindings
// keep the values they were created with.
func (e *Engine) PolicyUpdate(ctx context.Context, identity string, params PolicyUpdateParams) (*domain.Policy, error) {
	p, err := e.findPolicy(ctx, identity, false)
	if err != nil {
		return nil, err
	}

	fields := store.Row{}
	if params.Name.IsSet() {
		fields["name"] = params.Name.Value()
	}
	if params.Cooldown.IsSet() {
		v := params.Cooldown.Value()
		if err := nonNegative("cooldown", &v); err != nil {
			return nil, err
		}
		fields["cooldown"] = v
	}
	if params.Level.IsSet() {
		v := params.Level.Value()
		if err := nonNegative("level", &v); err != nil {
			return nil, err
		}
		fields["level"] = v
	}
	if len(fields) == 0 {
		return p, nil
	}
	if _, err := e.store.Update(ctx, store.TablePolicies, p.ID, fields, nil); err != nil {
		return nil, fmt.Errorf("update policy %s: %w", p.ID, err)
	}
	return e.policyByID(ctx, p.ID)
}

// PolicyDelete soft-deletes a policy that is not bound to any cluster.
func (e *Engine) PolicyDelete(ctx context.Context, identity string) error {
	p, err := e.findPolicy(ctx, identity, false)
	if err != nil {
		return err
	}
	rows, err := e.store.List(ctx, store.TableClusterPolicies, store.Query{
		Filters: map[string]any{"policy_id": p.ID},
	})
	if err != nil {
		return fmt.Errorf("check policy bindings: %w", err)
	}
	if len(rows) > 0 {
		return apperrors.ErrBadRequest(fmt.Sprintf("The policy (%s) is still attached to clusters.", identity))
	}
	if err := e.store.SoftDelete(ctx, store.TablePolicies, p.ID); err != nil {
		return fmt.Errorf("delete policy %s: %w", p.ID, err)
	}
	logger.Info("Policy deleted", zap.String("policy_id", p.ID))
	return nil
}
