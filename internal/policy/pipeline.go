// Package policy runs the policies bound to a cluster around each action.
//
// Bindings run in ascending level order (ties by binding creation). PreOp
// hooks thread one registry.PolicyData through every binding not in
// cooldown; PostOp hooks run over the same bindings in the same order.
//
// Import Path: fleetd.io/fleetd/internal/policy
package policy

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"fleetd.io/fleetd/internal/domain"
	"fleetd.io/fleetd/internal/pkg/logger"
	"fleetd.io/fleetd/internal/pkg/metrics"
	"fleetd.io/fleetd/internal/registry"
	"fleetd.io/fleetd/internal/store"
)

// Check outcomes recorded in metrics.
const (
	resultOK     = "ok"
	resultVetoed = "vetoed"
	resultFailed = "check_error"
)

// Pipeline loads bindings and invokes policy hooks.
type Pipeline struct {
	store   store.Store
	reg     *registry.Registry
	metrics *metrics.Metrics
	now     func() time.Time
}

// New creates a Pipeline. m may be nil.
func New(s store.Store, reg *registry.Registry, m *metrics.Metrics) *Pipeline {
	return &Pipeline{store: s, reg: reg, metrics: m, now: time.Now}
}

// Entry is one enabled binding with its policy and type.
type Entry struct {
	Binding *domain.ClusterPolicy
	Policy  *domain.Policy
	Type    registry.PolicyType
}

// InCooldown reports whether the binding was applied less than its
// cooldown ago.
func InCooldown(b *domain.ClusterPolicy, now time.Time) bool {
	if b.Cooldown <= 0 || b.LastApplied == nil {
		return false
	}
	return now.Sub(*b.LastApplied) < time.Duration(b.Cooldown)*time.Second
}

// Bindings returns the enabled bindings of clusterID in execution order.
func (p *Pipeline) Bindings(ctx context.Context, clusterID string) ([]Entry, error) {
	rows, err := p.store.List(ctx, store.TableClusterPolicies, store.Query{
		Filters: map[string]any{"cluster_id": clusterID, "enabled": true},
	})
	if err != nil {
		return nil, fmt.Errorf("list bindings of %s: %w", clusterID, err)
	}

	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		b, err := domain.ClusterPolicyFromRow(row)
		if err != nil {
			return nil, err
		}
		prow, err := p.store.Get(ctx, store.TablePolicies, b.PolicyID)
		if err != nil {
			return nil, fmt.Errorf("get policy %s: %w", b.PolicyID, err)
		}
		pol, err := domain.PolicyFromRow(prow)
		if err != nil {
			return nil, err
		}
		typ, err := p.reg.Policy(pol.Type)
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{Binding: b, Policy: pol, Type: typ})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		bi, bj := entries[i].Binding, entries[j].Binding
		if bi.Level != bj.Level {
			return bi.Level < bj.Level
		}
		if !bi.CreatedAt.Equal(bj.CreatedAt) {
			return bi.CreatedAt.Before(bj.CreatedAt)
		}
		return bi.ID < bj.ID
	})
	return entries, nil
}

// Run is the policy context of a single action execution.
type Run struct {
	p         *Pipeline
	clusterID string
	action    *domain.Action
	entries   []Entry
	vetoed    map[string]bool
	Data      *registry.PolicyData
}

// Begin loads the bindings of clusterID for action. An empty clusterID
// (a node outside any cluster) yields a run with no policies.
func (p *Pipeline) Begin(ctx context.Context, clusterID string, a *domain.Action) (*Run, error) {
	r := &Run{
		p:         p,
		clusterID: clusterID,
		action:    a,
		vetoed:    make(map[string]bool),
		Data:      registry.NewPolicyData(),
	}
	if clusterID == "" {
		return r, nil
	}
	entries, err := p.Bindings(ctx, clusterID)
	if err != nil {
		return nil, err
	}
	r.entries = entries
	return r, nil
}

// Entries returns the bindings of the run in execution order.
func (r *Run) Entries() []Entry { return r.entries }

// PreOp invokes every binding's PreOp. Bindings in cooldown are skipped
// and stay skipped for PostOp. A hook error or CHECK_ERROR stops the chain;
// the caller checks Data.Failed().
func (r *Run) PreOp(ctx context.Context) error {
	now := r.p.now()
	for _, e := range r.entries {
		log := logger.ForAction(r.action.ID, string(r.action.Kind), r.action.Target).
			With(zap.String("policy_id", e.Policy.ID))

		if InCooldown(e.Binding, now) {
			r.vetoed[e.Binding.ID] = true
			r.p.metrics.PolicyChecked(e.Policy.Type, resultVetoed)
			log.Info("Policy in cooldown, skipped",
				zap.Int("cooldown", e.Binding.Cooldown),
				zap.Timep("last_applied", e.Binding.LastApplied),
			)
			continue
		}

		call := r.call(e)
		if err := e.Type.PreOp(ctx, call, r.Data); err != nil {
			r.Data.Fail(fmt.Sprintf("policy %s pre-op failed: %v", e.Policy.Name, err))
		}
		if r.Data.Failed() {
			r.p.metrics.PolicyChecked(e.Policy.Type, resultFailed)
			log.Warn("Policy check failed", zap.String("reason", r.Data.Reason))
			return nil
		}
		r.p.metrics.PolicyChecked(e.Policy.Type, resultOK)
	}
	return nil
}

// PostOp invokes PostOp on every binding PreOp did not skip, then records
// last_applied for each binding whose PostOp succeeded.
func (r *Run) PostOp(ctx context.Context) error {
	for _, e := range r.entries {
		if r.vetoed[e.Binding.ID] {
			continue
		}
		if err := e.Type.PostOp(ctx, r.call(e), r.Data); err != nil {
			r.Data.Fail(fmt.Sprintf("policy %s post-op failed: %v", e.Policy.Name, err))
			r.p.metrics.PolicyChecked(e.Policy.Type, resultFailed)
			return nil
		}
		if r.Data.Failed() {
			r.p.metrics.PolicyChecked(e.Policy.Type, resultFailed)
			return nil
		}
		if err := r.p.touch(ctx, e.Binding.ID); err != nil {
			return err
		}
	}
	return nil
}

func (r *Run) call(e Entry) *registry.PolicyCall {
	return &registry.PolicyCall{
		Policy:    e.Policy,
		Binding:   e.Binding,
		ClusterID: r.clusterID,
		Action:    r.action,
	}
}

func (p *Pipeline) touch(ctx context.Context, bindingID string) error {
	_, err := p.store.Update(ctx, store.TableClusterPolicies, bindingID,
		store.Row{"last_applied": p.now()}, nil)
	if err != nil {
		return fmt.Errorf("update last_applied of %s: %w", bindingID, err)
	}
	return nil
}
