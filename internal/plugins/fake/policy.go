package fake

import (
	"context"
	"fmt"
	"sync"

	"fleetd.io/fleetd/internal/domain"
	"fleetd.io/fleetd/internal/registry"
	"fleetd.io/fleetd/internal/registry/schema"
)

// Hook records one policy hook invocation.
type Hook struct {
	Op       string
	PolicyID string
	ActionID string
}

// Policy records hook calls and can be told to misbehave.
//
// Spec keys understood at run time:
//
//	KEY1 "reject"  Attach fails
//	KEY1 "deny"    PreOp sets CHECK_ERROR
type Policy struct {
	mu    sync.Mutex
	hooks []Hook
}

// NewPolicy creates an empty fake policy type.
func NewPolicy() *Policy {
	return &Policy{}
}

// Schema implements registry.PolicyType.
func (p *Policy) Schema() schema.Schema {
	return schema.Schema{
		"KEY1": {Type: schema.String, Description: "key1", Default: "default1"},
		"KEY2": {Type: schema.Integer, Description: "key2", Default: 1},
	}
}

func (p *Policy) record(op, policyID, actionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hooks = append(p.hooks, Hook{Op: op, PolicyID: policyID, ActionID: actionID})
}

// Attach implements registry.PolicyType.
func (p *Policy) Attach(_ context.Context, cluster *domain.Cluster, policy *domain.Policy) error {
	p.record("attach", policy.ID, "")
	if policy.Spec["KEY1"] == "reject" {
		return fmt.Errorf("policy %s refuses cluster %s", policy.Name, cluster.Name)
	}
	return nil
}

// Detach implements registry.PolicyType.
func (p *Policy) Detach(_ context.Context, _ *domain.Cluster, policy *domain.Policy) error {
	p.record("detach", policy.ID, "")
	return nil
}

// PreOp implements registry.PolicyType. It appends the policy id to the
// "chain" value so tests can observe ordering and data threading.
func (p *Policy) PreOp(_ context.Context, call *registry.PolicyCall, data *registry.PolicyData) error {
	p.record("pre_op", call.Policy.ID, call.Action.ID)
	chain, _ := data.Values["chain"].([]string)
	data.Values["chain"] = append(chain, call.Policy.ID)
	if call.Policy.Spec["KEY1"] == "deny" {
		data.Fail(fmt.Sprintf("policy %s denied %s", call.Policy.Name, call.Action.Kind))
	}
	return nil
}

// PostOp implements registry.PolicyType.
func (p *Policy) PostOp(_ context.Context, call *registry.PolicyCall, _ *registry.PolicyData) error {
	p.record("post_op", call.Policy.ID, call.Action.ID)
	return nil
}

// Hooks returns a copy of the recorded invocations.
func (p *Policy) Hooks() []Hook {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Hook(nil), p.hooks...)
}

// HooksFor returns the recorded invocations of op.
func (p *Policy) HooksFor(op string) []Hook {
	var out []Hook
	for _, h := range p.Hooks() {
		if h.Op == op {
			out = append(out, h)
		}
	}
	return out
}
