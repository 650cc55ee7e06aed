package registry

import (
	"context"

	"fleetd.io/fleetd/internal/domain"
	"fleetd.io/fleetd/internal/registry/schema"
)

// ProfileType realizes nodes from a profile. Every method may block on an
// external resource manager and must honor ctx.
type ProfileType interface {
	Schema() schema.Schema
	// Create provisions the node and returns its physical id.
	Create(ctx context.Context, node *domain.Node, profile *domain.Profile) (string, error)
	// Update moves the node from one profile to another of the same type.
	Update(ctx context.Context, node *domain.Node, from, to *domain.Profile) error
	Delete(ctx context.Context, node *domain.Node, profile *domain.Profile) error
	// Check reports whether the physical resource is healthy.
	Check(ctx context.Context, node *domain.Node, profile *domain.Profile) (bool, error)
}

// Policy check outcomes.
const (
	CheckOK    = "OK"
	CheckError = "CHECK_ERROR"
)

// PolicyData accumulates across the pre-op and post-op chains. Each policy
// may read what earlier policies wrote and add its own keys.
type PolicyData struct {
	Status string
	Reason string
	Values map[string]any
}

// NewPolicyData returns empty data in the OK state.
func NewPolicyData() *PolicyData {
	return &PolicyData{Status: CheckOK, Values: make(map[string]any)}
}

// Fail marks the data CHECK_ERROR with reason.
func (d *PolicyData) Fail(reason string) {
	d.Status = CheckError
	d.Reason = reason
}

// Failed reports whether a policy set CHECK_ERROR.
func (d *PolicyData) Failed() bool {
	return d.Status == CheckError
}

// PolicyCall carries the context of one hook invocation.
type PolicyCall struct {
	Policy    *domain.Policy
	Binding   *domain.ClusterPolicy
	ClusterID string
	Action    *domain.Action
}

// PolicyType is a governance rule wrapped around action execution.
type PolicyType interface {
	Schema() schema.Schema
	// Attach runs when the policy is bound to a cluster. An error rejects
	// the binding.
	Attach(ctx context.Context, cluster *domain.Cluster, policy *domain.Policy) error
	// Detach runs when the binding is removed.
	Detach(ctx context.Context, cluster *domain.Cluster, policy *domain.Policy) error
	PreOp(ctx context.Context, call *PolicyCall, data *PolicyData) error
	PostOp(ctx context.Context, call *PolicyCall, data *PolicyData) error
}
