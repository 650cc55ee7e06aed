// Package fake provides in-memory profile and policy types for tests and
// development mode.
//
// Import Path: fleetd.io/fleetd/internal/plugins/fake
package fake

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fleetd.io/fleetd/internal/domain"
	"fleetd.io/fleetd/internal/registry"
	"fleetd.io/fleetd/internal/registry/schema"
	"fleetd.io/fleetd/internal/store"
)

// Type names under which Register installs the fakes.
const (
	ProfileTypeName = "TestProfile"
	PolicyTypeName  = "TestPolicy"
)

// Register installs a fresh Profile and Policy into reg and returns them.
func Register(reg *registry.Registry) (*Profile, *Policy) {
	p := NewProfile()
	pol := NewPolicy()
	reg.RegisterProfile(ProfileTypeName, p)
	reg.RegisterPolicy(PolicyTypeName, pol)
	return p, pol
}

// Profile keeps "physical" resources in a map.
type Profile struct {
	mu        sync.Mutex
	resources map[string]string // physical id -> node id
	calls     map[string]int

	// FailOn makes the named operation (create, update, delete, check)
	// return an error.
	FailOn map[string]error
	// Delay blocks every operation for the duration or until ctx is done.
	Delay time.Duration
}

// NewProfile creates an empty fake profile type.
func NewProfile() *Profile {
	return &Profile{
		resources: make(map[string]string),
		calls:     make(map[string]int),
		FailOn:    make(map[string]error),
	}
}

// Schema implements registry.ProfileType.
func (p *Profile) Schema() schema.Schema {
	return schema.Schema{
		"INT": {Type: schema.Integer, Description: "int property", Default: 0},
		"STR": {Type: schema.String, Description: "string property", Default: "a string"},
		"MAP": {Type: schema.Map, Description: "map property", Schema: schema.Schema{
			"KEY1": {Type: schema.Integer, Description: "key1"},
			"KEY2": {Type: schema.String, Description: "key2"},
		}},
		"LIST": {Type: schema.List, Description: "list property",
			Schema: schema.Item(schema.Field{Type: schema.String, Description: "list item"})},
	}
}

func (p *Profile) enter(ctx context.Context, op string) error {
	p.mu.Lock()
	p.calls[op]++
	err := p.FailOn[op]
	delay := p.Delay
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// Create implements registry.ProfileType.
func (p *Profile) Create(ctx context.Context, node *domain.Node, _ *domain.Profile) (string, error) {
	if err := p.enter(ctx, "create"); err != nil {
		return "", err
	}
	physicalID := "phy-" + store.NewID()
	p.mu.Lock()
	p.resources[physicalID] = node.ID
	p.mu.Unlock()
	return physicalID, nil
}

// Update implements registry.ProfileType.
func (p *Profile) Update(ctx context.Context, node *domain.Node, _, _ *domain.Profile) error {
	if err := p.enter(ctx, "update"); err != nil {
		return err
	}
	return p.mustExist(node)
}

// Delete implements registry.ProfileType.
func (p *Profile) Delete(ctx context.Context, node *domain.Node, _ *domain.Profile) error {
	if err := p.enter(ctx, "delete"); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.resources, node.PhysicalID)
	return nil
}

// Check implements registry.ProfileType.
func (p *Profile) Check(ctx context.Context, node *domain.Node, _ *domain.Profile) (bool, error) {
	if err := p.enter(ctx, "check"); err != nil {
		return false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.resources[node.PhysicalID]
	return ok, nil
}

func (p *Profile) mustExist(node *domain.Node) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.resources[node.PhysicalID]; !ok {
		return fmt.Errorf("resource %q not found", node.PhysicalID)
	}
	return nil
}

// Calls returns how many times op was invoked.
func (p *Profile) Calls(op string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[op]
}

// Resources returns the number of live resources.
func (p *Profile) Resources() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.resources)
}

// Fail sets or clears (err == nil) a failure for op.
func (p *Profile) Fail(op string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.FailOn, op)
		return
	}
	p.FailOn[op] = err
}
