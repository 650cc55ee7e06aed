// Package registry maps profile and policy type names to implementations.
//
// A Registry is built once by the composition root and passed to whatever
// needs type lookup. Registering a name again replaces the previous entry.
//
// Import Path: fleetd.io/fleetd/internal/registry
package registry

import (
	"fmt"
	"sort"
	"sync"

	"fleetd.io/fleetd/internal/registry/schema"

	apperrors "fleetd.io/fleetd/internal/pkg/errors"
)

// Kind selects a type namespace.
type Kind string

const (
	KindProfile Kind = "profile"
	KindPolicy  Kind = "policy"
)

// TypeInfo is one entry of a type listing.
type TypeInfo struct {
	Name string `json:"name"`
}

// Registry holds the registered types.
type Registry struct {
	mu       sync.RWMutex
	profiles map[string]ProfileType
	policies map[string]PolicyType
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		profiles: make(map[string]ProfileType),
		policies: make(map[string]PolicyType),
	}
}

// Register adds impl under (kind, name). impl must implement the contract
// of kind.
func (r *Registry) Register(kind Kind, name string, impl any) error {
	switch kind {
	case KindProfile:
		p, ok := impl.(ProfileType)
		if !ok {
			return fmt.Errorf("register %s %q: %T does not implement ProfileType", kind, name, impl)
		}
		r.RegisterProfile(name, p)
	case KindPolicy:
		p, ok := impl.(PolicyType)
		if !ok {
			return fmt.Errorf("register %s %q: %T does not implement PolicyType", kind, name, impl)
		}
		r.RegisterPolicy(name, p)
	default:
		return fmt.Errorf("register %q: unknown kind %q", name, kind)
	}
	return nil
}

// RegisterProfile adds a profile type.
func (r *Registry) RegisterProfile(name string, p ProfileType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[name] = p
}

// RegisterPolicy adds a policy type.
func (r *Registry) RegisterPolicy(name string, p PolicyType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policies[name] = p
}

// Profile returns the profile type registered as name.
func (r *Registry) Profile(name string) (ProfileType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[name]
	if !ok {
		return nil, apperrors.ErrProfileTypeNotFound(name)
	}
	return p, nil
}

// Policy returns the policy type registered as name.
func (r *Registry) Policy(name string) (PolicyType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.policies[name]
	if !ok {
		return nil, apperrors.ErrPolicyTypeNotFound(name)
	}
	return p, nil
}

// Lookup returns the implementation registered under (kind, name).
func (r *Registry) Lookup(kind Kind, name string) (any, error) {
	switch kind {
	case KindProfile:
		return r.Profile(name)
	case KindPolicy:
		return r.Policy(name)
	}
	return nil, fmt.Errorf("lookup %q: unknown kind %q", name, kind)
}

// Schema returns the descriptor of (kind, name).
func (r *Registry) Schema(kind Kind, name string) (schema.Schema, error) {
	impl, err := r.Lookup(kind, name)
	if err != nil {
		return nil, err
	}
	switch t := impl.(type) {
	case ProfileType:
		return t.Schema(), nil
	case PolicyType:
		return t.Schema(), nil
	}
	return nil, fmt.Errorf("schema %q: unexpected implementation %T", name, impl)
}

// Types lists the registered names of kind, sorted.
func (r *Registry) Types(kind Kind) []TypeInfo {
	r.mu.RLock()
	var names []string
	switch kind {
	case KindProfile:
		for n := range r.profiles {
			names = append(names, n)
		}
	case KindPolicy:
		for n := range r.policies {
			names = append(names, n)
		}
	}
	r.mu.RUnlock()

	sort.Strings(names)
	out := make([]TypeInfo, 0, len(names))
	for _, n := range names {
		out = append(out, TypeInfo{Name: n})
	}
	return out
}
