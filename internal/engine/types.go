package engine

import (
	"context"

	"fleetd.io/fleetd/internal/registry"
)

// ProfileTypeList returns the registered profile types.
func (e *Engine) ProfileTypeList(_ context.Context) []registry.TypeInfo {
	return e.reg.Types(registry.KindProfile)
}

// ProfileTypeSchema returns {"spec": ...} for a profile type.
func (e *Engine) ProfileTypeSchema(_ context.Context, name string) (map[string]any, error) {
	s, err := e.reg.Schema(registry.KindProfile, name)
	if err != nil {
		return nil, err
	}
	return s.Describe(), nil
}

// PolicyTypeList returns the registered policy types.
func (e *Engine) PolicyTypeList(_ context.Context) []registry.TypeInfo {
	return e.reg.Types(registry.KindPolicy)
}

// PolicyTypeSchema returns {"spec": ...} for a policy type.
func (e *Engine) PolicyTypeSchema(_ context.Context, name string) (map[string]any, error) {
	s, err := e.reg.Schema(registry.KindPolicy, name)
	if err != nil {
		return nil, err
	}
	return s.Describe(), nil
}
