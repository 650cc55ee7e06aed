package main

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetd.io/fleetd/internal/app/modules"
	"fleetd.io/fleetd/internal/config"
	"fleetd.io/fleetd/internal/domain"
	"fleetd.io/fleetd/internal/engine"
	"fleetd.io/fleetd/internal/pkg/logger"
)

func init() {
	_ = logger.Init("error", "json")
}

const sampleCatalog = `
project: p1
profiles:
  - name: web
    type: TestProfile
    spec:
      INT: 3
      MAP:
        KEY1: 1
    tags:
      tier: frontend
policies:
  - name: guard
    type: TestPolicy
    spec:
      KEY1: accept
      KEY2: 2
    cooldown: 30
`

func newEngine(t *testing.T) *engine.Engine {
	t.Helper()
	cfg := &config.Config{
		Worker: config.WorkerConfig{GeneralPoolSize: 2, ActionPoolSize: 2},
		Engine: config.EngineConfig{Dispatcher: config.DispatcherLocal, Store: config.StoreMemory},
	}
	infra, err := modules.NewInfrastructure(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(infra.Close)
	return modules.NewEngineModule(infra).Engine()
}

func TestLoadCatalog(t *testing.T) {
	cat, err := loadCatalog(strings.NewReader(sampleCatalog))
	require.NoError(t, err)

	assert.Equal(t, "fleetd-seed", cat.User)
	assert.Equal(t, "p1", cat.Project)
	require.Len(t, cat.Profiles, 1)
	assert.Equal(t, "frontend", cat.Profiles[0].Tags["tier"])
	require.Len(t, cat.Policies, 1)
	require.NotNil(t, cat.Policies[0].Cooldown)
	assert.Equal(t, 30, *cat.Policies[0].Cooldown)
	assert.Nil(t, cat.Policies[0].Level)
}

func TestLoadCatalog_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"missing project", "profiles: []", "project is required"},
		{"unknown field", "project: p1\nclusters: []", "decode catalog"},
		{"profile without type", "project: p1\nprofiles:\n  - name: a", "profiles[0] needs a name and a type"},
		{"duplicate policy", "project: p1\npolicies:\n  - {name: a, type: T}\n  - {name: a, type: T}", `duplicate policy "a"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadCatalog(strings.NewReader(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSeed_Idempotent(t *testing.T) {
	eng := newEngine(t)
	cat, err := loadCatalog(strings.NewReader(sampleCatalog))
	require.NoError(t, err)
	ctx := context.Background()

	res, err := seed(ctx, eng, cat)
	require.NoError(t, err)
	assert.Equal(t, seedResult{Created: 2}, res)

	res, err = seed(ctx, eng, cat)
	require.NoError(t, err)
	assert.Equal(t, seedResult{Skipped: 2}, res)

	owned := domain.WithIdentity(ctx, domain.Identity{User: "fleetd-seed", Project: "p1"})
	profile, err := eng.ProfileFind(owned, "web", false)
	require.NoError(t, err)
	assert.Equal(t, "TestProfile", profile.Type)

	policy, err := eng.PolicyFind(owned, "guard", false)
	require.NoError(t, err)
	assert.Equal(t, 30, policy.Cooldown)
}

func TestSeed_RejectsInvalidSpec(t *testing.T) {
	eng := newEngine(t)
	cat := &catalog{
		User:     "u1",
		Project:  "p1",
		Policies: []policyEntry{{Name: "bad", Type: "TestPolicy", Spec: map[string]any{"KEY2": "not-a-number"}}},
	}

	_, err := seed(context.Background(), eng, cat)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create policy bad")
}
