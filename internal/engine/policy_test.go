package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetd.io/fleetd/internal/domain"
	"fleetd.io/fleetd/internal/pkg/opt"
	"fleetd.io/fleetd/internal/plugins/fake"

	apperrors "fleetd.io/fleetd/internal/pkg/errors"
)

func (f *fixture) newPolicy(t *testing.T, name string, spec map[string]any) *domain.Policy {
	t.Helper()
	p, err := f.eng.PolicyCreate(f.ctx, PolicyCreateParams{
		Name:     name,
		Type:     fake.PolicyTypeName,
		Spec:     spec,
		Cooldown: intp(60),
		Level:    intp(50),
	})
	require.NoError(t, err)
	return p
}

func TestPolicyCreate(t *testing.T) {
	f := newFixture(t)

	p := f.newPolicy(t, "pol-1", map[string]any{"KEY1": "value1"})
	assert.Equal(t, "pol-1", p.Name)
	assert.Equal(t, fake.PolicyTypeName, p.Type)
	assert.Equal(t, 60, p.Cooldown)
	assert.Equal(t, 50, p.Level)
	assert.Equal(t, "value1", p.Spec["KEY1"])
	assert.Equal(t, "p1", p.Project)

	defaults, err := f.eng.PolicyCreate(f.ctx, PolicyCreateParams{Name: "pol-2", Type: fake.PolicyTypeName})
	require.NoError(t, err)
	assert.Zero(t, defaults.Cooldown)
	assert.Zero(t, defaults.Level)
}

func TestPolicyCreate_Invalid(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		params PolicyCreateParams
		code   string
	}{
		{"unknown type", PolicyCreateParams{Name: "p", Type: "Bogus"}, apperrors.CodePolicyTypeNotFound},
		{"bad spec", PolicyCreateParams{Name: "p", Type: fake.PolicyTypeName, Spec: map[string]any{"KEY2": "x"}}, apperrors.CodeSpecValidationFailed},
		{"negative cooldown", PolicyCreateParams{Name: "p", Type: fake.PolicyTypeName, Cooldown: intp(-1)}, apperrors.CodeInvalidParameter},
		{"negative level", PolicyCreateParams{Name: "p", Type: fake.PolicyTypeName, Level: intp(-1)}, apperrors.CodeInvalidParameter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.eng.PolicyCreate(f.ctx, tt.params)
			requireCode(t, err, tt.code)
		})
	}
}

func TestPolicyUpdate(t *testing.T) {
	f := newFixture(t)
	p := f.newPolicy(t, "pol-1", nil)

	got, err := f.eng.PolicyUpdate(f.ctx, "pol-1", PolicyUpdateParams{
		Name:     opt.Of("pol-renamed"),
		Cooldown: opt.Of(10),
		Level:    opt.Of(20),
	})
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, "pol-renamed", got.Name)
	assert.Equal(t, 10, got.Cooldown)
	assert.Equal(t, 20, got.Level)

	_, err = f.eng.PolicyUpdate(f.ctx, p.ID, PolicyUpdateParams{Level: opt.Of(-5)})
	requireCode(t, err, apperrors.CodeInvalidParameter)

	unchanged, err := f.eng.PolicyUpdate(f.ctx, p.ID, PolicyUpdateParams{})
	require.NoError(t, err)
	assert.Equal(t, got, unchanged)
}

func TestPolicyDelete(t *testing.T) {
	f := newFixture(t)
	p := f.newPolicy(t, "pol-1", nil)
	c := f.cluster(t, "c1")

	_, err := f.eng.ClusterPolicyAttach(f.ctx, c.ID, p.ID, BindingParams{})
	require.NoError(t, err)

	err = f.eng.PolicyDelete(f.ctx, p.ID)
	msg := requireCode(t, err, apperrors.CodeBadRequest)
	assert.Contains(t, msg, "is still attached to clusters.")

	require.NoError(t, f.eng.ClusterPolicyDetach(f.ctx, c.ID, p.ID))
	require.NoError(t, f.eng.PolicyDelete(f.ctx, p.ID))

	_, err = f.eng.PolicyGet(f.ctx, p.ID)
	requireCode(t, err, apperrors.CodePolicyNotFound)
	deleted, err := f.eng.PolicyFind(f.ctx, p.ID, true)
	require.NoError(t, err)
	assert.NotNil(t, deleted.DeletedAt)
}

func TestClusterPolicy(t *testing.T) {
	f := newFixture(t)
	p := f.newPolicy(t, "pol-1", nil)
	c := f.cluster(t, "c1")

	t.Run("attach inherits policy values", func(t *testing.T) {
		b, err := f.eng.ClusterPolicyAttach(f.ctx, "c1", "pol-1", BindingParams{Priority: intp(5)})
		require.NoError(t, err)
		assert.Equal(t, c.ID, b.ClusterID)
		assert.Equal(t, p.ID, b.PolicyID)
		assert.True(t, b.Enabled)
		assert.Equal(t, 50, b.Level)
		assert.Equal(t, 60, b.Cooldown)
		assert.Equal(t, 5, b.Priority)
		assert.Len(t, f.policy.HooksFor("attach"), 1)
	})

	t.Run("attach twice", func(t *testing.T) {
		_, err := f.eng.ClusterPolicyAttach(f.ctx, c.ID, p.ID, BindingParams{})
		requireCode(t, err, apperrors.CodeBadRequest)
	})

	t.Run("get and list", func(t *testing.T) {
		b, err := f.eng.ClusterPolicyGet(f.ctx, c.ID, p.ID)
		require.NoError(t, err)
		assert.Equal(t, "pol-1", b.PolicyName)

		all, err := f.eng.ClusterPolicyList(f.ctx, c.ID, listAll())
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, b.ID, all[0].ID)
	})

	t.Run("update", func(t *testing.T) {
		disabled := false
		b, err := f.eng.ClusterPolicyUpdate(f.ctx, c.ID, p.ID, BindingParams{Enabled: &disabled, Level: intp(7)})
		require.NoError(t, err)
		assert.False(t, b.Enabled)
		assert.Equal(t, 7, b.Level)
		assert.Equal(t, 60, b.Cooldown)

		_, err = f.eng.ClusterPolicyUpdate(f.ctx, c.ID, p.ID, BindingParams{Cooldown: intp(-1)})
		requireCode(t, err, apperrors.CodeInvalidParameter)
	})

	t.Run("detach", func(t *testing.T) {
		require.NoError(t, f.eng.ClusterPolicyDetach(f.ctx, c.ID, p.ID))
		assert.Len(t, f.policy.HooksFor("detach"), 1)

		_, err := f.eng.ClusterPolicyGet(f.ctx, c.ID, p.ID)
		requireCode(t, err, apperrors.CodeClusterPolicyNotFound)
	})

	t.Run("rejected by policy type", func(t *testing.T) {
		rejecting := f.newPolicy(t, "pol-reject", map[string]any{"KEY1": "reject"})
		_, err := f.eng.ClusterPolicyAttach(f.ctx, c.ID, rejecting.ID, BindingParams{})
		requireCode(t, err, apperrors.CodeBadRequest)

		all, err := f.eng.ClusterPolicyList(f.ctx, c.ID, listAll())
		require.NoError(t, err)
		assert.Empty(t, all)
	})

	t.Run("attach does not start an action", func(t *testing.T) {
		assert.Equal(t, 1, f.notified.count())
	})
}
