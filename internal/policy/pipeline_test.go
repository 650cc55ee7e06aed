package policy

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetd.io/fleetd/internal/domain"
	"fleetd.io/fleetd/internal/pkg/logger"
	"fleetd.io/fleetd/internal/plugins/fake"
	"fleetd.io/fleetd/internal/registry"
	"fleetd.io/fleetd/internal/store"
	"fleetd.io/fleetd/internal/store/memstore"

	apperrors "fleetd.io/fleetd/internal/pkg/errors"
)

func init() {
	_ = logger.Init("error", "json")
}

type fixture struct {
	ctx     context.Context
	store   *memstore.Store
	fake    *fake.Policy
	p       *Pipeline
	cluster *domain.Cluster
	action  *domain.Action
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := registry.New()
	_, fp := fake.Register(reg)

	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := memstore.New(memstore.WithClock(func() time.Time {
		clock = clock.Add(time.Millisecond)
		return clock
	}))

	f := &fixture{ctx: context.Background(), store: s, fake: fp, p: New(s, reg, nil)}

	c := &domain.Cluster{Name: "c-1", Status: domain.ClusterActive}
	id, err := s.Create(f.ctx, store.TableClusters, c.ToRow())
	require.NoError(t, err)
	c.ID = id
	f.cluster = c
	f.action = &domain.Action{ID: "act-1", Kind: domain.ClusterScaleOut, Target: id}
	return f
}

func (f *fixture) policy(t *testing.T, name string, level int, spec map[string]any) *domain.Policy {
	t.Helper()
	pol := &domain.Policy{Name: name, Type: fake.PolicyTypeName, Level: level, Spec: spec}
	id, err := f.store.Create(f.ctx, store.TablePolicies, pol.ToRow())
	require.NoError(t, err)
	pol.ID = id
	return pol
}

func TestInCooldown(t *testing.T) {
	now := time.Now()
	recent := now.Add(-10 * time.Second)
	old := now.Add(-2 * time.Minute)

	tests := []struct {
		name string
		b    domain.ClusterPolicy
		want bool
	}{
		{"no cooldown", domain.ClusterPolicy{Cooldown: 0, LastApplied: &recent}, false},
		{"never applied", domain.ClusterPolicy{Cooldown: 60}, false},
		{"recent", domain.ClusterPolicy{Cooldown: 60, LastApplied: &recent}, true},
		{"expired", domain.ClusterPolicy{Cooldown: 60, LastApplied: &old}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InCooldown(&tt.b, now))
		})
	}
}

func TestPipeline_OrderAndThreading(t *testing.T) {
	f := newFixture(t)
	high := f.policy(t, "high", 50, nil)
	low := f.policy(t, "low", 10, nil)
	tieA := f.policy(t, "tie-a", 30, nil)
	tieB := f.policy(t, "tie-b", 30, nil)

	for _, pol := range []*domain.Policy{high, low, tieA, tieB} {
		_, err := f.p.Attach(f.ctx, f.cluster, pol, BindOptions{})
		require.NoError(t, err)
	}

	run, err := f.p.Begin(f.ctx, f.cluster.ID, f.action)
	require.NoError(t, err)
	require.NoError(t, run.PreOp(f.ctx))
	require.False(t, run.Data.Failed())

	want := []string{low.ID, tieA.ID, tieB.ID, high.ID}
	assert.Equal(t, want, run.Data.Values["chain"])

	require.NoError(t, run.PostOp(f.ctx))
	var post []string
	for _, h := range f.fake.HooksFor("post_op") {
		post = append(post, h.PolicyID)
	}
	assert.Equal(t, want, post)
}

func TestPipeline_DisabledBindingSkipped(t *testing.T) {
	f := newFixture(t)
	on := f.policy(t, "on", 0, nil)
	off := f.policy(t, "off", 0, nil)
	disabled := false

	_, err := f.p.Attach(f.ctx, f.cluster, on, BindOptions{})
	require.NoError(t, err)
	_, err = f.p.Attach(f.ctx, f.cluster, off, BindOptions{Enabled: &disabled})
	require.NoError(t, err)

	entries, err := f.p.Bindings(f.ctx, f.cluster.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, on.ID, entries[0].Policy.ID)
}

func TestPipeline_CooldownVetoesOnlyThatPolicy(t *testing.T) {
	f := newFixture(t)
	cooling := f.policy(t, "cooling", 0, nil)
	other := f.policy(t, "other", 1, nil)
	cooldown := 3600

	b, err := f.p.Attach(f.ctx, f.cluster, cooling, BindOptions{Cooldown: &cooldown})
	require.NoError(t, err)
	_, err = f.p.Attach(f.ctx, f.cluster, other, BindOptions{})
	require.NoError(t, err)

	// First run applies both and stamps last_applied.
	run, err := f.p.Begin(f.ctx, f.cluster.ID, f.action)
	require.NoError(t, err)
	require.NoError(t, run.PreOp(f.ctx))
	require.NoError(t, run.PostOp(f.ctx))

	row, err := f.store.Get(f.ctx, store.TableClusterPolicies, b.ID)
	require.NoError(t, err)
	assert.NotNil(t, row["last_applied"])

	// Second run is inside the cooldown window for "cooling" only.
	run, err = f.p.Begin(f.ctx, f.cluster.ID, f.action)
	require.NoError(t, err)
	require.NoError(t, run.PreOp(f.ctx))
	assert.Equal(t, []string{other.ID}, run.Data.Values["chain"])
	assert.False(t, run.Data.Failed())
}

func TestPipeline_CheckError(t *testing.T) {
	f := newFixture(t)
	deny := f.policy(t, "deny", 0, map[string]any{"KEY1": "deny"})
	later := f.policy(t, "later", 5, nil)

	for _, pol := range []*domain.Policy{deny, later} {
		_, err := f.p.Attach(f.ctx, f.cluster, pol, BindOptions{})
		require.NoError(t, err)
	}

	run, err := f.p.Begin(f.ctx, f.cluster.ID, f.action)
	require.NoError(t, err)
	require.NoError(t, run.PreOp(f.ctx))
	assert.True(t, run.Data.Failed())
	assert.Contains(t, run.Data.Reason, "denied")
	assert.Len(t, f.fake.HooksFor("pre_op"), 1)
}

func TestPipeline_NoCluster(t *testing.T) {
	f := newFixture(t)
	run, err := f.p.Begin(f.ctx, "", f.action)
	require.NoError(t, err)
	assert.Empty(t, run.Entries())
	require.NoError(t, run.PreOp(f.ctx))
	require.NoError(t, run.PostOp(f.ctx))
}

func TestAttachDetach(t *testing.T) {
	f := newFixture(t)
	pol := f.policy(t, "p", 7, nil)

	b, err := f.p.Attach(f.ctx, f.cluster, pol, BindOptions{})
	require.NoError(t, err)
	assert.Equal(t, 7, b.Level)
	assert.True(t, b.Enabled)
	assert.Equal(t, fake.PolicyTypeName, b.PolicyType)

	_, err = f.p.Attach(f.ctx, f.cluster, pol, BindOptions{})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeBadRequest))

	level := 1
	b, err = f.p.UpdateBinding(f.ctx, b, BindOptions{Level: &level})
	require.NoError(t, err)
	assert.Equal(t, 1, b.Level)

	require.NoError(t, f.p.Detach(f.ctx, f.cluster, pol))
	got, err := f.p.FindBinding(f.ctx, f.cluster.ID, pol.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	err = f.p.Detach(f.ctx, f.cluster, pol)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeClusterPolicyNotFound))

	assert.Len(t, f.fake.HooksFor("attach"), 1)
	assert.Len(t, f.fake.HooksFor("detach"), 1)
}

func TestAttach_Rejected(t *testing.T) {
	f := newFixture(t)
	pol := f.policy(t, "picky", 0, map[string]any{"KEY1": "reject"})

	_, err := f.p.Attach(f.ctx, f.cluster, pol, BindOptions{})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeBadRequest))

	got, err := f.p.FindBinding(f.ctx, f.cluster.ID, pol.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

// slowPolicy widens the window between the duplicate check and the insert.
type slowPolicy struct {
	*fake.Policy
	delay time.Duration
}

func (p *slowPolicy) Attach(ctx context.Context, cluster *domain.Cluster, policy *domain.Policy) error {
	time.Sleep(p.delay)
	return p.Policy.Attach(ctx, cluster, policy)
}

func TestAttach_ConcurrentSamePair(t *testing.T) {
	f := newFixture(t)
	slow := &slowPolicy{Policy: fake.NewPolicy(), delay: 5 * time.Millisecond}
	reg := registry.New()
	reg.RegisterPolicy(fake.PolicyTypeName, slow)
	f.p = New(f.store, reg, nil)
	pol := f.policy(t, "p", 0, nil)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.p.Attach(f.ctx, f.cluster, pol, BindOptions{})
		}(i)
	}
	wg.Wait()

	failed := 0
	for _, err := range errs {
		if err != nil {
			failed++
			assert.True(t, apperrors.HasCode(err, apperrors.CodeBadRequest))
		}
	}
	assert.Equal(t, 1, failed)

	bindings, err := f.p.ListBindings(f.ctx, f.cluster.ID)
	require.NoError(t, err)
	assert.Len(t, bindings, 1)
}

func TestAttach_AfterDetachRevivesBinding(t *testing.T) {
	f := newFixture(t)
	pol := f.policy(t, "p", 3, nil)

	first, err := f.p.Attach(f.ctx, f.cluster, pol, BindOptions{})
	require.NoError(t, err)
	assert.Equal(t, BindingID(f.cluster.ID, pol.ID), first.ID)
	require.NoError(t, f.p.Detach(f.ctx, f.cluster, pol))

	level := 9
	again, err := f.p.Attach(f.ctx, f.cluster, pol, BindOptions{Level: &level})
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, 9, again.Level)

	bindings, err := f.p.ListBindings(f.ctx, f.cluster.ID)
	require.NoError(t, err)
	assert.Len(t, bindings, 1)

	_, err = f.p.Attach(f.ctx, f.cluster, pol, BindOptions{})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeBadRequest))
}
