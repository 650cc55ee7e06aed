package action

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetd.io/fleetd/internal/domain"
	apperrors "fleetd.io/fleetd/internal/pkg/errors"
	"fleetd.io/fleetd/internal/store/memstore"
)

func newAction(t *testing.T, s *memstore.Store) *domain.Action {
	t.Helper()
	ctx := domain.WithIdentity(context.Background(), domain.Identity{User: "u", Project: "p"})
	a, err := Create(ctx, s, Spec{
		Kind:   domain.ClusterAddNodes,
		Target: "0190f3a2-1111-7000-8000-000000000000",
		Inputs: map[string]any{"nodes": []string{"n1"}},
	})
	require.NoError(t, err)
	return a
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to domain.ActionStatus
		want     bool
	}{
		{domain.ActionInit, domain.ActionReady, true},
		{domain.ActionInit, domain.ActionCancelled, true},
		{domain.ActionInit, domain.ActionRunning, false},
		{domain.ActionReady, domain.ActionRunning, true},
		{domain.ActionReady, domain.ActionCancelled, true},
		{domain.ActionRunning, domain.ActionSucceeded, true},
		{domain.ActionRunning, domain.ActionFailed, true},
		{domain.ActionRunning, domain.ActionReady, false},
		{domain.ActionSucceeded, domain.ActionRunning, false},
		{domain.ActionCancelled, domain.ActionReady, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestCreate(t *testing.T) {
	s := memstore.New()
	a := newAction(t, s)

	assert.Equal(t, domain.ActionInit, a.Status)
	assert.Equal(t, domain.CauseRPC, a.Cause)
	assert.Equal(t, "cluster_add_nodes_0190f3a2", a.Name)
	assert.Equal(t, []string{"n1"}, a.InputStrings("nodes"))
	assert.Equal(t, "p", a.Project)
	assert.Empty(t, a.Owner)
}

func TestGet_NotFound(t *testing.T) {
	_, err := Get(context.Background(), memstore.New(), "missing")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeActionNotFound))
}

func TestLifecycle(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	a := newAction(t, s)

	ok, err := Claim(ctx, s, a.ID, "w1", time.Now())
	require.NoError(t, err)
	assert.False(t, ok, "INIT actions cannot be claimed")

	ok, err = MarkReady(ctx, s, a.ID)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = MarkReady(ctx, s, a.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = Claim(ctx, s, a.ID, "w1", time.Now())
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = Claim(ctx, s, a.ID, "w2", time.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = Finish(ctx, s, a.ID, "w2", domain.ActionSucceeded, "", nil, time.Now())
	require.NoError(t, err)
	assert.False(t, ok, "only the owner may finish")

	ok, err = Finish(ctx, s, a.ID, "w1", domain.ActionSucceeded, "done", map[string]any{"n": 1}, time.Now())
	require.NoError(t, err)
	require.True(t, ok)

	got, err := Get(ctx, s, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionSucceeded, got.Status)
	assert.Equal(t, "w1", got.Owner)
	assert.Equal(t, "done", got.StatusReason)
	assert.NotNil(t, got.StartTime)
	assert.NotNil(t, got.EndTime)

	_, err = Finish(ctx, s, a.ID, "w1", domain.ActionRunning, "", nil, time.Now())
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestClaim_SingleWinner(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	a := newAction(t, s)
	_, err := MarkReady(ctx, s, a.ID)
	require.NoError(t, err)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if ok, err := Claim(ctx, s, a.ID, string(rune('a'+i)), time.Now()); err == nil && ok {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestCancel(t *testing.T) {
	ctx := context.Background()

	t.Run("init", func(t *testing.T) {
		s := memstore.New()
		a := newAction(t, s)
		res, err := Cancel(ctx, s, a.ID)
		require.NoError(t, err)
		assert.Equal(t, Cancelled, res)

		got, _ := Get(ctx, s, a.ID)
		assert.Equal(t, domain.ActionCancelled, got.Status)

		ok, err := MarkReady(ctx, s, a.ID)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("ready", func(t *testing.T) {
		s := memstore.New()
		a := newAction(t, s)
		_, _ = MarkReady(ctx, s, a.ID)
		res, err := Cancel(ctx, s, a.ID)
		require.NoError(t, err)
		assert.Equal(t, Cancelled, res)

		ok, err := Claim(ctx, s, a.ID, "w1", time.Now())
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("running", func(t *testing.T) {
		s := memstore.New()
		a := newAction(t, s)
		_, _ = MarkReady(ctx, s, a.ID)
		_, _ = Claim(ctx, s, a.ID, "w1", time.Now())

		requested, err := CancelRequested(ctx, s, a.ID)
		require.NoError(t, err)
		assert.False(t, requested)

		res, err := Cancel(ctx, s, a.ID)
		require.NoError(t, err)
		assert.Equal(t, Signalled, res)

		requested, err = CancelRequested(ctx, s, a.ID)
		require.NoError(t, err)
		assert.True(t, requested)

		got, _ := Get(ctx, s, a.ID)
		assert.Equal(t, domain.ActionRunning, got.Status)
	})

	t.Run("terminal", func(t *testing.T) {
		s := memstore.New()
		a := newAction(t, s)
		_, _ = MarkReady(ctx, s, a.ID)
		_, _ = Claim(ctx, s, a.ID, "w1", time.Now())
		_, _ = Finish(ctx, s, a.ID, "w1", domain.ActionFailed, "boom", nil, time.Now())

		_, err := Cancel(ctx, s, a.ID)
		assert.True(t, apperrors.HasCode(err, apperrors.CodeNotSupported))
	})
}
