package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetd.io/fleetd/internal/action"
	"fleetd.io/fleetd/internal/domain"
	"fleetd.io/fleetd/internal/lock"
	"fleetd.io/fleetd/internal/store"
	"fleetd.io/fleetd/internal/store/memstore"
)

type recordingNotifier struct {
	ids []string
}

func (n *recordingNotifier) Notify(_ context.Context, id string) error {
	n.ids = append(n.ids, id)
	return nil
}

func TestSweep_RepublishesStaleReadyActions(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()

	stale, err := action.Create(ctx, s, action.Spec{Kind: domain.NodeCreate, Target: "n1"})
	require.NoError(t, err)
	_, err = action.MarkReady(ctx, s, stale.ID)
	require.NoError(t, err)

	idle, err := action.Create(ctx, s, action.Spec{Kind: domain.NodeCreate, Target: "n2"})
	require.NoError(t, err)

	n := &recordingNotifier{}
	res, err := Sweep(ctx, s, n, time.Minute, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Republished)
	assert.Equal(t, []string{stale.ID}, n.ids)
	assert.NotContains(t, n.ids, idle.ID, "INIT actions are not published by the sweeper")

	n = &recordingNotifier{}
	res, err = Sweep(ctx, s, n, time.Minute, time.Now())
	require.NoError(t, err)
	assert.Zero(t, res.Republished, "fresh READY actions are left to their dispatcher")
}

func TestSweep_ReleasesOrphanedLocks(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()

	finished, err := action.Create(ctx, s, action.Spec{Kind: domain.NodeCreate, Target: "n1"})
	require.NoError(t, err)
	_, err = s.Update(ctx, store.TableActions, finished.ID,
		store.Row{"status": string(domain.ActionSucceeded)}, nil)
	require.NoError(t, err)

	running, err := action.Create(ctx, s, action.Spec{Kind: domain.NodeCreate, Target: "n2"})
	require.NoError(t, err)
	_, err = s.Update(ctx, store.TableActions, running.ID,
		store.Row{"status": string(domain.ActionRunning)}, nil)
	require.NoError(t, err)

	for target, owner := range map[string]string{"n1": finished.ID, "n2": running.ID, "n3": "ghost"} {
		ok, err := lock.Acquire(ctx, s, target, owner)
		require.NoError(t, err)
		require.True(t, ok)
	}

	res, err := Sweep(ctx, s, &recordingNotifier{}, time.Minute, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, res.LocksReleased)

	holder, err := lock.Holder(ctx, s, "n2")
	require.NoError(t, err)
	assert.Equal(t, running.ID, holder)

	for _, target := range []string{"n1", "n3"} {
		holder, err := lock.Holder(ctx, s, target)
		require.NoError(t, err)
		assert.Empty(t, holder, target)
	}
}
