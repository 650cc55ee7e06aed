package pgstore

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetd.io/fleetd/internal/store"
	"fleetd.io/fleetd/internal/testutil"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	pool := testutil.OpenPGXPool(t, t.Name())
	s := New(pool)
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.Create(ctx, store.TableClusters, store.Row{
		"name": "c-1", "size": 0, "parent": nil, "tags": map[string]any{"env": "dev"},
	})
	require.NoError(t, err)

	row, err := s.Get(ctx, store.TableClusters, id)
	require.NoError(t, err)
	assert.Equal(t, id, row.ID())
	assert.Equal(t, json.Number("0"), row["size"])
	assert.Nil(t, row["parent"])
	assert.Equal(t, map[string]any{"env": "dev"}, row["tags"])

	_, err = s.Get(ctx, store.TableClusters, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_Duplicate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Create(ctx, store.TableLocks, store.Row{"id": "t1", "owner": "a"})
	require.NoError(t, err)
	_, err = s.Create(ctx, store.TableLocks, store.Row{"id": "t1", "owner": "b"})
	assert.ErrorIs(t, err, store.ErrDuplicate)
}

func TestStore_ConditionalUpdate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.Create(ctx, store.TableActions, store.Row{"status": "READY", "owner": nil})
	require.NoError(t, err)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.Update(ctx, store.TableActions, id,
				store.Row{"status": "RUNNING", "owner": store.NewID()},
				store.Condition{"status": "READY", "owner": nil})
			if err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())

	_, err = s.Update(ctx, store.TableActions, "missing", store.Row{"x": 1}, nil)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_List(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a, _ := s.Create(ctx, store.TableNodes, store.Row{"name": "a", "status": "ACTIVE", "cluster_id": nil})
	b, _ := s.Create(ctx, store.TableNodes, store.Row{"name": "b", "status": "ACTIVE", "cluster_id": nil})
	require.NoError(t, s.SoftDelete(ctx, store.TableNodes, b))

	rows, err := s.List(ctx, store.TableNodes, store.Query{Filters: map[string]any{"status": "ACTIVE", "cluster_id": nil}})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, a, rows[0].ID())

	rows, err = s.List(ctx, store.TableNodes, store.Query{ShowDeleted: true})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = s.List(ctx, store.TableNodes, store.Query{Filters: map[string]any{"bogus": 1}})
	require.NoError(t, err)
	assert.Empty(t, rows)
}
