package dispatcher

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetd.io/fleetd/internal/action"
	"fleetd.io/fleetd/internal/domain"
	"fleetd.io/fleetd/internal/lock"
	"fleetd.io/fleetd/internal/pkg/logger"
	"fleetd.io/fleetd/internal/pkg/metrics"
	"fleetd.io/fleetd/internal/pkg/worker"
	"fleetd.io/fleetd/internal/store/memstore"
)

func init() {
	_ = logger.Init("error", "json")
}

type stubExecutor struct {
	mu      sync.Mutex
	busyFor int
	err     error
	calls   map[string]int
}

func (e *stubExecutor) Execute(_ context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.calls == nil {
		e.calls = make(map[string]int)
	}
	e.calls[id]++
	if e.calls[id] <= e.busyFor {
		return lock.ErrBusy
	}
	return e.err
}

func (e *stubExecutor) count(id string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[id]
}

func newLocal(t *testing.T, exec Executor, retry RetryConfig) (*Local, *memstore.Store, *metrics.Metrics) {
	t.Helper()
	pools, err := worker.NewPools(context.Background(), worker.PoolConfig{GeneralPoolSize: 2, ActionPoolSize: 4})
	require.NoError(t, err)
	t.Cleanup(pools.Shutdown)

	s := memstore.New()
	m := metrics.New()
	return NewLocal(s, pools, exec, m, retry), s, m
}

func waitDone(t *testing.T, l *Local) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, l.Wait(ctx))
}

func TestLocal_NotifyMarksReadyAndExecutes(t *testing.T) {
	exec := &stubExecutor{}
	l, s, _ := newLocal(t, exec, DefaultRetryConfig())
	ctx := context.Background()

	a, err := action.Create(ctx, s, action.Spec{Kind: domain.NodeCreate, Target: "n1"})
	require.NoError(t, err)

	require.NoError(t, l.Notify(ctx, a.ID))
	waitDone(t, l)

	got, err := action.Get(ctx, s, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionReady, got.Status)
	assert.Equal(t, 1, exec.count(a.ID))
}

func TestLocal_RedeliversWhileBusy(t *testing.T) {
	exec := &stubExecutor{busyFor: 3}
	l, s, m := newLocal(t, exec, RetryConfig{Base: time.Millisecond, Max: 5 * time.Millisecond, MaxAttempts: 10})
	ctx := context.Background()

	a, err := action.Create(ctx, s, action.Spec{Kind: domain.NodeCreate, Target: "n1"})
	require.NoError(t, err)

	require.NoError(t, l.Notify(ctx, a.ID))
	waitDone(t, l)

	assert.Equal(t, 4, exec.count(a.ID))
	expected := `
# HELP fleetd_redelivery_total Action deliveries retried after lock contention
# TYPE fleetd_redelivery_total counter
fleetd_redelivery_total{dispatcher="local"} 3
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "fleetd_redelivery_total"))
}

func TestLocal_RedeliveryBounded(t *testing.T) {
	exec := &stubExecutor{busyFor: 100}
	l, s, _ := newLocal(t, exec, RetryConfig{Base: time.Millisecond, Max: 2 * time.Millisecond, MaxAttempts: 3})
	ctx := context.Background()

	a, err := action.Create(ctx, s, action.Spec{Kind: domain.NodeCreate, Target: "n1"})
	require.NoError(t, err)

	require.NoError(t, l.Notify(ctx, a.ID))
	waitDone(t, l)
	assert.Equal(t, 3, exec.count(a.ID))
}

func TestLocal_OtherErrorsNotRetried(t *testing.T) {
	exec := &stubExecutor{err: errors.New("boom")}
	l, s, _ := newLocal(t, exec, DefaultRetryConfig())
	ctx := context.Background()

	a, err := action.Create(ctx, s, action.Spec{Kind: domain.NodeCreate, Target: "n1"})
	require.NoError(t, err)

	require.NoError(t, l.Notify(ctx, a.ID))
	waitDone(t, l)
	assert.Equal(t, 1, exec.count(a.ID))
}

func TestLocal_UnknownAction(t *testing.T) {
	l, _, _ := newLocal(t, &stubExecutor{}, DefaultRetryConfig())
	assert.Error(t, l.Notify(context.Background(), "missing"))
}

func TestRetryConfig_BackOff(t *testing.T) {
	b := RetryConfig{Base: 100 * time.Millisecond, Max: 300 * time.Millisecond}.BackOff()

	assert.InDelta(t, float64(100*time.Millisecond), float64(b.NextBackOff()), float64(20*time.Millisecond))
	assert.InDelta(t, float64(200*time.Millisecond), float64(b.NextBackOff()), float64(40*time.Millisecond))
	for range 5 {
		assert.LessOrEqual(t, b.NextBackOff(), 360*time.Millisecond)
	}
}
