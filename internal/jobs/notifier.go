package jobs

import (
	"context"
	"fmt"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"go.uber.org/zap"

	"fleetd.io/fleetd/internal/action"
	"fleetd.io/fleetd/internal/pkg/logger"
	"fleetd.io/fleetd/internal/pkg/metrics"
	"fleetd.io/fleetd/internal/store"
)

// RiverName is the River dispatcher's label in metrics.
const RiverName = "river"

// Inserter is the part of *river.Client the notifier needs.
type Inserter interface {
	Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
}

// RiverNotifier publishes actions as River jobs.
type RiverNotifier struct {
	store   store.Store
	client  Inserter
	metrics *metrics.Metrics
}

// NewRiverNotifier creates a RiverNotifier. m may be nil.
func NewRiverNotifier(s store.Store, client Inserter, m *metrics.Metrics) *RiverNotifier {
	return &RiverNotifier{store: s, client: client, metrics: m}
}

// SetClient sets the River client. Workers are registered before the
// client exists, so the notifier handed to them is bound afterwards.
func (n *RiverNotifier) SetClient(client Inserter) {
	n.client = client
}

// Notify marks the action READY and enqueues an ActionExecuteArgs job.
func (n *RiverNotifier) Notify(ctx context.Context, actionID string) error {
	if n.client == nil {
		return fmt.Errorf("river notifier has no client")
	}
	if _, err := action.MarkReady(ctx, n.store, actionID); err != nil {
		return fmt.Errorf("mark action %s ready: %w", actionID, err)
	}
	res, err := n.client.Insert(ctx, ActionExecuteArgs{ActionID: actionID}, nil)
	if err != nil {
		return fmt.Errorf("enqueue action %s: %w", actionID, err)
	}
	n.metrics.Dispatched(RiverName)
	if res != nil && res.Job != nil {
		logger.Debug("Action enqueued",
			zap.String("action_id", actionID),
			zap.Int64("job_id", res.Job.ID),
		)
	}
	return nil
}
