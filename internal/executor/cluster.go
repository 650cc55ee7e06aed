package executor

import (
	"context"
	"fmt"
	"strconv"

	"golang.org/x/sync/errgroup"

	"fleetd.io/fleetd/internal/domain"
	"fleetd.io/fleetd/internal/store"
)

// inputCount reads a positive count from the action inputs, defaulting to 1.
func inputCount(a *domain.Action) int {
	switch v := a.Inputs["count"].(type) {
	case int:
		return v
	case float64:
		return int(v)
	case fmt.Stringer:
		if n, err := strconv.Atoi(v.String()); err == nil {
			return n
		}
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 1
}

// spawn creates count new member nodes of c and realizes them in parallel.
func (e *Executor) spawn(ctx context.Context, x *execution, c *domain.Cluster, count int) ([]string, error) {
	if count <= 0 {
		return nil, nil
	}
	p, typ, err := e.profile(ctx, c.ProfileID)
	if err != nil {
		return nil, err
	}
	index, err := e.nextIndex(ctx, c.ID)
	if err != nil {
		return nil, err
	}

	short := c.ID
	if len(short) > 8 {
		short = short[:8]
	}
	nodes := make([]*domain.Node, 0, count)
	ids := make([]string, 0, count)
	for i := 0; i < count; i++ {
		n := &domain.Node{
			Name:      fmt.Sprintf("node-%s-%03d", short, index+i),
			ClusterID: c.ID,
			ProfileID: c.ProfileID,
			Index:     index + i,
			Status:    domain.NodeInit,
			Project:   x.action.Project,
			User:      x.action.User,
		}
		id, err := e.store.Create(ctx, store.TableNodes, n.ToRow())
		if err != nil {
			return ids, fmt.Errorf("create node record: %w", err)
		}
		n.ID = id
		nodes = append(nodes, n)
		ids = append(ids, id)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.NodeParallelism)
	for _, n := range nodes {
		g.Go(func() error {
			return e.realize(gctx, x, n, p, typ)
		})
	}
	return ids, g.Wait()
}

func (e *Executor) clusterCreate(ctx context.Context, x *execution) error {
	c, err := e.cluster(ctx, x.action.Target)
	if err != nil {
		return err
	}
	ids, err := e.spawn(ctx, x, c, c.Size)
	x.outputs["nodes"] = ids
	if err != nil {
		return err
	}
	if err := e.setClusterStatus(ctx, c.ID, domain.ClusterActive, "Cluster creation succeeded"); err != nil {
		return err
	}
	x.reason = "Cluster creation succeeded"
	return nil
}

func (e *Executor) clusterUpdate(ctx context.Context, x *execution) error {
	c, err := e.cluster(ctx, x.action.Target)
	if err != nil {
		return err
	}
	newProfile := x.action.InputString("profile_id")
	if newProfile != "" && newProfile != c.ProfileID {
		if err := e.setClusterStatus(ctx, c.ID, domain.ClusterUpdating, "Update in progress"); err != nil {
			return err
		}
		from, typ, err := e.profile(ctx, c.ProfileID)
		if err != nil {
			return err
		}
		to, _, err := e.profile(ctx, newProfile)
		if err != nil {
			return err
		}
		nodes, err := e.members(ctx, c.ID)
		if err != nil {
			return err
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.cfg.NodeParallelism)
		for _, n := range nodes {
			g.Go(func() error {
				return e.migrate(gctx, x, n, from, to, typ)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		if err := e.update(ctx, store.TableClusters, c.ID, store.Row{"profile_id": newProfile}); err != nil {
			return err
		}
	}
	if err := e.setClusterStatus(ctx, c.ID, domain.ClusterActive, "Cluster update succeeded"); err != nil {
		return err
	}
	x.reason = "Cluster update succeeded"
	return nil
}

func (e *Executor) clusterDelete(ctx context.Context, x *execution) error {
	c, err := e.cluster(ctx, x.action.Target)
	if err != nil {
		return err
	}
	if err := e.setClusterStatus(ctx, c.ID, domain.ClusterDeleting, "Deletion in progress"); err != nil {
		return err
	}
	nodes, err := e.members(ctx, c.ID)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.NodeParallelism)
	for _, n := range nodes {
		g.Go(func() error {
			return e.destroy(gctx, x, n)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := e.pipeline.DetachAll(ctx, c); err != nil {
		return err
	}

	if err := e.update(ctx, store.TableClusters, c.ID, store.Row{
		"status":        string(domain.ClusterDeleted),
		"status_reason": "Deletion succeeded",
		"size":          0,
	}); err != nil {
		return err
	}
	if err := e.store.SoftDelete(ctx, store.TableClusters, c.ID); err != nil {
		return fmt.Errorf("delete cluster record %s: %w", c.ID, err)
	}
	x.reason = "Cluster deletion succeeded"
	return nil
}

func (e *Executor) clusterAddNodes(ctx context.Context, x *execution) error {
	c, err := e.cluster(ctx, x.action.Target)
	if err != nil {
		return err
	}
	for _, id := range x.action.InputStrings("nodes") {
		if err := x.checkpoint(ctx); err != nil {
			return err
		}
		n, err := e.node(ctx, id)
		if err != nil {
			return err
		}
		if n.Status != domain.NodeActive {
			return fmt.Errorf("node %s is not ACTIVE", id)
		}
		if err := e.join(ctx, n, c.ID); err != nil {
			return err
		}
	}
	if err := e.syncSize(ctx, c.ID); err != nil {
		return err
	}
	x.reason = "Completed adding nodes"
	return nil
}

func (e *Executor) clusterDelNodes(ctx context.Context, x *execution) error {
	c, err := e.cluster(ctx, x.action.Target)
	if err != nil {
		return err
	}
	for _, id := range x.action.InputStrings("nodes") {
		if err := x.checkpoint(ctx); err != nil {
			return err
		}
		n, err := e.node(ctx, id)
		if err != nil {
			return err
		}
		if err := e.leave(ctx, n, c.ID); err != nil {
			return err
		}
	}
	if err := e.syncSize(ctx, c.ID); err != nil {
		return err
	}
	x.reason = "Completed deleting nodes"
	return nil
}

func (e *Executor) clusterScaleOut(ctx context.Context, x *execution) error {
	c, err := e.cluster(ctx, x.action.Target)
	if err != nil {
		return err
	}
	ids, err := e.spawn(ctx, x, c, inputCount(x.action))
	x.outputs["nodes_added"] = ids
	if err != nil {
		return err
	}
	if err := e.syncSize(ctx, c.ID); err != nil {
		return err
	}
	x.reason = "Cluster scaling succeeded"
	return nil
}

// clusterScaleIn removes the newest members first.
func (e *Executor) clusterScaleIn(ctx context.Context, x *execution) error {
	c, err := e.cluster(ctx, x.action.Target)
	if err != nil {
		return err
	}
	nodes, err := e.members(ctx, c.ID)
	if err != nil {
		return err
	}
	count := inputCount(x.action)
	if count > len(nodes) {
		count = len(nodes)
	}
	victims := nodes[len(nodes)-count:]

	removed := make([]string, 0, count)
	for i := len(victims) - 1; i >= 0; i-- {
		if err := e.destroy(ctx, x, victims[i]); err != nil {
			x.outputs["nodes_removed"] = removed
			return err
		}
		removed = append(removed, victims[i].ID)
	}
	x.outputs["nodes_removed"] = removed
	if err := e.syncSize(ctx, c.ID); err != nil {
		return err
	}
	x.reason = "Cluster scaling succeeded"
	return nil
}
