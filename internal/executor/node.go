package executor

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"fleetd.io/fleetd/internal/domain"
	"fleetd.io/fleetd/internal/registry"
	"fleetd.io/fleetd/internal/store"
)

// realize creates the physical resource of n. On failure the node is left
// in ERROR with the profile's error as reason.
func (e *Executor) realize(ctx context.Context, x *execution, n *domain.Node,
	p *domain.Profile, typ registry.ProfileType) error {
	if err := x.checkpoint(ctx); err != nil {
		return err
	}
	physicalID, err := typ.Create(ctx, n, p)
	if err != nil {
		x.log.Warn("Node creation failed", zap.String("node_id", n.ID), zap.Error(err))
		_ = e.setNodeStatus(context.WithoutCancel(ctx), n.ID, domain.NodeError, err.Error())
		return fmt.Errorf("create node %s: %w", n.ID, err)
	}
	n.PhysicalID = physicalID
	n.Status = domain.NodeActive
	return e.update(ctx, store.TableNodes, n.ID, store.Row{
		"physical_id":   physicalID,
		"status":        string(domain.NodeActive),
		"status_reason": "Creation succeeded",
	})
}

// destroy deletes the physical resource of n and soft-deletes its record.
func (e *Executor) destroy(ctx context.Context, x *execution, n *domain.Node) error {
	if err := x.checkpoint(ctx); err != nil {
		return err
	}
	p, typ, err := e.profile(ctx, n.ProfileID)
	if err != nil {
		return err
	}
	if err := e.setNodeStatus(ctx, n.ID, domain.NodeDeleting, "Deletion in progress"); err != nil {
		return err
	}
	if n.PhysicalID != "" {
		if err := typ.Delete(ctx, n, p); err != nil {
			x.log.Warn("Node deletion failed", zap.String("node_id", n.ID), zap.Error(err))
			_ = e.setNodeStatus(context.WithoutCancel(ctx), n.ID, domain.NodeError, err.Error())
			return fmt.Errorf("delete node %s: %w", n.ID, err)
		}
	}
	if err := e.setNodeStatus(ctx, n.ID, domain.NodeDeleted, "Deletion succeeded"); err != nil {
		return err
	}
	if err := e.store.SoftDelete(ctx, store.TableNodes, n.ID); err != nil {
		return fmt.Errorf("delete node record %s: %w", n.ID, err)
	}
	return nil
}

// migrate moves n from one profile to another of the same type.
func (e *Executor) migrate(ctx context.Context, x *execution, n *domain.Node,
	from, to *domain.Profile, typ registry.ProfileType) error {
	if err := x.checkpoint(ctx); err != nil {
		return err
	}
	if err := e.setNodeStatus(ctx, n.ID, domain.NodeUpdating, "Update in progress"); err != nil {
		return err
	}
	if err := typ.Update(ctx, n, from, to); err != nil {
		_ = e.setNodeStatus(context.WithoutCancel(ctx), n.ID, domain.NodeError, err.Error())
		return fmt.Errorf("update node %s: %w", n.ID, err)
	}
	return e.update(ctx, store.TableNodes, n.ID, store.Row{
		"profile_id":    to.ID,
		"status":        string(domain.NodeActive),
		"status_reason": "Update succeeded",
	})
}

// join makes n a member of clusterID. It fails if n was claimed by another
// cluster in the meantime.
func (e *Executor) join(ctx context.Context, n *domain.Node, clusterID string) error {
	index, err := e.nextIndex(ctx, clusterID)
	if err != nil {
		return err
	}
	ok, err := e.store.Update(ctx, store.TableNodes, n.ID,
		store.Row{"cluster_id": clusterID, "index": index},
		store.Condition{"cluster_id": nil})
	if err != nil {
		return fmt.Errorf("join node %s: %w", n.ID, err)
	}
	if !ok {
		return fmt.Errorf("node %s is already owned by some cluster", n.ID)
	}
	n.ClusterID = clusterID
	n.Index = index
	return nil
}

// leave removes n from clusterID.
func (e *Executor) leave(ctx context.Context, n *domain.Node, clusterID string) error {
	ok, err := e.store.Update(ctx, store.TableNodes, n.ID,
		store.Row{"cluster_id": nil, "index": -1},
		store.Condition{"cluster_id": clusterID})
	if err != nil {
		return fmt.Errorf("remove node %s: %w", n.ID, err)
	}
	if !ok {
		return fmt.Errorf("node %s is not a member of cluster %s", n.ID, clusterID)
	}
	n.ClusterID = ""
	n.Index = -1
	return nil
}

func (e *Executor) nodeCreate(ctx context.Context, x *execution) error {
	n, err := e.node(ctx, x.action.Target)
	if err != nil {
		return err
	}
	p, typ, err := e.profile(ctx, n.ProfileID)
	if err != nil {
		return err
	}
	if n.ClusterID != "" {
		index, err := e.nextIndex(ctx, n.ClusterID)
		if err != nil {
			return err
		}
		if err := e.update(ctx, store.TableNodes, n.ID, store.Row{"index": index}); err != nil {
			return err
		}
		n.Index = index
	}
	if err := e.realize(ctx, x, n, p, typ); err != nil {
		return err
	}
	if n.ClusterID != "" {
		if err := e.syncSize(ctx, n.ClusterID); err != nil {
			return err
		}
	}
	x.outputs["physical_id"] = n.PhysicalID
	x.reason = "Node creation succeeded"
	return nil
}

func (e *Executor) nodeDelete(ctx context.Context, x *execution) error {
	n, err := e.node(ctx, x.action.Target)
	if err != nil {
		return err
	}
	if err := e.destroy(ctx, x, n); err != nil {
		return err
	}
	if n.ClusterID != "" {
		if err := e.syncSize(ctx, n.ClusterID); err != nil {
			return err
		}
	}
	x.reason = "Node deletion succeeded"
	return nil
}

func (e *Executor) nodeUpdate(ctx context.Context, x *execution) error {
	n, err := e.node(ctx, x.action.Target)
	if err != nil {
		return err
	}
	newProfile := x.action.InputString("profile_id")
	if newProfile == "" || newProfile == n.ProfileID {
		x.reason = "Node update succeeded"
		return nil
	}
	from, typ, err := e.profile(ctx, n.ProfileID)
	if err != nil {
		return err
	}
	to, _, err := e.profile(ctx, newProfile)
	if err != nil {
		return err
	}
	if err := e.migrate(ctx, x, n, from, to, typ); err != nil {
		return err
	}
	x.reason = "Node update succeeded"
	return nil
}

func (e *Executor) nodeJoin(ctx context.Context, x *execution) error {
	n, err := e.node(ctx, x.action.Target)
	if err != nil {
		return err
	}
	clusterID := x.action.InputString("cluster_id")
	if _, err := e.cluster(ctx, clusterID); err != nil {
		return err
	}
	if err := e.join(ctx, n, clusterID); err != nil {
		return err
	}
	if err := e.syncSize(ctx, clusterID); err != nil {
		return err
	}
	x.reason = "Node joined cluster"
	return nil
}

func (e *Executor) nodeLeave(ctx context.Context, x *execution) error {
	n, err := e.node(ctx, x.action.Target)
	if err != nil {
		return err
	}
	if n.ClusterID == "" {
		x.reason = "Node is not a member of any cluster"
		return nil
	}
	clusterID := n.ClusterID
	if err := e.leave(ctx, n, clusterID); err != nil {
		return err
	}
	if err := e.syncSize(ctx, clusterID); err != nil {
		return err
	}
	x.reason = "Node left cluster"
	return nil
}
