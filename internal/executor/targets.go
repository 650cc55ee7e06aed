package executor

import (
	"context"
	"fmt"
	"sort"

	"fleetd.io/fleetd/internal/domain"
	"fleetd.io/fleetd/internal/registry"
	"fleetd.io/fleetd/internal/store"
)

func (e *Executor) cluster(ctx context.Context, id string) (*domain.Cluster, error) {
	row, err := e.store.Get(ctx, store.TableClusters, id)
	if err != nil {
		return nil, fmt.Errorf("get cluster %s: %w", id, err)
	}
	return domain.ClusterFromRow(row)
}

func (e *Executor) node(ctx context.Context, id string) (*domain.Node, error) {
	row, err := e.store.Get(ctx, store.TableNodes, id)
	if err != nil {
		return nil, fmt.Errorf("get node %s: %w", id, err)
	}
	return domain.NodeFromRow(row)
}

// profile loads a profile together with its type implementation.
func (e *Executor) profile(ctx context.Context, id string) (*domain.Profile, registry.ProfileType, error) {
	row, err := e.store.Get(ctx, store.TableProfiles, id)
	if err != nil {
		return nil, nil, fmt.Errorf("get profile %s: %w", id, err)
	}
	p, err := domain.ProfileFromRow(row)
	if err != nil {
		return nil, nil, err
	}
	typ, err := e.reg.Profile(p.Type)
	if err != nil {
		return nil, nil, err
	}
	return p, typ, nil
}

// members returns the live nodes of clusterID ordered by index.
func (e *Executor) members(ctx context.Context, clusterID string) ([]*domain.Node, error) {
	rows, err := e.store.List(ctx, store.TableNodes, store.Query{
		Filters: map[string]any{"cluster_id": clusterID},
	})
	if err != nil {
		return nil, fmt.Errorf("list nodes of %s: %w", clusterID, err)
	}
	nodes := make([]*domain.Node, 0, len(rows))
	for _, row := range rows {
		n, err := domain.NodeFromRow(row)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	sort.SliceStable(nodes, func(i, j int) bool { return nodes[i].Index < nodes[j].Index })
	return nodes, nil
}

func (e *Executor) nextIndex(ctx context.Context, clusterID string) (int, error) {
	nodes, err := e.members(ctx, clusterID)
	if err != nil {
		return 0, err
	}
	next := 1
	for _, n := range nodes {
		if n.Index >= next {
			next = n.Index + 1
		}
	}
	return next, nil
}

func (e *Executor) update(ctx context.Context, table, id string, fields store.Row) error {
	if _, err := e.store.Update(ctx, table, id, fields, nil); err != nil {
		return fmt.Errorf("update %s %s: %w", table, id, err)
	}
	return nil
}

func (e *Executor) setClusterStatus(ctx context.Context, id string, status domain.ClusterStatus, reason string) error {
	return e.update(ctx, store.TableClusters, id, store.Row{
		"status":        string(status),
		"status_reason": reason,
	})
}

func (e *Executor) setNodeStatus(ctx context.Context, id string, status domain.NodeStatus, reason string) error {
	return e.update(ctx, store.TableNodes, id, store.Row{
		"status":        string(status),
		"status_reason": reason,
	})
}

// syncSize sets the cluster size to its live membership count.
func (e *Executor) syncSize(ctx context.Context, clusterID string) error {
	nodes, err := e.members(ctx, clusterID)
	if err != nil {
		return err
	}
	return e.update(ctx, store.TableClusters, clusterID, store.Row{"size": len(nodes)})
}
