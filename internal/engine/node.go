package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"fleetd.io/fleetd/internal/domain"
	"fleetd.io/fleetd/internal/lister"
	"fleetd.io/fleetd/internal/pkg/logger"
	"fleetd.io/fleetd/internal/pkg/opt"
	"fleetd.io/fleetd/internal/store"

	apperrors "fleetd.io/fleetd/internal/pkg/errors"
)

// NodeCreateParams describes a new node. ClusterID is optional.
type NodeCreateParams struct {
	Name      string
	ProfileID string
	ClusterID string
	Role      string
	Tags      map[string]string
}

// NodeUpdateParams lists the node fields to change. A profile change is
// carried out by a NODE_UPDATE action.
type NodeUpdateParams struct {
	Name      opt.Field[string]
	ProfileID opt.Field[string]
	Role      opt.Field[string]
	Tags      opt.Field[map[string]string]
}

// NodeResult is a node plus the action an operation started on it. Action
// is empty when nothing was started.
type NodeResult struct {
	*domain.Node
	Action string `json:"action,omitempty"`
}

// NodeCreate persists a node in INIT and starts NODE_CREATE. A node created
// into a cluster must use a profile of the cluster's profile type.
func (e *Engine) NodeCreate(ctx context.Context, params NodeCreateParams) (*NodeResult, error) {
	p, err := e.findProfile(ctx, params.ProfileID, false)
	if err != nil {
		return nil, err
	}

	project, user := owner(ctx)
	n := &domain.Node{
		Name:         params.Name,
		ProfileID:    p.ID,
		Index:        -1,
		Role:         params.Role,
		Status:       domain.NodeInit,
		StatusReason: "Initializing",
		Tags:         params.Tags,
		Project:      project,
		User:         user,
	}
	var timeout *int
	if params.ClusterID != "" {
		c, err := e.liveCluster(ctx, params.ClusterID)
		if err != nil {
			return nil, err
		}
		if err := e.sameProfileType(ctx, c.ProfileID, p); err != nil {
			return nil, err
		}
		n.ClusterID = c.ID
		timeout = c.Timeout
	}

	id, err := e.store.Create(ctx, store.TableNodes, n.ToRow())
	if err != nil {
		return nil, fmt.Errorf("create node: %w", err)
	}
	logger.Info("Node created",
		zap.String("node_id", id),
		zap.String("name", n.Name),
		zap.String("cluster_id", n.ClusterID),
	)

	a, err := e.start(ctx, domain.NodeCreate, id, nil, timeout)
	if err != nil {
		return nil, err
	}
	return e.nodeResult(ctx, id, a.ID)
}

func (e *Engine) nodeResult(ctx context.Context, id, actionID string) (*NodeResult, error) {
	row, err := e.reload(ctx, store.TableNodes, id)
	if err != nil {
		return nil, err
	}
	n, err := domain.NodeFromRow(row)
	if err != nil {
		return nil, err
	}
	return &NodeResult{Node: n, Action: actionID}, nil
}

// sameProfileType fails with PROFILE_TYPE_NOT_MATCH when p is not of the
// type of the profile currentID.
func (e *Engine) sameProfileType(ctx context.Context, currentID string, p *domain.Profile) error {
	if currentID == p.ID {
		return nil
	}
	current, err := e.profileByID(ctx, currentID)
	if err != nil {
		return err
	}
	if current.Type != p.Type {
		return apperrors.ErrProfileTypeNotMatch(fmt.Sprintf(
			"Profile type (%s) does not match the expected type (%s).", p.Type, current.Type))
	}
	return nil
}

// NodeGet returns the node matching identity.
func (e *Engine) NodeGet(ctx context.Context, identity string) (*domain.Node, error) {
	return e.findNode(ctx, identity, false)
}

// NodeList lists nodes. Filter on cluster_id to list the members of a
// cluster.
func (e *Engine) NodeList(ctx context.Context, opts lister.Options) ([]*domain.Node, error) {
	return list(ctx, e.store, store.TableNodes, opts, domain.NodeFromRow)
}

// NodeUpdate changes name, role and tags in place. A different profile of
// the same type starts NODE_UPDATE.
func (e *Engine) NodeUpdate(ctx context.Context, identity string, params NodeUpdateParams) (*NodeResult, error) {
	n, err := e.findNode(ctx, identity, false)
	if err != nil {
		return nil, err
	}

	newProfile := ""
	if profile, ok := params.ProfileID.Get(); ok {
		p, err := e.findProfile(ctx, profile, false)
		if err != nil {
			return nil, err
		}
		if err := e.sameProfileType(ctx, n.ProfileID, p); err != nil {
			return nil, err
		}
		if p.ID != n.ProfileID {
			newProfile = p.ID
		}
	}

	fields := store.Row{}
	if params.Name.IsSet() {
		fields["name"] = params.Name.Value()
	}
	if params.Role.IsSet() {
		fields["role"] = params.Role.Value()
	}
	if params.Tags.IsSet() {
		fields["tags"] = params.Tags.Value()
	}
	if len(fields) > 0 {
		if _, err := e.store.Update(ctx, store.TableNodes, n.ID, fields, nil); err != nil {
			return nil, fmt.Errorf("update node %s: %w", n.ID, err)
		}
	}
	if newProfile == "" {
		return e.nodeResult(ctx, n.ID, "")
	}

	a, err := e.start(ctx, domain.NodeUpdate, n.ID, map[string]any{"profile_id": newProfile}, nil)
	if err != nil {
		return nil, err
	}
	return e.nodeResult(ctx, n.ID, a.ID)
}

// NodeDelete starts NODE_DELETE.
func (e *Engine) NodeDelete(ctx context.Context, identity string) (*Accepted, error) {
	n, err := e.findNode(ctx, identity, false)
	if err != nil {
		return nil, err
	}
	a, err := e.start(ctx, domain.NodeDelete, n.ID, nil, nil)
	if err != nil {
		return nil, err
	}
	return &Accepted{ID: n.ID, Action: a.ID}, nil
}

// NodeJoin starts NODE_JOIN, moving the node into a cluster.
func (e *Engine) NodeJoin(ctx context.Context, identity, clusterIdentity string) (*Accepted, error) {
	n, err := e.findNode(ctx, identity, false)
	if err != nil {
		return nil, err
	}
	c, err := e.liveCluster(ctx, clusterIdentity)
	if err != nil {
		return nil, err
	}
	p, err := e.profileByID(ctx, n.ProfileID)
	if err != nil {
		return nil, err
	}
	if err := e.sameProfileType(ctx, c.ProfileID, p); err != nil {
		return nil, err
	}
	a, err := e.start(ctx, domain.NodeJoin, n.ID, map[string]any{"cluster_id": c.ID}, c.Timeout)
	if err != nil {
		return nil, err
	}
	return &Accepted{ID: n.ID, Action: a.ID}, nil
}

// NodeLeave starts NODE_LEAVE, removing the node from its cluster.
func (e *Engine) NodeLeave(ctx context.Context, identity string) (*Accepted, error) {
	n, err := e.findNode(ctx, identity, false)
	if err != nil {
		return nil, err
	}
	if n.ClusterID == "" {
		return nil, apperrors.ErrBadRequest(fmt.Sprintf("Node (%s) is not a member of any cluster.", identity))
	}
	a, err := e.start(ctx, domain.NodeLeave, n.ID, nil, nil)
	if err != nil {
		return nil, err
	}
	return &Accepted{ID: n.ID, Action: a.ID}, nil
}
