package engine

import (
	"context"
	"fmt"
	"maps"

	"go.uber.org/zap"

	"fleetd.io/fleetd/internal/domain"
	"fleetd.io/fleetd/internal/lister"
	"fleetd.io/fleetd/internal/pkg/logger"
	"fleetd.io/fleetd/internal/pkg/opt"
	"fleetd.io/fleetd/internal/store"

	apperrors "fleetd.io/fleetd/internal/pkg/errors"
)

// ClusterCreateParams describes a new cluster. ProfileID and Parent accept
// any identity the resolver understands.
type ClusterCreateParams struct {
	Name      string
	Size      int
	ProfileID string
	Parent    string
	Tags      map[string]string
	Timeout   *int
}

// ClusterUpdateParams lists the cluster fields to change. A null Parent,
// Tags or Timeout clears the field.
type ClusterUpdateParams struct {
	Name      opt.Field[string]
	ProfileID opt.Field[string]
	Parent    opt.Field[string]
	Tags      opt.Field[map[string]string]
	Timeout   opt.Field[int]
}

// ClusterResult is a cluster plus the action an operation started on it.
// Action is empty when nothing was started.
type ClusterResult struct {
	*domain.Cluster
	Action string `json:"action,omitempty"`
}

// ClusterCreate persists a cluster in INIT and starts CLUSTER_CREATE.
func (e *Engine) ClusterCreate(ctx context.Context, params ClusterCreateParams) (*ClusterResult, error) {
	if params.Size < 0 {
		return nil, apperrors.ErrInvalidParameter("size", params.Size)
	}
	if err := nonNegative("timeout", params.Timeout); err != nil {
		return nil, err
	}
	p, err := e.findProfile(ctx, params.ProfileID, false)
	if err != nil {
		return nil, err
	}

	project, user := owner(ctx)
	c := &domain.Cluster{
		Name:         params.Name,
		ProfileID:    p.ID,
		Size:         params.Size,
		Status:       domain.ClusterInit,
		StatusReason: "Initializing",
		Tags:         params.Tags,
		Timeout:      params.Timeout,
		Project:      project,
		User:         user,
	}
	if params.Parent != "" {
		parent, err := e.liveCluster(ctx, params.Parent)
		if err != nil {
			return nil, err
		}
		c.Parent = &parent.ID
	}

	id, err := e.store.Create(ctx, store.TableClusters, c.ToRow())
	if err != nil {
		return nil, fmt.Errorf("create cluster: %w", err)
	}
	logger.Info("Cluster created",
		zap.String("cluster_id", id),
		zap.String("name", c.Name),
		zap.Int("size", c.Size),
	)

	a, err := e.start(ctx, domain.ClusterCreate, id, nil, c.Timeout)
	if err != nil {
		return nil, err
	}
	return e.clusterResult(ctx, id, a.ID)
}

func (e *Engine) clusterResult(ctx context.Context, id, actionID string) (*ClusterResult, error) {
	row, err := e.reload(ctx, store.TableClusters, id)
	if err != nil {
		return nil, err
	}
	c, err := domain.ClusterFromRow(row)
	if err != nil {
		return nil, err
	}
	return &ClusterResult{Cluster: c, Action: actionID}, nil
}

// ClusterGet returns the cluster matching identity.
func (e *Engine) ClusterGet(ctx context.Context, identity string) (*domain.Cluster, error) {
	return e.findCluster(ctx, identity, false)
}

// ClusterFind resolves identity; soft-deleted clusters match only by full
// id with showDeleted.
func (e *Engine) ClusterFind(ctx context.Context, identity string, showDeleted bool) (*domain.Cluster, error) {
	return e.findCluster(ctx, identity, showDeleted)
}

// ClusterList lists clusters. Nested clusters are included only with
// ShowNested.
func (e *Engine) ClusterList(ctx context.Context, opts lister.Options) ([]*domain.Cluster, error) {
	return list(ctx, e.store, store.TableClusters, opts, domain.ClusterFromRow)
}

// ClusterUpdate changes a cluster.
//
// Name, parent, tags and timeout are written to the record directly. A
// profile change is carried out by the action on every member node. Any
// effective change starts exactly one CLUSTER_UPDATE; a request that
// changes nothing, including one naming the current profile, starts none.
func (e *Engine) ClusterUpdate(ctx context.Context, identity string, params ClusterUpdateParams) (*ClusterResult, error) {
	c, err := e.liveCluster(ctx, identity)
	if err != nil {
		return nil, err
	}

	newProfile := ""
	if params.ProfileID.HasValue() {
		if c.Status == domain.ClusterError {
			return nil, apperrors.ErrNotSupported("Updating the profile of a cluster in ERROR status")
		}
		p, err := e.findProfile(ctx, params.ProfileID.Value(), false)
		if err != nil {
			return nil, err
		}
		if p.ID != c.ProfileID {
			current, err := e.profileByID(ctx, c.ProfileID)
			if err != nil {
				return nil, err
			}
			if p.Type != current.Type {
				return nil, apperrors.ErrProfileTypeNotMatch(
					"Cannot update a cluster to a different profile type, operation aborted.")
			}
			newProfile = p.ID
		}
	}

	fields := store.Row{}
	if name, ok := params.Name.Get(); ok && name != c.Name {
		fields["name"] = name
	}
	if params.Parent.IsSet() {
		parent, err := e.parentFor(ctx, c, params.Parent)
		if err != nil {
			return nil, err
		}
		if parent != c.ParentID() {
			if parent == "" {
				fields["parent"] = nil
			} else {
				fields["parent"] = parent
			}
		}
	}
	if params.Tags.IsSet() {
		if tags := params.Tags.Value(); !maps.Equal(tags, c.Tags) {
			fields["tags"] = tags
		}
	}
	if params.Timeout.IsSet() {
		if params.Timeout.IsNull() {
			if c.Timeout != nil {
				fields["timeout"] = nil
			}
		} else {
			v := params.Timeout.Value()
			if err := nonNegative("timeout", &v); err != nil {
				return nil, err
			}
			if c.Timeout == nil || *c.Timeout != v {
				fields["timeout"] = v
			}
		}
	}

	if len(fields) == 0 && newProfile == "" {
		return &ClusterResult{Cluster: c}, nil
	}
	if len(fields) > 0 {
		if _, err := e.store.Update(ctx, store.TableClusters, c.ID, fields, nil); err != nil {
			return nil, fmt.Errorf("update cluster %s: %w", c.ID, err)
		}
	}
	if c, err = e.findCluster(ctx, c.ID, false); err != nil {
		return nil, err
	}

	inputs := map[string]any{}
	if newProfile != "" {
		inputs["profile_id"] = newProfile
	}
	a, err := e.start(ctx, domain.ClusterUpdate, c.ID, inputs, c.Timeout)
	if err != nil {
		return nil, err
	}
	return &ClusterResult{Cluster: c, Action: a.ID}, nil
}

// parentFor resolves the requested parent of c, rejecting any parent that
// would make c its own ancestor. A null or empty value means no parent.
func (e *Engine) parentFor(ctx context.Context, c *domain.Cluster, requested opt.Field[string]) (string, error) {
	identity, ok := requested.Get()
	if !ok || identity == "" {
		return "", nil
	}
	parent, err := e.liveCluster(ctx, identity)
	if err != nil {
		return "", err
	}
	seen := map[string]bool{}
	for id := parent.ID; id != ""; {
		if id == c.ID {
			return "", apperrors.ErrBadRequest(fmt.Sprintf(
				"Cluster (%s) cannot be a descendant of itself.", c.ID))
		}
		if seen[id] {
			break
		}
		seen[id] = true
		row, err := e.store.Get(ctx, store.TableClusters, id)
		if err != nil {
			break
		}
		next, _ := row["parent"].(string)
		id = next
	}
	return parent.ID, nil
}

// ClusterDelete starts CLUSTER_DELETE.
func (e *Engine) ClusterDelete(ctx context.Context, identity string) (*Accepted, error) {
	c, err := e.liveCluster(ctx, identity)
	if err != nil {
		return nil, err
	}
	a, err := e.start(ctx, domain.ClusterDelete, c.ID, nil, c.Timeout)
	if err != nil {
		return nil, err
	}
	return &Accepted{ID: c.ID, Action: a.ID}, nil
}

// ClusterAddNodes starts CLUSTER_ADD_NODES for unassigned ACTIVE nodes.
func (e *Engine) ClusterAddNodes(ctx context.Context, identity string, nodes []string) (*Accepted, error) {
	c, err := e.liveCluster(ctx, identity)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, apperrors.ErrBadRequest("No nodes to add: []")
	}
	found, err := e.resolveNodes(ctx, nodes)
	if err != nil {
		return nil, err
	}

	var inactive, owned []string
	ids := make([]string, 0, len(found))
	for _, n := range found {
		ids = append(ids, n.ID)
		if n.Status != domain.NodeActive {
			inactive = append(inactive, n.ID)
		}
		if n.ClusterID != "" {
			owned = append(owned, n.ID)
		}
	}
	if len(inactive) > 0 {
		return nil, apperrors.ErrBadRequest("Nodes are not ACTIVE: " + quoteList(inactive))
	}
	if len(owned) > 0 {
		return nil, apperrors.ErrBadRequest("Nodes already owned by some cluster: " + quoteList(owned))
	}

	a, err := e.start(ctx, domain.ClusterAddNodes, c.ID, map[string]any{"nodes": ids}, c.Timeout)
	if err != nil {
		return nil, err
	}
	return &Accepted{ID: c.ID, Action: a.ID}, nil
}

// ClusterDelNodes starts CLUSTER_DEL_NODES for members of the cluster.
func (e *Engine) ClusterDelNodes(ctx context.Context, identity string, nodes []string) (*Accepted, error) {
	c, err := e.liveCluster(ctx, identity)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, apperrors.ErrBadRequest("No nodes specified: []")
	}
	found, err := e.resolveNodes(ctx, nodes)
	if err != nil {
		return nil, err
	}

	var strangers []string
	ids := make([]string, 0, len(found))
	for _, n := range found {
		ids = append(ids, n.ID)
		if n.ClusterID != c.ID {
			strangers = append(strangers, n.ID)
		}
	}
	if len(strangers) > 0 {
		return nil, apperrors.ErrBadRequest("Nodes not members of specified cluster: " + quoteList(strangers))
	}

	a, err := e.start(ctx, domain.ClusterDelNodes, c.ID, map[string]any{"nodes": ids}, c.Timeout)
	if err != nil {
		return nil, err
	}
	return &Accepted{ID: c.ID, Action: a.ID}, nil
}

// resolveNodes resolves every identity, failing with the list of those
// that do not resolve.
func (e *Engine) resolveNodes(ctx context.Context, identities []string) ([]*domain.Node, error) {
	var missing []string
	found := make([]*domain.Node, 0, len(identities))
	for _, identity := range identities {
		n, err := e.findNode(ctx, identity, false)
		if apperrors.HasCode(err, apperrors.CodeNodeNotFound) {
			missing = append(missing, identity)
			continue
		}
		if err != nil {
			return nil, err
		}
		found = append(found, n)
	}
	if len(missing) > 0 {
		return nil, apperrors.ErrBadRequest("Nodes not found: " + quoteList(missing))
	}
	return found, nil
}

// ClusterScaleOut starts CLUSTER_SCALE_OUT. A nil count adds one node.
func (e *Engine) ClusterScaleOut(ctx context.Context, identity string, count *int) (*Accepted, error) {
	return e.scale(ctx, domain.ClusterScaleOut, identity, count)
}

// ClusterScaleIn starts CLUSTER_SCALE_IN. A nil count removes one node.
func (e *Engine) ClusterScaleIn(ctx context.Context, identity string, count *int) (*Accepted, error) {
	return e.scale(ctx, domain.ClusterScaleIn, identity, count)
}

func (e *Engine) scale(ctx context.Context, kind domain.ActionKind, identity string, count *int) (*Accepted, error) {
	c, err := e.liveCluster(ctx, identity)
	if err != nil {
		return nil, err
	}
	inputs := map[string]any{}
	if count != nil {
		if *count <= 0 {
			return nil, apperrors.ErrInvalidParameter("count", *count)
		}
		inputs["count"] = *count
	}
	a, err := e.start(ctx, kind, c.ID, inputs, c.Timeout)
	if err != nil {
		return nil, err
	}
	return &Accepted{ID: c.ID, Action: a.ID}, nil
}
