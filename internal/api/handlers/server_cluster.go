package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"fleetd.io/fleetd/internal/api/params"
	"fleetd.io/fleetd/internal/engine"
	"fleetd.io/fleetd/internal/pkg/opt"
)

var clusterFilters = params.Filters{
	"name":       params.String,
	"status":     params.String,
	"profile_id": params.String,
	"size":       params.Integer,
}

type createClusterRequest struct {
	Name      string            `json:"name"`
	Size      any               `json:"size"`
	ProfileID string            `json:"profile_id"`
	Parent    string            `json:"parent"`
	Tags      map[string]string `json:"tags"`
	Timeout   any               `json:"timeout"`
}

type updateClusterRequest struct {
	Name      opt.Field[string]            `json:"name"`
	ProfileID opt.Field[string]            `json:"profile_id"`
	Parent    opt.Field[string]            `json:"parent"`
	Tags      opt.Field[map[string]string] `json:"tags"`
	Timeout   opt.Field[any]               `json:"timeout"`
}

type nodesRequest struct {
	Nodes []string `json:"nodes"`
}

type scaleRequest struct {
	Count any `json:"count"`
}

// CreateCluster handles POST /clusters and starts CLUSTER_CREATE.
func (s *Server) CreateCluster(c *gin.Context) {
	var req createClusterRequest
	if !bindJSON(c, &req, false) {
		return
	}
	size := 0
	if req.Size != nil {
		n, err := params.JSONInt("size", req.Size)
		if err != nil {
			fail(c, err)
			return
		}
		size = n
	}
	timeout, err := optionalInt("timeout", req.Timeout)
	if err != nil {
		fail(c, err)
		return
	}
	res, err := s.engine.ClusterCreate(c.Request.Context(), engine.ClusterCreateParams{
		Name:      req.Name,
		Size:      size,
		ProfileID: req.ProfileID,
		Parent:    req.Parent,
		Tags:      req.Tags,
		Timeout:   timeout,
	})
	if err != nil {
		fail(c, err)
		return
	}
	accepted(c, res.Action, res)
}

// ListClusters handles GET /clusters. Nested clusters are hidden unless
// show_nested is set.
func (s *Server) ListClusters(c *gin.Context) {
	opts, err := params.ListOptions(c.Request.URL.Query(), clusterFilters, true)
	if err != nil {
		fail(c, err)
		return
	}
	clusters, err := s.engine.ClusterList(c.Request.Context(), opts)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"clusters": clusters})
}

// GetCluster handles GET /clusters/:id.
func (s *Server) GetCluster(c *gin.Context) {
	deleted, err := showDeleted(c)
	if err != nil {
		fail(c, err)
		return
	}
	cl, err := s.engine.ClusterFind(c.Request.Context(), c.Param("id"), deleted)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cl)
}

// UpdateCluster handles PATCH /clusters/:id. A profile change starts
// CLUSTER_UPDATE and answers 202; field-only changes answer 200.
func (s *Server) UpdateCluster(c *gin.Context) {
	var req updateClusterRequest
	if !bindJSON(c, &req, false) {
		return
	}
	timeout, err := fieldInt("timeout", req.Timeout)
	if err != nil {
		fail(c, err)
		return
	}
	res, err := s.engine.ClusterUpdate(c.Request.Context(), c.Param("id"), engine.ClusterUpdateParams{
		Name:      req.Name,
		ProfileID: req.ProfileID,
		Parent:    req.Parent,
		Tags:      req.Tags,
		Timeout:   timeout,
	})
	if err != nil {
		fail(c, err)
		return
	}
	if res.Action != "" {
		accepted(c, res.Action, res)
		return
	}
	c.JSON(http.StatusOK, res)
}

// DeleteCluster handles DELETE /clusters/:id and starts CLUSTER_DELETE.
func (s *Server) DeleteCluster(c *gin.Context) {
	res, err := s.engine.ClusterDelete(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	accepted(c, res.Action, res)
}

// AddClusterNodes handles POST /clusters/:id/add-nodes.
func (s *Server) AddClusterNodes(c *gin.Context) {
	var req nodesRequest
	if !bindJSON(c, &req, false) {
		return
	}
	res, err := s.engine.ClusterAddNodes(c.Request.Context(), c.Param("id"), req.Nodes)
	if err != nil {
		fail(c, err)
		return
	}
	accepted(c, res.Action, res)
}

// DelClusterNodes handles POST /clusters/:id/del-nodes.
func (s *Server) DelClusterNodes(c *gin.Context) {
	var req nodesRequest
	if !bindJSON(c, &req, false) {
		return
	}
	res, err := s.engine.ClusterDelNodes(c.Request.Context(), c.Param("id"), req.Nodes)
	if err != nil {
		fail(c, err)
		return
	}
	accepted(c, res.Action, res)
}

// scaleCount reads the optional count from the body.
func scaleCount(c *gin.Context) (*int, bool) {
	var req scaleRequest
	if !bindJSON(c, &req, true) {
		return nil, false
	}
	count, err := optionalInt("count", req.Count)
	if err != nil {
		fail(c, err)
		return nil, false
	}
	return count, true
}

// ScaleOutCluster handles POST /clusters/:id/scale-out.
func (s *Server) ScaleOutCluster(c *gin.Context) {
	count, ok := scaleCount(c)
	if !ok {
		return
	}
	res, err := s.engine.ClusterScaleOut(c.Request.Context(), c.Param("id"), count)
	if err != nil {
		fail(c, err)
		return
	}
	accepted(c, res.Action, res)
}

// ScaleInCluster handles POST /clusters/:id/scale-in.
func (s *Server) ScaleInCluster(c *gin.Context) {
	count, ok := scaleCount(c)
	if !ok {
		return
	}
	res, err := s.engine.ClusterScaleIn(c.Request.Context(), c.Param("id"), count)
	if err != nil {
		fail(c, err)
		return
	}
	accepted(c, res.Action, res)
}
