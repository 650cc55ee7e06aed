package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"fleetd.io/fleetd/internal/api/params"
	"fleetd.io/fleetd/internal/engine"
	"fleetd.io/fleetd/internal/pkg/opt"
)

var nodeFilters = params.Filters{
	"name":       params.String,
	"status":     params.String,
	"role":       params.String,
	"cluster_id": params.String,
	"profile_id": params.String,
	"index":      params.Integer,
}

type createNodeRequest struct {
	Name      string            `json:"name"`
	ProfileID string            `json:"profile_id"`
	ClusterID string            `json:"cluster_id"`
	Role      string            `json:"role"`
	Tags      map[string]string `json:"tags"`
}

type updateNodeRequest struct {
	Name      opt.Field[string]            `json:"name"`
	ProfileID opt.Field[string]            `json:"profile_id"`
	Role      opt.Field[string]            `json:"role"`
	Tags      opt.Field[map[string]string] `json:"tags"`
}

type joinRequest struct {
	ClusterID string `json:"cluster_id"`
}

// CreateNode handles POST /nodes and starts NODE_CREATE.
func (s *Server) CreateNode(c *gin.Context) {
	var req createNodeRequest
	if !bindJSON(c, &req, false) {
		return
	}
	res, err := s.engine.NodeCreate(c.Request.Context(), engine.NodeCreateParams{
		Name:      req.Name,
		ProfileID: req.ProfileID,
		ClusterID: req.ClusterID,
		Role:      req.Role,
		Tags:      req.Tags,
	})
	if err != nil {
		fail(c, err)
		return
	}
	accepted(c, res.Action, res)
}

// ListNodes handles GET /nodes.
func (s *Server) ListNodes(c *gin.Context) {
	opts, err := params.ListOptions(c.Request.URL.Query(), nodeFilters, false)
	if err != nil {
		fail(c, err)
		return
	}
	nodes, err := s.engine.NodeList(c.Request.Context(), opts)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"nodes": nodes})
}

// GetNode handles GET /nodes/:id.
func (s *Server) GetNode(c *gin.Context) {
	n, err := s.engine.NodeGet(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, n)
}

// UpdateNode handles PATCH /nodes/:id. A profile change starts NODE_UPDATE
// and answers 202.
func (s *Server) UpdateNode(c *gin.Context) {
	var req updateNodeRequest
	if !bindJSON(c, &req, false) {
		return
	}
	res, err := s.engine.NodeUpdate(c.Request.Context(), c.Param("id"), engine.NodeUpdateParams{
		Name:      req.Name,
		ProfileID: req.ProfileID,
		Role:      req.Role,
		Tags:      req.Tags,
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

// DeleteNode handles DELETE /nodes/:id and starts NODE_DELETE.
func (s *Server) DeleteNode(c *gin.Context) {
	res, err := s.engine.NodeDelete(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	accepted(c, res.Action, res)
}

// JoinNode handles POST /nodes/:id/join.
func (s *Server) JoinNode(c *gin.Context) {
	var req joinRequest
	if !bindJSON(c, &req, false) {
		return
	}
	res, err := s.engine.NodeJoin(c.Request.Context(), c.Param("id"), req.ClusterID)
	if err != nil {
		fail(c, err)
		return
	}
	accepted(c, res.Action, res)
}

// LeaveNode handles POST /nodes/:id/leave.
func (s *Server) LeaveNode(c *gin.Context) {
	res, err := s.engine.NodeLeave(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	accepted(c, res.Action, res)
}
