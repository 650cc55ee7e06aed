package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"fleetd.io/fleetd/internal/api/params"
	"fleetd.io/fleetd/internal/engine"
	"fleetd.io/fleetd/internal/pkg/opt"
)

var policyFilters = params.Filters{
	"name":     params.String,
	"type":     params.String,
	"cooldown": params.Integer,
	"level":    params.Integer,
}

type createPolicyRequest struct {
	Name     string         `json:"name"`
	Type     string         `json:"type"`
	Spec     map[string]any `json:"spec"`
	Cooldown any            `json:"cooldown"`
	Level    any            `json:"level"`
}

type updatePolicyRequest struct {
	Name     opt.Field[string] `json:"name"`
	Cooldown opt.Field[any]    `json:"cooldown"`
	Level    opt.Field[any]    `json:"level"`
}

// CreatePolicy handles POST /policies.
func (s *Server) CreatePolicy(c *gin.Context) {
	var req createPolicyRequest
	if !bindJSON(c, &req, false) {
		return
	}
	cooldown, err := optionalInt("cooldown", req.Cooldown)
	if err != nil {
		fail(c, err)
		return
	}
	level, err := optionalInt("level", req.Level)
	if err != nil {
		fail(c, err)
		return
	}
	p, err := s.engine.PolicyCreate(c.Request.Context(), engine.PolicyCreateParams{
		Name:     req.Name,
		Type:     req.Type,
		Spec:     req.Spec,
		Cooldown: cooldown,
		Level:    level,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

// ListPolicies handles GET /policies.
func (s *Server) ListPolicies(c *gin.Context) {
	opts, err := params.ListOptions(c.Request.URL.Query(), policyFilters, false)
	if err != nil {
		fail(c, err)
		return
	}
	policies, err := s.engine.PolicyList(c.Request.Context(), opts)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"policies": policies})
}

// GetPolicy handles GET /policies/:id.
func (s *Server) GetPolicy(c *gin.Context) {
	deleted, err := showDeleted(c)
	if err != nil {
		fail(c, err)
		return
	}
	p, err := s.engine.PolicyFind(c.Request.Context(), c.Param("id"), deleted)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// UpdatePolicy handles PATCH /policies/:id.
func (s *Server) UpdatePolicy(c *gin.Context) {
	var req updatePolicyRequest
	if !bindJSON(c, &req, false) {
		return
	}
	cooldown, err := fieldInt("cooldown", req.Cooldown)
	if err != nil {
		fail(c, err)
		return
	}
	level, err := fieldInt("level", req.Level)
	if err != nil {
		fail(c, err)
		return
	}
	p, err := s.engine.PolicyUpdate(c.Request.Context(), c.Param("id"), engine.PolicyUpdateParams{
		Name:     req.Name,
		Cooldown: cooldown,
		Level:    level,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// DeletePolicy handles DELETE /policies/:id.
func (s *Server) DeletePolicy(c *gin.Context) {
	if err := s.engine.PolicyDelete(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
