package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"fleetd.io/fleetd/internal/api/params"
	"fleetd.io/fleetd/internal/engine"
)

var bindingFilters = params.Filters{
	"policy_name": params.String,
	"policy_type": params.String,
	"enabled":     params.Boolean,
	"level":       params.Integer,
	"cooldown":    params.Integer,
	"priority":    params.Integer,
}

type bindingRequest struct {
	PolicyID string `json:"policy_id"`
	Enabled  *bool  `json:"enabled"`
	Level    any    `json:"level"`
	Cooldown any    `json:"cooldown"`
	Priority any    `json:"priority"`
}

func (r bindingRequest) params() (engine.BindingParams, error) {
	out := engine.BindingParams{Enabled: r.Enabled}
	var err error
	if out.Level, err = optionalInt("level", r.Level); err != nil {
		return out, err
	}
	if out.Cooldown, err = optionalInt("cooldown", r.Cooldown); err != nil {
		return out, err
	}
	if out.Priority, err = optionalInt("priority", r.Priority); err != nil {
		return out, err
	}
	return out, nil
}

// ListClusterPolicies handles GET /clusters/:id/policies.
func (s *Server) ListClusterPolicies(c *gin.Context) {
	opts, err := params.ListOptions(c.Request.URL.Query(), bindingFilters, false)
	if err != nil {
		fail(c, err)
		return
	}
	bindings, err := s.engine.ClusterPolicyList(c.Request.Context(), c.Param("id"), opts)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cluster_policies": bindings})
}

// AttachClusterPolicy handles POST /clusters/:id/policies.
func (s *Server) AttachClusterPolicy(c *gin.Context) {
	var req bindingRequest
	if !bindJSON(c, &req, false) {
		return
	}
	bp, err := req.params()
	if err != nil {
		fail(c, err)
		return
	}
	b, err := s.engine.ClusterPolicyAttach(c.Request.Context(), c.Param("id"), req.PolicyID, bp)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, b)
}

// GetClusterPolicy handles GET /clusters/:id/policies/:policy.
func (s *Server) GetClusterPolicy(c *gin.Context) {
	b, err := s.engine.ClusterPolicyGet(c.Request.Context(), c.Param("id"), c.Param("policy"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

// UpdateClusterPolicy handles PATCH /clusters/:id/policies/:policy.
func (s *Server) UpdateClusterPolicy(c *gin.Context) {
	var req bindingRequest
	if !bindJSON(c, &req, false) {
		return
	}
	bp, err := req.params()
	if err != nil {
		fail(c, err)
		return
	}
	b, err := s.engine.ClusterPolicyUpdate(c.Request.Context(), c.Param("id"), c.Param("policy"), bp)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

// DetachClusterPolicy handles DELETE /clusters/:id/policies/:policy.
func (s *Server) DetachClusterPolicy(c *gin.Context) {
	if err := s.engine.ClusterPolicyDetach(c.Request.Context(), c.Param("id"), c.Param("policy")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
