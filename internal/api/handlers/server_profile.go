package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"fleetd.io/fleetd/internal/api/params"
	"fleetd.io/fleetd/internal/engine"
	"fleetd.io/fleetd/internal/pkg/opt"
)

var profileFilters = params.Filters{
	"name":       params.String,
	"type":       params.String,
	"permission": params.String,
}

type createProfileRequest struct {
	Name       string            `json:"name"`
	Type       string            `json:"type"`
	Spec       map[string]any    `json:"spec"`
	Permission string            `json:"permission"`
	Tags       map[string]string `json:"tags"`
}

type updateProfileRequest struct {
	Name       opt.Field[string]            `json:"name"`
	Permission opt.Field[string]            `json:"permission"`
	Tags       opt.Field[map[string]string] `json:"tags"`
	Spec       opt.Field[map[string]any]    `json:"spec"`
}

// CreateProfile handles POST /profiles.
func (s *Server) CreateProfile(c *gin.Context) {
	var req createProfileRequest
	if !bindJSON(c, &req, false) {
		return
	}
	p, err := s.engine.ProfileCreate(c.Request.Context(), engine.ProfileCreateParams{
		Name:       req.Name,
		Type:       req.Type,
		Spec:       req.Spec,
		Permission: req.Permission,
		Tags:       req.Tags,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

// ListProfiles handles GET /profiles.
func (s *Server) ListProfiles(c *gin.Context) {
	opts, err := params.ListOptions(c.Request.URL.Query(), profileFilters, false)
	if err != nil {
		fail(c, err)
		return
	}
	profiles, err := s.engine.ProfileList(c.Request.Context(), opts)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"profiles": profiles})
}

// GetProfile handles GET /profiles/:id.
func (s *Server) GetProfile(c *gin.Context) {
	deleted, err := showDeleted(c)
	if err != nil {
		fail(c, err)
		return
	}
	p, err := s.engine.ProfileFind(c.Request.Context(), c.Param("id"), deleted)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// UpdateProfile handles PATCH /profiles/:id. A changed spec answers with
// the newly created profile.
func (s *Server) UpdateProfile(c *gin.Context) {
	var req updateProfileRequest
	if !bindJSON(c, &req, false) {
		return
	}
	p, err := s.engine.ProfileUpdate(c.Request.Context(), c.Param("id"), engine.ProfileUpdateParams{
		Name:       req.Name,
		Permission: req.Permission,
		Tags:       req.Tags,
		Spec:       req.Spec,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// DeleteProfile handles DELETE /profiles/:id.
func (s *Server) DeleteProfile(c *gin.Context) {
	if err := s.engine.ProfileDelete(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
