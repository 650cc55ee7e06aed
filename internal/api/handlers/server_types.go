package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ListProfileTypes handles GET /profile-types.
func (s *Server) ListProfileTypes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"profile_types": s.engine.ProfileTypeList(c.Request.Context())})
}

// GetProfileType handles GET /profile-types/:name and returns the spec schema.
func (s *Server) GetProfileType(c *gin.Context) {
	name := c.Param("name")
	schema, err := s.engine.ProfileTypeSchema(c.Request.Context(), name)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": name, "schema": schema})
}

// ListPolicyTypes handles GET /policy-types.
func (s *Server) ListPolicyTypes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"policy_types": s.engine.PolicyTypeList(c.Request.Context())})
}

// GetPolicyType handles GET /policy-types/:name and returns the spec schema.
func (s *Server) GetPolicyType(c *gin.Context) {
	name := c.Param("name")
	schema, err := s.engine.PolicyTypeSchema(c.Request.Context(), name)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": name, "schema": schema})
}
