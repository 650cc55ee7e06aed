// Package handlers exposes the fleetd engine over HTTP.
//
// Handlers translate request bodies and query strings into engine
// parameters and report failures through c.Error so the ErrorHandler
// middleware renders them. Authentication and RBAC run before any handler.
//
// Import Path: fleetd.io/fleetd/internal/api/handlers
package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"fleetd.io/fleetd/internal/api/params"
	"fleetd.io/fleetd/internal/engine"
	"fleetd.io/fleetd/internal/pkg/opt"

	apperrors "fleetd.io/fleetd/internal/pkg/errors"
)

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server implements all API handlers.
type Server struct {
	engine   *engine.Engine
	checks   map[string]Pinger
	maxWaitS int
}

// ServerDeps holds all dependencies for creating a Server.
// Manual DI, no Wire/Dig.
type ServerDeps struct {
	Engine *engine.Engine
	// Checks are pinged by the readiness probe, keyed by the name reported
	// in the response. A nil map makes the probe always ready.
	Checks map[string]Pinger
	// MaxWaitSeconds caps the timeout of GET /actions/:id/wait.
	MaxWaitSeconds int
}

const defaultMaxWaitSeconds = 300

// NewServer creates a new Server with all dependencies.
func NewServer(deps ServerDeps) *Server {
	maxWait := deps.MaxWaitSeconds
	if maxWait <= 0 {
		maxWait = defaultMaxWaitSeconds
	}
	return &Server{engine: deps.Engine, checks: deps.Checks, maxWaitS: maxWait}
}

// Register mounts the resource routes on r.
func (s *Server) Register(r gin.IRouter) {
	r.GET("/profile-types", s.ListProfileTypes)
	r.GET("/profile-types/:name", s.GetProfileType)
	r.GET("/policy-types", s.ListPolicyTypes)
	r.GET("/policy-types/:name", s.GetPolicyType)

	r.POST("/profiles", s.CreateProfile)
	r.GET("/profiles", s.ListProfiles)
	r.GET("/profiles/:id", s.GetProfile)
	r.PATCH("/profiles/:id", s.UpdateProfile)
	r.DELETE("/profiles/:id", s.DeleteProfile)

	r.POST("/policies", s.CreatePolicy)
	r.GET("/policies", s.ListPolicies)
	r.GET("/policies/:id", s.GetPolicy)
	r.PATCH("/policies/:id", s.UpdatePolicy)
	r.DELETE("/policies/:id", s.DeletePolicy)

	r.POST("/clusters", s.CreateCluster)
	r.GET("/clusters", s.ListClusters)
	r.GET("/clusters/:id", s.GetCluster)
	r.PATCH("/clusters/:id", s.UpdateCluster)
	r.DELETE("/clusters/:id", s.DeleteCluster)
	r.POST("/clusters/:id/add-nodes", s.AddClusterNodes)
	r.POST("/clusters/:id/del-nodes", s.DelClusterNodes)
	r.POST("/clusters/:id/scale-out", s.ScaleOutCluster)
	r.POST("/clusters/:id/scale-in", s.ScaleInCluster)

	r.GET("/clusters/:id/policies", s.ListClusterPolicies)
	r.POST("/clusters/:id/policies", s.AttachClusterPolicy)
	r.GET("/clusters/:id/policies/:policy", s.GetClusterPolicy)
	r.PATCH("/clusters/:id/policies/:policy", s.UpdateClusterPolicy)
	r.DELETE("/clusters/:id/policies/:policy", s.DetachClusterPolicy)

	r.POST("/nodes", s.CreateNode)
	r.GET("/nodes", s.ListNodes)
	r.GET("/nodes/:id", s.GetNode)
	r.PATCH("/nodes/:id", s.UpdateNode)
	r.DELETE("/nodes/:id", s.DeleteNode)
	r.POST("/nodes/:id/join", s.JoinNode)
	r.POST("/nodes/:id/leave", s.LeaveNode)

	r.POST("/actions", s.CreateAction)
	r.GET("/actions", s.ListActions)
	r.GET("/actions/:id", s.GetAction)
	r.POST("/actions/:id/cancel", s.CancelAction)
	r.GET("/actions/:id/wait", s.WaitAction)

	r.GET("/events", s.ListEvents)
}

func fail(c *gin.Context, err error) {
	_ = c.Error(err)
}

// bindJSON decodes the request body into req. An empty body is accepted
// only when optional is set.
func bindJSON(c *gin.Context, req any, optional bool) bool {
	err := c.ShouldBindJSON(req)
	if err == nil {
		return true
	}
	if optional && errors.Is(err, io.EOF) {
		return true
	}
	fail(c, apperrors.ErrBadRequest("body is not a valid JSON document"))
	return false
}

// optionalInt converts a decoded JSON number. A nil v yields nil.
func optionalInt(name string, v any) (*int, error) {
	if v == nil {
		return nil, nil
	}
	n, err := params.JSONInt(name, v)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// fieldInt converts a tri-state JSON number field.
func fieldInt(name string, f opt.Field[any]) (opt.Field[int], error) {
	switch {
	case !f.IsSet():
		return opt.Field[int]{}, nil
	case f.IsNull():
		return opt.Null[int](), nil
	}
	n, err := params.JSONInt(name, f.Value())
	if err != nil {
		return opt.Field[int]{}, err
	}
	return opt.Of(n), nil
}

func showDeleted(c *gin.Context) (bool, error) {
	return params.Bool("show_deleted", c.Query("show_deleted"), false)
}

// accepted answers 202 with the started action in the Location header.
func accepted(c *gin.Context, actionID string, body any) {
	if actionID != "" {
		c.Header("Location", "/v1/actions/"+actionID)
	}
	c.JSON(http.StatusAccepted, body)
}
