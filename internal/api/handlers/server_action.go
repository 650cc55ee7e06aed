package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"fleetd.io/fleetd/internal/api/params"
	"fleetd.io/fleetd/internal/domain"
	"fleetd.io/fleetd/internal/engine"
)

var actionFilters = params.Filters{
	"name":   params.String,
	"target": params.String,
	"action": params.String,
	"status": params.String,
	"cause":  params.String,
}

var eventFilters = params.Filters{
	"obj_id":     params.String,
	"obj_type":   params.String,
	"obj_name":   params.String,
	"cluster_id": params.String,
	"action":     params.String,
	"action_id":  params.String,
	"status":     params.String,
	"level":      params.String,
}

type createActionRequest struct {
	Name   string         `json:"name"`
	Target string         `json:"target"`
	Action string         `json:"action"`
	Inputs map[string]any `json:"inputs"`
}

// CreateAction handles POST /actions.
func (s *Server) CreateAction(c *gin.Context) {
	var req createActionRequest
	if !bindJSON(c, &req, false) {
		return
	}
	res, err := s.engine.ActionCreate(c.Request.Context(), engine.ActionCreateParams{
		Name:   req.Name,
		Target: req.Target,
		Action: domain.ActionKind(req.Action),
		Inputs: req.Inputs,
	})
	if err != nil {
		fail(c, err)
		return
	}
	accepted(c, res.Action, res)
}

// ListActions handles GET /actions.
func (s *Server) ListActions(c *gin.Context) {
	opts, err := params.ListOptions(c.Request.URL.Query(), actionFilters, false)
	if err != nil {
		fail(c, err)
		return
	}
	actions, err := s.engine.ActionList(c.Request.Context(), opts)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"actions": actions})
}

// GetAction handles GET /actions/:id.
func (s *Server) GetAction(c *gin.Context) {
	a, err := s.engine.ActionGet(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// CancelAction handles POST /actions/:id/cancel. A running action is only
// signalled, so the returned action may still be RUNNING.
func (s *Server) CancelAction(c *gin.Context) {
	a, err := s.engine.ActionCancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, a)
}

// WaitAction handles GET /actions/:id/wait?timeout=<seconds>. It answers
// 200 once the action is terminal and 202 with the current action when the
// timeout passes first.
func (s *Server) WaitAction(c *gin.Context) {
	timeout, err := params.NonNegativeInt("timeout", c.Query("timeout"))
	if err != nil {
		fail(c, err)
		return
	}
	seconds := s.maxWaitS
	if timeout != nil && *timeout < seconds {
		seconds = *timeout
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), time.Duration(seconds)*time.Second)
	defer cancel()
	a, err := s.engine.Wait(ctx, c.Param("id"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, a)
	case errors.Is(err, context.DeadlineExceeded) && a != nil:
		c.JSON(http.StatusAccepted, a)
	default:
		fail(c, err)
	}
}

// ListEvents handles GET /events.
func (s *Server) ListEvents(c *gin.Context) {
	opts, err := params.ListOptions(c.Request.URL.Query(), eventFilters, false)
	if err != nil {
		fail(c, err)
		return
	}
	events, err := s.engine.EventList(c.Request.Context(), opts)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}
