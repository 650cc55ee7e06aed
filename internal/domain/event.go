package domain

import (
	"time"

	"fleetd.io/fleetd/internal/store"
)

// Event is an audit record of an action lifecycle step.
type Event struct {
	ID           string    `mapstructure:"id" json:"id"`
	Timestamp    time.Time `mapstructure:"timestamp" json:"timestamp"`
	ObjID        string    `mapstructure:"obj_id" json:"obj_id"`
	ObjType      string    `mapstructure:"obj_type" json:"obj_type"`
	ObjName      string    `mapstructure:"obj_name" json:"obj_name"`
	ClusterID    string    `mapstructure:"cluster_id" json:"cluster_id"`
	Action       string    `mapstructure:"action" json:"action"`
	ActionID     string    `mapstructure:"action_id" json:"action_id"`
	Status       string    `mapstructure:"status" json:"status"`
	StatusReason string    `mapstructure:"status_reason" json:"status_reason"`
	Level        string    `mapstructure:"level" json:"level"`
	Project      string    `mapstructure:"project" json:"project"`
	User         string    `mapstructure:"user" json:"user"`
	CreatedAt    time.Time `mapstructure:"created_at" json:"created_at"`
}

// ToRow renders the persisted shape.
func (e *Event) ToRow() store.Row {
	return store.Row{
		"timestamp":     store.FormatTime(e.Timestamp),
		"obj_id":        e.ObjID,
		"obj_type":      e.ObjType,
		"obj_name":      e.ObjName,
		"cluster_id":    nullable(e.ClusterID),
		"action":        e.Action,
		"action_id":     e.ActionID,
		"status":        e.Status,
		"status_reason": e.StatusReason,
		"level":         e.Level,
		"project":       e.Project,
		"user":          e.User,
	}
}

// EventFromRow decodes an event row.
func EventFromRow(row store.Row) (*Event, error) {
	e := &Event{}
	if err := decodeRow(row, e); err != nil {
		return nil, err
	}
	return e, nil
}
