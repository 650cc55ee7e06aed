package domain

import (
	"time"

	"fleetd.io/fleetd/internal/store"
)

// Node is a single managed resource. An empty ClusterID means unassigned.
type Node struct {
	ID           string            `mapstructure:"id" json:"id"`
	Name         string            `mapstructure:"name" json:"name"`
	ClusterID    string            `mapstructure:"cluster_id" json:"cluster_id"`
	ProfileID    string            `mapstructure:"profile_id" json:"profile_id"`
	PhysicalID   string            `mapstructure:"physical_id" json:"physical_id"`
	Index        int               `mapstructure:"index" json:"index"`
	Role         string            `mapstructure:"role" json:"role"`
	Status       NodeStatus        `mapstructure:"status" json:"status"`
	StatusReason string            `mapstructure:"status_reason" json:"status_reason"`
	Tags         map[string]string `mapstructure:"tags" json:"tags"`
	Data         map[string]any    `mapstructure:"data" json:"data"`
	Project      string            `mapstructure:"project" json:"project"`
	User         string            `mapstructure:"user" json:"user"`
	CreatedAt    time.Time         `mapstructure:"created_at" json:"created_at"`
	UpdatedAt    time.Time         `mapstructure:"updated_at" json:"updated_at"`
	DeletedAt    *time.Time        `mapstructure:"deleted_at" json:"deleted_at"`
}

// ToRow renders the persisted shape.
func (n *Node) ToRow() store.Row {
	row := store.Row{
		"name":          n.Name,
		"cluster_id":    nullable(n.ClusterID),
		"profile_id":    n.ProfileID,
		"physical_id":   nullable(n.PhysicalID),
		"index":         n.Index,
		"role":          n.Role,
		"status":        string(n.Status),
		"status_reason": n.StatusReason,
		"tags":          stringMap(n.Tags),
		"data":          anyMap(n.Data),
		"project":       n.Project,
		"user":          n.User,
	}
	if n.ID != "" {
		row[store.ColID] = n.ID
	}
	return row
}

// NodeFromRow decodes a node row.
func NodeFromRow(row store.Row) (*Node, error) {
	n := &Node{}
	if err := decodeRow(row, n); err != nil {
		return nil, err
	}
	return n, nil
}
