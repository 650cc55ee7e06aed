package domain

import (
	"time"

	"fleetd.io/fleetd/internal/store"
)

// Cluster is a group of nodes realized from one profile. Parent is a weak
// reference by id; a cluster with a parent is nested.
type Cluster struct {
	ID           string            `mapstructure:"id" json:"id"`
	Name         string            `mapstructure:"name" json:"name"`
	ProfileID    string            `mapstructure:"profile_id" json:"profile_id"`
	Size         int               `mapstructure:"size" json:"size"`
	Status       ClusterStatus     `mapstructure:"status" json:"status"`
	StatusReason string            `mapstructure:"status_reason" json:"status_reason"`
	Parent       *string           `mapstructure:"parent" json:"parent"`
	Tags         map[string]string `mapstructure:"tags" json:"tags"`
	Timeout      *int              `mapstructure:"timeout" json:"timeout"`
	Data         map[string]any    `mapstructure:"data" json:"data"`
	Project      string            `mapstructure:"project" json:"project"`
	User         string            `mapstructure:"user" json:"user"`
	CreatedAt    time.Time         `mapstructure:"created_at" json:"created_at"`
	UpdatedAt    time.Time         `mapstructure:"updated_at" json:"updated_at"`
	DeletedAt    *time.Time        `mapstructure:"deleted_at" json:"deleted_at"`
}

// ParentID returns the parent id or "".
func (c *Cluster) ParentID() string {
	if c.Parent == nil {
		return ""
	}
	return *c.Parent
}

// ToRow renders the persisted shape.
func (c *Cluster) ToRow() store.Row {
	var parent any
	if c.Parent != nil {
		parent = *c.Parent
	}
	row := store.Row{
		"name":          c.Name,
		"profile_id":    c.ProfileID,
		"size":          c.Size,
		"status":        string(c.Status),
		"status_reason": c.StatusReason,
		"parent":        parent,
		"tags":          stringMap(c.Tags),
		"timeout":       nullableInt(c.Timeout),
		"data":          anyMap(c.Data),
		"project":       c.Project,
		"user":          c.User,
	}
	if c.ID != "" {
		row[store.ColID] = c.ID
	}
	return row
}

// ClusterFromRow decodes a cluster row.
func ClusterFromRow(row store.Row) (*Cluster, error) {
	c := &Cluster{}
	if err := decodeRow(row, c); err != nil {
		return nil, err
	}
	return c, nil
}
