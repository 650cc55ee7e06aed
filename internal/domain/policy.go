package domain

import (
	"time"

	"fleetd.io/fleetd/internal/store"
)

// Policy is a governance rule that can be bound to clusters.
type Policy struct {
	ID        string         `mapstructure:"id" json:"id"`
	Name      string         `mapstructure:"name" json:"name"`
	Type      string         `mapstructure:"type" json:"type"`
	Spec      map[string]any `mapstructure:"spec" json:"spec"`
	Cooldown  int            `mapstructure:"cooldown" json:"cooldown"`
	Level     int            `mapstructure:"level" json:"level"`
	Project   string         `mapstructure:"project" json:"project"`
	User      string         `mapstructure:"user" json:"user"`
	CreatedAt time.Time      `mapstructure:"created_at" json:"created_at"`
	UpdatedAt time.Time      `mapstructure:"updated_at" json:"updated_at"`
	DeletedAt *time.Time     `mapstructure:"deleted_at" json:"deleted_at"`
}

// ToRow renders the persisted shape.
func (p *Policy) ToRow() store.Row {
	row := store.Row{
		"name":     p.Name,
		"type":     p.Type,
		"spec":     anyMap(p.Spec),
		"cooldown": p.Cooldown,
		"level":    p.Level,
		"project":  p.Project,
		"user":     p.User,
	}
	if p.ID != "" {
		row[store.ColID] = p.ID
	}
	return row
}

// PolicyFromRow decodes a policy row.
func PolicyFromRow(row store.Row) (*Policy, error) {
	p := &Policy{}
	if err := decodeRow(row, p); err != nil {
		return nil, err
	}
	return p, nil
}

// ClusterPolicy binds a policy to a cluster. Level and Cooldown start as
// copies of the policy's values and may be overridden per binding.
type ClusterPolicy struct {
	ID          string     `mapstructure:"id" json:"id"`
	ClusterID   string     `mapstructure:"cluster_id" json:"cluster_id"`
	PolicyID    string     `mapstructure:"policy_id" json:"policy_id"`
	PolicyName  string     `mapstructure:"policy_name" json:"policy_name"`
	PolicyType  string     `mapstructure:"policy_type" json:"policy_type"`
	Enabled     bool       `mapstructure:"enabled" json:"enabled"`
	Level       int        `mapstructure:"level" json:"level"`
	Cooldown    int        `mapstructure:"cooldown" json:"cooldown"`
	Priority    int        `mapstructure:"priority" json:"priority"`
	LastApplied *time.Time `mapstructure:"last_applied" json:"last_applied"`
	CreatedAt   time.Time  `mapstructure:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `mapstructure:"updated_at" json:"updated_at"`
	DeletedAt   *time.Time `mapstructure:"deleted_at" json:"deleted_at"`
}

// ToRow renders the persisted shape.
func (b *ClusterPolicy) ToRow() store.Row {
	row := store.Row{
		"cluster_id":   b.ClusterID,
		"policy_id":    b.PolicyID,
		"policy_name":  b.PolicyName,
		"policy_type":  b.PolicyType,
		"enabled":      b.Enabled,
		"level":        b.Level,
		"cooldown":     b.Cooldown,
		"priority":     b.Priority,
		"last_applied": nullableTime(b.LastApplied),
	}
	if b.ID != "" {
		row[store.ColID] = b.ID
	}
	return row
}

// ClusterPolicyFromRow decodes a binding row.
func ClusterPolicyFromRow(row store.Row) (*ClusterPolicy, error) {
	b := &ClusterPolicy{}
	if err := decodeRow(row, b); err != nil {
		return nil, err
	}
	return b, nil
}
