package domain

import (
	"time"

	"fleetd.io/fleetd/internal/store"
)

// Profile is a resource template. Its Spec never changes after creation.
type Profile struct {
	ID         string            `mapstructure:"id" json:"id"`
	Name       string            `mapstructure:"name" json:"name"`
	Type       string            `mapstructure:"type" json:"type"`
	Spec       map[string]any    `mapstructure:"spec" json:"spec"`
	Permission string            `mapstructure:"permission" json:"permission"`
	Tags       map[string]string `mapstructure:"tags" json:"tags"`
	Project    string            `mapstructure:"project" json:"project"`
	User       string            `mapstructure:"user" json:"user"`
	CreatedAt  time.Time         `mapstructure:"created_at" json:"created_at"`
	UpdatedAt  time.Time         `mapstructure:"updated_at" json:"updated_at"`
	DeletedAt  *time.Time        `mapstructure:"deleted_at" json:"deleted_at"`
}

// ToRow renders the persisted shape. Bookkeeping timestamps are owned by
// the store and left out.
func (p *Profile) ToRow() store.Row {
	row := store.Row{
		"name":       p.Name,
		"type":       p.Type,
		"spec":       anyMap(p.Spec),
		"permission": p.Permission,
		"tags":       stringMap(p.Tags),
		"project":    p.Project,
		"user":       p.User,
	}
	if p.ID != "" {
		row[store.ColID] = p.ID
	}
	return row
}

// ProfileFromRow decodes a profile row.
func ProfileFromRow(row store.Row) (*Profile, error) {
	p := &Profile{}
	if err := decodeRow(row, p); err != nil {
		return nil, err
	}
	return p, nil
}
