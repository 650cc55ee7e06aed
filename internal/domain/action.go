package domain

import (
	"strings"
	"time"

	"fleetd.io/fleetd/internal/store"
)

// Action is the unit of asynchronous, target-scoped work.
type Action struct {
	ID           string         `mapstructure:"id" json:"id"`
	Name         string         `mapstructure:"name" json:"name"`
	Target       string         `mapstructure:"target" json:"target"`
	Kind         ActionKind     `mapstructure:"action" json:"action"`
	Cause        Cause          `mapstructure:"cause" json:"cause"`
	Status       ActionStatus   `mapstructure:"status" json:"status"`
	StatusReason string         `mapstructure:"status_reason" json:"status_reason"`
	Owner        string         `mapstructure:"owner" json:"owner"`
	Control      Control        `mapstructure:"control" json:"control"`
	Timeout      *int           `mapstructure:"timeout" json:"timeout"`
	Inputs       map[string]any `mapstructure:"inputs" json:"inputs"`
	Outputs      map[string]any `mapstructure:"outputs" json:"outputs"`
	Project      string         `mapstructure:"project" json:"project"`
	User         string         `mapstructure:"user" json:"user"`
	StartTime    *time.Time     `mapstructure:"start_time" json:"start_time"`
	EndTime      *time.Time     `mapstructure:"end_time" json:"end_time"`
	CreatedAt    time.Time      `mapstructure:"created_at" json:"created_at"`
	UpdatedAt    time.Time      `mapstructure:"updated_at" json:"updated_at"`
	DeletedAt    *time.Time     `mapstructure:"deleted_at" json:"deleted_at"`
}

// ActionName builds the conventional action name, e.g. cluster_create_0190f3a2.
func ActionName(kind ActionKind, targetID string) string {
	short := targetID
	if len(short) > 8 {
		short = short[:8]
	}
	return strings.ToLower(string(kind)) + "_" + short
}

// ToRow renders the persisted shape.
func (a *Action) ToRow() store.Row {
	row := store.Row{
		"name":          a.Name,
		"target":        a.Target,
		"action":        string(a.Kind),
		"cause":         string(a.Cause),
		"status":        string(a.Status),
		"status_reason": a.StatusReason,
		"owner":         nullable(a.Owner),
		"control":       nullable(string(a.Control)),
		"timeout":       nullableInt(a.Timeout),
		"inputs":        anyMap(a.Inputs),
		"outputs":       anyMap(a.Outputs),
		"project":       a.Project,
		"user":          a.User,
		"start_time":    nullableTime(a.StartTime),
		"end_time":      nullableTime(a.EndTime),
	}
	if a.ID != "" {
		row[store.ColID] = a.ID
	}
	return row
}

// ActionFromRow decodes an action row.
func ActionFromRow(row store.Row) (*Action, error) {
	a := &Action{}
	if err := decodeRow(row, a); err != nil {
		return nil, err
	}
	return a, nil
}

// InputStrings returns the string list stored under key in Inputs.
func (a *Action) InputStrings(key string) []string {
	raw, ok := a.Inputs[key]
	if !ok || raw == nil {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// InputString returns the string stored under key in Inputs.
func (a *Action) InputString(key string) string {
	s, _ := a.Inputs[key].(string)
	return s
}
