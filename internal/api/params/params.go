// Package params converts transport values into typed operation
// parameters. Every conversion failure is an INVALID_PARAMETER AppError
// naming the offending field.
//
// Import Path: fleetd.io/fleetd/internal/api/params
package params

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"fleetd.io/fleetd/internal/lister"

	apperrors "fleetd.io/fleetd/internal/pkg/errors"
)

// Int parses raw as a base-10 integer. An empty raw yields nil.
func Int(name, raw string) (*int, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return nil, apperrors.ErrInvalidParameter(name, raw)
	}
	return &v, nil
}

// NonNegativeInt is Int rejecting values below zero.
func NonNegativeInt(name, raw string) (*int, error) {
	v, err := Int(name, raw)
	if err != nil || v == nil {
		return v, err
	}
	if *v < 0 {
		return nil, apperrors.ErrInvalidParameter(name, raw)
	}
	return v, nil
}

// Bool parses raw with strconv.ParseBool. An empty raw yields def.
func Bool(name, raw string, def bool) (bool, error) {
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, apperrors.ErrInvalidParameter(name, raw)
	}
	return v, nil
}

// JSONInt converts a decoded JSON value into an int. Numbers must be
// integral; numeric strings are accepted.
func JSONInt(name string, v any) (int, error) {
	switch n := v.(type) {
	case float64:
		if n == float64(int(n)) {
			return int(n), nil
		}
	case json.Number:
		if i, err := strconv.Atoi(n.String()); err == nil {
			return i, nil
		}
	case int:
		return n, nil
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			return i, nil
		}
	}
	return 0, apperrors.ErrInvalidParameter(name, fmt.Sprint(v))
}

// Kind is the value type of a list filter.
type Kind int

const (
	String Kind = iota
	Integer
	Boolean
)

// Filters maps the filterable keys of a listing to their value types.
type Filters map[string]Kind

// ListOptions builds lister options from a query string.
//
// Recognized keys: limit, marker, sort_keys (comma separated), sort_dir,
// show_deleted, and show_nested when nested is true. Any key present in
// filters becomes an equality filter converted to its Kind.
func ListOptions(q url.Values, filters Filters, nested bool) (lister.Options, error) {
	var opts lister.Options

	limit, err := NonNegativeInt("limit", q.Get("limit"))
	if err != nil {
		return opts, err
	}
	opts.Limit = limit
	opts.Marker = q.Get("marker")
	opts.SortDir = q.Get("sort_dir")
	if keys := q.Get("sort_keys"); keys != "" {
		for _, k := range strings.Split(keys, ",") {
			if k = strings.TrimSpace(k); k != "" {
				opts.SortKeys = append(opts.SortKeys, k)
			}
		}
	}
	if opts.ShowDeleted, err = Bool("show_deleted", q.Get("show_deleted"), false); err != nil {
		return opts, err
	}
	if nested {
		if opts.ShowNested, err = Bool("show_nested", q.Get("show_nested"), false); err != nil {
			return opts, err
		}
	}

	for key, kind := range filters {
		raw := q.Get(key)
		if raw == "" {
			continue
		}
		var v any = raw
		switch kind {
		case Integer:
			n, err := Int(key, raw)
			if err != nil {
				return opts, err
			}
			v = *n
		case Boolean:
			if v, err = Bool(key, raw, false); err != nil {
				return opts, err
			}
		}
		if opts.Filters == nil {
			opts.Filters = make(map[string]any)
		}
		opts.Filters[key] = v
	}
	return opts, nil
}
