package params

import (
	"encoding/json"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "fleetd.io/fleetd/internal/pkg/errors"
)

func requireInvalid(t *testing.T, err error, name string) {
	t.Helper()
	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok, "error %v is not an AppError", err)
	assert.Equal(t, apperrors.CodeInvalidParameter, appErr.Code)
	assert.Equal(t, name, appErr.Params["name"])
}

func TestInt(t *testing.T) {
	v, err := Int("size", "")
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = Int("size", "3")
	require.NoError(t, err)
	assert.Equal(t, 3, *v)

	_, err = Int("size", "Bogus")
	requireInvalid(t, err, "size")

	_, err = NonNegativeInt("timeout", "-1")
	requireInvalid(t, err, "timeout")
}

func TestBool(t *testing.T) {
	v, err := Bool("show_deleted", "", true)
	require.NoError(t, err)
	assert.True(t, v)

	v, err = Bool("show_deleted", "false", true)
	require.NoError(t, err)
	assert.False(t, v)

	_, err = Bool("show_deleted", "no", false)
	requireInvalid(t, err, "show_deleted")
}

func TestJSONInt(t *testing.T) {
	tests := []struct {
		in   any
		want int
		ok   bool
	}{
		{float64(5), 5, true},
		{json.Number("7"), 7, true},
		{"9", 9, true},
		{float64(1.5), 0, false},
		{"Bogus", 0, false},
		{true, 0, false},
	}
	for _, tt := range tests {
		got, err := JSONInt("cooldown", tt.in)
		if !tt.ok {
			requireInvalid(t, err, "cooldown")
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestListOptions(t *testing.T) {
	q := url.Values{
		"limit":        {"2"},
		"marker":       {"abc"},
		"sort_keys":    {"name, created_at"},
		"sort_dir":     {"desc"},
		"show_deleted": {"true"},
		"show_nested":  {"1"},
		"cooldown":     {"60"},
		"type":         {"TestPolicy"},
		"ignored":      {"x"},
	}
	opts, err := ListOptions(q, Filters{"cooldown": Integer, "type": String}, true)
	require.NoError(t, err)
	require.NotNil(t, opts.Limit)
	assert.Equal(t, 2, *opts.Limit)
	assert.Equal(t, "abc", opts.Marker)
	assert.Equal(t, []string{"name", "created_at"}, opts.SortKeys)
	assert.Equal(t, "desc", opts.SortDir)
	assert.True(t, opts.ShowDeleted)
	assert.True(t, opts.ShowNested)
	assert.Equal(t, map[string]any{"cooldown": 60, "type": "TestPolicy"}, opts.Filters)

	opts, err = ListOptions(url.Values{"show_nested": {"1"}}, nil, false)
	require.NoError(t, err)
	assert.False(t, opts.ShowNested)
	assert.Nil(t, opts.Limit)
	assert.Nil(t, opts.Filters)
}

func TestListOptions_Invalid(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"limit", "Bogus"},
		{"limit", "-1"},
		{"show_deleted", "no"},
		{"show_nested", "maybe"},
		{"level", "high"},
		{"enabled", "sometimes"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			_, err := ListOptions(url.Values{tt.key: {tt.value}},
				Filters{"level": Integer, "enabled": Boolean}, true)
			requireInvalid(t, err, tt.key)
		})
	}
}
