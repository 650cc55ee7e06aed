package opt

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type updateRequest struct {
	Name    Field[string]            `json:"name"`
	Parent  Field[string]            `json:"parent"`
	Timeout Field[int]               `json:"timeout"`
	Tags    Field[map[string]string] `json:"tags"`
}

func TestField_States(t *testing.T) {
	var absent Field[string]
	assert.False(t, absent.IsSet())
	assert.False(t, absent.HasValue())
	assert.Equal(t, "def", absent.OrElse("def"))

	set := Of("x")
	v, ok := set.Get()
	assert.True(t, ok)
	assert.Equal(t, "x", v)

	null := Null[string]()
	assert.True(t, null.IsSet())
	assert.True(t, null.IsNull())
	assert.False(t, null.HasValue())
}

func TestField_UnmarshalDistinguishesAbsentAndNull(t *testing.T) {
	var req updateRequest
	require.NoError(t, json.Unmarshal([]byte(`{"name":"c-2","parent":null,"timeout":120}`), &req))

	assert.True(t, req.Name.HasValue())
	assert.Equal(t, "c-2", req.Name.Value())
	assert.True(t, req.Parent.IsNull())
	assert.Equal(t, 120, req.Timeout.Value())
	assert.False(t, req.Tags.IsSet())
}

func TestField_UnmarshalWrongType(t *testing.T) {
	var req updateRequest
	err := json.Unmarshal([]byte(`{"timeout":"Long"}`), &req)
	assert.Error(t, err)
}
