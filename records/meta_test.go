package records

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMeta_OrderPreserved(t *testing.T) {
	// Key order and value order must survive a JSON round-trip, because
	// downstream site resolution picks the first match from these lists.
	in := `{"site":["site_b","site_a"],"user":["alice"],"group":[]}`

	var m Meta
	require.NoError(t, json.Unmarshal([]byte(in), &m))
	require.Len(t, m, 3)
	assert.Equal(t, "site", m[0].Key)
	assert.Equal(t, []string{"site_b", "site_a"}, m[0].Values)
	assert.Equal(t, "user", m[1].Key)
	assert.Equal(t, "group", m[2].Key)

	out, err := json.Marshal(m)
	require.NoError(t, err)
	assert.Equal(t, in, string(out))
}

func TestMeta_GetHasSet(t *testing.T) {
	var m Meta
	assert.Nil(t, m.Get("site"))
	assert.False(t, m.Has("site"))

	m.Set("site", []string{"site_a"})
	m.Set("user", []string{"alice"})
	assert.Equal(t, []string{"site_a"}, m.Get("site"))

	m.Set("site", []string{"site_b"})
	assert.Equal(t, []string{"site_b"}, m.Get("site"))
	assert.Equal(t, "site", m[0].Key, "set must not reorder existing keys")

	m.Set("group", nil)
	assert.True(t, m.Has("group"))
	assert.Nil(t, m.Get("group"))
}

func TestMeta_UnmarshalErrors(t *testing.T) {
	var m Meta
	assert.Error(t, json.Unmarshal([]byte(`["site"]`), &m))
	assert.Error(t, json.Unmarshal([]byte(`{"site":"not-a-list"}`), &m))
	assert.NoError(t, json.Unmarshal([]byte(`null`), &m))
	assert.Len(t, m, 0)
}
