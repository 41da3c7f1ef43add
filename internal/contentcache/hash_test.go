package contentcache

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashIgnoresKeyOrder(t *testing.T) {
	var a, b any
	require.NoError(t, json.Unmarshal([]byte(`{"niche":"cooking","meta":{"lang":"en","count":5},"titles":["a","b"]}`), &a))
	require.NoError(t, json.Unmarshal([]byte(`{"titles":["a","b"],"meta":{"count":5,"lang":"en"},"niche":"cooking"}`), &b))

	ha, err := Hash(a)
	require.NoError(t, err)
	hb, err := Hash(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
	assert.Len(t, ha, HashLength)
}

func TestHashStructMatchesEquivalentMap(t *testing.T) {
	type request struct {
		Niche  string   `json:"niche"`
		Titles []string `json:"titles"`
		Count  int      `json:"count"`
	}

	fromStruct, err := Hash(request{Niche: "gaming", Titles: []string{"x"}, Count: 3})
	require.NoError(t, err)
	fromMap, err := Hash(map[string]any{"titles": []string{"x"}, "count": 3, "niche": "gaming"})
	require.NoError(t, err)
	assert.Equal(t, fromStruct, fromMap)
}

func TestHashDistinguishesContent(t *testing.T) {
	base, err := Hash(map[string]any{"titles": []string{"a", "b"}})
	require.NoError(t, err)

	reordered, err := Hash(map[string]any{"titles": []string{"b", "a"}})
	require.NoError(t, err)
	assert.NotEqual(t, base, reordered, "array order is significant")

	changed, err := Hash(map[string]any{"titles": []string{"a", "c"}})
	require.NoError(t, err)
	assert.NotEqual(t, base, changed)
}

func TestHashPreservesLargeNumbers(t *testing.T) {
	a, err := Hash(map[string]any{"id": int64(9007199254740993)})
	require.NoError(t, err)
	b, err := Hash(map[string]any{"id": int64(9007199254740992)})
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestHashRejectsUnencodable(t *testing.T) {
	_, err := Hash(map[string]any{"fn": func() {}})
	assert.Error(t, err)
}
