package manifest

import (
	"encoding/json"
	"testing"

	"github.com/dhannusch/pincer/testing/assert"
	"github.com/dhannusch/pincer/testing/require"
)

func TestStableStringifySortsKeysAtEveryDepth(t *testing.T) {
	var a, b interface{}
	require.NoError(t, json.Unmarshal([]byte(`{"b":{"z":1,"a":[2,1]},"a":true}`), &a))
	require.NoError(t, json.Unmarshal([]byte(`{"a":true,"b":{"a":[2,1],"z":1}}`), &b))

	ca, err := StableStringify(a)
	require.NoError(t, err)
	cb, err := StableStringify(b)
	require.NoError(t, err)
	assert.Equal(t, ca, cb)
	assert.Equal(t, `{"a":true,"b":{"a":[2,1],"z":1}}`, ca)
}

func TestStableStringifyPreservesArrayOrder(t *testing.T) {
	got, err := StableStringify([]interface{}{3.0, 1.0, 2.0})
	require.NoError(t, err)
	assert.Equal(t, `[3,1,2]`, got)
}

func TestStableStringifyKeepsNumberPrecision(t *testing.T) {
	// Large int64 values must survive canonicalization without being rounded
	// through float formatting.
	got, err := StableStringify(struct {
		N int64 `json:"n"`
	}{N: 10000000000000001})
	require.NoError(t, err)
	assert.Equal(t, `{"n":10000000000000001}`, got)
}

func TestStableStringifyDetectsSemanticDifference(t *testing.T) {
	m1 := &Manifest{ID: "youtube", Revision: 1, BaseURL: "https://a.example"}
	m2 := &Manifest{ID: "youtube", Revision: 1, BaseURL: "https://b.example"}
	c1, err := StableStringify(m1)
	require.NoError(t, err)
	c2, err := StableStringify(m2)
	require.NoError(t, err)
	assert.NotEqual(t, c1, c2)
}
