package cas

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNowMs(t *testing.T) {
	// Year 2024 in milliseconds is approximately 1704067200000
	assert.Greater(t, NowMs(), int64(1704067200000))
}

func TestCanonicalJSON_SortsNestedKeys(t *testing.T) {
	input := map[string]interface{}{
		"z": map[string]interface{}{"b": 1, "a": 2},
		"a": 3,
	}

	result, err := CanonicalJSON(input)
	require.NoError(t, err)
	assert.Equal(t, `{"a":3,"z":{"a":2,"b":1}}`, string(result))
}

func TestCanonicalJSON_ArrayOrderPreserved(t *testing.T) {
	input := []interface{}{
		map[string]interface{}{"z": 1, "a": 2},
		map[string]interface{}{"b": 3, "a": 4},
	}

	result, err := CanonicalJSON(input)
	require.NoError(t, err)
	assert.Equal(t, `[{"a":2,"z":1},{"a":4,"b":3}]`, string(result))
}

func TestCanonicalJSON_NumbersNormalized(t *testing.T) {
	a, err := CanonicalJSON(map[string]interface{}{"n": 3})
	require.NoError(t, err)
	b, err := CanonicalJSON(map[string]interface{}{"n": float64(3)})
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestBlake3Hash(t *testing.T) {
	h := Blake3Hash([]byte("hello"))
	assert.Len(t, h, DigestSize)
	assert.Equal(t, hex.EncodeToString(h), Blake3HashHex([]byte("hello")))
	assert.NotEqual(t, Blake3HashHex([]byte("hello")), Blake3HashHex([]byte("hello!")))
}

func TestDigest_KindSeparatesPayloads(t *testing.T) {
	payload := map[string]interface{}{"title": "main"}

	a, err := DigestHex("bucket", payload)
	require.NoError(t, err)
	b, err := DigestHex("layout", payload)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	again, err := DigestHex("bucket", map[string]interface{}{"title": "main"})
	require.NoError(t, err)
	assert.Equal(t, a, again)
}

func TestEqualJSON(t *testing.T) {
	eq, err := EqualJSON(
		map[string]interface{}{"a": 1, "b": []interface{}{"x"}},
		map[string]interface{}{"b": []interface{}{"x"}, "a": 1.0},
	)
	require.NoError(t, err)
	assert.True(t, eq)

	eq, err = EqualJSON(map[string]interface{}{"a": 1}, map[string]interface{}{"a": 2})
	require.NoError(t, err)
	assert.False(t, eq)
}
