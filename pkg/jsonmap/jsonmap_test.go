package jsonmap

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func TestNormalize(t *testing.T) {
	out, err := Normalize(nil)
	require.NoError(t, err)
	require.Equal(t, datatypes.JSONMap{}, out)

	out, err = Normalize(map[string]any{
		"limit":  10,
		"ratio":  0.5,
		"tables": []string{"a", "b"},
		"nested": map[string]any{"on": true},
	})
	require.NoError(t, err)
	require.Equal(t, datatypes.JSONMap{
		"limit":  int64(10),
		"ratio":  0.5,
		"tables": []any{"a", "b"},
		"nested": map[string]any{"on": true},
	}, out)

	_, err = Normalize(map[string]any{"fn": func() {}})
	require.Error(t, err)
}

func TestNormalizeKeepsLargeIntegers(t *testing.T) {
	out, err := Normalize(map[string]any{
		"id":    uint64(9007199254740993),
		"ids":   []any{int64(9007199254740995)},
		"scale": 1.5e300,
	})
	require.NoError(t, err)
	require.Equal(t, int64(9007199254740993), out["id"])
	require.Equal(t, []any{int64(9007199254740995)}, out["ids"])
	require.Equal(t, 1.5e300, out["scale"])
}

func TestCanonicalMatchesStoredForm(t *testing.T) {
	var stored datatypes.JSONMap
	require.NoError(t, stored.Scan(`{"id":9007199254740993,"ratio":0.25,"nested":{"n":[1,2]}}`))

	require.Equal(t, datatypes.JSONMap{
		"id":     int64(9007199254740993),
		"ratio":  0.25,
		"nested": map[string]any{"n": []any{int64(1), int64(2)}},
	}, Canonical(stored))

	normalized, err := Normalize(map[string]any{"id": 9007199254740993, "ratio": 0.25, "nested": map[string]any{"n": []int{1, 2}}})
	require.NoError(t, err)
	require.Equal(t, Canonical(stored), normalized)
}

func TestFromStringMap(t *testing.T) {
	require.Equal(t, datatypes.JSONMap{}, FromStringMap(nil))
	require.Equal(t, datatypes.JSONMap{"extract": "0123abcd"}, FromStringMap(map[string]string{"extract": "0123abcd"}))
}

func TestToStringMap(t *testing.T) {
	require.Equal(t, map[string]string{}, ToStringMap(nil))
	require.Equal(t, map[string]string{"attempt": "2", "extract": "0123abcd"}, ToStringMap(datatypes.JSONMap{
		"extract": "0123abcd",
		"attempt": 2,
	}))
}
