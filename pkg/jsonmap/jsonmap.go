package jsonmap

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"
)

// Normalize copies values into a GORM JSON map holding only the types
// Canonical produces, so a map compares equal before and after it is
// stored. Integers keep their full precision.
func Normalize(values map[string]any) (datatypes.JSONMap, error) {
	if len(values) == 0 {
		return datatypes.JSONMap{}, nil
	}

	buf, err := json.Marshal(values)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(buf))
	dec.UseNumber()

	out := map[string]any{}
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return Canonical(out), nil
}

// Canonical rewrites the json.Number values a stored JSON map scans into
// as int64 when they are integral and float64 otherwise. Nested maps and
// slices are rewritten in place.
func Canonical(values datatypes.JSONMap) datatypes.JSONMap {
	for key, value := range values {
		values[key] = canonical(value)
	}
	return values
}

func canonical(value any) any {
	switch v := value.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i
		}
		if f, err := v.Float64(); err == nil {
			return f
		}
		return v.String()
	case map[string]any:
		for key, item := range v {
			v[key] = canonical(item)
		}
		return v
	case []any:
		for i, item := range v {
			v[i] = canonical(item)
		}
		return v
	default:
		return value
	}
}

// FromStringMap converts a string map into a GORM JSON map value.
func FromStringMap(values map[string]string) datatypes.JSONMap {
	if len(values) == 0 {
		return datatypes.JSONMap{}
	}

	out := datatypes.JSONMap{}
	for key, value := range values {
		out[key] = value
	}
	return out
}

// ToStringMap converts a JSON map into a string map.
func ToStringMap(values datatypes.JSONMap) map[string]string {
	if len(values) == 0 {
		return map[string]string{}
	}

	out := make(map[string]string, len(values))
	for key, value := range values {
		if str, ok := value.(string); ok {
			out[key] = str
			continue
		}
		out[key] = fmt.Sprint(value)
	}
	return out
}
