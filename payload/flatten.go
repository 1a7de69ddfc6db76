package payload

import (
	"bytes"
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"

	"github.com/goccy/go-json"
)

const (
	// Separator joins nested object keys on flattening.
	Separator = "__"

	// MaxDepth bounds the nesting of flattened trees.
	MaxDepth = 32
)

// Decode parses JSON into a generic tree, keeping numbers as json.Number.
func Decode(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var tree map[string]any
	if err := dec.Decode(&tree); err != nil {
		return nil, fmt.Errorf("payload: decode: %w", err)
	}
	return tree, nil
}

// FromJSON decodes and flattens a JSON object.
func FromJSON(data []byte) (Payload, error) {
	tree, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return Flatten(tree)
}

// Flatten converts a generic tree into a Payload.
//
// Nested objects are joined with Separator, booleans and strings become
// keywords, numbers become integers, nulls skip the key and arrays are dropped.
// A literal key that equals a flattened nested key, such as "a__b" next to
// {"a": {"b": ...}}, is a type mismatch.
func Flatten(tree map[string]any) (Payload, error) {
	out := make(Payload, len(tree))
	if err := flattenInto(out, "", tree, 0); err != nil {
		return nil, err
	}
	return out, nil
}

func flattenInto(out Payload, prefix string, obj map[string]any, depth int) error {
	if depth >= MaxDepth {
		return typeMismatch(prefix, fmt.Sprintf("object nested at most %d levels", MaxDepth), nil)
	}

	for _, k := range slices.Sorted(maps.Keys(obj)) {
		raw := obj[k]
		key := k
		if prefix != "" {
			key = prefix + Separator + k
		}
		if _, dup := out[key]; dup {
			return typeMismatch(key, "a single value per flattened key", nil)
		}

		switch v := raw.(type) {
		case nil, []any:
			// skipped
		case map[string]any:
			if err := flattenInto(out, key, v, depth+1); err != nil {
				return err
			}
		case bool:
			out[key] = Keyword(strconv.FormatBool(v))
		case string:
			out[key] = Keyword(v)
		default:
			n, err := toInteger(key, v)
			if err != nil {
				return err
			}
			out[key] = Integer(n)
		}
	}
	return nil
}

// toInteger narrows any numeric leaf to int64, truncating fractions.
func toInteger(key string, v any) (int64, error) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
		f, err := n.Float64()
		if err != nil {
			return 0, typeMismatch(key, "number", err)
		}
		return truncate(key, f)
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint32:
		return int64(n), nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, typeMismatch(key, "integer within int64 range", nil)
		}
		return int64(n), nil
	case float32:
		return truncate(key, float64(n))
	case float64:
		return truncate(key, n)
	default:
		return 0, typeMismatch(key, "keyword, number, object, array or null", fmt.Errorf("unsupported %T", v))
	}
}

func truncate(key string, f float64) (int64, error) {
	if math.IsNaN(f) || f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, typeMismatch(key, "integer within int64 range", nil)
	}
	return int64(f), nil
}
