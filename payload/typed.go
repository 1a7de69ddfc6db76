package payload

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// ParseTyped parses the typed payload interchange: a JSON object whose values
// are a scalar or a homogeneous list of strings, integers or floats.
//
// Integer and float literals may be mixed in one list; the list becomes a float
// value. Nulls and empty lists skip the key. Anything else is a type mismatch.
func ParseTyped(data []byte) (Payload, error) {
	tree, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return Typed(tree)
}

// Typed converts a generic tree following the typed interchange rules.
func Typed(tree map[string]any) (Payload, error) {
	out := make(Payload, len(tree))
	for key, raw := range tree {
		var items []any
		switch v := raw.(type) {
		case nil:
			continue
		case []any:
			items = v
		default:
			items = []any{v}
		}
		if len(items) == 0 {
			continue
		}

		val, err := typedValue(key, items)
		if err != nil {
			return nil, err
		}
		out[key] = val
	}
	return out, nil
}

func typedValue(key string, items []any) (Value, error) {
	kind := KindInvalid
	for _, it := range items {
		k := scalarKind(it)
		switch {
		case k == KindInvalid:
			return Value{}, typeMismatch(key, "keyword, integer or float", fmt.Errorf("unsupported %T", it))
		case kind == KindInvalid:
			kind = k
		case kind == k:
		case kind != KindKeyword && k != KindKeyword:
			kind = KindFloat
		default:
			return Value{}, typeMismatch(key, kind.String()+" list", nil)
		}
	}

	v := Value{Kind: kind}
	for _, it := range items {
		switch kind {
		case KindKeyword:
			v.Keywords = append(v.Keywords, it.(string))
		case KindInteger:
			n, err := toInteger(key, it)
			if err != nil {
				return Value{}, err
			}
			v.Integers = append(v.Integers, n)
		case KindFloat:
			f, err := toFloat(key, it)
			if err != nil {
				return Value{}, err
			}
			v.Floats = append(v.Floats, f)
		}
	}
	return v, nil
}

func scalarKind(v any) Kind {
	switch n := v.(type) {
	case string:
		return KindKeyword
	case json.Number:
		if strings.ContainsAny(n.String(), ".eE") {
			return KindFloat
		}
		return KindInteger
	case int, int32, int64, uint32, uint64:
		return KindInteger
	case float32, float64:
		return KindFloat
	default:
		return KindInvalid
	}
}

func toFloat(key string, v any) (float64, error) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, typeMismatch(key, "float", err)
		}
		return f, nil
	case float32:
		return float64(n), nil
	case float64:
		return n, nil
	default:
		i, err := toInteger(key, v)
		return float64(i), err
	}
}

// Export converts p into a generic tree of lists, the reverse of Typed.
func Export(p Payload) map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v.Any()
	}
	return out
}

// ExportStrings renders every value of p as a list of strings.
func ExportStrings(p Payload) map[string][]string {
	out := make(map[string][]string, len(p))
	for k, v := range p {
		out[k] = v.Strings()
	}
	return out
}

// MarshalJSON encodes p in the typed interchange format.
// Floats always carry a fraction or exponent so they decode back as floats.
func (p Payload) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(p))
	for k, v := range p {
		var (
			raw []byte
			err error
		)
		switch v.Kind {
		case KindKeyword:
			raw, err = json.Marshal(v.Keywords)
		case KindInteger:
			raw, err = json.Marshal(v.Integers)
		case KindFloat:
			raw, err = marshalFloats(v.Floats)
		default:
			continue
		}
		if err != nil {
			return nil, err
		}
		out[k] = raw
	}
	return json.Marshal(out)
}

func marshalFloats(fs []float64) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, f := range fs {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("payload: unsupported float %v", f)
		}
		if i > 0 {
			buf.WriteByte(',')
		}
		s := strconv.FormatFloat(f, 'g', -1, 64)
		buf.WriteString(s)
		if !strings.ContainsAny(s, ".eE") {
			buf.WriteString(".0")
		}
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes p from the typed interchange format.
func (p *Payload) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*p = nil
		return nil
	}
	out, err := ParseTyped(data)
	if err != nil {
		return err
	}
	*p = out
	return nil
}
