package payload

import (
	"fmt"
	"strings"
)

// SchemaType is the inferred type of a payload key.
type SchemaType uint8

const (
	SchemaKeyword SchemaType = iota + 1
	SchemaInteger
	SchemaFloat
)

func (t SchemaType) String() string {
	switch t {
	case SchemaKeyword:
		return "keyword"
	case SchemaInteger:
		return "integer"
	case SchemaFloat:
		return "float"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t SchemaType) MarshalText() ([]byte, error) {
	if t < SchemaKeyword || t > SchemaFloat {
		return nil, fmt.Errorf("payload: invalid schema type %d", uint8(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *SchemaType) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "keyword":
		*t = SchemaKeyword
	case "integer":
		*t = SchemaInteger
	case "float":
		*t = SchemaFloat
	default:
		return fmt.Errorf("payload: unknown schema type %q", b)
	}
	return nil
}

func schemaTypeOf(k Kind) (SchemaType, bool) {
	switch k {
	case KindKeyword:
		return SchemaKeyword, true
	case KindInteger:
		return SchemaInteger, true
	case KindFloat:
		return SchemaFloat, true
	default:
		return 0, false
	}
}

// Schema maps payload keys to their inferred type.
type Schema map[string]SchemaType

// Observe merges the types found in p into s.
//
// Equal types are kept, integer and float widen to float, and any conflict
// involving a keyword widens to keyword.
func (s Schema) Observe(p Payload) {
	for k, v := range p {
		t, ok := schemaTypeOf(v.Kind)
		if !ok {
			continue
		}
		s[k] = mergeSchemaType(s[k], t)
	}
}

func mergeSchemaType(cur, next SchemaType) SchemaType {
	switch {
	case cur == 0 || cur == next:
		return next
	case cur == SchemaKeyword || next == SchemaKeyword:
		return SchemaKeyword
	default:
		return SchemaFloat
	}
}
