package payload

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
)

// Kind identifies the variant stored in a Value.
type Kind uint8

const (
	// KindInvalid represents an unset value.
	KindInvalid Kind = iota
	// KindKeyword represents keyword (string) values.
	KindKeyword
	// KindInteger represents integer values.
	KindInteger
	// KindFloat represents float values.
	KindFloat
)

func (k Kind) String() string {
	switch k {
	case KindKeyword:
		return "keyword"
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	default:
		return "invalid"
	}
}

// Value is a typed collection of scalars.
//
// Exactly one of the slices is used, selected by Kind.
type Value struct {
	Kind     Kind
	Keywords []string
	Integers []int64
	Floats   []float64
}

// Keyword returns a keyword value.
func Keyword(vals ...string) Value {
	return Value{Kind: KindKeyword, Keywords: vals}
}

// Integer returns an integer value.
func Integer(vals ...int64) Value {
	return Value{Kind: KindInteger, Integers: vals}
}

// Float returns a float value.
func Float(vals ...float64) Value {
	return Value{Kind: KindFloat, Floats: vals}
}

// Len returns the number of scalars in v.
func (v Value) Len() int {
	switch v.Kind {
	case KindKeyword:
		return len(v.Keywords)
	case KindInteger:
		return len(v.Integers)
	case KindFloat:
		return len(v.Floats)
	default:
		return 0
	}
}

// Clone returns a deep copy of v.
func (v Value) Clone() Value {
	return Value{
		Kind:     v.Kind,
		Keywords: slices.Clone(v.Keywords),
		Integers: slices.Clone(v.Integers),
		Floats:   slices.Clone(v.Floats),
	}
}

// Equal reports whether v and o hold the same variant and scalars.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindKeyword:
		return slices.Equal(v.Keywords, o.Keywords)
	case KindInteger:
		return slices.Equal(v.Integers, o.Integers)
	case KindFloat:
		return slices.Equal(v.Floats, o.Floats)
	default:
		return true
	}
}

// Numbers returns the scalars of a numeric value as float64.
func (v Value) Numbers() ([]float64, bool) {
	switch v.Kind {
	case KindInteger:
		out := make([]float64, len(v.Integers))
		for i, n := range v.Integers {
			out[i] = float64(n)
		}
		return out, true
	case KindFloat:
		return v.Floats, true
	default:
		return nil, false
	}
}

// Strings renders every scalar as a string.
func (v Value) Strings() []string {
	switch v.Kind {
	case KindKeyword:
		return slices.Clone(v.Keywords)
	case KindInteger:
		out := make([]string, len(v.Integers))
		for i, n := range v.Integers {
			out[i] = strconv.FormatInt(n, 10)
		}
		return out
	case KindFloat:
		out := make([]string, len(v.Floats))
		for i, f := range v.Floats {
			out[i] = strconv.FormatFloat(f, 'g', -1, 64)
		}
		return out
	default:
		return nil
	}
}

// Any returns the scalars as a generic slice ([]any) for export.
func (v Value) Any() []any {
	out := make([]any, 0, v.Len())
	switch v.Kind {
	case KindKeyword:
		for _, s := range v.Keywords {
			out = append(out, s)
		}
	case KindInteger:
		for _, n := range v.Integers {
			out = append(out, n)
		}
	case KindFloat:
		for _, f := range v.Floats {
			out = append(out, f)
		}
	}
	return out
}

func (v Value) String() string {
	switch v.Kind {
	case KindKeyword:
		return fmt.Sprintf("Keyword(%q)", v.Keywords)
	case KindInteger:
		return fmt.Sprintf("Integer(%v)", v.Integers)
	case KindFloat:
		return fmt.Sprintf("Float(%v)", v.Floats)
	default:
		return "Invalid"
	}
}

// Payload maps flattened keys to values.
type Payload map[string]Value

// Clone returns a deep copy of p.
func (p Payload) Clone() Payload {
	if p == nil {
		return Payload{}
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v.Clone()
	}
	return out
}

// Equal reports whether p and o hold the same keys and values.
func (p Payload) Equal(o Payload) bool {
	return maps.EqualFunc(p, o, Value.Equal)
}

// Keys returns the keys of p in sorted order.
func (p Payload) Keys() []string {
	return slices.Sorted(maps.Keys(p))
}
