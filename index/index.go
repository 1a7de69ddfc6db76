package index

import (
	"context"
	"fmt"
	"strings"

	"github.com/hupe1980/vecseg/filter"
	"github.com/hupe1980/vecseg/model"
)

// Cardinality is an estimate of how many points match a filter.
// Min <= Exp <= Max always holds.
type Cardinality struct {
	Min int `json:"min"`
	Exp int `json:"exp"`
	Max int `json:"max"`
}

// Exact returns an estimate without error.
func Exact(n int) Cardinality {
	return Cardinality{Min: n, Exp: n, Max: n}
}

// SearchParams carries query-time tunables.
type SearchParams struct {
	// HNSWEf overrides the graph search breadth. Zero uses the index default.
	HNSWEf int `json:"hnsw_ef,omitempty"`
}

// PayloadIndex resolves filters to offsets.
type PayloadIndex interface {
	// QueryPoints returns the live offsets satisfying f in ascending order.
	QueryPoints(f *filter.Filter) []model.PointOffset
	// EstimateCardinality estimates len(QueryPoints(f)).
	EstimateCardinality(f *filter.Filter) Cardinality
	// Check reports whether the live point at offset satisfies f.
	Check(offset model.PointOffset, f *filter.Filter) bool
	// UpdatePoint re-reads the payload of offset after it changed.
	UpdatePoint(offset model.PointOffset)
	// DropPoint forgets offset.
	DropPoint(offset model.PointOffset)
}

// Index answers similarity queries over the vectors of a segment.
type Index interface {
	// Search returns at most topK offsets best first.
	Search(ctx context.Context, query []float32, f *filter.Filter, topK int, params *SearchParams) ([]model.ScoredOffset, error)
	// UpdatePoint is called after the vector at offset was written.
	UpdatePoint(offset model.PointOffset) error
	// DropPoint is called after the point at offset was deleted.
	DropPoint(offset model.PointOffset)
	// Build (re)builds any derived structure from the current storages.
	Build(ctx context.Context) error
}

// Kind selects an Index implementation.
type Kind int

const (
	KindPlain Kind = iota
	KindHNSW
)

func (k Kind) String() string {
	switch k {
	case KindPlain:
		return "plain"
	case KindHNSW:
		return "hnsw"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// ParseKind parses an index kind name.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "plain":
		return KindPlain, nil
	case "hnsw":
		return KindHNSW, nil
	default:
		return 0, fmt.Errorf("index: unsupported index kind: %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	if k != KindPlain && k != KindHNSW {
		return nil, fmt.Errorf("index: unsupported index kind: %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// PayloadKind selects a PayloadIndex implementation.
type PayloadKind int

const (
	PayloadPlain PayloadKind = iota
	PayloadStruct
)

func (k PayloadKind) String() string {
	switch k {
	case PayloadPlain:
		return "plain"
	case PayloadStruct:
		return "struct"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// ParsePayloadKind parses a payload index kind name.
func ParsePayloadKind(s string) (PayloadKind, error) {
	switch strings.ToLower(s) {
	case "plain", "":
		return PayloadPlain, nil
	case "struct", "structured":
		return PayloadStruct, nil
	default:
		return 0, fmt.Errorf("index: unsupported payload index kind: %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k PayloadKind) MarshalText() ([]byte, error) {
	if k != PayloadPlain && k != PayloadStruct {
		return nil, fmt.Errorf("index: unsupported payload index kind: %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *PayloadKind) UnmarshalText(b []byte) error {
	v, err := ParsePayloadKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}
