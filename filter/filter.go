package filter

import (
	"bytes"
	"errors"
	"fmt"
	"slices"

	"github.com/goccy/go-json"
	"github.com/hupe1980/vecseg/model"
)

// MaxDepth bounds the nesting of filters.
const MaxDepth = 32

// ErrInvalidFilter is returned for filters that fail validation.
var ErrInvalidFilter = errors.New("invalid filter")

// Filter is a boolean expression over payload conditions.
//
// A point matches when every Must condition holds, at least one Should
// condition holds (if any are given) and no MustNot condition holds.
// The empty filter matches every point.
type Filter struct {
	Must    []Condition `json:"must,omitempty"`
	Should  []Condition `json:"should,omitempty"`
	MustNot []Condition `json:"must_not,omitempty"`
}

// Condition is a single predicate. Exactly one of Match, Range, Exists, HasID
// or Filter is set; Key is required for the field predicates.
type Condition struct {
	Key    string          `json:"key,omitempty"`
	Match  *Match          `json:"match,omitempty"`
	Range  *Range          `json:"range,omitempty"`
	Exists *bool           `json:"exists,omitempty"`
	HasID  []model.PointID `json:"has_id,omitempty"`
	Filter *Filter         `json:"filter,omitempty"`
}

// Match tests a field for an exact value. Exactly one of Keyword or Integer is set.
type Match struct {
	Keyword *string `json:"keyword,omitempty"`
	Integer *int64  `json:"integer,omitempty"`
}

// Range tests a numeric field against bounds. At least one bound is set.
type Range struct {
	GT  *float64 `json:"gt,omitempty"`
	GTE *float64 `json:"gte,omitempty"`
	LT  *float64 `json:"lt,omitempty"`
	LTE *float64 `json:"lte,omitempty"`
}

// Contains reports whether x satisfies every bound.
func (r *Range) Contains(x float64) bool {
	if r.GT != nil && !(x > *r.GT) {
		return false
	}
	if r.GTE != nil && !(x >= *r.GTE) {
		return false
	}
	if r.LT != nil && !(x < *r.LT) {
		return false
	}
	if r.LTE != nil && !(x <= *r.LTE) {
		return false
	}
	return true
}

// MatchKeyword returns a keyword match condition.
func MatchKeyword(key, value string) Condition {
	return Condition{Key: key, Match: &Match{Keyword: &value}}
}

// MatchInteger returns an integer match condition.
func MatchInteger(key string, value int64) Condition {
	return Condition{Key: key, Match: &Match{Integer: &value}}
}

// InRange returns a range condition.
func InRange(key string, r Range) Condition {
	return Condition{Key: key, Range: &r}
}

// FieldExists returns an existence condition.
func FieldExists(key string, exists bool) Condition {
	return Condition{Key: key, Exists: &exists}
}

// HasID returns an id-set condition.
func HasID(ids ...model.PointID) Condition {
	return Condition{HasID: ids}
}

// Nested wraps a filter as a condition.
func Nested(f Filter) Condition {
	return Condition{Filter: &f}
}

// Ptr returns a pointer to v, for building bounds inline.
func Ptr[T any](v T) *T { return &v }

// Parse decodes and validates a JSON filter. Unknown fields are rejected.
func Parse(data []byte) (*Filter, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var f Filter
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFilter, err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks the structural rules of f.
func (f *Filter) Validate() error {
	return f.validate(0)
}

// IsEmpty reports whether f has no conditions.
func (f *Filter) IsEmpty() bool {
	return f == nil || (len(f.Must) == 0 && len(f.Should) == 0 && len(f.MustNot) == 0)
}

func (f *Filter) validate(depth int) error {
	if depth >= MaxDepth {
		return fmt.Errorf("%w: nested deeper than %d levels", ErrInvalidFilter, MaxDepth)
	}
	for _, group := range [][]Condition{f.Must, f.Should, f.MustNot} {
		for i := range group {
			if err := group[i].validate(depth); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Condition) validate(depth int) error {
	set := 0
	for _, ok := range []bool{c.Match != nil, c.Range != nil, c.Exists != nil, c.HasID != nil, c.Filter != nil} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("%w: condition must set exactly one predicate, got %d", ErrInvalidFilter, set)
	}

	switch {
	case c.Filter != nil:
		if c.Key != "" {
			return fmt.Errorf("%w: nested filter must not set key", ErrInvalidFilter)
		}
		return c.Filter.validate(depth + 1)
	case c.HasID != nil:
		if c.Key != "" {
			return fmt.Errorf("%w: has_id must not set key", ErrInvalidFilter)
		}
		return nil
	}

	if c.Key == "" {
		return fmt.Errorf("%w: field condition requires key", ErrInvalidFilter)
	}
	if m := c.Match; m != nil && (m.Keyword == nil) == (m.Integer == nil) {
		return fmt.Errorf("%w: match on %q must set exactly one of keyword or integer", ErrInvalidFilter, c.Key)
	}
	if r := c.Range; r != nil && r.GT == nil && r.GTE == nil && r.LT == nil && r.LTE == nil {
		return fmt.Errorf("%w: range on %q has no bounds", ErrInvalidFilter, c.Key)
	}
	return nil
}

// Keys returns the distinct payload keys referenced by f, in first-seen order.
func (f *Filter) Keys() []string {
	var keys []string
	f.walk(func(c *Condition) {
		if c.Key != "" && !slices.Contains(keys, c.Key) {
			keys = append(keys, c.Key)
		}
	})
	return keys
}

func (f *Filter) walk(fn func(c *Condition)) {
	if f == nil {
		return
	}
	for _, group := range [][]Condition{f.Must, f.Should, f.MustNot} {
		for i := range group {
			fn(&group[i])
			if group[i].Filter != nil {
				group[i].Filter.walk(fn)
			}
		}
	}
}
