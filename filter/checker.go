package filter

import (
	"slices"

	"github.com/hupe1980/vecseg/model"
	"github.com/hupe1980/vecseg/payload"
)

// PayloadReader is the read access the checker needs from payload storage.
type PayloadReader interface {
	Field(offset model.PointOffset, key string) (payload.Value, bool)
}

// IDResolver maps an offset to the external id of the live point occupying it.
type IDResolver func(offset model.PointOffset) (model.PointID, bool)

// Checker evaluates filters against the current payload of a point.
//
// It is the only implementation of filter semantics; every index calls it.
type Checker struct {
	payloads PayloadReader
	ids      IDResolver
}

// NewChecker creates a Checker. ids may be nil, in which case has_id never matches.
func NewChecker(payloads PayloadReader, ids IDResolver) *Checker {
	return &Checker{payloads: payloads, ids: ids}
}

// Check reports whether the point at offset satisfies f. A nil filter matches.
func (c *Checker) Check(offset model.PointOffset, f *Filter) bool {
	if f == nil {
		return true
	}
	for i := range f.Must {
		if !c.check(offset, &f.Must[i]) {
			return false
		}
	}
	for i := range f.MustNot {
		if c.check(offset, &f.MustNot[i]) {
			return false
		}
	}
	if len(f.Should) == 0 {
		return true
	}
	for i := range f.Should {
		if c.check(offset, &f.Should[i]) {
			return true
		}
	}
	return false
}

func (c *Checker) check(offset model.PointOffset, cond *Condition) bool {
	switch {
	case cond.Filter != nil:
		return c.Check(offset, cond.Filter)
	case cond.HasID != nil:
		if c.ids == nil {
			return false
		}
		id, ok := c.ids(offset)
		return ok && slices.Contains(cond.HasID, id)
	}

	v, ok := c.payloads.Field(offset, cond.Key)
	switch {
	case cond.Exists != nil:
		return ok == *cond.Exists
	case !ok:
		return false
	case cond.Match != nil:
		return MatchValue(cond.Match, v)
	case cond.Range != nil:
		return RangeValue(cond.Range, v)
	default:
		return false
	}
}

// MatchValue reports whether any scalar of v equals the match value.
func MatchValue(m *Match, v payload.Value) bool {
	switch {
	case m.Keyword != nil:
		return v.Kind == payload.KindKeyword && slices.Contains(v.Keywords, *m.Keyword)
	case m.Integer != nil:
		return v.Kind == payload.KindInteger && slices.Contains(v.Integers, *m.Integer)
	default:
		return false
	}
}

// RangeValue reports whether any numeric scalar of v lies within r.
// Keyword values never satisfy a range.
func RangeValue(r *Range, v payload.Value) bool {
	switch v.Kind {
	case payload.KindInteger:
		for _, n := range v.Integers {
			if r.Contains(float64(n)) {
				return true
			}
		}
	case payload.KindFloat:
		for _, f := range v.Floats {
			if r.Contains(f) {
				return true
			}
		}
	}
	return false
}
