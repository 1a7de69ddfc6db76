// Package structured implements a payload index backed by inverted postings.
//
// Every payload field is indexed on write: keyword values and integer values
// get exact postings, integer and float values are also kept in a sorted
// numeric index for range conditions, and a per-field bitmap answers
// existence. Postings only narrow the candidate set; every candidate is still
// verified by the shared checker, so results are identical to a full scan.
package structured

import (
	"math"
	"slices"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/vecseg/filter"
	"github.com/hupe1980/vecseg/index"
	"github.com/hupe1980/vecseg/model"
	"github.com/hupe1980/vecseg/payload"
	"github.com/hupe1980/vecseg/vectorstore"
)

var _ index.PayloadIndex = (*PayloadIndex)(nil)

// PayloadIndex is safe for concurrent use.
type PayloadIndex struct {
	mu       sync.RWMutex
	vectors  vectorstore.Storage
	payloads payload.Storage
	checker  *filter.Checker

	docs     map[model.PointOffset]payload.Payload
	fields   map[string]*roaring.Bitmap
	keywords map[string]map[string]*roaring.Bitmap
	integers map[string]map[int64]*roaring.Bitmap
	numbers  map[string]*numericIndex
}

// New indexes every live point of payloads.
func New(vectors vectorstore.Storage, payloads payload.Storage, checker *filter.Checker) *PayloadIndex {
	ix := &PayloadIndex{
		vectors:  vectors,
		payloads: payloads,
		checker:  checker,
		docs:     make(map[model.PointOffset]payload.Payload),
		fields:   make(map[string]*roaring.Bitmap),
		keywords: make(map[string]map[string]*roaring.Bitmap),
		integers: make(map[string]map[int64]*roaring.Bitmap),
		numbers:  make(map[string]*numericIndex),
	}
	for off := range payloads.IterIDs() {
		if !vectors.IsDeleted(off) {
			ix.add(off, payloads.Payload(off))
		}
	}
	return ix
}

// UpdatePoint reindexes offset from payload storage.
func (ix *PayloadIndex) UpdatePoint(offset model.PointOffset) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.remove(offset)
	if ix.vectors.IsDeleted(offset) {
		return
	}
	if p := ix.payloads.Payload(offset); len(p) > 0 {
		ix.add(offset, p)
	}
}

// DropPoint removes offset from every posting.
func (ix *PayloadIndex) DropPoint(offset model.PointOffset) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.remove(offset)
}

func (ix *PayloadIndex) Check(offset model.PointOffset, f *filter.Filter) bool {
	return !ix.vectors.IsDeleted(offset) && ix.checker.Check(offset, f)
}

// QueryPoints narrows by postings where possible, then verifies each candidate.
func (ix *PayloadIndex) QueryPoints(f *filter.Filter) []model.PointOffset {
	ix.mu.RLock()
	cand, ok := ix.candidates(f)
	ix.mu.RUnlock()

	out := make([]model.PointOffset, 0)
	if ok {
		it := cand.Iterator()
		for it.HasNext() {
			off := model.PointOffset(it.Next())
			if ix.Check(off, f) {
				out = append(out, off)
			}
		}
		return out
	}

	n := ix.vectors.VectorCount()
	for i := 0; i < n; i++ {
		off := model.PointOffset(i) //nolint:gosec
		if ix.Check(off, f) {
			out = append(out, off)
		}
	}
	return out
}

// EstimateCardinality combines posting sizes without touching payloads.
func (ix *PayloadIndex) EstimateCardinality(f *filter.Filter) index.Cardinality {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.estimate(f, ix.vectors.LiveCount())
}

// Fields returns the number of indexed points per field.
func (ix *PayloadIndex) Fields() map[string]int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make(map[string]int, len(ix.fields))
	for k, b := range ix.fields {
		out[k] = int(b.GetCardinality()) //nolint:gosec
	}
	return out
}

func (ix *PayloadIndex) add(offset model.PointOffset, p payload.Payload) {
	ix.docs[offset] = p
	o := uint32(offset)
	for key, v := range p {
		posting(ix.fields, key).Add(o)
		switch v.Kind {
		case payload.KindKeyword:
			m := inner(ix.keywords, key)
			for _, kw := range v.Keywords {
				posting(m, kw).Add(o)
			}
		case payload.KindInteger:
			m := inner(ix.integers, key)
			for _, n := range v.Integers {
				posting(m, n).Add(o)
				ix.numeric(key).add(float64(n), o)
			}
		case payload.KindFloat:
			for _, x := range v.Floats {
				ix.numeric(key).add(x, o)
			}
		}
	}
}

func (ix *PayloadIndex) remove(offset model.PointOffset) {
	p, ok := ix.docs[offset]
	if !ok {
		return
	}
	delete(ix.docs, offset)
	o := uint32(offset)
	for key, v := range p {
		unpost(ix.fields, key, o)
		switch v.Kind {
		case payload.KindKeyword:
			for _, kw := range v.Keywords {
				unpostInner(ix.keywords, key, kw, o)
			}
		case payload.KindInteger:
			for _, n := range v.Integers {
				unpostInner(ix.integers, key, n, o)
				ix.unnumeric(key, float64(n), o)
			}
		case payload.KindFloat:
			for _, x := range v.Floats {
				ix.unnumeric(key, x, o)
			}
		}
	}
}

func (ix *PayloadIndex) numeric(key string) *numericIndex {
	n, ok := ix.numbers[key]
	if !ok {
		n = &numericIndex{postings: make(map[float64]*roaring.Bitmap)}
		ix.numbers[key] = n
	}
	return n
}

func (ix *PayloadIndex) unnumeric(key string, x float64, o uint32) {
	n, ok := ix.numbers[key]
	if !ok {
		return
	}
	n.remove(x, o)
	if len(n.postings) == 0 {
		delete(ix.numbers, key)
	}
}

// candidates returns a superset of the offsets matching f, or false when no
// condition of f can be answered from postings.
func (ix *PayloadIndex) candidates(f *filter.Filter) (*roaring.Bitmap, bool) {
	if f.IsEmpty() {
		return nil, false
	}
	var acc *roaring.Bitmap
	intersect := func(b *roaring.Bitmap) {
		if acc == nil {
			acc = b.Clone()
			return
		}
		acc.And(b)
	}

	for i := range f.Must {
		if b, ok := ix.condCandidates(&f.Must[i]); ok {
			intersect(b)
		}
	}
	if len(f.Should) > 0 {
		union := roaring.New()
		all := true
		for i := range f.Should {
			b, ok := ix.condCandidates(&f.Should[i])
			if !ok {
				all = false
				break
			}
			union.Or(b)
		}
		if all {
			intersect(union)
		}
	}
	return acc, acc != nil
}

func (ix *PayloadIndex) condCandidates(c *filter.Condition) (*roaring.Bitmap, bool) {
	switch {
	case c.Filter != nil:
		return ix.candidates(c.Filter)
	case c.HasID != nil:
		return nil, false
	case c.Exists != nil:
		if !*c.Exists {
			return nil, false
		}
		return orEmpty(ix.fields[c.Key]), true
	case c.Match != nil && c.Match.Keyword != nil:
		return orEmpty(ix.keywords[c.Key][*c.Match.Keyword]), true
	case c.Match != nil && c.Match.Integer != nil:
		return orEmpty(ix.integers[c.Key][*c.Match.Integer]), true
	case c.Range != nil:
		n, ok := ix.numbers[c.Key]
		if !ok {
			return roaring.New(), true
		}
		return n.rangeUnion(c.Range), true
	default:
		return nil, false
	}
}

func (ix *PayloadIndex) estimate(f *filter.Filter, n int) index.Cardinality {
	if f.IsEmpty() {
		return index.Exact(n)
	}
	parts := make([]index.Cardinality, 0, len(f.Must)+len(f.MustNot)+1)
	for i := range f.Must {
		parts = append(parts, ix.condEstimate(&f.Must[i], n))
	}
	for i := range f.MustNot {
		parts = append(parts, negate(ix.condEstimate(&f.MustNot[i], n), n))
	}
	if len(f.Should) > 0 {
		should := make([]index.Cardinality, 0, len(f.Should))
		for i := range f.Should {
			should = append(should, ix.condEstimate(&f.Should[i], n))
		}
		parts = append(parts, combineOr(should, n))
	}
	return combineAnd(parts, n)
}

func (ix *PayloadIndex) condEstimate(c *filter.Condition, n int) index.Cardinality {
	switch {
	case c.Filter != nil:
		return ix.estimate(c.Filter, n)
	case c.HasID != nil:
		k := min(len(c.HasID), n)
		return index.Cardinality{Min: 0, Exp: k, Max: k}
	case c.Exists != nil:
		k := cardinality(ix.fields[c.Key])
		if *c.Exists {
			return index.Exact(k)
		}
		return index.Exact(n - k)
	case c.Match != nil && c.Match.Keyword != nil:
		return index.Exact(cardinality(ix.keywords[c.Key][*c.Match.Keyword]))
	case c.Match != nil && c.Match.Integer != nil:
		return index.Exact(cardinality(ix.integers[c.Key][*c.Match.Integer]))
	case c.Range != nil:
		num, ok := ix.numbers[c.Key]
		if !ok {
			return index.Exact(0)
		}
		return index.Exact(cardinality(num.rangeUnion(c.Range)))
	default:
		return index.Cardinality{Max: n}
	}
}

// combineAnd: the result is no larger than its smallest part.
func combineAnd(parts []index.Cardinality, n int) index.Cardinality {
	if len(parts) == 0 {
		return index.Exact(n)
	}
	res := index.Cardinality{Max: n}
	sumMin := 0
	exp := 1.0
	for _, p := range parts {
		res.Max = min(res.Max, p.Max)
		sumMin += p.Min
		exp *= fraction(p.Exp, n)
	}
	res.Min = max(0, sumMin-(len(parts)-1)*n)
	res.Exp = int(math.Round(exp * float64(n)))
	return clamp(res)
}

// combineOr: the result is no larger than the sum of its parts.
func combineOr(parts []index.Cardinality, n int) index.Cardinality {
	var res index.Cardinality
	miss := 1.0
	for _, p := range parts {
		res.Max += p.Max
		res.Min = max(res.Min, p.Min)
		miss *= 1 - fraction(p.Exp, n)
	}
	res.Max = min(res.Max, n)
	res.Exp = int(math.Round((1 - miss) * float64(n)))
	return clamp(res)
}

func negate(c index.Cardinality, n int) index.Cardinality {
	return index.Cardinality{Min: max(0, n-c.Max), Exp: max(0, n-c.Exp), Max: max(0, n-c.Min)}
}

func clamp(c index.Cardinality) index.Cardinality {
	c.Min = min(c.Min, c.Max)
	c.Exp = min(max(c.Exp, c.Min), c.Max)
	return c
}

func fraction(k, n int) float64 {
	if n == 0 {
		return 0
	}
	return float64(k) / float64(n)
}

func cardinality(b *roaring.Bitmap) int {
	if b == nil {
		return 0
	}
	return int(b.GetCardinality()) //nolint:gosec
}

func orEmpty(b *roaring.Bitmap) *roaring.Bitmap {
	if b == nil {
		return roaring.New()
	}
	return b
}

func posting[K comparable](m map[K]*roaring.Bitmap, k K) *roaring.Bitmap {
	b, ok := m[k]
	if !ok {
		b = roaring.New()
		m[k] = b
	}
	return b
}

func inner[K comparable](m map[string]map[K]*roaring.Bitmap, key string) map[K]*roaring.Bitmap {
	in, ok := m[key]
	if !ok {
		in = make(map[K]*roaring.Bitmap)
		m[key] = in
	}
	return in
}

func unpost[K comparable](m map[K]*roaring.Bitmap, k K, o uint32) {
	b, ok := m[k]
	if !ok {
		return
	}
	b.Remove(o)
	if b.IsEmpty() {
		delete(m, k)
	}
}

func unpostInner[K comparable](m map[string]map[K]*roaring.Bitmap, key string, k K, o uint32) {
	in, ok := m[key]
	if !ok {
		return
	}
	unpost(in, k, o)
	if len(in) == 0 {
		delete(m, key)
	}
}

// numericIndex keeps one posting per distinct value plus the sorted values.
type numericIndex struct {
	postings map[float64]*roaring.Bitmap
	sorted   []float64
}

func (n *numericIndex) add(x float64, o uint32) {
	b, ok := n.postings[x]
	if !ok {
		b = roaring.New()
		n.postings[x] = b
		i, _ := slices.BinarySearch(n.sorted, x)
		n.sorted = slices.Insert(n.sorted, i, x)
	}
	b.Add(o)
}

func (n *numericIndex) remove(x float64, o uint32) {
	b, ok := n.postings[x]
	if !ok {
		return
	}
	b.Remove(o)
	if b.IsEmpty() {
		delete(n.postings, x)
		if i, found := slices.BinarySearch(n.sorted, x); found {
			n.sorted = slices.Delete(n.sorted, i, i+1)
		}
	}
}

func (n *numericIndex) rangeUnion(r *filter.Range) *roaring.Bitmap {
	start := 0
	if r.GTE != nil {
		i, _ := slices.BinarySearch(n.sorted, *r.GTE)
		start = max(start, i)
	}
	if r.GT != nil {
		i, found := slices.BinarySearch(n.sorted, *r.GT)
		if found {
			i++
		}
		start = max(start, i)
	}
	out := roaring.New()
	for _, x := range n.sorted[start:] {
		if !r.Contains(x) {
			break
		}
		out.Or(n.postings[x])
	}
	return out
}
