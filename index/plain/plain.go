// Package plain implements the scanning payload index and the exact vector
// index. Every other index must return the same results as these.
package plain

import (
	"context"

	"github.com/hupe1980/vecseg/filter"
	"github.com/hupe1980/vecseg/index"
	"github.com/hupe1980/vecseg/model"
	"github.com/hupe1980/vecseg/vectorstore"
)

// Compile-time checks
var (
	_ index.PayloadIndex = (*PayloadIndex)(nil)
	_ index.Index        = (*Index)(nil)
)

// PayloadIndex evaluates filters by checking every live offset.
type PayloadIndex struct {
	vectors vectorstore.Storage
	checker *filter.Checker
}

// NewPayloadIndex creates a scanning payload index. Liveness comes from vectors.
func NewPayloadIndex(vectors vectorstore.Storage, checker *filter.Checker) *PayloadIndex {
	return &PayloadIndex{vectors: vectors, checker: checker}
}

// QueryPoints scans offsets 0..count and keeps those passing the checker.
func (p *PayloadIndex) QueryPoints(f *filter.Filter) []model.PointOffset {
	n := p.vectors.VectorCount()
	out := make([]model.PointOffset, 0)
	for i := 0; i < n; i++ {
		off := model.PointOffset(i) //nolint:gosec
		if p.Check(off, f) {
			out = append(out, off)
		}
	}
	return out
}

// EstimateCardinality counts matches exactly.
func (p *PayloadIndex) EstimateCardinality(f *filter.Filter) index.Cardinality {
	if f.IsEmpty() {
		return index.Exact(p.vectors.LiveCount())
	}
	return index.Exact(len(p.QueryPoints(f)))
}

func (p *PayloadIndex) Check(offset model.PointOffset, f *filter.Filter) bool {
	return !p.vectors.IsDeleted(offset) && p.checker.Check(offset, f)
}

func (p *PayloadIndex) UpdatePoint(model.PointOffset) {}
func (p *PayloadIndex) DropPoint(model.PointOffset)   {}

// Index scores every candidate exactly.
type Index struct {
	vectors  vectorstore.Storage
	payloads index.PayloadIndex
}

// New creates an exact index over vectors, filtered through payloads.
func New(vectors vectorstore.Storage, payloads index.PayloadIndex) *Index {
	return &Index{vectors: vectors, payloads: payloads}
}

// Search scores all live vectors, or only the filter matches when f is
// non-empty.
func (i *Index) Search(ctx context.Context, query []float32, f *filter.Filter, topK int, _ *index.SearchParams) ([]model.ScoredOffset, error) {
	if topK <= 0 {
		return []model.ScoredOffset{}, nil
	}
	if f.IsEmpty() {
		return i.vectors.ScoreAll(ctx, query, topK)
	}
	return i.vectors.ScorePoints(ctx, query, i.payloads.QueryPoints(f), topK)
}

func (i *Index) UpdatePoint(model.PointOffset) error { return nil }
func (i *Index) DropPoint(model.PointOffset)         {}
func (i *Index) Build(context.Context) error         { return nil }
