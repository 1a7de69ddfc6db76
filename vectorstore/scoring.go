package vectorstore

import (
	"context"

	"github.com/hupe1980/vecseg/distance"
	"github.com/hupe1980/vecseg/internal/pq"
	"github.com/hupe1980/vecseg/model"
)

// ctxCheckInterval is how many offsets are scored between context checks.
const ctxCheckInterval = 1024

// source is the read view a storage exposes to the shared scoring loops.
// Callers hold the storage read lock.
type source interface {
	count() int
	deleted(offset model.PointOffset) bool
	raw(offset model.PointOffset) []float32
	invNorm(offset model.PointOffset) float32
}

// scorer scores stored vectors against one prepared query.
type scorer struct {
	metric distance.Metric
	query  []float32
}

func newScorer(metric distance.Metric, dim int, query []float32) (scorer, error) {
	if len(query) != dim {
		return scorer{}, &ErrDimensionMismatch{Expected: dim, Actual: len(query)}
	}
	return scorer{metric: metric, query: distance.Preprocess(metric, query)}, nil
}

func (s scorer) score(src source, offset model.PointOffset) float32 {
	v := src.raw(offset)
	switch s.metric {
	case distance.Cosine:
		return distance.DotProduct(s.query, v) * src.invNorm(offset)
	case distance.Euclid:
		return distance.NegEuclid(s.query, v)
	default:
		return distance.DotProduct(s.query, v)
	}
}

func scoreAll(ctx context.Context, src source, s scorer, topK int) ([]model.ScoredOffset, error) {
	if topK <= 0 {
		return []model.ScoredOffset{}, nil
	}
	n := src.count()
	q := pq.NewWorstFirst(min(topK, n))
	for i := 0; i < n; i++ {
		if i%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		off := model.PointOffset(i) //nolint:gosec
		if src.deleted(off) {
			continue
		}
		q.PushBounded(model.ScoredOffset{Offset: off, Score: s.score(src, off)}, topK)
	}
	return q.Sorted(), nil
}

func scorePoints(ctx context.Context, src source, s scorer, offsets []model.PointOffset, topK int) ([]model.ScoredOffset, error) {
	if topK <= 0 {
		return []model.ScoredOffset{}, nil
	}
	n := src.count()
	q := pq.NewWorstFirst(min(topK, len(offsets)))
	for i, off := range offsets {
		if i%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if int(off) >= n || src.deleted(off) {
			continue
		}
		q.PushBounded(model.ScoredOffset{Offset: off, Score: s.score(src, off)}, topK)
	}
	return q.Sorted(), nil
}

func inverseNorm(metric distance.Metric, v []float32) float32 {
	if metric != distance.Cosine {
		return 1
	}
	return distance.InverseNorm(v)
}
