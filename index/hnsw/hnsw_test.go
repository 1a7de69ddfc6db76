package hnsw

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vecseg/distance"
	"github.com/hupe1980/vecseg/filter"
	"github.com/hupe1980/vecseg/index"
	"github.com/hupe1980/vecseg/index/plain"
	"github.com/hupe1980/vecseg/model"
	"github.com/hupe1980/vecseg/payload"
	"github.com/hupe1980/vecseg/vectorstore"
)

type fixture struct {
	vectors  *vectorstore.MemoryStorage
	payloads *payload.MemoryStorage
	pidx     *plain.PayloadIndex
	exact    *plain.Index
}

func randomVector(rng *rand.Rand, dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = rng.Float32()*2 - 1
	}
	return v
}

func newFixture(t *testing.T, n, dim int, metric distance.Metric) *fixture {
	t.Helper()
	rng := rand.New(rand.NewPCG(42, 1))
	fx := &fixture{vectors: vectorstore.NewMemory(dim, metric), payloads: payload.NewMemoryStorage()}
	for i := range n {
		off := model.PointOffset(i)
		require.NoError(t, fx.vectors.Put(off, randomVector(rng, dim)))
		require.NoError(t, fx.payloads.AssignAll(off, payload.Payload{"bucket": payload.Integer(int64(i % 10))}))
	}
	fx.pidx = plain.NewPayloadIndex(fx.vectors, filter.NewChecker(fx.payloads, nil))
	fx.exact = plain.New(fx.vectors, fx.pidx)
	return fx
}

func (fx *fixture) build(t *testing.T, cfg Config) *Index {
	t.Helper()
	h, err := New(fx.vectors, fx.pidx, cfg)
	require.NoError(t, err)
	require.NoError(t, h.Build(context.Background()))
	return h
}

func recall(want, got []model.ScoredOffset) float64 {
	set := make(map[model.PointOffset]bool, len(want))
	for _, w := range want {
		set[w.Offset] = true
	}
	hit := 0
	for _, g := range got {
		if set[g.Offset] {
			hit++
		}
	}
	return float64(hit) / float64(len(want))
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig.Validate())
	assert.Error(t, Config{M: 1, EfConstruct: 10}.Validate())
	assert.Error(t, Config{M: 4, EfConstruct: 0}.Validate())
	assert.Error(t, Config{M: 4, EfConstruct: 10, FullScanThreshold: -1}.Validate())
}

func TestRecall(t *testing.T) {
	for _, metric := range []distance.Metric{distance.Cosine, distance.Dot, distance.Euclid} {
		t.Run(metric.String(), func(t *testing.T) {
			fx := newFixture(t, 1000, 16, metric)
			h := fx.build(t, Config{M: 16, EfConstruct: 100, FullScanThreshold: 0})

			rng := rand.New(rand.NewPCG(9, 9))
			total := 0.0
			const queries = 20
			for range queries {
				q := randomVector(rng, 16)
				want, err := fx.exact.Search(context.Background(), q, nil, 10, nil)
				require.NoError(t, err)
				got, err := h.Search(context.Background(), q, nil, 10, &index.SearchParams{HNSWEf: 128})
				require.NoError(t, err)
				require.Len(t, got, 10)
				total += recall(want, got)
			}
			assert.GreaterOrEqual(t, total/queries, 0.9)
		})
	}
}

func TestScoresAreExact(t *testing.T) {
	fx := newFixture(t, 200, 8, distance.Euclid)
	h := fx.build(t, DefaultConfig)
	q := fx.mustGet(t, 17)

	got, err := h.Search(context.Background(), q, nil, 5, nil)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, model.PointOffset(17), got[0].Offset)
	for _, r := range got {
		v := fx.mustGet(t, r.Offset)
		assert.Equal(t, distance.NegEuclid(q, v), r.Score)
	}
}

func (fx *fixture) mustGet(t *testing.T, off model.PointOffset) []float32 {
	t.Helper()
	v, ok := fx.vectors.Get(off)
	require.True(t, ok)
	return v
}

func TestSelectiveFilterMatchesPlain(t *testing.T) {
	fx := newFixture(t, 500, 8, distance.Dot)
	h := fx.build(t, Config{M: 8, EfConstruct: 50, FullScanThreshold: 100})

	f := &filter.Filter{Must: []filter.Condition{filter.MatchInteger("bucket", 3)}}
	q := randomVector(rand.New(rand.NewPCG(1, 1)), 8)

	want, err := fx.exact.Search(context.Background(), q, f, 10, nil)
	require.NoError(t, err)
	got, err := h.Search(context.Background(), q, f, 10, nil)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestGraphFilterAcceptsOnlyMatches(t *testing.T) {
	fx := newFixture(t, 500, 8, distance.Dot)
	h := fx.build(t, Config{M: 8, EfConstruct: 64, FullScanThreshold: 0})

	f := &filter.Filter{MustNot: []filter.Condition{filter.MatchInteger("bucket", 0)}}
	q := randomVector(rand.New(rand.NewPCG(2, 2)), 8)
	got, err := h.Search(context.Background(), q, f, 20, nil)
	require.NoError(t, err)
	require.Len(t, got, 20)
	for _, r := range got {
		assert.NotZero(t, int(r.Offset)%10, "offset %d is in bucket 0", r.Offset)
	}
}

func TestDeletedAndUpdatedPoints(t *testing.T) {
	fx := newFixture(t, 300, 4, distance.Dot)
	h := fx.build(t, Config{M: 8, EfConstruct: 300, FullScanThreshold: 0})
	ctx := context.Background()

	q := []float32{1, 1, 1, 1}
	before, err := h.Search(ctx, q, nil, 1, nil)
	require.NoError(t, err)
	best := before[0].Offset

	fx.vectors.Delete(best)
	h.DropPoint(best)
	after, err := h.Search(ctx, q, nil, 5, nil)
	require.NoError(t, err)
	for _, r := range after {
		assert.NotEqual(t, best, r.Offset)
	}

	// Rewrite an existing offset with a dominant vector: it must be found
	// through the stale set.
	require.NoError(t, fx.vectors.Put(5, []float32{10, 10, 10, 10}))
	require.NoError(t, h.UpdatePoint(5))
	assert.Equal(t, 1, h.Stats().Stale)
	got, err := h.Search(ctx, q, nil, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, model.PointOffset(5), got[0].Offset)
	assert.Equal(t, float32(40), got[0].Score)

	// Appended offsets are linked immediately.
	require.NoError(t, fx.vectors.Put(300, []float32{20, 20, 20, 20}))
	require.NoError(t, h.UpdatePoint(300))
	got, err = h.Search(ctx, q, nil, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, []model.PointOffset{300, 5}, []model.PointOffset{got[0].Offset, got[1].Offset})

	require.NoError(t, h.Build(ctx))
	assert.Equal(t, 0, h.Stats().Stale)
	assert.Equal(t, 300, h.Stats().Nodes)
}

func TestDeterministicBuild(t *testing.T) {
	fx := newFixture(t, 400, 8, distance.Cosine)
	a := fx.build(t, DefaultConfig)
	b := fx.build(t, DefaultConfig)
	q := randomVector(rand.New(rand.NewPCG(3, 3)), 8)

	ra, err := a.Search(context.Background(), q, nil, 10, nil)
	require.NoError(t, err)
	rb, err := b.Search(context.Background(), q, nil, 10, nil)
	require.NoError(t, err)
	assert.Equal(t, ra, rb)
}

func TestEmptyAndZeroK(t *testing.T) {
	vectors := vectorstore.NewMemory(2, distance.Dot)
	payloads := payload.NewMemoryStorage()
	pidx := plain.NewPayloadIndex(vectors, filter.NewChecker(payloads, nil))
	h, err := New(vectors, pidx, DefaultConfig)
	require.NoError(t, err)
	require.NoError(t, h.Build(context.Background()))

	res, err := h.Search(context.Background(), []float32{1, 0}, nil, 3, nil)
	require.NoError(t, err)
	assert.Empty(t, res)

	require.NoError(t, vectors.Put(0, []float32{1, 0}))
	require.NoError(t, h.UpdatePoint(0))
	res, err = h.Search(context.Background(), []float32{1, 0}, nil, 0, nil)
	require.NoError(t, err)
	assert.Empty(t, res)

	_, err = h.Search(context.Background(), []float32{1}, nil, 1, nil)
	var dm *vectorstore.ErrDimensionMismatch
	assert.ErrorAs(t, err, &dm)
}

func TestLevelForIsStable(t *testing.T) {
	h, err := New(vectorstore.NewMemory(1, distance.Dot), nil, DefaultConfig)
	require.NoError(t, err)
	for i := range 100 {
		off := model.PointOffset(i)
		assert.Equal(t, h.levelFor(off), h.levelFor(off))
		assert.GreaterOrEqual(t, h.levelFor(off), 0)
	}
}
