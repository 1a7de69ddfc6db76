package segment

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vecseg/distance"
	"github.com/hupe1980/vecseg/filter"
	"github.com/hupe1980/vecseg/index"
	"github.com/hupe1980/vecseg/index/hnsw"
	"github.com/hupe1980/vecseg/model"
	"github.com/hupe1980/vecseg/operation"
	"github.com/hupe1980/vecseg/payload"
	"github.com/hupe1980/vecseg/vectorstore"
)

func newSegment(t *testing.T, cfg Config) *Segment {
	t.Helper()
	s, err := Create(context.Background(), t.TempDir(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func dotConfig(dim int) Config {
	return Config{VectorSize: dim, Distance: distance.Dot}
}

func mustApply(t *testing.T) func(applied bool, err error) {
	return func(applied bool, err error) {
		t.Helper()
		require.NoError(t, err)
		require.True(t, applied)
	}
}

func TestSegment_SearchDot(t *testing.T) {
	s := newSegment(t, dotConfig(4))
	mustApply(t)(s.UpsertPoint(1, 1, []float32{1, 0, 0, 0}))
	mustApply(t)(s.UpsertPoint(2, 2, []float32{0, 1, 0, 0}))

	res, err := s.Search(context.Background(), []float32{1, 0, 0, 0}, nil, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, []model.ScoredPoint{{ID: 1, Score: 1}, {ID: 2, Score: 0}}, res)

	res, err = s.Search(context.Background(), []float32{1, 0, 0, 0}, nil, 0, nil)
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestSegment_VectorRoundTrip(t *testing.T) {
	for _, typ := range []vectorstore.Type{vectorstore.InMemory, vectorstore.Mmap} {
		for _, m := range []distance.Metric{distance.Cosine, distance.Dot, distance.Euclid} {
			t.Run(fmt.Sprintf("%s/%s", typ, m), func(t *testing.T) {
				s := newSegment(t, Config{VectorSize: 3, Distance: m, Storage: typ})
				v := []float32{3, -4, 0.125}
				mustApply(t)(s.UpsertPoint(1, 9, v))

				got, err := s.Vector(9)
				require.NoError(t, err)
				assert.Equal(t, v, got)
			})
		}
	}
}

func TestSegment_UpsertVersioning(t *testing.T) {
	s := newSegment(t, dotConfig(2))
	v1 := []float32{1, 0}
	v2 := []float32{0, 1}

	mustApply(t)(s.UpsertPoint(5, 7, v1))

	applied, err := s.UpsertPoint(5, 7, v2)
	require.NoError(t, err)
	assert.False(t, applied, "same version is a no-op")
	got, err := s.Vector(7)
	require.NoError(t, err)
	assert.Equal(t, v1, got)

	applied, err = s.UpsertPoint(4, 7, v2)
	require.NoError(t, err)
	assert.False(t, applied)

	mustApply(t)(s.UpsertPoint(6, 7, v2))
	got, err = s.Vector(7)
	require.NoError(t, err)
	assert.Equal(t, v2, got)

	// Bypass always applies and records nothing.
	mustApply(t)(s.UpsertPoint(model.BypassVersion, 7, v1))
	v, ok := s.Version(7)
	require.True(t, ok)
	assert.Equal(t, model.Version(6), v)
}

func TestSegment_DimensionMismatch(t *testing.T) {
	s := newSegment(t, dotConfig(3))

	_, err := s.UpsertPoint(1, 1, []float32{1, 2})
	var dimErr *ErrDimensionMismatch
	require.ErrorAs(t, err, &dimErr)
	assert.Equal(t, 3, dimErr.Expected)
	assert.Equal(t, 2, dimErr.Actual)

	_, err = s.Search(context.Background(), []float32{1}, nil, 1, nil)
	assert.ErrorAs(t, err, &dimErr)
	assert.Equal(t, 0, s.Len())
}

func TestSegment_DeleteFreesOffset(t *testing.T) {
	s := newSegment(t, dotConfig(2))
	mustApply(t)(s.UpsertPoint(1, 1, []float32{1, 0}))
	mustApply(t)(s.UpsertPoint(2, 2, []float32{0, 1}))
	mustApply(t)(s.SetFullPayload(3, 1, payload.Payload{"a": payload.Keyword("x")}))

	mustApply(t)(s.DeletePoint(4, 1))

	_, err := s.Payload(1)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Vector(1)
	var nf *ErrPointNotFound
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, model.PointID(1), nf.ID)

	mustApply(t)(s.UpsertPoint(5, 3, []float32{2, 0}))
	off, ok := s.tracker.Lookup(3)
	require.True(t, ok)
	assert.Equal(t, model.PointOffset(0), off, "freed offset is reused")

	p, err := s.Payload(3)
	require.NoError(t, err)
	assert.Empty(t, p, "reused offset starts without payload")

	got, err := s.Vector(2)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1}, got)

	res, err := s.Search(context.Background(), []float32{1, 0}, nil, 10, nil)
	require.NoError(t, err)
	assert.Equal(t, []model.ScoredPoint{{ID: 3, Score: 2}, {ID: 2, Score: 0}}, res)
}

func TestSegment_TombstoneKeepsDeletedPointDead(t *testing.T) {
	s := newSegment(t, dotConfig(2))
	mustApply(t)(s.UpsertPoint(1, 1, []float32{1, 0}))
	mustApply(t)(s.DeletePoint(5, 1))

	applied, err := s.UpsertPoint(3, 1, []float32{1, 0})
	require.NoError(t, err)
	assert.False(t, applied)

	applied, err = s.SetFullPayload(4, 1, payload.Payload{"a": payload.Integer(1)})
	require.NoError(t, err)
	assert.False(t, applied, "stale payload update of a deleted point is not an error")

	_, err = s.SetFullPayload(6, 1, payload.Payload{"a": payload.Integer(1)})
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting an unknown point records a tombstone.
	applied, err = s.DeletePoint(8, 42)
	require.NoError(t, err)
	assert.False(t, applied)
	applied, err = s.UpsertPoint(7, 42, []float32{0, 1})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, 0, s.Len())
}

func TestSegment_PayloadOperations(t *testing.T) {
	s := newSegment(t, dotConfig(2))
	mustApply(t)(s.UpsertPoint(1, 1, []float32{1, 0}))
	mustApply(t)(s.UpsertPoint(2, 2, []float32{0, 1}))

	full := payload.Payload{
		"city":  payload.Keyword("berlin"),
		"count": payload.Integer(1, 2),
		"price": payload.Float(9.5),
	}
	mustApply(t)(s.SetFullPayload(3, 1, full))
	mustApply(t)(s.SetFullPayload(4, 2, payload.Payload{"city": payload.Keyword("bonn")}))

	got, err := s.Payload(1)
	require.NoError(t, err)
	assert.True(t, full.Equal(got))

	mustApply(t)(s.DeletePayloadKey(5, 1, "count"))
	got, err = s.Payload(1)
	require.NoError(t, err)
	assert.Equal(t, []string{"city", "price"}, got.Keys())

	mustApply(t)(s.DropPayload(6, 1))
	got, err = s.Payload(1)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = s.DeletePayloadKey(7, 99, "x")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.SetFullPayload(8, 2, payload.Payload{"bad": {}})
	var tm *payload.ErrTypeMismatch
	assert.ErrorAs(t, err, &tm)

	// Wipe skips points that already saw a newer version.
	mustApply(t)(s.SetFullPayload(20, 1, payload.Payload{"k": payload.Keyword("v")}))
	mustApply(t)(s.WipePayload(10))
	p1, err := s.Payload(1)
	require.NoError(t, err)
	assert.Len(t, p1, 1)
	p2, err := s.Payload(2)
	require.NoError(t, err)
	assert.Empty(t, p2)
}

func TestSegment_Apply(t *testing.T) {
	s := newSegment(t, dotConfig(2))
	ops := []operation.Operation{
		operation.Upsert(1, []float32{1, 1}).WithVersion(1),
		operation.SetPayload(1, payload.Payload{"a": payload.Keyword("x"), "b": payload.Integer(2)}).WithVersion(2),
		operation.DeletePayloadKey(1, "a").WithVersion(3),
		operation.Upsert(2, []float32{1, 0}).WithVersion(4),
		operation.ClearPayload(1).WithVersion(5),
		operation.SetPayload(2, payload.Payload{"c": payload.Float(1)}).WithVersion(6),
		operation.WipePayload().WithVersion(7),
		operation.DeletePoint(2).WithVersion(8),
	}
	for _, op := range ops {
		mustApply(t)(s.Apply(op))
	}
	assert.Equal(t, []model.PointID{1}, s.PointIDs())
	p, err := s.Payload(1)
	require.NoError(t, err)
	assert.Empty(t, p)

	// Replaying the whole log again changes nothing.
	for _, op := range ops {
		applied, err := s.Apply(op)
		require.NoError(t, err)
		assert.False(t, applied, op.String())
	}

	_, err = s.Apply(operation.Operation{Kind: 0})
	assert.ErrorIs(t, err, operation.ErrInvalid)
}

func TestSegment_Check(t *testing.T) {
	s := newSegment(t, dotConfig(2))
	mustApply(t)(s.UpsertPoint(1, 1, []float32{1, 0}))
	mustApply(t)(s.DeletePoint(5, 2))

	tests := []struct {
		name string
		op   operation.Operation
		err  error
	}{
		{"payload of live point", operation.SetPayload(1, payload.Payload{}).WithVersion(2), nil},
		{"payload of unknown point", operation.SetPayload(9, payload.Payload{}).WithVersion(2), ErrNotFound},
		{"delete key of unknown point", operation.DeletePayloadKey(9, "k").WithVersion(2), ErrNotFound},
		{"clear unknown point", operation.ClearPayload(9).WithVersion(2), ErrNotFound},
		{"stale payload of deleted point", operation.SetPayload(2, payload.Payload{}).WithVersion(4), nil},
		{"fresh payload of deleted point", operation.SetPayload(2, payload.Payload{}).WithVersion(6), ErrNotFound},
		{"upsert of unknown point", operation.Upsert(9, []float32{1, 1}).WithVersion(2), nil},
		{"delete unknown point", operation.DeletePoint(9).WithVersion(2), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Check(tt.op)
			if tt.err == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.err)
		})
	}
	assert.Equal(t, []model.PointID{1}, s.PointIDs(), "check changes nothing")
}

func TestSegment_FilteredSearchAcrossIndexes(t *testing.T) {
	configs := map[string]Config{
		"plain/plain":  {VectorSize: 4, Distance: distance.Euclid},
		"plain/struct": {VectorSize: 4, Distance: distance.Euclid, PayloadIndex: index.PayloadStruct},
		"hnsw/struct": {VectorSize: 4, Distance: distance.Euclid, PayloadIndex: index.PayloadStruct,
			Index: IndexConfig{Kind: index.KindHNSW, HNSW: &hnsw.Config{M: 8, EfConstruct: 64, FullScanThreshold: 1000}}},
		"hnsw/plain/mmap": {VectorSize: 4, Distance: distance.Euclid, Storage: vectorstore.Mmap,
			Index: IndexConfig{Kind: index.KindHNSW}},
	}

	rng := rand.New(rand.NewSource(1))
	vectors := make([][]float32, 300)
	for i := range vectors {
		vectors[i] = []float32{rng.Float32(), rng.Float32(), rng.Float32(), rng.Float32()}
	}
	cities := []string{"berlin", "bonn", "hamburg"}
	f := &filter.Filter{
		Must:    []filter.Condition{filter.MatchKeyword("city", "bonn")},
		MustNot: []filter.Condition{filter.InRange("n", filter.Range{LT: filter.Ptr(50.0)})},
	}
	query := []float32{0.5, 0.5, 0.5, 0.5}

	var want []model.ScoredPoint
	for _, name := range []string{"plain/plain", "plain/struct", "hnsw/struct", "hnsw/plain/mmap"} {
		t.Run(name, func(t *testing.T) {
			s := newSegment(t, configs[name])
			for i, v := range vectors {
				id := model.PointID(i + 100)
				mustApply(t)(s.UpsertPoint(model.Version(2*i+1), id, v))
				mustApply(t)(s.SetFullPayload(model.Version(2*i+2), id, payload.Payload{
					"city": payload.Keyword(cities[i%3]),
					"n":    payload.Integer(int64(i)),
				}))
			}
			for i := 0; i < 300; i += 7 {
				mustApply(t)(s.DeletePoint(1000, model.PointID(i+100)))
			}

			res, err := s.Search(context.Background(), query, f, 10, nil)
			require.NoError(t, err)
			require.Len(t, res, 10)

			n, err := s.Count(f)
			require.NoError(t, err)
			est := s.EstimateCardinality(f)
			assert.LessOrEqual(t, est.Min, n)
			assert.GreaterOrEqual(t, est.Max, n)

			if want == nil {
				want = res
				return
			}
			assert.Equal(t, want, res)
		})
	}
}

func TestSegment_WipePayloadPersistsVersions(t *testing.T) {
	dir := t.TempDir()
	s, err := Create(context.Background(), dir, dotConfig(2))
	require.NoError(t, err)
	mustApply(t)(s.UpsertPoint(1, 1, []float32{1, 0}))
	mustApply(t)(s.UpsertPoint(2, 2, []float32{0, 1}))
	require.NoError(t, s.Flush())

	mustApply(t)(s.WipePayload(10))
	require.NoError(t, s.Flush())
	require.NoError(t, s.Close())

	s, err = Open(context.Background(), dir)
	require.NoError(t, err)
	defer s.Close()
	for _, id := range []model.PointID{1, 2} {
		v, ok := s.Version(id)
		require.True(t, ok)
		assert.Equal(t, model.Version(10), v)
	}
}

func TestSegment_ReopenPersistsState(t *testing.T) {
	for _, typ := range []vectorstore.Type{vectorstore.InMemory, vectorstore.Mmap} {
		t.Run(typ.String(), func(t *testing.T) {
			dir := t.TempDir()
			cfg := Config{VectorSize: 2, Distance: distance.Cosine, Storage: typ, PayloadIndex: index.PayloadStruct}
			s, err := Create(context.Background(), dir, cfg)
			require.NoError(t, err)

			mustApply(t)(s.UpsertPoint(1, 1, []float32{1, 2}))
			mustApply(t)(s.UpsertPoint(2, 2, []float32{3, 4}))
			mustApply(t)(s.UpsertPoint(3, 3, []float32{5, 6}))
			mustApply(t)(s.SetFullPayload(4, 2, payload.Payload{"a": payload.Keyword("x")}))
			mustApply(t)(s.DeletePoint(5, 1))
			require.NoError(t, s.Close())
			require.NoError(t, s.Close())

			s, err = Open(context.Background(), dir)
			require.NoError(t, err)
			defer s.Close()

			assert.True(t, cfg.Equal(s.Config()))
			assert.Equal(t, []model.PointID{2, 3}, s.PointIDs())
			v, err := s.Vector(3)
			require.NoError(t, err)
			assert.Equal(t, []float32{5, 6}, v)
			p, err := s.Payload(2)
			require.NoError(t, err)
			assert.Equal(t, payload.Keyword("x"), p["a"])

			applied, err := s.UpsertPoint(5, 1, []float32{1, 1})
			require.NoError(t, err)
			assert.False(t, applied, "tombstone survives reopen")

			n, err := s.Count(&filter.Filter{Must: []filter.Condition{filter.MatchKeyword("a", "x")}})
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			info, err := s.Info()
			require.NoError(t, err)
			assert.Equal(t, 2, info.Points)
			assert.Equal(t, model.Version(5), info.MaxVersion)
			assert.Equal(t, payload.SchemaKeyword, info.Schema["a"])
			assert.Equal(t, 1, info.IndexedFields["a"])
			assert.Positive(t, info.DiskSize)
		})
	}
}

func TestSegment_CreateExisting(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{VectorSize: 4, Distance: distance.Dot, Index: IndexConfig{Kind: index.KindHNSW}}
	s, err := Create(context.Background(), dir, cfg)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Create(context.Background(), dir, cfg.withDefaults())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Create(context.Background(), dir, dotConfig(4))
	assert.ErrorIs(t, err, ErrConfigMismatch)

	_, err = Open(context.Background(), filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestSegment_ReconcileAfterPartialFlush(t *testing.T) {
	dir := t.TempDir()
	s, err := Create(context.Background(), dir, dotConfig(2))
	require.NoError(t, err)
	mustApply(t)(s.UpsertPoint(1, 1, []float32{1, 0}))
	mustApply(t)(s.UpsertPoint(2, 2, []float32{0, 1}))
	require.NoError(t, s.Flush())

	// Simulate a crash after the storages were written but before the tracker.
	mustApply(t)(s.UpsertPoint(3, 3, []float32{1, 1}))
	mustApply(t)(s.SetFullPayload(4, 3, payload.Payload{"a": payload.Keyword("x")}))
	mustApply(t)(s.DeletePoint(5, 2))
	require.NoError(t, s.vectors.Flush())
	require.NoError(t, s.payloads.Flush())
	s.closed = true
	require.NoError(t, s.vectors.Close())

	s, err = Open(context.Background(), dir)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, []model.PointID{1}, s.PointIDs(), "orphaned point 3 dropped, point 2 without vector released")
	assert.Equal(t, 0, s.payloads.Len())
	v, ok := s.Version(2)
	require.True(t, ok)
	assert.Equal(t, model.Version(2), v)

	res, err := s.Search(context.Background(), []float32{1, 1}, nil, 10, nil)
	require.NoError(t, err)
	assert.Equal(t, []model.ScoredPoint{{ID: 1, Score: 1}}, res)
}

func TestSegment_Closed(t *testing.T) {
	s, err := Create(context.Background(), t.TempDir(), dotConfig(2))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = s.UpsertPoint(1, 1, []float32{1, 0})
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.Search(context.Background(), []float32{1, 0}, nil, 1, nil)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.Payload(1)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Flush(), ErrClosed)
	_, err = s.Info()
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestSegment_SearchCancelled(t *testing.T) {
	s := newSegment(t, dotConfig(2))
	for i := range 5000 {
		mustApply(t)(s.UpsertPoint(model.Version(i+1), model.PointID(i), []float32{float32(i), 1}))
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Search(ctx, []float32{1, 0}, nil, 3, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSegment_Optimize(t *testing.T) {
	s := newSegment(t, Config{VectorSize: 2, Distance: distance.Dot, Index: IndexConfig{Kind: index.KindHNSW}})
	mustApply(t)(s.UpsertPoint(1, 1, []float32{1, 0}))
	mustApply(t)(s.UpsertPoint(2, 1, []float32{0, 1}))

	info, err := s.Info()
	require.NoError(t, err)
	require.NotNil(t, info.Graph)
	assert.Equal(t, 1, info.Graph.Stale)

	require.NoError(t, s.Optimize(context.Background()))
	info, err = s.Info()
	require.NoError(t, err)
	assert.Equal(t, 0, info.Graph.Stale)
	assert.Equal(t, 1, info.Graph.Nodes)
}
