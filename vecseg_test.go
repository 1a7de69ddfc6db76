package vecseg

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vecseg/distance"
	"github.com/hupe1980/vecseg/filter"
	"github.com/hupe1980/vecseg/index"
	"github.com/hupe1980/vecseg/index/hnsw"
	"github.com/hupe1980/vecseg/internal/fs"
	"github.com/hupe1980/vecseg/model"
	"github.com/hupe1980/vecseg/payload"
	"github.com/hupe1980/vecseg/segment"
	"github.com/hupe1980/vecseg/wal"
)

func dotConfig() segment.Config {
	return segment.Config{VectorSize: 4, Distance: distance.Dot}
}

func openDB(t *testing.T, dir string, optFns ...Option) *DB {
	t.Helper()
	optFns = append([]Option{Create(dotConfig()), WithDurability(wal.DurabilityAsync)}, optFns...)
	db, err := Open(context.Background(), dir, optFns...)
	require.NoError(t, err)
	return db
}

// crash stops the log and the updater without flushing the segment.
func crash(t *testing.T, db *DB) {
	t.Helper()
	db.closed.Store(true)
	db.upd.Close()
	require.NoError(t, db.wal.Close())
}

func TestDB_EndToEnd(t *testing.T) {
	ctx := context.Background()
	db := openDB(t, t.TempDir())
	defer db.Close()

	_, err := db.Upsert(ctx, 1, 1, []float32{1, 0, 0, 0})
	require.NoError(t, err)
	_, err = db.Upsert(ctx, 2, 2, []float32{0, 1, 0, 0})
	require.NoError(t, err)

	hits, err := db.Search(ctx, []float32{1, 0, 0, 0}, 2)
	require.NoError(t, err)
	assert.Equal(t, []model.ScoredPoint{{ID: 1, Score: 1}, {ID: 2, Score: 0}}, hits)

	hits, err = db.Search(ctx, []float32{1, 0, 0, 0}, 0)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestDB_Versions(t *testing.T) {
	ctx := context.Background()
	db := openDB(t, t.TempDir())
	defer db.Close()

	res, err := db.Upsert(ctx, 5, 7, []float32{1, 0, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, Result{Version: 5, Applied: true}, res)

	res, err = db.Upsert(ctx, 5, 7, []float32{0, 1, 0, 0})
	require.NoError(t, err)
	assert.False(t, res.Applied)

	vec, err := db.Vector(7)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0, 0, 0}, vec)

	res, err = db.Upsert(ctx, model.AutoVersion, 7, []float32{0, 1, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, Result{Version: 6, Applied: true}, res)

	// Zero is not a version.
	_, err = db.Upsert(ctx, 0, 7, []float32{0, 0, 1, 0})
	require.ErrorIs(t, err, ErrInvalidArgument)
	_, err = db.SetPayload(ctx, 0, 7, payload.Payload{})
	require.ErrorIs(t, err, ErrInvalidArgument)
	vec, err = db.Vector(7)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1, 0, 0}, vec)
}

func TestDB_Payload(t *testing.T) {
	ctx := context.Background()
	db := openDB(t, t.TempDir())
	defer db.Close()

	_, err := db.Upsert(ctx, 1, 1, []float32{1, 0, 0, 0})
	require.NoError(t, err)

	_, err = db.SetPayloadJSON(ctx, 2, 1, []byte(`{"color": "red", "sizes": [1, 2]}`))
	require.NoError(t, err)
	p, err := db.Payload(1)
	require.NoError(t, err)
	assert.Equal(t, payload.Payload{
		"color": payload.Keyword("red"),
		"sizes": payload.Integer(1, 2),
	}, p)

	_, err = db.SetPayloadValue(ctx, 3, 1, map[string]any{
		"a": map[string]any{"b": 1, "c": "x"},
		"d": []any{1, 2},
	})
	require.NoError(t, err)
	p, err = db.Payload(1)
	require.NoError(t, err)
	assert.Equal(t, payload.Payload{
		"a__b": payload.Integer(1),
		"a__c": payload.Keyword("x"),
	}, p)

	_, err = db.DeletePayloadKey(ctx, 4, 1, "a__b")
	require.NoError(t, err)
	tree, err := db.PayloadExport(1)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a__c": []any{"x"}}, tree)

	res, err := db.ClearPayload(ctx, 5, 1)
	require.NoError(t, err)
	assert.True(t, res.Applied)
	p, err = db.Payload(1)
	require.NoError(t, err)
	assert.Empty(t, p)
}

func TestDB_Errors(t *testing.T) {
	ctx := context.Background()
	db := openDB(t, t.TempDir())

	_, err := db.Upsert(ctx, 1, 1, []float32{1, 0})
	var dm *ErrDimensionMismatch
	require.ErrorAs(t, err, &dm)
	assert.Equal(t, 4, dm.Expected)
	assert.Equal(t, 2, dm.Actual)

	_, err = db.Search(ctx, []float32{1}, 1)
	require.ErrorAs(t, err, &dm)

	_, err = db.Payload(42)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = db.SetPayload(ctx, 2, 42, payload.Payload{"a": payload.Keyword("x")})
	require.ErrorIs(t, err, ErrNotFound)

	_, err = db.SetPayloadJSON(ctx, 3, 1, []byte(`{"mixed": ["a", 1]}`))
	var tm *ErrTypeMismatch
	require.ErrorAs(t, err, &tm)
	assert.Equal(t, "mixed", tm.Field)

	_, err = db.Search(ctx, []float32{1, 0, 0, 0}, 1, WithFilterJSON([]byte(`{"must": [{"key": "a"}]}`)))
	require.ErrorIs(t, err, ErrInvalidArgument)
	_, err = db.Search(ctx, []float32{1, 0, 0, 0}, -1)
	require.ErrorIs(t, err, ErrInvalidArgument)

	require.NoError(t, db.Close())
	require.NoError(t, db.Close())

	_, err = db.Upsert(ctx, 9, 1, []float32{1, 0, 0, 0})
	require.ErrorIs(t, err, ErrClosed)
	_, err = db.Search(ctx, []float32{1, 0, 0, 0}, 1)
	require.ErrorIs(t, err, ErrClosed)
}

func TestDB_OpenWithoutConfig(t *testing.T) {
	_, err := Open(context.Background(), t.TempDir())
	require.Error(t, err)
}

func TestDB_ConfigMismatch(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, openDB(t, dir).Close())

	_, err := Open(context.Background(), dir, Create(segment.Config{VectorSize: 8, Distance: distance.Dot}))
	require.ErrorIs(t, err, ErrInvalidArgument)

	db, err := Open(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 4, db.seg.Config().VectorSize)
	require.NoError(t, db.Close())
}

func TestDB_RecoversFromLog(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	metrics := &BasicMetricsCollector{}

	db := openDB(t, dir)
	_, err := db.Upsert(ctx, 1, 1, []float32{1, 0, 0, 0})
	require.NoError(t, err)
	_, err = db.Upsert(ctx, 2, 2, []float32{0, 1, 0, 0})
	require.NoError(t, err)
	_, err = db.SetPayloadJSON(ctx, 3, 1, []byte(`{"color": "red"}`))
	require.NoError(t, err)
	_, err = db.DeletePoint(ctx, 4, 2)
	require.NoError(t, err)
	crash(t, db)

	db = openDB(t, dir, WithMetricsCollector(metrics))
	defer db.Close()

	assert.Equal(t, int64(4), metrics.GetStats().ReplayedEntries)
	p, err := db.Payload(1)
	require.NoError(t, err)
	assert.Equal(t, payload.Payload{"color": payload.Keyword("red")}, p)
	_, err = db.Vector(2)
	require.ErrorIs(t, err, ErrNotFound)

	res, err := db.Upsert(ctx, model.AutoVersion, 3, []float32{0, 0, 1, 0})
	require.NoError(t, err)
	assert.Equal(t, model.Version(5), res.Version)
}

func TestDB_ReplayIsIdempotent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	db := openDB(t, dir)
	for range 2 {
		_, err := db.Upsert(ctx, 5, 7, []float32{1, 2, 3, 4})
		require.NoError(t, err)
	}
	crash(t, db)

	var states []map[model.PointID][]float32
	for range 2 {
		db = openDB(t, dir)
		state := map[model.PointID][]float32{}
		for _, id := range db.seg.PointIDs() {
			vec, err := db.Vector(id)
			require.NoError(t, err)
			state[id] = vec
		}
		states = append(states, state)
		crash(t, db)
	}
	assert.Equal(t, map[model.PointID][]float32{7: {1, 2, 3, 4}}, states[0])
	assert.Equal(t, states[0], states[1])
}

func TestDB_FlushTruncatesLog(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	db := openDB(t, dir)

	_, err := db.Upsert(ctx, 1, 1, []float32{1, 0, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, 1, db.wal.Len())

	require.NoError(t, db.Flush(ctx))
	assert.Equal(t, 0, db.wal.Len())
	require.NoError(t, db.Close())

	db = openDB(t, dir)
	defer db.Close()
	vec, err := db.Vector(1)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0, 0, 0}, vec)
}

func TestDB_LogFailureRejectsWrite(t *testing.T) {
	ctx := context.Background()
	faulty := fs.NewFaultyFS(nil)
	// The header fits, the first record does not.
	faulty.AddRule(wal.FileName, fs.Fault{FailAfterBytes: 16})

	db := openDB(t, t.TempDir(), withFS(faulty), WithDurability(wal.DurabilitySync))
	defer func() { _ = db.Close() }()

	_, err := db.Upsert(ctx, 1, 1, []float32{1, 0, 0, 0})
	require.ErrorIs(t, err, fs.ErrInjected)
	assert.Equal(t, 0, db.seg.Len())
	assert.Equal(t, 0, db.wal.Len())
}

func TestDB_FilteredSearch(t *testing.T) {
	ctx := context.Background()
	configs := map[string]segment.Config{
		"plain": dotConfig(),
		"hnsw_struct": {
			VectorSize:   4,
			Distance:     distance.Dot,
			Index:        segment.IndexConfig{Kind: index.KindHNSW, HNSW: &hnsw.Config{M: 4, EfConstruct: 16, FullScanThreshold: 1}},
			PayloadIndex: index.PayloadStruct,
		},
	}
	for name, cfg := range configs {
		t.Run(name, func(t *testing.T) {
			db, err := Open(ctx, t.TempDir(), Create(cfg))
			require.NoError(t, err)
			defer db.Close()

			for i := range 20 {
				id := model.PointID(i + 1)
				_, err := db.Upsert(ctx, model.AutoVersion, id, []float32{float32(i), 1, 0, 0})
				require.NoError(t, err)
				color := "blue"
				if i%2 == 0 {
					color = "red"
				}
				_, err = db.SetPayload(ctx, model.AutoVersion, id, payload.Payload{"color": payload.Keyword(color)})
				require.NoError(t, err)
			}

			hits, err := db.Search(ctx, []float32{1, 0, 0, 0}, 3,
				WithFilterJSON([]byte(`{"must": [{"key": "color", "match": {"keyword": "red"}}]}`)),
				WithHNSWEf(32))
			require.NoError(t, err)
			ids := make([]model.PointID, 0, len(hits))
			for _, h := range hits {
				ids = append(ids, h.ID)
			}
			assert.Equal(t, []model.PointID{19, 17, 15}, ids)

			n, err := db.Count(&filter.Filter{Must: []filter.Condition{filter.MatchKeyword("color", "blue")}})
			require.NoError(t, err)
			assert.Equal(t, 10, n)
		})
	}
}

func TestDB_LoggerAndMetrics(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	metrics := &BasicMetricsCollector{}
	logger := NewLogger(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	db := openDB(t, t.TempDir(), WithLogger(logger), WithMetricsCollector(metrics))

	_, err := db.Upsert(ctx, 1, 1, []float32{1, 0, 0, 0})
	require.NoError(t, err)
	_, err = db.Upsert(ctx, 1, 1, []float32{1, 0, 0, 0})
	require.NoError(t, err)
	_, err = db.SetPayload(ctx, 2, 1, payload.Payload{"a": payload.Integer(1)})
	require.NoError(t, err)
	_, err = db.DeletePoint(ctx, 3, 1)
	require.NoError(t, err)
	_, err = db.Search(ctx, []float32{1, 0, 0, 0}, 5)
	require.NoError(t, err)
	_, err = db.Upsert(ctx, 4, 2, []float32{1})
	require.Error(t, err)
	require.NoError(t, db.Close())

	stats := metrics.GetStats()
	assert.Equal(t, int64(3), stats.UpsertCount)
	assert.Equal(t, int64(1), stats.PayloadCount)
	assert.Equal(t, int64(1), stats.DeleteCount)
	assert.Equal(t, int64(1), stats.SearchCount)
	assert.Equal(t, int64(1), stats.StaleCount)
	assert.Equal(t, int64(1), stats.ErrorCount)
	assert.Equal(t, int64(4), stats.WALAppends)

	out := buf.String()
	assert.Contains(t, out, `"msg":"upsert completed"`)
	assert.Contains(t, out, `"msg":"upsert failed"`)
	assert.Contains(t, out, `"msg":"WAL recovery completed"`)
	assert.Contains(t, out, `"msg":"flush completed"`)
}

func TestTranslateError(t *testing.T) {
	assert.Nil(t, translateError(nil))

	err := translateError(&segment.ErrPointNotFound{ID: 3})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, segment.ErrNotFound)

	err = translateError(wal.ErrCorrupted)
	assert.ErrorIs(t, err, ErrCorrupted)

	other := errors.New("other")
	assert.Equal(t, other, translateError(other))
}
