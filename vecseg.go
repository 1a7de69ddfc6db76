package vecseg

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hupe1980/vecseg/filter"
	"github.com/hupe1980/vecseg/index"
	"github.com/hupe1980/vecseg/model"
	"github.com/hupe1980/vecseg/operation"
	"github.com/hupe1980/vecseg/payload"
	"github.com/hupe1980/vecseg/segment"
	"github.com/hupe1980/vecseg/updater"
	"github.com/hupe1980/vecseg/wal"
)

// Result reports the version a mutation was logged with and whether it
// changed the segment.
type Result = updater.Result

// DB is a durable segment: every mutation is appended to the operation log
// and then applied, and the log is replayed on Open.
//
// DB is safe for concurrent use. Mutations are applied one at a time in
// submission order; queries run concurrently with each other.
type DB struct {
	seg    *segment.Segment
	wal    *wal.WAL
	upd    *updater.Handler
	opts   options
	log    *Logger
	closed atomic.Bool
}

// Open opens the segment in dir and replays its operation log.
// Without Create the directory must already hold a segment.
func Open(ctx context.Context, dir string, optFns ...Option) (*DB, error) {
	o := applyOptions(optFns)
	log := o.logger.WithSegment(dir)

	segOpts := func(so *segment.Options) {
		so.FS = o.fs
		so.Logger = log.Logger
	}
	var (
		seg *segment.Segment
		err error
	)
	if o.config != nil {
		seg, err = segment.Create(ctx, dir, *o.config, segOpts)
	} else {
		seg, err = segment.Open(ctx, dir, segOpts)
	}
	if err != nil {
		return nil, translateError(err)
	}

	walOpts := append([]func(*wal.Options){func(wo *wal.Options) {
		wo.Path = dir
		wo.FS = o.fs
	}}, o.walOptions...)
	w, err := wal.Open(walOpts...)
	if err != nil {
		_ = seg.Close()
		return nil, translateError(err)
	}

	db := &DB{
		seg:  seg,
		wal:  w,
		opts: o,
		log:  log,
	}
	db.upd = updater.New(seg, w, func(uo *updater.Options) {
		uo.Logger = log.Logger
		if o.queueSize > 0 {
			uo.QueueSize = o.queueSize
		}
	})

	start := time.Now()
	stats, err := db.upd.Replay(ctx)
	o.metricsCollector.RecordReplay(stats.Records, time.Since(start), err)
	log.LogRecovery(ctx, stats, err)
	if err != nil {
		db.upd.Close()
		_ = w.Close()
		_ = seg.Close()
		return nil, translateError(err)
	}
	return db, nil
}

// Upsert inserts the point or replaces its vector. model.AutoVersion is
// replaced by the next version after every version seen so far.
func (db *DB) Upsert(ctx context.Context, v model.Version, id model.PointID, vector []float32) (Result, error) {
	start := time.Now()
	res, err := db.submit(ctx, operation.Upsert(id, vector).WithVersion(v))
	db.opts.metricsCollector.RecordUpsert(time.Since(start), res.Applied, err)
	db.log.LogUpsert(ctx, id, res, err)
	return res, err
}

// SetPayload replaces the full payload of an existing point.
func (db *DB) SetPayload(ctx context.Context, v model.Version, id model.PointID, p payload.Payload) (Result, error) {
	return db.payloadOp(ctx, "set", operation.SetPayload(id, p).WithVersion(v))
}

// SetPayloadJSON replaces the full payload from the typed interchange:
// each value is a string, integer or float scalar or a homogeneous list.
func (db *DB) SetPayloadJSON(ctx context.Context, v model.Version, id model.PointID, data []byte) (Result, error) {
	p, err := payload.ParseTyped(data)
	if err != nil {
		return Result{}, translateError(err)
	}
	return db.SetPayload(ctx, v, id, p)
}

// SetPayloadValue replaces the full payload from a generic tree. Nested
// objects are flattened, scalars are normalized to keywords and integers,
// and arrays are dropped.
func (db *DB) SetPayloadValue(ctx context.Context, v model.Version, id model.PointID, tree map[string]any) (Result, error) {
	p, err := payload.Flatten(tree)
	if err != nil {
		return Result{}, translateError(err)
	}
	return db.SetPayload(ctx, v, id, p)
}

// DeletePayloadKey removes one payload field of an existing point.
func (db *DB) DeletePayloadKey(ctx context.Context, v model.Version, id model.PointID, key string) (Result, error) {
	return db.payloadOp(ctx, "delete_key", operation.DeletePayloadKey(id, key).WithVersion(v))
}

// ClearPayload removes every payload field of an existing point.
func (db *DB) ClearPayload(ctx context.Context, v model.Version, id model.PointID) (Result, error) {
	return db.payloadOp(ctx, "clear", operation.ClearPayload(id).WithVersion(v))
}

// WipePayload clears the payload of every point the version is newer for.
func (db *DB) WipePayload(ctx context.Context, v model.Version) (Result, error) {
	return db.payloadOp(ctx, "wipe", operation.WipePayload().WithVersion(v))
}

func (db *DB) payloadOp(ctx context.Context, name string, op operation.Operation) (Result, error) {
	start := time.Now()
	res, err := db.submit(ctx, op)
	db.opts.metricsCollector.RecordPayload(time.Since(start), res.Applied, err)
	db.log.LogPayload(ctx, name, op.PointID, res, err)
	return res, err
}

// DeletePoint removes a point. Deleting an unknown point records the
// version and reports Applied == false.
func (db *DB) DeletePoint(ctx context.Context, v model.Version, id model.PointID) (Result, error) {
	start := time.Now()
	res, err := db.submit(ctx, operation.DeletePoint(id).WithVersion(v))
	db.opts.metricsCollector.RecordDelete(time.Since(start), res.Applied, err)
	db.log.LogDelete(ctx, id, res, err)
	return res, err
}

// Apply logs and applies an arbitrary operation.
func (db *DB) Apply(ctx context.Context, op operation.Operation) (Result, error) {
	return db.submit(ctx, op)
}

func (db *DB) submit(ctx context.Context, op operation.Operation) (Result, error) {
	if db.closed.Load() {
		return Result{}, ErrClosed
	}
	res, err := db.upd.Submit(ctx, op)
	return res, translateError(err)
}

// SearchOption configures a single search.
type SearchOption func(*searchOptions)

type searchOptions struct {
	filter     *filter.Filter
	filterJSON []byte
	params     *index.SearchParams
}

// WithFilter restricts the search to points matching f.
func WithFilter(f *filter.Filter) SearchOption {
	return func(o *searchOptions) {
		o.filter = f
	}
}

// WithFilterJSON restricts the search to points matching the JSON filter.
func WithFilterJSON(data []byte) SearchOption {
	return func(o *searchOptions) {
		o.filterJSON = data
	}
}

// WithHNSWEf overrides the graph search breadth of hnsw segments.
func WithHNSWEf(ef int) SearchOption {
	return func(o *searchOptions) {
		if o.params == nil {
			o.params = &index.SearchParams{}
		}
		o.params.HNSWEf = ef
	}
}

func (o *searchOptions) resolveFilter() (*filter.Filter, error) {
	if o.filterJSON == nil {
		return o.filter, nil
	}
	if o.filter != nil {
		return nil, fmt.Errorf("%w: both a filter and a JSON filter given", ErrInvalidArgument)
	}
	return filter.Parse(o.filterJSON)
}

// Search returns at most topK points ordered best first.
// A topK of zero returns no points.
func (db *DB) Search(ctx context.Context, query []float32, topK int, optFns ...SearchOption) ([]model.ScoredPoint, error) {
	start := time.Now()
	var o searchOptions
	for _, fn := range optFns {
		fn(&o)
	}

	hits, err := db.search(ctx, query, topK, &o)
	err = translateError(err)
	db.opts.metricsCollector.RecordSearch(topK, time.Since(start), err)
	db.log.LogSearch(ctx, topK, len(hits), o.filter != nil || o.filterJSON != nil, err)
	return hits, err
}

func (db *DB) search(ctx context.Context, query []float32, topK int, o *searchOptions) ([]model.ScoredPoint, error) {
	if db.closed.Load() {
		return nil, ErrClosed
	}
	if topK < 0 {
		return nil, fmt.Errorf("%w: negative top_k %d", ErrInvalidArgument, topK)
	}
	f, err := o.resolveFilter()
	if err != nil {
		return nil, err
	}
	return db.seg.Search(ctx, query, f, topK, o.params)
}

// Count returns the number of points matching f. A nil filter counts every point.
func (db *DB) Count(f *filter.Filter) (int, error) {
	if db.closed.Load() {
		return 0, ErrClosed
	}
	n, err := db.seg.Count(f)
	return n, translateError(err)
}

// Payload returns the payload of a point.
func (db *DB) Payload(id model.PointID) (payload.Payload, error) {
	if db.closed.Load() {
		return nil, ErrClosed
	}
	p, err := db.seg.Payload(id)
	return p, translateError(err)
}

// PayloadExport returns the payload of a point as a generic tree.
func (db *DB) PayloadExport(id model.PointID) (map[string]any, error) {
	p, err := db.Payload(id)
	if err != nil {
		return nil, err
	}
	return payload.Export(p), nil
}

// Vector returns the vector of a point.
func (db *DB) Vector(id model.PointID) ([]float32, error) {
	if db.closed.Load() {
		return nil, ErrClosed
	}
	v, err := db.seg.Vector(id)
	return v, translateError(err)
}

// Info returns segment statistics.
func (db *DB) Info() (segment.Info, error) {
	if db.closed.Load() {
		return segment.Info{}, ErrClosed
	}
	info, err := db.seg.Info()
	return info, translateError(err)
}

// Dir returns the segment directory.
func (db *DB) Dir() string { return db.seg.Dir() }

// Flush persists the segment and truncates the operation log.
func (db *DB) Flush(ctx context.Context) error {
	if db.closed.Load() {
		return ErrClosed
	}
	err := translateError(db.upd.Flush(ctx))
	db.log.LogFlush(ctx, err)
	return err
}

// Optimize rebuilds derived index structures, such as the hnsw graph.
func (db *DB) Optimize(ctx context.Context) error {
	if db.closed.Load() {
		return ErrClosed
	}
	return translateError(db.seg.Optimize(ctx))
}

// Close flushes the segment, truncates the log and releases resources.
func (db *DB) Close() error {
	if db == nil || !db.closed.CompareAndSwap(false, true) {
		return nil
	}
	ctx := context.Background()
	flushErr := db.upd.Flush(ctx)
	db.log.LogFlush(ctx, flushErr)
	db.upd.Close()
	return translateError(errors.Join(flushErr, db.wal.Close(), db.seg.Close()))
}
