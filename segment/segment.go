package segment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/vecseg/filter"
	"github.com/hupe1980/vecseg/index"
	"github.com/hupe1980/vecseg/index/hnsw"
	"github.com/hupe1980/vecseg/index/plain"
	"github.com/hupe1980/vecseg/index/structured"
	"github.com/hupe1980/vecseg/internal/compress"
	"github.com/hupe1980/vecseg/internal/fs"
	"github.com/hupe1980/vecseg/model"
	"github.com/hupe1980/vecseg/operation"
	"github.com/hupe1980/vecseg/payload"
	"github.com/hupe1980/vecseg/vectorstore"
)

// PayloadFileName is the sealed file holding the payload storage.
const PayloadFileName = "payload.bin"

// Options configures how a segment touches the file system.
type Options struct {
	FS     fs.FileSystem
	Codec  compress.Codec
	Logger *slog.Logger
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() Options {
	return Options{
		FS:     fs.Default,
		Codec:  compress.LZ4,
		Logger: slog.New(slog.DiscardHandler),
	}
}

// Segment owns the vector storage, the payload storage, the id tracker and
// the indexes of a set of points.
//
// Every mutation carries a version. A mutation whose version is not newer
// than the version last applied to the point is a successful no-op
// (applied == false, err == nil), which makes log replay idempotent.
// Segment is safe for concurrent use: mutations are serialized, reads share
// a read lock and never observe a half-applied mutation.
type Segment struct {
	mu   sync.RWMutex
	dir  string
	cfg  Config
	opts Options
	log  *slog.Logger

	vectors      vectorstore.Storage
	payloads     *payload.PersistentStorage
	tracker      *IDTracker
	payloadIndex index.PayloadIndex
	index        index.Index

	dirty  bool // tracker changed since the last flush
	closed bool
}

// Create creates a segment in dir. If dir already holds a segment with an
// equal configuration it is opened; a different configuration fails with
// ErrConfigMismatch.
func Create(ctx context.Context, dir string, cfg Config, optFns ...func(o *Options)) (*Segment, error) {
	opts := buildOptions(optFns)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	if err := opts.FS.MkdirAll(dir, 0o755); err != nil {
		return nil, serviceError("create directory", err)
	}

	existing, err := readConfig(opts.FS, dir)
	switch {
	case err == nil:
		if !existing.Equal(cfg) {
			return nil, fmt.Errorf("%w: %s", ErrConfigMismatch, dir)
		}
	case errors.Is(err, os.ErrNotExist):
		if err := writeConfig(opts.FS, dir, cfg); err != nil {
			return nil, serviceError("write config", err)
		}
	default:
		return nil, err
	}
	return open(ctx, dir, cfg, opts)
}

// Open opens the segment in dir using its persisted configuration.
func Open(ctx context.Context, dir string, optFns ...func(o *Options)) (*Segment, error) {
	opts := buildOptions(optFns)
	cfg, err := readConfig(opts.FS, dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("segment: no segment in %s: %w", dir, err)
		}
		return nil, err
	}
	return open(ctx, dir, cfg.withDefaults(), opts)
}

func buildOptions(optFns []func(o *Options)) Options {
	opts := DefaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.FS == nil {
		opts.FS = fs.Default
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return opts
}

func open(ctx context.Context, dir string, cfg Config, opts Options) (*Segment, error) {
	vectors, err := vectorstore.Open(dir, cfg.Storage, cfg.VectorSize, cfg.Distance, func(o *vectorstore.Options) {
		o.FS = opts.FS
		o.Codec = opts.Codec
	})
	if err != nil {
		return nil, serviceError("open vector storage", err)
	}

	payloads, err := payload.OpenPersistent(filepath.Join(dir, PayloadFileName), func(o *payload.PersistentOptions) {
		o.FS = opts.FS
		o.Codec = opts.Codec
	})
	if err != nil {
		_ = vectors.Close()
		return nil, serviceError("open payload storage", err)
	}

	tracker := NewIDTracker()
	body, err := compress.ReadFile(opts.FS, filepath.Join(dir, IDsFileName), idsMagic)
	switch {
	case err == nil:
		if err := tracker.UnmarshalBinary(body); err != nil {
			_ = vectors.Close()
			return nil, serviceError("decode id tracker", err)
		}
	case !errors.Is(err, os.ErrNotExist):
		_ = vectors.Close()
		return nil, serviceError("read id tracker", err)
	}

	s := &Segment{
		dir:      dir,
		cfg:      cfg,
		opts:     opts,
		log:      opts.Logger.With("segment", dir),
		vectors:  vectors,
		payloads: payloads,
		tracker:  tracker,
	}
	s.reconcile()

	if err := s.buildIndexes(ctx); err != nil {
		_ = vectors.Close()
		return nil, err
	}
	return s, nil
}

// reconcile makes the storages agree with the id tracker, which is the
// source of truth after a crash between storage and tracker flushes.
func (s *Segment) reconcile() {
	fixed := 0
	for i := range s.vectors.VectorCount() {
		off := model.PointOffset(i) //nolint:gosec
		if !s.tracker.IsLive(off) && s.vectors.Delete(off) {
			fixed++
		}
	}

	var orphans []model.PointOffset
	for off := range s.payloads.IterIDs() {
		if !s.tracker.IsLive(off) {
			orphans = append(orphans, off)
		}
	}
	for _, off := range orphans {
		_, _, _ = s.payloads.Drop(off)
		fixed++
	}

	for _, id := range s.tracker.IDs() {
		off, _ := s.tracker.Lookup(id)
		if !s.vectors.IsDeleted(off) {
			continue
		}
		s.log.Warn("point without vector released", "id", id, "offset", off)
		s.tracker.Release(id)
		_, _, _ = s.payloads.Drop(off)
		fixed++
	}

	if fixed > 0 {
		s.dirty = true
		s.log.Warn("reconciled storages with id tracker", "fixed", fixed)
	}
}

func (s *Segment) buildIndexes(ctx context.Context) error {
	checker := filter.NewChecker(s.payloads, s.tracker.ExternalID)

	switch s.cfg.PayloadIndex {
	case index.PayloadStruct:
		s.payloadIndex = structured.New(s.vectors, s.payloads, checker)
	default:
		s.payloadIndex = plain.NewPayloadIndex(s.vectors, checker)
	}

	switch s.cfg.Index.Kind {
	case index.KindHNSW:
		h, err := hnsw.New(s.vectors, s.payloadIndex, *s.cfg.Index.HNSW)
		if err != nil {
			return err
		}
		if err := h.Build(ctx); err != nil {
			return fmt.Errorf("segment: build hnsw: %w", err)
		}
		s.index = h
	default:
		s.index = plain.New(s.vectors, s.payloadIndex)
	}
	return nil
}

// Dir returns the segment directory.
func (s *Segment) Dir() string { return s.dir }

// Config returns the segment configuration.
func (s *Segment) Config() Config { return s.cfg }

func (s *Segment) checkDim(v []float32) error {
	if len(v) != s.cfg.VectorSize {
		return &ErrDimensionMismatch{Expected: s.cfg.VectorSize, Actual: len(v)}
	}
	return nil
}

// UpsertPoint inserts the point or overwrites its vector in place.
func (s *Segment) UpsertPoint(v model.Version, id model.PointID, vector []float32) (bool, error) {
	if err := s.checkDim(vector); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	if !s.tracker.Fresh(id, v) {
		return false, nil
	}

	off, existed := s.tracker.Lookup(id)
	if !existed {
		var err error
		if off, err = s.tracker.Allocate(id); err != nil {
			return false, serviceError("allocate offset", err)
		}
	}
	if err := s.vectors.Put(off, vector); err != nil {
		if !existed {
			s.tracker.Release(id)
		}
		return false, serviceError("write vector", err)
	}
	if !existed {
		s.payloadIndex.UpdatePoint(off)
	}
	s.tracker.SetVersion(id, v)
	s.dirty = true

	if err := s.index.UpdatePoint(off); err != nil {
		return true, serviceError("index vector", err)
	}
	return true, nil
}

// SetFullPayload replaces the whole payload of an existing point.
func (s *Segment) SetFullPayload(v model.Version, id model.PointID, p payload.Payload) (bool, error) {
	return s.updatePayload(v, id, func(off model.PointOffset) error {
		return s.payloads.AssignAll(off, p)
	})
}

// DeletePayloadKey removes one payload key of an existing point.
func (s *Segment) DeletePayloadKey(v model.Version, id model.PointID, key string) (bool, error) {
	return s.updatePayload(v, id, func(off model.PointOffset) error {
		_, _, err := s.payloads.Delete(off, key)
		return err
	})
}

// DropPayload removes every payload key of an existing point.
func (s *Segment) DropPayload(v model.Version, id model.PointID) (bool, error) {
	return s.updatePayload(v, id, func(off model.PointOffset) error {
		_, _, err := s.payloads.Drop(off)
		return err
	})
}

// updatePayload checks the version before existence, so a replayed payload
// update of a point deleted later is stale rather than not found.
func (s *Segment) updatePayload(v model.Version, id model.PointID, fn func(off model.PointOffset) error) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	if !s.tracker.Fresh(id, v) {
		return false, nil
	}
	off, ok := s.tracker.Lookup(id)
	if !ok {
		return false, notFound(id)
	}
	if err := fn(off); err != nil {
		return false, err
	}
	s.payloadIndex.UpdatePoint(off)
	s.tracker.SetVersion(id, v)
	s.dirty = true
	return true, nil
}

// WipePayload drops the payload of every live point for which v is fresh.
func (s *Segment) WipePayload(v model.Version) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}

	applied := false
	// Versions set before a failing drop still need flushing.
	defer func() {
		if applied {
			s.dirty = true
		}
	}()
	for _, id := range s.tracker.IDs() {
		if !s.tracker.Fresh(id, v) {
			continue
		}
		off, _ := s.tracker.Lookup(id)
		if _, _, err := s.payloads.Drop(off); err != nil {
			return applied, serviceError("drop payload", err)
		}
		s.payloadIndex.UpdatePoint(off)
		s.tracker.SetVersion(id, v)
		applied = true
	}
	return applied, nil
}

// DeletePoint removes a point and releases its offset. Deleting an unknown
// point records the version so an older replayed upsert stays stale.
func (s *Segment) DeletePoint(v model.Version, id model.PointID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	if !s.tracker.Fresh(id, v) {
		return false, nil
	}

	off, ok := s.tracker.Lookup(id)
	if !ok {
		s.tracker.SetVersion(id, v)
		s.dirty = true
		return false, nil
	}
	s.vectors.Delete(off)
	if _, _, err := s.payloads.Drop(off); err != nil {
		return false, serviceError("drop payload", err)
	}
	s.index.DropPoint(off)
	s.payloadIndex.DropPoint(off)
	s.tracker.Release(id)
	s.tracker.SetVersion(id, v)
	s.dirty = true
	return true, nil
}

// Apply dispatches op to the matching mutation.
func (s *Segment) Apply(op operation.Operation) (bool, error) {
	switch op.Kind {
	case operation.KindUpsert:
		return s.UpsertPoint(op.Version, op.PointID, op.Vector)
	case operation.KindSetPayload:
		return s.SetFullPayload(op.Version, op.PointID, op.Payload)
	case operation.KindDeletePayloadKey:
		return s.DeletePayloadKey(op.Version, op.PointID, op.Key)
	case operation.KindClearPayload:
		return s.DropPayload(op.Version, op.PointID)
	case operation.KindDeletePoint:
		return s.DeletePoint(op.Version, op.PointID)
	case operation.KindWipePayload:
		return s.WipePayload(op.Version)
	default:
		return false, op.Validate()
	}
}

// Check reports the not-found error Apply would return for a payload
// operation on a missing point, without changing anything. Stale operations
// pass, since Apply skips them. Callers that serialize writes use it to keep
// such operations out of the log.
func (s *Segment) Check(op operation.Operation) error {
	switch op.Kind {
	case operation.KindSetPayload, operation.KindDeletePayloadKey, operation.KindClearPayload:
	default:
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	if !s.tracker.Fresh(op.PointID, op.Version) {
		return nil
	}
	if _, ok := s.tracker.Lookup(op.PointID); !ok {
		return notFound(op.PointID)
	}
	return nil
}

// Payload returns a copy of the payload of a point.
func (s *Segment) Payload(id model.PointID) (payload.Payload, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	off, ok := s.tracker.Lookup(id)
	if !ok {
		return nil, notFound(id)
	}
	return s.payloads.Payload(off), nil
}

// Vector returns a copy of the vector of a point as it was written.
func (s *Segment) Vector(id model.PointID) ([]float32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	off, ok := s.tracker.Lookup(id)
	if !ok {
		return nil, notFound(id)
	}
	vec, ok := s.vectors.Get(off)
	if !ok {
		return nil, serviceError(fmt.Sprintf("vector of point %d missing at offset %d", id, off), nil)
	}
	return vec, nil
}

// Version returns the last applied version of a point, deleted points included.
func (s *Segment) Version(id model.PointID) (model.Version, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tracker.Version(id)
}

// PointIDs returns the live point ids in ascending order.
func (s *Segment) PointIDs() []model.PointID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tracker.IDs()
}

// Len returns the number of live points.
func (s *Segment) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tracker.Len()
}

// Search returns at most topK points best first. Equal scores are ordered by
// ascending offset. f may be nil.
func (s *Segment) Search(ctx context.Context, query []float32, f *filter.Filter, topK int, params *index.SearchParams) ([]model.ScoredPoint, error) {
	if err := s.checkDim(query); err != nil {
		return nil, err
	}
	if f != nil {
		if err := f.Validate(); err != nil {
			return nil, err
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	hits, err := s.index.Search(ctx, query, f, topK, params)
	if err != nil {
		return nil, err
	}
	out := make([]model.ScoredPoint, 0, len(hits))
	for _, h := range hits {
		id, ok := s.tracker.ExternalID(h.Offset)
		if !ok {
			continue
		}
		out = append(out, model.ScoredPoint{ID: id, Score: h.Score})
	}
	return out, nil
}

// Count returns the number of live points matching f.
func (s *Segment) Count(f *filter.Filter) (int, error) {
	if f != nil {
		if err := f.Validate(); err != nil {
			return 0, err
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrClosed
	}
	if f.IsEmpty() {
		return s.tracker.Len(), nil
	}
	return len(s.payloadIndex.QueryPoints(f)), nil
}

// EstimateCardinality estimates how many live points match f.
func (s *Segment) EstimateCardinality(f *filter.Filter) index.Cardinality {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.payloadIndex.EstimateCardinality(f)
}

// Optimize rebuilds derived index structures from the storages.
func (s *Segment) Optimize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.index.Build(ctx)
}

// Flush persists the storages and then the id tracker.
func (s *Segment) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.flushLocked()
}

func (s *Segment) flushLocked() error {
	var g errgroup.Group
	g.Go(s.vectors.Flush)
	g.Go(s.payloads.Flush)
	if err := g.Wait(); err != nil {
		return serviceError("flush storages", err)
	}

	if !s.dirty {
		return nil
	}
	body, err := s.tracker.MarshalBinary()
	if err != nil {
		return serviceError("encode id tracker", err)
	}
	if err := compress.WriteFile(s.opts.FS, filepath.Join(s.dir, IDsFileName), idsMagic, s.opts.Codec, body); err != nil {
		return serviceError("write id tracker", err)
	}
	s.dirty = false
	s.log.Debug("segment flushed", "points", s.tracker.Len())
	return nil
}

// Close flushes and releases the storages. Closing twice is a no-op.
func (s *Segment) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	flushErr := s.flushLocked()
	s.closed = true
	return errors.Join(flushErr, s.vectors.Close())
}
