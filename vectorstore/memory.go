package vectorstore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/vecseg/distance"
	"github.com/hupe1980/vecseg/internal/compress"
	"github.com/hupe1980/vecseg/internal/fs"
	"github.com/hupe1980/vecseg/model"
)

// MemoryFileName is the snapshot file written by MemoryStorage.
const MemoryFileName = "vectors.bin"

var memoryMagic = [4]byte{'V', 'S', 'V', 'M'}

// MemoryStorage keeps all vectors in one columnar slab.
//
// The zero value is not usable; construct with NewMemory or OpenMemory.
type MemoryStorage struct {
	mu     sync.RWMutex
	dim    int
	metric distance.Metric
	data   []float32
	norms  []float32 // inverse norms, 1 unless Cosine
	n      int
	tomb   *roaring.Bitmap
	path   string
	opts   Options
	dirty  bool
	closed bool
}

// NewMemory creates a storage that is never persisted.
func NewMemory(dim int, metric distance.Metric) *MemoryStorage {
	return &MemoryStorage{
		dim:    dim,
		metric: metric,
		tomb:   roaring.New(),
		opts:   DefaultOptions(),
	}
}

// OpenMemory loads the snapshot in dir if present. Flush rewrites it.
func OpenMemory(dir string, dim int, metric distance.Metric, optFns ...func(o *Options)) (*MemoryStorage, error) {
	s := NewMemory(dim, metric)
	for _, fn := range optFns {
		fn(&s.opts)
	}
	if s.opts.FS == nil {
		s.opts.FS = fs.Default
	}
	s.path = filepath.Join(dir, MemoryFileName)

	body, err := compress.ReadFile(s.opts.FS, s.path, memoryMagic)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("vectorstore: read %s: %w", s.path, err)
	}
	if err := s.decode(body); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MemoryStorage) Dim() int                { return s.dim }
func (s *MemoryStorage) Metric() distance.Metric { return s.metric }

func (s *MemoryStorage) VectorCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.n
}

func (s *MemoryStorage) LiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.n - int(s.tomb.GetCardinality()) //nolint:gosec
}

func (s *MemoryStorage) Get(offset model.PointOffset) ([]float32, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed || int(offset) >= s.n || s.tomb.Contains(uint32(offset)) {
		return nil, false
	}
	return slices.Clone(s.raw(offset)), true
}

func (s *MemoryStorage) Put(offset model.PointOffset, vector []float32) error {
	if len(vector) != s.dim {
		return &ErrDimensionMismatch{Expected: s.dim, Actual: len(vector)}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if int(offset) >= s.n {
		s.grow(int(offset) + 1)
	}
	copy(s.raw(offset), vector)
	s.norms[offset] = inverseNorm(s.metric, vector)
	s.tomb.Remove(uint32(offset))
	s.dirty = true
	return nil
}

// grow extends the slab to n offsets. New offsets start deleted.
func (s *MemoryStorage) grow(n int) {
	if n*s.dim > cap(s.data) {
		data := make([]float32, len(s.data), max(n*s.dim, 2*cap(s.data)))
		copy(data, s.data)
		s.data = data
	}
	s.data = s.data[:n*s.dim]
	s.norms = append(s.norms, make([]float32, n-s.n)...)
	s.tomb.AddRange(uint64(s.n), uint64(n)) //nolint:gosec
	s.n = n
}

func (s *MemoryStorage) Delete(offset model.PointOffset) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if int(offset) >= s.n {
		return false
	}
	if !s.tomb.CheckedAdd(uint32(offset)) {
		return false
	}
	s.dirty = true
	return true
}

func (s *MemoryStorage) IsDeleted(offset model.PointOffset) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.deleted(offset)
}

func (s *MemoryStorage) ScoreAll(ctx context.Context, query []float32, topK int) ([]model.ScoredOffset, error) {
	sc, err := newScorer(s.metric, s.dim, query)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	return scoreAll(ctx, s, sc, topK)
}

func (s *MemoryStorage) ScorePoints(ctx context.Context, query []float32, offsets []model.PointOffset, topK int) ([]model.ScoredOffset, error) {
	sc, err := newScorer(s.metric, s.dim, query)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	return scorePoints(ctx, s, sc, offsets, topK)
}

func (s *MemoryStorage) Scorer(query []float32) (func(model.PointOffset) (float32, bool), error) {
	sc, err := newScorer(s.metric, s.dim, query)
	if err != nil {
		return nil, err
	}
	return func(offset model.PointOffset) (float32, bool) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		if s.closed || int(offset) >= s.n {
			return 0, false
		}
		return sc.score(s, offset), true
	}, nil
}

// Flush writes the snapshot file if anything changed since the last flush.
// A storage created with NewMemory has nothing to flush.
func (s *MemoryStorage) Flush() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.path == "" || !s.dirty {
		s.mu.Unlock()
		return nil
	}
	body, err := s.encode()
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("vectorstore: flush: %w", err)
	}
	s.dirty = false
	s.mu.Unlock()

	if err := compress.WriteFile(s.opts.FS, s.path, memoryMagic, s.opts.Codec, body); err != nil {
		s.mu.Lock()
		s.dirty = true
		s.mu.Unlock()
		return fmt.Errorf("vectorstore: flush: %w", err)
	}
	return nil
}

func (s *MemoryStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.data, s.norms = nil, nil
	return nil
}

func (s *MemoryStorage) count() int { return s.n }

func (s *MemoryStorage) deleted(offset model.PointOffset) bool {
	return int(offset) >= s.n || s.tomb.Contains(uint32(offset))
}

func (s *MemoryStorage) raw(offset model.PointOffset) []float32 {
	i := int(offset) * s.dim
	return s.data[i : i+s.dim : i+s.dim]
}

func (s *MemoryStorage) invNorm(offset model.PointOffset) float32 { return s.norms[offset] }

// encode layout: [dim u32][count u32][count*dim float32][deleted bitmap].
func (s *MemoryStorage) encode() ([]byte, error) {
	buf := make([]byte, 0, 8+4*len(s.data)+int(s.tomb.GetSerializedSizeInBytes())) //nolint:gosec
	buf = binary.LittleEndian.AppendUint32(buf, uint32(s.dim))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(s.n))
	for _, f := range s.data {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(f))
	}
	tomb, err := s.tomb.ToBytes()
	if err != nil {
		return nil, fmt.Errorf("encode deleted set: %w", err)
	}
	return append(buf, tomb...), nil
}

func (s *MemoryStorage) decode(body []byte) error {
	if len(body) < 8 {
		return fmt.Errorf("%w: short snapshot", ErrCorrupted)
	}
	dim := int(binary.LittleEndian.Uint32(body))
	n := int(binary.LittleEndian.Uint32(body[4:]))
	if dim != s.dim {
		return &ErrDimensionMismatch{Expected: s.dim, Actual: dim}
	}
	body = body[8:]
	if len(body) < 4*n*dim {
		return fmt.Errorf("%w: truncated vector data", ErrCorrupted)
	}
	s.data = make([]float32, n*dim)
	for i := range s.data {
		s.data[i] = math.Float32frombits(binary.LittleEndian.Uint32(body[4*i:]))
	}
	s.n = n
	s.tomb = roaring.New()
	if err := s.tomb.UnmarshalBinary(body[4*n*dim:]); err != nil {
		return fmt.Errorf("%w: deleted set: %v", ErrCorrupted, err)
	}
	s.norms = make([]float32, n)
	for i := range n {
		s.norms[i] = inverseNorm(s.metric, s.raw(model.PointOffset(i))) //nolint:gosec
	}
	return nil
}
