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
	"github.com/hupe1980/vecseg/internal/mmap"
	"github.com/hupe1980/vecseg/model"
)

const (
	// MmapFileName holds the fixed-width vector records.
	MmapFileName = "vectors.mmap"
	// MmapDeletedFileName holds the deleted set, written on Flush.
	MmapDeletedFileName = "vectors.deleted"

	mmapHeaderSize    = 16
	mmapFormatVersion = 1
	mmapMinCapacity   = 16
)

var (
	mmapMagic        = [4]byte{'V', 'S', 'M', 'M'}
	mmapDeletedMagic = [4]byte{'V', 'S', 'M', 'D'}
)

// MmapStorage stores vectors as fixed-width records in a file.
//
// File layout:
//
//	[magic "VSMM"][version u16][reserved u16][dim u32][count u32]
//	[record 0: dim x float32 LE][record 1]...
//
// Records are written with WriteAt and read through a shared mapping. The
// file grows by doubling; the mapping is reopened after every growth. The
// count in the header is only updated on Flush, records past it are ignored
// on open.
type MmapStorage struct {
	mu       sync.RWMutex
	dim      int
	metric   distance.Metric
	recSize  int
	path     string
	file     fs.File
	mapping  *mmap.Mapping
	capacity int
	n        int
	norms    []float32
	tomb     *roaring.Bitmap
	opts     Options
	dirty    bool
	closed   bool
}

// OpenMmap opens or creates the record file in dir.
// The mapping is always made through the operating system, so opts.FS must
// refer to the local file system.
func OpenMmap(dir string, dim int, metric distance.Metric, optFns ...func(o *Options)) (*MmapStorage, error) {
	opts := DefaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.FS == nil {
		opts.FS = fs.Default
	}
	if dim <= 0 {
		return nil, fmt.Errorf("vectorstore: invalid dimension %d", dim)
	}

	s := &MmapStorage{
		dim:     dim,
		metric:  metric,
		recSize: 4 * dim,
		path:    filepath.Join(dir, MmapFileName),
		tomb:    roaring.New(),
		opts:    opts,
	}

	f, err := opts.FS.OpenFile(s.path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: open %s: %w", s.path, err)
	}
	s.file = f

	if err := s.load(dir); err != nil {
		_ = f.Close()
		if s.mapping != nil {
			_ = s.mapping.Close()
		}
		return nil, err
	}
	return s, nil
}

func (s *MmapStorage) load(dir string) error {
	st, err := s.file.Stat()
	if err != nil {
		return err
	}

	if st.Size() == 0 {
		if err := s.writeHeader(); err != nil {
			return err
		}
	} else {
		hdr := make([]byte, mmapHeaderSize)
		if _, err := s.file.ReadAt(hdr, 0); err != nil {
			return fmt.Errorf("%w: read header: %v", ErrCorrupted, err)
		}
		if [4]byte(hdr[:4]) != mmapMagic {
			return fmt.Errorf("%w: bad magic", ErrCorrupted)
		}
		if v := binary.LittleEndian.Uint16(hdr[4:]); v != mmapFormatVersion {
			return fmt.Errorf("%w: unsupported version %d", ErrCorrupted, v)
		}
		if dim := int(binary.LittleEndian.Uint32(hdr[8:])); dim != s.dim {
			return &ErrDimensionMismatch{Expected: s.dim, Actual: dim}
		}
		s.n = int(binary.LittleEndian.Uint32(hdr[12:]))
		s.capacity = int(st.Size()-mmapHeaderSize) / s.recSize
		if s.n > s.capacity {
			return fmt.Errorf("%w: count %d exceeds capacity %d", ErrCorrupted, s.n, s.capacity)
		}
	}

	if err := s.remap(); err != nil {
		return err
	}

	body, err := compress.ReadFile(s.opts.FS, filepath.Join(dir, MmapDeletedFileName), mmapDeletedMagic)
	switch {
	case err == nil:
		if err := s.tomb.UnmarshalBinary(body); err != nil {
			return fmt.Errorf("%w: deleted set: %v", ErrCorrupted, err)
		}
		s.tomb.RemoveRange(uint64(s.n), math.MaxUint32+1) //nolint:gosec
	case errors.Is(err, os.ErrNotExist):
	default:
		return fmt.Errorf("vectorstore: read deleted set: %w", err)
	}

	s.norms = make([]float32, s.n)
	for i := range s.n {
		s.norms[i] = inverseNorm(s.metric, s.raw(model.PointOffset(i))) //nolint:gosec
	}
	return nil
}

func (s *MmapStorage) writeHeader() error {
	hdr := make([]byte, mmapHeaderSize)
	copy(hdr, mmapMagic[:])
	binary.LittleEndian.PutUint16(hdr[4:], mmapFormatVersion)
	binary.LittleEndian.PutUint32(hdr[8:], uint32(s.dim)) //nolint:gosec
	binary.LittleEndian.PutUint32(hdr[12:], uint32(s.n))  //nolint:gosec
	_, err := s.file.WriteAt(hdr, 0)
	return err
}

func (s *MmapStorage) remap() error {
	if s.mapping == nil {
		m, err := mmap.Open(s.path, mmap.HintRandom)
		if err != nil {
			return fmt.Errorf("vectorstore: map %s: %w", s.path, err)
		}
		s.mapping = m
		return nil
	}
	if err := s.mapping.Remap(); err != nil {
		return fmt.Errorf("vectorstore: map %s: %w", s.path, err)
	}
	return nil
}

func (s *MmapStorage) ensureCapacity(n int) error {
	if n <= s.capacity {
		return nil
	}
	newCap := max(n, 2*s.capacity, mmapMinCapacity)
	if s.mapping != nil {
		if err := s.mapping.Release(); err != nil {
			return err
		}
	}
	if err := s.file.Truncate(int64(mmapHeaderSize + newCap*s.recSize)); err != nil {
		return fmt.Errorf("vectorstore: grow %s: %w", s.path, err)
	}
	s.capacity = newCap
	return s.remap()
}

func (s *MmapStorage) Dim() int                { return s.dim }
func (s *MmapStorage) Metric() distance.Metric { return s.metric }

func (s *MmapStorage) VectorCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.n
}

func (s *MmapStorage) LiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.n - int(s.tomb.GetCardinality()) //nolint:gosec
}

func (s *MmapStorage) Get(offset model.PointOffset) ([]float32, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed || s.deleted(offset) {
		return nil, false
	}
	return slices.Clone(s.raw(offset)), true
}

func (s *MmapStorage) Put(offset model.PointOffset, vector []float32) error {
	if len(vector) != s.dim {
		return &ErrDimensionMismatch{Expected: s.dim, Actual: len(vector)}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.ensureCapacity(int(offset) + 1); err != nil {
		return err
	}

	rec := make([]byte, s.recSize)
	for i, f := range vector {
		binary.LittleEndian.PutUint32(rec[4*i:], math.Float32bits(f))
	}
	if _, err := s.file.WriteAt(rec, int64(mmapHeaderSize+int(offset)*s.recSize)); err != nil {
		return fmt.Errorf("vectorstore: write record %d: %w", offset, err)
	}

	if int(offset) >= s.n {
		s.tomb.AddRange(uint64(s.n), uint64(offset)+1)
		s.norms = append(s.norms, make([]float32, int(offset)+1-s.n)...)
		s.n = int(offset) + 1
	}
	s.norms[offset] = inverseNorm(s.metric, vector)
	s.tomb.Remove(uint32(offset))
	s.dirty = true
	return nil
}

func (s *MmapStorage) Delete(offset model.PointOffset) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if int(offset) >= s.n || !s.tomb.CheckedAdd(uint32(offset)) {
		return false
	}
	s.dirty = true
	return true
}

func (s *MmapStorage) IsDeleted(offset model.PointOffset) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.deleted(offset)
}

func (s *MmapStorage) ScoreAll(ctx context.Context, query []float32, topK int) ([]model.ScoredOffset, error) {
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

func (s *MmapStorage) ScorePoints(ctx context.Context, query []float32, offsets []model.PointOffset, topK int) ([]model.ScoredOffset, error) {
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

func (s *MmapStorage) Scorer(query []float32) (func(model.PointOffset) (float32, bool), error) {
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

// Flush syncs the records, then writes the header count and the deleted set.
func (s *MmapStorage) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if !s.dirty {
		return nil
	}
	if err := s.writeHeader(); err != nil {
		return fmt.Errorf("vectorstore: flush header: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("vectorstore: sync %s: %w", s.path, err)
	}
	tomb, err := s.tomb.ToBytes()
	if err != nil {
		return fmt.Errorf("vectorstore: encode deleted set: %w", err)
	}
	deletedPath := filepath.Join(filepath.Dir(s.path), MmapDeletedFileName)
	if err := compress.WriteFile(s.opts.FS, deletedPath, mmapDeletedMagic, s.opts.Codec, tomb); err != nil {
		return fmt.Errorf("vectorstore: flush deleted set: %w", err)
	}
	s.dirty = false
	return nil
}

func (s *MmapStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	var errs []error
	if s.mapping != nil {
		errs = append(errs, s.mapping.Close())
	}
	errs = append(errs, s.file.Close())
	return errors.Join(errs...)
}

func (s *MmapStorage) count() int { return s.n }

func (s *MmapStorage) deleted(offset model.PointOffset) bool {
	return int(offset) >= s.n || s.tomb.Contains(uint32(offset))
}

func (s *MmapStorage) raw(offset model.PointOffset) []float32 {
	v, err := s.mapping.Float32s(mmapHeaderSize+int(offset)*s.recSize, s.dim)
	if err != nil {
		return make([]float32, s.dim)
	}
	return v
}

func (s *MmapStorage) invNorm(offset model.PointOffset) float32 { return s.norms[offset] }
