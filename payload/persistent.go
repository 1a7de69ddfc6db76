package payload

import (
	"encoding/binary"
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"sync/atomic"

	"github.com/hupe1980/vecseg/internal/compress"
	"github.com/hupe1980/vecseg/internal/fs"
	"github.com/hupe1980/vecseg/model"
)

var fileMagic = [4]byte{'V', 'S', 'P', 'L'}

// PersistentOptions configures a PersistentStorage.
type PersistentOptions struct {
	// FS is the file system used for the snapshot file.
	FS fs.FileSystem
	// Codec compresses the snapshot file.
	Codec compress.Codec
}

// DefaultPersistentOptions are the defaults used by OpenPersistent.
var DefaultPersistentOptions = PersistentOptions{
	FS:    fs.Default,
	Codec: compress.LZ4,
}

// PersistentStorage is a MemoryStorage backed by a sealed snapshot file.
//
// Mutations stay in memory until Flush rewrites the file atomically.
// Flush skips the write when nothing changed since the last flush.
type PersistentStorage struct {
	*MemoryStorage
	path  string
	opts  PersistentOptions
	dirty atomic.Bool
}

// OpenPersistent opens the snapshot at path, or starts empty if it does not exist.
func OpenPersistent(path string, optFns ...func(o *PersistentOptions)) (*PersistentStorage, error) {
	opts := DefaultPersistentOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	s := &PersistentStorage{
		MemoryStorage: NewMemoryStorage(),
		path:          path,
		opts:          opts,
	}

	body, err := compress.ReadFile(opts.FS, path, fileMagic)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, err
	}
	if err := s.decode(body); err != nil {
		return nil, fmt.Errorf("payload: load %s: %w", path, err)
	}
	return s, nil
}

// Path returns the snapshot file path.
func (s *PersistentStorage) Path() string { return s.path }

func (s *PersistentStorage) Assign(offset model.PointOffset, key string, value Value) error {
	if err := s.MemoryStorage.Assign(offset, key, value); err != nil {
		return err
	}
	s.dirty.Store(true)
	return nil
}

func (s *PersistentStorage) AssignAll(offset model.PointOffset, p Payload) error {
	if err := s.MemoryStorage.AssignAll(offset, p); err != nil {
		return err
	}
	s.dirty.Store(true)
	return nil
}

func (s *PersistentStorage) AssignAllWithValue(offset model.PointOffset, tree map[string]any) error {
	p, err := Flatten(tree)
	if err != nil {
		return err
	}
	return s.AssignAll(offset, p)
}

func (s *PersistentStorage) Delete(offset model.PointOffset, key string) (Value, bool, error) {
	v, ok, err := s.MemoryStorage.Delete(offset, key)
	if ok {
		s.dirty.Store(true)
	}
	return v, ok, err
}

func (s *PersistentStorage) Drop(offset model.PointOffset) (Payload, bool, error) {
	p, ok, err := s.MemoryStorage.Drop(offset)
	if ok {
		s.dirty.Store(true)
	}
	return p, ok, err
}

func (s *PersistentStorage) Wipe() error {
	if err := s.MemoryStorage.Wipe(); err != nil {
		return err
	}
	s.dirty.Store(true)
	return nil
}

// Flush writes the snapshot file if anything changed.
func (s *PersistentStorage) Flush() error {
	if !s.dirty.Swap(false) {
		return nil
	}

	body, err := s.encode()
	if err != nil {
		s.dirty.Store(true)
		return err
	}
	if err := compress.WriteFile(s.opts.FS, s.path, fileMagic, s.opts.Codec, body); err != nil {
		s.dirty.Store(true)
		return fmt.Errorf("payload: flush %s: %w", s.path, err)
	}
	return nil
}

// Body: [Count uvarint] then per point [Offset uvarint][Payload].
func (s *PersistentStorage) encode() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	buf := binary.AppendUvarint(nil, uint64(len(s.data)))
	for _, off := range slices.Sorted(maps.Keys(s.data)) {
		buf = binary.AppendUvarint(buf, uint64(off))
		var err error
		if buf, err = s.data[off].AppendBinary(buf); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func (s *PersistentStorage) decode(body []byte) error {
	count, n := binary.Uvarint(body)
	if n <= 0 {
		return errShortBuffer
	}
	body = body[n:]

	s.mu.Lock()
	defer s.mu.Unlock()

	for range count {
		off, n := binary.Uvarint(body)
		if n <= 0 {
			return errShortBuffer
		}
		p, rest, err := parsePayload(body[n:])
		if err != nil {
			return err
		}
		s.data[model.PointOffset(off)] = p //nolint:gosec
		body = rest
	}
	return nil
}
