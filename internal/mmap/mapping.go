package mmap

import (
	"fmt"
	"io"
	"os"
	"unsafe"
)

type region struct {
	data    []byte
	release func() error
}

// Mapping is a read-only view of a file that can follow the file as it grows.
//
// Methods other than Bytes, ReadAt and Float32s must not run concurrently
// with each other or with readers; callers hold their own lock around Remap.
type Mapping struct {
	path   string
	hint   Hint
	r      region
	closed bool
}

// Open maps the whole file at path and applies the access hint.
// An empty file yields a Mapping with no bytes.
func Open(path string, hint Hint) (*Mapping, error) {
	m := &Mapping{path: path, hint: hint}
	if err := m.mapCurrent(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Mapping) mapCurrent() error {
	f, err := os.Open(m.path)
	if err != nil {
		return err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return err
	}
	size := st.Size()
	if size == 0 {
		m.r = region{}
		return nil
	}
	if size > int64(maxInt) {
		return fmt.Errorf("mmap: %s: %d bytes exceed the address space", m.path, size)
	}

	r, err := mapFile(f, int(size))
	if err != nil {
		return fmt.Errorf("mmap: %s: %w", m.path, err)
	}
	m.r = r
	_ = advise(r.data, m.hint)
	return nil
}

const maxInt = int(^uint(0) >> 1)

// Release unmaps the bytes but keeps the Mapping usable for Remap. Files
// must be released before they are truncated on some platforms.
func (m *Mapping) Release() error {
	if m.r.release == nil {
		m.r = region{}
		return nil
	}
	err := m.r.release()
	m.r = region{}
	return err
}

// Remap releases the current view and maps the file at its current size.
func (m *Mapping) Remap() error {
	if m.closed {
		return ErrClosed
	}
	if err := m.Release(); err != nil {
		return err
	}
	return m.mapCurrent()
}

// Close unmaps the file. It is idempotent.
func (m *Mapping) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	return m.Release()
}

// Bytes returns the mapped bytes. The slice is invalid after Release,
// Remap or Close.
func (m *Mapping) Bytes() []byte { return m.r.data }

// Len returns the number of mapped bytes.
func (m *Mapping) Len() int { return len(m.r.data) }

// ReadAt implements io.ReaderAt.
func (m *Mapping) ReadAt(p []byte, off int64) (int, error) {
	if m.closed {
		return 0, ErrClosed
	}
	if off < 0 {
		return 0, ErrOutOfBounds
	}
	if off >= int64(len(m.r.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.r.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Float32s returns n float32 values starting at byte offset off without
// copying. off must be a multiple of four.
func (m *Mapping) Float32s(off, n int) ([]float32, error) {
	if m.closed {
		return nil, ErrClosed
	}
	if off < 0 || off%4 != 0 || n < 0 || off+4*n > len(m.r.data) {
		return nil, ErrOutOfBounds
	}
	if n == 0 {
		return []float32{}, nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&m.r.data[off])), n), nil
}
