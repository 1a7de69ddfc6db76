// Package mmap maps files read-only into memory.
//
// The mmap vector storage writes records through a regular file handle and
// reads them back through a shared Mapping of the same file. When the file
// grows, the storage releases the view, truncates the file to the new size
// and calls Remap:
//
//	m, err := mmap.Open("vectors.mmap", mmap.HintRandom)
//	if err != nil { ... }
//	defer m.Close()
//
//	v, err := m.Float32s(16, 128) // 128 float32 values at byte 16
//
// Unix systems use mmap(2) with madvise(2) for the hint. Windows uses
// MapViewOfFile and ignores the hint.
//
// Float32s reinterprets the bytes in host byte order, which matches the
// little-endian record format on every supported architecture.
package mmap
