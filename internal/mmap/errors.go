package mmap

import "errors"

var (
	// ErrClosed is returned by every method of a closed Mapping.
	ErrClosed = errors.New("mmap: mapping is closed")
	// ErrOutOfBounds is returned for a region outside the mapped bytes.
	ErrOutOfBounds = errors.New("mmap: out of bounds")
)

// Hint tells the kernel how a mapping is about to be read.
type Hint uint8

const (
	// HintNormal leaves readahead at the kernel default.
	HintNormal Hint = iota
	// HintSequential suits blobs streamed from start to end.
	HintSequential
	// HintRandom suits vector records read by offset.
	HintRandom
)
