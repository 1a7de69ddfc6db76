package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hupe1980/vecseg/distance"
	"github.com/hupe1980/vecseg/internal/compress"
	"github.com/hupe1980/vecseg/internal/fs"
	"github.com/hupe1980/vecseg/model"
)

var (
	// ErrClosed is returned by operations on a closed storage.
	ErrClosed = errors.New("vectorstore: closed")
	// ErrCorrupted is returned when a storage file fails validation on open.
	ErrCorrupted = errors.New("vectorstore: corrupted")
)

// ErrDimensionMismatch is returned when a vector does not have the configured dimension.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("vectorstore: dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// Type selects a storage implementation.
type Type int

const (
	InMemory Type = iota
	Mmap
)

func (t Type) String() string {
	switch t {
	case InMemory:
		return "in_memory"
	case Mmap:
		return "mmap"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// ParseType parses a storage type name.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(s) {
	case "in_memory", "memory", "inmemory":
		return InMemory, nil
	case "mmap":
		return Mmap, nil
	default:
		return 0, fmt.Errorf("vectorstore: unsupported storage type: %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t Type) MarshalText() ([]byte, error) {
	if t != InMemory && t != Mmap {
		return nil, fmt.Errorf("vectorstore: unsupported storage type: %d", int(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Type) UnmarshalText(b []byte) error {
	v, err := ParseType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Storage is the contract shared by all vector storages.
// All methods are safe for concurrent use.
type Storage interface {
	// Dim returns the configured vector dimension.
	Dim() int
	// Metric returns the configured distance metric.
	Metric() distance.Metric
	// VectorCount returns the number of allocated offsets, deleted ones included.
	VectorCount() int
	// LiveCount returns the number of offsets holding a live vector.
	LiveCount() int
	// Get returns a copy of the vector at offset.
	Get(offset model.PointOffset) ([]float32, bool)
	// Put stores vector at offset and marks it live.
	Put(offset model.PointOffset, vector []float32) error
	// Delete marks offset deleted and reports whether it was live.
	Delete(offset model.PointOffset) bool
	// IsDeleted reports whether offset holds no live vector.
	IsDeleted(offset model.PointOffset) bool
	// ScoreAll scores every live vector and returns the best topK.
	ScoreAll(ctx context.Context, query []float32, topK int) ([]model.ScoredOffset, error)
	// ScorePoints scores the given offsets and returns the best topK.
	ScorePoints(ctx context.Context, query []float32, offsets []model.PointOffset, topK int) ([]model.ScoredOffset, error)
	// Scorer returns a function scoring any allocated offset against query,
	// deleted ones included. Graph traversal relies on this to walk through
	// nodes whose points were removed.
	Scorer(query []float32) (func(model.PointOffset) (float32, bool), error)
	// Flush persists pending changes.
	Flush() error
	// Close releases resources. Unflushed changes are lost.
	Close() error
}

// Options configures storage persistence.
type Options struct {
	// FS is used for every file operation except the read mapping.
	FS fs.FileSystem
	// Codec compresses the in-memory snapshot and the mmap deleted set.
	Codec compress.Codec
}

// DefaultOptions returns the default storage options.
func DefaultOptions() Options {
	return Options{FS: fs.Default, Codec: compress.LZ4}
}

// Open opens or creates the storage of type typ in dir.
func Open(dir string, typ Type, dim int, metric distance.Metric, optFns ...func(o *Options)) (Storage, error) {
	switch typ {
	case InMemory:
		return OpenMemory(dir, dim, metric, optFns...)
	case Mmap:
		return OpenMmap(dir, dim, metric, optFns...)
	default:
		return nil, fmt.Errorf("vectorstore: unsupported storage type: %v", typ)
	}
}
