package snapshot

import (
	"log/slog"
	"time"

	"github.com/hupe1980/vecseg/internal/compress"
	"github.com/hupe1980/vecseg/internal/fs"
	"github.com/hupe1980/vecseg/internal/resource"
)

// Options configures snapshot transfers.
type Options struct {
	// Codec compresses every file blob. The manifest is always zstd.
	Codec compress.Codec
	// Concurrency is the number of files moved in parallel.
	Concurrency int
	// Controller bounds transfers across snapshots sharing it. Optional.
	Controller *resource.Controller
	// MaxRetries is the number of retries of a failed file transfer.
	MaxRetries uint64
	// RetryBase is the first Fibonacci backoff interval.
	RetryBase time.Duration
	// SkipCommit leaves CURRENT untouched on Create.
	SkipCommit bool
	// Labels are stored in the manifest.
	Labels map[string]string
	FS     fs.FileSystem
	Logger *slog.Logger
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() Options {
	return Options{
		Codec:       compress.ZSTD,
		Concurrency: 4,
		MaxRetries:  3,
		RetryBase:   100 * time.Millisecond,
		FS:          fs.Default,
		Logger:      slog.New(slog.DiscardHandler),
	}
}

func buildOptions(optFns []func(*Options)) Options {
	o := DefaultOptions()
	for _, fn := range optFns {
		fn(&o)
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.RetryBase <= 0 {
		o.RetryBase = DefaultOptions().RetryBase
	}
	if o.FS == nil {
		o.FS = fs.Default
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	return o
}
