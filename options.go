package vecseg

import (
	"log/slog"

	"github.com/hupe1980/vecseg/internal/compress"
	"github.com/hupe1980/vecseg/internal/fs"
	"github.com/hupe1980/vecseg/segment"
	"github.com/hupe1980/vecseg/snapshot"
	"github.com/hupe1980/vecseg/wal"
)

// Compression selects the block codec of the operation log records.
type Compression = compress.Codec

const (
	CompressionNone = compress.None
	CompressionLZ4  = compress.LZ4
	CompressionZSTD = compress.ZSTD
)

type options struct {
	config           *segment.Config
	fs               fs.FileSystem
	metricsCollector MetricsCollector
	logger           *Logger
	walOptions       []func(*wal.Options)
	queueSize        int
	// restoreOptions apply to the transfers of Restore.
	restoreOptions []func(*snapshot.Options)
}

// Option configures Open.
type Option func(*options)

// Create makes Open create the segment with cfg when the directory holds none.
// An existing segment must have an equal configuration.
func Create(cfg segment.Config) Option {
	return func(o *options) {
		o.config = &cfg
	}
}

// WithWAL configures the operation log.
//
// Example:
//
//	db, err := vecseg.Open(ctx, "./data", vecseg.Create(cfg),
//	    vecseg.WithWAL(func(o *wal.Options) {
//	        o.DurabilityMode = wal.DurabilitySync
//	    }))
func WithWAL(optFns ...func(*wal.Options)) Option {
	return func(o *options) {
		o.walOptions = append(o.walOptions, optFns...)
	}
}

// WithDurability sets the fsync policy of the operation log.
func WithDurability(mode wal.DurabilityMode) Option {
	return WithWAL(func(o *wal.Options) {
		o.DurabilityMode = mode
	})
}

// WithCompression sets the codec of new operation log files.
func WithCompression(c Compression) Option {
	return WithWAL(func(o *wal.Options) {
		o.Codec = c
	})
}

// WithQueueSize bounds the number of mutations waiting to be applied.
func WithQueueSize(n int) Option {
	return func(o *options) {
		o.queueSize = n
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &vecseg.BasicMetricsCollector{}
//	db, _ := vecseg.Open(ctx, dir, vecseg.WithMetricsCollector(metrics))
//	// ... use db ...
//	stats := metrics.GetStats()
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithRestoreOptions configures the downloads of Restore, for example to
// share a resource.Controller between restores. Open ignores it.
func WithRestoreOptions(optFns ...func(*snapshot.Options)) Option {
	return func(o *options) {
		o.restoreOptions = append(o.restoreOptions, optFns...)
	}
}

func withFS(fsys fs.FileSystem) Option {
	return func(o *options) {
		o.fs = fsys
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		fs:               fs.Default,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.metricsCollector == nil {
		o.metricsCollector = NoopMetricsCollector{}
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	return o
}
