// Package config loads the YAML configuration of the vecseg command.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/vecseg/distance"
	"github.com/hupe1980/vecseg/index"
	"github.com/hupe1980/vecseg/index/hnsw"
	"github.com/hupe1980/vecseg/internal/compress"
	"github.com/hupe1980/vecseg/segment"
	"github.com/hupe1980/vecseg/vectorstore"
	"github.com/hupe1980/vecseg/wal"
)

// Config is the root configuration structure.
type Config struct {
	// Segment is used when a command creates a segment.
	Segment  SegmentConfig  `yaml:"segment"`
	WAL      WALConfig      `yaml:"wal"`
	Log      LogConfig      `yaml:"log"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
}

// SegmentConfig mirrors segment.Config with names for every enum.
type SegmentConfig struct {
	VectorSize   int         `yaml:"vector_size"`
	Distance     string      `yaml:"distance"`
	Index        string      `yaml:"index"`
	HNSW         *HNSWConfig `yaml:"hnsw,omitempty"`
	PayloadIndex string      `yaml:"payload_index"`
	Storage      string      `yaml:"storage"`
}

// HNSWConfig holds the graph tunables.
type HNSWConfig struct {
	M                 int `yaml:"m"`
	EfConstruct       int `yaml:"ef_construct"`
	FullScanThreshold int `yaml:"full_scan_threshold"`
}

// WALConfig holds operation log settings.
type WALConfig struct {
	Durability          string        `yaml:"durability"`
	Compression         string        `yaml:"compression"`
	GroupCommitInterval time.Duration `yaml:"group_commit_interval"`
	AutoCheckpointOps   int           `yaml:"auto_checkpoint_ops"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SnapshotConfig holds snapshot transfer settings and the target store.
type SnapshotConfig struct {
	Codec                  string      `yaml:"codec"`
	Concurrency            int         `yaml:"concurrency"`
	MaxRetries             uint64      `yaml:"max_retries"`
	MaxConcurrentTransfers int64       `yaml:"max_concurrent_transfers"`
	IOLimitBytesPerSec     int64       `yaml:"io_limit_bytes_per_sec"`
	Store                  StoreConfig `yaml:"store"`
}

// StoreConfig selects a blob store.
type StoreConfig struct {
	// Type is one of local, s3 or minio.
	Type   string `yaml:"type"`
	Path   string `yaml:"path,omitempty"`
	Bucket string `yaml:"bucket,omitempty"`
	Prefix string `yaml:"prefix,omitempty"`
	Region string `yaml:"region,omitempty"`
	// Endpoint overrides the S3 endpoint or names the MinIO server.
	Endpoint string `yaml:"endpoint,omitempty"`
	// DynamoDBTable enables conditional commits for s3 stores.
	DynamoDBTable string `yaml:"dynamodb_table,omitempty"`
	AccessKey     string `yaml:"access_key,omitempty"`
	SecretKey     string `yaml:"secret_key,omitempty"`
	Secure        bool   `yaml:"secure,omitempty"`
}

// Default returns the configuration used without a config file.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads a config file from the given path and expands environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: the path is chosen by the operator
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, rejecting unknown fields, and validates the result.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Segment.Distance == "" {
		c.Segment.Distance = distance.Cosine.String()
	}
	if c.Segment.Index == "" {
		c.Segment.Index = index.KindPlain.String()
	}
	if c.Segment.PayloadIndex == "" {
		c.Segment.PayloadIndex = index.PayloadPlain.String()
	}
	if c.Segment.Storage == "" {
		c.Segment.Storage = vectorstore.InMemory.String()
	}
	if c.WAL.Durability == "" {
		c.WAL.Durability = wal.DefaultOptions.DurabilityMode.String()
	}
	if c.WAL.Compression == "" {
		c.WAL.Compression = wal.DefaultOptions.Codec.String()
	}
	if c.WAL.GroupCommitInterval == 0 {
		c.WAL.GroupCommitInterval = wal.DefaultOptions.GroupCommitInterval
	}
	if c.WAL.AutoCheckpointOps == 0 {
		c.WAL.AutoCheckpointOps = wal.DefaultOptions.AutoCheckpointOps
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Snapshot.Codec == "" {
		c.Snapshot.Codec = compress.ZSTD.String()
	}
	if c.Snapshot.Concurrency == 0 {
		c.Snapshot.Concurrency = 4
	}
	if c.Snapshot.MaxRetries == 0 {
		c.Snapshot.MaxRetries = 3
	}
	if c.Snapshot.Store.Type == "" {
		c.Snapshot.Store.Type = "local"
	}
}

// Validate checks every setting that has a closed set of values. A zero
// vector size is allowed here because only commands that create a segment
// need one.
func (c *Config) Validate() error {
	if c.Segment.VectorSize < 0 {
		return fmt.Errorf("config: segment.vector_size must not be negative, got %d", c.Segment.VectorSize)
	}
	if _, err := c.Segment.parse(); err != nil {
		return err
	}
	if _, err := wal.ParseDurabilityMode(c.WAL.Durability); err != nil {
		return fmt.Errorf("config: wal.durability: %w", err)
	}
	if _, err := compress.ParseCodec(c.WAL.Compression); err != nil {
		return fmt.Errorf("config: wal.compression: %w", err)
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("config: log.format must be text or json, got %q", c.Log.Format)
	}
	if _, err := compress.ParseCodec(c.Snapshot.Codec); err != nil {
		return fmt.Errorf("config: snapshot.codec: %w", err)
	}
	switch c.Snapshot.Store.Type {
	case "local", "s3", "minio":
	default:
		return fmt.Errorf("config: snapshot.store.type must be local, s3 or minio, got %q", c.Snapshot.Store.Type)
	}
	return nil
}

func (s SegmentConfig) parse() (segment.Config, error) {
	var (
		cfg segment.Config
		err error
	)
	cfg.VectorSize = s.VectorSize
	if cfg.Distance, err = distance.ParseMetric(s.Distance); err != nil {
		return cfg, fmt.Errorf("config: segment.distance: %w", err)
	}
	if cfg.Index.Kind, err = index.ParseKind(s.Index); err != nil {
		return cfg, fmt.Errorf("config: segment.index: %w", err)
	}
	if cfg.PayloadIndex, err = index.ParsePayloadKind(s.PayloadIndex); err != nil {
		return cfg, fmt.Errorf("config: segment.payload_index: %w", err)
	}
	if cfg.Storage, err = vectorstore.ParseType(s.Storage); err != nil {
		return cfg, fmt.Errorf("config: segment.storage: %w", err)
	}
	if s.HNSW != nil {
		if cfg.Index.Kind != index.KindHNSW {
			return cfg, errors.New("config: segment.hnsw given for a plain index")
		}
		cfg.Index.HNSW = &hnsw.Config{
			M:                 s.HNSW.M,
			EfConstruct:       s.HNSW.EfConstruct,
			FullScanThreshold: s.HNSW.FullScanThreshold,
		}
	}
	return cfg, nil
}

// SegmentConfig returns the validated segment configuration.
func (c *Config) SegmentConfig() (segment.Config, error) {
	cfg, err := c.Segment.parse()
	if err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// WALOptions returns a function applying the log settings.
func (c *Config) WALOptions() (func(*wal.Options), error) {
	mode, err := wal.ParseDurabilityMode(c.WAL.Durability)
	if err != nil {
		return nil, err
	}
	codec, err := compress.ParseCodec(c.WAL.Compression)
	if err != nil {
		return nil, err
	}
	return func(o *wal.Options) {
		o.DurabilityMode = mode
		o.Codec = codec
		o.GroupCommitInterval = c.WAL.GroupCommitInterval
		o.AutoCheckpointOps = c.WAL.AutoCheckpointOps
	}, nil
}

// LogLevel parses the configured level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("config: log.level: %w", err)
	}
	return level, nil
}

// SnapshotCodec parses the configured snapshot codec.
func (c *Config) SnapshotCodec() compress.Codec {
	codec, _ := compress.ParseCodec(c.Snapshot.Codec)
	return codec
}

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
