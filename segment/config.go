package segment

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"

	"github.com/hupe1980/vecseg/distance"
	"github.com/hupe1980/vecseg/index"
	"github.com/hupe1980/vecseg/index/hnsw"
	"github.com/hupe1980/vecseg/internal/fs"
	"github.com/hupe1980/vecseg/vectorstore"
)

// ConfigFileName is the file holding the persisted Config.
const ConfigFileName = "config.json"

// IndexConfig selects the vector index.
type IndexConfig struct {
	Kind index.Kind   `json:"type"`
	HNSW *hnsw.Config `json:"hnsw,omitempty"`
}

// Config is the immutable descriptor of a segment. It is written once on
// Create and must read back identical on every Open.
type Config struct {
	VectorSize   int               `json:"vector_size"`
	Distance     distance.Metric   `json:"distance"`
	Index        IndexConfig       `json:"index"`
	PayloadIndex index.PayloadKind `json:"payload_index"`
	Storage      vectorstore.Type  `json:"storage_type"`
}

// Validate rejects configs no segment can be built from.
func (c Config) Validate() error {
	if c.VectorSize <= 0 {
		return fmt.Errorf("segment: vector_size must be positive, got %d", c.VectorSize)
	}
	if _, err := c.Distance.MarshalText(); err != nil {
		return err
	}
	if _, err := c.PayloadIndex.MarshalText(); err != nil {
		return err
	}
	if _, err := c.Storage.MarshalText(); err != nil {
		return err
	}
	switch c.Index.Kind {
	case index.KindPlain:
		if c.Index.HNSW != nil {
			return errors.New("segment: hnsw tunables given for a plain index")
		}
	case index.KindHNSW:
		if c.Index.HNSW != nil {
			return c.Index.HNSW.Validate()
		}
	default:
		return fmt.Errorf("segment: unsupported index type: %v", c.Index.Kind)
	}
	return nil
}

// withDefaults fills the hnsw tunables when they are omitted.
func (c Config) withDefaults() Config {
	if c.Index.Kind == index.KindHNSW && c.Index.HNSW == nil {
		h := hnsw.DefaultConfig
		c.Index.HNSW = &h
	}
	return c
}

// Equal compares every field, including the hnsw tunables.
func (c Config) Equal(o Config) bool {
	if c.VectorSize != o.VectorSize || c.Distance != o.Distance ||
		c.Index.Kind != o.Index.Kind || c.PayloadIndex != o.PayloadIndex || c.Storage != o.Storage {
		return false
	}
	if c.Index.HNSW == nil || o.Index.HNSW == nil {
		return c.Index.HNSW == o.Index.HNSW
	}
	return *c.Index.HNSW == *o.Index.HNSW
}

func readConfig(fsys fs.FileSystem, dir string) (Config, error) {
	f, err := fsys.OpenFile(filepath.Join(dir, ConfigFileName), os.O_RDONLY, 0)
	if err != nil {
		return Config{}, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return Config{}, err
	}
	var c Config
	if err := json.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("segment: decode %s: %w", ConfigFileName, err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// writeConfig writes config.json through a temp file and a rename.
func writeConfig(fsys fs.FileSystem, dir string, c Config) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return fs.WriteFileAtomic(fsys, filepath.Join(dir, ConfigFileName), 0o644, data)
}
