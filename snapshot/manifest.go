package snapshot

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/goccy/go-json"

	"github.com/hupe1980/vecseg/blobstore"
	"github.com/hupe1980/vecseg/internal/compress"
)

// File describes one segment file in a snapshot.
type File struct {
	Name string `json:"name"`
	// Size and CRC32C refer to the uncompressed content.
	Size   int64  `json:"size"`
	CRC32C uint32 `json:"crc32c"`
	// Stored is the size of the blob after compression.
	Stored int64 `json:"stored"`
}

// Manifest lists the files of a snapshot.
type Manifest struct {
	ID        string         `json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	Codec     compress.Codec `json:"codec"`
	Files     []File         `json:"files"`
	// Labels carry caller metadata, such as the segment config or the
	// maximum applied version.
	Labels map[string]string `json:"labels,omitempty"`
}

// Size returns the total uncompressed size of the snapshot.
func (m *Manifest) Size() int64 {
	var n int64
	for _, f := range m.Files {
		n += f.Size
	}
	return n
}

// Stored returns the total size of the snapshot blobs.
func (m *Manifest) Stored() int64 {
	var n int64
	for _, f := range m.Files {
		n += f.Stored
	}
	return n
}

const (
	// CurrentName is the blob naming the latest committed snapshot.
	CurrentName = "CURRENT"
	prefix      = "snapshots/"
	manifest    = "MANIFEST"
)

func blobName(id, file string) string {
	return path.Join(prefix+id, file)
}

func manifestName(id string) string {
	return blobName(id, manifest)
}

func writeManifest(ctx context.Context, store blobstore.BlobStore, m *Manifest) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	block, err := compress.Encode(data, compress.ZSTD)
	if err != nil {
		return err
	}
	return store.Put(ctx, manifestName(m.ID), block)
}

// ReadManifest loads the manifest of snapshot id.
func ReadManifest(ctx context.Context, store blobstore.BlobStore, id string) (*Manifest, error) {
	block, err := blobstore.ReadAll(ctx, store, manifestName(id))
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}
	data, err := compress.Decode(block, compress.ZSTD)
	if err != nil {
		return nil, fmt.Errorf("%w: manifest %s: %v", ErrCorrupted, id, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: manifest %s: %v", ErrCorrupted, id, err)
	}
	if m.ID != id {
		return nil, fmt.Errorf("%w: manifest %s names snapshot %s", ErrCorrupted, id, m.ID)
	}
	return &m, nil
}
