package snapshot

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vecseg/blobstore"
	"github.com/hupe1980/vecseg/internal/compress"
	"github.com/hupe1980/vecseg/internal/resource"
)

func writeFiles(t *testing.T, files map[string][]byte) (string, []string) {
	t.Helper()
	dir := t.TempDir()
	names := make([]string, 0, len(files))
	for name, data := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o600))
		names = append(names, name)
	}
	return dir, names
}

var segmentFiles = map[string][]byte{
	"config.json":  []byte(`{"vector_size":4,"distance":"Dot"}`),
	"vectors.bin":  bytes.Repeat([]byte{1, 2, 3, 4}, 4096),
	"payloads.bin": []byte("payload data"),
	"empty.bin":    {},
}

func fastRetry(o *Options) {
	o.RetryBase = time.Millisecond
}

func TestCreateRestore(t *testing.T) {
	ctx := context.Background()
	codecs := []compress.Codec{compress.None, compress.LZ4, compress.ZSTD}

	for _, codec := range codecs {
		for name, store := range map[string]blobstore.BlobStore{
			"memory": blobstore.NewMemoryStore(),
			"local":  blobstore.NewLocalStore(t.TempDir()),
		} {
			t.Run(codec.String()+"/"+name, func(t *testing.T) {
				dir, names := writeFiles(t, segmentFiles)

				m, err := Create(ctx, store, dir, names, func(o *Options) {
					o.Codec = codec
					o.Labels = map[string]string{"max_version": "7"}
				})
				require.NoError(t, err)
				require.Len(t, m.Files, len(segmentFiles))
				assert.Equal(t, "config.json", m.Files[0].Name)
				assert.Equal(t, int64(4*4096+12+34), m.Size())

				current, err := Current(ctx, store)
				require.NoError(t, err)
				assert.Equal(t, m.ID, current)

				target := filepath.Join(t.TempDir(), "restored")
				restored, err := Restore(ctx, store, "", target)
				require.NoError(t, err)
				assert.Equal(t, m.ID, restored.ID)
				assert.Equal(t, "7", restored.Labels["max_version"])
				assert.Equal(t, codec, restored.Codec)

				for name, want := range segmentFiles {
					got, err := os.ReadFile(filepath.Join(target, name))
					require.NoError(t, err)
					assert.Equal(t, want, got, name)
				}
				entries, err := os.ReadDir(target)
				require.NoError(t, err)
				assert.Len(t, entries, len(segmentFiles))
			})
		}
	}
}

func TestCreate_InvalidFiles(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()

	tests := []struct {
		name  string
		files []string
	}{
		{"none", nil},
		{"nested", []string{"a/b"}},
		{"manifest", []string{"MANIFEST"}},
		{"duplicate", []string{"a", "a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Create(ctx, store, t.TempDir(), tt.files)
			assert.Error(t, err)
		})
	}
	assert.Zero(t, store.Len())
}

func TestCreate_MissingFileDiscardsSnapshot(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{BlobStore: blobstore.NewMemoryStore()}
	dir, names := writeFiles(t, map[string][]byte{"a.bin": {1}})

	_, err := Create(ctx, store, dir, append(names, "missing.bin"), fastRetry)
	require.ErrorIs(t, err, os.ErrNotExist)

	// The partial snapshot is removed and nothing is committed.
	left, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, left)
	_, err = Current(ctx, store)
	assert.ErrorIs(t, err, ErrNotFound)
}

// flakyStore fails the first failCreates calls to Create.
type flakyStore struct {
	blobstore.BlobStore
	failCreates int32
	creates     atomic.Int32
}

var errFlaky = errors.New("flaky store")

func (s *flakyStore) Create(ctx context.Context, name string) (blobstore.WritableBlob, error) {
	if s.creates.Add(1) <= s.failCreates {
		return nil, errFlaky
	}
	return s.BlobStore.Create(ctx, name)
}

func TestCreate_RetriesTransientFailures(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{BlobStore: blobstore.NewMemoryStore(), failCreates: 2}
	dir, names := writeFiles(t, map[string][]byte{"a.bin": {1, 2, 3}})

	m, err := Create(ctx, store, dir, names, fastRetry, func(o *Options) { o.Concurrency = 1 })
	require.NoError(t, err)
	assert.Equal(t, int32(3), store.creates.Load())
	assert.Equal(t, int64(3), m.Size())
}

func TestCreate_GivesUpAfterMaxRetries(t *testing.T) {
	ctx := context.Background()
	mem := blobstore.NewMemoryStore()
	store := &flakyStore{BlobStore: mem, failCreates: 100}
	dir, names := writeFiles(t, map[string][]byte{"a.bin": {1}})

	_, err := Create(ctx, store, dir, names, fastRetry, func(o *Options) { o.MaxRetries = 2 })
	require.ErrorIs(t, err, errFlaky)
	assert.Equal(t, int32(3), store.creates.Load())
	assert.Zero(t, mem.Len())
}

func TestRestore_Errors(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()

	_, err := Restore(ctx, store, "", t.TempDir())
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = Restore(ctx, store, "unknown", t.TempDir())
	assert.ErrorIs(t, err, ErrNotFound)

	dir, names := writeFiles(t, segmentFiles)
	m, err := Create(ctx, store, dir, names)
	require.NoError(t, err)

	t.Run("not empty", func(t *testing.T) {
		target := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(target, "x"), nil, 0o600))
		_, err := Restore(ctx, store, m.ID, target)
		assert.ErrorIs(t, err, ErrDirNotEmpty)
	})

	t.Run("corrupted blob", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, blobName(m.ID, "payloads.bin"), []byte("garbage")))

		target := filepath.Join(t.TempDir(), "restored")
		_, err := Restore(ctx, store, m.ID, target, fastRetry)
		assert.Error(t, err)

		entries, err := os.ReadDir(target)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("missing blob", func(t *testing.T) {
		other, err := Create(ctx, store, dir, names, func(o *Options) { o.SkipCommit = true })
		require.NoError(t, err)
		require.NoError(t, store.Delete(ctx, blobName(other.ID, "vectors.bin")))
		_, err = Restore(ctx, store, other.ID, filepath.Join(t.TempDir(), "restored"), fastRetry)
		assert.ErrorIs(t, err, ErrCorrupted)
	})
}

func TestReadManifest_Corrupted(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	require.NoError(t, store.Put(ctx, manifestName("x"), []byte("not a manifest")))

	_, err := ReadManifest(ctx, store, "x")
	assert.ErrorIs(t, err, ErrCorrupted)
}

func TestListAndDelete(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	dir, names := writeFiles(t, map[string][]byte{"a.bin": {1}})

	first, err := Create(ctx, store, dir, names)
	require.NoError(t, err)
	uncommitted, err := Create(ctx, store, dir, names, func(o *Options) { o.SkipCommit = true })
	require.NoError(t, err)

	current, err := Current(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, first.ID, current)

	list, err := List(ctx, store)
	require.NoError(t, err)
	require.Len(t, list, 2)
	ids := []string{list[0].ID, list[1].ID}
	assert.ElementsMatch(t, []string{first.ID, uncommitted.ID}, ids)

	assert.ErrorIs(t, Delete(ctx, store, first.ID), ErrInUse)
	assert.ErrorIs(t, Delete(ctx, store, "unknown"), ErrNotFound)

	require.NoError(t, Delete(ctx, store, uncommitted.ID))
	list, err = List(ctx, store)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, first.ID, list[0].ID)
}

func TestCreate_Controller(t *testing.T) {
	ctx := context.Background()
	rc := resource.NewController(resource.Config{MaxConcurrentTransfers: 1, IOLimitBytesPerSec: 1 << 30})
	dir, names := writeFiles(t, segmentFiles)

	_, err := Create(ctx, blobstore.NewMemoryStore(), dir, names, func(o *Options) {
		o.Controller = rc
		o.Concurrency = 4
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, rc.BytesMoved(), int64(4*4096))
	assert.Zero(t, rc.ActiveTransfers())
}
