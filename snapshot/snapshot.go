package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/vecseg/blobstore"
	"github.com/hupe1980/vecseg/internal/compress"
	"github.com/hupe1980/vecseg/internal/hash"
	"github.com/hupe1980/vecseg/internal/resource"
)

// Create uploads files from dir as a new snapshot and commits it as CURRENT.
// The files must not change while Create runs. On failure the partial
// snapshot is removed and CURRENT keeps naming the previous one.
func Create(ctx context.Context, store blobstore.BlobStore, dir string, files []string, optFns ...func(*Options)) (*Manifest, error) {
	o := buildOptions(optFns)
	if len(files) == 0 {
		return nil, errors.New("snapshot: no files")
	}
	seen := make(map[string]struct{}, len(files))
	for _, name := range files {
		if name == "" || name == manifest || strings.ContainsAny(name, `/\`) {
			return nil, fmt.Errorf("snapshot: invalid file name %q", name)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("snapshot: duplicate file %q", name)
		}
		seen[name] = struct{}{}
	}

	m := &Manifest{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Codec:     o.Codec,
		Files:     make([]File, len(files)),
		Labels:    o.Labels,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.Concurrency)
	for i, name := range files {
		g.Go(func() error {
			if err := o.Controller.AcquireTransfer(gctx); err != nil {
				return err
			}
			defer o.Controller.ReleaseTransfer()

			return o.retry(gctx, name, func(ctx context.Context) error {
				f, err := upload(ctx, store, &o, m.ID, dir, name)
				if err != nil {
					return err
				}
				m.Files[i] = f
				o.Logger.DebugContext(ctx, "snapshot file uploaded", "id", m.ID, "file", name, "size", f.Size, "stored", f.Stored)
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		discard(ctx, store, m.ID)
		return nil, fmt.Errorf("snapshot: upload: %w", err)
	}
	sort.Slice(m.Files, func(i, j int) bool { return m.Files[i].Name < m.Files[j].Name })

	if err := writeManifest(ctx, store, m); err != nil {
		discard(ctx, store, m.ID)
		return nil, fmt.Errorf("snapshot: write manifest: %w", err)
	}
	if !o.SkipCommit {
		if err := store.Put(ctx, CurrentName, []byte(m.ID)); err != nil {
			return nil, fmt.Errorf("snapshot: commit %s: %w", m.ID, err)
		}
	}

	o.Logger.InfoContext(ctx, "snapshot created",
		"id", m.ID, "files", len(m.Files), "bytes", m.Size(), "stored", m.Stored(), "committed", !o.SkipCommit)
	return m, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

func upload(ctx context.Context, store blobstore.BlobStore, o *Options, id, dir, name string) (File, error) {
	src, err := o.FS.OpenFile(filepath.Join(dir, name), os.O_RDONLY, 0)
	if err != nil {
		return File{}, err
	}
	defer func() { _ = src.Close() }()

	w, err := store.Create(ctx, blobName(id, name))
	if err != nil {
		return File{}, err
	}
	out := &countingWriter{w: w}
	zw, err := compress.NewWriter(out, o.Codec)
	if err != nil {
		_ = blobstore.Abort(w)
		return File{}, err
	}

	crc := hash.NewCRC32C()
	size, err := io.Copy(io.MultiWriter(zw, crc), resource.NewRateLimitedReader(ctx, src, o.Controller))
	if err == nil {
		err = zw.Close()
	}
	if err != nil {
		_ = blobstore.Abort(w)
		return File{}, err
	}
	if err := w.Close(); err != nil {
		return File{}, err
	}
	return File{Name: name, Size: size, CRC32C: crc.Sum32(), Stored: out.n}, nil
}

// Restore downloads snapshot id into dir, which must be empty or missing.
// An empty id restores the snapshot named by CURRENT. Every file is
// verified against its manifest checksum before it is renamed into place.
func Restore(ctx context.Context, store blobstore.BlobStore, id, dir string, optFns ...func(*Options)) (*Manifest, error) {
	o := buildOptions(optFns)

	if id == "" {
		var err error
		if id, err = Current(ctx, store); err != nil {
			return nil, err
		}
	}
	m, err := ReadManifest(ctx, store, id)
	if err != nil {
		return nil, err
	}

	entries, err := o.FS.ReadDir(dir)
	switch {
	case err == nil && len(entries) > 0:
		return nil, fmt.Errorf("%w: %s", ErrDirNotEmpty, dir)
	case err != nil && !errors.Is(err, os.ErrNotExist):
		return nil, err
	}
	if err := o.FS.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.Concurrency)
	for _, f := range m.Files {
		g.Go(func() error {
			if err := o.Controller.AcquireTransfer(gctx); err != nil {
				return err
			}
			defer o.Controller.ReleaseTransfer()

			return o.retry(gctx, f.Name, func(ctx context.Context) error {
				return download(ctx, store, &o, m, f, dir)
			})
		})
	}
	if err := g.Wait(); err != nil {
		for _, f := range m.Files {
			_ = o.FS.Remove(filepath.Join(dir, f.Name))
		}
		return nil, fmt.Errorf("snapshot: restore %s: %w", id, err)
	}

	o.Logger.InfoContext(ctx, "snapshot restored", "id", id, "dir", dir, "files", len(m.Files), "bytes", m.Size())
	return m, nil
}

func download(ctx context.Context, store blobstore.BlobStore, o *Options, m *Manifest, f File, dir string) error {
	blob, err := store.Open(ctx, blobName(m.ID, f.Name))
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return fmt.Errorf("%w: missing file %s", ErrCorrupted, f.Name)
		}
		return err
	}
	defer func() { _ = blob.Close() }()

	rc, err := blob.ReadRange(ctx, 0, blob.Size())
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()

	zr, err := compress.NewReader(resource.NewRateLimitedReader(ctx, rc, o.Controller), m.Codec)
	if err != nil {
		return err
	}
	defer func() { _ = zr.Close() }()

	tmp := filepath.Join(dir, f.Name+".tmp")
	dst, err := o.FS.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	crc := hash.NewCRC32C()
	n, err := io.Copy(io.MultiWriter(dst, crc), zr)
	if err == nil && (n != f.Size || crc.Sum32() != f.CRC32C) {
		err = fmt.Errorf("%w: %s: got %d bytes crc %08x, want %d bytes crc %08x",
			ErrCorrupted, f.Name, n, crc.Sum32(), f.Size, f.CRC32C)
	}
	if err == nil {
		err = dst.Sync()
	}
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = o.FS.Remove(tmp)
		return err
	}
	return o.FS.Rename(tmp, filepath.Join(dir, f.Name))
}

// Current returns the id of the committed snapshot.
func Current(ctx context.Context, store blobstore.BlobStore) (string, error) {
	data, err := blobstore.ReadAll(ctx, store, CurrentName)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return "", fmt.Errorf("%w: nothing committed", ErrNotFound)
		}
		return "", err
	}
	id := strings.TrimSpace(string(data))
	if id == "" {
		return "", fmt.Errorf("%w: empty %s", ErrCorrupted, CurrentName)
	}
	return id, nil
}

// List returns the manifests in the store, oldest first.
func List(ctx context.Context, store blobstore.BlobStore) ([]*Manifest, error) {
	names, err := store.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	var out []*Manifest
	for _, name := range names {
		rest := strings.TrimPrefix(name, prefix)
		id, file, ok := strings.Cut(rest, "/")
		if !ok || file != manifest {
			continue
		}
		m, err := ReadManifest(ctx, store, id)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Delete removes snapshot id. The committed snapshot cannot be deleted.
func Delete(ctx context.Context, store blobstore.BlobStore, id string) error {
	current, err := Current(ctx, store)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if current == id {
		return fmt.Errorf("%w: %s", ErrInUse, id)
	}
	names, err := store.List(ctx, prefix+id+"/")
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	// The manifest goes last so an interrupted delete stays listable.
	mname := manifestName(id)
	for _, name := range names {
		if name == mname {
			continue
		}
		if err := store.Delete(ctx, name); err != nil {
			return err
		}
	}
	return store.Delete(ctx, mname)
}

func discard(ctx context.Context, store blobstore.BlobStore, id string) {
	ctx = context.WithoutCancel(ctx)
	names, err := store.List(ctx, prefix+id+"/")
	if err != nil {
		return
	}
	for _, name := range names {
		_ = store.Delete(ctx, name)
	}
}

func (o *Options) retry(ctx context.Context, blob string, fn func(context.Context) error) error {
	b := retry.WithMaxRetries(o.MaxRetries, retry.NewFibonacci(o.RetryBase))
	attempt := 0
	return retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err == nil || !retryable(ctx, err) {
			return err
		}
		o.Logger.WarnContext(ctx, "snapshot transfer failed", "blob", blob, "attempt", attempt, "error", err)
		return retry.RetryableError(err)
	})
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return !errors.Is(err, os.ErrNotExist) && !errors.Is(err, ErrCorrupted)
}
