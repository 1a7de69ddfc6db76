package vecseg

import (
	"context"
	"slices"
	"strconv"
	"strings"

	"github.com/hupe1980/vecseg/blobstore"
	"github.com/hupe1980/vecseg/snapshot"
	"github.com/hupe1980/vecseg/wal"
)

// Snapshot flushes the segment and copies its files to store as a new
// snapshot committed as CURRENT. Mutations wait until the upload finished;
// searches keep running.
func (db *DB) Snapshot(ctx context.Context, store blobstore.BlobStore, optFns ...func(*snapshot.Options)) (*snapshot.Manifest, error) {
	if db.closed.Load() {
		return nil, ErrClosed
	}

	var (
		m     *snapshot.Manifest
		files []string
	)
	err := db.upd.Exclusive(ctx, func() error {
		names, err := db.seg.Files()
		if err != nil {
			return err
		}
		files = slices.DeleteFunc(names, func(name string) bool {
			return name == wal.FileName || strings.HasSuffix(name, ".tmp")
		})
		info, err := db.seg.Info()
		if err != nil {
			return err
		}

		opts := append([]func(*snapshot.Options){func(o *snapshot.Options) {
			o.FS = db.opts.fs
			o.Logger = db.log.Logger
			o.Labels = map[string]string{
				"points":      strconv.Itoa(info.Points),
				"max_version": strconv.FormatUint(uint64(info.MaxVersion), 10),
			}
		}}, optFns...)
		m, err = snapshot.Create(ctx, store, db.seg.Dir(), files, opts...)
		return err
	})
	err = translateError(err)

	var id string
	if m != nil {
		id = m.ID
	}
	db.log.LogSnapshot(ctx, id, len(files), err)
	return m, err
}

// Restore downloads a snapshot into dir and opens it. An empty id restores
// the snapshot named by CURRENT. dir must be empty or missing.
func Restore(ctx context.Context, store blobstore.BlobStore, id, dir string, optFns ...Option) (*DB, error) {
	o := applyOptions(optFns)
	opts := append([]func(*snapshot.Options){func(so *snapshot.Options) {
		so.FS = o.fs
		so.Logger = o.logger.Logger
	}}, o.restoreOptions...)
	_, err := snapshot.Restore(ctx, store, id, dir, opts...)
	if err != nil {
		return nil, err
	}
	return Open(ctx, dir, optFns...)
}
