package wal

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vecseg/internal/compress"
	"github.com/hupe1980/vecseg/internal/fs"
	"github.com/hupe1980/vecseg/model"
	"github.com/hupe1980/vecseg/operation"
	"github.com/hupe1980/vecseg/payload"
)

func testOps() []operation.Operation {
	return []operation.Operation{
		operation.Upsert(1, []float32{1, 2, 3}).WithVersion(1),
		operation.SetPayload(1, payload.Payload{"city": payload.Keyword("berlin")}).WithVersion(2),
		operation.DeletePayloadKey(1, "city").WithVersion(3),
		operation.DeletePoint(2).WithVersion(4),
		operation.WipePayload().WithVersion(5),
	}
}

func collect(t *testing.T, w *WAL) []operation.Operation {
	t.Helper()
	var out []operation.Operation
	require.NoError(t, w.Replay(func(op operation.Operation) error {
		out = append(out, op)
		return nil
	}))
	return out
}

func assertOps(t *testing.T, want, got []operation.Operation) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].Kind, got[i].Kind)
		assert.Equal(t, want[i].Version, got[i].Version)
		assert.Equal(t, want[i].PointID, got[i].PointID)
		assert.Equal(t, want[i].Vector, got[i].Vector)
		assert.Equal(t, want[i].Key, got[i].Key)
		assert.True(t, want[i].Payload.Equal(got[i].Payload))
	}
}

func TestWAL_AppendReplay(t *testing.T) {
	modes := []DurabilityMode{DurabilityAsync, DurabilityGroupCommit, DurabilitySync}
	codecs := []compress.Codec{compress.None, compress.LZ4, compress.ZSTD}

	for _, mode := range modes {
		for _, codec := range codecs {
			t.Run(mode.String()+"/"+codec.String(), func(t *testing.T) {
				dir := t.TempDir()
				w, err := Open(func(o *Options) {
					o.Path = dir
					o.Codec = codec
					o.DurabilityMode = mode
				})
				require.NoError(t, err)

				ops := testOps()
				for _, op := range ops[:2] {
					require.NoError(t, w.Append(op))
				}
				require.NoError(t, w.AppendBatch(ops[2:]))
				assert.Equal(t, len(ops), w.Len())
				assert.Equal(t, model.Version(5), w.LastVersion())
				assertOps(t, ops, collect(t, w))

				// Replay is repeatable.
				assertOps(t, ops, collect(t, w))
				require.NoError(t, w.Close())

				w, err = Open(func(o *Options) { o.Path = dir })
				require.NoError(t, err)
				defer w.Close()
				assert.Equal(t, codec, w.Codec(), "codec comes from the header")
				assert.Equal(t, len(ops), w.Len())
				assert.Equal(t, model.Version(5), w.LastVersion())
				assertOps(t, ops, collect(t, w))

				// Appending after reopen continues the log.
				next := operation.ClearPayload(1).WithVersion(6)
				require.NoError(t, w.Append(next))
				assertOps(t, append(ops, next), collect(t, w))
			})
		}
	}
}

func TestWAL_Checkpoint(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(func(o *Options) {
		o.Path = dir
		o.AutoCheckpointOps = 3
	})
	require.NoError(t, err)
	defer w.Close()

	ops := testOps()
	require.NoError(t, w.AppendBatch(ops[:2]))
	assert.False(t, w.NeedsCheckpoint())
	require.NoError(t, w.Append(ops[2]))
	assert.True(t, w.NeedsCheckpoint())

	require.NoError(t, w.Checkpoint())
	assert.Equal(t, 0, w.Len())
	assert.Equal(t, walHeaderLen, w.Size())
	assert.False(t, w.NeedsCheckpoint())
	assert.Empty(t, collect(t, w))
	assert.Equal(t, model.Version(3), w.LastVersion(), "version survives checkpoint")

	require.NoError(t, w.Append(ops[3]))
	assertOps(t, ops[3:4], collect(t, w))

	st, err := os.Stat(filepath.Join(dir, FileName))
	require.NoError(t, err)
	assert.Equal(t, w.Size(), st.Size())
}

func TestWAL_CheckpointBySize(t *testing.T) {
	w, err := Open(func(o *Options) {
		o.Path = t.TempDir()
		o.AutoCheckpointOps = 0
		o.AutoCheckpointMB = 1
		o.DurabilityMode = DurabilityAsync
	})
	require.NoError(t, err)
	defer w.Close()

	vec := make([]float32, 4096)
	for i := 0; !w.NeedsCheckpoint(); i++ {
		require.Less(t, i, 100)
		require.NoError(t, w.Append(operation.Upsert(model.PointID(i), vec).WithVersion(model.Version(i+1))))
	}
	assert.GreaterOrEqual(t, w.Size(), int64(1<<20))
}

func TestWAL_Corrupted(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(path string, size int64)
	}{
		{"flipped byte", func(path string, size int64) {
			f, err := os.OpenFile(path, os.O_RDWR, 0)
			require.NoError(t, err)
			defer f.Close()
			_, err = f.WriteAt([]byte{0xff}, size-2)
			require.NoError(t, err)
		}},
		{"torn tail", func(path string, size int64) {
			require.NoError(t, os.Truncate(path, size-3))
		}},
		{"bad magic", func(path string, _ int64) {
			f, err := os.OpenFile(path, os.O_RDWR, 0)
			require.NoError(t, err)
			defer f.Close()
			_, err = f.WriteAt([]byte("XXXX"), 0)
			require.NoError(t, err)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			w, err := Open(func(o *Options) { o.Path = dir })
			require.NoError(t, err)
			require.NoError(t, w.AppendBatch(testOps()))
			size := w.Size()
			require.NoError(t, w.Close())

			tt.mutate(filepath.Join(dir, FileName), size)

			_, err = Open(func(o *Options) { o.Path = dir })
			assert.ErrorIs(t, err, ErrCorrupted)
		})
	}
}

func TestWAL_AppendFailureRollsBack(t *testing.T) {
	dir := t.TempDir()
	first := operation.DeletePoint(1).WithVersion(1)
	rec, err := encodeRecord(nil, first, compress.None)
	require.NoError(t, err)

	faulty := fs.NewFaultyFS(nil)
	faulty.AddRule(FileName, fs.Fault{FailAfterBytes: walHeaderLen + int64(len(rec))})

	w, err := Open(func(o *Options) {
		o.Path = dir
		o.FS = faulty
		o.DurabilityMode = DurabilityAsync
	})
	require.NoError(t, err)

	require.NoError(t, w.Append(first))
	err = w.Append(operation.DeletePoint(2).WithVersion(2))
	require.ErrorIs(t, err, fs.ErrInjected)
	assert.Equal(t, 1, w.Len())
	assert.Equal(t, model.Version(1), w.LastVersion())
	require.NoError(t, w.Close())

	w, err = Open(func(o *Options) { o.Path = dir })
	require.NoError(t, err)
	defer w.Close()
	assertOps(t, []operation.Operation{first}, collect(t, w))
}

func TestWAL_SyncFailureIsSticky(t *testing.T) {
	faulty := fs.NewFaultyFS(nil)
	faulty.AddRule(FileName, fs.Fault{FailAfterBytes: -1, FailOnSync: true})

	_, err := Open(func(o *Options) {
		o.Path = t.TempDir()
		o.FS = faulty
	})
	require.ErrorIs(t, err, fs.ErrInjected, "header sync fails")

	dir := t.TempDir()
	w, err := Open(func(o *Options) {
		o.Path = dir
		o.DurabilityMode = DurabilityAsync
	})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	w, err = Open(func(o *Options) {
		o.Path = dir
		o.FS = faulty
		o.DurabilityMode = DurabilitySync
	})
	require.NoError(t, err)
	err = w.Append(operation.DeletePoint(1).WithVersion(1))
	require.ErrorIs(t, err, fs.ErrInjected)
	err = w.Append(operation.DeletePoint(2).WithVersion(2))
	require.ErrorIs(t, err, fs.ErrInjected)
	_ = w.Close()
}

func TestWAL_GroupCommitConcurrent(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(func(o *Options) {
		o.Path = dir
		o.DurabilityMode = DurabilityGroupCommit
		o.GroupCommitInterval = time.Millisecond
		o.GroupCommitMaxOps = 8
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for g := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 25 {
				id := model.PointID(g*100 + i)
				assert.NoError(t, w.Append(operation.DeletePoint(id).WithVersion(model.Version(id+1))))
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 100, w.Len())
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	assert.ErrorIs(t, w.Append(operation.DeletePoint(1)), ErrClosed)
	assert.ErrorIs(t, w.Replay(func(operation.Operation) error { return nil }), ErrClosed)
}

func TestWAL_ReplayCallbackError(t *testing.T) {
	w, err := Open(func(o *Options) { o.Path = t.TempDir() })
	require.NoError(t, err)
	defer w.Close()
	require.NoError(t, w.AppendBatch(testOps()))

	boom := assert.AnError
	n := 0
	err = w.Replay(func(op operation.Operation) error {
		n++
		if op.Kind == operation.KindDeletePayloadKey {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, n)
}

func TestParseDurabilityMode(t *testing.T) {
	for _, m := range []DurabilityMode{DurabilityAsync, DurabilityGroupCommit, DurabilitySync} {
		got, err := ParseDurabilityMode(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
	_, err := ParseDurabilityMode("never")
	assert.Error(t, err)
}
