// Package wal provides the append-only operation log of a segment.
//
// Every mutation is appended here before it is applied, and the log is
// replayed on startup. Replay is safe to repeat because segment operations
// are versioned and idempotent.
//
// Features:
//   - CRC32C framed records, optionally lz4 or zstd compressed
//   - Configurable fsync behavior (async, group commit, sync)
//   - Checkpoint truncation after the segment has been flushed
//   - Fatal detection of corrupt or torn records
package wal

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hupe1980/vecseg/internal/compress"
	"github.com/hupe1980/vecseg/internal/fs"
	"github.com/hupe1980/vecseg/model"
	"github.com/hupe1980/vecseg/operation"
)

var (
	// ErrCorrupted is returned when the log holds a record that cannot be decoded.
	ErrCorrupted = errors.New("wal: corrupted")
	// ErrClosed is returned by operations on a closed log.
	ErrClosed = errors.New("wal: closed")
)

// WAL is an append-only operation log. It is safe for concurrent use.
type WAL struct {
	mu          sync.Mutex
	fsys        fs.FileSystem
	file        fs.File
	bufWriter   *bufio.Writer
	filePath    string
	codec       compress.Codec
	size        int64 // end of the last complete record
	records     int   // records since the last checkpoint
	lastVersion model.Version

	autoCheckpointOps int
	autoCheckpointMB  int

	// Group commit support (background goroutine lifecycle)
	durabilityMode      DurabilityMode
	groupCommitInterval time.Duration
	groupCommitMaxOps   int
	groupCommitTicker   *time.Ticker
	groupCommitStopCh   chan struct{}
	groupCommitPending  int
	groupCommitWg       sync.WaitGroup

	syncCond        *sync.Cond
	seqNum          uint64 // appends since open
	persistedSeqNum uint64 // highest append known to be on disk
	syncErr         error  // sticky fsync failure
}

// Open opens the log in Options.Path, creating it if needed, and validates
// every record already in it.
func Open(optFns ...func(o *Options)) (*WAL, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.FS == nil {
		opts.FS = fs.Default
	}

	if err := opts.FS.MkdirAll(opts.Path, 0o750); err != nil {
		return nil, fmt.Errorf("wal: create directory: %w", err)
	}

	filePath := filepath.Join(opts.Path, FileName)
	file, err := opts.FS.OpenFile(filePath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("wal: open: %w", err)
	}
	st, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("wal: stat: %w", err)
	}

	w := &WAL{
		fsys:                opts.FS,
		file:                file,
		filePath:            filePath,
		codec:               opts.Codec,
		autoCheckpointOps:   opts.AutoCheckpointOps,
		autoCheckpointMB:    opts.AutoCheckpointMB,
		durabilityMode:      opts.DurabilityMode,
		groupCommitInterval: opts.GroupCommitInterval,
		groupCommitMaxOps:   opts.GroupCommitMaxOps,
	}
	w.syncCond = sync.NewCond(&w.mu)

	if err := w.initializeFile(st.Size()); err != nil {
		_ = file.Close()
		return nil, err
	}

	if _, err := w.file.Seek(w.size, io.SeekStart); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("wal: seek: %w", err)
	}
	w.bufWriter = bufio.NewWriter(w.file)

	if w.durabilityMode == DurabilityGroupCommit && w.groupCommitInterval > 0 {
		w.groupCommitStopCh = make(chan struct{})
		w.groupCommitTicker = time.NewTicker(w.groupCommitInterval)
		w.groupCommitWg.Add(1)
		go w.groupCommitWorker()
	}

	return w, nil
}

func (w *WAL) initializeFile(size int64) error {
	if size == 0 {
		if err := writeWALHeader(w.file, walHeaderInfo{Codec: w.codec}); err != nil {
			return err
		}
		if err := w.file.Sync(); err != nil {
			return fmt.Errorf("wal: sync header: %w", err)
		}
		w.size = walHeaderLen
		return nil
	}

	info, err := readWALHeader(w.file)
	if err != nil {
		return err
	}
	w.codec = info.Codec
	return w.scan(size)
}

// scan validates the existing records and restores the counters.
func (w *WAL) scan(size int64) error {
	r := bufio.NewReader(io.NewSectionReader(w.file, walHeaderLen, size-walHeaderLen))
	pos := walHeaderLen
	for {
		var op operation.Operation
		n, err := decodeRecord(r, w.codec, &op)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("%w (record %d at byte %d)", err, w.records, pos)
		}
		pos += int64(n)
		w.records++
		w.observe(op)
	}
	w.size = pos
	return nil
}

func (w *WAL) observe(op operation.Operation) {
	if !op.Version.IsBypass() && op.Version > w.lastVersion {
		w.lastVersion = op.Version
	}
}

// Path returns the path of the log file.
func (w *WAL) Path() string { return w.filePath }

// Codec returns the record codec recorded in the file header.
func (w *WAL) Codec() compress.Codec { return w.codec }

// Append writes op and waits for the configured durability.
func (w *WAL) Append(op operation.Operation) error {
	return w.AppendBatch([]operation.Operation{op})
}

// AppendBatch writes ops in order and waits once for durability.
// A failed write is rolled back so the log never keeps a torn record.
func (w *WAL) AppendBatch(ops []operation.Operation) error {
	if len(ops) == 0 {
		return nil
	}

	var buf []byte
	for i, op := range ops {
		var err error
		if buf, err = encodeRecord(buf, op, w.codec); err != nil {
			return fmt.Errorf("wal: encode record %d: %w", i, err)
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return ErrClosed
	}
	if w.syncErr != nil {
		return w.syncErr
	}

	if _, err := w.bufWriter.Write(buf); err != nil {
		return w.rollbackLocked(err)
	}
	if err := w.bufWriter.Flush(); err != nil {
		return w.rollbackLocked(err)
	}

	w.size += int64(len(buf))
	w.records += len(ops)
	for _, op := range ops {
		w.observe(op)
	}
	w.seqNum++
	return w.syncIfNeeded()
}

func (w *WAL) rollbackLocked(cause error) error {
	w.bufWriter.Reset(w.file)
	if err := w.file.Truncate(w.size); err != nil {
		return errors.Join(fmt.Errorf("wal: append: %w", cause), fmt.Errorf("wal: rollback: %w", err))
	}
	if _, err := w.file.Seek(w.size, io.SeekStart); err != nil {
		return errors.Join(fmt.Errorf("wal: append: %w", cause), fmt.Errorf("wal: rollback: %w", err))
	}
	return fmt.Errorf("wal: append: %w", cause)
}

// syncIfNeeded performs fsync based on the configured durability mode.
// Caller must hold w.mu.
func (w *WAL) syncIfNeeded() error {
	switch w.durabilityMode {
	case DurabilityAsync:
		return nil

	case DurabilitySync:
		if err := w.file.Sync(); err != nil {
			w.syncErr = fmt.Errorf("wal: sync: %w", err)
			return w.syncErr
		}
		w.persistedSeqNum = w.seqNum
		return nil

	case DurabilityGroupCommit:
		w.groupCommitPending++
		targetSeq := w.seqNum

		if w.groupCommitPending >= w.groupCommitMaxOps || w.groupCommitTicker == nil {
			return w.doGroupCommit()
		}
		// syncCond.Wait releases w.mu so the worker or another writer can sync.
		for w.persistedSeqNum < targetSeq && w.syncErr == nil {
			w.syncCond.Wait()
		}
		return w.syncErr

	default:
		return nil
	}
}

// doGroupCommit performs the actual fsync and wakes every waiting writer.
// Caller must hold w.mu.
func (w *WAL) doGroupCommit() error {
	if w.groupCommitPending == 0 {
		return nil
	}

	if err := w.file.Sync(); err != nil {
		w.syncErr = fmt.Errorf("wal: sync: %w", err)
	} else {
		w.groupCommitPending = 0
		w.persistedSeqNum = w.seqNum
	}
	w.syncCond.Broadcast()
	return w.syncErr
}

// groupCommitWorker runs in a background goroutine and performs periodic fsync.
func (w *WAL) groupCommitWorker() {
	defer w.groupCommitWg.Done()

	for {
		select {
		case <-w.groupCommitStopCh:
			w.mu.Lock()
			_ = w.doGroupCommit()
			w.mu.Unlock()
			return

		case <-w.groupCommitTicker.C:
			w.mu.Lock()
			_ = w.doGroupCommit()
			w.mu.Unlock()
		}
	}
}

// Len returns the number of records since the last checkpoint.
func (w *WAL) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.records
}

// Size returns the size of the log file in bytes.
func (w *WAL) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

// LastVersion returns the highest non-bypass version ever appended or found
// on open. It survives checkpoints for the lifetime of the process.
func (w *WAL) LastVersion() model.Version {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastVersion
}

// NeedsCheckpoint reports whether an auto-checkpoint threshold was reached.
func (w *WAL) NeedsCheckpoint() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.autoCheckpointOps > 0 && w.records >= w.autoCheckpointOps {
		return true
	}
	return w.autoCheckpointMB > 0 && w.size >= int64(w.autoCheckpointMB)<<20
}

// Checkpoint discards every record. Call it only after the state the
// records produced has been flushed.
func (w *WAL) Checkpoint() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return ErrClosed
	}

	if err := w.bufWriter.Flush(); err != nil {
		return fmt.Errorf("wal: flush: %w", err)
	}
	if err := w.file.Truncate(walHeaderLen); err != nil {
		return fmt.Errorf("wal: truncate: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("wal: sync: %w", err)
	}
	if _, err := w.file.Seek(walHeaderLen, io.SeekStart); err != nil {
		return fmt.Errorf("wal: seek: %w", err)
	}
	w.bufWriter.Reset(w.file)
	w.size = walHeaderLen
	w.records = 0
	w.groupCommitPending = 0
	w.persistedSeqNum = w.seqNum
	w.syncCond.Broadcast()
	return nil
}

// Close stops the group commit worker, syncs pending records and closes
// the file. Closing twice is a no-op.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}

	if w.groupCommitTicker != nil {
		close(w.groupCommitStopCh)
		w.mu.Unlock()
		w.groupCommitWg.Wait()
		w.mu.Lock()
		w.groupCommitTicker.Stop()
		w.groupCommitTicker = nil
	}

	var errs []error
	if err := w.bufWriter.Flush(); err != nil {
		errs = append(errs, fmt.Errorf("wal: flush: %w", err))
	}
	if w.durabilityMode != DurabilityAsync {
		if err := w.file.Sync(); err != nil {
			errs = append(errs, fmt.Errorf("wal: sync: %w", err))
		}
	}
	if err := w.file.Close(); err != nil {
		errs = append(errs, err)
	}
	w.file = nil
	w.syncCond.Broadcast()
	return errors.Join(errs...)
}
