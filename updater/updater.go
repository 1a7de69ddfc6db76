// Package updater is the single path through which mutations reach a
// segment: each operation is appended to the log and then applied, one at a
// time, in submission order.
package updater

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/vecseg/model"
	"github.com/hupe1980/vecseg/operation"
	"github.com/hupe1980/vecseg/payload"
	"github.com/hupe1980/vecseg/segment"
	"github.com/hupe1980/vecseg/wal"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("updater: closed")

// Options configures a Handler.
type Options struct {
	// QueueSize bounds the number of submitted operations waiting for the worker.
	QueueSize int
	Logger    *slog.Logger
	// OnApply is called by the worker after every operation that reached the log.
	OnApply func(op operation.Operation, applied bool, err error)
}

// DefaultOptions are used when no options are given.
var DefaultOptions = Options{
	QueueSize: 64,
}

// Result reports the outcome of a submitted operation.
type Result struct {
	// Version is the version the operation was logged with.
	Version model.Version
	// Applied is false when the operation was stale.
	Applied bool
}

// ReplayStats summarizes a replay.
type ReplayStats struct {
	Records int `json:"records"`
	Applied int `json:"applied"`
	Stale   int `json:"stale"`
	Skipped int `json:"skipped"`
}

// Handler serializes mutations of one segment through one worker goroutine.
type Handler struct {
	seg  *segment.Segment
	wal  *wal.WAL
	opts Options
	log  *slog.Logger

	workCh   chan func()
	stopCh   chan struct{}
	wg       sync.WaitGroup
	closed   atomic.Bool
	submitMu sync.RWMutex

	next model.Version // last version handed out; owned by the worker
}

// New starts a handler for seg and log. The caller keeps ownership of both.
func New(seg *segment.Segment, log *wal.WAL, optFns ...func(o *Options)) *Handler {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultOptions.QueueSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	info, err := seg.Info()
	next := log.LastVersion()
	if err == nil {
		next = max(next, info.MaxVersion)
	}

	h := &Handler{
		seg:    seg,
		wal:    log,
		opts:   opts,
		log:    opts.Logger,
		workCh: make(chan func(), opts.QueueSize),
		stopCh: make(chan struct{}),
		next:   next,
	}
	h.wg.Add(1)
	go h.worker()
	return h
}

func (h *Handler) worker() {
	defer h.wg.Done()
	for {
		select {
		case <-h.stopCh:
			for {
				select {
				case fn, ok := <-h.workCh:
					if !ok {
						return
					}
					fn()
				default:
					return
				}
			}
		case fn, ok := <-h.workCh:
			if !ok {
				return
			}
			fn()
		}
	}
}

// run executes fn on the worker and waits for it.
func (h *Handler) run(ctx context.Context, fn func()) error {
	h.submitMu.RLock()
	if h.closed.Load() {
		h.submitMu.RUnlock()
		return ErrClosed
	}
	done := make(chan struct{})
	task := func() {
		defer close(done)
		fn()
	}
	select {
	case h.workCh <- task:
	case <-h.stopCh:
		h.submitMu.RUnlock()
		return ErrClosed
	case <-ctx.Done():
		h.submitMu.RUnlock()
		return ctx.Err()
	}
	h.submitMu.RUnlock()

	// Once queued the task runs even if ctx ends, so its outcome is awaited.
	<-done
	return nil
}

// Submit logs op and applies it to the segment. model.AutoVersion is
// replaced by the next version after every version seen so far; a zero
// version is rejected. A payload operation on a missing point fails before
// it reaches the log.
func (h *Handler) Submit(ctx context.Context, op operation.Operation) (Result, error) {
	if err := op.Validate(); err != nil {
		return Result{}, err
	}
	if op.Version == 0 {
		return Result{}, fmt.Errorf("%w: zero version", operation.ErrInvalid)
	}
	if op.Kind == operation.KindUpsert {
		if dim := h.seg.Config().VectorSize; len(op.Vector) != dim {
			return Result{}, &segment.ErrDimensionMismatch{Expected: dim, Actual: len(op.Vector)}
		}
	}

	var (
		res    Result
		runErr error
	)
	err := h.run(ctx, func() {
		res, runErr = h.process(op)
	})
	if err != nil {
		return Result{}, err
	}
	return res, runErr
}

func (h *Handler) process(op operation.Operation) (Result, error) {
	if op.Version.IsAuto() {
		op.Version = h.next + 1
	}
	// The worker is the only writer, so the check still holds at Apply.
	if err := h.seg.Check(op); err != nil {
		return Result{}, err
	}
	if !op.Version.IsBypass() && op.Version > h.next {
		h.next = op.Version
	}

	if err := h.wal.Append(op); err != nil {
		return Result{}, fmt.Errorf("updater: append %s: %w", op, err)
	}
	applied, err := h.seg.Apply(op)
	if h.opts.OnApply != nil {
		h.opts.OnApply(op, applied, err)
	}
	if err != nil {
		return Result{Version: op.Version}, err
	}

	if h.wal.NeedsCheckpoint() {
		if err := h.flush(); err != nil {
			h.log.Error("auto checkpoint failed", "error", err)
		}
	}
	return Result{Version: op.Version, Applied: applied}, nil
}

// Replay applies every logged operation to the segment. Operations that
// fail the same way on every run (unknown point, wrong dimension, payload
// type) are skipped; any other failure and any corrupt record abort.
func (h *Handler) Replay(ctx context.Context) (ReplayStats, error) {
	var (
		stats  ReplayStats
		runErr error
	)
	err := h.run(ctx, func() {
		runErr = h.wal.Replay(func(op operation.Operation) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			stats.Records++
			if !op.Version.IsBypass() && op.Version > h.next {
				h.next = op.Version
			}

			applied, err := h.seg.Apply(op)
			switch {
			case err != nil && deterministic(err):
				stats.Skipped++
				h.log.Warn("skipping logged operation", "op", op.String(), "error", err)
				return nil
			case err != nil:
				return err
			case applied:
				stats.Applied++
			default:
				stats.Stale++
			}
			return nil
		})
	})
	if err != nil {
		return stats, err
	}
	if runErr != nil {
		return stats, runErr
	}
	h.log.Info("replay finished", "records", stats.Records, "applied", stats.Applied,
		"stale", stats.Stale, "skipped", stats.Skipped)
	return stats, nil
}

func deterministic(err error) bool {
	var (
		dim *segment.ErrDimensionMismatch
		tm  *payload.ErrTypeMismatch
	)
	return errors.Is(err, segment.ErrNotFound) || errors.As(err, &dim) || errors.As(err, &tm)
}

// Flush persists the segment and then truncates the log.
func (h *Handler) Flush(ctx context.Context) error {
	var runErr error
	if err := h.run(ctx, func() { runErr = h.flush() }); err != nil {
		return err
	}
	return runErr
}

func (h *Handler) flush() error {
	if err := h.seg.Flush(); err != nil {
		return err
	}
	if err := h.wal.Checkpoint(); err != nil {
		return fmt.Errorf("updater: checkpoint: %w", err)
	}
	h.log.Debug("checkpoint written")
	return nil
}

// Exclusive flushes the segment, truncates the log and runs fn on the worker.
// No operation is applied while fn runs, so the segment files are stable.
func (h *Handler) Exclusive(ctx context.Context, fn func() error) error {
	var runErr error
	err := h.run(ctx, func() {
		if runErr = h.flush(); runErr != nil {
			return
		}
		runErr = fn()
	})
	if err != nil {
		return err
	}
	return runErr
}

// LastVersion returns the highest version handed out or observed.
func (h *Handler) LastVersion(ctx context.Context) (model.Version, error) {
	var v model.Version
	if err := h.run(ctx, func() { v = h.next }); err != nil {
		return 0, err
	}
	return v, nil
}

// Close drains queued operations and stops the worker. It does not flush.
func (h *Handler) Close() {
	if !h.closed.CompareAndSwap(false, true) {
		return
	}

	h.submitMu.Lock()
	close(h.stopCh)
	close(h.workCh)
	h.submitMu.Unlock()

	h.wg.Wait()
}
