package resource

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config holds transfer limits.
type Config struct {
	// MaxConcurrentTransfers is the maximum number of blobs moved at once.
	// If 0, defaults to 4.
	MaxConcurrentTransfers int64

	// IOLimitBytesPerSec is the maximum throughput across all transfers.
	// If 0, unlimited.
	IOLimitBytesPerSec int64
}

// Controller bounds concurrent transfers and their combined throughput.
// A nil *Controller imposes no limits.
type Controller struct {
	cfg Config

	transfers *semaphore.Weighted
	active    atomic.Int64

	ioLimiter *rate.Limiter
	moved     atomic.Int64
}

// NewController creates a new resource controller.
func NewController(cfg Config) *Controller {
	if cfg.MaxConcurrentTransfers <= 0 {
		cfg.MaxConcurrentTransfers = 4
	}

	c := &Controller{
		cfg:       cfg,
		transfers: semaphore.NewWeighted(cfg.MaxConcurrentTransfers),
	}

	if cfg.IOLimitBytesPerSec > 0 {
		c.ioLimiter = rate.NewLimiter(rate.Limit(cfg.IOLimitBytesPerSec), int(cfg.IOLimitBytesPerSec))
	}

	return c
}

// AcquireTransfer reserves a transfer slot. Blocks if all slots are busy.
func (c *Controller) AcquireTransfer(ctx context.Context) error {
	if c == nil {
		return nil
	}
	if err := c.transfers.Acquire(ctx, 1); err != nil {
		return err
	}
	c.active.Add(1)
	return nil
}

// TryAcquireTransfer reserves a transfer slot without blocking.
func (c *Controller) TryAcquireTransfer() bool {
	if c == nil {
		return true
	}
	if !c.transfers.TryAcquire(1) {
		return false
	}
	c.active.Add(1)
	return true
}

// ReleaseTransfer releases a transfer slot.
func (c *Controller) ReleaseTransfer() {
	if c == nil {
		return
	}
	c.active.Add(-1)
	c.transfers.Release(1)
}

// ActiveTransfers returns the number of held transfer slots.
func (c *Controller) ActiveTransfers() int64 {
	if c == nil {
		return 0
	}
	return c.active.Load()
}

// BytesMoved returns the number of bytes accounted through AcquireIO.
func (c *Controller) BytesMoved() int64 {
	if c == nil {
		return 0
	}
	return c.moved.Load()
}

// AcquireIO waits until the IO limit allows the specified number of bytes.
// Requests larger than one second of budget are split.
func (c *Controller) AcquireIO(ctx context.Context, bytes int) error {
	if c == nil {
		return nil
	}
	c.moved.Add(int64(bytes))
	if c.ioLimiter == nil {
		return nil
	}
	burst := c.ioLimiter.Burst()
	for bytes > 0 {
		n := min(bytes, burst)
		if err := c.ioLimiter.WaitN(ctx, n); err != nil {
			return err
		}
		bytes -= n
	}
	return nil
}
