// Package resource bounds the blob transfers of snapshots.
//
// A Controller combines a weighted semaphore limiting how many blobs move at
// once with a token bucket limiting bytes per second across all of them, so
// a snapshot upload does not starve foreground queries of disk or network.
//
//	rc := resource.NewController(resource.Config{
//	    MaxConcurrentTransfers: 8,
//	    IOLimitBytesPerSec:     64 << 20,
//	})
//
//	if err := rc.AcquireTransfer(ctx); err != nil {
//	    return err
//	}
//	defer rc.ReleaseTransfer()
//	_, err := io.Copy(dst, resource.NewRateLimitedReader(ctx, src, rc))
package resource
