package vecseg

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
type MetricsCollector interface {
	// RecordUpsert is called after each upsert. applied is false for stale versions.
	RecordUpsert(duration time.Duration, applied bool, err error)

	// RecordPayload is called after each payload operation.
	RecordPayload(duration time.Duration, applied bool, err error)

	// RecordDelete is called after each point deletion.
	RecordDelete(duration time.Duration, applied bool, err error)

	// RecordSearch is called after each search.
	// k is the number of neighbors requested.
	RecordSearch(k int, duration time.Duration, err error)

	// RecordReplay is called once after the operation log was replayed on open.
	RecordReplay(records int, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordUpsert(time.Duration, bool, error)  {}
func (NoopMetricsCollector) RecordPayload(time.Duration, bool, error) {}
func (NoopMetricsCollector) RecordDelete(time.Duration, bool, error)  {}
func (NoopMetricsCollector) RecordSearch(int, time.Duration, error)   {}
func (NoopMetricsCollector) RecordReplay(int, time.Duration, error)   {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	UpsertCount       atomic.Int64
	UpsertTotalNanos  atomic.Int64
	PayloadCount      atomic.Int64
	PayloadTotalNanos atomic.Int64
	DeleteCount       atomic.Int64
	SearchCount       atomic.Int64
	SearchTotalNanos  atomic.Int64
	StaleCount        atomic.Int64
	ErrorCount        atomic.Int64
	WALAppends        atomic.Int64
	ReplayedEntries   atomic.Int64
}

func (b *BasicMetricsCollector) recordWrite(applied bool, err error) {
	switch {
	case err != nil:
		b.ErrorCount.Add(1)
	case !applied:
		b.StaleCount.Add(1)
	}
	// Every write that did not fail was logged, stale ones included.
	if err == nil {
		b.WALAppends.Add(1)
	}
}

// RecordUpsert implements MetricsCollector.
func (b *BasicMetricsCollector) RecordUpsert(duration time.Duration, applied bool, err error) {
	b.UpsertCount.Add(1)
	b.UpsertTotalNanos.Add(duration.Nanoseconds())
	b.recordWrite(applied, err)
}

// RecordPayload implements MetricsCollector.
func (b *BasicMetricsCollector) RecordPayload(duration time.Duration, applied bool, err error) {
	b.PayloadCount.Add(1)
	b.PayloadTotalNanos.Add(duration.Nanoseconds())
	b.recordWrite(applied, err)
}

// RecordDelete implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDelete(_ time.Duration, applied bool, err error) {
	b.DeleteCount.Add(1)
	b.recordWrite(applied, err)
}

// RecordSearch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSearch(_ int, duration time.Duration, err error) {
	b.SearchCount.Add(1)
	b.SearchTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.ErrorCount.Add(1)
	}
}

// RecordReplay implements MetricsCollector.
func (b *BasicMetricsCollector) RecordReplay(records int, _ time.Duration, err error) {
	b.ReplayedEntries.Add(int64(records))
	if err != nil {
		b.ErrorCount.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		UpsertCount:     b.UpsertCount.Load(),
		UpsertAvgNanos:  avg(b.UpsertTotalNanos.Load(), b.UpsertCount.Load()),
		PayloadCount:    b.PayloadCount.Load(),
		PayloadAvgNanos: avg(b.PayloadTotalNanos.Load(), b.PayloadCount.Load()),
		DeleteCount:     b.DeleteCount.Load(),
		SearchCount:     b.SearchCount.Load(),
		SearchAvgNanos:  avg(b.SearchTotalNanos.Load(), b.SearchCount.Load()),
		StaleCount:      b.StaleCount.Load(),
		ErrorCount:      b.ErrorCount.Load(),
		WALAppends:      b.WALAppends.Load(),
		ReplayedEntries: b.ReplayedEntries.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	UpsertCount     int64
	UpsertAvgNanos  int64
	PayloadCount    int64
	PayloadAvgNanos int64
	DeleteCount     int64
	SearchCount     int64
	SearchAvgNanos  int64
	StaleCount      int64
	ErrorCount      int64
	WALAppends      int64
	ReplayedEntries int64
}
