package blobfs

import (
	"sync/atomic"
	"time"
)

// MetricsCollector receives operational metrics. Implement it to integrate
// with monitoring systems like Prometheus.
type MetricsCollector interface {
	// RecordRead is called after each read with the bytes returned.
	RecordRead(bytes int64, duration time.Duration, err error)

	// RecordWrite is called after each write or append with the bytes
	// accepted and the number of blobs committed.
	RecordWrite(bytes int64, blobs int, duration time.Duration, err error)

	// RecordDelete is called after each file delete.
	RecordDelete(duration time.Duration, err error)

	// RecordList is called after each directory listing.
	RecordList(duration time.Duration, err error)

	// RecordCopy is called after each copy or move.
	RecordCopy(duration time.Duration, err error)
}

// NoopMetricsCollector discards all metrics.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordRead(int64, time.Duration, error)       {}
func (NoopMetricsCollector) RecordWrite(int64, int, time.Duration, error) {}
func (NoopMetricsCollector) RecordDelete(time.Duration, error)            {}
func (NoopMetricsCollector) RecordList(time.Duration, error)              {}
func (NoopMetricsCollector) RecordCopy(time.Duration, error)              {}

// BasicMetricsCollector counts operations in memory with atomics. Useful for
// debugging and tests without an external monitoring stack.
type BasicMetricsCollector struct {
	ReadCount       atomic.Int64
	ReadBytes       atomic.Int64
	ReadErrors      atomic.Int64
	ReadTotalNanos  atomic.Int64
	WriteCount      atomic.Int64
	WriteBytes      atomic.Int64
	WriteBlobs      atomic.Int64
	WriteErrors     atomic.Int64
	WriteTotalNanos atomic.Int64
	DeleteCount     atomic.Int64
	DeleteErrors    atomic.Int64
	ListCount       atomic.Int64
	ListErrors      atomic.Int64
	CopyCount       atomic.Int64
	CopyErrors      atomic.Int64
}

// RecordRead implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRead(bytes int64, duration time.Duration, err error) {
	b.ReadCount.Add(1)
	b.ReadBytes.Add(bytes)
	b.ReadTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.ReadErrors.Add(1)
	}
}

// RecordWrite implements MetricsCollector.
func (b *BasicMetricsCollector) RecordWrite(bytes int64, blobs int, duration time.Duration, err error) {
	b.WriteCount.Add(1)
	b.WriteBytes.Add(bytes)
	b.WriteBlobs.Add(int64(blobs))
	b.WriteTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.WriteErrors.Add(1)
	}
}

// RecordDelete implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDelete(duration time.Duration, err error) {
	b.DeleteCount.Add(1)
	if err != nil {
		b.DeleteErrors.Add(1)
	}
}

// RecordList implements MetricsCollector.
func (b *BasicMetricsCollector) RecordList(duration time.Duration, err error) {
	b.ListCount.Add(1)
	if err != nil {
		b.ListErrors.Add(1)
	}
}

// RecordCopy implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCopy(duration time.Duration, err error) {
	b.CopyCount.Add(1)
	if err != nil {
		b.CopyErrors.Add(1)
	}
}
