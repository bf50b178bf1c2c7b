package blobfs

import (
	"github.com/hupe1980/blobfs/fspath"
)

type options struct {
	cacheCapacity   int64
	logger          *Logger
	metrics         MetricsCollector
	validator       fspath.Validator
	readConcurrency int
}

// Option configures FileSystem construction.
type Option func(*options)

// WithCache enables the in-process caching layer with the given byte
// capacity. Zero or negative capacity selects the default of 8MiB.
func WithCache(capacityBytes int64) Option {
	return func(o *options) {
		if capacityBytes <= 0 {
			capacityBytes = 8 << 20
		}
		o.cacheCapacity = capacityBytes
	}
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics sets the metrics collector. Defaults to NoopMetricsCollector.
func WithMetrics(m MetricsCollector) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithValidator overrides the backend's default naming rules. The override
// must be at least as strict as the backend's own rules; the backend still
// normalizes names its own way.
func WithValidator(v fspath.Validator) Option {
	return func(o *options) {
		o.validator = v
	}
}

// WithReadConcurrency bounds the number of parallel blob fetches a single
// read issues. Defaults to 4.
func WithReadConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.readConcurrency = n
		}
	}
}
