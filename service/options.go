package service

import (
	"log/slog"
	"time"

	"github.com/layer-3/passage/internal/logging"
	"github.com/layer-3/passage/internal/metrics"
	"github.com/layer-3/passage/internal/ratelimit"
)

type options struct {
	now     func() time.Time
	logger  *slog.Logger
	metrics *metrics.Metrics
	limiter *ratelimit.Keyed
}

// Option configures ambient dependencies shared by the services
type Option func(*options)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithRateLimiter limits attempts per contact address
func WithRateLimiter(limiter *ratelimit.Keyed) Option {
	return func(o *options) {
		o.limiter = limiter
	}
}

func buildOptions(opts []Option) options {
	o := options{
		now:    time.Now,
		logger: logging.Discard(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
