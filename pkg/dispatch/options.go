package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/randalmurphal/toolflow/pkg/flowgraph/observability"
)

// Options holds the observability settings shared by every transport.
type Options struct {
	Logger  *slog.Logger
	Metrics observability.MetricsRecorder
	Spans   observability.SpanManager
}

// Option configures Options.
type Option func(*Options)

// NewOptions applies opts over the defaults: slog.Default, no metrics and
// no spans.
func NewOptions(opts ...Option) Options {
	o := Options{
		Logger:  slog.Default(),
		Metrics: observability.NoopMetrics{},
		Spans:   observability.NoopSpanManager{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the logger. A nil logger is ignored.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		if logger != nil {
			o.Logger = logger
		}
	}
}

// WithMetrics enables OpenTelemetry invocation metrics.
func WithMetrics(enabled bool) Option {
	return func(o *Options) {
		if enabled {
			o.Metrics = observability.NewMetricsRecorder()
		} else {
			o.Metrics = observability.NoopMetrics{}
		}
	}
}

// WithMetricsRecorder records invocation metrics on m.
func WithMetricsRecorder(m observability.MetricsRecorder) Option {
	return func(o *Options) {
		if m != nil {
			o.Metrics = m
		}
	}
}

// WithTracing enables an OpenTelemetry span per invocation.
func WithTracing(enabled bool) Option {
	return func(o *Options) {
		if enabled {
			o.Spans = observability.NewSpanManager()
		} else {
			o.Spans = observability.NoopSpanManager{}
		}
	}
}

// Outcome labels used for invocation metrics.
const (
	OutcomeOK      = "ok"
	OutcomeFailure = "failure"
	OutcomeError   = "error"
)

// Observe runs one invocation inside a span and records its log line and
// metrics.
func (o Options) Observe(
	ctx context.Context,
	transport, operation string,
	call func(context.Context) (Result, error),
) (Result, error) {
	ctx, span := o.Spans.StartInvocationSpan(ctx, transport, operation)
	start := time.Now()

	res, err := call(ctx)

	elapsed := time.Since(start)
	outcome := OutcomeOK
	spanErr := err
	switch {
	case err != nil:
		outcome = OutcomeError
	case res.IsError:
		outcome = OutcomeFailure
		spanErr = res.Err()
	}
	o.Spans.EndSpanWithError(span, spanErr)
	o.Metrics.RecordInvocation(ctx, transport, operation, outcome, elapsed)
	observability.LogInvocation(o.Logger, transport, operation, float64(elapsed.Milliseconds()), res.IsError, err)
	return res, err
}
