// Package otel provides OpenTelemetry integration for cachekit.
//
// It implements the cachekit.Hooks interface to provide distributed tracing
// and metrics for all cache fetch and propagation operations.
//
// # Usage
//
//	import (
//	    "github.com/nexusdata/cachekit/pkg/cachekit"
//	    cachekitotel "github.com/nexusdata/cachekit/pkg/cachekit/otel"
//	)
//
//	hooks := cachekitotel.NewHooks()
//	client := cachekit.NewClient(cfg, cachekit.WithHooks(hooks))
package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/nexusdata/cachekit/pkg/cachekit"
)

const (
	// instrumentationName is the name used for the tracer and meter.
	instrumentationName = "github.com/nexusdata/cachekit"

	// Semantic convention attributes for cache operations.
	attrCacheService    = "cachekit.service"
	attrCacheOperation  = "cachekit.operation"
	attrCacheQueryType  = "cachekit.query_type"
	attrCacheIsMutation = "cachekit.is_mutation"
	attrCacheURL        = "cachekit.url"
	attrCachePage       = "cachekit.page"
	attrCacheMethod     = "cachekit.method"
	attrCacheAttempt    = "cachekit.attempt"
	attrCacheStatus     = "cachekit.status"
	attrCacheFromCache  = "cachekit.from_cache"
	attrHTTPMethod      = "http.method"
	attrHTTPURL         = "http.url"
	attrHTTPStatusCode  = "http.status_code"
)

// Hooks implements cachekit.Hooks using OpenTelemetry for tracing and metrics.
type Hooks struct {
	tracer            trace.Tracer
	meter             metric.Meter
	operationDuration metric.Float64Histogram
	requestDuration   metric.Float64Histogram
	requests          metric.Int64Counter
	retries           metric.Int64Counter
}

// operationSpanKey is the context key for operation spans.
type operationSpanKey struct{}

// Ensure Hooks implements cachekit.Hooks at compile time.
var _ cachekit.Hooks = (*Hooks)(nil)

// Option configures Hooks.
type Option func(*Hooks)

// WithTracerProvider sets a custom TracerProvider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(h *Hooks) {
		h.tracer = tp.Tracer(instrumentationName)
	}
}

// WithMeterProvider sets a custom MeterProvider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(h *Hooks) {
		h.meter = mp.Meter(instrumentationName)
	}
}

// NewHooks creates a new OpenTelemetry-based Hooks implementation.
// Uses the global TracerProvider and MeterProvider by default.
func NewHooks(opts ...Option) *Hooks {
	h := &Hooks{
		tracer: otel.Tracer(instrumentationName),
		meter:  otel.Meter(instrumentationName),
	}

	for _, opt := range opts {
		opt(h)
	}

	var err error

	h.operationDuration, err = h.meter.Float64Histogram(
		"cachekit.operation.duration",
		metric.WithDescription("Duration of cachekit operations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		otel.Handle(err)
	}

	h.requestDuration, err = h.meter.Float64Histogram(
		"cachekit.request.duration",
		metric.WithDescription("Duration of cachekit HTTP requests in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		otel.Handle(err)
	}

	h.requests, err = h.meter.Int64Counter(
		"cachekit.requests",
		metric.WithDescription("Total number of cachekit HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		otel.Handle(err)
	}

	h.retries, err = h.meter.Int64Counter(
		"cachekit.retries",
		metric.WithDescription("Total number of cachekit request retries"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		otel.Handle(err)
	}

	return h
}

// spanKey is the context key for the request span.
type spanKey struct{}

// OnOperationStart creates a new span for the semantic cache operation.
func (h *Hooks) OnOperationStart(ctx context.Context, op cachekit.OperationInfo) context.Context {
	spanName := op.Service + "." + op.Operation
	ctx, span := h.tracer.Start(ctx, spanName,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String(attrCacheService, op.Service),
			attribute.String(attrCacheOperation, op.Operation),
			attribute.String(attrCacheQueryType, op.QueryType),
			attribute.Bool(attrCacheIsMutation, op.IsMutation),
		),
	)

	if op.URL != "" {
		span.SetAttributes(attribute.String(attrCacheURL, op.URL))
	}
	if op.Page != 0 {
		span.SetAttributes(attribute.Int(attrCachePage, op.Page))
	}

	return context.WithValue(ctx, operationSpanKey{}, span)
}

// OnOperationEnd records the operation result and ends the span.
func (h *Hooks) OnOperationEnd(ctx context.Context, op cachekit.OperationInfo, err error, duration time.Duration) {
	span, ok := ctx.Value(operationSpanKey{}).(trace.Span)
	if !ok || span == nil {
		return
	}
	defer span.End()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	if h.operationDuration != nil {
		h.operationDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
			attribute.String(attrCacheService, op.Service),
			attribute.String(attrCacheOperation, op.Operation),
		))
	}
}

// OnRequestStart creates a new span for the HTTP request.
func (h *Hooks) OnRequestStart(ctx context.Context, info cachekit.RequestInfo) context.Context {
	ctx, span := h.tracer.Start(ctx, "cachekit.request",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String(attrHTTPMethod, info.Method),
			attribute.String(attrHTTPURL, info.URL),
			attribute.String(attrCacheMethod, info.Method),
			attribute.Int(attrCacheAttempt, info.Attempt),
		),
	)

	return context.WithValue(ctx, spanKey{}, span)
}

// OnRequestEnd records the request result and ends the span.
func (h *Hooks) OnRequestEnd(ctx context.Context, info cachekit.RequestInfo, result cachekit.RequestResult) {
	span, ok := ctx.Value(spanKey{}).(trace.Span)
	if !ok || span == nil {
		return
	}
	defer span.End()

	attrs := []attribute.KeyValue{
		attribute.Bool(attrCacheFromCache, result.FromCache),
	}

	if result.StatusCode > 0 {
		attrs = append(attrs, attribute.Int(attrHTTPStatusCode, result.StatusCode))
		attrs = append(attrs, attribute.Int(attrCacheStatus, result.StatusCode))
	}

	span.SetAttributes(attrs...)

	if result.Error != nil {
		span.RecordError(result.Error)
		span.SetStatus(codes.Error, result.Error.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	metricAttrs := metric.WithAttributes(
		attribute.String(attrHTTPMethod, info.Method),
		attribute.Bool(attrCacheFromCache, result.FromCache),
	)

	if h.requestDuration != nil {
		h.requestDuration.Record(ctx, result.Duration.Seconds(), metricAttrs)
	}

	if h.requests != nil {
		statusAttr := attribute.Int(attrHTTPStatusCode, result.StatusCode)
		if result.Error != nil && result.StatusCode == 0 {
			statusAttr = attribute.String("error", "connection_failed")
		}
		h.requests.Add(ctx, 1, metric.WithAttributes(
			attribute.String(attrHTTPMethod, info.Method),
			statusAttr,
		))
	}
}

// OnRetry records a retry attempt.
func (h *Hooks) OnRetry(ctx context.Context, info cachekit.RequestInfo, attempt int, err error) {
	span, ok := ctx.Value(spanKey{}).(trace.Span)
	if ok && span != nil {
		span.AddEvent("retry",
			trace.WithAttributes(
				attribute.Int("attempt", attempt),
				attribute.String("error", err.Error()),
			),
		)
	}

	if h.retries != nil {
		h.retries.Add(ctx, 1, metric.WithAttributes(
			attribute.String(attrHTTPMethod, info.Method),
			attribute.Int("attempt", attempt),
		))
	}
}
