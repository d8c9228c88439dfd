// Package telemetry wraps the hot netsync operations in OpenTelemetry spans.
//
// Spans:
//   - snapshot.build: one per client per server frame
//   - snapshot.apply: one per snapshot parsed by a client
//   - prediction.reconcile: one per authoritative state checked against a
//     prediction
//
// The tracer comes from the global OpenTelemetry provider unless one is
// given. Configure it in main() before starting a server or client:
//
//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
//	otel.SetTracerProvider(tp)
//
// A nil *Tracer produces no-op spans.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/vango-dev/netsync/pkg/prediction"
	"github.com/vango-dev/netsync/pkg/snapshot"
)

const defaultTracerName = "netsync"

// Span names.
const (
	SpanSnapshotBuild       = "snapshot.build"
	SpanSnapshotApply       = "snapshot.apply"
	SpanPredictionReconcile = "prediction.reconcile"
)

// Attribute keys.
const (
	KeyClient     = attribute.Key("netsync.client")
	KeyFrame      = attribute.Key("netsync.frame")
	KeyDeltaFrame = attribute.Key("netsync.delta_frame")
	KeyBytes      = attribute.Key("netsync.bytes")
	KeyEntities   = attribute.Key("netsync.entities")
	KeyValid      = attribute.Key("netsync.valid")
	KeyAck        = attribute.Key("netsync.ack")
	KeyMiss       = attribute.Key("netsync.miss")
	KeyReplayed   = attribute.Key("netsync.replayed")
	KeyTeleport   = attribute.Key("netsync.teleport")
)

// Config configures a Tracer.
type Config struct {
	// TracerName is the name of the tracer (default: "netsync").
	TracerName string

	// Provider supplies the tracer. Nil uses the global provider.
	Provider trace.TracerProvider
}

// Option configures a Tracer.
type Option func(*Config)

// WithTracerName sets the tracer name.
func WithTracerName(name string) Option {
	return func(c *Config) {
		c.TracerName = name
	}
}

// WithTracerProvider sets the provider the tracer is taken from.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Config) {
		c.Provider = tp
	}
}

// Tracer starts netsync spans.
type Tracer struct {
	tracer trace.Tracer
}

var noopTracer = noop.NewTracerProvider().Tracer(defaultTracerName)

// New resolves a tracer from the configured provider.
func New(opts ...Option) *Tracer {
	cfg := Config{TracerName: defaultTracerName}
	for _, opt := range opts {
		opt(&cfg)
	}
	tp := cfg.Provider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Tracer{tracer: tp.Tracer(cfg.TracerName)}
}

func (t *Tracer) start(ctx context.Context, name string, kind trace.SpanKind, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tr := noopTracer
	if t != nil {
		tr = t.tracer
	}
	return tr.Start(ctx, name, trace.WithSpanKind(kind), trace.WithAttributes(attrs...))
}

// StartBuild starts a snapshot.build span for one client's frame.
func (t *Tracer) StartBuild(ctx context.Context, client int, frame, deltaFrame int32) (context.Context, trace.Span) {
	return t.start(ctx, SpanSnapshotBuild, trace.SpanKindProducer,
		KeyClient.Int(client),
		KeyFrame.Int(int(frame)),
		KeyDeltaFrame.Int(int(deltaFrame)),
	)
}

// StartApply starts a snapshot.apply span.
func (t *Tracer) StartApply(ctx context.Context) (context.Context, trace.Span) {
	return t.start(ctx, SpanSnapshotApply, trace.SpanKindConsumer)
}

// StartReconcile starts a prediction.reconcile span for the acknowledged
// command.
func (t *Tracer) StartReconcile(ctx context.Context, ackSeq int32) (context.Context, trace.Span) {
	return t.start(ctx, SpanPredictionReconcile, trace.SpanKindInternal, KeyAck.Int(int(ackSeq)))
}

// BuildAttributes describes a built snapshot. The delta frame is the one
// actually used, which is -1 when the builder fell back to full states.
func BuildAttributes(stats snapshot.BuildStats) []attribute.KeyValue {
	return []attribute.KeyValue{
		KeyDeltaFrame.Int(int(stats.DeltaFrame)),
		KeyEntities.Int(stats.Entities),
		KeyBytes.Int(stats.Bytes),
	}
}

// ApplyAttributes describes a parsed snapshot.
func ApplyAttributes(res *snapshot.Result) []attribute.KeyValue {
	if res == nil || res.Frame == nil {
		return nil
	}
	return []attribute.KeyValue{
		KeyFrame.Int(int(res.Frame.ServerFrame)),
		KeyDeltaFrame.Int(int(res.Frame.DeltaFrame)),
		KeyEntities.Int(len(res.Frame.Entities)),
		KeyValid.Bool(res.Valid),
	}
}

// ReconcileAttributes describes a reconcile outcome.
func ReconcileAttributes(res prediction.Result) []attribute.KeyValue {
	return []attribute.KeyValue{
		KeyMiss.Bool(res.Miss),
		KeyReplayed.Int(res.Replayed),
		KeyTeleport.Bool(res.Teleport),
	}
}

// End records err and attrs on span and ends it.
func End(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
