// Package tracing provides OpenTelemetry integration for the merge
// engine.
//
// Basic usage:
//
//	tp := sdktrace.NewTracerProvider(...)
//	otel.SetTracerProvider(tp)
//
//	tracer := tracing.NewTracer()
//	store := tracing.NewStoreMiddleware(memory.NewStore(), tracer)
//	engine, err := scd.NewEngine(store, entities)
//
// Every store operation becomes a client span carrying the entity,
// key counts and failure status.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mergetide/go-scd"
)

const (
	// TracerName is the name of the scd tracer.
	TracerName = "github.com/mergetide/go-scd"

	// DefaultServiceName is the default service name for spans.
	DefaultServiceName = "scd"
)

// Tracer wraps an OpenTelemetry tracer for merge operations.
type Tracer struct {
	tracer      trace.Tracer
	serviceName string
}

// TracerOption configures a Tracer.
type TracerOption func(*Tracer)

// WithTracerProvider sets a custom TracerProvider.
func WithTracerProvider(tp trace.TracerProvider) TracerOption {
	return func(t *Tracer) {
		t.tracer = tp.Tracer(TracerName)
	}
}

// WithServiceName sets the service name for spans.
func WithServiceName(name string) TracerOption {
	return func(t *Tracer) {
		t.serviceName = name
	}
}

// NewTracer creates a new Tracer with the global TracerProvider.
func NewTracer(opts ...TracerOption) *Tracer {
	t := &Tracer{
		tracer:      otel.Tracer(TracerName),
		serviceName: DefaultServiceName,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// StartSpan starts a new span with the given name.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// ServiceName returns the configured service name.
func (t *Tracer) ServiceName() string {
	return t.serviceName
}

// StoreMiddleware wraps a StateStore with tracing.
type StoreMiddleware struct {
	store  scd.StateStore
	tracer *Tracer
}

var _ scd.StateStore = (*StoreMiddleware)(nil)

// NewStoreMiddleware wraps a store with tracing.
func NewStoreMiddleware(store scd.StateStore, tracer *Tracer) *StoreMiddleware {
	return &StoreMiddleware{
		store:  store,
		tracer: tracer,
	}
}

// LoadKeyStates loads pre-merge key state with tracing.
func (m *StoreMiddleware) LoadKeyStates(ctx context.Context, entity string, keys []string) (map[string]scd.KeyState, error) {
	ctx, span := m.tracer.StartSpan(ctx, "store.load_key_states",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	span.SetAttributes(
		attribute.String("scd.service", m.tracer.serviceName),
		attribute.String("scd.entity", entity),
		attribute.Int("scd.keys.count", len(keys)),
	)

	states, err := m.store.LoadKeyStates(ctx, entity, keys)
	m.finish(span, err)
	if err == nil {
		span.SetAttributes(attribute.Int("scd.keys.known", len(states)))
	}
	return states, err
}

// CommitBatch commits key results with tracing.
func (m *StoreMiddleware) CommitBatch(ctx context.Context, entity string, commits []scd.KeyCommit) error {
	ctx, span := m.tracer.StartSpan(ctx, "store.commit_batch",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	span.SetAttributes(
		attribute.String("scd.service", m.tracer.serviceName),
		attribute.String("scd.entity", entity),
		attribute.Int("scd.commits.count", len(commits)),
	)

	err := m.store.CommitBatch(ctx, entity, commits)
	m.finish(span, err)
	return err
}

// LiveKeys lists keys with tracing.
func (m *StoreMiddleware) LiveKeys(ctx context.Context, entity string) ([]string, error) {
	ctx, span := m.tracer.StartSpan(ctx, "store.live_keys",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	span.SetAttributes(
		attribute.String("scd.service", m.tracer.serviceName),
		attribute.String("scd.entity", entity),
	)

	keys, err := m.store.LiveKeys(ctx, entity)
	m.finish(span, err)
	if err == nil {
		span.SetAttributes(attribute.Int("scd.keys.count", len(keys)))
	}
	return keys, err
}

// GetCurrent reads a current-state record with tracing.
func (m *StoreMiddleware) GetCurrent(ctx context.Context, entity, key string) (*scd.CurrentRecord, error) {
	ctx, span := m.tracer.StartSpan(ctx, "store.get_current",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	span.SetAttributes(
		attribute.String("scd.service", m.tracer.serviceName),
		attribute.String("scd.entity", entity),
		attribute.String("scd.key", key),
	)

	rec, err := m.store.GetCurrent(ctx, entity, key)
	m.finish(span, err)
	return rec, err
}

// History reads a key's versions with tracing.
func (m *StoreMiddleware) History(ctx context.Context, entity, key string) ([]scd.HistoryRecord, error) {
	ctx, span := m.tracer.StartSpan(ctx, "store.history",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	span.SetAttributes(
		attribute.String("scd.service", m.tracer.serviceName),
		attribute.String("scd.entity", entity),
		attribute.String("scd.key", key),
	)

	versions, err := m.store.History(ctx, entity, key)
	m.finish(span, err)
	if err == nil {
		span.SetAttributes(attribute.Int("scd.versions.count", len(versions)))
	}
	return versions, err
}

// AsOf reads the version covering a sequence with tracing.
func (m *StoreMiddleware) AsOf(ctx context.Context, entity, key string, seq scd.Sequence) (*scd.HistoryRecord, error) {
	ctx, span := m.tracer.StartSpan(ctx, "store.as_of",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	span.SetAttributes(
		attribute.String("scd.service", m.tracer.serviceName),
		attribute.String("scd.entity", entity),
		attribute.String("scd.key", key),
		attribute.Int64("scd.sequence", int64(seq)),
	)

	rec, err := m.store.AsOf(ctx, entity, key, seq)
	m.finish(span, err)
	return rec, err
}

// Close closes the wrapped store.
func (m *StoreMiddleware) Close() error {
	return m.store.Close()
}

func (m *StoreMiddleware) finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}
