package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/mergetide/go-scd"
)

// =============================================================================
// Test Types
// =============================================================================

type mockStore struct {
	loadErr   error
	commitErr error
	states    map[string]scd.KeyState
	current   *scd.CurrentRecord
	versions  []scd.HistoryRecord
	commits   []scd.KeyCommit
}

func (m *mockStore) LoadKeyStates(ctx context.Context, entity string, keys []string) (map[string]scd.KeyState, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return m.states, nil
}

func (m *mockStore) CommitBatch(ctx context.Context, entity string, commits []scd.KeyCommit) error {
	if m.commitErr != nil {
		return m.commitErr
	}
	m.commits = append(m.commits, commits...)
	return nil
}

func (m *mockStore) LiveKeys(ctx context.Context, entity string) ([]string, error) {
	keys := make([]string, 0, len(m.states))
	for k := range m.states {
		keys = append(keys, k)
	}
	return keys, nil
}

func (m *mockStore) GetCurrent(ctx context.Context, entity, key string) (*scd.CurrentRecord, error) {
	return m.current, nil
}

func (m *mockStore) History(ctx context.Context, entity, key string) ([]scd.HistoryRecord, error) {
	return m.versions, nil
}

func (m *mockStore) AsOf(ctx context.Context, entity, key string, seq scd.Sequence) (*scd.HistoryRecord, error) {
	for i := range m.versions {
		if m.versions[i].CoversAt(seq) {
			return &m.versions[i], nil
		}
	}
	return nil, nil
}

func (m *mockStore) Close() error {
	return nil
}

// Ensure mockStore implements scd.StateStore
var _ scd.StateStore = (*mockStore)(nil)

// =============================================================================
// Test Helpers
// =============================================================================

func setupTestTracer(t *testing.T) (*Tracer, *tracetest.InMemoryExporter) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
	)
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		tp.Shutdown(context.Background())
	})

	tracer := NewTracer(WithTracerProvider(tp))
	return tracer, exporter
}

func assertAttribute(t *testing.T, attrs []attribute.KeyValue, key, want string) {
	t.Helper()
	for _, a := range attrs {
		if string(a.Key) == key {
			assert.Equal(t, want, a.Value.AsString())
			return
		}
	}
	t.Errorf("attribute %q not found", key)
}

// =============================================================================
// Tracer Tests
// =============================================================================

func TestNewTracer(t *testing.T) {
	t.Run("creates tracer with defaults", func(t *testing.T) {
		tracer := NewTracer()

		assert.NotNil(t, tracer)
		assert.Equal(t, DefaultServiceName, tracer.ServiceName())
	})

	t.Run("with custom service name", func(t *testing.T) {
		tracer := NewTracer(WithServiceName("orders-merger"))

		assert.Equal(t, "orders-merger", tracer.ServiceName())
	})

	t.Run("with custom tracer provider", func(t *testing.T) {
		exporter := tracetest.NewInMemoryExporter()
		tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
		defer tp.Shutdown(context.Background())

		tracer := NewTracer(WithTracerProvider(tp))

		assert.NotNil(t, tracer)
	})
}

func TestTracer_StartSpan(t *testing.T) {
	t.Run("starts span", func(t *testing.T) {
		tracer, exporter := setupTestTracer(t)

		ctx, span := tracer.StartSpan(context.Background(), "test-span")
		span.End()

		assert.NotNil(t, ctx)
		assert.NotNil(t, span)

		spans := exporter.GetSpans()
		require.Len(t, spans, 1)
		assert.Equal(t, "test-span", spans[0].Name)
	})
}

// =============================================================================
// Store Middleware Tests
// =============================================================================

func TestStoreMiddleware_LoadKeyStates(t *testing.T) {
	t.Run("traces successful load", func(t *testing.T) {
		tracer, exporter := setupTestTracer(t)
		store := &mockStore{states: map[string]scd.KeyState{
			"c-1": {Watermark: 3, HasWatermark: true},
		}}
		mw := NewStoreMiddleware(store, tracer)

		states, err := mw.LoadKeyStates(context.Background(), "customers", []string{"c-1", "c-2"})

		require.NoError(t, err)
		assert.Len(t, states, 1)

		spans := exporter.GetSpans()
		require.Len(t, spans, 1)
		assert.Equal(t, "store.load_key_states", spans[0].Name)
		assert.Equal(t, codes.Ok, spans[0].Status.Code)
		assertAttribute(t, spans[0].Attributes, "scd.entity", "customers")
		assertAttribute(t, spans[0].Attributes, "scd.service", DefaultServiceName)
	})

	t.Run("traces failed load with error", func(t *testing.T) {
		tracer, exporter := setupTestTracer(t)
		store := &mockStore{loadErr: errors.New("connection refused")}
		mw := NewStoreMiddleware(store, tracer)

		_, err := mw.LoadKeyStates(context.Background(), "customers", []string{"c-1"})

		require.Error(t, err)

		spans := exporter.GetSpans()
		require.Len(t, spans, 1)
		assert.Equal(t, codes.Error, spans[0].Status.Code)
		require.Len(t, spans[0].Events, 1) // Error event recorded
	})
}

func TestStoreMiddleware_CommitBatch(t *testing.T) {
	t.Run("traces successful commit", func(t *testing.T) {
		tracer, exporter := setupTestTracer(t)
		store := &mockStore{}
		mw := NewStoreMiddleware(store, tracer)

		wm := scd.Sequence(5)
		err := mw.CommitBatch(context.Background(), "customers", []scd.KeyCommit{
			{Key: "c-1", Watermark: wm},
		})

		require.NoError(t, err)
		assert.Len(t, store.commits, 1)

		spans := exporter.GetSpans()
		require.Len(t, spans, 1)
		assert.Equal(t, "store.commit_batch", spans[0].Name)
		assert.Equal(t, codes.Ok, spans[0].Status.Code)
	})

	t.Run("traces failed commit", func(t *testing.T) {
		tracer, exporter := setupTestTracer(t)
		store := &mockStore{commitErr: errors.New("commit failed")}
		mw := NewStoreMiddleware(store, tracer)

		err := mw.CommitBatch(context.Background(), "customers", nil)

		require.Error(t, err)

		spans := exporter.GetSpans()
		require.Len(t, spans, 1)
		assert.Equal(t, codes.Error, spans[0].Status.Code)
	})
}

func TestStoreMiddleware_Reads(t *testing.T) {
	t.Run("traces read operations", func(t *testing.T) {
		tracer, exporter := setupTestTracer(t)
		until := scd.Sequence(9)
		store := &mockStore{
			current: &scd.CurrentRecord{Key: "c-1", LastSequence: 5},
			versions: []scd.HistoryRecord{
				{VersionID: "v1", Key: "c-1", ValidFrom: 1, ValidTo: &until},
			},
			states: map[string]scd.KeyState{"c-1": {}},
		}
		mw := NewStoreMiddleware(store, tracer)
		ctx := context.Background()

		rec, err := mw.GetCurrent(ctx, "customers", "c-1")
		require.NoError(t, err)
		assert.Equal(t, "c-1", rec.Key)

		versions, err := mw.History(ctx, "customers", "c-1")
		require.NoError(t, err)
		assert.Len(t, versions, 1)

		asOf, err := mw.AsOf(ctx, "customers", "c-1", 4)
		require.NoError(t, err)
		require.NotNil(t, asOf)
		assert.Equal(t, "v1", asOf.VersionID)

		keys, err := mw.LiveKeys(ctx, "customers")
		require.NoError(t, err)
		assert.Len(t, keys, 1)

		spans := exporter.GetSpans()
		require.Len(t, spans, 4)
		assert.Equal(t, "store.get_current", spans[0].Name)
		assert.Equal(t, "store.history", spans[1].Name)
		assert.Equal(t, "store.as_of", spans[2].Name)
		assert.Equal(t, "store.live_keys", spans[3].Name)
		for _, s := range spans {
			assert.Equal(t, codes.Ok, s.Status.Code)
		}
	})
}
