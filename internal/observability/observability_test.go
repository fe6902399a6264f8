package observability

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/brianhks/asterion/internal/domain"
	"github.com/brianhks/asterion/internal/graph"
	"github.com/brianhks/asterion/internal/persistence"
	"github.com/brianhks/asterion/internal/persistence/memory"
	"github.com/brianhks/asterion/internal/schema"
	appErrors "github.com/brianhks/asterion/pkg/errors"
)

func TestCollectorRecordsOperations(t *testing.T) {
	c := NewCollector("test")

	c.RecordOperation("put", "vertex_properties", nil, 10*time.Millisecond)
	c.RecordOperation("put", "vertex_properties", nil, 20*time.Millisecond)
	c.RecordOperation("get", "vertex_properties", appErrors.NewConnectivityError("get", errors.New("down")), time.Millisecond)
	c.RecordOperation("get", "vertex_properties", errors.New("boom"), time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.DBOperations.WithLabelValues("put", "vertex_properties", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.DBOperations.WithLabelValues("get", "vertex_properties", "connectivity")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.DBOperations.WithLabelValues("get", "vertex_properties", "error")))
}

func TestCollectorsAreIndependent(t *testing.T) {
	a := NewCollector("test")
	b := NewCollector("test")

	a.VerticesExported.Add(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(a.VerticesExported))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.VerticesExported))
}

func TestInstrumentedSessionFeedsCollector(t *testing.T) {
	c := NewCollector("asterion")
	session := persistence.NewInstrumented(memory.New("graph"), c)
	ctx := context.Background()
	require.NoError(t, schema.NewManager(session).EnsureSchema(ctx, ""))

	store := graph.NewStore(session)
	v := domain.MustVertexID([]byte{0x01})
	require.NoError(t, store.SetVertexProperties(ctx, v, map[string]string{"name": "bob"}))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.DBOperations.WithLabelValues("put", schema.VertexProperties, "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.DBOperations.WithLabelValues("put", schema.PropertyIndex, "success")))

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "asterion_db_operations_total")
}

func TestInitTracingRecordsGraphSpans(t *testing.T) {
	previous := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	exporter := tracetest.NewInMemoryExporter()
	tp, err := InitTracing(context.Background(), TracingConfig{Environment: "test", Exporter: exporter})
	require.NoError(t, err)

	ctx := context.Background()
	session := memory.New("graph")
	require.NoError(t, schema.NewManager(session).EnsureSchema(ctx, ""))
	store := graph.NewStore(session)

	v := domain.MustVertexID([]byte{0x01})
	_, err = store.GetVertexProperty(ctx, v, "missing")
	require.Error(t, err)

	require.NoError(t, tp.ForceFlush(ctx))
	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "graph.GetVertexProperty", spans[0].Name)
	assert.NotEmpty(t, spans[0].Events)

	require.NoError(t, tp.Shutdown(ctx))
}

func TestGetSampleRate(t *testing.T) {
	assert.Equal(t, 0.01, getSampleRate("production"))
	assert.Equal(t, 0.1, getSampleRate("staging"))
	assert.Equal(t, 1.0, getSampleRate("development"))
}
