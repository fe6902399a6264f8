package schema

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/brianhks/asterion/internal/persistence"
	"github.com/brianhks/asterion/internal/persistence/memory"
	appErrors "github.com/brianhks/asterion/pkg/errors"
)

func TestEnsureSchemaCreatesEverything(t *testing.T) {
	session := memory.New("graph")
	m := NewManager(session, WithReplication("", 3), WithLogger(zap.NewNop()))

	require.NoError(t, m.EnsureSchema(context.Background(), "graph"))

	ks, ok := session.KeyspaceSpec("graph")
	require.True(t, ok)
	assert.Equal(t, DefaultStrategy, ks.Strategy)
	assert.Equal(t, 3, ks.ReplicationFactor)

	for _, spec := range m.Tables() {
		got, ok := session.TableSpec(spec.Name)
		require.True(t, ok, spec.Name)
		assert.Equal(t, spec, got)
	}
}

func TestEnsureSchemaIsIdempotent(t *testing.T) {
	session := memory.New("graph")
	m := NewManager(session)
	ctx := context.Background()

	require.NoError(t, m.EnsureSchema(ctx, ""))
	_, err := session.Execute(ctx, persistence.Statement{
		Op: persistence.OpPut, Table: VertexProperties, Partition: "v01", Clustering: "sname", Value: []byte("x"),
	})
	require.NoError(t, err)

	before := make(map[string]persistence.TableSpec)
	for _, spec := range m.Tables() {
		before[spec.Name], _ = session.TableSpec(spec.Name)
	}

	require.NoError(t, m.EnsureSchema(ctx, ""))

	for name, spec := range before {
		got, _ := session.TableSpec(name)
		assert.Equal(t, spec, got)
	}
	assert.Equal(t, 1, session.RowCount(VertexProperties))
}

func TestEnsureSchemaConvergesAfterFailure(t *testing.T) {
	session := memory.New("graph")
	m := NewManager(session)
	ctx := context.Background()

	session.FailDDL(EdgeTypeCatalog, errors.New("permission denied"))
	err := m.EnsureSchema(ctx, "graph")
	require.Error(t, err)
	assert.True(t, appErrors.IsSchema(err))
	assert.Contains(t, err.Error(), "graph.edge_type_catalog")

	_, ok := session.TableSpec(VertexEdges)
	assert.True(t, ok)
	_, ok = session.TableSpec(PropertyIndex)
	assert.False(t, ok)

	session.ClearFailures()
	require.NoError(t, m.EnsureSchema(ctx, "graph"))
	for _, spec := range Tables() {
		_, ok := session.TableSpec(spec.Name)
		assert.True(t, ok, spec.Name)
	}
}

func TestEnsureSchemaKeyspaceFailure(t *testing.T) {
	session := memory.New("graph")
	session.FailDDL("graph", appErrors.NewConnectivityError("ddl", errors.New("no hosts")))

	err := NewManager(session).EnsureSchema(context.Background(), "graph")
	assert.True(t, appErrors.IsSchema(err))
	_, ok := session.TableSpec(VertexProperties)
	assert.False(t, ok)
}

func TestEnsureSchemaRejectsOtherKeyspace(t *testing.T) {
	session := memory.New("graph")

	err := NewManager(session).EnsureSchema(context.Background(), "other")
	require.Error(t, err)
	assert.True(t, appErrors.IsValidation(err))

	_, ok := session.KeyspaceSpec("other")
	assert.False(t, ok)
	_, ok = session.TableSpec(VertexProperties)
	assert.False(t, ok)
}

func TestNewManagerIgnoresNilLogger(t *testing.T) {
	session := memory.New("graph")

	m := NewManager(session, WithLogger(nil))
	require.NotNil(t, m)
	assert.NoError(t, m.EnsureSchema(context.Background(), ""))
}
