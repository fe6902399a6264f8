//go:build integration

package dynamodb_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/localstack"
	"go.uber.org/zap"

	"github.com/brianhks/asterion/internal/domain"
	"github.com/brianhks/asterion/internal/graph"
	"github.com/brianhks/asterion/internal/persistence"
	"github.com/brianhks/asterion/internal/persistence/dynamodb"
	"github.com/brianhks/asterion/internal/schema"
)

// TestGraphOnLocalStack runs the schema and the core graph scenarios against
// DynamoDB in LocalStack. Requires Docker.
func TestGraphOnLocalStack(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx := context.Background()

	container, err := localstack.Run(ctx, "localstack/localstack:3.0",
		testcontainers.WithEnv(map[string]string{"SERVICES": "dynamodb"}),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Errorf("failed to terminate container: %v", err)
		}
	})

	endpoint, err := container.PortEndpoint(ctx, "4566/tcp", "")
	require.NoError(t, err)

	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")
	session, err := dynamodb.Connect(ctx, "graph", dynamodb.Options{
		Region:      "us-east-1",
		Endpoint:    "http://" + endpoint,
		TablePrefix: "it_",
		TableWait:   time.Minute,
		Logger:      zap.NewNop(),
	})
	require.NoError(t, err)
	defer session.Close()

	manager := schema.NewManager(session)
	require.NoError(t, manager.EnsureSchema(ctx, ""))
	require.NoError(t, manager.EnsureSchema(ctx, ""), "schema creation must be idempotent")

	store := graph.NewStore(session, graph.WithConsistency(persistence.ConsistencyQuorum, persistence.ConsistencyQuorum))
	v1 := domain.NewVertexID()
	v2 := domain.NewVertexID()

	require.NoError(t, store.SetVertexProperties(ctx, v1, map[string]string{"name": "bob", "height": "6.2", "": ""}))
	props, err := store.GetVertexProperties(ctx, v1)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"name": "bob", "height": "6.2", "": ""}, props)

	require.NoError(t, store.SetVertexProperties(ctx, v1, map[string]string{"name": "alice"}))
	ids, err := store.FindVerticesByProperty(ctx, "name", "alice")
	require.NoError(t, err)
	assert.Equal(t, []domain.VertexID{v1}, ids)
	ids, err = store.FindVerticesByProperty(ctx, "name", "bob")
	require.NoError(t, err)
	assert.Empty(t, ids)

	require.NoError(t, store.AddEdge(ctx, v1, v2, domain.DirectionOut, "follows"))
	edges, err := store.GetEdges(ctx, v2, "follows")
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, domain.DirectionIn, edges[0].Direction)
	assert.Equal(t, v1, edges[0].Dest)

	var partitions []string
	require.NoError(t, session.Partitions(ctx, schema.EdgeTypeCatalog, func(p string) error {
		partitions = append(partitions, p)
		return nil
	}))
	assert.Len(t, partitions, 2)

	_, err = store.DeleteVertex(ctx, v1)
	require.NoError(t, err)
	props, err = store.GetVertexProperties(ctx, v1)
	require.NoError(t, err)
	assert.Empty(t, props)
	types, err := store.GetEdgeTypes(ctx, v1)
	require.NoError(t, err)
	assert.Empty(t, types)
	edges, err = store.GetEdges(ctx, v2, "follows")
	require.NoError(t, err)
	assert.Empty(t, edges)
}
