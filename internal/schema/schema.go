// Package schema declares the keyspace and the four tables the graph is
// stored in, and creates them if they are absent.
package schema

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/brianhks/asterion/internal/persistence"
	appErrors "github.com/brianhks/asterion/pkg/errors"
)

// Table names.
const (
	VertexProperties = "vertex_properties"
	VertexEdges      = "vertex_edges"
	EdgeTypeCatalog  = "edge_type_catalog"
	PropertyIndex    = "property_index"
)

// DefaultStrategy is the replication strategy used when none is configured.
const DefaultStrategy = "SimpleStrategy"

// Tables returns the table layouts in creation order.
func Tables() []persistence.TableSpec {
	return []persistence.TableSpec{
		{
			Name:          VertexProperties,
			PartitionKey:  []persistence.Column{{Name: "vertex_id", Type: "blob"}},
			ClusteringKey: []persistence.Column{{Name: "property_name", Type: "text"}},
			Value:         &persistence.Column{Name: "value", Type: "text"},
		},
		{
			Name: VertexEdges,
			PartitionKey: []persistence.Column{
				{Name: "vertex_id", Type: "blob"},
				{Name: "edge_type", Type: "text"},
			},
			ClusteringKey: []persistence.Column{
				{Name: "direction", Type: "int"},
				{Name: "dest_vertex_id", Type: "blob"},
			},
			Value: &persistence.Column{Name: "when", Type: "timestamp"},
		},
		{
			Name:          EdgeTypeCatalog,
			PartitionKey:  []persistence.Column{{Name: "vertex_id", Type: "blob"}},
			ClusteringKey: []persistence.Column{{Name: "edge_type", Type: "text"}},
		},
		{
			Name:         PropertyIndex,
			PartitionKey: []persistence.Column{{Name: "property_name", Type: "text"}},
			ClusteringKey: []persistence.Column{
				{Name: "property_value", Type: "text"},
				{Name: "vertex_id", Type: "blob"},
			},
		},
	}
}

// Manager creates the storage layout.
type Manager struct {
	session           persistence.Session
	strategy          string
	replicationFactor int
	logger            *zap.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithReplication sets the keyspace replication policy.
func WithReplication(strategy string, factor int) Option {
	return func(m *Manager) {
		if strategy != "" {
			m.strategy = strategy
		}
		if factor > 0 {
			m.replicationFactor = factor
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager creates a schema manager.
func NewManager(session persistence.Session, opts ...Option) *Manager {
	m := &Manager{
		session:           session,
		strategy:          DefaultStrategy,
		replicationFactor: 1,
		logger:            zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.Named("schema")
	return m
}

// Tables returns the declared table layouts.
func (m *Manager) Tables() []persistence.TableSpec {
	return Tables()
}

// EnsureSchema creates the keyspace and every table that does not exist
// yet. It is safe to run repeatedly and converges after a partial failure.
// The first failure is returned as a schema error naming the object and
// stops the sequence. Tables always live in the session's keyspace, so a
// non-empty keyspace must name it.
func (m *Manager) EnsureSchema(ctx context.Context, keyspace string) error {
	if keyspace == "" {
		keyspace = m.session.Keyspace()
	}
	if keyspace != m.session.Keyspace() {
		return appErrors.NewValidationError(fmt.Sprintf(
			"keyspace %q does not match the session keyspace %q", keyspace, m.session.Keyspace()))
	}

	ks := persistence.KeyspaceSpec{
		Name:              keyspace,
		Strategy:          m.strategy,
		ReplicationFactor: m.replicationFactor,
	}
	if err := m.session.CreateKeyspace(ctx, ks); err != nil {
		m.logger.Error("failed to create keyspace", zap.String("keyspace", keyspace), zap.Error(err))
		return asSchemaError(keyspace, err)
	}

	for _, spec := range Tables() {
		if err := m.session.CreateTable(ctx, spec); err != nil {
			m.logger.Error("failed to create table", zap.String("table", spec.Name), zap.Error(err))
			return asSchemaError(keyspace+"."+spec.Name, err)
		}
		m.logger.Debug("table ensured", zap.String("keyspace", keyspace), zap.String("table", spec.Name))
	}

	m.logger.Info("schema ready", zap.String("keyspace", keyspace), zap.Int("tables", len(Tables())))
	return nil
}

func asSchemaError(object string, err error) error {
	if appErrors.IsSchema(err) {
		return err
	}
	return appErrors.NewSchemaError(object, err)
}
