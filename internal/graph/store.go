// Package graph maps vertex, edge, property and index operations onto the
// four wide-column tables.
//
// A logical mutation usually touches several partitions and the backing
// store offers no transaction across them. Every operation therefore waits
// for all of its sub-writes and reports exactly which ones failed; nothing is
// rolled back and nothing is retried here. Edge symmetry, index coherence and
// catalog coverage hold once every sub-write of an operation has succeeded.
package graph

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/brianhks/asterion/internal/codec"
	"github.com/brianhks/asterion/internal/concurrency"
	"github.com/brianhks/asterion/internal/persistence"
	"github.com/brianhks/asterion/internal/schema"
	appErrors "github.com/brianhks/asterion/pkg/errors"
)

const tracerName = "github.com/brianhks/asterion/internal/graph"

// errNotAttempted marks sub-writes that were skipped because an earlier
// step of the same operation failed.
var errNotAttempted = appErrors.NewInternalError("not attempted after earlier failure")

// Store is the graph view of a persistence.Session. It holds no locks and
// is safe for concurrent use as long as the session is.
type Store struct {
	session persistence.Session
	codec   *codec.Codec
	logger  *zap.Logger
	tracer  trace.Tracer
	now     func() time.Time
	limit   int

	readConsistency  persistence.Consistency
	writeConsistency persistence.Consistency

	properties *table
	edges      *table
	catalog    *table
	index      *table
}

// table holds the prepared statements of one table.
type table struct {
	put   *persistence.Prepared
	del   *persistence.Prepared
	get   *persistence.Prepared
	query *persistence.Prepared
}

func newTable(name string, read, write persistence.Consistency) *table {
	return &table{
		put:   persistence.Prepare(persistence.Statement{Op: persistence.OpPut, Table: name, Consistency: write}),
		del:   persistence.Prepare(persistence.Statement{Op: persistence.OpDelete, Table: name, Consistency: write}),
		get:   persistence.Prepare(persistence.Statement{Op: persistence.OpGet, Table: name, Consistency: read}),
		query: persistence.Prepare(persistence.Statement{Op: persistence.OpQuery, Table: name, Consistency: read}),
	}
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock replaces the clock edge timestamps are taken from.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithCodec sets the identifier rules.
func WithCodec(opts codec.Options) Option {
	return func(s *Store) {
		s.codec = codec.New(opts)
	}
}

// WithTracer sets the tracer spans are started on.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Store) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithConsistency sets the levels reads and writes are issued at.
func WithConsistency(read, write persistence.Consistency) Option {
	return func(s *Store) {
		s.readConsistency = read
		s.writeConsistency = write
	}
}

// WithLimit bounds the sub-writes of one operation that run at once.
func WithLimit(limit int) Option {
	return func(s *Store) {
		s.limit = limit
	}
}

// NewStore creates a graph store on session. The schema must already exist.
func NewStore(session persistence.Session, opts ...Option) *Store {
	s := &Store{
		session:          session,
		codec:            codec.New(codec.Options{}),
		logger:           zap.NewNop(),
		tracer:           otel.Tracer(tracerName),
		now:              time.Now,
		limit:            concurrency.DefaultLimit,
		readConsistency:  persistence.ConsistencyQuorum,
		writeConsistency: persistence.ConsistencyQuorum,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("graph")

	s.properties = newTable(schema.VertexProperties, s.readConsistency, s.writeConsistency)
	s.edges = newTable(schema.VertexEdges, s.readConsistency, s.writeConsistency)
	s.catalog = newTable(schema.EdgeTypeCatalog, s.readConsistency, s.writeConsistency)
	s.index = newTable(schema.PropertyIndex, s.readConsistency, s.writeConsistency)
	return s
}

// Session returns the underlying session.
func (s *Store) Session() persistence.Session {
	return s.session
}

// Codec returns the key codec the store uses.
func (s *Store) Codec() *codec.Codec {
	return s.codec
}

func (s *Store) put(ctx context.Context, t *table, key codec.Key, value []byte) error {
	_, err := s.session.Execute(ctx, t.put.Bind(key.Partition, key.Clustering, value))
	return err
}

func (s *Store) delete(ctx context.Context, t *table, key codec.Key) error {
	_, err := s.session.Execute(ctx, t.del.Bind(key.Partition, key.Clustering, nil))
	return err
}

func (s *Store) get(ctx context.Context, t *table, key codec.Key) (persistence.Row, bool, error) {
	rs, err := s.session.Execute(ctx, t.get.Bind(key.Partition, key.Clustering, nil))
	if err != nil {
		return persistence.Row{}, false, err
	}
	row, ok := rs.One()
	return row, ok, nil
}

func (s *Store) query(ctx context.Context, t *table, partition, prefix string) ([]persistence.Row, error) {
	rs, err := s.session.Execute(ctx, t.query.BindPrefix(partition, prefix))
	if err != nil {
		return nil, err
	}
	return rs.Rows, nil
}

func (s *Store) fanOut(ctx context.Context, tasks ...concurrency.Task) *concurrency.ErrorCollector {
	return concurrency.FanOut(ctx, s.limit, tasks...)
}

func (s *Store) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "graph."+name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
