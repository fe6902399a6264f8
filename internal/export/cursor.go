// Package export streams whole vertices out of the graph store as records
// and replays them back in.
package export

import (
	"context"

	"go.uber.org/zap"

	"github.com/brianhks/asterion/internal/codec"
	"github.com/brianhks/asterion/internal/domain"
	"github.com/brianhks/asterion/internal/graph"
	"github.com/brianhks/asterion/internal/schema"
	appErrors "github.com/brianhks/asterion/pkg/errors"
)

// idBuffer is how many enumerated identifiers may wait for the consumer.
const idBuffer = 64

// Selector chooses the vertices an export visits.
type Selector interface {
	enumerate(ctx context.Context, store *graph.Store, emit func(domain.VertexID) error) error
}

type allVertices struct{}

// AllVertices visits every vertex that has a property or an edge. Each
// identifier is visited once.
func AllVertices() Selector {
	return allVertices{}
}

// enumerate walks the partitions of the property and catalog tables. The
// set of seen identifiers is held in memory for the whole export.
func (a allVertices) enumerate(ctx context.Context, store *graph.Store, emit func(domain.VertexID) error) error {
	seen := make(map[domain.VertexID]struct{})
	for _, table := range []string{schema.VertexProperties, schema.EdgeTypeCatalog} {
		err := store.Session().Partitions(ctx, table, func(partition string) error {
			id, err := codec.DecodeVertexPartition(partition)
			if err != nil {
				// Rows not written by the graph store.
				return nil
			}
			if _, ok := seen[id]; ok {
				return nil
			}
			seen[id] = struct{}{}
			return emit(id)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

type vertexList []domain.VertexID

// Vertices visits the given identifiers in order, skipping repeats.
func Vertices(ids ...domain.VertexID) Selector {
	return vertexList(ids)
}

func (l vertexList) enumerate(ctx context.Context, _ *graph.Store, emit func(domain.VertexID) error) error {
	seen := make(map[domain.VertexID]struct{}, len(l))
	for _, id := range l {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		if err := emit(id); err != nil {
			return err
		}
	}
	return nil
}

// indexLookup visits the vertices the property index lists for one value.
type indexLookup struct {
	name, value string
}

func (i indexLookup) enumerate(ctx context.Context, store *graph.Store, emit func(domain.VertexID) error) error {
	ids, err := store.FindVerticesByProperty(ctx, i.name, i.value)
	if err != nil {
		return err
	}
	return vertexList(ids).enumerate(ctx, store, emit)
}

// PropertyFilter keeps only vertices that have property Name, and when Value
// is set, with exactly that value.
type PropertyFilter struct {
	Name  string
	Value *string
}

func (f *PropertyFilter) matches(props map[string]string) bool {
	if f == nil {
		return true
	}
	v, ok := props[f.Name]
	if !ok {
		return false
	}
	return f.Value == nil || *f.Value == v
}

// Option configures a Cursor.
type Option func(*Cursor)

// WithFilter restricts the export to vertices matching f. With a value and
// the AllVertices selector the property index drives the enumeration.
func WithFilter(f PropertyFilter) Option {
	return func(c *Cursor) {
		c.filter = &f
	}
}

// WithSkip skips identifiers for which skip returns true, typically the
// identifiers a recovery log already holds.
func WithSkip(skip func(domain.VertexID) bool) Option {
	return func(c *Cursor) {
		c.skip = skip
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Cursor) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Stats counts what a cursor did.
type Stats struct {
	Emitted  int
	Skipped  int
	Filtered int
	Failed   int
}

// Cursor lazily reads one vertex at a time. All properties and edges of a
// vertex are read before the record is handed out, so a consumer never sees
// half a vertex. A cursor is restartable only by creating a new one; pass
// WithSkip to continue after the last recorded identifier.
//
//	cur := export.NewCursor(store, export.AllVertices())
//	defer cur.Close()
//	for cur.Next(ctx) {
//		if err := cur.UnitErr(); err != nil {
//			continue
//		}
//		write(cur.Record())
//	}
//	return cur.Err()
type Cursor struct {
	store    *graph.Store
	selector Selector
	filter   *PropertyFilter
	skip     func(domain.VertexID) bool
	logger   *zap.Logger

	ids     chan domain.VertexID
	cancel  context.CancelFunc
	enumErr error
	started bool
	closed  bool

	record  domain.Record
	unitErr error
	err     error
	stats   Stats
}

// NewCursor creates a cursor. Nothing is read until the first Next.
func NewCursor(store *graph.Store, selector Selector, opts ...Option) *Cursor {
	c := &Cursor{
		store:    store,
		selector: selector,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("export")

	if _, all := c.selector.(allVertices); all && c.filter != nil && c.filter.Value != nil {
		c.selector = indexLookup{name: c.filter.Name, value: *c.filter.Value}
	}
	return c
}

func (c *Cursor) start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.ids = make(chan domain.VertexID, idBuffer)
	c.started = true

	go func() {
		defer close(c.ids)
		c.enumErr = c.selector.enumerate(ctx, c.store, func(id domain.VertexID) error {
			select {
			case c.ids <- id:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}()
}

// Next advances to the next vertex. It returns false when the selection is
// exhausted or the store became unreachable; Err tells which. When Next
// returns true either Record or UnitErr holds the outcome for that vertex.
// The context of the first call also bounds the enumeration.
func (c *Cursor) Next(ctx context.Context) bool {
	if c.closed || c.err != nil {
		return false
	}
	if !c.started {
		c.start(ctx)
	}

	for {
		var (
			id domain.VertexID
			ok bool
		)
		select {
		case id, ok = <-c.ids:
		case <-ctx.Done():
			c.err = ctx.Err()
			c.Close()
			return false
		}
		if !ok {
			if c.enumErr != nil && !c.closed {
				c.err = appErrors.Wrap(c.enumErr, "enumerate vertices")
				c.logger.Error("export stopped", zap.Error(c.err))
			}
			c.Close()
			return false
		}

		if c.skip != nil && c.skip(id) {
			c.stats.Skipped++
			continue
		}

		record, err := c.read(ctx, id)
		if err != nil {
			c.stats.Failed++
			c.record = domain.Record{ID: id}
			c.unitErr = &appErrors.PartialExportError{ID: id.String(), Cause: err}
			c.logger.Warn("vertex not exported", zap.String("vertex_id", id.String()), zap.Error(err))
			if appErrors.IsConnectivity(err) {
				// The store is gone; report this vertex and stop.
				c.err = err
				c.Close()
			}
			return true
		}
		if !c.filter.matches(record.Properties) {
			c.stats.Filtered++
			continue
		}

		c.stats.Emitted++
		c.record = record
		c.unitErr = nil
		return true
	}
}

func (c *Cursor) read(ctx context.Context, id domain.VertexID) (domain.Record, error) {
	props, err := c.store.GetVertexProperties(ctx, id)
	if err != nil {
		return domain.Record{}, err
	}
	types, err := c.store.GetEdgeTypes(ctx, id)
	if err != nil {
		return domain.Record{}, err
	}

	edges := []domain.Edge{}
	for _, t := range types {
		batch, err := c.store.GetEdges(ctx, id, t)
		if err != nil {
			return domain.Record{}, err
		}
		edges = append(edges, batch...)
	}
	return domain.Record{ID: id, Properties: props, Edges: edges}, nil
}

// Record returns the current vertex.
func (c *Cursor) Record() domain.Record {
	return c.record
}

// UnitErr returns the PartialExportError of the current vertex, if reading
// it failed.
func (c *Cursor) UnitErr() error {
	return c.unitErr
}

// Err returns the error that ended iteration early.
func (c *Cursor) Err() error {
	return c.err
}

// Stats returns the counters so far.
func (c *Cursor) Stats() Stats {
	return c.stats
}

// Close stops enumeration. It is safe to call more than once.
func (c *Cursor) Close() {
	if c.closed {
		return
	}
	c.closed = true
	if c.cancel != nil {
		c.cancel()
		// Drain so the enumerating goroutine can exit.
		for range c.ids {
		}
	}
}
