package graph

import (
	"context"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/brianhks/asterion/internal/codec"
	"github.com/brianhks/asterion/internal/concurrency"
	"github.com/brianhks/asterion/internal/domain"
	appErrors "github.com/brianhks/asterion/pkg/errors"
)

// Names of the two halves of an edge in error reports.
const (
	halfForward = "forward"
	halfReverse = "reverse"
)

// AddEdge stores an edge from src to dst timestamped with the store clock.
func (s *Store) AddEdge(ctx context.Context, src, dst domain.VertexID, dir domain.Direction, edgeType string) error {
	return s.AddEdgeAt(ctx, src, dst, dir, edgeType, s.now())
}

// AddEdgeAt stores an edge with an explicit timestamp, truncated to
// milliseconds. Both halves carry the same timestamp.
//
// The catalog entries of both ends are written first; the halves are only
// written once both are acknowledged, so an edge is never visible without
// its catalog entry. If exactly one half is written the result is an
// AsymmetricEdgeError. Any other failure is a PartialWriteError.
func (s *Store) AddEdgeAt(ctx context.Context, src, dst domain.VertexID, dir domain.Direction, edgeType string, when time.Time) (err error) {
	ctx, span := s.startSpan(ctx, "AddEdge",
		attribute.String("edge.source", src.String()),
		attribute.String("edge.dest", dst.String()),
		attribute.String("edge.type", edgeType),
		attribute.String("edge.direction", dir.String()),
	)
	defer func() { endSpan(span, err) }()

	forward, err := s.codec.EdgeKey(src, edgeType, dir, dst)
	if err != nil {
		return err
	}
	reverse, err := s.codec.EdgeKey(dst, edgeType, dir.Opposite(), src)
	if err != nil {
		return err
	}
	srcCatalog, err := s.codec.CatalogKey(src, edgeType)
	if err != nil {
		return err
	}
	dstCatalog, err := s.codec.CatalogKey(dst, edgeType)
	if err != nil {
		return err
	}

	catalogs := s.fanOut(ctx,
		concurrency.Task{Name: "catalog:source", Run: func(ctx context.Context) error {
			return s.put(ctx, s.catalog, srcCatalog, nil)
		}},
		concurrency.Task{Name: "catalog:dest", Run: func(ctx context.Context) error {
			return s.put(ctx, s.catalog, dstCatalog, nil)
		}},
	)
	if catalogs.HasErrors() {
		failed := catalogs.GetErrors()
		failed[halfForward] = errNotAttempted
		failed[halfReverse] = errNotAttempted
		return appErrors.NewPartialWriteError("add edge", failed, catalogs.Completed())
	}

	value := codec.EncodeTimestamp(domain.TruncateTime(when))
	halves := s.fanOut(ctx,
		concurrency.Task{Name: halfForward, Run: func(ctx context.Context) error {
			return s.put(ctx, s.edges, forward, value)
		}},
		concurrency.Task{Name: halfReverse, Run: func(ctx context.Context) error {
			return s.put(ctx, s.edges, reverse, value)
		}},
	)
	if !halves.HasErrors() {
		s.logger.Debug("edge added",
			zap.String("source", src.String()),
			zap.String("dest", dst.String()),
			zap.String("type", edgeType),
			zap.Stringer("direction", dir),
		)
		return nil
	}
	return s.edgeFailure("add edge", src, dst, edgeType,
		halves.GetErrors(), []string{halfForward}, []string{halfReverse}, catalogs.Completed())
}

// DeleteEdge removes every edge of edgeType between src and dst, whatever
// its direction, from both partitions. Deletes are blind, so deleting an
// edge that does not exist succeeds. If every delete of one side succeeds
// and a delete of the other side fails the result is an
// AsymmetricEdgeError. The catalog entries are left in place.
func (s *Store) DeleteEdge(ctx context.Context, src, dst domain.VertexID, edgeType string) (err error) {
	ctx, span := s.startSpan(ctx, "DeleteEdge",
		attribute.String("edge.source", src.String()),
		attribute.String("edge.dest", dst.String()),
		attribute.String("edge.type", edgeType),
	)
	defer func() { endSpan(span, err) }()

	var (
		tasks        []concurrency.Task
		forwardNames []string
		reverseNames []string
	)
	for _, dir := range domain.Directions {
		forward, err := s.codec.EdgeKey(src, edgeType, dir, dst)
		if err != nil {
			return err
		}
		reverse, err := s.codec.EdgeKey(dst, edgeType, dir.Opposite(), src)
		if err != nil {
			return err
		}

		fname := halfForward + ":" + dir.String()
		rname := halfReverse + ":" + dir.Opposite().String()
		forwardNames = append(forwardNames, fname)
		reverseNames = append(reverseNames, rname)
		tasks = append(tasks,
			concurrency.Task{Name: fname, Run: func(ctx context.Context) error {
				return s.delete(ctx, s.edges, forward)
			}},
			concurrency.Task{Name: rname, Run: func(ctx context.Context) error {
				return s.delete(ctx, s.edges, reverse)
			}},
		)
	}

	collector := s.fanOut(ctx, tasks...)
	if !collector.HasErrors() {
		s.logger.Debug("edge deleted",
			zap.String("source", src.String()),
			zap.String("dest", dst.String()),
			zap.String("type", edgeType),
		)
		return nil
	}
	return s.edgeFailure("delete edge", src, dst, edgeType,
		collector.GetErrors(), forwardNames, reverseNames, collector.Completed())
}

// edgeFailure classifies the failed sub-writes of an edge operation. When
// every write of one side succeeded and some write of the other side failed
// the pair is asymmetric.
func (s *Store) edgeFailure(op string, src, dst domain.VertexID, edgeType string,
	failed map[string]error, forwardNames, reverseNames, completed []string) error {

	forwardErr := firstFailure(failed, forwardNames)
	reverseErr := firstFailure(failed, reverseNames)

	var written, missing string
	var cause error
	switch {
	case forwardErr == nil && reverseErr != nil:
		written, missing, cause = halfForward, halfReverse, reverseErr
	case forwardErr != nil && reverseErr == nil:
		written, missing, cause = halfReverse, halfForward, forwardErr
	default:
		s.logger.Warn("edge operation failed on both sides",
			zap.String("operation", op),
			zap.String("source", src.String()),
			zap.String("dest", dst.String()),
			zap.String("type", edgeType),
		)
		done := append([]string(nil), completed...)
		for _, name := range forwardNames {
			if _, ok := failed[name]; !ok {
				done = append(done, name)
			}
		}
		for _, name := range reverseNames {
			if _, ok := failed[name]; !ok {
				done = append(done, name)
			}
		}
		return appErrors.NewPartialWriteError(op, failed, dedupe(done))
	}

	s.logger.Warn("edge pair is asymmetric",
		zap.String("operation", op),
		zap.String("source", src.String()),
		zap.String("dest", dst.String()),
		zap.String("type", edgeType),
		zap.String("missing", missing),
		zap.Error(cause),
	)
	return &appErrors.AsymmetricEdgeError{
		Operation: op,
		Source:    src.String(),
		Dest:      dst.String(),
		EdgeType:  edgeType,
		Written:   written,
		Missing:   missing,
		Cause:     cause,
	}
}

func firstFailure(failed map[string]error, names []string) error {
	for _, name := range names {
		if err, ok := failed[name]; ok {
			return err
		}
	}
	return nil
}

func dedupe(names []string) []string {
	sort.Strings(names)
	out := names[:0]
	for i, name := range names {
		if i == 0 || name != names[i-1] {
			out = append(out, name)
		}
	}
	return out
}

// GetEdgeTypes returns the edge types recorded in the catalog of v, sorted.
// The catalog may name a type whose edges have all been deleted.
func (s *Store) GetEdgeTypes(ctx context.Context, v domain.VertexID) (types []string, err error) {
	ctx, span := s.startSpan(ctx, "GetEdgeTypes", attribute.String("vertex.id", v.String()))
	defer func() { endSpan(span, err) }()

	partition, err := s.codec.VertexPartition(v)
	if err != nil {
		return nil, err
	}
	rows, err := s.query(ctx, s.catalog, partition, "")
	if err != nil {
		return nil, err
	}

	types = make([]string, 0, len(rows))
	for _, row := range rows {
		t, err := codec.DecodeEdgeType(row.Clustering)
		if err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	sort.Strings(types)
	return types, nil
}

// GetEdges returns the edge halves of one type anchored at v.
//
// Edges come back in the store's clustering order: by direction (IN, OUT,
// BOTH) and then by destination identifier. The order follows from the
// storage layout and callers should not depend on it.
func (s *Store) GetEdges(ctx context.Context, v domain.VertexID, edgeType string) (edges []domain.Edge, err error) {
	ctx, span := s.startSpan(ctx, "GetEdges",
		attribute.String("vertex.id", v.String()),
		attribute.String("edge.type", edgeType),
	)
	defer func() { endSpan(span, err) }()

	partition, err := s.codec.EdgePartition(v, edgeType)
	if err != nil {
		return nil, err
	}
	rows, err := s.query(ctx, s.edges, partition, "")
	if err != nil {
		return nil, err
	}

	edges = make([]domain.Edge, 0, len(rows))
	for _, row := range rows {
		dir, dest, err := codec.DecodeEdgeClustering(row.Clustering)
		if err != nil {
			return nil, err
		}
		when, err := codec.DecodeTimestamp(row.Value)
		if err != nil {
			return nil, err
		}
		edges = append(edges, domain.Edge{Type: edgeType, Direction: dir, Dest: dest, When: when})
	}
	return edges, nil
}
