package graph

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/brianhks/asterion/internal/codec"
	"github.com/brianhks/asterion/internal/concurrency"
	"github.com/brianhks/asterion/internal/domain"
	"github.com/brianhks/asterion/internal/saga"
	appErrors "github.com/brianhks/asterion/pkg/errors"
)

// DeleteVertex removes every property, index entry, edge half and catalog
// entry of v. It runs as a two stage saga:
//
//  1. every property with its index entry, and every edge of every type
//     together with the mirrored half at the other end
//  2. the catalog entries, only when stage 1 fully succeeded
//
// The deletion is not atomic. A failure leaves the vertex partially deleted;
// the report lists what completed and the returned PartialWriteError names
// the failed and skipped steps. Repeating the call finishes the job.
func (s *Store) DeleteVertex(ctx context.Context, v domain.VertexID) (report *saga.Report, err error) {
	ctx, span := s.startSpan(ctx, "DeleteVertex", attribute.String("vertex.id", v.String()))
	defer func() { endSpan(span, err) }()

	partition, err := s.codec.VertexPartition(v)
	if err != nil {
		return nil, err
	}

	propRows, err := s.query(ctx, s.properties, partition, "")
	if err != nil {
		return nil, appErrors.Wrap(err, "list properties")
	}
	types, err := s.GetEdgeTypes(ctx, v)
	if err != nil {
		return nil, appErrors.Wrap(err, "list edge types")
	}

	var cleanup, catalog []saga.Step
	for _, row := range propRows {
		name, err := codec.DecodePropertyName(row.Clustering)
		if err != nil {
			return nil, err
		}
		value := codec.DecodeValue(row.Value)
		key := codec.Key{Partition: row.Partition, Clustering: row.Clustering}
		cleanup = append(cleanup, saga.Step{
			Name: "property:" + name,
			Execute: func(ctx context.Context) error {
				// Index first: the property row is what a retry enumerates.
				if err := s.DeleteIndexEntry(ctx, name, value, v); err != nil {
					return appErrors.Wrap(err, "delete index")
				}
				return appErrors.Wrap(s.delete(ctx, s.properties, key), "delete property")
			},
		})
	}
	for _, edgeType := range types {
		edgeType := edgeType
		key, err := s.codec.CatalogKey(v, edgeType)
		if err != nil {
			return nil, err
		}
		cleanup = append(cleanup, saga.Step{
			Name: "edges:" + edgeType,
			Execute: func(ctx context.Context) error {
				return s.deleteEdgesOfType(ctx, v, edgeType)
			},
		})
		catalog = append(catalog, saga.Step{
			Name: "catalog:" + edgeType,
			Execute: func(ctx context.Context) error {
				return s.delete(ctx, s.catalog, key)
			},
		})
	}

	report = saga.NewSaga("delete vertex", s.logger).
		WithLimit(s.limit).
		AddStage(cleanup...).
		AddStage(catalog...).
		Execute(ctx)

	if err := report.Err(); err != nil {
		s.logger.Warn("vertex partially deleted",
			zap.String("vertex_id", v.String()),
			zap.String("saga_id", report.ID),
			zap.Int("failed", len(report.Failed())),
		)
		return report, err
	}
	s.logger.Debug("vertex deleted",
		zap.String("vertex_id", v.String()),
		zap.Int("properties", len(propRows)),
		zap.Int("edge_types", len(types)),
	)
	return report, nil
}

// deleteEdgesOfType removes every half anchored at v of one type and the
// mirrored half at each destination.
func (s *Store) deleteEdgesOfType(ctx context.Context, v domain.VertexID, edgeType string) error {
	edges, err := s.GetEdges(ctx, v, edgeType)
	if err != nil {
		return appErrors.Wrap(err, "list edges")
	}

	tasks := make([]concurrency.Task, 0, len(edges))
	for _, e := range edges {
		mirror := e.Mirror(v)
		local, err := s.codec.EdgeKey(v, edgeType, e.Direction, e.Dest)
		if err != nil {
			return err
		}
		remote, err := s.codec.EdgeKey(e.Dest, edgeType, mirror.Direction, v)
		if err != nil {
			return err
		}
		// Remote half first: the local half is what a retry enumerates.
		tasks = append(tasks, concurrency.Task{
			Name: e.Direction.String() + ":" + e.Dest.String(),
			Run: func(ctx context.Context) error {
				if err := s.delete(ctx, s.edges, remote); err != nil {
					return err
				}
				return s.delete(ctx, s.edges, local)
			},
		})
	}
	return s.fanOut(ctx, tasks...).ToError()
}
