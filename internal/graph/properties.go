package graph

import (
	"context"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/brianhks/asterion/internal/codec"
	"github.com/brianhks/asterion/internal/concurrency"
	"github.com/brianhks/asterion/internal/domain"
	appErrors "github.com/brianhks/asterion/pkg/errors"
)

// SetVertexProperties writes every property of props and its index entry.
// Properties are written concurrently. The call returns when every write
// has been acknowledged or has failed; failures are reported as a
// PartialWriteError keyed by property name. A nil or empty map is a no-op.
//
// For each property the index entry for the new value is written first,
// then the stale entry of a changed value is removed, and the property row
// is written last. Until the property row is written the old value stays
// readable, so repeating a failed call always converges.
func (s *Store) SetVertexProperties(ctx context.Context, v domain.VertexID, props map[string]string) (err error) {
	ctx, span := s.startSpan(ctx, "SetVertexProperties",
		attribute.String("vertex.id", v.String()),
		attribute.Int("properties", len(props)),
	)
	defer func() { endSpan(span, err) }()

	if err := s.codec.ValidateVertex(v); err != nil {
		return err
	}
	if len(props) == 0 {
		return nil
	}

	tasks := make([]concurrency.Task, 0, len(props))
	for name, value := range props {
		name, value := name, value
		tasks = append(tasks, concurrency.Task{Name: name, Run: func(ctx context.Context) error {
			return s.setProperty(ctx, v, name, value)
		}})
	}

	collector := s.fanOut(ctx, tasks...)
	if !collector.HasErrors() {
		s.logger.Debug("properties written", zap.String("vertex_id", v.String()), zap.Int("count", len(props)))
		return nil
	}

	s.logger.Warn("property write partially failed",
		zap.String("vertex_id", v.String()),
		zap.Int("failed", collector.GetErrorCount()),
		zap.Int("total", len(props)),
	)
	return appErrors.NewPartialWriteError("set vertex properties", collector.GetErrors(), collector.Completed())
}

func (s *Store) setProperty(ctx context.Context, v domain.VertexID, name, value string) error {
	propKey, err := s.codec.PropertyKey(v, name)
	if err != nil {
		return err
	}
	indexKey, err := s.codec.IndexKey(name, value, v)
	if err != nil {
		return err
	}

	current, found, err := s.get(ctx, s.properties, propKey)
	if err != nil {
		return appErrors.Wrap(err, "read current value")
	}

	if err := s.put(ctx, s.index, indexKey, nil); err != nil {
		return appErrors.Wrap(err, "write index")
	}
	if old := codec.DecodeValue(current.Value); found && old != value {
		staleKey, err := s.codec.IndexKey(name, old, v)
		if err != nil {
			return err
		}
		if err := s.delete(ctx, s.index, staleKey); err != nil {
			return appErrors.Wrap(err, "delete stale index")
		}
	}
	if err := s.put(ctx, s.properties, propKey, codec.EncodeValue(value)); err != nil {
		return appErrors.Wrap(err, "write property")
	}
	return nil
}

// DeleteProperty removes one property and its index entry. Deleting a
// property that does not exist succeeds.
//
// The property row is deleted before the index row. If only the first step
// succeeds the result is a PartialWriteError whose failed step is "index";
// the stale index entry has to be removed by the caller with
// DeleteIndexEntry because a repeated DeleteProperty no longer finds the
// value.
func (s *Store) DeleteProperty(ctx context.Context, v domain.VertexID, name string) (err error) {
	ctx, span := s.startSpan(ctx, "DeleteProperty",
		attribute.String("vertex.id", v.String()),
		attribute.String("property.name", name),
	)
	defer func() { endSpan(span, err) }()

	propKey, err := s.codec.PropertyKey(v, name)
	if err != nil {
		return err
	}
	row, found, err := s.get(ctx, s.properties, propKey)
	if err != nil {
		return appErrors.Wrap(err, "read current value")
	}
	if !found {
		return nil
	}
	value := codec.DecodeValue(row.Value)

	if err := s.delete(ctx, s.properties, propKey); err != nil {
		return appErrors.Wrap(err, "delete property")
	}
	if err := s.DeleteIndexEntry(ctx, name, value, v); err != nil {
		s.logger.Warn("stale index entry left behind",
			zap.String("vertex_id", v.String()),
			zap.String("property", name),
			zap.Error(err),
		)
		return appErrors.NewPartialWriteError("delete property",
			map[string]error{"index": err}, []string{"property"})
	}
	return nil
}

// DeleteIndexEntry removes the index entry (name, value, v). It exists to
// repair an index after a partially failed DeleteProperty.
func (s *Store) DeleteIndexEntry(ctx context.Context, name, value string, v domain.VertexID) error {
	key, err := s.codec.IndexKey(name, value, v)
	if err != nil {
		return err
	}
	return s.delete(ctx, s.index, key)
}

// GetVertexProperties returns every property of v. A vertex without
// properties and a vertex that never existed both yield an empty map.
func (s *Store) GetVertexProperties(ctx context.Context, v domain.VertexID) (props map[string]string, err error) {
	ctx, span := s.startSpan(ctx, "GetVertexProperties", attribute.String("vertex.id", v.String()))
	defer func() { endSpan(span, err) }()

	partition, err := s.codec.VertexPartition(v)
	if err != nil {
		return nil, err
	}
	rows, err := s.query(ctx, s.properties, partition, "")
	if err != nil {
		return nil, err
	}

	props = make(map[string]string, len(rows))
	for _, row := range rows {
		name, err := codec.DecodePropertyName(row.Clustering)
		if err != nil {
			return nil, err
		}
		props[name] = codec.DecodeValue(row.Value)
	}
	return props, nil
}

// GetVertexProperty returns one property value or a NotFound error.
func (s *Store) GetVertexProperty(ctx context.Context, v domain.VertexID, name string) (value string, err error) {
	ctx, span := s.startSpan(ctx, "GetVertexProperty",
		attribute.String("vertex.id", v.String()),
		attribute.String("property.name", name),
	)
	defer func() { endSpan(span, err) }()

	key, err := s.codec.PropertyKey(v, name)
	if err != nil {
		return "", err
	}
	row, found, err := s.get(ctx, s.properties, key)
	if err != nil {
		return "", err
	}
	if !found {
		return "", appErrors.NewNotFoundError(fmt.Sprintf("property %q of vertex %s", name, v))
	}
	return codec.DecodeValue(row.Value), nil
}

// FindVerticesByProperty returns the vertices whose property name has
// exactly value, in identifier order.
func (s *Store) FindVerticesByProperty(ctx context.Context, name, value string) (ids []domain.VertexID, err error) {
	ctx, span := s.startSpan(ctx, "FindVerticesByProperty",
		attribute.String("property.name", name),
	)
	defer func() { endSpan(span, err) }()

	rows, err := s.query(ctx, s.index, codec.IndexPartition(name), codec.IndexPrefix(value))
	if err != nil {
		return nil, err
	}

	ids = make([]domain.VertexID, 0, len(rows))
	for _, row := range rows {
		_, v, err := codec.DecodeIndexClustering(row.Clustering)
		if err != nil {
			return nil, err
		}
		ids = append(ids, v)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
	return ids, nil
}
