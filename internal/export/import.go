package export

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/brianhks/asterion/internal/graph"
)

// ImportResult summarises an import.
type ImportResult struct {
	Records    int
	Properties int
	Edges      int
	// Failed maps "line N (vertex)" to the error that record produced.
	Failed map[string]error
}

// Import replays the records read from r into store.
//
// Each edge half is written with AddEdgeAt and its original timestamp,
// which writes the pair. The mirrored half in the other vertex's record
// writes the same two rows again, so replaying is idempotent and a partial
// export still restores both halves. A record that fails is reported in
// the result and the import moves on; a malformed file stops it.
func Import(ctx context.Context, store *graph.Store, r *Reader, logger *zap.Logger) (ImportResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("import")
	result := ImportResult{Failed: make(map[string]error)}

	for r.Next() {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		record := r.Record()
		result.Records++
		key := fmt.Sprintf("line %d (%s)", r.Line(), record.ID)

		if len(record.Properties) > 0 {
			if err := store.SetVertexProperties(ctx, record.ID, record.Properties); err != nil {
				result.Failed[key] = err
				logger.Warn("record not imported", zap.String("vertex_id", record.ID.String()), zap.Error(err))
				continue
			}
			result.Properties += len(record.Properties)
		}

		for _, e := range record.Edges {
			if err := store.AddEdgeAt(ctx, record.ID, e.Dest, e.Direction, e.Type, e.When); err != nil {
				result.Failed[key] = err
				logger.Warn("edge not imported",
					zap.String("vertex_id", record.ID.String()),
					zap.String("type", e.Type),
					zap.Error(err),
				)
				break
			}
			result.Edges++
		}
	}
	if err := r.Err(); err != nil {
		return result, err
	}

	logger.Info("import finished",
		zap.Int("records", result.Records),
		zap.Int("properties", result.Properties),
		zap.Int("edges", result.Edges),
		zap.Int("failed", len(result.Failed)),
	)
	return result, nil
}
