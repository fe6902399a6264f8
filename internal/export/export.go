package export

import (
	"context"
	"fmt"
)

// Summary is the outcome of Export.
type Summary struct {
	Stats
	// Errors maps a vertex identifier to the PartialExportError it produced.
	Errors map[string]error
}

// Export drains cur into w. Every record is flushed before its identifier is
// marked in log, so a log entry always refers to a record that reached the
// output. log may be nil.
func Export(ctx context.Context, cur *Cursor, w *Writer, log *RecoveryLog) (Summary, error) {
	defer cur.Close()
	summary := Summary{Errors: make(map[string]error)}

	for cur.Next(ctx) {
		record := cur.Record()
		if err := cur.UnitErr(); err != nil {
			summary.Errors[record.ID.String()] = err
			continue
		}
		if err := w.Write(record); err != nil {
			return summary, err
		}
		if err := w.Flush(); err != nil {
			return summary, fmt.Errorf("failed to flush export: %w", err)
		}
		if log != nil {
			if err := log.Mark(record.ID); err != nil {
				return summary, fmt.Errorf("failed to update recovery log: %w", err)
			}
		}
	}
	summary.Stats = cur.Stats()
	return summary, cur.Err()
}
