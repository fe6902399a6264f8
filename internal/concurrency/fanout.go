// Package concurrency runs the independent sub-operations of one logical
// operation in parallel and joins their outcomes.
package concurrency

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// DefaultLimit bounds the goroutines one fan-out may run at once.
const DefaultLimit = 16

// Task is one named sub-operation.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// FanOut runs every task, at most limit at a time, and waits for all of
// them. A failing task does not cancel its siblings: each task runs to
// acknowledgement or failure and is recorded in the returned collector.
func FanOut(ctx context.Context, limit int, tasks ...Task) *ErrorCollector {
	collector := NewErrorCollector()
	if limit <= 0 {
		limit = DefaultLimit
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for _, task := range tasks {
		task := task
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				collector.Record(task.Name, err)
				return nil
			}
			collector.Record(task.Name, task.Run(ctx))
			return nil
		})
	}
	_ = g.Wait()
	return collector
}
