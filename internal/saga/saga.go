// Package saga runs a multi-step store mutation and reports the outcome of
// every step. Steps are not compensated: whatever completed stays applied
// and the report tells the caller what to retry.
package saga

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/brianhks/asterion/internal/concurrency"
	appErrors "github.com/brianhks/asterion/pkg/errors"
)

// StepStatus is the state of one step after execution.
type StepStatus string

const (
	StepPending   StepStatus = "PENDING"
	StepCompleted StepStatus = "COMPLETED"
	StepFailed    StepStatus = "FAILED"
	// StepSkipped marks steps of a stage that never ran because an earlier
	// stage failed.
	StepSkipped StepStatus = "SKIPPED"
)

// Outcome summarises a whole run.
type Outcome string

const (
	OutcomeCompleted      Outcome = "COMPLETED"
	OutcomePartialFailure Outcome = "PARTIAL_FAILURE"
)

// Step is a single named mutation.
type Step struct {
	Name    string
	Execute func(ctx context.Context) error
}

// StepResult records what happened to one step.
type StepResult struct {
	Name     string        `json:"name"`
	Status   StepStatus    `json:"status"`
	Err      error         `json:"-"`
	Duration time.Duration `json:"duration"`
}

// Report is the per-step account of a saga run.
type Report struct {
	ID      string       `json:"id"`
	Name    string       `json:"name"`
	Outcome Outcome      `json:"outcome"`
	Steps   []StepResult `json:"steps"`
}

// Failed returns the error of every failed step keyed by step name.
func (r *Report) Failed() map[string]error {
	failed := make(map[string]error)
	for _, s := range r.Steps {
		if s.Status == StepFailed {
			failed[s.Name] = s.Err
		}
	}
	return failed
}

// Completed returns the names of the completed steps.
func (r *Report) Completed() []string {
	var done []string
	for _, s := range r.Steps {
		if s.Status == StepCompleted {
			done = append(done, s.Name)
		}
	}
	return done
}

// Status returns the status of the named step.
func (r *Report) Status(name string) StepStatus {
	for _, s := range r.Steps {
		if s.Name == name {
			return s.Status
		}
	}
	return StepPending
}

// Err converts a partial failure into a PartialWriteError. Skipped steps
// are reported as failed with a cause naming the blocking stage.
func (r *Report) Err() error {
	if r.Outcome == OutcomeCompleted {
		return nil
	}
	failed := r.Failed()
	for _, s := range r.Steps {
		if s.Status == StepSkipped {
			failed[s.Name] = s.Err
		}
	}
	return appErrors.NewPartialWriteError(r.Name, failed, r.Completed())
}

// Saga executes stages in order. The steps of one stage run concurrently;
// a stage only starts when every step of the previous stage completed.
type Saga struct {
	id     string
	name   string
	stages [][]Step
	limit  int
	logger *zap.Logger
}

// NewSaga creates a new saga instance
func NewSaga(name string, logger *zap.Logger) *Saga {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Saga{
		id:     uuid.NewString(),
		name:   name,
		limit:  concurrency.DefaultLimit,
		logger: logger,
	}
}

// WithLimit bounds the concurrency inside a stage.
func (s *Saga) WithLimit(limit int) *Saga {
	s.limit = limit
	return s
}

// AddStage appends a stage of independent steps. Empty stages are ignored.
func (s *Saga) AddStage(steps ...Step) *Saga {
	if len(steps) > 0 {
		s.stages = append(s.stages, steps)
	}
	return s
}

// Execute runs the saga and returns its report. The report's Err is the
// error to hand back to callers.
func (s *Saga) Execute(ctx context.Context) *Report {
	report := &Report{ID: s.id, Name: s.name, Outcome: OutcomeCompleted}
	s.logger.Debug("Starting saga execution",
		zap.String("saga_id", s.id),
		zap.String("saga_name", s.name),
		zap.Int("total_stages", len(s.stages)),
	)

	var blocked error
	for i, stage := range s.stages {
		if blocked != nil {
			for _, step := range stage {
				report.Steps = append(report.Steps, StepResult{Name: step.Name, Status: StepSkipped, Err: blocked})
			}
			continue
		}

		results := s.runStage(ctx, stage)
		report.Steps = append(report.Steps, results...)
		for _, r := range results {
			if r.Status == StepFailed {
				report.Outcome = OutcomePartialFailure
				blocked = appErrors.NewInternalError("skipped after failure in stage " + stageName(i, stage))
				s.logger.Warn("Saga step failed",
					zap.String("saga_id", s.id),
					zap.String("step_name", r.Name),
					zap.Error(r.Err),
				)
			}
		}
	}

	if report.Outcome == OutcomeCompleted {
		s.logger.Debug("Saga completed successfully",
			zap.String("saga_id", s.id),
			zap.String("saga_name", s.name),
			zap.Int("completed_steps", len(report.Steps)),
		)
	}
	return report
}

func (s *Saga) runStage(ctx context.Context, stage []Step) []StepResult {
	results := make([]StepResult, len(stage))
	tasks := make([]concurrency.Task, len(stage))
	for i, step := range stage {
		i, step := i, step
		results[i] = StepResult{Name: step.Name, Status: StepPending}
		tasks[i] = concurrency.Task{Name: step.Name, Run: func(ctx context.Context) error {
			start := time.Now()
			err := step.Execute(ctx)
			results[i].Duration = time.Since(start)
			return err
		}}
	}

	collector := concurrency.FanOut(ctx, s.limit, tasks...)
	errs := collector.GetErrors()
	for i := range results {
		if err, failed := errs[results[i].Name]; failed {
			results[i].Status = StepFailed
			results[i].Err = err
		} else {
			results[i].Status = StepCompleted
		}
	}
	return results
}

func stageName(i int, stage []Step) string {
	if len(stage) == 1 {
		return stage[0].Name
	}
	return "#" + strconv.Itoa(i+1)
}
