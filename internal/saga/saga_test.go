package saga

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	appErrors "github.com/brianhks/asterion/pkg/errors"
)

func ok(counter *int32) func(context.Context) error {
	return func(context.Context) error {
		atomic.AddInt32(counter, 1)
		return nil
	}
}

func TestSagaCompletes(t *testing.T) {
	var ran int32
	report := NewSaga("delete", zap.NewNop()).
		AddStage(Step{Name: "a", Execute: ok(&ran)}, Step{Name: "b", Execute: ok(&ran)}).
		AddStage(Step{Name: "c", Execute: ok(&ran)}).
		Execute(context.Background())

	assert.Equal(t, OutcomeCompleted, report.Outcome)
	assert.NoError(t, report.Err())
	assert.Equal(t, int32(3), ran)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, report.Completed())
	assert.NotEmpty(t, report.ID)
}

func TestSagaSkipsLaterStagesAfterFailure(t *testing.T) {
	var ran int32
	boom := errors.New("boom")

	report := NewSaga("delete", nil).
		AddStage(
			Step{Name: "a", Execute: ok(&ran)},
			Step{Name: "b", Execute: func(context.Context) error { return boom }},
		).
		AddStage().
		AddStage(Step{Name: "c", Execute: ok(&ran)}).
		Execute(context.Background())

	assert.Equal(t, OutcomePartialFailure, report.Outcome)
	assert.Equal(t, int32(1), ran)
	assert.Equal(t, StepCompleted, report.Status("a"))
	assert.Equal(t, StepFailed, report.Status("b"))
	assert.Equal(t, StepSkipped, report.Status("c"))
	assert.Equal(t, StepPending, report.Status("unknown"))

	err := report.Err()
	require.Error(t, err)
	var pw *appErrors.PartialWriteError
	require.True(t, errors.As(err, &pw))
	assert.Equal(t, []string{"b", "c"}, pw.FailedNames())
	assert.Equal(t, []string{"a"}, pw.Completed)
	assert.ErrorIs(t, err, boom)
}

func TestSagaRunsStageConcurrently(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	wait := func(context.Context) error {
		started <- struct{}{}
		<-release
		return nil
	}

	done := make(chan *Report)
	go func() {
		done <- NewSaga("c", nil).AddStage(Step{Name: "x", Execute: wait}, Step{Name: "y", Execute: wait}).Execute(context.Background())
	}()

	<-started
	<-started
	close(release)
	assert.Equal(t, OutcomeCompleted, (<-done).Outcome)
}
