package persistence

import (
	"context"
	"time"
)

// Recorder receives one observation per backend call.
type Recorder interface {
	RecordOperation(operation, table string, err error, duration time.Duration)
}

// Instrumented reports every call of the wrapped Session to a Recorder.
type Instrumented struct {
	inner    Session
	recorder Recorder
}

var _ Session = (*Instrumented)(nil)

// NewInstrumented creates the decorator.
func NewInstrumented(inner Session, recorder Recorder) *Instrumented {
	return &Instrumented{inner: inner, recorder: recorder}
}

func (i *Instrumented) Keyspace() string {
	return i.inner.Keyspace()
}

func (i *Instrumented) CreateKeyspace(ctx context.Context, spec KeyspaceSpec) error {
	start := time.Now()
	err := i.inner.CreateKeyspace(ctx, spec)
	i.recorder.RecordOperation("create_keyspace", spec.Name, err, time.Since(start))
	return err
}

func (i *Instrumented) CreateTable(ctx context.Context, spec TableSpec) error {
	start := time.Now()
	err := i.inner.CreateTable(ctx, spec)
	i.recorder.RecordOperation("create_table", spec.Name, err, time.Since(start))
	return err
}

func (i *Instrumented) Execute(ctx context.Context, stmt Statement) (*ResultSet, error) {
	start := time.Now()
	rows, err := i.inner.Execute(ctx, stmt)
	i.recorder.RecordOperation(stmt.Op.String(), stmt.Table, err, time.Since(start))
	return rows, err
}

func (i *Instrumented) Partitions(ctx context.Context, table string, fn func(partition string) error) error {
	start := time.Now()
	err := i.inner.Partitions(ctx, table, fn)
	i.recorder.RecordOperation("partitions", table, err, time.Since(start))
	return err
}

func (i *Instrumented) Close() error {
	return i.inner.Close()
}
