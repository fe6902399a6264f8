package errors

import (
	"fmt"
	"sort"
	"strings"
)

// PartialWriteError is returned when some sub-writes of a multi-write
// operation were applied and others were not. Nothing is rolled back; the
// caller retries the entries listed in Failed.
type PartialWriteError struct {
	Operation string
	Failed    map[string]error
	Completed []string
}

// NewPartialWriteError builds a PartialWriteError. Completed is copied and
// sorted.
func NewPartialWriteError(operation string, failed map[string]error, completed []string) *PartialWriteError {
	done := append([]string(nil), completed...)
	sort.Strings(done)
	return &PartialWriteError{
		Operation: operation,
		Failed:    failed,
		Completed: done,
	}
}

func (e *PartialWriteError) Error() string {
	names := e.FailedNames()
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %v", name, e.Failed[name]))
	}
	return fmt.Sprintf("%s: %s: %d of %d writes failed [%s]",
		ErrorTypePartialWrite, e.Operation, len(names), len(names)+len(e.Completed), strings.Join(parts, "; "))
}

// ErrorType implements Typed.
func (e *PartialWriteError) ErrorType() ErrorType {
	return ErrorTypePartialWrite
}

// FailedNames returns the names of the failed sub-writes in sorted order.
func (e *PartialWriteError) FailedNames() []string {
	names := make([]string, 0, len(e.Failed))
	for name := range e.Failed {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Unwrap exposes every sub-write failure to errors.Is / errors.As.
func (e *PartialWriteError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, name := range e.FailedNames() {
		errs = append(errs, e.Failed[name])
	}
	return errs
}

// AsymmetricEdgeError reports that exactly one half of an edge pair was
// written (or deleted). Edge symmetry does not hold until the caller
// repeats the operation.
type AsymmetricEdgeError struct {
	Operation string
	Source    string
	Dest      string
	EdgeType  string
	Written   string
	Missing   string
	Cause     error
}

func (e *AsymmetricEdgeError) Error() string {
	return fmt.Sprintf("%s: %s %s -[%s]-> %s: %s half applied, %s half failed: %v",
		ErrorTypeAsymmetricEdge, e.Operation, e.Source, e.EdgeType, e.Dest, e.Written, e.Missing, e.Cause)
}

// ErrorType implements Typed.
func (e *AsymmetricEdgeError) ErrorType() ErrorType {
	return ErrorTypeAsymmetricEdge
}

func (e *AsymmetricEdgeError) Unwrap() error {
	return e.Cause
}

// PartialExportError reports that one exported unit could not be read
// completely. The export continues with the next identifier.
type PartialExportError struct {
	ID    string
	Cause error
}

func (e *PartialExportError) Error() string {
	return fmt.Sprintf("%s: vertex %s: %v", ErrorTypePartialExport, e.ID, e.Cause)
}

// ErrorType implements Typed.
func (e *PartialExportError) ErrorType() ErrorType {
	return ErrorTypePartialExport
}

func (e *PartialExportError) Unwrap() error {
	return e.Cause
}
