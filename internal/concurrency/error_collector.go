package concurrency

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrorCollector safely collects errors from concurrent operations, keyed by
// the name of the operation that failed.
type ErrorCollector struct {
	mu         sync.RWMutex
	errors     map[string]error
	errorOrder []string
	completed  []string
}

// ErrorSummary provides a summary of collected errors
type ErrorSummary struct {
	TotalErrors  int
	Errors       map[string]error
	FirstError   error
	ErrorMessage string
}

// NewErrorCollector creates a new error collector
func NewErrorCollector() *ErrorCollector {
	return &ErrorCollector{
		errors: make(map[string]error),
	}
}

// Record stores the outcome of the named operation: a failure when err is
// non-nil, a completion otherwise. The first error recorded for a name wins.
func (ec *ErrorCollector) Record(id string, err error) {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	if err == nil {
		ec.completed = append(ec.completed, id)
		return
	}
	if _, exists := ec.errors[id]; !exists {
		ec.errors[id] = err
		ec.errorOrder = append(ec.errorOrder, id)
	}
}

// Add adds an error to the collector. Nil errors are ignored.
func (ec *ErrorCollector) Add(id string, err error) {
	if err == nil {
		return
	}
	ec.Record(id, err)
}

// HasErrors returns true if any errors have been collected
func (ec *ErrorCollector) HasErrors() bool {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	return len(ec.errors) > 0
}

// GetErrorCount returns the number of errors collected
func (ec *ErrorCollector) GetErrorCount() int {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	return len(ec.errors)
}

// GetErrors returns a copy of all collected errors
func (ec *ErrorCollector) GetErrors() map[string]error {
	ec.mu.RLock()
	defer ec.mu.RUnlock()

	errorsCopy := make(map[string]error, len(ec.errors))
	for k, v := range ec.errors {
		errorsCopy[k] = v
	}
	return errorsCopy
}

// Completed returns the sorted names of the operations that succeeded.
func (ec *ErrorCollector) Completed() []string {
	ec.mu.RLock()
	defer ec.mu.RUnlock()

	done := append([]string(nil), ec.completed...)
	sort.Strings(done)
	return done
}

// GetFirstError returns the first error that was collected
func (ec *ErrorCollector) GetFirstError() error {
	ec.mu.RLock()
	defer ec.mu.RUnlock()

	if len(ec.errorOrder) == 0 {
		return nil
	}
	return ec.errors[ec.errorOrder[0]]
}

// GetSummary returns a summary of all collected errors
func (ec *ErrorCollector) GetSummary() *ErrorSummary {
	ec.mu.RLock()
	defer ec.mu.RUnlock()

	summary := &ErrorSummary{
		TotalErrors: len(ec.errors),
		Errors:      make(map[string]error, len(ec.errors)),
	}
	for k, v := range ec.errors {
		summary.Errors[k] = v
	}
	if len(ec.errorOrder) > 0 {
		summary.FirstError = ec.errors[ec.errorOrder[0]]
	}
	summary.ErrorMessage = ec.buildErrorMessage()
	return summary
}

// buildErrorMessage creates a formatted error message
func (ec *ErrorCollector) buildErrorMessage() string {
	if len(ec.errors) == 0 {
		return ""
	}
	if len(ec.errors) == 1 {
		id := ec.errorOrder[0]
		return fmt.Sprintf("error processing %s: %v", id, ec.errors[id])
	}

	var messages []string
	maxDisplay := 5
	for i, id := range ec.errorOrder {
		if i >= maxDisplay {
			messages = append(messages, fmt.Sprintf("... and %d more errors", len(ec.errors)-maxDisplay))
			break
		}
		messages = append(messages, fmt.Sprintf("%s: %v", id, ec.errors[id]))
	}
	return fmt.Sprintf("%d errors occurred:\n%s", len(ec.errors), strings.Join(messages, "\n"))
}

// ToError converts the collector to a single error
func (ec *ErrorCollector) ToError() error {
	summary := ec.GetSummary()
	switch summary.TotalErrors {
	case 0:
		return nil
	case 1:
		return summary.FirstError
	default:
		ec.mu.RLock()
		defer ec.mu.RUnlock()
		causes := make([]error, 0, len(ec.errorOrder))
		for _, id := range ec.errorOrder {
			causes = append(causes, ec.errors[id])
		}
		return &collectedError{message: summary.ErrorMessage, causes: causes}
	}
}

// collectedError reports several failures under one message while keeping
// each cause reachable through errors.Is and errors.As.
type collectedError struct {
	message string
	causes  []error
}

func (e *collectedError) Error() string   { return e.message }
func (e *collectedError) Unwrap() []error { return e.causes }
