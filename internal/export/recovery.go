package export

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/brianhks/asterion/internal/domain"
)

// RecoveryLog is a newline-delimited file of vertex identifiers that have
// been fully exported. An interrupted export opened on the same log skips
// them and continues with the rest.
type RecoveryLog struct {
	mu     sync.Mutex
	path   string
	done   map[domain.VertexID]struct{}
	file   *os.File
	writer *bufio.Writer
}

// OpenRecoveryLog loads the identifiers already in path and opens it for
// appending, creating it if needed. Blank lines are ignored.
func OpenRecoveryLog(path string) (*RecoveryLog, error) {
	log := &RecoveryLog{path: path, done: make(map[domain.VertexID]struct{})}

	if existing, err := os.Open(path); err == nil {
		scanner := bufio.NewScanner(existing)
		line := 0
		for scanner.Scan() {
			line++
			text := strings.TrimSpace(scanner.Text())
			if text == "" {
				continue
			}
			id, err := domain.ParseVertexID(text)
			if err != nil {
				existing.Close()
				return nil, fmt.Errorf("recovery log %s line %d: %w", path, line, err)
			}
			log.done[id] = struct{}{}
		}
		existing.Close()
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to read recovery log %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to open recovery log %s: %w", path, err)
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open recovery log %s: %w", path, err)
	}
	log.file = file
	log.writer = bufio.NewWriter(file)
	return log, nil
}

// Path returns the file the log is kept in.
func (l *RecoveryLog) Path() string {
	return l.path
}

// Len returns the number of recorded identifiers.
func (l *RecoveryLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.done)
}

// Contains reports whether id was already exported.
func (l *RecoveryLog) Contains(id domain.VertexID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.done[id]
	return ok
}

// Mark records id and flushes it to the file.
func (l *RecoveryLog) Mark(id domain.VertexID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.done[id]; ok {
		return nil
	}
	if _, err := l.writer.WriteString(id.String() + "\n"); err != nil {
		return err
	}
	if err := l.writer.Flush(); err != nil {
		return err
	}
	l.done[id] = struct{}{}
	return nil
}

// Close flushes and closes the file.
func (l *RecoveryLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	flushErr := l.writer.Flush()
	closeErr := l.file.Close()
	l.file = nil
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}
