package export

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"github.com/brianhks/asterion/internal/domain"
)

// maxLineSize bounds one serialized record when reading.
const maxLineSize = 64 << 20

// Writer serializes records as JSON lines, one vertex per line.
type Writer struct {
	w   *bufio.Writer
	enc *json.Encoder
	n   int
}

// NewWriter creates a Writer on w.
func NewWriter(w io.Writer) *Writer {
	bw := bufio.NewWriter(w)
	return &Writer{w: bw, enc: json.NewEncoder(bw)}
}

// Write appends one record. Records are buffered until Flush.
func (w *Writer) Write(r domain.Record) error {
	if r.Properties == nil {
		r.Properties = map[string]string{}
	}
	if r.Edges == nil {
		r.Edges = []domain.Edge{}
	}
	if err := w.enc.Encode(r); err != nil {
		return fmt.Errorf("failed to encode vertex %s: %w", r.ID, err)
	}
	w.n++
	return nil
}

// Flush writes buffered records to the underlying writer.
func (w *Writer) Flush() error {
	return w.w.Flush()
}

// Count returns the number of records written.
func (w *Writer) Count() int {
	return w.n
}

// Reader parses the output of Writer.
type Reader struct {
	scanner *bufio.Scanner
	line    int
	record  domain.Record
	err     error
}

// NewReader creates a Reader on r.
func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &Reader{scanner: scanner}
}

// Next reads the next record. Blank lines are skipped.
func (r *Reader) Next() bool {
	if r.err != nil {
		return false
	}
	for r.scanner.Scan() {
		r.line++
		line := r.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var record domain.Record
		if err := json.Unmarshal(line, &record); err != nil {
			r.err = fmt.Errorf("line %d: %w", r.line, err)
			return false
		}
		r.record = record
		return true
	}
	r.err = r.scanner.Err()
	return false
}

// Record returns the current record.
func (r *Reader) Record() domain.Record {
	return r.record
}

// Line returns the line number of the current record.
func (r *Reader) Line() int {
	return r.line
}

// Err returns the first read or parse error.
func (r *Reader) Err() error {
	return r.err
}
