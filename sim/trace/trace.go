package trace

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"
)

// DefaultBatchSize is the number of rows buffered before a write.
const DefaultBatchSize = 256

// ErrClosed is returned by writes after Close.
var ErrClosed = errors.New("trace stream closed")

// Writer buffers records and writes them as CSV. The header goes out with the
// first batch. The first write error is kept and returned by Flush and Close.
type Writer struct {
	out    io.Writer
	closer io.Closer

	batch         []Record
	batchSize     int
	headerWritten bool
	closed        bool
	err           error
	summary       *Summary
}

// New wraps w. The caller keeps ownership of w.
func New(w io.Writer) *Writer {
	return &Writer{out: w, batchSize: DefaultBatchSize, summary: newSummary()}
}

// Create opens path for writing. An empty path or "-" writes to stdout, which
// Close leaves open.
func Create(path string) (*Writer, error) {
	if path == "" || path == "-" {
		return New(os.Stdout), nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating trace directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating trace file: %w", err)
	}
	w := New(f)
	w.closer = f
	return w, nil
}

// SetBatchSize changes how many rows are buffered per write. Values below 1
// write every row immediately.
func (w *Writer) SetBatchSize(n int) {
	w.batchSize = max(n, 1)
}

// Record buffers one row.
func (w *Writer) Record(t float64, entity, variable string, value float64) {
	if w.closed {
		w.keep(ErrClosed)
		return
	}
	rec := Record{Time: t, Entity: entity, Variable: variable, Value: value}
	w.summary.add(rec)
	w.batch = append(w.batch, rec)
	if len(w.batch) >= w.batchSize {
		w.keep(w.Flush())
	}
}

// Flush writes buffered rows.
func (w *Writer) Flush() error {
	if len(w.batch) == 0 || w.err != nil {
		return w.err
	}
	var err error
	if !w.headerWritten {
		// First write includes headers
		err = gocsv.Marshal(w.batch, w.out)
		w.headerWritten = true
	} else {
		err = gocsv.MarshalWithoutHeaders(w.batch, w.out)
	}
	w.batch = w.batch[:0]
	if err != nil {
		w.keep(fmt.Errorf("writing trace: %w", err))
	}
	return w.err
}

// WriteDiagnostic flushes pending rows and appends a comment line. Used to
// record why a run failed.
func (w *Writer) WriteDiagnostic(msg string) error {
	if w.closed {
		return ErrClosed
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w.out, "# %s\n", msg); err != nil {
		w.keep(fmt.Errorf("writing diagnostic: %w", err))
	}
	return w.err
}

// Close flushes and releases the underlying file. Only the first call has an
// effect.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.keep(w.Flush())
	w.closed = true
	if w.closer != nil {
		if err := w.closer.Close(); err != nil {
			w.keep(fmt.Errorf("closing trace: %w", err))
		}
	}
	return w.err
}

// Err returns the first error seen.
func (w *Writer) Err() error { return w.err }

// Summary returns statistics over every row recorded so far.
func (w *Writer) Summary() *Summary { return w.summary }

func (w *Writer) keep(err error) {
	if w.err == nil {
		w.err = err
	}
}
