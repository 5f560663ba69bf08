// Package csv reads staged CSV files for engines that load them from Go
// rather than with a server-side COPY.
package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Options controls how a staged file is parsed.
type Options struct {
	// Delimiter defaults to ','.
	Delimiter rune
	// SkipHeaderRows rows are skipped before data. The first skipped row is
	// kept as the header for name lookups.
	SkipHeaderRows int
	TrimSpace      bool
	LazyQuotes     bool
}

// Reader yields data records of one file.
//
// Edge cases:
//   - Records may have a varying number of fields; missing trailing cells
//     read as nil.
//   - Empty cells read as nil (SQL NULL), not "".
//   - A UTF-8 BOM on the first header cell is stripped.
type Reader struct {
	cr     *csv.Reader
	opt    Options
	header map[string]int
	line   int
}

// NewReader consumes the header rows of r.
func NewReader(r io.Reader, opt Options) (*Reader, error) {
	cr := csv.NewReader(r)
	if opt.Delimiter != 0 {
		cr.Comma = opt.Delimiter
	}
	cr.ReuseRecord = true
	cr.LazyQuotes = opt.LazyQuotes
	cr.FieldsPerRecord = -1

	rd := &Reader{cr: cr, opt: opt}
	for i := 0; i < opt.SkipHeaderRows; i++ {
		rec, err := rd.read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv: read header: %w", err)
		}
		if i == 0 {
			rd.header = headerIndex(rec)
		}
	}
	return rd, nil
}

func headerIndex(hdr []string) map[string]int {
	out := make(map[string]int, len(hdr))
	for i, h := range hdr {
		h = strings.TrimSpace(h)
		if i == 0 {
			h = strings.TrimPrefix(h, "\uFEFF")
		}
		out[normalize(h)] = i
	}
	return out
}

func normalize(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), " ", "_")
}

// Index returns the position of a header column, or -1 when the file has
// no header or no such column. Matching ignores case.
func (r *Reader) Index(name string) int {
	if i, ok := r.header[normalize(name)]; ok {
		return i
	}
	return -1
}

// Line is the 1-based line of the last record read.
func (r *Reader) Line() int { return r.line }

func (r *Reader) read() ([]string, error) {
	r.line++
	return r.cr.Read()
}

// Next returns the next data record. It returns io.EOF after the last one.
// A malformed record returns a *LineError; the reader stays usable.
func (r *Reader) Next() ([]any, error) {
	rec, err := r.read()
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, &LineError{Line: r.line, Err: err}
	}
	out := make([]any, len(rec))
	for i, v := range rec {
		if r.opt.TrimSpace {
			v = strings.TrimSpace(v)
		}
		if v == "" {
			out[i] = nil
		} else {
			out[i] = v
		}
	}
	return out, nil
}

// LineError is a record that could not be parsed.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string { return fmt.Sprintf("csv: line %d: %v", e.Line, e.Err) }

func (e *LineError) Unwrap() error { return e.Err }

// Stream reads every data record of src and passes it to fn.
//
// Malformed records are reported to onErr and skipped. An error returned by
// fn stops the stream and is returned as is.
func Stream(
	ctx context.Context,
	src io.Reader,
	opt Options,
	fn func(r *Reader, rec []any) error,
	onErr func(line int, err error),
) error {
	r, err := NewReader(src, opt)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		rec, err := r.Next()
		if err == io.EOF {
			return nil
		}
		var le *LineError
		if errors.As(err, &le) {
			if onErr != nil {
				onErr(le.Line, le.Err)
			}
			continue
		}
		if err != nil {
			return err
		}
		if err := fn(r, rec); err != nil {
			return err
		}
	}
}
