// Package json reads staged JSON files for engines that load them from Go.
//
// A file may hold a root array of objects, an envelope object whose first
// array field holds the records, a single object, or JSON Lines. Objects
// after the root value are read as JSON Lines.
package json

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Options controls how staged JSON maps to columns.
type Options struct {
	// ArraySeparator joins arrays of strings into one cell. Defaults to ",".
	ArraySeparator string
}

// Reader exposes the column layout of the records passed to Stream's
// callback.
type Reader struct {
	columns []string
	index   map[string]int
	line    int
}

// Index returns the position of column name, or -1.
func (r *Reader) Index(name string) int {
	if i, ok := r.index[name]; ok {
		return i
	}
	return -1
}

// Line is the 1-based number of the current record.
func (r *Reader) Line() int { return r.line }

// Stream decodes src and passes every object, projected onto columns, to fn.
//
// Edge cases:
//   - Keys absent from an object read as nil.
//   - Numbers are passed as their literal text so callers convert them
//     without float rounding.
//   - Arrays of strings are joined; other arrays and nested objects are
//     passed as compact JSON text.
//   - Decoding errors are reported to onErr and end the stream: a broken
//     JSON document cannot be resynchronized.
func Stream(
	ctx context.Context,
	src io.Reader,
	columns []string,
	opt Options,
	fn func(r *Reader, rec []any) error,
	onErr func(line int, err error),
) error {
	dec := json.NewDecoder(src)
	dec.UseNumber()

	sep := opt.ArraySeparator
	if sep == "" {
		sep = ","
	}
	r := &Reader{columns: columns, index: make(map[string]int, len(columns))}
	for i, c := range columns {
		r.index[c] = i
	}
	s := &streamer{ctx: ctx, dec: dec, onErr: onErr}
	s.emit = func(obj map[string]any) error {
		r.line++
		return fn(r, project(obj, columns, sep))
	}
	s.line = &r.line

	tok, err := dec.Token()
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return s.fail(fmt.Errorf("json: read first token: %w", err))
	}

	switch d := tok.(type) {
	case json.Delim:
		switch d {
		case '[':
			if err := s.arrayOfObjects(); err != nil {
				return err
			}
			if err := s.expect(json.Delim(']')); err != nil {
				return err
			}
		case '{':
			streamed, single, err := s.envelopeOrSingle()
			if err != nil {
				return err
			}
			if err := s.expect(json.Delim('}')); err != nil {
				return err
			}
			if !streamed {
				if err := s.emit(single); err != nil {
					return err
				}
			}
		default:
			return fmt.Errorf("json: unsupported root delimiter %q", d)
		}
	default:
		return fmt.Errorf("json: unsupported root token %T (want object or array)", tok)
	}
	return s.trailingObjects()
}

type streamer struct {
	ctx   context.Context
	dec   *json.Decoder
	emit  func(map[string]any) error
	onErr func(line int, err error)
	line  *int
}

func (s *streamer) fail(err error) error {
	if s.onErr != nil {
		s.onErr(*s.line+1, err)
	}
	return err
}

func (s *streamer) expect(want json.Delim) error {
	tok, err := s.dec.Token()
	if err != nil {
		return s.fail(fmt.Errorf("json: read %q: %w", want, err))
	}
	if tok != want {
		return s.fail(fmt.Errorf("json: expected %q, got %v", want, tok))
	}
	return nil
}

func (s *streamer) trailingObjects() error {
	for {
		var obj map[string]any
		if err := s.dec.Decode(&obj); err != nil {
			if err == io.EOF {
				return nil
			}
			return s.fail(fmt.Errorf("json: decode trailing object: %w", err))
		}
		if obj == nil {
			continue
		}
		if err := s.emit(obj); err != nil {
			return err
		}
	}
}

// arrayOfObjects streams the elements of an array whose '[' was consumed.
// null elements are skipped.
func (s *streamer) arrayOfObjects() error {
	for s.dec.More() {
		select {
		case <-s.ctx.Done():
			return s.ctx.Err()
		default:
		}
		var raw any
		if err := s.dec.Decode(&raw); err != nil {
			return s.fail(fmt.Errorf("json: decode array element: %w", err))
		}
		if raw == nil {
			continue
		}
		obj, ok := raw.(map[string]any)
		if !ok {
			return s.fail(fmt.Errorf("json: array element not an object (got %T)", raw))
		}
		if err := s.emit(obj); err != nil {
			return err
		}
	}
	return nil
}

// envelopeOrSingle walks a root object whose '{' was consumed. The first
// array-valued field is streamed as the records and the remaining fields
// are skipped. Without one, the object itself is returned as the record.
func (s *streamer) envelopeOrSingle() (bool, map[string]any, error) {
	single := make(map[string]any)
	for s.dec.More() {
		keyTok, err := s.dec.Token()
		if err != nil {
			return false, nil, s.fail(fmt.Errorf("json: read object key: %w", err))
		}
		key, _ := keyTok.(string)

		valTok, err := s.dec.Token()
		if err != nil {
			return false, nil, s.fail(fmt.Errorf("json: read object value: %w", err))
		}
		if d, ok := valTok.(json.Delim); ok && d == '[' {
			if err := s.arrayOfObjects(); err != nil {
				return false, nil, err
			}
			if err := s.expect(json.Delim(']')); err != nil {
				return false, nil, err
			}
			for s.dec.More() {
				if _, err := s.dec.Token(); err != nil {
					return true, nil, s.fail(err)
				}
				if _, err := s.next(); err != nil {
					return true, nil, err
				}
			}
			return true, nil, nil
		}
		v, err := s.value(valTok)
		if err != nil {
			return false, nil, err
		}
		single[key] = v
	}
	return false, single, nil
}

// next materializes the next value.
func (s *streamer) next() (any, error) {
	tok, err := s.dec.Token()
	if err != nil {
		return nil, s.fail(fmt.Errorf("json: read value: %w", err))
	}
	return s.value(tok)
}

// value materializes the value whose first token is tok. A JSON null
// arrives as a nil tok.
func (s *streamer) value(tok any) (any, error) {
	d, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}
	switch d {
	case '{':
		m := make(map[string]any)
		for s.dec.More() {
			kt, err := s.dec.Token()
			if err != nil {
				return nil, s.fail(fmt.Errorf("json: read nested key: %w", err))
			}
			v, err := s.next()
			if err != nil {
				return nil, err
			}
			k, _ := kt.(string)
			m[k] = v
		}
		return m, s.expect(json.Delim('}'))
	case '[':
		var arr []any
		for s.dec.More() {
			v, err := s.next()
			if err != nil {
				return nil, err
			}
			arr = append(arr, v)
		}
		return arr, s.expect(json.Delim(']'))
	}
	return nil, s.fail(fmt.Errorf("json: unexpected delimiter %q", d))
}

// project aligns obj with columns.
func project(obj map[string]any, columns []string, sep string) []any {
	row := make([]any, len(columns))
	for i, col := range columns {
		row[i] = scalar(obj[col], sep)
	}
	return row
}

func scalar(v any, sep string) any {
	switch t := v.(type) {
	case nil, string, bool:
		return v
	case json.Number:
		return t.String()
	case []any:
		ss := make([]string, 0, len(t))
		for _, it := range t {
			if it == nil {
				continue
			}
			s, ok := it.(string)
			if !ok {
				return compact(v)
			}
			ss = append(ss, s)
		}
		return strings.Join(ss, sep)
	}
	return compact(v)
}

func compact(v any) any {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
