package sqlite

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"

	"ingest/internal/catalog"
	"ingest/internal/digest"
	"ingest/internal/executor"
	"ingest/internal/logical"
	"ingest/internal/parser/csv"
	"ingest/internal/parser/json"
	"ingest/internal/sink"
	"ingest/internal/sink/ansi"
)

const defaultLoadBatch = 200

// Loader reads staged CSV or JSON files from the local filesystem and
// inserts them with bind arguments, evaluating the Copy projection in Go.
//
// Edge cases:
//   - Paths and Patterns are resolved relative to Properties.Location.
//     Patterns are filepath.Glob patterns.
//   - JSON values are matched to fields by name; ColumnNumber only applies
//     to CSV.
//   - Rows that fail to parse or convert are skipped and counted as
//     RowsWithErrors.
//   - The executor must implement executor.ArgExecutor.
type Loader struct {
	// BatchSize is the number of rows per INSERT statement.
	BatchSize int
}

var _ sink.BulkLoader = Loader{}

// record is the layout of the file being read.
type record interface {
	Index(name string) int
}

type evalFunc func(r record, rec []any) (any, error)

func (l Loader) Load(ctx context.Context, ex executor.Executor, c *logical.Copy, opts sink.TransformOptions) (sink.BulkLoadStats, error) {
	ae, ok := ex.(executor.ArgExecutor)
	if !ok {
		return sink.BulkLoadStats{}, fmt.Errorf("sqlite: loader needs an executor with bind arguments, got %T", ex)
	}
	if c.Source == nil || c.Source.Source == nil {
		return sink.BulkLoadStats{}, fmt.Errorf("sqlite: copy without staged files")
	}
	props := c.Source.Source.Properties
	isJSON := props.Format == logical.FormatJSON
	if props.Format != "" && props.Format != logical.FormatCSV && !isJSON {
		return sink.BulkLoadStats{}, fmt.Errorf("sqlite: unsupported file format %s", props.Format)
	}
	if len(c.Fields) != len(c.Source.Fields) {
		return sink.BulkLoadStats{}, fmt.Errorf("sqlite: copy has %d target fields for %d values", len(c.Fields), len(c.Source.Fields))
	}
	files, err := resolveFiles(props)
	if err != nil {
		return sink.BulkLoadStats{}, err
	}

	evals := make([]evalFunc, len(c.Source.Fields))
	for i, v := range c.Source.Fields {
		if evals[i], err = compile(ctx, ex, v, opts, isJSON); err != nil {
			return sink.BulkLoadStats{}, err
		}
	}

	cols := make([]string, len(c.Fields))
	for i, f := range c.Fields {
		cols[i] = quoteParts([]string{f.Name})
	}
	w := &batchWriter{
		ex:     ae,
		prefix: "INSERT INTO " + quoteParts(c.Target.Ref().Parts()) + " (" + strings.Join(cols, ", ") + ") VALUES ",
		tuple:  "(" + strings.TrimRight(strings.Repeat("?,", len(cols)), ",") + ")",
		size:   l.BatchSize,
	}
	if w.size <= 0 {
		w.size = defaultLoadBatch
	}

	var stats sink.BulkLoadStats
	csvOpt := csv.Options{SkipHeaderRows: props.SkipHeaderRows, TrimSpace: true}
	columns := stagedColumns(c.Source.Fields, nil)
	if props.Delimiter != "" {
		csvOpt.Delimiter = []rune(props.Delimiter)[0]
	}
	for _, path := range files {
		f, err := os.Open(path)
		if err != nil {
			return stats, fmt.Errorf("sqlite: open staged file: %w", err)
		}
		handle := func(r record, rec []any) error {
			row := make([]any, len(evals))
			for i, eval := range evals {
				v, err := eval(r, rec)
				if err != nil {
					stats.RowsWithErrors++
					return nil
				}
				row[i] = v
			}
			return w.add(ctx, row)
		}
		onErr := func(int, error) { stats.RowsWithErrors++ }
		if isJSON {
			err = json.Stream(ctx, f, columns, json.Options{}, func(r *json.Reader, rec []any) error { return handle(r, rec) }, onErr)
		} else {
			err = csv.Stream(ctx, f, csvOpt, func(r *csv.Reader, rec []any) error { return handle(r, rec) }, onErr)
		}
		_ = f.Close()
		if err != nil {
			return stats, fmt.Errorf("sqlite: load %s: %w", path, err)
		}
		stats.FilesLoaded++
	}
	if err := w.flush(ctx); err != nil {
		return stats, err
	}
	stats.RowsInserted = w.inserted
	return stats, nil
}

// stagedColumns lists the staged field names read by vs, in first-use order.
func stagedColumns(vs []logical.Value, out []string) []string {
	for _, v := range vs {
		switch n := v.(type) {
		case *logical.StagedFilesFieldValue:
			if !slices.Contains(out, n.Name) {
				out = append(out, n.Name)
			}
		case *logical.DigestUdf:
			out = stagedColumns(n.Values, out)
		}
	}
	return out
}

func resolveFiles(p logical.StagedFilesProperties) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	add := func(path string) {
		if !seen[path] {
			seen[path] = true
			out = append(out, path)
		}
	}
	for _, path := range p.Paths {
		add(filepath.Join(p.Location, path))
	}
	for _, pat := range p.Patterns {
		matches, err := filepath.Glob(filepath.Join(p.Location, pat))
		if err != nil {
			return nil, fmt.Errorf("sqlite: bad file pattern %q: %w", pat, err)
		}
		sort.Strings(matches)
		for _, m := range matches {
			add(m)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("sqlite: no staged files matched")
	}
	return out, nil
}

// compile turns one projected value into a per-row evaluator. Values that do
// not depend on the row are computed once.
func compile(ctx context.Context, ex executor.Executor, v logical.Value, opts sink.TransformOptions, byName bool) (evalFunc, error) {
	constant := func(x any) evalFunc {
		return func(record, []any) (any, error) { return x, nil }
	}
	switch n := v.(type) {
	case *logical.StagedFilesFieldValue:
		return func(r record, rec []any) (any, error) {
			i := n.ColumnNumber - 1
			if n.ColumnNumber <= 0 || byName {
				if i = r.Index(n.Name); i < 0 {
					return nil, fmt.Errorf("sqlite: staged column %q not in header", n.Name)
				}
			}
			if i >= len(rec) {
				return nil, nil
			}
			return coerce(rec[i], n.Type.DataType)
		}, nil
	case *logical.DigestUdf:
		if len(n.FieldNames) != len(n.Values) {
			return nil, fmt.Errorf("sqlite: digest udf %s: %d names for %d values", n.UdfName, len(n.FieldNames), len(n.Values))
		}
		parts := make([]evalFunc, len(n.Values))
		for i, pv := range n.Values {
			var err error
			if parts[i], err = compile(ctx, ex, pv, opts, byName); err != nil {
				return nil, err
			}
		}
		return func(r record, rec []any) (any, error) {
			vals := make([]any, len(parts))
			for i, p := range parts {
				v, err := p(r, rec)
				if err != nil {
					return nil, err
				}
				vals[i] = v
			}
			return digest.Compute(n.FieldNames, vals)
		}, nil
	case *logical.Literal:
		return constant(n.Value), nil
	case *logical.DatetimeValue:
		return constant(n.Value.UTC().Format(batchTimeLayout)), nil
	case *logical.BatchStartTimestamp:
		return constant(opts.BatchStartTime.UTC().Format(batchTimeLayout)), nil
	case *logical.BatchIDValue:
		id, err := nextBatchID(ctx, ex, n, opts)
		if err != nil {
			return nil, err
		}
		return constant(id), nil
	}
	return nil, fmt.Errorf("%w: %s in staged file projection", sink.ErrUnsupportedNode, v.Kind())
}

func nextBatchID(ctx context.Context, ex executor.Executor, n *logical.BatchIDValue, opts sink.TransformOptions) (int64, error) {
	sel := ansi.NextBatchIDSelect(opts.Metadata, n.TableName, "").Selection
	out, err := instance.Transform(logical.NewPlan(sel), opts)
	if err != nil {
		return 0, err
	}
	data, err := ex.ExecuteQuery(ctx, out.SQL[0])
	if err != nil {
		return 0, fmt.Errorf("sqlite: next batch id: %w", err)
	}
	id, ok := catalog.AsInt64(data.FirstValue())
	if !ok {
		return 0, fmt.Errorf("sqlite: next batch id: unexpected %T", data.FirstValue())
	}
	return id, nil
}

// coerce converts staged text to the Go type the column expects, so that the
// stored value and its digest match rows written through SQL.
func coerce(v any, dt logical.DataType) (any, error) {
	s, ok := v.(string)
	if !ok {
		return v, nil
	}
	switch dt {
	case logical.Int, logical.Integer, logical.BigInt, logical.TinyInt, logical.SmallInt:
		return strconv.ParseInt(s, 10, 64)
	case logical.Real, logical.Float, logical.Double, logical.Number, logical.Numeric, logical.Decimal:
		// NUMERIC affinity stores decimals as REAL
		return strconv.ParseFloat(s, 64)
	case logical.Boolean:
		return strconv.ParseBool(s)
	}
	return s, nil
}

type batchWriter struct {
	ex     executor.ArgExecutor
	prefix string
	tuple  string
	size   int

	rows     [][]any
	inserted int64
}

func (w *batchWriter) add(ctx context.Context, row []any) error {
	w.rows = append(w.rows, row)
	if len(w.rows) >= w.size {
		return w.flush(ctx)
	}
	return nil
}

func (w *batchWriter) flush(ctx context.Context) error {
	if len(w.rows) == 0 {
		return nil
	}
	var b strings.Builder
	b.WriteString(w.prefix)
	args := make([]any, 0, len(w.rows)*len(w.rows[0]))
	for i, r := range w.rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(w.tuple)
		args = append(args, r...)
	}
	n, err := w.ex.ExecuteStatementArgs(ctx, b.String(), args...)
	if err != nil {
		return fmt.Errorf("sqlite: insert staged rows: %w", err)
	}
	w.inserted += n
	w.rows = w.rows[:0]
	return nil
}
