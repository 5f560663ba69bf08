// Package executor runs rendered SQL against a database connection.
//
// An Executor owns exactly one connection for its lifetime. Without an open
// transaction each ExecuteStatements batch runs in its own transaction
// (auto-transaction); BeginTransaction switches to caller-managed mode until
// CommitTransaction or RevertTransaction.
package executor

import (
	"context"
	"io"
	"sort"
	"strings"
)

// Logger is the minimal logging interface used by executors. *log.Logger
// satisfies it.
type Logger interface {
	Printf(format string, v ...any)
}

type discardLogger struct{}

func (discardLogger) Printf(string, ...any) {}

// LoggerOrDiscard returns l, or a logger that drops everything when l is nil.
func LoggerOrDiscard(l Logger) Logger {
	if l == nil {
		return discardLogger{}
	}
	return l
}

// TabularData is the result of a query. Rows are keyed by column name.
type TabularData struct {
	Columns []string
	Rows    []map[string]any
}

// Value returns the first row's value for column, or nil.
func (t TabularData) Value(column string) any {
	if len(t.Rows) == 0 {
		return nil
	}
	return t.Rows[0][column]
}

// FirstValue returns the first column of the first row, or nil.
func (t TabularData) FirstValue() any {
	if len(t.Rows) == 0 || len(t.Columns) == 0 {
		return nil
	}
	return t.Rows[0][t.Columns[0]]
}

// Executor runs SQL statements.
type Executor interface {
	BeginTransaction(ctx context.Context) error
	CommitTransaction(ctx context.Context) error
	RevertTransaction(ctx context.Context) error

	// ExecuteStatement runs one statement and returns the rows it affected
	// (0 when the driver cannot tell).
	ExecuteStatement(ctx context.Context, sql string) (int64, error)

	// ExecuteStatements runs statements in order. Outside a transaction the
	// batch is atomic: any failure rolls back every statement of the batch.
	ExecuteStatements(ctx context.Context, sqls []string) error

	ExecuteQuery(ctx context.Context, sql string) (TabularData, error)

	io.Closer
}

// ArgExecutor is implemented by executors that accept bind arguments. Bulk
// loaders use it to insert file rows without rendering literals.
type ArgExecutor interface {
	ExecuteStatementArgs(ctx context.Context, sql string, args ...any) (int64, error)
}

// ApplyPlaceholders substitutes "{KEY}" tokens with values[KEY]. Longer
// keys are replaced first so a key that prefixes another cannot clobber it.
func ApplyPlaceholders(sql string, values map[string]string) string {
	if len(values) == 0 || !strings.Contains(sql, "{") {
		return sql
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	pairs := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		pairs = append(pairs, "{"+k+"}", values[k])
	}
	return strings.NewReplacer(pairs...).Replace(sql)
}

// ApplyPlaceholdersAll applies ApplyPlaceholders to every statement.
func ApplyPlaceholdersAll(sqls []string, values map[string]string) []string {
	out := make([]string, len(sqls))
	for i, s := range sqls {
		out[i] = ApplyPlaceholders(s, values)
	}
	return out
}
