// Package sqlite is the embedded SQLite sink (modernc.org/sqlite, no cgo).
//
// Key differences vs the server dialects:
//   - SQLite has no ALTER COLUMN, so CHANGE_DATATYPE and NULLABLE_COLUMN are
//     unsupported; only ADD/DROP/RENAME COLUMN are rendered.
//   - TRUNCATE does not exist; it becomes DELETE FROM.
//   - The digest function is registered from Go (see digest.Pairs) so the
//     SQL path and the CSV loader compute identical values.
//   - Declared types are stored verbatim, so they round-trip through
//     pragma_table_info unchanged.
package sqlite

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"modernc.org/sqlite"

	"ingest/internal/catalog"
	"ingest/internal/digest"
	"ingest/internal/executor"
	"ingest/internal/logical"
	"ingest/internal/physical"
	"ingest/internal/sink"
	"ingest/internal/sink/ansi"
)

const (
	// Name is the registry name of the SQLite sink.
	Name = "sqlite"
	// DigestUDF is the digest function registered on every connection.
	DigestUDF = "LAKEHOUSE_MD5"

	batchTimeLayout = "2006-01-02 15:04:05.000000"
)

type visitors struct {
	*ansi.Visitors
}

func dialect() ansi.Dialect {
	d := ansi.DefaultDialect()
	d.CorrelatedUpdate = false
	d.UpdateStyle = physical.UpdateFrom
	d.QualifiedSet = false
	d.InsertNoParens = true
	// AUTOINCREMENT is only legal on an inline INTEGER PRIMARY KEY.
	d.IdentityKeyword = ""
	d.BatchTimeLayout = batchTimeLayout
	d.ChangeType = ansi.AlterSyntax{}
	d.Nullable = ansi.AlterSyntax{}
	return d
}

func (v visitors) VisitTruncate(prev physical.Node, n *logical.Truncate, ctx *sink.Context) (sink.VisitorResult, error) {
	t, err := ctx.Table(n.Dataset)
	if err != nil {
		return sink.VisitorResult{}, err
	}
	t.Alias = ""
	del := &physical.Delete{Table: t}
	if err := prev.Push(del); err != nil {
		return sink.VisitorResult{}, err
	}
	return sink.VisitorResult{Node: del}, nil
}

// TypeName keeps the logical name; SQLite derives affinity from it.
func TypeName(t logical.FieldType) string { return t.String() }

var declaredType = regexp.MustCompile(`^\s*([A-Za-z_ ]+?)\s*(?:\(\s*(\d+)\s*(?:,\s*(\d+)\s*)?\))?\s*$`)

// ParseType reads a declared column type such as DECIMAL(10,2). length and
// scale are only used when the declaration carries none.
func ParseType(typeName string, length, scale *int) (logical.FieldType, error) {
	m := declaredType.FindStringSubmatch(typeName)
	if m == nil {
		return logical.FieldType{}, fmt.Errorf("sqlite: cannot parse declared type %q", typeName)
	}
	if m[2] != "" {
		n, _ := strconv.Atoi(m[2])
		length = &n
	}
	if m[3] != "" {
		s, _ := strconv.Atoi(m[3])
		scale = &s
	}
	return catalog.DefaultTypeParser(m[1], length, scale)
}

var instance = &sink.RelationalSink{
	Name: Name,
	Capabilities: sink.Caps(
		sink.AddColumn,
		sink.ImplicitDataTypeConversion,
		sink.TransformWhileCopy,
	),
	Implicit:  ansi.ImplicitConversions(),
	Explicit:  sink.TypeMap{},
	Quote:     physical.DoubleQuote,
	Visitors:  visitors{ansi.New(dialect())},
	TypeName:  TypeName,
	ParseType: ParseType,
	TableExists: func(ctx context.Context, ex executor.Executor, ref logical.DatasetRef) (bool, error) {
		return (&Pragma{Exec: ex}).DoesTableExist(ctx, ref)
	},
	Reconstruct: func(ctx context.Context, ex executor.Executor, ref logical.DatasetRef) (*logical.DatasetDefinition, error) {
		return catalog.Reconstruct(ctx, &Pragma{Exec: ex}, ParseType, ref)
	},
}

// Sink returns the SQLite sink.
func Sink() *sink.RelationalSink { return instance }

func init() {
	sqlite.MustRegisterDeterministicScalarFunction(DigestUDF, -1, digestFunc)
	instance.BulkLoader = Loader{}
	sink.Register(instance)
}

func digestFunc(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	vals := make([]any, len(args))
	for i, a := range args {
		vals[i] = a
	}
	return digest.Pairs(vals)
}

// Open opens dsn with the modernc driver.
//
// The pool is limited to one connection: an in-memory database exists per
// connection, and executor.NewSQLExecutor pins that connection anyway.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func quoteParts(parts []string) string {
	q := make([]string, len(parts))
	for i, p := range parts {
		q[i] = physical.DoubleQuote(p)
	}
	return strings.Join(q, ".")
}
