// Package catalog reads table metadata back from a database and compares it
// with declared datasets.
//
// All access is read-only and goes through executor.Executor queries, so the
// same code serves every database/sql based sink.
package catalog

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"ingest/internal/executor"
	"ingest/internal/logical"
)

// Column is one column as reported by the catalog.
type Column struct {
	Name     string
	TypeName string
	Length   *int
	Scale    *int
	Nullable bool
	Ordinal  int
}

// IndexInfo is one index as reported by the catalog.
type IndexInfo struct {
	Name    string
	Columns []string
	Unique  bool
}

// Introspector is the catalog boundary. Database and group of the ref are
// optional filters.
type Introspector interface {
	DoesTableExist(ctx context.Context, ref logical.DatasetRef) (bool, error)
	GetColumns(ctx context.Context, ref logical.DatasetRef) ([]Column, error)
	GetPrimaryKeys(ctx context.Context, ref logical.DatasetRef) ([]string, error)
	GetIndexInfo(ctx context.Context, ref logical.DatasetRef) ([]IndexInfo, error)
}

// TypeParser maps a catalog type name (plus reported length and scale) to a
// logical type.
type TypeParser func(typeName string, length, scale *int) (logical.FieldType, error)

// DefaultTypeParser uses logical.ParseDataType and keeps length/scale only
// for types where they are meaningful.
func DefaultTypeParser(typeName string, length, scale *int) (logical.FieldType, error) {
	dt, err := logical.ParseDataType(typeName)
	if err != nil {
		return logical.FieldType{}, err
	}
	ft := logical.FieldType{DataType: dt}
	switch {
	case dt.IsString() || dt == logical.Binary || dt == logical.Varbinary:
		ft.Length = length
	case dt == logical.Decimal || dt == logical.Numeric || dt == logical.Number:
		ft.Length = length
		if length != nil {
			ft.Scale = scale
		}
	}
	return ft, nil
}

// InformationSchema implements Introspector over the ANSI
// information_schema views.
//
// Edge cases:
//   - Fold is applied to names before they are compared with catalog values,
//     matching sinks that store identifiers upper-cased.
//   - GetIndexInfo reports UNIQUE constraints only; plain indexes have no
//     portable information_schema view.
type InformationSchema struct {
	Exec executor.Executor
	Fold func(string) string
}

func (s *InformationSchema) fold(v string) string {
	if s.Fold == nil {
		return v
	}
	return s.Fold(v)
}

func (s *InformationSchema) tableFilter(ref logical.DatasetRef, prefix string) string {
	var b strings.Builder
	b.WriteString(prefix + "table_name = " + quoteLiteral(s.fold(ref.Name)))
	if ref.Group != "" {
		b.WriteString(" AND " + prefix + "table_schema = " + quoteLiteral(s.fold(ref.Group)))
	}
	if ref.Database != "" {
		b.WriteString(" AND " + prefix + "table_catalog = " + quoteLiteral(s.fold(ref.Database)))
	}
	return b.String()
}

func (s *InformationSchema) DoesTableExist(ctx context.Context, ref logical.DatasetRef) (bool, error) {
	q := "SELECT COUNT(*) as cnt FROM information_schema.tables WHERE " + s.tableFilter(ref, "")
	data, err := s.Exec.ExecuteQuery(ctx, q)
	if err != nil {
		return false, fmt.Errorf("catalog: table exists %s: %w", ref, err)
	}
	n, _ := AsInt64(data.FirstValue())
	return n > 0, nil
}

func (s *InformationSchema) GetColumns(ctx context.Context, ref logical.DatasetRef) ([]Column, error) {
	q := "SELECT column_name, data_type, character_maximum_length, numeric_precision, numeric_scale, is_nullable, ordinal_position" +
		" FROM information_schema.columns WHERE " + s.tableFilter(ref, "") +
		" ORDER BY ordinal_position"
	data, err := s.Exec.ExecuteQuery(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("catalog: columns %s: %w", ref, err)
	}
	out := make([]Column, 0, len(data.Rows))
	for _, r := range data.Rows {
		c := Column{
			Name:     AsString(lookup(r, "column_name")),
			TypeName: AsString(lookup(r, "data_type")),
			Nullable: strings.EqualFold(AsString(lookup(r, "is_nullable")), "YES"),
		}
		if n, ok := AsInt64(lookup(r, "ordinal_position")); ok {
			c.Ordinal = int(n)
		}
		if n, ok := AsInt64(lookup(r, "character_maximum_length")); ok && n > 0 {
			c.Length = logical.IntPtr(int(n))
		} else if n, ok := AsInt64(lookup(r, "numeric_precision")); ok && n > 0 {
			c.Length = logical.IntPtr(int(n))
		}
		if n, ok := AsInt64(lookup(r, "numeric_scale")); ok {
			c.Scale = logical.IntPtr(int(n))
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *InformationSchema) GetPrimaryKeys(ctx context.Context, ref logical.DatasetRef) ([]string, error) {
	q := "SELECT kcu.column_name FROM information_schema.table_constraints tc" +
		" JOIN information_schema.key_column_usage kcu ON tc.constraint_name = kcu.constraint_name AND tc.table_name = kcu.table_name" +
		" WHERE tc.constraint_type = 'PRIMARY KEY' AND " + s.tableFilter(ref, "tc.") +
		" ORDER BY kcu.ordinal_position"
	data, err := s.Exec.ExecuteQuery(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("catalog: primary keys %s: %w", ref, err)
	}
	out := make([]string, 0, len(data.Rows))
	for _, r := range data.Rows {
		out = append(out, AsString(lookup(r, "column_name")))
	}
	return out, nil
}

// GetIndexInfo lists the UNIQUE constraints of the table, one IndexInfo per
// constraint with its columns in key order.
func (s *InformationSchema) GetIndexInfo(ctx context.Context, ref logical.DatasetRef) ([]IndexInfo, error) {
	q := "SELECT tc.constraint_name, kcu.column_name FROM information_schema.table_constraints tc" +
		" JOIN information_schema.key_column_usage kcu ON tc.constraint_name = kcu.constraint_name AND tc.table_name = kcu.table_name" +
		" WHERE tc.constraint_type = 'UNIQUE' AND " + s.tableFilter(ref, "tc.") +
		" ORDER BY tc.constraint_name, kcu.ordinal_position"
	data, err := s.Exec.ExecuteQuery(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("catalog: unique constraints %s: %w", ref, err)
	}
	var out []IndexInfo
	for _, r := range data.Rows {
		name := AsString(lookup(r, "constraint_name"))
		if len(out) == 0 || out[len(out)-1].Name != name {
			out = append(out, IndexInfo{Name: name, Unique: true})
		}
		last := &out[len(out)-1]
		last.Columns = append(last.Columns, AsString(lookup(r, "column_name")))
	}
	return out, nil
}

// Reconstruct builds a DatasetDefinition for ref from the catalog.
//
// Errors:
//   - Returns an error when the table has no columns (it does not exist) or
//     a column type cannot be mapped.
func Reconstruct(ctx context.Context, in Introspector, parse TypeParser, ref logical.DatasetRef) (*logical.DatasetDefinition, error) {
	if parse == nil {
		parse = DefaultTypeParser
	}
	cols, err := in.GetColumns(ctx, ref)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("catalog: table %s not found", ref)
	}
	pks, err := in.GetPrimaryKeys(ctx, ref)
	if err != nil {
		return nil, err
	}
	idx, err := in.GetIndexInfo(ctx, ref)
	if err != nil {
		return nil, err
	}

	pkSet := make(map[string]bool, len(pks))
	for _, p := range pks {
		pkSet[strings.ToLower(p)] = true
	}
	uniqueSet := map[string]bool{}
	var indexes []logical.Index
	for _, ix := range idx {
		if ix.Unique && len(ix.Columns) == 1 {
			uniqueSet[strings.ToLower(ix.Columns[0])] = true
			continue
		}
		indexes = append(indexes, logical.Index{Name: ix.Name, Fields: ix.Columns, Unique: ix.Unique})
	}

	fields := make([]logical.Field, 0, len(cols))
	for _, c := range cols {
		ft, err := parse(c.TypeName, c.Length, c.Scale)
		if err != nil {
			return nil, fmt.Errorf("catalog: %s.%s: %w", ref, c.Name, err)
		}
		key := strings.ToLower(c.Name)
		fields = append(fields, logical.Field{
			Name:       c.Name,
			Type:       ft,
			Nullable:   c.Nullable,
			PrimaryKey: pkSet[key],
			Unique:     uniqueSet[key],
		})
	}
	return &logical.DatasetDefinition{
		Database: ref.Database,
		Group:    ref.Group,
		Name:     ref.Name,
		Alias:    ref.Alias,
		Schema:   logical.SchemaDefinition{Fields: fields, Indexes: indexes},
	}, nil
}

func lookup(row map[string]any, key string) any {
	if v, ok := row[key]; ok {
		return v
	}
	if v, ok := row[strings.ToUpper(key)]; ok {
		return v
	}
	for k, v := range row {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return nil
}

// AsInt64 converts driver values to int64.
func AsInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case int32:
		return int64(t), true
	case int16:
		return int64(t), true
	case int8:
		return int64(t), true
	case uint64:
		return int64(t), true
	case uint32:
		return int64(t), true
	case float64:
		return int64(t), true
	case float32:
		return int64(t), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			f, ferr := strconv.ParseFloat(strings.TrimSpace(t), 64)
			if ferr != nil {
				return 0, false
			}
			return int64(f), true
		}
		return n, true
	case []byte:
		return AsInt64(string(t))
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// AsString converts driver values to string; nil becomes "".
func AsString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	}
	return fmt.Sprint(v)
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
