package catalog

import (
	"fmt"
	"strings"

	"ingest/internal/logical"
)

// ValidationError is one difference between a declared and an actual
// dataset.
type ValidationError struct {
	Table   string
	Column  string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("%s.%s: %s", e.Table, e.Column, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Table, e.Message)
}

// SchemaMismatchError collects every ValidationError of one comparison.
type SchemaMismatchError struct {
	Errors []*ValidationError
}

func (e *SchemaMismatchError) Error() string {
	var sb strings.Builder
	sb.WriteString("schema mismatch:")
	for _, v := range e.Errors {
		sb.WriteString("\n  - ")
		sb.WriteString(v.Error())
	}
	return sb.String()
}

// ValidateDataset compares declared with actual field by field.
//
// Names are matched case-insensitively because catalogs may fold them.
// Type names are compared on the logical data type plus length and scale
// when the declaration specifies them. Nothing is coerced: every mismatch is
// reported.
//
// Errors:
//   - Returns *SchemaMismatchError listing all differences, or nil.
func ValidateDataset(declared, actual *logical.DatasetDefinition) error {
	if declared == nil || actual == nil {
		return fmt.Errorf("catalog: validate: nil dataset")
	}
	table := declared.Name
	var errs []*ValidationError
	add := func(col, format string, args ...any) {
		errs = append(errs, &ValidationError{Table: table, Column: col, Message: fmt.Sprintf(format, args...)})
	}

	actualByName := make(map[string]logical.Field, len(actual.Schema.Fields))
	for _, f := range actual.Schema.Fields {
		actualByName[strings.ToLower(f.Name)] = f
	}

	for _, want := range declared.Schema.Fields {
		got, ok := actualByName[strings.ToLower(want.Name)]
		if !ok {
			add(want.Name, "column missing")
			continue
		}
		if got.Type.DataType != want.Type.DataType && !equivalentTypes(got.Type.DataType, want.Type.DataType) {
			add(want.Name, "type %s, declared %s", got.Type, want.Type)
		} else {
			if want.Type.Length != nil && (got.Type.Length == nil || *got.Type.Length != *want.Type.Length) {
				add(want.Name, "length %s, declared %s", got.Type, want.Type)
			}
			if want.Type.Scale != nil && (got.Type.Scale == nil || *got.Type.Scale != *want.Type.Scale) {
				add(want.Name, "scale %s, declared %s", got.Type, want.Type)
			}
		}
		if got.IsNullable() != want.IsNullable() {
			add(want.Name, "nullable=%t, declared nullable=%t", got.IsNullable(), want.IsNullable())
		}
		if got.PrimaryKey != want.PrimaryKey {
			add(want.Name, "primary key=%t, declared primary key=%t", got.PrimaryKey, want.PrimaryKey)
		}
		if want.Unique && !want.PrimaryKey && !got.IsUnique() {
			add(want.Name, "declared unique but not unique in the catalog")
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return &SchemaMismatchError{Errors: errs}
}

// equivalentTypes treats catalog spellings of the same storage type as
// equal (INT vs INTEGER, DATETIME vs TIMESTAMP, the string family).
func equivalentTypes(a, b logical.DataType) bool {
	return typeFamily(a) == typeFamily(b)
}

func typeFamily(d logical.DataType) string {
	switch d {
	case logical.Int, logical.Integer:
		return "int"
	case logical.Numeric, logical.Decimal, logical.Number:
		return "decimal"
	case logical.Double, logical.Float:
		return "double"
	case logical.Varchar, logical.String, logical.LongVarchar:
		return "varchar"
	case logical.Text, logical.LongText:
		return "text"
	case logical.Datetime, logical.Timestamp, logical.TimestampNTZ:
		return "timestamp"
	case logical.Binary, logical.Varbinary:
		return "binary"
	}
	return string(d)
}
