package logical

import (
	"fmt"
	"strings"
)

// DataType is a dialect-neutral column type name.
type DataType string

const (
	Int          DataType = "INT"
	Integer      DataType = "INTEGER"
	BigInt       DataType = "BIGINT"
	TinyInt      DataType = "TINYINT"
	SmallInt     DataType = "SMALLINT"
	Number       DataType = "NUMBER"
	Numeric      DataType = "NUMERIC"
	Decimal      DataType = "DECIMAL"
	Real         DataType = "REAL"
	Float        DataType = "FLOAT"
	Double       DataType = "DOUBLE"
	Char         DataType = "CHAR"
	Varchar      DataType = "VARCHAR"
	LongVarchar  DataType = "LONGVARCHAR"
	LongText     DataType = "LONGTEXT"
	Text         DataType = "TEXT"
	String       DataType = "STRING"
	Date         DataType = "DATE"
	Time         DataType = "TIME"
	Datetime     DataType = "DATETIME"
	Timestamp    DataType = "TIMESTAMP"
	TimestampNTZ DataType = "TIMESTAMP_NTZ"
	TimestampTZ  DataType = "TIMESTAMP_TZ"
	TimestampLTZ DataType = "TIMESTAMP_LTZ"
	Boolean      DataType = "BOOLEAN"
	Binary       DataType = "BINARY"
	Varbinary    DataType = "VARBINARY"
	JSON         DataType = "JSON"
	Variant      DataType = "VARIANT"
)

var allDataTypes = []DataType{
	Int, Integer, BigInt, TinyInt, SmallInt, Number, Numeric, Decimal, Real, Float, Double,
	Char, Varchar, LongVarchar, LongText, Text, String,
	Date, Time, Datetime, Timestamp, TimestampNTZ, TimestampTZ, TimestampLTZ,
	Boolean, Binary, Varbinary, JSON, Variant,
}

// ParseDataType resolves a case-insensitive type name. A few common aliases
// (BOOL, INT64, FLOAT64, NVARCHAR, ...) are accepted.
func ParseDataType(s string) (DataType, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	if i := strings.IndexByte(name, '('); i >= 0 {
		name = strings.TrimSpace(name[:i])
	}
	for _, dt := range allDataTypes {
		if string(dt) == name {
			return dt, nil
		}
	}
	switch name {
	case "BOOL", "BIT":
		return Boolean, nil
	case "INT64", "INT4", "MEDIUMINT":
		return BigInt, nil
	case "INT2":
		return SmallInt, nil
	case "INT8":
		return BigInt, nil
	case "FLOAT64", "FLOAT8", "DOUBLE PRECISION":
		return Double, nil
	case "FLOAT4":
		return Real, nil
	case "NVARCHAR", "CHARACTER VARYING", "VARCHAR2", "NCHAR VARYING":
		return Varchar, nil
	case "NCHAR", "CHARACTER", "BPCHAR":
		return Char, nil
	case "NTEXT", "CLOB", "MEDIUMTEXT", "TINYTEXT":
		return Text, nil
	case "DATETIME2", "SMALLDATETIME", "TIMESTAMP WITHOUT TIME ZONE":
		return Timestamp, nil
	case "TIMESTAMPTZ", "TIMESTAMP WITH TIME ZONE", "DATETIMEOFFSET":
		return TimestampTZ, nil
	case "BYTES", "BLOB", "BYTEA", "LONGBLOB":
		return Varbinary, nil
	case "JSONB":
		return JSON, nil
	case "BIGNUMERIC":
		return Numeric, nil
	}
	return "", fmt.Errorf("unknown data type %q", s)
}

// IsString reports whether values of the type are character strings.
func (d DataType) IsString() bool {
	switch d {
	case Char, Varchar, LongVarchar, LongText, Text, String:
		return true
	}
	return false
}

// IsComparable reports whether the type has a total order usable as a
// version column (integers, decimals, dates and timestamps).
func (d DataType) IsComparable() bool {
	switch d {
	case Int, Integer, BigInt, TinyInt, SmallInt, Number, Numeric, Decimal, Real, Float, Double,
		Date, Time, Datetime, Timestamp, TimestampNTZ, TimestampTZ, TimestampLTZ:
		return true
	}
	return false
}

// FieldType is a data type with optional length (precision) and scale.
type FieldType struct {
	DataType DataType
	Length   *int
	Scale    *int
}

// TypeOf is shorthand for a FieldType without length or scale.
func TypeOf(dt DataType) FieldType { return FieldType{DataType: dt} }

// TypeWithLength returns a FieldType with a length (VARCHAR(64)).
func TypeWithLength(dt DataType, length int) FieldType {
	return FieldType{DataType: dt, Length: IntPtr(length)}
}

// TypeWithScale returns a FieldType with precision and scale (DECIMAL(10,2)).
func TypeWithScale(dt DataType, length, scale int) FieldType {
	return FieldType{DataType: dt, Length: IntPtr(length), Scale: IntPtr(scale)}
}

// IntPtr returns a pointer to a copy of v.
func IntPtr(v int) *int { return &v }

// Equal compares type, length and scale.
func (t FieldType) Equal(o FieldType) bool {
	return t.DataType == o.DataType && intPtrEqual(t.Length, o.Length) && intPtrEqual(t.Scale, o.Scale)
}

func (t FieldType) String() string {
	var b strings.Builder
	b.WriteString(string(t.DataType))
	if t.Length != nil {
		fmt.Fprintf(&b, "(%d", *t.Length)
		if t.Scale != nil {
			fmt.Fprintf(&b, ",%d", *t.Scale)
		}
		b.WriteByte(')')
	}
	return b.String()
}

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// Field describes one column.
//
// Nullable is false by default (NOT NULL). A primary key field is always
// treated as NOT NULL and unique regardless of its flags.
type Field struct {
	Name       string
	Type       FieldType
	Nullable   bool
	PrimaryKey bool
	Unique     bool
	Identity   bool

	// Default is a SQL literal rendered verbatim after DEFAULT.
	Default string

	// Alias is the source column name when it differs from Name.
	Alias string

	// ColumnNumber is the 1-based position inside a staged file.
	ColumnNumber int
}

// IsNullable reports the effective nullability.
func (f Field) IsNullable() bool { return f.Nullable && !f.PrimaryKey }

// IsUnique reports the effective uniqueness.
func (f Field) IsUnique() bool { return f.Unique || f.PrimaryKey }

// Equal compares every attribute.
func (f Field) Equal(o Field) bool {
	return f.Name == o.Name && f.Type.Equal(o.Type) && f.IsNullable() == o.IsNullable() &&
		f.PrimaryKey == o.PrimaryKey && f.Unique == o.Unique && f.Identity == o.Identity &&
		f.Default == o.Default && f.Alias == o.Alias && f.ColumnNumber == o.ColumnNumber
}

// Index is a secondary index on a table.
type Index struct {
	Name   string
	Fields []string
	Unique bool
}

// ColumnStore marks a table as column-store backed. Keys are the sort keys
// (MemSQL) and may be empty.
type ColumnStore struct {
	Keys []string
}

// SchemaDefinition is the ordered column list of a dataset plus its
// physical layout hints.
type SchemaDefinition struct {
	Fields        []Field
	PartitionKeys []string
	ClusterKeys   []string
	ShardKeys     []string
	ColumnStore   *ColumnStore
	Indexes       []Index
}

// Field returns the field with the given name.
func (s SchemaDefinition) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Has reports whether a field with the given name exists.
func (s SchemaDefinition) Has(name string) bool {
	_, ok := s.Field(name)
	return ok
}

// FieldNames returns the names in declaration order.
func (s SchemaDefinition) FieldNames() []string {
	out := make([]string, 0, len(s.Fields))
	for _, f := range s.Fields {
		out = append(out, f.Name)
	}
	return out
}

// PrimaryKeys returns the names of primary key fields in declaration order.
func (s SchemaDefinition) PrimaryKeys() []string {
	var out []string
	for _, f := range s.Fields {
		if f.PrimaryKey {
			out = append(out, f.Name)
		}
	}
	return out
}

// IsColumnStore reports whether a column-store specification is present.
func (s SchemaDefinition) IsColumnStore() bool { return s.ColumnStore != nil }

// WithFields returns a copy of s with a new field list. Layout keys are kept.
func (s SchemaDefinition) WithFields(fields []Field) SchemaDefinition {
	out := s.clone()
	out.Fields = append([]Field(nil), fields...)
	return out
}

// AddFields returns a copy of s with fields appended, skipping names that
// already exist.
func (s SchemaDefinition) AddFields(fields ...Field) SchemaDefinition {
	out := s.clone()
	for _, f := range fields {
		if !out.Has(f.Name) {
			out.Fields = append(out.Fields, f)
		}
	}
	return out
}

// Without returns a copy of s without the named fields.
func (s SchemaDefinition) Without(names ...string) SchemaDefinition {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	out := s.clone()
	out.Fields = out.Fields[:0]
	for _, f := range s.Fields {
		if !drop[f.Name] {
			out.Fields = append(out.Fields, f)
		}
	}
	return out
}

// ReplaceField returns a copy of s where the field with f's name is replaced.
// The field is appended when absent.
func (s SchemaDefinition) ReplaceField(f Field) SchemaDefinition {
	out := s.clone()
	for i := range out.Fields {
		if out.Fields[i].Name == f.Name {
			out.Fields[i] = f
			return out
		}
	}
	out.Fields = append(out.Fields, f)
	return out
}

func (s SchemaDefinition) clone() SchemaDefinition {
	out := SchemaDefinition{
		Fields:        append([]Field(nil), s.Fields...),
		PartitionKeys: append([]string(nil), s.PartitionKeys...),
		ClusterKeys:   append([]string(nil), s.ClusterKeys...),
		ShardKeys:     append([]string(nil), s.ShardKeys...),
		Indexes:       append([]Index(nil), s.Indexes...),
	}
	if s.ColumnStore != nil {
		out.ColumnStore = &ColumnStore{Keys: append([]string(nil), s.ColumnStore.Keys...)}
	}
	return out
}

// Validate checks that field names are unique and non-empty and that every
// key and index refers to an existing field.
func (s SchemaDefinition) Validate() error {
	seen := make(map[string]bool, len(s.Fields))
	for i, f := range s.Fields {
		if strings.TrimSpace(f.Name) == "" {
			return fmt.Errorf("field #%d: empty name", i)
		}
		if seen[f.Name] {
			return fmt.Errorf("field %q: declared more than once", f.Name)
		}
		if f.Type.DataType == "" {
			return fmt.Errorf("field %q: missing data type", f.Name)
		}
		if f.Type.Scale != nil && f.Type.Length == nil {
			return fmt.Errorf("field %q: scale without length", f.Name)
		}
		seen[f.Name] = true
	}

	check := func(what string, names []string) error {
		for _, n := range names {
			if !seen[n] {
				return fmt.Errorf("%s references unknown field %q", what, n)
			}
		}
		return nil
	}
	if err := check("partition key", s.PartitionKeys); err != nil {
		return err
	}
	if err := check("cluster key", s.ClusterKeys); err != nil {
		return err
	}
	if err := check("shard key", s.ShardKeys); err != nil {
		return err
	}
	if s.ColumnStore != nil {
		if err := check("column store key", s.ColumnStore.Keys); err != nil {
			return err
		}
	}
	for _, idx := range s.Indexes {
		if len(idx.Fields) == 0 {
			return fmt.Errorf("index %q has no fields", idx.Name)
		}
		if err := check("index "+idx.Name, idx.Fields); err != nil {
			return err
		}
	}
	return nil
}
