package logical

import "time"

// FieldValue references a column, optionally qualified by a dataset alias.
type FieldValue struct {
	Qualifier string
	Name      string
	Alias     string
}

func (*FieldValue) Kind() NodeKind { return KindFieldValue }
func (*FieldValue) value()         {}

// Col is shorthand for a qualified column reference.
func Col(qualifier, name string) *FieldValue {
	return &FieldValue{Qualifier: qualifier, Name: name}
}

// As returns a copy carrying an output alias.
func (f *FieldValue) As(alias string) *FieldValue {
	cp := *f
	cp.Alias = alias
	return &cp
}

// Literal is a constant: nil, string, bool, an integer or a float.
type Literal struct {
	Value any
	Alias string
}

func (*Literal) Kind() NodeKind { return KindLiteral }
func (*Literal) value()         {}

// Lit is shorthand for a Literal.
func Lit(v any) *Literal { return &Literal{Value: v} }

// DatetimeValue is a timestamp constant.
type DatetimeValue struct {
	Value time.Time
	Alias string
}

func (*DatetimeValue) Kind() NodeKind { return KindDatetimeValue }
func (*DatetimeValue) value()         {}

// BatchStartTimestamp is the execution timestamp of the current batch. Every
// statement of a run renders the same instant.
type BatchStartTimestamp struct {
	Alias string
}

func (*BatchStartTimestamp) Kind() NodeKind { return KindBatchStartTimestamp }
func (*BatchStartTimestamp) value()         {}

// BatchEndTimestamp is the wall clock at the time the statement runs.
type BatchEndTimestamp struct {
	Alias string
}

func (*BatchEndTimestamp) Kind() NodeKind { return KindBatchEndTimestamp }
func (*BatchEndTimestamp) value()         {}

// BatchIDValue is the next batch id for TableName, read from the batch
// metadata table (MAX(table_batch_id)+1, starting at 1).
type BatchIDValue struct {
	TableName string
	Alias     string
}

func (*BatchIDValue) Kind() NodeKind { return KindBatchIDValue }
func (*BatchIDValue) value()         {}

// InfiniteBatchID marks an open (current) row in batch-id milestoning.
type InfiniteBatchID struct {
	Alias string
}

func (*InfiniteBatchID) Kind() NodeKind { return KindInfiniteBatchID }
func (*InfiniteBatchID) value()         {}

// InfiniteBatchIDValue is the batch_id_out of open rows.
const InfiniteBatchIDValue = 999999999

// InfiniteBatchTime is the batch_time_out (and validity thru) of open rows.
var InfiniteBatchTime = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)

// DigestUdf computes a row digest with a user-defined function. FieldNames
// and Values are parallel slices.
type DigestUdf struct {
	UdfName    string
	FieldNames []string
	Values     []Value
	Alias      string
}

func (*DigestUdf) Kind() NodeKind { return KindDigestUdf }
func (*DigestUdf) value()         {}

// ToArrayFunction builds an array value.
type ToArrayFunction struct {
	Values []Value
	Alias  string
}

func (*ToArrayFunction) Kind() NodeKind { return KindToArrayFunction }
func (*ToArrayFunction) value()         {}

// StagedFilesFieldValue reads a column of a staged file.
type StagedFilesFieldValue struct {
	ColumnNumber int
	Name         string
	Type         FieldType
	Alias        string
}

func (*StagedFilesFieldValue) Kind() NodeKind { return KindStagedFilesFieldValue }
func (*StagedFilesFieldValue) value()         {}

// FunctionName enumerates the functions the planner uses.
type FunctionName string

const (
	FnCount            FunctionName = "COUNT"
	FnCountDistinct    FunctionName = "COUNT_DISTINCT"
	FnMax              FunctionName = "MAX"
	FnMin              FunctionName = "MIN"
	FnSum              FunctionName = "SUM"
	FnCoalesce         FunctionName = "COALESCE"
	FnUpper            FunctionName = "UPPER"
	FnLower            FunctionName = "LOWER"
	FnCurrentTimestamp FunctionName = "CURRENT_TIMESTAMP"
	FnDenseRank        FunctionName = "DENSE_RANK"
	FnRowNumber        FunctionName = "ROW_NUMBER"
)

// Function applies a named function to arguments.
type Function struct {
	Name  FunctionName
	Args  []Value
	Alias string
}

func (*Function) Kind() NodeKind { return KindFunction }
func (*Function) value()         {}

// Fn is shorthand for a Function.
func Fn(name FunctionName, args ...Value) *Function {
	return &Function{Name: name, Args: args}
}

// As returns a copy carrying an output alias.
func (f *Function) As(alias string) *Function {
	cp := *f
	cp.Alias = alias
	return &cp
}

// Ordering is one ORDER BY entry of a window.
type Ordering struct {
	Value Value
	Desc  bool
}

// WindowFunction is FUNC() OVER (PARTITION BY ... ORDER BY ...).
type WindowFunction struct {
	Function    *Function
	PartitionBy []Value
	OrderBy     []Ordering
	Alias       string
}

func (*WindowFunction) Kind() NodeKind { return KindWindowFunction }
func (*WindowFunction) value()         {}

// Cast converts a value to a type.
type Cast struct {
	Value Value
	Type  FieldType
	Alias string
}

func (*Cast) Kind() NodeKind { return KindCast }
func (*Cast) value()         {}

// All is "*" or "alias.*".
type All struct {
	Qualifier string
}

func (*All) Kind() NodeKind { return KindAll }
func (*All) value()         {}

// SelectValue is a scalar sub-select.
type SelectValue struct {
	Selection *Selection
	Alias     string
}

func (*SelectValue) Kind() NodeKind { return KindSelectValue }
func (*SelectValue) value()         {}

// ArithmeticOp is + or -.
type ArithmeticOp string

const (
	Plus  ArithmeticOp = "+"
	Minus ArithmeticOp = "-"
)

// Arithmetic combines two values.
type Arithmetic struct {
	Op          ArithmeticOp
	Left, Right Value
	Alias       string
}

func (*Arithmetic) Kind() NodeKind { return KindArithmetic }
func (*Arithmetic) value()         {}

// Placeholder is substituted textually at execution time. The rendered token
// is "{" + Key + "}".
type Placeholder struct {
	Key string
}

func (*Placeholder) Kind() NodeKind { return KindPlaceholder }
func (*Placeholder) value()         {}

// Token returns the text the placeholder renders to.
func (p *Placeholder) Token() string { return "{" + p.Key + "}" }

const (
	DataSplitLowerBound = "DATA_SPLIT_LOWER_BOUND_PLACEHOLDER"
	DataSplitUpperBound = "DATA_SPLIT_UPPER_BOUND_PLACEHOLDER"
)

// Pair is one SET assignment of an Update.
type Pair struct {
	Field *FieldValue
	Value Value
}

// AliasOf returns the output alias of v, if any.
func AliasOf(v Value) string {
	switch t := v.(type) {
	case *FieldValue:
		return t.Alias
	case *Literal:
		return t.Alias
	case *DatetimeValue:
		return t.Alias
	case *BatchStartTimestamp:
		return t.Alias
	case *BatchEndTimestamp:
		return t.Alias
	case *BatchIDValue:
		return t.Alias
	case *InfiniteBatchID:
		return t.Alias
	case *DigestUdf:
		return t.Alias
	case *ToArrayFunction:
		return t.Alias
	case *StagedFilesFieldValue:
		return t.Alias
	case *Function:
		return t.Alias
	case *WindowFunction:
		return t.Alias
	case *Cast:
		return t.Alias
	case *SelectValue:
		return t.Alias
	case *Arithmetic:
		return t.Alias
	}
	return ""
}
