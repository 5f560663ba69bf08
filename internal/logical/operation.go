package logical

// CompareOp is a binary comparison operator.
type CompareOp string

const (
	Eq    CompareOp = "="
	NotEq CompareOp = "<>"
	Gt    CompareOp = ">"
	Gte   CompareOp = ">="
	Lt    CompareOp = "<"
	Lte   CompareOp = "<="
)

// Comparison compares two values.
type Comparison struct {
	Op          CompareOp
	Left, Right Value
}

func (*Comparison) Kind() NodeKind { return KindComparison }
func (*Comparison) condition()     {}

// Equals is shorthand for an equality comparison.
func Equals(l, r Value) *Comparison { return &Comparison{Op: Eq, Left: l, Right: r} }

// Compare is shorthand for a comparison with any operator.
func Compare(op CompareOp, l, r Value) *Comparison { return &Comparison{Op: op, Left: l, Right: r} }

// And is a conjunction. An And with one condition renders as that condition.
type And struct {
	Conditions []Condition
}

func (*And) Kind() NodeKind { return KindAnd }
func (*And) condition()     {}

// Or is a disjunction.
type Or struct {
	Conditions []Condition
}

func (*Or) Kind() NodeKind { return KindOr }
func (*Or) condition()     {}

// Not negates a condition.
type Not struct {
	Condition Condition
}

func (*Not) Kind() NodeKind { return KindNot }
func (*Not) condition()     {}

// Exists tests a sub-select for rows.
type Exists struct {
	Selection *Selection
}

func (*Exists) Kind() NodeKind { return KindExists }
func (*Exists) condition()     {}

// In tests membership in a value list or a sub-select.
type In struct {
	Value     Value
	Values    []Value
	Selection *Selection
}

func (*In) Kind() NodeKind { return KindIn }
func (*In) condition()     {}

// IsNull tests for NULL, or NOT NULL when Negate is set.
type IsNull struct {
	Value  Value
	Negate bool
}

func (*IsNull) Kind() NodeKind { return KindIsNull }
func (*IsNull) condition()     {}

// AllOf joins the non-nil conditions with AND. It returns nil when none are
// left and the single condition when only one is.
func AllOf(conds ...Condition) Condition {
	var out []Condition
	for _, c := range conds {
		if c != nil {
			out = append(out, c)
		}
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	}
	return &And{Conditions: out}
}

// AnyOf joins the non-nil conditions with OR.
func AnyOf(conds ...Condition) Condition {
	var out []Condition
	for _, c := range conds {
		if c != nil {
			out = append(out, c)
		}
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	}
	return &Or{Conditions: out}
}

// Create creates a dataset.
type Create struct {
	Dataset     Dataset
	IfNotExists bool
}

func (*Create) Kind() NodeKind { return KindCreate }
func (*Create) operation()     {}

// Drop drops a dataset.
type Drop struct {
	Dataset  Dataset
	IfExists bool
}

func (*Drop) Kind() NodeKind { return KindDrop }
func (*Drop) operation()     {}

// Truncate removes every row.
type Truncate struct {
	Dataset Dataset
}

func (*Truncate) Kind() NodeKind { return KindTruncate }
func (*Truncate) operation()     {}

// AlterOp is the kind of column change.
type AlterOp string

const (
	AlterAdd            AlterOp = "ADD"
	AlterDrop           AlterOp = "DROP"
	AlterChangeDatatype AlterOp = "CHANGE_DATATYPE"
	AlterNullable       AlterOp = "NULLABLE_COLUMN"
	AlterRename         AlterOp = "RENAME_COLUMN"
)

// Alter changes one column of a dataset. NewName is used by RENAME_COLUMN.
type Alter struct {
	Dataset Dataset
	Op      AlterOp
	Column  Field
	NewName string
}

func (*Alter) Kind() NodeKind { return KindAlter }
func (*Alter) operation()     {}

// Delete removes rows matching Where, or every row when Where is nil.
type Delete struct {
	Dataset Dataset
	Where   Condition
}

func (*Delete) Kind() NodeKind { return KindDelete }
func (*Delete) operation()     {}

// Update assigns Set to rows matching Where. When From is set the rows are
// joined with From on JoinCondition and Set values may reference it.
type Update struct {
	Dataset       Dataset
	Set           []Pair
	Where         Condition
	From          Dataset
	JoinCondition Condition
}

func (*Update) Kind() NodeKind { return KindUpdate }
func (*Update) operation()     {}

// Insert writes the rows of Source into Target's Fields.
type Insert struct {
	Target Dataset
	Fields []*FieldValue
	Source *Selection
}

func (*Insert) Kind() NodeKind { return KindInsert }
func (*Insert) operation()     {}

// Copy bulk loads staged files into Target.
type Copy struct {
	Target Dataset
	Source *StagedFilesSelection
	Fields []*FieldValue
}

func (*Copy) Kind() NodeKind { return KindCopy }
func (*Copy) operation()     {}
