// Package logical is the dialect-neutral plan model of the ingestion engine.
//
// A plan is a list of Operations. Operations reference Datasets, Values and
// Conditions. Nothing in this package knows about SQL text or any specific
// database; lowering to SQL is the job of internal/sink and its dialect
// packages.
//
// Node types are always used through pointers (*Create, *FieldValue, ...).
// The Kind method is declared on the pointer receiver so that a non-pointer
// value never satisfies Node by accident.
package logical

import "fmt"

// NodeKind is the closed enumeration of logical node types. Every kind has
// exactly one visitor method in sink.Visitors.
type NodeKind int

const (
	KindUnknown NodeKind = iota

	// datasets
	KindDatasetDefinition
	KindDatasetReference
	KindStagedFilesDataset
	KindStagedFilesSelection
	KindSelection

	// values
	KindFieldValue
	KindLiteral
	KindDatetimeValue
	KindBatchStartTimestamp
	KindBatchEndTimestamp
	KindBatchIDValue
	KindInfiniteBatchID
	KindDigestUdf
	KindToArrayFunction
	KindStagedFilesFieldValue
	KindFunction
	KindWindowFunction
	KindCast
	KindAll
	KindSelectValue
	KindArithmetic
	KindPlaceholder

	// conditions
	KindComparison
	KindAnd
	KindOr
	KindNot
	KindExists
	KindIn
	KindIsNull

	// operations
	KindCreate
	KindDrop
	KindTruncate
	KindAlter
	KindDelete
	KindUpdate
	KindInsert
	KindCopy
)

var kindNames = map[NodeKind]string{
	KindDatasetDefinition:     "DatasetDefinition",
	KindDatasetReference:      "DatasetReference",
	KindStagedFilesDataset:    "StagedFilesDataset",
	KindStagedFilesSelection:  "StagedFilesSelection",
	KindSelection:             "Selection",
	KindFieldValue:            "FieldValue",
	KindLiteral:               "Literal",
	KindDatetimeValue:         "DatetimeValue",
	KindBatchStartTimestamp:   "BatchStartTimestamp",
	KindBatchEndTimestamp:     "BatchEndTimestamp",
	KindBatchIDValue:          "BatchIDValue",
	KindInfiniteBatchID:       "InfiniteBatchID",
	KindDigestUdf:             "DigestUdf",
	KindToArrayFunction:       "ToArrayFunction",
	KindStagedFilesFieldValue: "StagedFilesFieldValue",
	KindFunction:              "Function",
	KindWindowFunction:        "WindowFunction",
	KindCast:                  "Cast",
	KindAll:                   "All",
	KindSelectValue:           "SelectValue",
	KindArithmetic:            "Arithmetic",
	KindPlaceholder:           "Placeholder",
	KindComparison:            "Comparison",
	KindAnd:                   "And",
	KindOr:                    "Or",
	KindNot:                   "Not",
	KindExists:                "Exists",
	KindIn:                    "In",
	KindIsNull:                "IsNull",
	KindCreate:                "Create",
	KindDrop:                  "Drop",
	KindTruncate:              "Truncate",
	KindAlter:                 "Alter",
	KindDelete:                "Delete",
	KindUpdate:                "Update",
	KindInsert:                "Insert",
	KindCopy:                  "Copy",
}

func (k NodeKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("NodeKind(%d)", int(k))
}

// Node is implemented by every logical plan element.
type Node interface {
	Kind() NodeKind
}

// Value is a node that produces a scalar (column, literal, function, ...).
type Value interface {
	Node
	value()
}

// Condition is a boolean predicate node.
type Condition interface {
	Node
	condition()
}

// Operation is a top-level plan step. Every operation lowers to zero or more
// SQL statements.
type Operation interface {
	Node
	operation()
}

// Plan is an ordered list of operations.
type Plan struct {
	Ops []Operation
}

// NewPlan builds a Plan from ops, skipping nil entries.
func NewPlan(ops ...Operation) Plan {
	out := make([]Operation, 0, len(ops))
	for _, op := range ops {
		if op != nil {
			out = append(out, op)
		}
	}
	return Plan{Ops: out}
}

// IsEmpty reports whether the plan has no operations.
func (p Plan) IsEmpty() bool { return len(p.Ops) == 0 }

// Append returns a new plan with ops added after p's operations.
func (p Plan) Append(ops ...Operation) Plan {
	out := make([]Operation, 0, len(p.Ops)+len(ops))
	out = append(out, p.Ops...)
	for _, op := range ops {
		if op != nil {
			out = append(out, op)
		}
	}
	return Plan{Ops: out}
}
