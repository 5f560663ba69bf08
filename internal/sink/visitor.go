package sink

import (
	"errors"
	"fmt"

	"ingest/internal/logical"
	"ingest/internal/physical"
)

// ErrUnsupportedNode is returned when a logical node has no lowering.
var ErrUnsupportedNode = errors.New("sink: unsupported logical node")

// VisitorResult is what a visitor hands back to the transformer.
//
// Node is the physical node the visitor created (and already pushed into
// its parent). Children are lowered depth-first into Node, in order.
// Siblings are only meaningful for top-level operations: they are spliced
// into the operation queue right after the current operation.
type VisitorResult struct {
	Node     physical.Node
	Children []logical.Node
	Siblings []logical.Operation
}

// Visitors has one method per logical node kind. Dialects embed
// ansi.Visitors and override the methods whose SQL differs.
type Visitors interface {
	VisitDatasetDefinition(prev physical.Node, n *logical.DatasetDefinition, ctx *Context) (VisitorResult, error)
	VisitDatasetReference(prev physical.Node, n *logical.DatasetReference, ctx *Context) (VisitorResult, error)
	VisitStagedFilesDataset(prev physical.Node, n *logical.StagedFilesDataset, ctx *Context) (VisitorResult, error)
	VisitStagedFilesSelection(prev physical.Node, n *logical.StagedFilesSelection, ctx *Context) (VisitorResult, error)
	VisitSelection(prev physical.Node, n *logical.Selection, ctx *Context) (VisitorResult, error)

	VisitFieldValue(prev physical.Node, n *logical.FieldValue, ctx *Context) (VisitorResult, error)
	VisitLiteral(prev physical.Node, n *logical.Literal, ctx *Context) (VisitorResult, error)
	VisitDatetimeValue(prev physical.Node, n *logical.DatetimeValue, ctx *Context) (VisitorResult, error)
	VisitBatchStartTimestamp(prev physical.Node, n *logical.BatchStartTimestamp, ctx *Context) (VisitorResult, error)
	VisitBatchEndTimestamp(prev physical.Node, n *logical.BatchEndTimestamp, ctx *Context) (VisitorResult, error)
	VisitBatchIDValue(prev physical.Node, n *logical.BatchIDValue, ctx *Context) (VisitorResult, error)
	VisitInfiniteBatchID(prev physical.Node, n *logical.InfiniteBatchID, ctx *Context) (VisitorResult, error)
	VisitDigestUdf(prev physical.Node, n *logical.DigestUdf, ctx *Context) (VisitorResult, error)
	VisitToArrayFunction(prev physical.Node, n *logical.ToArrayFunction, ctx *Context) (VisitorResult, error)
	VisitStagedFilesFieldValue(prev physical.Node, n *logical.StagedFilesFieldValue, ctx *Context) (VisitorResult, error)
	VisitFunction(prev physical.Node, n *logical.Function, ctx *Context) (VisitorResult, error)
	VisitWindowFunction(prev physical.Node, n *logical.WindowFunction, ctx *Context) (VisitorResult, error)
	VisitCast(prev physical.Node, n *logical.Cast, ctx *Context) (VisitorResult, error)
	VisitAll(prev physical.Node, n *logical.All, ctx *Context) (VisitorResult, error)
	VisitSelectValue(prev physical.Node, n *logical.SelectValue, ctx *Context) (VisitorResult, error)
	VisitArithmetic(prev physical.Node, n *logical.Arithmetic, ctx *Context) (VisitorResult, error)
	VisitPlaceholder(prev physical.Node, n *logical.Placeholder, ctx *Context) (VisitorResult, error)

	VisitComparison(prev physical.Node, n *logical.Comparison, ctx *Context) (VisitorResult, error)
	VisitAnd(prev physical.Node, n *logical.And, ctx *Context) (VisitorResult, error)
	VisitOr(prev physical.Node, n *logical.Or, ctx *Context) (VisitorResult, error)
	VisitNot(prev physical.Node, n *logical.Not, ctx *Context) (VisitorResult, error)
	VisitExists(prev physical.Node, n *logical.Exists, ctx *Context) (VisitorResult, error)
	VisitIn(prev physical.Node, n *logical.In, ctx *Context) (VisitorResult, error)
	VisitIsNull(prev physical.Node, n *logical.IsNull, ctx *Context) (VisitorResult, error)

	VisitCreate(prev physical.Node, n *logical.Create, ctx *Context) (VisitorResult, error)
	VisitDrop(prev physical.Node, n *logical.Drop, ctx *Context) (VisitorResult, error)
	VisitTruncate(prev physical.Node, n *logical.Truncate, ctx *Context) (VisitorResult, error)
	VisitAlter(prev physical.Node, n *logical.Alter, ctx *Context) (VisitorResult, error)
	VisitDelete(prev physical.Node, n *logical.Delete, ctx *Context) (VisitorResult, error)
	VisitUpdate(prev physical.Node, n *logical.Update, ctx *Context) (VisitorResult, error)
	VisitInsert(prev physical.Node, n *logical.Insert, ctx *Context) (VisitorResult, error)
	VisitCopy(prev physical.Node, n *logical.Copy, ctx *Context) (VisitorResult, error)
}

// Dispatch routes n to its visitor method. It is the single place that maps
// node types to visitors; a type without a case is a fatal lowering error.
func Dispatch(v Visitors, prev physical.Node, n logical.Node, ctx *Context) (VisitorResult, error) {
	switch t := n.(type) {
	case *logical.DatasetDefinition:
		return v.VisitDatasetDefinition(prev, t, ctx)
	case *logical.DatasetReference:
		return v.VisitDatasetReference(prev, t, ctx)
	case *logical.StagedFilesDataset:
		return v.VisitStagedFilesDataset(prev, t, ctx)
	case *logical.StagedFilesSelection:
		return v.VisitStagedFilesSelection(prev, t, ctx)
	case *logical.Selection:
		return v.VisitSelection(prev, t, ctx)

	case *logical.FieldValue:
		return v.VisitFieldValue(prev, t, ctx)
	case *logical.Literal:
		return v.VisitLiteral(prev, t, ctx)
	case *logical.DatetimeValue:
		return v.VisitDatetimeValue(prev, t, ctx)
	case *logical.BatchStartTimestamp:
		return v.VisitBatchStartTimestamp(prev, t, ctx)
	case *logical.BatchEndTimestamp:
		return v.VisitBatchEndTimestamp(prev, t, ctx)
	case *logical.BatchIDValue:
		return v.VisitBatchIDValue(prev, t, ctx)
	case *logical.InfiniteBatchID:
		return v.VisitInfiniteBatchID(prev, t, ctx)
	case *logical.DigestUdf:
		return v.VisitDigestUdf(prev, t, ctx)
	case *logical.ToArrayFunction:
		return v.VisitToArrayFunction(prev, t, ctx)
	case *logical.StagedFilesFieldValue:
		return v.VisitStagedFilesFieldValue(prev, t, ctx)
	case *logical.Function:
		return v.VisitFunction(prev, t, ctx)
	case *logical.WindowFunction:
		return v.VisitWindowFunction(prev, t, ctx)
	case *logical.Cast:
		return v.VisitCast(prev, t, ctx)
	case *logical.All:
		return v.VisitAll(prev, t, ctx)
	case *logical.SelectValue:
		return v.VisitSelectValue(prev, t, ctx)
	case *logical.Arithmetic:
		return v.VisitArithmetic(prev, t, ctx)
	case *logical.Placeholder:
		return v.VisitPlaceholder(prev, t, ctx)

	case *logical.Comparison:
		return v.VisitComparison(prev, t, ctx)
	case *logical.And:
		return v.VisitAnd(prev, t, ctx)
	case *logical.Or:
		return v.VisitOr(prev, t, ctx)
	case *logical.Not:
		return v.VisitNot(prev, t, ctx)
	case *logical.Exists:
		return v.VisitExists(prev, t, ctx)
	case *logical.In:
		return v.VisitIn(prev, t, ctx)
	case *logical.IsNull:
		return v.VisitIsNull(prev, t, ctx)

	case *logical.Create:
		return v.VisitCreate(prev, t, ctx)
	case *logical.Drop:
		return v.VisitDrop(prev, t, ctx)
	case *logical.Truncate:
		return v.VisitTruncate(prev, t, ctx)
	case *logical.Alter:
		return v.VisitAlter(prev, t, ctx)
	case *logical.Delete:
		return v.VisitDelete(prev, t, ctx)
	case *logical.Update:
		return v.VisitUpdate(prev, t, ctx)
	case *logical.Insert:
		return v.VisitInsert(prev, t, ctx)
	case *logical.Copy:
		return v.VisitCopy(prev, t, ctx)
	}
	if n == nil {
		return VisitorResult{}, fmt.Errorf("%w: nil node", ErrUnsupportedNode)
	}
	return VisitorResult{}, fmt.Errorf("%w: %T (%s)", ErrUnsupportedNode, n, n.Kind())
}
