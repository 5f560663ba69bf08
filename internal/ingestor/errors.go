package ingestor

import (
	"errors"
	"fmt"

	"ingest/internal/catalog"
	"ingest/internal/ingestmode"
	"ingest/internal/schemaevolution"
	"ingest/internal/sink"
)

// Kind classifies why an ingestion failed.
type Kind int

const (
	KindConfiguration Kind = iota + 1
	KindSchemaMismatch
	KindUnsupportedCapability
	KindDuplicateViolation
	KindDataError
	KindExecution
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindSchemaMismatch:
		return "schema_mismatch"
	case KindUnsupportedCapability:
		return "unsupported_capability"
	case KindDuplicateViolation:
		return "duplicate_violation"
	case KindDataError:
		return "data_error"
	case KindExecution:
		return "execution"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is the typed failure of one ingestion.
//
// Op names the stage that failed (plan, schema, dedup, ingest, ...). Field
// is set when the cause points at one column.
type Error struct {
	Kind  Kind
	Op    string
	Field string
	Err   error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("ingest %s (%s)", e.Op, e.Kind)
	if e.Field != "" {
		msg += fmt.Sprintf(" field %q", e.Field)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by Kind, so errors.Is(err, &Error{Kind: k})
// tests the classification.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind && t.Op == "" && t.Err == nil
}

// ErrDuplicates and ErrDataErrors are the sentinels of the two pre-merge
// checks.
var (
	ErrDuplicates = errors.New("staging has duplicate rows")
	ErrDataErrors = errors.New("staging has conflicting rows for the same version")
)

// wrap classifies err for op. An *Error passes through unchanged.
func wrap(op string, err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	kind, field := classify(err)
	return &Error{Kind: kind, Op: op, Field: field, Err: err}
}

func classify(err error) (Kind, string) {
	var (
		mv  *ingestmode.ValidationError
		inc *schemaevolution.IncompatibleSchemaChangeError
		sm  *catalog.SchemaMismatchError
		cv  *catalog.ValidationError
	)
	switch {
	case errors.As(err, &mv):
		return KindConfiguration, mv.Field
	case errors.Is(err, sink.ErrUnsupportedCapability):
		return KindUnsupportedCapability, ""
	case errors.Is(err, sink.ErrUnsupportedNode):
		return KindConfiguration, ""
	case errors.As(err, &inc):
		return KindSchemaMismatch, inc.Field
	case errors.As(err, &sm):
		if len(sm.Errors) > 0 {
			return KindSchemaMismatch, sm.Errors[0].Column
		}
		return KindSchemaMismatch, ""
	case errors.As(err, &cv):
		return KindSchemaMismatch, cv.Column
	case errors.Is(err, ErrDuplicates):
		return KindDuplicateViolation, ""
	case errors.Is(err, ErrDataErrors):
		return KindDataError, ""
	}
	return KindExecution, ""
}
