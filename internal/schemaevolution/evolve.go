// Package schemaevolution compares a main table with its staging dataset and
// plans the ALTER operations that let staging rows land in main.
package schemaevolution

import (
	"fmt"
	"slices"

	"ingest/internal/logical"
	"ingest/internal/sink"
)

// IncompatibleSchemaChangeError reports a type change that neither the
// implicit nor the explicit conversion table of the sink allows.
type IncompatibleSchemaChangeError struct {
	Field string
	From  logical.FieldType
	To    logical.FieldType
}

func (e *IncompatibleSchemaChangeError) Error() string {
	return fmt.Sprintf("schema evolution: breaking change of %q from %s to %s", e.Field, e.From, e.To)
}

// Result is the outcome of Evolver.Build.
type Result struct {
	// Plan holds the Alter operations, in the order they must run.
	Plan logical.Plan
	// Evolved is main with the altered fields applied.
	Evolved *logical.DatasetDefinition
}

// Evolver plans schema changes against one sink.
type Evolver struct {
	Sink *sink.RelationalSink

	// ClassifyEmptyValueAsZero is handed to EvolveFieldLength.
	ClassifyEmptyValueAsZero bool
}

// Build plans the changes that make main accept staging's columns.
//
// Staging fields are matched to main first (ADD, type and length changes),
// then main fields missing from staging are made nullable. Names listed in
// ignoreMain and ignoreStaging are skipped; they are the columns the ingest
// mode maintains itself (audit and milestoning columns).
//
// Errors:
//   - sink.ErrUnsupportedCapability when a change needs a capability the
//     sink lacks (ADD_COLUMN, DATA_TYPE_LENGTH_CHANGE, DATA_TYPE_SCALE_CHANGE).
//   - *IncompatibleSchemaChangeError for a breaking type change.
//   - A plain error when a primary key of main is absent from staging.
//
// No partial plan is returned with an error.
func (e Evolver) Build(main *logical.DatasetDefinition, staging logical.Dataset, ignoreMain, ignoreStaging []string) (Result, error) {
	if e.Sink == nil {
		return Result{}, fmt.Errorf("schema evolution: nil sink")
	}
	if main == nil || staging == nil {
		return Result{}, fmt.Errorf("schema evolution: main and staging are required")
	}

	var ops []logical.Operation
	schema := main.Schema

	for _, sf := range staging.SchemaDef().Fields {
		if slices.Contains(ignoreStaging, sf.Name) {
			continue
		}
		mf, ok := main.Schema.Field(sf.Name)
		if !ok {
			if !e.Sink.Supports(sink.AddColumn) {
				return Result{}, fmt.Errorf("%w: %s: field %q of staging does not exist in main", sink.ErrUnsupportedCapability, sink.AddColumn, sf.Name)
			}
			// rows already in main have no value for the new column
			added := sf
			added.Nullable = true
			added.PrimaryKey = false
			added.Identity = false
			ops = append(ops, &logical.Alter{Dataset: main, Op: logical.AlterAdd, Column: added})
			schema = schema.ReplaceField(added)
			continue
		}

		evolved, err := e.evolveType(mf, sf)
		if err != nil {
			return Result{}, err
		}
		switch {
		case !evolved.Type.Equal(mf.Type):
			if err := e.checkSizing(mf, evolved); err != nil {
				return Result{}, err
			}
			ops = append(ops, &logical.Alter{Dataset: main, Op: logical.AlterChangeDatatype, Column: evolved})
			schema = schema.ReplaceField(evolved)
		case evolved.IsNullable() && !mf.IsNullable():
			ops = append(ops, &logical.Alter{Dataset: main, Op: logical.AlterNullable, Column: evolved})
			schema = schema.ReplaceField(evolved)
		}
	}

	stagingNames := staging.SchemaDef().FieldNames()
	for _, mf := range main.Schema.Fields {
		if slices.Contains(ignoreMain, mf.Name) || slices.Contains(stagingNames, mf.Name) {
			continue
		}
		if mf.PrimaryKey {
			return Result{}, fmt.Errorf("schema evolution: primary key %q does not exist in staging", mf.Name)
		}
		if mf.IsNullable() {
			continue
		}
		mf.Nullable = true
		ops = append(ops, &logical.Alter{Dataset: main, Op: logical.AlterNullable, Column: mf})
		schema = schema.ReplaceField(mf)
	}

	return Result{Plan: logical.NewPlan(ops...), Evolved: main.WithSchema(schema)}, nil
}

// evolveType picks the main column's new definition for a staging field.
func (e Evolver) evolveType(mainField, stagingField logical.Field) (logical.Field, error) {
	mt, st := mainField.Type.DataType, stagingField.Type.DataType
	switch {
	case mt == st:
		// keep main's flags, widen the size
		return e.evolveLength(stagingField, mainField), nil
	case e.Sink.CanImplicitlyConvert(st, mt):
		// the database converts on write; only the size may grow
		return e.evolveLength(stagingField, mainField), nil
	case e.Sink.CanExplicitlyConvert(mt, st):
		return e.evolveLength(mainField, stagingField), nil
	}
	return logical.Field{}, &IncompatibleSchemaChangeError{Field: mainField.Name, From: mainField.Type, To: stagingField.Type}
}

func (e Evolver) evolveLength(oldField, newField logical.Field) logical.Field {
	if e.Sink.EvolveFieldLength != nil {
		return e.Sink.EvolveFieldLength(oldField, newField, e.ClassifyEmptyValueAsZero)
	}
	return EvolveFieldLength(oldField, newField, e.ClassifyEmptyValueAsZero)
}

// checkSizing rejects size changes the sink cannot apply. A change of data
// type is gated by the conversion tables, not here.
func (e Evolver) checkSizing(mainField, evolved logical.Field) error {
	if mainField.Type.DataType != evolved.Type.DataType {
		return nil
	}
	if !ptrEqual(mainField.Type.Length, evolved.Type.Length) && !e.Sink.Supports(sink.DataTypeLengthChange) {
		return fmt.Errorf("%w: %s: %q from %s to %s", sink.ErrUnsupportedCapability, sink.DataTypeLengthChange, mainField.Name, mainField.Type, evolved.Type)
	}
	if !ptrEqual(mainField.Type.Scale, evolved.Type.Scale) && !e.Sink.Supports(sink.DataTypeScaleChange) {
		return fmt.Errorf("%w: %s: %q from %s to %s", sink.ErrUnsupportedCapability, sink.DataTypeScaleChange, mainField.Name, mainField.Type, evolved.Type)
	}
	return nil
}

// EvolveFieldLength widens newField's length and scale so that values of
// oldField still fit.
//
// With a scale on either side, integral digits (length minus scale) and
// scale are widened independently and added back together; a length
// without a scale counts as scale 0. Otherwise the length is
// maxPresent(old, new).
//
// classifyEmptyValueAsZero decides what an absent length means when the
// other side has one: false treats absent as unbounded (absent wins), true
// treats it as zero (the present length wins).
//
// The result carries newField's name, type and flags. It is nullable when
// either input is.
func EvolveFieldLength(oldField, newField logical.Field, classifyEmptyValueAsZero bool) logical.Field {
	out := newField
	out.Nullable = oldField.Nullable || newField.Nullable
	ot, nt := oldField.Type, newField.Type

	if ot.Scale == nil && nt.Scale == nil {
		out.Type.Length = maxPresent(ot.Length, nt.Length, classifyEmptyValueAsZero)
		out.Type.Scale = nil
		return out
	}

	integral := maxPresent(integralDigits(ot), integralDigits(nt), classifyEmptyValueAsZero)
	scale := maxPresent(scaleOf(ot), scaleOf(nt), classifyEmptyValueAsZero)
	if integral == nil {
		out.Type.Length, out.Type.Scale = nil, nil
		return out
	}
	s := 0
	if scale != nil {
		s = *scale
	}
	out.Type.Length = logical.IntPtr(*integral + s)
	out.Type.Scale = logical.IntPtr(s)
	return out
}

func integralDigits(t logical.FieldType) *int {
	if t.Length == nil {
		return nil
	}
	s := 0
	if t.Scale != nil {
		s = *t.Scale
	}
	return logical.IntPtr(*t.Length - s)
}

func scaleOf(t logical.FieldType) *int {
	if t.Length == nil {
		return nil
	}
	if t.Scale == nil {
		return logical.IntPtr(0)
	}
	return logical.IntPtr(*t.Scale)
}

func maxPresent(a, b *int, classifyEmptyValueAsZero bool) *int {
	switch {
	case a != nil && b != nil:
		return logical.IntPtr(max(*a, *b))
	case a == nil && b == nil:
		return nil
	case classifyEmptyValueAsZero:
		if a != nil {
			return logical.IntPtr(*a)
		}
		return logical.IntPtr(*b)
	}
	return nil
}

func ptrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
