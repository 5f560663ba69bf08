package ingestmode

import (
	"fmt"

	"ingest/internal/logical"
	"ingest/internal/sink"
)

// nontemporalSnapshot empties main and inserts the source rows.
func (b *builder) nontemporalSnapshot(m NontemporalSnapshot) []logical.Operation {
	names := b.written()
	names, vals := auditValues(m.Auditing, names, cols(logical.StagingAlias, names))
	return []logical.Operation{
		&logical.Delete{Dataset: b.main},
		&logical.Insert{
			Target: b.main,
			Fields: fieldValues(names),
			Source: &logical.Selection{Source: b.source(), Fields: vals, Where: b.splitRange()},
		},
	}
}

// appendOnly inserts the source rows, optionally skipping rows whose key
// and digest are already in main.
func (b *builder) appendOnly(m AppendOnly) []logical.Operation {
	const s, t = logical.StagingAlias, logical.MainAlias
	names := b.written()
	names, vals := auditValues(m.Auditing, names, cols(s, names))
	var existing logical.Condition
	if m.FilterExistingRecords {
		existing = &logical.Not{Condition: &logical.Exists{Selection: &logical.Selection{
			Source: b.main,
			Where: logical.AllOf(
				keysMatch(b.pks, t, s),
				logical.Equals(logical.Col(t, m.DigestField), logical.Col(s, m.DigestField)),
			),
		}}}
	}
	return []logical.Operation{&logical.Insert{
		Target: b.main,
		Fields: fieldValues(names),
		Source: &logical.Selection{Source: b.source(), Fields: vals, Where: logical.AllOf(existing, b.splitRange())},
	}}
}

// nontemporalDelta deletes flagged keys, updates superseded rows in place
// and inserts keys main does not have.
func (b *builder) nontemporalDelta(m NontemporalDelta) []logical.Operation {
	const s, t = logical.StagingAlias, logical.MainAlias
	var ops []logical.Operation
	if m.DeleteIndicator != nil {
		ops = append(ops, &logical.Delete{
			Dataset: b.main,
			Where: &logical.Exists{Selection: &logical.Selection{
				Source: b.source(),
				Where:  logical.AllOf(keysMatch(b.pks, t, s), deleted(m.DeleteIndicator), b.splitRange()),
			}},
		})
	}

	names := b.written()
	var set []logical.Pair
	for _, n := range names {
		set = append(set, logical.Pair{Field: logical.Col(t, n), Value: logical.Col(s, n)})
	}
	if m.Auditing.Field != "" {
		set = append(set, logical.Pair{Field: logical.Col(t, m.Auditing.Field), Value: &logical.BatchStartTimestamp{}})
	}
	ops = append(ops, &logical.Update{
		Dataset:       b.main,
		Set:           set,
		From:          b.source(),
		JoinCondition: logical.AllOf(keysMatch(b.pks, t, s), b.supersedes(m.Versioning), notDeleted(m.DeleteIndicator), b.splitRange()),
	})

	insNames, vals := auditValues(m.Auditing, names, cols(s, names))
	missing := &logical.Not{Condition: &logical.Exists{Selection: &logical.Selection{
		Source: b.main,
		Where:  keysMatch(b.pks, t, s),
	}}}
	ops = append(ops, &logical.Insert{
		Target: b.main,
		Fields: fieldValues(insNames),
		Source: &logical.Selection{
			Source: b.source(),
			Fields: vals,
			Where:  logical.AllOf(missing, notDeleted(m.DeleteIndicator), b.splitRange()),
		},
	})
	return ops
}

// bulkLoad copies staged files into main. Sinks that cannot transform
// while copying load into temp staging first and insert from there.
func (b *builder) bulkLoad(m BulkLoad) ([]logical.Operation, error) {
	staged, ok := b.staging.(*logical.StagedFilesDataset)
	if !ok {
		return nil, fmt.Errorf("bulk load: staging is %T", b.staging)
	}
	schema := staged.Schema
	stagedNames := schema.FieldNames()

	fileValues := make([]logical.Value, 0, len(schema.Fields))
	for i, f := range schema.Fields {
		n := f.ColumnNumber
		if n == 0 {
			n = i + 1
		}
		fileValues = append(fileValues, &logical.StagedFilesFieldValue{ColumnNumber: n, Name: f.Name, Type: f.Type})
	}

	extras := func(src []logical.Value) ([]string, []logical.Value) {
		names := append([]string(nil), stagedNames...)
		vals := append([]logical.Value(nil), src...)
		if m.DigestField != "" {
			names = append(names, m.DigestField)
			vals = append(vals, &logical.DigestUdf{UdfName: m.DigestUDF, FieldNames: stagedNames, Values: src})
		}
		if m.BatchIDField != "" {
			names = append(names, m.BatchIDField)
			vals = append(vals, &logical.BatchIDValue{TableName: b.main.Name})
		}
		return auditValues(m.Auditing, names, vals)
	}

	if b.opts.Capabilities.Has(sink.TransformWhileCopy) {
		names, vals := extras(fileValues)
		return []logical.Operation{&logical.Copy{
			Target: b.main,
			Source: &logical.StagedFilesSelection{Source: staged, Fields: vals},
			Fields: fieldValues(names),
		}}, nil
	}

	temp := &logical.DatasetDefinition{
		Database: b.main.Database,
		Group:    b.main.Group,
		Name:     b.main.Name + logical.TempStagingSuffix,
		Alias:    logical.StagingAlias,
		Schema:   logical.TempStagingFor(staged).Schema,
	}
	b.scratch = append(b.scratch, temp)
	names, vals := extras(cols(logical.StagingAlias, stagedNames))
	return []logical.Operation{
		&logical.Delete{Dataset: temp},
		&logical.Copy{
			Target: temp,
			Source: &logical.StagedFilesSelection{Source: staged, Fields: fileValues},
			Fields: fieldValues(stagedNames),
		},
		&logical.Insert{
			Target: b.main,
			Fields: fieldValues(names),
			Source: &logical.Selection{Source: temp, Fields: vals},
		},
	}, nil
}
