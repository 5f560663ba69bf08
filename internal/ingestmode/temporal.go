package ingestmode

import (
	"slices"

	"ingest/internal/logical"
)

// openCondition holds for rows of main that are still current.
func openCondition(ms TransactionMilestoning, q string) logical.Condition {
	ms = ms.withDefaults()
	if ms.usesBatchID() {
		return logical.Equals(logical.Col(q, ms.BatchIDOut), &logical.InfiniteBatchID{})
	}
	return logical.Equals(logical.Col(q, ms.DateTimeOut), &logical.DatetimeValue{Value: logical.InfiniteBatchTime})
}

// closePairs are the SET pairs that close an open row in this batch.
func (b *builder) closePairs(ms TransactionMilestoning) []logical.Pair {
	ms = ms.withDefaults()
	var out []logical.Pair
	if ms.usesBatchID() {
		out = append(out, logical.Pair{Field: logical.Col(logical.MainAlias, ms.BatchIDOut), Value: b.previousBatchID()})
	}
	if ms.usesDateTime() {
		out = append(out, logical.Pair{Field: logical.Col(logical.MainAlias, ms.DateTimeOut), Value: &logical.BatchStartTimestamp{}})
	}
	return out
}

// openValues appends the columns that open a row in this batch.
func (b *builder) openValues(ms TransactionMilestoning, names []string, vals []logical.Value) ([]string, []logical.Value) {
	ms = ms.withDefaults()
	if ms.usesBatchID() {
		names = append(names, ms.BatchIDIn, ms.BatchIDOut)
		vals = append(vals, &logical.BatchIDValue{TableName: b.main.Name}, &logical.InfiniteBatchID{})
	}
	if ms.usesDateTime() {
		names = append(names, ms.DateTimeIn, ms.DateTimeOut)
		vals = append(vals, &logical.BatchStartTimestamp{}, &logical.DatetimeValue{Value: logical.InfiniteBatchTime})
	}
	return names, vals
}

// unitemporalDelta closes open rows that a source row supersedes or
// deletes, then opens source rows whose key has no open row left.
func (b *builder) unitemporalDelta(m UnitemporalDelta) []logical.Operation {
	const s, t = logical.StagingAlias, logical.MainAlias
	touched := &logical.Exists{Selection: &logical.Selection{
		Source: b.source(),
		Where: logical.AllOf(
			keysMatch(b.pks, t, s),
			logical.AnyOf(b.supersedes(m.Versioning), deleted(m.DeleteIndicator)),
			b.splitRange(),
		),
	}}
	milestone := &logical.Update{
		Dataset: b.main,
		Set:     b.closePairs(m.Milestoning),
		Where:   logical.AllOf(openCondition(m.Milestoning, t), touched),
	}

	names := b.written()
	insNames, vals := b.openValues(m.Milestoning, names, cols(s, names))
	stillOpen := &logical.Exists{Selection: &logical.Selection{
		Source: b.main,
		Where:  logical.AllOf(openCondition(m.Milestoning, t), keysMatch(b.pks, t, s)),
	}}
	insert := &logical.Insert{
		Target: b.main,
		Fields: fieldValues(insNames),
		Source: &logical.Selection{
			Source: b.source(),
			Fields: vals,
			Where:  logical.AllOf(&logical.Not{Condition: stillOpen}, notDeleted(m.DeleteIndicator), b.splitRange()),
		},
	}
	return []logical.Operation{milestone, insert}
}

// unitemporalSnapshot closes open rows whose digest is not in the source,
// then opens source rows whose digest has no open row.
func (b *builder) unitemporalSnapshot(m UnitemporalSnapshot) []logical.Operation {
	const s, t = logical.StagingAlias, logical.MainAlias
	sameDigest := logical.Equals(logical.Col(t, m.DigestField), logical.Col(s, m.DigestField))

	var partitions []logical.Condition
	for _, p := range m.PartitionFields {
		partitions = append(partitions, &logical.In{
			Value:     logical.Col(t, p),
			Selection: &logical.Selection{Source: b.source(), Fields: []logical.Value{logical.Col(s, p)}, Distinct: true},
		})
	}
	milestone := &logical.Update{
		Dataset: b.main,
		Set:     b.closePairs(m.Milestoning),
		Where: logical.AllOf(
			openCondition(m.Milestoning, t),
			&logical.Not{Condition: &logical.Exists{Selection: &logical.Selection{
				Source: b.source(),
				Where:  logical.AllOf(keysMatch(b.pks, t, s), sameDigest),
			}}},
			logical.AllOf(partitions...),
		),
	}

	names := b.written()
	insNames, vals := b.openValues(m.Milestoning, names, cols(s, names))
	insert := &logical.Insert{
		Target: b.main,
		Fields: fieldValues(insNames),
		Source: &logical.Selection{
			Source: b.source(),
			Fields: vals,
			Where: &logical.Not{Condition: &logical.Exists{Selection: &logical.Selection{
				Source: b.main,
				Where:  logical.AllOf(openCondition(m.Milestoning, t), sameDigest),
			}}},
		},
	}
	return []logical.Operation{milestone, insert}
}

// bitemporalSnapshot is unitemporalSnapshot keyed by the validity range;
// the source range is copied into the target validity columns.
func (b *builder) bitemporalSnapshot(m BitemporalSnapshot) []logical.Operation {
	const s, t = logical.StagingAlias, logical.MainAlias
	v := m.Validity.withDefaults()
	same := logical.AllOf(
		logical.Equals(logical.Col(t, m.DigestField), logical.Col(s, m.DigestField)),
		logical.Equals(logical.Col(t, v.FromTarget), logical.Col(s, v.SourceFrom)),
	)
	milestone := &logical.Update{
		Dataset: b.main,
		Set:     b.closePairs(m.Milestoning),
		Where: logical.AllOf(
			openCondition(m.Milestoning, t),
			&logical.Not{Condition: &logical.Exists{Selection: &logical.Selection{Source: b.source(), Where: same}}},
		),
	}

	names := b.written()
	vals := cols(s, names)
	names = append(names, v.FromTarget, v.ThruTarget)
	vals = append(vals, logical.Col(s, v.SourceFrom), logical.Col(s, v.SourceThru))
	insNames, insVals := b.openValues(m.Milestoning, names, vals)
	insert := &logical.Insert{
		Target: b.main,
		Fields: fieldValues(insNames),
		Source: &logical.Selection{
			Source: b.source(),
			Fields: insVals,
			Where: &logical.Not{Condition: &logical.Exists{Selection: &logical.Selection{
				Source: b.main,
				Where:  logical.AllOf(openCondition(m.Milestoning, t), same),
			}}},
		},
	}
	return []logical.Operation{milestone, insert}
}

// bitemporalDelta splices source rows into the open validity timeline of
// main. Staging only carries the validity start; each row is valid until
// the next start of the same key in staging or main.
//
//  1. Source rows go to a scratch table, valid until the next source start.
//  2. Their end is cut at the next open main start when that is earlier.
//  3. Open main rows that a source start falls inside are copied to the
//     scratch table, cut at the first such start.
//  4. Open main rows sharing a start with a scratch row are closed.
//  5. The scratch rows are inserted into main and the scratch table cleared.
func (b *builder) bitemporalDelta(m BitemporalDelta) []logical.Operation {
	const s, t, x = logical.StagingAlias, logical.MainAlias, logical.TempAlias
	v := m.Validity.withDefaults()
	keys := slices.DeleteFunc(slices.Clone(b.pks), func(k string) bool { return k == v.SourceFrom })
	scratch := b.main.WithName(b.main.Name + logical.TempSuffix).WithAlias(x)
	b.scratch = append(b.scratch, scratch)
	open := openCondition(m.Milestoning, t)
	src := b.source()

	// 1. source to scratch
	nextSourceStart := &logical.SelectValue{Selection: &logical.Selection{
		Source: withAlias(src, "stage2"),
		Fields: []logical.Value{logical.Fn(logical.FnMin, logical.Col("stage2", v.SourceFrom))},
		Where: logical.AllOf(
			keysMatch(keys, "stage2", s),
			logical.Compare(logical.Gt, logical.Col("stage2", v.SourceFrom), logical.Col(s, v.SourceFrom)),
			splitRangeOn("stage2", b.splitField),
		),
	}}
	names := b.written()
	vals := cols(s, names)
	names = append(names, v.FromTarget, v.ThruTarget)
	vals = append(vals,
		logical.Col(s, v.SourceFrom),
		logical.Fn(logical.FnCoalesce, nextSourceStart, &logical.DatetimeValue{Value: logical.InfiniteBatchTime}),
	)
	insNames, insVals := b.openValues(m.Milestoning, names, vals)
	sourceToScratch := &logical.Insert{
		Target: scratch,
		Fields: fieldValues(insNames),
		Source: &logical.Selection{Source: src, Fields: insVals, Where: b.splitRange()},
	}

	// 2. cut at the next open main start
	mainStartsInside := logical.AllOf(
		open,
		keysMatch(keys, t, x),
		logical.Compare(logical.Gt, logical.Col(t, v.FromTarget), logical.Col(x, v.FromTarget)),
		logical.Compare(logical.Lt, logical.Col(t, v.FromTarget), logical.Col(x, v.ThruTarget)),
	)
	cutScratch := &logical.Update{
		Dataset: scratch,
		Set: []logical.Pair{{
			Field: logical.Col(x, v.ThruTarget),
			Value: &logical.SelectValue{Selection: &logical.Selection{
				Source: b.main,
				Fields: []logical.Value{logical.Fn(logical.FnMin, logical.Col(t, v.FromTarget))},
				Where:  mainStartsInside,
			}},
		}},
		Where: &logical.Exists{Selection: &logical.Selection{Source: b.main, Where: mainStartsInside}},
	}

	// 3. split open main rows around the new starts
	sourceStartsInside := func(q string) logical.Condition {
		return logical.AllOf(
			keysMatch(keys, t, q),
			logical.Compare(logical.Gt, logical.Col(q, v.SourceFrom), logical.Col(t, v.FromTarget)),
			logical.Compare(logical.Lt, logical.Col(q, v.SourceFrom), logical.Col(t, v.ThruTarget)),
			splitRangeOn(q, b.splitField),
		)
	}
	sameStart := &logical.Exists{Selection: &logical.Selection{
		Source: src,
		Where: logical.AllOf(
			keysMatch(keys, t, s),
			logical.Equals(logical.Col(s, v.SourceFrom), logical.Col(t, v.FromTarget)),
			b.splitRange(),
		),
	}}
	mainNames := b.mainDataNames(m)
	mvals := cols(t, mainNames)
	mainNames = append(mainNames, v.FromTarget, v.ThruTarget)
	mvals = append(mvals,
		logical.Col(t, v.FromTarget),
		&logical.SelectValue{Selection: &logical.Selection{
			Source: src,
			Fields: []logical.Value{logical.Fn(logical.FnMin, logical.Col(s, v.SourceFrom))},
			Where:  sourceStartsInside(s),
		}},
	)
	mainInsNames, mainInsVals := b.openValues(m.Milestoning, mainNames, mvals)
	mainToScratch := &logical.Insert{
		Target: scratch,
		Fields: fieldValues(mainInsNames),
		Source: &logical.Selection{
			Source: b.main,
			Fields: mainInsVals,
			Where: logical.AllOf(
				open,
				&logical.Exists{Selection: &logical.Selection{Source: src, Where: sourceStartsInside(s)}},
				&logical.Not{Condition: sameStart},
			),
		},
	}

	// 4. close what the scratch rows replace
	closeMain := &logical.Update{
		Dataset: b.main,
		Set:     b.closePairs(m.Milestoning),
		Where: logical.AllOf(open, &logical.Exists{Selection: &logical.Selection{
			Source: scratch,
			Where: logical.AllOf(
				keysMatch(keys, t, x),
				logical.Equals(logical.Col(t, v.FromTarget), logical.Col(x, v.FromTarget)),
			),
		}}),
	}

	// 5. publish
	all := scratch.Schema.FieldNames()
	publish := &logical.Insert{
		Target: b.main,
		Fields: fieldValues(all),
		Source: &logical.Selection{Source: scratch, Fields: cols(x, all)},
	}
	return []logical.Operation{
		&logical.Delete{Dataset: scratch},
		sourceToScratch,
		cutScratch,
		mainToScratch,
		closeMain,
		publish,
		&logical.Delete{Dataset: scratch},
	}
}

// mainDataNames are the main columns carried over when an open row is
// split: everything except the validity and milestoning columns.
func (b *builder) mainDataNames(m BitemporalDelta) []string {
	skip := map[string]bool{}
	for _, f := range maintainedFields(m) {
		skip[f.Name] = true
	}
	var out []string
	for _, n := range b.main.Schema.FieldNames() {
		if !skip[n] {
			out = append(out, n)
		}
	}
	return out
}

func splitRangeOn(q, field string) logical.Condition {
	if field == "" {
		return nil
	}
	col := logical.Col(q, field)
	return logical.AllOf(
		logical.Compare(logical.Gte, col, &logical.Placeholder{Key: logical.DataSplitLowerBound}),
		logical.Compare(logical.Lte, col, &logical.Placeholder{Key: logical.DataSplitUpperBound}),
	)
}
