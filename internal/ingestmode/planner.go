package ingestmode

import (
	"fmt"
	"slices"

	"ingest/internal/logical"
	"ingest/internal/sink"
)

// StatisticName names one ingestion counter.
type StatisticName string

const (
	IncomingRecordCount StatisticName = "INCOMING_RECORD_COUNT"
	RowsInserted        StatisticName = "ROWS_INSERTED"
	RowsUpdated         StatisticName = "ROWS_UPDATED"
	RowsDeleted         StatisticName = "ROWS_DELETED"
	RowsTerminated      StatisticName = "ROWS_TERMINATED"
	RowsWithErrors      StatisticName = "ROWS_WITH_ERRORS"
	FilesLoaded         StatisticName = "FILES_LOADED"
)

// ErrorCheck names a query run against temp staging before the merge.
type ErrorCheck string

const (
	MaxDuplicates ErrorCheck = "MAX_DUPLICATES"
	MaxDataErrors ErrorCheck = "MAX_DATA_ERRORS"
)

// Options are the planner switches that come from the ingestor options.
type Options struct {
	CleanupStagingData   bool
	CollectStatistics    bool
	CreateStagingDataset bool
	// SampleRowCount bounds the duplicate and data error samples.
	SampleRowCount int
	// Capabilities of the target sink; BulkLoad reads TRANSFORM_WHILE_COPY.
	Capabilities sink.Capabilities
}

// Plans is everything one ingestion run executes, in execution order.
type Plans struct {
	// Datasets are the effective datasets: main with the maintained
	// columns, staging and temp staging aliased for the merge.
	Datasets logical.Datasets

	PreActions                 logical.Plan
	DeduplicationAndVersioning logical.Plan
	ErrorChecks                map[ErrorCheck]*logical.Selection
	DuplicateSample            *logical.Selection
	DataErrorSample            *logical.Selection
	PreIngestStatistics        map[StatisticName]*logical.Selection
	Ingest                     logical.Plan
	PostIngestStatistics       map[StatisticName]*logical.Selection
	MetadataIngest             logical.Plan
	PostActions                logical.Plan
	PostCleanup                logical.Plan

	// MainRowCount is set when ROWS_INSERTED is derived from the main row
	// count before and after the merge (plus ROWS_DELETED).
	MainRowCount *logical.Selection

	// DataSplitField is set for ALL_VERSIONS; Ingest then carries data
	// split placeholders and runs once per value returned by DataSplits.
	DataSplitField string
	DataSplits     *logical.Selection

	// NextBatchID reads the batch id this run will record.
	NextBatchID *logical.Selection
}

// Planner turns an ingest mode into Plans.
type Planner struct {
	Mode    IngestMode
	Options Options
}

// Plan validates the mode against ds and builds every plan of a run.
//
// Edge cases:
//   - A main without fields takes its business columns from staging.
//   - Temp staging is created when deduplication or versioning has work to
//     do; otherwise the merge reads staging directly.
//
// Errors:
//   - *ValidationError when the mode does not fit the datasets.
func (p Planner) Plan(ds logical.Datasets) (Plans, error) {
	if err := Validate(p.Mode, ds); err != nil {
		return Plans{}, err
	}
	b := newBuilder(p.Mode, p.Options, ds)

	var ingest []logical.Operation
	var err error
	switch m := p.Mode.(type) {
	case NontemporalSnapshot:
		ingest = b.nontemporalSnapshot(m)
	case AppendOnly:
		ingest = b.appendOnly(m)
	case NontemporalDelta:
		ingest = b.nontemporalDelta(m)
	case UnitemporalDelta:
		ingest = b.unitemporalDelta(m)
	case UnitemporalSnapshot:
		ingest = b.unitemporalSnapshot(m)
	case BitemporalDelta:
		ingest = b.bitemporalDelta(m)
	case BitemporalSnapshot:
		ingest = b.bitemporalSnapshot(m)
	case BulkLoad:
		ingest, err = b.bulkLoad(m)
	default:
		err = fmt.Errorf("ingest mode %T has no planner", m)
	}
	if err != nil {
		return Plans{}, err
	}

	out := Plans{
		Datasets:                   logical.Datasets{Main: b.main, Staging: b.staging, TempStaging: b.temp, Metadata: b.metadata},
		PreActions:                 b.preActions(),
		DeduplicationAndVersioning: b.dedupPlan,
		ErrorChecks:                b.errorChecks(),
		DuplicateSample:            b.duplicateSample(),
		DataErrorSample:            b.dataErrorSample(),
		Ingest:                     logical.NewPlan(ingest...),
		MetadataIngest:             logical.NewPlan(b.metadataInsert()),
		PostActions:                b.postActions(),
		PostCleanup:                b.postCleanup(),
		DataSplitField:             b.splitField,
		NextBatchID: &logical.Selection{Fields: []logical.Value{
			&logical.BatchIDValue{TableName: b.main.Name, Alias: "table_batch_id"},
		}},
	}
	if b.splitField != "" {
		out.DataSplits = &logical.Selection{
			Source:   b.source(),
			Fields:   []logical.Value{logical.Col(logical.StagingAlias, b.splitField)},
			Distinct: true,
		}
	}
	if p.Options.CollectStatistics {
		b.statistics(&out)
	}
	return out, nil
}

// builder holds the effective datasets while one Plans is assembled.
type builder struct {
	mode IngestMode
	opts Options

	main     *logical.DatasetDefinition
	staging  logical.Dataset
	temp     *logical.DatasetDefinition
	metadata *logical.DatasetDefinition
	// extra temp tables created and dropped by the mode
	scratch []*logical.DatasetDefinition

	pks        []string
	digest     string
	splitField string
	dedupPlan  logical.Plan
}

func newBuilder(m IngestMode, opts Options, ds logical.Datasets) *builder {
	b := &builder{
		mode:     m,
		opts:     opts,
		staging:  withAlias(ds.Staging, logical.StagingAlias),
		metadata: ds.MetadataOrDefault(),
		pks:      ds.Staging.SchemaDef().PrimaryKeys(),
		digest:   digestOf(m),
	}
	b.main = enrichMain(m, ds.Main, ds.Staging.SchemaDef()).WithAlias(logical.MainAlias)
	b.splitField = m.Policy().Versioning.SplitField()
	if _, ok := m.(BulkLoad); !ok {
		b.buildTempStaging()
	}
	return b
}

func withAlias(d logical.Dataset, alias string) logical.Dataset {
	switch t := d.(type) {
	case *logical.DatasetDefinition:
		return t.WithAlias(alias)
	case *logical.DatasetReference:
		cp := *t
		cp.Alias = alias
		return &cp
	case *logical.Selection:
		cp := *t
		cp.Alias = alias
		return &cp
	case *logical.StagedFilesDataset:
		cp := *t
		cp.Alias = alias
		return &cp
	}
	return d
}

// enrichMain adds the maintained columns to main. A main without fields
// takes its business columns from staging.
func enrichMain(m IngestMode, main *logical.DatasetDefinition, staging logical.SchemaDefinition) *logical.DatasetDefinition {
	schema := main.Schema
	if len(schema.Fields) == 0 {
		var fields []logical.Field
		for _, name := range writtenStagingFields(m, staging) {
			f, _ := staging.Field(name)
			fields = append(fields, f)
		}
		schema = schema.WithFields(fields)
	}
	maintained := maintainedFields(m)
	if a, ok := m.(AppendOnly); ok && a.Auditing.Field != "" && len(staging.PrimaryKeys()) > 0 {
		// the same key may be appended again by a later batch
		maintained[0].PrimaryKey = true
		maintained[0].Nullable = false
	}
	return main.WithSchema(schema.AddFields(maintained...))
}

// source is the dataset the merge reads: temp staging when one exists.
func (b *builder) source() logical.Dataset {
	if b.temp != nil {
		return b.temp
	}
	return b.staging
}

func cols(qualifier string, names []string) []logical.Value {
	out := make([]logical.Value, 0, len(names))
	for _, n := range names {
		out = append(out, logical.Col(qualifier, n))
	}
	return out
}

func fieldValues(names []string) []*logical.FieldValue {
	out := make([]*logical.FieldValue, 0, len(names))
	for _, n := range names {
		out = append(out, logical.Col("", n))
	}
	return out
}

// keysMatch is a.k = b.k for every key.
func keysMatch(keys []string, a, b string) logical.Condition {
	var conds []logical.Condition
	for _, k := range keys {
		conds = append(conds, logical.Equals(logical.Col(a, k), logical.Col(b, k)))
	}
	return logical.AllOf(conds...)
}

// splitRange restricts the source to the current data split.
func (b *builder) splitRange() logical.Condition {
	if b.splitField == "" {
		return nil
	}
	split := logical.Col(logical.StagingAlias, b.splitField)
	return logical.AllOf(
		logical.Compare(logical.Gte, split, &logical.Placeholder{Key: logical.DataSplitLowerBound}),
		logical.Compare(logical.Lte, split, &logical.Placeholder{Key: logical.DataSplitUpperBound}),
	)
}

// buildTempStaging plans the deduplication and versioning of staging into
// temp staging, or leaves temp nil when the policy needs none.
func (b *builder) buildTempStaging() {
	policy := b.mode.Policy()
	if !policy.NeedsTempStaging() {
		return
	}
	const q = logical.StagingAlias
	fields := b.staging.SchemaDef().FieldNames()
	var extra []logical.Field
	var sel *logical.Selection

	if policy.Deduplication != AllowDuplicates {
		if others := b.nonKeyFields(fields); policy.Versioning.Kind == NoVersioning && len(b.pks) > 0 && len(others) > 0 {
			sel = b.dedupByKey(fields, others)
		} else {
			sel = &logical.Selection{
				Source:  b.staging,
				Fields:  append(cols(q, fields), logical.Fn(logical.FnCount, &logical.All{}).As(logical.CountColumn)),
				GroupBy: cols(q, fields),
			}
		}
		fields = append(fields, logical.CountColumn)
		extra = append(extra, logical.Field{Name: logical.CountColumn, Type: logical.TypeOf(logical.Integer), Nullable: true})
	}

	ver := policy.Versioning
	if ver.Kind != NoVersioning && ver.PerformVersioning {
		var inner logical.Dataset = b.staging
		if sel != nil {
			sel.Alias = q
			inner = sel
		}
		rank := func(desc bool, alias string) *logical.WindowFunction {
			return &logical.WindowFunction{
				Function:    logical.Fn(logical.FnDenseRank),
				PartitionBy: cols(q, b.pks),
				OrderBy:     []logical.Ordering{{Value: logical.Col(q, ver.Field), Desc: desc}},
				Alias:       alias,
			}
		}
		switch ver.Kind {
		case MaxVersion:
			ranked := &logical.Selection{
				Source: inner,
				Fields: append(cols(q, fields), rank(true, logical.RankColumn)),
				Alias:  q,
			}
			sel = &logical.Selection{
				Source: ranked,
				Fields: cols(q, fields),
				Where:  logical.Equals(logical.Col(q, logical.RankColumn), logical.Lit(1)),
			}
		case AllVersions:
			sel = &logical.Selection{
				Source: inner,
				Fields: append(cols(q, fields), rank(false, b.splitField)),
			}
			fields = append(fields, b.splitField)
			extra = append(extra, logical.Field{Name: b.splitField, Type: logical.TypeOf(logical.Integer), Nullable: true})
		}
	}

	temp := logical.TempStagingFor(b.staging, extra...)
	if temp.Name == logical.TempStagingSuffix {
		// staging is a derived selection without a name of its own
		temp = temp.WithName(b.main.Name + logical.TempStagingSuffix)
		temp.Database, temp.Group = b.main.Database, b.main.Group
	}
	b.temp = temp
	b.dedupPlan = logical.NewPlan(
		&logical.Delete{Dataset: temp},
		&logical.Insert{Target: temp, Fields: fieldValues(fields), Source: sel},
	)
}

func (b *builder) nonKeyFields(fields []string) []string {
	var out []string
	for _, f := range fields {
		if !slices.Contains(b.pks, f) {
			out = append(out, f)
		}
	}
	return out
}

// dedupByKey groups unversioned staging rows by primary key: rows sharing
// a key are one group whatever their other columns hold. The group keeps
// its lowest row in the order of the non-key columns.
func (b *builder) dedupByKey(fields, others []string) *logical.Selection {
	const q = logical.StagingAlias
	order := make([]logical.Ordering, 0, len(others))
	for _, f := range others {
		order = append(order, logical.Ordering{Value: logical.Col(q, f)})
	}
	counted := &logical.Selection{
		Source: b.staging,
		Fields: append(cols(q, fields),
			&logical.WindowFunction{
				Function:    logical.Fn(logical.FnCount, &logical.All{}),
				PartitionBy: cols(q, b.pks),
				Alias:       logical.CountColumn,
			},
			&logical.WindowFunction{
				Function:    logical.Fn(logical.FnRowNumber),
				PartitionBy: cols(q, b.pks),
				OrderBy:     order,
				Alias:       logical.RankColumn,
			}),
		Alias: q,
	}
	return &logical.Selection{
		Source: counted,
		Fields: cols(q, append(slices.Clone(fields), logical.CountColumn)),
		Where:  logical.Equals(logical.Col(q, logical.RankColumn), logical.Lit(1)),
	}
}

func (b *builder) errorChecks() map[ErrorCheck]*logical.Selection {
	if b.temp == nil {
		return nil
	}
	const q = logical.StagingAlias
	out := map[ErrorCheck]*logical.Selection{}
	policy := b.mode.Policy()
	if policy.Deduplication == FailOnDuplicates {
		out[MaxDuplicates] = &logical.Selection{
			Source: b.temp,
			Fields: []logical.Value{logical.Fn(logical.FnMax, logical.Col(q, logical.CountColumn)).As(string(MaxDuplicates))},
		}
	}
	if groups := b.dataErrorGroups(); groups != nil {
		out[MaxDataErrors] = &logical.Selection{
			Source: groups,
			Fields: []logical.Value{logical.Fn(logical.FnMax, logical.Col(q, logical.DistinctRowsColumn)).As(string(MaxDataErrors))},
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// dataErrorGroups counts distinct rows per key and version in temp
// staging. More than one means two different rows claim the same version.
func (b *builder) dataErrorGroups() *logical.Selection {
	ver := b.mode.Policy().Versioning
	if b.temp == nil || ver.Kind == NoVersioning || !ver.PerformVersioning {
		return nil
	}
	const q = logical.StagingAlias
	counted := logical.Fn(logical.FnCount, &logical.All{})
	if b.digest != "" {
		counted = logical.Fn(logical.FnCountDistinct, logical.Col(q, b.digest))
	}
	keys := append(slices.Clone(b.pks), ver.Field)
	return &logical.Selection{
		Source:  b.temp,
		Fields:  append(cols(q, keys), counted.As(logical.DistinctRowsColumn)),
		GroupBy: cols(q, keys),
		Alias:   q,
	}
}

func (b *builder) duplicateSample() *logical.Selection {
	if b.temp == nil || b.mode.Policy().Deduplication != FailOnDuplicates {
		return nil
	}
	const q = logical.StagingAlias
	return &logical.Selection{
		Source: b.temp,
		Fields: cols(q, append(b.staging.SchemaDef().FieldNames(), logical.CountColumn)),
		Where:  logical.Compare(logical.Gt, logical.Col(q, logical.CountColumn), logical.Lit(1)),
		Limit:  b.sampleRows(),
	}
}

func (b *builder) dataErrorSample() *logical.Selection {
	groups := b.dataErrorGroups()
	if groups == nil {
		return nil
	}
	return &logical.Selection{
		Source: groups,
		Where:  logical.Compare(logical.Gt, logical.Col(logical.StagingAlias, logical.DistinctRowsColumn), logical.Lit(1)),
		Limit:  b.sampleRows(),
	}
}

func (b *builder) sampleRows() int {
	if b.opts.SampleRowCount > 0 {
		return b.opts.SampleRowCount
	}
	return 20
}

func (b *builder) preActions() logical.Plan {
	ops := []logical.Operation{
		&logical.Create{Dataset: b.main, IfNotExists: true},
		&logical.Create{Dataset: b.metadata, IfNotExists: true},
	}
	if staging, ok := b.staging.(*logical.DatasetDefinition); ok && b.opts.CreateStagingDataset {
		ops = append(ops, &logical.Create{Dataset: staging, IfNotExists: true})
	}
	if b.temp != nil {
		ops = append(ops, &logical.Create{Dataset: b.temp, IfNotExists: true})
	}
	for _, s := range b.scratch {
		ops = append(ops, &logical.Create{Dataset: s, IfNotExists: true})
	}
	return logical.NewPlan(ops...)
}

func (b *builder) postActions() logical.Plan {
	staging, ok := b.staging.(*logical.DatasetDefinition)
	if !ok || !b.opts.CleanupStagingData {
		return logical.Plan{}
	}
	return logical.NewPlan(&logical.Delete{Dataset: staging})
}

func (b *builder) postCleanup() logical.Plan {
	var ops []logical.Operation
	if b.temp != nil {
		ops = append(ops, &logical.Drop{Dataset: b.temp, IfExists: true})
	}
	for _, s := range b.scratch {
		ops = append(ops, &logical.Drop{Dataset: s, IfExists: true})
	}
	return logical.NewPlan(ops...)
}

// metadataInsert records the batch in the metadata dataset.
func (b *builder) metadataInsert() logical.Operation {
	return &logical.Insert{
		Target: b.metadata,
		Fields: fieldValues([]string{"table_name", "table_batch_id", "batch_start_ts_utc", "batch_end_ts_utc", "batch_status"}),
		Source: &logical.Selection{Fields: []logical.Value{
			logical.Lit(b.main.Name),
			&logical.BatchIDValue{TableName: b.main.Name},
			&logical.BatchStartTimestamp{},
			&logical.BatchEndTimestamp{},
			logical.Lit("DONE"),
		}},
	}
}

// auditValues appends the audit column to a field/value list.
func auditValues(a Auditing, names []string, vals []logical.Value) ([]string, []logical.Value) {
	if a.Field == "" {
		return names, vals
	}
	return append(names, a.Field), append(vals, &logical.BatchStartTimestamp{})
}

// written are the source columns copied into main.
func (b *builder) written() []string {
	return writtenStagingFields(b.mode, b.staging.SchemaDef())
}

// deleted is the delete indicator test on the source row.
func deleted(d *DeleteIndicator) logical.Condition {
	if d == nil {
		return nil
	}
	vals := make([]logical.Value, 0, len(d.Values))
	for _, v := range d.Values {
		vals = append(vals, logical.Lit(v))
	}
	return &logical.In{Value: logical.Col(logical.StagingAlias, d.Field), Values: vals}
}

func notDeleted(d *DeleteIndicator) logical.Condition {
	c := deleted(d)
	if c == nil {
		return nil
	}
	return &logical.Not{Condition: c}
}

// supersedes holds when the source row replaces the main row with the
// same key.
func (b *builder) supersedes(ver Versioning) logical.Condition {
	const s, m = logical.StagingAlias, logical.MainAlias
	switch {
	case ver.Kind == NoVersioning || ver.Resolver == DigestBased:
		return logical.Compare(logical.NotEq, logical.Col(m, b.digest), logical.Col(s, b.digest))
	case ver.Resolver == GreaterThanActiveVersion:
		return logical.Compare(logical.Gt, logical.Col(s, ver.Field), logical.Col(m, ver.Field))
	default:
		return logical.Compare(logical.Gte, logical.Col(s, ver.Field), logical.Col(m, ver.Field))
	}
}

// count is SELECT COUNT(*) FROM d WHERE where, as a scalar sub-select.
func count(d logical.Dataset, where logical.Condition) *logical.SelectValue {
	return &logical.SelectValue{Selection: &logical.Selection{
		Source: d,
		Fields: []logical.Value{logical.Fn(logical.FnCount, &logical.All{})},
		Where:  where,
	}}
}

func scalar(v logical.Value, name StatisticName) *logical.Selection {
	switch t := v.(type) {
	case *logical.SelectValue:
		cp := *t
		cp.Alias = string(name)
		v = &cp
	case *logical.Arithmetic:
		cp := *t
		cp.Alias = string(name)
		v = &cp
	}
	return &logical.Selection{Fields: []logical.Value{v}}
}

func (b *builder) statistics(out *Plans) {
	out.PreIngestStatistics = map[StatisticName]*logical.Selection{}
	out.PostIngestStatistics = map[StatisticName]*logical.Selection{}
	if _, ok := b.mode.(BulkLoad); ok {
		out.MainRowCount = scalar(count(b.main, nil), RowsInserted)
		return
	}
	out.PreIngestStatistics[IncomingRecordCount] = scalar(count(b.staging, nil), IncomingRecordCount)

	const s, m = logical.StagingAlias, logical.MainAlias
	switch t := b.mode.(type) {
	case NontemporalSnapshot:
		out.MainRowCount = scalar(count(b.main, nil), RowsInserted)
		out.PreIngestStatistics[RowsDeleted] = scalar(count(b.main, nil), RowsDeleted)
	case AppendOnly:
		out.MainRowCount = scalar(count(b.main, nil), RowsInserted)
	case NontemporalDelta:
		out.MainRowCount = scalar(count(b.main, nil), RowsInserted)
		changed := &logical.Exists{Selection: &logical.Selection{
			Source: b.source(),
			Where:  logical.AllOf(keysMatch(b.pks, m, s), b.supersedes(t.Versioning), notDeleted(t.DeleteIndicator)),
		}}
		out.PreIngestStatistics[RowsUpdated] = scalar(count(b.main, changed), RowsUpdated)
		if t.DeleteIndicator != nil {
			gone := &logical.Exists{Selection: &logical.Selection{
				Source: b.source(),
				Where:  logical.AllOf(keysMatch(b.pks, m, s), deleted(t.DeleteIndicator)),
			}}
			out.PreIngestStatistics[RowsDeleted] = scalar(count(b.main, gone), RowsDeleted)
		}
	case UnitemporalDelta:
		b.milestonedStatistics(out, t.Milestoning, b.pks)
	case UnitemporalSnapshot:
		b.milestonedStatistics(out, t.Milestoning, b.pks)
	case BitemporalDelta:
		b.milestonedStatistics(out, t.Milestoning, b.pks)
	case BitemporalSnapshot:
		b.milestonedStatistics(out, t.Milestoning, b.pks)
	}
}

// milestonedStatistics counts rows opened and closed by this batch. An
// update is a closed row whose key was reopened in the same batch.
func (b *builder) milestonedStatistics(out *Plans, ms TransactionMilestoning, keys []string) {
	ms = ms.withDefaults()
	const m, m2 = logical.MainAlias, "sink2"
	other := b.main.WithAlias(m2)
	opened := func(q string) logical.Condition {
		if ms.usesBatchID() {
			return logical.Equals(logical.Col(q, ms.BatchIDIn), &logical.BatchIDValue{TableName: b.main.Name})
		}
		return logical.Equals(logical.Col(q, ms.DateTimeIn), &logical.BatchStartTimestamp{})
	}
	var closed logical.Condition
	if ms.usesBatchID() {
		closed = logical.Equals(logical.Col(m, ms.BatchIDOut), b.previousBatchID())
	} else {
		closed = logical.Equals(logical.Col(m, ms.DateTimeOut), &logical.BatchStartTimestamp{})
	}
	updated := count(b.main, logical.AllOf(closed, &logical.Exists{Selection: &logical.Selection{
		Source: other,
		Where:  logical.AllOf(keysMatch(keys, m, m2), opened(m2)),
	}}))
	out.PostIngestStatistics[RowsUpdated] = scalar(updated, RowsUpdated)
	out.PostIngestStatistics[RowsTerminated] = scalar(&logical.Arithmetic{Op: logical.Minus, Left: count(b.main, closed), Right: updated}, RowsTerminated)
	out.PostIngestStatistics[RowsInserted] = scalar(&logical.Arithmetic{Op: logical.Minus, Left: count(b.main, opened(m)), Right: updated}, RowsInserted)
}

func (b *builder) previousBatchID() logical.Value {
	return &logical.Arithmetic{Op: logical.Minus, Left: &logical.BatchIDValue{TableName: b.main.Name}, Right: logical.Lit(1)}
}
