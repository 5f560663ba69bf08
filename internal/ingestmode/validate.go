package ingestmode

import (
	"fmt"
	"slices"

	"ingest/internal/logical"
)

// ValidationError reports an ingest mode that cannot run against the given
// datasets.
type ValidationError struct {
	Mode   string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.Mode, e.Reason)
	}
	return fmt.Sprintf("%s: field %q: %s", e.Mode, e.Field, e.Reason)
}

// Validate checks mode against main and staging before any plan is built.
// main is the declared main dataset; the columns the mode maintains may be
// absent from it.
func Validate(m IngestMode, ds logical.Datasets) error {
	if m == nil {
		return &ValidationError{Mode: "<nil>", Reason: "ingest mode is required"}
	}
	v := validator{mode: m}
	if ds.Main == nil || ds.Main.Name == "" {
		return v.fail("", "main dataset is required")
	}
	if ds.Staging == nil {
		return v.fail("", "staging dataset is required")
	}
	if err := ds.Main.Schema.Validate(); err != nil {
		return v.fail("", "main: "+err.Error())
	}
	staging := ds.Staging.SchemaDef()
	if len(staging.Fields) == 0 {
		return v.fail("", "staging dataset has no fields")
	}
	if err := staging.Validate(); err != nil {
		return v.fail("", "staging: "+err.Error())
	}

	if bl, ok := m.(BulkLoad); ok {
		return v.bulkLoad(bl, ds)
	}
	if _, ok := ds.Staging.(*logical.StagedFilesDataset); ok {
		return v.fail("", "staged files can only be ingested with BulkLoad")
	}

	pks := staging.PrimaryKeys()
	if err := v.policy(m.Policy(), staging, pks); err != nil {
		return err
	}
	if err := v.keysMatch(ds.Main.Schema, pks); err != nil {
		return err
	}
	for _, f := range maintainedFields(m) {
		if staging.Has(f.Name) {
			return v.fail(f.Name, "column is maintained by the ingest mode and must not be in staging")
		}
	}
	if d := digestOf(m); d != "" && !staging.Has(d) {
		return v.fail(d, "digest field does not exist in staging")
	}

	switch t := m.(type) {
	case NontemporalSnapshot:
		if t.Versioning.Kind == AllVersions {
			return v.fail(t.Versioning.Field, "snapshot modes do not support ALL_VERSIONS")
		}
	case AppendOnly:
		if t.FilterExistingRecords {
			if t.DigestField == "" {
				return v.fail("", "filtering existing records requires a digest field")
			}
			if len(pks) == 0 {
				return v.fail("", "filtering existing records requires primary keys")
			}
		}
	case NontemporalDelta:
		if len(pks) == 0 {
			return v.fail("", "primary keys are required")
		}
		if t.DigestField == "" && t.Versioning.Resolver == DigestBased {
			return v.fail("", "digest field is required")
		}
		if err := v.deleteIndicator(t.DeleteIndicator, staging); err != nil {
			return err
		}
	case UnitemporalDelta:
		if err := v.temporal(t.DigestField, t.Milestoning, t.Policy(), pks); err != nil {
			return err
		}
		if err := v.deleteIndicator(t.DeleteIndicator, staging); err != nil {
			return err
		}
	case UnitemporalSnapshot:
		if err := v.temporal(t.DigestField, t.Milestoning, t.Policy(), pks); err != nil {
			return err
		}
		if t.Versioning.Kind == AllVersions {
			return v.fail(t.Versioning.Field, "snapshot modes do not support ALL_VERSIONS")
		}
		for _, p := range t.PartitionFields {
			if !staging.Has(p) {
				return v.fail(p, "partition field does not exist in staging")
			}
		}
	case BitemporalDelta:
		if err := v.temporal(t.DigestField, t.Milestoning, t.Policy(), pks); err != nil {
			return err
		}
		if t.Validity.SourceFrom == "" || !staging.Has(t.Validity.SourceFrom) {
			return v.fail(t.Validity.SourceFrom, "validity source field does not exist in staging")
		}
		if t.Validity.SourceThru != "" {
			return v.fail(t.Validity.SourceThru, "bitemporal delta derives the validity end; only a source from field is allowed")
		}
	case BitemporalSnapshot:
		if err := v.temporal(t.DigestField, t.Milestoning, t.Policy(), pks); err != nil {
			return err
		}
		if t.Versioning.Kind == AllVersions {
			return v.fail(t.Versioning.Field, "snapshot modes do not support ALL_VERSIONS")
		}
		for _, f := range []string{t.Validity.SourceFrom, t.Validity.SourceThru} {
			if f == "" || !staging.Has(f) {
				return v.fail(f, "validity source field does not exist in staging")
			}
		}
	default:
		return v.fail("", fmt.Sprintf("unknown ingest mode %T", m))
	}

	if len(ds.Main.Schema.Fields) > 0 {
		mainIgnored, _ := IgnoredFields(m)
		main := ds.Main.Schema
		for _, name := range writtenStagingFields(m, staging) {
			if !main.Has(name) && !slices.Contains(mainIgnored, name) {
				return v.fail(name, "field of staging does not exist in main")
			}
		}
	}
	return nil
}

type validator struct{ mode IngestMode }

func (v validator) fail(field, reason string) error {
	return &ValidationError{Mode: v.mode.Name(), Field: field, Reason: reason}
}

func (v validator) policy(p StagingPolicy, staging logical.SchemaDefinition, pks []string) error {
	ver := p.Versioning
	if ver.Kind == NoVersioning {
		return nil
	}
	if ver.Field == "" {
		return v.fail("", "versioning field is required")
	}
	f, ok := staging.Field(ver.Field)
	if !ok {
		return v.fail(ver.Field, "versioning field does not exist in staging")
	}
	if f.PrimaryKey {
		return v.fail(ver.Field, "versioning field cannot be a primary key")
	}
	if !f.Type.DataType.IsComparable() {
		return v.fail(ver.Field, fmt.Sprintf("versioning field type %s is not comparable", f.Type))
	}
	if len(pks) == 0 {
		return v.fail("", "versioning requires primary keys")
	}
	if ver.Kind == AllVersions {
		split := ver.SplitField()
		switch {
		case ver.PerformVersioning && staging.Has(split):
			return v.fail(split, "data split field is computed and must not be in staging")
		case !ver.PerformVersioning && !staging.Has(split):
			return v.fail(split, "data split field does not exist in staging")
		}
	}
	return nil
}

// keysMatch compares the business keys of main with the keys of staging.
// A main without primary keys is accepted; it will be enriched.
func (v validator) keysMatch(main logical.SchemaDefinition, stagingPKs []string) error {
	maintained := map[string]bool{}
	for _, f := range maintainedFields(v.mode) {
		maintained[f.Name] = true
	}
	var mainPKs []string
	for _, k := range main.PrimaryKeys() {
		if !maintained[k] {
			mainPKs = append(mainPKs, k)
		}
	}
	if len(mainPKs) == 0 {
		return nil
	}
	for _, k := range mainPKs {
		if !slices.Contains(stagingPKs, k) {
			return v.fail(k, "primary key of main is not a primary key of staging")
		}
	}
	for _, k := range stagingPKs {
		if !slices.Contains(mainPKs, k) {
			return v.fail(k, "primary key of staging is not a primary key of main")
		}
	}
	return nil
}

func (v validator) temporal(digest string, m TransactionMilestoning, p StagingPolicy, pks []string) error {
	if digest == "" {
		return v.fail("", "digest field is required")
	}
	if len(pks) == 0 {
		return v.fail("", "primary keys are required")
	}
	if m.Kind == TransactionDateTime && p.Versioning.Kind == AllVersions {
		return v.fail(p.Versioning.Field, "ALL_VERSIONS needs batch id milestoning; one batch time cannot open several versions")
	}
	return nil
}

func (v validator) deleteIndicator(d *DeleteIndicator, staging logical.SchemaDefinition) error {
	if d == nil {
		return nil
	}
	if !staging.Has(d.Field) {
		return v.fail(d.Field, "delete indicator field does not exist in staging")
	}
	if len(d.Values) == 0 {
		return v.fail(d.Field, "delete indicator needs at least one value")
	}
	return nil
}

func (v validator) bulkLoad(m BulkLoad, ds logical.Datasets) error {
	if _, ok := ds.Staging.(*logical.StagedFilesDataset); !ok {
		return v.fail("", "staging must be a staged files dataset")
	}
	if m.DigestField != "" && m.DigestUDF == "" {
		return v.fail(m.DigestField, "digest field requires a digest udf")
	}
	staging := ds.Staging.SchemaDef()
	for _, f := range maintainedFields(m) {
		if staging.Has(f.Name) {
			return v.fail(f.Name, "column is maintained by the ingest mode and must not be in staging")
		}
	}
	return nil
}

// IgnoredFields lists the columns schema evolution must leave alone: main
// columns staging never carries, and staging columns main never stores.
func IgnoredFields(m IngestMode) (main, staging []string) {
	for _, f := range maintainedFields(m) {
		main = append(main, f.Name)
		staging = append(staging, f.Name)
	}
	p := m.Policy()
	if split := p.Versioning.SplitField(); split != "" {
		staging = append(staging, split)
	}
	if d := deleteIndicatorOf(m); d != nil {
		main = append(main, d.Field)
		staging = append(staging, d.Field)
	}
	return main, staging
}

// writtenStagingFields are the staging columns copied into main.
func writtenStagingFields(m IngestMode, staging logical.SchemaDefinition) []string {
	_, ignored := IgnoredFields(m)
	var out []string
	for _, name := range staging.FieldNames() {
		if name == logical.CountColumn || slices.Contains(ignored, name) {
			continue
		}
		out = append(out, name)
	}
	return out
}

// maintainedFields are the main columns a mode writes itself.
func maintainedFields(m IngestMode) []logical.Field {
	audit := func(a Auditing) []logical.Field {
		if a.Field == "" {
			return nil
		}
		return []logical.Field{{Name: a.Field, Type: logical.TypeOf(logical.Datetime), Nullable: true}}
	}
	switch t := m.(type) {
	case NontemporalSnapshot:
		return audit(t.Auditing)
	case AppendOnly:
		return audit(t.Auditing)
	case NontemporalDelta:
		return audit(t.Auditing)
	case UnitemporalDelta:
		return milestoningFields(t.Milestoning)
	case UnitemporalSnapshot:
		return milestoningFields(t.Milestoning)
	case BitemporalDelta:
		return append(milestoningFields(t.Milestoning), validityFields(t.Validity)...)
	case BitemporalSnapshot:
		return append(milestoningFields(t.Milestoning), validityFields(t.Validity)...)
	case BulkLoad:
		out := audit(t.Auditing)
		if t.DigestField != "" {
			out = append(out, logical.Field{Name: t.DigestField, Type: logical.TypeOf(logical.Varchar), Nullable: true})
		}
		if t.BatchIDField != "" {
			out = append(out, logical.Field{Name: t.BatchIDField, Type: logical.TypeOf(logical.Integer), Nullable: true})
		}
		return out
	}
	return nil
}

func milestoningFields(m TransactionMilestoning) []logical.Field {
	m = m.withDefaults()
	var out []logical.Field
	if m.usesBatchID() {
		out = append(out,
			logical.Field{Name: m.BatchIDIn, Type: logical.TypeOf(logical.Integer), PrimaryKey: true},
			logical.Field{Name: m.BatchIDOut, Type: logical.TypeOf(logical.Integer), Nullable: true},
		)
	}
	if m.usesDateTime() {
		out = append(out,
			logical.Field{Name: m.DateTimeIn, Type: logical.TypeOf(logical.Datetime), PrimaryKey: !m.usesBatchID(), Nullable: m.usesBatchID()},
			logical.Field{Name: m.DateTimeOut, Type: logical.TypeOf(logical.Datetime), Nullable: true},
		)
	}
	return out
}

func validityFields(v ValidityMilestoning) []logical.Field {
	v = v.withDefaults()
	return []logical.Field{
		{Name: v.FromTarget, Type: logical.TypeOf(logical.Datetime), PrimaryKey: true},
		{Name: v.ThruTarget, Type: logical.TypeOf(logical.Datetime), Nullable: true},
	}
}

func digestOf(m IngestMode) string {
	switch t := m.(type) {
	case AppendOnly:
		return t.DigestField
	case NontemporalDelta:
		return t.DigestField
	case UnitemporalDelta:
		return t.DigestField
	case UnitemporalSnapshot:
		return t.DigestField
	case BitemporalDelta:
		return t.DigestField
	case BitemporalSnapshot:
		return t.DigestField
	}
	return ""
}

func deleteIndicatorOf(m IngestMode) *DeleteIndicator {
	switch t := m.(type) {
	case NontemporalDelta:
		return t.DeleteIndicator
	case UnitemporalDelta:
		return t.DeleteIndicator
	}
	return nil
}
