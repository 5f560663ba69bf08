package logical

import "strings"

// Naming constants shared by the planner and the dialects.
const (
	TempStagingSuffix   = "_legend_persistence_temp_staging"
	TempSuffix          = "_legend_persistence_temp"
	CountColumn         = "legend_persistence_count"
	RankColumn          = "legend_persistence_rank"
	DistinctRowsColumn  = "legend_persistence_distinct_rows"
	DefaultDataSplit    = "legend_persistence_data_split"
	DefaultMetadataName = "batch_metadata"

	MainAlias    = "sink"
	StagingAlias = "stage"
	TempAlias    = "temp"
)

// DatasetRef is the location of a table: optional database, optional group
// (schema / dataset) and name, plus the alias used in queries.
type DatasetRef struct {
	Database string
	Group    string
	Name     string
	Alias    string
}

// Parts returns the non-empty qualified name parts.
func (r DatasetRef) Parts() []string {
	out := make([]string, 0, 3)
	for _, p := range []string{r.Database, r.Group, r.Name} {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (r DatasetRef) String() string { return strings.Join(r.Parts(), ".") }

// Dataset is anything a query can read from or write to.
type Dataset interface {
	Node
	Ref() DatasetRef
	SchemaDef() SchemaDefinition
}

// DatasetDefinition is a table with a known schema.
type DatasetDefinition struct {
	Database string
	Group    string
	Name     string
	Alias    string
	Schema   SchemaDefinition
}

func (*DatasetDefinition) Kind() NodeKind { return KindDatasetDefinition }

func (d *DatasetDefinition) Ref() DatasetRef {
	return DatasetRef{Database: d.Database, Group: d.Group, Name: d.Name, Alias: d.Alias}
}

func (d *DatasetDefinition) SchemaDef() SchemaDefinition { return d.Schema }

// WithSchema returns a copy with a different schema.
func (d *DatasetDefinition) WithSchema(s SchemaDefinition) *DatasetDefinition {
	cp := *d
	cp.Schema = s
	return &cp
}

// WithAlias returns a copy with a different alias.
func (d *DatasetDefinition) WithAlias(alias string) *DatasetDefinition {
	cp := *d
	cp.Alias = alias
	return &cp
}

// WithName returns a copy with a different table name.
func (d *DatasetDefinition) WithName(name string) *DatasetDefinition {
	cp := *d
	cp.Name = name
	return &cp
}

// DatasetReference names a table whose schema is not known up front.
type DatasetReference struct {
	Database string
	Group    string
	Name     string
	Alias    string
}

func (*DatasetReference) Kind() NodeKind { return KindDatasetReference }

func (d *DatasetReference) Ref() DatasetRef {
	return DatasetRef{Database: d.Database, Group: d.Group, Name: d.Name, Alias: d.Alias}
}

func (*DatasetReference) SchemaDef() SchemaDefinition { return SchemaDefinition{} }

// FileFormat is the format of staged files.
type FileFormat string

const (
	FormatCSV  FileFormat = "CSV"
	FormatJSON FileFormat = "JSON"
)

// StagedFilesProperties describes files that a bulk load reads.
type StagedFilesProperties struct {
	// Location is the stage or bucket Paths and Patterns are relative to.
	// Engines that take absolute URIs leave it empty.
	Location       string
	Paths          []string
	Patterns       []string
	Format         FileFormat
	Delimiter      string
	SkipHeaderRows int
}

// StagedFilesDataset is a set of files used as a load source.
type StagedFilesDataset struct {
	Alias      string
	Properties StagedFilesProperties
	Schema     SchemaDefinition
}

func (*StagedFilesDataset) Kind() NodeKind { return KindStagedFilesDataset }

func (d *StagedFilesDataset) Ref() DatasetRef {
	name := ""
	if len(d.Properties.Paths) > 0 {
		name = d.Properties.Paths[0]
	}
	return DatasetRef{Name: name, Alias: d.Alias}
}

func (d *StagedFilesDataset) SchemaDef() SchemaDefinition { return d.Schema }

// StagedFilesSelection projects values out of staged files.
type StagedFilesSelection struct {
	Source *StagedFilesDataset
	Fields []Value
	Alias  string
}

func (*StagedFilesSelection) Kind() NodeKind { return KindStagedFilesSelection }

func (s *StagedFilesSelection) Ref() DatasetRef { return DatasetRef{Alias: s.Alias} }

func (s *StagedFilesSelection) SchemaDef() SchemaDefinition {
	if s.Source == nil {
		return SchemaDefinition{}
	}
	return s.Source.Schema
}

// Selection is a query. It is a Dataset (usable as a sub-select source) and
// an Operation (usable as a top-level query).
type Selection struct {
	Source   Dataset
	Fields   []Value
	Where    Condition
	GroupBy  []Value
	Distinct bool
	Alias    string
	Limit    int // 0 means no limit
}

func (*Selection) Kind() NodeKind { return KindSelection }
func (*Selection) operation()     {}

func (s *Selection) Ref() DatasetRef { return DatasetRef{Alias: s.Alias} }

func (s *Selection) SchemaDef() SchemaDefinition {
	if s.Source == nil {
		return SchemaDefinition{}
	}
	return s.Source.SchemaDef()
}

// Datasets is the immutable bundle of datasets an ingestion works with.
// The With methods return modified copies.
type Datasets struct {
	Main        *DatasetDefinition
	Staging     Dataset
	TempStaging *DatasetDefinition
	Metadata    *DatasetDefinition
}

// WithMain returns a copy with a different main dataset.
func (d Datasets) WithMain(m *DatasetDefinition) Datasets {
	d.Main = m
	return d
}

// WithStaging returns a copy with a different staging dataset.
func (d Datasets) WithStaging(s Dataset) Datasets {
	d.Staging = s
	return d
}

// WithTempStaging returns a copy with a temp staging dataset.
func (d Datasets) WithTempStaging(t *DatasetDefinition) Datasets {
	d.TempStaging = t
	return d
}

// WithMetadata returns a copy with a batch metadata dataset.
func (d Datasets) WithMetadata(m *DatasetDefinition) Datasets {
	d.Metadata = m
	return d
}

// MetadataOrDefault returns the configured metadata dataset or the default
// batch_metadata table placed next to main.
func (d Datasets) MetadataOrDefault() *DatasetDefinition {
	if d.Metadata != nil {
		return d.Metadata
	}
	md := DefaultMetadataDataset()
	if d.Main != nil {
		md.Database = d.Main.Database
		md.Group = d.Main.Group
	}
	return md
}

// DefaultMetadataDataset is the batch metadata table layout.
func DefaultMetadataDataset() *DatasetDefinition {
	return &DatasetDefinition{
		Name:  DefaultMetadataName,
		Alias: DefaultMetadataName,
		Schema: SchemaDefinition{Fields: []Field{
			{Name: "table_name", Type: TypeWithLength(Varchar, 255), Nullable: true},
			{Name: "batch_start_ts_utc", Type: TypeOf(Datetime), Nullable: true},
			{Name: "batch_end_ts_utc", Type: TypeOf(Datetime), Nullable: true},
			{Name: "batch_status", Type: TypeWithLength(Varchar, 32), Nullable: true},
			{Name: "table_batch_id", Type: TypeOf(Integer), Nullable: true},
			{Name: "staging_filters", Type: TypeOf(JSON), Nullable: true},
		}},
	}
}

// TempStagingFor derives the temp staging table that sits next to staging.
// Primary key flags are dropped since deduplicated rows may still repeat keys
// across versions.
func TempStagingFor(staging Dataset, extra ...Field) *DatasetDefinition {
	ref := staging.Ref()
	fields := make([]Field, 0, len(staging.SchemaDef().Fields)+len(extra))
	for _, f := range staging.SchemaDef().Fields {
		f.PrimaryKey = false
		f.Unique = false
		f.Identity = false
		fields = append(fields, f)
	}
	schema := SchemaDefinition{Fields: fields}.AddFields(extra...)
	return &DatasetDefinition{
		Database: ref.Database,
		Group:    ref.Group,
		Name:     ref.Name + TempStagingSuffix,
		Alias:    StagingAlias,
		Schema:   schema,
	}
}
