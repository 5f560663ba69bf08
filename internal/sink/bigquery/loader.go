package bigquery

import (
	"context"
	"fmt"
	"time"

	bq "cloud.google.com/go/bigquery"

	"ingest/internal/executor"
	"ingest/internal/logical"
	"ingest/internal/sink"
)

// Loader submits Copy operations as load jobs appending to the target.
// MaxBadRecords is passed through to the job; rejected rows are reported
// as RowsWithErrors (see rejectedRows).
type Loader struct {
	MaxBadRecords int64
}

var _ sink.BulkLoader = Loader{}

func (l Loader) Load(ctx context.Context, ex executor.Executor, c *logical.Copy, _ sink.TransformOptions) (sink.BulkLoadStats, error) {
	je, err := jobExecutor(ex)
	if err != nil {
		return sink.BulkLoadStats{}, err
	}
	if c.Source == nil || c.Source.Source == nil || len(c.Source.Source.Properties.Paths) == 0 {
		return sink.BulkLoadStats{}, fmt.Errorf("bigquery: load without source uris")
	}
	files := c.Source.Source
	src := bq.NewGCSReference(files.Properties.Paths...)
	switch files.Properties.Format {
	case logical.FormatJSON:
		src.SourceFormat = bq.JSON
	default:
		src.SourceFormat = bq.CSV
		src.SkipLeadingRows = int64(files.Properties.SkipHeaderRows)
		if files.Properties.Delimiter != "" {
			src.FieldDelimiter = files.Properties.Delimiter
		}
	}
	src.MaxBadRecords = l.MaxBadRecords
	src.Schema = Schema(files.Schema)

	start := time.Now()
	loader := je.table(c.Target.Ref()).LoaderFrom(src)
	loader.WriteDisposition = bq.WriteAppend
	job, err := loader.Run(ctx)
	if err != nil {
		return sink.BulkLoadStats{}, fmt.Errorf("bigquery: start load: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return sink.BulkLoadStats{}, fmt.Errorf("bigquery: wait load %s: %w", job.ID(), err)
	}
	if err := status.Err(); err != nil {
		return sink.BulkLoadStats{}, fmt.Errorf("bigquery: load %s: %w", job.ID(), err)
	}

	stats := sink.BulkLoadStats{
		FilesLoaded:    int64(len(files.Properties.Paths)),
		RowsWithErrors: rejectedRows(status.Errors, l.MaxBadRecords),
	}
	if status.Statistics != nil {
		if ls, ok := status.Statistics.Details.(*bq.LoadStatistics); ok {
			stats.RowsInserted = ls.OutputRows
			stats.FilesLoaded = ls.InputFiles
		}
	}
	je.logger.Printf("stage=load ok job=%s rows=%d files=%d duration=%s", job.ID(), stats.RowsInserted, stats.FilesLoaded, durMS(time.Since(start)))
	return stats, nil
}

// rejectedRows estimates the rows a successful load skipped. Load
// statistics carry no bad-record counter, so the row-level "invalid"
// errors of the job are counted. A job never skips more than maxBad rows,
// and with maxBad zero any bad row fails it.
func rejectedRows(errs []*bq.Error, maxBad int64) int64 {
	if maxBad <= 0 {
		return 0
	}
	var n int64
	for _, e := range errs {
		if e != nil && e.Reason == "invalid" {
			n++
		}
	}
	return min(n, maxBad)
}

// Schema converts a logical schema to a load-job schema.
func Schema(s logical.SchemaDefinition) bq.Schema {
	out := make(bq.Schema, 0, len(s.Fields))
	for _, f := range s.Fields {
		fs := &bq.FieldSchema{Name: f.Name, Type: FieldType(f.Type.DataType), Required: !f.IsNullable()}
		out = append(out, fs)
	}
	return out
}

// FieldType maps a logical data type to the load-job field type.
func FieldType(d logical.DataType) bq.FieldType {
	switch d {
	case logical.Int, logical.Integer, logical.BigInt, logical.TinyInt, logical.SmallInt:
		return bq.IntegerFieldType
	case logical.Number, logical.Numeric, logical.Decimal:
		return bq.NumericFieldType
	case logical.Real, logical.Float, logical.Double:
		return bq.FloatFieldType
	case logical.Boolean:
		return bq.BooleanFieldType
	case logical.Date:
		return bq.DateFieldType
	case logical.Time:
		return bq.TimeFieldType
	case logical.Datetime, logical.TimestampNTZ:
		return bq.DateTimeFieldType
	case logical.Timestamp, logical.TimestampTZ, logical.TimestampLTZ:
		return bq.TimestampFieldType
	case logical.Binary, logical.Varbinary:
		return bq.BytesFieldType
	case logical.JSON, logical.Variant:
		return bq.JSONFieldType
	}
	return bq.StringFieldType
}
