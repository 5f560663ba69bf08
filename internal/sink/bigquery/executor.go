package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	bq "cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"ingest/internal/catalog"
	"ingest/internal/executor"
	"ingest/internal/logical"
)

// JobExecutor runs every statement as a BigQuery query job.
//
// Edge cases:
//   - Transactions are no-ops: each statement is its own job and commits on
//     success. A failed batch is not rolled back.
//   - Close releases the client only when the executor created it (Open).
type JobExecutor struct {
	client *bq.Client
	owns   bool
	logger executor.Logger

	closeOnce sync.Once
	closeErr  error
}

var _ executor.Executor = (*JobExecutor)(nil)

// NewJobExecutor wraps a client the caller keeps ownership of.
func NewJobExecutor(client *bq.Client, logger executor.Logger) *JobExecutor {
	return &JobExecutor{client: client, logger: executor.LoggerOrDiscard(logger)}
}

// Open creates a client for projectID and an executor that owns it.
func Open(ctx context.Context, projectID string, logger executor.Logger, opts ...option.ClientOption) (*JobExecutor, error) {
	client, err := bq.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("bigquery: new client: %w", err)
	}
	e := NewJobExecutor(client, logger)
	e.owns = true
	return e, nil
}

func (e *JobExecutor) BeginTransaction(context.Context) error  { return nil }
func (e *JobExecutor) CommitTransaction(context.Context) error { return nil }
func (e *JobExecutor) RevertTransaction(context.Context) error { return nil }

func (e *JobExecutor) ExecuteStatement(ctx context.Context, sql string) (int64, error) {
	start := time.Now()
	job, err := e.client.Query(sql).Run(ctx)
	if err != nil {
		return 0, fmt.Errorf("bigquery: run query: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return 0, fmt.Errorf("bigquery: wait job %s: %w", job.ID(), err)
	}
	if err := status.Err(); err != nil {
		return 0, fmt.Errorf("bigquery: job %s: %w", job.ID(), err)
	}
	var rows int64
	if status.Statistics != nil {
		if qs, ok := status.Statistics.Details.(*bq.QueryStatistics); ok {
			rows = qs.NumDMLAffectedRows
		}
	}
	e.logger.Printf("stage=exec ok job=%s rows=%d duration=%s", job.ID(), rows, durMS(time.Since(start)))
	return rows, nil
}

func (e *JobExecutor) ExecuteStatements(ctx context.Context, sqls []string) error {
	for i, s := range sqls {
		if _, err := e.ExecuteStatement(ctx, s); err != nil {
			return fmt.Errorf("bigquery: statement %d: %w", i+1, err)
		}
	}
	return nil
}

func (e *JobExecutor) ExecuteQuery(ctx context.Context, sql string) (executor.TabularData, error) {
	it, err := e.client.Query(sql).Read(ctx)
	if err != nil {
		return executor.TabularData{}, fmt.Errorf("bigquery: query: %w", err)
	}
	var out executor.TabularData
	for first := true; ; first = false {
		var row []bq.Value
		err := it.Next(&row)
		if first {
			// the schema is known after the first Next, even for no rows
			out.Columns = columnNames(it.Schema)
		}
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return executor.TabularData{}, fmt.Errorf("bigquery: read rows: %w", err)
		}
		m := make(map[string]any, len(row))
		for i, v := range row {
			if i < len(out.Columns) {
				m[out.Columns[i]] = v
			}
		}
		out.Rows = append(out.Rows, m)
	}
	return out, nil
}

func columnNames(s bq.Schema) []string {
	out := make([]string, 0, len(s))
	for _, f := range s {
		out = append(out, f.Name)
	}
	return out
}

func (e *JobExecutor) Close() error {
	e.closeOnce.Do(func() {
		if e.owns {
			e.closeErr = e.client.Close()
		}
	})
	return e.closeErr
}

func (e *JobExecutor) table(ref logical.DatasetRef) *bq.Table {
	if ref.Database != "" {
		return e.client.DatasetInProject(ref.Database, ref.Group).Table(ref.Name)
	}
	return e.client.Dataset(ref.Group).Table(ref.Name)
}

func jobExecutor(ex executor.Executor) (*JobExecutor, error) {
	je, ok := ex.(*JobExecutor)
	if !ok {
		return nil, fmt.Errorf("bigquery: executor %T is not a *bigquery.JobExecutor", ex)
	}
	return je, nil
}

func tableExists(ctx context.Context, ex executor.Executor, ref logical.DatasetRef) (bool, error) {
	je, err := jobExecutor(ex)
	if err != nil {
		return false, err
	}
	_, err = je.table(ref).Metadata(ctx)
	if err == nil {
		return true, nil
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
		return false, nil
	}
	return false, fmt.Errorf("bigquery: table metadata %s: %w", ref, err)
}

// reconstruct reads the table schema from metadata and the primary key
// from INFORMATION_SCHEMA.KEY_COLUMN_USAGE.
func reconstruct(ctx context.Context, ex executor.Executor, ref logical.DatasetRef) (*logical.DatasetDefinition, error) {
	je, err := jobExecutor(ex)
	if err != nil {
		return nil, err
	}
	md, err := je.table(ref).Metadata(ctx)
	if err != nil {
		return nil, fmt.Errorf("bigquery: table metadata %s: %w", ref, err)
	}

	pkQuery := fmt.Sprintf("SELECT column_name FROM %s.INFORMATION_SCHEMA.KEY_COLUMN_USAGE WHERE table_name = %s AND constraint_name = %s ORDER BY ordinal_position",
		datasetPath(ref), quote(ref.Name), quote(ref.Name+".pk$"))
	data, err := je.ExecuteQuery(ctx, pkQuery)
	if err != nil {
		return nil, err
	}
	pks := map[string]bool{}
	for _, r := range data.Rows {
		pks[catalog.AsString(r["column_name"])] = true
	}

	fields := make([]logical.Field, 0, len(md.Schema))
	for _, fs := range md.Schema {
		var length, scale *int
		switch {
		case fs.MaxLength > 0:
			length = logical.IntPtr(int(fs.MaxLength))
		case fs.Precision > 0:
			length = logical.IntPtr(int(fs.Precision))
			scale = logical.IntPtr(int(fs.Scale))
		}
		ft, err := catalog.DefaultTypeParser(string(fs.Type), length, scale)
		if err != nil {
			return nil, fmt.Errorf("bigquery: %s.%s: %w", ref, fs.Name, err)
		}
		fields = append(fields, logical.Field{
			Name:       fs.Name,
			Type:       ft,
			Nullable:   !fs.Required,
			PrimaryKey: pks[fs.Name],
		})
	}
	schema := logical.SchemaDefinition{Fields: fields}
	if md.Clustering != nil {
		schema.ClusterKeys = md.Clustering.Fields
	}
	return &logical.DatasetDefinition{
		Database: ref.Database,
		Group:    ref.Group,
		Name:     ref.Name,
		Alias:    ref.Alias,
		Schema:   schema,
	}, nil
}

func datasetPath(ref logical.DatasetRef) string {
	if ref.Database != "" {
		return "`" + ref.Database + "`.`" + ref.Group + "`"
	}
	return "`" + ref.Group + "`"
}

func quote(s string) string {
	out := []byte{'\''}
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' || s[i] == '\\' {
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(append(out, '\''))
}

func durMS(d time.Duration) time.Duration { return d.Truncate(time.Millisecond) }
