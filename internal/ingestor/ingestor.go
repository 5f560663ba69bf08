// Package ingestor runs one ingest mode against one sink: it prepares the
// main table, materializes deduplication and versioning, merges staging into
// main inside a transaction, records batch metadata and reports a Result.
//
// A run walks NEW -> SCHEMA_READY -> DEDUP_VERSION_READY -> MERGED -> DONE;
// any failure moves it to FAILED and is returned as an *Error next to a
// Result whose Status is FAILED.
package ingestor

import (
	"context"
	"fmt"
	"sort"
	"time"

	"ingest/internal/catalog"
	"ingest/internal/executor"
	"ingest/internal/guard"
	"ingest/internal/ingestmode"
	"ingest/internal/logical"
	"ingest/internal/metrics"
	"ingest/internal/schemaevolution"
	"ingest/internal/sink"
)

// Logger is the minimal logging interface used by the ingestor.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// Ingestor is configured once and may run many times. It holds no
// connection; each Ingest call gets its executor from the caller.
type Ingestor struct {
	Mode    ingestmode.IngestMode
	Sink    *sink.RelationalSink
	Options Options
	Logger  Logger

	// now is a test seam for the batch start time.
	now func() time.Time
}

// New returns an Ingestor for mode on s.
func New(mode ingestmode.IngestMode, s *sink.RelationalSink, opts Options, logger Logger) *Ingestor {
	return &Ingestor{Mode: mode, Sink: s, Options: opts, Logger: logger}
}

func (in *Ingestor) logger() func(string, ...any) {
	if in.Logger == nil {
		return func(string, ...any) {}
	}
	return in.Logger.Printf
}

func (in *Ingestor) clock() func() time.Time {
	if in.now != nil {
		return in.now
	}
	return time.Now
}

// Ingest runs one ingestion of ds through ex.
//
// Errors:
//   - *Error with KindConfiguration or KindUnsupportedCapability before any
//     SQL runs.
//   - KindSchemaMismatch when main cannot take staging's columns; no DDL is
//     applied in that case.
//   - KindDuplicateViolation / KindDataError from the pre-merge checks; main
//     is untouched and temp staging is kept. Result.Samples holds rows.
//   - KindExecution for statement failures; the merge transaction is
//     rolled back.
func (in *Ingestor) Ingest(ctx context.Context, ex executor.Executor, ds logical.Datasets) (Result, error) {
	start := time.Now()
	opts := in.Options.withDefaults(in.clock())
	r := &run{
		in:   in,
		ex:   ex,
		opts: opts,
		logf: in.logger(),
		res: Result{
			Status:             Failed,
			RunID:              opts.IngestRunID,
			IngestionTimestamp: opts.ExecutionTimestamp,
			Statistics:         map[ingestmode.StatisticName]int64{},
			Datasets:           ds,
		},
	}
	r.m = newMachine(r.logf)

	err := r.execute(ctx, ds)
	if err != nil {
		_ = r.m.advance(StateFailed)
		r.res.Status = Failed
		r.res.Message = err.Error()
	} else {
		r.res.Status = Succeeded
	}

	modeName, sinkName := "", ""
	if in.Mode != nil {
		modeName = in.Mode.Name()
	}
	if in.Sink != nil {
		sinkName = in.Sink.Name
	}
	metrics.RecordRun(modeName, sinkName, string(r.res.Status))
	for name, n := range r.res.Statistics {
		metrics.RecordRows(string(name), n)
	}
	r.logf("stage=done status=%s run_id=%s mode=%s sink=%s duration=%s", r.res.Status, r.res.RunID, modeName, sinkName, durMS(start))

	return r.res, err
}

// run is the state of one Ingest call.
type run struct {
	in    *Ingestor
	ex    executor.Executor
	opts  Options
	topts sink.TransformOptions
	logf  func(string, ...any)
	m     *machine
	plans ingestmode.Plans
	res   Result
}

func (r *run) execute(ctx context.Context, ds logical.Datasets) error {
	if r.in.Mode == nil || r.in.Sink == nil {
		return &Error{Kind: KindConfiguration, Op: "config", Err: fmt.Errorf("mode and sink are required")}
	}
	if r.ex == nil {
		return &Error{Kind: KindConfiguration, Op: "config", Err: fmt.Errorf("nil executor")}
	}
	if err := r.opts.validate(ds); err != nil {
		return &Error{Kind: KindConfiguration, Op: "options", Err: err}
	}
	if r.opts.EnableSchemaEvolution && !r.in.Sink.Supports(sink.AddColumn) {
		return &Error{Kind: KindUnsupportedCapability, Op: "options",
			Err: fmt.Errorf("%w: schema evolution needs %s on sink %s", sink.ErrUnsupportedCapability, sink.AddColumn, r.in.Sink.Name)}
	}

	if err := r.plan(ds); err != nil {
		return wrap("plan", err)
	}

	if r.opts.EnableConcurrentSafety {
		permit, err := guard.For(r.plans.Datasets.Main.Ref().String()).Acquire(ctx, r.opts.GuardTimeout)
		if err != nil {
			return wrap("guard", err)
		}
		defer permit.Release()
	}

	steps := []struct {
		name string
		fn   func(context.Context, logical.Datasets) error
		next State
	}{
		{"schema", r.schema, StateSchemaReady},
		{"dedup", r.dedup, StateDedupVersionReady},
		{"ingest", r.merge, StateMerged},
		{"cleanup", r.cleanup, StateDone},
	}
	for _, st := range steps {
		start := time.Now()
		err := st.fn(ctx, ds)
		metrics.RecordStage(st.name, err, time.Since(start))
		if err != nil {
			r.logf("stage=%s status=error duration=%s err=%v", st.name, durMS(start), err)
			return wrap(st.name, err)
		}
		r.logf("stage=%s ok duration=%s", st.name, durMS(start))
		if err := r.m.advance(st.next); err != nil {
			return wrap(st.name, err)
		}
	}
	return nil
}

func (r *run) plan(ds logical.Datasets) error {
	plans, err := r.opts.planner(r.in.Mode, r.in.Sink.Capabilities).Plan(ds)
	if err != nil {
		return err
	}
	r.plans = plans
	r.res.Datasets = plans.Datasets
	r.topts = sink.TransformOptions{
		BatchStartTime: r.opts.ExecutionTimestamp,
		CaseConversion: r.opts.CaseConversion,
		Metadata:       plans.Datasets.MetadataOrDefault(),
	}
	return nil
}

// schema creates what is missing and validates or evolves an existing main.
// The evolution plan is computed in full before any DDL runs.
func (r *run) schema(ctx context.Context, ds logical.Datasets) error {
	s := r.in.Sink
	main := r.plans.Datasets.Main
	exists, err := s.DoesTableExist(ctx, r.ex, main.Ref())
	if err != nil {
		return err
	}

	var alters []string
	if exists {
		actual, err := s.ReconstructDataset(ctx, r.ex, main.Ref())
		if err != nil {
			return err
		}
		actual = actual.WithAlias(main.Alias)
		if r.opts.EnableSchemaEvolution {
			ignoreMain, ignoreStaging := ingestmode.IgnoredFields(r.in.Mode)
			ev, err := schemaevolution.Evolver{Sink: s}.Build(actual, r.plans.Datasets.Staging, ignoreMain, ignoreStaging)
			if err != nil {
				return err
			}
			if len(ev.Plan.Ops) > 0 {
				out, err := s.Transform(ev.Plan, r.topts)
				if err != nil {
					return err
				}
				alters = out.SQL
				declared := ev.Evolved
				if ds.Main != nil && ds.Main.Alias != "" {
					declared = declared.WithAlias(ds.Main.Alias)
				}
				if err := r.plan(ds.WithMain(declared)); err != nil {
					return err
				}
			}
		} else if err := s.ValidateDataset(main, actual); err != nil {
			return err
		}
	}

	pre, err := s.Transform(r.plans.PreActions, r.topts)
	if err != nil {
		return err
	}
	if err := r.ex.ExecuteStatements(ctx, append(pre.SQL, alters...)); err != nil {
		return err
	}
	r.res.SchemaEvolutionSQL = alters
	for _, a := range alters {
		r.logf("stage=schema alter=%q", a)
	}
	return nil
}

// dedup fills temp staging and runs the error checks against it.
func (r *run) dedup(ctx context.Context, _ logical.Datasets) error {
	if err := r.exec(ctx, r.plans.DeduplicationAndVersioning, nil); err != nil {
		return err
	}
	checks := []struct {
		check    ingestmode.ErrorCheck
		kind     Kind
		sentinel error
		sample   *logical.Selection
	}{
		{ingestmode.MaxDuplicates, KindDuplicateViolation, ErrDuplicates, r.plans.DuplicateSample},
		{ingestmode.MaxDataErrors, KindDataError, ErrDataErrors, r.plans.DataErrorSample},
	}
	for _, c := range checks {
		sel, ok := r.plans.ErrorChecks[c.check]
		if !ok {
			continue
		}
		n, err := r.scalar(ctx, sel, nil)
		if err != nil {
			return err
		}
		if n <= 1 {
			continue
		}
		if c.sample != nil {
			rows, err := r.rows(ctx, c.sample)
			if err != nil {
				r.logf("stage=dedup sample failed err=%v", err)
			}
			r.res.Samples = rows
		}
		return &Error{Kind: c.kind, Op: "dedup", Err: fmt.Errorf("%w: %s=%d", c.sentinel, c.check, n)}
	}
	return nil
}

// step is one lowered ingest operation: SQL, or a Copy for the bulk loader.
type step struct {
	sql  []string
	copy *logical.Copy
}

// merge runs the ingest plan in one transaction, once per data split.
func (r *run) merge(ctx context.Context, _ logical.Datasets) error {
	stats := r.res.Statistics
	collect := r.opts.CollectStatistics

	steps, err := r.ingestSteps()
	if err != nil {
		return err
	}

	var before int64
	if collect {
		for _, name := range sortedStats(r.plans.PreIngestStatistics) {
			if stats[name], err = r.scalar(ctx, r.plans.PreIngestStatistics[name], nil); err != nil {
				return err
			}
		}
		if r.plans.MainRowCount != nil {
			if before, err = r.scalar(ctx, r.plans.MainRowCount, nil); err != nil {
				return err
			}
		}
	}

	splits, err := r.dataSplits(ctx)
	if err != nil {
		return err
	}

	if err := r.ex.BeginTransaction(ctx); err != nil {
		return err
	}
	loaded, err := r.mergeSplits(ctx, steps, splits)
	if err != nil {
		if rerr := r.ex.RevertTransaction(ctx); rerr != nil {
			r.logf("stage=ingest rollback failed err=%v", rerr)
		}
		return err
	}
	if err := r.ex.CommitTransaction(ctx); err != nil {
		return err
	}

	if !collect {
		return nil
	}
	if loaded != nil {
		stats[ingestmode.RowsInserted] = loaded.RowsInserted
		stats[ingestmode.RowsWithErrors] = loaded.RowsWithErrors
		stats[ingestmode.FilesLoaded] = loaded.FilesLoaded
		return nil
	}
	if r.plans.MainRowCount != nil {
		after, err := r.scalar(ctx, r.plans.MainRowCount, nil)
		if err != nil {
			return err
		}
		stats[ingestmode.RowsInserted] = after - before + stats[ingestmode.RowsDeleted]
	}
	stats[ingestmode.RowsWithErrors] = 0
	return nil
}

// mergeSplits runs ingest, post statistics and the metadata insert for each
// split. A nil splits slice means one unsplit batch. It returns the summed
// bulk load counters when a loader ran.
func (r *run) mergeSplits(ctx context.Context, steps []step, splits []int64) (*sink.BulkLoadStats, error) {
	bounds := []map[string]string{nil}
	if splits != nil {
		bounds = bounds[:0]
		for _, v := range splits {
			n := fmt.Sprint(v)
			bounds = append(bounds, map[string]string{
				logical.DataSplitLowerBound: n,
				logical.DataSplitUpperBound: n,
			})
		}
	}

	var loaded *sink.BulkLoadStats
	for _, vals := range bounds {
		var batchID int64
		if r.plans.NextBatchID != nil {
			var err error
			if batchID, err = r.scalar(ctx, r.plans.NextBatchID, nil); err != nil {
				return nil, err
			}
		}
		for _, st := range steps {
			if st.copy != nil {
				ls, err := r.in.Sink.BulkLoader.Load(ctx, r.ex, st.copy, r.topts)
				if err != nil {
					return nil, err
				}
				if loaded == nil {
					loaded = &sink.BulkLoadStats{}
				}
				loaded.RowsInserted += ls.RowsInserted
				loaded.RowsWithErrors += ls.RowsWithErrors
				loaded.FilesLoaded += ls.FilesLoaded
				continue
			}
			if err := r.ex.ExecuteStatements(ctx, executor.ApplyPlaceholdersAll(st.sql, vals)); err != nil {
				return nil, err
			}
		}
		if r.opts.CollectStatistics {
			for _, name := range sortedStats(r.plans.PostIngestStatistics) {
				n, err := r.scalar(ctx, r.plans.PostIngestStatistics[name], vals)
				if err != nil {
					return nil, err
				}
				r.res.Statistics[name] += n
			}
		}
		if err := r.exec(ctx, r.plans.MetadataIngest, vals); err != nil {
			return nil, err
		}
		id := batchID
		r.res.BatchID = &id
		if vals != nil {
			r.logf("stage=ingest split=%s batch_id=%d", vals[logical.DataSplitLowerBound], batchID)
		}
	}
	return loaded, nil
}

// ingestSteps lowers the ingest plan. Copies go to the sink's bulk loader
// when it has one.
func (r *run) ingestSteps() ([]step, error) {
	var out []step
	for _, op := range r.plans.Ingest.Ops {
		if cp, ok := op.(*logical.Copy); ok && r.in.Sink.BulkLoader != nil {
			out = append(out, step{copy: cp})
			continue
		}
		sqlPlan, err := r.in.Sink.Transform(logical.NewPlan(op), r.topts)
		if err != nil {
			return nil, err
		}
		out = append(out, step{sql: sqlPlan.SQL})
	}
	return out, nil
}

func (r *run) dataSplits(ctx context.Context) ([]int64, error) {
	if r.plans.DataSplitField == "" || r.plans.DataSplits == nil {
		return nil, nil
	}
	rows, err := r.rows(ctx, r.plans.DataSplits)
	if err != nil {
		return nil, err
	}
	out := make([]int64, 0, len(rows))
	for _, row := range rows {
		for _, v := range row {
			if n, ok := catalog.AsInt64(v); ok {
				out = append(out, n)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// cleanup runs staging cleanup and drops temp tables. The merge is already
// committed, so failures are logged and reported in Result.Message instead
// of failing the run.
func (r *run) cleanup(ctx context.Context, _ logical.Datasets) error {
	for _, p := range []struct {
		name string
		plan logical.Plan
	}{
		{"post_actions", r.plans.PostActions},
		{"post_cleanup", r.plans.PostCleanup},
	} {
		if err := r.exec(ctx, p.plan, nil); err != nil {
			r.logf("stage=%s status=error err=%v", p.name, err)
			r.res.Message = fmt.Sprintf("%s: %v", p.name, err)
		}
	}
	return nil
}

func (r *run) exec(ctx context.Context, p logical.Plan, vals map[string]string) error {
	if len(p.Ops) == 0 {
		return nil
	}
	out, err := r.in.Sink.Transform(p, r.topts)
	if err != nil {
		return err
	}
	return r.ex.ExecuteStatements(ctx, executor.ApplyPlaceholdersAll(out.SQL, vals))
}

func (r *run) query(ctx context.Context, sel *logical.Selection, vals map[string]string) (executor.TabularData, error) {
	out, err := r.in.Sink.Transform(logical.NewPlan(sel), r.topts)
	if err != nil {
		return executor.TabularData{}, err
	}
	if len(out.SQL) != 1 {
		return executor.TabularData{}, fmt.Errorf("ingestor: selection lowered to %d statements", len(out.SQL))
	}
	return r.ex.ExecuteQuery(ctx, executor.ApplyPlaceholders(out.SQL[0], vals))
}

// scalar reads the first value of sel as an integer; NULL reads as 0.
func (r *run) scalar(ctx context.Context, sel *logical.Selection, vals map[string]string) (int64, error) {
	data, err := r.query(ctx, sel, vals)
	if err != nil {
		return 0, err
	}
	n, _ := catalog.AsInt64(data.FirstValue())
	return n, nil
}

func (r *run) rows(ctx context.Context, sel *logical.Selection) ([]map[string]any, error) {
	data, err := r.query(ctx, sel, nil)
	if err != nil {
		return nil, err
	}
	return data.Rows, nil
}

func sortedStats(m map[ingestmode.StatisticName]*logical.Selection) []ingestmode.StatisticName {
	out := make([]ingestmode.StatisticName, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
