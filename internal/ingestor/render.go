package ingestor

import (
	"fmt"

	"ingest/internal/ingestmode"
	"ingest/internal/logical"
	"ingest/internal/sink"
)

// SQLPlans is the SQL a run would execute, phase by phase, assuming main
// already matches its declaration. Placeholders are left in place.
type SQLPlans struct {
	PreActions                 []string
	DeduplicationAndVersioning []string
	ErrorChecks                map[ingestmode.ErrorCheck]string
	PreIngestStatistics        map[ingestmode.StatisticName]string
	Ingest                     []string
	PostIngestStatistics       map[ingestmode.StatisticName]string
	MetadataIngest             []string
	PostActions                []string
	PostCleanup                []string
}

// Render plans ds and lowers every phase without touching a database.
// Copies handled by the sink's bulk loader appear as SQL comments.
func (in *Ingestor) Render(ds logical.Datasets) (SQLPlans, error) {
	if in.Mode == nil || in.Sink == nil {
		return SQLPlans{}, &Error{Kind: KindConfiguration, Op: "config", Err: fmt.Errorf("mode and sink are required")}
	}
	opts := in.Options.withDefaults(in.clock())
	if err := opts.validate(ds); err != nil {
		return SQLPlans{}, &Error{Kind: KindConfiguration, Op: "options", Err: err}
	}
	plans, err := opts.planner(in.Mode, in.Sink.Capabilities).Plan(ds)
	if err != nil {
		return SQLPlans{}, wrap("plan", err)
	}
	topts := sink.TransformOptions{
		BatchStartTime: opts.ExecutionTimestamp,
		CaseConversion: opts.CaseConversion,
		Metadata:       plans.Datasets.MetadataOrDefault(),
	}

	var firstErr error
	lower := func(p logical.Plan) []string {
		if firstErr != nil || len(p.Ops) == 0 {
			return nil
		}
		out, err := in.Sink.Transform(p, topts)
		if err != nil {
			firstErr = err
			return nil
		}
		return out.SQL
	}
	one := func(sel *logical.Selection) string {
		if sel == nil {
			return ""
		}
		sqls := lower(logical.NewPlan(sel))
		if len(sqls) == 0 {
			return ""
		}
		return sqls[0]
	}

	out := SQLPlans{
		PreActions:                 lower(plans.PreActions),
		DeduplicationAndVersioning: lower(plans.DeduplicationAndVersioning),
		ErrorChecks:                map[ingestmode.ErrorCheck]string{},
		PreIngestStatistics:        map[ingestmode.StatisticName]string{},
		PostIngestStatistics:       map[ingestmode.StatisticName]string{},
		MetadataIngest:             lower(plans.MetadataIngest),
		PostActions:                lower(plans.PostActions),
		PostCleanup:                lower(plans.PostCleanup),
	}
	for k, sel := range plans.ErrorChecks {
		out.ErrorChecks[k] = one(sel)
	}
	for k, sel := range plans.PreIngestStatistics {
		out.PreIngestStatistics[k] = one(sel)
	}
	for k, sel := range plans.PostIngestStatistics {
		out.PostIngestStatistics[k] = one(sel)
	}
	for _, op := range plans.Ingest.Ops {
		if cp, ok := op.(*logical.Copy); ok && in.Sink.BulkLoader != nil {
			out.Ingest = append(out.Ingest, fmt.Sprintf("-- bulk load into %s", cp.Target.Ref()))
			continue
		}
		out.Ingest = append(out.Ingest, lower(logical.NewPlan(op))...)
	}
	if firstErr != nil {
		return SQLPlans{}, wrap("render", firstErr)
	}
	return out, nil
}
