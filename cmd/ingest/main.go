// Command ingest validates, renders and runs ingestion configurations.
//
//	ingest validate --config ingest.yaml
//	ingest plan     --config ingest.yaml
//	ingest run      --config ingest.yaml --metrics-backend datadog
//	ingest sinks
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"ingest/internal/config"
	"ingest/internal/ingestor"
	"ingest/internal/metadata"
	"ingest/internal/metrics"
	"ingest/internal/metrics/datadog"
	"ingest/internal/sink"

	// register every dialect; the config picks one.
	_ "ingest/internal/sink/all"
)

func main() {
	os.Exit(execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

// execute runs the CLI and returns the process exit code.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

type globals struct {
	cfgPath string
	verbose bool
	logger  *log.Logger
	cfg     *config.Config
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "ingest",
		Short:         "Plan and run relational ingestions",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			out := io.Discard
			if g.verbose {
				out = stderr
			}
			g.logger = log.New(out, "", log.LstdFlags)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVarP(&g.cfgPath, "config", "c", "ingest.yaml", "ingestion config path or http(s) URL")
	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "enable verbose logs")

	root.AddCommand(newValidateCmd(g), newPlanCmd(g), newRunCmd(g), newSinksCmd())
	return root
}

func newSinksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sinks",
		Short: "List the registered sinks and their capabilities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, name := range sink.Names() {
				s, err := sink.Get(name)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-10s %s\n", name, s.Capabilities)
			}
			return nil
		},
	}
}

func newValidateCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := g.load(cmd)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration is valid: %s\n", g.cfgPath)
			return nil
		},
	}
}

func newPlanCmd(g *globals) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the SQL an ingestion would run, phase by phase",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			in, err := g.load(cmd)
			if err != nil {
				return err
			}
			s, err := sink.Get(in.SinkName)
			if err != nil {
				return err
			}
			plans, err := ingestor.New(in.Mode, s, in.Options, g.logger).Render(in.Datasets)
			if err != nil {
				return err
			}
			if output == "json" {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(plans)
			}
			writePlans(cmd.OutOrStdout(), plans)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format (text, json)")
	return cmd
}

func newRunCmd(g *globals) *cobra.Command {
	var metricsBackend string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the ingestion against the configured sink",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			in, err := g.load(cmd)
			if err != nil {
				return err
			}
			cfgBackend := ""
			if g.cfg != nil {
				cfgBackend = g.cfg.Metrics.Backend
			}
			closeMetrics := g.setupMetrics(ctx, pick(metricsBackend, os.Getenv("METRICS_BACKEND"), cfgBackend), in.Job)
			defer closeMetrics()

			s, err := sink.Get(in.SinkName)
			if err != nil {
				return err
			}
			ex, closeConn, err := connect(ctx, in, g.logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := closeConn(); err != nil {
					g.logger.Printf("stage=close err=%v", err)
				}
			}()

			start := time.Now()
			res, runErr := ingestor.New(in.Mode, s, in.Options, g.logger).Ingest(ctx, ex, in.Datasets)
			g.logger.Printf("stage=run status=%s duration=%s", res.Status, time.Since(start).Truncate(time.Millisecond))
			if err := writeResult(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			return runErr
		},
	}
	cmd.Flags().StringVar(&metricsBackend, "metrics-backend", "", "metrics backend (datadog, none); overrides METRICS_BACKEND")
	return cmd
}

// load reads, validates and builds the configuration. Validation issues
// go to stderr; any error-level issue fails the command.
func (g *globals) load(cmd *cobra.Command) (config.Ingestion, error) {
	f := metadata.New(metadata.Options{Logger: g.logger})
	cfg, err := config.Load(cmd.Context(), g.cfgPath, f)
	if err != nil {
		return config.Ingestion{}, err
	}
	issues := config.Validate(cfg)
	for _, iss := range issues {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if config.HasErrors(issues) {
		return config.Ingestion{}, fmt.Errorf("configuration is invalid: %s", g.cfgPath)
	}
	g.cfg = cfg
	return config.Build(cfg)
}

// setupMetrics installs the named backend and returns its shutdown func.
func (g *globals) setupMetrics(ctx context.Context, backend, job string) func() {
	switch backend {
	case "datadog":
		if job == "" {
			job = "ingest"
		}
		tags := datadog.ParseTagsCSV(os.Getenv("METRICS_TAGS"))
		if g.cfg != nil {
			tags = append(tags, g.cfg.Metrics.Tags...)
		}
		b, err := datadog.NewBackend(ctx, datadog.Options{JobName: job, Tags: tags, FlushEvery: 60 * time.Second})
		if err != nil {
			g.logger.Printf("metrics: failed to init datadog backend: %v; using nop", err)
			return func() {}
		}
		g.logger.Printf("metrics: backend=%s job_name=%s tags=%v", backend, job, tags)
		metrics.SetBackend(b)
		return func() {
			if err := b.Close(); err != nil {
				g.logger.Printf("metrics: datadog close/flush error: %v", err)
			}
			metrics.SetBackend(nil)
		}
	case "", "none":
		g.logger.Printf("metrics: disabled (backend=%q)", backend)
	default:
		g.logger.Printf("metrics: unknown backend %q; metrics disabled", backend)
	}
	return func() {}
}

func pick(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func writePlans(w io.Writer, p ingestor.SQLPlans) {
	section := func(name string, sqls []string) {
		if len(sqls) == 0 {
			return
		}
		fmt.Fprintf(w, "-- %s\n", name)
		for _, s := range sqls {
			fmt.Fprintf(w, "%s;\n", s)
		}
		fmt.Fprintln(w)
	}
	named := func(name string, m map[string]string) {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			section(name+" "+k, []string{m[k]})
		}
	}

	section("pre actions", p.PreActions)
	section("deduplication and versioning", p.DeduplicationAndVersioning)
	checks := map[string]string{}
	for k, v := range p.ErrorChecks {
		checks[string(k)] = v
	}
	named("check", checks)
	pre := map[string]string{}
	for k, v := range p.PreIngestStatistics {
		pre[string(k)] = v
	}
	named("pre statistic", pre)
	section("ingest", p.Ingest)
	post := map[string]string{}
	for k, v := range p.PostIngestStatistics {
		post[string(k)] = v
	}
	named("post statistic", post)
	section("metadata", p.MetadataIngest)
	section("post actions", p.PostActions)
	section("post cleanup", p.PostCleanup)
}

type resultView struct {
	Status             ingestor.Status  `json:"status"`
	RunID              string           `json:"run_id"`
	BatchID            *int64           `json:"batch_id,omitempty"`
	IngestionTimestamp time.Time        `json:"ingestion_timestamp"`
	Statistics         map[string]int64 `json:"statistics,omitempty"`
	SchemaEvolutionSQL []string         `json:"schema_evolution_sql,omitempty"`
	Samples            []map[string]any `json:"samples,omitempty"`
	Message            string           `json:"message,omitempty"`
}

func writeResult(w io.Writer, r ingestor.Result) error {
	v := resultView{
		Status:             r.Status,
		RunID:              r.RunID,
		BatchID:            r.BatchID,
		IngestionTimestamp: r.IngestionTimestamp,
		Statistics:         map[string]int64{},
		SchemaEvolutionSQL: r.SchemaEvolutionSQL,
		Samples:            r.Samples,
		Message:            r.Message,
	}
	for k, n := range r.Statistics {
		v.Statistics[string(k)] = n
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
