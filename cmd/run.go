package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/JakeFAU/polla-consensus/internal/config"
)

// newRunCmd creates the 'run' subcommand. It executes one pipeline run and
// prints the run summary. The exit status is 0 when the run is publishable,
// 3 when it was declined (quarantine or skip) and 1 on failure.
func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Runs the ingestion pipeline once",
		Long: `Loads every selected source, builds the consensus record, decides
whether to publish, and writes the normalized record, comparison report,
run summary, state and event log. Flags override the run.* and output.*
configuration keys.`,
		Args: cobra.NoArgs,
		RunE: withEnv(runPipeline),
	}
	f := cmd.Flags()
	f.StringSlice("sources", nil, `sources to run: "all", "pozos", or names such as t13,24h,openloto`)
	f.StringToString("source-url", nil, "explicit URL per source, skipping discovery (name=url)")
	f.Int("retries", 0, "attempts per candidate URL")
	f.Duration("timeout", 0, "per-fetch timeout")
	f.Duration("deadline", 0, "run-level deadline; 0 disables it")
	f.Bool("fail-fast", false, "abort on the first source failure")
	f.Float64("mismatch-threshold", 0, "maximum mismatch ratio that still publishes")
	f.Bool("include-pozos", false, "attach next-draw jackpot estimates")
	f.Bool("force-publish", false, "publish even when nothing changed")
	f.Int("concurrency", 0, "sources loaded in parallel")
	f.String("raw-dir", "", "raw outputs directory")
	f.String("normalized", "", "normalized NDJSON path")
	f.String("comparison-report", "", "comparison report path")
	f.String("summary", "", "run summary path")
	f.String("state", "", "state NDJSON path")
	f.String("log", "", "event log NDJSON path")
	return cmd
}

func runPipeline(cmd *cobra.Command, _ []string, e *env) error {
	a, err := e.App(cmd.Context())
	if err != nil {
		return err
	}

	out, err := a.Runner.Run(cmd.Context(), a.RunOptions())
	if err != nil {
		return fmt.Errorf("run pipeline: %w", err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(out.Summary); err != nil {
		return fmt.Errorf("print summary: %w", err)
	}
	if !out.Summary.Publish {
		return &exitError{
			code: ExitDeclined,
			msg:  fmt.Sprintf("run declined: %s (%s)", out.Summary.Decision.Status, out.Summary.Decision.Reason),
		}
	}
	return nil
}

// applyRunFlags copies every changed run flag onto cfg. Commands without the
// flags are left untouched.
func applyRunFlags(flags *pflag.FlagSet, cfg *config.Config) error {
	r := flagReader{flags: flags}
	r.stringSlice("sources", &cfg.Run.Sources)
	r.stringMap("source-url", &cfg.Run.SourceOverrides)
	r.integer("retries", &cfg.Run.Retries)
	r.duration("timeout", &cfg.Run.Timeout)
	r.duration("deadline", &cfg.Run.Deadline)
	r.boolean("fail-fast", &cfg.Run.FailFast)
	r.float("mismatch-threshold", &cfg.Run.MismatchThreshold)
	r.boolean("include-pozos", &cfg.Run.IncludePozos)
	r.boolean("force-publish", &cfg.Run.ForcePublish)
	r.integer("concurrency", &cfg.Run.Concurrency)
	r.str("raw-dir", &cfg.Output.RawDir)
	r.str("normalized", &cfg.Output.NormalizedPath)
	r.str("comparison-report", &cfg.Output.ComparisonReportPath)
	r.str("summary", &cfg.Output.SummaryPath)
	r.str("state", &cfg.Output.StatePath)
	r.str("log", &cfg.Output.LogPath)
	if r.err != nil {
		return fmt.Errorf("read run flags: %w", r.err)
	}
	return nil
}

// flagReader copies changed flags into their targets and keeps the first error.
type flagReader struct {
	flags *pflag.FlagSet
	err   error
}

func (r *flagReader) changed(name string) bool {
	if r.err != nil {
		return false
	}
	f := r.flags.Lookup(name)
	return f != nil && f.Changed
}

func (r *flagReader) stringSlice(name string, dst *[]string) {
	if r.changed(name) {
		*dst, r.err = r.flags.GetStringSlice(name)
	}
}

func (r *flagReader) stringMap(name string, dst *map[string]string) {
	if r.changed(name) {
		*dst, r.err = r.flags.GetStringToString(name)
	}
}

func (r *flagReader) integer(name string, dst *int) {
	if r.changed(name) {
		*dst, r.err = r.flags.GetInt(name)
	}
}

func (r *flagReader) duration(name string, dst *time.Duration) {
	if r.changed(name) {
		*dst, r.err = r.flags.GetDuration(name)
	}
}

func (r *flagReader) boolean(name string, dst *bool) {
	if r.changed(name) {
		*dst, r.err = r.flags.GetBool(name)
	}
}

func (r *flagReader) float(name string, dst *float64) {
	if r.changed(name) {
		*dst, r.err = r.flags.GetFloat64(name)
	}
}

func (r *flagReader) str(name string, dst *string) {
	if r.changed(name) {
		*dst, r.err = r.flags.GetString(name)
	}
}
