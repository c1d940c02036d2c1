// Package pipeline orchestrates one ingestion run: load every requested
// source, build consensus, decide, and persist the artifacts.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/polla-consensus/internal/artifacts"
	"github.com/JakeFAU/polla-consensus/internal/decision"
	"github.com/JakeFAU/polla-consensus/internal/loader"
	"github.com/JakeFAU/polla-consensus/internal/metrics"
	"github.com/JakeFAU/polla-consensus/internal/polla"
	"github.com/JakeFAU/polla-consensus/internal/progress"
	"github.com/JakeFAU/polla-consensus/internal/progress/sinks"
	"github.com/JakeFAU/polla-consensus/internal/sources"
	"github.com/JakeFAU/polla-consensus/internal/state"
)

// Quarantine reasons set by the orchestrator.
const (
	ReasonNoSources    = "No valid sources collected"
	ReasonAborted      = "Run aborted after a source failure"
	ReasonNoCategories = "No prize categories survived parsing"
)

const sideEffectTimeout = 30 * time.Second

// Deps are the collaborators shared by every run.
type Deps struct {
	Registry *sources.Registry
	Raw      polla.BlobStore
	// Runs, Publisher and Sinks are optional.
	Runs      polla.RunStore
	Publisher polla.Publisher
	Sinks     []progress.Sink
	Clock     polla.Clock
	IDs       polla.IDGenerator
	// MetricsTextfile, when set, receives a Prometheus snapshot after each run.
	MetricsTextfile string
}

// Runner executes pipeline runs.
type Runner struct {
	deps   Deps
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// Outcome is what a finished run produced.
type Outcome struct {
	Summary polla.RunSummary
	Report  polla.ComparisonReport
	// Record is nil when no source loaded.
	Record *polla.ConsensusRecord
	Events []progress.Event
}

// New builds a Runner.
func New(deps Deps, logger *zap.Logger) (*Runner, error) {
	if deps.Registry == nil {
		return nil, errors.New("source registry is required")
	}
	if deps.Clock == nil || deps.IDs == nil {
		return nil, errors.New("clock and id generator are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{deps: deps, logger: logger.Named("pipeline")}, nil
}

// run carries the state of one execution.
type run struct {
	*Runner
	opts        Options
	id          string
	generatedAt time.Time
	events      *progress.Recorder
	loader      *loader.Loader
	tracker     *state.Tracker
	logger      *zap.Logger
}

// Run executes one pipeline run. Source failures are recorded in the report;
// an error is returned only for configuration errors, fail-fast aborts,
// runs where no categories survive parsing, and artifact write failures.
// Aborted runs still write a quarantine comparison report, returned in the
// Outcome alongside the error.
func (r *Runner) Run(ctx context.Context, opts Options) (Outcome, error) {
	opts = opts.normalized()
	id, err := r.deps.IDs.NewID()
	if err != nil {
		return Outcome{}, fmt.Errorf("generate run id: %w", err)
	}
	logger := r.logger.With(zap.String("run_id", id))

	eventSinks := append([]progress.Sink(nil), r.deps.Sinks...)
	if opts.Paths.Log != "" {
		fileSink, err := sinks.NewFileSink(opts.Paths.Log)
		if err != nil {
			return Outcome{}, fmt.Errorf("open event log: %w", err)
		}
		eventSinks = append(eventSinks, fileSink)
	}
	recorder := progress.NewRecorder(id, r.deps.Clock, logger, eventSinks...)
	defer func() {
		if err := recorder.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("close event sinks", zap.Error(err))
		}
	}()

	ru := &run{
		Runner:      r,
		opts:        opts,
		id:          id,
		generatedAt: r.deps.Clock.Now().UTC(),
		events:      recorder,
		tracker:     state.NewTracker(opts.Paths.State, logger),
		logger:      logger,
	}
	ru.loader = loader.New(loader.Config{
		Retries:        opts.Retries,
		DiscoveryLimit: opts.DiscoveryLimit,
		BackoffUnit:    opts.BackoffUnit,
	}, recorder, logger)
	if r.sleep != nil {
		ru.loader.SetSleep(r.sleep)
	}

	recorder.Emit(progress.Event{
		Stage: progress.StagePipelineStart,
		Attrs: map[string]any{"sources": opts.Sources},
	})
	logger.Info("run started", zap.Strings("sources", opts.Sources))

	out, err := ru.execute(ctx)
	if err != nil {
		recorder.Emit(progress.Event{
			Stage: progress.StagePipelineError,
			Attrs: map[string]any{"message": err.Error()},
		})
		logger.Error("run failed", zap.Error(err))
		r.writeMetrics(logger)
		return Outcome{Report: out.Report, Events: recorder.Events()}, err
	}

	recorder.Emit(progress.Event{
		Stage: progress.StagePipelineComplete,
		Attrs: map[string]any{
			"decision":       string(out.Summary.Decision.Status),
			"mismatch_ratio": ratioOf(out.Summary.Decision),
			"prizes_changed": out.Summary.PrizesChanged,
		},
	})
	logger.Info("run complete",
		zap.String("decision", string(out.Summary.Decision.Status)),
		zap.Bool("publish", out.Summary.Publish),
		zap.Bool("prizes_changed", out.Summary.PrizesChanged),
	)
	r.sideEffects(ctx, logger, opts, out)
	out.Events = recorder.Events()
	return out, nil
}

func (ru *run) execute(ctx context.Context) (Outcome, error) {
	if err := ru.opts.validate(); err != nil {
		return Outcome{}, &polla.SourceError{Kind: polla.KindConfig, Err: err}
	}
	plan, err := ru.deps.Registry.Resolve(ru.opts.Sources)
	if err != nil {
		return Outcome{}, err
	}
	if ru.opts.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ru.opts.Deadline)
		defer cancel()
	}
	if plan.JackpotMode() {
		return ru.runJackpot(ctx, plan)
	}
	return ru.runDraw(ctx, plan)
}

// loadAll runs load for each index with at most limit in flight. Results and
// errors are indexed like the input, so callers keep the requested order.
// With failFast the first error cancels the rest and is returned.
func loadAll[T any](ctx context.Context, count, limit int, failFast bool, load func(context.Context, int) (T, error)) ([]T, []error, error) {
	vals := make([]T, count)
	errs := make([]error, count)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i := 0; i < count; i++ {
		g.Go(func() error {
			v, err := load(gctx, i)
			if err != nil {
				errs[i] = err
				if failFast {
					return err
				}
				return nil
			}
			vals[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return vals, errs, fmt.Errorf("%w: %w", polla.ErrRunAborted, err)
	}
	return vals, errs, nil
}

// failuresOf converts the non-nil entries of errs, indexed like names.
func failuresOf(names []string, errs []error) []polla.Failure {
	var out []polla.Failure
	for i, err := range errs {
		if err != nil {
			out = append(out, failureOf(names[i], err))
		}
	}
	return out
}

func failureOf(name string, err error) polla.Failure {
	var srcErr *polla.SourceError
	if errors.As(err, &srcErr) {
		f := srcErr.Failure()
		if f.Source == "" {
			f.Source = name
		}
		return f
	}
	return polla.Failure{Source: name, Error: err.Error()}
}

func (ru *run) runInfo(names []string) polla.RunInfo {
	return polla.RunInfo{
		ID:          ru.id,
		GeneratedAt: ru.generatedAt,
		Sources:     names,
		Timeout:     ru.opts.Timeout.Seconds(),
		Retries:     ru.opts.Retries,
		FailFast:    ru.opts.FailFast,
	}
}

func (ru *run) summary(d polla.Decision, changed bool) polla.RunSummary {
	return polla.RunSummary{
		RunID:            ru.id,
		GeneratedAt:      ru.generatedAt,
		Decision:         d,
		PrizesChanged:    changed,
		NormalizedPath:   ru.opts.Paths.Normalized,
		ComparisonReport: ru.opts.Paths.ComparisonReport,
		RawDir:           ru.opts.Paths.RawDir,
		StatePath:        ru.opts.Paths.State,
		Publish:          d.Status.Publishable(),
		APIVersion:       polla.APIVersion,
	}
}

// noResults writes quarantine artifacts when every source failed. The state
// log is left untouched apart from being created when absent.
func (ru *run) noResults(names []string, failures []polla.Failure) (Outcome, error) {
	ru.logger.Warn("no source produced a result", zap.Int("failures", len(failures)))
	d := decision.Quarantine(ReasonNoSources)
	report := polla.ComparisonReport{
		APIVersion: polla.APIVersion,
		Run:        ru.runInfo(names),
		Decision:   d,
		Mismatches: []polla.Mismatch{},
		Sources:    map[string]polla.SourceSummary{},
		Failures:   nonNilFailures(failures),
	}
	if err := artifacts.WriteNDJSON[polla.ConsensusRecord](ru.opts.Paths.Normalized); err != nil {
		return Outcome{}, err
	}
	if err := ru.tracker.EnsureExists(); err != nil {
		return Outcome{}, err
	}
	return ru.finish(nil, report, ru.summary(d, false))
}

// abort writes a quarantine comparison report with the failures gathered so
// far and returns cause. Normalized output, state and summary are untouched.
func (ru *run) abort(names []string, failures []polla.Failure, loaded map[string]polla.SourceSummary, reason string, cause error) (Outcome, error) {
	if loaded == nil {
		loaded = map[string]polla.SourceSummary{}
	}
	report := polla.ComparisonReport{
		APIVersion: polla.APIVersion,
		Run:        ru.runInfo(names),
		Decision:   decision.Quarantine(reason),
		Mismatches: []polla.Mismatch{},
		Sources:    loaded,
		Failures:   nonNilFailures(failures),
	}
	if err := artifacts.WriteJSON(ru.opts.Paths.ComparisonReport, report); err != nil {
		return Outcome{}, errors.Join(cause, err)
	}
	return Outcome{Report: report}, cause
}

// persist writes the normalized record and state, then the report and summary.
func (ru *run) persist(record polla.ConsensusRecord, report polla.ComparisonReport, summary polla.RunSummary) (Outcome, error) {
	if err := artifacts.WriteNDJSON(ru.opts.Paths.Normalized, record); err != nil {
		return Outcome{}, err
	}
	if err := ru.tracker.Save(record); err != nil {
		return Outcome{}, err
	}
	ru.logger.Debug("state saved",
		zap.String("path", ru.tracker.Path()),
		zap.String("decision", string(record.Provenance.Decision)),
	)
	return ru.finish(&record, report, summary)
}

func (ru *run) finish(record *polla.ConsensusRecord, report polla.ComparisonReport, summary polla.RunSummary) (Outcome, error) {
	if err := artifacts.WriteJSON(ru.opts.Paths.ComparisonReport, report); err != nil {
		return Outcome{}, err
	}
	if err := artifacts.WriteJSON(ru.opts.Paths.Summary, summary); err != nil {
		return Outcome{}, err
	}
	return Outcome{Summary: summary, Report: report, Record: record}, nil
}

func (r *Runner) sideEffects(ctx context.Context, logger *zap.Logger, opts Options, out Outcome) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()
	if r.deps.Runs != nil {
		if err := r.deps.Runs.RecordRun(ctx, out.Summary, out.Report); err != nil {
			logger.Warn("record run history", zap.Error(err))
		}
	}
	if r.deps.Publisher != nil && out.Summary.Publish {
		id, err := r.deps.Publisher.Publish(ctx, opts.Topic, out.Summary)
		if err != nil {
			logger.Warn("publish run summary", zap.Error(err))
		} else {
			logger.Info("run summary published", zap.String("message_id", id))
		}
	}
	r.writeMetrics(logger)
}

func (r *Runner) writeMetrics(logger *zap.Logger) {
	if r.deps.MetricsTextfile == "" {
		return
	}
	if err := metrics.WriteTextfile(r.deps.MetricsTextfile); err != nil {
		logger.Warn("write metrics textfile", zap.Error(err))
	}
}

func (ru *run) saveRaw(ctx context.Context, save func(context.Context) error, name string) {
	if err := save(context.WithoutCancel(ctx)); err != nil {
		ru.logger.Warn("save raw output", zap.String("source", name), zap.Error(err))
	}
}

func ratioOf(d polla.Decision) float64 {
	if d.MismatchRatio == nil {
		return 0
	}
	return *d.MismatchRatio
}

func nonNilFailures(f []polla.Failure) []polla.Failure {
	if f == nil {
		return []polla.Failure{}
	}
	return f
}

func maxSorteo(values []*int) *int {
	var out *int
	for _, v := range values {
		if v != nil && (out == nil || *v > *out) {
			n := *v
			out = &n
		}
	}
	return out
}

func maxFecha(values []*string) *string {
	var out *string
	for _, v := range values {
		if v != nil && (out == nil || *v > *out) {
			s := *v
			out = &s
		}
	}
	return out
}
