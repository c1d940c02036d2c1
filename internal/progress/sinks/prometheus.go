package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/polla-consensus/internal/progress"
)

// PrometheusSink derives run-level metrics from the event stream.
type PrometheusSink struct {
	runsStarted    prometheus.Counter
	runsCompleted  *prometheus.CounterVec
	runsFailed     prometheus.Counter
	sourceOutcomes *prometheus.CounterVec
	mismatchRatio  prometheus.Gauge
	categories     prometheus.Gauge
	pozosEnriched  prometheus.Counter
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "polla_runs_started_total",
			Help: "Pipeline runs that have started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "polla_runs_completed_total",
			Help: "Pipeline runs completed partitioned by decision.",
		}, []string{"decision"}),
		runsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "polla_runs_failed_total",
			Help: "Pipeline runs that aborted with an error.",
		}),
		sourceOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "polla_source_events_total",
			Help: "Source load events partitioned by source and outcome.",
		}, []string{"source", "outcome"}),
		mismatchRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "polla_mismatch_ratio",
			Help: "Mismatch ratio of the most recent completed run.",
		}),
		categories: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "polla_consensus_categories",
			Help: "Categories in the most recent consensus record.",
		}),
		pozosEnriched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "polla_pozos_enriched_total",
			Help: "Runs whose record was enriched with jackpot estimates.",
		}),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsFailed,
		s.sourceOutcomes,
		s.mismatchRatio,
		s.categories,
		s.pozosEnriched,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StagePipelineStart:
		s.runsStarted.Inc()
	case progress.StageSourceSuccess:
		s.sourceOutcomes.WithLabelValues(evt.Source, "success").Inc()
	case progress.StageSourceError:
		s.sourceOutcomes.WithLabelValues(evt.Source, "error").Inc()
	case progress.StageSourceMissingURL:
		s.sourceOutcomes.WithLabelValues(evt.Source, "missing_url").Inc()
	case progress.StagePremiosConsensus:
		if n, ok := evt.Int("categories"); ok {
			s.categories.Set(float64(n))
		}
	case progress.StagePozosEnriched:
		s.pozosEnriched.Inc()
	case progress.StagePipelineComplete:
		decision, ok := evt.Text("decision")
		if !ok || decision == "" {
			decision = "unknown"
		}
		s.runsCompleted.WithLabelValues(decision).Inc()
		if ratio, ok := evt.Float("mismatch_ratio"); ok {
			s.mismatchRatio.Set(ratio)
		}
	case progress.StagePipelineError:
		s.runsFailed.Inc()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
