package pipeline

import (
	"errors"
	"strings"
	"time"

	"github.com/JakeFAU/polla-consensus/internal/config"
)

// Paths names every artifact a run writes.
type Paths struct {
	RawDir           string
	Normalized       string
	ComparisonReport string
	Summary          string
	State            string
	// Log is the NDJSON event log; empty disables it.
	Log string
}

// Options is the per-run configuration surface.
type Options struct {
	Sources           []string
	Overrides         map[string]string
	Retries           int
	Timeout           time.Duration
	Deadline          time.Duration
	FailFast          bool
	MismatchThreshold float64
	IncludePozos      bool
	ForcePublish      bool
	Concurrency       int
	DiscoveryLimit    int
	BackoffUnit       time.Duration
	Paths             Paths
	// Topic overrides the publisher's default topic.
	Topic string
}

// OptionsFromConfig maps the loaded configuration onto run options.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		Sources:           cfg.Run.Sources,
		Overrides:         cfg.Run.SourceOverrides,
		Retries:           cfg.Run.Retries,
		Timeout:           cfg.Run.Timeout,
		Deadline:          cfg.Run.Deadline,
		FailFast:          cfg.Run.FailFast,
		MismatchThreshold: cfg.Run.MismatchThreshold,
		IncludePozos:      cfg.Run.IncludePozos,
		ForcePublish:      cfg.Run.ForcePublish,
		Concurrency:       cfg.Run.Concurrency,
		DiscoveryLimit:    cfg.Run.DiscoveryLimit,
		BackoffUnit:       cfg.Run.BackoffUnit,
		Topic:             cfg.PubSub.TopicName,
		Paths: Paths{
			RawDir:           cfg.Output.RawDir,
			Normalized:       cfg.Output.NormalizedPath,
			ComparisonReport: cfg.Output.ComparisonReportPath,
			Summary:          cfg.Output.SummaryPath,
			State:            cfg.Output.StatePath,
			Log:              cfg.Output.LogPath,
		},
	}
}

func (o Options) validate() error {
	switch {
	case len(o.Sources) == 0:
		return errors.New("at least one source is required")
	case o.MismatchThreshold < 0 || o.MismatchThreshold > 1:
		return errors.New("mismatch threshold must be within [0, 1]")
	case o.Paths.Normalized == "" || o.Paths.ComparisonReport == "" || o.Paths.Summary == "" || o.Paths.State == "":
		return errors.New("normalized, comparison report, summary and state paths are required")
	}
	return nil
}

func (o Options) normalized() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	overrides := make(map[string]string, len(o.Overrides))
	for k, v := range o.Overrides {
		if v = strings.TrimSpace(v); v != "" {
			overrides[strings.ToLower(k)] = v
		}
	}
	o.Overrides = overrides
	names := make([]string, 0, len(o.Sources))
	for _, s := range o.Sources {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			names = append(names, s)
		}
	}
	o.Sources = names
	return o
}
