package polla

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// APIVersion is stamped on every run summary and comparison report.
const APIVersion = "v1"

// CategoryAmount is the prize amount and winner count one source reported for
// one category.
type CategoryAmount struct {
	PremioCLP int64 `json:"premio_clp"`
	Ganadores int64 `json:"ganadores"`
}

// Validate rejects negative amounts.
func (a CategoryAmount) Validate() error {
	if a.PremioCLP < 0 || a.Ganadores < 0 {
		return fmt.Errorf("%w: premio_clp=%d ganadores=%d", ErrInvalidAmount, a.PremioCLP, a.Ganadores)
	}
	return nil
}

// DrawRecord is the output of a draw parser before fetch metadata is attached.
type DrawRecord struct {
	Categories map[string]CategoryAmount
	Sorteo     *int
	Fecha      *string
	Title      string
}

// Validate checks that the record carries at least one category and no
// negative amounts.
func (r DrawRecord) Validate() error {
	if len(r.Categories) == 0 {
		return ErrNoData
	}
	for name, amount := range r.Categories {
		if err := amount.Validate(); err != nil {
			return fmt.Errorf("category %q: %w", name, err)
		}
	}
	return nil
}

// SourceRecord is one successfully parsed source page.
type SourceRecord struct {
	SourceName  string                    `json:"source"`
	URL         string                    `json:"url"`
	FetchedAt   time.Time                 `json:"fetched_at"`
	ContentHash string                    `json:"content_hash"`
	Identity    string                    `json:"identity"`
	Categories  map[string]CategoryAmount `json:"categories"`
	DrawNumber  *int                      `json:"sorteo"`
	DrawDate    *string                   `json:"fecha"`
	Title       string                    `json:"titulo,omitempty"`
}

// SourceResult bundles a SourceRecord with the raw page it was parsed from.
type SourceResult struct {
	Name   string
	URL    string
	Record SourceRecord
	Raw    []byte
}

// JackpotRecord holds next-draw estimates published by one aggregator.
type JackpotRecord struct {
	Source      string           `json:"source"`
	URL         string           `json:"fuente"`
	FetchedAt   time.Time        `json:"fetched_at"`
	Identity    string           `json:"identity"`
	ContentHash string           `json:"content_hash"`
	Amounts     map[string]int64 `json:"montos"`
	Sorteo      *int             `json:"sorteo,omitempty"`
	Fecha       *string          `json:"fecha,omitempty"`
	Raw         []byte           `json:"-"`
}

// ConsensusRow is the majority value selected for one category.
type ConsensusRow struct {
	Categoria string `json:"categoria"`
	PremioCLP int64  `json:"premio_clp"`
	Ganadores int64  `json:"ganadores"`
}

// Severity classifies a Mismatch.
type Severity string

// Mismatch severities.
const (
	SeverityDisagreement Severity = "disagreement"
	SeverityMissing      Severity = "missing"
	SeverityTie          Severity = "tie"
)

// ConsensusValue is the selected value plus the number of sources backing it.
type ConsensusValue struct {
	PremioCLP int64 `json:"premio_clp"`
	Ganadores int64 `json:"ganadores"`
	Support   int   `json:"support"`
}

// Mismatch records a category where at least one source disagreed with the
// consensus or did not report it.
type Mismatch struct {
	Categoria      string                    `json:"categoria"`
	Consensus      ConsensusValue            `json:"consensus"`
	Disagreeing    map[string]CategoryAmount `json:"disagreeing"`
	MissingSources []string                  `json:"missing_sources"`
	Severity       Severity                  `json:"severity"`
}

// SourceProvenance describes where one input of a consensus record came from.
type SourceProvenance struct {
	Source      string    `json:"source"`
	URL         string    `json:"url"`
	ContentHash string    `json:"content_hash"`
	FetchedAt   time.Time `json:"fetched_at"`
	Identity    string    `json:"identity"`
}

// PozoDescriptor describes one jackpot aggregator used for pozos_proximo.
type PozoDescriptor struct {
	Source    string    `json:"source"`
	Fuente    string    `json:"fuente"`
	FetchedAt time.Time `json:"fetched_at"`
	Identity  string    `json:"identity"`
	Estimado  bool      `json:"estimado"`
}

// PozosProvenance lists the aggregator that won each merge and the ones that
// only filled gaps.
type PozosProvenance struct {
	Primary      PozoDescriptor   `json:"primary"`
	Alternatives []PozoDescriptor `json:"alternatives,omitempty"`
}

// Provenance ties a consensus record to the run and sources that produced it.
type Provenance struct {
	RunID       string             `json:"run_id"`
	GeneratedAt time.Time          `json:"generated_at"`
	Sources     []SourceProvenance `json:"sources"`
	Pozos       *PozosProvenance   `json:"pozos,omitempty"`
	// Decision is the status of the run that persisted the record. Empty in
	// state written before decisions were recorded.
	Decision Status `json:"decision,omitempty"`
}

// ConsensusRecord is the normalized artifact persisted per run. It is not
// modified after Provenance.Decision is stamped.
type ConsensusRecord struct {
	Sorteo       *int             `json:"sorteo"`
	Fecha        *string          `json:"fecha"`
	Fuente       string           `json:"fuente"`
	Premios      []ConsensusRow   `json:"premios"`
	PozosProximo map[string]int64 `json:"pozos_proximo,omitempty"`
	Provenance   Provenance       `json:"provenance"`
}

// PrizeKey is the comparable projection of a consensus row.
type PrizeKey struct {
	Categoria string
	PremioCLP int64
	Ganadores int64
}

// SortedPrizes returns the premios as (categoria, premio, ganadores) tuples in
// a stable order.
func (r ConsensusRecord) SortedPrizes() []PrizeKey {
	out := make([]PrizeKey, 0, len(r.Premios))
	for _, row := range r.Premios {
		out = append(out, PrizeKey{Categoria: row.Categoria, PremioCLP: row.PremioCLP, Ganadores: row.Ganadores})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Categoria != out[j].Categoria {
			return out[i].Categoria < out[j].Categoria
		}
		if out[i].PremioCLP != out[j].PremioCLP {
			return out[i].PremioCLP < out[j].PremioCLP
		}
		return out[i].Ganadores < out[j].Ganadores
	})
	return out
}

// Status is the verdict of the decision engine.
type Status string

// Decision statuses.
const (
	StatusPublish             Status = "publish"
	StatusPublishWithWarnings Status = "publish_with_warnings"
	StatusPublishForced       Status = "publish_forced"
	StatusQuarantine          Status = "quarantine"
	StatusSkip                Status = "skip"
)

// Publishable reports whether downstream publishers should act on the run.
func (s Status) Publishable() bool {
	return strings.HasPrefix(string(s), "publish")
}

// Decision is the verdict plus the counts that produced it.
type Decision struct {
	Status               Status   `json:"status"`
	Reason               string   `json:"reason,omitempty"`
	MismatchRatio        *float64 `json:"mismatch_ratio,omitempty"`
	TotalCategories      int      `json:"total_categories"`
	MismatchedCategories int      `json:"mismatched_categories"`
}

// Failure is one source that did not produce a result. URL is nil when the
// source failed before a URL was chosen.
type Failure struct {
	Source string  `json:"source"`
	URL    *string `json:"url"`
	Error  string  `json:"error"`
}

// RunInfo echoes the run parameters into the comparison report.
type RunInfo struct {
	ID          string    `json:"id"`
	GeneratedAt time.Time `json:"generated_at"`
	Sources     []string  `json:"sources"`
	Timeout     float64   `json:"timeout"`
	Retries     int       `json:"retries"`
	FailFast    bool      `json:"fail_fast"`
}

// LastDraw identifies the draw a run reconciled.
type LastDraw struct {
	Sorteo *int    `json:"sorteo"`
	Fecha  *string `json:"fecha"`
}

// SourceSummary is the per-source section of the comparison report.
type SourceSummary struct {
	URL     string  `json:"url"`
	Sorteo  *int    `json:"sorteo"`
	Fecha   *string `json:"fecha"`
	Premios int     `json:"premios"`
}

// ComparisonReport is the full audit record of a run.
type ComparisonReport struct {
	APIVersion    string                   `json:"api_version"`
	Run           RunInfo                  `json:"run"`
	LastDraw      LastDraw                 `json:"last_draw"`
	Decision      Decision                 `json:"decision"`
	PrizesChanged bool                     `json:"prizes_changed"`
	Mismatches    []Mismatch               `json:"mismatches"`
	Sources       map[string]SourceSummary `json:"sources"`
	Failures      []Failure                `json:"failures"`
}

// RunSummary is the contract consumed by the downstream publisher.
type RunSummary struct {
	RunID            string    `json:"run_id"`
	GeneratedAt      time.Time `json:"generated_at"`
	Decision         Decision  `json:"decision"`
	PrizesChanged    bool      `json:"prizes_changed"`
	NormalizedPath   string    `json:"normalized_path"`
	ComparisonReport string    `json:"comparison_report"`
	RawDir           string    `json:"raw_dir"`
	StatePath        string    `json:"state_path"`
	Publish          bool      `json:"publish"`
	APIVersion       string    `json:"api_version"`
}
