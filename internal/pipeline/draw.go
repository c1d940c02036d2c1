package pipeline

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/JakeFAU/polla-consensus/internal/artifacts"
	"github.com/JakeFAU/polla-consensus/internal/consensus"
	"github.com/JakeFAU/polla-consensus/internal/decision"
	"github.com/JakeFAU/polla-consensus/internal/polla"
	"github.com/JakeFAU/polla-consensus/internal/progress"
	"github.com/JakeFAU/polla-consensus/internal/sources"
	"github.com/JakeFAU/polla-consensus/internal/state"
)

func (ru *run) runDraw(ctx context.Context, plan sources.Plan) (Outcome, error) {
	names := plan.Names()
	loaded, errs, err := loadAll(ctx, len(plan.Draws), ru.opts.Concurrency, ru.opts.FailFast,
		func(ctx context.Context, i int) (polla.SourceResult, error) {
			adapter := plan.Draws[i]
			return ru.loader.Load(ctx, adapter, ru.opts.Overrides[adapter.Name()])
		})
	failures := failuresOf(names, errs)
	if err != nil {
		return ru.abort(names, failures, nil, ReasonAborted, err)
	}

	var results []polla.SourceResult
	for i, e := range errs {
		if e == nil {
			results = append(results, loaded[i])
		}
	}
	if len(results) == 0 {
		return ru.noResults(names, failures)
	}

	views := make(map[string]map[string]polla.CategoryAmount, len(results))
	rows := 0
	for _, res := range results {
		ru.saveRaw(ctx, func(ctx context.Context) error { return artifacts.SaveRaw(ctx, ru.deps.Raw, res) }, res.Name)
		views[res.Name] = res.Record.Categories
		rows += len(res.Record.Categories)
	}
	ru.events.Emit(progress.Event{
		Stage: progress.StagePremiosParsed,
		Attrs: map[string]any{"sources": len(results), "rows": rows},
	})

	built := consensus.Build(views)
	if len(built.Rows) == 0 {
		return ru.abort(names, failures, drawSummaries(results), ReasonNoCategories, polla.ErrNoCategories)
	}
	ru.events.Emit(progress.Event{
		Stage: progress.StagePremiosConsensus,
		Attrs: map[string]any{
			"categories":     len(built.Rows),
			"mismatches":     len(built.Mismatches),
			"mismatch_ratio": built.Ratio,
		},
	})

	record := ru.drawRecord(results, built.Rows)
	if ru.opts.IncludePozos {
		ru.enrichWithPozos(ctx, &record)
	}

	previous, err := ru.tracker.Load()
	if err != nil {
		return Outcome{}, err
	}
	changed := state.PrizesChanged(record, previous, state.ModeDraw)
	published := state.AlreadyPublished(record, previous, state.ModeDraw)

	d := decision.FromConsensus(len(built.Rows), len(built.Mismatches), built.Ratio, ru.opts.MismatchThreshold)
	d = decision.GateOnPublished(d, published, ru.opts.ForcePublish)
	record.Provenance.Decision = d.Status

	report := polla.ComparisonReport{
		APIVersion:    polla.APIVersion,
		Run:           ru.runInfo(names),
		LastDraw:      polla.LastDraw{Sorteo: record.Sorteo, Fecha: record.Fecha},
		Decision:      d,
		PrizesChanged: changed,
		Mismatches:    built.Mismatches,
		Sources:       drawSummaries(results),
		Failures:      nonNilFailures(failures),
	}
	return ru.persist(record, report, ru.summary(d, changed))
}

func drawSummaries(results []polla.SourceResult) map[string]polla.SourceSummary {
	out := make(map[string]polla.SourceSummary, len(results))
	for _, res := range results {
		out[res.Name] = polla.SourceSummary{
			URL:     res.URL,
			Sorteo:  res.Record.DrawNumber,
			Fecha:   res.Record.DrawDate,
			Premios: len(res.Record.Categories),
		}
	}
	return out
}

func (ru *run) drawRecord(results []polla.SourceResult, rows []polla.ConsensusRow) polla.ConsensusRecord {
	sorteos := make([]*int, 0, len(results))
	fechas := make([]*string, 0, len(results))
	prov := make([]polla.SourceProvenance, 0, len(results))
	for _, res := range results {
		sorteos = append(sorteos, res.Record.DrawNumber)
		fechas = append(fechas, res.Record.DrawDate)
		prov = append(prov, polla.SourceProvenance{
			Source:      res.Name,
			URL:         res.URL,
			ContentHash: res.Record.ContentHash,
			FetchedAt:   res.Record.FetchedAt,
			Identity:    res.Record.Identity,
		})
	}
	return polla.ConsensusRecord{
		Sorteo:  maxSorteo(sorteos),
		Fecha:   maxFecha(fechas),
		Fuente:  results[0].URL,
		Premios: rows,
		Provenance: polla.Provenance{
			RunID:       ru.id,
			GeneratedAt: ru.generatedAt,
			Sources:     prov,
		},
	}
}

// enrichWithPozos attaches next-draw estimates. Aggregator failures are
// logged and never affect the draw decision.
func (ru *run) enrichWithPozos(ctx context.Context, record *polla.ConsensusRecord) {
	adapters := ru.deps.Registry.PozosAdapters()
	loaded, errs, _ := loadAll(ctx, len(adapters), ru.opts.Concurrency, false,
		func(ctx context.Context, i int) (polla.JackpotRecord, error) {
			return ru.loader.LoadJackpot(ctx, adapters[i])
		})
	var jackpots []polla.JackpotRecord
	for i, e := range errs {
		if e != nil {
			ru.logger.Warn("jackpot aggregator failed", zap.String("source", adapters[i].Name()), zap.Error(e))
			continue
		}
		jackpots = append(jackpots, loaded[i])
	}
	merged, prov := mergePozos(jackpots)
	if len(merged) == 0 {
		return
	}
	for _, j := range jackpots {
		ru.saveRaw(ctx, func(ctx context.Context) error { return artifacts.SaveRawJackpot(ctx, ru.deps.Raw, j) }, j.Source)
	}
	record.PozosProximo = merged
	record.Provenance.Pozos = prov
	ru.events.Emit(progress.Event{
		Stage: progress.StagePozosEnriched,
		Attrs: map[string]any{"categories": len(merged), "sources": len(jackpots)},
	})
}

// mergePozos merges estimates first-wins per category in priority order. The
// first aggregator is the primary in provenance.
func mergePozos(jackpots []polla.JackpotRecord) (map[string]int64, *polla.PozosProvenance) {
	if len(jackpots) == 0 {
		return nil, nil
	}
	merged := map[string]int64{}
	prov := &polla.PozosProvenance{}
	for i, j := range jackpots {
		keys := make([]string, 0, len(j.Amounts))
		for k := range j.Amounts {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if _, ok := merged[k]; !ok {
				merged[k] = j.Amounts[k]
			}
		}
		desc := polla.PozoDescriptor{
			Source:    j.Source,
			Fuente:    j.URL,
			FetchedAt: j.FetchedAt,
			Identity:  j.Identity,
			Estimado:  true,
		}
		if i == 0 {
			prov.Primary = desc
		} else {
			prov.Alternatives = append(prov.Alternatives, desc)
		}
	}
	return merged, prov
}
