package pipeline

import (
	"context"

	"github.com/JakeFAU/polla-consensus/internal/artifacts"
	"github.com/JakeFAU/polla-consensus/internal/decision"
	"github.com/JakeFAU/polla-consensus/internal/polla"
	"github.com/JakeFAU/polla-consensus/internal/progress"
	"github.com/JakeFAU/polla-consensus/internal/sources"
	"github.com/JakeFAU/polla-consensus/internal/state"
)

// runJackpot aggregates next-draw estimates. There is nothing to
// cross-validate, so the decision only reflects whether the merged record
// was already published.
func (ru *run) runJackpot(ctx context.Context, plan sources.Plan) (Outcome, error) {
	names := plan.Names()
	loaded, errs, err := loadAll(ctx, len(plan.Jackpots), ru.opts.Concurrency, ru.opts.FailFast,
		func(ctx context.Context, i int) (polla.JackpotRecord, error) {
			return ru.loader.LoadJackpot(ctx, plan.Jackpots[i])
		})
	failures := failuresOf(names, errs)
	if err != nil {
		return ru.abort(names, failures, nil, ReasonAborted, err)
	}

	var jackpots []polla.JackpotRecord
	for i, e := range errs {
		if e == nil {
			jackpots = append(jackpots, loaded[i])
		}
	}
	if len(jackpots) == 0 {
		return ru.noResults(names, failures)
	}
	for _, j := range jackpots {
		ru.saveRaw(ctx, func(ctx context.Context) error { return artifacts.SaveRawJackpot(ctx, ru.deps.Raw, j) }, j.Source)
	}

	merged, pozosProv := mergePozos(jackpots)
	ru.events.Emit(progress.Event{
		Stage: progress.StagePozosEnriched,
		Attrs: map[string]any{"categories": len(merged), "sources": len(jackpots)},
	})

	sorteos := make([]*int, 0, len(jackpots))
	fechas := make([]*string, 0, len(jackpots))
	prov := make([]polla.SourceProvenance, 0, len(jackpots))
	for _, j := range jackpots {
		sorteos = append(sorteos, j.Sorteo)
		fechas = append(fechas, j.Fecha)
		prov = append(prov, polla.SourceProvenance{
			Source:      j.Source,
			URL:         j.URL,
			ContentHash: j.ContentHash,
			FetchedAt:   j.FetchedAt,
			Identity:    j.Identity,
		})
	}
	record := polla.ConsensusRecord{
		Sorteo:       maxSorteo(sorteos),
		Fecha:        maxFecha(fechas),
		Fuente:       jackpots[0].URL,
		Premios:      []polla.ConsensusRow{},
		PozosProximo: merged,
		Provenance: polla.Provenance{
			RunID:       ru.id,
			GeneratedAt: ru.generatedAt,
			Sources:     prov,
			Pozos:       pozosProv,
		},
	}

	previous, err := ru.tracker.Load()
	if err != nil {
		return Outcome{}, err
	}
	changed := state.PrizesChanged(record, previous, state.ModeJackpot)
	published := state.AlreadyPublished(record, previous, state.ModeJackpot)
	d := decision.FromJackpot(len(merged), published, ru.opts.ForcePublish)
	record.Provenance.Decision = d.Status

	report := polla.ComparisonReport{
		APIVersion:    polla.APIVersion,
		Run:           ru.runInfo(names),
		LastDraw:      polla.LastDraw{Sorteo: record.Sorteo, Fecha: record.Fecha},
		Decision:      d,
		PrizesChanged: changed,
		Mismatches:    []polla.Mismatch{},
		Sources:       make(map[string]polla.SourceSummary, len(jackpots)),
		Failures:      nonNilFailures(failures),
	}
	for _, j := range jackpots {
		report.Sources[j.Source] = polla.SourceSummary{
			URL:     j.URL,
			Sorteo:  j.Sorteo,
			Fecha:   j.Fecha,
			Premios: len(j.Amounts),
		}
	}
	return ru.persist(record, report, ru.summary(d, changed))
}
