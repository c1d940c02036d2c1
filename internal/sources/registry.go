package sources

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/JakeFAU/polla-consensus/internal/config"
	"github.com/JakeFAU/polla-consensus/internal/polla"
)

// Selection names accepted in run.sources besides individual draw sources.
const (
	SelectAll   = "all"
	SelectPozos = "pozos"
)

// Registry maps source names to adapters. It is built once at startup.
type Registry struct {
	draws    map[string]polla.SourceAdapter
	jackpots map[string]polla.JackpotAdapter
}

// Plan is a resolved source selection. Exactly one of Draws or Jackpots is set.
type Plan struct {
	Draws    []polla.SourceAdapter
	Jackpots []polla.JackpotAdapter
}

// JackpotMode reports whether the plan aggregates estimates instead of
// reconciling settled draws.
func (p Plan) JackpotMode() bool {
	return len(p.Jackpots) > 0
}

// Names lists the selected sources in order.
func (p Plan) Names() []string {
	out := make([]string, 0, len(p.Draws)+len(p.Jackpots))
	for _, a := range p.Draws {
		out = append(out, a.Name())
	}
	for _, a := range p.Jackpots {
		out = append(out, a.Name())
	}
	return out
}

// NewRegistry builds a registry from explicit adapters.
func NewRegistry(draws []polla.SourceAdapter, jackpots []polla.JackpotAdapter) *Registry {
	r := &Registry{
		draws:    make(map[string]polla.SourceAdapter, len(draws)),
		jackpots: make(map[string]polla.JackpotAdapter, len(jackpots)),
	}
	for _, a := range draws {
		r.draws[a.Name()] = a
	}
	for _, a := range jackpots {
		r.jackpots[a.Name()] = a
	}
	return r
}

// NewDefaultRegistry wires the known publishers to fetcher.
func NewDefaultRegistry(cfg config.SourcesConfig, fetcher polla.Fetcher, logger *zap.Logger) *Registry {
	return NewRegistry(
		[]polla.SourceAdapter{
			&T13{URLs: cfg.T13URLs, Identity: cfg.T13Identity, Fetcher: fetcher},
			&H24{
				IndexURL:         cfg.H24IndexURL,
				Identity:         cfg.H24Identity,
				FallbackIdentity: cfg.T13Identity,
				Fetcher:          fetcher,
				Logger:           logger,
			},
		},
		[]polla.JackpotAdapter{
			&Aggregator{SourceName: NameResultadosLoto, PageURL: cfg.ResultadosLotoURL, Identity: cfg.T13Identity, Fetcher: fetcher},
			&Aggregator{SourceName: NameOpenLoto, PageURL: cfg.OpenLotoURL, Identity: cfg.T13Identity, Fetcher: fetcher},
		},
	)
}

// DrawNames returns the registered draw sources, sorted.
func (r *Registry) DrawNames() []string {
	out := make([]string, 0, len(r.draws))
	for name := range r.draws {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// JackpotNames returns the registered aggregators, sorted.
func (r *Registry) JackpotNames() []string {
	out := make([]string, 0, len(r.jackpots))
	for name := range r.jackpots {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Draw looks up one draw adapter.
func (r *Registry) Draw(name string) (polla.SourceAdapter, bool) {
	a, ok := r.draws[name]
	return a, ok
}

// Jackpot looks up one aggregator.
func (r *Registry) Jackpot(name string) (polla.JackpotAdapter, bool) {
	a, ok := r.jackpots[name]
	return a, ok
}

// PozosAdapters returns the aggregators in merge priority order.
func (r *Registry) PozosAdapters() []polla.JackpotAdapter {
	var out []polla.JackpotAdapter
	for _, name := range []string{NameResultadosLoto, NameOpenLoto} {
		if a, ok := r.jackpots[name]; ok {
			out = append(out, a)
		}
	}
	return out
}

// Resolve turns run.sources into a Plan. "all" expands to every draw source
// in name order, "pozos" selects both aggregators, and a single aggregator
// name selects just that one. Unknown names and mixes of draw and jackpot
// selections are configuration errors.
func (r *Registry) Resolve(names []string) (Plan, error) {
	var plan Plan
	seen := map[string]bool{}
	addDraw := func(name string) {
		if !seen[name] {
			seen[name] = true
			plan.Draws = append(plan.Draws, r.draws[name])
		}
	}
	addJackpot := func(a polla.JackpotAdapter) {
		if !seen[a.Name()] {
			seen[a.Name()] = true
			plan.Jackpots = append(plan.Jackpots, a)
		}
	}
	for _, name := range names {
		switch {
		case name == SelectAll:
			for _, n := range r.DrawNames() {
				addDraw(n)
			}
		case name == SelectPozos:
			for _, a := range r.PozosAdapters() {
				addJackpot(a)
			}
		case r.draws[name] != nil:
			addDraw(name)
		case r.jackpots[name] != nil:
			addJackpot(r.jackpots[name])
		default:
			return Plan{}, &polla.SourceError{Source: name, Kind: polla.KindConfig, Err: polla.ErrUnsupportedSource}
		}
	}
	if len(plan.Draws) > 0 && len(plan.Jackpots) > 0 {
		return Plan{}, &polla.SourceError{
			Source: fmt.Sprint(names),
			Kind:   polla.KindConfig,
			Err:    fmt.Errorf("%w: draw and jackpot sources cannot be combined", polla.ErrUnsupportedSource),
		}
	}
	if len(plan.Draws) == 0 && len(plan.Jackpots) == 0 {
		return Plan{}, &polla.SourceError{Source: "", Kind: polla.KindConfig, Err: fmt.Errorf("%w: empty selection", polla.ErrUnsupportedSource)}
	}
	return plan, nil
}
