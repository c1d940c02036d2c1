// Package consensus merges per-source category maps by majority vote.
//
// Build is pure: the output depends only on the set of (source, category,
// amount) triples, never on map iteration order.
package consensus

import (
	"sort"

	"github.com/JakeFAU/polla-consensus/internal/polla"
)

// Result is the outcome of a consensus pass.
type Result struct {
	Rows       []polla.ConsensusRow
	Mismatches []polla.Mismatch
	Ratio      float64
}

// Build selects the majority value for every category reported by at least
// one source and records a mismatch wherever a source disagreed or was silent.
//
// Ties between equally supported values go to the lowest (premio_clp,
// ganadores) tuple and the mismatch is tagged SeverityTie.
func Build(sources map[string]map[string]polla.CategoryAmount) Result {
	names := sortedKeys(sources)
	categories := unionCategories(sources)

	res := Result{
		Rows:       make([]polla.ConsensusRow, 0, len(categories)),
		Mismatches: make([]polla.Mismatch, 0),
	}
	for _, categoria := range categories {
		reports := make(map[string]polla.CategoryAmount, len(names))
		var missing []string
		for _, name := range names {
			amount, ok := sources[name][categoria]
			if !ok {
				missing = append(missing, name)
				continue
			}
			reports[name] = amount
		}
		if len(reports) == 0 {
			continue
		}

		majority, support, tie := vote(reports)
		res.Rows = append(res.Rows, polla.ConsensusRow{
			Categoria: categoria,
			PremioCLP: majority.PremioCLP,
			Ganadores: majority.Ganadores,
		})

		disagreeing := make(map[string]polla.CategoryAmount)
		for name, amount := range reports {
			if amount != majority {
				disagreeing[name] = amount
			}
		}
		if len(disagreeing) == 0 && len(missing) == 0 {
			continue
		}
		if missing == nil {
			missing = []string{}
		}
		res.Mismatches = append(res.Mismatches, polla.Mismatch{
			Categoria: categoria,
			Consensus: polla.ConsensusValue{
				PremioCLP: majority.PremioCLP,
				Ganadores: majority.Ganadores,
				Support:   support,
			},
			Disagreeing:    disagreeing,
			MissingSources: missing,
			Severity:       severity(tie, len(disagreeing) > 0),
		})
	}
	if len(res.Rows) > 0 {
		res.Ratio = float64(len(res.Mismatches)) / float64(len(res.Rows))
	}
	return res
}

func vote(reports map[string]polla.CategoryAmount) (polla.CategoryAmount, int, bool) {
	counts := make(map[polla.CategoryAmount]int, len(reports))
	for _, amount := range reports {
		counts[amount]++
	}
	values := make([]polla.CategoryAmount, 0, len(counts))
	for amount := range counts {
		values = append(values, amount)
	}
	sort.Slice(values, func(i, j int) bool {
		if counts[values[i]] != counts[values[j]] {
			return counts[values[i]] > counts[values[j]]
		}
		return less(values[i], values[j])
	})
	best := values[0]
	tie := len(values) > 1 && counts[values[1]] == counts[best]
	return best, counts[best], tie
}

func less(a, b polla.CategoryAmount) bool {
	if a.PremioCLP != b.PremioCLP {
		return a.PremioCLP < b.PremioCLP
	}
	return a.Ganadores < b.Ganadores
}

func severity(tie, disagreed bool) polla.Severity {
	switch {
	case tie:
		return polla.SeverityTie
	case disagreed:
		return polla.SeverityDisagreement
	default:
		return polla.SeverityMissing
	}
}

func sortedKeys(sources map[string]map[string]polla.CategoryAmount) []string {
	names := make([]string, 0, len(sources))
	for name := range sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func unionCategories(sources map[string]map[string]polla.CategoryAmount) []string {
	seen := make(map[string]struct{})
	for _, categories := range sources {
		for categoria := range categories {
			seen[categoria] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for categoria := range seen {
		out = append(out, categoria)
	}
	sort.Strings(out)
	return out
}
