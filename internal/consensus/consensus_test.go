package consensus

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/polla-consensus/internal/polla"
)

func amt(premio, ganadores int64) polla.CategoryAmount {
	return polla.CategoryAmount{PremioCLP: premio, Ganadores: ganadores}
}

func TestBuildMissingCategory(t *testing.T) {
	t.Parallel()

	res := Build(map[string]map[string]polla.CategoryAmount{
		"A": {"Loto": amt(100, 2)},
		"B": {"Loto": amt(100, 2), "Recargado": amt(50, 0)},
	})

	wantRows := []polla.ConsensusRow{
		{Categoria: "Loto", PremioCLP: 100, Ganadores: 2},
		{Categoria: "Recargado", PremioCLP: 50, Ganadores: 0},
	}
	if diff := cmp.Diff(wantRows, res.Rows); diff != "" {
		t.Fatalf("rows mismatch (-want +got):\n%s", diff)
	}
	wantMismatches := []polla.Mismatch{{
		Categoria:      "Recargado",
		Consensus:      polla.ConsensusValue{PremioCLP: 50, Ganadores: 0, Support: 1},
		Disagreeing:    map[string]polla.CategoryAmount{},
		MissingSources: []string{"A"},
		Severity:       polla.SeverityMissing,
	}}
	if diff := cmp.Diff(wantMismatches, res.Mismatches); diff != "" {
		t.Fatalf("mismatches mismatch (-want +got):\n%s", diff)
	}
	assert.InDelta(t, 0.5, res.Ratio, 1e-9)
}

func TestBuildMajorityWins(t *testing.T) {
	t.Parallel()

	res := Build(map[string]map[string]polla.CategoryAmount{
		"a": {"Loto": amt(100, 2)},
		"b": {"Loto": amt(100, 2)},
		"c": {"Loto": amt(999, 2)},
	})

	require.Len(t, res.Rows, 1)
	assert.Equal(t, int64(100), res.Rows[0].PremioCLP)
	require.Len(t, res.Mismatches, 1)
	m := res.Mismatches[0]
	assert.Equal(t, 2, m.Consensus.Support)
	assert.Equal(t, map[string]polla.CategoryAmount{"c": amt(999, 2)}, m.Disagreeing)
	assert.Empty(t, m.MissingSources)
	assert.Equal(t, polla.SeverityDisagreement, m.Severity)
	assert.InDelta(t, 1.0, res.Ratio, 1e-9)
}

func TestBuildTieIsDeterministic(t *testing.T) {
	t.Parallel()

	res := Build(map[string]map[string]polla.CategoryAmount{
		"t13": {"Loto": amt(200, 1)},
		"24h": {"Loto": amt(150, 3)},
	})

	require.Len(t, res.Rows, 1)
	assert.Equal(t, polla.ConsensusRow{Categoria: "Loto", PremioCLP: 150, Ganadores: 3}, res.Rows[0])
	require.Len(t, res.Mismatches, 1)
	assert.Equal(t, polla.SeverityTie, res.Mismatches[0].Severity)
	assert.Equal(t, 1, res.Mismatches[0].Consensus.Support)
	assert.Equal(t, map[string]polla.CategoryAmount{"t13": amt(200, 1)}, res.Mismatches[0].Disagreeing)
}

func TestBuildAgreementHasNoMismatches(t *testing.T) {
	t.Parallel()

	res := Build(map[string]map[string]polla.CategoryAmount{
		"a": {"Loto": amt(100, 2), "Revancha": amt(10, 0)},
		"b": {"Loto": amt(100, 2), "Revancha": amt(10, 0)},
	})
	assert.Len(t, res.Rows, 2)
	assert.Empty(t, res.Mismatches)
	assert.NotNil(t, res.Mismatches)
	assert.Zero(t, res.Ratio)
}

func TestBuildEmptyInput(t *testing.T) {
	t.Parallel()

	res := Build(nil)
	assert.Empty(t, res.Rows)
	assert.Empty(t, res.Mismatches)
	assert.Zero(t, res.Ratio)
}

func TestBuildIsOrderIndependent(t *testing.T) {
	t.Parallel()

	entries := []struct {
		name string
		cats map[string]polla.CategoryAmount
	}{
		{"a", map[string]polla.CategoryAmount{"Loto": amt(100, 2), "Jubilazo": amt(1, 1)}},
		{"b", map[string]polla.CategoryAmount{"Loto": amt(101, 2)}},
		{"c", map[string]polla.CategoryAmount{"Loto": amt(100, 2), "Jubilazo": amt(2, 1)}},
		{"d", map[string]polla.CategoryAmount{"Jubilazo": amt(2, 1)}},
	}
	var baseline Result
	for i := range entries {
		input := make(map[string]map[string]polla.CategoryAmount, len(entries))
		for j := range entries {
			e := entries[(i+j)%len(entries)]
			input[e.name] = e.cats
		}
		got := Build(input)
		if i == 0 {
			baseline = got
			continue
		}
		if diff := cmp.Diff(baseline, got); diff != "" {
			t.Fatalf("rotation %d changed output (-want +got):\n%s", i, diff)
		}
	}
}

func TestBuildAddingDisagreeingSourceKeepsMismatch(t *testing.T) {
	t.Parallel()

	base := map[string]map[string]polla.CategoryAmount{
		"a": {"Loto": amt(100, 2)},
		"b": {"Loto": amt(100, 2)},
		"c": {"Loto": amt(90, 2)},
	}
	before := Build(base)
	require.Len(t, before.Mismatches, 1)

	base["d"] = map[string]polla.CategoryAmount{"Loto": amt(80, 2)}
	after := Build(base)
	require.Len(t, after.Mismatches, 1)
	assert.GreaterOrEqual(t, len(after.Mismatches[0].Disagreeing), len(before.Mismatches[0].Disagreeing))
	assert.Contains(t, after.Mismatches[0].Disagreeing, "c")
}
