package sources

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/polla-consensus/internal/config"
	"github.com/JakeFAU/polla-consensus/internal/polla"
)

type page struct {
	body string
	err  error
}

// fakeFetcher serves pages keyed by URL, or by "identity|URL" when a page
// depends on the declared identity.
type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string]page
	calls []polla.FetchRequest
}

func (f *fakeFetcher) Fetch(_ context.Context, req polla.FetchRequest) (polla.FetchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	p, ok := f.pages[req.Identity+"|"+req.URL]
	if !ok {
		p, ok = f.pages[req.URL]
	}
	if !ok {
		return polla.FetchResult{}, polla.Permanent(errors.New("not found"))
	}
	if p.err != nil {
		return polla.FetchResult{}, p.err
	}
	return polla.FetchResult{
		URL:         req.URL,
		StatusCode:  200,
		Body:        []byte(p.body),
		FetchedAt:   time.Date(2025, 9, 30, 23, 0, 0, 0, time.UTC),
		ContentHash: "hash-" + req.URL,
		Identity:    req.Identity,
	}, nil
}

const winnersPage = `<html><head><title>Loto 5322</title></head><body><p>Sorteo 5322</p>
<h2>Ganadores</h2><table><tr><td>Quina</td><td>$100</td><td>2</td></tr></table></body></html>`

func TestT13FetchAndParse(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{pages: map[string]page{"https://t13/a": {body: winnersPage}}}
	a := &T13{URLs: []string{"https://t13/a", "https://t13/b"}, Identity: "t13-bot", Fetcher: f}

	urls, err := a.ResolveCandidateURLs(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://t13/a"}, urls)

	res, err := a.FetchAndParse(context.Background(), "https://t13/a")
	require.NoError(t, err)
	assert.Equal(t, NameT13, res.Name)
	assert.Equal(t, "t13-bot", res.Record.Identity)
	assert.Equal(t, "hash-https://t13/a", res.Record.ContentHash)
	assert.Equal(t, polla.CategoryAmount{PremioCLP: 100, Ganadores: 2}, res.Record.Categories["Quina"])
	require.NotNil(t, res.Record.DrawNumber)
	assert.Equal(t, 5322, *res.Record.DrawNumber)
	assert.Equal(t, winnersPage, string(res.Raw))
}

func TestH24DiscoversAndFallsBackToT13Identity(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{pages: map[string]page{
		"https://24h/index":                      {body: `<a href="/resultados-loto-sorteo-5322.html">x</a>`},
		"h24-bot|https://24h/resultados-loto-sorteo-5322.html": {body: `<html><body><p>Cargando...</p></body></html>`},
		"t13-bot|https://24h/resultados-loto-sorteo-5322.html": {body: winnersPage},
	}}
	a := &H24{IndexURL: "https://24h/index", Identity: "h24-bot", FallbackIdentity: "t13-bot", Fetcher: f}

	urls, err := a.ResolveCandidateURLs(context.Background(), 5)
	require.NoError(t, err)
	require.Equal(t, []string{"https://24h/resultados-loto-sorteo-5322.html"}, urls)

	res, err := a.FetchAndParse(context.Background(), urls[0])
	require.NoError(t, err)
	assert.Equal(t, "t13-bot", res.Record.Identity)
	assert.Len(t, res.Record.Categories, 1)
}

func TestH24DoesNotRetryFetchErrors(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{pages: map[string]page{"https://24h/x": {err: errors.New("connection reset")}}}
	a := &H24{Identity: "h24-bot", FallbackIdentity: "t13-bot", Fetcher: f}

	_, err := a.FetchAndParse(context.Background(), "https://24h/x")
	require.Error(t, err)
	assert.Len(t, f.calls, 1)
}

func TestH24WithoutIndex(t *testing.T) {
	t.Parallel()

	urls, err := (&H24{}).ResolveCandidateURLs(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, urls)
}

func TestAggregatorFetchJackpot(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{pages: map[string]page{
		"https://pozos": {body: `<table><tr><td>Loto</td><td>$4.300.000.000</td></tr></table>`},
	}}
	a := &Aggregator{SourceName: NameOpenLoto, PageURL: "https://pozos", Fetcher: f}

	rec, err := a.FetchJackpot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, NameOpenLoto, rec.Source)
	assert.Equal(t, "https://pozos", rec.URL)
	assert.Equal(t, map[string]int64{"Loto": 4300000000}, rec.Amounts)
	assert.NotEmpty(t, rec.Raw)
}

func TestRegistryResolve(t *testing.T) {
	t.Parallel()

	reg := NewDefaultRegistry(config.SourcesConfig{}, &fakeFetcher{}, nil)

	plan, err := reg.Resolve([]string{"all"})
	require.NoError(t, err)
	assert.Equal(t, []string{"24h", "t13"}, plan.Names())
	assert.False(t, plan.JackpotMode())

	plan, err = reg.Resolve([]string{"t13", "t13", "24h"})
	require.NoError(t, err)
	assert.Equal(t, []string{"t13", "24h"}, plan.Names())

	plan, err = reg.Resolve([]string{"pozos"})
	require.NoError(t, err)
	assert.Equal(t, []string{"resultadosloto", "openloto"}, plan.Names())
	assert.True(t, plan.JackpotMode())

	plan, err = reg.Resolve([]string{"openloto"})
	require.NoError(t, err)
	assert.Equal(t, []string{"openloto"}, plan.Names())
}

func TestRegistryResolveErrors(t *testing.T) {
	t.Parallel()

	reg := NewDefaultRegistry(config.SourcesConfig{}, &fakeFetcher{}, nil)

	for _, names := range [][]string{{"lottery-x"}, {"t13", "pozos"}, {}} {
		_, err := reg.Resolve(names)
		require.ErrorIs(t, err, polla.ErrUnsupportedSource, "%v", names)
		var srcErr *polla.SourceError
		require.ErrorAs(t, err, &srcErr)
		assert.Equal(t, polla.KindConfig, srcErr.Kind)
	}
}

func TestRegistryLookups(t *testing.T) {
	t.Parallel()

	reg := NewDefaultRegistry(config.SourcesConfig{OpenLotoURL: "https://ol"}, &fakeFetcher{}, nil)

	draw, ok := reg.Draw("t13")
	require.True(t, ok)
	assert.Equal(t, "t13", draw.Name())
	_, ok = reg.Draw("openloto")
	assert.False(t, ok)

	jackpot, ok := reg.Jackpot("openloto")
	require.True(t, ok)
	assert.Equal(t, "https://ol", jackpot.URL())
	_, ok = reg.Jackpot("t13")
	assert.False(t, ok)
}
