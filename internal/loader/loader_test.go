package loader

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/polla-consensus/internal/polla"
	"github.com/JakeFAU/polla-consensus/internal/progress"
)

type fakeAdapter struct {
	name       string
	candidates []string
	resolveErr error

	mu      sync.Mutex
	calls   map[string]int
	results map[string][]outcome
}

type outcome struct {
	result polla.SourceResult
	err    error
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) ResolveCandidateURLs(context.Context, int) ([]string, error) {
	return f.candidates, f.resolveErr
}

func (f *fakeAdapter) FetchAndParse(_ context.Context, url string) (polla.SourceResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	idx := f.calls[url]
	f.calls[url]++
	outs := f.results[url]
	if len(outs) == 0 {
		return polla.SourceResult{}, errors.New("no scripted outcome")
	}
	if idx >= len(outs) {
		idx = len(outs) - 1
	}
	return outs[idx].result, outs[idx].err
}

func goodResult(url string) polla.SourceResult {
	sorteo := 5100
	return polla.SourceResult{
		URL: url,
		Record: polla.SourceRecord{
			URL:        url,
			DrawNumber: &sorteo,
			Categories: map[string]polla.CategoryAmount{"Loto": {PremioCLP: 100, Ganadores: 2}},
		},
	}
}

type eventLog struct {
	mu     sync.Mutex
	events []progress.Event
}

func (e *eventLog) Emit(evt progress.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
}

func (e *eventLog) stages() []progress.Stage {
	out := make([]progress.Stage, 0, len(e.events))
	for _, evt := range e.events {
		out = append(out, evt.Stage)
	}
	return out
}

func newTestLoader(cfg Config, events progress.Emitter) (*Loader, *[]time.Duration) {
	l := New(cfg, events, nil)
	var slept []time.Duration
	l.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return l, &slept
}

func TestBackoffIsLinearAndCapped(t *testing.T) {
	t.Parallel()

	l := New(Config{}, nil, nil)
	assert.Equal(t, 2*time.Second, l.Backoff(1))
	assert.Equal(t, 4*time.Second, l.Backoff(2))
	assert.Equal(t, 10*time.Second, l.Backoff(5))
	assert.Equal(t, 10*time.Second, l.Backoff(9))
}

func TestLoadOverrideRetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	url := "https://example.com/override"
	adapter := &fakeAdapter{
		name:       "t13",
		candidates: []string{"https://example.com/ignored"},
		results: map[string][]outcome{
			url: {
				{err: errors.New("connection reset")},
				{err: polla.ErrNoData},
				{result: goodResult(url)},
			},
		},
	}
	events := &eventLog{}
	l, slept := newTestLoader(Config{Retries: 3}, events)

	res, err := l.Load(context.Background(), adapter, url)
	require.NoError(t, err)
	assert.Equal(t, "t13", res.Name)
	assert.Equal(t, url, res.URL)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, *slept)
	assert.Equal(t, []progress.Stage{
		progress.StageSourceError,
		progress.StageSourceError,
		progress.StageSourceSuccess,
	}, events.stages())
	assert.Equal(t, 1, events.events[0].Attrs["attempt"])
	assert.Equal(t, 1, events.events[2].Attrs["premio_rows"])
	assert.Zero(t, adapter.calls["https://example.com/ignored"])
}

func TestLoadFallsThroughCandidates(t *testing.T) {
	t.Parallel()

	first, second := "https://example.com/a", "https://example.com/b"
	adapter := &fakeAdapter{
		name:       "24h",
		candidates: []string{first, second},
		results: map[string][]outcome{
			first:  {{err: errors.New("timeout")}},
			second: {{result: goodResult(second)}},
		},
	}
	l, _ := newTestLoader(Config{Retries: 2}, nil)

	res, err := l.Load(context.Background(), adapter, "")
	require.NoError(t, err)
	assert.Equal(t, second, res.URL)
	assert.Equal(t, 2, adapter.calls[first])
}

func TestLoadExhausted(t *testing.T) {
	t.Parallel()

	url := "https://example.com/a"
	adapter := &fakeAdapter{
		name:       "t13",
		candidates: []string{url},
		results:    map[string][]outcome{url: {{err: errors.New("boom")}}},
	}
	events := &eventLog{}
	l, slept := newTestLoader(Config{Retries: 3}, events)

	_, err := l.Load(context.Background(), adapter, "")
	var srcErr *polla.SourceError
	require.ErrorAs(t, err, &srcErr)
	assert.Equal(t, polla.KindExhausted, srcErr.Kind)
	assert.Equal(t, url, srcErr.URL)
	assert.ErrorIs(t, err, polla.ErrSourceExhausted)
	assert.Len(t, *slept, 2)
	assert.Len(t, events.events, 3)
}

func TestLoadPermanentErrorIsNotRetried(t *testing.T) {
	t.Parallel()

	url := "https://example.com/a"
	adapter := &fakeAdapter{
		name:    "t13",
		results: map[string][]outcome{url: {{err: polla.Permanent(errors.New("robots.txt disallows"))}}},
	}
	l, slept := newTestLoader(Config{Retries: 5}, nil)

	_, err := l.Load(context.Background(), adapter, url)
	require.Error(t, err)
	assert.Equal(t, 1, adapter.calls[url])
	assert.Empty(t, *slept)
}

func TestLoadRejectsEmptyAndNegativeRecords(t *testing.T) {
	t.Parallel()

	url := "https://example.com/a"
	negative := goodResult(url)
	negative.Record.Categories = map[string]polla.CategoryAmount{"Loto": {PremioCLP: -5}}
	adapter := &fakeAdapter{
		name: "t13",
		results: map[string][]outcome{url: {
			{result: polla.SourceResult{}},
			{result: negative},
		}},
	}
	l, _ := newTestLoader(Config{Retries: 3}, nil)

	_, err := l.Load(context.Background(), adapter, url)
	require.ErrorIs(t, err, polla.ErrInvalidAmount)
	assert.Equal(t, 2, adapter.calls[url])
}

func TestLoadMissingURL(t *testing.T) {
	t.Parallel()

	events := &eventLog{}
	l, _ := newTestLoader(Config{}, events)

	_, err := l.Load(context.Background(), &fakeAdapter{name: "24h"}, "")
	var srcErr *polla.SourceError
	require.ErrorAs(t, err, &srcErr)
	assert.Equal(t, polla.KindMissingURL, srcErr.Kind)
	assert.ErrorIs(t, err, polla.ErrMissingURL)
	assert.Equal(t, []progress.Stage{progress.StageSourceMissingURL}, events.stages())
}

func TestLoadDiscoveryFailure(t *testing.T) {
	t.Parallel()

	l, slept := newTestLoader(Config{Retries: 2}, nil)
	_, err := l.Load(context.Background(), &fakeAdapter{name: "24h", resolveErr: errors.New("index down")}, "")
	var srcErr *polla.SourceError
	require.ErrorAs(t, err, &srcErr)
	assert.Equal(t, polla.KindExhausted, srcErr.Kind)
	assert.Len(t, *slept, 1)
}

func TestLoadHonorsCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	url := "https://example.com/a"
	adapter := &fakeAdapter{name: "t13", results: map[string][]outcome{url: {{result: goodResult(url)}}}}
	l, _ := newTestLoader(Config{Retries: 3}, nil)

	_, err := l.Load(ctx, adapter, url)
	var srcErr *polla.SourceError
	require.ErrorAs(t, err, &srcErr)
	assert.Equal(t, polla.KindTransient, srcErr.Kind)
	assert.Zero(t, adapter.calls[url])
}

type fakeJackpot struct {
	calls int
	recs  []polla.JackpotRecord
	errs  []error
}

func (f *fakeJackpot) Name() string { return "openloto" }

func (f *fakeJackpot) URL() string { return "https://example.com/pozo" }

func (f *fakeJackpot) FetchJackpot(context.Context) (polla.JackpotRecord, error) {
	i := f.calls
	f.calls++
	return f.recs[i], f.errs[i]
}

func TestLoadJackpot(t *testing.T) {
	t.Parallel()

	adapter := &fakeJackpot{
		recs: []polla.JackpotRecord{{}, {Amounts: map[string]int64{"Loto": 1000}}},
		errs: []error{errors.New("reset"), nil},
	}
	events := &eventLog{}
	l, _ := newTestLoader(Config{Retries: 2}, events)

	rec, err := l.LoadJackpot(context.Background(), adapter)
	require.NoError(t, err)
	assert.Equal(t, "openloto", rec.Source)
	assert.Equal(t, "https://example.com/pozo", rec.URL)
	assert.Equal(t, []progress.Stage{progress.StageSourceError, progress.StageSourceSuccess}, events.stages())
}

func TestLoadJackpotEmpty(t *testing.T) {
	t.Parallel()

	adapter := &fakeJackpot{recs: []polla.JackpotRecord{{}}, errs: []error{nil}}
	l, _ := newTestLoader(Config{Retries: 1}, nil)
	_, err := l.LoadJackpot(context.Background(), adapter)
	require.ErrorIs(t, err, polla.ErrNoData)
}
