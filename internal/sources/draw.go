// Package sources binds publishers to the fetcher and parsers and exposes
// them through a static registry.
package sources

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/polla-consensus/internal/parser"
	"github.com/JakeFAU/polla-consensus/internal/polla"
)

// Source names.
const (
	NameT13            = "t13"
	NameH24            = "24h"
	NameResultadosLoto = "resultadosloto"
	NameOpenLoto       = "openloto"
)

type drawParser func([]byte) (polla.DrawRecord, error)

func fetchDraw(ctx context.Context, f polla.Fetcher, name, url, identity string, parse drawParser) (polla.SourceResult, error) {
	res, err := f.Fetch(ctx, polla.FetchRequest{URL: url, Identity: identity})
	if err != nil {
		return polla.SourceResult{}, fmt.Errorf("fetch %s: %w", url, err)
	}
	rec, err := parse(res.Body)
	if err != nil {
		return polla.SourceResult{}, fmt.Errorf("parse %s: %w", url, err)
	}
	return polla.SourceResult{
		Name: name,
		URL:  url,
		Raw:  res.Body,
		Record: polla.SourceRecord{
			SourceName:  name,
			URL:         url,
			FetchedAt:   res.FetchedAt,
			ContentHash: res.ContentHash,
			Identity:    res.Identity,
			Categories:  rec.Categories,
			DrawNumber:  rec.Sorteo,
			DrawDate:    rec.Fecha,
			Title:       rec.Title,
		},
	}, nil
}

// T13 reads draw articles from configured T13 URLs.
type T13 struct {
	URLs     []string
	Identity string
	Fetcher  polla.Fetcher
}

// Name implements polla.SourceAdapter.
func (a *T13) Name() string { return NameT13 }

// ResolveCandidateURLs returns the configured URLs; T13 has no index page.
func (a *T13) ResolveCandidateURLs(_ context.Context, limit int) ([]string, error) {
	urls := append([]string(nil), a.URLs...)
	if limit > 0 && len(urls) > limit {
		urls = urls[:limit]
	}
	return urls, nil
}

// FetchAndParse implements polla.SourceAdapter.
func (a *T13) FetchAndParse(ctx context.Context, url string) (polla.SourceResult, error) {
	return fetchDraw(ctx, a.Fetcher, NameT13, url, a.Identity, parser.ParseT13Draw)
}

// H24 discovers draw articles on the 24horas tag index.
type H24 struct {
	IndexURL string
	Identity string
	// FallbackIdentity is tried once when a page parses without prize rows;
	// 24horas serves the T13 layout to that identity.
	FallbackIdentity string
	Fetcher          polla.Fetcher
	Logger           *zap.Logger
}

// Name implements polla.SourceAdapter.
func (a *H24) Name() string { return NameH24 }

// ResolveCandidateURLs fetches the index and returns up to limit article URLs.
func (a *H24) ResolveCandidateURLs(ctx context.Context, limit int) ([]string, error) {
	if a.IndexURL == "" {
		return nil, nil
	}
	res, err := a.Fetcher.Fetch(ctx, polla.FetchRequest{URL: a.IndexURL, Identity: a.Identity})
	if err != nil {
		return nil, fmt.Errorf("fetch index: %w", err)
	}
	return parser.DiscoverH24Links(res.Body, a.IndexURL, limit)
}

// FetchAndParse implements polla.SourceAdapter.
func (a *H24) FetchAndParse(ctx context.Context, url string) (polla.SourceResult, error) {
	result, err := fetchDraw(ctx, a.Fetcher, NameH24, url, a.Identity, parser.ParseH24Draw)
	if err == nil || !errors.Is(err, polla.ErrNoData) ||
		a.FallbackIdentity == "" || a.FallbackIdentity == a.Identity {
		return result, err
	}
	if a.Logger != nil {
		a.Logger.Debug("no prize rows, retrying with fallback identity", zap.String("url", url))
	}
	return fetchDraw(ctx, a.Fetcher, NameH24, url, a.FallbackIdentity, parser.ParseH24Draw)
}
