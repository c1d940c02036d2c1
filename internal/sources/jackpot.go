package sources

import (
	"context"
	"fmt"

	"github.com/JakeFAU/polla-consensus/internal/parser"
	"github.com/JakeFAU/polla-consensus/internal/polla"
)

// Aggregator reads next-draw jackpot estimates from a community site whose
// first table lists category/amount pairs.
type Aggregator struct {
	SourceName string
	PageURL    string
	Identity   string
	Fetcher    polla.Fetcher
}

// Name implements polla.JackpotAdapter.
func (a *Aggregator) Name() string { return a.SourceName }

// URL implements polla.JackpotAdapter.
func (a *Aggregator) URL() string { return a.PageURL }

// FetchJackpot implements polla.JackpotAdapter.
func (a *Aggregator) FetchJackpot(ctx context.Context) (polla.JackpotRecord, error) {
	res, err := a.Fetcher.Fetch(ctx, polla.FetchRequest{URL: a.PageURL, Identity: a.Identity})
	if err != nil {
		return polla.JackpotRecord{}, fmt.Errorf("fetch %s: %w", a.PageURL, err)
	}
	j, err := parser.ParseJackpotTable(res.Body)
	if err != nil {
		return polla.JackpotRecord{}, fmt.Errorf("parse %s: %w", a.PageURL, err)
	}
	return polla.JackpotRecord{
		Source:      a.SourceName,
		URL:         a.PageURL,
		FetchedAt:   res.FetchedAt,
		Identity:    res.Identity,
		ContentHash: res.ContentHash,
		Amounts:     j.Amounts,
		Sorteo:      j.Sorteo,
		Fecha:       j.Fecha,
		Raw:         res.Body,
	}, nil
}
