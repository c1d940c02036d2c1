// Package loader turns a source adapter into exactly one SourceResult or one
// structured failure, retrying each candidate URL with linear backoff.
package loader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/polla-consensus/internal/polla"
	"github.com/JakeFAU/polla-consensus/internal/progress"
)

const (
	defaultDiscoveryLimit = 5
	maxBackoffUnits       = 10
)

// Config controls retry behavior.
type Config struct {
	// Retries is the number of attempts per candidate URL; values below 1
	// mean a single attempt.
	Retries int
	// DiscoveryLimit caps how many candidate URLs are requested.
	DiscoveryLimit int
	// BackoffUnit scales the min(2*attempt, 10) backoff; defaults to 1s.
	BackoffUnit time.Duration
}

// Loader loads sources on behalf of one run.
type Loader struct {
	cfg     Config
	emitter progress.Emitter
	logger  *zap.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// New builds a Loader that reports attempts to emitter.
func New(cfg Config, emitter progress.Emitter, logger *zap.Logger) *Loader {
	if cfg.Retries < 1 {
		cfg.Retries = 1
	}
	if cfg.DiscoveryLimit <= 0 {
		cfg.DiscoveryLimit = defaultDiscoveryLimit
	}
	if cfg.BackoffUnit <= 0 {
		cfg.BackoffUnit = time.Second
	}
	if emitter == nil {
		emitter = progress.Discard
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{cfg: cfg, emitter: emitter, logger: logger, sleep: sleepWithContext}
}

// SetSleep replaces the backoff sleeper.
func (l *Loader) SetSleep(sleep func(ctx context.Context, d time.Duration) error) {
	l.sleep = sleep
}

// Backoff returns the wait after a failed attempt (1-based).
func (l *Loader) Backoff(attempt int) time.Duration {
	units := 2 * attempt
	if units > maxBackoffUnits {
		units = maxBackoffUnits
	}
	return time.Duration(units) * l.cfg.BackoffUnit
}

// Load resolves candidate URLs for adapter, or uses override verbatim, and
// returns the first one that parses. Failures are always *polla.SourceError.
func (l *Loader) Load(ctx context.Context, adapter polla.SourceAdapter, override string) (polla.SourceResult, error) {
	name := adapter.Name()
	candidates, err := l.candidates(ctx, adapter, override)
	if err != nil {
		return polla.SourceResult{}, err
	}
	if len(candidates) == 0 {
		l.emitter.Emit(progress.Event{Stage: progress.StageSourceMissingURL, Source: name})
		l.logger.Warn("source has no candidate URLs", zap.String("source", name))
		return polla.SourceResult{}, &polla.SourceError{Source: name, Kind: polla.KindMissingURL, Err: polla.ErrMissingURL}
	}

	var lastErr error
	lastURL := ""
	for _, url := range candidates {
		lastURL = url
		var result polla.SourceResult
		err := l.retry(ctx, name, url, func(ctx context.Context) error {
			res, err := adapter.FetchAndParse(ctx, url)
			if err != nil {
				return err
			}
			if err := checkRecord(res.Record); err != nil {
				return err
			}
			result = res
			return nil
		})
		if err == nil {
			if result.Name == "" {
				result.Name = name
			}
			if result.URL == "" {
				result.URL = url
			}
			l.emitter.Emit(progress.Event{
				Stage:  progress.StageSourceSuccess,
				Source: name,
				URL:    result.URL,
				Attrs: map[string]any{
					"sorteo":      result.Record.DrawNumber,
					"premio_rows": len(result.Record.Categories),
				},
			})
			return result, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return polla.SourceResult{}, &polla.SourceError{Source: name, URL: url, Kind: polla.KindTransient, Err: ctxErr}
		}
		lastErr = err
	}
	return polla.SourceResult{}, &polla.SourceError{
		Source: name,
		URL:    lastURL,
		Kind:   polla.KindExhausted,
		Err:    fmt.Errorf("%w: %w", polla.ErrSourceExhausted, lastErr),
	}
}

// LoadJackpot fetches one aggregator with the same retry policy.
func (l *Loader) LoadJackpot(ctx context.Context, adapter polla.JackpotAdapter) (polla.JackpotRecord, error) {
	name := adapter.Name()
	url := adapter.URL()
	var record polla.JackpotRecord
	err := l.retry(ctx, name, url, func(ctx context.Context) error {
		rec, err := adapter.FetchJackpot(ctx)
		if err != nil {
			return err
		}
		if len(rec.Amounts) == 0 {
			return polla.ErrNoData
		}
		for categoria, monto := range rec.Amounts {
			if monto < 0 {
				return fmt.Errorf("category %q: %w", categoria, polla.ErrInvalidAmount)
			}
		}
		record = rec
		return nil
	})
	if err != nil {
		kind := polla.KindExhausted
		if ctx.Err() != nil {
			kind = polla.KindTransient
		}
		return polla.JackpotRecord{}, &polla.SourceError{Source: name, URL: url, Kind: kind, Err: err}
	}
	if record.Source == "" {
		record.Source = name
	}
	if record.URL == "" {
		record.URL = url
	}
	l.emitter.Emit(progress.Event{
		Stage:  progress.StageSourceSuccess,
		Source: name,
		URL:    record.URL,
		Attrs: map[string]any{
			"sorteo":     record.Sorteo,
			"categories": len(record.Amounts),
		},
	})
	return record, nil
}

func (l *Loader) candidates(ctx context.Context, adapter polla.SourceAdapter, override string) ([]string, error) {
	if override != "" {
		return []string{override}, nil
	}
	name := adapter.Name()
	var urls []string
	err := l.retry(ctx, name, "", func(ctx context.Context) error {
		found, err := adapter.ResolveCandidateURLs(ctx, l.cfg.DiscoveryLimit)
		if err != nil {
			return fmt.Errorf("discover candidates: %w", err)
		}
		urls = found
		return nil
	})
	if err != nil {
		kind := polla.KindExhausted
		if ctx.Err() != nil {
			kind = polla.KindTransient
		}
		return nil, &polla.SourceError{Source: name, Kind: kind, Err: err}
	}
	if len(urls) > l.cfg.DiscoveryLimit {
		urls = urls[:l.cfg.DiscoveryLimit]
	}
	return urls, nil
}

// retry runs fn up to cfg.Retries times, emitting source_error per failed
// attempt. Permanent errors and context cancellation stop early.
func (l *Loader) retry(ctx context.Context, name, url string, fn func(context.Context) error) error {
	var err error
	for attempt := 1; attempt <= l.cfg.Retries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("source %s canceled: %w", name, ctxErr)
		}
		err = fn(ctx)
		if err == nil {
			return nil
		}
		l.emitter.Emit(progress.Event{
			Stage:  progress.StageSourceError,
			Source: name,
			URL:    url,
			Attrs: map[string]any{
				"attempt": attempt,
				"message": err.Error(),
			},
		})
		l.logger.Warn("source attempt failed",
			zap.String("source", name),
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if polla.IsPermanent(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if attempt == l.cfg.Retries {
			break
		}
		if sleepErr := l.sleep(ctx, l.Backoff(attempt)); sleepErr != nil {
			return sleepErr
		}
	}
	return err
}

func checkRecord(rec polla.SourceRecord) error {
	if len(rec.Categories) == 0 {
		return polla.ErrNoData
	}
	for categoria, amount := range rec.Categories {
		if err := amount.Validate(); err != nil {
			return polla.Permanent(fmt.Errorf("category %q: %w", categoria, err))
		}
	}
	return nil
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("backoff sleep: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
