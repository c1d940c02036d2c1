// Package collyfetcher implements polla.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/polla-consensus/internal/metrics"
	"github.com/JakeFAU/polla-consensus/internal/polla"
)

const (
	defaultTimeout         = 20 * time.Second
	defaultThrottleBackoff = 60 * time.Second
	defaultAcceptLanguage  = "es-CL,es;q=0.9"
)

// Config controls collector behavior.
type Config struct {
	UserAgent      string
	AcceptLanguage string
	RespectRobots  bool
	Timeout        time.Duration
	// ThrottleBackoff is the wait before the single retry after a 429.
	ThrottleBackoff time.Duration
}

// Limiter spaces requests per domain.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// Fetcher implements polla.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
	hasher        polla.Hasher
	clock         polla.Clock
	limiter       Limiter
	logger        *zap.Logger
	sleep         func(ctx context.Context, d time.Duration) error
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. limiter may be nil.
func New(cfg Config, hasher polla.Hasher, clock polla.Clock, limiter Limiter, logger *zap.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.ThrottleBackoff <= 0 {
		cfg.ThrottleBackoff = defaultThrottleBackoff
	}
	if cfg.AcceptLanguage == "" {
		cfg.AcceptLanguage = defaultAcceptLanguage
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.ParseHTTPErrorResponse = true
	transport := newHTTPTransport()
	c.WithTransport(transport)

	return &Fetcher{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
		hasher:        hasher,
		clock:         clock,
		limiter:       limiter,
		logger:        logger,
		sleep:         sleepWithContext,
	}
}

// Fetch performs a polite GET: robots.txt is honored, requests to one domain
// are spaced by the limiter, and a 429 is retried once after the configured
// backoff.
func (f *Fetcher) Fetch(ctx context.Context, request polla.FetchRequest) (polla.FetchResult, error) {
	res, err := f.fetchOnce(ctx, request)
	if err != nil {
		return polla.FetchResult{}, err
	}
	if res.StatusCode == http.StatusTooManyRequests {
		metrics.ObserveThrottled(request.URL)
		f.logger.Warn("throttled, backing off",
			zap.String("url", request.URL),
			zap.Duration("backoff", f.cfg.ThrottleBackoff),
		)
		if err := f.sleep(ctx, f.cfg.ThrottleBackoff); err != nil {
			return polla.FetchResult{}, err
		}
		res, err = f.fetchOnce(ctx, request)
		if err != nil {
			return polla.FetchResult{}, err
		}
	}
	if err := classifyStatus(res.StatusCode); err != nil {
		return polla.FetchResult{}, fmt.Errorf("fetch %s: %w", request.URL, err)
	}
	if f.hasher != nil {
		hash, err := f.hasher.Hash(res.Body)
		if err != nil {
			return polla.FetchResult{}, fmt.Errorf("hash body: %w", err)
		}
		res.ContentHash = hash
	}
	return res, nil
}

func (f *Fetcher) fetchOnce(ctx context.Context, request polla.FetchRequest) (polla.FetchResult, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, request.URL); err != nil {
			return polla.FetchResult{}, err
		}
	}
	var (
		result   polla.FetchResult
		fetchErr error
	)
	start := time.Now()
	collector, robots := f.buildCollector(ctx, request, start, &result, &fetchErr)
	if err := f.runCollector(ctx, collector, request.URL, &fetchErr); err != nil {
		return polla.FetchResult{}, err
	}
	if robots != nil && robots.Fallback() != "" {
		f.logger.Warn("robots.txt unreachable, assumed allow-all",
			zap.String("url", request.URL),
			zap.String("reason", robots.Fallback()),
		)
	}
	metrics.ObserveFetch(request.URL, result.StatusCode, len(result.Body), result.Duration)
	return result, nil
}

func (f *Fetcher) buildCollector(
	ctx context.Context,
	request polla.FetchRequest,
	start time.Time,
	result *polla.FetchResult,
	fetchErr *error,
) (*colly.Collector, *robotsTransport) {
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	collector.AllowURLRevisit = true
	collector.ParseHTTPErrorResponse = true
	collector.UserAgent = f.identity(request)
	collector.IgnoreRobotsTxt = !f.cfg.RespectRobots
	collector.SetRequestTimeout(f.cfg.Timeout)

	var robots *robotsTransport
	baseTransport := f.transport
	if baseTransport == nil {
		baseTransport = newHTTPTransport()
	}
	if f.cfg.RespectRobots {
		robots = newRobotsTransport(baseTransport)
		collector.WithTransport(robots)
	} else {
		collector.WithTransport(baseTransport)
	}

	f.configureCollectorHooks(collector, request, start, result, fetchErr)
	return collector, robots
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request polla.FetchRequest,
	start time.Time,
	result *polla.FetchResult,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept-Language", f.cfg.AcceptLanguage)
		r.Headers.Set("Accept", "text/html,application/xhtml+xml")
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = polla.FetchResult{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
			FetchedAt:  f.now(),
			Identity:   f.identity(request),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			if errors.Is(err, colly.ErrRobotsTxtBlocked) || errors.Is(err, colly.ErrForbiddenDomain) {
				return polla.Permanent(fmt.Errorf("colly visit %s: %w", url, err))
			}
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func (f *Fetcher) identity(request polla.FetchRequest) string {
	if request.Identity != "" {
		return request.Identity
	}
	return f.cfg.UserAgent
}

func (f *Fetcher) now() time.Time {
	if f.clock != nil {
		return f.clock.Now().UTC()
	}
	return time.Now().UTC()
}

// classifyStatus maps non-2xx responses to errors; client errors other than
// 429 are not worth retrying.
func classifyStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests:
		return fmt.Errorf("still throttled after backoff (status %d)", code)
	case code >= 400 && code < 500:
		return polla.Permanent(fmt.Errorf("client error status %d", code))
	default:
		return fmt.Errorf("unexpected status %d", code)
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
