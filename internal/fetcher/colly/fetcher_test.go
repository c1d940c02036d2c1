package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/polla-consensus/internal/polla"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type stubHasher struct{}

func (stubHasher) Hash([]byte) (string, error) { return "digest", nil }

type countingLimiter struct{ calls atomic.Int32 }

func (l *countingLimiter) Wait(context.Context, string) error {
	l.calls.Add(1)
	return nil
}

func TestFetchReturnsBodyAndMetadata(t *testing.T) {
	t.Parallel()

	var gotUA, gotLang string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotLang = r.Header.Get("Accept-Language")
		_, _ = w.Write([]byte("<html>ok</html>"))
	}))
	t.Cleanup(srv.Close)

	now := time.Date(2025, 9, 30, 12, 0, 0, 0, time.UTC)
	limiter := &countingLimiter{}
	f := New(Config{UserAgent: "default-agent"}, stubHasher{}, fixedClock{t: now}, limiter, nil)

	res, err := f.Fetch(context.Background(), polla.FetchRequest{URL: srv.URL, Identity: "declared-agent"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "<html>ok</html>", string(res.Body))
	assert.Equal(t, now, res.FetchedAt)
	assert.Equal(t, "declared-agent", res.Identity)
	assert.NotEmpty(t, res.ContentHash)
	assert.Equal(t, "declared-agent", gotUA)
	assert.Equal(t, "es-CL,es;q=0.9", gotLang)
	assert.EqualValues(t, 1, limiter.calls.Load())
}

func TestFetchRetriesOnceAfterThrottle(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte("second"))
	}))
	t.Cleanup(srv.Close)

	f := New(Config{ThrottleBackoff: time.Minute}, nil, nil, nil, nil)
	var slept time.Duration
	f.sleep = func(_ context.Context, d time.Duration) error {
		slept = d
		return nil
	}

	res, err := f.Fetch(context.Background(), polla.FetchRequest{URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, "second", string(res.Body))
	assert.Equal(t, time.Minute, slept)
	assert.EqualValues(t, 2, hits.Load())
}

func TestFetchClientErrorIsPermanent(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	f := New(Config{}, nil, nil, nil, nil)
	_, err := f.Fetch(context.Background(), polla.FetchRequest{URL: srv.URL})
	require.Error(t, err)
	assert.True(t, polla.IsPermanent(err))
}

func TestFetchServerErrorIsTransient(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	f := New(Config{}, nil, nil, nil, nil)
	_, err := f.Fetch(context.Background(), polla.FetchRequest{URL: srv.URL})
	require.Error(t, err)
	assert.False(t, polla.IsPermanent(err))
}

func TestFetchHonorsRobotsDisallow(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			_, _ = w.Write([]byte("User-agent: *\nDisallow: /"))
			return
		}
		_, _ = w.Write([]byte("should not be fetched"))
	}))
	t.Cleanup(srv.Close)

	f := New(Config{RespectRobots: true}, nil, nil, nil, nil)
	_, err := f.Fetch(context.Background(), polla.FetchRequest{URL: srv.URL + "/loto"})
	require.Error(t, err)
	assert.True(t, polla.IsPermanent(err))
}

func TestFetchCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := New(Config{}, nil, nil, nil, nil)
	_, err := f.Fetch(ctx, polla.FetchRequest{URL: "http://127.0.0.1:1/"})
	require.Error(t, err)
}

func TestFetcherBuildCollector(t *testing.T) {
	t.Parallel()

	f := New(Config{UserAgent: "coverage-agent", RespectRobots: true, Timeout: time.Second}, nil, nil, nil, nil)
	collector, state := f.buildCollector(context.Background(), polla.FetchRequest{URL: "https://example.com"},
		time.Unix(0, 0), &polla.FetchResult{}, new(error))
	assert.Equal(t, "coverage-agent", collector.UserAgent)
	assert.False(t, collector.IgnoreRobotsTxt)
	assert.True(t, collector.AllowURLRevisit)
	assert.NotNil(t, state)

	f = New(Config{}, nil, nil, nil, nil)
	collector, state = f.buildCollector(context.Background(), polla.FetchRequest{URL: "https://example.com", Identity: "bot"},
		time.Unix(0, 0), &polla.FetchResult{}, new(error))
	assert.Equal(t, "bot", collector.UserAgent)
	assert.True(t, collector.IgnoreRobotsTxt)
	assert.Nil(t, state)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{AcceptLanguage: "es"}, nil, nil, nil, nil)
	var result polla.FetchResult
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, polla.FetchRequest{URL: "https://example.com", Identity: "bot"},
		time.Unix(0, 0), &result, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	assert.Equal(t, "es", collyReq.Headers.Get("Accept-Language"))

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusCreated,
		Body:       []byte("body"),
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com")},
	})
	assert.Equal(t, http.StatusCreated, result.StatusCode)
	assert.Equal(t, "body", string(result.Body))
	assert.Equal(t, "bot", result.Identity)

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")
}

func TestClassifyStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code      int
		wantErr   bool
		permanent bool
	}{
		{code: 200},
		{code: 204},
		{code: 403, wantErr: true, permanent: true},
		{code: 429, wantErr: true},
		{code: 500, wantErr: true},
	}
	for _, tt := range tests {
		err := classifyStatus(tt.code)
		if !tt.wantErr {
			assert.NoError(t, err, "code %d", tt.code)
			continue
		}
		require.Error(t, err, "code %d", tt.code)
		assert.Equal(t, tt.permanent, polla.IsPermanent(err), "code %d", tt.code)
	}
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback)   { s.onRequest = cb }
func (s *stubHooks) OnResponse(cb colly.ResponseCallback) { s.onResponse = cb }
func (s *stubHooks) OnError(cb colly.ErrorCallback)       { s.onError = cb }
