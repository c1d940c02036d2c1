package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/JakeFAU/polla-consensus/internal/metrics"
)

const (
	allowAllRobots       = "User-agent: *\nAllow: /"
	fallbackTLSHandshake = "TLS handshake timeout"
)

var defaultRobotsBackoff = []time.Duration{
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
}

// robotsTransport wraps the fetch transport for one request. Probes of
// /robots.txt that keep timing out resolve to an allow-all policy; the
// reason is kept so the fetcher can report it.
type robotsTransport struct {
	base    http.RoundTripper
	backoff []time.Duration

	// fallback is empty unless the allow-all policy was substituted.
	fallback string
}

func newRobotsTransport(base http.RoundTripper) *robotsTransport {
	return &robotsTransport{base: base, backoff: defaultRobotsBackoff}
}

func (t *robotsTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil || req.URL == nil {
		return nil, errors.New("robots transport: nil request")
	}
	if !strings.EqualFold(req.URL.Path, "/robots.txt") {
		resp, err := t.base.RoundTrip(req)
		if err != nil {
			return nil, fmt.Errorf("roundtrip %s: %w", req.URL, err)
		}
		return resp, nil
	}
	return t.probe(req)
}

// Fallback reports why robots.txt was assumed allow-all, or "".
func (t *robotsTransport) Fallback() string {
	return t.fallback
}

func (t *robotsTransport) probe(req *http.Request) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		resp, err := t.base.RoundTrip(req.Clone(req.Context()))
		switch {
		case err == nil:
			return resp, nil
		case !isHandshakeTimeout(err):
			return nil, fmt.Errorf("robots probe %s: %w", req.URL.Host, err)
		case attempt >= len(t.backoff):
			t.allowAll(fallbackTLSHandshake)
			return allowAllResponse(req), nil
		}
		if err := sleepWithContext(req.Context(), t.backoff[attempt]); err != nil {
			return nil, fmt.Errorf("robots probe %s: %w", req.URL.Host, err)
		}
	}
}

func (t *robotsTransport) allowAll(reason string) {
	if t.fallback != "" {
		return
	}
	t.fallback = reason
	metrics.ObserveRobotsFallback()
}

func allowAllResponse(req *http.Request) *http.Response {
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        "200 OK",
		Body:          io.NopCloser(strings.NewReader(allowAllRobots)),
		ContentLength: int64(len(allowAllRobots)),
		Header:        make(http.Header),
		Request:       req,
	}
}

func isHandshakeTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "tls: handshake timeout")
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
