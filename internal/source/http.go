package source

import (
	"context"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultRetries   = 3
	defaultUserAgent = "taxcomp-cli/1.0"

	backoffBase = time.Second
	backoffCap  = 30 * time.Second
)

// HTTPOptions adjusts the HTTP fetcher. Zero values take the defaults
// above.
type HTTPOptions struct {
	UserAgent    string
	Timeout      time.Duration
	MaxRetries   int
	RateLimiters map[string]*rate.Limiter
}

// HTTPFetcher downloads documents over HTTP with retry and per-host rate
// limiting. Batch runs often pull many documents from one client portal,
// so the limiter map is keyed by host; hosts without an entry share the
// fallback limiter.
type HTTPFetcher struct {
	client   *http.Client
	agent    string
	retries  int
	limiters map[string]*rate.Limiter
	fallback *rate.Limiter
}

// NewHTTPFetcher builds a fetcher from opts.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	f := &HTTPFetcher{
		agent:    opts.UserAgent,
		retries:  opts.MaxRetries,
		limiters: make(map[string]*rate.Limiter, len(opts.RateLimiters)),
		fallback: rate.NewLimiter(20, 20),
	}
	if f.agent == "" {
		f.agent = defaultUserAgent
	}
	if f.retries == 0 {
		f.retries = defaultRetries
	}
	for host, lim := range opts.RateLimiters {
		f.limiters[host] = lim
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	f.client = &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConnsPerHost: 10,
			MaxConnsPerHost:     20,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	return f
}

func (f *HTTPFetcher) limiterFor(rawURL string) *rate.Limiter {
	if u, err := url.Parse(rawURL); err == nil {
		if lim, ok := f.limiters[u.Host]; ok {
			return lim
		}
	}
	return f.fallback
}

// send issues the request, retrying transient failures with exponential
// backoff. Transient means a transport error, a 429, or any 5xx.
func (f *HTTPFetcher) send(ctx context.Context, req *http.Request) (*http.Response, error) {
	lim := f.limiterFor(req.URL.String())

	var lastErr error
	for attempt := range f.retries {
		if attempt > 0 {
			f.pause(ctx, attempt-1)
		}
		if err := lim.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "source: rate limit wait")
		}

		resp, err := f.client.Do(req.Clone(ctx))
		if err != nil {
			lastErr = err
			zap.L().Warn("http send failed",
				zap.String("url", req.URL.String()),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			continue
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			_ = resp.Body.Close()
			lastErr = eris.Errorf("status %d from %s", resp.StatusCode, req.URL.String())
			zap.L().Warn("http status retryable",
				zap.String("url", req.URL.String()),
				zap.Int("status", resp.StatusCode),
				zap.Int("attempt", attempt+1),
			)
			continue
		}
		return resp, nil
	}
	return nil, eris.Wrapf(lastErr, "source: %d attempts failed", f.retries)
}

// pause blocks between attempts: exponential from backoffBase capped at
// backoffCap, plus up to half again of jitter. Returns early once ctx is
// done; the caller's next limiter wait surfaces the cancellation.
func (f *HTTPFetcher) pause(ctx context.Context, attempt int) {
	d := backoffCap
	if attempt < 5 {
		d = min(backoffBase<<attempt, backoffCap)
	}
	d += rand.N(d / 2)

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Download fetches rawURL and hands back the body. The caller closes it.
func (f *HTTPFetcher) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "source: build request for %s", rawURL)
	}
	req.Header.Set("User-Agent", f.agent)

	resp, err := f.send(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, eris.Errorf("source: fetch %s: status %d", rawURL, resp.StatusCode)
	}
	return resp.Body, nil
}
