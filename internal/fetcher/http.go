package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/WattMatt/engi-ops-nexus-sub014/internal/resilience"
)

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent   string
	Timeout     time.Duration
	MaxAttempts int
	MaxBytes    int64
	RateLimit   rate.Limit
}

// HTTPFetcher downloads remote documents with retry and rate limiting.
type HTTPFetcher struct {
	client  *http.Client
	opts    HTTPOptions
	limiter *rate.Limiter
	retry   resilience.RetryConfig
}

// NewHTTPFetcher creates a new HTTPFetcher with the given options.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = 3
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "boq-extractor/1.0"
	}
	if opts.MaxBytes == 0 {
		opts.MaxBytes = 50 << 20
	}
	if opts.RateLimit == 0 {
		opts.RateLimit = rate.Limit(5)
	}

	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = opts.MaxAttempts
	retry.InitialBackoff = 500 * time.Millisecond

	return &HTTPFetcher{
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		opts:    opts,
		limiter: rate.NewLimiter(opts.RateLimit, 1),
		retry:   retry,
	}
}

// Download fetches rawURL and returns the body. Transient failures (network
// errors, 429 and 5xx) are retried with backoff.
func (f *HTTPFetcher) Download(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrap(err, "http: parse url")
	}

	cfg := f.retry
	cfg.OnRetry = resilience.RetryLogger("fetcher.download", zap.String("host", u.Host))
	return resilience.DoVal(ctx, cfg, func(ctx context.Context) ([]byte, error) {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "http: rate limiter")
		}
		return f.get(ctx, rawURL)
	})
}

func (f *HTTPFetcher) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "http: build request")
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrapf(err, "http: GET %s", rawURL), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("http: GET %s: unexpected status %d", rawURL, resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxBytes+1))
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "http: read body"), 0)
	}
	if int64(len(data)) > f.opts.MaxBytes {
		return nil, eris.Errorf("http: %s exceeds %d bytes", rawURL, f.opts.MaxBytes)
	}
	return data, nil
}
