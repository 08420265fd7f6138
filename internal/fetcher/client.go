// Package fetcher performs the pipeline's HTTP requests: every call samples
// a fresh user agent and proxy from the pools, applies a per-request
// wall-clock timeout, and classifies failures for the retry layer.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/streetscope/svi-cli/internal/netpool"
	"github.com/streetscope/svi-cli/internal/resilience"
)

// MetadataTimeout is the wall-clock budget for discovery and metadata calls.
const MetadataTimeout = 5 * time.Second

// ImageTimeout is the wall-clock budget for tile and thumbnail downloads.
const ImageTimeout = 10 * time.Second

type proxyKey struct{}

// withProxy marks the request context with the proxy chosen for this attempt.
func withProxy(ctx context.Context, p netpool.Proxy) context.Context {
	return context.WithValue(ctx, proxyKey{}, p.URL())
}

// StatusError reports a non-2xx response that is not worth retrying at the
// transport layer (remote rejection).
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.Code, e.URL)
}

// Options configures a Client.
type Options struct {
	// RPS caps outgoing requests per second. 0 disables limiting.
	RPS float64

	// DisableProxies forces direct connections regardless of the pool.
	DisableProxies bool
}

// Client issues rotated HTTP requests. Safe for concurrent use.
type Client struct {
	hc      *http.Client
	pools   *netpool.Pools
	limiter *rate.Limiter
	opts    Options
}

// New builds a Client over the given pools. The transport resolves the proxy
// per request from the context, so one shared client serves all workers.
func New(pools *netpool.Pools, opts Options) *Client {
	transport := &http.Transport{
		Proxy: func(req *http.Request) (*url.URL, error) {
			if u, ok := req.Context().Value(proxyKey{}).(*url.URL); ok {
				return u, nil
			}
			return nil, nil
		},
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     0,
		IdleConnTimeout:     90 * time.Second,
		DisableKeepAlives:   true, // proxies rotate per request
	}
	c := &Client{
		hc:    &http.Client{Transport: transport},
		pools: pools,
		opts:  opts,
	}
	if opts.RPS > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RPS), int(opts.RPS)+1)
	}
	return c
}

// Get fetches rawURL with a freshly sampled user agent and proxy, enforcing
// the given timeout. Transport failures and retryable statuses come back as
// resilience.TransientError; other non-2xx statuses as *StatusError.
func (c *Client) Get(ctx context.Context, rawURL string, timeout time.Duration) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "fetcher: rate limiter wait")
		}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if !c.opts.DisableProxies {
		ctx = withProxy(ctx, c.pools.Proxy())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: create request")
	}
	req.Header.Set("User-Agent", c.pools.UserAgent())

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "fetcher: request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "fetcher: read body"), resp.StatusCode)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := &StatusError{Code: resp.StatusCode, URL: rawURL}
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(statusErr, resp.StatusCode)
		}
		return nil, statusErr
	}

	return body, nil
}
