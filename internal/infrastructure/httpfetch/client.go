// Package httpfetch is the single outbound HTTP path: timeouts, user agent,
// body cap and per-domain rate limiting.
package httpfetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"IdeaRadar/internal/domain"
	"IdeaRadar/internal/ports"
)

const (
	defaultUserAgent = "IdeaRadar/1.0 (+https://github.com/idearadar)"
	defaultMaxBytes  = 5 << 20
)

// StatusError is a non-retryable HTTP status from upstream.
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned %d %s", e.URL, e.Status, http.StatusText(e.Status))
}

// Options tune a Client; zero values pick defaults.
type Options struct {
	Timeout   time.Duration
	UserAgent string
	MaxBytes  int64
}

// Client performs rate-limited GET requests.
type Client struct {
	http      *http.Client
	limiter   ports.DomainLimiter
	userAgent string
	maxBytes  int64
}

// NewClient wires an HTTP client and an optional limiter.
func NewClient(client *http.Client, limiter ports.DomainLimiter, opts Options) *Client {
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = defaultMaxBytes
	}
	return &Client{http: client, limiter: limiter, userAgent: opts.UserAgent, maxBytes: opts.MaxBytes}
}

// Get fetches rawURL and returns at most MaxBytes of its body.
// Network failures, timeouts, 429 and 5xx come back as *domain.TransientFetchError;
// other non-2xx statuses as *StatusError.
func (c *Client) Get(ctx context.Context, rawURL string, accept string) ([]byte, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("invalid url %q", rawURL)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, parsed.Hostname()); err != nil {
			return nil, &domain.TransientFetchError{URL: rawURL, Err: fmt.Errorf("rate limit: %w", err)}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &domain.TransientFetchError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, &domain.TransientFetchError{URL: rawURL, Err: &StatusError{URL: rawURL, Status: resp.StatusCode}}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{URL: rawURL, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes))
	if err != nil {
		return nil, &domain.TransientFetchError{URL: rawURL, Err: fmt.Errorf("read body: %w", err)}
	}
	return body, nil
}

// AsTransient wraps any error not already typed as transient so connector
// callers see one failure kind for an unreachable upstream.
func AsTransient(rawURL string, err error) error {
	if err == nil {
		return nil
	}
	var transient *domain.TransientFetchError
	if errors.As(err, &transient) {
		return err
	}
	return &domain.TransientFetchError{URL: rawURL, Err: err}
}
