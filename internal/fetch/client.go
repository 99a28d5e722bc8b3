// Package fetch retrieves replay fixtures over HTTP.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/tjfontaine/cassette-replay/internal/cassette"
)

const (
	defaultTimeout    = 10 * time.Second
	defaultMaxRetries = 3
)

// FetchError is returned when the server answers with a non-2xx status.
type FetchError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %s", e.URL, e.Status)
}

// Temporary reports whether the status is worth retrying.
func (e *FetchError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithMaxRetries sets how many times a transient failure is retried.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithBackOff sets the retry schedule. newBackOff is called once per fetch.
func WithBackOff(newBackOff func() backoff.BackOff) Option {
	return func(c *Client) {
		c.newBackOff = newBackOff
	}
}

// WithLogger sets the logger for retry diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// Client fetches fixtures, retrying network errors, 5xx and 429 responses.
// Client errors and documents that are not fixtures fail immediately.
type Client struct {
	httpClient *http.Client
	maxRetries int
	newBackOff func() backoff.BackOff
	logger     *slog.Logger
}

// New creates a Client.
func New(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		maxRetries: defaultMaxRetries,
		newBackOff: func() backoff.BackOff { return backoff.NewExponentialBackOff() },
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchRaw returns the fixture text at rawURL after checking it sniffs as a fixture.
func (c *Client) FetchRaw(ctx context.Context, rawURL string) ([]byte, error) {
	attempt := 0
	op := func() ([]byte, error) {
		attempt++
		body, err := c.get(ctx, rawURL)
		if err == nil {
			return body, nil
		}
		var fe *FetchError
		if errors.As(err, &fe) && !fe.Temporary() {
			return nil, backoff.Permanent(err)
		}
		if errors.Is(err, ErrPrivateAddress) {
			return nil, backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	body, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxTries(uint(c.maxRetries+1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Warn("fixture fetch failed, retrying",
				slog.String("url", rawURL),
				slog.Int("attempt", attempt),
				slog.Duration("backoff", next),
				slog.String("error", err.Error()))
		}),
	)
	if err != nil {
		return nil, err
	}

	if !cassette.Sniff(body) {
		return nil, &cassette.NotFixtureError{Source: rawURL}
	}
	return body, nil
}

// Fetch downloads and parses the fixture at rawURL.
func (c *Client) Fetch(ctx context.Context, rawURL string) (*cassette.Fixture, error) {
	body, err := c.FetchRaw(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return cassette.Parse(body)
}

// Has reports whether rawURL serves a fixture. Any failure counts as absent,
// and nothing is retried.
func (c *Client) Has(ctx context.Context, rawURL string) bool {
	body, err := c.get(ctx, rawURL)
	if err != nil {
		c.logger.Debug("fixture not available",
			slog.String("url", rawURL),
			slog.String("error", err.Error()))
		return false
	}
	return cassette.Sniff(body)
}

// ForSource locates and fetches the fixture recorded for example source shown
// on the page at location.
func (c *Client) ForSource(ctx context.Context, source string, location *url.URL) (*cassette.Fixture, error) {
	u, err := cassette.FixtureURL(source, location)
	if err != nil {
		return nil, err
	}
	return c.Fetch(ctx, u.String())
}

func (c *Client) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Accept", "application/yaml, text/yaml, text/plain")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return nil, &FetchError{URL: rawURL, StatusCode: resp.StatusCode, Status: resp.Status}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return body, nil
}
