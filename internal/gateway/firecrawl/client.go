// Package firecrawl is a thin REST client for the Firecrawl scraping
// provider. It speaks the v1 API and returns decoded JSON bodies; the
// gateway package above it owns retries, proxy fallback, and shaping.
package firecrawl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

const defaultBaseURL = "https://api.firecrawl.dev"

// StatusError is returned for non-2xx provider responses. The status
// code is inspected by callers deciding whether to retry on the stealth
// proxy tier.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider returned status %d: %s", e.Code, e.Body)
}

// Client talks to one Firecrawl deployment with one API key.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at a non-default deployment.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// New builds a client for the given API key.
func New(apiKey string, logger *zap.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL: defaultBaseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 120 * time.Second},
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Scrape fetches a single URL. Payload keys beyond "url" are forwarded
// verbatim from the options map.
func (c *Client) Scrape(ctx context.Context, pageURL string, opts map[string]any) (map[string]any, error) {
	payload := clone(opts)
	payload["url"] = pageURL
	return c.post(ctx, "/v1/scrape", payload)
}

// StartCrawl begins an asynchronous crawl rooted at the given URL and
// returns the provider's job envelope.
func (c *Client) StartCrawl(ctx context.Context, rootURL string, opts map[string]any) (map[string]any, error) {
	payload := clone(opts)
	payload["url"] = rootURL
	return c.post(ctx, "/v1/crawl", payload)
}

// CrawlStatus polls an asynchronous crawl.
func (c *Client) CrawlStatus(ctx context.Context, id string) (map[string]any, error) {
	return c.get(ctx, "/v1/crawl/"+url.PathEscape(id))
}

// StartBatch begins an asynchronous batch scrape over many URLs.
func (c *Client) StartBatch(ctx context.Context, urls []string, opts map[string]any) (map[string]any, error) {
	payload := clone(opts)
	payload["urls"] = urls
	return c.post(ctx, "/v1/batch/scrape", payload)
}

// BatchStatus polls an asynchronous batch scrape.
func (c *Client) BatchStatus(ctx context.Context, id string) (map[string]any, error) {
	return c.get(ctx, "/v1/batch/scrape/"+url.PathEscape(id))
}

// Map discovers the link structure of a site without fetching pages.
func (c *Client) Map(ctx context.Context, rootURL string, opts map[string]any) (map[string]any, error) {
	payload := clone(opts)
	payload["url"] = rootURL
	return c.post(ctx, "/v1/map", payload)
}

// Search runs a web search, optionally scraping each hit.
func (c *Client) Search(ctx context.Context, query string, opts map[string]any) (map[string]any, error) {
	payload := clone(opts)
	payload["query"] = query
	return c.post(ctx, "/v1/search", payload)
}

func (c *Client) post(ctx context.Context, path string, payload map[string]any) (map[string]any, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) get(ctx context.Context, path string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) (map[string]any, error) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling provider: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, fmt.Errorf("reading provider response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("provider request failed",
			zap.String("path", req.URL.Path),
			zap.Int("status", resp.StatusCode))
		return nil, &StatusError{Code: resp.StatusCode, Body: truncate(string(raw), 512)}
	}

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decoding provider response: %w", err)
	}
	return decoded, nil
}

func clone(m map[string]any) map[string]any {
	out := make(map[string]any, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
