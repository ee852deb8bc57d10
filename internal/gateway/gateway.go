package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mgoodale/webscout/internal/gateway/firecrawl"
	"github.com/mgoodale/webscout/internal/metrics"
	"github.com/mgoodale/webscout/internal/research"
)

// Provider is the surface of the scraping provider the gateway drives.
// *firecrawl.Client satisfies it; tests substitute fakes.
type Provider interface {
	Scrape(ctx context.Context, url string, opts map[string]any) (map[string]any, error)
	StartCrawl(ctx context.Context, url string, opts map[string]any) (map[string]any, error)
	CrawlStatus(ctx context.Context, id string) (map[string]any, error)
	StartBatch(ctx context.Context, urls []string, opts map[string]any) (map[string]any, error)
	BatchStatus(ctx context.Context, id string) (map[string]any, error)
	Map(ctx context.Context, url string, opts map[string]any) (map[string]any, error)
	Search(ctx context.Context, query string, opts map[string]any) (map[string]any, error)
}

// Gateway shapes options, applies the proxy fallback policy, and
// normalizes everything the provider returns.
type Gateway struct {
	provider     Provider
	logger       *zap.Logger
	pollInterval time.Duration
	pollTimeout  time.Duration
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithPollInterval sets the delay between async status polls.
func WithPollInterval(d time.Duration) Option {
	return func(g *Gateway) { g.pollInterval = d }
}

// WithPollTimeout bounds how long an async job is polled before the
// gateway gives up.
func WithPollTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.pollTimeout = d }
}

// New builds a gateway over the given provider.
func New(provider Provider, logger *zap.Logger, opts ...Option) *Gateway {
	g := &Gateway{
		provider:     provider,
		logger:       logger,
		pollInterval: 3 * time.Second,
		pollTimeout:  10 * time.Minute,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// retryableStatus reports whether a provider status code warrants one
// retry on the stealth tier. These are the codes anti-bot layers return
// when they block the basic proxy pool.
func retryableStatus(err error) bool {
	var se *firecrawl.StatusError
	if !errors.As(err, &se) {
		// Transport-level failures get the same second chance.
		return true
	}
	switch se.Code {
	case 401, 403, 500:
		return true
	}
	return false
}

// Scrape fetches one URL, retrying once on the stealth proxy when the
// basic tier is blocked and the job allows it.
func (g *Gateway) Scrape(ctx context.Context, url string, opts research.JobOptions) Document {
	return g.observe("scrape", g.withFallback(ctx, opts, func(ctx context.Context, proxy research.ProxyType) (map[string]any, error) {
		return g.provider.Scrape(ctx, url, scrapePayload(opts, proxy))
	}))
}

// Crawl starts a crawl and polls it to completion. The proxy fallback
// applies to the start call; a crawl accepted by the provider is seen
// through on whichever tier accepted it.
func (g *Gateway) Crawl(ctx context.Context, url string, opts research.JobOptions) Document {
	doc := g.withFallback(ctx, opts, func(ctx context.Context, proxy research.ProxyType) (map[string]any, error) {
		return g.provider.StartCrawl(ctx, url, crawlPayload(opts, proxy))
	})
	if !doc.OK() {
		return g.observe("crawl", doc)
	}
	return g.observe("crawl", g.pollAsync(ctx, doc, g.provider.CrawlStatus))
}

// BatchScrape submits many URLs in one provider job and polls it to
// completion.
func (g *Gateway) BatchScrape(ctx context.Context, urls []string, opts research.JobOptions) Document {
	doc := g.withFallback(ctx, opts, func(ctx context.Context, proxy research.ProxyType) (map[string]any, error) {
		return g.provider.StartBatch(ctx, urls, batchPayload(opts, proxy))
	})
	if !doc.OK() {
		return g.observe("batch", doc)
	}
	return g.observe("batch", g.pollAsync(ctx, doc, g.provider.BatchStatus))
}

// MapSite discovers a site's link structure. Mapping never fetches page
// bodies, so the proxy fallback still applies but stealth is rarely hit.
func (g *Gateway) MapSite(ctx context.Context, url string, opts research.JobOptions) Document {
	return g.observe("map", g.withFallback(ctx, opts, func(ctx context.Context, proxy research.ProxyType) (map[string]any, error) {
		return g.provider.Map(ctx, url, mapPayload(opts))
	}))
}

// Search runs a web search, scraping each hit when formats are requested.
func (g *Gateway) Search(ctx context.Context, query string, opts research.JobOptions) Document {
	return g.observe("search", g.withFallback(ctx, opts, func(ctx context.Context, proxy research.ProxyType) (map[string]any, error) {
		return g.provider.Search(ctx, query, searchPayload(opts, proxy))
	}))
}

// CheckCrawlStatus returns the provider's current view of an async
// crawl without waiting for it to finish.
func (g *Gateway) CheckCrawlStatus(ctx context.Context, id string) Document {
	return g.observe("crawl_status", g.checkStatus(ctx, id, g.provider.CrawlStatus))
}

// CheckBatchStatus returns the provider's current view of an async
// batch scrape without waiting for it to finish.
func (g *Gateway) CheckBatchStatus(ctx context.Context, id string) Document {
	return g.observe("batch_status", g.checkStatus(ctx, id, g.provider.BatchStatus))
}

func (g *Gateway) checkStatus(ctx context.Context, id string, status func(context.Context, string) (map[string]any, error)) Document {
	if id == "" {
		return failure("provider job id is required", "")
	}
	raw, err := status(ctx, id)
	if err != nil {
		return failure(fmt.Sprintf("checking async job %s: %s", id, err), "")
	}
	doc := g.shape(raw, "")
	doc["id"] = id
	return doc
}

// observe stamps the provider-call counter with the call's outcome.
func (g *Gateway) observe(operation string, doc Document) Document {
	outcome := "ok"
	if !doc.OK() {
		outcome = "error"
	}
	metrics.ObserveProviderCall(operation, outcome)
	return doc
}

type attemptFunc func(ctx context.Context, proxy research.ProxyType) (map[string]any, error)

// withFallback runs one call on the job's proxy tier, retrying exactly
// once on stealth when the first attempt is blocked and fallback is
// enabled. Failures come back as error-as-data documents.
func (g *Gateway) withFallback(ctx context.Context, opts research.JobOptions, attempt attemptFunc) Document {
	proxy := opts.Proxy
	if proxy == "" {
		proxy = research.ProxyBasic
	}

	raw, err := attempt(ctx, proxy)
	if err == nil {
		return g.shape(raw, proxy)
	}
	if !opts.StealthEnabled() || !retryableStatus(err) {
		return failure(err.Error(), string(proxy))
	}

	g.logger.Info("basic proxy blocked, retrying with stealth", zap.Error(err))
	metrics.ObserveStealthFallback()
	raw2, err2 := attempt(ctx, research.ProxyStealth)
	if err2 == nil {
		return g.shape(raw2, research.ProxyStealth)
	}
	msg := fmt.Sprintf("Both basic and stealth proxies failed. Basic: %s, Stealth: %s", err, err2)
	return failure(msg, string(research.ProxyStealth))
}

// shape normalizes and sanitizes a raw provider response and stamps the
// proxy tier that produced it.
func (g *Gateway) shape(raw any, proxy research.ProxyType) Document {
	doc := Document(SanitizeMap(Normalize(raw)))
	doc["proxy_used"] = string(proxy)
	if _, ok := doc["success"]; !ok {
		doc["success"] = true
	}
	return doc
}

// pollAsync follows an accepted async job until the provider reports a
// terminal status. A response carrying only an id and no status is
// treated as completed with a note, not a failure; some provider
// versions answer the final poll that way.
func (g *Gateway) pollAsync(ctx context.Context, started Document, status func(context.Context, string) (map[string]any, error)) Document {
	id, _ := started["id"].(string)
	if id == "" {
		return failure("provider accepted the job but returned no id", started.ProxyUsed())
	}

	ctx, cancel := context.WithTimeout(ctx, g.pollTimeout)
	defer cancel()

	ticker := time.NewTicker(g.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return failure(fmt.Sprintf("async job %s did not finish: %s", id, ctx.Err()), started.ProxyUsed())
		case <-ticker.C:
		}

		raw, err := status(ctx, id)
		if err != nil {
			return failure(fmt.Sprintf("polling async job %s: %s", id, err), started.ProxyUsed())
		}
		doc := g.shape(raw, research.ProxyType(started.ProxyUsed()))
		doc["id"] = id

		state, _ := doc["status"].(string)
		switch state {
		case "completed":
			return doc
		case "failed", "cancelled":
			msg, _ := doc["error"].(string)
			if msg == "" {
				msg = fmt.Sprintf("async job %s ended with status %q", id, state)
			}
			doc["error"] = msg
			return doc
		case "":
			// Id-only envelope: the job finished but this provider
			// version omits the final document list.
			doc["status"] = "completed"
			doc["error_message"] = fmt.Sprintf("async job %s returned no status payload", id)
			return doc
		}
	}
}
