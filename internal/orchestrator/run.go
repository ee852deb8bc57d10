package orchestrator

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/mgoodale/webscout/internal/gateway"
	"github.com/mgoodale/webscout/internal/research"
	"github.com/mgoodale/webscout/internal/scratchpad"
	"github.com/mgoodale/webscout/internal/synthesis"
)

// jobRun carries everything one job execution needs. The gateway and
// engine are built from the submitting user's own keys.
type jobRun struct {
	o   *Orchestrator
	job *research.Job
	gw  *gateway.Gateway
	pad *scratchpad.Service
	eng *synthesis.Engine
	log *zap.Logger
}

func (r *jobRun) execute(ctx context.Context) (research.JobStatus, string) {
	r.save(ctx, "initial_query", r.job.Query, "user", nil)
	r.save(ctx, "proxy_type", string(proxyOrDefault(r.job.Options.Proxy)), "user", nil)
	if len(r.job.Options.Agent) > 0 {
		r.save(ctx, "agent_config", r.job.Options.Agent, "user", nil)
	}

	switch r.job.Options.Mode {
	case research.ModeBatch:
		return r.runBatch(ctx)
	case research.ModeMap:
		return r.runMap(ctx)
	case research.ModeSearchExtract:
		return r.runSearchExtract(ctx)
	default:
		return r.runResearch(ctx)
	}
}

func proxyOrDefault(p research.ProxyType) research.ProxyType {
	if p == "" {
		return research.ProxyBasic
	}
	return p
}

// topSearchHits is how many search results get scraped in full when
// the research mode falls back to a web search.
const topSearchHits = 3

// maxHTMLResultBytes caps the rendered-HTML result rows; pages can be
// arbitrarily large and the row is secondary to the markdown one.
const maxHTMLResultBytes = 100_000

// runResearch crawls the target domain first, falls back to a web
// search only when the domain yields nothing, scrapes the top search
// hits in full, then synthesizes an answer.
func (r *jobRun) runResearch(ctx context.Context) (research.JobStatus, string) {
	if r.eng != nil {
		plan, err := r.eng.PlanResearch(ctx, r.job.Query, r.job.Domain)
		if err != nil {
			r.log.Warn("research planning failed", zap.Error(err))
		} else if len(plan) > 0 {
			r.save(ctx, "scraping_plan", plan, "llm", nil)
		}
	}

	var sections []synthesis.Section
	var domainErr string
	collected := 0

	if r.job.Domain != "" {
		doc := r.gw.Crawl(ctx, withScheme(r.job.Domain), r.job.Options)
		if doc.OK() {
			if id, _ := doc["id"].(string); id != "" {
				if err := r.o.deps.Jobs.SetProviderJobID(ctx, r.job.ID, id); err != nil {
					r.log.Warn("failed to record provider job id", zap.Error(err))
				}
			}
			items := doc.DataList()
			r.save(ctx, "domain_results", items, "scrape",
				map[string]any{"url": r.job.Domain})
			for _, item := range items {
				url := sourceURL(item)
				title := pageTitleFrom(item)
				content, _ := item["markdown"].(string)
				r.addResult(ctx, url, title, content, "page", item)
				collected++
				collected += r.addExtraFormats(ctx, url, title, item)
				if content != "" {
					sections = append(sections, synthesis.Section{Label: labelFor(url, title), Content: content})
				}
			}
		} else {
			domainErr = doc.Err()
			r.save(ctx, "domain_error", domainErr, "scrape",
				map[string]any{"url": r.job.Domain})
			r.log.Warn("domain crawl failed", zap.String("error", domainErr))
		}
	}

	// The search is a fallback, not a supplement: it only runs when the
	// domain phase produced nothing.
	var searchErr string
	if collected == 0 {
		searchDoc := r.gw.Search(ctx, r.job.Query, r.job.Options)
		if searchDoc.OK() {
			hits := searchDoc.DataList()
			summary := make([]map[string]any, 0, len(hits))
			for _, hit := range hits {
				url, _ := hit["url"].(string)
				title, _ := hit["title"].(string)
				summary = append(summary, map[string]any{"url": url, "title": title})
			}
			r.save(ctx, "search_results", summary, "search", nil)

			if len(hits) > topSearchHits {
				hits = hits[:topSearchHits]
			}
			for i, hit := range hits {
				url, _ := hit["url"].(string)
				if url == "" {
					continue
				}
				title, _ := hit["title"].(string)

				page := r.gw.Scrape(ctx, url, r.job.Options)
				if !page.OK() {
					r.log.Warn("search hit scrape failed",
						zap.String("url", url), zap.String("error", page.Err()))
					continue
				}
				data := page.Data()
				if data == nil {
					data = page
				}
				content := scrapedText(page)
				r.save(ctx, fmt.Sprintf("search_content_%d", i), data, "search",
					map[string]any{"url": url})
				r.addResult(ctx, url, labelFor(url, title), content, "page", data)
				collected++
				collected += r.addExtraFormats(ctx, url, title, data)
				if content != "" {
					sections = append(sections, synthesis.Section{Label: labelFor(url, title), Content: content})
				}
			}
		} else {
			searchErr = searchDoc.Err()
			r.log.Warn("search failed", zap.String("error", searchErr))
		}
	}

	if collected == 0 {
		msg := "no source material could be collected"
		if domainErr != "" {
			msg = fmt.Sprintf("%s; domain crawl: %s", msg, domainErr)
		}
		if searchErr != "" {
			msg = fmt.Sprintf("%s; search: %s", msg, searchErr)
		}
		return research.StatusFailed, msg
	}
	if r.eng == nil || len(sections) == 0 {
		return research.StatusCompleted, ""
	}
	answer, err := r.eng.Synthesize(ctx, r.job.Query, sections)
	if err != nil {
		return research.StatusFailed, fmt.Sprintf("synthesis failed: %s", err)
	}
	r.save(ctx, "final_synthesis", answer, "llm", nil)
	r.addResult(ctx, "", "Final Synthesis", answer, "synthesis",
		map[string]any{"sections": len(sections)})
	return research.StatusCompleted, ""
}

// runBatch pushes the job's URLs through one provider batch.
func (r *jobRun) runBatch(ctx context.Context) (research.JobStatus, string) {
	urls := r.job.Options.URLs
	r.save(ctx, "batch_urls", urls, "user", nil)

	doc := r.gw.BatchScrape(ctx, urls, r.job.Options)
	if !doc.OK() {
		return research.StatusFailed, doc.Err()
	}
	if id, _ := doc["id"].(string); id != "" {
		if err := r.o.deps.Jobs.SetProviderJobID(ctx, r.job.ID, id); err != nil {
			r.log.Warn("failed to record provider job id", zap.Error(err))
		}
	}

	items := doc.DataList()
	for i, item := range items {
		url := sourceURL(item)
		if url == "" && i < len(urls) {
			url = urls[i]
		}
		title := pageTitleFrom(item)
		content, _ := item["markdown"].(string)
		r.addResult(ctx, url, title, content, "page", item)
		r.addExtraFormats(ctx, url, title, item)
	}
	r.save(ctx, "batch_results", map[string]any{
		"requested": len(urls),
		"returned":  len(items),
	}, "scrape", nil)

	// Some provider versions finish without a document list; the job
	// still completes, with the gap noted on the record.
	note, _ := doc["error_message"].(string)
	return research.StatusCompleted, note
}

// runMap discovers a site's link structure without fetching pages.
func (r *jobRun) runMap(ctx context.Context) (research.JobStatus, string) {
	root := r.job.Domain
	if root == "" && len(r.job.Options.URLs) > 0 {
		root = r.job.Options.URLs[0]
	}
	root = withScheme(root)
	r.save(ctx, "mapping_url", root, "user", nil)

	doc := r.gw.MapSite(ctx, root, r.job.Options)
	if !doc.OK() {
		return research.StatusFailed, doc.Err()
	}

	links := doc.Links()
	r.save(ctx, "map_results", map[string]any{"root": root, "count": len(links)}, "map", nil)

	md := map[string]any{"links": links}
	if r.eng != nil {
		analysis, err := r.eng.AnalyzeSiteStructure(ctx, root, links)
		if err != nil {
			r.log.Warn("site structure analysis failed", zap.Error(err))
		} else if len(analysis) > 0 {
			md["analysis"] = analysis
		}
	}
	r.addResult(ctx, root, "Website Map Results", strings.Join(links, "\n"), "map", md)
	for _, link := range links {
		r.addResult(ctx, link, link, link, "url", nil)
	}
	return research.StatusCompleted, ""
}

// runSearchExtract searches the web and runs structured extraction
// over each hit.
func (r *jobRun) runSearchExtract(ctx context.Context) (research.JobStatus, string) {
	if r.job.Options.Search != "" {
		r.save(ctx, "search_filter", r.job.Options.Search, "user", nil)
	}

	doc := r.gw.Search(ctx, r.job.Query, r.job.Options)
	if !doc.OK() {
		return research.StatusFailed, doc.Err()
	}

	items := doc.DataList()
	summary := make([]map[string]any, 0, len(items))
	extracted := 0
	for i, item := range items {
		url, _ := item["url"].(string)
		title, _ := item["title"].(string)
		summary = append(summary, map[string]any{"url": url, "title": title})

		content, _ := item["markdown"].(string)
		if content == "" {
			continue
		}
		r.save(ctx, fmt.Sprintf("search_content_%d", i), content, "search",
			map[string]any{"url": url})

		md := map[string]any{"url": url}
		if r.eng != nil {
			instructions := r.job.Options.ExtractPrompt
			if instructions == "" {
				instructions = fmt.Sprintf(
					"Extract the facts relevant to %q as a JSON object.", r.job.Query)
			}
			extraction, err := r.eng.ExtractStructured(ctx, instructions, content)
			if err != nil {
				r.log.Warn("extraction failed", zap.String("url", url), zap.Error(err))
			} else {
				md["extraction"] = extraction
				extracted++
			}
		}
		r.addResult(ctx, url, title, content, "extraction", md)
	}
	r.save(ctx, "search_results", summary, "search", nil)

	if len(items) == 0 {
		return research.StatusCompleted, "search returned no results"
	}
	r.log.Info("search-extract finished",
		zap.Int("hits", len(items)), zap.Int("extracted", extracted))
	return research.StatusCompleted, ""
}

// save writes to the scratchpad when one is configured. The job's
// result rows are authoritative, so scratchpad trouble only logs.
func (r *jobRun) save(ctx context.Context, key string, value any, source string, md map[string]any) {
	if r.pad == nil {
		return
	}
	if err := r.pad.Save(ctx, key, value, source, md); err != nil {
		r.log.Warn("scratchpad save failed", zap.String("key", key), zap.Error(err))
	}
}

// addExtraFormats persists the secondary formats a provider item can
// carry next to its markdown: rendered HTML and extracted JSON each get
// their own result row. Returns the number of rows written.
func (r *jobRun) addExtraFormats(ctx context.Context, url, title string, item map[string]any) int {
	rows := 0
	if html, _ := item["html"].(string); html != "" {
		if len(html) > maxHTMLResultBytes {
			html = html[:maxHTMLResultBytes]
		}
		md, _ := item["metadata"].(map[string]any)
		r.addResult(ctx, url, "HTML for "+title, html, "html", md)
		rows++
	}
	if v, ok := item["json"]; ok && v != nil {
		raw, err := json.Marshal(v)
		if err != nil {
			r.log.Warn("structured payload not serializable",
				zap.String("url", url), zap.Error(err))
		} else {
			r.addResult(ctx, url, "Structured data for "+title, string(raw), "json",
				map[string]any{"type": "extraction"})
			rows++
		}
	}
	return rows
}

// addResult persists one result row, offloading inline screenshots to
// the blob store first.
func (r *jobRun) addResult(ctx context.Context, url, title, content, contentType string, md map[string]any) {
	md = r.offloadScreenshot(ctx, md)
	result := &research.Result{
		ID:          r.o.deps.IDs.NewID(),
		JobID:       r.job.ID,
		URL:         url,
		Title:       title,
		Content:     content,
		ContentType: contentType,
		Metadata:    md,
		CreatedAt:   r.o.deps.Clock.Now(),
	}
	if err := r.o.deps.Jobs.CreateResult(ctx, result); err != nil {
		r.log.Error("failed to persist result", zap.String("url", url), zap.Error(err))
	}
}

// offloadScreenshot moves a base64 screenshot out of the metadata and
// into the blob store, leaving a URI behind. Screenshots that are
// already URLs pass through untouched.
func (r *jobRun) offloadScreenshot(ctx context.Context, md map[string]any) map[string]any {
	if r.o.deps.Blobs == nil || md == nil {
		return md
	}
	shot, ok := md["screenshot"].(string)
	if !ok || shot == "" || strings.HasPrefix(shot, "http") {
		return md
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(shot, "data:image/png;base64,"))
	if err != nil {
		return md
	}
	key := fmt.Sprintf("jobs/%s/screenshots/%s.png", r.job.ID, r.o.deps.IDs.NewID())
	uri, err := r.o.deps.Blobs.Put(ctx, key, data, "image/png")
	if err != nil {
		r.log.Warn("screenshot offload failed", zap.Error(err))
		return md
	}
	out := make(map[string]any, len(md))
	for k, v := range md {
		out[k] = v
	}
	delete(out, "screenshot")
	out["screenshot_uri"] = uri
	return out
}

func scrapedText(doc gateway.Document) string {
	data := doc.Data()
	if data == nil {
		data = doc
	}
	if s, _ := data["markdown"].(string); s != "" {
		return s
	}
	s, _ := data["content"].(string)
	return s
}

func pageTitleFrom(data map[string]any) string {
	if meta, ok := data["metadata"].(map[string]any); ok {
		if s, _ := meta["title"].(string); s != "" {
			return s
		}
	}
	s, _ := data["title"].(string)
	return s
}

func sourceURL(item map[string]any) string {
	if meta, ok := item["metadata"].(map[string]any); ok {
		for _, key := range []string{"sourceURL", "url"} {
			if s, _ := meta[key].(string); s != "" {
				return s
			}
		}
	}
	s, _ := item["url"].(string)
	return s
}

func labelFor(url, title string) string {
	if title != "" {
		return title
	}
	if url != "" {
		return url
	}
	return "untitled"
}

func withScheme(u string) string {
	if u == "" || strings.Contains(u, "://") {
		return u
	}
	return "https://" + u
}
