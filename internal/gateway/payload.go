package gateway

import (
	"encoding/json"

	"github.com/mgoodale/webscout/internal/research"
)

// scrapePayload maps job options onto the provider's scrape request
// body. Zero values stay off the wire so the provider's defaults apply.
func scrapePayload(o research.JobOptions, proxy research.ProxyType) map[string]any {
	p := map[string]any{"proxy": string(proxy)}
	if len(o.Formats) > 0 {
		p["formats"] = o.Formats
	}
	if o.OnlyMainContent != nil {
		p["onlyMainContent"] = *o.OnlyMainContent
	}
	if len(o.IncludeTags) > 0 {
		p["includeTags"] = o.IncludeTags
	}
	if len(o.ExcludeTags) > 0 {
		p["excludeTags"] = o.ExcludeTags
	}
	if o.WaitFor > 0 {
		p["waitFor"] = o.WaitFor
	}
	if o.TimeoutMS > 0 {
		p["timeout"] = o.TimeoutMS
	}
	if o.ParsePDF != nil {
		p["parsePDF"] = *o.ParsePDF
	}
	if len(o.Headers) > 0 {
		p["headers"] = o.Headers
	}
	if len(o.Agent) > 0 {
		p["agent"] = o.Agent
	}
	if extract := extractPayload(o); extract != nil {
		p["jsonOptions"] = extract
	}
	return p
}

// extractPayload builds the structured-extraction block when a schema
// or prompt was supplied.
func extractPayload(o research.JobOptions) map[string]any {
	if len(o.ExtractSchema) == 0 && o.ExtractPrompt == "" {
		return nil
	}
	extract := map[string]any{}
	if len(o.ExtractSchema) > 0 {
		var schema any
		if err := json.Unmarshal(o.ExtractSchema, &schema); err == nil {
			extract["schema"] = schema
		}
	}
	if o.ExtractPrompt != "" {
		extract["prompt"] = o.ExtractPrompt
	}
	return extract
}

func crawlPayload(o research.JobOptions, proxy research.ProxyType) map[string]any {
	p := map[string]any{
		"scrapeOptions": scrapePayload(o, proxy),
	}
	if o.MaxDepth > 0 {
		p["maxDepth"] = o.MaxDepth
	}
	if o.Limit > 0 {
		p["limit"] = o.Limit
	}
	if o.AllowBackward {
		p["allowBackwardLinks"] = true
	}
	if o.AllowExternal {
		p["allowExternalLinks"] = true
	}
	if o.Delay > 0 {
		p["delay"] = o.Delay
	}
	if len(o.IncludePaths) > 0 {
		p["includePaths"] = o.IncludePaths
	}
	if len(o.ExcludePaths) > 0 {
		p["excludePaths"] = o.ExcludePaths
	}
	if o.IgnoreSitemap {
		p["ignoreSitemap"] = true
	}
	if o.Webhook != "" {
		p["webhook"] = o.Webhook
	}
	return p
}

func batchPayload(o research.JobOptions, proxy research.ProxyType) map[string]any {
	p := scrapePayload(o, proxy)
	if o.Webhook != "" {
		p["webhook"] = o.Webhook
	}
	return p
}

func mapPayload(o research.JobOptions) map[string]any {
	p := map[string]any{}
	if o.Search != "" {
		p["search"] = o.Search
	}
	if o.Limit > 0 {
		p["limit"] = o.Limit
	}
	if o.IgnoreSitemap {
		p["ignoreSitemap"] = true
	}
	if o.IncludeSubdomains {
		p["includeSubdomains"] = true
	}
	return p
}

func searchPayload(o research.JobOptions, proxy research.ProxyType) map[string]any {
	p := map[string]any{}
	if o.Limit > 0 {
		p["limit"] = o.Limit
	}
	if o.Lang != "" {
		p["lang"] = o.Lang
	}
	if o.Country != "" {
		p["country"] = o.Country
	}
	if o.TBS != "" {
		p["tbs"] = o.TBS
	}
	if len(o.Formats) > 0 {
		p["scrapeOptions"] = scrapePayload(o, proxy)
	}
	return p
}
