// Package research defines the core domain model for the orchestration
// service: jobs, results, scratchpad entries, users, and the interfaces
// the rest of the system is wired through.
package research

import (
	"encoding/json"
	"time"
)

// JobStatus is the lifecycle state of a research job.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// JobMode selects the operation a job performs.
type JobMode string

const (
	ModeResearch      JobMode = "research"
	ModeBatch         JobMode = "batch"
	ModeMap           JobMode = "map"
	ModeSearchExtract JobMode = "search_extract"
)

// ProxyType selects the scraping provider's proxy tier.
type ProxyType string

const (
	ProxyBasic   ProxyType = "basic"
	ProxyStealth ProxyType = "stealth"
)

// CreditsPerURL is the quota cost of one URL through the named proxy tier.
func CreditsPerURL(p ProxyType) int {
	if p == ProxyStealth {
		return 5
	}
	return 1
}

// JobOptions carries the per-job knobs forwarded to the provider and the
// synthesis layer. Zero values mean "provider default".
type JobOptions struct {
	Mode             JobMode           `json:"mode,omitempty"`
	URLs             []string          `json:"urls,omitempty"`
	Formats          []string          `json:"formats,omitempty"`
	Proxy            ProxyType         `json:"proxy,omitempty"`
	RetryWithStealth *bool             `json:"retry_with_stealth,omitempty"`
	OnlyMainContent  *bool             `json:"only_main_content,omitempty"`
	IncludeTags      []string          `json:"include_tags,omitempty"`
	ExcludeTags      []string          `json:"exclude_tags,omitempty"`
	WaitFor          int               `json:"wait_for,omitempty"`
	TimeoutMS        int               `json:"timeout_ms,omitempty"`
	ParsePDF         *bool             `json:"parse_pdf,omitempty"`
	Agent            map[string]any    `json:"agent,omitempty"`
	ExtractSchema    json.RawMessage   `json:"extract_schema,omitempty"`
	ExtractPrompt    string            `json:"extract_prompt,omitempty"`
	MaxDepth         int               `json:"max_depth,omitempty"`
	Limit            int               `json:"limit,omitempty"`
	AllowBackward    bool              `json:"allow_backward_links,omitempty"`
	AllowExternal    bool              `json:"allow_external_links,omitempty"`
	Delay            int               `json:"delay,omitempty"`
	IncludePaths     []string          `json:"include_paths,omitempty"`
	ExcludePaths     []string          `json:"exclude_paths,omitempty"`
	IgnoreSitemap    bool              `json:"ignore_sitemap,omitempty"`
	IncludeSubdomains bool             `json:"include_subdomains,omitempty"`
	Search           string            `json:"search,omitempty"`
	Lang             string            `json:"lang,omitempty"`
	Country          string            `json:"country,omitempty"`
	TBS              string            `json:"tbs,omitempty"`
	Webhook          string            `json:"webhook,omitempty"`
	Headers          map[string]string `json:"headers,omitempty"`
}

// StealthEnabled reports whether the basic-to-stealth fallback applies.
// Fallback is on unless the caller explicitly disabled it or the job is
// already pinned to the stealth tier.
func (o JobOptions) StealthEnabled() bool {
	if o.Proxy == ProxyStealth {
		return false
	}
	if o.RetryWithStealth != nil {
		return *o.RetryWithStealth
	}
	return true
}

// Job is one unit of orchestrated work.
type Job struct {
	ID            string     `json:"id"`
	UserID        string     `json:"user_id"`
	Query         string     `json:"query"`
	Domain        string     `json:"domain,omitempty"`
	Status        JobStatus  `json:"status"`
	Options       JobOptions `json:"options"`
	ProviderJobID string     `json:"provider_job_id,omitempty"`
	CreditsUsed   int        `json:"credits_used"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// Result is one artifact produced by a job: a scraped page, a mapped
// link set, an extraction, or the final synthesis.
type Result struct {
	ID          string         `json:"id"`
	JobID       string         `json:"job_id"`
	URL         string         `json:"url,omitempty"`
	Title       string         `json:"title,omitempty"`
	Content     string         `json:"content,omitempty"`
	ContentType string         `json:"content_type,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// ScratchpadEntry is one durable row in a user's scratchpad. Exactly one
// of TextContent, JSONContent, or BinaryContent is set, per ContentType.
type ScratchpadEntry struct {
	UserID        string          `json:"user_id"`
	Key           string          `json:"key"`
	ContentType   string          `json:"content_type"`
	TextContent   string          `json:"text_content,omitempty"`
	JSONContent   json.RawMessage `json:"json_content,omitempty"`
	BinaryContent []byte          `json:"binary_content,omitempty"`
	Metadata      map[string]any  `json:"metadata,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// User is an account with provider credentials and a usage quota.
type User struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	APIKey       string `json:"-"`
	ProviderKey  string `json:"-"`
	AnthropicKey string `json:"-"`
	UsageQuota   int    `json:"usage_quota"`
	UsageCount   int    `json:"usage_count"`
	Active       bool   `json:"active"`
}

// QueueItem is the envelope placed on the work queue for each job.
type QueueItem struct {
	JobID     string    `json:"job_id"`
	UserID    string    `json:"user_id"`
	Attempt   int       `json:"attempt"`
	Submitted time.Time `json:"submitted"`
}

// IndexHit is one match returned by a vector index search.
type IndexHit struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Score    float64        `json:"score"`
}
