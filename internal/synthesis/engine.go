// Package synthesis turns collected page content into answers: free-form
// synthesis, structured extraction with JSON recovery, and a few canned
// analyses.
package synthesis

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Completer is the LLM surface the engine needs. *llm.Client satisfies it.
type Completer interface {
	Complete(ctx context.Context, prompt, system string, maxTokens int) (string, error)
}

// Section is one labeled block of source material for a synthesis.
type Section struct {
	Label   string
	Content string
}

// Engine runs prompts over bounded context windows.
type Engine struct {
	completer       Completer
	logger          *zap.Logger
	maxContextBytes int
	maxTokens       int
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxContextBytes bounds how much source material one prompt carries.
func WithMaxContextBytes(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxContextBytes = n
		}
	}
}

// WithMaxTokens bounds the response length requested from the model.
func WithMaxTokens(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxTokens = n
		}
	}
}

// New builds an engine over the given completer.
func New(completer Completer, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		completer:       completer,
		logger:          logger,
		maxContextBytes: 150_000,
		maxTokens:       4096,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

const synthesisSystem = `You are a research analyst. Answer the user's question ` +
	`using only the provided source material. Cite the section labels you drew from. ` +
	`If the material does not answer the question, say so plainly.`

// Synthesize answers a query from the given sections. Sections are
// included in order until the context budget is spent; later sections
// are dropped whole rather than truncated mid-thought.
func (e *Engine) Synthesize(ctx context.Context, query string, sections []Section) (string, error) {
	if query == "" {
		return "", fmt.Errorf("synthesis query is empty")
	}

	var b strings.Builder
	b.WriteString("Question: ")
	b.WriteString(query)
	b.WriteString("\n\nSource material:\n")

	included := 0
	for _, s := range sections {
		block := fmt.Sprintf("\n--- %s ---\n%s\n", s.Label, s.Content)
		if b.Len()+len(block) > e.maxContextBytes {
			e.logger.Debug("synthesis context budget reached",
				zap.Int("included", included),
				zap.Int("dropped", len(sections)-included))
			break
		}
		b.WriteString(block)
		included++
	}
	if included == 0 {
		return "", fmt.Errorf("no source material fits the context budget")
	}

	return e.completer.Complete(ctx, b.String(), synthesisSystem, e.maxTokens)
}

const extractionSystem = `You extract structured data. Respond with a single JSON ` +
	`object and nothing else: no prose, no code fences.`

// ExtractStructured asks the model for JSON matching the given
// instructions and recovers a map from whatever comes back. Models that
// ignore the no-fence instruction still parse; an unrecoverable reply
// yields an empty map, not an error.
func (e *Engine) ExtractStructured(ctx context.Context, instructions, content string) (map[string]any, error) {
	if len(content) > e.maxContextBytes {
		content = content[:e.maxContextBytes]
	}
	prompt := fmt.Sprintf("Instructions: %s\n\nContent:\n%s", instructions, content)

	raw, err := e.completer.Complete(ctx, prompt, extractionSystem, e.maxTokens)
	if err != nil {
		return nil, fmt.Errorf("extraction completion: %w", err)
	}

	out := RecoverJSON(raw)
	if len(out) == 0 {
		e.logger.Warn("extraction reply yielded no JSON",
			zap.Int("reply_bytes", len(raw)))
	}
	return out, nil
}

// PlanResearch sketches an approach for a query before any scraping
// happens. The plan is advisory; callers proceed without one if the
// model is unavailable.
func (e *Engine) PlanResearch(ctx context.Context, query, domain string) (map[string]any, error) {
	content := "Query: " + query
	if domain != "" {
		content += "\nTarget domain: " + domain
	}
	return e.ExtractStructured(ctx,
		`Plan how to research this query as JSON with keys "steps" (list of `+
			`strings) and "focus" (string naming the most promising angle).`,
		content)
}

// AnalyzeContent summarizes one page: topics, entities, and key facts.
func (e *Engine) AnalyzeContent(ctx context.Context, content string) (map[string]any, error) {
	return e.ExtractStructured(ctx,
		`Summarize this page as JSON with keys "topics" (list of strings), `+
			`"entities" (list of strings), and "key_facts" (list of strings).`,
		content)
}

// AnalyzeSentiment classifies the tone of one page.
func (e *Engine) AnalyzeSentiment(ctx context.Context, content string) (map[string]any, error) {
	return e.ExtractStructured(ctx,
		`Classify the sentiment of this page as JSON with keys "sentiment" `+
			`(one of "positive", "neutral", "negative") and "confidence" (0 to 1).`,
		content)
}

// AnalyzeSiteStructure characterizes a site from its link map.
func (e *Engine) AnalyzeSiteStructure(ctx context.Context, rootURL string, links []string) (map[string]any, error) {
	const maxLinks = 500
	if len(links) > maxLinks {
		links = links[:maxLinks]
	}
	content := fmt.Sprintf("Root: %s\nLinks:\n%s", rootURL, strings.Join(links, "\n"))
	return e.ExtractStructured(ctx,
		`Describe this site's structure as JSON with keys "site_type" (string), `+
			`"main_sections" (list of strings), and "notable_pages" (list of strings).`,
		content)
}
