package synthesis

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type scriptedCompleter struct {
	reply   string
	err     error
	prompts []string
	systems []string
}

func (c *scriptedCompleter) Complete(_ context.Context, prompt, system string, _ int) (string, error) {
	c.prompts = append(c.prompts, prompt)
	c.systems = append(c.systems, system)
	return c.reply, c.err
}

func TestSynthesizeBuildsLabeledPrompt(t *testing.T) {
	c := &scriptedCompleter{reply: "the answer"}
	e := New(c, zap.NewNop())

	out, err := e.Synthesize(context.Background(), "what moved prices?", []Section{
		{Label: "example.com", Content: "prices rose 3%"},
		{Label: "other.com", Content: "demand was flat"},
	})
	require.NoError(t, err)
	require.Equal(t, "the answer", out)

	require.Len(t, c.prompts, 1)
	prompt := c.prompts[0]
	require.Contains(t, prompt, "what moved prices?")
	require.Contains(t, prompt, "--- example.com ---")
	require.Contains(t, prompt, "--- other.com ---")
	require.Contains(t, c.systems[0], "research analyst")
}

func TestSynthesizeDropsSectionsPastBudget(t *testing.T) {
	c := &scriptedCompleter{reply: "ok"}
	e := New(c, zap.NewNop(), WithMaxContextBytes(300))

	_, err := e.Synthesize(context.Background(), "q", []Section{
		{Label: "first", Content: strings.Repeat("a", 100)},
		{Label: "second", Content: strings.Repeat("b", 500)},
	})
	require.NoError(t, err)
	require.Contains(t, c.prompts[0], "--- first ---")
	require.NotContains(t, c.prompts[0], "--- second ---")
}

func TestSynthesizeFailsWhenNothingFits(t *testing.T) {
	e := New(&scriptedCompleter{}, zap.NewNop(), WithMaxContextBytes(50))

	_, err := e.Synthesize(context.Background(), "q", []Section{
		{Label: "big", Content: strings.Repeat("x", 500)},
	})
	require.ErrorContains(t, err, "context budget")
}

func TestSynthesizeEmptyQuery(t *testing.T) {
	e := New(&scriptedCompleter{}, zap.NewNop())
	_, err := e.Synthesize(context.Background(), "", nil)
	require.Error(t, err)
}

func TestExtractStructuredPropagatesCompleterError(t *testing.T) {
	e := New(&scriptedCompleter{err: errors.New("rate limited")}, zap.NewNop())
	_, err := e.ExtractStructured(context.Background(), "extract", "content")
	require.ErrorContains(t, err, "rate limited")
}

func TestExtractStructuredRecoversFencedJSON(t *testing.T) {
	c := &scriptedCompleter{reply: "Here you go:\n```json\n{\"price\": 9.99}\n```"}
	e := New(c, zap.NewNop())

	out, err := e.ExtractStructured(context.Background(), "get the price", "page text")
	require.NoError(t, err)
	require.Equal(t, 9.99, out["price"])
}

func TestRecoverJSON(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want map[string]any
	}{
		{"bare object", `{"a": 1}`, map[string]any{"a": float64(1)}},
		{"fenced with tag", "```json\n{\"a\": 1}\n```", map[string]any{"a": float64(1)}},
		{"fenced without tag", "```\n{\"a\": 1}\n```", map[string]any{"a": float64(1)}},
		{"unclosed fence", "```json\n{\"a\": 1}", map[string]any{"a": float64(1)}},
		{"prose around braces", `Sure! The data is {"a": 1} as requested.`, map[string]any{"a": float64(1)}},
		{"nested braces", `result: {"outer": {"inner": 2}}`, map[string]any{"outer": map[string]any{"inner": float64(2)}}},
		{"no json at all", "I could not find anything.", map[string]any{}},
		{"empty", "", map[string]any{}},
		{"array not object", `[1, 2, 3]`, map[string]any{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, RecoverJSON(tc.in))
		})
	}
}

func TestAnalyzeSiteStructureCapsLinks(t *testing.T) {
	c := &scriptedCompleter{reply: `{"site_type": "news"}`}
	e := New(c, zap.NewNop())

	links := make([]string, 600)
	for i := range links {
		links[i] = "https://example.com/p"
	}
	out, err := e.AnalyzeSiteStructure(context.Background(), "https://example.com", links)
	require.NoError(t, err)
	require.Equal(t, "news", out["site_type"])
	require.Equal(t, 500, strings.Count(c.prompts[0], "https://example.com/p"))
}
