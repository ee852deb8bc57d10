package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mgoodale/webscout/internal/gateway"
	indexmem "github.com/mgoodale/webscout/internal/index/memory"
	"github.com/mgoodale/webscout/internal/orchestrator"
	pubmem "github.com/mgoodale/webscout/internal/publisher/memory"
	queuemem "github.com/mgoodale/webscout/internal/queue/memory"
	"github.com/mgoodale/webscout/internal/research"
	storagemem "github.com/mgoodale/webscout/internal/storage/memory"
	"github.com/mgoodale/webscout/internal/synthesis"
)

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type countIDs struct {
	mu sync.Mutex
	n  int
}

func (g *countIDs) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("id-%04d", g.n)
}

type noopProvider struct{}

func (noopProvider) Scrape(context.Context, string, map[string]any) (map[string]any, error) {
	return map[string]any{"success": true, "data": map[string]any{"markdown": "body"}}, nil
}

func (noopProvider) StartCrawl(context.Context, string, map[string]any) (map[string]any, error) {
	return map[string]any{"id": "c1"}, nil
}

func (noopProvider) CrawlStatus(context.Context, string) (map[string]any, error) {
	return map[string]any{"status": "completed"}, nil
}

func (noopProvider) StartBatch(context.Context, []string, map[string]any) (map[string]any, error) {
	return map[string]any{"id": "b1"}, nil
}

func (noopProvider) BatchStatus(context.Context, string) (map[string]any, error) {
	return map[string]any{"status": "completed", "data": []any{}}, nil
}

func (noopProvider) Map(context.Context, string, map[string]any) (map[string]any, error) {
	return map[string]any{"success": true, "links": []any{}}, nil
}

func (noopProvider) Search(context.Context, string, map[string]any) (map[string]any, error) {
	return map[string]any{"success": true, "data": []any{}}, nil
}

type apiHarness struct {
	srv   *httptest.Server
	orch  *orchestrator.Orchestrator
	jobs  *storagemem.JobStore
	users *storagemem.UserStore
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()

	jobs := storagemem.NewJobStore()
	users := storagemem.NewUserStore()
	pads := storagemem.NewScratchpadStore()
	index := indexmem.New()
	clock := systemClock{}
	ids := &countIDs{}

	require.NoError(t, users.AddUser(research.User{
		ID: "u1", Username: "alice", APIKey: "key-1",
		ProviderKey: "fc", AnthropicKey: "an",
		UsageQuota: 100, Active: true,
	}))
	require.NoError(t, users.AddUser(research.User{
		ID: "u2", Username: "bob", APIKey: "key-2",
		UsageQuota: 100, Active: false,
	}))

	orch, err := orchestrator.New(orchestrator.Deps{
		Jobs:    jobs,
		Users:   users,
		Scratch: pads,
		Index:   index,
		Blobs:   storagemem.NewBlobStore(),
		Queue:   queuemem.NewQueue(16),
		Clock:   clock,
		IDs:     ids,
		Logger:  zap.NewNop(),
		Gateways: func(string) *gateway.Gateway {
			return gateway.New(noopProvider{}, zap.NewNop(),
				gateway.WithPollInterval(time.Millisecond),
				gateway.WithPollTimeout(time.Second))
		},
		Completers: func(string) synthesis.Completer { return nil },
		Publisher:  pubmem.New(),
	})
	require.NoError(t, err)

	server := NewServer(Deps{
		Orchestrator: orch,
		Jobs:         jobs,
		Users:        users,
		Scratch:      pads,
		Index:        index,
		Clock:        clock,
		IDs:          ids,
		Logger:       zap.NewNop(),
	})

	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)
	return &apiHarness{srv: srv, orch: orch, jobs: jobs, users: users}
}

func (h *apiHarness) do(t *testing.T, method, path, apiKey string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, h.srv.URL+path, &buf)
	require.NoError(t, err)
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHealthEndpointsAreOpen(t *testing.T) {
	h := newAPIHarness(t)

	resp := h.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", decodeBody(t, resp)["status"])

	resp = h.do(t, http.MethodGet, "/readyz", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestAuthRequired(t *testing.T) {
	h := newAPIHarness(t)

	resp := h.do(t, http.MethodGet, "/v1/jobs", "", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	resp = h.do(t, http.MethodGet, "/v1/jobs", "bogus", nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	// Valid key but deactivated account.
	resp = h.do(t, http.MethodGet, "/v1/jobs", "key-2", nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()
}

func TestSubmitScrapeAccepted(t *testing.T) {
	h := newAPIHarness(t)

	resp := h.do(t, http.MethodPost, "/v1/scraper/scrape", "key-1", map[string]any{
		"query":  "what changed?",
		"domain": "example.com",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	body := decodeBody(t, resp)
	require.NotEmpty(t, body["job_id"])
	require.Equal(t, "pending", body["status"])
	require.Equal(t, float64(1), body["credits_used"])
}

func TestSubmitBatchQuotaExceeded(t *testing.T) {
	h := newAPIHarness(t)

	urls := make([]string, 30)
	for i := range urls {
		urls[i] = "https://example.com"
	}
	resp := h.do(t, http.MethodPost, "/v1/scraper/batch", "key-1", map[string]any{
		"urls":  urls,
		"proxy": "stealth", // 150 credits against a quota of 100
	})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Contains(t, decodeBody(t, resp)["error"], "150")
}

func TestSubmitValidationError(t *testing.T) {
	h := newAPIHarness(t)

	resp := h.do(t, http.MethodPost, "/v1/scraper/batch", "key-1", map[string]any{})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestJobLifecycleOverHTTP(t *testing.T) {
	h := newAPIHarness(t)

	resp := h.do(t, http.MethodPost, "/v1/scraper/map", "key-1", map[string]any{
		"url": "example.com",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	jobID := decodeBody(t, resp)["job_id"].(string)

	require.NoError(t, h.orch.Run(context.Background(), jobID))

	resp = h.do(t, http.MethodGet, "/v1/jobs/"+jobID, "key-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	job := decodeBody(t, resp)["job"].(map[string]any)
	require.Equal(t, "completed", job["status"])

	resp = h.do(t, http.MethodGet, "/v1/jobs/"+jobID+"/results", "key-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	results := decodeBody(t, resp)["results"].([]any)
	require.Len(t, results, 1)

	resp = h.do(t, http.MethodGet, "/v1/jobs", "key-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, decodeBody(t, resp)["jobs"], 1)

	resp = h.do(t, http.MethodDelete, "/v1/jobs/"+jobID, "key-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = h.do(t, http.MethodGet, "/v1/jobs/"+jobID, "key-1", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestJobsAreScopedToTheirOwner(t *testing.T) {
	h := newAPIHarness(t)
	require.NoError(t, h.users.AddUser(research.User{
		ID: "u3", APIKey: "key-3", UsageQuota: 10, Active: true,
	}))

	resp := h.do(t, http.MethodPost, "/v1/scraper/scrape", "key-1", map[string]any{
		"query": "q",
	})
	jobID := decodeBody(t, resp)["job_id"].(string)

	resp = h.do(t, http.MethodGet, "/v1/jobs/"+jobID, "key-3", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestScratchpadRoundTrip(t *testing.T) {
	h := newAPIHarness(t)

	resp := h.do(t, http.MethodPost, "/v1/scratchpad", "key-1", map[string]any{
		"key":    "notes",
		"value":  "remember the throughput numbers",
		"source": "user",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = h.do(t, http.MethodGet, "/v1/scratchpad/notes", "key-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	entry := decodeBody(t, resp)
	require.Equal(t, "remember the throughput numbers", entry["text_content"])

	resp = h.do(t, http.MethodGet, "/v1/scratchpad", "key-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, decodeBody(t, resp)["keys"], "notes")

	resp = h.do(t, http.MethodPost, "/v1/scratchpad/search", "key-1", map[string]any{
		"query": "throughput",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, decodeBody(t, resp)["hits"], 1)

	resp = h.do(t, http.MethodGet, "/v1/scratchpad/history", "key-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, decodeBody(t, resp)["history"])

	resp = h.do(t, http.MethodDelete, "/v1/scratchpad/notes", "key-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = h.do(t, http.MethodGet, "/v1/scratchpad/notes", "key-1", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestScratchpadSourceFilter(t *testing.T) {
	h := newAPIHarness(t)

	for key, source := range map[string]string{
		"a": "scrape",
		"b": "search",
	} {
		resp := h.do(t, http.MethodPost, "/v1/scratchpad", "key-1", map[string]any{
			"key":    key,
			"value":  "content for " + key,
			"source": source,
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
	}

	resp := h.do(t, http.MethodGet, "/v1/scratchpad/source/scrape", "key-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	entries := decodeBody(t, resp)["entries"].([]any)
	require.Len(t, entries, 1)
	require.Equal(t, "a", entries[0].(map[string]any)["key"])
}

func TestScratchpadSessionClear(t *testing.T) {
	h := newAPIHarness(t)

	resp := h.do(t, http.MethodPost, "/v1/scratchpad", "key-1", map[string]any{
		"key":   "scratch",
		"value": "ephemeral",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = h.do(t, http.MethodGet, "/v1/scratchpad/session", "key-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, decodeBody(t, resp)["entries"], 1)

	resp = h.do(t, http.MethodDelete, "/v1/scratchpad/session/clear", "key-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = h.do(t, http.MethodGet, "/v1/scratchpad/session", "key-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Empty(t, decodeBody(t, resp)["entries"])
}

func TestJobProviderStatusOverHTTP(t *testing.T) {
	h := newAPIHarness(t)

	resp := h.do(t, http.MethodPost, "/v1/scraper/batch", "key-1", map[string]any{
		"urls": []string{"https://a"},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	jobID := decodeBody(t, resp)["job_id"].(string)

	// A job that has not started yet has no provider handle.
	resp = h.do(t, http.MethodGet, "/v1/jobs/"+jobID+"/provider-status", "key-1", nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	require.NoError(t, h.orch.Run(context.Background(), jobID))

	resp = h.do(t, http.MethodGet, "/v1/jobs/"+jobID+"/provider-status", "key-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	provider := body["provider"].(map[string]any)
	require.Equal(t, "completed", provider["status"])
	require.Equal(t, "b1", provider["id"])
}

func TestScratchpadHistoryLimit(t *testing.T) {
	h := newAPIHarness(t)

	for _, key := range []string{"a", "b", "c"} {
		resp := h.do(t, http.MethodPost, "/v1/scratchpad", "key-1", map[string]any{
			"key":   key,
			"value": "entry " + key,
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
	}

	resp := h.do(t, http.MethodGet, "/v1/scratchpad/history?limit=1", "key-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	history := decodeBody(t, resp)["history"].([]any)
	require.Len(t, history, 1)
	require.Equal(t, "c", history[0].(map[string]any)["key"])
}

func TestScratchpadSessionCacheIsBounded(t *testing.T) {
	users := storagemem.NewUserStore()
	require.NoError(t, users.AddUser(research.User{ID: "u1", APIKey: "key-1", Active: true}))

	server := NewServer(Deps{
		Jobs:    storagemem.NewJobStore(),
		Users:   users,
		Scratch: storagemem.NewScratchpadStore(),
		Index:   indexmem.New(),
		Clock:   systemClock{},
		IDs:     &countIDs{},
		Logger:  zap.NewNop(),
	})

	user := &research.User{ID: "u1", Active: true}
	for i := 0; i < sessionCacheSize+10; i++ {
		req := httptest.NewRequest(http.MethodGet, "/v1/scratchpad", nil)
		req.Header.Set("X-Session-ID", fmt.Sprintf("s-%d", i))
		req = req.WithContext(context.WithValue(req.Context(), userContextKey{}, user))
		server.scratchpadFor(req)
	}

	server.mu.Lock()
	defer server.mu.Unlock()
	require.LessOrEqual(t, len(server.sessions), sessionCacheSize)
}
