package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	batchBaseURL     = "https://api.anthropic.com/v1/messages/batches"
	anthropicVersion = "2023-06-01"
)

// BatchRequest is one prompt inside a message batch.
type BatchRequest struct {
	CustomID  string
	Prompt    string
	System    string
	MaxTokens int
}

// BatchStatus is a snapshot of a submitted batch.
type BatchStatus struct {
	ID               string `json:"id"`
	ProcessingStatus string `json:"processing_status"`
	ResultsURL       string `json:"results_url"`
}

// BatchResult is one entry from a finished batch's results file.
type BatchResult struct {
	CustomID string
	Text     string
	Err      string
}

// BatchClient drives the Message Batches REST API. Batches trade
// latency for cost and suit bulk extraction over many scraped pages.
type BatchClient struct {
	apiKey  string
	model   string
	baseURL string
	http    *http.Client
}

// NewBatchClient builds a batch client for the given API key.
func NewBatchClient(apiKey, model string) *BatchClient {
	if model == "" {
		model = defaultModel
	}
	return &BatchClient{
		apiKey:  apiKey,
		model:   model,
		baseURL: batchBaseURL,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

// Submit creates a batch and returns its status envelope.
func (c *BatchClient) Submit(ctx context.Context, requests []BatchRequest) (*BatchStatus, error) {
	if len(requests) == 0 {
		return nil, fmt.Errorf("batch needs at least one request")
	}
	entries := make([]map[string]any, 0, len(requests))
	for _, r := range requests {
		maxTokens := r.MaxTokens
		if maxTokens <= 0 {
			maxTokens = 4096
		}
		params := map[string]any{
			"model":      c.model,
			"max_tokens": maxTokens,
			"messages": []map[string]any{
				{"role": "user", "content": r.Prompt},
			},
		}
		if r.System != "" {
			params["system"] = r.System
		}
		entries = append(entries, map[string]any{
			"custom_id": r.CustomID,
			"params":    params,
		})
	}

	body, err := json.Marshal(map[string]any{"requests": entries})
	if err != nil {
		return nil, fmt.Errorf("encoding batch: %w", err)
	}
	return c.statusRequest(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
}

// Status polls a batch by ID.
func (c *BatchClient) Status(ctx context.Context, id string) (*BatchStatus, error) {
	return c.statusRequest(ctx, http.MethodGet, c.baseURL+"/"+id, nil)
}

// Results streams the JSONL results file of an ended batch.
func (c *BatchClient) Results(ctx context.Context, status *BatchStatus) ([]BatchResult, error) {
	if status.ResultsURL == "" {
		return nil, fmt.Errorf("batch %s has no results url", status.ID)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, status.ResultsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building results request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching batch results: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("batch results returned status %d", resp.StatusCode)
	}

	var out []BatchResult
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 1<<20), 16<<20)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		out = append(out, decodeBatchLine(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading batch results: %w", err)
	}
	return out, nil
}

func decodeBatchLine(line []byte) BatchResult {
	var entry struct {
		CustomID string `json:"custom_id"`
		Result   struct {
			Type    string `json:"type"`
			Message struct {
				Content []struct {
					Type string `json:"type"`
					Text string `json:"text"`
				} `json:"content"`
			} `json:"message"`
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		} `json:"result"`
	}
	if err := json.Unmarshal(line, &entry); err != nil {
		return BatchResult{Err: fmt.Sprintf("undecodable result line: %s", err)}
	}
	res := BatchResult{CustomID: entry.CustomID}
	if entry.Result.Type != "succeeded" {
		res.Err = entry.Result.Error.Message
		if res.Err == "" {
			res.Err = fmt.Sprintf("batch entry ended with type %q", entry.Result.Type)
		}
		return res
	}
	for _, block := range entry.Result.Message.Content {
		if block.Type == "text" {
			res.Text += block.Text
		}
	}
	return res
}

func (c *BatchClient) statusRequest(ctx context.Context, method, url string, body io.Reader) (*BatchStatus, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("building batch request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling batch api: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("reading batch response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("batch api returned status %d: %s", resp.StatusCode, raw)
	}

	var status BatchStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		return nil, fmt.Errorf("decoding batch status: %w", err)
	}
	return &status, nil
}

func (c *BatchClient) setHeaders(req *http.Request) {
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)
}
