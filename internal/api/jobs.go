package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mgoodale/webscout/internal/research"
)

type submitRequest struct {
	Query            string          `json:"query"`
	Domain           string          `json:"domain"`
	URL              string          `json:"url"`
	URLs             []string        `json:"urls"`
	Formats          []string        `json:"formats"`
	Proxy            string          `json:"proxy"`
	RetryWithStealth *bool           `json:"retry_with_stealth"`
	OnlyMainContent  *bool           `json:"only_main_content"`
	Timeout          int             `json:"timeout"`
	WaitFor          int             `json:"wait_for"`
	Search           string          `json:"search"`
	Limit            int             `json:"limit"`
	ExtractPrompt    string          `json:"extract_prompt"`
	ExtractSchema    json.RawMessage `json:"extract_schema"`
	Agent            map[string]any  `json:"agent"`
	MaxDepth         int             `json:"max_depth"`
	IncludePaths     []string        `json:"include_paths"`
	ExcludePaths     []string        `json:"exclude_paths"`
	AllowBackward    bool            `json:"allow_backward_links"`
	AllowExternal    bool            `json:"allow_external_links"`
	Delay            int             `json:"delay"`
	Webhook          string          `json:"webhook"`
}

func (req submitRequest) options(mode research.JobMode) research.JobOptions {
	return research.JobOptions{
		Mode:             mode,
		URLs:             req.URLs,
		Formats:          req.Formats,
		Proxy:            research.ProxyType(req.Proxy),
		RetryWithStealth: req.RetryWithStealth,
		OnlyMainContent:  req.OnlyMainContent,
		TimeoutMS:        req.Timeout,
		WaitFor:          req.WaitFor,
		Search:           req.Search,
		Limit:            req.Limit,
		ExtractPrompt:    req.ExtractPrompt,
		ExtractSchema:    req.ExtractSchema,
		Agent:            req.Agent,
		MaxDepth:         req.MaxDepth,
		IncludePaths:     req.IncludePaths,
		ExcludePaths:     req.ExcludePaths,
		AllowBackward:    req.AllowBackward,
		AllowExternal:    req.AllowExternal,
		Delay:            req.Delay,
		Webhook:          req.Webhook,
	}
}

type submitResponse struct {
	JobID       string `json:"job_id"`
	Status      string `json:"status"`
	CreditsUsed int    `json:"credits_used"`
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request, mode research.JobMode) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	domain := req.Domain
	if domain == "" {
		domain = req.URL
	}
	user := requestUser(r)

	job, err := s.orch.Submit(r.Context(), user.ID, req.Query, domain, req.options(mode))
	if err != nil {
		switch {
		case errors.Is(err, research.ErrQuotaExceeded):
			writeError(w, http.StatusForbidden,
				fmt.Sprintf("insufficient credits: request needs %d", creditEstimate(req, mode)))
		case errors.Is(err, research.ErrUserInactive):
			writeError(w, http.StatusForbidden, "account is inactive")
		case errors.Is(err, research.ErrQueueFull):
			writeError(w, http.StatusServiceUnavailable, "job queue is full")
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusAccepted, submitResponse{
		JobID:       job.ID,
		Status:      string(job.Status),
		CreditsUsed: job.CreditsUsed,
	})
}

func creditEstimate(req submitRequest, mode research.JobMode) int {
	opts := req.options(mode)
	urls := len(opts.URLs)
	if urls == 0 {
		urls = 1
	}
	return urls * research.CreditsPerURL(opts.Proxy)
}

func (s *Server) submitScrape(w http.ResponseWriter, r *http.Request) {
	s.submit(w, r, research.ModeResearch)
}

func (s *Server) submitBatch(w http.ResponseWriter, r *http.Request) {
	s.submit(w, r, research.ModeBatch)
}

func (s *Server) submitMap(w http.ResponseWriter, r *http.Request) {
	s.submit(w, r, research.ModeMap)
}

func (s *Server) submitSearchExtract(w http.ResponseWriter, r *http.Request) {
	s.submit(w, r, research.ModeSearchExtract)
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	user := requestUser(r)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	jobs, err := s.jobs.ListJobs(r.Context(), user.ID, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

// jobForRequest loads a job and checks it belongs to the caller. Jobs
// of other users read as not found.
func (s *Server) jobForRequest(w http.ResponseWriter, r *http.Request) (*research.Job, bool) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobs.GetJob(r.Context(), jobID)
	if err != nil || job.UserID != requestUser(r).ID {
		writeError(w, http.StatusNotFound, "job not found")
		return nil, false
	}
	return job, true
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.jobForRequest(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) getJobResults(w http.ResponseWriter, r *http.Request) {
	job, ok := s.jobForRequest(w, r)
	if !ok {
		return
	}
	results, err := s.jobs.ListResults(r.Context(), job.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch job results")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"job_id":  job.ID,
		"status":  job.Status,
		"results": results,
	})
}

// getProviderStatus relays the provider's own view of a job's async
// crawl or batch. Only jobs that recorded a provider handle have one;
// synchronous jobs answer with a conflict.
func (s *Server) getProviderStatus(w http.ResponseWriter, r *http.Request) {
	job, ok := s.jobForRequest(w, r)
	if !ok {
		return
	}
	if job.ProviderJobID == "" {
		writeError(w, http.StatusConflict, "job has no provider job id")
		return
	}
	doc, err := s.orch.ProviderStatus(r.Context(), job.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "provider status check failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"job_id":   job.ID,
		"provider": doc,
	})
}

func (s *Server) deleteJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.jobForRequest(w, r)
	if !ok {
		return
	}
	if err := s.jobs.DeleteJob(r.Context(), job.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": job.ID, "deleted": "true"})
}
