package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mgoodale/webscout/internal/research"
)

type scratchpadSaveRequest struct {
	Key      string          `json:"key"`
	Value    json.RawMessage `json:"value"`
	Source   string          `json:"source"`
	Metadata map[string]any  `json:"metadata"`
}

func (s *Server) saveScratchpad(w http.ResponseWriter, r *http.Request) {
	var req scratchpadSaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Key == "" {
		writeError(w, http.StatusBadRequest, "key is required")
		return
	}
	if req.Source == "" {
		req.Source = "user"
	}

	// A JSON string saves as text; any other JSON value is stored
	// structurally.
	var value any
	var text string
	if err := json.Unmarshal(req.Value, &text); err == nil {
		value = text
	} else {
		value = map[string]any{}
		if err := json.Unmarshal(req.Value, &value); err != nil {
			value = string(req.Value)
		}
	}

	svc := s.scratchpadFor(r)
	if err := svc.Save(r.Context(), req.Key, value, req.Source, req.Metadata); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save entry")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": req.Key, "status": "saved"})
}

func (s *Server) getScratchpad(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	entry, err := s.scratchpadFor(r).Fetch(r.Context(), key)
	if err != nil {
		if errors.Is(err, research.ErrNotFound) {
			writeError(w, http.StatusNotFound, "entry not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to fetch entry")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

type scratchpadSearchRequest struct {
	Query  string         `json:"query"`
	Source string         `json:"source"`
	Limit  int            `json:"limit"`
	Filter map[string]any `json:"filter_metadata"`
}

func (s *Server) searchScratchpad(w http.ResponseWriter, r *http.Request) {
	var req scratchpadSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.Limit <= 0 {
		req.Limit = 5
	}

	filter := req.Filter
	if req.Source != "" {
		if filter == nil {
			filter = map[string]any{}
		}
		filter["source"] = req.Source
	}

	hits := s.scratchpadFor(r).SemanticSearch(r.Context(), req.Query, req.Limit, filter)
	if hits == nil {
		hits = []research.IndexHit{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"hits": hits})
}

// listScratchpadKeys lists entry keys. A "source" query parameter
// switches to the full-entry source listing; any other query parameter
// becomes a conjunctive metadata filter.
func (s *Server) listScratchpadKeys(w http.ResponseWriter, r *http.Request) {
	source := r.URL.Query().Get("source")
	if source != "" {
		s.writeEntriesBySource(w, r, source)
		return
	}
	filter := map[string]any{}
	for k, vals := range r.URL.Query() {
		if len(vals) == 0 || k == "limit" {
			continue
		}
		filter[k] = vals[0]
	}
	keys, err := s.scratchpadFor(r).ListKeys(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list entries")
		return
	}
	if keys == nil {
		keys = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

func (s *Server) scratchpadBySource(w http.ResponseWriter, r *http.Request) {
	s.writeEntriesBySource(w, r, chi.URLParam(r, "source"))
}

// writeEntriesBySource lists durable entries whose metadata carries the
// given source tag. This reads the store, not the index, so entries
// whose index write failed still appear.
func (s *Server) writeEntriesBySource(w http.ResponseWriter, r *http.Request, source string) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := s.scratchpadFor(r).FilterBySource(r.Context(), source, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list entries")
		return
	}
	if entries == nil {
		entries = []*research.ScratchpadEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) sessionScratchpad(w http.ResponseWriter, r *http.Request) {
	svc := s.scratchpadFor(r)
	entries, err := svc.SessionEntries(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list session entries")
		return
	}
	if entries == nil {
		entries = []*research.ScratchpadEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": svc.SessionID(),
		"entries":    entries,
	})
}

func (s *Server) scratchpadHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	history := s.scratchpadFor(r).History(limit)
	writeJSON(w, http.StatusOK, map[string]any{"history": history})
}

func (s *Server) deleteScratchpad(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if err := s.scratchpadFor(r).Delete(r.Context(), key); err != nil {
		if errors.Is(err, research.ErrNotFound) {
			writeError(w, http.StatusNotFound, "entry not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to delete entry")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key, "status": "deleted"})
}

func (s *Server) clearScratchpadSession(w http.ResponseWriter, r *http.Request) {
	svc := s.scratchpadFor(r)
	svc.ClearSession(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{
		"session_id": svc.SessionID(),
		"status":     "cleared",
	})
}
