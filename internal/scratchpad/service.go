// Package scratchpad is the working memory for one research session:
// a durable per-user key-value layer, a best-effort semantic index
// scoped to the session, and an in-process operation log.
package scratchpad

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mgoodale/webscout/internal/research"
)

// Content types recorded on durable entries.
const (
	ContentText   = "text"
	ContentJSON   = "json"
	ContentBinary = "binary"
)

// Operation is one entry in the in-process log. The log is the audit
// trail for a session and is never persisted.
type Operation struct {
	Op   string    `json:"op"`
	Key  string    `json:"key,omitempty"`
	Note string    `json:"note,omitempty"`
	At   time.Time `json:"at"`
}

// Service binds scratchpad operations to one user and one session.
// Durable writes go through the store; the semantic index is advisory
// and its failures are logged, never surfaced.
type Service struct {
	store  research.ScratchpadStore
	index  research.VectorIndex
	clock  research.Clock
	ids    research.IDGenerator
	logger *zap.Logger

	userID    string
	sessionID string

	mu      sync.Mutex
	history []Operation
}

// NewService builds a session-scoped scratchpad. An empty sessionID
// starts a fresh session.
func NewService(store research.ScratchpadStore, index research.VectorIndex,
	clock research.Clock, ids research.IDGenerator, logger *zap.Logger,
	userID, sessionID string) *Service {
	if sessionID == "" {
		sessionID = ids.NewID()
	}
	return &Service{
		store:     store,
		index:     index,
		clock:     clock,
		ids:       ids,
		logger:    logger,
		userID:    userID,
		sessionID: sessionID,
	}
}

// SessionID returns the session this service is bound to.
func (s *Service) SessionID() string { return s.sessionID }

func (s *Service) collection() string { return "scratchpad_" + s.sessionID }

// Save upserts a value under the given key. Strings store as text,
// byte slices as binary, everything else is marshaled to JSON. The
// durable write must succeed; indexing is attempted afterwards and a
// failure there only logs.
func (s *Service) Save(ctx context.Context, key string, value any, source string, metadata map[string]any) error {
	now := s.clock.Now()
	md := s.indexMetadata(source, key, metadata, now)
	entry := &research.ScratchpadEntry{
		UserID:    s.userID,
		Key:       key,
		Metadata:  md,
		CreatedAt: now,
		UpdatedAt: now,
	}

	var indexContent string
	switch v := value.(type) {
	case string:
		entry.ContentType = ContentText
		entry.TextContent = v
		indexContent = v
	case []byte:
		entry.ContentType = ContentBinary
		entry.BinaryContent = v
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal scratchpad value for %q: %w", key, err)
		}
		entry.ContentType = ContentJSON
		entry.JSONContent = raw
		indexContent = string(raw)
	}

	if err := s.store.Upsert(ctx, entry); err != nil {
		return fmt.Errorf("saving scratchpad key %q: %w", key, err)
	}
	s.record("save", key, "")

	if indexContent != "" {
		if err := s.index.Upsert(ctx, s.collection(), key, indexContent, md); err != nil {
			s.logger.Warn("scratchpad index upsert failed",
				zap.String("key", key), zap.Error(err))
		}
	}
	return nil
}

// Fetch reads a durable entry by key.
func (s *Service) Fetch(ctx context.Context, key string) (*research.ScratchpadEntry, error) {
	entry, err := s.store.Get(ctx, s.userID, key)
	if err != nil {
		return nil, err
	}
	s.record("fetch", key, "")
	return entry, nil
}

// SemanticSearch queries this session's index, optionally narrowed by
// a conjunctive metadata filter. Index trouble yields an empty result
// set, not an error: recall is advisory.
func (s *Service) SemanticSearch(ctx context.Context, query string, limit int, filter map[string]any) []research.IndexHit {
	hits, err := s.index.Search(ctx, s.collection(), query, limit, filter)
	if err != nil {
		s.logger.Warn("scratchpad search failed", zap.Error(err))
		return nil
	}
	s.record("search", "", query)
	return hits
}

// FilterBySource returns the durable entries saved from one source,
// such as "scrape" or "search". A linear scan over the store rather
// than an index query, so entries whose index write failed still show
// up. A limit of zero or less means unbounded.
func (s *Service) FilterBySource(ctx context.Context, source string, limit int) ([]*research.ScratchpadEntry, error) {
	entries, err := s.store.List(ctx, s.userID)
	if err != nil {
		return nil, fmt.Errorf("listing scratchpad entries: %w", err)
	}
	var out []*research.ScratchpadEntry
	for _, e := range entries {
		if got, _ := e.Metadata["source"].(string); got != source {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// ListKeys returns the keys of the user's durable entries, keeping only
// those whose metadata matches every given filter pair. A nil or empty
// filter keeps everything.
func (s *Service) ListKeys(ctx context.Context, filter map[string]any) ([]string, error) {
	entries, err := s.store.List(ctx, s.userID)
	if err != nil {
		return nil, fmt.Errorf("listing scratchpad entries: %w", err)
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		if !matchesMetadata(e.Metadata, filter) {
			continue
		}
		keys = append(keys, e.Key)
	}
	return keys, nil
}

func matchesMetadata(md, filter map[string]any) bool {
	for k, want := range filter {
		if md[k] != want {
			return false
		}
	}
	return true
}

// SessionEntries returns the durable entries written during this session.
func (s *Service) SessionEntries(ctx context.Context) ([]*research.ScratchpadEntry, error) {
	entries, err := s.store.List(ctx, s.userID)
	if err != nil {
		return nil, fmt.Errorf("listing scratchpad entries: %w", err)
	}
	var out []*research.ScratchpadEntry
	for _, e := range entries {
		if sid, _ := e.Metadata["session_id"].(string); sid == s.sessionID {
			out = append(out, e)
		}
	}
	return out, nil
}

// Delete removes a durable entry and its index document.
func (s *Service) Delete(ctx context.Context, key string) error {
	if err := s.store.Delete(ctx, s.userID, key); err != nil {
		return err
	}
	s.record("delete", key, "")
	if err := s.index.Delete(ctx, s.collection(), map[string]any{"key": key}); err != nil {
		s.logger.Warn("scratchpad index delete failed",
			zap.String("key", key), zap.Error(err))
	}
	return nil
}

// ClearSession deletes every durable entry tagged with this session,
// resets the operation log, then drops the session's index collection.
// The deletes run one at a time; a crash mid-clear leaves a partially
// cleared session.
func (s *Service) ClearSession(ctx context.Context) {
	entries, err := s.SessionEntries(ctx)
	if err != nil {
		s.logger.Warn("scratchpad session clear failed", zap.Error(err))
	}
	for _, entry := range entries {
		if err := s.store.Delete(ctx, s.userID, entry.Key); err != nil {
			s.logger.Warn("scratchpad session entry delete failed",
				zap.String("key", entry.Key), zap.Error(err))
		}
	}

	s.mu.Lock()
	s.history = nil
	s.mu.Unlock()

	if err := s.index.Delete(ctx, s.collection(), nil); err != nil {
		s.logger.Warn("scratchpad index clear failed", zap.Error(err))
	}
}

// History returns the tail of the operation log, in order. A limit of
// zero or less returns the whole log.
func (s *Service) History(limit int) []Operation {
	s.mu.Lock()
	defer s.mu.Unlock()
	ops := s.history
	if limit > 0 && len(ops) > limit {
		ops = ops[len(ops)-limit:]
	}
	out := make([]Operation, len(ops))
	copy(out, ops)
	return out
}

// indexMetadata layers the session's base fields under the caller's
// metadata; caller keys win on conflict.
func (s *Service) indexMetadata(source, key string, extra map[string]any, now time.Time) map[string]any {
	md := map[string]any{
		"timestamp":  now.UTC().Format(time.RFC3339),
		"session_id": s.sessionID,
		"source":     source,
		"key":        key,
	}
	for k, v := range extra {
		md[k] = v
	}
	return md
}

func (s *Service) record(op, key, note string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, Operation{Op: op, Key: key, Note: note, At: s.clock.Now()})
}
