// Package memory provides an in-process VectorIndex for tests and
// single-node deployments. Recall is lexical: documents are ranked by
// keyword overlap with the query, which is deterministic and needs no
// embedding service.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/mgoodale/webscout/internal/research"
)

type entry struct {
	id       string
	content  string
	metadata map[string]any
}

// Index is a thread-safe lexical index grouped by collection.
type Index struct {
	mu          sync.RWMutex
	collections map[string]map[string]entry
}

// New returns an empty index.
func New() *Index {
	return &Index{collections: make(map[string]map[string]entry)}
}

var _ research.VectorIndex = (*Index)(nil)

// Upsert inserts or replaces a document.
func (x *Index) Upsert(_ context.Context, collection, id, content string, metadata map[string]any) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	col, ok := x.collections[collection]
	if !ok {
		col = make(map[string]entry)
		x.collections[collection] = col
	}
	md := make(map[string]any, len(metadata))
	for k, v := range metadata {
		md[k] = v
	}
	col[id] = entry{id: id, content: content, metadata: md}
	return nil
}

// Search ranks documents by the fraction of query terms they contain.
// Documents matching no term are excluded.
func (x *Index) Search(_ context.Context, collection, query string, limit int, filter map[string]any) ([]research.IndexHit, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	terms := tokenize(query)
	if len(terms) == 0 {
		return nil, nil
	}

	var hits []research.IndexHit
	for _, e := range x.collections[collection] {
		if !matches(e.metadata, filter) {
			continue
		}
		score := overlap(terms, strings.ToLower(e.content))
		if score == 0 {
			continue
		}
		hits = append(hits, research.IndexHit{
			ID:       e.id,
			Content:  e.content,
			Metadata: e.metadata,
			Score:    score,
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Delete removes every document in the collection whose metadata
// contains the filter. An empty filter clears the collection.
func (x *Index) Delete(_ context.Context, collection string, filter map[string]any) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if len(filter) == 0 {
		delete(x.collections, collection)
		return nil
	}
	col := x.collections[collection]
	for id, e := range col {
		if matches(e.metadata, filter) {
			delete(col, id)
		}
	}
	return nil
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) >= 2 {
			out = append(out, f)
		}
	}
	return out
}

func overlap(terms []string, content string) float64 {
	matched := 0
	for _, term := range terms {
		if strings.Contains(content, term) {
			matched++
		}
	}
	return float64(matched) / float64(len(terms))
}

func matches(metadata, filter map[string]any) bool {
	for k, want := range filter {
		if metadata[k] != want {
			return false
		}
	}
	return true
}
