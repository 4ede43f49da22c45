// Package memory provides an in-process vector store with the same
// surface as the Qdrant-backed one. Used in development mode and tests.
package memory

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/beetledev/beetle-engine/engine/semantic"
)

type Store struct {
	mu         sync.RWMutex
	partitions map[string]map[string]semantic.VectorRecord // partition -> point id -> record
}

func New() *Store {
	return &Store{partitions: make(map[string]map[string]semantic.VectorRecord)}
}

func (s *Store) EnsureCollection(_ context.Context, partitionKey string, _ int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.partitions[partitionKey]; !ok {
		s.partitions[partitionKey] = make(map[string]semantic.VectorRecord)
	}
	return nil
}

func (s *Store) DeletePartition(_ context.Context, partitionKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.partitions, partitionKey)
	return nil
}

func (s *Store) Upsert(_ context.Context, partitionKey string, records []semantic.VectorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	part, ok := s.partitions[partitionKey]
	if !ok {
		part = make(map[string]semantic.VectorRecord)
		s.partitions[partitionKey] = part
	}
	for _, r := range records {
		part[r.ID] = r
	}
	return nil
}

func (s *Store) DeleteByDocument(_ context.Context, partitionKey, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	part, ok := s.partitions[partitionKey]
	if !ok {
		return nil
	}
	for id, r := range part {
		if docID, _ := r.Payload["document_id"].(string); docID == documentID {
			delete(part, id)
		}
	}
	return nil
}

func (s *Store) Search(_ context.Context, partitionKey string, vector []float32, k int, threshold float32) ([]semantic.SearchHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	part, ok := s.partitions[partitionKey]
	if !ok {
		return nil, nil
	}

	hits := make([]semantic.SearchHit, 0, len(part))
	for _, r := range part {
		score := cosine(vector, r.Vector)
		if threshold > 0 && score < threshold {
			continue
		}
		hit := semantic.SearchHit{Score: score}
		if v, ok := r.Payload["chunk_id"].(string); ok {
			hit.ChunkID = v
		}
		if v, ok := r.Payload["document_id"].(string); ok {
			hit.DocumentID = v
		}
		if v, ok := r.Payload["content"].(string); ok {
			hit.Text = v
		}
		if v, ok := r.Payload["title"].(string); ok {
			hit.Title = v
		}
		if v, ok := r.Payload["source_kind"].(string); ok {
			hit.SourceKind = v
		}
		if v, ok := r.Payload["position"].(int); ok {
			hit.Position = v
		}
		hits = append(hits, hit)
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Count reports the number of stored points across all partitions.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, part := range s.partitions {
		n += len(part)
	}
	return n
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
