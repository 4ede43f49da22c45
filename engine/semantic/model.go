package semantic

import (
	"github.com/google/uuid"

	"github.com/beetledev/beetle-engine/engine/domain"
)

// VectorRecord is one embedded chunk ready for storage. ID must be a
// UUID string (Qdrant point id).
type VectorRecord struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// SearchHit is one scored result from a vector search.
type SearchHit struct {
	ChunkID    string
	DocumentID string
	Text       string
	Title      string
	SourceKind string
	Position   int
	Score      float32
}

// pointNamespace seeds deterministic point IDs so that re-indexing the
// same chunk always produces the same point.
var pointNamespace = uuid.MustParse("8f2b5a1e-3c6d-4e7f-9a0b-1c2d3e4f5a6b")

// PointID derives the stable UUID for a chunk.
func PointID(chunkID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(chunkID)).String()
}

// RecordFor builds the VectorRecord for one chunk and its embedding.
func RecordFor(c domain.Chunk, title string, vector []float32) VectorRecord {
	return VectorRecord{
		ID:     PointID(c.ID),
		Vector: vector,
		Payload: map[string]any{
			"chunk_id":      c.ID,
			"document_id":   c.DocumentID,
			"content":       c.Text,
			"title":         title,
			"source_kind":   string(c.SourceKind),
			"position":      c.Position,
			"repository_id": c.RepositoryID,
			"branch":        c.Branch,
		},
	}
}
