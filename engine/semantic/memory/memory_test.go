package memory

import (
	"context"
	"fmt"
	"testing"

	"github.com/beetledev/beetle-engine/engine/domain"
	"github.com/beetledev/beetle-engine/engine/semantic"
)

func record(chunkID, docID string, vector []float32) semantic.VectorRecord {
	c := domain.Chunk{ID: chunkID, DocumentID: docID, Text: "text for " + chunkID, SourceKind: domain.SourceGitHubFile}
	return semantic.RecordFor(c, "Title", vector)
}

func TestUpsertAndSearch(t *testing.T) {
	s := New()
	ctx := context.Background()

	records := []semantic.VectorRecord{
		record("c1", "d1", []float32{1, 0, 0}),
		record("c2", "d1", []float32{0, 1, 0}),
		record("c3", "d2", []float32{0.9, 0.1, 0}),
	}
	if err := s.Upsert(ctx, "p", records); err != nil {
		t.Fatal(err)
	}

	hits, err := s.Search(ctx, "p", []float32{1, 0, 0}, 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].ChunkID != "c1" {
		t.Errorf("top hit = %q, want c1 (exact match)", hits[0].ChunkID)
	}
	if hits[1].ChunkID != "c3" {
		t.Errorf("second hit = %q, want c3", hits[1].ChunkID)
	}
	if hits[0].Score < hits[1].Score {
		t.Error("hits not ordered by score")
	}
	if hits[0].Text != "text for c1" || hits[0].SourceKind != "github_file" {
		t.Errorf("payload not carried through: %+v", hits[0])
	}
}

func TestSearch_Threshold(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.Upsert(ctx, "p", []semantic.VectorRecord{
		record("close", "d1", []float32{1, 0}),
		record("far", "d1", []float32{0, 1}),
	}); err != nil {
		t.Fatal(err)
	}

	hits, err := s.Search(ctx, "p", []float32{1, 0}, 10, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].ChunkID != "close" {
		t.Errorf("threshold did not filter: %+v", hits)
	}
}

func TestSearch_UnknownPartitionIsEmpty(t *testing.T) {
	s := New()
	hits, err := s.Search(context.Background(), "nope", []float32{1}, 5, 0)
	if err != nil {
		t.Fatal(err)
	}
	if hits != nil {
		t.Errorf("expected nil hits, got %d", len(hits))
	}
}

func TestUpsert_IdempotentByPointID(t *testing.T) {
	s := New()
	ctx := context.Background()

	r := record("c1", "d1", []float32{1, 0})
	for i := 0; i < 3; i++ {
		if err := s.Upsert(ctx, "p", []semantic.VectorRecord{r}); err != nil {
			t.Fatal(err)
		}
	}
	if s.Count() != 1 {
		t.Errorf("count = %d after repeated upserts of one point, want 1", s.Count())
	}
}

func TestDeleteByDocument(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.Upsert(ctx, "p", []semantic.VectorRecord{
		record("c1", "keep", []float32{1, 0}),
		record("c2", "drop", []float32{0, 1}),
		record("c3", "drop", []float32{1, 1}),
	}); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteByDocument(ctx, "p", "drop"); err != nil {
		t.Fatal(err)
	}
	if s.Count() != 1 {
		t.Errorf("count = %d after delete, want 1", s.Count())
	}
	hits, _ := s.Search(ctx, "p", []float32{0, 1}, 10, 0)
	for _, h := range hits {
		if h.DocumentID == "drop" {
			t.Errorf("deleted document still searchable: %q", h.ChunkID)
		}
	}

	// Deleting from a partition that does not exist is a no-op.
	if err := s.DeleteByDocument(ctx, "ghost", "drop"); err != nil {
		t.Fatal(err)
	}
}

func TestDeletePartition_Isolated(t *testing.T) {
	s := New()
	ctx := context.Background()

	s.Upsert(ctx, "a", []semantic.VectorRecord{record("c1", "d1", []float32{1})})
	s.Upsert(ctx, "b", []semantic.VectorRecord{record("c2", "d2", []float32{1})})

	if err := s.DeletePartition(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if hits, _ := s.Search(ctx, "a", []float32{1}, 5, 0); len(hits) != 0 {
		t.Error("purged partition still searchable")
	}
	if hits, _ := s.Search(ctx, "b", []float32{1}, 5, 0); len(hits) != 1 {
		t.Error("purge crossed partition boundary")
	}
}

func TestSearch_TieBreakByChunkID(t *testing.T) {
	s := New()
	ctx := context.Background()

	var records []semantic.VectorRecord
	for i := 0; i < 4; i++ {
		records = append(records, record(fmt.Sprintf("c%d", i), "d", []float32{1, 0}))
	}
	if err := s.Upsert(ctx, "p", records); err != nil {
		t.Fatal(err)
	}

	hits, err := s.Search(ctx, "p", []float32{1, 0}, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i < len(hits); i++ {
		if hits[i-1].ChunkID >= hits[i].ChunkID {
			t.Fatalf("equal scores not ordered by chunk id: %q then %q", hits[i-1].ChunkID, hits[i].ChunkID)
		}
	}
}

func TestPointID_Deterministic(t *testing.T) {
	a := semantic.PointID("doc_x:0001")
	b := semantic.PointID("doc_x:0001")
	c := semantic.PointID("doc_x:0002")
	if a != b {
		t.Error("point id is not deterministic")
	}
	if a == c {
		t.Error("distinct chunks mapped to the same point id")
	}
}
