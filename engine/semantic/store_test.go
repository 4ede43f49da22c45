package semantic

import (
	"testing"

	"github.com/beetledev/beetle-engine/engine/domain"
)

func TestCollectionName(t *testing.T) {
	v, err := New("localhost:6334", "beetle")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer v.Close()

	got := v.collectionName(domain.PartitionKey("Acme/Widgets", "Main"))
	if got != "beetle_acme_widgets_main" {
		t.Errorf("collection name = %q", got)
	}
}

func TestRecordFor(t *testing.T) {
	c := domain.Chunk{
		ID:           "doc_x:0003",
		DocumentID:   "doc_x",
		RepositoryID: "acme/widgets",
		Branch:       "main",
		Text:         "chunk text",
		Position:     3,
		SourceKind:   domain.SourceWebPage,
	}
	r := RecordFor(c, "Page Title", []float32{0.1, 0.2})

	if r.ID != PointID("doc_x:0003") {
		t.Errorf("record id = %q", r.ID)
	}
	if len(r.Vector) != 2 {
		t.Errorf("vector len = %d", len(r.Vector))
	}
	want := map[string]any{
		"chunk_id":      "doc_x:0003",
		"document_id":   "doc_x",
		"content":       "chunk text",
		"title":         "Page Title",
		"source_kind":   "web_page",
		"position":      3,
		"repository_id": "acme/widgets",
		"branch":        "main",
	}
	for k, v := range want {
		if r.Payload[k] != v {
			t.Errorf("payload[%s] = %v, want %v", k, r.Payload[k], v)
		}
	}
}

func TestFieldMatch(t *testing.T) {
	cond := fieldMatch("document_id", "doc_1")
	field := cond.GetField()
	if field == nil {
		t.Fatal("not a field condition")
	}
	if field.Key != "document_id" {
		t.Errorf("key = %q", field.Key)
	}
	if field.Match.GetKeyword() != "doc_1" {
		t.Errorf("keyword = %q", field.Match.GetKeyword())
	}
}
