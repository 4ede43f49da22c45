// Package domain defines the core types, error taxonomy, and validation for
// the Beetle engine pipeline. It acts as the validation gate at pipeline
// entry points.
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// SourceKind identifies where a piece of raw content came from.
type SourceKind string

const (
	SourceGitHubFile SourceKind = "github_file"
	SourceWebPage    SourceKind = "web_page"
	SourceUpload     SourceKind = "upload"
	SourceRawText    SourceKind = "raw_text"
)

// ValidSourceKinds is the set of accepted source kinds.
var ValidSourceKinds = map[SourceKind]bool{
	SourceGitHubFile: true,
	SourceWebPage:    true,
	SourceUpload:     true,
	SourceRawText:    true,
}

// OriginRef identifies the origin of a source: a (repo, branch, path) tuple
// for GitHub files, a URL for web pages, a caller-chosen name for uploads
// and raw text.
type OriginRef struct {
	Kind       SourceKind `json:"kind"`
	Repository string     `json:"repository,omitempty"`
	Branch     string     `json:"branch,omitempty"`
	Path       string     `json:"path,omitempty"`
	URL        string     `json:"url,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// String renders a stable reference string used to derive document IDs.
func (r OriginRef) String() string {
	switch r.Kind {
	case SourceGitHubFile:
		return fmt.Sprintf("%s:%s@%s:%s", r.Kind, r.Repository, r.Branch, r.Path)
	case SourceWebPage:
		return fmt.Sprintf("%s:%s", r.Kind, r.URL)
	default:
		return fmt.Sprintf("%s:%s", r.Kind, r.Name)
	}
}

// Source is a fetched raw content blob. It is created per ingestion request,
// never mutated, and discarded after normalization.
type Source struct {
	Origin    OriginRef `json:"origin"`
	Content   []byte    `json:"content"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Document is normalized, cleaned content ready for chunking.
type Document struct {
	ID           string     `json:"id"`
	RepositoryID string     `json:"repository_id"`
	Branch       string     `json:"branch"`
	Text         string     `json:"text"`
	Language     string     `json:"language,omitempty"`
	Title        string     `json:"title,omitempty"`
	Summary      string     `json:"summary,omitempty"`
	SourceKind   SourceKind `json:"source_kind"`
	OriginRef    string     `json:"origin_ref"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Chunk is a retrieval-sized segment of a document. Start is the rune offset
// of the chunk within the document text; together with Position it allows
// round-trip reconstruction of the original text.
type Chunk struct {
	ID            string     `json:"id"`
	DocumentID    string     `json:"document_id"`
	RepositoryID  string     `json:"repository_id"`
	Branch        string     `json:"branch"`
	Text          string     `json:"text"`
	Position      int        `json:"position"`
	Start         int        `json:"start"`
	TokenEstimate int        `json:"token_estimate"`
	SourceKind    SourceKind `json:"source_kind"`
}

// RetrievalResult is a fused search hit. Produced per query, never persisted.
type RetrievalResult struct {
	ChunkID      string     `json:"chunk_id"`
	DocumentID   string     `json:"document_id"`
	Text         string     `json:"text"`
	Title        string     `json:"title,omitempty"`
	SourceKind   SourceKind `json:"source_kind"`
	Position     int        `json:"position"`
	VectorScore  float64    `json:"vector_score"`
	KeywordScore float64    `json:"keyword_score"`
	FusedScore   float64    `json:"fused_score"`
}

// PromptSource is a retrieval result placed into a prompt under a citation
// label.
type PromptSource struct {
	Label      int        `json:"label"`
	ChunkID    string     `json:"chunk_id"`
	DocumentID string     `json:"document_id"`
	Title      string     `json:"title,omitempty"`
	Text       string     `json:"text"`
	SourceKind SourceKind `json:"source_kind"`
	FusedScore float64    `json:"fused_score"`
}

// ContextPrompt is the assembled, context-grounded prompt handed to the
// answering agent.
type ContextPrompt struct {
	Question  string         `json:"question"`
	System    string         `json:"system"`
	User      string         `json:"user"`
	Sources   []PromptSource `json:"sources"`
	Truncated bool           `json:"truncated"`
}

// Citation links an answer back to an included source.
type Citation struct {
	Label      int        `json:"label"`
	ChunkID    string     `json:"chunk_id"`
	DocumentID string     `json:"document_id"`
	Title      string     `json:"title,omitempty"`
	SourceKind SourceKind `json:"source_kind"`
	Score      float64    `json:"score"`
}

// Answer is the structured response from the query pipeline.
type Answer struct {
	Text       string     `json:"text"`
	Sources    []Citation `json:"sources"`
	Confidence float64    `json:"confidence"`
	TokensUsed int        `json:"tokens_used"`
	Model      string     `json:"model,omitempty"`
}

// PartitionStage is the ingestion lifecycle stage of one partition.
type PartitionStage string

const (
	StageIdle      PartitionStage = "idle"
	StageIngesting PartitionStage = "ingesting"
	StageReady     PartitionStage = "ready"
	StageError     PartitionStage = "error"
)

// PipelineStatus is the per-partition pipeline state, owned exclusively by
// the orchestrator.
type PipelineStatus struct {
	RepositoryID string         `json:"repository_id"`
	Branch       string         `json:"branch"`
	Stage        PartitionStage `json:"stage"`
	LastError    string         `json:"last_error,omitempty"`
	Documents    int            `json:"documents"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// IngestOutcome is the per-source result of a multi-source ingestion. One
// failed source never aborts the batch.
type IngestOutcome struct {
	OriginRef  string `json:"origin_ref"`
	DocumentID string `json:"document_id,omitempty"`
	Chunks     int    `json:"chunks"`
	Err        string `json:"error,omitempty"`
}

// PartitionKey returns the isolation key for a (repository, branch) pair.
// Documents, chunks, and embeddings never cross partition boundaries.
func PartitionKey(repositoryID, branch string) string {
	return repositoryID + "@" + branch
}

// DocumentID derives a stable document ID from an origin reference.
func DocumentID(origin OriginRef) string {
	sum := sha256.Sum256([]byte(origin.String()))
	return "doc_" + hex.EncodeToString(sum[:16])
}

// ChunkID derives a chunk ID from its document and position.
func ChunkID(documentID string, position int) string {
	return fmt.Sprintf("%s:%04d", documentID, position)
}

// SanitizeCollectionName maps a partition key onto a name accepted by the
// vector store: lowercase, alphanumerics and underscores only.
func SanitizeCollectionName(prefix, partitionKey string) string {
	var b strings.Builder
	b.WriteString(prefix)
	if prefix != "" {
		b.WriteByte('_')
	}
	for _, r := range strings.ToLower(partitionKey) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
