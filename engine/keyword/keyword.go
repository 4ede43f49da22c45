// Package keyword provides BM25 full-text search over chunks plus the
// document catalog, both backed by a single SQLite database. The catalog
// is the source of truth for which documents a partition holds and when
// each was last ingested.
package keyword

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/beetledev/beetle-engine/engine/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	partition_key TEXT NOT NULL,
	id            TEXT NOT NULL,
	title         TEXT NOT NULL DEFAULT '',
	source_kind   TEXT NOT NULL DEFAULT '',
	origin_ref    TEXT NOT NULL DEFAULT '',
	language      TEXT NOT NULL DEFAULT '',
	ingested_at   INTEGER NOT NULL,
	PRIMARY KEY (partition_key, id)
);

CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
	content,
	chunk_id      UNINDEXED,
	document_id   UNINDEXED,
	partition_key UNINDEXED,
	title         UNINDEXED,
	source_kind   UNINDEXED,
	position      UNINDEXED
);
`

// Store owns the SQLite connection.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the database at path. Use ":memory:" for an
// in-process store.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("keyword: open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("keyword: init schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Hit is one BM25-scored chunk. Score is negated bm25 rank, so higher
// means more relevant.
type Hit struct {
	ChunkID    string
	DocumentID string
	Text       string
	Title      string
	SourceKind string
	Position   int
	Score      float64
}

// IndexDocument registers the document in the catalog and replaces all of
// its indexed chunks in one transaction. Re-ingesting refreshes the
// document's ingestion timestamp.
func (s *Store) IndexDocument(ctx context.Context, doc domain.Document, chunks []domain.Chunk) error {
	partition := domain.PartitionKey(doc.RepositoryID, doc.Branch)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("keyword: begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (partition_key, id, title, source_kind, origin_ref, language, ingested_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (partition_key, id) DO UPDATE SET
			title = excluded.title,
			source_kind = excluded.source_kind,
			origin_ref = excluded.origin_ref,
			language = excluded.language,
			ingested_at = excluded.ingested_at`,
		partition, doc.ID, doc.Title, string(doc.SourceKind), doc.OriginRef, doc.Language, s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("keyword: upsert document %s: %w", doc.ID, err)
	}

	_, err = tx.ExecContext(ctx,
		`DELETE FROM chunks_fts WHERE partition_key = ? AND document_id = ?`,
		partition, doc.ID)
	if err != nil {
		return fmt.Errorf("keyword: clear chunks for %s: %w", doc.ID, err)
	}

	for _, c := range chunks {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO chunks_fts (content, chunk_id, document_id, partition_key, title, source_kind, position)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			c.Text, c.ID, c.DocumentID, partition, doc.Title, string(c.SourceKind), c.Position)
		if err != nil {
			return fmt.Errorf("keyword: insert chunk %s: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("keyword: commit: %w", err)
	}
	return nil
}

// DeleteDocument removes the document and its chunks from the partition.
func (s *Store) DeleteDocument(ctx context.Context, partitionKey, documentID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("keyword: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM documents WHERE partition_key = ? AND id = ?`, partitionKey, documentID); err != nil {
		return fmt.Errorf("keyword: delete document %s: %w", documentID, err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM chunks_fts WHERE partition_key = ? AND document_id = ?`, partitionKey, documentID); err != nil {
		return fmt.Errorf("keyword: delete chunks for %s: %w", documentID, err)
	}
	return tx.Commit()
}

// DeletePartition drops everything in one partition.
func (s *Store) DeletePartition(ctx context.Context, partitionKey string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("keyword: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM documents WHERE partition_key = ?`, partitionKey); err != nil {
		return fmt.Errorf("keyword: delete partition documents: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM chunks_fts WHERE partition_key = ?`, partitionKey); err != nil {
		return fmt.Errorf("keyword: delete partition chunks: %w", err)
	}
	return tx.Commit()
}

// CountDocuments reports how many documents the partition holds.
func (s *Store) CountDocuments(ctx context.Context, partitionKey string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM documents WHERE partition_key = ?`, partitionKey).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("keyword: count documents: %w", err)
	}
	return n, nil
}

// OldestDocument returns the least recently ingested document in the
// partition, for eviction. ok is false when the partition is empty.
func (s *Store) OldestDocument(ctx context.Context, partitionKey string) (id string, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT id FROM documents
		WHERE partition_key = ?
		ORDER BY ingested_at ASC, id ASC
		LIMIT 1`, partitionKey).Scan(&id)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("keyword: oldest document: %w", err)
	}
	return id, true, nil
}

// Search runs a BM25 keyword search within the partition. Queries that
// reduce to no usable keywords return an empty result.
func (s *Store) Search(ctx context.Context, partitionKey, query string, k int) ([]Hit, error) {
	keywords := ExtractKeywords(query)
	if len(keywords) == 0 {
		return nil, nil
	}

	quoted := make([]string, len(keywords))
	for i, kw := range keywords {
		quoted[i] = `"` + strings.ReplaceAll(kw, `"`, ``) + `"`
	}
	match := strings.Join(quoted, " OR ")

	rows, err := s.db.QueryContext(ctx, `
		SELECT chunk_id, document_id, content, title, source_kind, position, bm25(chunks_fts)
		FROM chunks_fts
		WHERE chunks_fts MATCH ? AND partition_key = ?
		ORDER BY bm25(chunks_fts) ASC
		LIMIT ?`, match, partitionKey, k)
	if err != nil {
		return nil, fmt.Errorf("keyword: search: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		var rank float64
		if err := rows.Scan(&h.ChunkID, &h.DocumentID, &h.Text, &h.Title, &h.SourceKind, &h.Position, &rank); err != nil {
			return nil, fmt.Errorf("keyword: scan hit: %w", err)
		}
		// bm25() ranks best-first with the most negative value.
		h.Score = -rank
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("keyword: iterate hits: %w", err)
	}
	return hits, nil
}

// ExtractKeywords splits the question into lowercase search terms,
// dropping stop words and anything shorter than three characters.
func ExtractKeywords(question string) []string {
	words := strings.Fields(strings.ToLower(question))
	var keywords []string
	for _, w := range words {
		w = strings.Trim(w, "?.,!;:'\"()")
		if len(w) > 2 && !stopWords[w] {
			keywords = append(keywords, w)
		}
	}
	return keywords
}

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true,
	"was": true, "were": true, "be": true, "been": true, "being": true,
	"have": true, "has": true, "had": true, "do": true, "does": true,
	"did": true, "will": true, "would": true, "could": true, "should": true,
	"may": true, "might": true, "can": true, "shall": true, "to": true,
	"of": true, "in": true, "for": true, "on": true, "with": true,
	"at": true, "by": true, "from": true, "as": true, "into": true,
	"through": true, "during": true, "before": true, "after": true,
	"what": true, "where": true, "when": true, "how": true, "which": true,
	"who": true, "whom": true, "this": true, "that": true, "these": true,
	"those": true, "i": true, "me": true, "my": true, "it": true,
	"its": true, "and": true, "but": true, "or": true, "not": true,
}
