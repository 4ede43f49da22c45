// Package index writes a normalized, chunked document into both the
// vector store and the keyword catalog. Indexing the same document twice
// replaces the previous version; it never duplicates chunks.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/beetledev/beetle-engine/engine/domain"
	"github.com/beetledev/beetle-engine/engine/semantic"
	"github.com/beetledev/beetle-engine/pkg/fn"
	"github.com/beetledev/beetle-engine/pkg/resilience"
)

// Embedder converts text batches into vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// VectorStore is the slice of the semantic store the indexer needs.
type VectorStore interface {
	EnsureCollection(ctx context.Context, partitionKey string, dims int) error
	Upsert(ctx context.Context, partitionKey string, records []semantic.VectorRecord) error
	DeleteByDocument(ctx context.Context, partitionKey, documentID string) error
}

// Catalog is the slice of the keyword store the indexer needs.
type Catalog interface {
	IndexDocument(ctx context.Context, doc domain.Document, chunks []domain.Chunk) error
	DeleteDocument(ctx context.Context, partitionKey, documentID string) error
	CountDocuments(ctx context.Context, partitionKey string) (int, error)
	OldestDocument(ctx context.Context, partitionKey string) (string, bool, error)
}

type Indexer struct {
	vectors      VectorStore
	catalog      Catalog
	embedder     Embedder
	limiter      *resilience.Limiter
	retry        fn.RetryOpts
	batchSize    int
	maxDocuments int
	logger       *slog.Logger
}

type Options struct {
	BatchSize    int     // chunks per embedding call
	MaxDocuments int     // per-partition cap, 0 = unlimited
	EmbedRate    float64 // embedding calls per second, 0 = unlimited
	EmbedBurst   int
	Retry        fn.RetryOpts
	Logger       *slog.Logger
}

func New(vectors VectorStore, catalog Catalog, embedder Embedder, opts Options) *Indexer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 32
	}
	if opts.EmbedRate <= 0 {
		opts.EmbedRate = math.Inf(1)
	}
	if opts.EmbedBurst <= 0 {
		opts.EmbedBurst = 1
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = fn.DefaultRetry
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Indexer{
		vectors:      vectors,
		catalog:      catalog,
		embedder:     embedder,
		limiter:      resilience.NewLimiter(opts.EmbedRate, opts.EmbedBurst),
		retry:        opts.Retry,
		batchSize:    opts.BatchSize,
		maxDocuments: opts.MaxDocuments,
		logger:       opts.Logger,
	}
}

// Index stores the document's chunks in both backends and enforces the
// partition's document cap. Old chunks of the same document are removed
// first, so shrinking documents leave no stale points behind.
func (ix *Indexer) Index(ctx context.Context, doc domain.Document, chunks []domain.Chunk) error {
	partition := domain.PartitionKey(doc.RepositoryID, doc.Branch)

	if err := ix.vectors.EnsureCollection(ctx, partition, ix.embedder.Dimensions()); err != nil {
		return &domain.IndexError{Retryable: true, Err: err}
	}
	if err := ix.vectors.DeleteByDocument(ctx, partition, doc.ID); err != nil {
		return &domain.IndexError{Retryable: true, Err: err}
	}

	upserted := 0
	for start := 0; start < len(chunks); start += ix.batchSize {
		end := min(start+ix.batchSize, len(chunks))
		batch := chunks[start:end]

		if err := ix.upsertBatch(ctx, partition, doc.Title, batch); err != nil {
			return &domain.IndexError{
				Partial:   upserted,
				Retryable: true,
				Err:       fmt.Errorf("batch %d-%d of %d chunks: %w", start, end, len(chunks), err),
			}
		}
		upserted += len(batch)
	}

	if err := ix.catalog.IndexDocument(ctx, doc, chunks); err != nil {
		return &domain.IndexError{Partial: upserted, Retryable: true, Err: err}
	}

	ix.logger.Info("index: document stored",
		"document_id", doc.ID,
		"partition", partition,
		"chunks", len(chunks))

	if err := ix.evict(ctx, partition); err != nil {
		return err
	}
	return nil
}

func (ix *Indexer) upsertBatch(ctx context.Context, partition, title string, batch []domain.Chunk) error {
	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.Text
	}

	var vectors [][]float32
	err := ix.limiter.CallWait(ctx, func(ctx context.Context) error {
		res := fn.Retry(ctx, ix.retry, func(ctx context.Context) fn.Result[[][]float32] {
			return fn.FromPair(ix.embedder.Embed(ctx, texts))
		})
		var embedErr error
		vectors, embedErr = res.Unwrap()
		return embedErr
	})
	if err != nil {
		return fmt.Errorf("embed: %w", err)
	}
	if len(vectors) != len(batch) {
		return fmt.Errorf("embed: got %d vectors for %d chunks", len(vectors), len(batch))
	}

	records := make([]semantic.VectorRecord, len(batch))
	for i, c := range batch {
		records[i] = semantic.RecordFor(c, title, vectors[i])
	}
	return ix.vectors.Upsert(ctx, partition, records)
}

// evict removes least-recently-ingested documents until the partition is
// back under its cap.
func (ix *Indexer) evict(ctx context.Context, partition string) error {
	if ix.maxDocuments <= 0 {
		return nil
	}
	for {
		count, err := ix.catalog.CountDocuments(ctx, partition)
		if err != nil {
			return &domain.IndexError{Retryable: true, Err: err}
		}
		if count <= ix.maxDocuments {
			return nil
		}
		oldest, ok, err := ix.catalog.OldestDocument(ctx, partition)
		if err != nil {
			return &domain.IndexError{Retryable: true, Err: err}
		}
		if !ok {
			// Catalog says over cap but has no oldest row; a concurrent
			// purge emptied the partition, nothing left to evict.
			return nil
		}
		if err := ix.Remove(ctx, partition, oldest); err != nil {
			return err
		}
		ix.logger.Info("index: evicted document", "document_id", oldest, "partition", partition)
	}
}

// Remove deletes one document from both backends.
func (ix *Indexer) Remove(ctx context.Context, partition, documentID string) error {
	if err := ix.vectors.DeleteByDocument(ctx, partition, documentID); err != nil {
		return &domain.IndexError{Retryable: true, Err: err}
	}
	if err := ix.catalog.DeleteDocument(ctx, partition, documentID); err != nil {
		return &domain.IndexError{Retryable: true, Err: err}
	}
	return nil
}
