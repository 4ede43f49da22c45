// Package retrieve runs the hybrid search: vector and keyword legs in
// parallel, per-leg score normalization, then weighted fusion into a
// single ranked list.
package retrieve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/beetledev/beetle-engine/engine/domain"
	"github.com/beetledev/beetle-engine/engine/keyword"
	"github.com/beetledev/beetle-engine/engine/semantic"
	"github.com/beetledev/beetle-engine/pkg/fn"
)

type QueryEmbedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

type VectorSearcher interface {
	Search(ctx context.Context, partitionKey string, vector []float32, k int, threshold float32) ([]semantic.SearchHit, error)
}

type KeywordSearcher interface {
	Search(ctx context.Context, partitionKey, query string, k int) ([]keyword.Hit, error)
}

type Options struct {
	TopK           int     // results returned to the caller
	FetchK         int     // per-leg fetch depth, defaults to 2*TopK
	VectorWeight   float64 // must sum to 1.0 with KeywordWeight
	KeywordWeight  float64
	ScoreThreshold float32       // minimum cosine similarity for the vector leg
	Timeout        time.Duration // whole-retrieval deadline, 0 = none
	Logger         *slog.Logger
}

type Retriever struct {
	embedder QueryEmbedder
	vectors  VectorSearcher
	keywords KeywordSearcher
	opts     Options
	logger   *slog.Logger
}

func New(embedder QueryEmbedder, vectors VectorSearcher, keywords KeywordSearcher, opts Options) *Retriever {
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if opts.FetchK <= 0 {
		opts.FetchK = 2 * opts.TopK
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		embedder: embedder,
		vectors:  vectors,
		keywords: keywords,
		opts:     opts,
		logger:   logger,
	}
}

// Retrieve answers the question's search phase for one partition. An
// empty or never-ingested partition yields an empty slice, not an error.
func (r *Retriever) Retrieve(ctx context.Context, repositoryID, branch, question string) ([]domain.RetrievalResult, error) {
	partition := domain.PartitionKey(repositoryID, branch)

	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}

	embeddings, err := r.embedder.Embed(ctx, []string{question})
	if err != nil {
		return nil, wrap("vector", fmt.Errorf("embed question: %w", err))
	}
	if len(embeddings) != 1 {
		return nil, wrap("vector", fmt.Errorf("embed question: got %d vectors", len(embeddings)))
	}
	queryVector := embeddings[0]

	vecHits, kwHits, err := fn.Join2(ctx,
		func(ctx context.Context) fn.Result[[]semantic.SearchHit] {
			hits, err := r.vectors.Search(ctx, partition, queryVector, r.opts.FetchK, r.opts.ScoreThreshold)
			if err != nil {
				return fn.Err[[]semantic.SearchHit](wrap("vector", err))
			}
			return fn.Ok(hits)
		},
		func(ctx context.Context) fn.Result[[]keyword.Hit] {
			hits, err := r.keywords.Search(ctx, partition, question, r.opts.FetchK)
			if err != nil {
				return fn.Err[[]keyword.Hit](wrap("keyword", err))
			}
			return fn.Ok(hits)
		},
	)
	if err != nil {
		return nil, err
	}

	results := r.fuse(vecHits, kwHits)
	if len(results) > r.opts.TopK {
		results = results[:r.opts.TopK]
	}

	r.logger.Debug("retrieve: hybrid search done",
		"partition", partition,
		"vector_hits", len(vecHits),
		"keyword_hits", len(kwHits),
		"fused", len(results))
	return results, nil
}

// fuse merges both legs by chunk id. Each leg's scores are normalized
// independently; a chunk absent from a leg contributes zero for that
// leg, while a present hit always contributes a positive score.
func (r *Retriever) fuse(vecHits []semantic.SearchHit, kwHits []keyword.Hit) []domain.RetrievalResult {
	merged := make(map[string]*domain.RetrievalResult)

	vecScores := make([]float64, len(vecHits))
	for i, h := range vecHits {
		vecScores[i] = float64(h.Score)
	}
	kwScores := make([]float64, len(kwHits))
	for i, h := range kwHits {
		kwScores[i] = h.Score
	}
	normVec := normalizeScores(vecScores)
	normKw := normalizeScores(kwScores)

	for i, h := range vecHits {
		merged[h.ChunkID] = &domain.RetrievalResult{
			ChunkID:     h.ChunkID,
			DocumentID:  h.DocumentID,
			Text:        h.Text,
			Title:       h.Title,
			SourceKind:  domain.SourceKind(h.SourceKind),
			Position:    h.Position,
			VectorScore: normVec[i],
		}
	}
	for i, h := range kwHits {
		if m, ok := merged[h.ChunkID]; ok {
			m.KeywordScore = normKw[i]
			continue
		}
		merged[h.ChunkID] = &domain.RetrievalResult{
			ChunkID:      h.ChunkID,
			DocumentID:   h.DocumentID,
			Text:         h.Text,
			Title:        h.Title,
			SourceKind:   domain.SourceKind(h.SourceKind),
			Position:     h.Position,
			KeywordScore: normKw[i],
		}
	}

	results := make([]domain.RetrievalResult, 0, len(merged))
	for _, m := range merged {
		m.FusedScore = r.opts.VectorWeight*m.VectorScore + r.opts.KeywordWeight*m.KeywordScore
		results = append(results, *m)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].FusedScore != results[j].FusedScore {
			return results[i].FusedScore > results[j].FusedScore
		}
		if results[i].Position != results[j].Position {
			return results[i].Position < results[j].Position
		}
		return results[i].ChunkID < results[j].ChunkID
	})
	return results
}

// normalizeScores divides a leg's scores by the leg maximum, scaling the
// best hit to 1.0 while keeping every present hit strictly positive, so
// the weakest hit of a leg still outranks a chunk the leg never returned.
// A single score, a constant list, or a non-positive maximum normalizes
// to all ones.
func normalizeScores(scores []float64) []float64 {
	if len(scores) == 0 {
		return nil
	}
	hi := scores[0]
	for _, s := range scores[1:] {
		if s > hi {
			hi = s
		}
	}
	out := make([]float64, len(scores))
	if hi <= 0 {
		for i := range out {
			out[i] = 1.0
		}
		return out
	}
	for i, s := range scores {
		out[i] = s / hi
	}
	return out
}

// wrap tags an error with the search branch that produced it.
func wrap(branch string, err error) error {
	return &domain.RetrievalError{
		Branch:  branch,
		Timeout: errors.Is(err, context.DeadlineExceeded),
		Err:     err,
	}
}
