// Package pipeline orchestrates the ingestion and query flows and owns
// all per-partition lifecycle state. Components below it never track
// pipeline state on their own.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/beetledev/beetle-engine/engine/chunk"
	"github.com/beetledev/beetle-engine/engine/domain"
	"github.com/beetledev/beetle-engine/engine/fetch"
	"github.com/beetledev/beetle-engine/engine/normalize"
	"github.com/beetledev/beetle-engine/pkg/fn"
)

// Indexer stores a chunked document.
type Indexer interface {
	Index(ctx context.Context, doc domain.Document, chunks []domain.Chunk) error
}

// Retriever runs the hybrid search for one partition.
type Retriever interface {
	Retrieve(ctx context.Context, repositoryID, branch, question string) ([]domain.RetrievalResult, error)
}

// Assembler builds the grounded prompt.
type Assembler interface {
	Assemble(question string, results []domain.RetrievalResult) domain.ContextPrompt
}

// Answerer produces the final answer.
type Answerer interface {
	Answer(ctx context.Context, prompt domain.ContextPrompt) (domain.Answer, error)
}

// Counter reports how many documents a partition holds.
type Counter interface {
	CountDocuments(ctx context.Context, partitionKey string) (int, error)
}

// Purger drops a whole partition from one backend.
type Purger interface {
	DeletePartition(ctx context.Context, partitionKey string) error
}

type Deps struct {
	Fetcher   fetch.Fetcher
	Indexer   Indexer
	Retriever Retriever
	Assembler Assembler
	Answerer  Answerer
	Counter   Counter

	VectorPurger  Purger
	CatalogPurger Purger

	NormalizeOpts normalize.Options
	ChunkSize     int
	ChunkOverlap  int
	Parallelism   int

	Logger *slog.Logger
}

// Service is the pipeline orchestrator.
type Service struct {
	deps   Deps
	logger *slog.Logger

	mu         sync.Mutex
	partitions map[string]*partition
}

type partition struct {
	ingest sync.Mutex // held for the duration of one ingestion

	stateMu sync.Mutex
	status  domain.PipelineStatus
}

func New(deps Deps) *Service {
	if deps.Parallelism <= 0 {
		deps.Parallelism = 4
	}
	if deps.ChunkSize <= 0 {
		deps.ChunkSize = chunk.DefaultTargetSize
	}
	if deps.ChunkOverlap <= 0 {
		deps.ChunkOverlap = chunk.DefaultOverlap
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		deps:       deps,
		logger:     logger,
		partitions: make(map[string]*partition),
	}
}

func (s *Service) partition(repositoryID, branch string) *partition {
	key := domain.PartitionKey(repositoryID, branch)
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.partitions[key]
	if !ok {
		p = &partition{
			status: domain.PipelineStatus{
				RepositoryID: repositoryID,
				Branch:       branch,
				Stage:        domain.StageIdle,
				UpdatedAt:    time.Now().UTC(),
			},
		}
		s.partitions[key] = p
	}
	return p
}

func (p *partition) setStage(stage domain.PartitionStage, lastErr string, documents int) {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	p.status.Stage = stage
	p.status.LastError = lastErr
	if documents >= 0 {
		p.status.Documents = documents
	}
	p.status.UpdatedAt = time.Now().UTC()
}

func (p *partition) snapshot() domain.PipelineStatus {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	return p.status
}

// SourceInput is one source of an ingestion request. Content is set for
// inline kinds (upload, raw text) and empty for remote ones.
type SourceInput struct {
	Origin  domain.OriginRef
	Content []byte
}

// IngestRequest ingests a batch of sources into one partition.
type IngestRequest struct {
	RepositoryID string
	Branch       string
	Sources      []SourceInput
}

// Ingest runs the full ingestion flow for a batch of sources. A second
// ingestion into the same partition while one is running is rejected
// immediately. One failing source never aborts the others; each source
// gets its own outcome.
func (s *Service) Ingest(ctx context.Context, req IngestRequest) ([]domain.IngestOutcome, error) {
	if req.RepositoryID == "" {
		return nil, domain.ErrEmptyRepository
	}
	if req.Branch == "" {
		return nil, domain.ErrEmptyBranch
	}
	for _, src := range req.Sources {
		if err := domain.ValidateOrigin(src.Origin); err != nil {
			return nil, err
		}
	}

	p := s.partition(req.RepositoryID, req.Branch)
	if !p.ingest.TryLock() {
		return nil, domain.ErrIngestBusy
	}
	defer p.ingest.Unlock()

	p.setStage(domain.StageIngesting, "", -1)
	key := domain.PartitionKey(req.RepositoryID, req.Branch)
	s.logger.Info("pipeline: ingestion started", "partition", key, "sources", len(req.Sources))

	results := fn.ParMapResult(ctx, req.Sources, s.deps.Parallelism,
		func(ctx context.Context, src SourceInput) fn.Result[domain.IngestOutcome] {
			return fn.Ok(s.ingestOne(ctx, req.RepositoryID, req.Branch, src))
		})

	outcomes := make([]domain.IngestOutcome, len(results))
	failures := 0
	lastErr := ""
	for i, r := range results {
		o, _ := r.Unwrap()
		outcomes[i] = o
		if o.Err != "" {
			failures++
			lastErr = o.Err
		}
	}

	docs := s.documentCount(ctx, key)
	if len(outcomes) > 0 && failures == len(outcomes) {
		p.setStage(domain.StageError, lastErr, docs)
	} else {
		p.setStage(domain.StageReady, "", docs)
	}

	s.logger.Info("pipeline: ingestion finished",
		"partition", key,
		"sources", len(outcomes),
		"failed", failures)
	return outcomes, nil
}

// ingestOne runs fetch → normalize → chunk → index for a single source.
// Every step is traced; any failure is folded into the outcome.
func (s *Service) ingestOne(ctx context.Context, repositoryID, branch string, src SourceInput) domain.IngestOutcome {
	origin := src.Origin
	outcome := domain.IngestOutcome{OriginRef: origin.String()}

	fetchStage := fn.Traced("pipeline.fetch",
		func(ctx context.Context, in SourceInput) fn.Result[domain.Source] {
			if len(in.Content) > 0 {
				return fn.Ok(fetch.Inline(in.Origin, in.Content))
			}
			return fn.FromPair(s.deps.Fetcher.Fetch(ctx, in.Origin))
		})

	normalizeStage := fn.Traced("pipeline.normalize",
		func(ctx context.Context, source domain.Source) fn.Result[domain.Document] {
			doc, err := normalize.Normalize(source, repositoryID, branch, s.deps.NormalizeOpts)
			if err != nil {
				var ne *domain.NormalizeError
				if errors.As(err, &ne) && !ne.Fatal() {
					s.logger.Warn("pipeline: content truncated",
						"origin", source.Origin.String(),
						"length", ne.Length,
						"limit", ne.Limit)
					return fn.Ok(doc)
				}
				return fn.Err[domain.Document](err)
			}
			return fn.Ok(doc)
		})

	indexStage := fn.Traced("pipeline.index",
		func(ctx context.Context, doc domain.Document) fn.Result[domain.IngestOutcome] {
			chunks := chunk.Split(doc, s.deps.ChunkSize, s.deps.ChunkOverlap)
			if err := s.deps.Indexer.Index(ctx, doc, chunks); err != nil {
				return fn.Err[domain.IngestOutcome](err)
			}
			return fn.Ok(domain.IngestOutcome{
				OriginRef:  origin.String(),
				DocumentID: doc.ID,
				Chunks:     len(chunks),
			})
		})

	pipe := fn.Then(fn.Then(fetchStage, normalizeStage), indexStage)

	result := pipe(ctx, src)
	out, err := result.Unwrap()
	if err != nil {
		s.logger.Error("pipeline: source failed", "origin", origin.String(), "error", err)
		outcome.Err = err.Error()
		return outcome
	}
	return out
}

// Query runs retrieve → assemble → answer. It fails fast with NotReady
// unless the partition has completed an ingestion.
func (s *Service) Query(ctx context.Context, repositoryID, branch, question string) (domain.Answer, error) {
	if err := domain.ValidateQuery(repositoryID, branch, question); err != nil {
		return domain.Answer{}, err
	}

	p := s.partition(repositoryID, branch)
	if st := p.snapshot(); st.Stage != domain.StageReady {
		return domain.Answer{}, fmt.Errorf("partition %s is %s: %w",
			domain.PartitionKey(repositoryID, branch), st.Stage, domain.ErrNotReady)
	}

	results, err := s.deps.Retriever.Retrieve(ctx, repositoryID, branch, question)
	if err != nil {
		return domain.Answer{}, err
	}

	prompt := s.deps.Assembler.Assemble(question, results)
	ans, err := s.deps.Answerer.Answer(ctx, prompt)
	if err != nil {
		return domain.Answer{}, err
	}

	s.logger.Info("pipeline: query answered",
		"partition", domain.PartitionKey(repositoryID, branch),
		"sources", len(ans.Sources),
		"confidence", ans.Confidence)
	return ans, nil
}

// Status reports the partition's pipeline state. Unknown partitions are
// idle with zero documents.
func (s *Service) Status(ctx context.Context, repositoryID, branch string) domain.PipelineStatus {
	p := s.partition(repositoryID, branch)
	st := p.snapshot()
	if st.Stage == domain.StageReady {
		st.Documents = s.documentCount(ctx, domain.PartitionKey(repositoryID, branch))
	}
	return st
}

// Reset drops everything the partition holds and returns it to idle.
// Rejected while an ingestion is running.
func (s *Service) Reset(ctx context.Context, repositoryID, branch string) error {
	if repositoryID == "" {
		return domain.ErrEmptyRepository
	}
	if branch == "" {
		return domain.ErrEmptyBranch
	}

	p := s.partition(repositoryID, branch)
	if !p.ingest.TryLock() {
		return domain.ErrIngestBusy
	}
	defer p.ingest.Unlock()

	key := domain.PartitionKey(repositoryID, branch)
	if s.deps.VectorPurger != nil {
		if err := s.deps.VectorPurger.DeletePartition(ctx, key); err != nil {
			return err
		}
	}
	if s.deps.CatalogPurger != nil {
		if err := s.deps.CatalogPurger.DeletePartition(ctx, key); err != nil {
			return err
		}
	}
	p.setStage(domain.StageIdle, "", 0)
	s.logger.Info("pipeline: partition reset", "partition", key)
	return nil
}

func (s *Service) documentCount(ctx context.Context, partitionKey string) int {
	if s.deps.Counter == nil {
		return -1
	}
	n, err := s.deps.Counter.CountDocuments(ctx, partitionKey)
	if err != nil {
		s.logger.Warn("pipeline: document count failed", "partition", partitionKey, "error", err)
		return -1
	}
	return n
}
