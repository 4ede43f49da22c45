// Package main implements the Beetle engine API server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/beetledev/beetle-engine/engine/answer"
	"github.com/beetledev/beetle-engine/engine/assemble"
	"github.com/beetledev/beetle-engine/engine/config"
	"github.com/beetledev/beetle-engine/engine/domain"
	"github.com/beetledev/beetle-engine/engine/fetch"
	"github.com/beetledev/beetle-engine/engine/index"
	"github.com/beetledev/beetle-engine/engine/keyword"
	"github.com/beetledev/beetle-engine/engine/normalize"
	"github.com/beetledev/beetle-engine/engine/pipeline"
	"github.com/beetledev/beetle-engine/engine/retrieve"
	"github.com/beetledev/beetle-engine/engine/semantic"
	"github.com/beetledev/beetle-engine/pkg/metrics"
	"github.com/beetledev/beetle-engine/pkg/mid"
	"github.com/beetledev/beetle-engine/pkg/ollama"
	"github.com/beetledev/beetle-engine/pkg/resilience"
)

func main() {
	cfg, err := config.Load(os.Getenv("BEETLE_CONFIG"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Stores ---
	vectors, err := semantic.New(cfg.Qdrant.Addr, cfg.Qdrant.CollectionPrefix)
	if err != nil {
		return fmt.Errorf("qdrant connect: %w", err)
	}
	defer vectors.Close()

	catalog, err := keyword.Open(cfg.SQLitePath)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer catalog.Close()

	// --- Capabilities ---
	embedder := ollama.NewEmbedClient(cfg.Ollama.BaseURL, cfg.Ollama.EmbedModel, cfg.Ollama.EmbedDims)
	chat := &guardedChat{
		inner:   ollama.NewChatClient(cfg.Ollama.BaseURL, cfg.Ollama.ChatModel),
		breaker: resilience.NewBreaker(resilience.DefaultBreakerOpts),
		limiter: resilience.NewLimiter(5, 2),
	}

	// --- Pipeline components ---
	indexer := index.New(vectors, catalog, embedder, index.Options{
		BatchSize:    cfg.Ingest.EmbedBatchSize,
		MaxDocuments: cfg.Ingest.MaxDocuments,
		Logger:       logger,
	})
	retriever := retrieve.New(embedder, vectors, catalog, retrieve.Options{
		TopK:           cfg.Retrieval.TopK,
		VectorWeight:   cfg.Retrieval.VectorWeight,
		KeywordWeight:  cfg.Retrieval.KeywordWeight,
		ScoreThreshold: float32(cfg.Retrieval.SimilarityThreshold),
		Timeout:        cfg.Retrieval.Timeout,
		Logger:         logger,
	})
	assembler := assemble.New(assemble.Options{
		MaxContextLength: cfg.Answer.MaxContextLength,
		MaxSources:       cfg.Answer.MaxSources,
	})
	answerer := answer.New(chat, answer.Options{
		MaxTokens:        cfg.Answer.MaxTokens,
		Temperature:      cfg.Answer.Temperature,
		TopP:             cfg.Answer.TopP,
		TopK:             cfg.Answer.TopK,
		IncludeCitations: cfg.Answer.IncludeCitations,
		Timeout:          cfg.Answer.Timeout,
		Logger:           logger,
	})

	svc := pipeline.New(pipeline.Deps{
		Fetcher: fetch.NewDispatcher(
			fetch.NewGitHubFetcher(cfg.GitHubToken),
			fetch.NewWebFetcher(30*time.Second),
		),
		Indexer:       indexer,
		Retriever:     retriever,
		Assembler:     assembler,
		Answerer:      answerer,
		Counter:       catalog,
		VectorPurger:  vectors,
		CatalogPurger: catalog,
		NormalizeOpts: normalize.Options{
			RemoveHTML:       true,
			DetectLanguage:   true,
			GenerateSummary:  true,
			MinContentLength: cfg.Ingest.MinContentLength,
			MaxContentLength: cfg.Ingest.MaxContentLength,
			SummaryMaxLength: cfg.Ingest.SummaryMaxLength,
		},
		ChunkSize:    cfg.Ingest.ChunkSize,
		ChunkOverlap: cfg.Ingest.ChunkOverlap,
		Parallelism:  cfg.Ingest.Parallelism,
		Logger:       logger,
	})

	// --- Optional NATS for async ingestion ---
	var nc *nats.Conn
	if cfg.NATS.URL != "" {
		nc, err = nats.Connect(cfg.NATS.URL, nats.Name("beetle-api"))
		if err != nil {
			logger.Warn("nats unavailable, async ingestion disabled", "err", err)
			nc = nil
		} else {
			defer nc.Close()
		}
	}

	// --- HTTP server ---
	reg := metrics.New()
	api := &apiServer{svc: svc, nc: nc, logger: logger, metrics: reg}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", api.handleHealth)
	mux.HandleFunc("POST /api/ingest", api.handleIngest)
	mux.HandleFunc("POST /api/query", api.handleQuery)
	mux.HandleFunc("GET /api/status", api.handleStatus)
	mux.HandleFunc("DELETE /api/partition", api.handleReset)
	mux.Handle("GET /metrics", reg.Handler())

	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.Logger(logger),
		mid.OTel("beetle-api"),
		mid.CORS("*"),
		mid.MaxBody(32<<20),
	)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "addr", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// guardedChat paces the chat capability with a rate limiter and trips a
// circuit breaker when the model server keeps failing.
type guardedChat struct {
	inner   answer.ChatCompleter
	breaker *resilience.Breaker
	limiter *resilience.Limiter
}

func (g *guardedChat) Chat(ctx context.Context, req answer.ChatRequest) (answer.ChatResponse, error) {
	var resp answer.ChatResponse
	err := g.limiter.CallWait(ctx, func(ctx context.Context) error {
		return g.breaker.Call(ctx, func(ctx context.Context) error {
			var callErr error
			resp, callErr = g.inner.Chat(ctx, req)
			return callErr
		})
	})
	return resp, err
}

// --- Handlers ---

type apiServer struct {
	svc     *pipeline.Service
	nc      *nats.Conn
	logger  *slog.Logger
	metrics *metrics.Registry
}

func (s *apiServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type sourceBody struct {
	Kind       string `json:"kind"`
	Repository string `json:"repository,omitempty"`
	Branch     string `json:"branch,omitempty"`
	Path       string `json:"path,omitempty"`
	URL        string `json:"url,omitempty"`
	Name       string `json:"name,omitempty"`
	Content    string `json:"content,omitempty"`
}

type ingestBody struct {
	RepositoryID string       `json:"repository_id"`
	Branch       string       `json:"branch"`
	Async        bool         `json:"async,omitempty"`
	Sources      []sourceBody `json:"sources"`
}

type ingestResponse struct {
	Accepted       bool                   `json:"accepted"`
	PartitionState domain.PartitionStage  `json:"partition_state"`
	Outcomes       []domain.IngestOutcome `json:"outcomes,omitempty"`
	Error          string                 `json:"error,omitempty"`
}

func (s *apiServer) handleIngest(w http.ResponseWriter, r *http.Request) {
	var body ingestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sources := make([]pipeline.SourceInput, len(body.Sources))
	for i, sb := range body.Sources {
		sources[i] = pipeline.SourceInput{
			Origin: domain.OriginRef{
				Kind:       domain.SourceKind(sb.Kind),
				Repository: sb.Repository,
				Branch:     sb.Branch,
				Path:       sb.Path,
				URL:        sb.URL,
				Name:       sb.Name,
			},
			Content: []byte(sb.Content),
		}
	}

	if body.Async {
		if s.nc == nil {
			writeError(w, http.StatusServiceUnavailable, "async ingestion unavailable")
			return
		}
		err := pipeline.PublishIngest(r.Context(), s.nc, pipeline.IngestMessage{
			RepositoryID: body.RepositoryID,
			Branch:       body.Branch,
			Sources:      sources,
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, "enqueue failed")
			return
		}
		s.metrics.Counter(metrics.WithLabels("beetle_ingest_total", "status", "queued"), "Ingestion requests").Inc()
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
		return
	}

	start := time.Now()
	outcomes, err := s.svc.Ingest(r.Context(), pipeline.IngestRequest{
		RepositoryID: body.RepositoryID,
		Branch:       body.Branch,
		Sources:      sources,
	})
	state := s.svc.Status(r.Context(), body.RepositoryID, body.Branch).Stage
	if err != nil {
		s.metrics.Counter(metrics.WithLabels("beetle_ingest_total", "status", "rejected"), "Ingestion requests").Inc()
		writeJSON(w, statusFor(err), ingestResponse{
			Accepted:       false,
			PartitionState: state,
			Error:          err.Error(),
		})
		return
	}
	s.metrics.Counter(metrics.WithLabels("beetle_ingest_total", "status", "ok"), "Ingestion requests").Inc()
	s.metrics.Histogram("beetle_ingest_seconds", "Ingestion latency", nil).Since(start)
	writeJSON(w, http.StatusOK, ingestResponse{
		Accepted:       true,
		PartitionState: state,
		Outcomes:       outcomes,
	})
}

type queryBody struct {
	RepositoryID string `json:"repository_id"`
	Branch       string `json:"branch"`
	Question     string `json:"question"`
}

func (s *apiServer) handleQuery(w http.ResponseWriter, r *http.Request) {
	var body queryBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	start := time.Now()
	ans, err := s.svc.Query(r.Context(), body.RepositoryID, body.Branch, body.Question)
	if err != nil {
		s.metrics.Counter(metrics.WithLabels("beetle_query_total", "status", "error"), "Query requests").Inc()
		s.logger.Error("query failed", "err", err,
			"repository", body.RepositoryID, "branch", body.Branch)
		writeError(w, statusFor(err), err.Error())
		return
	}
	s.metrics.Counter(metrics.WithLabels("beetle_query_total", "status", "ok"), "Query requests").Inc()
	s.metrics.Histogram("beetle_query_seconds", "Query latency", nil).Since(start)
	writeJSON(w, http.StatusOK, ans)
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	repo := r.URL.Query().Get("repository_id")
	branch := r.URL.Query().Get("branch")
	if repo == "" || branch == "" {
		writeError(w, http.StatusBadRequest, "repository_id and branch are required")
		return
	}
	writeJSON(w, http.StatusOK, s.svc.Status(r.Context(), repo, branch))
}

func (s *apiServer) handleReset(w http.ResponseWriter, r *http.Request) {
	repo := r.URL.Query().Get("repository_id")
	branch := r.URL.Query().Get("branch")
	if repo == "" || branch == "" {
		writeError(w, http.StatusBadRequest, "repository_id and branch are required")
		return
	}
	if err := s.svc.Reset(r.Context(), repo, branch); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// statusFor maps pipeline errors onto HTTP status codes.
func statusFor(err error) int {
	var ve *domain.ValidationError
	var re *domain.RetrievalError
	switch {
	case errors.Is(err, domain.ErrIngestBusy):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNotReady):
		return http.StatusConflict
	case errors.Is(err, domain.ErrEmptyRepository),
		errors.Is(err, domain.ErrEmptyBranch),
		errors.Is(err, domain.ErrEmptyQuery),
		errors.Is(err, domain.ErrUnknownSourceKind),
		errors.Is(err, domain.ErrMissingOrigin),
		errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.As(err, &re) && re.Timeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
