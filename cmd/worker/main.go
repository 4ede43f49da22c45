// Package main implements the Beetle ingestion worker. It consumes
// ingestion requests from NATS and runs them through the pipeline, with
// retry and dead-lettering for failures.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/beetledev/beetle-engine/engine/config"
	"github.com/beetledev/beetle-engine/engine/fetch"
	"github.com/beetledev/beetle-engine/engine/index"
	"github.com/beetledev/beetle-engine/engine/keyword"
	"github.com/beetledev/beetle-engine/engine/normalize"
	"github.com/beetledev/beetle-engine/engine/pipeline"
	"github.com/beetledev/beetle-engine/engine/semantic"
	"github.com/beetledev/beetle-engine/pkg/metrics"
	"github.com/beetledev/beetle-engine/pkg/ollama"
)

func main() {
	cfg, err := config.Load(os.Getenv("BEETLE_CONFIG"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("worker exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	embedder := ollama.NewEmbedClient(cfg.Ollama.BaseURL, cfg.Ollama.EmbedModel, cfg.Ollama.EmbedDims)

	indexer := index.New(vectors, catalog, embedder, index.Options{
		BatchSize:    cfg.Ingest.EmbedBatchSize,
		MaxDocuments: cfg.Ingest.MaxDocuments,
		Logger:       logger,
	})

	// The worker only ingests; queries stay on the API server.
	svc := pipeline.New(pipeline.Deps{
		Fetcher: fetch.NewDispatcher(
			fetch.NewGitHubFetcher(cfg.GitHubToken),
			fetch.NewWebFetcher(30*time.Second),
		),
		Indexer:       indexer,
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

	nc, err := nats.Connect(cfg.NATS.URL,
		nats.Name("beetle-worker"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	defer nc.Close()

	sub, err := pipeline.StartConsumer(nc, svc, logger)
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	defer sub.Unsubscribe()

	// Metrics and liveness on a side port.
	reg := metrics.New()
	reg.Gauge("beetle_worker_up", "Worker liveness").Set(1)
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", reg.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok\n"))
	})
	srv := &http.Server{Addr: ":9090", Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", "err", err)
		}
	}()

	logger.Info("worker consuming", "subject", pipeline.IngestSubject, "queue", pipeline.ConsumerQueue)
	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}
