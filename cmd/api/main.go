package main

import (
	"context"
	"log"
	"log/slog"
	nethttp "net/http"
	"os"
	"time"

	"contextware/internal/assistant"
	"contextware/internal/config"
	"contextware/internal/http"
	"contextware/internal/llm"
	"contextware/internal/mirror"
	"contextware/internal/retrieval"
	"contextware/internal/service"
	"contextware/internal/storage"
	"contextware/internal/syncer"
	"contextware/internal/vectorstore"
)

func main() {
	// Load configuration first (needed for log level)
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Configure structured logging with configurable level and format
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	// Initialize database
	db, err := storage.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer func() {
		_ = db.Close()
	}()

	if err := storage.Migrate(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	slog.Info("Database initialized", "path", cfg.DBPath)

	// Create repository instances
	vectorRepo := storage.NewVectorRepo(db)
	logRepo := storage.NewLogRepo(db)
	discussionRepo := storage.NewDiscussionRepo(db)

	// Register one adapter per supported backend
	registry := vectorstore.NewRegistry(map[string]vectorstore.Adapter{
		"qdrant":   vectorstore.NewQdrantStore(30 * time.Second),
		"pinecone": vectorstore.NewPineconeStore(30 * time.Second),
	})
	slog.Info("Vector store adapters registered", "backends", registry.Backends(), "environments", len(cfg.Envs))

	// External service clients
	embedder := llm.NewEmbeddingsClient(cfg.EmbeddingBaseURL, cfg.LLMAPIKey, cfg.EmbeddingModelName)
	llmClient := llm.NewClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModelName)
	assistantClient := llm.NewAssistantClient(cfg.AssistantBaseURL, cfg.AssistantAPIKey)

	// Mirror and sync engine
	vectorMirror := mirror.New(vectorRepo, registry, embedder)
	var source syncer.DocumentSource
	if cfg.SourceBaseURL != "" {
		source = syncer.NewHTTPSource(cfg.SourceBaseURL, cfg.SourceAPIKey)
	}
	engine := syncer.NewEngine(vectorRepo, vectorMirror, source, cfg.Envs, syncer.Options{
		Template:        cfg.SyncTemplate,
		LockTTL:         cfg.SyncLockTTL,
		BatchSize:       cfg.SyncBatchSize,
		EmbedsPerSecond: cfg.EmbedsPerSecond,
	})

	// Retrieval and orchestration
	retriever := retrieval.New(vectorMirror)
	fileStore := assistant.NewDiskFileStore(cfg.FilesDir, cfg.FilesBaseURL)
	orchestrator := assistant.New(assistantClient, discussionRepo, fileStore, nil, assistant.Options{})

	vectorService := service.NewVectorService(vectorRepo, vectorMirror, engine, registry, cfg.Envs)
	submitService := service.NewSubmitService(llmClient, retriever, orchestrator, logRepo, cfg.Envs)

	// Create router with dependencies
	deps := &http.Deps{
		DB:            db,
		Registry:      registry,
		VectorService: vectorService,
		SubmitService: submitService,
		SyncEngine:    engine,
	}
	router := http.NewRouter(deps)

	// Background sync loop: sweeps pending and outdated rows
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go engine.Run(ctx, cfg.SyncInterval)
	slog.Info("Sync engine started", "interval", cfg.SyncInterval, "batch", cfg.SyncBatchSize)

	// Start API server
	addr := ":" + cfg.APIPort
	slog.Info("Starting API server", "addr", addr)
	if err := nethttp.ListenAndServe(addr, router); err != nil {
		log.Fatalf("API server failed to start: %v", err)
	}
}
