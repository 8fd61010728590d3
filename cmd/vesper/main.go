package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	mcpsdk "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/vesper/internal/config"
	"github.com/ashita-ai/vesper/internal/consolidation"
	"github.com/ashita-ai/vesper/internal/embedding"
	"github.com/ashita-ai/vesper/internal/mcpserver"
	"github.com/ashita-ai/vesper/internal/memoryservice"
	"github.com/ashita-ai/vesper/internal/router"
	"github.com/ashita-ai/vesper/internal/scheduler"
	"github.com/ashita-ai/vesper/internal/semantic"
	"github.com/ashita-ai/vesper/internal/skills"
	"github.com/ashita-ai/vesper/internal/vectorindex"
	"github.com/ashita-ai/vesper/internal/working"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := parseLogLevel(os.Getenv("LOG_LEVEL"))
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		logger.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

// run wires every component and blocks serving the MCP stdio transport
// until ctx is cancelled. Vesper talks JSON-RPC over stdout, so all
// logging goes to stderr to keep the wire protocol clean.
func run(ctx context.Context, logger *slog.Logger) error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.Info("vesper starting", "version", version, "graph_db", cfg.GraphDBPath)

	if err := os.MkdirAll(cfg.DataRoot, 0o755); err != nil {
		return fmt.Errorf("data root: %w", err)
	}

	workingStore, err := newWorkingStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("working tier: %w", err)
	}
	defer func() { _ = workingStore.Close() }()

	semanticStore, err := semantic.Open(ctx, cfg.GraphDBPath)
	if err != nil {
		return fmt.Errorf("semantic tier: %w", err)
	}
	defer func() { _ = semanticStore.Close() }()

	skillLibrary := skills.New(semanticStore.DB())

	embedder := newEmbeddingProvider(cfg, logger)

	vecIndex, err := newVectorIndex(cfg, logger)
	if err != nil {
		return fmt.Errorf("vector index: %w", err)
	}
	defer func() { _ = vecIndex.Close() }()

	r := router.New(workingStore, semanticStore, skillLibrary, embedder, vecIndex)
	svc := memoryservice.New(workingStore, semanticStore, skillLibrary, r, embedder, vecIndex, logger)

	pipeline := consolidation.New(workingStore, semanticStore, skillLibrary, embedder, logger)
	sched := scheduler.New(pipeline, semanticStore, cfg.ConsolidationHour, logger)
	go sched.Start(ctx)

	mcpServer := mcpserver.New(svc, logger, version)

	logger.Info("vesper ready, serving MCP over stdio")
	serveErr := make(chan error, 1)
	go func() { serveErr <- mcpsdk.ServeStdio(mcpServer.MCPServer()) }()

	select {
	case <-ctx.Done():
		logger.Info("vesper shutting down")
		return nil
	case err := <-serveErr:
		return err
	}
}

func newWorkingStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (working.Store, error) {
	if cfg.WorkingTierURL != "" {
		logger.Info("working tier: redis", "url", cfg.WorkingTierURL)
		return working.NewRedisStore(ctx, cfg.WorkingTierURL)
	}
	logger.Info("working tier: badger (embedded)")
	return working.NewBadgerStore(filepath.Join(cfg.DataRoot, "data", "working"))
}

func newVectorIndex(cfg config.Config, logger *slog.Logger) (vectorindex.Index, error) {
	if cfg.VectorURL == "" {
		logger.Info("vector index: in-process (no VECTOR_URL)")
		return vectorindex.NewMemoryIndex(), nil
	}
	logger.Info("vector index: qdrant", "url", cfg.VectorURL)
	return vectorindex.NewQdrantIndex(vectorindex.QdrantConfig{URL: cfg.VectorURL, APIKey: cfg.VectorAPIKey})
}

// newEmbeddingProvider selects the embedding sidecar client, or a noop
// stand-in that disables vector recall but keeps the keyword and graph
// paths fully functional (spec §4.1: embeddings are best-effort).
func newEmbeddingProvider(cfg config.Config, logger *slog.Logger) embedding.Provider {
	if cfg.EmbeddingURL == "" {
		logger.Warn("embedding provider: noop (no EMBEDDING_URL, vector recall disabled)")
		return embedding.NewNoopProvider(cfg.EmbeddingDimensions)
	}
	logger.Info("embedding provider: http", "url", cfg.EmbeddingURL, "dimensions", cfg.EmbeddingDimensions)
	return embedding.NewHTTPProvider(cfg.EmbeddingURL, cfg.EmbeddingDimensions, cfg.EmbeddingTimeout, cfg.EmbeddingRetries)
}

func parseLogLevel(raw string) slog.Level {
	switch raw {
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
