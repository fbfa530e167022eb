// Package main implements the HavenIQ query API server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/HavenIQ/haven-engine/engine/rag"
	"github.com/HavenIQ/haven-engine/engine/semantic"
	"github.com/HavenIQ/haven-engine/pkg/metrics"
	"github.com/HavenIQ/haven-engine/pkg/mid"
	"github.com/HavenIQ/haven-engine/pkg/openai"
	"github.com/joho/godotenv"
)

// Config holds all environment-based configuration.
type Config struct {
	Port        string
	QdrantURL   string
	Collection  string
	OpenAIBase  string
	OpenAIKey   string
	EmbedModel  string
	ChatModel   string
	CORSOrigin  string
	MetricsPort int
}

func loadConfig() Config {
	return Config{
		Port:        envOr("PORT", "8080"),
		QdrantURL:   envOr("QDRANT_URL", "localhost:6334"),
		Collection:  envOr("QDRANT_COLLECTION", "properties"),
		OpenAIBase:  envOr("OPENAI_BASE_URL", openai.DefaultBaseURL),
		OpenAIKey:   os.Getenv("OPENAI_API_KEY"),
		EmbedModel:  envOr("EMBED_MODEL", openai.DefaultEmbedModel),
		ChatModel:   envOr("CHAT_MODEL", openai.DefaultChatModel),
		CORSOrigin:  envOr("CORS_ORIGIN", "*"),
		MetricsPort: envOrInt("METRICS_PORT", 0),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return fallback
	}
	return n
}

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loadConfig()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Connect to Qdrant ---
	vectorStore, err := semantic.New(cfg.QdrantURL, cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant connect: %w", err)
	}
	defer vectorStore.Close()

	// --- Model provider clients ---
	provider := openai.Config{
		BaseURL:    cfg.OpenAIBase,
		APIKey:     cfg.OpenAIKey,
		EmbedModel: cfg.EmbedModel,
		ChatModel:  cfg.ChatModel,
	}
	embedder := openai.NewEmbedClient(provider)
	chat := openai.NewChatClient(provider)

	// --- Build RAG service ---
	ragSvc := rag.New(embedder, vectorStore, chat, vectorStore, rag.DefaultOptions(), logger)
	ragSvc.LogIndexHealth(ctx)

	// --- Metrics ---
	reg := metrics.New()
	queries := reg.Counter("haven_queries_total", "Queries served on /vector_search.")
	queryErrors := reg.Counter("haven_query_errors_total", "Queries that failed outright.")
	queryLatency := reg.Histogram("haven_query_seconds", "End-to-end query latency.", nil)
	if cfg.MetricsPort > 0 {
		reg.ServeAsync(cfg.MetricsPort, logger)
	}

	// --- Build HTTP server ---
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.HandleFunc("POST /vector_search", handleSearch(ragSvc, logger, queries, queryErrors, queryLatency))
	mux.Handle("GET /metrics", reg.Handler())

	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.Logger(logger),
		mid.CORS(cfg.CORSOrigin),
		mid.OTel("haven-api"),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// --- Graceful shutdown ---
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port, "collection", cfg.Collection)
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

// --- Handlers ---

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// SearchRequest is the JSON body for POST /vector_search.
type SearchRequest struct {
	Query string `json:"query"`
}

func handleSearch(ragSvc *rag.Service, logger *slog.Logger, queries, queryErrors *metrics.Counter, latency *metrics.Histogram) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		queries.Inc()

		var req SearchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		if req.Query == "" {
			http.Error(w, `{"error":"query is required"}`, http.StatusBadRequest)
			return
		}

		// Provider faults (embed, search, chat) come back as readable
		// indicator answers, not errors; only cancellation lands here.
		answer, err := ragSvc.Query(r.Context(), req.Query)
		if err != nil {
			queryErrors.Inc()
			logger.Error("query failed", "err", err)
			http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
			return
		}

		latency.Since(start)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(answer)
	}
}
