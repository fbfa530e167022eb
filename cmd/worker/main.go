// Command worker consumes property listings from NATS and ingests them
// into the vector index one at a time. Listings that repeatedly fail to
// store end up on the dead-letter subject.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/HavenIQ/haven-engine/engine/domain"
	"github.com/HavenIQ/haven-engine/engine/ingest"
	"github.com/HavenIQ/haven-engine/engine/semantic"
	"github.com/HavenIQ/haven-engine/pkg/openai"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("worker exited with error", "err", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := semantic.New(envOr("QDRANT_URL", "localhost:6334"), envOr("QDRANT_COLLECTION", "properties"))
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.EnsureCollection(ctx, domain.EmbeddingDims); err != nil {
		return err
	}

	embedder := openai.NewEmbedClient(openai.Config{
		APIKey:     os.Getenv("OPENAI_API_KEY"),
		BaseURL:    envOr("OPENAI_BASE_URL", openai.DefaultBaseURL),
		EmbedModel: envOr("EMBED_MODEL", openai.DefaultEmbedModel),
	})
	loader := ingest.NewLoader(store, embedder, nil, ingest.DefaultOptions(), logger)

	nc, err := nats.Connect(envOr("NATS_URL", nats.DefaultURL),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return err
	}
	defer nc.Drain()

	sub, err := loader.StartConsumer(nc)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	logger.Info("worker consuming", "subject", ingest.Subject, "dlq", ingest.DLQSubject)
	<-ctx.Done()
	logger.Info("shutdown signal received")
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
