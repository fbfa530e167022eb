// Command load-docs loads paginated free-text documents into the vector
// index. Each input file is one page; pages are optionally enriched with
// generated questions and answers before embedding.
package main

import (
	"context"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"

	"github.com/HavenIQ/haven-engine/engine/domain"
	"github.com/HavenIQ/haven-engine/engine/ingest"
	"github.com/HavenIQ/haven-engine/engine/semantic"
	"github.com/HavenIQ/haven-engine/pkg/openai"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	var (
		dir        = flag.String("dir", "data/pages", "directory of page text files")
		qdrantAddr = flag.String("qdrant", envOr("QDRANT_URL", "localhost:6334"), "Qdrant gRPC address")
		collection = flag.String("collection", envOr("QDRANT_COLLECTION", "documents"), "Qdrant collection name")
		enrich     = flag.Bool("enrich", true, "generate QA content per page before embedding")
		flushSize  = flag.Int("flush", ingest.DefaultFlushSize, "pages per insert batch")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	store, err := semantic.New(*qdrantAddr, *collection)
	if err != nil {
		logger.Error("qdrant connect failed", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	if err := store.EnsureCollection(ctx, domain.EmbeddingDims); err != nil {
		logger.Error("ensure collection failed", "error", err)
		os.Exit(1)
	}

	provider := openai.Config{
		APIKey:     os.Getenv("OPENAI_API_KEY"),
		BaseURL:    envOr("OPENAI_BASE_URL", openai.DefaultBaseURL),
		EmbedModel: envOr("EMBED_MODEL", openai.DefaultEmbedModel),
		ChatModel:  envOr("CHAT_MODEL", openai.DefaultChatModel),
	}

	opts := ingest.DefaultOptions()
	opts.FlushSize = *flushSize
	opts.Enrich = *enrich
	loader := ingest.NewLoader(store, openai.NewEmbedClient(provider), openai.NewChatClient(provider), opts, logger)

	src, err := newDirSource(*dir)
	if err != nil {
		logger.Error("open page directory failed", "dir", *dir, "error", err)
		os.Exit(1)
	}
	logger.Info("loading pages", "dir", *dir, "pages", len(src.paths), "enrich", *enrich)

	stats, err := loader.LoadPages(ctx, src)
	if err != nil {
		logger.Error("load failed", "error", err)
		os.Exit(1)
	}
	logger.Info("pages loaded",
		"pages", stats.Pages, "enriched", stats.Enriched,
		"skipped", stats.Skipped, "inserted", stats.Inserted)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// dirSource yields one page per .txt file, in lexical filename order.
type dirSource struct {
	paths []string
	next  int
}

func newDirSource(dir string) (*dirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".txt") {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return &dirSource{paths: paths}, nil
}

func (s *dirSource) Next(ctx context.Context) (domain.Page, error) {
	if err := ctx.Err(); err != nil {
		return domain.Page{}, err
	}
	if s.next >= len(s.paths) {
		return domain.Page{}, io.EOF
	}
	data, err := os.ReadFile(s.paths[s.next])
	if err != nil {
		return domain.Page{}, err
	}
	s.next++
	return domain.Page{Num: s.next, Text: string(data)}, nil
}
