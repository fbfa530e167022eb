// Command load reads a property catalog CSV and loads it into the vector
// index: clean, embed, and insert in batches. With -publish it streams the
// rows to NATS for the worker to ingest instead of loading directly.
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/HavenIQ/haven-engine/engine/domain"
	"github.com/HavenIQ/haven-engine/engine/ingest"
	"github.com/HavenIQ/haven-engine/engine/semantic"
	"github.com/HavenIQ/haven-engine/pkg/metrics"
	"github.com/HavenIQ/haven-engine/pkg/natsutil"
	"github.com/HavenIQ/haven-engine/pkg/openai"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
)

func main() {
	_ = godotenv.Load()

	var (
		csvPath     = flag.String("csv", "data/catalog.csv", "property catalog CSV")
		qdrantAddr  = flag.String("qdrant", envOr("QDRANT_URL", "localhost:6334"), "Qdrant gRPC address")
		collection  = flag.String("collection", envOr("QDRANT_COLLECTION", "properties"), "Qdrant collection name")
		reset       = flag.Bool("reset", false, "drop and recreate the collection before loading")
		limit       = flag.Int("limit", 0, "load at most this many rows (0 = all)")
		batchSize   = flag.Int("batch", ingest.DefaultBatchSize, "rows per insert batch")
		publish     = flag.Bool("publish", false, "publish rows to NATS instead of loading directly")
		natsURL     = flag.String("nats", envOr("NATS_URL", nats.DefaultURL), "NATS server URL")
		metricsPort = flag.Int("metrics-port", 9091, "metrics listen port (0 = off)")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rows, err := readCatalog(*csvPath, *limit)
	if err != nil {
		logger.Error("read catalog failed", "path", *csvPath, "error", err)
		os.Exit(1)
	}
	logger.Info("catalog read", "path", *csvPath, "rows", len(rows))

	if *publish {
		if err := publishRows(ctx, *natsURL, rows, logger); err != nil {
			logger.Error("publish failed", "error", err)
			os.Exit(1)
		}
		return
	}

	reg := metrics.New()
	if *metricsPort > 0 {
		reg.ServeAsync(*metricsPort, logger)
	}

	store, err := semantic.New(*qdrantAddr, *collection)
	if err != nil {
		logger.Error("qdrant connect failed", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	if *reset {
		if err := store.Reset(ctx, domain.EmbeddingDims); err != nil {
			logger.Error("reset collection failed", "error", err)
			os.Exit(1)
		}
		logger.Info("collection reset", "collection", *collection)
	} else if err := store.EnsureCollection(ctx, domain.EmbeddingDims); err != nil {
		logger.Error("ensure collection failed", "error", err)
		os.Exit(1)
	}

	embedder := openai.NewEmbedClient(openai.Config{
		APIKey:     os.Getenv("OPENAI_API_KEY"),
		BaseURL:    envOr("OPENAI_BASE_URL", openai.DefaultBaseURL),
		EmbedModel: envOr("EMBED_MODEL", openai.DefaultEmbedModel),
	})

	opts := ingest.DefaultOptions()
	opts.BatchSize = *batchSize
	loader := ingest.NewLoader(store, embedder, nil, opts, logger)

	start := time.Now()
	stats, err := loader.LoadRecords(ctx, rows)
	recordStats(reg, stats)
	if err != nil {
		logger.Error("load failed", "error", err, "stats", fmt.Sprintf("%+v", stats))
		os.Exit(1)
	}

	if count, err := store.Count(ctx); err == nil {
		reg.Gauge("haven_index_points", "Points in the collection after the load.").Set(int64(count))
		logger.Info("load done", "duration", time.Since(start), "index_points", count)
	} else {
		logger.Info("load done", "duration", time.Since(start))
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func recordStats(reg *metrics.Registry, stats ingest.Stats) {
	reg.Counter("haven_load_rows_total", "Rows read from the catalog.").Add(int64(stats.Rows))
	reg.Counter("haven_load_dropped_total", "Rows dropped by cleaning.").Add(int64(stats.Dropped))
	reg.Counter("haven_load_embed_failures_total", "Rows stored without an embedding.").Add(int64(stats.EmbedFailures))
	reg.Counter("haven_load_inserted_total", "Points written to the index.").Add(int64(stats.Inserted))
}

func publishRows(ctx context.Context, url string, rows []domain.PropertyRecord, logger *slog.Logger) error {
	nc, err := nats.Connect(url)
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	defer nc.Drain()

	for i, r := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := natsutil.Publish(ctx, nc, ingest.Subject, r); err != nil {
			return fmt.Errorf("publish row %d: %w", i, err)
		}
	}
	logger.Info("rows published", "subject", ingest.Subject, "count", len(rows))
	return nil
}

// readCatalog parses the catalog CSV. The header row names the columns, so
// column order in the file does not matter.
func readCatalog(path string, limit int) ([]domain.PropertyRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(strings.ToLower(name))] = i
	}

	field := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var rows []domain.PropertyRecord
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", len(rows)+1, err)
		}

		price, _ := strconv.ParseFloat(field(row, "price"), 64)
		rows = append(rows, domain.PropertyRecord{
			BrokeredBy:   field(row, "brokered_by"),
			Status:       field(row, "status"),
			Price:        price,
			Bed:          field(row, "bed"),
			Bath:         field(row, "bath"),
			AcreLot:      field(row, "acre_lot"),
			Street:       field(row, "street"),
			City:         field(row, "city"),
			State:        field(row, "state"),
			ZipCode:      field(row, "zip_code"),
			HouseSize:    field(row, "house_size"),
			PrevSoldDate: field(row, "prev_sold_date"),
		})
		if limit > 0 && len(rows) >= limit {
			break
		}
	}
	return rows, nil
}
