// Package ingest implements the two bulk-load flows that feed the vector
// index: the tabular flow for catalog rows and the document flow for
// paginated free-text sources. Both are best-effort, non-transactional
// loads: a crash mid-run leaves a partially loaded store, and re-running
// overwrites the same content-addressed points.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/HavenIQ/haven-engine/engine/domain"
	"github.com/HavenIQ/haven-engine/engine/semantic"
	"github.com/HavenIQ/haven-engine/pkg/fn"
	"github.com/HavenIQ/haven-engine/pkg/openai"
	"github.com/HavenIQ/haven-engine/pkg/resilience"
	"golang.org/x/time/rate"
)

const (
	// DefaultBatchSize is how many points go into one insert call.
	DefaultBatchSize = 100
	// DefaultFlushSize is the accumulation threshold of the document flow.
	DefaultFlushSize = 10
)

const qaSystemPrompt = "You are a knowledge assistant that generates questions and answers from provided content."

// Options configures a Loader. Throughput knobs live here so they can be
// tuned without touching the flow logic.
type Options struct {
	BatchSize int
	FlushSize int
	// EmbedRate caps embedding calls per second in the tabular flow.
	EmbedRate  float64
	EmbedBurst int
	// PageRate caps page throughput in the document flow, which makes two
	// remote calls per page when enrichment is on.
	PageRate float64
	// InsertPace spaces out insert batches.
	InsertPace time.Duration
	// Enrich generates QA content per page before embedding.
	Enrich bool
}

// DefaultOptions returns the rates the remote providers tolerate.
func DefaultOptions() Options {
	return Options{
		BatchSize:  DefaultBatchSize,
		FlushSize:  DefaultFlushSize,
		EmbedRate:  5, // one call each 200ms
		EmbedBurst: 1,
		PageRate:   1,
		InsertPace: 200 * time.Millisecond,
		Enrich:     true,
	}
}

// Loader runs ingestion flows against the vector store.
type Loader struct {
	store    Store
	embedder Embedder
	chat     Completer
	opts     Options
	logger   *slog.Logger

	rowLimiter  *resilience.Limiter
	pageLimiter *resilience.Limiter
	breaker     *resilience.Breaker
	pacer       *rate.Limiter
}

// NewLoader creates a Loader. chat may be nil when enrichment is off.
func NewLoader(store Store, embedder Embedder, chat Completer, opts Options, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.FlushSize <= 0 {
		opts.FlushSize = DefaultFlushSize
	}
	if opts.EmbedRate <= 0 {
		opts.EmbedRate = DefaultOptions().EmbedRate
	}
	if opts.PageRate <= 0 {
		opts.PageRate = DefaultOptions().PageRate
	}
	if opts.InsertPace <= 0 {
		opts.InsertPace = DefaultOptions().InsertPace
	}
	return &Loader{
		store:       store,
		embedder:    embedder,
		chat:        chat,
		opts:        opts,
		logger:      logger,
		rowLimiter:  resilience.NewLimiter(resilience.LimiterOpts{Rate: opts.EmbedRate, Burst: opts.EmbedBurst}),
		pageLimiter: resilience.NewLimiter(resilience.LimiterOpts{Rate: opts.PageRate, Burst: 1}),
		breaker:     resilience.NewBreaker(resilience.DefaultBreakerOpts),
		pacer:       rate.NewLimiter(rate.Every(opts.InsertPace), 1),
	}
}

// --- Pipeline stages ---

// CleanStage validates a record against the ingestion invariants. Rows that
// fail are dropped before any embedding call is made.
var CleanStage fn.Stage[domain.PropertyRecord, domain.PropertyRecord] = func(_ context.Context, r domain.PropertyRecord) fn.Result[domain.PropertyRecord] {
	if err := domain.Clean(r); err != nil {
		return fn.Err[domain.PropertyRecord](err)
	}
	return fn.Ok(r)
}

// NewEmbedStage embeds a cleaned record's input text.
func NewEmbedStage(e Embedder) fn.Stage[domain.PropertyRecord, semantic.PropertyPoint] {
	return func(ctx context.Context, r domain.PropertyRecord) fn.Result[semantic.PropertyPoint] {
		vec, err := e.Embed(ctx, domain.EmbeddingInput(r))
		if err != nil {
			return fn.Err[semantic.PropertyPoint](fmt.Errorf("embed row: %w", err))
		}
		return fn.Ok(semantic.PropertyPoint{Record: r, Vector: vec})
	}
}

// rowStage builds the rate-limited, breaker-guarded embed stage for rows.
func (l *Loader) rowStage() fn.Stage[domain.PropertyRecord, semantic.PropertyPoint] {
	return resilience.LimiterStage(l.rowLimiter,
		resilience.BreakerStage(l.breaker,
			fn.Traced("ingest.embed", NewEmbedStage(l.embedder))))
}

// LoadRecords runs the tabular flow: clean, embed one row at a time, and
// insert in batches. A row whose embedding call fails stays in the batch
// with the missing-embedding marker rather than being dropped.
func (l *Loader) LoadRecords(ctx context.Context, rows []domain.PropertyRecord) (Stats, error) {
	var stats Stats
	clean := fn.Traced("ingest.clean", CleanStage)
	embed := l.rowStage()

	batch := make([]semantic.PropertyPoint, 0, l.opts.BatchSize)
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Rows++

		cleaned := clean(ctx, row)
		if cleaned.IsErr() {
			_, err := cleaned.Unwrap()
			stats.Dropped++
			l.logger.Debug("ingest: row dropped", "error", err)
			continue
		}
		rec, _ := cleaned.Unwrap()

		point, err := embed(ctx, rec).Unwrap()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return stats, err
			}
			stats.EmbedFailures++
			l.logger.Warn("ingest: embedding unavailable, keeping row with marker",
				"street", rec.Street, "city", rec.City, "error", err)
			point = semantic.PropertyPoint{Record: rec, EmbedFailed: true}
		}

		batch = append(batch, point)
		if len(batch) >= l.opts.BatchSize {
			if err := l.flushProperties(ctx, batch, &stats); err != nil {
				return stats, err
			}
			batch = make([]semantic.PropertyPoint, 0, l.opts.BatchSize)
		}
	}

	if err := l.flushProperties(ctx, batch, &stats); err != nil {
		return stats, err
	}
	l.logger.Info("ingest: tabular load done",
		"rows", stats.Rows, "dropped", stats.Dropped,
		"embed_failures", stats.EmbedFailures, "batches", stats.Batches)
	return stats, nil
}

func (l *Loader) flushProperties(ctx context.Context, batch []semantic.PropertyPoint, stats *Stats) error {
	if len(batch) == 0 {
		return nil
	}
	if err := l.pacer.Wait(ctx); err != nil {
		return err
	}
	if err := l.store.InsertProperties(ctx, batch); err != nil {
		return fmt.Errorf("ingest: insert batch %d: %w", stats.Batches+1, err)
	}
	stats.Batches++
	stats.Inserted += len(batch)
	l.logger.Info("ingest: batch inserted", "batch", stats.Batches, "size", len(batch))
	return nil
}

// enrichStage optionally generates QA content for a page and combines it
// with the original text. Enrichment failures are logged and skipped; the
// page continues with its original text only.
func (l *Loader) enrichStage(stats *Stats) fn.Stage[domain.Page, enrichedPage] {
	return func(ctx context.Context, p domain.Page) fn.Result[enrichedPage] {
		if !l.opts.Enrich || l.chat == nil {
			return fn.Ok(enrichedPage{Num: p.Num, Content: p.Text})
		}
		prompt := "Based on the following text, generate a set of important questions that could be asked and provide answers:\n\n" + p.Text
		qa, err := l.chat.Complete(ctx, qaSystemPrompt, prompt, openai.CompletionOpts{})
		if err != nil {
			l.logger.Warn("ingest: qa enrichment failed, continuing without", "page", p.Num, "error", err)
			return fn.Ok(enrichedPage{Num: p.Num, Content: p.Text})
		}
		stats.Enriched++
		content := fmt.Sprintf("Original Text:\n%s\n\nQuestions & Answers:\n%s", p.Text, qa)
		return fn.Ok(enrichedPage{Num: p.Num, Content: content})
	}
}

// newEmbedPageStage embeds an enriched page. A failed embedding drops the
// page; unlike catalog rows there is no record worth keeping without one.
func newEmbedPageStage(e Embedder) fn.Stage[enrichedPage, semantic.DocumentPoint] {
	return func(ctx context.Context, p enrichedPage) fn.Result[semantic.DocumentPoint] {
		vec, err := e.Embed(ctx, p.Content)
		if err != nil {
			return fn.Err[semantic.DocumentPoint](fmt.Errorf("embed page %d: %w", p.Num, err))
		}
		return fn.Ok(semantic.DocumentPoint{PageNum: p.Num, Content: p.Content, Vector: vec})
	}
}

// LoadPages runs the document flow: enrich, embed, and flush accumulated
// documents every FlushSize pages plus any remainder at the end.
func (l *Loader) LoadPages(ctx context.Context, src PageSource) (Stats, error) {
	var stats Stats
	pipeline := resilience.LimiterStage(l.pageLimiter,
		fn.Then(
			fn.Traced("ingest.enrich", l.enrichStage(&stats)),
			fn.Traced("ingest.embed_page", newEmbedPageStage(l.embedder)),
		))

	docs := make([]semantic.DocumentPoint, 0, l.opts.FlushSize)
	for {
		page, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, fmt.Errorf("ingest: read page: %w", err)
		}
		stats.Pages++

		doc, err := pipeline(ctx, page).Unwrap()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return stats, err
			}
			stats.Skipped++
			l.logger.Warn("ingest: page skipped", "page", page.Num, "error", err)
			continue
		}

		docs = append(docs, doc)
		if len(docs) >= l.opts.FlushSize {
			if err := l.flushDocuments(ctx, docs, &stats); err != nil {
				return stats, err
			}
			docs = make([]semantic.DocumentPoint, 0, l.opts.FlushSize)
		}
	}

	if err := l.flushDocuments(ctx, docs, &stats); err != nil {
		return stats, err
	}
	l.logger.Info("ingest: document load done",
		"pages", stats.Pages, "enriched", stats.Enriched,
		"skipped", stats.Skipped, "batches", stats.Batches)
	return stats, nil
}

func (l *Loader) flushDocuments(ctx context.Context, docs []semantic.DocumentPoint, stats *Stats) error {
	if len(docs) == 0 {
		return nil
	}
	if err := l.pacer.Wait(ctx); err != nil {
		return err
	}
	if err := l.store.InsertDocuments(ctx, docs); err != nil {
		return fmt.Errorf("ingest: insert documents: %w", err)
	}
	stats.Batches++
	stats.Inserted += len(docs)
	return nil
}
