package ingest

import (
	"context"

	"github.com/HavenIQ/haven-engine/engine/domain"
	"github.com/HavenIQ/haven-engine/engine/semantic"
	"github.com/HavenIQ/haven-engine/pkg/openai"
)

// Embedder turns text into a dense vector via a remote model.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Completer requests a chat completion. Used for QA enrichment of pages.
type Completer interface {
	Complete(ctx context.Context, system, user string, opts openai.CompletionOpts) (string, error)
}

// Store is the slice of the vector store the loader writes to.
type Store interface {
	InsertProperties(ctx context.Context, batch []semantic.PropertyPoint) error
	InsertDocuments(ctx context.Context, batch []semantic.DocumentPoint) error
}

// PageSource yields pages of a free-text source in order. Next returns
// io.EOF when the source is exhausted.
type PageSource interface {
	Next(ctx context.Context) (domain.Page, error)
}

// Stats summarises one ingestion run. Best-effort bulk loads report what
// happened instead of aborting on per-row trouble.
type Stats struct {
	Rows          int // tabular rows seen
	Dropped       int // rows failing the cleaning invariants
	EmbedFailures int // rows stored with the missing-embedding marker
	Pages         int // document pages seen
	Enriched      int // pages that got QA enrichment
	Skipped       int // pages dropped because their embedding failed
	Inserted      int // points written
	Batches       int // insert batches issued
}

// enrichedPage is a page after optional QA enrichment, ready to embed.
type enrichedPage struct {
	Num     int
	Content string
}
