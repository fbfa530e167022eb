// Package rag orchestrates the retrieval-augmented answer pipeline. It
// embeds a user query, searches the vector index for the closest listings,
// and synthesizes an answer from the retrieved evidence with the chat
// model. When retrieval comes back empty or broken the pipeline
// short-circuits: the chat model is never called on fabricated context.
package rag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/HavenIQ/haven-engine/engine/domain"
	"github.com/HavenIQ/haven-engine/engine/semantic"
	"github.com/HavenIQ/haven-engine/pkg/openai"
)

// ErrNoMatches reports that retrieval ran fine but found nothing. It is
// distinct from transport errors so callers can tell an empty index from a
// broken one.
var ErrNoMatches = errors.New("rag: no matching listings")

// Embedder turns a query into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher abstracts ANN search over the listing index.
type Searcher interface {
	Search(ctx context.Context, vector []float32, numCandidates, limit int) ([]semantic.QueryResult, error)
}

// Completer produces the final answer text.
type Completer interface {
	Complete(ctx context.Context, system, user string, opts openai.CompletionOpts) (string, error)
}

// Diagnoser exposes the index health surface. Optional.
type Diagnoser interface {
	Count(ctx context.Context) (uint64, error)
	Sample(ctx context.Context) (*semantic.SampleInfo, error)
}

// Options configures the pipeline behaviour. A nil Temperature and a zero
// MaxTokens leave the chat provider's defaults in place.
type Options struct {
	NumCandidates int
	Limit         int
	Temperature   *float64
	MaxTokens     int
	SystemPrompt  string
	SearchTimeout time.Duration
}

// DefaultOptions returns the retrieval and synthesis defaults. Sampling
// stays at provider defaults.
func DefaultOptions() Options {
	return Options{
		NumCandidates: semantic.DefaultNumCandidates,
		Limit:         semantic.DefaultLimit,
		SystemPrompt:  defaultSystemPrompt,
		SearchTimeout: 5 * time.Second,
	}
}

const defaultSystemPrompt = `You are a real-estate recommendation system.
Answer the user's question using ONLY the supplied property information.
If the supplied listings do not answer the question, say so.`

// Service runs the retrieval and synthesis pipeline.
type Service struct {
	embedder Embedder
	searcher Searcher
	chat     Completer
	diag     Diagnoser
	opts     Options
	logger   *slog.Logger
}

// New creates a Service. diag may be nil.
func New(embedder Embedder, searcher Searcher, chat Completer, diag Diagnoser, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.NumCandidates <= 0 {
		opts.NumCandidates = semantic.DefaultNumCandidates
	}
	if opts.Limit <= 0 {
		opts.Limit = semantic.DefaultLimit
	}
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = defaultSystemPrompt
	}
	if opts.SearchTimeout <= 0 {
		opts.SearchTimeout = DefaultOptions().SearchTimeout
	}
	return &Service{
		embedder: embedder,
		searcher: searcher,
		chat:     chat,
		diag:     diag,
		opts:     opts,
		logger:   logger,
	}
}

// Answer is the structured response of the pipeline. Evidence carries the
// listings the answer was grounded on, or the same indicator text as
// Response when the pipeline short-circuited.
type Answer struct {
	Response string   `json:"response"`
	Evidence Evidence `json:"source_information"`
}

// Evidence is either the retrieved listings or indicator text, never both.
// It serializes as a JSON array of listings on the success path and as a
// plain string otherwise.
type Evidence struct {
	Results []semantic.QueryResult
	Text    string
}

func (e Evidence) MarshalJSON() ([]byte, error) {
	if e.Results != nil {
		return json.Marshal(e.Results)
	}
	return json.Marshal(e.Text)
}

// Retrieve embeds the query and searches the index. An empty result set
// returns ErrNoMatches; any other error is a transport or provider fault.
func (s *Service) Retrieve(ctx context.Context, query string) ([]semantic.QueryResult, error) {
	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("rag: embed query: %w", err)
	}

	searchCtx, cancel := context.WithTimeout(ctx, s.opts.SearchTimeout)
	defer cancel()

	results, err := s.searcher.Search(searchCtx, vector, s.opts.NumCandidates, s.opts.Limit)
	if err != nil {
		return nil, fmt.Errorf("rag: search: %w", err)
	}
	if len(results) == 0 {
		return nil, ErrNoMatches
	}
	s.logger.Info("rag: retrieval done", "results", len(results), "top_score", results[0].Score)
	return results, nil
}

// Synthesize produces the final answer from retrieved listings. When
// retrieveErr is set the chat model is not called: the indicator text
// becomes both the response and the evidence. A chat failure keeps the
// retrieved listings as evidence and reports the failure in the response
// text; only context cancellation propagates as an error.
func (s *Service) Synthesize(ctx context.Context, query string, results []semantic.QueryResult, retrieveErr error) (Answer, error) {
	if retrieveErr != nil {
		text := indicatorText(retrieveErr)
		s.logger.Warn("rag: synthesis short-circuited", "reason", retrieveErr)
		return Answer{Response: text, Evidence: Evidence{Text: text}}, nil
	}

	prompt := fmt.Sprintf("Answer this user query: %s with the following context:\n%s", query, FormatListings(results))
	reply, err := s.chat.Complete(ctx, s.opts.SystemPrompt, prompt, openai.CompletionOpts{
		Temperature: s.opts.Temperature,
		MaxTokens:   s.opts.MaxTokens,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Answer{}, fmt.Errorf("rag: chat: %w", err)
		}
		s.logger.Warn("rag: answer generation failed", "error", err)
		return Answer{
			Response: "Error generating answer: " + err.Error(),
			Evidence: Evidence{Results: results},
		}, nil
	}
	return Answer{Response: reply, Evidence: Evidence{Results: results}}, nil
}

// Query runs the full pipeline.
func (s *Service) Query(ctx context.Context, query string) (Answer, error) {
	results, err := s.Retrieve(ctx, query)
	if err != nil && !retrievalFault(err) {
		return Answer{}, err
	}
	return s.Synthesize(ctx, query, results, err)
}

// retrievalFault reports whether err is absorbed into an indicator answer
// rather than surfaced to the caller. Context cancellation propagates.
func retrievalFault(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func indicatorText(err error) string {
	if errors.Is(err, ErrNoMatches) {
		return "No matching listings were found in the index."
	}
	return "Error performing search: " + err.Error()
}

// FormatListings serializes retrieved listings into the evidence block fed
// to the chat model and returned to the caller. Uses the same field
// serialization the listings were embedded with.
func FormatListings(results []semantic.QueryResult) string {
	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "Listing %d (score %.3f): %s\n", i+1, r.Score, domain.EmbeddingInput(r.PropertyRecord))
	}
	return b.String()
}

// LogIndexHealth probes the index and logs what it finds. Advisory only:
// failures are logged, never returned. Startup diagnostics, not the query
// hot path.
func (s *Service) LogIndexHealth(ctx context.Context) {
	if s.diag == nil {
		return
	}
	count, err := s.diag.Count(ctx)
	if err != nil {
		s.logger.Warn("rag: index count unavailable", "error", err)
		return
	}
	s.logger.Info("rag: index points", "count", count)

	sample, err := s.diag.Sample(ctx)
	if err != nil {
		s.logger.Warn("rag: index sample unavailable", "error", err)
		return
	}
	if sample == nil {
		s.logger.Warn("rag: index is empty")
		return
	}
	s.logger.Info("rag: index sample",
		"payload_fields", sample.PayloadFields,
		"vector_len", sample.VectorLen,
		"embed_failed", sample.EmbedFailed)
	if sample.VectorLen != domain.EmbeddingDims {
		s.logger.Warn("rag: sampled vector length differs from expected dims",
			"got", sample.VectorLen, "want", domain.EmbeddingDims)
	}
}
