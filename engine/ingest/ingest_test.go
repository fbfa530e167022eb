package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/HavenIQ/haven-engine/engine/domain"
	"github.com/HavenIQ/haven-engine/engine/semantic"
	"github.com/HavenIQ/haven-engine/pkg/openai"
)

// --- Fakes ---

type fakeEmbedder struct {
	calls   []string
	failOn  string
	failAll bool
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.calls = append(f.calls, text)
	if f.failAll || (f.failOn != "" && strings.Contains(text, f.failOn)) {
		return nil, errors.New("provider unavailable")
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

type fakeChat struct {
	calls int
	reply string
	err   error
}

func (f *fakeChat) Complete(_ context.Context, _, _ string, _ openai.CompletionOpts) (string, error) {
	f.calls++
	return f.reply, f.err
}

type fakeStore struct {
	propertyBatches [][]semantic.PropertyPoint
	documentBatches [][]semantic.DocumentPoint
	insertErr       error
}

func (f *fakeStore) InsertProperties(_ context.Context, batch []semantic.PropertyPoint) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	cp := make([]semantic.PropertyPoint, len(batch))
	copy(cp, batch)
	f.propertyBatches = append(f.propertyBatches, cp)
	return nil
}

func (f *fakeStore) InsertDocuments(_ context.Context, batch []semantic.DocumentPoint) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	cp := make([]semantic.DocumentPoint, len(batch))
	copy(cp, batch)
	f.documentBatches = append(f.documentBatches, cp)
	return nil
}

type slicePages struct {
	pages []domain.Page
	i     int
}

func (s *slicePages) Next(_ context.Context) (domain.Page, error) {
	if s.i >= len(s.pages) {
		return domain.Page{}, io.EOF
	}
	p := s.pages[s.i]
	s.i++
	return p, nil
}

func fastOptions() Options {
	return Options{
		BatchSize:  100,
		FlushSize:  10,
		EmbedRate:  100000,
		EmbedBurst: 1000,
		PageRate:   100000,
		InsertPace: time.Microsecond,
		Enrich:     true,
	}
}

func row(city string, price float64) domain.PropertyRecord {
	return domain.PropertyRecord{
		Status: "for_sale",
		Price:  price,
		Bed:    "3",
		Street: "1962 Vineyard Ave",
		City:   city,
		State:  "Puerto Rico",
	}
}

// --- Tabular flow ---

func TestLoadRecords_DropsInvalidBeforeEmbedding(t *testing.T) {
	store := &fakeStore{}
	emb := &fakeEmbedder{}
	l := NewLoader(store, emb, nil, fastOptions(), slog.Default())

	rows := []domain.PropertyRecord{
		row("Aguadilla", 105000),
		row("ZeroPrice", 0),   // must be dropped before any embedding call
		row("NoStreet", 90000),
	}
	rows[2].Street = ""

	stats, err := l.LoadRecords(context.Background(), rows)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Rows != 3 || stats.Dropped != 2 || stats.Inserted != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(emb.calls) != 1 {
		t.Fatalf("expected single embed call, got %d", len(emb.calls))
	}
	if !strings.Contains(emb.calls[0], "Aguadilla") {
		t.Errorf("embedded wrong row: %q", emb.calls[0])
	}
}

func TestLoadRecords_BatchRoundTrip(t *testing.T) {
	const n = 5
	for _, batchSize := range []int{1, n, n + 1} {
		t.Run(fmt.Sprintf("batch_%d", batchSize), func(t *testing.T) {
			store := &fakeStore{}
			opts := fastOptions()
			opts.BatchSize = batchSize
			l := NewLoader(store, &fakeEmbedder{}, nil, opts, slog.Default())

			rows := make([]domain.PropertyRecord, n)
			for i := range rows {
				rows[i] = row(fmt.Sprintf("City-%d", i), 100000+float64(i))
			}

			stats, err := l.LoadRecords(context.Background(), rows)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			total := 0
			for _, b := range store.propertyBatches {
				if len(b) > batchSize {
					t.Errorf("batch larger than %d: %d", batchSize, len(b))
				}
				total += len(b)
			}
			if total != n || stats.Inserted != n {
				t.Fatalf("expected %d inserted, got %d (stats %+v)", n, total, stats)
			}
		})
	}
}

func TestLoadRecords_SourceOrderPreserved(t *testing.T) {
	store := &fakeStore{}
	opts := fastOptions()
	opts.BatchSize = 2
	l := NewLoader(store, &fakeEmbedder{}, nil, opts, slog.Default())

	rows := []domain.PropertyRecord{row("A", 1000), row("B", 1000), row("C", 1000)}
	if _, err := l.LoadRecords(context.Background(), rows); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var cities []string
	for _, b := range store.propertyBatches {
		for _, p := range b {
			cities = append(cities, p.Record.City)
		}
	}
	if got := strings.Join(cities, ","); got != "A,B,C" {
		t.Fatalf("insertion order broken: %s", got)
	}
}

func TestLoadRecords_FailedEmbeddingKeepsRowWithMarker(t *testing.T) {
	store := &fakeStore{}
	emb := &fakeEmbedder{failOn: "Mayaguez"}
	l := NewLoader(store, emb, nil, fastOptions(), slog.Default())

	rows := []domain.PropertyRecord{row("Aguadilla", 105000), row("Mayaguez", 98000)}
	stats, err := l.LoadRecords(context.Background(), rows)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.EmbedFailures != 1 || stats.Inserted != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	batch := store.propertyBatches[0]
	if batch[0].EmbedFailed || len(batch[0].Vector) == 0 {
		t.Error("healthy row mismarked")
	}
	if !batch[1].EmbedFailed || batch[1].Vector != nil {
		t.Errorf("failed row should carry the marker and no vector: %+v", batch[1])
	}
}

func TestLoadRecords_InsertErrorAborts(t *testing.T) {
	store := &fakeStore{insertErr: errors.New("store down")}
	l := NewLoader(store, &fakeEmbedder{}, nil, fastOptions(), slog.Default())

	_, err := l.LoadRecords(context.Background(), []domain.PropertyRecord{row("A", 1000)})
	if err == nil || !strings.Contains(err.Error(), "store down") {
		t.Fatalf("expected wrapped insert error, got %v", err)
	}
}

func TestLoadRecords_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l := NewLoader(&fakeStore{}, &fakeEmbedder{}, nil, fastOptions(), slog.Default())
	_, err := l.LoadRecords(ctx, []domain.PropertyRecord{row("A", 1000)})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

// --- Document flow ---

func pages(n int) *slicePages {
	s := &slicePages{}
	for i := 0; i < n; i++ {
		s.pages = append(s.pages, domain.Page{Num: i + 1, Text: fmt.Sprintf("page %d text", i+1)})
	}
	return s
}

func TestLoadPages_FlushEveryNAndRemainder(t *testing.T) {
	store := &fakeStore{}
	opts := fastOptions()
	opts.FlushSize = 10
	opts.Enrich = false
	l := NewLoader(store, &fakeEmbedder{}, nil, opts, slog.Default())

	stats, err := l.LoadPages(context.Background(), pages(23))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Pages != 23 || stats.Inserted != 23 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	sizes := make([]int, len(store.documentBatches))
	for i, b := range store.documentBatches {
		sizes[i] = len(b)
	}
	if len(sizes) != 3 || sizes[0] != 10 || sizes[1] != 10 || sizes[2] != 3 {
		t.Fatalf("unexpected flush sizes: %v", sizes)
	}
}

func TestLoadPages_EnrichmentCombinesContent(t *testing.T) {
	store := &fakeStore{}
	chat := &fakeChat{reply: "Q: how many beds? A: three."}
	l := NewLoader(store, &fakeEmbedder{}, chat, fastOptions(), slog.Default())

	stats, err := l.LoadPages(context.Background(), pages(1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if chat.calls != 1 || stats.Enriched != 1 {
		t.Fatalf("expected one enrichment, got calls=%d stats=%+v", chat.calls, stats)
	}
	content := store.documentBatches[0][0].Content
	if !strings.Contains(content, "Original Text:\npage 1 text") ||
		!strings.Contains(content, "Questions & Answers:\nQ: how many beds? A: three.") {
		t.Fatalf("unexpected combined content: %q", content)
	}
}

func TestLoadPages_EnrichmentFailureProceedsWithOriginal(t *testing.T) {
	store := &fakeStore{}
	chat := &fakeChat{err: errors.New("chat down")}
	l := NewLoader(store, &fakeEmbedder{}, chat, fastOptions(), slog.Default())

	stats, err := l.LoadPages(context.Background(), pages(1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Enriched != 0 || stats.Inserted != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if got := store.documentBatches[0][0].Content; got != "page 1 text" {
		t.Fatalf("expected original text only, got %q", got)
	}
}

func TestLoadPages_EmbedFailureSkipsPage(t *testing.T) {
	store := &fakeStore{}
	emb := &fakeEmbedder{failOn: "page 2"}
	opts := fastOptions()
	opts.Enrich = false
	l := NewLoader(store, emb, nil, opts, slog.Default())

	stats, err := l.LoadPages(context.Background(), pages(3))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Skipped != 1 || stats.Inserted != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}
