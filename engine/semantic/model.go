package semantic

import "github.com/HavenIQ/haven-engine/engine/domain"

// PropertyPoint is a listing ready to be written to the vector index.
// A point whose embedding call failed is stored anyway, with a zero vector
// and the EmbedFailed marker, so the gap is visible to diagnostics instead
// of silently shrinking the catalog.
type PropertyPoint struct {
	Record      domain.PropertyRecord
	Vector      []float32
	EmbedFailed bool
}

// QueryResult is the projection of a matched listing returned to callers:
// the record fields plus the engine-computed cosine similarity score, and
// never the internal point id. Constructed per query, never persisted.
type QueryResult struct {
	domain.PropertyRecord
	Score float32 `json:"score"`
}

// DocumentPoint is a free-text page (optionally enriched with generated
// question/answer content) ready for the vector index.
type DocumentPoint struct {
	PageNum int
	Content string
	Vector  []float32
}

// SampleInfo describes one stored point, used by startup diagnostics to spot
// data-integrity defects such as missing or mis-sized embedding vectors.
type SampleInfo struct {
	PayloadFields []string
	VectorLen     int
	EmbedFailed   bool
}
