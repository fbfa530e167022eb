package openai

import (
	"context"
	"fmt"
	"net/http"
)

// EmbedClient turns text into a fixed-length dense vector via the remote
// embeddings endpoint.
type EmbedClient struct {
	cfg    Config
	client *http.Client
}

// NewEmbedClient creates an embeddings client.
func NewEmbedClient(cfg Config) *EmbedClient {
	cfg = cfg.withDefaults()
	return &EmbedClient{cfg: cfg, client: cfg.httpClient()}
}

type embedRequest struct {
	Input string `json:"input"`
	Model string `json:"model"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns the embedding vector for text. Empty or whitespace text is
// passed through untouched; whatever the provider returns for it is the
// answer. Transport, auth, and provider errors all surface as a wrapped
// error the caller must check before using the vector.
func (c *EmbedClient) Embed(ctx context.Context, text string) ([]float32, error) {
	payload, err := post(ctx, c.client, c.cfg, "/embeddings", embedRequest{
		Input: text,
		Model: c.cfg.EmbedModel,
	})
	if err != nil {
		return nil, err
	}

	var out embedResponse
	if err := decode(payload, &out); err != nil {
		return nil, fmt.Errorf("openai: decode embedding: %w", err)
	}
	if len(out.Data) == 0 || len(out.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("openai: no embedding returned")
	}
	return out.Data[0].Embedding, nil
}
