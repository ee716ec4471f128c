// Package openai wraps the external embedding-generation service behind a
// bounded-concurrency, timeout-guarded client. Any OpenAI-compatible endpoint
// works via EMBEDDING_BASE_URL.
package openai

import (
	"context"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/sync/semaphore"

	"github.com/Nauflars/myshop-sub003/internal/domain"
)

type Embedder struct {
	client     *openai.Client
	model      string
	dimensions int
	timeout    time.Duration
	sem        *semaphore.Weighted
}

func NewEmbedder(apiKey, baseURL, model string, dimensions int, timeout time.Duration, concurrency int64) *Embedder {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Embedder{
		client:     openai.NewClientWithConfig(cfg),
		model:      model,
		dimensions: dimensions,
		timeout:    timeout,
		sem:        semaphore.NewWeighted(concurrency),
	}
}

// Embed generates a vector for one search phrase. Failures (timeouts, rate
// limits, transport errors) surface as transient so the broker's redelivery
// path owns the retry.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, domain.ErrTransient("embedding slot acquire: " + err.Error())
	}
	defer e.sem.Release(1)

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := e.client.CreateEmbeddings(callCtx, openai.EmbeddingRequest{
		Input:      []string{text},
		Model:      openai.EmbeddingModel(e.model),
		Dimensions: e.dimensions,
	})
	if err != nil {
		return nil, domain.ErrTransient("embedding service: " + err.Error())
	}
	if len(resp.Data) == 0 {
		return nil, domain.ErrTransient("embedding service returned no data")
	}
	return resp.Data[0].Embedding, nil
}

func (e *Embedder) Dimensions() int { return e.dimensions }
