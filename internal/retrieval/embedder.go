package retrieval

import (
	"context"
	"fmt"
	"time"
)

// engineClient is the slice of the inference engine the Embedder needs.
type engineClient interface {
	EmbedBatch(ctx context.Context, model string, texts []string) ([][]float32, error)
}

// Embedder turns text into vectors via the inference engine, batching inputs
// and retrying transient failures with exponential backoff.
type Embedder struct {
	engine      engineClient
	model       string
	batchSize   int
	maxAttempts int
	retryDelay  time.Duration
}

// NewEmbedder creates an Embedder using the given engine and model name.
func NewEmbedder(engine engineClient, model string, batchSize, maxAttempts int) *Embedder {
	return &Embedder{
		engine:      engine,
		model:       model,
		batchSize:   batchSize,
		maxAttempts: maxAttempts,
		retryDelay:  500 * time.Millisecond,
	}
}

// Model returns the embedding model tag, used to guard the index against
// mixing vectors from different embedding spaces.
func (e *Embedder) Model() string {
	return e.model
}

// Embed returns the embedding vector for a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.embedWithRetry(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch returns one vector per input text, in input order. Inputs are
// sent to the engine in batches of at most batchSize; each batch is retried
// independently. Returns nil (not an error) for empty input.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := e.embedWithRetry(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embedding batch at %d: %w", start, err)
		}
		results = append(results, vecs...)
	}
	return results, nil
}

func (e *Embedder) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	for attempt := 0; attempt < e.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := e.retryDelay << (attempt - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		vecs, err := e.engine.EmbedBatch(ctx, e.model, texts)
		if err == nil {
			if len(vecs) != len(texts) {
				return nil, fmt.Errorf("engine returned %d vectors for %d texts", len(vecs), len(texts))
			}
			return vecs, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
	}
	return nil, fmt.Errorf("embedding failed after %d attempts: %w", e.maxAttempts, lastErr)
}
