package retrieval

import (
	"context"
	"fmt"

	"github.com/lectern-ai/lectern/internal/storage"
)

// queryEmbedder is the slice of the Embedder the Planner needs.
type queryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// chunkLoader resolves chunk IDs to stored chunks.
type chunkLoader interface {
	GetChunksByIDs(ctx context.Context, ids []string) ([]storage.Chunk, error)
}

// Result is one retrieved chunk with its relevance score.
type Result struct {
	Chunk storage.Chunk
	Score float32
}

// Planner selects the chunks that ground an answer: it embeds the question,
// over-fetches from the index, drops weak matches, collapses adjacent chunks
// from the same document and truncates to the requested count.
type Planner struct {
	embedder  queryEmbedder
	index     VectorIndex
	chunks    chunkLoader
	topK      int
	overfetch int
	minScore  float32
}

// NewPlanner creates a Planner. topK is the default result count when a
// caller passes 0; overfetch multiplies it for the index query so that
// post-filtering still leaves enough candidates.
func NewPlanner(embedder queryEmbedder, index VectorIndex, chunks chunkLoader, topK, overfetch int, minScore float64) *Planner {
	return &Planner{
		embedder:  embedder,
		index:     index,
		chunks:    chunks,
		topK:      topK,
		overfetch: overfetch,
		minScore:  float32(minScore),
	}
}

// Retrieve returns up to topK chunks relevant to the question, in descending
// score order. A non-empty documentIDs restricts retrieval to those documents.
// An empty corpus or scope yields an empty result, not an error; the caller
// decides whether to answer ungrounded.
func (p *Planner) Retrieve(ctx context.Context, question string, documentIDs []string, topK int) ([]Result, error) {
	if topK <= 0 {
		topK = p.topK
	}

	vec, err := p.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embedding question: %w", err)
	}

	matches, err := p.index.Search(ctx, vec, topK*p.overfetch, documentIDs)
	if err != nil {
		return nil, fmt.Errorf("searching index: %w", err)
	}

	matches = p.filterAndDedup(matches)
	if len(matches) > topK {
		matches = matches[:topK]
	}
	if len(matches) == 0 {
		return nil, nil
	}

	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.ChunkID
	}
	chunks, err := p.chunks.GetChunksByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("loading chunks: %w", err)
	}
	byID := make(map[string]storage.Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
	}

	results := make([]Result, 0, len(matches))
	for _, m := range matches {
		c, ok := byID[m.ChunkID]
		if !ok {
			// Vector without a chunk row: a delete raced the search.
			continue
		}
		results = append(results, Result{Chunk: c, Score: m.Score})
	}
	return results, nil
}

// filterAndDedup drops matches below the relevance threshold, then collapses
// ordinal-adjacent matches from the same document, keeping the higher-scoring
// one. Matches arrive in descending rank order, so a survivor always outranks
// the neighbors it suppresses.
func (p *Planner) filterAndDedup(matches []Match) []Match {
	type position struct {
		doc     string
		ordinal int
	}
	taken := make(map[position]bool, len(matches))

	var kept []Match
	for _, m := range matches {
		if m.Score < p.minScore {
			continue
		}
		if taken[position{m.DocumentID, m.Ordinal - 1}] || taken[position{m.DocumentID, m.Ordinal + 1}] {
			continue
		}
		taken[position{m.DocumentID, m.Ordinal}] = true
		kept = append(kept, m)
	}
	return kept
}
