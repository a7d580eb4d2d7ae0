package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/lectern-ai/lectern/internal/storage"
)

type mockQueryEmbedder struct {
	embedFn func(ctx context.Context, text string) ([]float32, error)
}

func (m *mockQueryEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return m.embedFn(ctx, text)
}

type mockIndex struct {
	searchFn func(ctx context.Context, vector []float32, k int, documentIDs []string) ([]Match, error)
}

func (m *mockIndex) Upsert(ctx context.Context, entries []Entry) error { return nil }
func (m *mockIndex) DeleteByDocument(documentID string) error          { return nil }
func (m *mockIndex) Search(ctx context.Context, vector []float32, k int, documentIDs []string) ([]Match, error) {
	return m.searchFn(ctx, vector, k, documentIDs)
}

type mockChunkLoader struct {
	getFn func(ctx context.Context, ids []string) ([]storage.Chunk, error)
}

func (m *mockChunkLoader) GetChunksByIDs(ctx context.Context, ids []string) ([]storage.Chunk, error) {
	return m.getFn(ctx, ids)
}

func match(doc string, ordinal int, score float32) Match {
	return Match{
		ChunkID:    storage.ChunkID(doc, ordinal),
		DocumentID: doc,
		Ordinal:    ordinal,
		Score:      score,
	}
}

// chunksForIDs fabricates a chunk row per requested ID.
func chunksForIDs(ctx context.Context, ids []string) ([]storage.Chunk, error) {
	chunks := make([]storage.Chunk, len(ids))
	for i, id := range ids {
		chunks[i] = storage.Chunk{ID: id, Text: "text for " + id}
	}
	return chunks, nil
}

func constEmbedder() *mockQueryEmbedder {
	return &mockQueryEmbedder{
		embedFn: func(ctx context.Context, text string) ([]float32, error) {
			return []float32{1, 0}, nil
		},
	}
}

func TestRetrieve_OverfetchesAndTruncates(t *testing.T) {
	var requestedK int
	idx := &mockIndex{
		searchFn: func(ctx context.Context, vector []float32, k int, documentIDs []string) ([]Match, error) {
			requestedK = k
			return []Match{
				match("d1", 0, 0.9),
				match("d2", 0, 0.8),
				match("d3", 0, 0.7),
			}, nil
		},
	}

	p := NewPlanner(constEmbedder(), idx, &mockChunkLoader{getFn: chunksForIDs}, 2, 3, 0.3)
	results, err := p.Retrieve(context.Background(), "q", nil, 0)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}

	if requestedK != 6 {
		t.Errorf("index queried with k=%d, want topK*overfetch=6", requestedK)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2 after truncation", len(results))
	}
	if results[0].Score < results[1].Score {
		t.Error("results not in descending score order")
	}
}

func TestRetrieve_DropsBelowThreshold(t *testing.T) {
	idx := &mockIndex{
		searchFn: func(ctx context.Context, vector []float32, k int, documentIDs []string) ([]Match, error) {
			return []Match{
				match("d1", 0, 0.9),
				match("d2", 0, 0.1),
			}, nil
		},
	}

	p := NewPlanner(constEmbedder(), idx, &mockChunkLoader{getFn: chunksForIDs}, 5, 3, 0.3)
	results, err := p.Retrieve(context.Background(), "q", nil, 0)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1 above threshold", len(results))
	}
	if results[0].Chunk.ID != storage.ChunkID("d1", 0) {
		t.Errorf("kept %s, want d1:0", results[0].Chunk.ID)
	}
}

func TestRetrieve_CollapsesAdjacentChunks(t *testing.T) {
	idx := &mockIndex{
		searchFn: func(ctx context.Context, vector []float32, k int, documentIDs []string) ([]Match, error) {
			return []Match{
				match("d1", 4, 0.9),
				match("d1", 5, 0.8), // adjacent to d1:4, lower score
				match("d1", 9, 0.7), // not adjacent, kept
				match("d2", 5, 0.6), // different document, kept
			}, nil
		},
	}

	p := NewPlanner(constEmbedder(), idx, &mockChunkLoader{getFn: chunksForIDs}, 10, 3, 0.3)
	results, err := p.Retrieve(context.Background(), "q", nil, 0)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}

	want := []string{
		storage.ChunkID("d1", 4),
		storage.ChunkID("d1", 9),
		storage.ChunkID("d2", 5),
	}
	if len(results) != len(want) {
		t.Fatalf("got %d results, want %d", len(results), len(want))
	}
	for i, w := range want {
		if results[i].Chunk.ID != w {
			t.Errorf("results[%d] = %s, want %s", i, results[i].Chunk.ID, w)
		}
	}
}

func TestRetrieve_EmptyCorpus(t *testing.T) {
	idx := &mockIndex{
		searchFn: func(ctx context.Context, vector []float32, k int, documentIDs []string) ([]Match, error) {
			return nil, nil
		},
	}
	loader := &mockChunkLoader{
		getFn: func(ctx context.Context, ids []string) ([]storage.Chunk, error) {
			t.Error("chunk loader called with no matches")
			return nil, nil
		},
	}

	p := NewPlanner(constEmbedder(), idx, loader, 5, 3, 0.3)
	results, err := p.Retrieve(context.Background(), "q", nil, 0)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results, want 0", len(results))
	}
}

func TestRetrieve_PassesDocumentScope(t *testing.T) {
	var gotScope []string
	idx := &mockIndex{
		searchFn: func(ctx context.Context, vector []float32, k int, documentIDs []string) ([]Match, error) {
			gotScope = documentIDs
			return nil, nil
		},
	}

	p := NewPlanner(constEmbedder(), idx, &mockChunkLoader{getFn: chunksForIDs}, 5, 3, 0.3)
	if _, err := p.Retrieve(context.Background(), "q", []string{"d7"}, 0); err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(gotScope) != 1 || gotScope[0] != "d7" {
		t.Errorf("scope = %v, want [d7]", gotScope)
	}
}

func TestRetrieve_EmbedFailure(t *testing.T) {
	embedder := &mockQueryEmbedder{
		embedFn: func(ctx context.Context, text string) ([]float32, error) {
			return nil, errors.New("engine down")
		},
	}
	idx := &mockIndex{
		searchFn: func(ctx context.Context, vector []float32, k int, documentIDs []string) ([]Match, error) {
			t.Error("index searched after embed failure")
			return nil, nil
		},
	}

	p := NewPlanner(embedder, idx, &mockChunkLoader{getFn: chunksForIDs}, 5, 3, 0.3)
	if _, err := p.Retrieve(context.Background(), "q", nil, 0); err == nil {
		t.Fatal("expected error when question embedding fails")
	}
}

func TestRetrieve_SkipsChunklessVectors(t *testing.T) {
	idx := &mockIndex{
		searchFn: func(ctx context.Context, vector []float32, k int, documentIDs []string) ([]Match, error) {
			return []Match{match("d1", 0, 0.9), match("d2", 0, 0.8)}, nil
		},
	}
	loader := &mockChunkLoader{
		getFn: func(ctx context.Context, ids []string) ([]storage.Chunk, error) {
			// Only d1's chunk row still exists.
			return []storage.Chunk{{ID: storage.ChunkID("d1", 0), Text: "kept"}}, nil
		},
	}

	p := NewPlanner(constEmbedder(), idx, loader, 5, 3, 0.3)
	results, err := p.Retrieve(context.Background(), "q", nil, 0)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(results) != 1 || results[0].Chunk.ID != storage.ChunkID("d1", 0) {
		t.Errorf("results = %+v, want only d1:0", results)
	}
}
