package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/lectern-ai/lectern/internal/storage"
)

func openTestIndex(t *testing.T) *SQLiteIndex {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return NewSQLiteIndex(s.DB())
}

func entry(doc string, ordinal int, vec ...float32) Entry {
	return Entry{
		ChunkID:    storage.ChunkID(doc, ordinal),
		DocumentID: doc,
		Ordinal:    ordinal,
		Vector:     vec,
	}
}

func TestSearch_RanksByCosine(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	err := idx.Upsert(ctx, []Entry{
		entry("d1", 0, 1, 0, 0),
		entry("d1", 2, 0, 1, 0),
		entry("d2", 0, 0.9, 0.1, 0),
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	matches, err := idx.Search(ctx, []float32{1, 0, 0}, 2, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("got %d matches, want 2", len(matches))
	}
	if matches[0].ChunkID != storage.ChunkID("d1", 0) {
		t.Errorf("top match = %s, want d1:0", matches[0].ChunkID)
	}
	if matches[1].ChunkID != storage.ChunkID("d2", 0) {
		t.Errorf("second match = %s, want d2:0", matches[1].ChunkID)
	}
	if matches[0].Score < matches[1].Score {
		t.Error("matches not in descending score order")
	}
}

func TestSearch_ScoresClampedToUnitInterval(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	// Opposite direction: raw cosine is -1.
	if err := idx.Upsert(ctx, []Entry{entry("d1", 0, -1, 0)}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	matches, err := idx.Search(ctx, []float32{1, 0}, 1, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("got %d matches, want 1", len(matches))
	}
	if matches[0].Score != 0 {
		t.Errorf("Score = %v, want 0 (clamped)", matches[0].Score)
	}
}

func TestSearch_DocumentFilter(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	err := idx.Upsert(ctx, []Entry{
		entry("d1", 0, 1, 0),
		entry("d2", 0, 1, 0),
		entry("d3", 0, 1, 0),
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	matches, err := idx.Search(ctx, []float32{1, 0}, 10, []string{"d1", "d3"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("got %d matches, want 2", len(matches))
	}
	for _, m := range matches {
		if m.DocumentID == "d2" {
			t.Error("filter did not exclude d2")
		}
	}
}

func TestSearch_TieBreakIsStable(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	// Identical vectors: identical scores, order decided by (document, ordinal).
	err := idx.Upsert(ctx, []Entry{
		entry("d2", 0, 1, 0),
		entry("d1", 3, 1, 0),
		entry("d1", 1, 1, 0),
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	matches, err := idx.Search(ctx, []float32{1, 0}, 3, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	want := []string{
		storage.ChunkID("d1", 1),
		storage.ChunkID("d1", 3),
		storage.ChunkID("d2", 0),
	}
	for i, w := range want {
		if matches[i].ChunkID != w {
			t.Errorf("matches[%d] = %s, want %s", i, matches[i].ChunkID, w)
		}
	}
}

func TestUpsert_ReplacesByChunkID(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	if err := idx.Upsert(ctx, []Entry{entry("d1", 0, 1, 0)}); err != nil {
		t.Fatalf("first Upsert: %v", err)
	}
	if err := idx.Upsert(ctx, []Entry{entry("d1", 0, 0, 1)}); err != nil {
		t.Fatalf("second Upsert: %v", err)
	}

	matches, err := idx.Search(ctx, []float32{0, 1}, 10, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("got %d matches, want 1 (replaced, not duplicated)", len(matches))
	}
	if matches[0].Score != 1 {
		t.Errorf("Score = %v, want 1 for the replacement vector", matches[0].Score)
	}
}

func TestDeleteByDocument(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	err := idx.Upsert(ctx, []Entry{
		entry("d1", 0, 1, 0),
		entry("d1", 1, 1, 0),
		entry("d2", 0, 1, 0),
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	if err := idx.DeleteByDocument("d1"); err != nil {
		t.Fatalf("DeleteByDocument: %v", err)
	}

	matches, err := idx.Search(ctx, []float32{1, 0}, 10, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 1 || matches[0].DocumentID != "d2" {
		t.Errorf("matches = %+v, want only d2", matches)
	}
}

func TestSearch_EmptyIndex(t *testing.T) {
	idx := openTestIndex(t)

	matches, err := idx.Search(context.Background(), []float32{1, 0}, 5, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("got %d matches from empty index", len(matches))
	}
}

func TestSearch_NeverObservesPartialUpsert(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	const docs = 20
	const vectorsPerDoc = 8

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for d := 0; d < docs; d++ {
			doc := fmt.Sprintf("d%d", d)
			entries := make([]Entry, vectorsPerDoc)
			for i := range entries {
				entries[i] = entry(doc, i, 1, 0)
			}
			if err := idx.Upsert(ctx, entries); err != nil {
				t.Errorf("Upsert %s: %v", doc, err)
				return
			}
		}
	}()

	// Each transactional upsert is all-or-nothing: a concurrent search sees
	// every vector of a document or none of them.
	for i := 0; i < 50; i++ {
		matches, err := idx.Search(ctx, []float32{1, 0}, docs*vectorsPerDoc, nil)
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		perDoc := make(map[string]int)
		for _, m := range matches {
			perDoc[m.DocumentID]++
		}
		for doc, n := range perDoc {
			if n != vectorsPerDoc {
				t.Fatalf("search observed %d of %d vectors for %s", n, vectorsPerDoc, doc)
			}
		}
	}
	wg.Wait()

	matches, err := idx.Search(ctx, []float32{1, 0}, docs*vectorsPerDoc, nil)
	if err != nil {
		t.Fatalf("final Search: %v", err)
	}
	if len(matches) != docs*vectorsPerDoc {
		t.Errorf("got %d vectors after all upserts, want %d", len(matches), docs*vectorsPerDoc)
	}
}

func TestEnsureModelTag(t *testing.T) {
	idx := openTestIndex(t)

	if err := idx.EnsureModelTag("nomic-embed-text"); err != nil {
		t.Fatalf("first EnsureModelTag: %v", err)
	}
	if err := idx.EnsureModelTag("nomic-embed-text"); err != nil {
		t.Errorf("same tag rejected: %v", err)
	}
	if err := idx.EnsureModelTag("all-minilm"); !errors.Is(err, ErrModelMismatch) {
		t.Errorf("err = %v, want ErrModelMismatch", err)
	}
}
