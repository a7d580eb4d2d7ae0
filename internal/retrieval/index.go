// Package retrieval turns questions into ranked, deduplicated sets of chunks:
// query embedding, vector similarity search and retrieval planning.
package retrieval

import (
	"context"
	"errors"
)

// ErrModelMismatch is returned when the index already holds vectors from a
// different embedding model. Vectors from two models share no geometry, so
// mixing them in one index would silently corrupt every search.
var ErrModelMismatch = errors.New("index holds vectors from a different embedding model")

// VectorIndex stores chunk vectors and answers similarity queries.
// The default implementation is SQLite with brute-force cosine search; an
// ANN-capable backend can be swapped in behind this interface when the corpus
// outgrows exact scanning.
type VectorIndex interface {
	// Upsert inserts entries, replacing any prior vector with the same chunk ID.
	// All entries become visible to Search atomically.
	Upsert(ctx context.Context, entries []Entry) error

	// DeleteByDocument removes every entry belonging to the document.
	DeleteByDocument(documentID string) error

	// Search returns up to k entries most similar to the query vector, in
	// descending score order with ties broken by (document ID, ordinal)
	// ascending. A non-empty documentIDs restricts the search to those
	// documents. Scores are clamped to [0, 1].
	Search(ctx context.Context, vector []float32, k int, documentIDs []string) ([]Match, error)
}

// Entry is one chunk vector to be indexed.
type Entry struct {
	ChunkID    string
	DocumentID string
	Ordinal    int
	Vector     []float32
}

// Match is one search hit.
type Match struct {
	ChunkID    string
	DocumentID string
	Ordinal    int
	Score      float32
}
