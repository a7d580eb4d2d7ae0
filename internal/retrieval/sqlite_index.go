package retrieval

import (
	"container/heap"
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"
)

// Compile-time check that SQLiteIndex implements VectorIndex.
var _ VectorIndex = (*SQLiteIndex)(nil)

// SQLiteIndex stores chunk vectors in the chunk_vectors table and searches
// them with a brute-force cosine scan. Exact ranking, which is what makes
// retrieval reproducible at the corpus sizes a single workstation holds.
type SQLiteIndex struct {
	db *sql.DB
}

// NewSQLiteIndex wraps an existing *sql.DB for vector operations.
// The chunk_vectors and index_meta tables must already exist (migrations).
func NewSQLiteIndex(db *sql.DB) *SQLiteIndex {
	return &SQLiteIndex{db: db}
}

const modelTagKey = "embed_model"

// EnsureModelTag records the embedding model the index belongs to, or returns
// ErrModelMismatch if the index was populated by a different model. Call it
// once at startup before any Upsert.
func (x *SQLiteIndex) EnsureModelTag(tag string) error {
	var current string
	err := x.db.QueryRow(`SELECT value FROM index_meta WHERE key = ?`, modelTagKey).Scan(&current)
	switch {
	case err == sql.ErrNoRows:
		if _, err := x.db.Exec(`INSERT INTO index_meta (key, value) VALUES (?, ?)`, modelTagKey, tag); err != nil {
			return fmt.Errorf("recording model tag: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("reading model tag: %w", err)
	case current != tag:
		return fmt.Errorf("%w: index built with %q, configured model is %q", ErrModelMismatch, current, tag)
	}
	return nil
}

// Upsert writes all entries in one transaction so a concurrent Search never
// observes a half-written document. INSERT OR REPLACE keys on chunk_id, which
// makes re-embedding on retry idempotent.
func (x *SQLiteIndex) Upsert(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning upsert transaction: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO chunk_vectors (chunk_id, document_id, ordinal, embedding, created_at)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing upsert statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, e := range entries {
		blob := encodeFloat32s(e.Vector)
		if _, err := stmt.Exec(e.ChunkID, e.DocumentID, e.Ordinal, blob, now); err != nil {
			tx.Rollback()
			return fmt.Errorf("upserting vector %s: %w", e.ChunkID, err)
		}
	}

	return tx.Commit()
}

// DeleteByDocument removes every vector belonging to the document. Used on
// document delete and on ingestion rollback; deleting an unindexed document
// is a no-op.
func (x *SQLiteIndex) DeleteByDocument(documentID string) error {
	if _, err := x.db.Exec(`DELETE FROM chunk_vectors WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("deleting vectors for document %s: %w", documentID, err)
	}
	return nil
}

// Search scans all candidate vectors, keeping the top k by cosine similarity
// in a min-heap. Ranking uses the raw cosine; the surfaced score is clamped
// to [0, 1].
func (x *SQLiteIndex) Search(ctx context.Context, vector []float32, k int, documentIDs []string) ([]Match, error) {
	if k <= 0 {
		return nil, nil
	}
	queryNorm := norm(vector)
	if queryNorm == 0 {
		return nil, nil
	}

	query := `SELECT chunk_id, document_id, ordinal, embedding FROM chunk_vectors`
	var args []any
	if len(documentIDs) > 0 {
		query += ` WHERE document_id IN (?` + strings.Repeat(",?", len(documentIDs)-1) + `)`
		for _, id := range documentIDs {
			args = append(args, id)
		}
	}

	rows, err := x.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	h := &matchHeap{}
	heap.Init(h)

	// Reusable buffer to avoid a per-row allocation during the scan.
	var buf []float32

	for rows.Next() {
		var m Match
		var blob []byte
		if err := rows.Scan(&m.ChunkID, &m.DocumentID, &m.Ordinal, &blob); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding vector for %s: %w", m.ChunkID, err)
		}
		m.Score = cosine(vector, buf, queryNorm)

		if h.Len() < k {
			heap.Push(h, m)
		} else if ranksBelow((*h)[0], m) {
			(*h)[0] = m
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	// Pop the min-heap into descending rank order, clamping on the way out.
	matches := make([]Match, h.Len())
	for i := len(matches) - 1; i >= 0; i-- {
		m := heap.Pop(h).(Match)
		m.Score = clamp01(m.Score)
		matches[i] = m
	}
	return matches, nil
}

// ranksBelow reports whether a ranks below b: lower score, or equal score and
// later (document ID, ordinal). The tie-break keeps result order reproducible.
func ranksBelow(a, b Match) bool {
	if a.Score != b.Score {
		return a.Score < b.Score
	}
	if a.DocumentID != b.DocumentID {
		return a.DocumentID > b.DocumentID
	}
	return a.Ordinal > b.Ordinal
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32sInto decodes little-endian bytes into the provided buffer,
// reusing it across rows. Errors on lengths that are not a multiple of 4.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// cosine computes dot(a,b) / (aNorm * |b|). aNorm is the precomputed L2 norm
// of the query vector. Mismatched lengths score zero.
func cosine(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	var bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * bNorm))
}

// matchHeap is a min-heap of Match: the root is the lowest-ranked candidate,
// so a full heap evicts it first.
type matchHeap []Match

func (h matchHeap) Len() int           { return len(h) }
func (h matchHeap) Less(i, j int) bool { return ranksBelow(h[i], h[j]) }
func (h matchHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *matchHeap) Push(x any)        { *h = append(*h, x.(Match)) }
func (h *matchHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
