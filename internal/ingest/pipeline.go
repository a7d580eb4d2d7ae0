// Package ingest turns uploaded documents into indexed chunks: normalize,
// chunk, persist, embed, upsert. One state machine per document.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lectern-ai/lectern/internal/chunker"
	"github.com/lectern-ai/lectern/internal/retrieval"
	"github.com/lectern-ai/lectern/internal/storage"
)

// ErrNoContent marks a document that produced zero chunks. It is terminal:
// retrying the same upload cannot produce content.
var ErrNoContent = errors.New("no extractable content")

// DocumentStore abstracts the document and chunk persistence the pipeline needs.
type DocumentStore interface {
	GetDocument(id string) (storage.Document, error)
	ClaimDocument(id string) error
	CompleteDocument(id string, chunkCount int) error
	FailDocument(id, reason string) error
	SaveChunks(chunks []storage.Chunk) error
	DeleteChunksByDocument(documentID string) error
}

// Transcriber produces a time-coded transcript for an audio or video file.
type Transcriber interface {
	Transcribe(ctx context.Context, path string) ([]chunker.Segment, error)
}

// ChunkEmbedder generates embedding vectors for chunk texts.
type ChunkEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorUpserter is the slice of the vector index the pipeline writes to.
type VectorUpserter interface {
	Upsert(ctx context.Context, entries []retrieval.Entry) error
	DeleteByDocument(documentID string) error
}

// Pipeline ingests one document end to end. The single-flight guarantee comes
// from the store's transactional claim: a document already processing cannot
// be claimed again.
type Pipeline struct {
	store        DocumentStore
	extractPages func(ctx context.Context, path string) ([]chunker.Page, error)
	transcriber  Transcriber
	embedder     ChunkEmbedder
	index        VectorUpserter
	chunkCfg     chunker.Config
	logger       *slog.Logger
}

// NewPipeline creates a Pipeline with the given collaborators.
func NewPipeline(
	store DocumentStore,
	extractPages func(ctx context.Context, path string) ([]chunker.Page, error),
	transcriber Transcriber,
	embedder ChunkEmbedder,
	index VectorUpserter,
	chunkCfg chunker.Config,
) *Pipeline {
	return &Pipeline{
		store:        store,
		extractPages: extractPages,
		transcriber:  transcriber,
		embedder:     embedder,
		index:        index,
		chunkCfg:     chunkCfg,
		logger:       slog.Default(),
	}
}

// Ingest processes one document through all stages. A stage failure marks the
// document failed with a stage-tagged reason and returns the error; documents
// with no extractable content are marked failed but return nil since a retry
// cannot help them. Claim conflicts surface as storage.ErrAlreadyProcessing.
func (p *Pipeline) Ingest(ctx context.Context, documentID string) error {
	doc, err := p.store.GetDocument(documentID)
	if err != nil {
		return fmt.Errorf("loading document %s: %w", documentID, err)
	}

	if err := p.store.ClaimDocument(documentID); err != nil {
		return fmt.Errorf("claiming document %s: %w", documentID, err)
	}
	start := time.Now()
	p.logger.Info("ingestion started", "document_id", documentID, "file_type", doc.FileType)

	drafts, err := p.normalize(ctx, doc)
	if err != nil {
		p.fail(documentID, err.Error())
		return err
	}
	if len(drafts) == 0 {
		p.logger.Warn("document has no extractable content", "document_id", documentID)
		p.fail(documentID, fmt.Sprintf("chunk: %v", ErrNoContent))
		return nil
	}

	chunks := make([]storage.Chunk, len(drafts))
	texts := make([]string, len(drafts))
	for i, d := range drafts {
		chunks[i] = storage.Chunk{
			ID:         storage.ChunkID(documentID, d.Ordinal),
			DocumentID: documentID,
			Ordinal:    d.Ordinal,
			Text:       d.Text,
			Provenance: d.Provenance,
		}
		texts[i] = d.Text
	}
	if err := p.store.SaveChunks(chunks); err != nil {
		err = fmt.Errorf("store: saving chunks: %w", err)
		p.fail(documentID, err.Error())
		return err
	}

	vectors, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		err = fmt.Errorf("embed: %w", err)
		p.rollback(documentID)
		p.fail(documentID, err.Error())
		return err
	}

	entries := make([]retrieval.Entry, len(chunks))
	for i, c := range chunks {
		entries[i] = retrieval.Entry{
			ChunkID:    c.ID,
			DocumentID: c.DocumentID,
			Ordinal:    c.Ordinal,
			Vector:     vectors[i],
		}
	}
	if err := p.index.Upsert(ctx, entries); err != nil {
		err = fmt.Errorf("index: %w", err)
		p.rollback(documentID)
		p.fail(documentID, err.Error())
		return err
	}

	if err := p.store.CompleteDocument(documentID, len(chunks)); err != nil {
		return fmt.Errorf("completing document %s: %w", documentID, err)
	}
	p.logger.Info("ingestion completed",
		"document_id", documentID,
		"chunks", len(chunks),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

// normalize turns the raw upload into chunk drafts according to its file type.
func (p *Pipeline) normalize(ctx context.Context, doc storage.Document) ([]chunker.Draft, error) {
	switch doc.FileType {
	case storage.FileTypePDF:
		pages, err := p.extractPages(ctx, doc.FilePath)
		if err != nil {
			return nil, fmt.Errorf("extract: %w", err)
		}
		return chunker.ChunkPages(pages, p.chunkCfg), nil
	case storage.FileTypeAudio, storage.FileTypeVideo:
		segments, err := p.transcriber.Transcribe(ctx, doc.FilePath)
		if err != nil {
			return nil, fmt.Errorf("transcribe: %w", err)
		}
		return chunker.ChunkSegments(segments, p.chunkCfg), nil
	default:
		return nil, fmt.Errorf("extract: unsupported file type %q", doc.FileType)
	}
}

// rollback removes everything this ingestion wrote so a failed document never
// leaves partial entries behind.
func (p *Pipeline) rollback(documentID string) {
	if err := p.index.DeleteByDocument(documentID); err != nil {
		p.logger.Error("rollback: deleting vectors failed", "document_id", documentID, "error", err)
	}
	if err := p.store.DeleteChunksByDocument(documentID); err != nil {
		p.logger.Error("rollback: deleting chunks failed", "document_id", documentID, "error", err)
	}
}

func (p *Pipeline) fail(documentID, reason string) {
	if err := p.store.FailDocument(documentID, reason); err != nil {
		p.logger.Error("marking document failed", "document_id", documentID, "error", err)
	}
}
