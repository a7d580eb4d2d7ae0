package answer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lectern-ai/lectern/internal/ollama"
	"github.com/lectern-ai/lectern/internal/storage"
)

// ErrNoSummaryContent is returned when a document has no ingested text to
// summarize, either because processing has not finished or produced nothing.
var ErrNoSummaryContent = errors.New("document has no content to summarize")

const (
	summaryWords      = 500
	summaryInputRunes = 10000
)

// chatCaller is the non-streaming slice of the inference engine.
type chatCaller interface {
	Chat(ctx context.Context, model string, messages []ollama.Message) (string, error)
}

// summaryStore is the document access the Summarizer needs.
type summaryStore interface {
	GetDocument(id string) (storage.Document, error)
	ListChunksByDocument(documentID string) ([]storage.Chunk, error)
	SetDocumentSummary(id, summary string) error
}

// Summarizer produces a one-shot summary of an ingested document and persists
// it, so repeated requests return the stored text without another generation.
type Summarizer struct {
	engine chatCaller
	store  summaryStore
	model  string
}

func NewSummarizer(engine chatCaller, store summaryStore, model string) *Summarizer {
	return &Summarizer{engine: engine, store: store, model: model}
}

// Summarize returns the document's summary, generating and storing it on the
// first call. The input is the document's chunk text in ordinal order,
// truncated to a bounded prefix before prompting.
func (s *Summarizer) Summarize(ctx context.Context, documentID string) (string, error) {
	doc, err := s.store.GetDocument(documentID)
	if err != nil {
		return "", err
	}
	if doc.Summary != "" {
		return doc.Summary, nil
	}

	chunks, err := s.store.ListChunksByDocument(documentID)
	if err != nil {
		return "", fmt.Errorf("loading chunks for %s: %w", documentID, err)
	}
	content := assembleContent(chunks)
	if content == "" {
		return "", ErrNoSummaryContent
	}

	prompt := fmt.Sprintf(
		"Summarize the following document in approximately %d words. "+
			"Focus on the main points and key information.\n\n"+
			"Document: %s\n\nContent:\n%s\n\nSummary:",
		summaryWords, doc.Name, content,
	)
	summary, err := s.engine.Chat(ctx, s.model, []ollama.Message{
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return "", fmt.Errorf("generating summary: %w", err)
	}
	summary = strings.TrimSpace(summary)

	if err := s.store.SetDocumentSummary(documentID, summary); err != nil {
		return "", fmt.Errorf("storing summary for %s: %w", documentID, err)
	}
	return summary, nil
}

func assembleContent(chunks []storage.Chunk) string {
	texts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if t := strings.TrimSpace(c.Text); t != "" {
			texts = append(texts, t)
		}
	}
	joined := strings.Join(texts, "\n\n")
	runes := []rune(joined)
	if len(runes) > summaryInputRunes {
		return string(runes[:summaryInputRunes]) + "..."
	}
	return joined
}
