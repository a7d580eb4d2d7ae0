// Package answer drives the generation model with retrieved context and
// streams the reply: incremental deltas first, then a terminal event carrying
// the source citations.
package answer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lectern-ai/lectern/internal/ollama"
	"github.com/lectern-ai/lectern/internal/retrieval"
	"github.com/lectern-ai/lectern/internal/storage"
)

// ErrNoGrounding is returned when retrieval produced nothing and ungrounded
// answers are disabled.
var ErrNoGrounding = errors.New("no grounding context available")

// Turn is one prior message of the conversation.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Source cites one retrieved chunk in the finished answer.
type Source struct {
	DocumentID   string   `json:"document_id"`
	DocumentName string   `json:"document_name"`
	Preview      string   `json:"preview"`
	Score        float32  `json:"score"`
	Page         int      `json:"page,omitempty"`
	Timestamps   []string `json:"timestamps,omitempty"`
	StartSeconds float64  `json:"start_seconds,omitempty"`
}

// Event is one element of the answer stream. Exactly one of Delta, Done or
// Err is meaningful: deltas carry text increments, the Done event terminates
// a successful stream with its sources, Err terminates a failed one. After a
// mid-stream Err the text already delivered may be incomplete but stands.
type Event struct {
	Delta    string
	Done     bool
	Grounded bool
	Sources  []Source
	Err      error
}

// generator is the slice of the inference engine the Streamer needs.
type generator interface {
	ChatStream(ctx context.Context, model string, messages []ollama.Message, onDelta func(string) error) error
}

// documentNamer resolves document IDs to their metadata for citations.
type documentNamer interface {
	GetDocument(id string) (storage.Document, error)
}

// Streamer turns a question plus retrieved chunks into a streamed answer.
// Streaming is read-only with respect to documents and the index.
type Streamer struct {
	engine          generator
	store           documentNamer
	model           string
	historyTurns    int
	allowUngrounded bool
}

// NewStreamer creates a Streamer. historyTurns bounds how many prior
// user/assistant exchanges are kept in the prompt.
func NewStreamer(engine generator, store documentNamer, model string, historyTurns int, allowUngrounded bool) *Streamer {
	return &Streamer{
		engine:          engine,
		store:           store,
		model:           model,
		historyTurns:    historyTurns,
		allowUngrounded: allowUngrounded,
	}
}

// Stream generates the answer and emits events on the returned channel, which
// is closed when the stream terminates. The caller must drain the channel or
// cancel ctx; cancellation aborts generation and no terminal event is sent.
func (s *Streamer) Stream(ctx context.Context, question string, results []retrieval.Result, history []Turn) <-chan Event {
	events := make(chan Event)
	go func() {
		defer close(events)

		if len(results) == 0 && !s.allowUngrounded {
			s.emit(ctx, events, Event{Err: ErrNoGrounding})
			return
		}

		names := s.resolveNames(results)
		messages := s.buildMessages(question, results, history, names)

		err := s.engine.ChatStream(ctx, s.model, messages, func(delta string) error {
			select {
			case events <- Event{Delta: delta}:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil {
			if ctx.Err() != nil {
				// Caller is gone; nobody is listening for a terminal event.
				return
			}
			s.emit(ctx, events, Event{Err: fmt.Errorf("generation: %w", err)})
			return
		}

		s.emit(ctx, events, Event{
			Done:     true,
			Grounded: len(results) > 0,
			Sources:  buildSources(results, names),
		})
	}()
	return events
}

func (s *Streamer) emit(ctx context.Context, events chan<- Event, e Event) {
	select {
	case events <- e:
	case <-ctx.Done():
	}
}

// resolveNames looks up each distinct document's display name once.
// A missing document falls back to its ID so the citation stays usable.
func (s *Streamer) resolveNames(results []retrieval.Result) map[string]string {
	names := make(map[string]string)
	for _, r := range results {
		id := r.Chunk.DocumentID
		if _, ok := names[id]; ok {
			continue
		}
		doc, err := s.store.GetDocument(id)
		if err != nil {
			names[id] = id
			continue
		}
		names[id] = doc.Name
	}
	return names
}

// buildMessages assembles the generation prompt: a system message with the
// labeled context, the bounded conversation history, then the question.
func (s *Streamer) buildMessages(question string, results []retrieval.Result, history []Turn, names map[string]string) []ollama.Message {
	var sb strings.Builder
	sb.WriteString("You are a study assistant answering questions about the user's uploaded library.\n")
	if len(results) > 0 {
		sb.WriteString("Base your answer on the sources below and name the source that supports each claim.\n\n")
		for i, r := range results {
			fmt.Fprintf(&sb, "[Source %d] %s\n%s\n\n", i+1, describeProvenance(r.Chunk, names), r.Chunk.Text)
		}
	} else {
		sb.WriteString("No library sources matched this question. Answer from the conversation alone and state clearly that the answer is not grounded in the library.\n")
	}

	messages := []ollama.Message{{Role: "system", Content: sb.String()}}
	// One turn is a user/assistant exchange, so two messages each.
	if keep := s.historyTurns * 2; len(history) > keep {
		history = history[len(history)-keep:]
	}
	for _, t := range history {
		messages = append(messages, ollama.Message{Role: t.Role, Content: t.Content})
	}
	return append(messages, ollama.Message{Role: "user", Content: question})
}

// describeProvenance renders a chunk's location for the prompt, e.g.
// `document "Slides", page 3` or `document "Lecture", 12:05-13:40`.
func describeProvenance(c storage.Chunk, names map[string]string) string {
	name := names[c.DocumentID]
	switch c.Provenance.Kind {
	case storage.ProvenanceTime:
		return fmt.Sprintf("document %q, %s-%s", name,
			FormatTimestamp(c.Provenance.Start), FormatTimestamp(c.Provenance.End))
	default:
		return fmt.Sprintf("document %q, page %d", name, c.Provenance.Page)
	}
}

const previewRunes = 200

// buildSources resolves each retrieved chunk into a citation. Time-coded
// chunks get a playable timestamp at the chunk's start.
func buildSources(results []retrieval.Result, names map[string]string) []Source {
	sources := make([]Source, len(results))
	for i, r := range results {
		src := Source{
			DocumentID:   r.Chunk.DocumentID,
			DocumentName: names[r.Chunk.DocumentID],
			Preview:      preview(r.Chunk.Text),
			Score:        r.Score,
		}
		switch r.Chunk.Provenance.Kind {
		case storage.ProvenanceTime:
			src.StartSeconds = r.Chunk.Provenance.Start
			src.Timestamps = []string{FormatTimestamp(r.Chunk.Provenance.Start)}
		default:
			src.Page = r.Chunk.Provenance.Page
		}
		sources[i] = src
	}
	return sources
}

func preview(text string) string {
	runes := []rune(text)
	if len(runes) <= previewRunes {
		return text
	}
	return string(runes[:previewRunes]) + "..."
}

// FormatTimestamp renders seconds as MM:SS, or H:MM:SS past the hour mark.
func FormatTimestamp(seconds float64) string {
	total := int(seconds)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
