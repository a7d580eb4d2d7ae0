package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/lectern-ai/lectern/internal/answer"
)

// ChatRequest asks a question against the library, optionally scoped to
// specific documents and continuing a prior conversation.
type ChatRequest struct {
	Question    string        `json:"question"`
	DocumentIDs []string      `json:"document_ids,omitempty"`
	History     []answer.Turn `json:"history,omitempty"`
	TopK        int           `json:"top_k,omitempty"`
}

// Stream frames, one JSON object per SSE data line.
type deltaFrame struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type doneFrame struct {
	Type     string          `json:"type"`
	Grounded bool            `json:"grounded"`
	Sources  []answer.Source `json:"sources"`
}

type errorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// handleChat retrieves grounding chunks and streams the generated answer as
// server-sent events: delta frames while text arrives, then one done frame
// with the citations, or an error frame.
func handleChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Question == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "question is required")
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			httpError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
			return
		}

		ctx := r.Context()
		results, err := deps.Planner.Retrieve(ctx, req.Question, req.DocumentIDs, req.TopK)
		if err != nil {
			// Retrieval failure before any byte is streamed is a plain error.
			httpError(w, http.StatusBadGateway, "api_error", "retrieval failed: %v", err)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		for event := range deps.Streamer.Stream(ctx, req.Question, results, req.History) {
			switch {
			case event.Err != nil:
				writeSSE(w, flusher, errorFrame{Type: "error", Message: errorMessage(event.Err)})
				return
			case event.Done:
				sources := event.Sources
				if sources == nil {
					sources = []answer.Source{}
				}
				writeSSE(w, flusher, doneFrame{Type: "done", Grounded: event.Grounded, Sources: sources})
				return
			default:
				writeSSE(w, flusher, deltaFrame{Type: "delta", Text: event.Delta})
			}
		}
		// Channel closed without a terminal event: the client cancelled.
	}
}

// errorMessage keeps internal error chains out of client responses for the
// known failure modes.
func errorMessage(err error) string {
	if errors.Is(err, answer.ErrNoGrounding) {
		return "no relevant content found for this question"
	}
	return err.Error()
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, frame any) {
	data, err := json.Marshal(frame)
	if err != nil {
		slog.Error("marshalling stream frame", "error", err)
		return
	}
	if _, err := w.Write(append(append([]byte("data: "), data...), '\n', '\n')); err != nil {
		return
	}
	flusher.Flush()
}
