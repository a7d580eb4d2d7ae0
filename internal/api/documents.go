// Package api is the HTTP surface: document upload and management, the
// streamed chat endpoint and the MCP server. Thin glue over the core packages.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lectern-ai/lectern/internal/answer"
	"github.com/lectern-ai/lectern/internal/ingest"
	"github.com/lectern-ai/lectern/internal/retrieval"
	"github.com/lectern-ai/lectern/internal/storage"
)

const maxUploadBodySize = 512 << 20 // 512MB, video uploads are large
const maxRequestBodySize = 1 << 20  // 1MB

// defaultOwner scopes documents when the client does not name an owner.
// Lectern is single-user per instance; the column exists for multi-tenant
// deployments behind a gateway.
const defaultOwner = "local"

// Retriever abstracts the retrieval planner for the API layer.
type Retriever interface {
	Retrieve(ctx context.Context, question string, documentIDs []string, topK int) ([]retrieval.Result, error)
}

// Answerer abstracts the answer streamer for the API layer.
type Answerer interface {
	Stream(ctx context.Context, question string, results []retrieval.Result, history []answer.Turn) <-chan answer.Event
}

// DocumentSummarizer abstracts on-demand document summarization.
type DocumentSummarizer interface {
	Summarize(ctx context.Context, documentID string) (string, error)
}

// VectorDeleter abstracts vector index cleanup on document delete.
type VectorDeleter interface {
	DeleteByDocument(documentID string) error
}

// Deps holds everything the HTTP handlers need.
type Deps struct {
	Store      *storage.Store
	Index      VectorDeleter
	Planner    Retriever
	Streamer   Answerer
	Summarizer DocumentSummarizer
	Token      string
	UploadDir  string
}

// NewHandler builds the authenticated REST router.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		r.Post("/documents", handleUpload(deps))
		r.Get("/documents", handleListDocuments(deps))
		r.Get("/documents/{id}", handleGetDocument(deps))
		r.Delete("/documents/{id}", handleDeleteDocument(deps))
		r.Post("/documents/{id}/summarize", handleSummarizeDocument(deps))
		r.Post("/chat", handleChat(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// fileTypeFor maps an upload's extension to a document file type.
func fileTypeFor(filename string) (string, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return storage.FileTypePDF, nil
	case ".mp3", ".wav", ".m4a", ".ogg", ".flac":
		return storage.FileTypeAudio, nil
	case ".mp4", ".mov", ".mkv", ".webm":
		return storage.FileTypeVideo, nil
	default:
		return "", fmt.Errorf("unsupported file extension %q", filepath.Ext(filename))
	}
}

type documentResponse struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	FileType      string `json:"file_type"`
	Status        string `json:"status"`
	FailureReason string `json:"failure_reason,omitempty"`
	ChunkCount    int    `json:"chunk_count"`
	SizeBytes     int64  `json:"size_bytes"`
	Summary       string `json:"summary,omitempty"`
	CreatedAt     string `json:"created_at"`
}

func toDocumentResponse(doc storage.Document) documentResponse {
	return documentResponse{
		ID:            doc.ID,
		Name:          doc.Name,
		FileType:      doc.FileType,
		Status:        doc.Status,
		FailureReason: doc.FailureReason,
		ChunkCount:    doc.ChunkCount,
		SizeBytes:     doc.SizeBytes,
		Summary:       doc.Summary,
		CreatedAt:     doc.CreatedAt.Format(time.RFC3339),
	}
}

func handleUpload(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBodySize)
		defer r.Body.Close()

		file, header, err := r.FormFile("file")
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "file part is required: %v", err)
			return
		}
		defer file.Close()

		fileType, err := fileTypeFor(header.Filename)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		owner := r.FormValue("owner")
		if owner == "" {
			owner = defaultOwner
		}

		docID := uuid.New().String()
		path := filepath.Join(deps.UploadDir, docID+strings.ToLower(filepath.Ext(header.Filename)))
		dst, err := os.Create(path)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to store upload: %v", err)
			return
		}
		size, err := io.Copy(dst, file)
		if closeErr := dst.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			os.Remove(path)
			httpError(w, http.StatusInternalServerError, "api_error", "failed to store upload: %v", err)
			return
		}

		doc := storage.Document{
			ID:        docID,
			Owner:     owner,
			Name:      header.Filename,
			FileType:  fileType,
			FilePath:  path,
			SizeBytes: size,
		}
		if err := deps.Store.CreateDocument(doc); err != nil {
			os.Remove(path)
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save document: %v", err)
			return
		}

		job, err := ingest.NewJob(docID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create job: %v", err)
			return
		}
		if err := deps.Store.EnqueueJob(job); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to enqueue job: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{
			"id":     docID,
			"status": storage.StatusPending,
		})
	}
}

func handleListDocuments(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)
		owner := r.URL.Query().Get("owner")
		if owner == "" {
			owner = defaultOwner
		}

		docs, err := deps.Store.ListDocumentsByOwner(owner, limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list documents: %v", err)
			return
		}

		out := make([]documentResponse, len(docs))
		for i, doc := range docs {
			out[i] = toDocumentResponse(doc)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	}
}

func handleGetDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		doc, err := deps.Store.GetDocument(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "document not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get document: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(toDocumentResponse(doc))
	}
}

func handleDeleteDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		doc, err := deps.Store.GetDocument(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "document not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get document: %v", err)
			return
		}

		if err := deps.Index.DeleteByDocument(id); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete vectors: %v", err)
			return
		}
		if err := deps.Store.DeleteDocument(id); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete document: %v", err)
			return
		}
		if doc.FilePath != "" {
			// Best effort; the upload file is not part of the data model.
			os.Remove(doc.FilePath)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "deleted"})
	}
}

func handleSummarizeDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		summary, err := deps.Summarizer.Summarize(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "document not found")
			return
		}
		if errors.Is(err, answer.ErrNoSummaryContent) {
			httpError(w, http.StatusConflict, "invalid_request_error", "document has no content to summarize")
			return
		}
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "failed to summarize document: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"id":      id,
			"summary": summary,
		})
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
