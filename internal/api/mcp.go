package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/lectern-ai/lectern/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store   *storage.Store
	Planner Retriever
}

// NewMCPServer creates an MCP server exposing the library to agent hosts:
// semantic search over indexed chunks and document listing.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"lectern",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("lectern — question answering over a local library of PDFs, audio and video."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("search_library",
			mcp.WithDescription("Semantically search the indexed library and return relevant chunks with provenance."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
			mcp.WithArray("document_ids", mcp.Description("Optional document IDs to restrict the search to")),
		),
		mcpSearchLibrary(deps),
	)

	s.AddTool(
		mcp.NewTool("list_documents",
			mcp.WithDescription("List uploaded documents with their processing status."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of documents (default 20)")),
		),
		mcpListDocuments(deps),
	)

	return s
}

func mcpSearchLibrary(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", 5)
		if limit <= 0 {
			limit = 5
		}
		if limit > 50 {
			limit = 50
		}
		documentIDs := req.GetStringSlice("document_ids", nil)

		results, err := deps.Planner.Retrieve(ctx, query, documentIDs, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if len(results) == 0 {
			return mcpText("[]"), nil
		}

		type searchHit struct {
			ChunkID      string  `json:"chunk_id"`
			DocumentID   string  `json:"document_id"`
			Text         string  `json:"text"`
			Score        float32 `json:"score"`
			Page         int     `json:"page,omitempty"`
			StartSeconds float64 `json:"start_seconds,omitempty"`
			EndSeconds   float64 `json:"end_seconds,omitempty"`
		}

		hits := make([]searchHit, len(results))
		for i, r := range results {
			hit := searchHit{
				ChunkID:    r.Chunk.ID,
				DocumentID: r.Chunk.DocumentID,
				Text:       r.Chunk.Text,
				Score:      r.Score,
			}
			switch r.Chunk.Provenance.Kind {
			case storage.ProvenanceTime:
				hit.StartSeconds = r.Chunk.Provenance.Start
				hit.EndSeconds = r.Chunk.Provenance.End
			default:
				hit.Page = r.Chunk.Provenance.Page
			}
			hits[i] = hit
		}

		b, err := json.Marshal(hits)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListDocuments(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 20)
		if limit <= 0 {
			limit = 20
		}
		if limit > 100 {
			limit = 100
		}

		docs, err := deps.Store.ListDocumentsByOwner(defaultOwner, limit, 0)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list documents: %v", err)), nil
		}

		type docSummary struct {
			ID         string `json:"id"`
			Name       string `json:"name"`
			FileType   string `json:"file_type"`
			Status     string `json:"status"`
			ChunkCount int    `json:"chunk_count"`
			CreatedAt  string `json:"created_at"`
		}

		summaries := make([]docSummary, len(docs))
		for i, doc := range docs {
			summaries[i] = docSummary{
				ID:         doc.ID,
				Name:       doc.Name,
				FileType:   doc.FileType,
				Status:     doc.Status,
				ChunkCount: doc.ChunkCount,
				CreatedAt:  doc.CreatedAt.Format(time.RFC3339),
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal documents: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
