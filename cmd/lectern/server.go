package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/lectern-ai/lectern/internal/answer"
	"github.com/lectern-ai/lectern/internal/api"
	"github.com/lectern-ai/lectern/internal/chunker"
	"github.com/lectern-ai/lectern/internal/config"
	"github.com/lectern-ai/lectern/internal/extract"
	"github.com/lectern-ai/lectern/internal/ingest"
	"github.com/lectern-ai/lectern/internal/ollama"
	"github.com/lectern-ai/lectern/internal/retrieval"
	"github.com/lectern-ai/lectern/internal/storage"
	"github.com/lectern-ai/lectern/internal/transcribe"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the lectern server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show lectern system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "lectern version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Server.APIToken == "" {
		return fmt.Errorf("LECTERN_API_TOKEN must be set")
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Check inference engine readiness, pulling models if needed.
	engine := ollama.New(cfg.Engine.BaseURL)
	if err := ollama.EnsureReady(ctx, engine, cfg.Engine.ChatModel, cfg.Engine.EmbedModel, os.Stderr); err != nil {
		return err
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	uploadDir := filepath.Join(cfg.Storage.DataDir, "uploads")
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		return fmt.Errorf("creating upload directory: %w", err)
	}

	// Refuse to reuse an index built with a different embedding model.
	index := retrieval.NewSQLiteIndex(store.DB())
	if err := index.EnsureModelTag(cfg.Engine.EmbedModel); err != nil {
		if errors.Is(err, retrieval.ErrModelMismatch) {
			return fmt.Errorf("%w; delete %s or set LECTERN_EMBED_MODEL back to the indexed model",
				err, cfg.Storage.DataDir)
		}
		return fmt.Errorf("checking index model: %w", err)
	}

	embedder := retrieval.NewEmbedder(engine, cfg.Engine.EmbedModel, cfg.Embedding.BatchSize, cfg.Embedding.MaxAttempts)
	planner := retrieval.NewPlanner(embedder, index, store,
		cfg.Retrieval.TopK, cfg.Retrieval.OverfetchFactor, float64(cfg.Retrieval.MinScore))
	transcriber := transcribe.New(cfg.Transcriber.BaseURL, time.Duration(cfg.Transcriber.TimeoutSeconds)*time.Second)

	pipeline := ingest.NewPipeline(store, extract.PDFPages, transcriber, embedder, index, chunker.Config{
		MaxChunkChars: cfg.Chunking.MaxChunkChars,
		OverlapChars:  cfg.Chunking.OverlapChars,
	})
	worker := ingest.NewWorker(store, pipeline, 500*time.Millisecond)
	go worker.Run(ctx)

	streamer := answer.NewStreamer(engine, store, cfg.Engine.ChatModel, cfg.Answer.HistoryTurns, cfg.Answer.AllowUngrounded)
	summarizer := answer.NewSummarizer(engine, store, cfg.Engine.ChatModel)

	handler := api.NewHandler(api.Deps{
		Store:      store,
		Index:      index,
		Planner:    planner,
		Streamer:   streamer,
		Summarizer: summarizer,
		Token:      cfg.Server.APIToken,
		UploadDir:  uploadDir,
	})

	// MCP server on stdio so agent hosts can search the library directly.
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Store:   store,
		Planner: planner,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "lectern listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 2 * time.Second}

	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	if resp, err := client.Get(healthURL); err == nil {
		resp.Body.Close()
		printSuccess("lectern is running on port %d", cfg.Server.Port)
	} else {
		printError("lectern is not running")
	}

	engineResp, err := client.Get(cfg.Engine.BaseURL + "/api/version")
	if err != nil {
		printError("Ollama is not reachable at %s", cfg.Engine.BaseURL)
	} else {
		engineResp.Body.Close()
		printSuccess("Ollama is reachable at %s", cfg.Engine.BaseURL)
	}

	transcriberResp, err := client.Get(cfg.Transcriber.BaseURL)
	if err != nil {
		printWarning("transcriber is not reachable at %s (audio/video ingestion unavailable)", cfg.Transcriber.BaseURL)
	} else {
		transcriberResp.Body.Close()
		printSuccess("transcriber is reachable at %s", cfg.Transcriber.BaseURL)
	}

	printStatus("data dir", "%s", cfg.Storage.DataDir)
	printStatus("chat model", "%s", cfg.Engine.ChatModel)
	printStatus("embed model", "%s", cfg.Engine.EmbedModel)
	return nil
}
