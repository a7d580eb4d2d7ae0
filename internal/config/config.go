package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Server      ServerConfig
	Engine      EngineConfig
	Transcriber TranscriberConfig
	Storage     StorageConfig
	Chunking    ChunkingConfig
	Embedding   EmbeddingConfig
	Retrieval   RetrievalConfig
	Answer      AnswerConfig
	Log         LogConfig
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type EngineConfig struct {
	BaseURL    string
	ChatModel  string
	EmbedModel string
}

type TranscriberConfig struct {
	BaseURL        string
	TimeoutSeconds int
}

type StorageConfig struct {
	DataDir string
}

type ChunkingConfig struct {
	MaxChunkChars int
	OverlapChars  int
}

type EmbeddingConfig struct {
	BatchSize   int
	MaxAttempts int
}

type RetrievalConfig struct {
	TopK            int
	OverfetchFactor int
	MinScore        float32
}

type AnswerConfig struct {
	HistoryTurns    int
	AllowUngrounded bool
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4400,
		},
		Engine: EngineConfig{
			BaseURL:    "http://localhost:11434",
			ChatModel:  "mistral-nemo",
			EmbedModel: "nomic-embed-text",
		},
		Transcriber: TranscriberConfig{
			BaseURL:        "http://localhost:9000",
			TimeoutSeconds: 600,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Chunking: ChunkingConfig{
			MaxChunkChars: 1000,
			OverlapChars:  200,
		},
		Embedding: EmbeddingConfig{
			BatchSize:   32,
			MaxAttempts: 3,
		},
		Retrieval: RetrievalConfig{
			TopK:            5,
			OverfetchFactor: 3,
			MinScore:        0.3,
		},
		Answer: AnswerConfig{
			HistoryTurns:    5,
			AllowUngrounded: true,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from defaults, an optional .env file in the working
// directory, and LECTERN_* environment variables. Environment variables win.
func Load() (Config, error) {
	// A missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := defaults()
	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Chunking.MaxChunkChars <= 0 {
		return fmt.Errorf("invalid config: max chunk chars must be positive, got %d", c.Chunking.MaxChunkChars)
	}
	if c.Chunking.OverlapChars < 0 || c.Chunking.OverlapChars >= c.Chunking.MaxChunkChars {
		return fmt.Errorf("invalid config: overlap chars %d must be in [0, max chunk chars)", c.Chunking.OverlapChars)
	}
	if c.Embedding.BatchSize <= 0 {
		return fmt.Errorf("invalid config: embedding batch size must be positive, got %d", c.Embedding.BatchSize)
	}
	if c.Retrieval.TopK <= 0 || c.Retrieval.OverfetchFactor <= 0 {
		return fmt.Errorf("invalid config: topK and overfetch factor must be positive")
	}
	if c.Retrieval.MinScore < 0 || c.Retrieval.MinScore > 1 {
		return fmt.Errorf("invalid config: min score %v must be in [0,1]", c.Retrieval.MinScore)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Server.APIToken, "LECTERN_API_TOKEN")
	setInt(&cfg.Server.Port, "LECTERN_PORT")
	setStr(&cfg.Engine.BaseURL, "LECTERN_ENGINE_URL")
	setStr(&cfg.Engine.ChatModel, "LECTERN_CHAT_MODEL")
	setStr(&cfg.Engine.EmbedModel, "LECTERN_EMBED_MODEL")
	setStr(&cfg.Transcriber.BaseURL, "LECTERN_TRANSCRIBER_URL")
	setInt(&cfg.Transcriber.TimeoutSeconds, "LECTERN_TRANSCRIBER_TIMEOUT")
	setStr(&cfg.Storage.DataDir, "LECTERN_DATA_DIR")
	setInt(&cfg.Chunking.MaxChunkChars, "LECTERN_MAX_CHUNK_CHARS")
	setInt(&cfg.Chunking.OverlapChars, "LECTERN_OVERLAP_CHARS")
	setInt(&cfg.Embedding.BatchSize, "LECTERN_EMBED_BATCH_SIZE")
	setInt(&cfg.Embedding.MaxAttempts, "LECTERN_EMBED_MAX_ATTEMPTS")
	setInt(&cfg.Retrieval.TopK, "LECTERN_TOP_K")
	setInt(&cfg.Retrieval.OverfetchFactor, "LECTERN_OVERFETCH_FACTOR")
	setFloat(&cfg.Retrieval.MinScore, "LECTERN_MIN_SCORE")
	setInt(&cfg.Answer.HistoryTurns, "LECTERN_HISTORY_TURNS")
	setBool(&cfg.Answer.AllowUngrounded, "LECTERN_ALLOW_UNGROUNDED")
	setStr(&cfg.Log.Level, "LECTERN_LOG_LEVEL")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float32, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			*dst = float32(f)
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".lectern"
	}
	return filepath.Join(home, ".lectern")
}
