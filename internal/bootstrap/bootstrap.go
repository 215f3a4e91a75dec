// Package bootstrap builds the shared clients of the server and worker
// binaries from the environment.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/sd8capricon/graph-rag/internal/util"
	"github.com/sd8capricon/graph-rag/pkg/ai"
	oai "github.com/sd8capricon/graph-rag/pkg/ai/ollama"
	gai "github.com/sd8capricon/graph-rag/pkg/ai/openai"
	"github.com/sd8capricon/graph-rag/pkg/graph"
	"github.com/sd8capricon/graph-rag/pkg/logger"
	"github.com/sd8capricon/graph-rag/pkg/logger/console"
	"github.com/sd8capricon/graph-rag/pkg/query"
	"github.com/sd8capricon/graph-rag/pkg/store/neo4j"

	"github.com/jackc/pgx/v5/pgxpool"
)

// InitLogger installs the console logger. DEBUG and LOG_FORMAT control its
// level and output format.
func InitLogger(prefix string) {
	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  util.GetEnvBool("DEBUG", false),
		Format: util.GetEnvString("LOG_FORMAT", "text"),
		Prefix: prefix,
	})
	logger.Init(consoleLogger)
}

func embeddingDim() int {
	return int(util.GetEnvNumeric("AI_EMBED_DIM", 768))
}

// NewAIClient selects the adapter named by AI_ADAPTER, OpenAI by default.
func NewAIClient() (ai.GraphAIClient, error) {
	parallel := int64(util.GetEnvNumeric("AI_PARALLEL_REQ", 8))
	timeout := time.Duration(util.GetEnvNumeric("AI_TIMEOUT_MIN", 5)) * time.Minute

	switch adapter := util.GetEnvString("AI_ADAPTER", "openai"); adapter {
	case "ollama":
		return oai.NewGraphOllamaClient(oai.NewGraphOllamaClientParams{
			ChatModel:      util.GetEnv("AI_CHAT_MODEL"),
			ExtractModel:   util.GetEnv("AI_EXTRACT_MODEL"),
			EmbeddingModel: util.GetEnv("AI_EMBED_MODEL"),
			EmbeddingDim:   embeddingDim(),

			BaseURL: util.GetEnv("AI_CHAT_URL"),
			ApiKey:  util.GetEnv("AI_CHAT_KEY"),

			MaxConcurrentRequests: parallel,
			Timeout:               timeout,
		})
	case "openai":
		return gai.NewGraphOpenAIClient(gai.NewGraphOpenAIClientParams{
			ChatModel:      util.GetEnv("AI_CHAT_MODEL"),
			ExtractModel:   util.GetEnv("AI_EXTRACT_MODEL"),
			EmbeddingModel: util.GetEnv("AI_EMBED_MODEL"),
			EmbeddingDim:   embeddingDim(),

			ChatURL:      util.GetEnv("AI_CHAT_URL"),
			ChatKey:      util.GetEnv("AI_CHAT_KEY"),
			EmbeddingURL: util.GetEnv("AI_EMBED_URL"),
			EmbeddingKey: util.GetEnv("AI_EMBED_KEY"),

			MaxConcurrentRequests: parallel,
			Timeout:               timeout,
		}), nil
	default:
		return nil, fmt.Errorf("unknown AI_ADAPTER %q", adapter)
	}
}

func NewGraphStore(ctx context.Context) (*neo4j.Client, error) {
	return neo4j.NewClient(ctx, neo4j.NewClientParams{
		URI:          util.GetEnv("NEO4J_URI"),
		User:         util.GetEnvString("NEO4J_USER", "neo4j"),
		Password:     util.GetEnv("NEO4J_PASSWORD"),
		Database:     util.GetEnv("NEO4J_DATABASE"),
		MaxPoolSize:  int(util.GetEnvNumeric("NEO4J_MAX_POOL_SIZE", 50)),
		Timeout:      util.GetEnvSeconds("NEO4J_TIMEOUT_SECONDS", 10*time.Second),
		EmbeddingDim: embeddingDim(),
	})
}

func NewPostgresPool(ctx context.Context) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, util.GetEnv("DATABASE_URL"))
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to reach database: %w", err)
	}
	return pool, nil
}

// DriftConfig reads the DRIFT_* variables.
func DriftConfig() query.DriftConfig {
	cfg := query.DefaultDriftConfig()
	cfg.TopK = int(util.GetEnvNumeric("DRIFT_TOP_K", float64(cfg.TopK)))
	cfg.MaxDepth = int(util.GetEnvNumeric("DRIFT_MAX_DEPTH", float64(cfg.MaxDepth)))
	cfg.MaxFollowUps = int(util.GetEnvNumeric("DRIFT_MAX_FOLLOW_UPS", float64(cfg.MaxFollowUps)))
	cfg.Timeout = util.GetEnvSeconds("DRIFT_TIMEOUT_SEC", cfg.Timeout)
	cfg.Parallel = util.GetEnvBool("DRIFT_PARALLEL", false)
	return cfg
}

// IngestOptions are the CHUNK_*, LEXICAL_* and EXTRACT_* settings.
type IngestOptions struct {
	Split             graph.SplitOptions
	LexicalThreshold  float64
	LexicalNeighbours int
	Summaries         bool
}

func IngestConfig() (IngestOptions, error) {
	counter, err := graph.NewTiktokenCounter("cl100k_base")
	if err != nil {
		return IngestOptions{}, err
	}
	return IngestOptions{
		Split: graph.SplitOptions{
			MaxTokens:     int(util.GetEnvNumeric("CHUNK_MAX_TOKENS", 512)),
			OverlapTokens: int(util.GetEnvNumeric("CHUNK_OVERLAP_TOKENS", 32)),
			Count:         counter,
		},
		LexicalThreshold:  util.GetEnvNumeric("LEXICAL_THRESHOLD", 0.75),
		LexicalNeighbours: int(util.GetEnvNumeric("LEXICAL_NEIGHBOURS", 3)),
		Summaries:         util.GetEnvBool("EXTRACT_COMMUNITY_SUMMARIES", true),
	}, nil
}
