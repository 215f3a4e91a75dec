package openai

import (
	"time"

	"github.com/sd8capricon/graph-rag/pkg/ai"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"golang.org/x/sync/semaphore"
)

// GraphOpenAIClient implements ai.GraphAIClient against any OpenAI
// compatible endpoint. Chat and embeddings may use different endpoints.
//
// A GraphOpenAIClient should be created using NewGraphOpenAIClient.
type GraphOpenAIClient struct {
	chatModel      string
	extractModel   string
	embeddingModel string
	embeddingDim   int

	chatURL string
	timeout time.Duration

	reqLock *semaphore.Weighted

	ai.MetricsRecorder

	ChatClient      *openai.Client
	EmbeddingClient *openai.Client
}

// NewGraphOpenAIClientParams defines the configuration for a new client.
//
// ExtractModel is used when a request asks for JSON mode and no explicit
// model; it falls back to ChatModel.
type NewGraphOpenAIClientParams struct {
	ChatModel      string
	ExtractModel   string
	EmbeddingModel string
	EmbeddingDim   int

	ChatURL      string
	ChatKey      string
	EmbeddingURL string
	EmbeddingKey string

	MaxConcurrentRequests int64
	Timeout               time.Duration
}

// NewGraphOpenAIClient creates a client with separate chat and embedding
// connections.
//
// Example:
//
//	client := openai.NewGraphOpenAIClient(openai.NewGraphOpenAIClientParams{
//		ChatModel:      "gpt-4o-mini",
//		EmbeddingModel: "text-embedding-3-small",
//		EmbeddingDim:   1536,
//		ChatKey:        os.Getenv("AI_CHAT_KEY"),
//		EmbeddingKey:   os.Getenv("AI_EMBED_KEY"),
//	})
func NewGraphOpenAIClient(params NewGraphOpenAIClientParams) *GraphOpenAIClient {
	if params.MaxConcurrentRequests <= 0 {
		params.MaxConcurrentRequests = 8
	}
	if params.Timeout <= 0 {
		params.Timeout = 5 * time.Minute
	}
	if params.ExtractModel == "" {
		params.ExtractModel = params.ChatModel
	}
	embedKey := params.EmbeddingKey
	if embedKey == "" {
		embedKey = params.ChatKey
	}

	return &GraphOpenAIClient{
		chatModel:      params.ChatModel,
		extractModel:   params.ExtractModel,
		embeddingModel: params.EmbeddingModel,
		embeddingDim:   params.EmbeddingDim,

		chatURL: params.ChatURL,
		timeout: params.Timeout,

		reqLock: semaphore.NewWeighted(params.MaxConcurrentRequests),

		ChatClient:      newOpenaiClient(params.ChatURL, params.ChatKey),
		EmbeddingClient: newOpenaiClient(params.EmbeddingURL, embedKey),
	}
}

func newOpenaiClient(
	baseURL string,
	apiKey string,
) *openai.Client {
	if apiKey == "" && baseURL == "" {
		return nil
	}
	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}

	if baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}

	client := openai.NewClient(options...)

	return &client
}
