package ollama

import (
	"net/http"
	"net/url"
	"time"

	"github.com/sd8capricon/graph-rag/pkg/ai"

	"github.com/ollama/ollama/api"
	"golang.org/x/sync/semaphore"
)

// GraphOllamaClient implements ai.GraphAIClient using a locally hosted
// Ollama server for chat and embeddings.
type GraphOllamaClient struct {
	chatModel      string
	extractModel   string
	embeddingModel string
	embeddingDim   int

	timeout time.Duration
	reqLock *semaphore.Weighted

	ai.MetricsRecorder

	Client *api.Client
}

// NewGraphOllamaClientParams contains configuration options for creating a new GraphOllamaClient.
type NewGraphOllamaClientParams struct {
	ChatModel      string
	ExtractModel   string
	EmbeddingModel string
	EmbeddingDim   int

	BaseURL string
	ApiKey  string

	MaxConcurrentRequests int64
	Timeout               time.Duration
}

type headerTransport struct {
	headers map[string]string
	rt      http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	for k, v := range t.headers {
		if r.Header.Get(k) == "" {
			r.Header.Set(k, v)
		}
	}
	return t.rt.RoundTrip(r)
}

// NewGraphOllamaClient connects to the Ollama server at BaseURL, or the
// library default when empty.
func NewGraphOllamaClient(
	params NewGraphOllamaClientParams,
) (*GraphOllamaClient, error) {
	var u *url.URL
	if params.BaseURL != "" {
		parsed, err := url.Parse(params.BaseURL)
		if err != nil {
			return nil, err
		}
		u = parsed
	}
	if params.MaxConcurrentRequests <= 0 {
		params.MaxConcurrentRequests = 8
	}
	if params.Timeout <= 0 {
		params.Timeout = 5 * time.Minute
	}
	if params.ExtractModel == "" {
		params.ExtractModel = params.ChatModel
	}

	headers := map[string]string{}
	if params.ApiKey != "" {
		headers["Authorization"] = "Bearer " + params.ApiKey
	}
	httpClient := &http.Client{
		Transport: &headerTransport{headers: headers, rt: http.DefaultTransport},
	}

	return &GraphOllamaClient{
		chatModel:      params.ChatModel,
		extractModel:   params.ExtractModel,
		embeddingModel: params.EmbeddingModel,
		embeddingDim:   params.EmbeddingDim,

		timeout: params.Timeout,
		reqLock: semaphore.NewWeighted(params.MaxConcurrentRequests),

		Client: api.NewClient(u, httpClient),
	}, nil
}
