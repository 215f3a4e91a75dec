package query

import (
	"context"
	"errors"
	"fmt"

	"github.com/sd8capricon/graph-rag/pkg/ai"
	"github.com/sd8capricon/graph-rag/pkg/logger"
)

// Agent answers chat conversations about a knowledge base, calling the
// DRIFT and similarity tools when it needs facts.
type Agent struct {
	client   ai.GraphAIClient
	searcher Searcher
	chunks   *ChunkSearcher
	topK     int
}

// NewAgentParams wires an Agent. Chunks is optional; without it only the
// DRIFT tool is offered.
type NewAgentParams struct {
	Client   ai.GraphAIClient
	Searcher Searcher
	Chunks   *ChunkSearcher
	TopK     int
}

func NewAgent(params NewAgentParams) *Agent {
	return &Agent{
		client:   params.Client,
		searcher: params.Searcher,
		chunks:   params.Chunks,
		topK:     params.TopK,
	}
}

// Chat returns the assistant reply to messages. The trace, if not nil,
// receives every tool call.
func (a *Agent) Chat(ctx context.Context, knowledgeBaseID string, messages []ai.ChatMessage, trace Tracer) (string, error) {
	if len(messages) == 0 {
		return "", errors.New("no messages")
	}
	if a.client == nil || a.searcher == nil {
		return "", errors.New("agent needs a language model and a searcher")
	}

	tools := []ai.Tool{DriftTool(a.searcher, knowledgeBaseID, trace)}
	if a.chunks != nil {
		tools = append(tools, SimilarityTool(a.chunks, knowledgeBaseID, a.topK, trace))
	}

	reply, err := a.client.GenerateChatWithTools(
		ctx,
		messages,
		tools,
		ai.WithSystemPrompts(fmt.Sprintf(ai.AgentPrompt, DriftToolName)),
	)
	if err != nil {
		logger.Error("[Drift] Agent failed", "knowledge_base_id", knowledgeBaseID, "err", err)
		return "", fmt.Errorf("failed to generate reply: %w", err)
	}
	return reply, nil
}
