package query

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/sd8capricon/graph-rag/pkg/ai"
	"github.com/sd8capricon/graph-rag/pkg/logger"
)

const (
	DriftToolName      = "detail_search_knowledge_base"
	SimilarityToolName = "similarity_search"

	// toolFailure is returned to the model instead of an internal error.
	toolFailure = "The knowledge base search failed. Tell the user that the information could not be retrieved right now."
)

type toolArgs struct {
	Query string `json:"query"`
}

var queryParameters = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"query": map[string]any{
			"type":        "string",
			"description": "The question to search the knowledge base for.",
		},
	},
	"required":             []string{"query"},
	"additionalProperties": false,
}

func parseToolArgs(arguments string) (string, error) {
	var args toolArgs
	if err := ai.UnmarshalFlexible(arguments, &args); err != nil {
		return "", err
	}
	if strings.TrimSpace(args.Query) == "" {
		return "", errors.New("query must not be empty")
	}
	return args.Query, nil
}

// traced wraps a tool handler so every call is recorded and failures are
// turned into a generic message for the model.
func traced(t Tracer, name string, fn func(ctx context.Context, query string) (string, error)) ai.ToolHandler {
	return func(ctx context.Context, arguments string) (string, error) {
		start := time.Now()
		out, err := func() (string, error) {
			q, err := parseToolArgs(arguments)
			if err != nil {
				return "", err
			}
			return fn(ctx, q)
		}()

		event := TraceEvent{
			Kind:          TraceEventToolCall,
			ToolName:      name,
			ToolArguments: arguments,
			DurationMs:    time.Since(start).Milliseconds(),
		}
		if err != nil {
			event.Error = err.Error()
		}
		if t != nil {
			t.Record(event)
		}

		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			logger.Error("[Drift] Tool failed", "tool", name, "err", err)
			return toolFailure, nil
		}
		return out, nil
	}
}

// DriftTool exposes a DRIFT search over one knowledge base as an agent tool
// returning the formatted fact list.
func DriftTool(s Searcher, knowledgeBaseID string, t Tracer) ai.Tool {
	return ai.Tool{
		Name:        DriftToolName,
		Description: "Retrieves specific facts related to the user's query. Use this tool when the user asks for information, evidence, or details that require external lookups.",
		Parameters:  queryParameters,
		Handler: traced(t, DriftToolName, func(ctx context.Context, query string) (string, error) {
			root, err := s.Search(ctx, knowledgeBaseID, query)
			if err != nil {
				return "", err
			}
			return FormatFacts(CollectAnswers(root)), nil
		}),
	}
}

// SimilarityTool exposes chunk similarity search as an agent tool returning
// the chunks as JSON.
func SimilarityTool(c *ChunkSearcher, knowledgeBaseID string, topK int, t Tracer) ai.Tool {
	return ai.Tool{
		Name:        SimilarityToolName,
		Description: "Retrieves text passages related to the user's query. Use this to give an initial answer to the user's query.",
		Parameters:  queryParameters,
		Handler: traced(t, SimilarityToolName, func(ctx context.Context, query string) (string, error) {
			docs, err := c.SimilaritySearch(ctx, knowledgeBaseID, query, topK)
			if err != nil {
				return "", err
			}
			if len(docs) == 0 {
				return "No relevant passages found.", nil
			}
			b, err := json.Marshal(docs)
			if err != nil {
				return "", err
			}
			return string(b), nil
		}),
	}
}
