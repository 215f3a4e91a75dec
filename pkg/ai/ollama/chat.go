package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sd8capricon/graph-rag/pkg/ai"
	"github.com/sd8capricon/graph-rag/pkg/logger"

	"github.com/ollama/ollama/api"
	"github.com/pkoukk/tiktoken-go"
)

const (
	maxToolRounds     = 20
	defaultContextLen = 4096
)

func (c *GraphOllamaClient) resolveOptions(opts []ai.GenerateOption) ai.GenerateOptions {
	options := ai.ApplyOptions(ai.GenerateOptions{
		Model:       c.chatModel,
		Temperature: 0.2,
	}, opts...)
	if options.JSONMode && options.Model == c.chatModel {
		options.Model = c.extractModel
	}
	return options
}

func toOllamaMessages(options ai.GenerateOptions, messages []ai.ChatMessage) []api.Message {
	msgs := make([]api.Message, 0, len(options.SystemPrompts)+len(messages))
	for _, sys := range options.SystemPrompts {
		msgs = append(msgs, api.Message{Role: ai.RoleSystem, Content: sys})
	}
	for _, m := range messages {
		role := m.Role
		if role == "" {
			role = ai.RoleUser
		}
		msgs = append(msgs, api.Message{Role: role, Content: m.Message})
	}
	return msgs
}

// contextLength estimates the prompt size so long extraction prompts are
// not silently truncated by Ollama's default context window.
func contextLength(msgs []api.Message) (int, error) {
	enc, err := tiktoken.GetEncoding("o200k_base")
	if err != nil {
		return 0, err
	}
	var b strings.Builder
	for _, m := range msgs {
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	// headroom for the reply
	return len(enc.Encode(b.String(), nil, nil)) + 1024, nil
}

// responseFormat maps the requested output shape onto Ollama's format
// field: a JSON schema, the bare "json" mode or nothing.
func responseFormat(options ai.GenerateOptions) (json.RawMessage, error) {
	switch {
	case options.Schema != nil:
		format, err := json.Marshal(options.Schema)
		if err != nil {
			return nil, fmt.Errorf("failed to encode response schema: %w", err)
		}
		return format, nil
	case options.JSONMode:
		return json.RawMessage(`"json"`), nil
	}
	return nil, nil
}

func (c *GraphOllamaClient) newRequest(options ai.GenerateOptions, msgs []api.Message) (*api.ChatRequest, error) {
	stream := false
	req := &api.ChatRequest{
		Model:    options.Model,
		Messages: msgs,
		Stream:   &stream,
		Options:  map[string]any{"temperature": options.Temperature},
	}

	format, err := responseFormat(options)
	if err != nil {
		return nil, err
	}
	req.Format = format
	if options.Thinking != "" {
		req.Think = &api.ThinkValue{Value: options.Thinking}
	}

	tokens, err := contextLength(msgs)
	if err != nil {
		return nil, err
	}
	if tokens > defaultContextLen {
		req.Options["num_ctx"] = tokens
	}
	return req, nil
}

func (c *GraphOllamaClient) chat(ctx context.Context, req *api.ChatRequest) (api.ChatResponse, error) {
	rCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var final api.ChatResponse
	if err := c.reqLock.Acquire(rCtx, 1); err != nil {
		return final, err
	}
	defer c.reqLock.Release(1)

	if err := c.Client.Chat(rCtx, req, func(cr api.ChatResponse) error {
		final.Message.Content += cr.Message.Content
		if len(cr.Message.ToolCalls) > 0 {
			final.Message.ToolCalls = cr.Message.ToolCalls
		}
		if cr.Done {
			final.Done = true
			final.Metrics = cr.Metrics
		}
		return nil
	}); err != nil {
		return final, err
	}
	final.Message.Role = ai.RoleAssistant

	c.Record(ai.ModelMetrics{
		InputTokens:  final.Metrics.PromptEvalCount,
		OutputTokens: final.Metrics.EvalCount,
		TotalTokens:  final.Metrics.PromptEvalCount + final.Metrics.EvalCount,
		DurationMs:   final.Metrics.TotalDuration.Milliseconds(),
	})
	return final, nil
}

// GenerateChat sends a role-tagged conversation and returns the reply text.
func (c *GraphOllamaClient) GenerateChat(
	ctx context.Context,
	messages []ai.ChatMessage,
	opts ...ai.GenerateOption,
) (string, error) {
	options := c.resolveOptions(opts)

	req, err := c.newRequest(options, toOllamaMessages(options, messages))
	if err != nil {
		return "", err
	}

	final, err := c.chat(ctx, req)
	if err != nil {
		return "", err
	}
	return final.Message.Content, nil
}

func toOllamaTools(tools []ai.Tool) api.Tools {
	ollamaTools := make(api.Tools, len(tools))
	for i, tool := range tools {
		params := api.ToolFunctionParameters{
			Type:       "object",
			Required:   []string{},
			Properties: api.NewToolPropertiesMap(),
		}

		if props, ok := tool.Parameters["properties"].(map[string]any); ok {
			for name, prop := range props {
				propMap, ok := prop.(map[string]any)
				if !ok {
					continue
				}
				tp := api.ToolProperty{}
				if t, ok := propMap["type"].(string); ok {
					tp.Type = api.PropertyType([]string{t})
				}
				if desc, ok := propMap["description"].(string); ok {
					tp.Description = desc
				}
				params.Properties.Set(name, tp)
			}
		}
		switch req := tool.Parameters["required"].(type) {
		case []string:
			params.Required = req
		case []any:
			for _, v := range req {
				if s, ok := v.(string); ok {
					params.Required = append(params.Required, s)
				}
			}
		}

		ollamaTools[i] = api.Tool{
			Type: "function",
			Function: api.ToolFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  params,
			},
		}
	}
	return ollamaTools
}

// GenerateChatWithTools runs the tool loop: tool calls are executed and their
// results fed back until the model replies without calls, or until
// maxToolRounds is exceeded.
func (c *GraphOllamaClient) GenerateChatWithTools(
	ctx context.Context,
	messages []ai.ChatMessage,
	tools []ai.Tool,
	opts ...ai.GenerateOption,
) (string, error) {
	options := c.resolveOptions(opts)
	msgs := toOllamaMessages(options, messages)
	ollamaTools := toOllamaTools(tools)

	for range maxToolRounds {
		req, err := c.newRequest(options, msgs)
		if err != nil {
			return "", err
		}
		req.Tools = ollamaTools

		final, err := c.chat(ctx, req)
		if err != nil {
			return "", err
		}

		if len(final.Message.ToolCalls) == 0 {
			return final.Message.Content, nil
		}

		msgs = append(msgs, final.Message)

		for _, tc := range final.Message.ToolCalls {
			var handler ai.ToolHandler
			for _, tool := range tools {
				if tool.Name == tc.Function.Name {
					handler = tool.Handler
					break
				}
			}

			if handler == nil {
				return "", fmt.Errorf("no handler found for tool: %s", tc.Function.Name)
			}

			argsBytes, err := json.Marshal(tc.Function.Arguments)
			if err != nil {
				return "", fmt.Errorf("failed to marshal tool arguments: %w", err)
			}

			logger.Debug("[AI] Tool call", "tool", tc.Function.Name)
			result, err := handler(ctx, string(argsBytes))
			if err != nil {
				return "", fmt.Errorf("tool %s failed: %w", tc.Function.Name, err)
			}

			msgs = append(msgs, api.Message{
				Role:     "tool",
				Content:  result,
				ToolName: tc.Function.Name,
			})
		}
	}

	return "", fmt.Errorf("max tool rounds (%d) exceeded", maxToolRounds)
}
