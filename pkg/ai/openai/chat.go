package openai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sd8capricon/graph-rag/pkg/ai"
	"github.com/sd8capricon/graph-rag/pkg/logger"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/shared"
)

const maxToolRounds = 20

var errNoChatClient = errors.New("openai chat client is not configured")

func (c *GraphOpenAIClient) resolveOptions(opts []ai.GenerateOption) ai.GenerateOptions {
	options := ai.ApplyOptions(ai.GenerateOptions{
		Model:       c.chatModel,
		Temperature: 0.2,
	}, opts...)
	if options.JSONMode && options.Model == c.chatModel {
		options.Model = c.extractModel
	}
	return options
}

func toOpenAIMessages(options ai.GenerateOptions, messages []ai.ChatMessage) []openai.ChatCompletionMessageParamUnion {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(options.SystemPrompts)+len(messages))
	for _, sp := range options.SystemPrompts {
		msgs = append(msgs, openai.SystemMessage(sp))
	}
	for _, message := range messages {
		switch message.Role {
		case ai.RoleSystem:
			msgs = append(msgs, openai.SystemMessage(message.Message))
		case ai.RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(message.Message))
		default:
			msgs = append(msgs, openai.UserMessage(message.Message))
		}
	}
	return msgs
}

func (c *GraphOpenAIClient) newBody(
	options ai.GenerateOptions,
	msgs []openai.ChatCompletionMessageParamUnion,
) openai.ChatCompletionNewParams {
	body := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(options.Model),
		Messages:    msgs,
		Temperature: openai.Float(options.Temperature),
	}

	switch {
	case options.Schema != nil:
		// entity properties are an open object, which strict mode rejects
		body.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   options.SchemaName,
					Schema: options.Schema,
					Strict: openai.Bool(false),
				},
			},
		}
	case options.JSONMode:
		body.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	if options.Thinking != "" {
		// reasoning models on the hosted API only accept temperature 1
		if c.chatURL == "" {
			body.Temperature = openai.Float(1.0)
		}
		body.ReasoningEffort = shared.ReasoningEffort(options.Thinking)
	}
	return body
}

func (c *GraphOpenAIClient) complete(
	ctx context.Context,
	body openai.ChatCompletionNewParams,
) (*openai.ChatCompletion, error) {
	if c.ChatClient == nil {
		return nil, errNoChatClient
	}

	rCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.reqLock.Acquire(rCtx, 1); err != nil {
		return nil, err
	}
	defer c.reqLock.Release(1)

	start := time.Now()
	response, err := c.ChatClient.Chat.Completions.New(rCtx, body)
	if err != nil {
		return nil, err
	}
	c.Record(ai.ModelMetrics{
		InputTokens:  int(response.Usage.PromptTokens),
		OutputTokens: int(response.Usage.CompletionTokens),
		TotalTokens:  int(response.Usage.TotalTokens),
		DurationMs:   time.Since(start).Milliseconds(),
	})

	if len(response.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response from model")
	}
	return response, nil
}

// GenerateChat sends a role-tagged conversation to the model and returns
// the assistant's reply as plain text.
//
// Example:
//
//	resp, err := client.GenerateChat(ctx, []ai.ChatMessage{
//		ai.UserMessage("Hello, who are you?"),
//	}, ai.WithSystemPrompts("You are a helpful assistant."))
func (c *GraphOpenAIClient) GenerateChat(
	ctx context.Context,
	messages []ai.ChatMessage,
	opts ...ai.GenerateOption,
) (string, error) {
	options := c.resolveOptions(opts)
	body := c.newBody(options, toOpenAIMessages(options, messages))

	response, err := c.complete(ctx, body)
	if err != nil {
		return "", err
	}
	return response.Choices[0].Message.Content, nil
}

// GenerateChatWithTools sends a conversation with tools the model can call.
// Requested tools are executed through their handlers and the results fed
// back until the model answers without tool calls, or until maxToolRounds
// is exceeded.
func (c *GraphOpenAIClient) GenerateChatWithTools(
	ctx context.Context,
	messages []ai.ChatMessage,
	tools []ai.Tool,
	opts ...ai.GenerateOption,
) (string, error) {
	options := c.resolveOptions(opts)
	msgs := toOpenAIMessages(options, messages)

	openaiTools := make([]openai.ChatCompletionToolUnionParam, len(tools))
	for i, tool := range tools {
		openaiTools[i] = openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        tool.Name,
			Description: openai.String(tool.Description),
			Parameters:  tool.Parameters,
		})
	}

	for range maxToolRounds {
		body := c.newBody(options, msgs)
		body.Tools = openaiTools

		response, err := c.complete(ctx, body)
		if err != nil {
			return "", err
		}

		message := response.Choices[0].Message
		if len(message.ToolCalls) == 0 {
			return message.Content, nil
		}

		msgs = append(msgs, message.ToParam())

		for _, tc := range message.ToolCalls {
			ftc := tc.AsFunction()

			var handler ai.ToolHandler
			for _, tool := range tools {
				if tool.Name == ftc.Function.Name {
					handler = tool.Handler
					break
				}
			}

			if handler == nil {
				return "", fmt.Errorf("no handler found for tool: %s", ftc.Function.Name)
			}

			logger.Debug("[AI] Tool call", "tool", ftc.Function.Name)
			result, err := handler(ctx, ftc.Function.Arguments)
			if err != nil {
				return "", fmt.Errorf("tool %s failed: %w", ftc.Function.Name, err)
			}

			msgs = append(msgs, openai.ToolMessage(result, ftc.ID))
		}
	}

	return "", fmt.Errorf("max tool rounds (%d) exceeded", maxToolRounds)
}
