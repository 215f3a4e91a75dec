package ai

import (
	"context"

	"github.com/invopop/jsonschema"
)

// Chat roles understood by every provider.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ToolHandler executes a tool call. arguments is the JSON-encoded argument
// object produced by the model.
type ToolHandler func(ctx context.Context, arguments string) (string, error)

// Tool is a function the model may call during GenerateChatWithTools.
type Tool struct {
	Name        string         // Unique identifier for the tool
	Description string         // Human-readable description of what the tool does
	Parameters  map[string]any // JSON Schema of the tool's input object
	Handler     ToolHandler
}

// ChatMessage is one role-tagged message of a conversation.
type ChatMessage struct {
	Message string `json:"message"`
	Role    string `json:"role"`
}

// SystemMessage, UserMessage and AssistantMessage build role-tagged messages.
func SystemMessage(text string) ChatMessage { return ChatMessage{Role: RoleSystem, Message: text} }

func UserMessage(text string) ChatMessage { return ChatMessage{Role: RoleUser, Message: text} }

func AssistantMessage(text string) ChatMessage {
	return ChatMessage{Role: RoleAssistant, Message: text}
}

// GenerateOptions holds per-request settings.
type GenerateOptions struct {
	Model         string   // Model identifier to use for generation
	SystemPrompts []string // System prompts prepended to the request
	Temperature   float64  // Sampling temperature (0.0-2.0)
	Thinking      string   // Reasoning effort, provider specific
	JSONMode      bool     // Ask the provider for a bare JSON object response

	// Schema, when set, is sent to providers that accept a response schema.
	SchemaName string
	Schema     *jsonschema.Schema
}

// ModelMetrics accumulates token usage and model time.
type ModelMetrics struct {
	InputTokens    int     `json:"input_tokens"`
	OutputTokens   int     `json:"output_tokens"`
	TotalTokens    int     `json:"total_tokens"`
	DurationMs     int64   `json:"duration_ms"`
	TokenPerSecond float32 `json:"tokens_per_second"`
}

// GenerateOption configures a single generation request.
type GenerateOption func(*GenerateOptions)

// WithModel overrides the provider's default chat model.
func WithModel(model string) GenerateOption {
	return func(o *GenerateOptions) {
		o.Model = model
	}
}

// WithSystemPrompts prepends system prompts ahead of the conversation.
func WithSystemPrompts(prompts ...string) GenerateOption {
	return func(o *GenerateOptions) {
		o.SystemPrompts = append(o.SystemPrompts, prompts...)
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(temp float64) GenerateOption {
	return func(o *GenerateOptions) {
		o.Temperature = temp
	}
}

// WithThinking enables reasoning on models that support it.
func WithThinking(thinking string) GenerateOption {
	return func(o *GenerateOptions) {
		o.Thinking = thinking
	}
}

// WithJSONMode asks the provider to constrain the response to a JSON object.
// Callers still parse and validate the text themselves.
func WithJSONMode() GenerateOption {
	return func(o *GenerateOptions) {
		o.JSONMode = true
	}
}

// WithJSONSchema constrains the response to schema and implies JSON mode.
func WithJSONSchema(name string, schema *jsonschema.Schema) GenerateOption {
	return func(o *GenerateOptions) {
		o.JSONMode = true
		o.SchemaName = name
		o.Schema = schema
	}
}

// ApplyOptions resolves opts on top of defaults.
func ApplyOptions(defaults GenerateOptions, opts ...GenerateOption) GenerateOptions {
	options := defaults
	options.SystemPrompts = append([]string(nil), defaults.SystemPrompts...)
	for _, o := range opts {
		o(&options)
	}
	return options
}

// GraphAIClient is the language model and embedding provider used by
// ingestion and retrieval. Implementations must be safe for concurrent use.
type GraphAIClient interface {
	// GenerateChat returns the assistant reply to a role-tagged conversation.
	GenerateChat(
		ctx context.Context,
		messages []ChatMessage,
		opts ...GenerateOption,
	) (string, error)

	// GenerateChatWithTools runs the tool loop until the model answers
	// without requesting tools.
	GenerateChatWithTools(
		ctx context.Context,
		messages []ChatMessage,
		tools []Tool,
		opts ...GenerateOption,
	) (string, error)

	// GenerateEmbeddings returns one vector per input, in input order.
	GenerateEmbeddings(ctx context.Context, inputs []string) ([][]float32, error)

	ResetMetrics()
	GetMetrics() ModelMetrics
}
