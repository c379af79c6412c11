package llm

import (
	"context"
	"encoding/json"
	"fmt"
)

// Message roles understood by ChatWithTools.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// AgentClient drives multi-turn conversations where the model may call tools.
type AgentClient interface {
	ChatWithTools(ctx context.Context, req AgentRequest) (*AgentResponse, error)
	Model() string
}

type AgentRequest struct {
	Messages []Message
	// Tools may be empty to force a plain text reply.
	Tools       []Tool
	MaxTokens   int
	Temperature *float64
}

type Message struct {
	Role    string
	Content string
	// ToolCalls is set on assistant messages that requested tools.
	ToolCalls []ToolCall
	// ToolCallID links a tool message to the call it answers.
	ToolCallID string
}

// Tool describes a callable function. Parameters is a JSON schema object,
// usually from GenerateSchema.
type Tool struct {
	Name        string
	Description string
	Parameters  any
}

type ToolCall struct {
	ID        string
	Name      string
	Arguments string // raw JSON
}

type AgentResponse struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string // "stop", "tool_calls" or "length"
	PromptTokens int
	// CompletionTokens is what this call generated.
	CompletionTokens int
}

// NewAgentClient creates a tool-calling client for cfg.Provider.
func NewAgentClient(cfg Config) (AgentClient, error) {
	c, err := newProvider(cfg)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ParseToolArguments unmarshals tool arguments into T. Empty arguments
// decode as the zero value.
func ParseToolArguments[T any](arguments string) (T, error) {
	var result T
	if arguments == "" {
		return result, nil
	}
	if err := json.Unmarshal([]byte(arguments), &result); err != nil {
		return result, fmt.Errorf("parse tool arguments: %w", err)
	}
	return result, nil
}

func toolArguments(raw string) json.RawMessage {
	if raw == "" || !json.Valid([]byte(raw)) {
		return json.RawMessage("{}")
	}
	return json.RawMessage(raw)
}
