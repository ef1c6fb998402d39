package llm

import "context"

// Message roles understood by providers.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is a single turn sent to the model.
type Message struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall // assistant turns that requested tools
	ToolCallID string     // tool turns answering a call
	Name       string
}

// ToolCall is a function invocation requested by the model. Arguments is raw JSON.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ToolDefinition advertises a callable tool. Parameters is a JSON schema value.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  any
}

// Request is one model step.
type Request struct {
	System    string
	Messages  []Message
	Tools     []ToolDefinition
	MaxTokens int
}

// StepResult is the complete output of one streamed step.
type StepResult struct {
	Text         string
	ToolCalls    []ToolCall
	FinishReason string
}

// Provider streams chat completions with tool calling. onDelta receives text as it arrives.
type Provider interface {
	Stream(ctx context.Context, req Request, onDelta func(delta string)) (*StepResult, error)
}
