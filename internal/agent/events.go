package agent

import "encoding/json"

// Event types streamed to the chat client.
const (
	EventStart      = "start"
	EventTextDelta  = "text-delta"
	EventToolCall   = "tool-call"
	EventToolResult = "tool-result"
	EventStepFinish = "step-finish"
	EventError      = "error"
	EventFinish     = "finish"
)

// Event is one chat stream event.
type Event struct {
	Type           string          `json:"type"`
	ConversationID string          `json:"conversationId,omitempty"`
	Mode           Mode            `json:"mode,omitempty"`
	Delta          string          `json:"delta,omitempty"`
	ToolCallID     string          `json:"toolCallId,omitempty"`
	ToolName       string          `json:"toolName,omitempty"`
	Input          json.RawMessage `json:"input,omitempty"`
	Output         any             `json:"output,omitempty"`
	Step           int             `json:"step,omitempty"`
	Steps          int             `json:"steps,omitempty"`
	ErrorText      string          `json:"errorText,omitempty"`
}

// rawArgs passes valid JSON arguments through and quotes anything else.
func rawArgs(args string) json.RawMessage {
	if json.Valid([]byte(args)) {
		return json.RawMessage(args)
	}
	quoted, _ := json.Marshal(args)
	return quoted
}
