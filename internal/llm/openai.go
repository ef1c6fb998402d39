package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"aigency/internal/metrics"
)

// Config holds OpenAI-compatible endpoint settings.
type Config struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// OpenAIProvider implements Provider for any OpenAI-compatible chat completions API.
type OpenAIProvider struct {
	client  *openai.Client
	config  Config
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewOpenAIProvider creates a new provider.
func NewOpenAIProvider(cfg Config, metrics *metrics.Metrics, logger *slog.Logger) *OpenAIProvider {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 4096
	}
	return &OpenAIProvider{
		client:  openai.NewClientWithConfig(clientConfig),
		config:  cfg,
		metrics: metrics,
		logger:  logger.With("component", "llm"),
	}
}

// Stream runs one streamed completion and assembles text and tool calls.
func (p *OpenAIProvider) Stream(ctx context.Context, req Request, onDelta func(delta string)) (*StepResult, error) {
	if p.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.Timeout)
		defer cancel()
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.config.MaxTokens
	}
	chatReq := openai.ChatCompletionRequest{
		Model:     p.config.Model,
		Messages:  convertMessages(req.System, req.Messages),
		MaxTokens: maxTokens,
		Stream:    true,
	}
	for _, t := range req.Tools {
		chatReq.Tools = append(chatReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	start := time.Now()
	result, err := p.stream(ctx, chatReq, onDelta)
	status := "success"
	if err != nil {
		status = "error"
	}
	if p.metrics != nil {
		p.metrics.LLMRequests.WithLabelValues(status).Inc()
		p.metrics.LLMLatency.WithLabelValues(status).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		p.logger.Warn("completion stream failed", "model", p.config.Model, "error", err)
	}
	return result, err
}

func (p *OpenAIProvider) stream(ctx context.Context, chatReq openai.ChatCompletionRequest, onDelta func(string)) (*StepResult, error) {
	stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("create stream: %w", err)
	}
	defer stream.Close()

	var (
		text  strings.Builder
		calls = newToolCallAccumulator()
		res   = &StepResult{}
	)
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// Partial text is still returned so callers can persist it.
			res.Text = text.String()
			return res, fmt.Errorf("stream recv: %w", err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.Delta.Content != "" {
			text.WriteString(choice.Delta.Content)
			if onDelta != nil {
				onDelta(choice.Delta.Content)
			}
		}
		for _, tc := range choice.Delta.ToolCalls {
			calls.add(tc)
		}
		if choice.FinishReason != "" {
			res.FinishReason = string(choice.FinishReason)
		}
	}

	res.Text = text.String()
	res.ToolCalls = calls.result()
	return res, nil
}

func convertMessages(system string, messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, m := range messages {
		msg := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		out = append(out, msg)
	}
	return out
}

// toolCallAccumulator merges streamed tool call fragments keyed by their index.
type toolCallAccumulator struct {
	byIndex map[int]*ToolCall
	order   []int
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{byIndex: map[int]*ToolCall{}}
}

func (a *toolCallAccumulator) add(tc openai.ToolCall) {
	idx := len(a.order)
	if tc.Index != nil {
		idx = *tc.Index
	} else if tc.ID == "" && len(a.order) > 0 {
		// Fragments without index or id continue the last call.
		idx = a.order[len(a.order)-1]
	}
	call, ok := a.byIndex[idx]
	if !ok {
		call = &ToolCall{}
		a.byIndex[idx] = call
		a.order = append(a.order, idx)
	}
	if tc.ID != "" {
		call.ID = tc.ID
	}
	if tc.Function.Name != "" {
		call.Name = tc.Function.Name
	}
	call.Arguments += tc.Function.Arguments
}

func (a *toolCallAccumulator) result() []ToolCall {
	if len(a.order) == 0 {
		return nil
	}
	idx := append([]int(nil), a.order...)
	sort.Ints(idx)
	out := make([]ToolCall, 0, len(idx))
	for _, i := range idx {
		out = append(out, *a.byIndex[i])
	}
	return out
}
