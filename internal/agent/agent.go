// Package agent runs chat turns against the language model: it picks the mode for a
// conversation, streams model steps, executes tools and persists the exchange.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"aigency/internal/llm"
	"aigency/internal/metrics"
	"aigency/internal/repo"
	"aigency/internal/search"
)

// ErrBriefRequired is returned for campaign conversations on projects without a brief.
var ErrBriefRequired = errors.New("project brief required")

// Mode selects prompt, tools and step budget for a turn.
type Mode string

const (
	ModeOnboarding Mode = "ONBOARDING"
	ModeCampaign   Mode = "CAMPAIGN"
	ModeMarketing  Mode = "MARKETING"
)

// MaxSteps is the model step budget of the mode.
func (m Mode) MaxSteps() int {
	switch m {
	case ModeOnboarding, ModeCampaign:
		return 3
	default:
		return 30
	}
}

// Store is the persistence the agent needs. repo.Repository satisfies it.
type Store interface {
	GetProject(ctx context.Context, userID, projectID string) (*repo.Project, error)
	GetConversation(ctx context.Context, userID, conversationID string) (*repo.Conversation, error)
	GetBrief(ctx context.Context, projectID string) (*repo.ProjectBrief, error)
	InsertMessage(ctx context.Context, msg repo.Message) (*repo.Message, error)
	CreateArtifact(ctx context.Context, artifact repo.Artifact) (*repo.Artifact, error)
	InTx(ctx context.Context, fn func(q repo.Queries) error) error
}

// Searcher runs web searches for the webSearch tool.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]search.Result, error)
}

// Agent drives chat turns.
type Agent struct {
	provider  llm.Provider
	store     Store
	searcher  Searcher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	maxTokens int
}

// New creates an Agent. searcher may be nil, in which case webSearch is not offered.
func New(provider llm.Provider, store Store, searcher Searcher, metrics *metrics.Metrics, logger *slog.Logger, maxTokens int) *Agent {
	return &Agent{
		provider:  provider,
		store:     store,
		searcher:  searcher,
		metrics:   metrics,
		logger:    logger.With("component", "agent"),
		maxTokens: maxTokens,
	}
}

// MessagePart is one part of a UI message. Only text parts are used.
type MessagePart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ChatMessage is a message as sent by the chat client, either plain content or parts.
type ChatMessage struct {
	Role    string        `json:"role" validate:"required"`
	Content string        `json:"content,omitempty"`
	Parts   []MessagePart `json:"parts,omitempty"`
}

// Text returns the message text, joining text parts when present.
func (m ChatMessage) Text() string {
	if len(m.Parts) == 0 {
		return m.Content
	}
	var sb strings.Builder
	for _, p := range m.Parts {
		if p.Type == "text" {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

// ChatRequest is the body of a chat turn.
type ChatRequest struct {
	Messages       []ChatMessage `json:"messages" validate:"required,min=1,dive"`
	ProjectID      string        `json:"projectId" validate:"required"`
	ConversationID string        `json:"conversationId,omitempty"`
}

// Turn is a resolved chat turn ready to run.
type Turn struct {
	Mode           Mode
	ProjectID      string
	ConversationID string
	brief          *repo.ProjectBrief
	messages       []ChatMessage
}

// Prepare resolves the project, conversation and mode for req. It returns
// repo.ErrNotFound for foreign or missing resources and ErrBriefRequired for
// campaign conversations without a brief.
func (a *Agent) Prepare(ctx context.Context, userID string, req ChatRequest) (*Turn, error) {
	project, err := a.store.GetProject(ctx, userID, req.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("load project: %w", err)
	}

	brief, err := a.store.GetBrief(ctx, project.ID)
	if errors.Is(err, repo.ErrNotFound) {
		brief = nil
	} else if err != nil {
		return nil, fmt.Errorf("load brief: %w", err)
	}

	turn := &Turn{
		Mode:      ModeMarketing,
		ProjectID: project.ID,
		brief:     brief,
		messages:  req.Messages,
	}

	if req.ConversationID != "" {
		conv, err := a.store.GetConversation(ctx, userID, req.ConversationID)
		if err != nil {
			return nil, fmt.Errorf("load conversation: %w", err)
		}
		if conv.ProjectID != project.ID {
			return nil, fmt.Errorf("load conversation: %w", repo.ErrNotFound)
		}
		turn.ConversationID = conv.ID
		turn.Mode = selectMode(conv.Type, brief != nil)
		if turn.Mode == ModeCampaign && brief == nil {
			return nil, ErrBriefRequired
		}
	}
	return turn, nil
}

func selectMode(convType repo.ConversationType, hasBrief bool) Mode {
	switch {
	case convType == repo.ConversationOnboarding && !hasBrief:
		return ModeOnboarding
	case convType == repo.ConversationCampaign:
		return ModeCampaign
	default:
		return ModeMarketing
	}
}

// Run executes the turn, sending events to emit as they happen. The returned error
// is the model error, if any; the assistant reply produced so far is persisted either way.
func (a *Agent) Run(ctx context.Context, turn *Turn, emit func(Event)) error {
	logger := a.logger.With("project_id", turn.ProjectID, "conversation_id", turn.ConversationID, "mode", turn.Mode)

	if err := a.persistUserMessage(ctx, turn); err != nil {
		logger.Error("persist user message failed", "error", err)
		emit(Event{Type: EventError, ErrorText: "failed to save message"})
		return err
	}

	emit(Event{Type: EventStart, ConversationID: turn.ConversationID, Mode: turn.Mode})

	tools := a.toolsFor(turn.Mode)
	definitions := make([]llm.ToolDefinition, 0, len(tools))
	for _, t := range tools {
		definitions = append(definitions, t.definition)
	}
	scope := toolScope{projectID: turn.ProjectID, conversationID: turn.ConversationID}

	history := toModelMessages(turn.messages)
	system := systemPrompt(turn.Mode, turn.brief)
	maxSteps := turn.Mode.MaxSteps()

	var texts []string
	var runErr error
	steps := 0
	started := time.Now()

	for steps < maxSteps {
		step, err := a.provider.Stream(ctx, llm.Request{
			System:    system,
			Messages:  history,
			Tools:     definitions,
			MaxTokens: a.maxTokens,
		}, func(delta string) {
			emit(Event{Type: EventTextDelta, Delta: delta})
		})
		if step != nil && strings.TrimSpace(step.Text) != "" {
			texts = append(texts, step.Text)
		}
		if err != nil {
			runErr = err
			break
		}
		steps++

		history = append(history, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   step.Text,
			ToolCalls: step.ToolCalls,
		})
		for _, call := range step.ToolCalls {
			emit(Event{Type: EventToolCall, ToolCallID: call.ID, ToolName: call.Name, Input: rawArgs(call.Arguments)})
			output, encoded := a.execute(ctx, tools, scope, call)
			emit(Event{Type: EventToolResult, ToolCallID: call.ID, ToolName: call.Name, Output: output})
			history = append(history, llm.Message{
				Role:       llm.RoleTool,
				Content:    encoded,
				ToolCallID: call.ID,
				Name:       call.Name,
			})
		}
		emit(Event{Type: EventStepFinish, Step: steps})

		if len(step.ToolCalls) == 0 {
			break
		}
	}

	if a.metrics != nil {
		a.metrics.AgentSteps.WithLabelValues(string(turn.Mode)).Observe(float64(steps))
	}

	if runErr != nil {
		logger.Error("model stream failed", "steps", steps, "error", runErr)
		emit(Event{Type: EventError, ErrorText: runErr.Error()})
	} else {
		emit(Event{Type: EventFinish, Steps: steps})
	}

	// The request context may already be cancelled when the client went away.
	if err := a.persistAssistantMessage(context.WithoutCancel(ctx), turn, texts); err != nil {
		logger.Error("persist assistant message failed", "error", err)
	}
	logger.Info("chat turn finished", "steps", steps, "duration", time.Since(started))
	return runErr
}

func (a *Agent) persistUserMessage(ctx context.Context, turn *Turn) error {
	if turn.ConversationID == "" || len(turn.messages) == 0 {
		return nil
	}
	last := turn.messages[len(turn.messages)-1]
	if last.Role != repo.RoleUser {
		return nil
	}
	text := last.Text()
	if text == "" {
		return nil
	}
	if _, err := a.store.InsertMessage(ctx, repo.Message{
		ConversationID: turn.ConversationID,
		Role:           repo.RoleUser,
		Content:        text,
	}); err != nil {
		return fmt.Errorf("persist user message: %w", err)
	}
	return nil
}

func (a *Agent) persistAssistantMessage(ctx context.Context, turn *Turn, texts []string) error {
	if turn.ConversationID == "" || len(texts) == 0 {
		return nil
	}
	if _, err := a.store.InsertMessage(ctx, repo.Message{
		ConversationID: turn.ConversationID,
		Role:           repo.RoleAssistant,
		Content:        strings.Join(texts, "\n\n"),
	}); err != nil {
		return fmt.Errorf("persist assistant message: %w", err)
	}
	return nil
}

func toModelMessages(messages []ChatMessage) []llm.Message {
	out := make([]llm.Message, 0, len(messages))
	for _, m := range messages {
		if m.Role != llm.RoleUser && m.Role != llm.RoleAssistant {
			continue
		}
		text := m.Text()
		if text == "" {
			continue
		}
		out = append(out, llm.Message{Role: m.Role, Content: text})
	}
	return out
}
