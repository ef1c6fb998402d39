package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aigency/internal/llm"
	"aigency/internal/logging"
	"aigency/internal/metrics"
	"aigency/internal/repo"
	"aigency/internal/search"
	"aigency/migrations"
)

type scriptedProvider struct {
	steps    []llm.StepResult
	err      error
	requests []llm.Request
}

// Stream replays the scripted steps; once they run out it keeps returning the last one.
func (p *scriptedProvider) Stream(_ context.Context, req llm.Request, onDelta func(string)) (*llm.StepResult, error) {
	p.requests = append(p.requests, req)
	if p.err != nil && len(p.requests) > len(p.steps) {
		return &llm.StepResult{}, p.err
	}
	idx := len(p.requests) - 1
	if idx >= len(p.steps) {
		idx = len(p.steps) - 1
	}
	step := p.steps[idx]
	if step.Text != "" {
		onDelta(step.Text)
	}
	return &step, nil
}

type fakeSearcher struct{ queries []string }

func (f *fakeSearcher) Search(_ context.Context, query string, maxResults int) ([]search.Result, error) {
	f.queries = append(f.queries, fmt.Sprintf("%s/%d", query, maxResults))
	return []search.Result{{Title: "Rival", URL: "https://rival.example.com", Snippet: "bread"}}, nil
}

type fixture struct {
	store   *repo.SQLiteRepository
	user    *repo.User
	project *repo.Project
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	r, err := repo.NewSQLite(ctx, ":memory:", logging.Discard())
	require.NoError(t, err)
	t.Cleanup(r.Close)
	files, err := migrations.ForDriver("sqlite")
	require.NoError(t, err)
	require.NoError(t, r.RunMigrations(ctx, files))

	user, err := r.CreateUser(ctx, repo.User{Name: "Ana", Email: "ana@example.com"})
	require.NoError(t, err)
	project, err := r.CreateProject(ctx, repo.Project{UserID: user.ID, Name: "Bakery"})
	require.NoError(t, err)
	return fixture{store: r, user: user, project: project}
}

func (f fixture) conversation(t *testing.T, convType repo.ConversationType) *repo.Conversation {
	t.Helper()
	conv, err := f.store.CreateConversation(context.Background(), repo.Conversation{
		ProjectID: f.project.ID,
		Type:      convType,
		Status:    repo.ConversationActive,
		Title:     string(convType),
	})
	require.NoError(t, err)
	return conv
}

func validBriefArgs() string {
	return `{"businessDescription":"Neighbourhood bakery","product":"Sourdough, $8","targetAudience":"Locals 25-45",
		"uniqueSellingPoint":"48h fermentation","goal":"SALES","monthlyBudget":500,"location":"Austin, USA",
		"analysis":"Strong local demand."}`
}

func collect(events *[]Event) func(Event) {
	return func(e Event) { *events = append(*events, e) }
}

func userMessage(text string) []ChatMessage {
	return []ChatMessage{{Role: "user", Parts: []MessagePart{{Type: "text", Text: text}}}}
}

func TestSelectMode(t *testing.T) {
	assert.Equal(t, ModeOnboarding, selectMode(repo.ConversationOnboarding, false))
	assert.Equal(t, ModeMarketing, selectMode(repo.ConversationOnboarding, true))
	assert.Equal(t, ModeCampaign, selectMode(repo.ConversationCampaign, true))
	assert.Equal(t, ModeMarketing, selectMode(repo.ConversationGeneral, false))

	assert.Equal(t, 3, ModeOnboarding.MaxSteps())
	assert.Equal(t, 3, ModeCampaign.MaxSteps())
	assert.Equal(t, 30, ModeMarketing.MaxSteps())
}

func TestPrepare(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := New(&scriptedProvider{}, f.store, nil, nil, logging.Discard(), 0)

	turn, err := a.Prepare(ctx, f.user.ID, ChatRequest{ProjectID: f.project.ID, Messages: userMessage("hi")})
	require.NoError(t, err)
	assert.Equal(t, ModeMarketing, turn.Mode)

	_, err = a.Prepare(ctx, "someone-else", ChatRequest{ProjectID: f.project.ID})
	assert.ErrorIs(t, err, repo.ErrNotFound)

	onboarding := f.conversation(t, repo.ConversationOnboarding)
	turn, err = a.Prepare(ctx, f.user.ID, ChatRequest{ProjectID: f.project.ID, ConversationID: onboarding.ID})
	require.NoError(t, err)
	assert.Equal(t, ModeOnboarding, turn.Mode)

	campaign := f.conversation(t, repo.ConversationCampaign)
	_, err = a.Prepare(ctx, f.user.ID, ChatRequest{ProjectID: f.project.ID, ConversationID: campaign.ID})
	assert.ErrorIs(t, err, ErrBriefRequired)

	_, err = a.Prepare(ctx, f.user.ID, ChatRequest{ProjectID: f.project.ID, ConversationID: "missing"})
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestOnboardingSavesBrief(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.conversation(t, repo.ConversationOnboarding)

	provider := &scriptedProvider{steps: []llm.StepResult{
		{Text: "Saving your brief.", ToolCalls: []llm.ToolCall{{ID: "call_1", Name: ToolSaveBrief, Arguments: validBriefArgs()}}},
		{Text: "Your brief is complete."},
	}}
	m := metrics.NewUnregistered("test")
	a := New(provider, f.store, nil, m, logging.Discard(), 1024)

	turn, err := a.Prepare(ctx, f.user.ID, ChatRequest{ProjectID: f.project.ID, ConversationID: conv.ID, Messages: userMessage("We sell bread")})
	require.NoError(t, err)

	var events []Event
	require.NoError(t, a.Run(ctx, turn, collect(&events)))

	require.Len(t, provider.requests, 2)
	assert.Len(t, provider.requests[0].Tools, 1)
	assert.Equal(t, ToolSaveBrief, provider.requests[0].Tools[0].Name)
	assert.Equal(t, 1024, provider.requests[0].MaxTokens)
	last := provider.requests[1].Messages[len(provider.requests[1].Messages)-1]
	assert.Equal(t, llm.RoleTool, last.Role)
	assert.Contains(t, last.Content, `"success":true`)

	brief, err := f.store.GetBrief(ctx, f.project.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 50000, brief.MonthlyBudget)
	assert.Equal(t, repo.GoalSales, brief.Goal)
	assert.Nil(t, brief.WebsiteURL)

	artifact, err := f.store.LatestArtifact(ctx, f.project.ID, repo.ArtifactBrief)
	require.NoError(t, err)
	assert.Equal(t, "Business Brief", artifact.Title)
	var content BriefContent
	require.NoError(t, json.Unmarshal(artifact.Content, &content))
	assert.EqualValues(t, 50000, content.MonthlyBudget)
	assert.Equal(t, "Strong local demand.", content.Analysis)

	stored, err := f.store.GetConversation(ctx, f.user.ID, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, repo.ConversationCompleted, stored.Status)

	messages, err := f.store.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, repo.RoleUser, messages[0].Role)
	assert.Equal(t, "We sell bread", messages[0].Content)
	assert.Equal(t, "Saving your brief.\n\nYour brief is complete.", messages[1].Content)

	types := make([]string, 0, len(events))
	for _, e := range events {
		types = append(types, e.Type)
	}
	assert.Equal(t, []string{
		EventStart, EventTextDelta, EventToolCall, EventToolResult, EventStepFinish,
		EventTextDelta, EventStepFinish, EventFinish,
	}, types)

	expected := `
# HELP test_agent_steps Model steps taken per chat request.
# TYPE test_agent_steps histogram
test_agent_steps_bucket{mode="ONBOARDING",le="1"} 0
test_agent_steps_bucket{mode="ONBOARDING",le="2"} 1
test_agent_steps_bucket{mode="ONBOARDING",le="3"} 1
test_agent_steps_bucket{mode="ONBOARDING",le="5"} 1
test_agent_steps_bucket{mode="ONBOARDING",le="10"} 1
test_agent_steps_bucket{mode="ONBOARDING",le="20"} 1
test_agent_steps_bucket{mode="ONBOARDING",le="30"} 1
test_agent_steps_bucket{mode="ONBOARDING",le="+Inf"} 1
test_agent_steps_sum{mode="ONBOARDING"} 2
test_agent_steps_count{mode="ONBOARDING"} 1
`
	assert.NoError(t, testutil.CollectAndCompare(m.AgentSteps, strings.NewReader(expected), "test_agent_steps"))
}

func TestStepBudget(t *testing.T) {
	loop := llm.StepResult{ToolCalls: []llm.ToolCall{{ID: "c", Name: "nope", Arguments: "{}"}}}

	t.Run("onboarding", func(t *testing.T) {
		f := newFixture(t)
		conv := f.conversation(t, repo.ConversationOnboarding)
		provider := &scriptedProvider{steps: []llm.StepResult{loop}}
		a := New(provider, f.store, nil, nil, logging.Discard(), 0)
		turn, err := a.Prepare(context.Background(), f.user.ID, ChatRequest{ProjectID: f.project.ID, ConversationID: conv.ID})
		require.NoError(t, err)
		require.NoError(t, a.Run(context.Background(), turn, func(Event) {}))
		assert.Len(t, provider.requests, 3)
	})

	t.Run("marketing", func(t *testing.T) {
		f := newFixture(t)
		provider := &scriptedProvider{steps: []llm.StepResult{loop}}
		a := New(provider, f.store, nil, nil, logging.Discard(), 0)
		turn, err := a.Prepare(context.Background(), f.user.ID, ChatRequest{ProjectID: f.project.ID})
		require.NoError(t, err)
		require.NoError(t, a.Run(context.Background(), turn, func(Event) {}))
		assert.Len(t, provider.requests, 30)
	})
}

func TestToolFailuresAreData(t *testing.T) {
	f := newFixture(t)
	conv := f.conversation(t, repo.ConversationOnboarding)
	provider := &scriptedProvider{steps: []llm.StepResult{
		{ToolCalls: []llm.ToolCall{{ID: "c1", Name: ToolSaveBrief, Arguments: `{"goal":"FAME","monthlyBudget":-1}`}}},
		{Text: "Let me ask a few more questions."},
	}}
	a := New(provider, f.store, nil, nil, logging.Discard(), 0)
	turn, err := a.Prepare(context.Background(), f.user.ID, ChatRequest{ProjectID: f.project.ID, ConversationID: conv.ID})
	require.NoError(t, err)

	var events []Event
	require.NoError(t, a.Run(context.Background(), turn, collect(&events)))

	var result map[string]any
	for _, e := range events {
		if e.Type == EventToolResult {
			result = e.Output.(map[string]any)
		}
	}
	require.NotNil(t, result)
	assert.Equal(t, false, result["success"])
	assert.Contains(t, result["error"], "goal")

	_, err = f.store.GetBrief(context.Background(), f.project.ID)
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestCampaignToolStoresCents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := SaveBrief(ctx, f.store, f.project.ID, "", mustBrief(t))
	require.NoError(t, err)
	conv := f.conversation(t, repo.ConversationCampaign)

	args := `{"name":"Spring Loaves","objective":"OUTCOME_SALES","offer":"10% off","audience":{"locations":["US"],"ageMin":25,"ageMax":45,"interests":["baking"]},
		"dailyBudget":20,"durationDays":14,"adVariations":[{"headline":"Fresh bread","primaryText":"Baked daily","callToAction":"SHOP_NOW"}],"rationale":"Fits the budget."}`
	provider := &scriptedProvider{steps: []llm.StepResult{
		{ToolCalls: []llm.ToolCall{{ID: "c1", Name: ToolSaveCampaign, Arguments: args}}},
		{Text: "Campaign saved."},
	}}
	a := New(provider, f.store, nil, nil, logging.Discard(), 0)
	turn, err := a.Prepare(ctx, f.user.ID, ChatRequest{ProjectID: f.project.ID, ConversationID: conv.ID})
	require.NoError(t, err)
	assert.Equal(t, ModeCampaign, turn.Mode)
	require.NoError(t, a.Run(ctx, turn, func(Event) {}))
	assert.Contains(t, provider.requests[0].System, "Sourdough, $8")

	artifact, err := f.store.LatestArtifact(ctx, f.project.ID, repo.ArtifactCampaign)
	require.NoError(t, err)
	var content CampaignContent
	require.NoError(t, json.Unmarshal(artifact.Content, &content))
	assert.EqualValues(t, 2000, content.DailyBudget)
	assert.Equal(t, "Spring Loaves", artifact.Title)

	stored, err := f.store.GetConversation(ctx, f.user.ID, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, repo.ConversationCompleted, stored.Status)
}

func TestMarketingSearchAndCompetition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	searcher := &fakeSearcher{}
	analysis := `{"competitors":[{"name":"Rival","strengths":["price"],"weaknesses":["taste"],"adStrategy":"discounts"}],"marketSummary":"Crowded","opportunities":["delivery"]}`
	provider := &scriptedProvider{steps: []llm.StepResult{
		{ToolCalls: []llm.ToolCall{{ID: "s1", Name: ToolWebSearch, Arguments: `{"query":"austin bakery"}`}}},
		{ToolCalls: []llm.ToolCall{{ID: "a1", Name: ToolSaveCompetitionAnalysis, Arguments: analysis}}},
		{Text: "Done."},
	}}
	a := New(provider, f.store, searcher, nil, logging.Discard(), 0)
	turn, err := a.Prepare(ctx, f.user.ID, ChatRequest{ProjectID: f.project.ID, Messages: userMessage("Who are my competitors?")})
	require.NoError(t, err)
	require.NoError(t, a.Run(ctx, turn, func(Event) {}))

	assert.Equal(t, []string{"austin bakery/5"}, searcher.queries)
	artifact, err := f.store.LatestArtifact(ctx, f.project.ID, repo.ArtifactCompetition)
	require.NoError(t, err)
	assert.Equal(t, "Competition Analysis", artifact.Title)
	assert.Nil(t, artifact.ConversationID)
}

func TestModelErrorKeepsPartialReply(t *testing.T) {
	f := newFixture(t)
	conv := f.conversation(t, repo.ConversationGeneral)
	provider := &scriptedProvider{
		steps: []llm.StepResult{{Text: "Searching", ToolCalls: []llm.ToolCall{{ID: "x", Name: "nope"}}}},
		err:   errors.New("upstream closed"),
	}
	a := New(provider, f.store, nil, nil, logging.Discard(), 0)
	turn, err := a.Prepare(context.Background(), f.user.ID, ChatRequest{ProjectID: f.project.ID, ConversationID: conv.ID})
	require.NoError(t, err)

	var events []Event
	err = a.Run(context.Background(), turn, collect(&events))
	require.Error(t, err)
	assert.Equal(t, EventError, events[len(events)-1].Type)

	messages, err := f.store.ListMessages(context.Background(), conv.ID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "Searching", messages[0].Content)
}

// failingStore makes CreateArtifact fail inside transactions.
type failingStore struct {
	*repo.SQLiteRepository
}

type failingQueries struct {
	repo.Queries
}

func (failingQueries) CreateArtifact(context.Context, repo.Artifact) (*repo.Artifact, error) {
	return nil, errors.New("disk full")
}

func (s failingStore) InTx(ctx context.Context, fn func(q repo.Queries) error) error {
	return s.SQLiteRepository.InTx(ctx, func(q repo.Queries) error {
		return fn(failingQueries{q})
	})
}

func TestSaveBriefIsAtomic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.conversation(t, repo.ConversationOnboarding)

	_, err := SaveBrief(ctx, failingStore{f.store}, f.project.ID, conv.ID, mustBrief(t))
	require.Error(t, err)

	_, err = f.store.GetBrief(ctx, f.project.ID)
	assert.ErrorIs(t, err, repo.ErrNotFound)
	artifacts, err := f.store.ListArtifacts(ctx, f.project.ID)
	require.NoError(t, err)
	assert.Empty(t, artifacts)
	stored, err := f.store.GetConversation(ctx, f.user.ID, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, repo.ConversationActive, stored.Status)
}

func TestUpdateBrief(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := UpdateBrief(ctx, f.store, f.project.ID, mustBrief(t))
	assert.ErrorIs(t, err, repo.ErrNotFound)

	_, err = SaveBrief(ctx, f.store, f.project.ID, "", mustBrief(t))
	require.NoError(t, err)

	edit := mustBrief(t)
	edit.MonthlyBudget = 750
	edit.Analysis = "Revised."
	updated, err := UpdateBrief(ctx, f.store, f.project.ID, edit)
	require.NoError(t, err)
	assert.EqualValues(t, 75000, updated.MonthlyBudget)

	artifact, err := f.store.LatestArtifact(ctx, f.project.ID, repo.ArtifactBrief)
	require.NoError(t, err)
	var content BriefContent
	require.NoError(t, json.Unmarshal(artifact.Content, &content))
	assert.EqualValues(t, 75000, content.MonthlyBudget)
	assert.Equal(t, "Revised.", content.Analysis)

	edit.Goal = "FAME"
	_, err = UpdateBrief(ctx, f.store, f.project.ID, edit)
	assert.Error(t, err)
}

func mustBrief(t *testing.T) BriefInput {
	t.Helper()
	in, err := decodeArgs[BriefInput](validBriefArgs())
	require.NoError(t, err)
	return in
}

// messageFailStore rejects every message insert.
type messageFailStore struct {
	*repo.SQLiteRepository
}

func (messageFailStore) InsertMessage(context.Context, repo.Message) (*repo.Message, error) {
	return nil, errors.New("database is locked")
}

func TestUserMessageFailureEmitsError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.conversation(t, repo.ConversationOnboarding)

	provider := &scriptedProvider{steps: []llm.StepResult{{Text: "never sent"}}}
	a := New(provider, messageFailStore{f.store}, nil, nil, logging.Discard(), 1024)

	turn, err := a.Prepare(ctx, f.user.ID, ChatRequest{ProjectID: f.project.ID, ConversationID: conv.ID, Messages: userMessage("hello")})
	require.NoError(t, err)

	var events []Event
	err = a.Run(ctx, turn, collect(&events))
	require.Error(t, err)

	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Type)
	assert.NotEmpty(t, events[0].ErrorText)
	assert.Empty(t, provider.requests)
}
