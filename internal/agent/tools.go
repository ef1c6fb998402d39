package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai/jsonschema"

	"aigency/internal/llm"
	"aigency/internal/repo"
	"aigency/internal/search"
	"aigency/internal/validation"
)

// Tool names advertised to the model.
const (
	ToolSaveBrief               = "saveBrief"
	ToolSaveCampaign            = "saveCampaign"
	ToolSaveCompetitionAnalysis = "saveCompetitionAnalysis"
	ToolWebSearch               = "webSearch"
)

// AdVariation is one ad inside a planned campaign.
type AdVariation struct {
	Headline     string `json:"headline" description:"Short headline, under 40 characters" validate:"required"`
	PrimaryText  string `json:"primaryText" description:"Main ad text shown above the creative" validate:"required"`
	CallToAction string `json:"callToAction" description:"Facebook call to action, e.g. LEARN_MORE, SHOP_NOW, SIGN_UP" validate:"required"`
}

// CampaignAudience describes who a campaign targets.
type CampaignAudience struct {
	Locations []string `json:"locations" description:"Countries or cities to target" validate:"required,min=1"`
	AgeMin    int      `json:"ageMin" description:"Minimum age, 18 to 65" validate:"min=18,max=65"`
	AgeMax    int      `json:"ageMax" description:"Maximum age, 18 to 65" validate:"min=18,max=65,gtefield=AgeMin"`
	Interests []string `json:"interests" description:"Interest keywords for detailed targeting"`
}

// CampaignInput is the saveCampaign tool input. DailyBudget is whole dollars.
type CampaignInput struct {
	Name         string           `json:"name" description:"Campaign name" validate:"required"`
	Objective    string           `json:"objective" description:"Facebook campaign objective" enum:"OUTCOME_LEADS,OUTCOME_SALES,OUTCOME_TRAFFIC,OUTCOME_APP_PROMOTION,OUTCOME_AWARENESS,OUTCOME_ENGAGEMENT" validate:"oneof=OUTCOME_LEADS OUTCOME_SALES OUTCOME_TRAFFIC OUTCOME_APP_PROMOTION OUTCOME_AWARENESS OUTCOME_ENGAGEMENT"`
	Offer        string           `json:"offer" description:"The offer or hook the ads promote" validate:"required"`
	Audience     CampaignAudience `json:"audience" description:"Targeting"`
	DailyBudget  int64            `json:"dailyBudget" description:"Daily budget in whole USD dollars" validate:"gt=0"`
	DurationDays int              `json:"durationDays" description:"How many days the campaign runs" validate:"min=1,max=90"`
	AdVariations []AdVariation    `json:"adVariations" description:"One to five ad variations" validate:"min=1,max=5,dive"`
	Rationale    string           `json:"rationale" description:"Why this plan fits the brief" validate:"required"`
}

// CampaignContent is the JSON stored in CAMPAIGN artifacts. DailyBudget is cents.
type CampaignContent struct {
	Name         string           `json:"name"`
	Objective    string           `json:"objective"`
	Offer        string           `json:"offer"`
	Audience     CampaignAudience `json:"audience"`
	DailyBudget  int64            `json:"dailyBudget"`
	DurationDays int              `json:"durationDays"`
	AdVariations []AdVariation    `json:"adVariations"`
	Rationale    string           `json:"rationale"`
}

// Competitor is one business in a competition analysis.
type Competitor struct {
	Name       string   `json:"name" description:"Competitor business name" validate:"required"`
	Website    string   `json:"website,omitempty" description:"Competitor website (optional)"`
	Strengths  []string `json:"strengths" description:"What the competitor does well"`
	Weaknesses []string `json:"weaknesses" description:"Where the competitor falls short"`
	AdStrategy string   `json:"adStrategy" description:"How the competitor advertises" validate:"required"`
}

// CompetitionInput is the saveCompetitionAnalysis tool input and the stored artifact content.
type CompetitionInput struct {
	Title         string       `json:"title,omitempty" description:"Artifact title (optional)"`
	Competitors   []Competitor `json:"competitors" description:"One to ten competitors" validate:"min=1,max=10,dive"`
	MarketSummary string       `json:"marketSummary" description:"Summary of the market" validate:"required"`
	Opportunities []string     `json:"opportunities" description:"Gaps the business can exploit"`
}

// SearchInput is the webSearch tool input.
type SearchInput struct {
	Query      string `json:"query" description:"Search query" validate:"required"`
	MaxResults int    `json:"maxResults,omitempty" description:"Number of results, 1 to 10 (default 5)" validate:"omitempty,min=1,max=10"`
}

type toolScope struct {
	projectID      string
	conversationID string
}

type tool struct {
	definition llm.ToolDefinition
	run        func(ctx context.Context, scope toolScope, args string) (map[string]any, error)
}

func mustSchema(v any) *jsonschema.Definition {
	def, err := jsonschema.GenerateSchemaForType(v)
	if err != nil {
		panic(fmt.Sprintf("generate schema for %T: %v", v, err))
	}
	return def
}

// decodeArgs unmarshals tool arguments into T and validates them.
func decodeArgs[T any](args string) (T, error) {
	var in T
	if strings.TrimSpace(args) == "" {
		args = "{}"
	}
	if err := json.Unmarshal([]byte(args), &in); err != nil {
		return in, fmt.Errorf("invalid arguments: %w", err)
	}
	if err := validation.Struct(in); err != nil {
		return in, err
	}
	return in, nil
}

func (a *Agent) toolsFor(mode Mode) []tool {
	switch mode {
	case ModeOnboarding:
		return []tool{a.saveBriefTool()}
	case ModeCampaign:
		return []tool{a.saveCampaignTool()}
	default:
		tools := []tool{a.saveCompetitionTool()}
		if a.searcher != nil {
			tools = append([]tool{a.webSearchTool()}, tools...)
		}
		return tools
	}
}

func (a *Agent) saveBriefTool() tool {
	return tool{
		definition: llm.ToolDefinition{
			Name:        ToolSaveBrief,
			Description: "Save the completed business brief to the database once you have gathered all required information from the user.",
			Parameters:  mustSchema(BriefInput{}),
		},
		run: func(ctx context.Context, scope toolScope, args string) (map[string]any, error) {
			in, err := decodeArgs[BriefInput](args)
			if err != nil {
				return nil, err
			}
			artifact, err := SaveBrief(ctx, a.store, scope.projectID, scope.conversationID, in)
			if err != nil {
				return nil, err
			}
			return map[string]any{"success": true, "artifactId": artifact.ID}, nil
		},
	}
}

func (a *Agent) saveCampaignTool() tool {
	return tool{
		definition: llm.ToolDefinition{
			Name:        ToolSaveCampaign,
			Description: "Save the agreed campaign plan as a campaign artifact.",
			Parameters:  mustSchema(CampaignInput{}),
		},
		run: func(ctx context.Context, scope toolScope, args string) (map[string]any, error) {
			in, err := decodeArgs[CampaignInput](args)
			if err != nil {
				return nil, err
			}
			content, err := json.Marshal(CampaignContent{
				Name:         in.Name,
				Objective:    in.Objective,
				Offer:        in.Offer,
				Audience:     in.Audience,
				DailyBudget:  in.DailyBudget * 100,
				DurationDays: in.DurationDays,
				AdVariations: in.AdVariations,
				Rationale:    in.Rationale,
			})
			if err != nil {
				return nil, fmt.Errorf("marshal campaign: %w", err)
			}

			var artifactID string
			err = a.store.InTx(ctx, func(q repo.Queries) error {
				artifact, err := q.CreateArtifact(ctx, repo.Artifact{
					ProjectID:      scope.projectID,
					ConversationID: optional(scope.conversationID),
					Type:           repo.ArtifactCampaign,
					Title:          in.Name,
					Content:        content,
				})
				if err != nil {
					return err
				}
				artifactID = artifact.ID
				if scope.conversationID != "" {
					return q.SetConversationStatus(ctx, scope.conversationID, repo.ConversationCompleted)
				}
				return nil
			})
			if err != nil {
				return nil, fmt.Errorf("save campaign: %w", err)
			}
			return map[string]any{"success": true, "artifactId": artifactID}, nil
		},
	}
}

func (a *Agent) saveCompetitionTool() tool {
	return tool{
		definition: llm.ToolDefinition{
			Name:        ToolSaveCompetitionAnalysis,
			Description: "Save a competitor analysis for this business as an artifact.",
			Parameters:  mustSchema(CompetitionInput{}),
		},
		run: func(ctx context.Context, scope toolScope, args string) (map[string]any, error) {
			in, err := decodeArgs[CompetitionInput](args)
			if err != nil {
				return nil, err
			}
			title := strings.TrimSpace(in.Title)
			if title == "" {
				title = "Competition Analysis"
			}
			content, err := json.Marshal(in)
			if err != nil {
				return nil, fmt.Errorf("marshal analysis: %w", err)
			}
			artifact, err := a.store.CreateArtifact(ctx, repo.Artifact{
				ProjectID:      scope.projectID,
				ConversationID: optional(scope.conversationID),
				Type:           repo.ArtifactCompetition,
				Title:          title,
				Content:        content,
			})
			if err != nil {
				return nil, fmt.Errorf("save analysis: %w", err)
			}
			return map[string]any{"success": true, "artifactId": artifact.ID}, nil
		},
	}
}

func (a *Agent) webSearchTool() tool {
	return tool{
		definition: llm.ToolDefinition{
			Name:        ToolWebSearch,
			Description: "Search the web for competitors, market data and advertising examples.",
			Parameters:  mustSchema(SearchInput{}),
		},
		run: func(ctx context.Context, _ toolScope, args string) (map[string]any, error) {
			in, err := decodeArgs[SearchInput](args)
			if err != nil {
				return nil, err
			}
			if in.MaxResults == 0 {
				in.MaxResults = 5
			}
			results, err := a.searcher.Search(ctx, in.Query, in.MaxResults)
			if err != nil {
				return nil, err
			}
			if results == nil {
				results = []search.Result{}
			}
			return map[string]any{"success": true, "results": results}, nil
		},
	}
}

// execute runs a tool call and always returns a JSON result. Failures become
// {"success": false, "error": ...} so the model can react to them.
func (a *Agent) execute(ctx context.Context, tools []tool, scope toolScope, call llm.ToolCall) (map[string]any, string) {
	status := "success"
	result, err := a.dispatch(ctx, tools, scope, call)
	if err != nil {
		status = "error"
		a.logger.Warn("tool call failed", "tool", call.Name, "project_id", scope.projectID, "error", err)
		result = map[string]any{"success": false, "error": err.Error()}
	}
	if a.metrics != nil {
		a.metrics.ToolCalls.WithLabelValues(call.Name, status).Inc()
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		encoded = []byte(`{"success":false,"error":"encode result"}`)
	}
	return result, string(encoded)
}

func (a *Agent) dispatch(ctx context.Context, tools []tool, scope toolScope, call llm.ToolCall) (map[string]any, error) {
	for _, t := range tools {
		if t.definition.Name == call.Name {
			return t.run(ctx, scope, call.Arguments)
		}
	}
	return nil, fmt.Errorf("unknown tool %q", call.Name)
}
