package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"aigency/internal/repo"
	"aigency/internal/validation"
)

// BriefInput is the onboarding brief as collected by the model or edited in a form.
// MonthlyBudget is whole dollars.
type BriefInput struct {
	BusinessDescription string `json:"businessDescription" description:"What the business does" validate:"required"`
	Product             string `json:"product" description:"Main product or service and its price" validate:"required"`
	TargetAudience      string `json:"targetAudience" description:"Description of the ideal customer" validate:"required"`
	UniqueSellingPoint  string `json:"uniqueSellingPoint" description:"What makes this business different from competitors" validate:"required"`
	Goal                string `json:"goal" description:"Primary campaign goal" enum:"LEADS,SALES,TRAFFIC,APP_INSTALLS" validate:"oneof=LEADS SALES TRAFFIC APP_INSTALLS"`
	MonthlyBudget       int64  `json:"monthlyBudget" description:"Monthly ad budget in whole USD dollars (e.g. 500 for $500/month)" validate:"gt=0"`
	Location            string `json:"location" description:"Where the customers are located" validate:"required"`
	WebsiteURL          string `json:"websiteUrl,omitempty" description:"Business website URL (optional)"`
	Analysis            string `json:"analysis" description:"A 2-3 paragraph analysis of the business, its market position, and Facebook campaign strategy rationale" validate:"required"`
}

// BriefContent is the JSON stored in BRIEF artifacts. MonthlyBudget is cents.
type BriefContent struct {
	BusinessDescription string `json:"businessDescription"`
	Product             string `json:"product"`
	TargetAudience      string `json:"targetAudience"`
	UniqueSellingPoint  string `json:"uniqueSellingPoint"`
	Goal                string `json:"goal"`
	MonthlyBudget       int64  `json:"monthlyBudget"`
	Location            string `json:"location"`
	WebsiteURL          string `json:"websiteUrl,omitempty"`
	Analysis            string `json:"analysis"`
}

const briefArtifactTitle = "Business Brief"

func (in BriefInput) brief(projectID string) repo.ProjectBrief {
	b := repo.ProjectBrief{
		ProjectID:           projectID,
		BusinessDescription: in.BusinessDescription,
		Product:             in.Product,
		TargetAudience:      in.TargetAudience,
		UniqueSellingPoint:  in.UniqueSellingPoint,
		Goal:                repo.BriefGoal(in.Goal),
		MonthlyBudget:       in.MonthlyBudget * 100,
		Location:            in.Location,
	}
	if url := strings.TrimSpace(in.WebsiteURL); url != "" {
		b.WebsiteURL = &url
	}
	return b
}

func (in BriefInput) content() BriefContent {
	return BriefContent{
		BusinessDescription: in.BusinessDescription,
		Product:             in.Product,
		TargetAudience:      in.TargetAudience,
		UniqueSellingPoint:  in.UniqueSellingPoint,
		Goal:                in.Goal,
		MonthlyBudget:       in.MonthlyBudget * 100,
		Location:            in.Location,
		WebsiteURL:          strings.TrimSpace(in.WebsiteURL),
		Analysis:            in.Analysis,
	}
}

// SaveBrief upserts the project brief, records a BRIEF artifact and completes the
// conversation, all in one transaction. It returns the new artifact.
func SaveBrief(ctx context.Context, store Store, projectID, conversationID string, in BriefInput) (*repo.Artifact, error) {
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	content, err := json.Marshal(in.content())
	if err != nil {
		return nil, fmt.Errorf("marshal brief: %w", err)
	}

	var artifact *repo.Artifact
	err = store.InTx(ctx, func(q repo.Queries) error {
		if _, err := q.UpsertBrief(ctx, in.brief(projectID)); err != nil {
			return err
		}
		created, err := q.CreateArtifact(ctx, repo.Artifact{
			ProjectID:      projectID,
			ConversationID: optional(conversationID),
			Type:           repo.ArtifactBrief,
			Title:          briefArtifactTitle,
			Content:        content,
		})
		if err != nil {
			return err
		}
		artifact = created
		if conversationID != "" {
			return q.SetConversationStatus(ctx, conversationID, repo.ConversationCompleted)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("save brief: %w", err)
	}
	return artifact, nil
}

// UpdateBrief applies a form edit to an existing brief and rewrites the latest BRIEF
// artifact with the same values. It returns repo.ErrNotFound when the project has no brief.
func UpdateBrief(ctx context.Context, store Store, projectID string, in BriefInput) (*repo.ProjectBrief, error) {
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	content, err := json.Marshal(in.content())
	if err != nil {
		return nil, fmt.Errorf("marshal brief: %w", err)
	}

	var updated *repo.ProjectBrief
	err = store.InTx(ctx, func(q repo.Queries) error {
		b, err := q.UpdateBrief(ctx, in.brief(projectID))
		if err != nil {
			return err
		}
		updated = b

		artifact, err := q.LatestArtifact(ctx, projectID, repo.ArtifactBrief)
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return q.UpdateArtifactContent(ctx, artifact.ID, content)
	})
	if err != nil {
		return nil, fmt.Errorf("update brief: %w", err)
	}
	return updated, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
