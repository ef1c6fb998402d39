package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"aigency/internal/repo"
)

const (
	onboardingGreeting = "Hi! I'm your AI marketing agent. I'm going to ask you a few questions to understand your business so I can run effective Facebook ad campaigns for you.\n\nLet's start with the basics: **what does your business do, and what product or service are you selling?**"
	campaignGreeting   = "Hi! I'm your marketing expert. I already have your business brief, so let's build your first Facebook ad campaign.\n\nWhat specific offer, product, or service would you like to promote in this campaign?"
)

// StartProject creates a project together with its onboarding conversation and greeting.
func StartProject(ctx context.Context, store Store, userID, name, description string) (*repo.Project, *repo.Conversation, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil, errors.New("name is required")
	}
	var desc *string
	if d := strings.TrimSpace(description); d != "" {
		desc = &d
	}

	var project *repo.Project
	var conversation *repo.Conversation
	err := store.InTx(ctx, func(q repo.Queries) error {
		p, err := q.CreateProject(ctx, repo.Project{UserID: userID, Name: name, Description: desc})
		if err != nil {
			return err
		}
		c, err := startConversation(ctx, q, p.ID, repo.ConversationOnboarding, "Onboarding", onboardingGreeting)
		if err != nil {
			return err
		}
		project, conversation = p, c
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("start project: %w", err)
	}
	return project, conversation, nil
}

// EnsureCampaignConversation returns the project's campaign conversation, creating it
// with a greeting when missing. created reports whether a new one was made.
func EnsureCampaignConversation(ctx context.Context, store Store, projectID string) (conversation *repo.Conversation, created bool, err error) {
	if _, err := store.GetBrief(ctx, projectID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, false, ErrBriefRequired
		}
		return nil, false, fmt.Errorf("load brief: %w", err)
	}

	err = store.InTx(ctx, func(q repo.Queries) error {
		existing, err := q.FindConversationByType(ctx, projectID, repo.ConversationCampaign)
		if err == nil {
			conversation = existing
			return nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return err
		}
		conversation, err = startConversation(ctx, q, projectID, repo.ConversationCampaign, "Marketing Campaign", campaignGreeting)
		created = err == nil
		return err
	})
	if err != nil {
		return nil, false, fmt.Errorf("campaign conversation: %w", err)
	}
	return conversation, created, nil
}

func startConversation(ctx context.Context, q repo.Queries, projectID string, convType repo.ConversationType, title, greeting string) (*repo.Conversation, error) {
	conv, err := q.CreateConversation(ctx, repo.Conversation{
		ProjectID: projectID,
		Type:      convType,
		Status:    repo.ConversationActive,
		Title:     title,
	})
	if err != nil {
		return nil, err
	}
	if _, err := q.InsertMessage(ctx, repo.Message{
		ConversationID: conv.ID,
		Role:           repo.RoleAssistant,
		Content:        greeting,
	}); err != nil {
		return nil, err
	}
	return conv, nil
}
