package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aigency/internal/repo"
)

func TestStartProject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	project, conv, err := StartProject(ctx, f.store, f.user.ID, "  Cafe  ", "")
	require.NoError(t, err)
	assert.Equal(t, "Cafe", project.Name)
	assert.Nil(t, project.Description)
	assert.Equal(t, repo.ConversationOnboarding, conv.Type)

	messages, err := f.store.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, repo.RoleAssistant, messages[0].Role)

	_, _, err = StartProject(ctx, f.store, f.user.ID, " ", "")
	assert.Error(t, err)
}

func TestEnsureCampaignConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := EnsureCampaignConversation(ctx, f.store, f.project.ID)
	assert.ErrorIs(t, err, ErrBriefRequired)

	_, err = SaveBrief(ctx, f.store, f.project.ID, "", mustBrief(t))
	require.NoError(t, err)

	first, created, err := EnsureCampaignConversation(ctx, f.store, f.project.ID)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, repo.ConversationCampaign, first.Type)

	second, created, err := EnsureCampaignConversation(ctx, f.store, f.project.ID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
}
