package repo

import (
	"encoding/json"
	"time"
)

// User represents the users table row.
type User struct {
	ID               string
	Name             string
	Email            string
	EmailVerified    bool
	Image            *string
	Credits          int64
	StripeCustomerID *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Provider identifiers stored in accounts.provider_id.
const (
	ProviderCredential  = "credential"
	ProviderFacebook    = "facebook"
	ProviderFacebookAds = "facebook-ads"
)

// Account links a user to a credential or OAuth provider.
type Account struct {
	ID                   string
	UserID               string
	ProviderID           string
	AccountID            string
	AccessToken          *string
	RefreshToken         *string
	AccessTokenExpiresAt *time.Time
	Scope                *string
	PasswordHash         *string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Session is a signed-in browser session.
type Session struct {
	ID        string
	Token     string
	UserID    string
	ExpiresAt time.Time
	IPAddress *string
	UserAgent *string
	CreatedAt time.Time
}

// Project groups conversations, a brief and artifacts for one business.
type Project struct {
	ID          string
	UserID      string
	Name        string
	Description *string
	HasBrief    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ConversationType selects the agent behaviour for a conversation.
type ConversationType string

const (
	ConversationOnboarding ConversationType = "ONBOARDING"
	ConversationCampaign   ConversationType = "CAMPAIGN"
	ConversationGeneral    ConversationType = "GENERAL"
)

// ConversationStatus tracks whether the conversation goal was reached.
type ConversationStatus string

const (
	ConversationActive    ConversationStatus = "ACTIVE"
	ConversationCompleted ConversationStatus = "COMPLETED"
)

// Conversation represents a chat thread inside a project.
type Conversation struct {
	ID        string
	ProjectID string
	Type      ConversationType
	Status    ConversationStatus
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message roles persisted in messages.role.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single persisted chat turn.
type Message struct {
	ID             string
	ConversationID string
	Role           string
	Content        string
	CreatedAt      time.Time
}

// BriefGoal is the primary campaign goal captured during onboarding.
type BriefGoal string

const (
	GoalLeads       BriefGoal = "LEADS"
	GoalSales       BriefGoal = "SALES"
	GoalTraffic     BriefGoal = "TRAFFIC"
	GoalAppInstalls BriefGoal = "APP_INSTALLS"
)

// ProjectBrief holds the structured onboarding answers. MonthlyBudget is in cents.
type ProjectBrief struct {
	ID                  string
	ProjectID           string
	BusinessDescription string
	Product             string
	TargetAudience      string
	UniqueSellingPoint  string
	Goal                BriefGoal
	MonthlyBudget       int64
	Location            string
	WebsiteURL          *string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// ArtifactType tags the shape of Artifact.Content.
type ArtifactType string

const (
	ArtifactBrief       ArtifactType = "BRIEF"
	ArtifactCampaign    ArtifactType = "CAMPAIGN"
	ArtifactCompetition ArtifactType = "COMPETITION"
	ArtifactAdCopy      ArtifactType = "AD_COPY"
	ArtifactAudience    ArtifactType = "AUDIENCE"
	ArtifactReport      ArtifactType = "REPORT"
)

// Artifact is a persisted agent output.
type Artifact struct {
	ID             string
	ProjectID      string
	ConversationID *string
	Type           ArtifactType
	Title          string
	Content        json.RawMessage
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// FacebookConnection stores the user's Graph token and selected ad account.
type FacebookConnection struct {
	ID          string
	UserID      string
	AccessToken *string
	FBAccountID *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
