package repo

import (
	"context"
	"errors"
	"io/fs"
	"time"
)

var (
	// ErrNotFound is returned when a row does not exist or is not visible to the caller.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a unique constraint rejects a write.
	ErrConflict = errors.New("conflict")
)

// Queries is the set of operations available both on the repository and inside a transaction.
type Queries interface {
	// Users
	CreateUser(ctx context.Context, user User) (*User, error)
	GetUserByID(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	SetStripeCustomerID(ctx context.Context, userID, customerID string) error
	AddCredits(ctx context.Context, userID string, credits int64) (int64, error)

	// Accounts
	UpsertAccount(ctx context.Context, account Account) (*Account, error)
	GetAccount(ctx context.Context, userID, providerID string) (*Account, error)
	GetAccountByProviderID(ctx context.Context, providerID, accountID string) (*Account, error)

	// Sessions
	CreateSession(ctx context.Context, session Session) (*Session, error)
	GetSessionByToken(ctx context.Context, token string) (*Session, error)
	DeleteSession(ctx context.Context, token string) error
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)

	// Projects
	CreateProject(ctx context.Context, project Project) (*Project, error)
	GetProject(ctx context.Context, userID, projectID string) (*Project, error)
	ListProjects(ctx context.Context, userID string) ([]Project, error)
	UpdateProject(ctx context.Context, project Project) (*Project, error)
	DeleteProject(ctx context.Context, userID, projectID string) error

	// Conversations
	CreateConversation(ctx context.Context, conversation Conversation) (*Conversation, error)
	GetConversation(ctx context.Context, userID, conversationID string) (*Conversation, error)
	FindConversationByType(ctx context.Context, projectID string, convType ConversationType) (*Conversation, error)
	ListConversations(ctx context.Context, projectID string) ([]Conversation, error)
	SetConversationStatus(ctx context.Context, conversationID string, status ConversationStatus) error

	// Messages
	InsertMessage(ctx context.Context, msg Message) (*Message, error)
	ListMessages(ctx context.Context, conversationID string) ([]Message, error)

	// Briefs
	UpsertBrief(ctx context.Context, brief ProjectBrief) (*ProjectBrief, error)
	UpdateBrief(ctx context.Context, brief ProjectBrief) (*ProjectBrief, error)
	GetBrief(ctx context.Context, projectID string) (*ProjectBrief, error)

	// Artifacts
	CreateArtifact(ctx context.Context, artifact Artifact) (*Artifact, error)
	GetArtifact(ctx context.Context, userID, artifactID string) (*Artifact, error)
	ListArtifacts(ctx context.Context, projectID string) ([]Artifact, error)
	LatestArtifact(ctx context.Context, projectID string, artifactType ArtifactType) (*Artifact, error)
	UpdateArtifactContent(ctx context.Context, artifactID string, content []byte) error

	// Facebook
	SaveFacebookToken(ctx context.Context, userID, accessToken string) (*FacebookConnection, error)
	SetFacebookAccount(ctx context.Context, userID, fbAccountID string) (*FacebookConnection, error)
	GetFacebookConnection(ctx context.Context, userID string) (*FacebookConnection, error)
	DeleteFacebookConnection(ctx context.Context, userID string) error

	// Stripe
	RecordStripeEvent(ctx context.Context, eventID, eventType string) (bool, error)
}

// Repository defines the interface for data persistence.
type Repository interface {
	Queries

	// Lifecycle
	Close()
	Ping(ctx context.Context) error
	RunMigrations(ctx context.Context, filesystem fs.FS) error

	// InTx runs fn inside a transaction. Returning an error rolls back every write made through q.
	InTx(ctx context.Context, fn func(q Queries) error) error
}
