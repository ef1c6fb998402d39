// Package auth handles email/password accounts, browser sessions and OAuth-linked provider accounts.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"

	"aigency/internal/repo"
	"aigency/internal/validation"
)

const (
	// SessionCookie holds the session token.
	SessionCookie = "aigency.session_token"
	// SessionTTL is how long a session stays valid.
	SessionTTL = 7 * 24 * time.Hour

	sessionCacheTTL = 5 * time.Minute
	bcryptCost      = 12
)

var (
	// ErrInvalidCredentials is returned when email or password do not match.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrUnauthenticated is returned for missing, unknown or expired sessions.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrNoProviderToken is returned when the user has not linked the provider.
	ErrNoProviderToken = errors.New("no access token for provider")
	// ErrEmailTaken is returned when signing up with an existing email.
	ErrEmailTaken = errors.New("email already registered")
)

// Store is the persistence auth needs. repo.Repository satisfies it.
type Store interface {
	CreateUser(ctx context.Context, user repo.User) (*repo.User, error)
	GetUserByID(ctx context.Context, id string) (*repo.User, error)
	GetUserByEmail(ctx context.Context, email string) (*repo.User, error)
	UpsertAccount(ctx context.Context, account repo.Account) (*repo.Account, error)
	GetAccount(ctx context.Context, userID, providerID string) (*repo.Account, error)
	GetAccountByProviderID(ctx context.Context, providerID, accountID string) (*repo.Account, error)
	CreateSession(ctx context.Context, session repo.Session) (*repo.Session, error)
	GetSessionByToken(ctx context.Context, token string) (*repo.Session, error)
	DeleteSession(ctx context.Context, token string) error
	InTx(ctx context.Context, fn func(q repo.Queries) error) error
}

// SessionCache keeps recently seen sessions out of the database.
type SessionCache interface {
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	GetJSON(ctx context.Context, key string, dest any) (bool, error)
	Delete(ctx context.Context, keys ...string) error
}

// CustomerCreator provisions a billing customer for new users.
type CustomerCreator interface {
	EnsureCustomer(ctx context.Context, user *repo.User) error
}

// Service implements sign-up, sign-in and session lookup.
type Service struct {
	store     Store
	cache     SessionCache
	customers CustomerCreator
	logger    *slog.Logger
	now       func() time.Time
}

// NewService creates the auth service. cache and customers may be nil.
func NewService(store Store, cache SessionCache, customers CustomerCreator, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		cache:     cache,
		customers: customers,
		logger:    logger.With("component", "auth"),
		now:       time.Now,
	}
}

// RequestMeta describes the client creating a session.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

// SignUpInput is the email sign-up body.
type SignUpInput struct {
	Name     string `json:"name" validate:"required,max=200"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// SignInInput is the email sign-in body.
type SignInInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// SignUp creates a user with a credential account and starts a session.
func (s *Service) SignUp(ctx context.Context, in SignUpInput, meta RequestMeta) (*repo.User, *repo.Session, error) {
	if err := validation.Struct(in); err != nil {
		return nil, nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcryptCost)
	if err != nil {
		return nil, nil, fmt.Errorf("hash password: %w", err)
	}
	passwordHash := string(hash)

	var user *repo.User
	err = s.store.InTx(ctx, func(q repo.Queries) error {
		created, err := q.CreateUser(ctx, repo.User{
			Name:  strings.TrimSpace(in.Name),
			Email: in.Email,
		})
		if err != nil {
			return err
		}
		user = created
		_, err = q.UpsertAccount(ctx, repo.Account{
			UserID:       created.ID,
			ProviderID:   repo.ProviderCredential,
			AccountID:    created.ID,
			PasswordHash: &passwordHash,
		})
		return err
	})
	if errors.Is(err, repo.ErrConflict) {
		return nil, nil, ErrEmailTaken
	}
	if err != nil {
		return nil, nil, fmt.Errorf("sign up: %w", err)
	}

	s.ensureCustomer(ctx, user)

	session, err := s.createSession(ctx, user.ID, meta)
	if err != nil {
		return nil, nil, err
	}
	s.logger.Info("user signed up", "user_id", user.ID)
	return user, session, nil
}

// SignIn checks the password of the credential account and starts a session.
func (s *Service) SignIn(ctx context.Context, in SignInInput, meta RequestMeta) (*repo.User, *repo.Session, error) {
	if err := validation.Struct(in); err != nil {
		return nil, nil, err
	}
	user, err := s.store.GetUserByEmail(ctx, in.Email)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, nil, fmt.Errorf("sign in: %w", err)
	}

	account, err := s.store.GetAccount(ctx, user.ID, repo.ProviderCredential)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, nil, fmt.Errorf("sign in: %w", err)
	}
	if account.PasswordHash == nil || bcrypt.CompareHashAndPassword([]byte(*account.PasswordHash), []byte(in.Password)) != nil {
		return nil, nil, ErrInvalidCredentials
	}

	session, err := s.createSession(ctx, user.ID, meta)
	if err != nil {
		return nil, nil, err
	}
	return user, session, nil
}

// SignOut deletes the session from the database and the cache.
func (s *Service) SignOut(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if s.cache != nil {
		if err := s.cache.Delete(ctx, sessionKey(token)); err != nil {
			s.logger.Warn("evict session failed", "error", err)
		}
	}
	if err := s.store.DeleteSession(ctx, token); err != nil {
		return fmt.Errorf("sign out: %w", err)
	}
	return nil
}

type cachedSession struct {
	UserID    string    `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Authenticate resolves the user of a session token.
func (s *Service) Authenticate(ctx context.Context, token string) (*repo.User, error) {
	if token == "" {
		return nil, ErrUnauthenticated
	}

	var cached cachedSession
	found := false
	if s.cache != nil {
		ok, err := s.cache.GetJSON(ctx, sessionKey(token), &cached)
		if err != nil {
			s.logger.Warn("read session cache failed", "error", err)
		}
		found = ok
	}

	if !found {
		session, err := s.store.GetSessionByToken(ctx, token)
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrUnauthenticated
		}
		if err != nil {
			return nil, fmt.Errorf("load session: %w", err)
		}
		cached = cachedSession{UserID: session.UserID, ExpiresAt: session.ExpiresAt}
		if s.cache != nil && s.now().Before(cached.ExpiresAt) {
			if err := s.cache.SetJSON(ctx, sessionKey(token), cached, sessionCacheTTL); err != nil {
				s.logger.Warn("cache session failed", "error", err)
			}
		}
	}

	if !s.now().Before(cached.ExpiresAt) {
		return nil, ErrUnauthenticated
	}

	user, err := s.store.GetUserByID(ctx, cached.UserID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrUnauthenticated
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	return user, nil
}

// OAuthIdentity is the provider side of a social login.
type OAuthIdentity struct {
	ProviderID string
	AccountID  string
	Name       string
	Email      string
}

// SignInWithOAuth finds the user linked to identity, or the user with the same email,
// or creates one. The provider account is upserted with token and a session started.
func (s *Service) SignInWithOAuth(ctx context.Context, identity OAuthIdentity, token *oauth2.Token, meta RequestMeta) (*repo.User, *repo.Session, error) {
	if identity.AccountID == "" {
		return nil, nil, errors.New("oauth identity has no account id")
	}

	user, created, err := s.resolveOAuthUser(ctx, identity)
	if err != nil {
		return nil, nil, err
	}
	if _, err := s.store.UpsertAccount(ctx, tokenAccount(user.ID, identity.ProviderID, identity.AccountID, token)); err != nil {
		return nil, nil, fmt.Errorf("store %s account: %w", identity.ProviderID, err)
	}
	if created {
		s.ensureCustomer(ctx, user)
	}

	session, err := s.createSession(ctx, user.ID, meta)
	if err != nil {
		return nil, nil, err
	}
	return user, session, nil
}

func (s *Service) resolveOAuthUser(ctx context.Context, identity OAuthIdentity) (*repo.User, bool, error) {
	account, err := s.store.GetAccountByProviderID(ctx, identity.ProviderID, identity.AccountID)
	if err == nil {
		user, err := s.store.GetUserByID(ctx, account.UserID)
		if err != nil {
			return nil, false, fmt.Errorf("load linked user: %w", err)
		}
		return user, false, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, false, fmt.Errorf("load %s account: %w", identity.ProviderID, err)
	}

	email := strings.TrimSpace(identity.Email)
	if email == "" {
		// Facebook omits email for phone-only accounts.
		email = identity.AccountID + "@" + identity.ProviderID + ".invalid"
	}
	user, err := s.store.GetUserByEmail(ctx, email)
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, false, fmt.Errorf("load user: %w", err)
	}

	user, err = s.store.CreateUser(ctx, repo.User{
		Name:          identity.Name,
		Email:         email,
		EmailVerified: identity.Email != "",
	})
	if err != nil {
		return nil, false, fmt.Errorf("create user: %w", err)
	}
	return user, true, nil
}

// LinkAccount stores provider tokens for an already signed-in user.
func (s *Service) LinkAccount(ctx context.Context, userID, providerID, accountID string, token *oauth2.Token) error {
	if _, err := s.store.UpsertAccount(ctx, tokenAccount(userID, providerID, accountID, token)); err != nil {
		return fmt.Errorf("link %s account: %w", providerID, err)
	}
	s.logger.Info("provider account linked", "user_id", userID, "provider", providerID)
	return nil
}

// GetAccessToken returns the stored provider access token of a user.
func (s *Service) GetAccessToken(ctx context.Context, userID, providerID string) (string, error) {
	account, err := s.store.GetAccount(ctx, userID, providerID)
	if errors.Is(err, repo.ErrNotFound) {
		return "", ErrNoProviderToken
	}
	if err != nil {
		return "", fmt.Errorf("load %s account: %w", providerID, err)
	}
	if account.AccessToken == nil || *account.AccessToken == "" {
		return "", ErrNoProviderToken
	}
	if account.AccessTokenExpiresAt != nil && !s.now().Before(*account.AccessTokenExpiresAt) {
		return "", ErrNoProviderToken
	}
	return *account.AccessToken, nil
}

func (s *Service) createSession(ctx context.Context, userID string, meta RequestMeta) (*repo.Session, error) {
	token, err := randomToken()
	if err != nil {
		return nil, err
	}
	session, err := s.store.CreateSession(ctx, repo.Session{
		Token:     token,
		UserID:    userID,
		ExpiresAt: s.now().Add(SessionTTL).UTC(),
		IPAddress: nonEmpty(meta.IPAddress),
		UserAgent: nonEmpty(meta.UserAgent),
	})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

func (s *Service) ensureCustomer(ctx context.Context, user *repo.User) {
	if s.customers == nil {
		return
	}
	// A missing customer is created again at checkout.
	if err := s.customers.EnsureCustomer(ctx, user); err != nil {
		s.logger.Warn("create billing customer failed", "user_id", user.ID, "error", err)
	}
}

func tokenAccount(userID, providerID, accountID string, token *oauth2.Token) repo.Account {
	account := repo.Account{
		UserID:     userID,
		ProviderID: providerID,
		AccountID:  accountID,
	}
	if token == nil {
		return account
	}
	account.AccessToken = nonEmpty(token.AccessToken)
	account.RefreshToken = nonEmpty(token.RefreshToken)
	if !token.Expiry.IsZero() {
		expiry := token.Expiry.UTC()
		account.AccessTokenExpiresAt = &expiry
	}
	if scope, ok := token.Extra("scope").(string); ok && scope != "" {
		account.Scope = &scope
	}
	return account
}

func sessionKey(token string) string {
	return "session:" + token
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
