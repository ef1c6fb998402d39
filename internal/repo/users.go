package repo

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// store implements Queries over any querier.
type store struct {
	q querier
}

func now() time.Time {
	return time.Now().UTC()
}

const userColumns = `id, name, email, email_verified, image, credits, stripe_customer_id, created_at, updated_at`

func scanUser(r row) (*User, error) {
	var u User
	if err := r.Scan(&u.ID, &u.Name, &u.Email, &u.EmailVerified, &u.Image, &u.Credits, &u.StripeCustomerID, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUser inserts a new user. Emails are stored lower-cased.
func (s *store) CreateUser(ctx context.Context, user User) (*User, error) {
	if user.ID == "" {
		user.ID = randomUUID()
	}
	ts := now()
	const q = `
INSERT INTO users (id, name, email, email_verified, image, credits, stripe_customer_id, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
RETURNING ` + userColumns + `;
`
	u, err := scanUser(s.q.queryRow(ctx, q,
		user.ID,
		user.Name,
		strings.ToLower(strings.TrimSpace(user.Email)),
		user.EmailVerified,
		user.Image,
		user.Credits,
		user.StripeCustomerID,
		ts,
		ts,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("create user: %w", ErrConflict)
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

// GetUserByID returns user by internal identifier.
func (s *store) GetUserByID(ctx context.Context, id string) (*User, error) {
	const q = `SELECT ` + userColumns + ` FROM users WHERE id = ? LIMIT 1;`
	u, err := scanUser(s.q.queryRow(ctx, q, id))
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user by id: %w", err)
	}
	return u, nil
}

// GetUserByEmail looks a user up by case-insensitive email.
func (s *store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	const q = `SELECT ` + userColumns + ` FROM users WHERE email = ? LIMIT 1;`
	u, err := scanUser(s.q.queryRow(ctx, q, strings.ToLower(strings.TrimSpace(email))))
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

// SetStripeCustomerID stores the Stripe customer created for the user.
func (s *store) SetStripeCustomerID(ctx context.Context, userID, customerID string) error {
	const q = `UPDATE users SET stripe_customer_id = ?, updated_at = ? WHERE id = ?;`
	n, err := s.q.exec(ctx, q, customerID, now(), userID)
	if err != nil {
		return fmt.Errorf("set stripe customer: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// AddCredits increments the user's credit balance and returns the new balance.
func (s *store) AddCredits(ctx context.Context, userID string, credits int64) (int64, error) {
	const q = `
UPDATE users
SET credits = credits + ?, updated_at = ?
WHERE id = ?
RETURNING credits;
`
	var balance int64
	if err := s.q.queryRow(ctx, q, credits, now(), userID).Scan(&balance); err != nil {
		if isNoRows(err) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("add credits: %w", err)
	}
	return balance, nil
}

const accountColumns = `id, user_id, provider_id, account_id, access_token, refresh_token, access_token_expires_at, scope, password_hash, created_at, updated_at`

func scanAccount(r row) (*Account, error) {
	var a Account
	if err := r.Scan(&a.ID, &a.UserID, &a.ProviderID, &a.AccountID, &a.AccessToken, &a.RefreshToken, &a.AccessTokenExpiresAt, &a.Scope, &a.PasswordHash, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

// UpsertAccount stores or refreshes provider tokens keyed by (provider_id, account_id).
func (s *store) UpsertAccount(ctx context.Context, account Account) (*Account, error) {
	if account.ID == "" {
		account.ID = randomUUID()
	}
	ts := now()
	const q = `
INSERT INTO accounts (id, user_id, provider_id, account_id, access_token, refresh_token, access_token_expires_at, scope, password_hash, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (provider_id, account_id) DO UPDATE SET
    access_token = COALESCE(excluded.access_token, accounts.access_token),
    refresh_token = COALESCE(excluded.refresh_token, accounts.refresh_token),
    access_token_expires_at = COALESCE(excluded.access_token_expires_at, accounts.access_token_expires_at),
    scope = COALESCE(excluded.scope, accounts.scope),
    password_hash = COALESCE(excluded.password_hash, accounts.password_hash),
    updated_at = excluded.updated_at
RETURNING ` + accountColumns + `;
`
	a, err := scanAccount(s.q.queryRow(ctx, q,
		account.ID,
		account.UserID,
		account.ProviderID,
		account.AccountID,
		account.AccessToken,
		account.RefreshToken,
		account.AccessTokenExpiresAt,
		account.Scope,
		account.PasswordHash,
		ts,
		ts,
	))
	if err != nil {
		return nil, fmt.Errorf("upsert account: %w", err)
	}
	return a, nil
}

// GetAccount returns the most recently updated account of a provider for the user.
func (s *store) GetAccount(ctx context.Context, userID, providerID string) (*Account, error) {
	const q = `
SELECT ` + accountColumns + `
FROM accounts
WHERE user_id = ? AND provider_id = ?
ORDER BY updated_at DESC
LIMIT 1;
`
	a, err := scanAccount(s.q.queryRow(ctx, q, userID, providerID))
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

// GetAccountByProviderID resolves an account from the provider-side identifier.
func (s *store) GetAccountByProviderID(ctx context.Context, providerID, accountID string) (*Account, error) {
	const q = `SELECT ` + accountColumns + ` FROM accounts WHERE provider_id = ? AND account_id = ? LIMIT 1;`
	a, err := scanAccount(s.q.queryRow(ctx, q, providerID, accountID))
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get account by provider id: %w", err)
	}
	return a, nil
}

const sessionColumns = `id, token, user_id, expires_at, ip_address, user_agent, created_at`

func scanSession(r row) (*Session, error) {
	var sess Session
	if err := r.Scan(&sess.ID, &sess.Token, &sess.UserID, &sess.ExpiresAt, &sess.IPAddress, &sess.UserAgent, &sess.CreatedAt); err != nil {
		return nil, err
	}
	return &sess, nil
}

// CreateSession persists a new session token.
func (s *store) CreateSession(ctx context.Context, session Session) (*Session, error) {
	if session.ID == "" {
		session.ID = randomUUID()
	}
	const q = `
INSERT INTO sessions (id, token, user_id, expires_at, ip_address, user_agent, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
RETURNING ` + sessionColumns + `;
`
	sess, err := scanSession(s.q.queryRow(ctx, q,
		session.ID,
		session.Token,
		session.UserID,
		session.ExpiresAt.UTC(),
		session.IPAddress,
		session.UserAgent,
		now(),
	))
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

// GetSessionByToken returns the session regardless of expiry; callers check ExpiresAt.
func (s *store) GetSessionByToken(ctx context.Context, token string) (*Session, error) {
	const q = `SELECT ` + sessionColumns + ` FROM sessions WHERE token = ? LIMIT 1;`
	sess, err := scanSession(s.q.queryRow(ctx, q, token))
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// DeleteSession removes a session; deleting a missing token is not an error.
func (s *store) DeleteSession(ctx context.Context, token string) error {
	if _, err := s.q.exec(ctx, `DELETE FROM sessions WHERE token = ?;`, token); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteExpiredSessions purges sessions that expired before now.
func (s *store) DeleteExpiredSessions(ctx context.Context, at time.Time) (int64, error) {
	n, err := s.q.exec(ctx, `DELETE FROM sessions WHERE expires_at < ?;`, at.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return n, nil
}

// RecordStripeEvent marks a webhook event as processed. It returns false when the
// event was already recorded.
func (s *store) RecordStripeEvent(ctx context.Context, eventID, eventType string) (bool, error) {
	const q = `
INSERT INTO stripe_events (event_id, type, processed_at)
VALUES (?, ?, ?)
ON CONFLICT (event_id) DO NOTHING;
`
	n, err := s.q.exec(ctx, q, eventID, eventType, now())
	if err != nil {
		return false, fmt.Errorf("record stripe event: %w", err)
	}
	return n == 1, nil
}
