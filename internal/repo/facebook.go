package repo

import (
	"context"
	"fmt"
)

const facebookColumns = `id, user_id, access_token, fb_account_id, created_at, updated_at`

func scanFacebookConnection(r row) (*FacebookConnection, error) {
	var c FacebookConnection
	if err := r.Scan(&c.ID, &c.UserID, &c.AccessToken, &c.FBAccountID, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// SaveFacebookToken stores a fresh Graph token; the selected ad account is cleared so
// the user picks again after reconnecting.
func (s *store) SaveFacebookToken(ctx context.Context, userID, accessToken string) (*FacebookConnection, error) {
	ts := now()
	const q = `
INSERT INTO facebook_connections (id, user_id, access_token, fb_account_id, created_at, updated_at)
VALUES (?, ?, ?, NULL, ?, ?)
ON CONFLICT (user_id) DO UPDATE SET
    access_token = excluded.access_token,
    fb_account_id = NULL,
    updated_at = excluded.updated_at
RETURNING ` + facebookColumns + `;
`
	c, err := scanFacebookConnection(s.q.queryRow(ctx, q, randomUUID(), userID, accessToken, ts, ts))
	if err != nil {
		return nil, fmt.Errorf("save facebook token: %w", err)
	}
	return c, nil
}

// SetFacebookAccount upserts the selected ad account, keeping any stored token.
func (s *store) SetFacebookAccount(ctx context.Context, userID, fbAccountID string) (*FacebookConnection, error) {
	ts := now()
	const q = `
INSERT INTO facebook_connections (id, user_id, access_token, fb_account_id, created_at, updated_at)
VALUES (?, ?, NULL, ?, ?, ?)
ON CONFLICT (user_id) DO UPDATE SET
    fb_account_id = excluded.fb_account_id,
    updated_at = excluded.updated_at
RETURNING ` + facebookColumns + `;
`
	c, err := scanFacebookConnection(s.q.queryRow(ctx, q, randomUUID(), userID, fbAccountID, ts, ts))
	if err != nil {
		return nil, fmt.Errorf("set facebook account: %w", err)
	}
	return c, nil
}

// GetFacebookConnection returns the user's connection.
func (s *store) GetFacebookConnection(ctx context.Context, userID string) (*FacebookConnection, error) {
	c, err := scanFacebookConnection(s.q.queryRow(ctx, `SELECT `+facebookColumns+` FROM facebook_connections WHERE user_id = ? LIMIT 1;`, userID))
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get facebook connection: %w", err)
	}
	return c, nil
}

// DeleteFacebookConnection disconnects Facebook for the user.
func (s *store) DeleteFacebookConnection(ctx context.Context, userID string) error {
	n, err := s.q.exec(ctx, `DELETE FROM facebook_connections WHERE user_id = ?;`, userID)
	if err != nil {
		return fmt.Errorf("delete facebook connection: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
