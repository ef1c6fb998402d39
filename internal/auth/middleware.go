package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"aigency/internal/repo"
)

type contextKey struct{}

// WithUser stores the signed-in user on ctx.
func WithUser(ctx context.Context, user *repo.User) context.Context {
	return context.WithValue(ctx, contextKey{}, user)
}

// UserFromContext returns the user set by Middleware.
func UserFromContext(ctx context.Context) (*repo.User, bool) {
	user, ok := ctx.Value(contextKey{}).(*repo.User)
	return user, ok && user != nil
}

// Authenticator resolves session tokens. *Service satisfies it.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*repo.User, error)
}

// Middleware rejects requests without a valid session with 401 {"error":"Unauthorized"}.
func Middleware(authn Authenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := authn.Authenticate(r.Context(), SessionToken(r))
			if err != nil {
				if !errors.Is(err, ErrUnauthenticated) {
					logger.Error("authenticate request failed", "path", r.URL.Path, "error", err)
				}
				writeUnauthorized(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

// SessionToken reads the session cookie.
func SessionToken(r *http.Request) string {
	c, err := r.Cookie(SessionCookie)
	if err != nil {
		return ""
	}
	return c.Value
}

// SetSessionCookie writes the session cookie for session.
func SetSessionCookie(w http.ResponseWriter, session *repo.Session, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    session.Token,
		Path:     "/",
		Expires:  session.ExpiresAt,
		MaxAge:   int(time.Until(session.ExpiresAt).Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie expires the session cookie.
func ClearSessionCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "Unauthorized"})
}
