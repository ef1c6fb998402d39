package httpserver

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"aigency/internal/auth"
	"aigency/internal/facebook"
	"aigency/internal/repo"
)

const (
	oauthStateCookie = "aigency.oauth_state"
	oauthStateTTL    = 10 * time.Minute
)

type userResponse struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Email         string  `json:"email"`
	EmailVerified bool    `json:"emailVerified"`
	Image         *string `json:"image"`
	Credits       int64   `json:"credits"`
}

func toUserResponse(u *repo.User) userResponse {
	return userResponse{
		ID:            u.ID,
		Name:          u.Name,
		Email:         u.Email,
		EmailVerified: u.EmailVerified,
		Image:         u.Image,
		Credits:       u.Credits,
	}
}

func requestMeta(r *http.Request) auth.RequestMeta {
	ip := r.Header.Get("X-Forwarded-For")
	if ip == "" {
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			ip = host
		}
	}
	return auth.RequestMeta{IPAddress: ip, UserAgent: r.UserAgent()}
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var in auth.SignUpInput
	if err := decodeJSON(w, r, &in); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	user, session, err := s.deps.Auth.SignUp(r.Context(), in, requestMeta(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	auth.SetSessionCookie(w, session, s.deps.SecureCookies)
	writeJSON(w, http.StatusOK, map[string]any{"user": toUserResponse(user)})
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var in auth.SignInInput
	if err := decodeJSON(w, r, &in); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	user, session, err := s.deps.Auth.SignIn(r.Context(), in, requestMeta(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	auth.SetSessionCookie(w, session, s.deps.SecureCookies)
	writeJSON(w, http.StatusOK, map[string]any{"user": toUserResponse(user)})
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Auth.SignOut(r.Context(), auth.SessionToken(r)); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	auth.ClearSessionCookie(w, s.deps.SecureCookies)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	user, err := s.deps.Auth.Authenticate(r.Context(), auth.SessionToken(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": toUserResponse(user)})
}

// oauthState is kept sealed in a cookie between the redirect and the callback.
type oauthState struct {
	State     string    `json:"state"`
	Flow      string    `json:"flow"`
	ProjectID string    `json:"projectId,omitempty"`
	ExpiresAt time.Time `json:"expiresAt"`
}

const (
	flowLogin   = "login"
	flowLinkAds = "link-ads"
	flowConnect = "connect"
)

func (s *Server) oauthConfig(callbackPath string, scopes []string) (*oauth2.Config, bool) {
	if s.deps.FacebookOAuth == nil {
		return nil, false
	}
	return s.deps.FacebookOAuth.OAuth2(s.deps.AppURL+callbackPath, scopes), true
}

// beginOAuth stores a fresh state cookie and redirects to the provider dialog.
func (s *Server) beginOAuth(w http.ResponseWriter, r *http.Request, cfg *oauth2.Config, flow, projectID string) {
	st := oauthState{
		State:     uuid.NewString(),
		Flow:      flow,
		ProjectID: projectID,
		ExpiresAt: time.Now().Add(oauthStateTTL),
	}
	sealed, err := s.deps.Sealer.SealJSON(st)
	if err != nil {
		s.writeServiceError(w, r, fmt.Errorf("seal oauth state: %w", err))
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    sealed,
		Path:     "/",
		MaxAge:   int(oauthStateTTL.Seconds()),
		HttpOnly: true,
		Secure:   s.deps.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, cfg.AuthCodeURL(st.State), http.StatusFound)
}

// finishOAuth checks the state cookie against the callback and clears it.
func (s *Server) finishOAuth(w http.ResponseWriter, r *http.Request, flow string) (*oauthState, error) {
	http.SetCookie(w, &http.Cookie{Name: oauthStateCookie, Value: "", Path: "/", MaxAge: -1, HttpOnly: true, Secure: s.deps.SecureCookies})

	c, err := r.Cookie(oauthStateCookie)
	if err != nil {
		return nil, errors.New("missing oauth state")
	}
	var st oauthState
	if err := s.deps.Sealer.OpenJSON(c.Value, &st); err != nil {
		return nil, err
	}
	if st.Flow != flow || time.Now().After(st.ExpiresAt) {
		return nil, errors.New("oauth state expired")
	}
	if subtle.ConstantTimeCompare([]byte(st.State), []byte(r.URL.Query().Get("state"))) != 1 {
		return &st, errors.New("oauth state mismatch")
	}
	return &st, nil
}

func (s *Server) exchange(ctx context.Context, cfg *oauth2.Config, r *http.Request) (*oauth2.Token, error) {
	if e := r.URL.Query().Get("error"); e != "" {
		return nil, fmt.Errorf("oauth denied: %s", e)
	}
	code := r.URL.Query().Get("code")
	if code == "" {
		return nil, errors.New("oauth callback without code")
	}
	token, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}
	return token, nil
}

func (s *Server) redirectApp(w http.ResponseWriter, r *http.Request, path string, query url.Values) {
	target := s.deps.AppURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (s *Server) handleFacebookLogin(w http.ResponseWriter, r *http.Request) {
	cfg, ok := s.oauthConfig("/api/auth/callback/facebook", facebook.LoginScopes)
	if !ok {
		writeError(w, http.StatusNotFound, "Facebook login is not configured")
		return
	}
	s.beginOAuth(w, r, cfg, flowLogin, "")
}

func (s *Server) handleFacebookLoginCallback(w http.ResponseWriter, r *http.Request) {
	cfg, ok := s.oauthConfig("/api/auth/callback/facebook", facebook.LoginScopes)
	if !ok {
		writeError(w, http.StatusNotFound, "Facebook login is not configured")
		return
	}
	failed := func(err error) {
		s.logger.Warn("facebook login failed", "error", err)
		s.redirectApp(w, r, "/login", url.Values{"error": {"facebook_failed"}})
	}

	if _, err := s.finishOAuth(w, r, flowLogin); err != nil {
		failed(err)
		return
	}
	token, err := s.exchange(r.Context(), cfg, r)
	if err != nil {
		failed(err)
		return
	}
	profile, err := s.deps.Facebook.Me(r.Context(), token.AccessToken)
	if err != nil {
		failed(err)
		return
	}
	_, session, err := s.deps.Auth.SignInWithOAuth(r.Context(), auth.OAuthIdentity{
		ProviderID: repo.ProviderFacebook,
		AccountID:  profile.ID,
		Name:       profile.Name,
		Email:      profile.Email,
	}, token, requestMeta(r))
	if err != nil {
		failed(err)
		return
	}
	auth.SetSessionCookie(w, session, s.deps.SecureCookies)
	s.redirectApp(w, r, "/dashboard", nil)
}

func (s *Server) handleLinkFacebookAds(w http.ResponseWriter, r *http.Request) {
	cfg, ok := s.oauthConfig("/api/auth/callback/facebook-ads", facebook.AdsScopes)
	if !ok {
		writeError(w, http.StatusNotFound, "Facebook is not configured")
		return
	}
	s.beginOAuth(w, r, cfg, flowLinkAds, r.URL.Query().Get("projectId"))
}

func (s *Server) handleLinkFacebookAdsCallback(w http.ResponseWriter, r *http.Request) {
	cfg, ok := s.oauthConfig("/api/auth/callback/facebook-ads", facebook.AdsScopes)
	if !ok {
		writeError(w, http.StatusNotFound, "Facebook is not configured")
		return
	}
	user, _ := auth.UserFromContext(r.Context())

	st, err := s.finishOAuth(w, r, flowLinkAds)
	projectID := ""
	if st != nil {
		projectID = st.ProjectID
	}
	failed := func(err error) {
		s.logger.Warn("facebook ads link failed", "user_id", user.ID, "error", err)
		s.redirectApp(w, r, chatPath(projectID), url.Values{"error": {"facebook_denied"}})
	}
	if err != nil {
		failed(err)
		return
	}

	token, err := s.exchange(r.Context(), cfg, r)
	if err != nil {
		failed(err)
		return
	}
	profile, err := s.deps.Facebook.Me(r.Context(), token.AccessToken)
	if err != nil {
		failed(err)
		return
	}
	if err := s.deps.Auth.LinkAccount(r.Context(), user.ID, repo.ProviderFacebookAds, profile.ID, token); err != nil {
		failed(err)
		return
	}
	if projectID == "" {
		s.redirectApp(w, r, "/dashboard/integrations", nil)
		return
	}
	s.redirectApp(w, r, "/api/facebook/post-connect", url.Values{"projectId": {projectID}})
}

func chatPath(projectID string) string {
	if projectID == "" {
		return "/dashboard"
	}
	return "/chat/" + url.PathEscape(projectID)
}
