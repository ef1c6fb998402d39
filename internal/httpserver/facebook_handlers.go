package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"aigency/internal/agent"
	"aigency/internal/auth"
	"aigency/internal/facebook"
	"aigency/internal/repo"
)

const (
	pendingCookie = "fb_pending_connection"
	pendingTTL    = 15 * time.Minute
)

var errNoAdAccount = errors.New("no ad account selected")

// pendingConnection is sealed into the fb_pending_connection cookie while the user
// picks one of several ad accounts.
type pendingConnection struct {
	Nonce     string           `json:"nonce"`
	Accounts  []pendingAccount `json:"accounts"`
	ExpiresAt time.Time        `json:"expiresAt"`
}

type pendingAccount struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func pendingNonceKey(nonce string) string {
	return "fb:pending:" + nonce
}

// graphToken picks the token used for Graph calls: the linked facebook-ads account,
// then the connect-flow token, then the social login token.
func (s *Server) graphToken(ctx context.Context, userID string) (string, error) {
	token, err := s.deps.Auth.GetAccessToken(ctx, userID, repo.ProviderFacebookAds)
	if err == nil {
		return token, nil
	}
	if !errors.Is(err, auth.ErrNoProviderToken) {
		return "", err
	}

	conn, err := s.deps.Repository.GetFacebookConnection(ctx, userID)
	if err == nil && conn.AccessToken != nil && *conn.AccessToken != "" {
		return *conn.AccessToken, nil
	}
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return "", err
	}
	return s.deps.Auth.GetAccessToken(ctx, userID, repo.ProviderFacebook)
}

func (s *Server) handleFacebookConnect(w http.ResponseWriter, r *http.Request) {
	cfg, ok := s.oauthConfig("/api/facebook/callback", facebook.ConnectScopes)
	if !ok {
		writeError(w, http.StatusNotFound, "Facebook is not configured")
		return
	}
	s.beginOAuth(w, r, cfg, flowConnect, r.URL.Query().Get("projectId"))
}

func (s *Server) handleFacebookCallback(w http.ResponseWriter, r *http.Request) {
	cfg, ok := s.oauthConfig("/api/facebook/callback", facebook.ConnectScopes)
	if !ok {
		writeError(w, http.StatusNotFound, "Facebook is not configured")
		return
	}
	user := currentUser(r)

	st, err := s.finishOAuth(w, r, flowConnect)
	projectID := ""
	if st != nil {
		projectID = st.ProjectID
	}
	if err != nil {
		s.logger.Warn("facebook connect state rejected", "user_id", user.ID, "error", err)
		s.redirectApp(w, r, chatPath(projectID), url.Values{"error": {"facebook_denied"}})
		return
	}

	token, err := s.exchange(r.Context(), cfg, r)
	if err != nil {
		s.logger.Warn("facebook connect failed", "user_id", user.ID, "error", err)
		s.redirectApp(w, r, chatPath(projectID), url.Values{"error": {"facebook_denied"}})
		return
	}
	if _, err := s.deps.Repository.SaveFacebookToken(r.Context(), user.ID, token.AccessToken); err != nil {
		s.logger.Error("save facebook token failed", "user_id", user.ID, "error", err)
		s.redirectApp(w, r, "/dashboard", url.Values{"error": {"facebook_token_failed"}})
		return
	}

	query := url.Values{}
	if projectID != "" {
		query.Set("projectId", projectID)
	}
	s.redirectApp(w, r, "/facebook/select-account", query)
}

func (s *Server) handleFacebookPostConnect(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	projectID := r.URL.Query().Get("projectId")
	if projectID == "" {
		s.redirectApp(w, r, "/dashboard/projects", nil)
		return
	}
	chat := chatPath(projectID)

	accounts, err := s.activeAdAccounts(r.Context(), user.ID)
	if err != nil {
		s.logger.Error("facebook post-connect failed", "user_id", user.ID, "error", err)
		s.redirectApp(w, r, chat, url.Values{"fb_error": {"auth_failed"}})
		return
	}

	switch len(accounts) {
	case 0:
		s.redirectApp(w, r, chat, url.Values{"fb_error": {"no_accounts"}})
	case 1:
		if _, err := s.deps.Repository.SetFacebookAccount(r.Context(), user.ID, accounts[0].ID); err != nil {
			s.logger.Error("save facebook account failed", "user_id", user.ID, "error", err)
			s.redirectApp(w, r, chat, url.Values{"fb_error": {"auth_failed"}})
			return
		}
		s.redirectApp(w, r, chat, nil)
	default:
		pending := pendingConnection{
			Nonce:     uuid.NewString(),
			ExpiresAt: time.Now().Add(pendingTTL),
		}
		for _, a := range accounts {
			pending.Accounts = append(pending.Accounts, pendingAccount{ID: a.ID, Name: a.Name})
		}
		sealed, err := s.deps.Sealer.SealJSON(pending)
		if err != nil {
			s.logger.Error("seal pending connection failed", "error", err)
			s.redirectApp(w, r, chat, url.Values{"fb_error": {"auth_failed"}})
			return
		}
		http.SetCookie(w, &http.Cookie{
			Name:     pendingCookie,
			Value:    sealed,
			Path:     "/",
			MaxAge:   int(pendingTTL.Seconds()),
			HttpOnly: true,
			Secure:   s.deps.SecureCookies,
			SameSite: http.SameSiteLaxMode,
		})
		s.redirectApp(w, r, chat+"/select-account", nil)
	}
}

func (s *Server) activeAdAccounts(ctx context.Context, userID string) ([]facebook.AdAccount, error) {
	token, err := s.graphToken(ctx, userID)
	if err != nil {
		return nil, err
	}
	accounts, err := s.deps.Facebook.AdAccounts(ctx, token)
	if err != nil {
		return nil, err
	}
	return facebook.ActiveAdAccounts(accounts), nil
}

// readPending unseals the pending cookie and rejects expired or consumed payloads.
func (s *Server) readPending(r *http.Request) (*pendingConnection, int, string) {
	c, err := r.Cookie(pendingCookie)
	if err != nil || c.Value == "" {
		return nil, http.StatusNotFound, "No pending connection"
	}
	var pending pendingConnection
	if err := s.deps.Sealer.OpenJSON(c.Value, &pending); err != nil {
		return nil, http.StatusBadRequest, "Invalid session"
	}
	if pending.Nonce == "" || time.Now().After(pending.ExpiresAt) {
		return nil, http.StatusBadRequest, "Pending connection expired"
	}
	used, err := s.deps.Nonces.Exists(r.Context(), pendingNonceKey(pending.Nonce))
	if err != nil {
		s.logger.Error("check pending nonce failed", "error", err)
		return nil, http.StatusInternalServerError, "Internal server error"
	}
	if used {
		return nil, http.StatusBadRequest, "Pending connection already used"
	}
	return &pending, 0, ""
}

func (s *Server) clearPendingCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     pendingCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.deps.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) handlePendingAccounts(w http.ResponseWriter, r *http.Request) {
	pending, status, msg := s.readPending(r)
	if pending == nil {
		writeError(w, status, msg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": pending.Accounts})
}

type selectAccountInput struct {
	AccountID string `json:"accountId" validate:"required"`
	ProjectID string `json:"projectId" validate:"required"`
}

func (s *Server) handleSelectAccount(w http.ResponseWriter, r *http.Request) {
	var in selectAccountInput
	if err := decodeJSON(w, r, &in); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	pending, status, msg := s.readPending(r)
	if pending == nil {
		if status == http.StatusNotFound {
			status, msg = http.StatusBadRequest, "No pending connection found"
		}
		writeError(w, status, msg)
		return
	}

	found := false
	for _, a := range pending.Accounts {
		if a.ID == in.AccountID {
			found = true
			break
		}
	}
	if !found {
		writeError(w, http.StatusBadRequest, "Invalid account")
		return
	}

	// Two concurrent submissions of the same cookie: only the first wins.
	first, err := s.deps.Nonces.SetOnce(r.Context(), pendingNonceKey(pending.Nonce), pendingTTL)
	if err != nil {
		s.writeServiceError(w, r, fmt.Errorf("consume pending nonce: %w", err))
		return
	}
	if !first {
		s.clearPendingCookie(w)
		writeError(w, http.StatusBadRequest, "Pending connection already used")
		return
	}

	user := currentUser(r)
	if _, err := s.deps.Repository.SetFacebookAccount(r.Context(), user.ID, in.AccountID); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.clearPendingCookie(w)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "redirectTo": chatPath(in.ProjectID)})
}

func (s *Server) handleListAdAccounts(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	token, err := s.graphToken(r.Context(), user.ID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	accounts, err := s.deps.Facebook.AdAccounts(r.Context(), token)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": accounts})
}

type setAdAccountInput struct {
	FBAccountID string `json:"fbAccountId" validate:"required"`
}

func (s *Server) handleSetAdAccount(w http.ResponseWriter, r *http.Request) {
	var in setAdAccountInput
	if err := decodeJSON(w, r, &in); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	user := currentUser(r)
	if _, err := s.deps.Repository.GetFacebookConnection(r.Context(), user.ID); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if _, err := s.deps.Repository.SetFacebookAccount(r.Context(), user.ID, in.FBAccountID); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleGetConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := s.deps.Repository.GetFacebookConnection(r.Context(), currentUser(r).ID)
	if errors.Is(err, repo.ErrNotFound) {
		writeJSON(w, http.StatusOK, map[string]any{"connected": false})
		return
	}
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"connected":   conn.AccessToken != nil,
		"fbAccountId": conn.FBAccountID,
		"updatedAt":   conn.UpdatedAt,
	})
}

func (s *Server) handleDeleteConnection(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Repository.DeleteFacebookConnection(r.Context(), currentUser(r).ID); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleCampaignInsights(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	token, err := s.graphToken(r.Context(), user.ID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	q := r.URL.Query()
	var dateRange facebook.DateRange
	if q.Get("since") != "" || q.Get("until") != "" {
		dateRange = facebook.DateRange{Since: q.Get("since"), Until: q.Get("until")}
		if dateRange.Since == "" || dateRange.Until == "" {
			writeError(w, http.StatusBadRequest, "since and until must be given together")
			return
		}
	}
	insights, err := s.deps.Facebook.CampaignInsights(r.Context(), r.PathValue("campaignId"), token, dateRange)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"insights": insights})
}

func (s *Server) handlePauseCampaign(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	token, err := s.graphToken(r.Context(), user.ID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if err := s.deps.Facebook.PauseCampaign(r.Context(), r.PathValue("campaignId"), token); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type publishInput struct {
	PageID string `json:"pageId"`
	Link   string `json:"link" validate:"omitempty,url"`
}

func (s *Server) handlePublishCampaign(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	var in publishInput
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &in); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
	}

	project, err := s.deps.Repository.GetProject(r.Context(), user.ID, r.PathValue("projectId"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	artifact, err := s.deps.Repository.GetArtifact(r.Context(), user.ID, r.PathValue("artifactId"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if artifact.ProjectID != project.ID || artifact.Type != repo.ArtifactCampaign {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}
	var plan agent.CampaignContent
	if err := json.Unmarshal(artifact.Content, &plan); err != nil {
		s.writeServiceError(w, r, fmt.Errorf("decode campaign artifact: %w", err))
		return
	}

	conn, err := s.deps.Repository.GetFacebookConnection(r.Context(), user.ID)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		s.writeServiceError(w, r, err)
		return
	}
	if conn == nil || conn.FBAccountID == nil || *conn.FBAccountID == "" {
		writeError(w, http.StatusBadRequest, errNoAdAccount.Error())
		return
	}
	token, err := s.graphToken(r.Context(), user.ID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	ads := make([]facebook.AdCopy, 0, len(plan.AdVariations))
	for _, v := range plan.AdVariations {
		ads = append(ads, facebook.AdCopy{Headline: v.Headline, PrimaryText: v.PrimaryText, CallToAction: v.CallToAction})
	}
	result, err := s.deps.Facebook.PublishCampaign(r.Context(), *conn.FBAccountID, token, facebook.CampaignPlan{
		Name:             plan.Name,
		Objective:        plan.Objective,
		DailyBudgetCents: plan.DailyBudget,
		DurationDays:     plan.DurationDays,
		Countries:        facebook.CountryCodes(plan.Audience.Locations),
		AgeMin:           plan.Audience.AgeMin,
		AgeMax:           plan.Audience.AgeMax,
		Ads:              ads,
		PageID:           in.PageID,
		Link:             in.Link,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
