package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"aigency/internal/agent"
	"aigency/internal/auth"
	"aigency/internal/repo"
)

type projectResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description"`
	HasBrief    bool      `json:"hasBrief"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func toProjectResponse(p *repo.Project) projectResponse {
	return projectResponse{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		HasBrief:    p.HasBrief,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

type conversationResponse struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"projectId"`
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type messageResponse struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

type artifactResponse struct {
	ID             string          `json:"id"`
	ProjectID      string          `json:"projectId"`
	ConversationID *string         `json:"conversationId"`
	Type           string          `json:"type"`
	Title          string          `json:"title"`
	Content        json.RawMessage `json:"content"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

func toArtifactResponse(a *repo.Artifact) artifactResponse {
	return artifactResponse{
		ID:             a.ID,
		ProjectID:      a.ProjectID,
		ConversationID: a.ConversationID,
		Type:           string(a.Type),
		Title:          a.Title,
		Content:        a.Content,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
}

// currentUser is only called behind auth.Middleware.
func currentUser(r *http.Request) *repo.User {
	user, _ := auth.UserFromContext(r.Context())
	return user
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.deps.Repository.ListProjects(r.Context(), currentUser(r).ID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	out := make([]projectResponse, 0, len(projects))
	for i := range projects {
		out = append(out, toProjectResponse(&projects[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": out})
}

type projectInput struct {
	Name        string `json:"name" validate:"required,max=200"`
	Description string `json:"description" validate:"max=2000"`
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var in projectInput
	if err := decodeJSON(w, r, &in); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if strings.TrimSpace(in.Name) == "" {
		writeError(w, http.StatusBadRequest, "Name is required")
		return
	}
	project, conv, err := agent.StartProject(r.Context(), s.deps.Repository, currentUser(r).ID, in.Name, in.Description)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": project.ID, "conversationId": conv.ID})
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	project, err := s.deps.Repository.GetProject(r.Context(), currentUser(r).ID, r.PathValue("projectId"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProjectResponse(project))
}

func (s *Server) handleUpdateProject(w http.ResponseWriter, r *http.Request) {
	var in projectInput
	if err := decodeJSON(w, r, &in); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		writeError(w, http.StatusBadRequest, "Name is required")
		return
	}
	var desc *string
	if d := strings.TrimSpace(in.Description); d != "" {
		desc = &d
	}
	project, err := s.deps.Repository.UpdateProject(r.Context(), repo.Project{
		ID:          r.PathValue("projectId"),
		UserID:      currentUser(r).ID,
		Name:        name,
		Description: desc,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProjectResponse(project))
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Repository.DeleteProject(r.Context(), currentUser(r).ID, r.PathValue("projectId")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	project, err := s.deps.Repository.GetProject(r.Context(), currentUser(r).ID, r.PathValue("projectId"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	conversations, err := s.deps.Repository.ListConversations(r.Context(), project.ID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	out := make([]conversationResponse, 0, len(conversations))
	for _, c := range conversations {
		out = append(out, conversationResponse{
			ID:        c.ID,
			ProjectID: c.ProjectID,
			Type:      string(c.Type),
			Status:    string(c.Status),
			Title:     c.Title,
			CreatedAt: c.CreatedAt,
			UpdatedAt: c.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": out})
}

func (s *Server) handleCreateCampaignConversation(w http.ResponseWriter, r *http.Request) {
	project, err := s.deps.Repository.GetProject(r.Context(), currentUser(r).ID, r.PathValue("projectId"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	conv, created, err := agent.EnsureCampaignConversation(r.Context(), s.deps.Repository, project.ID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]string{"conversationId": conv.ID})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	conv, err := s.deps.Repository.GetConversation(r.Context(), currentUser(r).ID, r.PathValue("conversationId"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	messages, err := s.deps.Repository.ListMessages(r.Context(), conv.ID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	out := make([]messageResponse, 0, len(messages))
	for _, m := range messages {
		out = append(out, messageResponse{ID: m.ID, Role: m.Role, Content: m.Content, CreatedAt: m.CreatedAt})
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": out})
}

type messageInput struct {
	Role    string `json:"role" validate:"oneof=user assistant"`
	Content string `json:"content" validate:"required"`
}

func (s *Server) handleCreateMessage(w http.ResponseWriter, r *http.Request) {
	var in messageInput
	if err := decodeJSON(w, r, &in); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	conv, err := s.deps.Repository.GetConversation(r.Context(), currentUser(r).ID, r.PathValue("conversationId"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	msg, err := s.deps.Repository.InsertMessage(r.Context(), repo.Message{
		ConversationID: conv.ID,
		Role:           in.Role,
		Content:        in.Content,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": msg.ID})
}

func (s *Server) handleListArtifacts(w http.ResponseWriter, r *http.Request) {
	project, err := s.deps.Repository.GetProject(r.Context(), currentUser(r).ID, r.PathValue("projectId"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	artifacts, err := s.deps.Repository.ListArtifacts(r.Context(), project.ID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	out := make([]artifactResponse, 0, len(artifacts))
	for i := range artifacts {
		out = append(out, toArtifactResponse(&artifacts[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"artifacts": out})
}

func (s *Server) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	artifact, err := s.deps.Repository.GetArtifact(r.Context(), currentUser(r).ID, r.PathValue("artifactId"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toArtifactResponse(artifact))
}

type briefResponse struct {
	ID                   string    `json:"id"`
	ProjectID            string    `json:"projectId"`
	BusinessDescription  string    `json:"businessDescription"`
	Product              string    `json:"product"`
	TargetAudience       string    `json:"targetAudience"`
	UniqueSellingPoint   string    `json:"uniqueSellingPoint"`
	Goal                 string    `json:"goal"`
	MonthlyBudget        int64     `json:"monthlyBudget"`
	MonthlyBudgetDollars int64     `json:"monthlyBudgetDollars"`
	Location             string    `json:"location"`
	WebsiteURL           *string   `json:"websiteUrl"`
	Analysis             string    `json:"analysis,omitempty"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

func (s *Server) handleGetBrief(w http.ResponseWriter, r *http.Request) {
	project, err := s.deps.Repository.GetProject(r.Context(), currentUser(r).ID, r.PathValue("projectId"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	brief, err := s.deps.Repository.GetBrief(r.Context(), project.ID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	resp := briefResponse{
		ID:                   brief.ID,
		ProjectID:            brief.ProjectID,
		BusinessDescription:  brief.BusinessDescription,
		Product:              brief.Product,
		TargetAudience:       brief.TargetAudience,
		UniqueSellingPoint:   brief.UniqueSellingPoint,
		Goal:                 string(brief.Goal),
		MonthlyBudget:        brief.MonthlyBudget,
		MonthlyBudgetDollars: brief.MonthlyBudget / 100,
		Location:             brief.Location,
		WebsiteURL:           brief.WebsiteURL,
		UpdatedAt:            brief.UpdatedAt,
	}
	// The analysis only lives in the BRIEF artifact.
	artifact, err := s.deps.Repository.LatestArtifact(r.Context(), project.ID, repo.ArtifactBrief)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		s.writeServiceError(w, r, err)
		return
	}
	if artifact != nil {
		var content agent.BriefContent
		if err := json.Unmarshal(artifact.Content, &content); err == nil {
			resp.Analysis = content.Analysis
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUpdateBrief(w http.ResponseWriter, r *http.Request) {
	project, err := s.deps.Repository.GetProject(r.Context(), currentUser(r).ID, r.PathValue("projectId"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	var in agent.BriefInput
	if err := decodeJSON(w, r, &in); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if _, err := agent.UpdateBrief(r.Context(), s.deps.Repository, project.ID, in); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
