package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"aigency/internal/agent"
	"aigency/internal/auth"
	"aigency/internal/billing"
	"aigency/internal/facebook"
	"aigency/internal/repo"
	"aigency/internal/validation"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "failed to encode json", http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeJSON reads a JSON body into dst and validates it when it carries validate tags.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return &requestError{msg: "request body is required"}
		}
		return &requestError{msg: fmt.Sprintf("invalid JSON body: %v", err)}
	}
	return validation.Struct(dst)
}

type requestError struct{ msg string }

func (e *requestError) Error() string { return e.msg }

// writeServiceError maps domain errors to HTTP statuses.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		reqErr   *requestError
		valErr   *validation.Error
		graphErr *facebook.GraphError
	)
	switch {
	case errors.As(err, &reqErr):
		writeError(w, http.StatusBadRequest, reqErr.msg)
	case errors.As(err, &valErr):
		writeError(w, http.StatusBadRequest, valErr.Error())
	case errors.Is(err, repo.ErrNotFound):
		writeError(w, http.StatusNotFound, "Not found")
	case errors.Is(err, agent.ErrBriefRequired):
		writeError(w, http.StatusBadRequest, "Complete onboarding before creating a campaign")
	case errors.Is(err, auth.ErrEmailTaken), errors.Is(err, repo.ErrConflict):
		writeError(w, http.StatusConflict, "Email already registered")
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "Invalid email or password")
	case errors.Is(err, auth.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "Unauthorized")
	case errors.Is(err, billing.ErrUnknownPackage):
		writeError(w, http.StatusBadRequest, "Invalid package")
	case errors.Is(err, billing.ErrNotConfigured):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, auth.ErrNoProviderToken):
		writeError(w, http.StatusBadRequest, "No Facebook account connected")
	case errors.As(err, &graphErr):
		s.logger.Warn("graph api request failed", "path", r.URL.Path, "status", graphErr.Status, "error", err)
		writeError(w, http.StatusBadGateway, graphErr.Message)
	default:
		s.logger.Error("request failed", "path", r.URL.Path, "request_id", requestID(r.Context()), "error", err)
		if s.metrics != nil {
			s.metrics.Errors.WithLabelValues("http").Inc()
		}
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}
