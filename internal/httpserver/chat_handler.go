package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"

	"aigency/internal/agent"
)

// sseWriter writes "data: {json}\n\n" frames and flushes after each.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) *sseWriter {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	return &sseWriter{w: w, flusher: flusher}
}

func (s *sseWriter) send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return s.raw(data)
}

func (s *sseWriter) raw(data []byte) error {
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req agent.ChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	user := currentUser(r)

	turn, err := s.deps.Agent.Prepare(r.Context(), user.ID, req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	stream := newSSEWriter(w)
	writeFailed := false
	emit := func(e agent.Event) {
		if writeFailed {
			return
		}
		if err := stream.send(e); err != nil {
			// Client went away; the run stops when the request context is cancelled.
			writeFailed = true
		}
	}

	if err := s.deps.Agent.Run(r.Context(), turn, emit); err != nil {
		s.logger.Warn("chat turn ended with error", "user_id", user.ID, "project_id", turn.ProjectID, "error", err)
	}
	if !writeFailed {
		_ = stream.raw([]byte("[DONE]"))
	}
}
