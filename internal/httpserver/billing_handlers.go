package httpserver

import (
	"net/http"

	"aigency/internal/billing"
)

func (s *Server) handleCreditPackages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"packages": s.deps.Billing.Packages()})
}

func (s *Server) handleCreditBalance(w http.ResponseWriter, r *http.Request) {
	// Re-read so credits granted by the webhook show up without a new session.
	user, err := s.deps.Repository.GetUserByID(r.Context(), currentUser(r).ID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"credits": user.Credits})
}

type checkoutInput struct {
	PackageID string `json:"packageId" validate:"required"`
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var in checkoutInput
	if err := decodeJSON(w, r, &in); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if _, err := billing.FindPackage(s.deps.Billing.Packages(), in.PackageID); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	url, err := s.deps.Billing.Checkout(r.Context(), currentUser(r), in.PackageID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}
