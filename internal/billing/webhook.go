package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"

	"aigency/internal/metrics"
	"aigency/internal/repo"
)

const maxWebhookBodyBytes = 65536

// EventCheckoutCompleted is the Stripe event that grants credits.
const EventCheckoutCompleted = "checkout.session.completed"

// WebhookProcessor handles verified Stripe events.
type WebhookProcessor interface {
	HandleStripeEvent(ctx context.Context, event stripe.Event) error
}

// WebhookHandler verifies the Stripe-Signature header and forwards events.
type WebhookHandler struct {
	logger    *slog.Logger
	metrics   *metrics.Metrics
	secret    string
	processor WebhookProcessor
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(logger *slog.Logger, metrics *metrics.Metrics, secret string, processor WebhookProcessor) *WebhookHandler {
	return &WebhookHandler{
		logger:    logger.With("component", "stripe_webhook"),
		metrics:   metrics,
		secret:    secret,
		processor: processor,
	}
}

// ServeHTTP satisfies http.Handler.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
	if err != nil {
		h.countError("stripe_webhook")
		writeJSONError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	defer r.Body.Close()

	event, err := webhook.ConstructEventWithOptions(body, r.Header.Get("Stripe-Signature"), h.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		h.logger.Warn("stripe signature rejected", "error", err)
		h.count("unknown", "invalid_signature")
		writeJSONError(w, http.StatusBadRequest, "invalid signature")
		return
	}

	eventType := string(event.Type)
	if h.processor != nil {
		if err := h.processor.HandleStripeEvent(r.Context(), event); err != nil {
			h.logger.Error("failed processing webhook", "error", err, "event", eventType, "event_id", event.ID)
			h.count(eventType, "error")
			h.countError("stripe_webhook_process")
			writeJSONError(w, http.StatusInternalServerError, "failed to process")
			return
		}
	}
	h.count(eventType, "ok")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"received":true}`))
}

func (h *WebhookHandler) count(eventType, outcome string) {
	if h.metrics != nil {
		h.metrics.StripeWebhooks.WithLabelValues(eventType, outcome).Inc()
	}
}

func (h *WebhookHandler) countError(op string) {
	if h.metrics != nil {
		h.metrics.Errors.WithLabelValues(op).Inc()
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// CreditProcessor grants purchased credits once per Stripe event.
type CreditProcessor struct {
	store   Store
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewCreditProcessor creates the processor that credits completed checkouts.
func NewCreditProcessor(store Store, metrics *metrics.Metrics, logger *slog.Logger) *CreditProcessor {
	return &CreditProcessor{
		store:   store,
		metrics: metrics,
		logger:  logger.With("component", "credit_processor"),
	}
}

// HandleStripeEvent increments the buyer's credits for completed checkouts. Replayed
// event ids are acknowledged without crediting again.
func (p *CreditProcessor) HandleStripeEvent(ctx context.Context, event stripe.Event) error {
	if string(event.Type) != EventCheckoutCompleted {
		return nil
	}
	if event.Data == nil {
		return fmt.Errorf("event %s has no data", event.ID)
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return fmt.Errorf("decode checkout session: %w", err)
	}

	userID := sess.Metadata["userId"]
	credits, _ := strconv.ParseInt(sess.Metadata["credits"], 10, 64)
	if userID == "" || credits <= 0 {
		p.logger.Warn("checkout session without credit metadata", "event_id", event.ID, "session_id", sess.ID)
		return nil
	}

	var (
		balance int64
		fresh   bool
	)
	err := p.store.InTx(ctx, func(q repo.Queries) error {
		var err error
		fresh, err = q.RecordStripeEvent(ctx, event.ID, string(event.Type))
		if err != nil || !fresh {
			return err
		}
		balance, err = q.AddCredits(ctx, userID, credits)
		return err
	})
	if errors.Is(err, repo.ErrNotFound) {
		p.logger.Warn("checkout session for unknown user", "event_id", event.ID, "user_id", userID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("grant credits: %w", err)
	}
	if !fresh {
		p.logger.Info("duplicate stripe event ignored", "event_id", event.ID)
		return nil
	}

	if p.metrics != nil {
		p.metrics.CreditsGranted.Add(float64(credits))
	}
	p.logger.Info("credits granted", "user_id", userID, "credits", credits, "balance", balance, "event_id", event.ID)
	return nil
}
