package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/lilacbloom/api/internal/platform/httpx"
	"github.com/lilacbloom/api/internal/services"
)

// Stripe caps event payloads well below this; anything larger is not a webhook.
const maxWebhookBody = 1 << 20

const signatureHeader = "Stripe-Signature"

// WebhookHandlers receives signed payment provider deliveries.
type WebhookHandlers struct {
	webhooks services.WebhookService
}

// NewWebhookHandlers constructs webhook handlers.
func NewWebhookHandlers(webhooks services.WebhookService) *WebhookHandlers {
	return &WebhookHandlers{webhooks: webhooks}
}

// Routes registers webhook endpoints under the provided router.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payment", h.payment)
}

type webhookResponse struct {
	EventID     string `json:"eventId,omitempty"`
	Kind        string `json:"kind,omitempty"`
	EntityID    string `json:"entityId,omitempty"`
	Duplicate   bool   `json:"duplicate,omitempty"`
	Ignored     bool   `json:"ignored,omitempty"`
	NeedsReview bool   `json:"needsReview,omitempty"`
}

func (h *WebhookHandlers) payment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.webhooks == nil {
		httpx.WriteError(ctx, w, httpx.NewError("webhook_unavailable", "webhook service unavailable", http.StatusServiceUnavailable))
		return
	}

	signature := strings.TrimSpace(r.Header.Get(signatureHeader))
	if signature == "" {
		httpx.WriteError(ctx, w, httpx.NewError("missing_signature", "signature header is required", http.StatusUnauthorized))
		return
	}

	// The signature covers the raw bytes, so the body is read verbatim rather
	// than decoded first.
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "failed to read request body", http.StatusBadRequest))
		return
	}
	if len(payload) == 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is empty", http.StatusBadRequest))
		return
	}
	if len(payload) > maxWebhookBody {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body exceeds the allowed size", http.StatusRequestEntityTooLarge))
		return
	}

	result, err := h.webhooks.ProcessPaymentWebhook(ctx, payload, signature)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrWebhookInvalidSignature):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusUnauthorized))
		case errors.Is(err, services.ErrWebhookInvalidPayload):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_payload", "webhook payload could not be processed", http.StatusBadRequest))
		case errors.Is(err, services.ErrWebhookTotalsMismatch):
			httpx.WriteError(ctx, w, httpx.NewError("totals_mismatch", "checkout totals disagree with the amount charged", http.StatusBadRequest))
		default:
			// Returning 5xx makes the provider retry the delivery.
			httpx.WriteError(ctx, w, httpx.NewError("webhook_unavailable", "webhook could not be processed", http.StatusServiceUnavailable))
		}
		return
	}

	writeJSONResponse(w, http.StatusOK, webhookResponse{
		EventID:     result.EventID,
		Kind:        string(result.Kind),
		EntityID:    result.EntityID,
		Duplicate:   result.Duplicate,
		Ignored:     result.Ignored,
		NeedsReview: result.NeedsReview,
	})
}
