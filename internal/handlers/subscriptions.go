package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lilacbloom/api/internal/platform/auth"
	"github.com/lilacbloom/api/internal/platform/httpx"
	"github.com/lilacbloom/api/internal/services"
)

const maxSubscriptionRequestBody = 8 * 1024

// SubscriptionHandlers exposes recurring plan checkout and lifecycle endpoints.
type SubscriptionHandlers struct {
	authn         *auth.Authenticator
	checkout      services.CheckoutService
	subscriptions services.SubscriptionService
}

// NewSubscriptionHandlers constructs subscription handlers guarded by Firebase authentication.
func NewSubscriptionHandlers(authn *auth.Authenticator, checkout services.CheckoutService, subscriptions services.SubscriptionService) *SubscriptionHandlers {
	return &SubscriptionHandlers{
		authn:         authn,
		checkout:      checkout,
		subscriptions: subscriptions,
	}
}

// Routes registers subscription endpoints under the provided router.
func (h *SubscriptionHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.RequireFirebaseAuth())
	}
	group.Post("/checkout", h.createSession)
	group.Post("/{subscriptionID}/cancel", h.cancel)
	group.Post("/{subscriptionID}/pause", h.pause)
	group.Post("/{subscriptionID}/resume", h.resume)
}

type subscriptionCheckoutRequest struct {
	Provider string `json:"provider,omitempty"`
	PlanID   string `json:"planId"`
	PlanName string `json:"planName,omitempty"`
	Email    string `json:"email,omitempty"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency,omitempty"`
	Interval string `json:"interval,omitempty"`
}

type subscriptionResponse struct {
	ID            string `json:"id"`
	PlanID        string `json:"planId"`
	PlanName      string `json:"planName,omitempty"`
	Status        string `json:"status"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	Interval      string `json:"interval,omitempty"`
	CancelledAt   string `json:"cancelledAt,omitempty"`
	PendingRemote bool   `json:"pendingRemote,omitempty"`
}

func (h *SubscriptionHandlers) createSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxSubscriptionRequestBody)
	if err != nil {
		writeBodyError(w, r, err)
		return
	}

	var req subscriptionCheckoutRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	email := strings.TrimSpace(req.Email)
	if email == "" {
		email = identity.Email
	}

	session, err := h.checkout.CreateSubscriptionSession(ctx, services.CreateSubscriptionSessionCommand{
		UserID:   identity.UID,
		Provider: strings.TrimSpace(req.Provider),
		PlanID:   strings.TrimSpace(req.PlanID),
		PlanName: strings.TrimSpace(req.PlanName),
		Email:    email,
		Amount:   req.Amount,
		Currency: strings.TrimSpace(req.Currency),
		Interval: strings.TrimSpace(req.Interval),
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, newCheckoutSessionResponse(session))
}

func (h *SubscriptionHandlers) cancel(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.serviceCancel)
}

func (h *SubscriptionHandlers) pause(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.servicePause)
}

func (h *SubscriptionHandlers) resume(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.serviceResume)
}

type lifecycleCall func(ctx context.Context, cmd services.SubscriptionLifecycleCommand) (services.Subscription, error)

func (h *SubscriptionHandlers) serviceCancel(ctx context.Context, cmd services.SubscriptionLifecycleCommand) (services.Subscription, error) {
	return h.subscriptions.Cancel(ctx, cmd)
}

func (h *SubscriptionHandlers) servicePause(ctx context.Context, cmd services.SubscriptionLifecycleCommand) (services.Subscription, error) {
	return h.subscriptions.Pause(ctx, cmd)
}

func (h *SubscriptionHandlers) serviceResume(ctx context.Context, cmd services.SubscriptionLifecycleCommand) (services.Subscription, error) {
	return h.subscriptions.Resume(ctx, cmd)
}

func (h *SubscriptionHandlers) lifecycle(w http.ResponseWriter, r *http.Request, call lifecycleCall) {
	ctx := r.Context()
	if h.subscriptions == nil {
		httpx.WriteError(ctx, w, httpx.NewError("subscription_unavailable", "subscription service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	subscriptionID := strings.TrimSpace(chi.URLParam(r, "subscriptionID"))
	if subscriptionID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "subscription id is required", http.StatusBadRequest))
		return
	}

	sub, err := call(ctx, services.SubscriptionLifecycleCommand{
		SubscriptionID: subscriptionID,
		UserID:         identity.UID,
		Email:          identity.Email,
		Staff:          identity.HasRole("admin"),
	})
	if err != nil {
		writeSubscriptionError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, newSubscriptionResponse(sub))
}

func newSubscriptionResponse(sub services.Subscription) subscriptionResponse {
	resp := subscriptionResponse{
		ID:            sub.ID,
		PlanID:        sub.PlanID,
		PlanName:      sub.PlanName,
		Status:        string(sub.Status),
		Amount:        sub.Amount,
		Currency:      sub.Currency,
		Interval:      sub.Interval,
		PendingRemote: sub.PendingRemote,
	}
	if sub.CancelledAt != nil {
		resp.CancelledAt = sub.CancelledAt.UTC().Format(time.RFC3339)
	}
	return resp
}

func writeSubscriptionError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrSubscriptionInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrSubscriptionNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("subscription_not_found", "subscription not found", http.StatusNotFound))
	case errors.Is(err, services.ErrSubscriptionForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "subscription belongs to another account", http.StatusForbidden))
	case errors.Is(err, services.ErrSubscriptionInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrSubscriptionUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("subscription_unavailable", "subscription service unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("subscription_error", "failed to process subscription request", http.StatusInternalServerError))
	}
}
