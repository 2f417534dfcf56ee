package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lilacbloom/api/internal/platform/httpx"
	"github.com/lilacbloom/api/internal/services"
)

const (
	maxGiftCardRequestBody = 8 * 1024

	giftCardValidateLimit  = 20
	giftCardValidateWindow = time.Minute
)

// GiftCardHandlers exposes gift card purchase, validation, and redemption endpoints.
type GiftCardHandlers struct {
	checkout  services.CheckoutService
	giftCards services.GiftCardService
	limiter   rateLimiter
}

// NewGiftCardHandlers constructs gift card handlers. Validation is rate limited
// per client IP to slow down code guessing.
func NewGiftCardHandlers(checkout services.CheckoutService, giftCards services.GiftCardService) *GiftCardHandlers {
	return &GiftCardHandlers{
		checkout:  checkout,
		giftCards: giftCards,
		limiter:   newSimpleRateLimiter(giftCardValidateLimit, giftCardValidateWindow, nil),
	}
}

// Routes registers gift card endpoints under the provided router.
func (h *GiftCardHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/checkout", h.createSession)
	r.Post("/validate", h.validate)
	r.Post("/redeem", h.redeem)
}

type giftCardCheckoutRequest struct {
	Provider       string `json:"provider,omitempty"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency,omitempty"`
	PurchaserEmail string `json:"purchaserEmail"`
	RecipientEmail string `json:"recipientEmail,omitempty"`
	Message        string `json:"message,omitempty"`
}

type giftCardValidateRequest struct {
	Code string `json:"code"`
}

type giftCardStatusResponse struct {
	Code             string `json:"code"`
	Balance          int64  `json:"balance"`
	Currency         string `json:"currency"`
	Status           string `json:"status"`
	FormattedBalance string `json:"formattedBalance"`
}

type giftCardRedeemRequest struct {
	Code     string `json:"code"`
	Amount   int64  `json:"amount"`
	OrderRef string `json:"orderRef,omitempty"`
}

type giftCardRedeemResponse struct {
	Code         string `json:"code"`
	Deducted     int64  `json:"deducted"`
	Remaining    int64  `json:"remaining"`
	Insufficient bool   `json:"insufficient"`
	Status       string `json:"status"`
}

func (h *GiftCardHandlers) createSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxGiftCardRequestBody)
	if err != nil {
		writeBodyError(w, r, err)
		return
	}

	var req giftCardCheckoutRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	session, err := h.checkout.CreateGiftCardSession(ctx, services.CreateGiftCardSessionCommand{
		Provider:       strings.TrimSpace(req.Provider),
		Amount:         req.Amount,
		Currency:       strings.TrimSpace(req.Currency),
		PurchaserEmail: strings.TrimSpace(req.PurchaserEmail),
		RecipientEmail: strings.TrimSpace(req.RecipientEmail),
		Message:        req.Message,
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, newCheckoutSessionResponse(session))
}

func (h *GiftCardHandlers) validate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.giftCards == nil {
		httpx.WriteError(ctx, w, httpx.NewError("giftcard_unavailable", "gift card service unavailable", http.StatusServiceUnavailable))
		return
	}

	if h.limiter != nil && !h.limiter.Allow(clientKey(r)) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many validation attempts", http.StatusTooManyRequests))
		return
	}

	body, err := readLimitedBody(r, maxGiftCardRequestBody)
	if err != nil {
		writeBodyError(w, r, err)
		return
	}

	var req giftCardValidateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	view, err := h.giftCards.Validate(ctx, req.Code)
	if err != nil {
		writeGiftCardError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, giftCardStatusResponse{
		Code:             view.Code,
		Balance:          view.Balance,
		Currency:         view.Currency,
		Status:           string(view.Status),
		FormattedBalance: view.FormattedBalance,
	})
}

func (h *GiftCardHandlers) redeem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.giftCards == nil {
		httpx.WriteError(ctx, w, httpx.NewError("giftcard_unavailable", "gift card service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxGiftCardRequestBody)
	if err != nil {
		writeBodyError(w, r, err)
		return
	}

	var req giftCardRedeemRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	view, err := h.giftCards.Redeem(ctx, services.RedeemGiftCardCommand{
		Code:     strings.TrimSpace(req.Code),
		Amount:   req.Amount,
		OrderRef: strings.TrimSpace(req.OrderRef),
	})
	if err != nil {
		writeGiftCardError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, giftCardRedeemResponse{
		Code:         view.Card.Code,
		Deducted:     view.Deducted,
		Remaining:    view.Remaining,
		Insufficient: view.Insufficient,
		Status:       string(view.Card.Status),
	})
}

func writeGiftCardError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrGiftCardInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrGiftCardNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("giftcard_not_found", "gift card not found", http.StatusNotFound))
	case errors.Is(err, services.ErrGiftCardNotRedeemable):
		httpx.WriteError(ctx, w, httpx.NewError("giftcard_not_redeemable", "gift card cannot be redeemed", http.StatusConflict))
	case errors.Is(err, services.ErrGiftCardUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("giftcard_unavailable", "gift card service unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("giftcard_error", "failed to process gift card request", http.StatusInternalServerError))
	}
}

func clientKey(r *http.Request) string {
	if r == nil {
		return ""
	}
	return strings.TrimSpace(r.RemoteAddr)
}
