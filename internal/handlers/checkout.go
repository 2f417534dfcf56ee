package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lilacbloom/api/internal/cart"
	"github.com/lilacbloom/api/internal/platform/auth"
	"github.com/lilacbloom/api/internal/platform/httpx"
	"github.com/lilacbloom/api/internal/services"
)

const maxCheckoutRequestBody = 32 * 1024

// CheckoutHandlers exposes the hosted payment session endpoint for cart purchases.
type CheckoutHandlers struct {
	authn    *auth.Authenticator
	checkout services.CheckoutService
}

// NewCheckoutHandlers constructs checkout handlers. Checkout is open to
// guests; a bearer token, when supplied, links the resulting order to the
// shopper's account.
func NewCheckoutHandlers(authn *auth.Authenticator, checkout services.CheckoutService) *CheckoutHandlers {
	return &CheckoutHandlers{
		authn:    authn,
		checkout: checkout,
	}
}

// Routes registers checkout endpoints under the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.OptionalFirebaseAuth())
	}
	group.Post("/", h.createOrderSession)
}

type checkoutItemPayload struct {
	ProductID   string `json:"productId"`
	VariantID   string `json:"variantId,omitempty"`
	Name        string `json:"name"`
	UnitPrice   int64  `json:"unitPrice"`
	Quantity    int    `json:"quantity"`
	GiftMessage string `json:"giftMessage,omitempty"`
}

type checkoutDeliveryPayload struct {
	Date     string `json:"date"`
	Method   string `json:"method"`
	Postcode string `json:"postcode"`
	Fee      int64  `json:"fee"`
}

type checkoutOrderRequest struct {
	Provider  string                   `json:"provider,omitempty"`
	Currency  string                   `json:"currency,omitempty"`
	Items     []checkoutItemPayload    `json:"items"`
	Delivery  *checkoutDeliveryPayload `json:"delivery,omitempty"`
	Coupon    *checkoutCouponPayload   `json:"coupon,omitempty"`
	Billing   contactPayload           `json:"billing"`
	Recipient *contactPayload          `json:"recipient,omitempty"`
}

type checkoutCouponPayload struct {
	Code     string `json:"code"`
	Discount int64  `json:"discount"`
}

type checkoutSessionResponse struct {
	SessionID string `json:"sessionId"`
	Provider  string `json:"provider"`
	URL       string `json:"url"`
	ExpiresAt string `json:"expiresAt,omitempty"`
}

func (h *CheckoutHandlers) createOrderSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxCheckoutRequestBody)
	if err != nil {
		writeBodyError(w, r, err)
		return
	}

	var req checkoutOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	snapshot, err := buildCartSnapshot(req)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	cmd := services.CreateOrderSessionCommand{
		Provider: strings.TrimSpace(req.Provider),
		Cart:     snapshot,
		Billing:  req.Billing.toContact(),
		Currency: strings.TrimSpace(req.Currency),
	}
	if identity, ok := auth.IdentityFromContext(ctx); ok {
		cmd.UserID = identity.UID
		if cmd.Billing.Email == "" {
			cmd.Billing.Email = identity.Email
		}
	}
	if req.Recipient != nil {
		recipient := req.Recipient.toContact()
		cmd.Recipient = &recipient
	}

	session, err := h.checkout.CreateOrderSession(ctx, cmd)
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, newCheckoutSessionResponse(session))
}

func buildCartSnapshot(req checkoutOrderRequest) (cart.Cart, error) {
	var snapshot cart.Cart
	for _, item := range req.Items {
		if err := snapshot.AddItem(cart.Item{
			ProductID:   strings.TrimSpace(item.ProductID),
			VariantID:   strings.TrimSpace(item.VariantID),
			Name:        strings.TrimSpace(item.Name),
			UnitPrice:   item.UnitPrice,
			Quantity:    item.Quantity,
			GiftMessage: item.GiftMessage,
		}); err != nil {
			return cart.Cart{}, err
		}
	}
	if req.Delivery != nil {
		snapshot.SetDelivery(cart.Delivery{
			Date:     strings.TrimSpace(req.Delivery.Date),
			Method:   strings.TrimSpace(req.Delivery.Method),
			Postcode: strings.TrimSpace(req.Delivery.Postcode),
			Fee:      req.Delivery.Fee,
		})
	}
	if req.Coupon != nil {
		if err := snapshot.ApplyCoupon(req.Coupon.Code, req.Coupon.Discount); err != nil {
			return cart.Cart{}, err
		}
	}
	return snapshot, nil
}

func newCheckoutSessionResponse(session services.CheckoutSession) checkoutSessionResponse {
	resp := checkoutSessionResponse{
		SessionID: session.SessionID,
		Provider:  session.Provider,
		URL:       session.RedirectURL,
	}
	if !session.ExpiresAt.IsZero() {
		resp.ExpiresAt = session.ExpiresAt.UTC().Format(time.RFC3339Nano)
	}
	return resp
}

func writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCheckoutEmptyCart):
		httpx.WriteError(ctx, w, httpx.NewError("empty_cart", "cart has no items", http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutInvalidContact):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_contact", "a valid billing email is required", http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutSubscriptionExists):
		httpx.WriteError(ctx, w, httpx.NewError("subscription_exists", "an active subscription already exists for this email", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutPaymentFailed):
		httpx.WriteError(ctx, w, httpx.NewError("payment_failed", "payment session could not be created", http.StatusBadGateway))
	case errors.Is(err, services.ErrCheckoutUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "failed to process checkout request", http.StatusInternalServerError))
	}
}
