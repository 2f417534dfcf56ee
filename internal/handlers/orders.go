package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/lilacbloom/api/internal/domain"
	"github.com/lilacbloom/api/internal/platform/auth"
	"github.com/lilacbloom/api/internal/platform/httpx"
	"github.com/lilacbloom/api/internal/services"
)

const maxOrderStatusBody = 4 * 1024

// OrderHandlers serves the authenticated order read surface and the staff
// status transition endpoint.
type OrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

// NewOrderHandlers constructs order handlers guarded by Firebase authentication.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{
		authn:  authn,
		orders: orders,
	}
}

// Routes registers order endpoints under the provided router.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.RequireFirebaseAuth())
	}
	group.Get("/", h.list)
	group.Get("/{orderID}", h.get)

	staff := r
	if h.authn != nil {
		staff = staff.With(h.authn.RequireFirebaseAuth("admin"))
	}
	staff.Post("/{orderID}/status", h.transitionStatus)
}

type orderItemResponse struct {
	ProductID   string `json:"productId"`
	VariantID   string `json:"variantId,omitempty"`
	Name        string `json:"name"`
	UnitPrice   int64  `json:"unitPrice"`
	Quantity    int    `json:"quantity"`
	GiftMessage string `json:"giftMessage,omitempty"`
}

type orderDeliveryResponse struct {
	Date     string `json:"date,omitempty"`
	Method   string `json:"method,omitempty"`
	Postcode string `json:"postcode,omitempty"`
	Fee      int64  `json:"fee"`
}

type orderResponse struct {
	ID            string                 `json:"id"`
	Number        string                 `json:"number"`
	Status        string                 `json:"status"`
	PaymentStatus string                 `json:"paymentStatus"`
	Items         []orderItemResponse    `json:"items,omitempty"`
	Delivery      *orderDeliveryResponse `json:"delivery,omitempty"`
	CouponCode    string                 `json:"couponCode,omitempty"`
	Subtotal      int64                  `json:"subtotal"`
	DeliveryFee   int64                  `json:"deliveryFee"`
	Discount      int64                  `json:"discount"`
	Total         int64                  `json:"total"`
	Currency      string                 `json:"currency"`
	LoyaltyPoints int64                  `json:"loyaltyPoints"`
	NeedsReview   bool                   `json:"needsReview,omitempty"`
	CreatedAt     string                 `json:"createdAt"`
}

type orderListResponse struct {
	Orders        []orderResponse `json:"orders"`
	NextPageToken string          `json:"nextPageToken,omitempty"`
}

type orderStatusRequest struct {
	Status string `json:"status"`
}

func (h *OrderHandlers) list(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("orders_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "limit must be a non-negative integer", http.StatusBadRequest))
			return
		}
		limit = parsed
	}

	page, err := h.orders.ListOrders(ctx, services.OrderListQuery{
		UserID:    identity.UID,
		Email:     identity.Email,
		Limit:     limit,
		PageToken: strings.TrimSpace(r.URL.Query().Get("pageToken")),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	resp := orderListResponse{
		Orders:        make([]orderResponse, 0, len(page.Orders)),
		NextPageToken: page.NextPageToken,
	}
	for _, order := range page.Orders {
		resp.Orders = append(resp.Orders, newOrderResponse(order))
	}

	writeJSONResponse(w, http.StatusOK, resp)
}

func (h *OrderHandlers) get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("orders_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(ctx, services.OrderReadQuery{
		OrderID: strings.TrimSpace(chi.URLParam(r, "orderID")),
		UserID:  identity.UID,
		Email:   identity.Email,
		Staff:   identity.HasRole("admin"),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, newOrderResponse(order))
}

func (h *OrderHandlers) transitionStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("orders_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxOrderStatusBody)
	if err != nil {
		writeBodyError(w, r, err)
		return
	}

	var req orderStatusRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	order, err := h.orders.TransitionStatus(ctx, services.OrderStatusCommand{
		OrderID: strings.TrimSpace(chi.URLParam(r, "orderID")),
		Status:  domain.OrderStatus(strings.TrimSpace(req.Status)),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, newOrderResponse(order))
}

func newOrderResponse(order services.Order) orderResponse {
	resp := orderResponse{
		ID:            order.ID,
		Number:        order.Number,
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		CouponCode:    order.CouponCode,
		Subtotal:      order.Subtotal,
		DeliveryFee:   order.DeliveryFee,
		Discount:      order.Discount,
		Total:         order.Total,
		Currency:      order.Currency,
		LoyaltyPoints: order.LoyaltyPoints,
		NeedsReview:   order.NeedsReview,
		CreatedAt:     order.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	for _, item := range order.Items {
		resp.Items = append(resp.Items, orderItemResponse{
			ProductID:   item.ProductID,
			VariantID:   item.VariantID,
			Name:        item.Name,
			UnitPrice:   item.UnitPrice,
			Quantity:    item.Quantity,
			GiftMessage: item.GiftMessage,
		})
	}
	if order.Delivery != nil {
		resp.Delivery = &orderDeliveryResponse{
			Date:     order.Delivery.Date,
			Method:   order.Delivery.Method,
			Postcode: order.Delivery.Postcode,
			Fee:      order.Delivery.Fee,
		}
	}
	return resp
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "order belongs to another account", http.StatusForbidden))
	case errors.Is(err, services.ErrOrderInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("orders_unavailable", "order service unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}
