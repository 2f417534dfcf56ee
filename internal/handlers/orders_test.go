package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/lilacbloom/api/internal/domain"
	"github.com/lilacbloom/api/internal/platform/auth"
	"github.com/lilacbloom/api/internal/services"
)

type stubOrderSvc struct {
	lastList   services.OrderListQuery
	lastRead   services.OrderReadQuery
	lastStatus services.OrderStatusCommand
	page       services.OrderPage
	order      services.Order
	err        error
}

func (s *stubOrderSvc) MaterializeOrder(ctx context.Context, cmd services.MaterializeOrderCommand) (services.Order, bool, error) {
	return services.Order{}, false, nil
}

func (s *stubOrderSvc) ListOrders(ctx context.Context, query services.OrderListQuery) (services.OrderPage, error) {
	s.lastList = query
	return s.page, s.err
}

func (s *stubOrderSvc) GetOrder(ctx context.Context, query services.OrderReadQuery) (services.Order, error) {
	s.lastRead = query
	return s.order, s.err
}

func (s *stubOrderSvc) TransitionStatus(ctx context.Context, cmd services.OrderStatusCommand) (services.Order, error) {
	s.lastStatus = cmd
	return s.order, s.err
}

func orderRouter(svc services.OrderService) chi.Router {
	handlers := NewOrderHandlers(nil, svc)
	r := chi.NewRouter()
	handlers.Routes(r)
	return r
}

func sampleOrder() services.Order {
	return services.Order{
		ID:            "cs_order_1",
		Number:        "LB-20260314-0001",
		Status:        domain.OrderStatusConfirmed,
		PaymentStatus: domain.PaymentStatusPaid,
		Items: []domain.OrderItem{
			{ProductID: "roses-12", Name: "Dozen Red Roses", UnitPrice: 4500, Quantity: 2},
		},
		Delivery:      &domain.DeliveryDetails{Date: "2026-03-20", Method: "courier", Postcode: "SW1A 1AA", Fee: 500},
		Subtotal:      9000,
		DeliveryFee:   500,
		Total:         9500,
		Currency:      "GBP",
		LoyaltyPoints: 95,
		CreatedAt:     time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
	}
}

func TestListOrdersHandler(t *testing.T) {
	svc := &stubOrderSvc{page: services.OrderPage{
		Orders:        []services.Order{sampleOrder()},
		NextPageToken: "cursor-1",
	}}
	router := orderRouter(svc)

	req := identityRequest(http.MethodGet, "/?limit=5&pageToken=cursor-0", "", &auth.Identity{UID: "uid-1", Email: "rosa@example.com"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if svc.lastList.UserID != "uid-1" || svc.lastList.Limit != 5 || svc.lastList.PageToken != "cursor-0" {
		t.Fatalf("query malformed: %+v", svc.lastList)
	}

	var resp orderListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Orders) != 1 || resp.Orders[0].Number != "LB-20260314-0001" {
		t.Fatalf("unexpected orders: %+v", resp.Orders)
	}
	if resp.NextPageToken != "cursor-1" {
		t.Fatalf("cursor not forwarded: %s", resp.NextPageToken)
	}
}

func TestListOrdersHandlerRejectsBadLimit(t *testing.T) {
	router := orderRouter(&stubOrderSvc{})

	req := identityRequest(http.MethodGet, "/?limit=nope", "", &auth.Identity{UID: "uid-1"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestGetOrderHandler(t *testing.T) {
	svc := &stubOrderSvc{order: sampleOrder()}
	router := orderRouter(svc)

	req := identityRequest(http.MethodGet, "/cs_order_1", "", &auth.Identity{UID: "uid-1", Roles: []string{"admin"}})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if svc.lastRead.OrderID != "cs_order_1" || !svc.lastRead.Staff {
		t.Fatalf("read query malformed: %+v", svc.lastRead)
	}
}

func TestGetOrderHandlerForbidden(t *testing.T) {
	svc := &stubOrderSvc{err: services.ErrOrderForbidden}
	router := orderRouter(svc)

	req := identityRequest(http.MethodGet, "/cs_other", "", &auth.Identity{UID: "uid-2"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestTransitionStatusHandler(t *testing.T) {
	svc := &stubOrderSvc{order: sampleOrder()}
	router := orderRouter(svc)

	req := identityRequest(http.MethodPost, "/cs_order_1/status", `{"status": "preparing"}`, &auth.Identity{UID: "staff-1", Roles: []string{"admin"}})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if svc.lastStatus.OrderID != "cs_order_1" || svc.lastStatus.Status != domain.OrderStatusPreparing {
		t.Fatalf("status command malformed: %+v", svc.lastStatus)
	}
}

func TestTransitionStatusHandlerInvalidTransition(t *testing.T) {
	svc := &stubOrderSvc{err: services.ErrOrderInvalidTransition}
	router := orderRouter(svc)

	req := identityRequest(http.MethodPost, "/cs_order_1/status", `{"status": "delivered"}`, &auth.Identity{UID: "staff-1"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "invalid_transition") {
		t.Fatalf("error code missing: %s", rec.Body.String())
	}
}
