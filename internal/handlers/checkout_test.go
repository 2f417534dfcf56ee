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

	"github.com/lilacbloom/api/internal/platform/auth"
	"github.com/lilacbloom/api/internal/services"
)

type stubCheckoutService struct {
	lastOrderCmd services.CreateOrderSessionCommand
	lastGiftCmd  services.CreateGiftCardSessionCommand
	lastSubCmd   services.CreateSubscriptionSessionCommand
	session      services.CheckoutSession
	err          error
}

func (s *stubCheckoutService) CreateOrderSession(ctx context.Context, cmd services.CreateOrderSessionCommand) (services.CheckoutSession, error) {
	s.lastOrderCmd = cmd
	return s.session, s.err
}

func (s *stubCheckoutService) CreateGiftCardSession(ctx context.Context, cmd services.CreateGiftCardSessionCommand) (services.CheckoutSession, error) {
	s.lastGiftCmd = cmd
	return s.session, s.err
}

func (s *stubCheckoutService) CreateSubscriptionSession(ctx context.Context, cmd services.CreateSubscriptionSessionCommand) (services.CheckoutSession, error) {
	s.lastSubCmd = cmd
	return s.session, s.err
}

func identityRequest(method, target, body string, identity *auth.Identity) *http.Request {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if identity != nil {
		req = req.WithContext(auth.WithIdentity(req.Context(), identity))
	}
	return req
}

func checkoutRouter(svc services.CheckoutService) chi.Router {
	handlers := NewCheckoutHandlers(nil, svc)
	r := chi.NewRouter()
	handlers.Routes(r)
	return r
}

func TestCreateOrderSessionHandler(t *testing.T) {
	svc := &stubCheckoutService{session: services.CheckoutSession{
		SessionID:   "cs_handler",
		Provider:    "stripe",
		RedirectURL: "https://checkout.stripe.test/cs_handler",
		ExpiresAt:   time.Date(2026, 3, 14, 11, 0, 0, 0, time.UTC),
	}}
	router := checkoutRouter(svc)

	body := `{
		"items": [{"productId": "roses-12", "name": "Dozen Red Roses", "unitPrice": 4500, "quantity": 2}],
		"delivery": {"date": "2026-03-20", "method": "courier", "postcode": "SW1A 1AA", "fee": 500},
		"coupon": {"code": "SPRING10", "discount": 1000},
		"billing": {"name": "Rosa Vane", "email": "rosa@example.com"}
	}`
	req := identityRequest(http.MethodPost, "/", body, &auth.Identity{UID: "uid-1", Email: "rosa@example.com"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["sessionId"] != "cs_handler" || resp["url"] != "https://checkout.stripe.test/cs_handler" {
		t.Fatalf("unexpected response: %v", resp)
	}

	cmd := svc.lastOrderCmd
	if cmd.UserID != "uid-1" {
		t.Fatalf("uid not forwarded: %s", cmd.UserID)
	}
	if cmd.Cart.Subtotal() != 9000 || cmd.Cart.Discount != 1000 {
		t.Fatalf("cart snapshot wrong: subtotal=%d discount=%d", cmd.Cart.Subtotal(), cmd.Cart.Discount)
	}
	if cmd.Cart.Delivery == nil || cmd.Cart.Delivery.Fee != 500 {
		t.Fatalf("delivery not forwarded: %+v", cmd.Cart.Delivery)
	}
}

func TestCreateOrderSessionHandlerAllowsGuests(t *testing.T) {
	svc := &stubCheckoutService{session: services.CheckoutSession{SessionID: "cs_guest"}}
	router := checkoutRouter(svc)

	body := `{"items": [{"productId": "p", "name": "n", "unitPrice": 100, "quantity": 1}], "billing": {"email": "guest@example.com"}}`
	req := identityRequest(http.MethodPost, "/", body, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if svc.lastOrderCmd.UserID != "" {
		t.Fatalf("guest checkout must not carry a uid: %q", svc.lastOrderCmd.UserID)
	}
	if svc.lastOrderCmd.Billing.Email != "guest@example.com" {
		t.Fatalf("billing email lost: %q", svc.lastOrderCmd.Billing.Email)
	}
}

func TestCreateOrderSessionHandlerMapsEmptyCart(t *testing.T) {
	svc := &stubCheckoutService{err: services.ErrCheckoutEmptyCart}
	router := checkoutRouter(svc)

	body := `{"billing": {"email": "rosa@example.com"}}`
	req := identityRequest(http.MethodPost, "/", body, &auth.Identity{UID: "uid-1"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "empty_cart") {
		t.Fatalf("error code missing: %s", rec.Body.String())
	}
}

func TestCreateOrderSessionHandlerMapsProviderFailure(t *testing.T) {
	svc := &stubCheckoutService{err: services.ErrCheckoutPaymentFailed}
	router := checkoutRouter(svc)

	body := `{"items": [{"productId": "p", "name": "n", "unitPrice": 100, "quantity": 1}], "billing": {"email": "r@example.com"}}`
	req := identityRequest(http.MethodPost, "/", body, &auth.Identity{UID: "uid-1"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
}

func TestCreateOrderSessionHandlerRejectsBadJSON(t *testing.T) {
	router := checkoutRouter(&stubCheckoutService{})

	req := identityRequest(http.MethodPost, "/", "{not json", &auth.Identity{UID: "uid-1"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestCreateOrderSessionHandlerFallsBackToIdentityEmail(t *testing.T) {
	svc := &stubCheckoutService{session: services.CheckoutSession{SessionID: "cs_x"}}
	router := checkoutRouter(svc)

	body := `{"items": [{"productId": "p", "name": "n", "unitPrice": 100, "quantity": 1}], "billing": {"name": "Rosa"}}`
	req := identityRequest(http.MethodPost, "/", body, &auth.Identity{UID: "uid-1", Email: "rosa@example.com"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if svc.lastOrderCmd.Billing.Email != "rosa@example.com" {
		t.Fatalf("identity email fallback failed: %q", svc.lastOrderCmd.Billing.Email)
	}
}
