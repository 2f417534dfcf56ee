package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/lilacbloom/api/internal/domain"
	"github.com/lilacbloom/api/internal/services"
)

type stubGiftCardSvc struct {
	view       services.GiftCardStatusView
	validated  string
	redeemed   services.RedeemGiftCardCommand
	redemption services.GiftCardRedemptionView
	err        error
}

func (s *stubGiftCardSvc) Issue(ctx context.Context, cmd services.IssueGiftCardCommand) (services.GiftCard, bool, error) {
	return services.GiftCard{}, false, errors.New("not implemented")
}

func (s *stubGiftCardSvc) Validate(ctx context.Context, code string) (services.GiftCardStatusView, error) {
	s.validated = code
	return s.view, s.err
}

func (s *stubGiftCardSvc) Redeem(ctx context.Context, cmd services.RedeemGiftCardCommand) (services.GiftCardRedemptionView, error) {
	s.redeemed = cmd
	return s.redemption, s.err
}

func giftCardRouter(checkout services.CheckoutService, cards services.GiftCardService) chi.Router {
	handlers := NewGiftCardHandlers(checkout, cards)
	r := chi.NewRouter()
	handlers.Routes(r)
	return r
}

func TestGiftCardCheckoutHandler(t *testing.T) {
	checkout := &stubCheckoutService{session: services.CheckoutSession{SessionID: "cs_gift", Provider: "stripe"}}
	router := giftCardRouter(checkout, &stubGiftCardSvc{})

	body := `{"amount": 5000, "purchaserEmail": "buyer@example.com", "message": "Enjoy!"}`
	req := httptest.NewRequest(http.MethodPost, "/checkout", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if checkout.lastGiftCmd.Amount != 5000 || checkout.lastGiftCmd.PurchaserEmail != "buyer@example.com" {
		t.Fatalf("command malformed: %+v", checkout.lastGiftCmd)
	}
}

func TestGiftCardValidateHandler(t *testing.T) {
	cards := &stubGiftCardSvc{view: services.GiftCardStatusView{
		Code:             "GC-LIVE",
		Balance:          1250,
		Currency:         "GBP",
		Status:           domain.GiftCardStatusActive,
		FormattedBalance: "£12.50",
	}}
	router := giftCardRouter(&stubCheckoutService{}, cards)

	req := httptest.NewRequest(http.MethodPost, "/validate", strings.NewReader(`{"code": "GC-LIVE"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["code"] != "GC-LIVE" || resp["formattedBalance"] != "£12.50" {
		t.Fatalf("unexpected response: %v", resp)
	}
}

func TestGiftCardValidateHandlerRateLimits(t *testing.T) {
	handlers := NewGiftCardHandlers(&stubCheckoutService{}, &stubGiftCardSvc{view: services.GiftCardStatusView{Code: "GC-LIVE"}})
	handlers.limiter = newSimpleRateLimiter(2, time.Minute, nil)
	r := chi.NewRouter()
	handlers.Routes(r)

	var last int
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/validate", strings.NewReader(`{"code": "GC-LIVE"}`))
		req.RemoteAddr = "203.0.113.7:4242"
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("third attempt status = %d, want 429", last)
	}
}

func TestGiftCardValidateHandlerNotFound(t *testing.T) {
	cards := &stubGiftCardSvc{err: services.ErrGiftCardNotFound}
	router := giftCardRouter(&stubCheckoutService{}, cards)

	req := httptest.NewRequest(http.MethodPost, "/validate", strings.NewReader(`{"code": "GC-NOPE"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestGiftCardRedeemHandler(t *testing.T) {
	cards := &stubGiftCardSvc{redemption: services.GiftCardRedemptionView{
		Card:         services.GiftCard{Code: "GC-LIVE", Status: domain.GiftCardStatusActive},
		Deducted:     500,
		Remaining:    750,
		Insufficient: false,
	}}
	router := giftCardRouter(&stubCheckoutService{}, cards)

	body := `{"code": "GC-LIVE", "amount": 500, "orderRef": "cs_order_1"}`
	req := httptest.NewRequest(http.MethodPost, "/redeem", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if cards.redeemed.Code != "GC-LIVE" || cards.redeemed.Amount != 500 || cards.redeemed.OrderRef != "cs_order_1" {
		t.Fatalf("redeem command malformed: %+v", cards.redeemed)
	}

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["deducted"] != float64(500) || resp["remaining"] != float64(750) {
		t.Fatalf("unexpected response: %v", resp)
	}
}

func TestGiftCardRedeemHandlerNotRedeemable(t *testing.T) {
	cards := &stubGiftCardSvc{err: services.ErrGiftCardNotRedeemable}
	router := giftCardRouter(&stubCheckoutService{}, cards)

	req := httptest.NewRequest(http.MethodPost, "/redeem", strings.NewReader(`{"code": "GC-OFF", "amount": 100}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}
