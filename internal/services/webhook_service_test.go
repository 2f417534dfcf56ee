package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/lilacbloom/api/internal/domain"
	"github.com/lilacbloom/api/internal/payments"
)

type stubWebhookParser struct {
	event payments.Event
	err   error
}

func (s *stubWebhookParser) ParseWebhookEvent(payload []byte, signature string) (payments.Event, error) {
	return s.event, s.err
}

type stubWebhookOrders struct {
	lastCmd MaterializeOrderCommand
	order   Order
	created bool
	err     error
	calls   int
}

func (s *stubWebhookOrders) MaterializeOrder(ctx context.Context, cmd MaterializeOrderCommand) (Order, bool, error) {
	s.calls++
	s.lastCmd = cmd
	return s.order, s.created, s.err
}

func (s *stubWebhookOrders) ListOrders(ctx context.Context, query OrderListQuery) (OrderPage, error) {
	return OrderPage{}, errors.New("not implemented")
}

func (s *stubWebhookOrders) GetOrder(ctx context.Context, query OrderReadQuery) (Order, error) {
	return Order{}, errors.New("not implemented")
}

func (s *stubWebhookOrders) TransitionStatus(ctx context.Context, cmd OrderStatusCommand) (Order, error) {
	return Order{}, errors.New("not implemented")
}

type stubWebhookGiftCards struct {
	lastCmd IssueGiftCardCommand
	card    GiftCard
	created bool
	err     error
}

func (s *stubWebhookGiftCards) Issue(ctx context.Context, cmd IssueGiftCardCommand) (GiftCard, bool, error) {
	s.lastCmd = cmd
	return s.card, s.created, s.err
}

func (s *stubWebhookGiftCards) Validate(ctx context.Context, code string) (GiftCardStatusView, error) {
	return GiftCardStatusView{}, errors.New("not implemented")
}

func (s *stubWebhookGiftCards) Redeem(ctx context.Context, cmd RedeemGiftCardCommand) (GiftCardRedemptionView, error) {
	return GiftCardRedemptionView{}, errors.New("not implemented")
}

type stubWebhookSubscriptions struct {
	lastCmd MaterializeSubscriptionCommand
	sub     Subscription
	created bool
	err     error
}

func (s *stubWebhookSubscriptions) Materialize(ctx context.Context, cmd MaterializeSubscriptionCommand) (Subscription, bool, error) {
	s.lastCmd = cmd
	return s.sub, s.created, s.err
}

func (s *stubWebhookSubscriptions) Cancel(ctx context.Context, cmd SubscriptionLifecycleCommand) (Subscription, error) {
	return Subscription{}, errors.New("not implemented")
}

func (s *stubWebhookSubscriptions) Pause(ctx context.Context, cmd SubscriptionLifecycleCommand) (Subscription, error) {
	return Subscription{}, errors.New("not implemented")
}

func (s *stubWebhookSubscriptions) Resume(ctx context.Context, cmd SubscriptionLifecycleCommand) (Subscription, error) {
	return Subscription{}, errors.New("not implemented")
}

func (s *stubWebhookSubscriptions) Reconcile(ctx context.Context, limit int) (int, error) {
	return 0, errors.New("not implemented")
}

type webhookFixture struct {
	parser *stubWebhookParser
	orders *stubWebhookOrders
	cards  *stubWebhookGiftCards
	subs   *stubWebhookSubscriptions
	svc    WebhookService
}

func newWebhookFixture(t *testing.T, parser *stubWebhookParser) *webhookFixture {
	t.Helper()
	f := &webhookFixture{
		parser: parser,
		orders: &stubWebhookOrders{created: true},
		cards:  &stubWebhookGiftCards{created: true},
		subs:   &stubWebhookSubscriptions{created: true},
	}
	svc, err := NewWebhookService(WebhookServiceDeps{
		Parser:        f.parser,
		Orders:        f.orders,
		GiftCards:     f.cards,
		Subscriptions: f.subs,
	})
	if err != nil {
		t.Fatalf("NewWebhookService: %v", err)
	}
	f.svc = svc
	return f
}

func completedEvent(t *testing.T, kind domain.CheckoutKind, envelope any, amountTotal int64) payments.Event {
	t.Helper()
	metadata, err := domain.EncodeCheckoutMetadata(kind, envelope)
	if err != nil {
		t.Fatalf("EncodeCheckoutMetadata: %v", err)
	}
	return payments.Event{
		ID:             "evt_1",
		Type:           payments.EventCheckoutCompleted,
		SessionID:      "cs_hook_1",
		SubscriptionID: "sub_remote_1",
		AmountTotal:    amountTotal,
		Currency:       "GBP",
		CustomerEmail:  "rosa@example.com",
		Metadata:       metadata,
		CreatedAt:      time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
	}
}

func TestProcessWebhookRejectsBadSignature(t *testing.T) {
	f := newWebhookFixture(t, &stubWebhookParser{err: payments.ErrInvalidSignature})

	_, err := f.svc.ProcessPaymentWebhook(context.Background(), []byte("{}"), "t=1,v1=bad")
	if !errors.Is(err, ErrWebhookInvalidSignature) {
		t.Fatalf("err = %v, want ErrWebhookInvalidSignature", err)
	}
}

func TestProcessWebhookIgnoresOtherEventTypes(t *testing.T) {
	f := newWebhookFixture(t, &stubWebhookParser{event: payments.Event{
		ID:   "evt_other",
		Type: payments.EventIgnored,
	}})

	result, err := f.svc.ProcessPaymentWebhook(context.Background(), []byte("{}"), "sig")
	if err != nil {
		t.Fatalf("ProcessPaymentWebhook: %v", err)
	}
	if !result.Ignored || result.EventID != "evt_other" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if f.orders.calls != 0 {
		t.Fatal("ignored events must not touch the order service")
	}
}

func TestProcessWebhookMaterializesOrder(t *testing.T) {
	envelope := orderEnvelopeFixture()
	event := completedEvent(t, domain.CheckoutKindOrder, envelope, 9500)
	event.PaymentIntentID = "pi_1"
	f := newWebhookFixture(t, &stubWebhookParser{event: event})
	f.orders.order = Order{ID: "cs_hook_1", Number: "LB-20260314-0001"}

	result, err := f.svc.ProcessPaymentWebhook(context.Background(), []byte("{}"), "sig")
	if err != nil {
		t.Fatalf("ProcessPaymentWebhook: %v", err)
	}
	if result.Kind != domain.CheckoutKindOrder || result.EntityID != "cs_hook_1" || result.Duplicate {
		t.Fatalf("unexpected result: %+v", result)
	}

	cmd := f.orders.lastCmd
	if cmd.SessionID != "cs_hook_1" || cmd.PaymentIntentID != "pi_1" {
		t.Fatalf("identifiers not forwarded: %+v", cmd)
	}
	if cmd.Envelope == nil || cmd.Envelope.Subtotal != 9000 {
		t.Fatalf("envelope not forwarded: %+v", cmd.Envelope)
	}
	if cmd.UserID != "uid-rosa" {
		t.Fatalf("shopper uid not carried from envelope: %q", cmd.UserID)
	}
	if cmd.NeedsReview {
		t.Fatal("clean order must not be flagged for review")
	}
}

func TestProcessWebhookRejectsTotalsMismatch(t *testing.T) {
	envelope := orderEnvelopeFixture()
	event := completedEvent(t, domain.CheckoutKindOrder, envelope, 9400)
	f := newWebhookFixture(t, &stubWebhookParser{event: event})

	_, err := f.svc.ProcessPaymentWebhook(context.Background(), []byte("{}"), "sig")
	if !errors.Is(err, ErrWebhookTotalsMismatch) {
		t.Fatalf("err = %v, want ErrWebhookTotalsMismatch", err)
	}
	if f.orders.calls != 0 {
		t.Fatal("mismatched order must not be materialized")
	}
}

func TestProcessWebhookStoresUnreadableMetadataForReview(t *testing.T) {
	f := newWebhookFixture(t, &stubWebhookParser{event: payments.Event{
		ID:            "evt_garbled",
		Type:          payments.EventCheckoutCompleted,
		SessionID:     "cs_garbled",
		AmountTotal:   4200,
		CustomerEmail: "rosa@example.com",
		Metadata:      map[string]string{"unrelated": "x"},
	}})

	result, err := f.svc.ProcessPaymentWebhook(context.Background(), []byte("{}"), "sig")
	if err != nil {
		t.Fatalf("ProcessPaymentWebhook: %v", err)
	}
	if !result.NeedsReview {
		t.Fatalf("unexpected result: %+v", result)
	}
	if !f.orders.lastCmd.NeedsReview || f.orders.lastCmd.Envelope != nil {
		t.Fatalf("review command malformed: %+v", f.orders.lastCmd)
	}
	if f.orders.lastCmd.AmountTotal != 4200 {
		t.Fatalf("charged amount not preserved: %d", f.orders.lastCmd.AmountTotal)
	}
}

func TestProcessWebhookIssuesGiftCard(t *testing.T) {
	envelope := domain.GiftCardEnvelope{
		Version:        domain.EnvelopeVersion,
		Amount:         5000,
		Currency:       "GBP",
		PurchaserEmail: "buyer@example.com",
		Message:        "Enjoy!",
	}
	event := completedEvent(t, domain.CheckoutKindGiftCard, envelope, 5000)
	f := newWebhookFixture(t, &stubWebhookParser{event: event})
	f.cards.card = GiftCard{Code: "GC-NEW"}

	result, err := f.svc.ProcessPaymentWebhook(context.Background(), []byte("{}"), "sig")
	if err != nil {
		t.Fatalf("ProcessPaymentWebhook: %v", err)
	}
	if result.Kind != domain.CheckoutKindGiftCard || result.EntityID != "GC-NEW" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if f.cards.lastCmd.Amount != 5000 || f.cards.lastCmd.SessionID != "cs_hook_1" {
		t.Fatalf("issue command malformed: %+v", f.cards.lastCmd)
	}
}

func TestProcessWebhookRejectsGiftCardAmountMismatch(t *testing.T) {
	envelope := domain.GiftCardEnvelope{Version: domain.EnvelopeVersion, Amount: 5000, Currency: "GBP", PurchaserEmail: "b@example.com"}
	event := completedEvent(t, domain.CheckoutKindGiftCard, envelope, 4500)
	f := newWebhookFixture(t, &stubWebhookParser{event: event})

	if _, err := f.svc.ProcessPaymentWebhook(context.Background(), []byte("{}"), "sig"); !errors.Is(err, ErrWebhookTotalsMismatch) {
		t.Fatalf("err = %v, want ErrWebhookTotalsMismatch", err)
	}
}

func TestProcessWebhookMaterializesSubscription(t *testing.T) {
	envelope := domain.SubscriptionEnvelope{
		Version:  domain.EnvelopeVersion,
		PlanID:   "weekly-posy",
		PlanName: "Weekly Posy",
		Amount:   2500,
		Currency: "GBP",
		Interval: "week",
	}
	event := completedEvent(t, domain.CheckoutKindSubscription, envelope, 2500)
	f := newWebhookFixture(t, &stubWebhookParser{event: event})
	f.subs.sub = Subscription{ID: "cs_hook_1"}

	result, err := f.svc.ProcessPaymentWebhook(context.Background(), []byte("{}"), "sig")
	if err != nil {
		t.Fatalf("ProcessPaymentWebhook: %v", err)
	}
	if result.Kind != domain.CheckoutKindSubscription || result.EntityID != "cs_hook_1" {
		t.Fatalf("unexpected result: %+v", result)
	}

	cmd := f.subs.lastCmd
	if cmd.ProviderSubID != "sub_remote_1" {
		t.Fatalf("provider reference not forwarded: %+v", cmd)
	}
	if cmd.Email != "rosa@example.com" {
		t.Fatalf("email fallback failed: %s", cmd.Email)
	}
}

func TestProcessWebhookReportsDuplicates(t *testing.T) {
	envelope := orderEnvelopeFixture()
	event := completedEvent(t, domain.CheckoutKindOrder, envelope, 9500)
	f := newWebhookFixture(t, &stubWebhookParser{event: event})
	f.orders.created = false

	result, err := f.svc.ProcessPaymentWebhook(context.Background(), []byte("{}"), "sig")
	if err != nil {
		t.Fatalf("ProcessPaymentWebhook: %v", err)
	}
	if !result.Duplicate {
		t.Fatalf("duplicate not reported: %+v", result)
	}
}
