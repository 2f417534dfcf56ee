package services

import (
	"context"
	"errors"
	"time"

	domain "github.com/lilacbloom/api/internal/domain"
	"github.com/lilacbloom/api/internal/payments"
)

var (
	// ErrWebhookInvalidSignature indicates the delivery failed signature verification.
	ErrWebhookInvalidSignature = errors.New("webhook: invalid signature")
	// ErrWebhookInvalidPayload indicates the delivery body could not be processed.
	ErrWebhookInvalidPayload = errors.New("webhook: invalid payload")
	// ErrWebhookTotalsMismatch indicates the envelope totals disagree with the amount charged.
	ErrWebhookTotalsMismatch = errors.New("webhook: totals mismatch")
	// ErrWebhookUnavailable indicates webhook dependencies are currently unavailable.
	ErrWebhookUnavailable = errors.New("webhook: unavailable")
)

// WebhookServiceDeps wires the dependencies required by the webhook service.
type WebhookServiceDeps struct {
	Parser        payments.WebhookParser
	Orders        OrderService
	GiftCards     GiftCardService
	Subscriptions SubscriptionService
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type webhookService struct {
	parser        payments.WebhookParser
	orders        OrderService
	giftCards     GiftCardService
	subscriptions SubscriptionService
	logger        func(ctx context.Context, event string, fields map[string]any)
}

// NewWebhookService constructs a WebhookService validating required dependencies.
func NewWebhookService(deps WebhookServiceDeps) (WebhookService, error) {
	if deps.Parser == nil {
		return nil, errors.New("webhook service: parser is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("webhook service: order service is required")
	}
	if deps.GiftCards == nil {
		return nil, errors.New("webhook service: gift card service is required")
	}
	if deps.Subscriptions == nil {
		return nil, errors.New("webhook service: subscription service is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &webhookService{
		parser:        deps.Parser,
		orders:        deps.Orders,
		giftCards:     deps.GiftCards,
		subscriptions: deps.Subscriptions,
		logger:        logger,
	}, nil
}

// ProcessPaymentWebhook verifies the delivery, decodes the checkout envelope,
// and materializes whichever entity the session purchased.
func (s *webhookService) ProcessPaymentWebhook(ctx context.Context, payload []byte, signature string) (WebhookResult, error) {
	if s == nil || s.parser == nil {
		return WebhookResult{}, ErrWebhookUnavailable
	}

	event, err := s.parser.ParseWebhookEvent(payload, signature)
	if err != nil {
		if errors.Is(err, payments.ErrInvalidSignature) {
			return WebhookResult{}, ErrWebhookInvalidSignature
		}
		return WebhookResult{}, ErrWebhookInvalidPayload
	}

	if event.Type != payments.EventCheckoutCompleted {
		s.logger(ctx, "webhook.ignored", map[string]any{
			"eventId":      event.ID,
			"providerType": event.ProviderType,
		})
		return WebhookResult{EventID: event.ID, Ignored: true}, nil
	}

	kind, envelopePayload, decodeErr := domain.DecodeCheckoutMetadata(event.Metadata)
	if decodeErr != nil {
		// Money already changed hands. Keep the order with a review flag
		// instead of dropping the event.
		s.logger(ctx, "webhook.metadata_unreadable", map[string]any{
			"eventId":   event.ID,
			"sessionId": event.SessionID,
			"keys":      domain.MetadataKeys(event.Metadata),
			"error":     decodeErr.Error(),
		})
		return s.storeForReview(ctx, event)
	}

	switch kind {
	case domain.CheckoutKindOrder:
		return s.processOrder(ctx, event, envelopePayload)
	case domain.CheckoutKindGiftCard:
		return s.processGiftCard(ctx, event, envelopePayload)
	case domain.CheckoutKindSubscription:
		return s.processSubscription(ctx, event, envelopePayload)
	default:
		return s.storeForReview(ctx, event)
	}
}

func (s *webhookService) processOrder(ctx context.Context, event payments.Event, payload []byte) (WebhookResult, error) {
	envelope, err := domain.ParseOrderEnvelope(payload)
	if err != nil {
		s.logger(ctx, "webhook.order_envelope_malformed", map[string]any{
			"eventId":   event.ID,
			"sessionId": event.SessionID,
			"error":     err.Error(),
		})
		return s.storeForReview(ctx, event)
	}

	// The envelope is authoritative for the breakdown, the provider for the
	// amount charged. Any disagreement rejects the delivery.
	expected := envelope.Subtotal + envelope.DeliveryFee - envelope.Discount
	if expected != event.AmountTotal {
		s.logger(ctx, "webhook.totals_mismatch", map[string]any{
			"eventId":   event.ID,
			"sessionId": event.SessionID,
			"expected":  expected,
			"charged":   event.AmountTotal,
		})
		return WebhookResult{}, ErrWebhookTotalsMismatch
	}

	_, created, err := s.orders.MaterializeOrder(ctx, MaterializeOrderCommand{
		SessionID:       event.SessionID,
		PaymentIntentID: event.PaymentIntentID,
		Envelope:        envelope,
		UserID:          envelope.UserID,
		Email:           event.CustomerEmail,
		AmountTotal:     event.AmountTotal,
		Currency:        event.Currency,
		OccurredAt:      event.CreatedAt,
	})
	if err != nil {
		return WebhookResult{}, ErrWebhookUnavailable
	}
	return WebhookResult{
		EventID:   event.ID,
		Kind:      domain.CheckoutKindOrder,
		EntityID:  event.SessionID,
		Duplicate: !created,
	}, nil
}

func (s *webhookService) processGiftCard(ctx context.Context, event payments.Event, payload []byte) (WebhookResult, error) {
	envelope, err := domain.ParseGiftCardEnvelope(payload)
	if err != nil {
		s.logger(ctx, "webhook.giftcard_envelope_malformed", map[string]any{
			"eventId":   event.ID,
			"sessionId": event.SessionID,
			"error":     err.Error(),
		})
		return WebhookResult{}, ErrWebhookInvalidPayload
	}
	if envelope.Amount != event.AmountTotal {
		s.logger(ctx, "webhook.totals_mismatch", map[string]any{
			"eventId":   event.ID,
			"sessionId": event.SessionID,
			"expected":  envelope.Amount,
			"charged":   event.AmountTotal,
		})
		return WebhookResult{}, ErrWebhookTotalsMismatch
	}

	card, created, err := s.giftCards.Issue(ctx, IssueGiftCardCommand{
		SessionID:      event.SessionID,
		Amount:         envelope.Amount,
		Currency:       envelope.Currency,
		PurchaserEmail: envelope.PurchaserEmail,
		RecipientEmail: envelope.RecipientEmail,
		Message:        envelope.Message,
		OccurredAt:     event.CreatedAt,
	})
	if err != nil {
		return WebhookResult{}, ErrWebhookUnavailable
	}
	return WebhookResult{
		EventID:   event.ID,
		Kind:      domain.CheckoutKindGiftCard,
		EntityID:  card.Code,
		Duplicate: !created,
	}, nil
}

func (s *webhookService) processSubscription(ctx context.Context, event payments.Event, payload []byte) (WebhookResult, error) {
	envelope, err := domain.ParseSubscriptionEnvelope(payload)
	if err != nil {
		s.logger(ctx, "webhook.subscription_envelope_malformed", map[string]any{
			"eventId":   event.ID,
			"sessionId": event.SessionID,
			"error":     err.Error(),
		})
		return WebhookResult{}, ErrWebhookInvalidPayload
	}

	sub, created, err := s.subscriptions.Materialize(ctx, MaterializeSubscriptionCommand{
		SessionID:     event.SessionID,
		ProviderSubID: event.SubscriptionID,
		PlanID:        envelope.PlanID,
		PlanName:      envelope.PlanName,
		Email:         firstNonEmptyString(envelope.Email, event.CustomerEmail),
		Amount:        envelope.Amount,
		Currency:      envelope.Currency,
		Interval:      envelope.Interval,
		OccurredAt:    event.CreatedAt,
	})
	if err != nil {
		return WebhookResult{}, ErrWebhookUnavailable
	}
	return WebhookResult{
		EventID:   event.ID,
		Kind:      domain.CheckoutKindSubscription,
		EntityID:  sub.ID,
		Duplicate: !created,
	}, nil
}

func (s *webhookService) storeForReview(ctx context.Context, event payments.Event) (WebhookResult, error) {
	occurredAt := event.CreatedAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	_, created, err := s.orders.MaterializeOrder(ctx, MaterializeOrderCommand{
		SessionID:       event.SessionID,
		PaymentIntentID: event.PaymentIntentID,
		Email:           event.CustomerEmail,
		AmountTotal:     event.AmountTotal,
		Currency:        event.Currency,
		NeedsReview:     true,
		OccurredAt:      occurredAt,
	})
	if err != nil {
		return WebhookResult{}, ErrWebhookUnavailable
	}
	return WebhookResult{
		EventID:     event.ID,
		Kind:        domain.CheckoutKindOrder,
		EntityID:    event.SessionID,
		Duplicate:   !created,
		NeedsReview: true,
	}, nil
}

func firstNonEmptyString(values ...string) string {
	for _, value := range values {
		if trimmed := value; trimmed != "" {
			return trimmed
		}
	}
	return ""
}
