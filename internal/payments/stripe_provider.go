package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"
)

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

const checkoutCompletedEventType = "checkout.session.completed"

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

type stripeCouponAPI interface {
	New(params *stripe.CouponParams) (*stripe.Coupon, error)
}

type stripeSubscriptionAPI interface {
	Cancel(id string, params *stripe.SubscriptionCancelParams) (*stripe.Subscription, error)
	Update(id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error)
}

type stripeClients struct {
	sessions      stripeSessionAPI
	coupons       stripeCouponAPI
	subscriptions stripeSubscriptionAPI
}

type eventConstructor func(payload []byte, signature, secret string) (stripe.Event, error)

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey        string
	WebhookSecret string
	AccountID     string
	Backends      *stripe.Backends
	Logger        StripeLogger
	Clock         func() time.Time
	Clients       *stripeClients
	// ConstructEvent overrides webhook verification in tests.
	ConstructEvent eventConstructor
}

// StripeProvider implements the Provider and WebhookParser interfaces using Stripe APIs.
type StripeProvider struct {
	api            stripeClients
	account        string
	webhookSecret  string
	constructEvent eventConstructor
	clock          func() time.Time
	logger         StripeLogger
}

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}

	var clients stripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = stripeClients{
			sessions:      sc.CheckoutSessions,
			coupons:       sc.Coupons,
			subscriptions: sc.Subscriptions,
		}
	}

	if clients.sessions == nil || clients.coupons == nil || clients.subscriptions == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	construct := cfg.ConstructEvent
	if construct == nil {
		construct = webhook.ConstructEvent
	}

	return &StripeProvider{
		api:            clients,
		account:        strings.TrimSpace(cfg.AccountID),
		webhookSecret:  strings.TrimSpace(cfg.WebhookSecret),
		constructEvent: construct,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// CreateCheckoutSession creates a Stripe Checkout session in payment or
// subscription mode. A positive DiscountAmount mints a single-use coupon and
// attaches it to the session.
func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error) {
	if p == nil {
		return CheckoutSession{}, errors.New("stripe: provider is nil")
	}

	mode := stripe.CheckoutSessionModePayment
	if req.Mode == ModeSubscription {
		mode = stripe.CheckoutSessionModeSubscription
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(mode)),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	if len(req.Metadata) > 0 {
		params.Metadata = make(map[string]string, len(req.Metadata))
		for k, v := range req.Metadata {
			params.Metadata[k] = v
		}
	}

	lineItems := make([]*stripe.CheckoutSessionLineItemParams, 0, len(req.Items))
	for _, item := range req.Items {
		line := &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(max64(item.Quantity, 1)),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(defaultString(item.Currency, req.Currency))),
				UnitAmount: stripe.Int64(item.Amount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(item.Name),
				},
			},
		}
		if item.Description != "" {
			line.PriceData.ProductData.Description = stripe.String(item.Description)
		}
		if item.SKU != "" {
			line.PriceData.ProductData.Metadata = map[string]string{
				"sku": item.SKU,
			}
		}
		if req.Mode == ModeSubscription {
			line.PriceData.Recurring = &stripe.CheckoutSessionLineItemPriceDataRecurringParams{
				Interval: stripe.String(defaultString(item.Interval, "week")),
			}
		}
		lineItems = append(lineItems, line)
	}
	if len(lineItems) == 0 {
		return CheckoutSession{}, errors.New("stripe: checkout session requires at least one line item")
	}
	params.LineItems = lineItems

	if req.DiscountAmount > 0 {
		couponID, err := p.createSingleUseCoupon(ctx, req.DiscountAmount, req.Currency)
		if err != nil {
			return CheckoutSession{}, err
		}
		params.Discounts = []*stripe.CheckoutSessionDiscountParams{
			{Coupon: stripe.String(couponID)},
		}
	}

	session, err := p.api.sessions.New(params)
	if err != nil {
		return CheckoutSession{}, fmt.Errorf("stripe: create checkout session: %w", err)
	}

	p.logger(ctx, "payments.stripe.session.created", map[string]any{
		"sessionId": session.ID,
		"mode":      string(mode),
		"currency":  session.Currency,
	})

	expiresAt := p.clock().Add(30 * time.Minute)
	if session.ExpiresAt != 0 {
		expiresAt = time.Unix(session.ExpiresAt, 0).UTC()
	}

	return CheckoutSession{
		ID:          session.ID,
		Provider:    "stripe",
		RedirectURL: session.URL,
		ExpiresAt:   expiresAt,
	}, nil
}

func (p *StripeProvider) createSingleUseCoupon(ctx context.Context, amountOff int64, currency string) (string, error) {
	params := &stripe.CouponParams{
		AmountOff:      stripe.Int64(amountOff),
		Currency:       stripe.String(strings.ToLower(currency)),
		Duration:       stripe.String(string(stripe.CouponDurationOnce)),
		MaxRedemptions: stripe.Int64(1),
	}
	params.Context = ctx
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}

	coupon, err := p.api.coupons.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe: create coupon: %w", err)
	}

	p.logger(ctx, "payments.stripe.coupon.created", map[string]any{
		"couponId":  coupon.ID,
		"amountOff": amountOff,
	})
	return coupon.ID, nil
}

// CancelSubscription cancels the Stripe subscription immediately.
func (p *StripeProvider) CancelSubscription(ctx context.Context, providerSubID string) error {
	if p == nil {
		return errors.New("stripe: provider is nil")
	}
	if strings.TrimSpace(providerSubID) == "" {
		return errors.New("stripe: subscription id is required")
	}
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if _, err := p.api.subscriptions.Cancel(providerSubID, params); err != nil {
		return fmt.Errorf("stripe: cancel subscription: %w", err)
	}
	p.logger(ctx, "payments.stripe.subscription.cancelled", map[string]any{
		"subscriptionId": providerSubID,
	})
	return nil
}

// PauseSubscription suspends billing by voiding invoices while paused.
func (p *StripeProvider) PauseSubscription(ctx context.Context, providerSubID string) error {
	if p == nil {
		return errors.New("stripe: provider is nil")
	}
	if strings.TrimSpace(providerSubID) == "" {
		return errors.New("stripe: subscription id is required")
	}
	params := &stripe.SubscriptionParams{
		PauseCollection: &stripe.SubscriptionPauseCollectionParams{
			Behavior: stripe.String(string(stripe.SubscriptionPauseCollectionBehaviorVoid)),
		},
	}
	params.Context = ctx
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if _, err := p.api.subscriptions.Update(providerSubID, params); err != nil {
		return fmt.Errorf("stripe: pause subscription: %w", err)
	}
	p.logger(ctx, "payments.stripe.subscription.paused", map[string]any{
		"subscriptionId": providerSubID,
	})
	return nil
}

// ResumeSubscription clears the pause so billing resumes at the next cycle.
func (p *StripeProvider) ResumeSubscription(ctx context.Context, providerSubID string) error {
	if p == nil {
		return errors.New("stripe: provider is nil")
	}
	if strings.TrimSpace(providerSubID) == "" {
		return errors.New("stripe: subscription id is required")
	}
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	// Unsetting pause_collection requires sending an empty value, which the
	// typed params cannot express.
	params.AddExtra("pause_collection", "")
	if _, err := p.api.subscriptions.Update(providerSubID, params); err != nil {
		return fmt.Errorf("stripe: resume subscription: %w", err)
	}
	p.logger(ctx, "payments.stripe.subscription.resumed", map[string]any{
		"subscriptionId": providerSubID,
	})
	return nil
}

// ParseWebhookEvent verifies the Stripe signature and normalises the event.
// Verification failures return ErrInvalidSignature; no payload content is
// trusted before the signature check passes.
func (p *StripeProvider) ParseWebhookEvent(payload []byte, signature string) (Event, error) {
	if p == nil {
		return Event{}, errors.New("stripe: provider is nil")
	}
	if p.webhookSecret == "" {
		return Event{}, errors.New("stripe: webhook secret not configured")
	}

	stripeEvent, err := p.constructEvent(payload, signature, p.webhookSecret)
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	event := Event{
		ID:           stripeEvent.ID,
		ProviderType: string(stripeEvent.Type),
		CreatedAt:    time.Unix(stripeEvent.Created, 0).UTC(),
	}

	if string(stripeEvent.Type) != checkoutCompletedEventType {
		event.Type = EventIgnored
		return event, nil
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(stripeEvent.Data.Raw, &session); err != nil {
		return Event{}, fmt.Errorf("stripe: decode checkout session: %v", err)
	}

	event.Type = EventCheckoutCompleted
	event.SessionID = session.ID
	event.AmountTotal = session.AmountTotal
	event.Currency = strings.ToUpper(string(session.Currency))
	event.Metadata = session.Metadata
	event.Mode = ModePayment
	if session.Mode == stripe.CheckoutSessionModeSubscription {
		event.Mode = ModeSubscription
	}
	if session.CustomerDetails != nil {
		event.CustomerEmail = session.CustomerDetails.Email
	}
	if session.PaymentIntent != nil {
		event.PaymentIntentID = session.PaymentIntent.ID
	}
	if session.Subscription != nil {
		event.SubscriptionID = session.Subscription.ID
	}
	if session.TotalDetails != nil {
		event.AmountDiscount = session.TotalDetails.AmountDiscount
	}

	return event, nil
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func defaultString(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}
