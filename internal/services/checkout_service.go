package services

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/lilacbloom/api/internal/cart"
	domain "github.com/lilacbloom/api/internal/domain"
	"github.com/lilacbloom/api/internal/payments"
	"github.com/lilacbloom/api/internal/repositories"
)

var (
	// ErrCheckoutInvalidInput indicates the caller supplied invalid input parameters.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutEmptyCart indicates the submitted cart snapshot holds no items.
	ErrCheckoutEmptyCart = errors.New("checkout: empty cart")
	// ErrCheckoutInvalidContact indicates a contact email failed validation.
	ErrCheckoutInvalidContact = errors.New("checkout: invalid contact")
	// ErrCheckoutSubscriptionExists indicates the email already has a live subscription.
	ErrCheckoutSubscriptionExists = errors.New("checkout: subscription already exists")
	// ErrCheckoutPaymentFailed indicates the provider session could not be created.
	ErrCheckoutPaymentFailed = errors.New("checkout: payment failed")
	// ErrCheckoutUnavailable indicates checkout dependencies are currently unavailable.
	ErrCheckoutUnavailable = errors.New("checkout: unavailable")
)

// checkoutSessionManager abstracts payments.Manager for easier testing.
type checkoutSessionManager interface {
	CreateCheckoutSession(ctx context.Context, preferred string, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error)
}

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Payments        checkoutSessionManager
	Subscriptions   repositories.SubscriptionRepository
	SuccessURL      string
	CancelURL       string
	DefaultCurrency string
	DefaultInterval string
	Clock           func() time.Time
	Logger          func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	payments        checkoutSessionManager
	subscriptions   repositories.SubscriptionRepository
	successURL      string
	cancelURL       string
	defaultCurrency string
	defaultInterval string
	now             func() time.Time
	logger          func(ctx context.Context, event string, fields map[string]any)
}

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Payments == nil {
		return nil, errors.New("checkout service: payment manager is required")
	}
	if deps.Subscriptions == nil {
		return nil, errors.New("checkout service: subscription repository is required")
	}
	if strings.TrimSpace(deps.SuccessURL) == "" || strings.TrimSpace(deps.CancelURL) == "" {
		return nil, errors.New("checkout service: success and cancel URLs are required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	currency := domain.NormalizeCurrency(deps.DefaultCurrency)
	interval := strings.TrimSpace(deps.DefaultInterval)
	if interval == "" {
		interval = "week"
	}

	return &checkoutService{
		payments:        deps.Payments,
		subscriptions:   deps.Subscriptions,
		successURL:      strings.TrimSpace(deps.SuccessURL),
		cancelURL:       strings.TrimSpace(deps.CancelURL),
		defaultCurrency: currency,
		defaultInterval: interval,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// CreateOrderSession validates the cart snapshot and opens a payment-mode session
// carrying the full order envelope in provider metadata.
func (s *checkoutService) CreateOrderSession(ctx context.Context, cmd CreateOrderSessionCommand) (CheckoutSession, error) {
	if s == nil || s.payments == nil {
		return CheckoutSession{}, ErrCheckoutUnavailable
	}

	snapshot := cmd.Cart
	if snapshot.IsEmpty() {
		return CheckoutSession{}, ErrCheckoutEmptyCart
	}
	for _, item := range snapshot.Items {
		if strings.TrimSpace(item.ProductID) == "" || item.Quantity < 1 || item.UnitPrice < 0 {
			return CheckoutSession{}, ErrCheckoutInvalidInput
		}
	}

	billingEmail, err := validEmail(cmd.Billing.Email)
	if err != nil {
		return CheckoutSession{}, ErrCheckoutInvalidContact
	}
	if cmd.Recipient != nil && strings.TrimSpace(cmd.Recipient.Email) != "" {
		if _, err := validEmail(cmd.Recipient.Email); err != nil {
			return CheckoutSession{}, ErrCheckoutInvalidContact
		}
	}

	currency := s.resolveCurrency(cmd.Currency)
	subtotal := snapshot.Subtotal()
	deliveryFee := snapshot.DeliveryFee()
	discount := snapshot.Discount
	if discount < 0 || discount > subtotal+deliveryFee {
		return CheckoutSession{}, ErrCheckoutInvalidInput
	}
	total := subtotal + deliveryFee - discount
	if total <= 0 {
		return CheckoutSession{}, ErrCheckoutInvalidInput
	}

	envelope := buildOrderEnvelope(snapshot, cmd, currency, subtotal, deliveryFee, discount)
	metadata, err := domain.EncodeCheckoutMetadata(domain.CheckoutKindOrder, envelope)
	if err != nil {
		s.logger(ctx, "checkout.metadata_encode_failed", map[string]any{
			"kind":  string(domain.CheckoutKindOrder),
			"error": err.Error(),
		})
		return CheckoutSession{}, ErrCheckoutInvalidInput
	}

	req := payments.CheckoutSessionRequest{
		Mode:           payments.ModePayment,
		Currency:       currency,
		CustomerEmail:  billingEmail,
		SuccessURL:     s.successURL,
		CancelURL:      s.cancelURL,
		Metadata:       metadata,
		Items:          orderLineItems(snapshot, currency),
		DiscountAmount: discount,
	}

	return s.createSession(ctx, cmd.Provider, req, domain.CheckoutKindOrder)
}

// CreateGiftCardSession opens a payment-mode session for a stored-value card.
func (s *checkoutService) CreateGiftCardSession(ctx context.Context, cmd CreateGiftCardSessionCommand) (CheckoutSession, error) {
	if s == nil || s.payments == nil {
		return CheckoutSession{}, ErrCheckoutUnavailable
	}
	if cmd.Amount <= 0 {
		return CheckoutSession{}, ErrCheckoutInvalidInput
	}

	purchaser, err := validEmail(cmd.PurchaserEmail)
	if err != nil {
		return CheckoutSession{}, ErrCheckoutInvalidContact
	}
	recipient := strings.TrimSpace(cmd.RecipientEmail)
	if recipient != "" {
		if recipient, err = validEmail(recipient); err != nil {
			return CheckoutSession{}, ErrCheckoutInvalidContact
		}
	}

	currency := s.resolveCurrency(cmd.Currency)
	message := cart.SanitizeGiftMessage(cmd.Message)

	envelope := domain.GiftCardEnvelope{
		Version:        domain.EnvelopeVersion,
		Amount:         cmd.Amount,
		Currency:       currency,
		PurchaserEmail: purchaser,
		RecipientEmail: recipient,
		Message:        message,
	}
	metadata, err := domain.EncodeCheckoutMetadata(domain.CheckoutKindGiftCard, envelope)
	if err != nil {
		return CheckoutSession{}, ErrCheckoutInvalidInput
	}

	req := payments.CheckoutSessionRequest{
		Mode:          payments.ModePayment,
		Currency:      currency,
		CustomerEmail: purchaser,
		SuccessURL:    s.successURL,
		CancelURL:     s.cancelURL,
		Metadata:      metadata,
		Items: []payments.CheckoutLineItem{
			{
				Name:     "Gift Card",
				Quantity: 1,
				Amount:   cmd.Amount,
				Currency: currency,
			},
		},
	}

	return s.createSession(ctx, cmd.Provider, req, domain.CheckoutKindGiftCard)
}

// CreateSubscriptionSession opens a subscription-mode session after verifying the
// email has no live plan already.
func (s *checkoutService) CreateSubscriptionSession(ctx context.Context, cmd CreateSubscriptionSessionCommand) (CheckoutSession, error) {
	if s == nil || s.payments == nil || s.subscriptions == nil {
		return CheckoutSession{}, ErrCheckoutUnavailable
	}
	planID := strings.TrimSpace(cmd.PlanID)
	if planID == "" || cmd.Amount <= 0 {
		return CheckoutSession{}, ErrCheckoutInvalidInput
	}

	email, err := validEmail(cmd.Email)
	if err != nil {
		return CheckoutSession{}, ErrCheckoutInvalidContact
	}

	if _, exists, err := s.subscriptions.FindCurrentByEmail(ctx, email); err != nil {
		s.logger(ctx, "checkout.subscription_lookup_failed", map[string]any{
			"error": err.Error(),
		})
		return CheckoutSession{}, ErrCheckoutUnavailable
	} else if exists {
		return CheckoutSession{}, ErrCheckoutSubscriptionExists
	}

	currency := s.resolveCurrency(cmd.Currency)
	interval := strings.TrimSpace(cmd.Interval)
	if interval == "" {
		interval = s.defaultInterval
	}
	planName := strings.TrimSpace(cmd.PlanName)
	if planName == "" {
		planName = planID
	}

	envelope := domain.SubscriptionEnvelope{
		Version:  domain.EnvelopeVersion,
		PlanID:   planID,
		PlanName: planName,
		Email:    email,
		Amount:   cmd.Amount,
		Currency: currency,
		Interval: interval,
	}
	metadata, err := domain.EncodeCheckoutMetadata(domain.CheckoutKindSubscription, envelope)
	if err != nil {
		return CheckoutSession{}, ErrCheckoutInvalidInput
	}

	req := payments.CheckoutSessionRequest{
		Mode:          payments.ModeSubscription,
		Currency:      currency,
		CustomerEmail: email,
		SuccessURL:    s.successURL,
		CancelURL:     s.cancelURL,
		Metadata:      metadata,
		Items: []payments.CheckoutLineItem{
			{
				Name:     planName,
				Quantity: 1,
				Amount:   cmd.Amount,
				Currency: currency,
				Interval: interval,
			},
		},
	}

	return s.createSession(ctx, cmd.Provider, req, domain.CheckoutKindSubscription)
}

func (s *checkoutService) createSession(ctx context.Context, preferred string, req payments.CheckoutSessionRequest, kind domain.CheckoutKind) (CheckoutSession, error) {
	session, err := s.payments.CreateCheckoutSession(ctx, strings.TrimSpace(preferred), req)
	if err != nil {
		if errors.Is(err, payments.ErrUnsupportedProvider) {
			return CheckoutSession{}, ErrCheckoutInvalidInput
		}
		s.logger(ctx, "checkout.session_failed", map[string]any{
			"kind":     string(kind),
			"provider": strings.TrimSpace(preferred),
			"error":    err.Error(),
		})
		return CheckoutSession{}, ErrCheckoutPaymentFailed
	}

	s.logger(ctx, "checkout.session_created", map[string]any{
		"kind":      string(kind),
		"provider":  session.Provider,
		"sessionId": session.ID,
	})

	return CheckoutSession{
		SessionID:   session.ID,
		Provider:    session.Provider,
		RedirectURL: session.RedirectURL,
		ExpiresAt:   session.ExpiresAt.UTC(),
	}, nil
}

func (s *checkoutService) resolveCurrency(currency string) string {
	if trimmed := strings.TrimSpace(currency); trimmed != "" {
		return domain.NormalizeCurrency(trimmed)
	}
	return s.defaultCurrency
}

func buildOrderEnvelope(snapshot cart.Cart, cmd CreateOrderSessionCommand, currency string, subtotal, deliveryFee, discount int64) domain.OrderEnvelope {
	envelope := domain.OrderEnvelope{
		Version:     domain.EnvelopeVersion,
		UserID:      strings.TrimSpace(cmd.UserID),
		Billing:     envelopeContact(cmd.Billing),
		CouponCode:  strings.TrimSpace(snapshot.CouponCode),
		Subtotal:    subtotal,
		DeliveryFee: deliveryFee,
		Discount:    discount,
		Currency:    currency,
	}
	envelope.Items = make([]domain.EnvelopeItem, 0, len(snapshot.Items))
	for _, item := range snapshot.Items {
		envelope.Items = append(envelope.Items, domain.EnvelopeItem{
			ProductID:   item.ProductID,
			VariantID:   item.VariantID,
			Name:        item.Name,
			UnitPrice:   item.UnitPrice,
			Quantity:    item.Quantity,
			GiftMessage: item.GiftMessage,
		})
	}
	if cmd.Recipient != nil {
		contact := envelopeContact(*cmd.Recipient)
		envelope.Recipient = &contact
	}
	if snapshot.Delivery != nil {
		envelope.Delivery = &domain.EnvelopeDelivery{
			Date:     snapshot.Delivery.Date,
			Method:   snapshot.Delivery.Method,
			Postcode: snapshot.Delivery.Postcode,
			Fee:      snapshot.Delivery.Fee,
		}
	}
	return envelope
}

func envelopeContact(contact Contact) domain.EnvelopeContact {
	return domain.EnvelopeContact{
		Name:  strings.TrimSpace(contact.Name),
		Email: strings.ToLower(strings.TrimSpace(contact.Email)),
		Phone: strings.TrimSpace(contact.Phone),
	}
}

func orderLineItems(snapshot cart.Cart, currency string) []payments.CheckoutLineItem {
	items := make([]payments.CheckoutLineItem, 0, len(snapshot.Items)+1)
	for _, item := range snapshot.Items {
		name := strings.TrimSpace(item.Name)
		if name == "" {
			name = item.ProductID
		}
		items = append(items, payments.CheckoutLineItem{
			Name:     name,
			SKU:      strings.TrimSpace(item.VariantID),
			Quantity: int64(item.Quantity),
			Amount:   item.UnitPrice,
			Currency: currency,
		})
	}
	if fee := snapshot.DeliveryFee(); fee > 0 {
		items = append(items, payments.CheckoutLineItem{
			Name:     "Delivery",
			Quantity: 1,
			Amount:   fee,
			Currency: currency,
		})
	}
	return items
}

func validEmail(address string) (string, error) {
	trimmed := strings.TrimSpace(address)
	if trimmed == "" {
		return "", ErrCheckoutInvalidContact
	}
	parsed, err := mail.ParseAddress(trimmed)
	if err != nil {
		return "", err
	}
	return strings.ToLower(parsed.Address), nil
}
