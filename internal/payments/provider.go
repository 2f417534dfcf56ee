package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Mode selects how a checkout session collects payment.
type Mode string

const (
	// ModePayment is a one-time charge.
	ModePayment Mode = "payment"
	// ModeSubscription establishes a recurring billing agreement.
	ModeSubscription Mode = "subscription"
)

// EventType enumerates the normalised webhook event categories.
type EventType string

const (
	// EventCheckoutCompleted signals a checkout session finished with payment captured.
	EventCheckoutCompleted EventType = "checkout.completed"
	// EventIgnored marks a verified event the service does not act on.
	EventIgnored EventType = "ignored"
)

var (
	// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
	ErrUnsupportedProvider = errors.New("payments: unsupported provider")
	// ErrInvalidSignature is returned when a webhook payload fails verification.
	ErrInvalidSignature = errors.New("payments: invalid webhook signature")
)

// CheckoutLineItem describes a single line to include in a checkout session.
type CheckoutLineItem struct {
	Name        string
	Description string
	SKU         string
	Quantity    int64
	Amount      int64
	Currency    string
	// Interval is set for subscription-mode lines ("week", "month").
	Interval string
}

// CheckoutSessionRequest captures the payload required to create a checkout session.
type CheckoutSessionRequest struct {
	Mode           Mode
	Currency       string
	CustomerEmail  string
	SuccessURL     string
	CancelURL      string
	Metadata       map[string]string
	IdempotencyKey string
	Items          []CheckoutLineItem
	// DiscountAmount, when positive, is applied through a single-use coupon
	// minted at session creation time.
	DiscountAmount int64
}

// CheckoutSession represents the provider session returned to the client.
type CheckoutSession struct {
	ID          string
	Provider    string
	RedirectURL string
	ExpiresAt   time.Time
}

// Event is the provider-agnostic view of a verified webhook delivery.
type Event struct {
	ID              string
	Type            EventType
	ProviderType    string
	Mode            Mode
	SessionID       string
	PaymentIntentID string
	SubscriptionID  string
	AmountTotal     int64
	AmountDiscount  int64
	Currency        string
	CustomerEmail   string
	Metadata        map[string]string
	CreatedAt       time.Time
}

// Provider defines the contract for payment provider adapters.
type Provider interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error)
	CancelSubscription(ctx context.Context, providerSubID string) error
	PauseSubscription(ctx context.Context, providerSubID string) error
	ResumeSubscription(ctx context.Context, providerSubID string) error
}

// WebhookParser verifies and normalises webhook payloads.
type WebhookParser interface {
	ParseWebhookEvent(payload []byte, signature string) (Event, error)
}

// Manager coordinates provider selection and exposes the aggregated interface.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider overrides the provider used when no preference is given.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = provider
	}
}

// NewManager constructs a Manager over the supplied providers.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	copyMap := make(map[string]Provider, len(providers))
	for k, v := range providers {
		key := strings.TrimSpace(strings.ToLower(k))
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", k)
		}
		copyMap[key] = v
	}
	m := &Manager{
		providers: copyMap,
	}
	if _, ok := copyMap["stripe"]; ok {
		m.defaultProvider = "stripe"
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *Manager) resolveProvider(preferred string) (string, Provider, error) {
	if m == nil || len(m.providers) == 0 {
		return "", nil, errors.New("payments: no providers registered")
	}
	if provider := strings.TrimSpace(strings.ToLower(preferred)); provider != "" {
		if p, ok := m.providers[provider]; ok {
			return provider, p, nil
		}
	}
	if def := strings.TrimSpace(strings.ToLower(m.defaultProvider)); def != "" {
		if p, ok := m.providers[def]; ok {
			return def, p, nil
		}
	}
	if len(m.providers) == 1 {
		for key, p := range m.providers {
			return key, p, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// CreateCheckoutSession delegates to the resolved provider.
func (m *Manager) CreateCheckoutSession(ctx context.Context, preferred string, req CheckoutSessionRequest) (CheckoutSession, error) {
	key, provider, err := m.resolveProvider(preferred)
	if err != nil {
		return CheckoutSession{}, err
	}
	session, err := provider.CreateCheckoutSession(ctx, req)
	if err != nil {
		return CheckoutSession{}, err
	}
	session.Provider = key
	return session, nil
}

// CancelSubscription delegates to the resolved provider.
func (m *Manager) CancelSubscription(ctx context.Context, preferred, providerSubID string) error {
	_, provider, err := m.resolveProvider(preferred)
	if err != nil {
		return err
	}
	return provider.CancelSubscription(ctx, providerSubID)
}

// PauseSubscription delegates to the resolved provider.
func (m *Manager) PauseSubscription(ctx context.Context, preferred, providerSubID string) error {
	_, provider, err := m.resolveProvider(preferred)
	if err != nil {
		return err
	}
	return provider.PauseSubscription(ctx, providerSubID)
}

// ResumeSubscription delegates to the resolved provider.
func (m *Manager) ResumeSubscription(ctx context.Context, preferred, providerSubID string) error {
	_, provider, err := m.resolveProvider(preferred)
	if err != nil {
		return err
	}
	return provider.ResumeSubscription(ctx, providerSubID)
}
