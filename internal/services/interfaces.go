package services

import (
	"context"
	"time"

	"github.com/lilacbloom/api/internal/cart"
	domain "github.com/lilacbloom/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Order              = domain.Order
	OrderStatus        = domain.OrderStatus
	GiftCard           = domain.GiftCard
	GiftCardRedemption = domain.GiftCardRedemption
	Subscription       = domain.Subscription
	SystemHealthReport = domain.SystemHealthReport
	Contact            = domain.Contact
)

// Event types published to the storefront events topic.
const (
	EventOrderCreated              = "order.created"
	EventGiftCardIssued            = "gift_card.issued"
	EventSubscriptionCreated       = "subscription.created"
	EventSubscriptionCancelled     = "subscription.cancelled"
	EventSubscriptionPaused        = "subscription.paused"
	EventSubscriptionResumed       = "subscription.resumed"
	EventSubscriptionSyncRequested = "subscription.sync_requested"
)

// EventMessage is the payload published for storefront domain events.
type EventMessage struct {
	Type       string    `json:"type"`
	EntityID   string    `json:"entityId"`
	SessionID  string    `json:"sessionId,omitempty"`
	Email      string    `json:"email,omitempty"`
	Amount     int64     `json:"amount,omitempty"`
	Currency   string    `json:"currency,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// EventPublisher pushes domain events onto the asynchronous events topic.
type EventPublisher interface {
	PublishEvent(ctx context.Context, message EventMessage) (string, error)
}

// CheckoutService initiates hosted payment sessions for carts, gift cards, and subscriptions.
type CheckoutService interface {
	CreateOrderSession(ctx context.Context, cmd CreateOrderSessionCommand) (CheckoutSession, error)
	CreateGiftCardSession(ctx context.Context, cmd CreateGiftCardSessionCommand) (CheckoutSession, error)
	CreateSubscriptionSession(ctx context.Context, cmd CreateSubscriptionSessionCommand) (CheckoutSession, error)
}

// CheckoutSession is the provider session handed back to the storefront client.
type CheckoutSession struct {
	SessionID   string
	Provider    string
	RedirectURL string
	ExpiresAt   time.Time
}

// CreateOrderSessionCommand carries the cart snapshot and contacts for a one-time purchase.
type CreateOrderSessionCommand struct {
	UserID    string
	Provider  string
	Cart      cart.Cart
	Billing   Contact
	Recipient *Contact
	Currency  string
}

// CreateGiftCardSessionCommand carries the parameters for a gift card purchase.
type CreateGiftCardSessionCommand struct {
	Provider       string
	Amount         int64
	Currency       string
	PurchaserEmail string
	RecipientEmail string
	Message        string
}

// CreateSubscriptionSessionCommand carries the parameters for starting a recurring plan.
type CreateSubscriptionSessionCommand struct {
	UserID   string
	Provider string
	PlanID   string
	PlanName string
	Email    string
	Amount   int64
	Currency string
	Interval string
}

// WebhookService verifies provider webhook deliveries and materializes the paid entity.
type WebhookService interface {
	ProcessPaymentWebhook(ctx context.Context, payload []byte, signature string) (WebhookResult, error)
}

// WebhookResult reports what a webhook delivery produced.
type WebhookResult struct {
	EventID  string
	Kind     domain.CheckoutKind
	EntityID string
	// Duplicate is set when the entity already existed and the delivery was a no-op.
	Duplicate bool
	// Ignored is set for verified events the service does not act on.
	Ignored bool
	// NeedsReview is set when the order was stored for manual review because
	// its metadata could not be parsed.
	NeedsReview bool
}

// OrderService materializes orders from completed checkouts and serves the read surface.
type OrderService interface {
	MaterializeOrder(ctx context.Context, cmd MaterializeOrderCommand) (Order, bool, error)
	ListOrders(ctx context.Context, query OrderListQuery) (OrderPage, error)
	GetOrder(ctx context.Context, query OrderReadQuery) (Order, error)
	TransitionStatus(ctx context.Context, cmd OrderStatusCommand) (Order, error)
}

// MaterializeOrderCommand captures the payload needed to persist an order from a webhook event.
type MaterializeOrderCommand struct {
	SessionID       string
	PaymentIntentID string
	Envelope        *domain.OrderEnvelope
	Email           string
	AmountTotal     int64
	Currency        string
	UserID          string
	// NeedsReview stores a minimal order flagged for manual review instead of
	// a fully decoded one.
	NeedsReview bool
	OccurredAt  time.Time
}

// OrderListQuery scopes the authenticated order listing.
type OrderListQuery struct {
	UserID    string
	Email     string
	Limit     int
	PageToken string
}

// OrderPage is a bounded slice of orders plus the token for the next page.
type OrderPage struct {
	Orders        []Order
	NextPageToken string
}

// OrderReadQuery identifies a single order and the caller allowed to read it.
type OrderReadQuery struct {
	OrderID string
	UserID  string
	Email   string
	Staff   bool
}

// OrderStatusCommand requests a fulfilment status transition.
type OrderStatusCommand struct {
	OrderID string
	Status  OrderStatus
}

// GiftCardService issues stored-value cards and handles validation and redemption.
type GiftCardService interface {
	Issue(ctx context.Context, cmd IssueGiftCardCommand) (GiftCard, bool, error)
	Validate(ctx context.Context, code string) (GiftCardStatusView, error)
	Redeem(ctx context.Context, cmd RedeemGiftCardCommand) (GiftCardRedemptionView, error)
}

// IssueGiftCardCommand captures the payload needed to issue a card from a webhook event.
type IssueGiftCardCommand struct {
	SessionID      string
	Amount         int64
	Currency       string
	PurchaserEmail string
	RecipientEmail string
	Message        string
	OccurredAt     time.Time
}

// GiftCardStatusView is the redacted card state returned to shoppers.
type GiftCardStatusView struct {
	Code             string
	Balance          int64
	Currency         string
	Status           domain.GiftCardStatus
	FormattedBalance string
}

// RedeemGiftCardCommand requests a balance deduction against a card.
type RedeemGiftCardCommand struct {
	Code     string
	Amount   int64
	OrderRef string
}

// GiftCardRedemptionView reports the outcome of a redemption.
type GiftCardRedemptionView struct {
	Card      GiftCard
	Deducted  int64
	Remaining int64
	// Insufficient is set when the requested amount exceeded the balance and
	// only the remaining balance was deducted.
	Insufficient bool
}

// SubscriptionService owns the recurring plan lifecycle. Local state is
// authoritative; provider-side failures are reconciled asynchronously.
type SubscriptionService interface {
	Materialize(ctx context.Context, cmd MaterializeSubscriptionCommand) (Subscription, bool, error)
	Cancel(ctx context.Context, cmd SubscriptionLifecycleCommand) (Subscription, error)
	Pause(ctx context.Context, cmd SubscriptionLifecycleCommand) (Subscription, error)
	Resume(ctx context.Context, cmd SubscriptionLifecycleCommand) (Subscription, error)
	Reconcile(ctx context.Context, limit int) (int, error)
}

// MaterializeSubscriptionCommand captures the payload needed to persist a subscription from a webhook event.
type MaterializeSubscriptionCommand struct {
	SessionID     string
	ProviderSubID string
	PlanID        string
	PlanName      string
	Email         string
	Amount        int64
	Currency      string
	Interval      string
	UserID        string
	OccurredAt    time.Time
}

// SubscriptionLifecycleCommand identifies a subscription and the caller mutating it.
type SubscriptionLifecycleCommand struct {
	SubscriptionID string
	UserID         string
	Email          string
	Staff          bool
}

// SystemService exposes operational health and metadata endpoints.
type SystemService interface {
	Health(ctx context.Context) (SystemHealthReport, error)
}
