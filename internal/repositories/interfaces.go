package repositories

import (
	"context"
	"time"

	domain "github.com/lilacbloom/api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// OrderRepository persists order documents keyed by checkout session ID.
type OrderRepository interface {
	// CreateIfAbsent stores the order unless a document with the same ID already
	// exists. The boolean reports whether a new document was written.
	CreateIfAbsent(ctx context.Context, order domain.Order) (domain.Order, bool, error)
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	ListByUser(ctx context.Context, filter OrderListFilter) (OrderPage, error)
	// UpdateStatus writes the new fulfilment status provided the order is still
	// in the expected from-status, failing with a conflict error otherwise.
	UpdateStatus(ctx context.Context, orderID string, from, to domain.OrderStatus, updatedAt time.Time) (domain.Order, error)
}

// OrderListFilter scopes order listings to a single shopper.
type OrderListFilter struct {
	UserID     string
	Email      string
	Limit      int
	StartAfter string
}

// OrderPage is a bounded slice of orders plus the cursor for the next page.
type OrderPage struct {
	Orders     []domain.Order
	NextCursor string
}

// GiftCardRepository persists gift cards keyed by their redemption code, with a
// redemption ledger stored alongside each card.
type GiftCardRepository interface {
	// CreateIfAbsent stores the card unless one was already issued for its
	// checkout session, in which case the existing card is returned. The check
	// and the write happen in one transaction. A code collision with another
	// session's card fails with GiftCardErrorCodeTaken. The boolean reports
	// whether a new document was written.
	CreateIfAbsent(ctx context.Context, card domain.GiftCard) (domain.GiftCard, bool, error)
	FindByCode(ctx context.Context, code string) (domain.GiftCard, error)
	// Redeem atomically deducts from the card balance and appends a ledger entry.
	Redeem(ctx context.Context, code string, req GiftCardRedeemRequest) (GiftCardRedeemResult, error)
}

// GiftCardRedeemRequest carries the deduction parameters for a redemption.
type GiftCardRedeemRequest struct {
	RedemptionID string
	Amount       int64
	OrderRef     string
	Now          time.Time
}

// GiftCardRedeemResult reports the card after deduction and the ledger entry written.
type GiftCardRedeemResult struct {
	Card       domain.GiftCard
	Redemption domain.GiftCardRedemption
	// Insufficient is set when the requested amount exceeded the balance and
	// only the remaining balance was deducted.
	Insufficient bool
}

// SubscriptionRepository persists subscription documents keyed by checkout session ID.
type SubscriptionRepository interface {
	// CreateIfAbsent stores the subscription unless a document with the same ID
	// already exists. The boolean reports whether a new document was written.
	CreateIfAbsent(ctx context.Context, sub domain.Subscription) (domain.Subscription, bool, error)
	FindByID(ctx context.Context, subscriptionID string) (domain.Subscription, error)
	// FindCurrentByEmail returns the active or paused subscription for the email, if one exists.
	FindCurrentByEmail(ctx context.Context, email string) (domain.Subscription, bool, error)
	Update(ctx context.Context, sub domain.Subscription) (domain.Subscription, error)
	// ListPendingRemote returns subscriptions whose provider-side state may lag
	// the local record and needs reconciling.
	ListPendingRemote(ctx context.Context, limit int) ([]domain.Subscription, error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// CounterConfig customises increment behaviour and bounds for a counter.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
