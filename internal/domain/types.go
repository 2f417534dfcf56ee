package domain

import (
	"time"
)

// OrderStatus describes fulfilment lifecycle states for an order.
type OrderStatus string

const (
	// OrderStatusConfirmed is the state assigned when payment is captured.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusPreparing indicates the florist is assembling the arrangement.
	OrderStatusPreparing OrderStatus = "preparing"
	// OrderStatusOutForDelivery indicates the order left the shop with a courier.
	OrderStatusOutForDelivery OrderStatus = "out_for_delivery"
	// OrderStatusDelivered is a terminal success state.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled is a terminal state reachable from any non-terminal state.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// orderStatusTransitions captures the allowed fulfilment transitions.
var orderStatusTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusConfirmed:      {OrderStatusPreparing, OrderStatusCancelled},
	OrderStatusPreparing:      {OrderStatusOutForDelivery, OrderStatusCancelled},
	OrderStatusOutForDelivery: {OrderStatusDelivered, OrderStatusCancelled},
	OrderStatusDelivered:      {},
	OrderStatusCancelled:      {},
}

// ValidOrderStatus reports whether the value is a known order status.
func ValidOrderStatus(status OrderStatus) bool {
	_, ok := orderStatusTransitions[status]
	return ok
}

// CanTransitionOrder reports whether an order may move between the two states.
func CanTransitionOrder(from, to OrderStatus) bool {
	for _, candidate := range orderStatusTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// TerminalOrderStatus reports whether the status admits no further transitions.
func TerminalOrderStatus(status OrderStatus) bool {
	next, ok := orderStatusTransitions[status]
	return ok && len(next) == 0
}

// PaymentStatus describes the payment side of an order.
type PaymentStatus string

const (
	// PaymentStatusUnpaid marks an order whose payment has not settled.
	PaymentStatusUnpaid PaymentStatus = "unpaid"
	// PaymentStatusPaid marks a settled payment.
	PaymentStatusPaid PaymentStatus = "paid"
	// PaymentStatusRefunded marks a payment returned to the shopper.
	PaymentStatusRefunded PaymentStatus = "refunded"
	// PaymentStatusFailed marks a payment the provider declined.
	PaymentStatusFailed PaymentStatus = "failed"
)

// Contact identifies a person attached to an order.
type Contact struct {
	Name  string
	Email string
	Phone string
}

// DeliveryDetails captures where and how an arrangement is delivered.
type DeliveryDetails struct {
	Date     string
	Method   string
	Postcode string
	Fee      int64
}

// OrderItem is a priced line captured at checkout time.
type OrderItem struct {
	ProductID   string
	VariantID   string
	Name        string
	UnitPrice   int64
	Quantity    int
	GiftMessage string
}

// Order is the materialized record of a completed checkout session.
type Order struct {
	ID              string
	Number          string
	Status          OrderStatus
	PaymentStatus   PaymentStatus
	UserID          string
	Email           string
	Items           []OrderItem
	Billing         Contact
	Recipient       *Contact
	Delivery        *DeliveryDetails
	CouponCode      string
	Subtotal        int64
	DeliveryFee     int64
	Discount        int64
	Total           int64
	Currency        string
	LoyaltyPoints   int64
	NeedsReview     bool
	PaymentIntentID string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// LoyaltyPointsFor returns the points earned for a captured amount in minor units.
func LoyaltyPointsFor(amountTotal int64) int64 {
	if amountTotal <= 0 {
		return 0
	}
	return amountTotal / 100
}

// GiftCardStatus describes the redeemability of a gift card.
type GiftCardStatus string

const (
	// GiftCardStatusActive means the card holds a positive balance.
	GiftCardStatusActive GiftCardStatus = "active"
	// GiftCardStatusDepleted means the balance reached zero through redemption.
	GiftCardStatusDepleted GiftCardStatus = "depleted"
	// GiftCardStatusDisabled means support disabled the card.
	GiftCardStatusDisabled GiftCardStatus = "disabled"
)

// GiftCard is a stored-value card sold through checkout.
type GiftCard struct {
	ID             string
	Code           string
	InitialBalance int64
	Balance        int64
	Currency       string
	Status         GiftCardStatus
	PurchaserEmail string
	RecipientEmail string
	Message        string
	SessionID      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// GiftCardRedemption is a ledger entry recording a single deduction.
type GiftCardRedemption struct {
	ID        string
	Amount    int64
	Remaining int64
	CreatedAt time.Time
}

// SubscriptionStatus describes recurring delivery states.
type SubscriptionStatus string

const (
	// SubscriptionStatusActive means deliveries and billing are running.
	SubscriptionStatusActive SubscriptionStatus = "active"
	// SubscriptionStatusPaused means billing is suspended but the plan survives.
	SubscriptionStatusPaused SubscriptionStatus = "paused"
	// SubscriptionStatusCancelled is terminal.
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
)

var subscriptionStatusTransitions = map[SubscriptionStatus][]SubscriptionStatus{
	SubscriptionStatusActive:    {SubscriptionStatusPaused, SubscriptionStatusCancelled},
	SubscriptionStatusPaused:    {SubscriptionStatusActive, SubscriptionStatusCancelled},
	SubscriptionStatusCancelled: {},
}

// CanTransitionSubscription reports whether a subscription may move between states.
func CanTransitionSubscription(from, to SubscriptionStatus) bool {
	for _, candidate := range subscriptionStatusTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// Subscription is a recurring flower delivery plan.
type Subscription struct {
	ID             string
	UserID         string
	Email          string
	PlanID         string
	PlanName       string
	Status         SubscriptionStatus
	Amount         int64
	Currency       string
	Interval       string
	ProviderSubID  string
	SessionID      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CancelledAt    *time.Time
	PendingRemote  bool
	LastRemoteSync time.Time
}
