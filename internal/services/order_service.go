package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/lilacbloom/api/internal/domain"
	"github.com/lilacbloom/api/internal/repositories"
)

var (
	// ErrOrderInvalidInput indicates the caller supplied invalid order parameters.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order does not exist.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderForbidden indicates the caller may not read or mutate the order.
	ErrOrderForbidden = errors.New("order: forbidden")
	// ErrOrderInvalidTransition indicates the requested status change is not allowed.
	ErrOrderInvalidTransition = errors.New("order: invalid status transition")
	// ErrOrderUnavailable indicates order dependencies are currently unavailable.
	ErrOrderUnavailable = errors.New("order: unavailable")
)

// OrderServiceDeps wires the dependencies required by the order service.
type OrderServiceDeps struct {
	Orders       repositories.OrderRepository
	Counters     repositories.CounterRepository
	Events       EventPublisher
	DefaultLimit int
	MaxLimit     int
	Clock        func() time.Time
	Logger       func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders       repositories.OrderRepository
	counters     repositories.CounterRepository
	events       EventPublisher
	defaultLimit int
	maxLimit     int
	now          func() time.Time
	logger       func(ctx context.Context, event string, fields map[string]any)
}

// NewOrderService constructs an OrderService validating required dependencies.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	defaultLimit := deps.DefaultLimit
	if defaultLimit <= 0 {
		defaultLimit = 20
	}
	maxLimit := deps.MaxLimit
	if maxLimit <= 0 {
		maxLimit = 100
	}

	return &orderService{
		orders:       deps.Orders,
		counters:     deps.Counters,
		events:       deps.Events,
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// MaterializeOrder persists the order for a completed checkout session. The
// session ID keys the document so redelivered events collapse into a no-op.
func (s *orderService) MaterializeOrder(ctx context.Context, cmd MaterializeOrderCommand) (Order, bool, error) {
	if s == nil || s.orders == nil {
		return Order{}, false, ErrOrderUnavailable
	}
	sessionID := strings.TrimSpace(cmd.SessionID)
	if sessionID == "" {
		return Order{}, false, ErrOrderInvalidInput
	}
	if cmd.Envelope == nil && !cmd.NeedsReview {
		return Order{}, false, ErrOrderInvalidInput
	}

	// Redelivered events are the common path here. Looking the session up first
	// keeps them from consuming a fresh order number.
	existing, err := s.orders.FindByID(ctx, sessionID)
	if err == nil {
		return existing, false, nil
	}
	if translated := s.translateOrderError(err); !errors.Is(translated, ErrOrderNotFound) {
		return Order{}, false, translated
	}

	now := cmd.OccurredAt.UTC()
	if now.IsZero() {
		now = s.now()
	}

	order := Order{
		ID:              sessionID,
		Status:          domain.OrderStatusConfirmed,
		PaymentStatus:   domain.PaymentStatusPaid,
		UserID:          strings.TrimSpace(cmd.UserID),
		Email:           strings.ToLower(strings.TrimSpace(cmd.Email)),
		Currency:        domain.NormalizeCurrency(cmd.Currency),
		Total:           cmd.AmountTotal,
		LoyaltyPoints:   domain.LoyaltyPointsFor(cmd.AmountTotal),
		NeedsReview:     cmd.NeedsReview,
		PaymentIntentID: strings.TrimSpace(cmd.PaymentIntentID),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if cmd.Envelope != nil {
		applyOrderEnvelope(&order, cmd.Envelope)
	}

	number, err := s.generateOrderNumber(ctx, now)
	if err != nil {
		s.logger(ctx, "order.number_failed", map[string]any{
			"sessionId": sessionID,
			"error":     err.Error(),
		})
		return Order{}, false, ErrOrderUnavailable
	}
	order.Number = number

	saved, created, err := s.orders.CreateIfAbsent(ctx, order)
	if err != nil {
		return Order{}, false, s.translateOrderError(err)
	}
	if !created {
		return saved, false, nil
	}

	s.logger(ctx, "order.created", map[string]any{
		"sessionId":   sessionID,
		"number":      saved.Number,
		"total":       saved.Total,
		"needsReview": saved.NeedsReview,
	})
	s.publish(ctx, EventMessage{
		Type:       EventOrderCreated,
		EntityID:   saved.ID,
		SessionID:  sessionID,
		Email:      saved.Email,
		Amount:     saved.Total,
		Currency:   saved.Currency,
		OccurredAt: now,
	})
	return saved, true, nil
}

// ListOrders returns the authenticated shopper's orders, newest first.
func (s *orderService) ListOrders(ctx context.Context, query OrderListQuery) (OrderPage, error) {
	if s == nil || s.orders == nil {
		return OrderPage{}, ErrOrderUnavailable
	}
	userID := strings.TrimSpace(query.UserID)
	email := strings.TrimSpace(query.Email)
	if userID == "" && email == "" {
		return OrderPage{}, ErrOrderInvalidInput
	}

	limit := query.Limit
	if limit <= 0 {
		limit = s.defaultLimit
	}
	if limit > s.maxLimit {
		limit = s.maxLimit
	}

	cursor := strings.TrimSpace(query.PageToken)
	filter := repositories.OrderListFilter{Limit: limit, StartAfter: cursor}
	if userID != "" {
		filter.UserID = userID
	} else {
		filter.Email = email
	}
	page, err := s.orders.ListByUser(ctx, filter)
	if err != nil {
		return OrderPage{}, s.translateOrderError(err)
	}
	if len(page.Orders) == 0 && userID != "" && email != "" {
		// Orders placed before the shopper signed in carry no uid; fall back to
		// the verified email so those purchases still show up.
		page, err = s.orders.ListByUser(ctx, repositories.OrderListFilter{
			Email:      email,
			Limit:      limit,
			StartAfter: cursor,
		})
		if err != nil {
			return OrderPage{}, s.translateOrderError(err)
		}
	}
	return OrderPage{
		Orders:        page.Orders,
		NextPageToken: page.NextCursor,
	}, nil
}

// GetOrder loads a single order, enforcing that it belongs to the caller.
func (s *orderService) GetOrder(ctx context.Context, query OrderReadQuery) (Order, error) {
	if s == nil || s.orders == nil {
		return Order{}, ErrOrderUnavailable
	}
	orderID := strings.TrimSpace(query.OrderID)
	if orderID == "" {
		return Order{}, ErrOrderInvalidInput
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.translateOrderError(err)
	}
	if !query.Staff && !ownsOrder(order, query.UserID, query.Email) {
		return Order{}, ErrOrderForbidden
	}
	return order, nil
}

// TransitionStatus moves an order along the fulfilment state machine.
func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderStatusCommand) (Order, error) {
	if s == nil || s.orders == nil {
		return Order{}, ErrOrderUnavailable
	}
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" || !domain.ValidOrderStatus(cmd.Status) {
		return Order{}, ErrOrderInvalidInput
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.translateOrderError(err)
	}
	if !domain.CanTransitionOrder(order.Status, cmd.Status) {
		return Order{}, fmt.Errorf("%w: %s to %s", ErrOrderInvalidTransition, order.Status, cmd.Status)
	}

	// The repository re-checks the from-status inside its transaction, so a
	// racing transition surfaces as a conflict instead of silently skipping a
	// state.
	updated, err := s.orders.UpdateStatus(ctx, orderID, order.Status, cmd.Status, s.now())
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsConflict() {
			return Order{}, fmt.Errorf("%w: order moved past %s concurrently", ErrOrderInvalidTransition, order.Status)
		}
		return Order{}, s.translateOrderError(err)
	}

	s.logger(ctx, "order.status_changed", map[string]any{
		"orderId": orderID,
		"from":    string(order.Status),
		"to":      string(cmd.Status),
	})
	return updated, nil
}

func (s *orderService) generateOrderNumber(ctx context.Context, now time.Time) (string, error) {
	day := now.Format("20060102")
	seq, err := s.counters.Next(ctx, "orders:"+day, 1)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("LB-%s-%04d", day, seq), nil
}

func (s *orderService) publish(ctx context.Context, message EventMessage) {
	if s.events == nil {
		return
	}
	if _, err := s.events.PublishEvent(ctx, message); err != nil {
		s.logger(ctx, "order.event_publish_failed", map[string]any{
			"type":     message.Type,
			"entityId": message.EntityID,
			"error":    err.Error(),
		})
	}
}

func (s *orderService) translateOrderError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrOrderNotFound
		case repoErr.IsUnavailable():
			return ErrOrderUnavailable
		}
	}
	return ErrOrderUnavailable
}

func applyOrderEnvelope(order *Order, envelope *domain.OrderEnvelope) {
	order.Items = make([]domain.OrderItem, 0, len(envelope.Items))
	for _, item := range envelope.Items {
		order.Items = append(order.Items, domain.OrderItem{
			ProductID:   item.ProductID,
			VariantID:   item.VariantID,
			Name:        item.Name,
			UnitPrice:   item.UnitPrice,
			Quantity:    item.Quantity,
			GiftMessage: item.GiftMessage,
		})
	}
	order.Billing = domain.Contact{
		Name:  envelope.Billing.Name,
		Email: envelope.Billing.Email,
		Phone: envelope.Billing.Phone,
	}
	if order.UserID == "" {
		order.UserID = strings.TrimSpace(envelope.UserID)
	}
	if order.Email == "" {
		order.Email = strings.ToLower(strings.TrimSpace(envelope.Billing.Email))
	}
	if envelope.Recipient != nil {
		order.Recipient = &domain.Contact{
			Name:  envelope.Recipient.Name,
			Email: envelope.Recipient.Email,
			Phone: envelope.Recipient.Phone,
		}
	}
	if envelope.Delivery != nil {
		order.Delivery = &domain.DeliveryDetails{
			Date:     envelope.Delivery.Date,
			Method:   envelope.Delivery.Method,
			Postcode: envelope.Delivery.Postcode,
			Fee:      envelope.Delivery.Fee,
		}
	}
	order.CouponCode = envelope.CouponCode
	order.Subtotal = envelope.Subtotal
	order.DeliveryFee = envelope.DeliveryFee
	order.Discount = envelope.Discount
	if strings.TrimSpace(envelope.Currency) != "" {
		order.Currency = domain.NormalizeCurrency(envelope.Currency)
	}
}

func ownsOrder(order Order, userID, email string) bool {
	uid := strings.TrimSpace(userID)
	if uid != "" && order.UserID == uid {
		return true
	}
	addr := strings.ToLower(strings.TrimSpace(email))
	return addr != "" && order.Email == addr
}
