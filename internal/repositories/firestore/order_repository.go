package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/lilacbloom/api/internal/domain"
	pfirestore "github.com/lilacbloom/api/internal/platform/firestore"
	"github.com/lilacbloom/api/internal/repositories"
)

const ordersCollection = "orders"

type orderContactDocument struct {
	Name  string `firestore:"name,omitempty"`
	Email string `firestore:"email,omitempty"`
	Phone string `firestore:"phone,omitempty"`
}

type orderDeliveryDocument struct {
	Date     string `firestore:"date,omitempty"`
	Method   string `firestore:"method,omitempty"`
	Postcode string `firestore:"postcode,omitempty"`
	Fee      int64  `firestore:"fee"`
}

type orderItemDocument struct {
	ProductID   string `firestore:"productId"`
	VariantID   string `firestore:"variantId,omitempty"`
	Name        string `firestore:"name"`
	UnitPrice   int64  `firestore:"unitPrice"`
	Quantity    int    `firestore:"quantity"`
	GiftMessage string `firestore:"giftMessage,omitempty"`
}

type orderDocument struct {
	Number          string                 `firestore:"number"`
	Status          string                 `firestore:"status"`
	PaymentStatus   string                 `firestore:"paymentStatus"`
	UserID          string                 `firestore:"userId,omitempty"`
	Email           string                 `firestore:"email,omitempty"`
	Items           []orderItemDocument    `firestore:"items"`
	Billing         orderContactDocument   `firestore:"billing"`
	Recipient       *orderContactDocument  `firestore:"recipient,omitempty"`
	Delivery        *orderDeliveryDocument `firestore:"delivery,omitempty"`
	CouponCode      string                 `firestore:"couponCode,omitempty"`
	Subtotal        int64                  `firestore:"subtotal"`
	DeliveryFee     int64                  `firestore:"deliveryFee"`
	Discount        int64                  `firestore:"discount"`
	Total           int64                  `firestore:"total"`
	Currency        string                 `firestore:"currency"`
	LoyaltyPoints   int64                  `firestore:"loyaltyPoints"`
	NeedsReview     bool                   `firestore:"needsReview"`
	PaymentIntentID string                 `firestore:"paymentIntentId,omitempty"`
	CreatedAt       time.Time              `firestore:"createdAt"`
	UpdatedAt       time.Time              `firestore:"updatedAt"`
}

// OrderRepository implements repositories.OrderRepository backed by Firestore.
// Documents are keyed by the checkout session ID so webhook redeliveries
// collapse into a single order.
type OrderRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[orderDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil)
	return &OrderRepository{
		provider: provider,
		base:     base,
	}, nil
}

// CreateIfAbsent writes the order unless one already exists under the same ID.
func (r *OrderRepository) CreateIfAbsent(ctx context.Context, order domain.Order) (domain.Order, bool, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, false, errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return domain.Order{}, false, errors.New("order repository: order id is required")
	}

	ref, err := r.base.DocumentRef(ctx, orderID)
	if err != nil {
		return domain.Order{}, false, err
	}

	doc := encodeOrder(order)
	if _, err := ref.Create(ctx, doc); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			existing, getErr := r.FindByID(ctx, orderID)
			if getErr != nil {
				return domain.Order{}, false, getErr
			}
			return existing, false, nil
		}
		return domain.Order{}, false, pfirestore.WrapError("orders.create", err)
	}

	saved := order
	saved.ID = orderID
	return saved, true, nil
}

// FindByID loads a single order document.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}

	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrder(doc.ID, doc.Data), nil
}

// ListByUser returns a page of the shopper's orders, newest first. The cursor
// is the createdAt timestamp of the last order on the previous page.
func (r *OrderRepository) ListByUser(ctx context.Context, filter repositories.OrderListFilter) (repositories.OrderPage, error) {
	if r == nil || r.base == nil {
		return repositories.OrderPage{}, errors.New("order repository not initialised")
	}
	userID := strings.TrimSpace(filter.UserID)
	email := strings.TrimSpace(strings.ToLower(filter.Email))
	if userID == "" && email == "" {
		return repositories.OrderPage{}, errors.New("order repository: user id or email is required")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}

	var cursor time.Time
	if token := strings.TrimSpace(filter.StartAfter); token != "" {
		parsed, err := time.Parse(time.RFC3339Nano, token)
		if err != nil {
			return repositories.OrderPage{}, errors.New("order repository: invalid page cursor")
		}
		cursor = parsed
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if userID != "" {
			q = q.Where("userId", "==", userID)
		} else {
			q = q.Where("email", "==", email)
		}
		q = q.OrderBy("createdAt", firestore.Desc)
		if !cursor.IsZero() {
			q = q.StartAfter(cursor)
		}
		return q.Limit(limit + 1)
	})
	if err != nil {
		return repositories.OrderPage{}, err
	}

	page := repositories.OrderPage{}
	for i, doc := range docs {
		if i == limit {
			page.NextCursor = page.Orders[len(page.Orders)-1].CreatedAt.UTC().Format(time.RFC3339Nano)
			break
		}
		page.Orders = append(page.Orders, decodeOrder(doc.ID, doc.Data))
	}
	return page, nil
}

// UpdateStatus moves the order from one fulfilment status to another inside a
// transaction. A document whose status no longer matches the expected
// from-status fails with a conflict so racing transitions cannot skip a state.
func (r *OrderRepository) UpdateStatus(ctx context.Context, orderID string, from, to domain.OrderStatus, updatedAt time.Time) (domain.Order, error) {
	if r == nil || r.provider == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	var updated domain.Order
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, id)
		if err != nil {
			return err
		}
		snapshot, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc orderDocument
		if err := snapshot.DataTo(&doc); err != nil {
			return fmt.Errorf("firestore orders decode %s: %w", id, err)
		}
		if doc.Status != string(from) {
			return pfirestore.ConflictError("orders.update_status",
				fmt.Sprintf("order %s is %s, expected %s", id, doc.Status, from))
		}

		if err := tx.Update(ref, []firestore.Update{
			{Path: "status", Value: string(to)},
			{Path: "updatedAt", Value: updatedAt.UTC()},
		}); err != nil {
			return err
		}

		updated = decodeOrder(id, doc)
		updated.Status = to
		updated.UpdatedAt = updatedAt.UTC()
		return nil
	})
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.update_status", err)
	}
	return updated, nil
}

func encodeOrder(order domain.Order) orderDocument {
	doc := orderDocument{
		Number:          strings.TrimSpace(order.Number),
		Status:          string(order.Status),
		PaymentStatus:   string(order.PaymentStatus),
		UserID:          strings.TrimSpace(order.UserID),
		Email:           strings.ToLower(strings.TrimSpace(order.Email)),
		Billing:         encodeOrderContact(order.Billing),
		CouponCode:      strings.TrimSpace(order.CouponCode),
		Subtotal:        order.Subtotal,
		DeliveryFee:     order.DeliveryFee,
		Discount:        order.Discount,
		Total:           order.Total,
		Currency:        strings.ToUpper(strings.TrimSpace(order.Currency)),
		LoyaltyPoints:   order.LoyaltyPoints,
		NeedsReview:     order.NeedsReview,
		PaymentIntentID: strings.TrimSpace(order.PaymentIntentID),
		CreatedAt:       order.CreatedAt.UTC(),
		UpdatedAt:       order.UpdatedAt.UTC(),
	}
	doc.Items = make([]orderItemDocument, 0, len(order.Items))
	for _, item := range order.Items {
		doc.Items = append(doc.Items, orderItemDocument{
			ProductID:   item.ProductID,
			VariantID:   item.VariantID,
			Name:        item.Name,
			UnitPrice:   item.UnitPrice,
			Quantity:    item.Quantity,
			GiftMessage: item.GiftMessage,
		})
	}
	if order.Recipient != nil {
		contact := encodeOrderContact(*order.Recipient)
		doc.Recipient = &contact
	}
	if order.Delivery != nil {
		doc.Delivery = &orderDeliveryDocument{
			Date:     order.Delivery.Date,
			Method:   order.Delivery.Method,
			Postcode: order.Delivery.Postcode,
			Fee:      order.Delivery.Fee,
		}
	}
	return doc
}

func encodeOrderContact(contact domain.Contact) orderContactDocument {
	return orderContactDocument{
		Name:  strings.TrimSpace(contact.Name),
		Email: strings.ToLower(strings.TrimSpace(contact.Email)),
		Phone: strings.TrimSpace(contact.Phone),
	}
}

func decodeOrder(id string, doc orderDocument) domain.Order {
	order := domain.Order{
		ID:              id,
		Number:          doc.Number,
		Status:          domain.OrderStatus(doc.Status),
		PaymentStatus:   domain.PaymentStatus(doc.PaymentStatus),
		UserID:          doc.UserID,
		Email:           doc.Email,
		Billing:         decodeOrderContact(doc.Billing),
		CouponCode:      doc.CouponCode,
		Subtotal:        doc.Subtotal,
		DeliveryFee:     doc.DeliveryFee,
		Discount:        doc.Discount,
		Total:           doc.Total,
		Currency:        doc.Currency,
		LoyaltyPoints:   doc.LoyaltyPoints,
		NeedsReview:     doc.NeedsReview,
		PaymentIntentID: doc.PaymentIntentID,
		CreatedAt:       doc.CreatedAt,
		UpdatedAt:       doc.UpdatedAt,
	}
	order.Items = make([]domain.OrderItem, 0, len(doc.Items))
	for _, item := range doc.Items {
		order.Items = append(order.Items, domain.OrderItem{
			ProductID:   item.ProductID,
			VariantID:   item.VariantID,
			Name:        item.Name,
			UnitPrice:   item.UnitPrice,
			Quantity:    item.Quantity,
			GiftMessage: item.GiftMessage,
		})
	}
	if doc.Recipient != nil {
		contact := decodeOrderContact(*doc.Recipient)
		order.Recipient = &contact
	}
	if doc.Delivery != nil {
		order.Delivery = &domain.DeliveryDetails{
			Date:     doc.Delivery.Date,
			Method:   doc.Delivery.Method,
			Postcode: doc.Delivery.Postcode,
			Fee:      doc.Delivery.Fee,
		}
	}
	return order
}

func decodeOrderContact(doc orderContactDocument) domain.Contact {
	return domain.Contact{
		Name:  doc.Name,
		Email: doc.Email,
		Phone: doc.Phone,
	}
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)
