package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/lilacbloom/api/internal/domain"
	pfirestore "github.com/lilacbloom/api/internal/platform/firestore"
	"github.com/lilacbloom/api/internal/repositories"
)

const subscriptionsCollection = "subscriptions"

type subscriptionDocument struct {
	UserID         string     `firestore:"userId,omitempty"`
	Email          string     `firestore:"email"`
	PlanID         string     `firestore:"planId"`
	PlanName       string     `firestore:"planName,omitempty"`
	Status         string     `firestore:"status"`
	Amount         int64      `firestore:"amount"`
	Currency       string     `firestore:"currency"`
	Interval       string     `firestore:"interval"`
	ProviderSubID  string     `firestore:"providerSubId,omitempty"`
	CreatedAt      time.Time  `firestore:"createdAt"`
	UpdatedAt      time.Time  `firestore:"updatedAt"`
	CancelledAt    *time.Time `firestore:"cancelledAt,omitempty"`
	PendingRemote  bool       `firestore:"pendingRemote"`
	LastRemoteSync time.Time  `firestore:"lastRemoteSync,omitempty"`
}

// SubscriptionRepository implements repositories.SubscriptionRepository backed
// by Firestore. Documents are keyed by the checkout session ID so webhook
// redeliveries collapse into a single subscription.
type SubscriptionRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[subscriptionDocument]
}

// NewSubscriptionRepository constructs a Firestore-backed subscription repository.
func NewSubscriptionRepository(provider *pfirestore.Provider) (*SubscriptionRepository, error) {
	if provider == nil {
		return nil, errors.New("subscription repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[subscriptionDocument](provider, subscriptionsCollection, nil, nil)
	return &SubscriptionRepository{
		provider: provider,
		base:     base,
	}, nil
}

// CreateIfAbsent writes the subscription unless one already exists under the same ID.
func (r *SubscriptionRepository) CreateIfAbsent(ctx context.Context, sub domain.Subscription) (domain.Subscription, bool, error) {
	if r == nil || r.base == nil {
		return domain.Subscription{}, false, errors.New("subscription repository not initialised")
	}
	subID := strings.TrimSpace(sub.ID)
	if subID == "" {
		return domain.Subscription{}, false, errors.New("subscription repository: subscription id is required")
	}

	ref, err := r.base.DocumentRef(ctx, subID)
	if err != nil {
		return domain.Subscription{}, false, err
	}

	doc := encodeSubscription(sub)
	if _, err := ref.Create(ctx, doc); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			existing, getErr := r.FindByID(ctx, subID)
			if getErr != nil {
				return domain.Subscription{}, false, getErr
			}
			return existing, false, nil
		}
		return domain.Subscription{}, false, pfirestore.WrapError("subscriptions.create", err)
	}

	saved := sub
	saved.ID = subID
	return saved, true, nil
}

// FindByID loads a single subscription document.
func (r *SubscriptionRepository) FindByID(ctx context.Context, subscriptionID string) (domain.Subscription, error) {
	if r == nil || r.base == nil {
		return domain.Subscription{}, errors.New("subscription repository not initialised")
	}
	id := strings.TrimSpace(subscriptionID)
	if id == "" {
		return domain.Subscription{}, errors.New("subscription repository: subscription id is required")
	}

	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.Subscription{}, err
	}
	return decodeSubscription(doc.ID, doc.Data), nil
}

// FindCurrentByEmail returns the active or paused subscription for the email, if one exists.
func (r *SubscriptionRepository) FindCurrentByEmail(ctx context.Context, email string) (domain.Subscription, bool, error) {
	if r == nil || r.base == nil {
		return domain.Subscription{}, false, errors.New("subscription repository not initialised")
	}
	addr := strings.ToLower(strings.TrimSpace(email))
	if addr == "" {
		return domain.Subscription{}, false, errors.New("subscription repository: email is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.
			Where("email", "==", addr).
			Where("status", "in", []string{
				string(domain.SubscriptionStatusActive),
				string(domain.SubscriptionStatusPaused),
			}).
			Limit(1)
	})
	if err != nil {
		return domain.Subscription{}, false, err
	}
	if len(docs) == 0 {
		return domain.Subscription{}, false, nil
	}
	return decodeSubscription(docs[0].ID, docs[0].Data), true, nil
}

// Update replaces the subscription document.
func (r *SubscriptionRepository) Update(ctx context.Context, sub domain.Subscription) (domain.Subscription, error) {
	if r == nil || r.base == nil {
		return domain.Subscription{}, errors.New("subscription repository not initialised")
	}
	subID := strings.TrimSpace(sub.ID)
	if subID == "" {
		return domain.Subscription{}, errors.New("subscription repository: subscription id is required")
	}

	doc := encodeSubscription(sub)
	result, err := r.base.Set(ctx, subID, doc)
	if err != nil {
		return domain.Subscription{}, err
	}

	saved := sub
	saved.ID = subID
	saved.UpdatedAt = result.UpdateTime
	return saved, nil
}

// ListPendingRemote returns subscriptions whose provider-side state may lag the local record.
func (r *SubscriptionRepository) ListPendingRemote(ctx context.Context, limit int) ([]domain.Subscription, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("subscription repository not initialised")
	}
	if limit <= 0 {
		limit = 50
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.
			Where("pendingRemote", "==", true).
			OrderBy("updatedAt", firestore.Asc).
			Limit(limit)
	})
	if err != nil {
		return nil, err
	}

	subs := make([]domain.Subscription, 0, len(docs))
	for _, doc := range docs {
		subs = append(subs, decodeSubscription(doc.ID, doc.Data))
	}
	return subs, nil
}

func encodeSubscription(sub domain.Subscription) subscriptionDocument {
	doc := subscriptionDocument{
		UserID:         strings.TrimSpace(sub.UserID),
		Email:          strings.ToLower(strings.TrimSpace(sub.Email)),
		PlanID:         strings.TrimSpace(sub.PlanID),
		PlanName:       strings.TrimSpace(sub.PlanName),
		Status:         string(sub.Status),
		Amount:         sub.Amount,
		Currency:       strings.ToUpper(strings.TrimSpace(sub.Currency)),
		Interval:       strings.TrimSpace(sub.Interval),
		ProviderSubID:  strings.TrimSpace(sub.ProviderSubID),
		CreatedAt:      sub.CreatedAt.UTC(),
		UpdatedAt:      sub.UpdatedAt.UTC(),
		PendingRemote:  sub.PendingRemote,
		LastRemoteSync: sub.LastRemoteSync.UTC(),
	}
	if sub.CancelledAt != nil {
		cancelled := sub.CancelledAt.UTC()
		doc.CancelledAt = &cancelled
	}
	return doc
}

func decodeSubscription(id string, doc subscriptionDocument) domain.Subscription {
	sub := domain.Subscription{
		ID:             id,
		UserID:         doc.UserID,
		Email:          doc.Email,
		PlanID:         doc.PlanID,
		PlanName:       doc.PlanName,
		Status:         domain.SubscriptionStatus(doc.Status),
		Amount:         doc.Amount,
		Currency:       doc.Currency,
		Interval:       doc.Interval,
		ProviderSubID:  doc.ProviderSubID,
		CreatedAt:      doc.CreatedAt,
		UpdatedAt:      doc.UpdatedAt,
		PendingRemote:  doc.PendingRemote,
		LastRemoteSync: doc.LastRemoteSync,
	}
	if doc.CancelledAt != nil {
		cancelled := *doc.CancelledAt
		sub.CancelledAt = &cancelled
	}
	return sub
}

var _ repositories.SubscriptionRepository = (*SubscriptionRepository)(nil)
