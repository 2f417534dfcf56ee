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

const (
	giftCardsCollection        = "giftCards"
	giftCardSessionsCollection = "giftCardSessions"
	redemptionsSubcollection   = "redemptions"
)

type giftCardDocument struct {
	InitialBalance int64     `firestore:"initialBalance"`
	Balance        int64     `firestore:"balance"`
	Currency       string    `firestore:"currency"`
	Status         string    `firestore:"status"`
	PurchaserEmail string    `firestore:"purchaserEmail,omitempty"`
	RecipientEmail string    `firestore:"recipientEmail,omitempty"`
	Message        string    `firestore:"message,omitempty"`
	SessionID      string    `firestore:"sessionId"`
	CreatedAt      time.Time `firestore:"createdAt"`
	UpdatedAt      time.Time `firestore:"updatedAt"`
}

// giftCardSessionDocument pins a checkout session to the card it paid for.
// Keying it by session ID makes issuance idempotent under webhook redelivery.
type giftCardSessionDocument struct {
	Code      string    `firestore:"code"`
	CreatedAt time.Time `firestore:"createdAt"`
}

type redemptionDocument struct {
	Amount    int64     `firestore:"amount"`
	Remaining int64     `firestore:"remaining"`
	OrderRef  string    `firestore:"orderRef,omitempty"`
	CreatedAt time.Time `firestore:"createdAt"`
}

// GiftCardRepository implements repositories.GiftCardRepository backed by
// Firestore. Cards are keyed by their redemption code, a session marker
// collection pins each checkout session to the card it issued, and each
// deduction is recorded in a redemptions subcollection under the card.
type GiftCardRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[giftCardDocument]
	sessions *pfirestore.BaseRepository[giftCardSessionDocument]
}

// NewGiftCardRepository constructs a Firestore-backed gift card repository.
func NewGiftCardRepository(provider *pfirestore.Provider) (*GiftCardRepository, error) {
	if provider == nil {
		return nil, errors.New("gift card repository requires firestore provider")
	}
	return &GiftCardRepository{
		provider: provider,
		base:     pfirestore.NewBaseRepository[giftCardDocument](provider, giftCardsCollection, nil, nil),
		sessions: pfirestore.NewBaseRepository[giftCardSessionDocument](provider, giftCardSessionsCollection, nil, nil),
	}, nil
}

// CreateIfAbsent writes the card unless its checkout session already issued
// one. The session marker and the card are created in one transaction, so two
// racing deliveries of the same session resolve to a single card.
func (r *GiftCardRepository) CreateIfAbsent(ctx context.Context, card domain.GiftCard) (domain.GiftCard, bool, error) {
	if r == nil || r.provider == nil {
		return domain.GiftCard{}, false, errors.New("gift card repository not initialised")
	}
	code := strings.TrimSpace(card.Code)
	if code == "" {
		return domain.GiftCard{}, false, repositories.NewGiftCardError(repositories.GiftCardErrorInvalidInput, "gift card code is required", nil)
	}
	sid := strings.TrimSpace(card.SessionID)
	if sid == "" {
		return domain.GiftCard{}, false, repositories.NewGiftCardError(repositories.GiftCardErrorInvalidInput, "gift card session id is required", nil)
	}

	var (
		saved   domain.GiftCard
		created bool
	)
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		sessionRef, err := r.sessions.DocumentRef(ctx, sid)
		if err != nil {
			return err
		}
		cardRef, err := r.base.DocumentRef(ctx, code)
		if err != nil {
			return err
		}

		markerSnap, err := tx.Get(sessionRef)
		switch {
		case err == nil:
			var marker giftCardSessionDocument
			if err := markerSnap.DataTo(&marker); err != nil {
				return fmt.Errorf("firestore giftcard sessions decode %s: %w", sid, err)
			}
			existingRef, err := r.base.DocumentRef(ctx, marker.Code)
			if err != nil {
				return err
			}
			existingSnap, err := tx.Get(existingRef)
			if err != nil {
				return err
			}
			var existing giftCardDocument
			if err := existingSnap.DataTo(&existing); err != nil {
				return fmt.Errorf("firestore giftcards decode %s: %w", marker.Code, err)
			}
			saved = decodeGiftCard(marker.Code, existing)
			created = false
			return nil
		case status.Code(err) != codes.NotFound:
			return err
		}

		if _, err := tx.Get(cardRef); err == nil {
			return repositories.NewGiftCardError(repositories.GiftCardErrorCodeTaken, fmt.Sprintf("gift card code %s already in use", code), nil)
		} else if status.Code(err) != codes.NotFound {
			return err
		}

		if err := tx.Create(sessionRef, giftCardSessionDocument{
			Code:      code,
			CreatedAt: card.CreatedAt.UTC(),
		}); err != nil {
			return err
		}
		if err := tx.Create(cardRef, encodeGiftCard(card)); err != nil {
			return err
		}

		saved = card
		saved.ID = code
		saved.Code = code
		created = true
		return nil
	})
	if err != nil {
		var cardErr *repositories.GiftCardError
		if errors.As(err, &cardErr) {
			return domain.GiftCard{}, false, cardErr
		}
		return domain.GiftCard{}, false, pfirestore.WrapError("giftcards.create", err)
	}
	return saved, created, nil
}

// FindByCode loads a single gift card document.
func (r *GiftCardRepository) FindByCode(ctx context.Context, code string) (domain.GiftCard, error) {
	if r == nil || r.base == nil {
		return domain.GiftCard{}, errors.New("gift card repository not initialised")
	}
	id := strings.TrimSpace(code)
	if id == "" {
		return domain.GiftCard{}, repositories.NewGiftCardError(repositories.GiftCardErrorInvalidInput, "gift card code is required", nil)
	}

	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.GiftCard{}, err
	}
	return decodeGiftCard(doc.ID, doc.Data), nil
}

// Redeem atomically deducts from the card balance and appends a ledger entry.
// When the requested amount exceeds the balance only the remaining balance is
// deducted and the result carries the Insufficient flag.
func (r *GiftCardRepository) Redeem(ctx context.Context, code string, req repositories.GiftCardRedeemRequest) (repositories.GiftCardRedeemResult, error) {
	if r == nil || r.provider == nil {
		return repositories.GiftCardRedeemResult{}, errors.New("gift card repository not initialised")
	}
	id := strings.TrimSpace(code)
	if id == "" {
		return repositories.GiftCardRedeemResult{}, repositories.NewGiftCardError(repositories.GiftCardErrorInvalidInput, "gift card code is required", nil)
	}
	redemptionID := strings.TrimSpace(req.RedemptionID)
	if redemptionID == "" {
		return repositories.GiftCardRedeemResult{}, repositories.NewGiftCardError(repositories.GiftCardErrorInvalidInput, "redemption id is required", nil)
	}
	if req.Amount <= 0 {
		return repositories.GiftCardRedeemResult{}, repositories.NewGiftCardError(repositories.GiftCardErrorInvalidInput, fmt.Sprintf("redemption amount must be positive, got %d", req.Amount), nil)
	}

	now := req.Now.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var result repositories.GiftCardRedeemResult
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, id)
		if err != nil {
			return err
		}

		snapshot, err := tx.Get(ref)
		if err != nil {
			return err
		}

		var doc giftCardDocument
		if err := snapshot.DataTo(&doc); err != nil {
			return fmt.Errorf("firestore giftcards decode %s: %w", id, err)
		}

		switch domain.GiftCardStatus(doc.Status) {
		case domain.GiftCardStatusDisabled:
			return repositories.NewGiftCardError(repositories.GiftCardErrorDisabled, fmt.Sprintf("gift card %s is disabled", id), nil)
		case domain.GiftCardStatusDepleted:
			return repositories.NewGiftCardError(repositories.GiftCardErrorDepleted, fmt.Sprintf("gift card %s has no remaining balance", id), nil)
		}
		if doc.Balance <= 0 {
			return repositories.NewGiftCardError(repositories.GiftCardErrorDepleted, fmt.Sprintf("gift card %s has no remaining balance", id), nil)
		}

		deducted := req.Amount
		insufficient := false
		if deducted > doc.Balance {
			deducted = doc.Balance
			insufficient = true
		}

		remaining := doc.Balance - deducted
		newStatus := doc.Status
		if remaining == 0 {
			newStatus = string(domain.GiftCardStatusDepleted)
		}

		entry := redemptionDocument{
			Amount:    deducted,
			Remaining: remaining,
			OrderRef:  strings.TrimSpace(req.OrderRef),
			CreatedAt: now,
		}
		if err := tx.Create(ref.Collection(redemptionsSubcollection).Doc(redemptionID), entry); err != nil {
			return err
		}

		updates := []firestore.Update{
			{Path: "balance", Value: remaining},
			{Path: "status", Value: newStatus},
			{Path: "updatedAt", Value: now},
		}
		if err := tx.Update(ref, updates); err != nil {
			return err
		}

		card := decodeGiftCard(id, doc)
		card.Balance = remaining
		card.Status = domain.GiftCardStatus(newStatus)
		card.UpdatedAt = now

		result = repositories.GiftCardRedeemResult{
			Card: card,
			Redemption: domain.GiftCardRedemption{
				ID:        redemptionID,
				Amount:    deducted,
				Remaining: remaining,
				CreatedAt: now,
			},
			Insufficient: insufficient,
		}
		return nil
	})
	if err != nil {
		var cardErr *repositories.GiftCardError
		if errors.As(err, &cardErr) {
			return repositories.GiftCardRedeemResult{}, cardErr
		}
		return repositories.GiftCardRedeemResult{}, pfirestore.WrapError("giftcards.redeem", err)
	}
	return result, nil
}

func encodeGiftCard(card domain.GiftCard) giftCardDocument {
	return giftCardDocument{
		InitialBalance: card.InitialBalance,
		Balance:        card.Balance,
		Currency:       strings.ToUpper(strings.TrimSpace(card.Currency)),
		Status:         string(card.Status),
		PurchaserEmail: strings.ToLower(strings.TrimSpace(card.PurchaserEmail)),
		RecipientEmail: strings.ToLower(strings.TrimSpace(card.RecipientEmail)),
		Message:        card.Message,
		SessionID:      strings.TrimSpace(card.SessionID),
		CreatedAt:      card.CreatedAt.UTC(),
		UpdatedAt:      card.UpdatedAt.UTC(),
	}
}

func decodeGiftCard(id string, doc giftCardDocument) domain.GiftCard {
	return domain.GiftCard{
		ID:             id,
		Code:           id,
		InitialBalance: doc.InitialBalance,
		Balance:        doc.Balance,
		Currency:       doc.Currency,
		Status:         domain.GiftCardStatus(doc.Status),
		PurchaserEmail: doc.PurchaserEmail,
		RecipientEmail: doc.RecipientEmail,
		Message:        doc.Message,
		SessionID:      doc.SessionID,
		CreatedAt:      doc.CreatedAt,
		UpdatedAt:      doc.UpdatedAt,
	}
}

var _ repositories.GiftCardRepository = (*GiftCardRepository)(nil)
