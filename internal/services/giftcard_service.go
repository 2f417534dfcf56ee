package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/lilacbloom/api/internal/domain"
	"github.com/lilacbloom/api/internal/repositories"
)

const (
	giftCardCodePrefix       = "GC-"
	giftCardCodeMaxAttempts  = 3
	giftCardRedemptionPrefix = "rdm_"
)

var (
	// ErrGiftCardInvalidInput indicates the caller supplied invalid parameters.
	ErrGiftCardInvalidInput = errors.New("gift card: invalid input")
	// ErrGiftCardNotFound indicates no card exists under the code.
	ErrGiftCardNotFound = errors.New("gift card: not found")
	// ErrGiftCardNotRedeemable indicates the card is disabled or depleted.
	ErrGiftCardNotRedeemable = errors.New("gift card: not redeemable")
	// ErrGiftCardUnavailable indicates gift card dependencies are currently unavailable.
	ErrGiftCardUnavailable = errors.New("gift card: unavailable")
)

// GiftCardServiceDeps wires the dependencies required by the gift card service.
type GiftCardServiceDeps struct {
	GiftCards repositories.GiftCardRepository
	Events    EventPublisher
	Clock     func() time.Time
	IDGen     func() string
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type giftCardService struct {
	cards  repositories.GiftCardRepository
	events EventPublisher
	now    func() time.Time
	idGen  func() string
	logger func(ctx context.Context, event string, fields map[string]any)
}

// NewGiftCardService constructs a GiftCardService validating required dependencies.
func NewGiftCardService(deps GiftCardServiceDeps) (GiftCardService, error) {
	if deps.GiftCards == nil {
		return nil, errors.New("gift card service: gift card repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGen
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &giftCardService{
		cards:  deps.GiftCards,
		events: deps.Events,
		now: func() time.Time {
			return clock().UTC()
		},
		idGen:  idGen,
		logger: logger,
	}, nil
}

// Issue creates the card for a paid checkout session. The session ID guards
// against webhook redelivery; a fresh code is generated per issued card.
func (s *giftCardService) Issue(ctx context.Context, cmd IssueGiftCardCommand) (GiftCard, bool, error) {
	if s == nil || s.cards == nil {
		return GiftCard{}, false, ErrGiftCardUnavailable
	}
	sessionID := strings.TrimSpace(cmd.SessionID)
	if sessionID == "" || cmd.Amount <= 0 {
		return GiftCard{}, false, ErrGiftCardInvalidInput
	}

	now := cmd.OccurredAt.UTC()
	if now.IsZero() {
		now = s.now()
	}

	card := GiftCard{
		InitialBalance: cmd.Amount,
		Balance:        cmd.Amount,
		Currency:       domain.NormalizeCurrency(cmd.Currency),
		Status:         domain.GiftCardStatusActive,
		PurchaserEmail: strings.ToLower(strings.TrimSpace(cmd.PurchaserEmail)),
		RecipientEmail: strings.ToLower(strings.TrimSpace(cmd.RecipientEmail)),
		Message:        cmd.Message,
		SessionID:      sessionID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	// The repository resolves session redelivery atomically; the only retry
	// here is for a code collision, which ULIDs make all but impossible.
	for attempt := 0; attempt < giftCardCodeMaxAttempts; attempt++ {
		card.Code = giftCardCodePrefix + s.idGen()
		saved, created, err := s.cards.CreateIfAbsent(ctx, card)
		if err != nil {
			var cardErr *repositories.GiftCardError
			if errors.As(err, &cardErr) && cardErr.Code == repositories.GiftCardErrorCodeTaken {
				continue
			}
			return GiftCard{}, false, s.translateGiftCardError(err)
		}
		if !created {
			return saved, false, nil
		}

		s.logger(ctx, "giftcard.issued", map[string]any{
			"sessionId": sessionID,
			"amount":    saved.InitialBalance,
			"currency":  saved.Currency,
		})
		s.publish(ctx, EventMessage{
			Type:       EventGiftCardIssued,
			EntityID:   saved.Code,
			SessionID:  sessionID,
			Email:      saved.PurchaserEmail,
			Amount:     saved.InitialBalance,
			Currency:   saved.Currency,
			OccurredAt: now,
		})
		return saved, true, nil
	}
	return GiftCard{}, false, ErrGiftCardUnavailable
}

// Validate returns the redeemable state of a card without mutating it.
func (s *giftCardService) Validate(ctx context.Context, code string) (GiftCardStatusView, error) {
	if s == nil || s.cards == nil {
		return GiftCardStatusView{}, ErrGiftCardUnavailable
	}
	trimmed := strings.TrimSpace(code)
	if trimmed == "" {
		return GiftCardStatusView{}, ErrGiftCardInvalidInput
	}

	card, err := s.cards.FindByCode(ctx, trimmed)
	if err != nil {
		return GiftCardStatusView{}, s.translateGiftCardError(err)
	}

	return GiftCardStatusView{
		Code:             card.Code,
		Balance:          card.Balance,
		Currency:         card.Currency,
		Status:           card.Status,
		FormattedBalance: domain.FormatAmount(card.Currency, card.Balance),
	}, nil
}

// Redeem deducts from the card balance, capped at the remaining balance.
func (s *giftCardService) Redeem(ctx context.Context, cmd RedeemGiftCardCommand) (GiftCardRedemptionView, error) {
	if s == nil || s.cards == nil {
		return GiftCardRedemptionView{}, ErrGiftCardUnavailable
	}
	code := strings.TrimSpace(cmd.Code)
	if code == "" || cmd.Amount <= 0 {
		return GiftCardRedemptionView{}, ErrGiftCardInvalidInput
	}

	result, err := s.cards.Redeem(ctx, code, repositories.GiftCardRedeemRequest{
		RedemptionID: giftCardRedemptionPrefix + s.idGen(),
		Amount:       cmd.Amount,
		OrderRef:     strings.TrimSpace(cmd.OrderRef),
		Now:          s.now(),
	})
	if err != nil {
		return GiftCardRedemptionView{}, s.translateGiftCardError(err)
	}

	s.logger(ctx, "giftcard.redeemed", map[string]any{
		"deducted":     result.Redemption.Amount,
		"remaining":    result.Redemption.Remaining,
		"insufficient": result.Insufficient,
	})

	return GiftCardRedemptionView{
		Card:         result.Card,
		Deducted:     result.Redemption.Amount,
		Remaining:    result.Redemption.Remaining,
		Insufficient: result.Insufficient,
	}, nil
}

func (s *giftCardService) publish(ctx context.Context, message EventMessage) {
	if s.events == nil {
		return
	}
	if _, err := s.events.PublishEvent(ctx, message); err != nil {
		s.logger(ctx, "giftcard.event_publish_failed", map[string]any{
			"type":     message.Type,
			"entityId": message.EntityID,
			"error":    err.Error(),
		})
	}
}

func (s *giftCardService) translateGiftCardError(err error) error {
	if err == nil {
		return nil
	}
	var cardErr *repositories.GiftCardError
	if errors.As(err, &cardErr) {
		switch cardErr.Code {
		case repositories.GiftCardErrorInvalidInput:
			return ErrGiftCardInvalidInput
		case repositories.GiftCardErrorDisabled, repositories.GiftCardErrorDepleted:
			return ErrGiftCardNotRedeemable
		}
		return ErrGiftCardUnavailable
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrGiftCardNotFound
		case repoErr.IsUnavailable():
			return ErrGiftCardUnavailable
		}
	}
	return ErrGiftCardUnavailable
}
