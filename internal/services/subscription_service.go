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
	// ErrSubscriptionInvalidInput indicates the caller supplied invalid parameters.
	ErrSubscriptionInvalidInput = errors.New("subscription: invalid input")
	// ErrSubscriptionNotFound indicates the subscription does not exist.
	ErrSubscriptionNotFound = errors.New("subscription: not found")
	// ErrSubscriptionForbidden indicates the caller may not mutate the subscription.
	ErrSubscriptionForbidden = errors.New("subscription: forbidden")
	// ErrSubscriptionInvalidTransition indicates the requested state change is not allowed.
	ErrSubscriptionInvalidTransition = errors.New("subscription: invalid status transition")
	// ErrSubscriptionUnavailable indicates subscription dependencies are currently unavailable.
	ErrSubscriptionUnavailable = errors.New("subscription: unavailable")
)

// subscriptionProviderManager abstracts payments.Manager for easier testing.
type subscriptionProviderManager interface {
	CancelSubscription(ctx context.Context, preferred, providerSubID string) error
	PauseSubscription(ctx context.Context, preferred, providerSubID string) error
	ResumeSubscription(ctx context.Context, preferred, providerSubID string) error
}

// SubscriptionServiceDeps wires the dependencies required by the subscription service.
type SubscriptionServiceDeps struct {
	Subscriptions repositories.SubscriptionRepository
	Payments      subscriptionProviderManager
	Events        EventPublisher
	Clock         func() time.Time
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type subscriptionService struct {
	subs     repositories.SubscriptionRepository
	payments subscriptionProviderManager
	events   EventPublisher
	now      func() time.Time
	logger   func(ctx context.Context, event string, fields map[string]any)
}

// NewSubscriptionService constructs a SubscriptionService validating required dependencies.
func NewSubscriptionService(deps SubscriptionServiceDeps) (SubscriptionService, error) {
	if deps.Subscriptions == nil {
		return nil, errors.New("subscription service: subscription repository is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("subscription service: payment manager is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &subscriptionService{
		subs:     deps.Subscriptions,
		payments: deps.Payments,
		events:   deps.Events,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Materialize persists the subscription for a completed checkout session. The
// session ID keys the document so redelivered events collapse into a no-op.
func (s *subscriptionService) Materialize(ctx context.Context, cmd MaterializeSubscriptionCommand) (Subscription, bool, error) {
	if s == nil || s.subs == nil {
		return Subscription{}, false, ErrSubscriptionUnavailable
	}
	sessionID := strings.TrimSpace(cmd.SessionID)
	planID := strings.TrimSpace(cmd.PlanID)
	if sessionID == "" || planID == "" {
		return Subscription{}, false, ErrSubscriptionInvalidInput
	}

	now := cmd.OccurredAt.UTC()
	if now.IsZero() {
		now = s.now()
	}

	sub := Subscription{
		ID:             sessionID,
		UserID:         strings.TrimSpace(cmd.UserID),
		Email:          strings.ToLower(strings.TrimSpace(cmd.Email)),
		PlanID:         planID,
		PlanName:       strings.TrimSpace(cmd.PlanName),
		Status:         domain.SubscriptionStatusActive,
		Amount:         cmd.Amount,
		Currency:       domain.NormalizeCurrency(cmd.Currency),
		Interval:       strings.TrimSpace(cmd.Interval),
		ProviderSubID:  strings.TrimSpace(cmd.ProviderSubID),
		SessionID:      sessionID,
		CreatedAt:      now,
		UpdatedAt:      now,
		LastRemoteSync: now,
	}

	saved, created, err := s.subs.CreateIfAbsent(ctx, sub)
	if err != nil {
		return Subscription{}, false, s.translateSubscriptionError(err)
	}
	if !created {
		return saved, false, nil
	}

	s.logger(ctx, "subscription.created", map[string]any{
		"sessionId": sessionID,
		"plan":      planID,
		"amount":    saved.Amount,
	})
	s.publish(ctx, EventMessage{
		Type:       EventSubscriptionCreated,
		EntityID:   saved.ID,
		SessionID:  sessionID,
		Email:      saved.Email,
		Amount:     saved.Amount,
		Currency:   saved.Currency,
		OccurredAt: now,
	})
	return saved, true, nil
}

// Cancel ends the subscription. The local record is authoritative; a provider
// failure leaves the record flagged for reconciliation rather than failing the call.
func (s *subscriptionService) Cancel(ctx context.Context, cmd SubscriptionLifecycleCommand) (Subscription, error) {
	return s.transition(ctx, cmd, domain.SubscriptionStatusCancelled, EventSubscriptionCancelled)
}

// Pause suspends billing while keeping the plan alive.
func (s *subscriptionService) Pause(ctx context.Context, cmd SubscriptionLifecycleCommand) (Subscription, error) {
	return s.transition(ctx, cmd, domain.SubscriptionStatusPaused, EventSubscriptionPaused)
}

// Resume restarts billing on a paused plan.
func (s *subscriptionService) Resume(ctx context.Context, cmd SubscriptionLifecycleCommand) (Subscription, error) {
	return s.transition(ctx, cmd, domain.SubscriptionStatusActive, EventSubscriptionResumed)
}

func (s *subscriptionService) transition(ctx context.Context, cmd SubscriptionLifecycleCommand, target domain.SubscriptionStatus, eventType string) (Subscription, error) {
	if s == nil || s.subs == nil || s.payments == nil {
		return Subscription{}, ErrSubscriptionUnavailable
	}
	subID := strings.TrimSpace(cmd.SubscriptionID)
	if subID == "" {
		return Subscription{}, ErrSubscriptionInvalidInput
	}

	sub, err := s.subs.FindByID(ctx, subID)
	if err != nil {
		return Subscription{}, s.translateSubscriptionError(err)
	}
	if !cmd.Staff && !ownsSubscription(sub, cmd.UserID, cmd.Email) {
		return Subscription{}, ErrSubscriptionForbidden
	}
	if !domain.CanTransitionSubscription(sub.Status, target) {
		return Subscription{}, fmt.Errorf("%w: %s to %s", ErrSubscriptionInvalidTransition, sub.Status, target)
	}

	now := s.now()
	previous := sub.Status
	sub.Status = target
	sub.UpdatedAt = now
	sub.PendingRemote = true
	if target == domain.SubscriptionStatusCancelled {
		cancelledAt := now
		sub.CancelledAt = &cancelledAt
	}

	// Local state first. Provider failures must never resurrect the plan.
	saved, err := s.subs.Update(ctx, sub)
	if err != nil {
		return Subscription{}, s.translateSubscriptionError(err)
	}

	if err := s.pushRemote(ctx, saved, target); err != nil {
		s.logger(ctx, "subscription.remote_failed", map[string]any{
			"subscriptionId": saved.ID,
			"target":         string(target),
			"error":          err.Error(),
		})
		s.publish(ctx, EventMessage{
			Type:       EventSubscriptionSyncRequested,
			EntityID:   saved.ID,
			Email:      saved.Email,
			OccurredAt: now,
		})
	} else {
		saved.PendingRemote = false
		saved.LastRemoteSync = now
		if synced, err := s.subs.Update(ctx, saved); err == nil {
			saved = synced
		} else {
			s.logger(ctx, "subscription.sync_mark_failed", map[string]any{
				"subscriptionId": saved.ID,
				"error":          err.Error(),
			})
		}
	}

	s.logger(ctx, "subscription.status_changed", map[string]any{
		"subscriptionId": saved.ID,
		"from":           string(previous),
		"to":             string(target),
	})
	s.publish(ctx, EventMessage{
		Type:       eventType,
		EntityID:   saved.ID,
		Email:      saved.Email,
		OccurredAt: now,
	})
	return saved, nil
}

// Reconcile retries the provider call for subscriptions whose remote state lags
// the local record. It returns the number of records brought back in sync.
func (s *subscriptionService) Reconcile(ctx context.Context, limit int) (int, error) {
	if s == nil || s.subs == nil || s.payments == nil {
		return 0, ErrSubscriptionUnavailable
	}

	pending, err := s.subs.ListPendingRemote(ctx, limit)
	if err != nil {
		return 0, s.translateSubscriptionError(err)
	}

	synced := 0
	for _, sub := range pending {
		if err := s.pushRemote(ctx, sub, sub.Status); err != nil {
			s.logger(ctx, "subscription.reconcile_failed", map[string]any{
				"subscriptionId": sub.ID,
				"status":         string(sub.Status),
				"error":          err.Error(),
			})
			continue
		}
		now := s.now()
		sub.PendingRemote = false
		sub.LastRemoteSync = now
		sub.UpdatedAt = now
		if _, err := s.subs.Update(ctx, sub); err != nil {
			s.logger(ctx, "subscription.sync_mark_failed", map[string]any{
				"subscriptionId": sub.ID,
				"error":          err.Error(),
			})
			continue
		}
		synced++
	}
	return synced, nil
}

func (s *subscriptionService) pushRemote(ctx context.Context, sub Subscription, target domain.SubscriptionStatus) error {
	providerSubID := strings.TrimSpace(sub.ProviderSubID)
	if providerSubID == "" {
		return errors.New("subscription has no provider reference")
	}
	switch target {
	case domain.SubscriptionStatusCancelled:
		return s.payments.CancelSubscription(ctx, "", providerSubID)
	case domain.SubscriptionStatusPaused:
		return s.payments.PauseSubscription(ctx, "", providerSubID)
	case domain.SubscriptionStatusActive:
		return s.payments.ResumeSubscription(ctx, "", providerSubID)
	default:
		return fmt.Errorf("no provider action for status %s", target)
	}
}

func (s *subscriptionService) publish(ctx context.Context, message EventMessage) {
	if s.events == nil {
		return
	}
	if _, err := s.events.PublishEvent(ctx, message); err != nil {
		s.logger(ctx, "subscription.event_publish_failed", map[string]any{
			"type":     message.Type,
			"entityId": message.EntityID,
			"error":    err.Error(),
		})
	}
}

func (s *subscriptionService) translateSubscriptionError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrSubscriptionNotFound
		case repoErr.IsUnavailable():
			return ErrSubscriptionUnavailable
		}
	}
	return ErrSubscriptionUnavailable
}

func ownsSubscription(sub Subscription, userID, email string) bool {
	uid := strings.TrimSpace(userID)
	if uid != "" && sub.UserID == uid {
		return true
	}
	addr := strings.ToLower(strings.TrimSpace(email))
	return addr != "" && sub.Email == addr
}
