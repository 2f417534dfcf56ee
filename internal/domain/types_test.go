package domain

import "testing"

func TestOrderStatusTransitions(t *testing.T) {
	allowed := []struct{ from, to OrderStatus }{
		{OrderStatusConfirmed, OrderStatusPreparing},
		{OrderStatusConfirmed, OrderStatusCancelled},
		{OrderStatusPreparing, OrderStatusOutForDelivery},
		{OrderStatusPreparing, OrderStatusCancelled},
		{OrderStatusOutForDelivery, OrderStatusDelivered},
		{OrderStatusOutForDelivery, OrderStatusCancelled},
	}
	for _, tc := range allowed {
		if !CanTransitionOrder(tc.from, tc.to) {
			t.Fatalf("expected %s -> %s to be allowed", tc.from, tc.to)
		}
	}

	denied := []struct{ from, to OrderStatus }{
		{OrderStatusConfirmed, OrderStatusDelivered},
		{OrderStatusConfirmed, OrderStatusOutForDelivery},
		{OrderStatusPreparing, OrderStatusConfirmed},
		{OrderStatusDelivered, OrderStatusCancelled},
		{OrderStatusCancelled, OrderStatusConfirmed},
		{OrderStatusDelivered, OrderStatusPreparing},
	}
	for _, tc := range denied {
		if CanTransitionOrder(tc.from, tc.to) {
			t.Fatalf("expected %s -> %s to be rejected", tc.from, tc.to)
		}
	}
}

func TestTerminalOrderStatus(t *testing.T) {
	if !TerminalOrderStatus(OrderStatusDelivered) || !TerminalOrderStatus(OrderStatusCancelled) {
		t.Fatalf("delivered and cancelled must be terminal")
	}
	if TerminalOrderStatus(OrderStatusConfirmed) || TerminalOrderStatus("unknown") {
		t.Fatalf("confirmed and unknown statuses must not be terminal")
	}
}

func TestSubscriptionStatusTransitions(t *testing.T) {
	if !CanTransitionSubscription(SubscriptionStatusActive, SubscriptionStatusPaused) {
		t.Fatalf("active -> paused must be allowed")
	}
	if !CanTransitionSubscription(SubscriptionStatusPaused, SubscriptionStatusActive) {
		t.Fatalf("paused -> active must be allowed")
	}
	if !CanTransitionSubscription(SubscriptionStatusPaused, SubscriptionStatusCancelled) {
		t.Fatalf("paused -> cancelled must be allowed")
	}
	if CanTransitionSubscription(SubscriptionStatusCancelled, SubscriptionStatusActive) {
		t.Fatalf("cancelled is terminal")
	}
}

func TestLoyaltyPointsFor(t *testing.T) {
	cases := []struct {
		amount int64
		want   int64
	}{
		{0, 0},
		{-500, 0},
		{99, 0},
		{100, 1},
		{12799, 127},
	}
	for _, tc := range cases {
		if got := LoyaltyPointsFor(tc.amount); got != tc.want {
			t.Fatalf("LoyaltyPointsFor(%d) = %d, want %d", tc.amount, got, tc.want)
		}
	}
}

func TestFormatAmount(t *testing.T) {
	got := FormatAmount("GBP", 12550)
	if got == "" {
		t.Fatalf("FormatAmount returned empty string")
	}
	if got != FormatAmount("gbp", 12550) {
		t.Fatalf("currency codes should be case-insensitive")
	}
	if NormalizeCurrency("usd") != "USD" {
		t.Fatalf("NormalizeCurrency(usd) = %s", NormalizeCurrency("usd"))
	}
	if NormalizeCurrency("") != DefaultCurrency {
		t.Fatalf("empty currency should fall back to %s", DefaultCurrency)
	}
}
