package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestEncodeDecodeOrderEnvelope(t *testing.T) {
	envelope := OrderEnvelope{
		Version: EnvelopeVersion,
		Items: []EnvelopeItem{
			{ProductID: "prod_rose_dozen", Name: "Dozen Red Roses", UnitPrice: 4500, Quantity: 2},
			{ProductID: "prod_lily", VariantID: "var_large", Name: "Lily Bouquet", UnitPrice: 3200, Quantity: 1, GiftMessage: "Happy birthday"},
		},
		Billing:     EnvelopeContact{Name: "Ada Nowak", Email: "ada@example.com"},
		Delivery:    &EnvelopeDelivery{Date: "2026-03-14", Method: "courier", Postcode: "SW1A 1AA", Fee: 599},
		CouponCode:  "SPRING10",
		Subtotal:    12200,
		DeliveryFee: 599,
		Discount:    1000,
		Currency:    "GBP",
	}

	metadata, err := EncodeCheckoutMetadata(CheckoutKindOrder, envelope)
	if err != nil {
		t.Fatalf("EncodeCheckoutMetadata: %v", err)
	}
	for key, value := range metadata {
		if len(value) > 500 {
			t.Fatalf("metadata value %s exceeds provider limit: %d chars", key, len(value))
		}
	}

	kind, payload, err := DecodeCheckoutMetadata(metadata)
	if err != nil {
		t.Fatalf("DecodeCheckoutMetadata: %v", err)
	}
	if kind != CheckoutKindOrder {
		t.Fatalf("kind = %q, want %q", kind, CheckoutKindOrder)
	}
	decoded, err := ParseOrderEnvelope(payload)
	if err != nil {
		t.Fatalf("ParseOrderEnvelope: %v", err)
	}
	if len(decoded.Items) != 2 || decoded.Items[0].ProductID != "prod_rose_dozen" {
		t.Fatalf("items round trip mismatch: %+v", decoded.Items)
	}
	if decoded.Subtotal != 12200 || decoded.DeliveryFee != 599 || decoded.Discount != 1000 {
		t.Fatalf("totals round trip mismatch: %+v", decoded)
	}
	if decoded.Delivery == nil || decoded.Delivery.Postcode != "SW1A 1AA" {
		t.Fatalf("delivery round trip mismatch: %+v", decoded.Delivery)
	}
}

func TestEncodeCheckoutMetadataChunksLargePayloads(t *testing.T) {
	items := make([]EnvelopeItem, 0, 40)
	for i := 0; i < 40; i++ {
		items = append(items, EnvelopeItem{
			ProductID: "prod_peony_arrangement_collection",
			Name:      "Seasonal Peony Arrangement With Eucalyptus And Trailing Jasmine",
			UnitPrice: 7600,
			Quantity:  1,
		})
	}
	envelope := OrderEnvelope{
		Version:  EnvelopeVersion,
		Items:    items,
		Billing:  EnvelopeContact{Email: "bulk@example.com"},
		Subtotal: 304000,
		Currency: "GBP",
	}

	metadata, err := EncodeCheckoutMetadata(CheckoutKindOrder, envelope)
	if err != nil {
		t.Fatalf("EncodeCheckoutMetadata: %v", err)
	}
	partCount := 0
	for key, value := range metadata {
		if strings.HasPrefix(key, "lb_payload_") {
			partCount++
			if len(value) > 450 {
				t.Fatalf("chunk %s too large: %d", key, len(value))
			}
		}
	}
	if partCount < 2 {
		t.Fatalf("expected payload to span multiple chunks, got %d", partCount)
	}

	_, payload, err := DecodeCheckoutMetadata(metadata)
	if err != nil {
		t.Fatalf("DecodeCheckoutMetadata: %v", err)
	}
	decoded, err := ParseOrderEnvelope(payload)
	if err != nil {
		t.Fatalf("ParseOrderEnvelope: %v", err)
	}
	if len(decoded.Items) != 40 {
		t.Fatalf("items = %d, want 40", len(decoded.Items))
	}
}

func TestDecodeCheckoutMetadataMissingEnvelope(t *testing.T) {
	if _, _, err := DecodeCheckoutMetadata(nil); !errors.Is(err, ErrMetadataMissing) {
		t.Fatalf("nil metadata err = %v, want ErrMetadataMissing", err)
	}
	if _, _, err := DecodeCheckoutMetadata(map[string]string{"unrelated": "x"}); !errors.Is(err, ErrMetadataMissing) {
		t.Fatalf("unrelated metadata err = %v, want ErrMetadataMissing", err)
	}
}

func TestDecodeCheckoutMetadataMalformed(t *testing.T) {
	cases := map[string]map[string]string{
		"unknown kind": {
			"lb_kind": "mystery", "lb_version": "1", "lb_parts": "1", "lb_payload_0": "{}",
		},
		"bad version": {
			"lb_kind": "order", "lb_version": "9", "lb_parts": "1", "lb_payload_0": "{}",
		},
		"bad part count": {
			"lb_kind": "order", "lb_version": "1", "lb_parts": "zero", "lb_payload_0": "{}",
		},
		"missing part": {
			"lb_kind": "order", "lb_version": "1", "lb_parts": "2", "lb_payload_0": "{}",
		},
	}
	for name, metadata := range cases {
		if _, _, err := DecodeCheckoutMetadata(metadata); !errors.Is(err, ErrMetadataMalformed) {
			t.Fatalf("%s: err = %v, want ErrMetadataMalformed", name, err)
		}
	}
}

func TestParseOrderEnvelopeRejectsUnknownFields(t *testing.T) {
	payload := []byte(`{"v":1,"items":[{"pid":"p1","name":"Tulips","price":900,"qty":1}],"billing":{"email":"a@b.com"},"subtotal":900,"deliveryFee":0,"discount":0,"currency":"GBP","surprise":true}`)
	if _, err := ParseOrderEnvelope(payload); !errors.Is(err, ErrMetadataMalformed) {
		t.Fatalf("err = %v, want ErrMetadataMalformed", err)
	}
}

func TestParseOrderEnvelopeRejectsInvalidItems(t *testing.T) {
	payload := []byte(`{"v":1,"items":[{"pid":"","name":"Mystery","price":900,"qty":1}],"billing":{"email":"a@b.com"},"subtotal":900,"deliveryFee":0,"discount":0,"currency":"GBP"}`)
	if _, err := ParseOrderEnvelope(payload); !errors.Is(err, ErrMetadataMalformed) {
		t.Fatalf("err = %v, want ErrMetadataMalformed", err)
	}
}

func TestParseGiftCardEnvelope(t *testing.T) {
	payload := []byte(`{"v":1,"amount":5000,"currency":"GBP","purchaser":"buyer@example.com","recipient":"friend@example.com","message":"Enjoy"}`)
	envelope, err := ParseGiftCardEnvelope(payload)
	if err != nil {
		t.Fatalf("ParseGiftCardEnvelope: %v", err)
	}
	if envelope.Amount != 5000 || envelope.PurchaserEmail != "buyer@example.com" {
		t.Fatalf("unexpected envelope: %+v", envelope)
	}

	if _, err := ParseGiftCardEnvelope([]byte(`{"v":1,"amount":0,"currency":"GBP","purchaser":"x@y.com"}`)); !errors.Is(err, ErrMetadataMalformed) {
		t.Fatalf("zero amount err = %v, want ErrMetadataMalformed", err)
	}
}

func TestParseSubscriptionEnvelope(t *testing.T) {
	payload := []byte(`{"v":1,"plan":"plan_weekly","planName":"Weekly Posy","email":"sub@example.com","amount":2500,"currency":"GBP","interval":"week"}`)
	envelope, err := ParseSubscriptionEnvelope(payload)
	if err != nil {
		t.Fatalf("ParseSubscriptionEnvelope: %v", err)
	}
	if envelope.PlanID != "plan_weekly" || envelope.Interval != "week" {
		t.Fatalf("unexpected envelope: %+v", envelope)
	}

	if _, err := ParseSubscriptionEnvelope([]byte(`{"v":1,"plan":"","email":"","amount":2500,"currency":"GBP","interval":"week"}`)); !errors.Is(err, ErrMetadataMalformed) {
		t.Fatalf("missing plan err = %v, want ErrMetadataMalformed", err)
	}
}
