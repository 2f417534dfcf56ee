package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// CheckoutKind discriminates what a checkout session purchases.
type CheckoutKind string

const (
	// CheckoutKindOrder marks a one-time bouquet purchase.
	CheckoutKindOrder CheckoutKind = "order"
	// CheckoutKindGiftCard marks a stored-value gift card purchase.
	CheckoutKindGiftCard CheckoutKind = "gift_card"
	// CheckoutKindSubscription marks a recurring delivery plan signup.
	CheckoutKindSubscription CheckoutKind = "subscription"
)

// EnvelopeVersion is the metadata envelope schema version this service writes.
const EnvelopeVersion = 1

const (
	metadataKindKey    = "lb_kind"
	metadataVersionKey = "lb_version"
	metadataPartsKey   = "lb_parts"
	metadataPartPrefix = "lb_payload_"

	// Stripe caps metadata values at 500 characters; chunks stay under that.
	metadataPartSize = 450
	metadataMaxParts = 40
)

var (
	// ErrMetadataMissing indicates the session carried no recognizable envelope.
	ErrMetadataMissing = errors.New("checkout metadata envelope missing")
	// ErrMetadataMalformed indicates the envelope was present but unreadable.
	ErrMetadataMalformed = errors.New("checkout metadata envelope malformed")
)

// EnvelopeItem is a cart line serialized into session metadata.
type EnvelopeItem struct {
	ProductID   string `json:"pid"`
	VariantID   string `json:"vid,omitempty"`
	Name        string `json:"name"`
	UnitPrice   int64  `json:"price"`
	Quantity    int    `json:"qty"`
	GiftMessage string `json:"gift,omitempty"`
}

// EnvelopeContact is a serialized billing or recipient contact.
type EnvelopeContact struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// EnvelopeDelivery is the serialized delivery selection.
type EnvelopeDelivery struct {
	Date     string `json:"date,omitempty"`
	Method   string `json:"method,omitempty"`
	Postcode string `json:"postcode,omitempty"`
	Fee      int64  `json:"fee"`
}

// OrderEnvelope is the authoritative order snapshot carried through the
// payment provider and read back by the webhook receiver.
type OrderEnvelope struct {
	Version     int               `json:"v"`
	UserID      string            `json:"uid,omitempty"`
	Items       []EnvelopeItem    `json:"items"`
	Billing     EnvelopeContact   `json:"billing"`
	Recipient   *EnvelopeContact  `json:"recipient,omitempty"`
	Delivery    *EnvelopeDelivery `json:"delivery,omitempty"`
	CouponCode  string            `json:"coupon,omitempty"`
	Subtotal    int64             `json:"subtotal"`
	DeliveryFee int64             `json:"deliveryFee"`
	Discount    int64             `json:"discount"`
	Currency    string            `json:"currency"`
}

// GiftCardEnvelope is the serialized gift card purchase request.
type GiftCardEnvelope struct {
	Version        int    `json:"v"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	PurchaserEmail string `json:"purchaser"`
	RecipientEmail string `json:"recipient,omitempty"`
	Message        string `json:"message,omitempty"`
}

// SubscriptionEnvelope is the serialized subscription signup request.
type SubscriptionEnvelope struct {
	Version  int    `json:"v"`
	PlanID   string `json:"plan"`
	PlanName string `json:"planName,omitempty"`
	Email    string `json:"email"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Interval string `json:"interval"`
}

// EncodeCheckoutMetadata serializes an envelope payload into provider metadata,
// chunking the JSON across multiple keys to respect per-value size limits.
func EncodeCheckoutMetadata(kind CheckoutKind, payload any) (map[string]string, error) {
	switch kind {
	case CheckoutKindOrder, CheckoutKindGiftCard, CheckoutKindSubscription:
	default:
		return nil, fmt.Errorf("encode metadata: unknown kind %q", kind)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	parts := chunkString(string(raw), metadataPartSize)
	if len(parts) > metadataMaxParts {
		return nil, fmt.Errorf("encode metadata: payload of %d bytes exceeds metadata capacity", len(raw))
	}
	metadata := map[string]string{
		metadataKindKey:    string(kind),
		metadataVersionKey: strconv.Itoa(EnvelopeVersion),
		metadataPartsKey:   strconv.Itoa(len(parts)),
	}
	for i, part := range parts {
		metadata[metadataPartPrefix+strconv.Itoa(i)] = part
	}
	return metadata, nil
}

// DecodeCheckoutMetadata reassembles the envelope payload from provider
// metadata. It fails loudly on any missing or inconsistent piece.
func DecodeCheckoutMetadata(metadata map[string]string) (CheckoutKind, []byte, error) {
	if len(metadata) == 0 {
		return "", nil, ErrMetadataMissing
	}
	rawKind, ok := metadata[metadataKindKey]
	if !ok {
		return "", nil, ErrMetadataMissing
	}
	kind := CheckoutKind(rawKind)
	switch kind {
	case CheckoutKindOrder, CheckoutKindGiftCard, CheckoutKindSubscription:
	default:
		return "", nil, fmt.Errorf("%w: unknown kind %q", ErrMetadataMalformed, rawKind)
	}
	if version := metadata[metadataVersionKey]; version != strconv.Itoa(EnvelopeVersion) {
		return kind, nil, fmt.Errorf("%w: unsupported version %q", ErrMetadataMalformed, version)
	}
	parts, err := strconv.Atoi(metadata[metadataPartsKey])
	if err != nil || parts <= 0 || parts > metadataMaxParts {
		return kind, nil, fmt.Errorf("%w: invalid part count %q", ErrMetadataMalformed, metadata[metadataPartsKey])
	}
	var builder strings.Builder
	for i := 0; i < parts; i++ {
		part, ok := metadata[metadataPartPrefix+strconv.Itoa(i)]
		if !ok {
			return kind, nil, fmt.Errorf("%w: payload part %d missing", ErrMetadataMalformed, i)
		}
		builder.WriteString(part)
	}
	return kind, []byte(builder.String()), nil
}

// ParseOrderEnvelope strictly decodes an order envelope payload.
func ParseOrderEnvelope(payload []byte) (*OrderEnvelope, error) {
	var envelope OrderEnvelope
	if err := strictUnmarshal(payload, &envelope); err != nil {
		return nil, err
	}
	if envelope.Version != EnvelopeVersion {
		return nil, fmt.Errorf("%w: envelope version %d", ErrMetadataMalformed, envelope.Version)
	}
	for i, item := range envelope.Items {
		if item.ProductID == "" || item.Quantity < 1 || item.UnitPrice < 0 {
			return nil, fmt.Errorf("%w: invalid item at index %d", ErrMetadataMalformed, i)
		}
	}
	return &envelope, nil
}

// ParseGiftCardEnvelope strictly decodes a gift card envelope payload.
func ParseGiftCardEnvelope(payload []byte) (*GiftCardEnvelope, error) {
	var envelope GiftCardEnvelope
	if err := strictUnmarshal(payload, &envelope); err != nil {
		return nil, err
	}
	if envelope.Version != EnvelopeVersion {
		return nil, fmt.Errorf("%w: envelope version %d", ErrMetadataMalformed, envelope.Version)
	}
	if envelope.Amount <= 0 {
		return nil, fmt.Errorf("%w: non-positive gift card amount", ErrMetadataMalformed)
	}
	return &envelope, nil
}

// ParseSubscriptionEnvelope strictly decodes a subscription envelope payload.
func ParseSubscriptionEnvelope(payload []byte) (*SubscriptionEnvelope, error) {
	var envelope SubscriptionEnvelope
	if err := strictUnmarshal(payload, &envelope); err != nil {
		return nil, err
	}
	if envelope.Version != EnvelopeVersion {
		return nil, fmt.Errorf("%w: envelope version %d", ErrMetadataMalformed, envelope.Version)
	}
	if envelope.PlanID == "" || envelope.Email == "" {
		return nil, fmt.Errorf("%w: subscription envelope missing plan or email", ErrMetadataMalformed)
	}
	return &envelope, nil
}

func strictUnmarshal(payload []byte, target any) error {
	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("%w: %v", ErrMetadataMalformed, err)
	}
	if decoder.More() {
		return fmt.Errorf("%w: trailing payload data", ErrMetadataMalformed)
	}
	return nil
}

func chunkString(value string, size int) []string {
	if value == "" {
		return []string{""}
	}
	chunks := make([]string, 0, len(value)/size+1)
	for len(value) > size {
		chunks = append(chunks, value[:size])
		value = value[size:]
	}
	chunks = append(chunks, value)
	return chunks
}

// MetadataKeys returns the envelope key names in a stable order, used by
// logging to report which keys were present without dumping values.
func MetadataKeys(metadata map[string]string) []string {
	keys := make([]string, 0, len(metadata))
	for key := range metadata {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
