// Package cart implements the storefront cart and wishlist aggregates. They
// are pure in-memory structures the web client persists locally; the server
// only ever sees a snapshot of them at checkout time.
package cart

import (
	"errors"
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

const maxGiftMessageLength = 200

var (
	// ErrItemNotFound indicates the referenced line is not in the cart.
	ErrItemNotFound = errors.New("cart item not found")
	// ErrInvalidQuantity indicates a non-positive quantity on add.
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
	// ErrInvalidItem indicates an item without a product reference or with a
	// negative price.
	ErrInvalidItem = errors.New("invalid cart item")
	// ErrGiftMessageTooLong indicates the sanitized message exceeds the limit.
	ErrGiftMessageTooLong = errors.New("gift message exceeds 200 characters")
)

var giftMessagePolicy = bluemonday.StrictPolicy()

// Item is a cart line. Lines are keyed by product and variant.
type Item struct {
	ProductID   string `json:"productId"`
	VariantID   string `json:"variantId,omitempty"`
	Name        string `json:"name"`
	UnitPrice   int64  `json:"unitPrice"`
	Quantity    int    `json:"quantity"`
	GiftMessage string `json:"giftMessage,omitempty"`
}

// Delivery is the selected delivery slot and its fee.
type Delivery struct {
	Date     string `json:"date"`
	Method   string `json:"method"`
	Postcode string `json:"postcode"`
	Fee      int64  `json:"fee"`
}

// Cart aggregates items, delivery selection, and an applied coupon. All
// amounts are minor currency units.
type Cart struct {
	Items      []Item    `json:"items"`
	Delivery   *Delivery `json:"delivery,omitempty"`
	CouponCode string    `json:"couponCode,omitempty"`
	Discount   int64     `json:"discount,omitempty"`
}

// AddItem merges the item into the cart. An existing line with the same
// product and variant absorbs the quantity; otherwise a new line is appended.
func (c *Cart) AddItem(item Item) error {
	if item.ProductID == "" || item.UnitPrice < 0 {
		return ErrInvalidItem
	}
	if item.Quantity < 1 {
		return ErrInvalidQuantity
	}
	for i := range c.Items {
		if sameLine(c.Items[i], item) {
			c.Items[i].Quantity += item.Quantity
			return nil
		}
	}
	c.Items = append(c.Items, item)
	return nil
}

// RemoveItem deletes the line identified by product and variant.
func (c *Cart) RemoveItem(productID, variantID string) error {
	for i := range c.Items {
		if c.Items[i].ProductID == productID && c.Items[i].VariantID == variantID {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			return nil
		}
	}
	return ErrItemNotFound
}

// UpdateQuantity sets the line quantity. A quantity of zero or less removes
// the line.
func (c *Cart) UpdateQuantity(productID, variantID string, quantity int) error {
	if quantity <= 0 {
		return c.RemoveItem(productID, variantID)
	}
	for i := range c.Items {
		if c.Items[i].ProductID == productID && c.Items[i].VariantID == variantID {
			c.Items[i].Quantity = quantity
			return nil
		}
	}
	return ErrItemNotFound
}

// SetGiftMessage attaches a sanitized gift message to the line. Markup is
// stripped before the length check so tags cannot smuggle extra characters.
func (c *Cart) SetGiftMessage(productID, variantID, message string) error {
	sanitized := SanitizeGiftMessage(message)
	if utf8.RuneCountInString(sanitized) > maxGiftMessageLength {
		return ErrGiftMessageTooLong
	}
	for i := range c.Items {
		if c.Items[i].ProductID == productID && c.Items[i].VariantID == variantID {
			c.Items[i].GiftMessage = sanitized
			return nil
		}
	}
	return ErrItemNotFound
}

// SetDelivery replaces the delivery selection atomically.
func (c *Cart) SetDelivery(delivery Delivery) {
	copied := delivery
	c.Delivery = &copied
}

// ClearDelivery removes the delivery selection and its fee.
func (c *Cart) ClearDelivery() {
	c.Delivery = nil
}

// ApplyCoupon records an applied coupon and its discount amount.
func (c *Cart) ApplyCoupon(code string, discount int64) error {
	code = strings.TrimSpace(code)
	if code == "" || discount < 0 {
		return errors.New("invalid coupon")
	}
	c.CouponCode = code
	c.Discount = discount
	return nil
}

// RemoveCoupon clears any applied coupon.
func (c *Cart) RemoveCoupon() {
	c.CouponCode = ""
	c.Discount = 0
}

// Clear empties the cart entirely.
func (c *Cart) Clear() {
	c.Items = nil
	c.Delivery = nil
	c.CouponCode = ""
	c.Discount = 0
}

// Subtotal is the sum of unit price times quantity over all lines.
func (c *Cart) Subtotal() int64 {
	var subtotal int64
	for _, item := range c.Items {
		subtotal += item.UnitPrice * int64(item.Quantity)
	}
	return subtotal
}

// DeliveryFee returns the fee of the current delivery selection.
func (c *Cart) DeliveryFee() int64 {
	if c.Delivery == nil {
		return 0
	}
	return c.Delivery.Fee
}

// Total applies the delivery fee and discount, clamped at zero.
func (c *Cart) Total() int64 {
	total := c.Subtotal() + c.DeliveryFee() - c.Discount
	if total < 0 {
		return 0
	}
	return total
}

// IsEmpty reports whether the cart holds no lines.
func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// ItemCount returns the total quantity across all lines.
func (c *Cart) ItemCount() int {
	count := 0
	for _, item := range c.Items {
		count += item.Quantity
	}
	return count
}

// SanitizeGiftMessage strips markup from user-supplied gift text.
func SanitizeGiftMessage(message string) string {
	sanitized := giftMessagePolicy.Sanitize(message)
	return strings.TrimSpace(html.UnescapeString(sanitized))
}

func sameLine(a, b Item) bool {
	return a.ProductID == b.ProductID && a.VariantID == b.VariantID
}
