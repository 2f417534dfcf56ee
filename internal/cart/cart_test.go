package cart

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestAddItemMergesByProductAndVariant(t *testing.T) {
	var c Cart
	if err := c.AddItem(Item{ProductID: "p1", Name: "Tulips", UnitPrice: 900, Quantity: 1}); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if err := c.AddItem(Item{ProductID: "p1", Name: "Tulips", UnitPrice: 900, Quantity: 2}); err != nil {
		t.Fatalf("AddItem merge: %v", err)
	}
	if err := c.AddItem(Item{ProductID: "p1", VariantID: "large", Name: "Tulips", UnitPrice: 1400, Quantity: 1}); err != nil {
		t.Fatalf("AddItem variant: %v", err)
	}

	if len(c.Items) != 2 {
		t.Fatalf("lines = %d, want 2", len(c.Items))
	}
	if c.Items[0].Quantity != 3 {
		t.Fatalf("merged quantity = %d, want 3", c.Items[0].Quantity)
	}
	if c.Subtotal() != 3*900+1400 {
		t.Fatalf("subtotal = %d", c.Subtotal())
	}
}

func TestAddItemValidation(t *testing.T) {
	var c Cart
	if err := c.AddItem(Item{ProductID: "", UnitPrice: 100, Quantity: 1}); !errors.Is(err, ErrInvalidItem) {
		t.Fatalf("missing product err = %v", err)
	}
	if err := c.AddItem(Item{ProductID: "p1", UnitPrice: -1, Quantity: 1}); !errors.Is(err, ErrInvalidItem) {
		t.Fatalf("negative price err = %v", err)
	}
	if err := c.AddItem(Item{ProductID: "p1", UnitPrice: 100, Quantity: 0}); !errors.Is(err, ErrInvalidQuantity) {
		t.Fatalf("zero quantity err = %v", err)
	}
}

func TestUpdateQuantityRemovesAtZero(t *testing.T) {
	var c Cart
	mustAdd(t, &c, Item{ProductID: "p1", UnitPrice: 500, Quantity: 2})

	if err := c.UpdateQuantity("p1", "", 5); err != nil {
		t.Fatalf("UpdateQuantity: %v", err)
	}
	if c.Items[0].Quantity != 5 {
		t.Fatalf("quantity = %d, want 5", c.Items[0].Quantity)
	}

	if err := c.UpdateQuantity("p1", "", 0); err != nil {
		t.Fatalf("UpdateQuantity to zero: %v", err)
	}
	if !c.IsEmpty() {
		t.Fatalf("cart should be empty after zero quantity update")
	}
	if err := c.UpdateQuantity("p1", "", 1); !errors.Is(err, ErrItemNotFound) {
		t.Fatalf("update missing line err = %v", err)
	}
}

func TestTotalClampsAtZero(t *testing.T) {
	var c Cart
	mustAdd(t, &c, Item{ProductID: "p1", UnitPrice: 1000, Quantity: 1})
	c.SetDelivery(Delivery{Date: "2026-03-14", Method: "courier", Postcode: "N1 9GU", Fee: 500})
	if err := c.ApplyCoupon("BIGSAVE", 5000); err != nil {
		t.Fatalf("ApplyCoupon: %v", err)
	}

	if c.Total() != 0 {
		t.Fatalf("total = %d, want 0", c.Total())
	}

	c.RemoveCoupon()
	if c.Total() != 1500 {
		t.Fatalf("total after coupon removal = %d, want 1500", c.Total())
	}

	c.ClearDelivery()
	if c.Total() != 1000 {
		t.Fatalf("total after delivery cleared = %d, want 1000", c.Total())
	}
}

func TestSetGiftMessageSanitizesAndLimits(t *testing.T) {
	var c Cart
	mustAdd(t, &c, Item{ProductID: "p1", UnitPrice: 500, Quantity: 1})

	if err := c.SetGiftMessage("p1", "", `<script>alert("x")</script>Happy <b>birthday</b>!`); err != nil {
		t.Fatalf("SetGiftMessage: %v", err)
	}
	got := c.Items[0].GiftMessage
	if strings.Contains(got, "<") || strings.Contains(got, "script") {
		t.Fatalf("markup survived sanitization: %q", got)
	}
	if !strings.Contains(got, "Happy") || !strings.Contains(got, "birthday") {
		t.Fatalf("text content lost: %q", got)
	}

	long := strings.Repeat("x", 201)
	if err := c.SetGiftMessage("p1", "", long); !errors.Is(err, ErrGiftMessageTooLong) {
		t.Fatalf("long message err = %v", err)
	}

	padded := "<p>" + strings.Repeat("y", 200) + "</p>"
	if err := c.SetGiftMessage("p1", "", padded); err != nil {
		t.Fatalf("length must be measured after stripping markup: %v", err)
	}
}

func TestCartJSONRoundTrip(t *testing.T) {
	var c Cart
	mustAdd(t, &c, Item{ProductID: "p1", VariantID: "large", Name: "Peonies", UnitPrice: 2400, Quantity: 2, GiftMessage: "With love"})
	c.SetDelivery(Delivery{Date: "2026-05-01", Method: "courier", Postcode: "EC1A 1BB", Fee: 399})
	if err := c.ApplyCoupon("MAY5", 500); err != nil {
		t.Fatalf("ApplyCoupon: %v", err)
	}

	raw, err := json.Marshal(&c)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var restored Cart
	if err := json.Unmarshal(raw, &restored); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if restored.Total() != c.Total() || restored.ItemCount() != c.ItemCount() {
		t.Fatalf("round trip changed totals: %+v", restored)
	}
	if restored.Delivery == nil || restored.Delivery.Postcode != "EC1A 1BB" {
		t.Fatalf("delivery lost in round trip: %+v", restored.Delivery)
	}
}

func TestClear(t *testing.T) {
	var c Cart
	mustAdd(t, &c, Item{ProductID: "p1", UnitPrice: 500, Quantity: 1})
	c.SetDelivery(Delivery{Fee: 500})
	_ = c.ApplyCoupon("X", 100)

	c.Clear()
	if !c.IsEmpty() || c.Delivery != nil || c.CouponCode != "" || c.Discount != 0 {
		t.Fatalf("clear left state behind: %+v", c)
	}
	if c.Total() != 0 {
		t.Fatalf("total after clear = %d", c.Total())
	}
}

func TestWishlistSetSemantics(t *testing.T) {
	var w Wishlist
	w.Add(WishlistItem{ProductID: "p1", Name: "Roses"})
	w.Add(WishlistItem{ProductID: "p1", Name: "Roses"})
	w.Add(WishlistItem{ProductID: "p2", Name: "Lilies"})
	w.Add(WishlistItem{})

	if w.Len() != 2 {
		t.Fatalf("len = %d, want 2", w.Len())
	}
	if !w.Contains("p1") || w.Contains("p3") {
		t.Fatalf("contains mismatch")
	}

	w.Remove("p1")
	if w.Contains("p1") || w.Len() != 1 {
		t.Fatalf("remove failed: %+v", w.Items)
	}
	w.Remove("p1")
	if w.Len() != 1 {
		t.Fatalf("double remove changed state")
	}
}

func mustAdd(t *testing.T, c *Cart, item Item) {
	t.Helper()
	if err := c.AddItem(item); err != nil {
		t.Fatalf("AddItem(%+v): %v", item, err)
	}
}
