package cart

// WishlistItem is a saved product reference.
type WishlistItem struct {
	ProductID string `json:"productId"`
	Name      string `json:"name,omitempty"`
}

// Wishlist holds saved products with set semantics keyed by product ID.
type Wishlist struct {
	Items []WishlistItem `json:"items"`
}

// Add saves the product. Adding an already saved product is a no-op.
func (w *Wishlist) Add(item WishlistItem) {
	if item.ProductID == "" {
		return
	}
	for _, existing := range w.Items {
		if existing.ProductID == item.ProductID {
			return
		}
	}
	w.Items = append(w.Items, item)
}

// Remove deletes the saved product when present.
func (w *Wishlist) Remove(productID string) {
	for i := range w.Items {
		if w.Items[i].ProductID == productID {
			w.Items = append(w.Items[:i], w.Items[i+1:]...)
			return
		}
	}
}

// Contains reports whether the product is saved.
func (w *Wishlist) Contains(productID string) bool {
	for _, item := range w.Items {
		if item.ProductID == productID {
			return true
		}
	}
	return false
}

// Len returns the number of saved products.
func (w *Wishlist) Len() int {
	return len(w.Items)
}
