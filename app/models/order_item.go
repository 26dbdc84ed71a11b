package models

import (
	"sort"
	"strings"
	"time"
)

// NoComment is the normalized form of an empty line comment.
const NoComment = "no comment"

// UintSet is an order-independent set of numeric ids, stored as a JSON
// column. It is kept sorted so serialized forms compare bytewise.
type UintSet []uint

// Normalized returns a sorted, de-duplicated copy of the set.
func (s UintSet) Normalized() UintSet {
	if len(s) == 0 {
		return nil
	}
	seen := make(map[uint]bool, len(s))
	out := make(UintSet, 0, len(s))
	for _, v := range s {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Equal reports whether both sets contain the same ids, regardless of
// element order.
func (s UintSet) Equal(other UintSet) bool {
	a, b := s.Normalized(), other.Normalized()
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// OrderItem represents a single line of an order.
type OrderItem struct {
	ID                  Identifier `gorm:"primaryKey" json:"id"`
	OrderID             string     `gorm:"index" json:"order_id"`
	ProductID           uint       `gorm:"index" json:"product_id"`
	Product             *Product   `gorm:"foreignKey:ProductID" json:"product,omitempty"`
	ProductName         string     `json:"product_name"`
	UnitPrice           float64    `json:"unit_price"`
	Quantity            int        `json:"quantity"`
	ExcludedIngredients UintSet    `gorm:"serializer:json" json:"excluded_ingredients,omitempty"`
	Comment             string     `json:"comment"`
	State               ItemState  `gorm:"index" json:"state"`
	SentAt              *time.Time `json:"sent_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// NewTemporaryItem creates an optimistic pending line for a product with
// a fresh temporary id. The id stays fixed for the life of the session so
// edits can be replayed deterministically against newer server bases.
func NewTemporaryItem(product *Product, quantity int) OrderItem {
	if quantity < 1 {
		quantity = 1
	}
	return OrderItem{
		ID:          NewTemporaryID(),
		ProductID:   product.ID,
		ProductName: product.Name,
		UnitPrice:   product.Price,
		Quantity:    quantity,
		State:       ItemPending,
	}
}

// NormalizeComment trims a line comment. A comment that is empty after
// trimming normalizes to the shared NoComment label.
func NormalizeComment(s string) string {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return NoComment
	}
	return trimmed
}

// HasComment reports whether the item carries a real (non-blank) comment.
func (i OrderItem) HasComment() bool {
	return strings.TrimSpace(i.Comment) != ""
}

// AreEquivalent reports whether two lines are mergeable: same product,
// same send-state, same normalized comment and same excluded-ingredient
// set, element order ignored.
func AreEquivalent(a, b OrderItem) bool {
	return a.ProductID == b.ProductID &&
		a.State == b.State &&
		NormalizeComment(a.Comment) == NormalizeComment(b.Comment) &&
		a.ExcludedIngredients.Equal(b.ExcludedIngredients)
}

// ItemsEqual deep-compares two item lists, order-sensitive over the
// fields an edit can touch. This is the reconciliation "is synced" test.
func ItemsEqual(a, b []OrderItem) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		x, y := a[i], b[i]
		if x.ID != y.ID ||
			x.ProductID != y.ProductID ||
			x.Quantity != y.Quantity ||
			x.UnitPrice != y.UnitPrice ||
			x.Comment != y.Comment ||
			x.State != y.State ||
			!x.ExcludedIngredients.Equal(y.ExcludedIngredients) {
			return false
		}
	}
	return true
}

// CloneItems deep-copies an item slice, exclusion sets included.
func CloneItems(items []OrderItem) []OrderItem {
	if items == nil {
		return nil
	}
	out := make([]OrderItem, len(items))
	copy(out, items)
	for i := range out {
		if items[i].ExcludedIngredients != nil {
			out[i].ExcludedIngredients = append(UintSet(nil), items[i].ExcludedIngredients...)
		}
		if items[i].SentAt != nil {
			sentAt := *items[i].SentAt
			out[i].SentAt = &sentAt
		}
	}
	return out
}
