package cart

import (
	"fmt"
	"time"
)

// ClaimKind tags a cart line as one of the two claim variants. The variant is
// always explicit, never inferred from which fields happen to be set.
type ClaimKind string

const (
	// ClaimConcrete binds a line to one specific stock unit.
	ClaimConcrete ClaimKind = "concrete"
	// ClaimQuantity claims N interchangeable units of a product.
	ClaimQuantity ClaimKind = "quantity"
)

// UnitKey builds the line key of a concrete claim.
func UnitKey(unitID int64) string { return fmt.Sprintf("unit:%d", unitID) }

// ProductKey builds the line key of a quantity claim.
func ProductKey(productID int64) string { return fmt.Sprintf("product:%d", productID) }

// ParseProductKey extracts the product id from a quantity line key. It
// reports false for concrete line keys.
func ParseProductKey(key string) (int64, bool) {
	var id int64
	if _, err := fmt.Sscanf(key, "product:%d", &id); err != nil {
		return 0, false
	}
	return id, true
}

// Line is one claim in a cart. Quantity is fixed at 1 for concrete claims.
type Line struct {
	Key         string    `json:"key"`
	Kind        ClaimKind `json:"kind"`
	ProductID   int64     `json:"product_id"`
	ProductName string    `json:"product_name"`
	UnitID      int64     `json:"unit_id,omitempty"`
	Quantity    int       `json:"quantity"`
	UnitPrice   float64   `json:"unit_price"`
	// PreassignedUnitIDs is display-only: a disjoint pick of currently
	// available units sized to the claim. Checkout selects units fresh at
	// commit time and may choose different ones.
	PreassignedUnitIDs []int64 `json:"preassigned_unit_ids,omitempty"`
}

// Total returns the line total.
func (l Line) Total() float64 { return l.UnitPrice * float64(l.Quantity) }

// Cart is a session-scoped working set of claims against the ledger. It is
// owned by exactly one session and never mutates the ledger itself.
type Cart struct {
	SessionKey string    `json:"session_key"`
	Lines      []Line    `json:"lines"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Find returns the line stored under key, or nil.
func (c *Cart) Find(key string) *Line {
	for i := range c.Lines {
		if c.Lines[i].Key == key {
			return &c.Lines[i]
		}
	}
	return nil
}

// Remove deletes the line under key, reporting whether it existed.
func (c *Cart) Remove(key string) bool {
	for i := range c.Lines {
		if c.Lines[i].Key == key {
			c.Lines = append(c.Lines[:i], c.Lines[i+1:]...)
			return true
		}
	}
	return false
}

// ReferencesUnit reports whether any line already claims the unit, either
// concretely or through a display pre-assignment.
func (c *Cart) ReferencesUnit(unitID int64) bool {
	for _, line := range c.Lines {
		if line.Kind == ClaimConcrete && line.UnitID == unitID {
			return true
		}
		for _, id := range line.PreassignedUnitIDs {
			if id == unitID {
				return true
			}
		}
	}
	return false
}

// ClaimedForProduct sums the quantity claimed for a product across lines,
// excluding the line stored under excludeKey.
func (c *Cart) ClaimedForProduct(productID int64, excludeKey string) int {
	total := 0
	for _, line := range c.Lines {
		if line.ProductID == productID && line.Key != excludeKey {
			total += line.Quantity
		}
	}
	return total
}

// Totals summarises a cart for display.
type Totals struct {
	ItemCount int     `json:"item_count"`
	Subtotal  float64 `json:"subtotal"`
}

// Totals recomputes from the current lines on every call; it is never
// cached, so mutation and checkout always agree.
func (c *Cart) Totals() Totals {
	var t Totals
	for _, line := range c.Lines {
		t.ItemCount += line.Quantity
		t.Subtotal += line.Total()
	}
	return t
}
