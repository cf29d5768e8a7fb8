package catalog

import (
	"errors"
	"time"
)

// Product is a catalog entry. Units in the stock ledger reference it; price
// and metadata stay editable, identity fields do not.
type Product struct {
	ID             int64    `json:"id"`
	SKU            string   `json:"sku"`
	Name           string   `json:"name"`
	Category       string   `json:"category"`
	PurchasePrice  *float64 `json:"purchase_price,omitempty"`
	SellingPrice   float64  `json:"selling_price"`
	WholesalePrice float64  `json:"wholesale_price"`
	MinStockLevel  int      `json:"min_stock_level"`
	// Serialized products require a caller-supplied serial on every unit
	// at intake.
	Serialized bool      `json:"serialized"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
}

// CreateProductRequest carries input for product creation.
type CreateProductRequest struct {
	SKU            string   `json:"sku" validate:"required,max=50"`
	Name           string   `json:"name" validate:"required,max=200"`
	Category       string   `json:"category" validate:"max=100"`
	PurchasePrice  *float64 `json:"purchase_price,omitempty" validate:"omitempty,gte=0"`
	SellingPrice   float64  `json:"selling_price" validate:"gte=0"`
	WholesalePrice float64  `json:"wholesale_price" validate:"gte=0"`
	MinStockLevel  int      `json:"min_stock_level" validate:"gte=0"`
	Serialized     bool     `json:"serialized"`
}

// UpdateProductRequest carries partial price/metadata edits.
type UpdateProductRequest struct {
	Name           *string  `json:"name,omitempty" validate:"omitempty,max=200"`
	Category       *string  `json:"category,omitempty" validate:"omitempty,max=100"`
	PurchasePrice  *float64 `json:"purchase_price,omitempty" validate:"omitempty,gte=0"`
	SellingPrice   *float64 `json:"selling_price,omitempty" validate:"omitempty,gte=0"`
	WholesalePrice *float64 `json:"wholesale_price,omitempty" validate:"omitempty,gte=0"`
	MinStockLevel  *int     `json:"min_stock_level,omitempty" validate:"omitempty,gte=0"`
	IsActive       *bool    `json:"is_active,omitempty"`
}

// LowStockEntry pairs a product with its live available count.
type LowStockEntry struct {
	Product   Product `json:"product"`
	Available int     `json:"available"`
}

// ErrDuplicateSKU indicates the SKU is already taken.
var ErrDuplicateSKU = errors.New("catalog: sku already exists")
