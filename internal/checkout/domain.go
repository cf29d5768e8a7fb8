package checkout

import (
	"time"
)

// PaymentMethod enumerates how a sale is settled.
type PaymentMethod string

const (
	MethodCash   PaymentMethod = "cash"
	MethodCard   PaymentMethod = "card"
	MethodOnline PaymentMethod = "online"
	// MethodDue records the sale without a payment row; settlement happens
	// later.
	MethodDue PaymentMethod = "due"
)

// PaymentStatus tracks whether a sale has been settled.
type PaymentStatus string

const (
	StatusPaid    PaymentStatus = "paid"
	StatusPending PaymentStatus = "pending"
	// StatusPartial marks a due sale with some money received but not the
	// full total.
	StatusPartial PaymentStatus = "partial"
)

// Sale is a committed checkout. Once written it is immutable.
type Sale struct {
	ID            int64         `json:"id"`
	SaleNumber    string        `json:"sale_number"`
	CustomerName  string        `json:"customer_name,omitempty"`
	CustomerPhone string        `json:"customer_phone,omitempty"`
	Subtotal      float64       `json:"subtotal"`
	Discount      float64       `json:"discount"`
	Tax           float64       `json:"tax"`
	Total         float64       `json:"total"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	PaymentMethod PaymentMethod `json:"payment_method"`
	Notes         string        `json:"notes,omitempty"`
	CreatedBy     int64         `json:"created_by"`
	CreatedAt     time.Time     `json:"created_at"`
	Lines         []SaleLine    `json:"lines,omitempty"`
	Payments      []Payment     `json:"payments,omitempty"`
}

// SaleLine is one sold unit. Checkout expands quantity claims one row per
// unit, so StockUnitID is always set.
type SaleLine struct {
	ID          int64   `json:"id"`
	SaleID      int64   `json:"sale_id"`
	ProductID   int64   `json:"product_id"`
	StockUnitID int64   `json:"stock_unit_id"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	LineTotal   float64 `json:"line_total"`
}

// Payment records money received against a sale.
type Payment struct {
	ID         int64         `json:"id"`
	SaleID     int64         `json:"sale_id"`
	Amount     float64       `json:"amount"`
	Method     PaymentMethod `json:"payment_method"`
	Reference  string        `json:"reference,omitempty"`
	ReceivedBy int64         `json:"received_by"`
	PaidAt     time.Time     `json:"paid_at"`
}

// CheckoutInput carries everything the cashier supplies at commit time. The
// cart itself is looked up by session.
type CheckoutInput struct {
	CustomerName     string        `json:"customer_name" validate:"max=200"`
	CustomerPhone    string        `json:"customer_phone" validate:"max=50"`
	PaymentMethod    PaymentMethod `json:"payment_method" validate:"required,oneof=cash card online due"`
	PaymentReference string        `json:"payment_reference" validate:"max=200"`
	DiscountAmount   float64       `json:"discount_amount" validate:"gte=0"`
	// TaxRate is a pointer so an explicit zero stays distinguishable from an
	// omitted field, which falls back to the configured default rate.
	TaxRate *float64 `json:"tax_rate" validate:"omitempty,gte=0,lte=1"`
	Notes   string   `json:"notes" validate:"max=1000"`
	ActorID int64    `json:"-"`
}

// PaymentInput settles money against an existing sale. Settlement is a real
// payment, so `due` is not an accepted method here.
type PaymentInput struct {
	Amount    float64       `json:"amount" validate:"gt=0"`
	Method    PaymentMethod `json:"payment_method" validate:"required,oneof=cash card online"`
	Reference string        `json:"reference" validate:"max=200"`
	ActorID   int64         `json:"-"`
}

// DailySummary aggregates one day of sales.
type DailySummary struct {
	Date       string             `json:"date"`
	SaleCount  int                `json:"sale_count"`
	UnitCount  int                `json:"unit_count"`
	GrossTotal float64            `json:"gross_total"`
	Collected  float64            `json:"collected"`
	Due        float64            `json:"due"`
	ByMethod   map[string]float64 `json:"by_method"`
}
