package ledger

import (
	"errors"
	"time"
)

// UnitStatus enumerates the lifecycle states of a stock unit.
type UnitStatus string

const (
	// StatusAvailable is the only state a unit is created in.
	StatusAvailable UnitStatus = "available"
	// StatusSold marks a unit claimed by a committed sale.
	StatusSold UnitStatus = "sold"
	// StatusUsed marks internal consumption.
	StatusUsed UnitStatus = "used"
	// StatusDamaged marks a manual damage write-off.
	StatusDamaged UnitStatus = "damaged"
	// StatusOther marks a manual write-off for any other reason.
	StatusOther UnitStatus = "other"
)

// ValidTransition reports whether from→to is an edge of the status machine.
// Every edge leaves available; terminal states have no outgoing edges.
func ValidTransition(from, to UnitStatus) bool {
	if from != StatusAvailable {
		return false
	}
	switch to {
	case StatusSold, StatusUsed, StatusDamaged, StatusOther:
		return true
	}
	return false
}

// StockUnit is one physical unit in the ledger. Barcode and serial are
// independent: a unit may carry neither, either, or both.
type StockUnit struct {
	ID            int64      `json:"id"`
	ProductID     int64      `json:"product_id"`
	Barcode       *string    `json:"barcode,omitempty"`
	Serial        *string    `json:"serial,omitempty"`
	Status        UnitStatus `json:"status"`
	BatchNumber   string     `json:"batch_number,omitempty"`
	Location      string     `json:"location,omitempty"`
	PurchasePrice *float64   `json:"purchase_price,omitempty"`
	SellingPrice  float64    `json:"selling_price"`
	Note          string     `json:"note,omitempty"`
	CreatedBy     int64      `json:"created_by"`
	CreatedAt     time.Time  `json:"created_at"`
}

// IntakeInput describes a stock receipt for one product.
type IntakeInput struct {
	ProductID    int64    `json:"product_id" validate:"required,gt=0"`
	Quantity     int      `json:"quantity" validate:"required,gt=0"`
	Serials      []string `json:"serials,omitempty"`
	WantBarcodes bool     `json:"want_barcodes"`
	BatchNumber  string   `json:"batch_number,omitempty" validate:"max=100"`
	Location     string   `json:"location,omitempty" validate:"max=200"`
	ActorID      int64    `json:"-"`
}

var (
	// ErrDuplicateBarcode surfaces the unique constraint backstop on barcodes.
	ErrDuplicateBarcode = errors.New("ledger: barcode already exists")
	// ErrDuplicateSerial surfaces the unique constraint backstop on serials.
	ErrDuplicateSerial = errors.New("ledger: serial already exists")
	// ErrInvalidTransition indicates a status edge outside the machine.
	ErrInvalidTransition = errors.New("ledger: invalid status transition")
)
