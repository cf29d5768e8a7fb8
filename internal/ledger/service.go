package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/meridian-pos/meridian-pos/internal/catalog"
	"github.com/meridian-pos/meridian-pos/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetUnit(ctx context.Context, id int64) (StockUnit, error)
	GetUnitByBarcode(ctx context.Context, code string) (StockUnit, error)
	GetUnitBySerial(ctx context.Context, serial string) (StockUnit, error)
	CountAvailable(ctx context.Context, productID int64) (int, error)
	ListAvailable(ctx context.Context, productID int64, limit int) ([]StockUnit, error)
	SerialsInUse(ctx context.Context, serials []string) ([]string, error)
	Transition(ctx context.Context, unitID int64, from, to UnitStatus) (bool, error)
	SetNote(ctx context.Context, unitID int64, note string) error
}

// CatalogPort provides product lookups.
type CatalogPort interface {
	GetProduct(ctx context.Context, id int64) (catalog.Product, error)
	GetProductBySKU(ctx context.Context, sku string) (catalog.Product, error)
}

// CodePort issues scannable identifiers.
type CodePort interface {
	GenerateBatch(seed string, n int, taken func(string) bool) []string
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates stock ledger operations.
type Service struct {
	repo     RepositoryPort
	products CatalogPort
	codes    CodePort
	audit    AuditPort
}

// NewService builds Service.
func NewService(repo RepositoryPort, products CatalogPort, codes CodePort, audit AuditPort) *Service {
	return &Service{repo: repo, products: products, codes: codes, audit: audit}
}

// Intake receives quantity physical units of a product into the ledger. It is
// all-or-nothing: any validation failure aborts before a single row is
// written, and a mid-write storage failure rolls every row back.
func (s *Service) Intake(ctx context.Context, input IntakeInput) ([]StockUnit, error) {
	ve := &shared.ValidationError{}

	product, err := s.products.GetProduct(ctx, input.ProductID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			ve.Add("product_id", "product not found")
			return nil, ve
		}
		return nil, fmt.Errorf("ledger: intake product lookup: %w", err)
	}

	if input.Quantity <= 0 {
		ve.Add("quantity", "must be positive")
	}
	s.validateSerials(ctx, product, input, ve)
	if err := ve.OrNil(); err != nil {
		return nil, err
	}

	units := make([]StockUnit, 0, input.Quantity)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var codes []string
		if input.WantBarcodes {
			taken := func(code string) bool {
				exists, err := tx.BarcodeExists(ctx, code)
				// On a read failure the unique constraint below remains
				// the backstop against a duplicate write.
				return err == nil && exists
			}
			codes = s.codes.GenerateBatch(product.SKU, input.Quantity, taken)
		}
		for i := 0; i < input.Quantity; i++ {
			unit := StockUnit{
				ProductID:     product.ID,
				Status:        StatusAvailable,
				BatchNumber:   input.BatchNumber,
				Location:      input.Location,
				PurchasePrice: product.PurchasePrice,
				SellingPrice:  product.SellingPrice,
				CreatedBy:     input.ActorID,
			}
			if codes != nil {
				code := codes[i]
				unit.Barcode = &code
			}
			if len(input.Serials) > 0 {
				serial := input.Serials[i]
				unit.Serial = &serial
			}
			id, err := tx.InsertUnit(ctx, unit)
			if err != nil {
				return err
			}
			unit.ID = id
			units = append(units, unit)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  input.ActorID,
			Action:   "stock.intake",
			Entity:   "product",
			EntityID: strconv.FormatInt(product.ID, 10),
			Meta:     map[string]any{"quantity": input.Quantity, "batch": input.BatchNumber},
		})
	}
	return units, nil
}

func (s *Service) validateSerials(ctx context.Context, product catalog.Product, input IntakeInput, ve *shared.ValidationError) {
	if len(input.Serials) == 0 {
		if product.Serialized {
			ve.Addf("serials", "serialized product requires %d serials", input.Quantity)
		}
		return
	}
	if len(input.Serials) != input.Quantity {
		ve.Addf("serials", "expected %d serials, got %d", input.Quantity, len(input.Serials))
		return
	}
	seen := make(map[string]struct{}, len(input.Serials))
	for i, serial := range input.Serials {
		if serial == "" {
			ve.Addf("serials", "serial at position %d is empty", i)
			continue
		}
		if _, dup := seen[serial]; dup {
			ve.Addf("serials", "duplicate serial %q in request", serial)
			continue
		}
		seen[serial] = struct{}{}
	}
	if !ve.Empty() {
		return
	}
	used, err := s.repo.SerialsInUse(ctx, input.Serials)
	if err != nil {
		ve.Add("serials", "could not verify serial uniqueness")
		return
	}
	for _, serial := range used {
		ve.Addf("serials", "serial %q already in stock", serial)
	}
}

// Transition moves a unit through the status machine via compare-and-set.
// Exactly one of any set of concurrent callers succeeds.
func (s *Service) Transition(ctx context.Context, unitID int64, from, to UnitStatus) error {
	if !ValidTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	ok, err := s.repo.Transition(ctx, unitID, from, to)
	if err != nil {
		return fmt.Errorf("ledger: transition unit %d: %w", unitID, err)
	}
	if !ok {
		return &shared.ConflictError{UnitID: unitID, Message: fmt.Sprintf("unit is no longer %s", from)}
	}
	return nil
}

// WriteOff manually removes an available unit from stock for a non-sale
// reason.
func (s *Service) WriteOff(ctx context.Context, unitID int64, to UnitStatus, note string, actorID int64) error {
	if to != StatusUsed && to != StatusDamaged && to != StatusOther {
		return fmt.Errorf("%w: write-off to %s", ErrInvalidTransition, to)
	}
	if err := s.Transition(ctx, unitID, StatusAvailable, to); err != nil {
		return err
	}
	if note != "" {
		if err := s.repo.SetNote(ctx, unitID, note); err != nil {
			return fmt.Errorf("ledger: write-off note: %w", err)
		}
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "stock.write_off",
			Entity:   "stock_unit",
			EntityID: strconv.FormatInt(unitID, 10),
			Meta:     map[string]any{"status": string(to), "note": note},
		})
	}
	return nil
}

// CountAvailable returns the live available count for a product.
func (s *Service) CountAvailable(ctx context.Context, productID int64) (int, error) {
	return s.repo.CountAvailable(ctx, productID)
}

// GetUnit returns one unit.
func (s *Service) GetUnit(ctx context.Context, unitID int64) (StockUnit, error) {
	return s.repo.GetUnit(ctx, unitID)
}

// ListAvailable returns up to limit available units for a product.
func (s *Service) ListAvailable(ctx context.Context, productID int64, limit int) ([]StockUnit, error) {
	return s.repo.ListAvailable(ctx, productID, limit)
}

// ScanResult describes what a scanned code resolved to. Unit is set when the
// code identified one physical unit; it is nil when only the product matched.
type ScanResult struct {
	Product   catalog.Product `json:"product"`
	Unit      *StockUnit      `json:"unit,omitempty"`
	Available int             `json:"available"`
}

// Scan resolves a scanned code against unit barcodes, product SKUs and unit
// serials, in that order.
func (s *Service) Scan(ctx context.Context, code string) (ScanResult, error) {
	if unit, err := s.repo.GetUnitByBarcode(ctx, code); err == nil {
		return s.scanResultForUnit(ctx, unit)
	} else if !errors.Is(err, shared.ErrNotFound) {
		return ScanResult{}, err
	}

	if product, err := s.products.GetProductBySKU(ctx, code); err == nil {
		available, err := s.repo.CountAvailable(ctx, product.ID)
		if err != nil {
			return ScanResult{}, err
		}
		return ScanResult{Product: product, Available: available}, nil
	} else if !errors.Is(err, shared.ErrNotFound) {
		return ScanResult{}, err
	}

	unit, err := s.repo.GetUnitBySerial(ctx, code)
	if err != nil {
		return ScanResult{}, err
	}
	return s.scanResultForUnit(ctx, unit)
}

func (s *Service) scanResultForUnit(ctx context.Context, unit StockUnit) (ScanResult, error) {
	product, err := s.products.GetProduct(ctx, unit.ProductID)
	if err != nil {
		return ScanResult{}, err
	}
	available, err := s.repo.CountAvailable(ctx, product.ID)
	if err != nil {
		return ScanResult{}, err
	}
	return ScanResult{Product: product, Unit: &unit, Available: available}, nil
}
