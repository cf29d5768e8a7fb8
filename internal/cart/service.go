package cart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/meridian-pos/meridian-pos/internal/catalog"
	"github.com/meridian-pos/meridian-pos/internal/ledger"
	"github.com/meridian-pos/meridian-pos/internal/shared"
)

// LedgerPort provides the availability reads the cart depends on. The cart
// never writes through this port.
type LedgerPort interface {
	GetUnit(ctx context.Context, unitID int64) (ledger.StockUnit, error)
	CountAvailable(ctx context.Context, productID int64) (int, error)
	ListAvailable(ctx context.Context, productID int64, limit int) ([]ledger.StockUnit, error)
}

// CatalogPort provides product lookups.
type CatalogPort interface {
	GetProduct(ctx context.Context, id int64) (catalog.Product, error)
}

// Service manages the selection aggregate for each session.
type Service struct {
	store    Store
	stock    LedgerPort
	products CatalogPort
	logger   *slog.Logger
}

// NewService builds Service.
func NewService(store Store, stock LedgerPort, products CatalogPort, logger *slog.Logger) *Service {
	return &Service{store: store, stock: stock, products: products, logger: logger}
}

// Get returns the session's cart.
func (s *Service) Get(ctx context.Context, sessionKey string) (*Cart, error) {
	return s.store.Load(ctx, sessionKey)
}

// AddConcrete claims one specific stock unit. It fails with a conflict when
// the cart already references the unit or the unit is not live available.
func (s *Service) AddConcrete(ctx context.Context, sessionKey string, unitID int64) (*Cart, error) {
	cart, err := s.store.Load(ctx, sessionKey)
	if err != nil {
		return nil, err
	}
	if cart.ReferencesUnit(unitID) {
		return nil, &shared.ConflictError{LineKey: UnitKey(unitID), UnitID: unitID, Message: "unit already in cart"}
	}

	unit, err := s.stock.GetUnit(ctx, unitID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			ve := &shared.ValidationError{}
			ve.Add("unit_id", "unit not found")
			return nil, ve
		}
		return nil, err
	}
	if unit.Status != ledger.StatusAvailable {
		return nil, &shared.ConflictError{LineKey: UnitKey(unitID), UnitID: unitID, Message: fmt.Sprintf("unit is %s", unit.Status)}
	}

	product, err := s.products.GetProduct(ctx, unit.ProductID)
	if err != nil {
		return nil, err
	}

	cart.Lines = append(cart.Lines, Line{
		Key:         UnitKey(unitID),
		Kind:        ClaimConcrete,
		ProductID:   product.ID,
		ProductName: product.Name,
		UnitID:      unitID,
		Quantity:    1,
		UnitPrice:   product.SellingPrice,
	})
	if err := s.store.Save(ctx, cart); err != nil {
		return nil, err
	}
	return cart, nil
}

// AddQuantity raises the quantity claim on a product by delta, bounded by the
// live headroom: available count minus what the rest of this cart already
// claims for the product.
func (s *Service) AddQuantity(ctx context.Context, sessionKey string, productID int64, delta int) (*Cart, error) {
	if delta <= 0 {
		ve := &shared.ValidationError{}
		ve.Add("quantity", "must be positive")
		return nil, ve
	}
	cart, err := s.store.Load(ctx, sessionKey)
	if err != nil {
		return nil, err
	}
	key := ProductKey(productID)
	current := 0
	if line := cart.Find(key); line != nil {
		current = line.Quantity
	}
	return s.setQuantity(ctx, cart, productID, current+delta)
}

// SetQuantity sets the quantity claim to an absolute value. Zero removes the
// line.
func (s *Service) SetQuantity(ctx context.Context, sessionKey string, productID int64, quantity int) (*Cart, error) {
	if quantity < 0 {
		ve := &shared.ValidationError{}
		ve.Add("quantity", "must not be negative")
		return nil, ve
	}
	cart, err := s.store.Load(ctx, sessionKey)
	if err != nil {
		return nil, err
	}
	if quantity == 0 {
		cart.Remove(ProductKey(productID))
		if err := s.store.Save(ctx, cart); err != nil {
			return nil, err
		}
		return cart, nil
	}
	return s.setQuantity(ctx, cart, productID, quantity)
}

func (s *Service) setQuantity(ctx context.Context, cart *Cart, productID int64, quantity int) (*Cart, error) {
	product, err := s.products.GetProduct(ctx, productID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			ve := &shared.ValidationError{}
			ve.Add("product_id", "product not found")
			return nil, ve
		}
		return nil, err
	}

	key := ProductKey(productID)
	available, err := s.stock.CountAvailable(ctx, productID)
	if err != nil {
		return nil, err
	}
	claimedElsewhere := cart.ClaimedForProduct(productID, key)
	headroom := available - claimedElsewhere
	if quantity > headroom {
		ve := &shared.ValidationError{}
		ve.Addf("quantity", "insufficient stock: requested %d, available %d", quantity, headroom)
		return nil, ve
	}

	preassigned, err := s.preassign(ctx, cart, productID, key, quantity)
	if err != nil {
		// Pre-assignment is display-only; a failed pick must not block the
		// claim itself.
		if s.logger != nil {
			s.logger.Warn("cart preassign", slog.Any("error", err), slog.Int64("product_id", productID))
		}
		preassigned = nil
	}

	if line := cart.Find(key); line != nil {
		line.Quantity = quantity
		line.UnitPrice = product.SellingPrice
		line.PreassignedUnitIDs = preassigned
	} else {
		cart.Lines = append(cart.Lines, Line{
			Key:                key,
			Kind:               ClaimQuantity,
			ProductID:          product.ID,
			ProductName:        product.Name,
			Quantity:           quantity,
			UnitPrice:          product.SellingPrice,
			PreassignedUnitIDs: preassigned,
		})
	}
	if err := s.store.Save(ctx, cart); err != nil {
		return nil, err
	}
	return cart, nil
}

// preassign picks a disjoint subset of available units not referenced by any
// other line, sized to the claim.
func (s *Service) preassign(ctx context.Context, cart *Cart, productID int64, excludeKey string, quantity int) ([]int64, error) {
	units, err := s.stock.ListAvailable(ctx, productID, quantity+len(cart.Lines)*2)
	if err != nil {
		return nil, err
	}
	taken := map[int64]struct{}{}
	for _, line := range cart.Lines {
		if line.Key == excludeKey {
			continue
		}
		if line.Kind == ClaimConcrete {
			taken[line.UnitID] = struct{}{}
		}
		for _, id := range line.PreassignedUnitIDs {
			taken[id] = struct{}{}
		}
	}
	ids := make([]int64, 0, quantity)
	for _, unit := range units {
		if len(ids) == quantity {
			break
		}
		if _, ok := taken[unit.ID]; ok {
			continue
		}
		ids = append(ids, unit.ID)
	}
	return ids, nil
}

// RemoveLine deletes a line unconditionally.
func (s *Service) RemoveLine(ctx context.Context, sessionKey, lineKey string) (*Cart, error) {
	cart, err := s.store.Load(ctx, sessionKey)
	if err != nil {
		return nil, err
	}
	if !cart.Remove(lineKey) {
		return nil, shared.ErrNotFound
	}
	if err := s.store.Save(ctx, cart); err != nil {
		return nil, err
	}
	return cart, nil
}

// Clear drops the session's cart entirely.
func (s *Service) Clear(ctx context.Context, sessionKey string) error {
	return s.store.Delete(ctx, sessionKey)
}

// Prune drops concrete lines whose unit is no longer available, typically
// after another session won the race for it. It reports the removed keys.
func (s *Service) Prune(ctx context.Context, sessionKey string) ([]string, error) {
	cart, err := s.store.Load(ctx, sessionKey)
	if err != nil {
		return nil, err
	}
	var removed []string
	kept := cart.Lines[:0]
	for _, line := range cart.Lines {
		if line.Kind == ClaimConcrete {
			unit, err := s.stock.GetUnit(ctx, line.UnitID)
			if err != nil || unit.Status != ledger.StatusAvailable {
				removed = append(removed, line.Key)
				continue
			}
		}
		kept = append(kept, line)
	}
	if len(removed) == 0 {
		return nil, nil
	}
	cart.Lines = kept
	if err := s.store.Save(ctx, cart); err != nil {
		return nil, err
	}
	return removed, nil
}
