package cart

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-pos/meridian-pos/internal/catalog"
	"github.com/meridian-pos/meridian-pos/internal/ledger"
	"github.com/meridian-pos/meridian-pos/internal/shared"
)

type memStore struct {
	carts map[string]*Cart
}

func newMemStore() *memStore { return &memStore{carts: map[string]*Cart{}} }

func (s *memStore) Load(_ context.Context, sessionKey string) (*Cart, error) {
	if c, ok := s.carts[sessionKey]; ok {
		clone := *c
		clone.Lines = append([]Line(nil), c.Lines...)
		return &clone, nil
	}
	return &Cart{SessionKey: sessionKey}, nil
}

func (s *memStore) Save(_ context.Context, cart *Cart) error {
	clone := *cart
	clone.Lines = append([]Line(nil), cart.Lines...)
	s.carts[cart.SessionKey] = &clone
	return nil
}

func (s *memStore) Delete(_ context.Context, sessionKey string) error {
	delete(s.carts, sessionKey)
	return nil
}

func (s *memStore) SessionKeys(_ context.Context) ([]string, error) {
	keys := make([]string, 0, len(s.carts))
	for k := range s.carts {
		keys = append(keys, k)
	}
	return keys, nil
}

type stockStub struct {
	units map[int64]ledger.StockUnit
}

func (s *stockStub) GetUnit(_ context.Context, unitID int64) (ledger.StockUnit, error) {
	unit, ok := s.units[unitID]
	if !ok {
		return ledger.StockUnit{}, shared.ErrNotFound
	}
	return unit, nil
}

func (s *stockStub) CountAvailable(_ context.Context, productID int64) (int, error) {
	n := 0
	for _, u := range s.units {
		if u.ProductID == productID && u.Status == ledger.StatusAvailable {
			n++
		}
	}
	return n, nil
}

func (s *stockStub) ListAvailable(_ context.Context, productID int64, limit int) ([]ledger.StockUnit, error) {
	var out []ledger.StockUnit
	for id := int64(1); id <= int64(len(s.units))+100 && len(out) < limit; id++ {
		u, ok := s.units[id]
		if ok && u.ProductID == productID && u.Status == ledger.StatusAvailable {
			out = append(out, u)
		}
	}
	return out, nil
}

type catalogStub struct {
	products map[int64]catalog.Product
}

func (s *catalogStub) GetProduct(_ context.Context, id int64) (catalog.Product, error) {
	p, ok := s.products[id]
	if !ok {
		return catalog.Product{}, shared.ErrNotFound
	}
	return p, nil
}

func newTestService() (*Service, *stockStub, *memStore) {
	stock := &stockStub{units: map[int64]ledger.StockUnit{
		1: {ID: 1, ProductID: 10, Status: ledger.StatusAvailable},
		2: {ID: 2, ProductID: 10, Status: ledger.StatusAvailable},
		3: {ID: 3, ProductID: 10, Status: ledger.StatusSold},
		4: {ID: 4, ProductID: 20, Status: ledger.StatusAvailable},
		5: {ID: 5, ProductID: 20, Status: ledger.StatusAvailable},
		6: {ID: 6, ProductID: 20, Status: ledger.StatusAvailable},
	}}
	products := &catalogStub{products: map[int64]catalog.Product{
		10: {ID: 10, SKU: "PHN-100", Name: "Phone 100", SellingPrice: 499.99, Serialized: true},
		20: {ID: 20, SKU: "CBL-USB", Name: "USB Cable", SellingPrice: 9.99},
	}}
	store := newMemStore()
	svc := NewService(store, stock, products, slog.New(slog.DiscardHandler))
	return svc, stock, store
}

func TestAddConcrete(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	cart, err := svc.AddConcrete(ctx, "s1", 1)
	require.NoError(t, err)
	require.Len(t, cart.Lines, 1)
	assert.Equal(t, ClaimConcrete, cart.Lines[0].Kind)
	assert.Equal(t, 1, cart.Lines[0].Quantity)
	assert.InDelta(t, 499.99, cart.Lines[0].UnitPrice, 1e-9)
}

func TestAddConcreteTwiceConflicts(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	_, err := svc.AddConcrete(ctx, "s1", 1)
	require.NoError(t, err)

	_, err = svc.AddConcrete(ctx, "s1", 1)
	var conflict *shared.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, int64(1), conflict.UnitID)

	cart, err := svc.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, cart.Lines, 1)
}

func TestAddConcreteSoldUnitConflicts(t *testing.T) {
	svc, _, _ := newTestService()

	_, err := svc.AddConcrete(context.Background(), "s1", 3)
	var conflict *shared.ConflictError
	require.ErrorAs(t, err, &conflict)
}

func TestAddQuantityHeadroom(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	cart, err := svc.AddQuantity(ctx, "s1", 20, 3)
	require.NoError(t, err)
	require.Len(t, cart.Lines, 1)
	assert.Equal(t, 3, cart.Lines[0].Quantity)
	assert.Len(t, cart.Lines[0].PreassignedUnitIDs, 3)

	_, err = svc.AddQuantity(ctx, "s1", 20, 1)
	require.True(t, shared.IsValidation(err), "claiming past availability must fail, got %v", err)

	cart, err = svc.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 3, cart.Lines[0].Quantity)
}

func TestHeadroomCountsConcreteClaims(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	_, err := svc.AddConcrete(ctx, "s1", 4)
	require.NoError(t, err)

	// 3 available minus 1 concrete claim leaves room for 2.
	_, err = svc.AddQuantity(ctx, "s1", 20, 3)
	require.True(t, shared.IsValidation(err))

	cart, err := svc.AddQuantity(ctx, "s1", 20, 2)
	require.NoError(t, err)
	require.Len(t, cart.Lines, 2)

	line := cart.Find(ProductKey(20))
	require.NotNil(t, line)
	assert.Equal(t, 2, line.Quantity)
	assert.NotContains(t, line.PreassignedUnitIDs, int64(4))
}

func TestSetQuantityZeroRemoves(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	_, err := svc.AddQuantity(ctx, "s1", 20, 2)
	require.NoError(t, err)

	cart, err := svc.SetQuantity(ctx, "s1", 20, 0)
	require.NoError(t, err)
	assert.Empty(t, cart.Lines)
}

func TestSetQuantityRevalidates(t *testing.T) {
	svc, stock, _ := newTestService()
	ctx := context.Background()

	_, err := svc.AddQuantity(ctx, "s1", 20, 2)
	require.NoError(t, err)

	// Stock shrinks under the cart.
	u := stock.units[5]
	u.Status = ledger.StatusSold
	stock.units[5] = u
	u = stock.units[6]
	u.Status = ledger.StatusSold
	stock.units[6] = u

	_, err = svc.SetQuantity(ctx, "s1", 20, 2)
	require.True(t, shared.IsValidation(err))

	cart, err := svc.SetQuantity(ctx, "s1", 20, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, cart.Find(ProductKey(20)).Quantity)
}

func TestRemoveLine(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	_, err := svc.AddConcrete(ctx, "s1", 1)
	require.NoError(t, err)

	cart, err := svc.RemoveLine(ctx, "s1", UnitKey(1))
	require.NoError(t, err)
	assert.Empty(t, cart.Lines)

	_, err = svc.RemoveLine(ctx, "s1", UnitKey(1))
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestPruneDropsStaleConcreteLines(t *testing.T) {
	svc, stock, _ := newTestService()
	ctx := context.Background()

	_, err := svc.AddConcrete(ctx, "s1", 1)
	require.NoError(t, err)
	_, err = svc.AddConcrete(ctx, "s1", 2)
	require.NoError(t, err)

	u := stock.units[1]
	u.Status = ledger.StatusSold
	stock.units[1] = u

	removed, err := svc.Prune(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{UnitKey(1)}, removed)

	cart, err := svc.Get(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, cart.Lines, 1)
	assert.Equal(t, UnitKey(2), cart.Lines[0].Key)

	removed, err = svc.Prune(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, removed)
}
