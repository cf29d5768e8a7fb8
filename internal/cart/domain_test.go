package cart

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineKeys(t *testing.T) {
	assert.Equal(t, "unit:42", UnitKey(42))
	assert.Equal(t, "product:7", ProductKey(7))

	id, ok := ParseProductKey("product:7")
	require.True(t, ok)
	assert.Equal(t, int64(7), id)

	_, ok = ParseProductKey("unit:42")
	assert.False(t, ok)
}

func TestCartTotalsRecomputed(t *testing.T) {
	cart := &Cart{SessionKey: "s1"}
	cart.Lines = append(cart.Lines,
		Line{Key: UnitKey(1), Kind: ClaimConcrete, ProductID: 10, UnitID: 1, Quantity: 1, UnitPrice: 199.99},
		Line{Key: ProductKey(20), Kind: ClaimQuantity, ProductID: 20, Quantity: 3, UnitPrice: 4.5},
	)

	totals := cart.Totals()
	assert.Equal(t, 4, totals.ItemCount)
	assert.InDelta(t, 213.49, totals.Subtotal, 1e-9)

	cart.Find(ProductKey(20)).Quantity = 5
	totals = cart.Totals()
	assert.Equal(t, 6, totals.ItemCount)
	assert.InDelta(t, 222.49, totals.Subtotal, 1e-9)
}

func TestCartReferencesUnit(t *testing.T) {
	cart := &Cart{
		Lines: []Line{
			{Key: UnitKey(1), Kind: ClaimConcrete, UnitID: 1, Quantity: 1},
			{Key: ProductKey(2), Kind: ClaimQuantity, ProductID: 2, Quantity: 2, PreassignedUnitIDs: []int64{8, 9}},
		},
	}
	assert.True(t, cart.ReferencesUnit(1))
	assert.True(t, cart.ReferencesUnit(9))
	assert.False(t, cart.ReferencesUnit(3))
}

func TestClaimedForProductExcludesOwnLine(t *testing.T) {
	cart := &Cart{
		Lines: []Line{
			{Key: UnitKey(1), Kind: ClaimConcrete, ProductID: 5, UnitID: 1, Quantity: 1},
			{Key: UnitKey(2), Kind: ClaimConcrete, ProductID: 5, UnitID: 2, Quantity: 1},
			{Key: ProductKey(5), Kind: ClaimQuantity, ProductID: 5, Quantity: 4},
		},
	}
	assert.Equal(t, 2, cart.ClaimedForProduct(5, ProductKey(5)))
	assert.Equal(t, 6, cart.ClaimedForProduct(5, ""))
	assert.Equal(t, 0, cart.ClaimedForProduct(99, ""))
}

func TestCartRemove(t *testing.T) {
	cart := &Cart{Lines: []Line{{Key: UnitKey(1)}, {Key: ProductKey(2)}}}
	require.True(t, cart.Remove(UnitKey(1)))
	assert.Len(t, cart.Lines, 1)
	assert.False(t, cart.Remove(UnitKey(1)))
}
