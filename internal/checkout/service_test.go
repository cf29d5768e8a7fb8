package checkout

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-pos/meridian-pos/internal/cart"
	"github.com/meridian-pos/meridian-pos/internal/ledger"
	"github.com/meridian-pos/meridian-pos/internal/shared"
)

// ============================================================================
// MOCK REPOSITORY
// ============================================================================

type mockState struct {
	units      map[int64]*ledger.StockUnit
	sales      map[int64]*Sale
	lines      []SaleLine
	payments   []Payment
	nextSaleID int64
	nextLineID int64
}

func (s *mockState) clone() *mockState {
	c := &mockState{
		units:      map[int64]*ledger.StockUnit{},
		sales:      map[int64]*Sale{},
		lines:      append([]SaleLine(nil), s.lines...),
		payments:   append([]Payment(nil), s.payments...),
		nextSaleID: s.nextSaleID,
		nextLineID: s.nextLineID,
	}
	for id, u := range s.units {
		copied := *u
		c.units[id] = &copied
	}
	for id, sale := range s.sales {
		copied := *sale
		c.sales[id] = &copied
	}
	return c
}

type mockRepository struct {
	mu    sync.Mutex
	state *mockState
	// lost marks units that a concurrent sale grabs between the phase one
	// read and the claim inside the transaction.
	lost map[int64]bool
	// hideLastOnce makes the first LastSaleNumber call miss an existing row,
	// the way a concurrent first checkout of the day would.
	hideLastOnce bool
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		state: &mockState{
			units:      map[int64]*ledger.StockUnit{},
			sales:      map[int64]*Sale{},
			nextSaleID: 1,
			nextLineID: 1,
		},
		lost: map[int64]bool{},
	}
}

// GetUnit and CountAvailable serve the phase one reads.
func (m *mockRepository) GetUnit(ctx context.Context, unitID int64) (ledger.StockUnit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.state.units[unitID]
	if !ok {
		return ledger.StockUnit{}, shared.ErrNotFound
	}
	return *u, nil
}

func (m *mockRepository) CountAvailable(ctx context.Context, productID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, u := range m.state.units {
		if u.ProductID == productID && u.Status == ledger.StatusAvailable {
			n++
		}
	}
	return n, nil
}

func (m *mockRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	// Snapshot for rollback: a failed callback must leave nothing behind,
	// including status flips already applied.
	m.mu.Lock()
	snapshot := m.state.clone()
	m.mu.Unlock()

	if err := fn(ctx, &mockTxRepo{mock: m}); err != nil {
		m.mu.Lock()
		m.state = snapshot
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *mockRepository) GetSale(ctx context.Context, id int64) (Sale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sale, ok := m.state.sales[id]
	if !ok {
		return Sale{}, shared.ErrNotFound
	}
	out := *sale
	for _, line := range m.state.lines {
		if line.SaleID == id {
			out.Lines = append(out.Lines, line)
		}
	}
	for _, p := range m.state.payments {
		if p.SaleID == id {
			out.Payments = append(out.Payments, p)
		}
	}
	return out, nil
}

func (m *mockRepository) GetSaleByNumber(ctx context.Context, number string) (Sale, error) {
	m.mu.Lock()
	var id int64 = -1
	for _, sale := range m.state.sales {
		if sale.SaleNumber == number {
			id = sale.ID
		}
	}
	m.mu.Unlock()
	if id < 0 {
		return Sale{}, shared.ErrNotFound
	}
	return m.GetSale(ctx, id)
}

func (m *mockRepository) DailySummary(ctx context.Context, day time.Time) (DailySummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	summary := DailySummary{Date: day.Format("2006-01-02"), ByMethod: map[string]float64{}}
	for _, sale := range m.state.sales {
		summary.SaleCount++
		summary.GrossTotal += sale.Total
		summary.ByMethod[string(sale.PaymentMethod)] += sale.Total
	}
	for _, p := range m.state.payments {
		summary.Collected += p.Amount
	}
	summary.Due = shared.RoundMoney(summary.GrossTotal - summary.Collected)
	for _, line := range m.state.lines {
		summary.UnitCount += line.Quantity
	}
	return summary, nil
}

type mockTxRepo struct {
	mock *mockRepository
}

func (t *mockTxRepo) LastSaleNumber(ctx context.Context, prefix string) (string, error) {
	m := t.mock
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hideLastOnce {
		m.hideLastOnce = false
		return "", nil
	}
	last, best := "", -1
	for _, sale := range m.state.sales {
		if !strings.HasPrefix(sale.SaleNumber, prefix) {
			continue
		}
		// Compare by numeric suffix, matching the length-aware SQL ordering.
		seq, err := strconv.Atoi(strings.TrimPrefix(sale.SaleNumber, prefix))
		if err == nil && seq > best {
			last, best = sale.SaleNumber, seq
		}
	}
	return last, nil
}

func (t *mockTxRepo) InsertSale(ctx context.Context, sale Sale) (int64, error) {
	m := t.mock
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.state.sales {
		if existing.SaleNumber == sale.SaleNumber {
			return 0, &pgconn.PgError{Code: "23505", ConstraintName: "sales_sale_number_key"}
		}
	}
	sale.ID = m.state.nextSaleID
	m.state.nextSaleID++
	sale.CreatedAt = time.Now()
	stored := sale
	m.state.sales[sale.ID] = &stored
	return sale.ID, nil
}

func (t *mockTxRepo) InsertSaleLine(ctx context.Context, line SaleLine) (int64, error) {
	m := t.mock
	m.mu.Lock()
	defer m.mu.Unlock()
	line.ID = m.state.nextLineID
	m.state.nextLineID++
	m.state.lines = append(m.state.lines, line)
	return line.ID, nil
}

func (t *mockTxRepo) InsertPayment(ctx context.Context, p Payment) (int64, error) {
	m := t.mock
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = int64(len(m.state.payments) + 1)
	p.PaidAt = time.Now()
	m.state.payments = append(m.state.payments, p)
	return p.ID, nil
}

func (t *mockTxRepo) SelectAvailable(ctx context.Context, productID int64, limit int) ([]ledger.StockUnit, error) {
	m := t.mock
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ledger.StockUnit
	for id := int64(1); int(id) <= len(m.state.units)+100 && len(out) < limit; id++ {
		u, ok := m.state.units[id]
		if ok && u.ProductID == productID && u.Status == ledger.StatusAvailable {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (t *mockTxRepo) GetUnit(ctx context.Context, unitID int64) (ledger.StockUnit, error) {
	m := t.mock
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.state.units[unitID]
	if !ok {
		return ledger.StockUnit{}, shared.ErrNotFound
	}
	return *u, nil
}

func (t *mockTxRepo) GetSaleForSettlement(ctx context.Context, saleID int64) (Sale, error) {
	m := t.mock
	m.mu.Lock()
	defer m.mu.Unlock()
	sale, ok := m.state.sales[saleID]
	if !ok {
		return Sale{}, shared.ErrNotFound
	}
	return *sale, nil
}

func (t *mockTxRepo) SumPayments(ctx context.Context, saleID int64) (float64, error) {
	m := t.mock
	m.mu.Lock()
	defer m.mu.Unlock()
	sum := 0.0
	for _, p := range m.state.payments {
		if p.SaleID == saleID {
			sum += p.Amount
		}
	}
	return sum, nil
}

func (t *mockTxRepo) SetPaymentStatus(ctx context.Context, saleID int64, status PaymentStatus) error {
	m := t.mock
	m.mu.Lock()
	defer m.mu.Unlock()
	sale, ok := m.state.sales[saleID]
	if !ok {
		return shared.ErrNotFound
	}
	sale.PaymentStatus = status
	return nil
}

func (t *mockTxRepo) MarkUnitSold(ctx context.Context, unitID int64) (bool, error) {
	m := t.mock
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lost[unitID] {
		return false, nil
	}
	u, ok := m.state.units[unitID]
	if !ok || u.Status != ledger.StatusAvailable {
		return false, nil
	}
	u.Status = ledger.StatusSold
	return true, nil
}

// ============================================================================
// CART AND AUDIT STUBS
// ============================================================================

type cartStub struct {
	carts   map[string]*cart.Cart
	cleared []string
}

func (s *cartStub) Get(_ context.Context, sessionKey string) (*cart.Cart, error) {
	if c, ok := s.carts[sessionKey]; ok {
		return c, nil
	}
	return &cart.Cart{SessionKey: sessionKey}, nil
}

func (s *cartStub) Clear(_ context.Context, sessionKey string) error {
	delete(s.carts, sessionKey)
	s.cleared = append(s.cleared, sessionKey)
	return nil
}

type auditStub struct {
	records []shared.AuditLog
}

func (s *auditStub) Record(_ context.Context, log shared.AuditLog) error {
	s.records = append(s.records, log)
	return nil
}

// ============================================================================
// FIXTURES
// ============================================================================

func seedUnits(repo *mockRepository, productID int64, ids ...int64) {
	for _, id := range ids {
		repo.state.units[id] = &ledger.StockUnit{ID: id, ProductID: productID, Status: ledger.StatusAvailable, SellingPrice: 9.99}
	}
}

func newTestService(carts *cartStub) (*Service, *mockRepository, *auditStub) {
	repo := newMockRepository()
	audit := &auditStub{}
	svc := NewService(repo, carts, repo, audit, slog.New(slog.DiscardHandler))
	return svc, repo, audit
}

func taxRate(v float64) *float64 {
	return &v
}

func cartWith(sessionKey string, lines ...cart.Line) *cartStub {
	return &cartStub{carts: map[string]*cart.Cart{
		sessionKey: {SessionKey: sessionKey, Lines: lines},
	}}
}

// ============================================================================
// TESTS
// ============================================================================

func TestCheckoutSuccess(t *testing.T) {
	carts := cartWith("s1",
		cart.Line{Key: cart.UnitKey(1), Kind: cart.ClaimConcrete, ProductID: 10, UnitID: 1, Quantity: 1, UnitPrice: 499.99},
		cart.Line{Key: cart.ProductKey(20), Kind: cart.ClaimQuantity, ProductID: 20, Quantity: 2, UnitPrice: 9.99},
	)
	svc, repo, audit := newTestService(carts)
	seedUnits(repo, 10, 1)
	seedUnits(repo, 20, 2, 3, 4)

	sale, err := svc.Checkout(context.Background(), "s1", CheckoutInput{
		PaymentMethod: MethodCash,
		TaxRate:       taxRate(0.15),
		ActorID:       7,
	})
	require.NoError(t, err)

	assert.Regexp(t, `^INV-\d{8}-0001$`, sale.SaleNumber)
	assert.InDelta(t, 519.97, sale.Subtotal, 1e-9)
	assert.InDelta(t, 78.00, sale.Tax, 1e-9)
	assert.InDelta(t, 597.97, sale.Total, 1e-9)
	assert.Equal(t, StatusPaid, sale.PaymentStatus)
	require.Len(t, sale.Lines, 3, "quantity claims expand one line per unit")

	for _, id := range []int64{1, 2, 3} {
		assert.Equal(t, ledger.StatusSold, repo.state.units[id].Status, "unit %d", id)
	}
	assert.Equal(t, ledger.StatusAvailable, repo.state.units[4].Status)

	require.Len(t, repo.state.payments, 1)
	assert.InDelta(t, sale.Total, repo.state.payments[0].Amount, 1e-9)
	require.Len(t, sale.Payments, 1)
	assert.Equal(t, MethodCash, sale.Payments[0].Method)

	assert.Equal(t, []string{"s1"}, carts.cleared)
	require.Len(t, audit.records, 1)
	assert.Equal(t, "pos.checkout", audit.records[0].Action)
}

func TestCheckoutEmptyCart(t *testing.T) {
	svc, _, _ := newTestService(&cartStub{carts: map[string]*cart.Cart{}})

	_, err := svc.Checkout(context.Background(), "s1", CheckoutInput{PaymentMethod: MethodCash})
	require.True(t, shared.IsValidation(err))
}

func TestCheckoutValidationCollectsAll(t *testing.T) {
	svc, _, _ := newTestService(&cartStub{carts: map[string]*cart.Cart{}})

	_, err := svc.Checkout(context.Background(), "s1", CheckoutInput{
		DiscountAmount: -5,
		TaxRate:        taxRate(2),
	})
	var ve *shared.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.GreaterOrEqual(t, len(ve.Violations), 3, "empty cart, bad discount and bad tax rate all reported")
}

func TestCheckoutPhaseOneCollectsStaleClaims(t *testing.T) {
	carts := cartWith("s1",
		cart.Line{Key: cart.UnitKey(5), Kind: cart.ClaimConcrete, ProductID: 10, UnitID: 5, Quantity: 1, UnitPrice: 499.99},
		cart.Line{Key: cart.ProductKey(20), Kind: cart.ClaimQuantity, ProductID: 20, Quantity: 3, UnitPrice: 9.99},
	)
	svc, repo, _ := newTestService(carts)
	seedUnits(repo, 20, 1, 2)
	// The concrete unit was sold from under the cart.
	repo.state.units[5] = &ledger.StockUnit{ID: 5, ProductID: 10, Status: ledger.StatusSold}

	_, err := svc.Checkout(context.Background(), "s1", CheckoutInput{PaymentMethod: MethodCash})
	var ve *shared.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Len(t, ve.Violations, 2, "stale unit and short quantity reported together")
	assert.Empty(t, repo.state.sales)
	assert.Empty(t, carts.cleared)
}

func TestCheckoutAtomicOnLostUnit(t *testing.T) {
	carts := cartWith("s1",
		cart.Line{Key: cart.ProductKey(20), Kind: cart.ClaimQuantity, ProductID: 20, Quantity: 2, UnitPrice: 9.99},
		cart.Line{Key: cart.UnitKey(5), Kind: cart.ClaimConcrete, ProductID: 10, UnitID: 5, Quantity: 1, UnitPrice: 499.99},
	)
	svc, repo, _ := newTestService(carts)
	seedUnits(repo, 20, 1, 2)
	seedUnits(repo, 10, 5)
	// Another sale wins unit 5 between the phase one read and the claim.
	repo.lost[5] = true

	_, err := svc.Checkout(context.Background(), "s1", CheckoutInput{PaymentMethod: MethodCash})
	var conflict *shared.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, int64(5), conflict.UnitID)

	// The quantity units claimed before the failure must be rolled back.
	assert.Equal(t, ledger.StatusAvailable, repo.state.units[1].Status)
	assert.Equal(t, ledger.StatusAvailable, repo.state.units[2].Status)
	assert.Empty(t, repo.state.sales)
	assert.Empty(t, repo.state.lines)
	assert.Empty(t, carts.cleared, "cart survives a failed checkout")
}

func TestCheckoutDueSkipsPayment(t *testing.T) {
	carts := cartWith("s1",
		cart.Line{Key: cart.UnitKey(1), Kind: cart.ClaimConcrete, ProductID: 10, UnitID: 1, Quantity: 1, UnitPrice: 100},
	)
	svc, repo, _ := newTestService(carts)
	seedUnits(repo, 10, 1)

	sale, err := svc.Checkout(context.Background(), "s1", CheckoutInput{
		PaymentMethod: MethodDue,
		CustomerName:  "Walk-in",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, sale.PaymentStatus)
	assert.Empty(t, repo.state.payments)
}

func TestCheckoutDiscountBounds(t *testing.T) {
	carts := cartWith("s1",
		cart.Line{Key: cart.UnitKey(1), Kind: cart.ClaimConcrete, ProductID: 10, UnitID: 1, Quantity: 1, UnitPrice: 100},
	)
	svc, repo, _ := newTestService(carts)
	seedUnits(repo, 10, 1)

	_, err := svc.Checkout(context.Background(), "s1", CheckoutInput{
		PaymentMethod:  MethodCash,
		DiscountAmount: 150,
	})
	require.True(t, shared.IsValidation(err))

	sale, err := svc.Checkout(context.Background(), "s1", CheckoutInput{
		PaymentMethod:  MethodCash,
		DiscountAmount: 20,
		TaxRate:        taxRate(0.10),
	})
	require.NoError(t, err)
	assert.InDelta(t, 100.0, sale.Subtotal, 1e-9)
	assert.InDelta(t, 20.0, sale.Discount, 1e-9)
	assert.InDelta(t, 8.0, sale.Tax, 1e-9)
	assert.InDelta(t, 88.0, sale.Total, 1e-9)
}

func TestSaleNumbersIncrementWithinDay(t *testing.T) {
	carts := &cartStub{carts: map[string]*cart.Cart{}}
	svc, repo, _ := newTestService(carts)
	seedUnits(repo, 10, 1, 2)

	for i, unitID := range []int64{1, 2} {
		session := []string{"s1", "s2"}[i]
		carts.carts[session] = &cart.Cart{SessionKey: session, Lines: []cart.Line{
			{Key: cart.UnitKey(unitID), Kind: cart.ClaimConcrete, ProductID: 10, UnitID: unitID, Quantity: 1, UnitPrice: 50},
		}}
	}

	first, err := svc.Checkout(context.Background(), "s1", CheckoutInput{PaymentMethod: MethodCash})
	require.NoError(t, err)
	second, err := svc.Checkout(context.Background(), "s2", CheckoutInput{PaymentMethod: MethodCard})
	require.NoError(t, err)

	assert.Regexp(t, `-0001$`, first.SaleNumber)
	assert.Regexp(t, `-0002$`, second.SaleNumber)
}

func TestSaleNumbersOrderNumericallyPastPadding(t *testing.T) {
	carts := cartWith("s1",
		cart.Line{Key: cart.UnitKey(1), Kind: cart.ClaimConcrete, ProductID: 10, UnitID: 1, Quantity: 1, UnitPrice: 50},
	)
	svc, repo, _ := newTestService(carts)
	seedUnits(repo, 10, 1)

	// A busy day that outgrew the four digit padding: lexicographically
	// "-9999" sorts above "-10000", numerically it does not.
	prefix := "INV-" + time.Now().Format("20060102") + "-"
	repo.state.sales[900] = &Sale{ID: 900, SaleNumber: prefix + "9999", Total: 10}
	repo.state.sales[901] = &Sale{ID: 901, SaleNumber: prefix + "10000", Total: 10}
	repo.state.nextSaleID = 902

	sale, err := svc.Checkout(context.Background(), "s1", CheckoutInput{PaymentMethod: MethodCash})
	require.NoError(t, err)
	assert.Equal(t, prefix+"10001", sale.SaleNumber)
}

func TestCheckoutRetriesLostSaleNumberRace(t *testing.T) {
	carts := cartWith("s1",
		cart.Line{Key: cart.UnitKey(1), Kind: cart.ClaimConcrete, ProductID: 10, UnitID: 1, Quantity: 1, UnitPrice: 50},
	)
	svc, repo, _ := newTestService(carts)
	seedUnits(repo, 10, 1)

	// A concurrent first checkout committed -0001 after our number read.
	prefix := "INV-" + time.Now().Format("20060102") + "-"
	repo.state.sales[900] = &Sale{ID: 900, SaleNumber: prefix + "0001", Total: 10}
	repo.state.nextSaleID = 901
	repo.hideLastOnce = true

	sale, err := svc.Checkout(context.Background(), "s1", CheckoutInput{PaymentMethod: MethodCash})
	require.NoError(t, err)
	assert.Equal(t, prefix+"0002", sale.SaleNumber)
	assert.Len(t, repo.state.sales, 2, "the aborted first attempt leaves nothing behind")
}

func TestRecordPaymentSettlesDueSale(t *testing.T) {
	carts := cartWith("s1",
		cart.Line{Key: cart.UnitKey(1), Kind: cart.ClaimConcrete, ProductID: 10, UnitID: 1, Quantity: 1, UnitPrice: 100},
	)
	svc, repo, audit := newTestService(carts)
	seedUnits(repo, 10, 1)

	sale, err := svc.Checkout(context.Background(), "s1", CheckoutInput{PaymentMethod: MethodDue})
	require.NoError(t, err)
	require.Equal(t, StatusPending, sale.PaymentStatus)

	partial, err := svc.RecordPayment(context.Background(), sale.ID, PaymentInput{Amount: 40, Method: MethodCash, ActorID: 7})
	require.NoError(t, err)
	assert.Equal(t, StatusPartial, partial.PaymentStatus)
	require.Len(t, partial.Payments, 1)
	assert.InDelta(t, 40.0, partial.Payments[0].Amount, 1e-9)

	paid, err := svc.RecordPayment(context.Background(), sale.ID, PaymentInput{Amount: 60, Method: MethodCard, ActorID: 7})
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, paid.PaymentStatus)
	require.Len(t, paid.Payments, 2)

	_, err = svc.RecordPayment(context.Background(), sale.ID, PaymentInput{Amount: 5, Method: MethodCash})
	require.True(t, shared.IsConflict(err), "a settled sale takes no more payments")

	var actions []string
	for _, rec := range audit.records {
		actions = append(actions, rec.Action)
	}
	assert.Equal(t, []string{"pos.checkout", "pos.payment", "pos.payment"}, actions)
}

func TestRecordPaymentValidation(t *testing.T) {
	svc, _, _ := newTestService(&cartStub{carts: map[string]*cart.Cart{}})

	_, err := svc.RecordPayment(context.Background(), 1, PaymentInput{Amount: 0, Method: MethodDue})
	var ve *shared.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Len(t, ve.Violations, 2, "amount and method both rejected")

	_, err = svc.RecordPayment(context.Background(), 404, PaymentInput{Amount: 10, Method: MethodCash})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestDailySummary(t *testing.T) {
	carts := cartWith("s1",
		cart.Line{Key: cart.UnitKey(1), Kind: cart.ClaimConcrete, ProductID: 10, UnitID: 1, Quantity: 1, UnitPrice: 100},
	)
	svc, repo, _ := newTestService(carts)
	seedUnits(repo, 10, 1)

	_, err := svc.Checkout(context.Background(), "s1", CheckoutInput{PaymentMethod: MethodCash})
	require.NoError(t, err)

	summary, err := svc.DailySummary(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.SaleCount)
	assert.Equal(t, 1, summary.UnitCount)
	assert.InDelta(t, 100.0, summary.GrossTotal, 1e-9)
	assert.InDelta(t, 100.0, summary.Collected, 1e-9)
	assert.InDelta(t, 100.0, summary.ByMethod[string(MethodCash)], 1e-9)
}
