package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-pos/meridian-pos/internal/ledger"
	"github.com/meridian-pos/meridian-pos/internal/platform/db"
	"github.com/meridian-pos/meridian-pos/internal/shared"
)

const saleColumns = `id, sale_number, customer_name, customer_phone, subtotal, discount, tax, total, payment_status, payment_method, notes, created_by, created_at`

// Repository persists sales in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the operations a checkout commit runs inside one
// transaction.
type TxRepository interface {
	LastSaleNumber(ctx context.Context, prefix string) (string, error)
	InsertSale(ctx context.Context, sale Sale) (int64, error)
	InsertSaleLine(ctx context.Context, line SaleLine) (int64, error)
	InsertPayment(ctx context.Context, p Payment) (int64, error)
	SelectAvailable(ctx context.Context, productID int64, limit int) ([]ledger.StockUnit, error)
	GetUnit(ctx context.Context, unitID int64) (ledger.StockUnit, error)
	MarkUnitSold(ctx context.Context, unitID int64) (bool, error)
	GetSaleForSettlement(ctx context.Context, saleID int64) (Sale, error)
	SumPayments(ctx context.Context, saleID int64) (float64, error)
	SetPaymentStatus(ctx context.Context, saleID int64, status PaymentStatus) error
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

// LastSaleNumber returns the highest sale number under the prefix, or ""
// when the prefix has no sales yet. The row lock serialises concurrent
// checkouts on the same day. Ordering by length first keeps the comparison
// numeric once a day's suffix outgrows its zero padding.
func (r *txRepo) LastSaleNumber(ctx context.Context, prefix string) (string, error) {
	var number string
	err := r.tx.QueryRow(ctx,
		`SELECT sale_number FROM sales WHERE sale_number LIKE $1
		 ORDER BY length(sale_number) DESC, sale_number DESC LIMIT 1 FOR UPDATE`,
		prefix+"%",
	).Scan(&number)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("checkout: last sale number: %w", err)
	}
	return number, nil
}

func (r *txRepo) InsertSale(ctx context.Context, sale Sale) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx,
		`INSERT INTO sales (sale_number, customer_name, customer_phone, subtotal, discount, tax, total, payment_status, payment_method, notes, created_by)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) RETURNING id`,
		sale.SaleNumber, sale.CustomerName, sale.CustomerPhone, sale.Subtotal, sale.Discount, sale.Tax, sale.Total,
		sale.PaymentStatus, sale.PaymentMethod, sale.Notes, sale.CreatedBy,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("checkout: insert sale: %w", err)
	}
	return id, nil
}

func (r *txRepo) InsertSaleLine(ctx context.Context, line SaleLine) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx,
		`INSERT INTO sale_lines (sale_id, product_id, stock_unit_id, quantity, unit_price, line_total)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		line.SaleID, line.ProductID, line.StockUnitID, line.Quantity, line.UnitPrice, line.LineTotal,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("checkout: insert sale line: %w", err)
	}
	return id, nil
}

func (r *txRepo) InsertPayment(ctx context.Context, p Payment) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx,
		`INSERT INTO payments (sale_id, amount, payment_method, reference, received_by)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		p.SaleID, p.Amount, p.Method, p.Reference, p.ReceivedBy,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("checkout: insert payment: %w", err)
	}
	return id, nil
}

// SelectAvailable picks available units of a product inside the transaction.
// Checkout always selects fresh here; cart pre-assignments are display only.
func (r *txRepo) SelectAvailable(ctx context.Context, productID int64, limit int) ([]ledger.StockUnit, error) {
	rows, err := r.tx.Query(ctx,
		`SELECT id, product_id, barcode, serial, status, batch_number, location, purchase_price, selling_price, note, created_by, created_at
		 FROM stock_units WHERE product_id = $1 AND status = 'available' ORDER BY id LIMIT $2`,
		productID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("checkout: select available: %w", err)
	}
	defer rows.Close()

	var units []ledger.StockUnit
	for rows.Next() {
		var u ledger.StockUnit
		if err := rows.Scan(&u.ID, &u.ProductID, &u.Barcode, &u.Serial, &u.Status, &u.BatchNumber, &u.Location, &u.PurchasePrice, &u.SellingPrice, &u.Note, &u.CreatedBy, &u.CreatedAt); err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

func (r *txRepo) GetUnit(ctx context.Context, unitID int64) (ledger.StockUnit, error) {
	var u ledger.StockUnit
	err := r.tx.QueryRow(ctx,
		`SELECT id, product_id, barcode, serial, status, batch_number, location, purchase_price, selling_price, note, created_by, created_at
		 FROM stock_units WHERE id = $1`,
		unitID,
	).Scan(&u.ID, &u.ProductID, &u.Barcode, &u.Serial, &u.Status, &u.BatchNumber, &u.Location, &u.PurchasePrice, &u.SellingPrice, &u.Note, &u.CreatedBy, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.StockUnit{}, shared.ErrNotFound
	}
	if err != nil {
		return ledger.StockUnit{}, fmt.Errorf("checkout: get unit: %w", err)
	}
	return u, nil
}

// MarkUnitSold flips available to sold, reporting whether this transaction
// won the unit. Zero rows means another sale got there first.
func (r *txRepo) MarkUnitSold(ctx context.Context, unitID int64) (bool, error) {
	tag, err := r.tx.Exec(ctx,
		`UPDATE stock_units SET status = 'sold' WHERE id = $1 AND status = 'available'`,
		unitID,
	)
	if err != nil {
		return false, fmt.Errorf("checkout: mark sold: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetSaleForSettlement locks the sale header while a payment is recorded
// against it, so two cashiers cannot both flip the status.
func (r *txRepo) GetSaleForSettlement(ctx context.Context, saleID int64) (Sale, error) {
	var s Sale
	err := r.tx.QueryRow(ctx,
		`SELECT `+saleColumns+` FROM sales WHERE id = $1 FOR UPDATE`, saleID,
	).Scan(&s.ID, &s.SaleNumber, &s.CustomerName, &s.CustomerPhone, &s.Subtotal, &s.Discount, &s.Tax, &s.Total,
		&s.PaymentStatus, &s.PaymentMethod, &s.Notes, &s.CreatedBy, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Sale{}, shared.ErrNotFound
	}
	if err != nil {
		return Sale{}, fmt.Errorf("checkout: lock sale: %w", err)
	}
	return s, nil
}

func (r *txRepo) SumPayments(ctx context.Context, saleID int64) (float64, error) {
	var sum float64
	err := r.tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM payments WHERE sale_id = $1`, saleID,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("checkout: sum payments: %w", err)
	}
	return sum, nil
}

func (r *txRepo) SetPaymentStatus(ctx context.Context, saleID int64, status PaymentStatus) error {
	if _, err := r.tx.Exec(ctx,
		`UPDATE sales SET payment_status = $2 WHERE id = $1`, saleID, status,
	); err != nil {
		return fmt.Errorf("checkout: set payment status: %w", err)
	}
	return nil
}

// GetSale loads a sale with its lines.
func (r *Repository) GetSale(ctx context.Context, id int64) (Sale, error) {
	var s Sale
	err := r.pool.QueryRow(ctx,
		`SELECT `+saleColumns+` FROM sales WHERE id = $1`, id,
	).Scan(&s.ID, &s.SaleNumber, &s.CustomerName, &s.CustomerPhone, &s.Subtotal, &s.Discount, &s.Tax, &s.Total,
		&s.PaymentStatus, &s.PaymentMethod, &s.Notes, &s.CreatedBy, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Sale{}, shared.ErrNotFound
	}
	if err != nil {
		return Sale{}, fmt.Errorf("checkout: get sale: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, sale_id, product_id, stock_unit_id, quantity, unit_price, line_total
		 FROM sale_lines WHERE sale_id = $1 ORDER BY id`, id,
	)
	if err != nil {
		return Sale{}, fmt.Errorf("checkout: sale lines: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var line SaleLine
		if err := rows.Scan(&line.ID, &line.SaleID, &line.ProductID, &line.StockUnitID, &line.Quantity, &line.UnitPrice, &line.LineTotal); err != nil {
			return Sale{}, err
		}
		s.Lines = append(s.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return Sale{}, err
	}

	payRows, err := r.pool.Query(ctx,
		`SELECT id, sale_id, amount, payment_method, reference, received_by, paid_at
		 FROM payments WHERE sale_id = $1 ORDER BY id`, id,
	)
	if err != nil {
		return Sale{}, fmt.Errorf("checkout: sale payments: %w", err)
	}
	defer payRows.Close()
	for payRows.Next() {
		var p Payment
		if err := payRows.Scan(&p.ID, &p.SaleID, &p.Amount, &p.Method, &p.Reference, &p.ReceivedBy, &p.PaidAt); err != nil {
			return Sale{}, err
		}
		s.Payments = append(s.Payments, p)
	}
	return s, payRows.Err()
}

// GetSaleByNumber loads a sale header by its number.
func (r *Repository) GetSaleByNumber(ctx context.Context, number string) (Sale, error) {
	var s Sale
	err := r.pool.QueryRow(ctx,
		`SELECT `+saleColumns+` FROM sales WHERE sale_number = $1`, number,
	).Scan(&s.ID, &s.SaleNumber, &s.CustomerName, &s.CustomerPhone, &s.Subtotal, &s.Discount, &s.Tax, &s.Total,
		&s.PaymentStatus, &s.PaymentMethod, &s.Notes, &s.CreatedBy, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Sale{}, shared.ErrNotFound
	}
	if err != nil {
		return Sale{}, fmt.Errorf("checkout: get sale by number: %w", err)
	}
	return r.GetSale(ctx, s.ID)
}

// DailySummary aggregates the sales committed on a calendar day.
func (r *Repository) DailySummary(ctx context.Context, day time.Time) (DailySummary, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.Add(24 * time.Hour)

	summary := DailySummary{Date: start.Format("2006-01-02")}
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(SUM(total), 0)
		 FROM sales WHERE created_at >= $1 AND created_at < $2`,
		start, end,
	).Scan(&summary.SaleCount, &summary.GrossTotal)
	if err != nil {
		return DailySummary{}, fmt.Errorf("checkout: daily summary: %w", err)
	}

	// Collected follows the payment rows, not the sale status, so partially
	// settled sales contribute what was actually received.
	err = r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(p.amount), 0)
		 FROM payments p JOIN sales s ON s.id = p.sale_id
		 WHERE s.created_at >= $1 AND s.created_at < $2`,
		start, end,
	).Scan(&summary.Collected)
	if err != nil {
		return DailySummary{}, fmt.Errorf("checkout: daily collected: %w", err)
	}
	summary.Due = shared.RoundMoney(summary.GrossTotal - summary.Collected)

	err = r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(l.quantity), 0)
		 FROM sale_lines l JOIN sales s ON s.id = l.sale_id
		 WHERE s.created_at >= $1 AND s.created_at < $2`,
		start, end,
	).Scan(&summary.UnitCount)
	if err != nil {
		return DailySummary{}, fmt.Errorf("checkout: daily unit count: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT payment_method, COALESCE(SUM(total), 0)
		 FROM sales WHERE created_at >= $1 AND created_at < $2
		 GROUP BY payment_method`,
		start, end,
	)
	if err != nil {
		return DailySummary{}, fmt.Errorf("checkout: daily method breakdown: %w", err)
	}
	defer rows.Close()
	summary.ByMethod = map[string]float64{}
	for rows.Next() {
		var method string
		var total float64
		if err := rows.Scan(&method, &total); err != nil {
			return DailySummary{}, err
		}
		summary.ByMethod[method] = total
	}
	return summary, rows.Err()
}
