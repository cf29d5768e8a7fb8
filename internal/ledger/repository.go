package ledger

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-pos/meridian-pos/internal/platform/db"
	"github.com/meridian-pos/meridian-pos/internal/shared"
)

const unitColumns = `id, product_id, barcode, serial, status, batch_number, location, purchase_price, selling_price, note, created_by, created_at`

// Repository persists stock units in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the operations intake runs inside one transaction.
type TxRepository interface {
	InsertUnit(ctx context.Context, unit StockUnit) (int64, error)
	BarcodeExists(ctx context.Context, code string) (bool, error)
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

func (r *txRepo) InsertUnit(ctx context.Context, unit StockUnit) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx,
		`INSERT INTO stock_units (product_id, barcode, serial, status, batch_number, location, purchase_price, selling_price, note, created_by)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`,
		unit.ProductID, unit.Barcode, unit.Serial, unit.Status, unit.BatchNumber, unit.Location, unit.PurchasePrice, unit.SellingPrice, unit.Note, unit.CreatedBy,
	).Scan(&id)
	if err != nil {
		return 0, mapUniqueViolation(err)
	}
	return id, nil
}

func (r *txRepo) BarcodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM stock_units WHERE barcode = $1)`, code).Scan(&exists)
	return exists, err
}

// mapUniqueViolation translates the physical uniqueness backstop into domain
// errors.
func mapUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		if strings.Contains(pgErr.ConstraintName, "serial") {
			return ErrDuplicateSerial
		}
		return ErrDuplicateBarcode
	}
	return err
}

func scanUnit(row pgx.Row) (StockUnit, error) {
	var u StockUnit
	err := row.Scan(&u.ID, &u.ProductID, &u.Barcode, &u.Serial, &u.Status, &u.BatchNumber, &u.Location, &u.PurchasePrice, &u.SellingPrice, &u.Note, &u.CreatedBy, &u.CreatedAt)
	return u, err
}

// GetUnit returns one unit by id.
func (r *Repository) GetUnit(ctx context.Context, id int64) (StockUnit, error) {
	u, err := scanUnit(r.pool.QueryRow(ctx, `SELECT `+unitColumns+` FROM stock_units WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return StockUnit{}, shared.ErrNotFound
	}
	return u, err
}

// GetUnitByBarcode returns the unit carrying the scanned identifier.
func (r *Repository) GetUnitByBarcode(ctx context.Context, code string) (StockUnit, error) {
	u, err := scanUnit(r.pool.QueryRow(ctx, `SELECT `+unitColumns+` FROM stock_units WHERE barcode = $1`, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return StockUnit{}, shared.ErrNotFound
	}
	return u, err
}

// GetUnitBySerial returns the unit carrying the manufacturer serial.
func (r *Repository) GetUnitBySerial(ctx context.Context, serial string) (StockUnit, error) {
	u, err := scanUnit(r.pool.QueryRow(ctx, `SELECT `+unitColumns+` FROM stock_units WHERE serial = $1`, serial))
	if errors.Is(err, pgx.ErrNoRows) {
		return StockUnit{}, shared.ErrNotFound
	}
	return u, err
}

// CountAvailable returns the live available unit count for a product.
func (r *Repository) CountAvailable(ctx context.Context, productID int64) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM stock_units WHERE product_id = $1 AND status = 'available'`, productID).Scan(&count)
	return count, err
}

// ListAvailable returns up to limit currently available units for a product,
// oldest first.
func (r *Repository) ListAvailable(ctx context.Context, productID int64, limit int) ([]StockUnit, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+unitColumns+` FROM stock_units WHERE product_id = $1 AND status = 'available' ORDER BY id LIMIT $2`,
		productID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var units []StockUnit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

// SerialsInUse returns which of the given serials are already held by an
// available or sold unit.
func (r *Repository) SerialsInUse(ctx context.Context, serials []string) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT serial FROM stock_units WHERE serial = ANY($1) AND status IN ('available', 'sold')`,
		serials)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var used []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		used = append(used, s)
	}
	return used, rows.Err()
}

// Transition atomically moves a unit from one status to another. It succeeds
// only when the row still holds the expected prior status; this compare-and-set
// is the single primitive all higher-level mutation goes through.
func (r *Repository) Transition(ctx context.Context, unitID int64, from, to UnitStatus) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE stock_units SET status = $3 WHERE id = $1 AND status = $2`,
		unitID, from, to)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// SetNote replaces the free-form note on a unit.
func (r *Repository) SetNote(ctx context.Context, unitID int64, note string) error {
	_, err := r.pool.Exec(ctx, `UPDATE stock_units SET note = $2 WHERE id = $1`, unitID, note)
	return err
}
