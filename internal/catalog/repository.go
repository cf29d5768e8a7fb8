package catalog

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-pos/meridian-pos/internal/shared"
)

const productColumns = `id, sku, name, category, purchase_price, selling_price, wholesale_price, min_stock_level, serialized, is_active, created_at`

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.SKU, &p.Name, &p.Category, &p.PurchasePrice, &p.SellingPrice, &p.WholesalePrice, &p.MinStockLevel, &p.Serialized, &p.IsActive, &p.CreatedAt)
	return p, err
}

// CreateProduct inserts a product and returns its id.
func (r *Repository) CreateProduct(ctx context.Context, p Product) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO products (sku, name, category, purchase_price, selling_price, wholesale_price, min_stock_level, serialized, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		p.SKU, p.Name, p.Category, p.PurchasePrice, p.SellingPrice, p.WholesalePrice, p.MinStockLevel, p.Serialized, p.IsActive,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, ErrDuplicateSKU
		}
		return 0, err
	}
	return id, nil
}

// GetProduct returns a product by id.
func (r *Repository) GetProduct(ctx context.Context, id int64) (Product, error) {
	p, err := scanProduct(r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, shared.ErrNotFound
	}
	return p, err
}

// GetProductBySKU returns a product by SKU.
func (r *Repository) GetProductBySKU(ctx context.Context, sku string) (Product, error) {
	p, err := scanProduct(r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE sku = $1`, sku))
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, shared.ErrNotFound
	}
	return p, err
}

// ListProducts returns catalog entries, optionally active only.
func (r *Repository) ListProducts(ctx context.Context, activeOnly bool) ([]Product, error) {
	query := `SELECT ` + productColumns + ` FROM products ORDER BY id`
	if activeOnly {
		query = `SELECT ` + productColumns + ` FROM products WHERE is_active ORDER BY id`
	}
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var products []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// UpdateProduct applies partial column updates.
func (r *Repository) UpdateProduct(ctx context.Context, id int64, req UpdateProductRequest) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE products SET
			name = COALESCE($2, name),
			category = COALESCE($3, category),
			purchase_price = COALESCE($4, purchase_price),
			selling_price = COALESCE($5, selling_price),
			wholesale_price = COALESCE($6, wholesale_price),
			min_stock_level = COALESCE($7, min_stock_level),
			is_active = COALESCE($8, is_active)
		 WHERE id = $1`,
		id, req.Name, req.Category, req.PurchasePrice, req.SellingPrice, req.WholesalePrice, req.MinStockLevel, req.IsActive)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// LowStock lists active products whose available unit count sits below their
// minimum stock level.
func (r *Repository) LowStock(ctx context.Context) ([]LowStockEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT p.id, p.sku, p.name, p.category, p.purchase_price, p.selling_price, p.wholesale_price, p.min_stock_level, p.serialized, p.is_active, p.created_at,
		        COUNT(u.id) FILTER (WHERE u.status = 'available') AS available
		 FROM products p
		 LEFT JOIN stock_units u ON u.product_id = p.id
		 WHERE p.is_active
		 GROUP BY p.id
		 HAVING COUNT(u.id) FILTER (WHERE u.status = 'available') < p.min_stock_level
		 ORDER BY p.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []LowStockEntry
	for rows.Next() {
		var e LowStockEntry
		p := &e.Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.Category, &p.PurchasePrice, &p.SellingPrice, &p.WholesalePrice, &p.MinStockLevel, &p.Serialized, &p.IsActive, &p.CreatedAt, &e.Available); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
