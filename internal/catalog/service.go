package catalog

import (
	"context"
	"fmt"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	CreateProduct(ctx context.Context, p Product) (int64, error)
	GetProduct(ctx context.Context, id int64) (Product, error)
	GetProductBySKU(ctx context.Context, sku string) (Product, error)
	ListProducts(ctx context.Context, activeOnly bool) ([]Product, error)
	UpdateProduct(ctx context.Context, id int64, req UpdateProductRequest) error
	LowStock(ctx context.Context) ([]LowStockEntry, error)
}

// Service coordinates catalog operations.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// CreateProduct registers a new catalog entry.
func (s *Service) CreateProduct(ctx context.Context, req CreateProductRequest) (Product, error) {
	p := Product{
		SKU:            req.SKU,
		Name:           req.Name,
		Category:       req.Category,
		PurchasePrice:  req.PurchasePrice,
		SellingPrice:   req.SellingPrice,
		WholesalePrice: req.WholesalePrice,
		MinStockLevel:  req.MinStockLevel,
		Serialized:     req.Serialized,
		IsActive:       true,
	}
	id, err := s.repo.CreateProduct(ctx, p)
	if err != nil {
		return Product{}, fmt.Errorf("create product: %w", err)
	}
	p.ID = id
	return p, nil
}

// GetProduct returns one product.
func (s *Service) GetProduct(ctx context.Context, id int64) (Product, error) {
	return s.repo.GetProduct(ctx, id)
}

// GetProductBySKU returns the product registered under sku.
func (s *Service) GetProductBySKU(ctx context.Context, sku string) (Product, error) {
	return s.repo.GetProductBySKU(ctx, sku)
}

// ListProducts returns catalog entries.
func (s *Service) ListProducts(ctx context.Context, activeOnly bool) ([]Product, error) {
	return s.repo.ListProducts(ctx, activeOnly)
}

// UpdateProduct applies price/metadata edits.
func (s *Service) UpdateProduct(ctx context.Context, id int64, req UpdateProductRequest) (Product, error) {
	if err := s.repo.UpdateProduct(ctx, id, req); err != nil {
		return Product{}, fmt.Errorf("update product: %w", err)
	}
	return s.repo.GetProduct(ctx, id)
}

// LowStock lists products below their minimum stock level.
func (s *Service) LowStock(ctx context.Context) ([]LowStockEntry, error) {
	return s.repo.LowStock(ctx)
}
