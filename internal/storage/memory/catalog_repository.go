package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// catalogRepositoryInMemory отдаёт варианты и ведёт складской учёт.
type catalogRepositoryInMemory struct {
	s *Store
}

// NewCatalogRepository создаёт in-memory каталог; он же реализует StockLedger.
func NewCatalogRepository(store *Store) *catalogRepositoryInMemory {
	return &catalogRepositoryInMemory{s: store}
}

func (r *catalogRepositoryInMemory) GetVariant(ctx context.Context, variantID string) (domain.ProductVariant, error) {
	defer r.s.lock(ctx)()

	v, ok := r.s.variants[variantID]
	if !ok {
		return domain.ProductVariant{}, fmt.Errorf("%w: %s", domain.ErrVariantNotFound, variantID)
	}
	return v, nil
}

func (r *catalogRepositoryInMemory) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	defer r.s.lock(ctx)()

	p, ok := r.s.products[productID]
	if !ok {
		return domain.Product{}, fmt.Errorf("%w: %s", domain.ErrProductNotFound, productID)
	}
	return p, nil
}

// UpdateStock меняет остаток варианта и пересчитывает сумму по товару под одним захватом Store.
func (r *catalogRepositoryInMemory) UpdateStock(ctx context.Context, productID, variantID string, delta int64) (domain.StockAdjustment, error) {
	if delta == 0 {
		return domain.StockAdjustment{}, domain.ErrStockDeltaZero
	}

	defer r.s.lock(ctx)()

	v, ok := r.s.variants[variantID]
	if !ok || v.ProductID != productID {
		return domain.StockAdjustment{}, fmt.Errorf("%w: %s does not belong to product %s", domain.ErrVariantNotFound, variantID, productID)
	}

	next, err := v.ApplyDelta(delta)
	if err != nil {
		return domain.StockAdjustment{}, err
	}

	now := time.Now().UTC()
	before := v.StockQuantity
	v.StockQuantity = next
	v.UpdatedAt = now
	r.s.variants[variantID] = v

	product := r.s.products[productID]
	product.ID = productID
	product.Stock = r.s.productStockLocked(productID)
	product.UpdatedAt = now
	r.s.products[productID] = product

	return domain.StockAdjustment{
		ProductID:    productID,
		VariantID:    variantID,
		Delta:        delta,
		Before:       before,
		After:        next,
		ProductStock: product.Stock,
	}, nil
}

var (
	_ domain.CatalogRepository = (*catalogRepositoryInMemory)(nil)
	_ domain.StockLedger       = (*catalogRepositoryInMemory)(nil)
)
