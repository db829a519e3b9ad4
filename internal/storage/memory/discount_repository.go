package memory

import (
	"context"
	"slices"
	"sort"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type discountRepositoryInMemory struct {
	s *Store
}

// NewDiscountRepository создаёт in-memory источник скидок.
func NewDiscountRepository(store *Store) domain.DiscountRepository {
	return &discountRepositoryInMemory{s: store}
}

// ListForProduct возвращает все скидки товара, в том числе неактивные.
func (r *discountRepositoryInMemory) ListForProduct(ctx context.Context, productID string) ([]domain.Discount, error) {
	defer r.s.lock(ctx)()

	result := make([]domain.Discount, 0)
	for _, d := range r.s.discounts {
		if slices.Contains(d.ProductIDs, productID) {
			result = append(result, d)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

var _ domain.DiscountRepository = (*discountRepositoryInMemory)(nil)
