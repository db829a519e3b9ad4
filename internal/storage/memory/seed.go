package memory

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// SeedDemo наполняет Store демонстрационным каталогом для локального запуска.
func SeedDemo(store *Store, now time.Time) {
	store.PutProduct(
		domain.Product{ID: "prod-tee", Name: "Basic Tee"},
		domain.ProductVariant{ID: "var-tee-black-m", SKU: "TEE-BLK-M", Color: "black", Size: "M", Price: 100000, StockQuantity: 20},
		domain.ProductVariant{ID: "var-tee-white-l", SKU: "TEE-WHT-L", Color: "white", Size: "L", Price: 100000, StockQuantity: 15},
	)
	store.PutProduct(
		domain.Product{ID: "prod-cap", Name: "Canvas Cap"},
		domain.ProductVariant{ID: "var-cap-navy", SKU: "CAP-NVY", Color: "navy", Size: "one-size", Price: 50000, StockQuantity: 8},
	)
	store.PutDiscount(domain.Discount{
		ID:         "disc-cap-10",
		Name:       "Cap week",
		Type:       domain.DiscountTypePercentage,
		Value:      decimal.NewFromInt(10),
		StartDate:  now.Add(-24 * time.Hour),
		EndDate:    now.Add(7 * 24 * time.Hour),
		Status:     domain.DiscountStatusActive,
		ProductIDs: []string{"prod-cap"},
	})
}
