package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const variantColumns = `id, product_id, sku, color, size, price, stock_quantity, updated_at`

type catalogRepository struct {
	s *Store
}

// NewCatalogRepository создаёт PostgreSQL-каталог; он же ведёт складской учёт (StockLedger).
func NewCatalogRepository(store *Store) *catalogRepository {
	return &catalogRepository{s: store}
}

func (r *catalogRepository) GetVariant(ctx context.Context, variantID string) (domain.ProductVariant, error) {
	return r.getVariant(ctx, variantID, "")
}

func (r *catalogRepository) getVariant(ctx context.Context, variantID, lock string) (domain.ProductVariant, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var v domain.ProductVariant
	err := r.s.conn(ctx).QueryRowContext(ctx, `
		SELECT `+variantColumns+`
		FROM product_variants
		WHERE id = $1`+lock, variantID).Scan(
		&v.ID, &v.ProductID, &v.SKU, &v.Color, &v.Size, &v.Price, &v.StockQuantity, &v.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ProductVariant{}, fmt.Errorf("%w: %s", domain.ErrVariantNotFound, variantID)
		}
		return domain.ProductVariant{}, fmt.Errorf("select variant: %w", err)
	}
	return v, nil
}

func (r *catalogRepository) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var p domain.Product
	err := r.s.conn(ctx).QueryRowContext(ctx, `
		SELECT id, name, stock, updated_at
		FROM products
		WHERE id = $1
	`, productID).Scan(&p.ID, &p.Name, &p.Stock, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, fmt.Errorf("%w: %s", domain.ErrProductNotFound, productID)
		}
		return domain.Product{}, fmt.Errorf("select product: %w", err)
	}
	return p, nil
}

// UpdateStock блокирует вариант, применяет delta и пересчитывает products.stock в той же транзакции.
func (r *catalogRepository) UpdateStock(ctx context.Context, productID, variantID string, delta int64) (domain.StockAdjustment, error) {
	if delta == 0 {
		return domain.StockAdjustment{}, domain.ErrStockDeltaZero
	}

	var adj domain.StockAdjustment
	err := r.s.WithinTx(ctx, func(ctx context.Context) error {
		v, err := r.getVariant(ctx, variantID, " FOR UPDATE")
		if err != nil {
			return err
		}
		if v.ProductID != productID {
			return fmt.Errorf("%w: %s does not belong to product %s", domain.ErrVariantNotFound, variantID, productID)
		}

		next, err := v.ApplyDelta(delta)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(ctx, opTimeout)
		defer cancel()
		db := r.s.conn(ctx)
		now := time.Now().UTC()

		if _, err := db.ExecContext(ctx, `
			UPDATE product_variants
			SET stock_quantity = $2,
			    updated_at = $3
			WHERE id = $1
		`, variantID, next, now); err != nil {
			return fmt.Errorf("update variant stock: %w", err)
		}

		var productStock int64
		if err := db.QueryRowContext(ctx, `
			UPDATE products
			SET stock = (SELECT COALESCE(SUM(stock_quantity), 0) FROM product_variants WHERE product_id = $1),
			    updated_at = $2
			WHERE id = $1
			RETURNING stock
		`, productID, now).Scan(&productStock); err != nil {
			return fmt.Errorf("recalculate product stock: %w", err)
		}

		adj = domain.StockAdjustment{
			ProductID:    productID,
			VariantID:    variantID,
			Delta:        delta,
			Before:       v.StockQuantity,
			After:        next,
			ProductStock: productStock,
		}
		return nil
	})
	if err != nil {
		return domain.StockAdjustment{}, err
	}
	return adj, nil
}

// UpsertProduct сохраняет товар с вариантами; используется сидером и тестами.
func (r *catalogRepository) UpsertProduct(ctx context.Context, product domain.Product, variants ...domain.ProductVariant) error {
	return r.s.WithinTx(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, opTimeout)
		defer cancel()
		db := r.s.conn(ctx)
		now := time.Now().UTC()

		if _, err := db.ExecContext(ctx, `
			INSERT INTO products (id, name, stock, updated_at)
			VALUES ($1,$2,0,$3)
			ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, updated_at = EXCLUDED.updated_at
		`, product.ID, product.Name, now); err != nil {
			return fmt.Errorf("upsert product: %w", err)
		}

		for _, v := range variants {
			if _, err := db.ExecContext(ctx, `
				INSERT INTO product_variants (`+variantColumns+`)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
				ON CONFLICT (id) DO UPDATE SET
					sku = EXCLUDED.sku,
					color = EXCLUDED.color,
					size = EXCLUDED.size,
					price = EXCLUDED.price,
					stock_quantity = EXCLUDED.stock_quantity,
					updated_at = EXCLUDED.updated_at
			`, v.ID, product.ID, v.SKU, v.Color, v.Size, v.Price, v.StockQuantity, now); err != nil {
				return fmt.Errorf("upsert variant %s: %w", v.ID, err)
			}
		}

		if _, err := db.ExecContext(ctx, `
			UPDATE products
			SET stock = (SELECT COALESCE(SUM(stock_quantity), 0) FROM product_variants WHERE product_id = $1)
			WHERE id = $1
		`, product.ID); err != nil {
			return fmt.Errorf("recalculate product stock: %w", err)
		}
		return nil
	})
}

var (
	_ domain.CatalogRepository = (*catalogRepository)(nil)
	_ domain.StockLedger       = (*catalogRepository)(nil)
)
