package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type discountRepository struct {
	s *Store
}

// NewDiscountRepository создаёт PostgreSQL-источник скидок.
func NewDiscountRepository(store *Store) *discountRepository {
	return &discountRepository{s: store}
}

// ListForProduct возвращает все скидки товара; отбор активных делает Discount Resolver.
func (r *discountRepository) ListForProduct(ctx context.Context, productID string) ([]domain.Discount, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.s.conn(ctx).QueryContext(ctx, `
		SELECT d.id, d.name, d.type, d.value, d.start_date, d.end_date, d.status
		FROM discounts d
		JOIN product_discounts pd ON pd.discount_id = d.id
		WHERE pd.product_id = $1
		ORDER BY d.id
	`, productID)
	if err != nil {
		return nil, fmt.Errorf("list product discounts: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Discount, 0)
	for rows.Next() {
		var (
			d        domain.Discount
			typ      string
			valueRaw string
		)
		if err := rows.Scan(&d.ID, &d.Name, &typ, &valueRaw, &d.StartDate, &d.EndDate, &d.Status); err != nil {
			return nil, fmt.Errorf("scan discount: %w", err)
		}
		value, err := decimal.NewFromString(valueRaw)
		if err != nil {
			return nil, fmt.Errorf("parse discount %s value %q: %w", d.ID, valueRaw, err)
		}
		d.Type = domain.DiscountType(typ)
		d.Value = value
		d.ProductIDs = []string{productID}
		result = append(result, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate discounts: %w", err)
	}
	return result, nil
}

// Upsert сохраняет скидку и её привязки к товарам.
func (r *discountRepository) Upsert(ctx context.Context, d domain.Discount) error {
	if errs := d.Validate(); len(errs) > 0 {
		return errors.Join(errs...)
	}

	return r.s.WithinTx(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, opTimeout)
		defer cancel()
		db := r.s.conn(ctx)

		if _, err := db.ExecContext(ctx, `
			INSERT INTO discounts (id, name, type, value, start_date, end_date, status)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name,
				type = EXCLUDED.type,
				value = EXCLUDED.value,
				start_date = EXCLUDED.start_date,
				end_date = EXCLUDED.end_date,
				status = EXCLUDED.status
		`, d.ID, d.Name, string(d.Type), d.Value.String(), d.StartDate, d.EndDate, d.Status); err != nil {
			return fmt.Errorf("upsert discount: %w", err)
		}

		if _, err := db.ExecContext(ctx, `DELETE FROM product_discounts WHERE discount_id = $1`, d.ID); err != nil {
			return fmt.Errorf("reset discount products: %w", err)
		}
		for _, productID := range d.ProductIDs {
			if _, err := db.ExecContext(ctx, `
				INSERT INTO product_discounts (product_id, discount_id) VALUES ($1,$2)
			`, productID, d.ID); err != nil {
				return fmt.Errorf("link discount to product %s: %w", productID, err)
			}
		}
		return nil
	})
}

var _ domain.DiscountRepository = (*discountRepository)(nil)
