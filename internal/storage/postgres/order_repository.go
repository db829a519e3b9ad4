package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const orderColumns = `id, user_id, total_price, status, created_at, updated_at`

type orderRepository struct {
	s *Store
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{s: store}
}

// Create сохраняет заказ и позиции одной транзакцией (или внутри внешней).
func (r *orderRepository) Create(ctx context.Context, order domain.Order) error {
	return r.s.WithinTx(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, opTimeout)
		defer cancel()
		db := r.s.conn(ctx)

		if _, err := db.ExecContext(ctx, `
			INSERT INTO orders (`+orderColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6)
		`,
			order.ID, order.UserID, order.TotalPrice, string(order.Status), order.CreatedAt, order.UpdatedAt,
		); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		for _, d := range order.Details {
			if _, err := db.ExecContext(ctx, `
				INSERT INTO order_details (id, order_id, variant_id, quantity, price, created_at)
				VALUES ($1,$2,$3,$4,$5,$6)
			`,
				d.ID, order.ID, d.VariantID, d.Quantity, d.Price, d.CreatedAt,
			); err != nil {
				return fmt.Errorf("insert order detail: %w", err)
			}
		}
		return nil
	})
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	return r.get(ctx, id, "")
}

// GetForUpdate блокирует строку заказа до конца транзакции из ctx.
func (r *orderRepository) GetForUpdate(ctx context.Context, id string) (domain.Order, error) {
	if !inTx(ctx) {
		return domain.Order{}, errors.New("order: GetForUpdate requires a transaction")
	}
	return r.get(ctx, id, " FOR UPDATE")
}

func (r *orderRepository) get(ctx context.Context, id, lock string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	order, err := scanOrder(r.s.conn(ctx).QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE id = $1`+lock, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, id)
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}

	details, err := r.loadDetails(ctx, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Details = details
	return order, nil
}

func (r *orderRepository) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
	`

	var (
		rows *sql.Rows
		err  error
	)
	db := r.s.conn(ctx)
	if limit > 0 {
		rows, err = db.QueryContext(ctx, query+" LIMIT $2", userID, limit)
	} else {
		rows, err = db.QueryContext(ctx, query, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}
	_ = rows.Close()

	// Позиции читаются после закрытия курсора: внутри транзакции соединение одно.
	for i := range orders {
		details, err := r.loadDetails(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Details = details
	}
	return orders, nil
}

// UpdateStatus блокирует заказ и переводит его по таблице переходов.
func (r *orderRepository) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus) (domain.Order, error) {
	var updated domain.Order
	err := r.s.WithinTx(ctx, func(ctx context.Context) error {
		order, err := r.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := order.TransitionTo(status, time.Now().UTC()); err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(ctx, opTimeout)
		defer cancel()
		if _, err := r.s.conn(ctx).ExecContext(ctx, `
			UPDATE orders
			SET status = $2,
			    updated_at = $3
			WHERE id = $1
		`, id, string(order.Status), order.UpdatedAt); err != nil {
			return fmt.Errorf("update order status: %w", err)
		}
		updated = order
		return nil
	})
	return updated, err
}

func (r *orderRepository) loadDetails(ctx context.Context, orderID string) ([]domain.OrderDetail, error) {
	rows, err := r.s.conn(ctx).QueryContext(ctx, `
		SELECT d.id, d.order_id, d.variant_id, v.product_id, v.sku, d.quantity, d.price, d.created_at
		FROM order_details d
		JOIN product_variants v ON v.id = d.variant_id
		WHERE d.order_id = $1
		ORDER BY d.created_at ASC, d.id ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order details: %w", err)
	}
	defer rows.Close()

	details := make([]domain.OrderDetail, 0)
	for rows.Next() {
		var d domain.OrderDetail
		if err := rows.Scan(&d.ID, &d.OrderID, &d.VariantID, &d.ProductID, &d.SKU, &d.Quantity, &d.Price, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order detail: %w", err)
		}
		details = append(details, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order details: %w", err)
	}
	return details, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order  domain.Order
		status string
	)
	if err := row.Scan(&order.ID, &order.UserID, &order.TotalPrice, &status, &order.CreatedAt, &order.UpdatedAt); err != nil {
		return domain.Order{}, err
	}
	order.Status = domain.OrderStatus(status)
	return order, nil
}

var _ domain.OrderRepository = (*orderRepository)(nil)
