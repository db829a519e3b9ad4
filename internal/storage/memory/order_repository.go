package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// orderRepositoryInMemory — in-memory реализация OrderRepository поверх Store.
type orderRepositoryInMemory struct {
	s *Store
}

// NewOrderRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepositoryInMemory{s: store}
}

// Create сохраняет заказ вместе с позициями, если ID ещё не занят.
func (r *orderRepositoryInMemory) Create(ctx context.Context, order domain.Order) error {
	defer r.s.lock(ctx)()

	if _, exists := r.s.orders[order.ID]; exists {
		return fmt.Errorf("order %s already exists", order.ID)
	}
	// Сохраняем копию, чтобы избежать непредсказуемых мутаций извне.
	order.Details = append([]domain.OrderDetail(nil), order.Details...)
	r.s.orders[order.ID] = order
	return nil
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderRepositoryInMemory) Get(ctx context.Context, id string) (domain.Order, error) {
	defer r.s.lock(ctx)()

	order, ok := r.s.orders[id]
	if !ok {
		return domain.Order{}, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, id)
	}
	return r.enrichLocked(order), nil
}

// GetForUpdate внутри транзакции Store уже сериализован мьютексом.
func (r *orderRepositoryInMemory) GetForUpdate(ctx context.Context, id string) (domain.Order, error) {
	return r.Get(ctx, id)
}

// ListByUser возвращает заказы пользователя, ограничивая выборку limit (если >0).
func (r *orderRepositoryInMemory) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Order, error) {
	defer r.s.lock(ctx)()

	result := make([]domain.Order, 0)
	for _, order := range r.s.orders {
		if order.UserID != userID {
			continue
		}
		result = append(result, r.enrichLocked(order))
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

// UpdateStatus переводит заказ по таблице переходов.
func (r *orderRepositoryInMemory) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus) (domain.Order, error) {
	defer r.s.lock(ctx)()

	order, ok := r.s.orders[id]
	if !ok {
		return domain.Order{}, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, id)
	}
	if err := order.TransitionTo(status, time.Now().UTC()); err != nil {
		return domain.Order{}, err
	}
	r.s.orders[id] = order
	return r.enrichLocked(order), nil
}

// enrichLocked дополняет позиции идентификатором товара и SKU варианта.
func (r *orderRepositoryInMemory) enrichLocked(order domain.Order) domain.Order {
	details := make([]domain.OrderDetail, len(order.Details))
	for i, d := range order.Details {
		if v, ok := r.s.variants[d.VariantID]; ok {
			d.ProductID = v.ProductID
			d.SKU = v.SKU
		}
		details[i] = d
	}
	order.Details = details
	return order
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
