package domain

import (
	"context"
	"time"
)

// TxManager выполняет fn в одной транзакции хранилища.
// Репозитории, вызванные с ctx из fn, работают внутри этой транзакции.
// Вложенный вызов присоединяется к внешней транзакции.
type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository — Order Store: заказы и их позиции.
type OrderRepository interface {
	// Create атомарно сохраняет заголовок заказа и все позиции.
	Create(ctx context.Context, order Order) error
	// Get возвращает заказ с позициями или ErrOrderNotFound.
	Get(ctx context.Context, id string) (Order, error)
	// GetForUpdate делает то же самое, удерживая блокировку заказа до конца транзакции.
	GetForUpdate(ctx context.Context, id string) (Order, error)
	// ListByUser возвращает заказы пользователя, новые первыми.
	ListByUser(ctx context.Context, userID string, limit int) ([]Order, error)
	// UpdateStatus блокирует заказ и переводит его по таблице переходов.
	UpdateStatus(ctx context.Context, id string, status OrderStatus) (Order, error)
}

// PaymentRepository — Payment Record Store: попытки оплаты.
type PaymentRepository interface {
	// Create сохраняет новую попытку; вторая Pending попытка по заказу даёт ErrPaymentInProgress.
	Create(ctx context.Context, payment Payment) error
	// GetByTxnRef возвращает попытку по ссылке шлюза.
	GetByTxnRef(ctx context.Context, txnRef string) (Payment, error)
	// GetByTxnRefForUpdate делает то же самое, удерживая блокировку строки до конца транзакции.
	GetByTxnRefForUpdate(ctx context.Context, txnRef string) (Payment, error)
	// LatestByOrder возвращает последнюю попытку по заказу или ErrPaymentNotFound.
	LatestByOrder(ctx context.Context, orderID string) (Payment, error)
	// Transition применяет исход только если текущий статус равен from (compare-and-swap).
	Transition(ctx context.Context, id string, from PaymentStatus, outcome PaymentOutcome) (Payment, error)
	// FlagReconciliation ставит флаг ручной сверки, не меняя статус попытки.
	FlagReconciliation(ctx context.Context, id, gatewayTransactionNo, bankCode string) (Payment, error)
	// ResolveReconciliation снимает флаг сверки; попытка без флага даёт ErrNothingToReconcile.
	ResolveReconciliation(ctx context.Context, id string, at time.Time) (Payment, error)
	// ListStale возвращает Pending попытки с expires_at раньше before.
	ListStale(ctx context.Context, before time.Time, limit int) ([]Payment, error)
	// CountReconciliationRequired считает оплаченные попытки, требующие ручной сверки.
	CountReconciliationRequired(ctx context.Context) (int, error)
}

// CatalogRepository читает товары и варианты.
type CatalogRepository interface {
	GetVariant(ctx context.Context, variantID string) (ProductVariant, error)
	GetProduct(ctx context.Context, productID string) (Product, error)
}

// StockLedger — единственный путь изменения остатков.
type StockLedger interface {
	// UpdateStock применяет delta к варианту, пересчитывает сумму по товару и сохраняет оба значения
	// в одной транзакции. Остаток ниже нуля даёт InsufficientStockError без изменений.
	UpdateStock(ctx context.Context, productID, variantID string, delta int64) (StockAdjustment, error)
}

// DiscountRepository отдаёт скидки, привязанные к товару.
type DiscountRepository interface {
	ListForProduct(ctx context.Context, productID string) ([]Discount, error)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(ctx context.Context, event TimelineEvent) error
	List(ctx context.Context, orderID string) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}
