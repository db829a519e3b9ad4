package memory

import (
	"context"
	"maps"
	"sync"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type txKey struct{}

// Store — общее in-memory состояние для всех репозиториев драйвера memory.
// Транзакция держит мьютекс целиком и откатывает изменения по снимку,
// поэтому операции внутри WithinTx сериализуются так же, как SELECT ... FOR UPDATE.
type Store struct {
	mu sync.Mutex

	orders    map[string]domain.Order
	payments  map[string]domain.Payment
	products  map[string]domain.Product
	variants  map[string]domain.ProductVariant
	discounts map[string]domain.Discount
	outbox    map[string]outboxRecord
	timeline  map[string][]domain.TimelineEvent
	outboxSeq int64
}

type snapshot struct {
	orders    map[string]domain.Order
	payments  map[string]domain.Payment
	products  map[string]domain.Product
	variants  map[string]domain.ProductVariant
	discounts map[string]domain.Discount
	outbox    map[string]outboxRecord
	timeline  map[string][]domain.TimelineEvent
	outboxSeq int64
}

// NewStore создаёт пустое хранилище.
func NewStore() *Store {
	return &Store{
		orders:    make(map[string]domain.Order),
		payments:  make(map[string]domain.Payment),
		products:  make(map[string]domain.Product),
		variants:  make(map[string]domain.ProductVariant),
		discounts: make(map[string]domain.Discount),
		outbox:    make(map[string]outboxRecord),
		timeline:  make(map[string][]domain.TimelineEvent),
	}
}

// WithinTx выполняет fn атомарно: при ошибке (или панике) состояние возвращается к снимку.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	committed := false
	defer func() {
		if !committed {
			s.restore(snap)
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		return err
	}
	committed = true
	return nil
}

// lock берёт мьютекс, если вызов идёт не из транзакции этого же Store.
func (s *Store) lock(ctx context.Context) func() {
	if s.inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*Store)
	return owner == s
}

func (s *Store) snapshot() snapshot {
	return snapshot{
		orders:    maps.Clone(s.orders),
		payments:  maps.Clone(s.payments),
		products:  maps.Clone(s.products),
		variants:  maps.Clone(s.variants),
		discounts: maps.Clone(s.discounts),
		outbox:    maps.Clone(s.outbox),
		timeline:  maps.Clone(s.timeline),
		outboxSeq: s.outboxSeq,
	}
}

func (s *Store) restore(snap snapshot) {
	s.orders = snap.orders
	s.payments = snap.payments
	s.products = snap.products
	s.variants = snap.variants
	s.discounts = snap.discounts
	s.outbox = snap.outbox
	s.timeline = snap.timeline
	s.outboxSeq = snap.outboxSeq
}

// PutProduct добавляет товар с вариантами и пересчитывает суммарный остаток.
// Используется сидом и тестами; в рабочем потоке остатки меняет только StockLedger.
func (s *Store) PutProduct(product domain.Product, variants ...domain.ProductVariant) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, v := range variants {
		v.ProductID = product.ID
		s.variants[v.ID] = v
	}
	product.Stock = s.productStockLocked(product.ID)
	s.products[product.ID] = product
}

// PutDiscount сохраняет скидку.
func (s *Store) PutDiscount(discount domain.Discount) {
	s.mu.Lock()
	defer s.mu.Unlock()

	discount.ProductIDs = append([]string(nil), discount.ProductIDs...)
	s.discounts[discount.ID] = discount
}

func (s *Store) productStockLocked(productID string) int64 {
	var total int64
	for _, v := range s.variants {
		if v.ProductID == productID {
			total += v.StockQuantity
		}
	}
	return total
}

var _ domain.TxManager = (*Store)(nil)
