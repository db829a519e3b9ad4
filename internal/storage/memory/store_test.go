package memory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

func TestStore_WithinTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	store := newStoreWithCatalog()
	orders := memory.NewOrderRepository(store)
	ledger := memory.NewCatalogRepository(store)
	outbox := memory.NewOutboxRepository(store)

	boom := errors.New("boom")
	err := store.WithinTx(ctx, func(ctx context.Context) error {
		if err := orders.Create(ctx, newOrder()); err != nil {
			return err
		}
		if _, err := ledger.UpdateStock(ctx, "p1", "v1", -2); err != nil {
			return err
		}
		if _, err := outbox.Enqueue(ctx, domain.OutboxMessage{EventType: "OrderCreated"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	if _, err := orders.Get(ctx, "order-1"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("order must be rolled back, got %v", err)
	}
	if v, _ := ledger.GetVariant(ctx, "v1"); v.StockQuantity != 10 {
		t.Fatalf("stock must be rolled back to 10, got %d", v.StockQuantity)
	}
	if pending := outbox.AllPending(); len(pending) != 0 {
		t.Fatalf("outbox must be rolled back, got %d messages", len(pending))
	}
}

func TestStore_WithinTxCommitsAndJoinsNested(t *testing.T) {
	ctx := context.Background()
	store := newStoreWithCatalog()
	ledger := memory.NewCatalogRepository(store)

	err := store.WithinTx(ctx, func(ctx context.Context) error {
		return store.WithinTx(ctx, func(ctx context.Context) error {
			_, err := ledger.UpdateStock(ctx, "p1", "v1", -1)
			return err
		})
	})
	if err != nil {
		t.Fatalf("tx failed: %v", err)
	}
	if v, _ := ledger.GetVariant(ctx, "v1"); v.StockQuantity != 9 {
		t.Fatalf("expected committed stock 9, got %d", v.StockQuantity)
	}
}

func TestStore_WithinTxRollsBackOnPanic(t *testing.T) {
	ctx := context.Background()
	store := newStoreWithCatalog()
	ledger := memory.NewCatalogRepository(store)

	func() {
		defer func() { _ = recover() }()
		_ = store.WithinTx(ctx, func(ctx context.Context) error {
			if _, err := ledger.UpdateStock(ctx, "p1", "v1", -5); err != nil {
				return err
			}
			panic("crash mid-transaction")
		})
	}()

	if v, _ := ledger.GetVariant(ctx, "v1"); v.StockQuantity != 10 {
		t.Fatalf("stock must be restored after panic, got %d", v.StockQuantity)
	}
}
