package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type paymentRepositoryInMemory struct {
	s *Store
}

// NewPaymentRepository создаёт in-memory реализацию PaymentRepository.
func NewPaymentRepository(store *Store) domain.PaymentRepository {
	return &paymentRepositoryInMemory{s: store}
}

// Create сохраняет попытку; повторяет ограничения уникальности PostgreSQL-схемы.
func (r *paymentRepositoryInMemory) Create(ctx context.Context, payment domain.Payment) error {
	defer r.s.lock(ctx)()

	if _, exists := r.s.payments[payment.ID]; exists {
		return fmt.Errorf("payment %s already exists", payment.ID)
	}
	for _, p := range r.s.payments {
		if p.TxnRef == payment.TxnRef {
			return fmt.Errorf("payment txn_ref %s already exists", payment.TxnRef)
		}
		if p.OrderID == payment.OrderID && p.Status == domain.PaymentStatusPending && payment.Status == domain.PaymentStatusPending {
			return domain.ErrPaymentInProgress
		}
	}

	r.s.payments[payment.ID] = payment
	return nil
}

func (r *paymentRepositoryInMemory) GetByTxnRef(ctx context.Context, txnRef string) (domain.Payment, error) {
	defer r.s.lock(ctx)()
	return r.findByTxnRefLocked(txnRef)
}

// GetByTxnRefForUpdate внутри транзакции Store уже сериализован мьютексом.
func (r *paymentRepositoryInMemory) GetByTxnRefForUpdate(ctx context.Context, txnRef string) (domain.Payment, error) {
	defer r.s.lock(ctx)()
	return r.findByTxnRefLocked(txnRef)
}

func (r *paymentRepositoryInMemory) LatestByOrder(ctx context.Context, orderID string) (domain.Payment, error) {
	defer r.s.lock(ctx)()

	var (
		latest domain.Payment
		found  bool
	)
	for _, p := range r.s.payments {
		if p.OrderID != orderID {
			continue
		}
		if !found || p.Attempt > latest.Attempt {
			latest = p
			found = true
		}
	}
	if !found {
		return domain.Payment{}, fmt.Errorf("%w: order %s", domain.ErrPaymentNotFound, orderID)
	}
	return latest, nil
}

func (r *paymentRepositoryInMemory) Transition(ctx context.Context, id string, from domain.PaymentStatus, outcome domain.PaymentOutcome) (domain.Payment, error) {
	defer r.s.lock(ctx)()

	payment, ok := r.s.payments[id]
	if !ok {
		return domain.Payment{}, fmt.Errorf("%w: %s", domain.ErrPaymentNotFound, id)
	}
	if payment.Status != from {
		return domain.Payment{}, &domain.TransitionError{Entity: "payment", From: string(payment.Status), To: string(outcome.Status)}
	}
	if err := payment.Apply(outcome, time.Now().UTC()); err != nil {
		return domain.Payment{}, err
	}
	r.s.payments[id] = payment
	return payment, nil
}

func (r *paymentRepositoryInMemory) FlagReconciliation(ctx context.Context, id, gatewayTransactionNo, bankCode string) (domain.Payment, error) {
	defer r.s.lock(ctx)()

	payment, ok := r.s.payments[id]
	if !ok {
		return domain.Payment{}, fmt.Errorf("%w: %s", domain.ErrPaymentNotFound, id)
	}
	payment.FlagReconciliation(gatewayTransactionNo, bankCode, time.Now().UTC())
	r.s.payments[id] = payment
	return payment, nil
}

func (r *paymentRepositoryInMemory) ResolveReconciliation(ctx context.Context, id string, at time.Time) (domain.Payment, error) {
	defer r.s.lock(ctx)()

	payment, ok := r.s.payments[id]
	if !ok {
		return domain.Payment{}, fmt.Errorf("%w: %s", domain.ErrPaymentNotFound, id)
	}
	if err := payment.ResolveReconciliation(at); err != nil {
		return domain.Payment{}, err
	}
	r.s.payments[id] = payment
	return payment, nil
}

func (r *paymentRepositoryInMemory) ListStale(ctx context.Context, before time.Time, limit int) ([]domain.Payment, error) {
	defer r.s.lock(ctx)()

	result := make([]domain.Payment, 0)
	for _, p := range r.s.payments {
		if p.Status == domain.PaymentStatusPending && p.ExpiresAt.Before(before) {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ExpiresAt.Before(result[j].ExpiresAt) })

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *paymentRepositoryInMemory) CountReconciliationRequired(ctx context.Context) (int, error) {
	defer r.s.lock(ctx)()

	count := 0
	for _, p := range r.s.payments {
		if p.ReconciliationRequired {
			count++
		}
	}
	return count, nil
}

func (r *paymentRepositoryInMemory) findByTxnRefLocked(txnRef string) (domain.Payment, error) {
	for _, p := range r.s.payments {
		if p.TxnRef == txnRef {
			return p, nil
		}
	}
	return domain.Payment{}, fmt.Errorf("%w: txn_ref %s", domain.ErrPaymentNotFound, txnRef)
}

var _ domain.PaymentRepository = (*paymentRepositoryInMemory)(nil)
